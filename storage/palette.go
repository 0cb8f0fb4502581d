//
// Copyright (C) 2026 VirtualPyTest. All rights reserved.
//
// virtualpytest is licensed under the Apache License Version 2.0.
//
//

package storage

// tagPalette is the fixed set of colors assigned to new tags, round-robin by
// tag id.
var tagPalette = [12]string{
	"#ef4444", // red
	"#f97316", // orange
	"#f59e0b", // amber
	"#84cc16", // lime
	"#22c55e", // green
	"#14b8a6", // teal
	"#06b6d4", // cyan
	"#3b82f6", // blue
	"#6366f1", // indigo
	"#a855f7", // purple
	"#ec4899", // pink
	"#78716c", // stone
}

// paletteColor picks the color for the n-th created tag.
func paletteColor(n int64) string {
	if n < 0 {
		n = -n
	}
	return tagPalette[n%int64(len(tagPalette))]
}
