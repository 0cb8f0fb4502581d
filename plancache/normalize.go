//
// Copyright (C) 2026 VirtualPyTest. All rights reserved.
//
// virtualpytest is licensed under the Apache License Version 2.0.
//
//

// Package plancache stores successful AI execution plans keyed by a
// normalized prompt fingerprint and reuses them by success rate.
package plancache

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
)

// Intent classes of a normalized prompt.
const (
	IntentNavigation = "navigation"
	IntentAction     = "action"
	IntentSearch     = "search"
	IntentMedia      = "media"
	IntentSystem     = "system"
)

// politenessTokens are stripped before classification.
var politenessTokens = map[string]bool{
	"please": true, "kindly": true, "can": true, "could": true, "would": true,
	"you": true, "me": true, "i": true, "want": true, "like": true, "thanks": true,
}

// fillerTokens never contribute to the target phrase.
var fillerTokens = map[string]bool{
	"to": true, "the": true, "a": true, "an": true, "on": true, "in": true,
	"of": true, "for": true, "my": true, "and": true,
}

var intentKeywords = map[string]string{
	"go": IntentNavigation, "navigate": IntentNavigation, "open": IntentNavigation,
	"goto": IntentNavigation, "enter": IntentNavigation, "back": IntentNavigation,
	"press": IntentAction, "click": IntentAction, "tap": IntentAction,
	"select": IntentAction, "toggle": IntentAction, "launch": IntentAction,
	"search": IntentSearch, "find": IntentSearch, "lookup": IntentSearch,
	"play": IntentMedia, "watch": IntentMedia, "pause": IntentMedia,
	"record": IntentMedia, "mute": IntentMedia, "volume": IntentMedia,
	"reboot": IntentSystem, "restart": IntentSystem, "settings": IntentSystem,
	"configure": IntentSystem, "update": IntentSystem,
}

// NormalizedPrompt is the canonical form of a user task prompt.
type NormalizedPrompt struct {
	// Text is "{intent}_{target}", or the stripped prompt when target
	// extraction fails.
	Text   string
	Intent string
	Target string
}

// Normalize lowercases the prompt, strips politeness tokens, classifies the
// intent and extracts the target as the trailing phrase.
func Normalize(prompt string) NormalizedPrompt {
	words := strings.Fields(strings.ToLower(prompt))

	var stripped []string
	for _, w := range words {
		w = strings.Trim(w, ".,!?\"'")
		if w == "" || politenessTokens[w] {
			continue
		}
		stripped = append(stripped, w)
	}

	intent := ""
	intentIdx := -1
	for i, w := range stripped {
		if cls, ok := intentKeywords[w]; ok {
			intent = cls
			intentIdx = i
			break
		}
	}
	if intent == "" {
		intent = IntentNavigation
	}

	// The target is the phrase after the intent keyword, minus fillers.
	// Without an intent keyword there is no phrase boundary to extract from.
	var target []string
	if intentIdx >= 0 {
		for i := intentIdx + 1; i < len(stripped); i++ {
			if fillerTokens[stripped[i]] {
				continue
			}
			target = append(target, stripped[i])
		}
	}

	n := NormalizedPrompt{Intent: intent, Target: strings.Join(target, "_")}
	if n.Target == "" {
		n.Text = strings.Join(stripped, " ")
		return n
	}
	n.Text = n.Intent + "_" + n.Target
	return n
}

// Fingerprint computes the content hash keying the plan cache:
// md5 over the normalized prompt, device model, UI name and the sorted
// comma-separated available node list.
func Fingerprint(normalizedPrompt, deviceModel, uiName string, availableNodes []string) string {
	nodes := append([]string(nil), availableNodes...)
	sort.Strings(nodes)
	sum := md5.Sum([]byte(normalizedPrompt + "|" + deviceModel + "|" + uiName + "|" + strings.Join(nodes, ",")))
	return hex.EncodeToString(sum[:])
}

// jaccard computes the Jaccard similarity of two node-id sets.
func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[s] = true
	}
	var inter int
	union := len(set)
	seen := make(map[string]bool, len(b))
	for _, s := range b {
		if seen[s] {
			continue
		}
		seen[s] = true
		if set[s] {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
