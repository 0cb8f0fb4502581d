//
// Copyright (C) 2026 VirtualPyTest. All rights reserved.
//
// virtualpytest is licensed under the Apache License Version 2.0.
//
//

package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/virtualpytest/virtualpytest/log"
)

// ErrAnalysisNotFound indicates an expired or unknown analysis id.
var ErrAnalysisNotFound = errors.New("analysis not found")

// analysisTTL bounds how long a pending analysis waits for confirmation.
const analysisTTL = 30 * time.Minute

// UIInfo describes one user interface a testcase could target.
type UIInfo struct {
	Name           string   `json:"userinterface_name"`
	DeviceModel    string   `json:"device_model"`
	AvailableNodes []string `json:"available_nodes"`
}

// UICompatibility is the model's verdict for one UI.
type UICompatibility struct {
	UIName     string `json:"userinterface_name"`
	Compatible bool   `json:"compatible"`
	Reason     string `json:"reason,omitempty"`
}

// Analysis is a pending testcase-generation request awaiting confirmation.
type Analysis struct {
	ID            string            `json:"analysis_id"`
	Prompt        string            `json:"prompt"`
	Compatibility []UICompatibility `json:"compatibility_matrix"`
	CreatedAt     time.Time         `json:"created_at"`

	uis map[string]UIInfo
}

// GeneratedTestcase is one generated, not yet persisted testcase.
type GeneratedTestcase struct {
	Name       string          `json:"name"`
	UIName     string          `json:"userinterface_name"`
	GraphJSON  json.RawMessage `json:"graph_json"`
	AIPrompt   string          `json:"ai_prompt"`
	AIAnalysis string          `json:"ai_analysis"`
}

// Analyzer runs the two-phase AI testcase pipeline: analyze compatibility,
// then generate graphs for the confirmed UIs.
type Analyzer struct {
	planner *Planner
	chat    ChatClient

	mu       sync.Mutex
	analyses map[string]*Analysis
}

// NewAnalyzer creates the pipeline over one chat client.
func NewAnalyzer(chat ChatClient) *Analyzer {
	return &Analyzer{planner: New(chat), chat: chat, analyses: make(map[string]*Analysis)}
}

const analyzeSystemPrompt = `You evaluate whether a test scenario is feasible
on each given user interface, judging only by the navigation nodes it offers.
Respond with ONLY a JSON array:
[{"userinterface_name":"...","compatible":true|false,"reason":"..."}]`

// AnalyzeTestCase asks the model which UIs can run the prompt and parks the
// result under a fresh analysis id.
func (a *Analyzer) AnalyzeTestCase(ctx context.Context, prompt string, uis []UIInfo) (*Analysis, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Scenario: %s\n", prompt)
	for _, ui := range uis {
		fmt.Fprintf(&sb, "UI %s (model %s): nodes %s\n",
			ui.Name, ui.DeviceModel, strings.Join(ui.AvailableNodes, ", "))
	}

	content, err := a.chat.Complete(ctx, analyzeSystemPrompt, sb.String())
	if err != nil {
		return nil, fmt.Errorf("analyze testcase: %w", err)
	}
	var matrix []UICompatibility
	if err := json.Unmarshal([]byte(stripFences(content)), &matrix); err != nil {
		return nil, fmt.Errorf("analyze testcase: bad matrix: %w", err)
	}

	analysis := &Analysis{
		ID:            uuid.NewString(),
		Prompt:        prompt,
		Compatibility: matrix,
		CreatedAt:     time.Now(),
		uis:           make(map[string]UIInfo, len(uis)),
	}
	for _, ui := range uis {
		analysis.uis[ui.Name] = ui
	}

	a.mu.Lock()
	a.evictExpiredLocked()
	a.analyses[analysis.ID] = analysis
	a.mu.Unlock()
	log.Infof("planner: analysis %s covers %d UIs", analysis.ID, len(matrix))
	return analysis, nil
}

// GenerateTestCases generates one execution graph per confirmed UI. The
// caller persists the results.
func (a *Analyzer) GenerateTestCases(ctx context.Context, analysisID string, confirmedUIs []string) ([]*GeneratedTestcase, error) {
	a.mu.Lock()
	analysis, ok := a.analyses[analysisID]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAnalysisNotFound, analysisID)
	}

	matrixJSON, _ := json.Marshal(analysis.Compatibility)
	var out []*GeneratedTestcase
	for _, uiName := range confirmedUIs {
		ui, ok := analysis.uis[uiName]
		if !ok {
			return nil, fmt.Errorf("%w: UI %s not part of analysis %s", ErrAnalysisNotFound, uiName, analysisID)
		}
		_, raw, err := a.planner.Generate(ctx, analysis.Prompt, DeviceContext{
			DeviceModel:    ui.DeviceModel,
			UIName:         ui.Name,
			AvailableNodes: ui.AvailableNodes,
		})
		if err != nil {
			return nil, fmt.Errorf("generate testcase for %s: %w", uiName, err)
		}
		out = append(out, &GeneratedTestcase{
			Name:       testcaseName(analysis.Prompt, ui.Name),
			UIName:     ui.Name,
			GraphJSON:  raw,
			AIPrompt:   analysis.Prompt,
			AIAnalysis: string(matrixJSON),
		})
	}
	return out, nil
}

func (a *Analyzer) evictExpiredLocked() {
	cutoff := time.Now().Add(-analysisTTL)
	for id, analysis := range a.analyses {
		if analysis.CreatedAt.Before(cutoff) {
			delete(a.analyses, id)
		}
	}
}

// testcaseName derives a stable, readable name from the prompt and UI.
func testcaseName(prompt, uiName string) string {
	words := strings.Fields(strings.ToLower(prompt))
	if len(words) > 6 {
		words = words[:6]
	}
	return strings.Join(words, "_") + "_" + uiName
}
