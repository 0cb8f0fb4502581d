//
// Copyright (C) 2026 VirtualPyTest. All rights reserved.
//
// virtualpytest is licensed under the Apache License Version 2.0.
//
//

// Package planner generates execution graphs from natural-language task
// prompts through an OpenRouter-hosted model.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/virtualpytest/virtualpytest/execution"
	"github.com/virtualpytest/virtualpytest/log"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// ErrEmptyPlan indicates the model returned no usable graph.
var ErrEmptyPlan = errors.New("model returned no plan")

// ChatClient is the one completion call the planner needs.
type ChatClient interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// openRouterClient is the openai-go backed ChatClient.
type openRouterClient struct {
	client openai.Client
	model  string
}

// NewChatClient builds an OpenRouter chat client.
func NewChatClient(apiKey, model string) ChatClient {
	return &openRouterClient{
		client: openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL(openRouterBaseURL),
		),
		model: model,
	}
}

func (c *openRouterClient) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyPlan
	}
	return resp.Choices[0].Message.Content, nil
}

// DeviceContext is the device/UI situation a plan is generated for.
type DeviceContext struct {
	DeviceModel    string   `json:"device_model"`
	UIName         string   `json:"userinterface_name"`
	AvailableNodes []string `json:"available_nodes"`
	CurrentNodeID  string   `json:"current_node_id,omitempty"`
}

// Planner turns task prompts into execution graphs.
type Planner struct {
	chat ChatClient
}

// New creates a planner over a chat client.
func New(chat ChatClient) *Planner {
	return &Planner{chat: chat}
}

const planSystemPrompt = `You drive a set-top-box test automation system.
Given a task, respond with ONLY a JSON execution graph:
{"nodes":[{"id","type","label","command","params","verification_type","target_node_id","max_iterations"}],
 "edges":[{"id","source","target","source_handle"}]}
Node types: start, success, failure, action, verification, navigation, loop.
Exactly one start node. Navigation nodes name target_node_id from the
available nodes. source_handle is "success" or "failure" ("body"/"done" on
loop nodes). No prose, no markdown fences.`

// Generate asks the model for an execution graph solving the task. It
// returns both the parsed graph and the raw JSON for plan caching.
func (p *Planner) Generate(ctx context.Context, task string, devCtx DeviceContext) (*execution.Graph, json.RawMessage, error) {
	user := fmt.Sprintf("Task: %s\nDevice model: %s\nUI: %s\nAvailable nodes: %s\nCurrent node: %s",
		task, devCtx.DeviceModel, devCtx.UIName,
		strings.Join(devCtx.AvailableNodes, ", "), devCtx.CurrentNodeID)

	content, err := p.chat.Complete(ctx, planSystemPrompt, user)
	if err != nil {
		return nil, nil, fmt.Errorf("generate plan: %w", err)
	}
	raw := json.RawMessage(stripFences(content))
	graph, err := ParsePlan(raw)
	if err != nil {
		return nil, nil, err
	}
	log.Infof("planner: generated plan with %d nodes for task %q", len(graph.Nodes), task)
	return graph, raw, nil
}

// ParsePlan decodes a stored or generated plan payload. Legacy step arrays
// are converted to the graph form on read.
func ParsePlan(raw json.RawMessage) (*execution.Graph, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyPlan
	}
	var probe struct {
		Nodes []json.RawMessage `json:"nodes"`
		Steps []json.RawMessage `json:"steps"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmptyPlan, err)
	}
	if len(probe.Nodes) == 0 && len(probe.Steps) > 0 {
		return ConvertLegacySteps(raw)
	}
	return execution.ParseGraph(raw)
}

// ConvertLegacySteps turns a legacy {"steps":[...]} payload into a linear
// execution graph: start, one node per step chained on success, terminals.
func ConvertLegacySteps(raw json.RawMessage) (*execution.Graph, error) {
	var legacy struct {
		Steps []struct {
			Type         string         `json:"type"`
			Command      string         `json:"command"`
			Params       map[string]any `json:"params"`
			TargetNodeID string         `json:"target_node"`
			Description  string         `json:"description"`
		} `json:"steps"`
	}
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmptyPlan, err)
	}
	if len(legacy.Steps) == 0 {
		return nil, ErrEmptyPlan
	}

	g := &execution.Graph{
		Nodes: []*execution.Node{
			{ID: "start", Kind: execution.KindStart},
			{ID: "success", Kind: execution.KindSuccess},
			{ID: "failure", Kind: execution.KindFailure},
		},
	}
	prev := "start"
	for i, step := range legacy.Steps {
		id := fmt.Sprintf("step_%d", i+1)
		node := &execution.Node{ID: id, Label: step.Description, Command: step.Command, Params: step.Params}
		switch step.Type {
		case "navigation", "goto":
			node.Kind = execution.KindNavigation
			node.TargetNodeID = step.TargetNodeID
		case "verification", "verify":
			node.Kind = execution.KindVerification
			node.VerificationType = verificationTypeOf(step.Params)
		default:
			node.Kind = execution.KindAction
		}
		g.Nodes = append(g.Nodes, node)
		g.Edges = append(g.Edges,
			&execution.Edge{ID: fmt.Sprintf("e%d", len(g.Edges)), Source: prev, Target: id, SourceHandle: execution.HandleSuccess},
			&execution.Edge{ID: fmt.Sprintf("e%d", len(g.Edges)+1), Source: id, Target: "failure", SourceHandle: execution.HandleFailure},
		)
		prev = id
	}
	g.Edges = append(g.Edges, &execution.Edge{
		ID: fmt.Sprintf("e%d", len(g.Edges)), Source: prev, Target: "success", SourceHandle: execution.HandleSuccess})
	return g, g.Validate()
}

func verificationTypeOf(params map[string]any) string {
	if t, ok := params["verification_type"].(string); ok {
		return t
	}
	return "text"
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
