//
// Copyright (C) 2026 VirtualPyTest. All rights reserved.
//
// virtualpytest is licensed under the Apache License Version 2.0.
//
//

package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/virtualpytest/virtualpytest/internal/httpapi"
	"github.com/virtualpytest/virtualpytest/storage"
)

// testcaseSaveRequest is the body of POST /server/testcase/save.
type testcaseSaveRequest struct {
	TestcaseID     string          `json:"testcase_id,omitempty"`
	Name           string          `json:"testcase_name"`
	UIName         string          `json:"userinterface_name"`
	Description    string          `json:"description"`
	GraphJSON      json.RawMessage `json:"graph_json"`
	Folder         string          `json:"folder"`
	Tags           []string        `json:"tags"`
	CreationMethod string          `json:"creation_method"`
	AIPrompt       string          `json:"ai_prompt,omitempty"`
	AIAnalysis     string          `json:"ai_analysis,omitempty"`
}

func (s *Server) handleTestcaseSave(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	var req testcaseSaveRequest
	if err := httpapi.Decode(r, &req); err != nil {
		httpapi.Error(w, http.StatusBadRequest, err)
		return
	}
	if req.Name == "" || len(req.GraphJSON) == 0 {
		httpapi.Errorf(w, http.StatusBadRequest, "testcase_name and graph_json are required")
		return
	}

	folderID, err := s.store.GetOrCreateFolder(r.Context(), teamID, req.Folder)
	if err != nil {
		writeError(w, err)
		return
	}
	tc := &storage.Testcase{
		ID:             req.TestcaseID,
		TeamID:         teamID,
		Name:           req.Name,
		UIName:         req.UIName,
		Description:    req.Description,
		GraphJSON:      req.GraphJSON,
		CreationMethod: req.CreationMethod,
		AIPrompt:       req.AIPrompt,
		AIAnalysis:     req.AIAnalysis,
		FolderID:       folderID,
		Tags:           req.Tags,
	}
	if tc.ID == "" {
		tc.ID = uuid.NewString()
	}
	if tc.Tags == nil {
		tc.Tags = []string{}
	}
	if err := s.store.SaveTestcase(r.Context(), tc); err != nil {
		writeError(w, err)
		return
	}
	httpapi.OK(w, map[string]any{"testcase": tc})
}

func (s *Server) handleTestcaseList(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	testcases, err := s.store.ListTestcases(r.Context(), teamID)
	if err != nil {
		writeError(w, err)
		return
	}
	httpapi.OK(w, map[string]any{"testcases": testcases})
}

func (s *Server) handleTestcaseGet(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	tc, err := s.store.GetTestcase(r.Context(), mux.Vars(r)["id"], teamID)
	if err != nil {
		writeError(w, err)
		return
	}
	httpapi.OK(w, map[string]any{"testcase": tc})
}

func (s *Server) handleTestcaseDelete(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	if err := s.store.DeleteTestcase(r.Context(), mux.Vars(r)["id"], teamID); err != nil {
		writeError(w, err)
		return
	}
	httpapi.OK(w, nil)
}

func (s *Server) handleTestcaseHistory(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	tc, err := s.store.GetTestcase(r.Context(), mux.Vars(r)["id"], teamID)
	if err != nil {
		writeError(w, err)
		return
	}
	results, err := s.store.ListScriptResults(r.Context(), teamID, storage.ScriptTypeTestcase, tc.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	httpapi.OK(w, map[string]any{"history": results})
}

func (s *Server) handleFoldersTags(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	folders, err := s.store.ListFolders(r.Context(), teamID)
	if err != nil {
		writeError(w, err)
		return
	}
	tags, err := s.store.ListTags(r.Context(), teamID)
	if err != nil {
		writeError(w, err)
		return
	}
	httpapi.OK(w, map[string]any{"folders": folders, "tags": tags})
}

// executableItem is one entry of the unified executables listing.
type executableItem struct {
	Type   string   `json:"type"`
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	UIName string   `json:"ui_name,omitempty"`
	Tags   []string `json:"tags"`
}

type executableFolder struct {
	ID    int64            `json:"id"`
	Name  string           `json:"name"`
	Items []executableItem `json:"items"`
}

// handleExecutableList returns testcases grouped by folder, filterable by
// folder name, tag set and a name substring.
func (s *Server) handleExecutableList(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	q := r.URL.Query()
	folderFilter := q.Get("folder")
	search := strings.ToLower(q.Get("search"))
	var tagFilter []string
	if csv := q.Get("tags"); csv != "" {
		for _, t := range strings.Split(csv, ",") {
			tagFilter = append(tagFilter, strings.ToLower(strings.TrimSpace(t)))
		}
	}

	folders, err := s.store.ListFolders(r.Context(), teamID)
	if err != nil {
		writeError(w, err)
		return
	}
	testcases, err := s.store.ListTestcases(r.Context(), teamID)
	if err != nil {
		writeError(w, err)
		return
	}
	allTags, err := s.store.ListTags(r.Context(), teamID)
	if err != nil {
		writeError(w, err)
		return
	}

	byFolder := make(map[int64]*executableFolder, len(folders))
	var ordered []*executableFolder
	for _, f := range folders {
		if folderFilter != "" && f.Name != folderFilter {
			continue
		}
		ef := &executableFolder{ID: f.ID, Name: f.Name, Items: []executableItem{}}
		byFolder[f.ID] = ef
		ordered = append(ordered, ef)
	}
	for _, tc := range testcases {
		ef, ok := byFolder[tc.FolderID]
		if !ok {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(tc.Name), search) {
			continue
		}
		if !hasAllTags(tc.Tags, tagFilter) {
			continue
		}
		ef.Items = append(ef.Items, executableItem{
			Type: "testcase", ID: tc.ID, Name: tc.Name, UIName: tc.UIName, Tags: tc.Tags,
		})
	}

	httpapi.OK(w, map[string]any{
		"folders":     ordered,
		"all_tags":    allTags,
		"all_folders": folders,
	})
}

func hasAllTags(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, t := range want {
		if !set[t] {
			return false
		}
	}
	return true
}
