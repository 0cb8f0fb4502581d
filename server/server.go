//
// Copyright (C) 2026 VirtualPyTest. All rights reserved.
//
// virtualpytest is licensed under the Apache License Version 2.0.
//
//

// Package server is the API server: team-scoped HTTP surface, host registry,
// server-to-host proxying and multi-device orchestration.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"github.com/virtualpytest/virtualpytest/config"
	"github.com/virtualpytest/virtualpytest/execution"
	"github.com/virtualpytest/virtualpytest/internal/httpapi"
	"github.com/virtualpytest/virtualpytest/log"
	"github.com/virtualpytest/virtualpytest/navigation"
	"github.com/virtualpytest/virtualpytest/plancache"
	"github.com/virtualpytest/virtualpytest/planner"
	"github.com/virtualpytest/virtualpytest/storage"
)

// fanoutPoolSize bounds concurrent per-target script executions.
const fanoutPoolSize = 32

// reviewQueueKey is the Redis list the review pipeline consumes.
const reviewQueueKey = "vpt:review:queue"

// Server wires the storage, navigation, planning and host layers behind the
// HTTP surface.
type Server struct {
	cfg      *config.Config
	store    storage.Store
	nav      *navigation.Engine
	plans    *plancache.Cache
	planner  *planner.Planner
	analyzer *planner.Analyzer
	hosts    *HostRegistry
	pool     *ants.Pool
	client   *http.Client
	review   *redis.Client

	mu sync.Mutex
	// teamBusy holds the per-team multi-device execution lock.
	teamBusy map[string]bool
	// aiTasks tracks in-flight AI executions by server task id.
	aiTasks map[string]*aiTask
}

// New assembles a server. chat may be nil when no AI credentials are
// configured; the AI endpoints then report a validation error.
func New(cfg *config.Config, store storage.Store, chat planner.ChatClient) (*Server, error) {
	pool, err := ants.NewPool(fanoutPoolSize)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:      cfg,
		store:    store,
		nav:      navigation.NewEngine(store),
		plans:    plancache.New(store),
		hosts:    NewHostRegistry(cfg.HeartbeatInterval, store),
		pool:     pool,
		client:   &http.Client{Timeout: cfg.ProxyTimeout},
		teamBusy: make(map[string]bool),
		aiTasks:  make(map[string]*aiTask),
	}
	if chat != nil {
		s.planner = planner.New(chat)
		s.analyzer = planner.NewAnalyzer(chat)
	}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Warnf("review queue disabled: bad redis url: %v", err)
		} else {
			if cfg.RedisToken != "" {
				opts.Password = cfg.RedisToken
			}
			s.review = redis.NewClient(opts)
		}
	}
	return s, nil
}

// Hosts exposes the host registry, mainly for its monitor loop.
func (s *Server) Hosts() *HostRegistry { return s.hosts }

// PlanCache exposes the plan cache for maintenance scheduling.
func (s *Server) PlanCache() *plancache.Cache { return s.plans }

// Handler builds the full /server HTTP surface plus the /host registration
// endpoints hosts call in.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	// Host liveness.
	r.HandleFunc("/host/register", s.handleHostRegister).Methods(http.MethodPost)
	r.HandleFunc("/host/heartbeat", s.handleHostHeartbeat).Methods(http.MethodPost)

	// Navigation trees.
	r.HandleFunc("/server/navigationTrees/getNodeSubTrees/{tree}/{node}", s.handleNodeSubtrees).Methods(http.MethodGet)
	r.HandleFunc("/server/navigationTrees/{id}/metadata", s.handleTreeMetadata).Methods(http.MethodGet)
	r.HandleFunc("/server/navigationTrees/{id}/metadata", s.handleTreeSave).Methods(http.MethodPost)
	r.HandleFunc("/server/navigationTrees/{id}/nodes", s.handleTreeNodes).Methods(http.MethodGet)
	r.HandleFunc("/server/navigationTrees/{id}/nodes", s.handleNodeSave).Methods(http.MethodPost)
	r.HandleFunc("/server/navigationTrees/{id}/nodes/{node}", s.handleNodeDelete).Methods(http.MethodDelete)
	r.HandleFunc("/server/navigationTrees/{id}/nodes/{node}/subtrees", s.handleSubtreeCreate).Methods(http.MethodPost)
	r.HandleFunc("/server/navigationTrees/{id}/edges", s.handleTreeEdges).Methods(http.MethodGet)
	r.HandleFunc("/server/navigationTrees/{id}/edges", s.handleEdgeSave).Methods(http.MethodPost)
	r.HandleFunc("/server/navigationTrees/{id}/edges/{edge}", s.handleEdgeDelete).Methods(http.MethodDelete)
	r.HandleFunc("/server/navigationTrees/{id}/full", s.handleTreeFull).Methods(http.MethodGet)
	r.HandleFunc("/server/navigationTrees/{id}/hierarchy", s.handleHierarchy).Methods(http.MethodGet)
	r.HandleFunc("/server/navigationTrees/{id}/breadcrumb", s.handleBreadcrumb).Methods(http.MethodGet)
	r.HandleFunc("/server/navigationTrees/{id}/validationSequence", s.handleValidationSequence).Methods(http.MethodGet)
	r.HandleFunc("/server/navigationTrees/{id}/cascade", s.handleTreeCascadeDelete).Methods(http.MethodDelete)
	r.HandleFunc("/server/navigationTrees/{id}", s.handleTreeDelete).Methods(http.MethodDelete)
	r.HandleFunc("/server/navigationTrees/{id}/move", s.handleSubtreeMove).Methods(http.MethodPut)

	// Testcases and executables.
	r.HandleFunc("/server/testcase/save", s.handleTestcaseSave).Methods(http.MethodPost)
	r.HandleFunc("/server/testcase/list", s.handleTestcaseList).Methods(http.MethodGet)
	r.HandleFunc("/server/testcase/folders-tags", s.handleFoldersTags).Methods(http.MethodGet)
	r.HandleFunc("/server/testcase/{id}/execute", s.handleTestcaseExecute).Methods(http.MethodPost)
	r.HandleFunc("/server/testcase/{id}/history", s.handleTestcaseHistory).Methods(http.MethodGet)
	r.HandleFunc("/server/testcase/{id}", s.handleTestcaseGet).Methods(http.MethodGet)
	r.HandleFunc("/server/testcase/{id}", s.handleTestcaseDelete).Methods(http.MethodDelete)
	r.HandleFunc("/server/executable/list", s.handleExecutableList).Methods(http.MethodGet)

	// AI.
	r.HandleFunc("/server/aiagent/executeTask", s.handleAIExecuteTask).Methods(http.MethodPost)
	r.HandleFunc("/server/aiagent/getStatus", s.handleAIGetStatus).Methods(http.MethodGet)
	r.HandleFunc("/server/aitestcase/analyzeTestCase", s.handleAnalyzeTestCase).Methods(http.MethodPost)
	r.HandleFunc("/server/aitestcase/generateTestCases", s.handleGenerateTestCases).Methods(http.MethodPost)
	r.HandleFunc("/server/aitestcase/executeTestCase", s.handleAIExecuteTestCase).Methods(http.MethodPost)

	// Scripts.
	r.HandleFunc("/server/script/execute", s.handleScriptExecute).Methods(http.MethodPost)

	return cors.AllowAll().Handler(r)
}

// writeError maps an error to its status code and envelope.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, navigation.ErrTreeNotFound),
		errors.Is(err, navigation.ErrNodeNotFound),
		errors.Is(err, execution.ErrTaskNotFound),
		errors.Is(err, planner.ErrAnalysisNotFound):
		httpapi.Error(w, http.StatusNotFound, err)
	case errors.Is(err, execution.ErrDeviceBusy):
		httpapi.Error(w, http.StatusConflict, err)
	case errors.Is(err, storage.ErrMaxDepth),
		errors.Is(err, storage.ErrDuplicateName),
		errors.Is(err, navigation.ErrDepthExceeded),
		errors.Is(err, navigation.ErrBrokenParentLink),
		errors.Is(err, navigation.ErrUnifiedCacheMissing),
		errors.Is(err, execution.ErrMalformedGraph),
		errors.Is(err, planner.ErrEmptyPlan):
		httpapi.Error(w, http.StatusBadRequest, err)
	case errors.Is(err, ErrHostUnavailable),
		errors.Is(err, execution.ErrDeviceUnavailable):
		httpapi.Error(w, http.StatusServiceUnavailable, err)
	default:
		httpapi.Error(w, http.StatusInternalServerError, err)
	}
}

// lockTeam takes the per-team multi-device execution lock.
func (s *Server) lockTeam(teamID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.teamBusy[teamID] {
		return false
	}
	s.teamBusy[teamID] = true
	return true
}

func (s *Server) unlockTeam(teamID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.teamBusy, teamID)
}

// pushReview queues a script result id for the external review pipeline.
func (s *Server) pushReview(resultID string) {
	if s.review == nil {
		return
	}
	if err := s.review.LPush(context.Background(), reviewQueueKey, resultID).Err(); err != nil {
		log.Warnf("review queue push failed for %s: %v", resultID, err)
	}
}
