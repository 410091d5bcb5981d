package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"telefeed/internal/constants"
	apperrors "telefeed/internal/errors"
	"telefeed/internal/metrics"
	"telefeed/internal/models"
	"telefeed/internal/service"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Server exposes the operator API consumed by command front ends: session
// lifecycle, rule CRUD, filter and transform configuration, diagnostics, and
// a stats endpoint.
type Server struct {
	router     *mux.Router
	logger     *logrus.Logger
	registry   *service.SessionRegistry
	rules      *service.RuleStore
	dispatcher *service.Dispatcher
	metrics    *metrics.Registry
	pending    *service.PendingTracker
	server     *http.Server
	cfg        models.ServerConfig
}

func NewServer(
	cfg *models.Config,
	registry *service.SessionRegistry,
	rules *service.RuleStore,
	dispatcher *service.Dispatcher,
	metricsRegistry *metrics.Registry,
	logger *logrus.Logger,
) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		logger:     logger,
		registry:   registry,
		rules:      rules,
		dispatcher: dispatcher,
		metrics:    metricsRegistry,
		pending:    service.NewPendingTracker(constants.DefaultPendingOpTTLSec * time.Second),
		cfg:        cfg.Server,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/stats", s.handleStats()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Session lifecycle
	api.HandleFunc("/sessions", s.handleListSessions()).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{account}/connect", s.handleConnect()).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{account}/code", s.handleSubmitCode()).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{account}", s.handleDisconnect()).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{account}/logout", s.handleLogout()).Methods(http.MethodPost)

	// Rules
	api.HandleFunc("/accounts/{account}/rules", s.handleListRules()).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{account}/rules", s.handleAddRule()).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{account}/rules/{name}", s.handleChangeRule()).Methods(http.MethodPut)
	api.HandleFunc("/accounts/{account}/rules/{name}", s.handleRemoveRule()).Methods(http.MethodDelete)
	api.HandleFunc("/accounts/{account}/rules/{name}/active", s.handleSetActive()).Methods(http.MethodPatch)
	api.HandleFunc("/accounts/{account}/rules/{name}/delay", s.handleSetDelay()).Methods(http.MethodPatch)

	// Filters and transforms
	api.HandleFunc("/accounts/{account}/rules/{name}/filters", s.handleGetFilters()).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{account}/rules/{name}/filters/{kind}", s.handleSetFilter()).Methods(http.MethodPut)
	api.HandleFunc("/accounts/{account}/rules/{name}/filters/{kind}", s.handleClearFilter()).Methods(http.MethodDelete)
	api.HandleFunc("/accounts/{account}/rules/{name}/transform", s.handleGetTransform()).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{account}/rules/{name}/transform", s.handleSetTransform()).Methods(http.MethodPut)
	api.HandleFunc("/accounts/{account}/rules/{name}/transform", s.handleClearTransform()).Methods(http.MethodDelete)

	// Two-step operator flow: a front end begins an operation, then submits
	// the free-text body as a second call, the way chat commands arrive.
	api.HandleFunc("/accounts/{account}/pending", s.handleGetPending()).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{account}/pending", s.handleBeginPending()).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{account}/pending", s.handleCancelPending()).Methods(http.MethodDelete)
	api.HandleFunc("/accounts/{account}/pending/complete", s.handleCompletePending()).Methods(http.MethodPost)

	// Diagnostics
	api.HandleFunc("/accounts/{account}/test-delivery", s.handleTestDelivery()).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{account}/conversations/{convo}", s.handleDescribeConversation()).Methods(http.MethodGet)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) handleStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, s.metrics.GetSnapshot())
	}
}

func (s *Server) handleListSessions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions, err := s.registry.Sessions(r.Context())
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, sessions)
	}
}

func (s *Server) handleConnect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account := mux.Vars(r)["account"]
		result, err := s.registry.Connect(r.Context(), account)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"result": string(result)})
	}
}

func (s *Server) handleSubmitCode() http.HandlerFunc {
	type request struct {
		Code     string `json:"code"`
		Password string `json:"password,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		account := mux.Vars(r)["account"]
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		result, err := s.registry.SubmitCredential(r.Context(), account, req.Code, req.Password)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"result": string(result)})
	}
}

func (s *Server) handleDisconnect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account := mux.Vars(r)["account"]
		if err := s.registry.Disconnect(r.Context(), account); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleLogout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account := mux.Vars(r)["account"]
		if err := s.registry.Logout(r.Context(), account); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleListRules() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account := mux.Vars(r)["account"]
		rules, err := s.rules.ListRules(r.Context(), account)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if rules == nil {
			rules = []models.Rule{}
		}
		s.writeJSON(w, http.StatusOK, rules)
	}
}

// addRuleRequest accepts either explicit id lists or the operator shorthand
// "SOURCE - DESTINATION" in spec.
type addRuleRequest struct {
	Name         string  `json:"name"`
	Sources      []int64 `json:"sources,omitempty"`
	Destinations []int64 `json:"destinations,omitempty"`
	Spec         string  `json:"spec,omitempty"`
}

func (s *Server) handleAddRule() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account := mux.Vars(r)["account"]
		var req addRuleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}

		sources, destinations := req.Sources, req.Destinations
		if req.Spec != "" {
			var err error
			sources, destinations, err = service.ParseRuleSpec(req.Spec)
			if err != nil {
				s.writeError(w, err)
				return
			}
		}

		rule, err := s.rules.AddRule(r.Context(), account, req.Name, sources, destinations)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, rule)
	}
}

func (s *Server) handleChangeRule() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		var req addRuleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}

		sources, destinations := req.Sources, req.Destinations
		if req.Spec != "" {
			var err error
			sources, destinations, err = service.ParseRuleSpec(req.Spec)
			if err != nil {
				s.writeError(w, err)
				return
			}
		}

		rule, err := s.rules.ChangeRule(r.Context(), vars["account"], vars["name"], sources, destinations)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, rule)
	}
}

func (s *Server) handleRemoveRule() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		if err := s.rules.RemoveRule(r.Context(), vars["account"], vars["name"]); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleSetActive() http.HandlerFunc {
	type request struct {
		Active bool `json:"active"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if err := s.rules.SetActive(r.Context(), vars["account"], vars["name"], req.Active); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleSetDelay() http.HandlerFunc {
	type request struct {
		DelaySec int `json:"delaySec"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if err := s.rules.SetDelay(r.Context(), vars["account"], vars["name"], req.DelaySec); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleGetFilters() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		sets, err := s.rules.GetFilters(r.Context(), vars["account"], vars["name"])
		if err != nil {
			s.writeError(w, err)
			return
		}
		if sets == nil {
			sets = []models.FilterSet{}
		}
		s.writeJSON(w, http.StatusOK, sets)
	}
}

func (s *Server) handleSetFilter() http.HandlerFunc {
	type request struct {
		Patterns []string `json:"patterns"`
		Active   bool     `json:"active"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		fs := &models.FilterSet{
			Account:  vars["account"],
			RuleName: vars["name"],
			Kind:     models.FilterKind(vars["kind"]),
			Patterns: req.Patterns,
			Active:   req.Active,
		}
		if err := s.rules.SetFilter(r.Context(), fs); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleClearFilter() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		if err := s.rules.ClearFilter(r.Context(), vars["account"], vars["name"], models.FilterKind(vars["kind"])); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleGetTransform() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		spec, err := s.rules.GetTransform(r.Context(), vars["account"], vars["name"])
		if err != nil {
			s.writeError(w, err)
			return
		}
		if spec == nil {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no transform configured"})
			return
		}
		s.writeJSON(w, http.StatusOK, spec)
	}
}

func (s *Server) handleSetTransform() http.HandlerFunc {
	type request struct {
		Format      string   `json:"format,omitempty"`
		PowerRules  []string `json:"powerRules,omitempty"`
		RemoveLines []string `json:"removeLines,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		spec := &models.TransformSpec{
			Account:     vars["account"],
			RuleName:    vars["name"],
			Format:      req.Format,
			PowerRules:  req.PowerRules,
			RemoveLines: req.RemoveLines,
		}
		if err := s.rules.SetTransform(r.Context(), spec); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleClearTransform() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		if err := s.rules.ClearTransform(r.Context(), vars["account"], vars["name"]); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleTestDelivery() http.HandlerFunc {
	type request struct {
		Dest int64  `json:"dest"`
		Text string `json:"text"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		account := mux.Vars(r)["account"]
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		msgID, err := s.dispatcher.TestDelivery(r.Context(), account, req.Dest, req.Text)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]int64{"msgId": msgID})
	}
}

func (s *Server) handleDescribeConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		convo, err := strconv.ParseInt(vars["convo"], 10, 64)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "conversation id must be numeric"})
			return
		}
		entity, err := s.registry.DescribeConversation(r.Context(), vars["account"], convo)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, entity)
	}
}

var pendingKindNames = map[service.PendingKind]string{
	service.PendingRuleSpec:      "rule-spec",
	service.PendingFilterBody:    "filter",
	service.PendingTransformBody: "transform",
}

func parsePendingKind(name string) (service.PendingKind, bool) {
	for kind, kindName := range pendingKindNames {
		if kindName == name {
			return kind, true
		}
	}
	return service.PendingNone, false
}

func (s *Server) handleGetPending() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account := mux.Vars(r)["account"]
		op, ok := s.pending.Peek(account)
		if !ok {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no pending operation"})
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{
			"kind":     pendingKindNames[op.Kind],
			"ruleName": op.RuleName,
			"detail":   op.Detail,
		})
	}
}

func (s *Server) handleBeginPending() http.HandlerFunc {
	type request struct {
		Kind       string `json:"kind"`
		RuleName   string `json:"ruleName"`
		FilterKind string `json:"filterKind,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		account := mux.Vars(r)["account"]
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		kind, ok := parsePendingKind(req.Kind)
		if !ok {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "kind must be rule-spec, filter, or transform"})
			return
		}
		s.pending.Begin(account, service.PendingOp{
			Kind:     kind,
			Account:  account,
			RuleName: req.RuleName,
			Detail:   req.FilterKind,
		})
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) handleCancelPending() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.pending.Cancel(mux.Vars(r)["account"])
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleCompletePending finishes the operation begun earlier with the body
// the operator supplied. An expired or absent pending operation is a 404; the
// front end restarts the flow.
func (s *Server) handleCompletePending() http.HandlerFunc {
	type request struct {
		Body        string   `json:"body,omitempty"`
		Patterns    []string `json:"patterns,omitempty"`
		Active      bool     `json:"active,omitempty"`
		Format      string   `json:"format,omitempty"`
		PowerRules  []string `json:"powerRules,omitempty"`
		RemoveLines []string `json:"removeLines,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		account := mux.Vars(r)["account"]
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}

		op, ok := s.pending.Take(account)
		if !ok {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no pending operation"})
			return
		}

		switch op.Kind {
		case service.PendingRuleSpec:
			sources, destinations, err := service.ParseRuleSpec(req.Body)
			if err != nil {
				s.writeError(w, err)
				return
			}
			rule, err := s.rules.AddRule(r.Context(), account, op.RuleName, sources, destinations)
			if err != nil {
				s.writeError(w, err)
				return
			}
			s.writeJSON(w, http.StatusCreated, rule)

		case service.PendingFilterBody:
			fs := &models.FilterSet{
				Account:  account,
				RuleName: op.RuleName,
				Kind:     models.FilterKind(op.Detail),
				Patterns: req.Patterns,
				Active:   req.Active,
			}
			if err := s.rules.SetFilter(r.Context(), fs); err != nil {
				s.writeError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)

		case service.PendingTransformBody:
			spec := &models.TransformSpec{
				Account:     account,
				RuleName:    op.RuleName,
				Format:      req.Format,
				PowerRules:  req.PowerRules,
				RemoveLines: req.RemoveLines,
			}
			if err := s.rules.SetTransform(r.Context(), spec); err != nil {
				s.writeError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)

		default:
			s.writeJSON(w, http.StatusConflict, map[string]string{"error": "pending operation has unknown kind"})
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Warn("Failed to encode response")
	}
}

// writeError maps the application error taxonomy onto HTTP status codes and
// returns the operator-facing reason in plain text.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeInvalidConfig, apperrors.ErrCodeInvalidRuleSpec:
		status = http.StatusBadRequest
	case apperrors.ErrCodeAuthRequired, apperrors.ErrCodeAuthRejected, apperrors.ErrCodeAuthExpired:
		status = http.StatusUnauthorized
	case apperrors.ErrCodePermissionDenied:
		status = http.StatusForbidden
	case apperrors.ErrCodeNotFound:
		status = http.StatusNotFound
	case apperrors.ErrCodeDuplicateName, apperrors.ErrCodeQuotaExceeded:
		status = http.StatusConflict
	case apperrors.ErrCodePlatformUnavailable, apperrors.ErrCodeTimeout:
		status = http.StatusBadGateway
	}

	s.logger.WithError(err).Debug("Request failed")
	s.writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  string(apperrors.GetCode(err)),
	})
}
