package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/poa-ops/poactl/internal/apply"
	"github.com/poa-ops/poactl/internal/backup"
	"github.com/poa-ops/poactl/internal/document"
	poaerrors "github.com/poa-ops/poactl/internal/errors"
	"github.com/poa-ops/poactl/internal/monitoring"
	"github.com/poa-ops/poactl/internal/rules"
	"github.com/poa-ops/poactl/internal/status"
)

// OrchestratorFactory builds an apply pipeline from the current on-disk
// state. A fresh orchestrator is built for every apply request so the
// verification probe targets the port of the document being applied, not the
// one the server started with.
type OrchestratorFactory func() (*apply.Orchestrator, error)

// Server exposes the configuration manager over HTTP for the web console.
// Mutating endpoints run through the same store and orchestrator as the CLI,
// so they share the same locks and the same rollback behavior.
type Server struct {
	store         *document.Store
	validator     *rules.Validator
	orchestrators OrchestratorFactory
	backups       *backup.Manager
	reporter      *status.Reporter
	logger        *zap.Logger
}

// NewServer wires the admin API.
func NewServer(store *document.Store, orchestrators OrchestratorFactory, backups *backup.Manager,
	reporter *status.Reporter, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		store:         store,
		validator:     rules.NewValidator(),
		orchestrators: orchestrators,
		backups:       backups,
		reporter:      reporter,
		logger:        logger,
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", monitoring.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/validate", s.handleValidate)
		r.Post("/apply", s.handleApply)
		r.Get("/backups", s.handleBackups)
		r.Post("/exchange", s.handleExchangeSet)
		r.Post("/kis", s.handleKISAdd)
		r.Delete("/kis/{number}", s.handleKISRemove)
	})
	return r
}

// ListenAndServe runs the API until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()
	s.logger.Info("admin API listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.reporter.Collect(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.Load()
	if err != nil {
		s.writeError(w, err)
		return
	}
	result := s.validator.Validate(doc)
	monitoring.RecordValidation(len(result.Violations))
	code := http.StatusOK
	if !result.Valid() {
		code = http.StatusUnprocessableEntity
	}
	writeJSON(w, code, map[string]any{
		"valid":      result.Valid(),
		"violations": result.Violations,
	})
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	orchestrator, err := s.orchestrators()
	if err != nil {
		s.writeError(w, err)
		return
	}
	result, err := orchestrator.Apply(r.Context())
	if err != nil {
		if poaerrors.HasCategory(err, poaerrors.ErrorCategoryConcurrentApply) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":  err.Error(),
			"result": result,
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleBackups(w http.ResponseWriter, r *http.Request) {
	metas, err := s.backups.List()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, metas)
}

type exchangeRequest struct {
	Exchange   string `json:"exchange"`
	Enabled    bool   `json:"enabled"`
	Key        string `json:"key"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

func (s *Server) handleExchangeSet(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	id := document.ExchangeID(strings.ToLower(req.Exchange))
	if !id.IsKnown() {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": "unknown exchange; supported: binance, upbit, bybit, bitget, okx",
		})
		return
	}

	doc, err := s.store.Load()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if doc.Exchanges == nil {
		doc.Exchanges = make(map[document.ExchangeID]document.ExchangeSection)
	}
	doc.Exchanges[id] = document.ExchangeSection{
		Enabled:    req.Enabled,
		Key:        req.Key,
		Secret:     req.Secret,
		Passphrase: req.Passphrase,
	}
	if err := s.store.Save(doc); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("exchange credentials updated",
		zap.String("exchange", string(id)),
		zap.Bool("enabled", req.Enabled))
	writeJSON(w, http.StatusOK, map[string]any{
		"exchange": string(id),
		"message":  "saved; run apply to make it live",
	})
}

type kisRequest struct {
	Number        int    `json:"number"`
	Key           string `json:"key"`
	Secret        string `json:"secret"`
	AccountNumber string `json:"account_number"`
	AccountCode   string `json:"account_code"`
}

func (s *Server) handleKISAdd(w http.ResponseWriter, r *http.Request) {
	var req kisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Number < document.KISNumberMin || req.Number > document.KISNumberMax {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": "KIS number must be within 1-50",
		})
		return
	}

	doc, err := s.store.Load()
	if err != nil {
		s.writeError(w, err)
		return
	}
	doc.UpsertKISAccount(document.KISAccount{
		Number:        req.Number,
		Key:           req.Key,
		Secret:        req.Secret,
		AccountNumber: req.AccountNumber,
		AccountCode:   req.AccountCode,
	})
	if err := s.store.Save(doc); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("KIS account upserted", zap.Int("number", req.Number))
	writeJSON(w, http.StatusOK, map[string]any{
		"number":  req.Number,
		"message": "saved; run apply to make it live",
	})
}

func (s *Server) handleKISRemove(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "KIS number must be an integer"})
		return
	}

	doc, err := s.store.Load()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !doc.RemoveKISAccount(number) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no KIS account with that number",
		})
		return
	}
	if err := s.store.Save(doc); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("KIS account removed", zap.Int("number", number))
	writeJSON(w, http.StatusOK, map[string]any{
		"number":  number,
		"message": "removed; run apply to make it live",
	})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.logger.Error("request failed", zap.Error(err))
	code := http.StatusInternalServerError
	var ce *poaerrors.ConfigError
	if errors.As(err, &ce) {
		switch {
		case ce.Category == poaerrors.ErrorCategoryNotFound:
			code = http.StatusNotFound
		case ce.Category == poaerrors.ErrorCategoryConcurrentApply:
			code = http.StatusConflict
		case ce.IsFatal():
			// the stored document needs fixing, not the server
			code = http.StatusUnprocessableEntity
		}
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload) //nolint:errcheck
}
