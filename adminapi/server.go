// Package adminapi serves the admin HTTP endpoints: login, the pending
// reconciliation list and Prometheus metrics.
package adminapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vitwit/tokenpay/logger"
	"github.com/vitwit/tokenpay/reconcile"
	"github.com/vitwit/tokenpay/types"
	"github.com/vitwit/tokenpay/utils"
)

// Credentials are the server-held admin login.
type Credentials struct {
	Username string
	Password string
}

// Server is a thin wrapper over chi + stdlib http.Server
type Server struct {
	creds  Credentials
	ledger reconcile.Ledger
	log    logger.Logger
	mux    *chi.Mux
	srv    *http.Server
}

// NewServer builds the router. A nil gatherer leaves /metrics unmounted.
func NewServer(addr string, creds Credentials, ledger reconcile.Ledger, gatherer prometheus.Gatherer, log logger.Logger) *Server {
	if log == nil {
		log = logger.NoopLogger{}
	}
	s := &Server{creds: creds, ledger: ledger, log: log, mux: chi.NewRouter()}

	s.mux.Use(middleware.RequestID)
	s.mux.Use(middleware.Recoverer)

	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if gatherer != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	s.mux.Route("/admin", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Group(func(r chi.Router) {
			r.Use(s.basicAuth)
			r.Get("/reconciliation", s.handleListReconciliations)
			r.Post("/reconciliation/{attemptID}/resolve", s.handleResolve)
		})
	})

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Addr returns the listening address
func (s *Server) Addr() string { return s.srv.Addr }

// Run starts the server and blocks until ctx is done or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("admin api listening", map[string]any{"addr": s.srv.Addr})
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) validCredentials(username, password string) bool {
	if s.creds.Username == "" || s.creds.Password == "" {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.creds.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.creds.Password)) == 1
	return userOK && passOK
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, types.LoginResponse{Message: "An error occurred during login"})
		return
	}

	req, err := utils.ParseLoginRequest(body)
	var verr validator.ValidationErrors
	switch {
	case errors.As(err, &verr):
		// Missing fields are a credential mismatch like any other.
		s.log.Warn("admin login rejected", map[string]any{"remote": r.RemoteAddr, "error": err})
		writeJSON(w, http.StatusUnauthorized, types.LoginResponse{Message: "Invalid username or password"})
		return
	case err != nil:
		writeJSON(w, http.StatusBadRequest, types.LoginResponse{Message: "Invalid login request"})
		return
	}

	if !s.validCredentials(req.Username, req.Password) {
		s.log.Warn("admin login rejected", map[string]any{"username": req.Username, "remote": r.RemoteAddr})
		writeJSON(w, http.StatusUnauthorized, types.LoginResponse{Message: "Invalid username or password"})
		return
	}

	s.log.Info("admin login", map[string]any{"username": req.Username})
	writeJSON(w, http.StatusOK, types.LoginResponse{Success: true, Message: "Login successful"})
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || !s.validCredentials(user, pass) {
			w.Header().Set("WWW-Authenticate", `Basic realm="tokenpay admin"`)
			writeJSON(w, http.StatusUnauthorized, types.LoginResponse{Message: "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type reconciliationList struct {
	Success bool                   `json:"success"`
	Data    []types.Reconciliation `json:"data"`
}

func (s *Server) handleListReconciliations(w http.ResponseWriter, r *http.Request) {
	list, err := s.ledger.List(r.Context())
	if err != nil {
		s.log.Error("list reconciliations", map[string]any{"error": err})
		writeJSON(w, http.StatusInternalServerError, types.LoginResponse{Message: "Failed to load reconciliations"})
		return
	}
	writeJSON(w, http.StatusOK, reconciliationList{Success: true, Data: list})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "attemptID")
	err := s.ledger.Resolve(r.Context(), id)
	switch {
	case errors.Is(err, reconcile.ErrNotFound):
		writeJSON(w, http.StatusNotFound, types.LoginResponse{Message: "Reconciliation not found"})
	case err != nil:
		s.log.Error("resolve reconciliation", map[string]any{"attempt_id": id, "error": err})
		writeJSON(w, http.StatusInternalServerError, types.LoginResponse{Message: "Failed to resolve reconciliation"})
	default:
		s.log.Info("reconciliation resolved", map[string]any{"attempt_id": id})
		writeJSON(w, http.StatusOK, types.LoginResponse{Success: true, Message: "Resolved"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
