// Package server provides the operator HTTP API of the registration service.
//
// # Discovery (admin key)
//
//   - GET /api/peppol/{address}/smp-url               - Resolve the registry URL
//   - GET /api/peppol/{address}                       - Verify a recipient
//   - GET /api/peppol/{address}/documents/{docType}   - Verify document support
//   - GET /api/peppol/{address}/business-card         - Fetch the business card
//   - GET /api/peppol/{address}/describe              - All of the above at once
//
// Every discovery route accepts ?testNetwork=true.
//
// # Registration (admin key)
//
//   - POST   /api/teams, GET/PUT /api/teams/{teamID}
//   - POST   /api/companies
//   - GET    /api/companies/{companyID}
//   - PUT    /api/companies/{companyID}
//   - DELETE /api/companies/{companyID}
//   - POST   /api/companies/{companyID}/sync
//   - GET/POST          /api/companies/{companyID}/identifiers
//   - PUT/DELETE        /api/companies/{companyID}/identifiers/{identifierID}
//   - GET/POST          /api/companies/{companyID}/document-types
//   - PUT/DELETE        /api/companies/{companyID}/document-types/{documentTypeID}
//
// # Health & Metrics
//
//   - GET /health  - Liveness probe
//   - GET /ready   - Readiness probe (database ping)
//   - GET /metrics - Prometheus metrics (if enabled)
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brbxai/recommand-peppol-sub001/internal/config"
	"github.com/brbxai/recommand-peppol-sub001/internal/registration"
	"github.com/brbxai/recommand-peppol-sub001/internal/storage"
	"github.com/brbxai/recommand-peppol-sub001/internal/team"
	"github.com/brbxai/recommand-peppol-sub001/pkg/discovery"
	"github.com/brbxai/recommand-peppol-sub001/pkg/identifier"
)

// Services are the components exposed over HTTP
type Services struct {
	Store        storage.Store
	Teams        *team.Service
	Registration *registration.Service
	Discovery    *discovery.Client
	// Gatherer backs the metrics endpoint
	Gatherer prometheus.Gatherer
}

// Server is the operator HTTP server
type Server struct {
	config       *config.Config
	logger       *slog.Logger
	httpSrv      *http.Server
	store        storage.Store
	teams        *team.Service
	registration *registration.Service
	discovery    *discovery.Client
	gatherer     prometheus.Gatherer
}

// New creates a new server
func New(cfg *config.Config, svc Services, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config:       cfg,
		logger:       logger,
		store:        svc.Store,
		teams:        svc.Teams,
		registration: svc.Registration,
		discovery:    svc.Discovery,
		gatherer:     svc.Gatherer,
	}

	s.httpSrv = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the routed handler of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return mux
}

// Start begins listening on the specified address
func (s *Server) Start(addr string) error {
	s.httpSrv.Addr = addr
	s.logger.Info("starting server", "addr", addr, "tls", s.config.Server.TLS.Enabled)
	if s.config.Server.TLS.Enabled {
		return s.httpSrv.ListenAndServeTLS(
			s.config.Server.TLS.CertFile,
			s.config.Server.TLS.KeyFile,
		)
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return err
	}
	if s.store != nil {
		return s.store.Close(ctx)
	}
	return nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Health check (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)

	if s.config.Metrics.Metrics.Enabled && s.gatherer != nil {
		mux.Handle("GET "+s.config.Metrics.Metrics.Path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// Discovery
	mux.HandleFunc("GET /api/peppol/{address}", s.withAdmin(s.handleVerifyRecipient))
	mux.HandleFunc("GET /api/peppol/{address}/smp-url", s.withAdmin(s.handleResolveSMPURL))
	mux.HandleFunc("GET /api/peppol/{address}/documents/{docType}", s.withAdmin(s.handleVerifyDocumentSupport))
	mux.HandleFunc("GET /api/peppol/{address}/business-card", s.withAdmin(s.handleFetchBusinessCard))
	mux.HandleFunc("GET /api/peppol/{address}/describe", s.withAdmin(s.handleDescribeParticipant))

	// Teams
	mux.HandleFunc("POST /api/teams", s.withAdmin(s.handleCreateTeam))
	mux.HandleFunc("GET /api/teams/{teamID}", s.withAdmin(s.handleGetTeam))
	mux.HandleFunc("PUT /api/teams/{teamID}", s.withAdmin(s.handleUpdateTeam))

	// Companies
	mux.HandleFunc("POST /api/companies", s.withAdmin(s.handleCreateCompany))
	mux.HandleFunc("GET /api/companies/{companyID}", s.withAdmin(s.handleGetCompany))
	mux.HandleFunc("PUT /api/companies/{companyID}", s.withAdmin(s.handleUpdateCompany))
	mux.HandleFunc("DELETE /api/companies/{companyID}", s.withAdmin(s.handleDeleteCompany))
	mux.HandleFunc("POST /api/companies/{companyID}/sync", s.withAdmin(s.handleSyncCompany))

	mux.HandleFunc("GET /api/companies/{companyID}/identifiers", s.withAdmin(s.handleListIdentifiers))
	mux.HandleFunc("POST /api/companies/{companyID}/identifiers", s.withAdmin(s.handleAddIdentifier))
	mux.HandleFunc("PUT /api/companies/{companyID}/identifiers/{identifierID}", s.withAdmin(s.handleUpdateIdentifier))
	mux.HandleFunc("DELETE /api/companies/{companyID}/identifiers/{identifierID}", s.withAdmin(s.handleRemoveIdentifier))

	mux.HandleFunc("GET /api/companies/{companyID}/document-types", s.withAdmin(s.handleListDocumentTypes))
	mux.HandleFunc("POST /api/companies/{companyID}/document-types", s.withAdmin(s.handleAddDocumentType))
	mux.HandleFunc("PUT /api/companies/{companyID}/document-types/{documentTypeID}", s.withAdmin(s.handleUpdateDocumentType))
	mux.HandleFunc("DELETE /api/companies/{companyID}/document-types/{documentTypeID}", s.withAdmin(s.handleRemoveDocumentType))
}

// Middleware

// withAdmin checks the admin API key
func (s *Server) withAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-Admin-Key")
		if apiKey == "" || apiKey != s.config.Server.AdminKey {
			s.jsonError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.jsonError(w, "database not ready", http.StatusServiceUnavailable)
		return
	}
	s.jsonResponse(w, map[string]string{"status": "ready"}, http.StatusOK)
}

// Helper functions

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) jsonError(w http.ResponseWriter, message string, status int) {
	s.jsonResponse(w, map[string]string{"error": message}, status)
}

// writeError maps service errors to HTTP statuses
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch {
	case errors.Is(err, registration.ErrRegistrationFailed):
		status = http.StatusBadGateway
	case errors.Is(err, identifier.ErrInvalidIdentifier),
		errors.Is(err, identifier.ErrInvalidCapability),
		errors.Is(err, registration.ErrInvalidInput),
		errors.Is(err, registration.ErrDuplicateCapability):
		status = http.StatusBadRequest
	case errors.Is(err, registration.ErrConflict),
		errors.Is(err, registration.ErrNetworkMismatch),
		errors.Is(err, storage.ErrDuplicate):
		status = http.StatusConflict
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, discovery.ErrParticipantNotFound),
		errors.Is(err, discovery.ErrEndpointNotFound):
		status = http.StatusNotFound
	default:
		s.logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		s.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.logger.DebugContext(r.Context(), "request rejected", "path", r.URL.Path, "status", status, "error", err)
	s.jsonError(w, err.Error(), status)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		return errors.Join(registration.ErrInvalidInput, err)
	}
	return nil
}
