// Package httpapi is the HTTP surface of the sync service: pull endpoints
// called by the CRM's workflows, admin entity endpoints, and the sync
// operations surface (status, dead letters, live event feed).
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentworkforce/crmsync/internal/crmapi"
	"github.com/agentworkforce/crmsync/internal/crmsync"
	"github.com/agentworkforce/crmsync/internal/store"
)

// Notifier delivers moderation messages to users. The platform's
// notification pipeline implements it; tests use fakes.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, message string) error
}

// Queue is the task-queue surface the admin endpoints need.
type Queue interface {
	Depth(ctx context.Context) (int, error)
	DeadLetters(ctx context.Context, limit int) ([]store.DeadTask, error)
	Replay(ctx context.Context, deadID int64) error
}

type ServerConfig struct {
	JWTSecret string
	// CRMEnabled gates the pull endpoints. When false they answer 403
	// without touching the CRM.
	CRMEnabled bool
}

type Server struct {
	cfg      ServerConfig
	store    crmsync.Store
	registry *crmsync.Registry
	inbound  *crmsync.Inbound
	accounts *crmsync.AccountResolver
	queue    Queue
	events   *crmsync.Broadcaster
	notifier Notifier
	log      *zap.Logger
}

type Deps struct {
	Store    crmsync.Store
	Registry *crmsync.Registry
	Inbound  *crmsync.Inbound
	Accounts *crmsync.AccountResolver
	Queue    Queue
	Events   *crmsync.Broadcaster
	Notifier Notifier
	Log      *zap.Logger
}

func NewServer(cfg ServerConfig, deps Deps) *Server {
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	return &Server{
		cfg:      cfg,
		store:    deps.Store,
		registry: deps.Registry,
		inbound:  deps.Inbound,
		accounts: deps.Accounts,
		queue:    deps.Queue,
		events:   deps.Events,
		notifier: deps.Notifier,
		log:      deps.Log,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1/crm", func(r chi.Router) {
		r.Post("/contacts/{crmID}/pull", s.requireScope(ScopeCRMPull, s.handlePull(crmsync.KindUser)))
		r.Post("/accounts/{crmID}/pull", s.requireScope(ScopeCRMPull, s.handleAccountPull))
		r.Post("/schedules/{crmID}/pull", s.requireScope(ScopeCRMPull, s.handlePull(crmsync.KindSchedule)))
		r.Post("/service-offers/{crmID}/pull", s.requireScope(ScopeCRMPull, s.handlePull(crmsync.KindServiceOffer)))
	})

	r.Route("/v1/admin", func(r chi.Router) {
		for path, kind := range map[string]crmsync.Kind{
			"users":    crmsync.KindUser,
			"posts":    crmsync.KindPost,
			"comments": crmsync.KindComment,
		} {
			kind := kind
			r.Get("/"+path+"/{id}", s.requireScope(ScopeAdminRead, s.handleAdminGet(kind)))
			r.Patch("/"+path+"/{id}", s.requireScope(ScopeAdminWrite, s.handleAdminPatch(kind)))
			r.Delete("/"+path+"/{id}", s.requireScope(ScopeAdminWrite, s.handleAdminDelete(kind)))
			r.Post("/"+path+"/{id}/undelete", s.requireScope(ScopeAdminWrite, s.handleAdminUndelete(kind)))
		}
		r.Delete("/pets/{id}", s.requireScope(ScopeAdminWrite, s.handleAdminDelete(crmsync.KindPet)))
		r.Post("/users/{id}/warn", s.requireScope(ScopeAdminWrite, s.handleWarnUser))
		r.Post("/shelters/{id}/registration/approve", s.requireScope(ScopeAdminWrite, s.handleShelterRegistration(crmsync.ApprovalApproved)))
		r.Post("/shelters/{id}/registration/reject", s.requireScope(ScopeAdminWrite, s.handleShelterRegistration(crmsync.ApprovalRejected)))
	})

	r.Route("/v1/sync", func(r chi.Router) {
		r.Get("/status", s.requireScope(ScopeSyncRead, s.handleSyncStatus))
		r.Get("/dead-letter", s.requireScope(ScopeSyncRead, s.handleDeadLetters))
		r.Post("/dead-letter/{id}/replay", s.requireScope(ScopeSyncTrigger, s.handleDeadLetterReplay))
		r.Get("/events", s.requireScope(ScopeSyncRead, s.handleEvents))
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}

// writeEngineError maps engine errors onto the response contract: validation
// problems are the caller's fault, missing rows are 404, transient CRM
// failures surface as 502 so the CRM's workflow retries.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var validation *crmsync.ValidationError
	var remote *crmapi.RemoteError
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, "validation_failed", validation.Error())
	case errors.Is(err, crmsync.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, crmsync.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.As(err, &remote):
		writeError(w, http.StatusBadGateway, "remote_error", err.Error())
	default:
		s.log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func pathID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
