// Package httpapi exposes the service's HTTP surface: the signed platform
// webhook, the shared-secret admin triggers and the tenant resolution
// endpoint the dashboard calls.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/creatorpulse/creator-analytics/internal/identity"
	"github.com/creatorpulse/creator-analytics/internal/ingest"
	"github.com/creatorpulse/creator-analytics/internal/integrity"
	"github.com/creatorpulse/creator-analytics/internal/model"
	"github.com/creatorpulse/creator-analytics/internal/store"
	"github.com/creatorpulse/creator-analytics/internal/webhook"
)

// signatureHeader carries the platform's hex HMAC-SHA256 of the raw body.
const signatureHeader = "X-Signature"

type Secrets struct {
	Webhook string
	Admin   string
	Session string
}

type Server struct {
	processor  *webhook.Processor
	pipeline   *ingest.Pipeline
	backfiller *ingest.Backfiller
	checker    *integrity.Checker
	resolver   *identity.Resolver
	tenants    store.TenantStore
	prefs      store.PreferencesStore
	secrets    Secrets
	validate   *validator.Validate
	now        func() time.Time
}

func NewServer(
	processor *webhook.Processor,
	pipeline *ingest.Pipeline,
	backfiller *ingest.Backfiller,
	checker *integrity.Checker,
	resolver *identity.Resolver,
	tenants store.TenantStore,
	prefs store.PreferencesStore,
	secrets Secrets,
) *Server {
	return &Server{
		processor:  processor,
		pipeline:   pipeline,
		backfiller: backfiller,
		checker:    checker,
		resolver:   resolver,
		tenants:    tenants,
		prefs:      prefs,
		secrets:    secrets,
		validate:   validator.New(),
		now:        time.Now,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Post("/webhooks/platform", s.handleWebhook)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAdminSecret)
		r.Post("/admin/ingest/run", s.handleIngestRun)
		r.Post("/admin/ingest/backfill", s.handleBackfill)
		r.Get("/admin/integrity", s.handleIntegrity)
		r.Post("/api/session", s.handleIssueSession)
	})

	r.Get("/api/tenant", s.handleResolveTenant)
	r.Route("/api/preferences", func(r chi.Router) {
		r.Put("/goal", s.handleSetGoal)
		r.Post("/onboarding/complete", s.handleCompleteOnboarding)
		r.Post("/pro-welcome", s.handleProWelcomeShown)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// requireAdminSecret guards the trigger endpoints with a shared-secret
// query parameter. Missing secret is 401, wrong secret 403.
func (s *Server) requireAdminSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("secret")
		if got == "" {
			writeError(w, http.StatusUnauthorized, "missing secret")
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.secrets.Admin)) != 1 {
			writeError(w, http.StatusForbidden, "invalid secret")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleWebhook verifies the signature over the exact raw body bytes
// before anything else; no state is touched on a rejected delivery.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read body")
		return
	}

	sig := r.Header.Get(signatureHeader)
	if sig == "" {
		writeError(w, http.StatusUnauthorized, "missing signature")
		return
	}
	if !webhook.VerifySignature(s.secrets.Webhook, body, sig) {
		writeError(w, http.StatusForbidden, "invalid signature")
		return
	}

	event, err := webhook.ParseEvent(body)
	if err != nil {
		log.Error().Err(err).Msg("Malformed webhook event")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.processor.Handle(r.Context(), event); err != nil {
		log.Error().Err(err).Str("kind", event.Kind.String()).Msg("Webhook processing failed")
		writeError(w, http.StatusInternalServerError, "event processing failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleIngestRun triggers one pipeline run for yesterday (UTC) across
// the fleet and returns the itemized per-tenant results.
func (s *Server) handleIngestRun(w http.ResponseWriter, r *http.Request) {
	day := ingest.Yesterday(s.now())
	results, err := s.pipeline.RunDaily(r.Context(), day)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	failed := 0
	for _, res := range results {
		if !res.OK {
			failed++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":    day.Format("2006-01-02"),
		"tenants": len(results),
		"failed":  failed,
		"results": results,
	})
}

type backfillRequest struct {
	CompanyID string `json:"company_id" validate:"required"`
	Days      int    `json:"days" validate:"min=1,max=365"`
}

func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	var req backfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tenant, err := s.tenants.GetByCompanyID(r.Context(), req.CompanyID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if tenant == nil {
		writeError(w, http.StatusNotFound, "tenant not found")
		return
	}
	if !tenant.HasCredential() {
		writeError(w, http.StatusBadRequest, "tenant has no access token")
		return
	}

	result := s.backfiller.Backfill(r.Context(), tenant.CompanyID, tenant.AccessToken, req.Days)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	companyID := r.URL.Query().Get("company_id")
	if companyID == "" {
		writeError(w, http.StatusBadRequest, "missing company_id")
		return
	}

	report, err := s.checker.Check(r.Context(), companyID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type sessionRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// handleIssueSession stands in for the OAuth callback: the login redirect
// dance happens elsewhere and hands this service a verified user id, for
// which a session token is minted. The token travels only in this
// response.
func (s *Server) handleIssueSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, err := IssueSessionToken(s.secrets.Session, req.UserID, s.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue session")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "session",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  s.now().Add(sessionTTL),
	})
	writeJSON(w, http.StatusOK, map[string]string{"session": token})
}

type tenantResponse struct {
	Tenant      *model.Tenant      `json:"tenant"`
	Preferences *model.Preferences `json:"preferences"`
	ResolvedVia string             `json:"resolved_via"`
	URLMismatch bool               `json:"url_mismatch"`
}

// identityRequest collects the resolvable identifiers from a dashboard
// request: the URL ids plus the session cookie's verified user id. An
// invalid or absent cookie just means an unauthenticated request.
func (s *Server) identityRequest(r *http.Request) identity.Request {
	req := identity.Request{
		CompanyID:    r.URL.Query().Get("company_id"),
		ExperienceID: r.URL.Query().Get("experience_id"),
	}
	if cookie, err := r.Cookie("session"); err == nil {
		if userID, err := ParseSessionToken(s.secrets.Session, cookie.Value); err == nil {
			req.UserID = userID
		}
	}
	return req
}

// handleResolveTenant resolves the request's identifiers onto one tenant.
func (s *Server) handleResolveTenant(w http.ResponseWriter, r *http.Request) {
	res, err := s.resolver.Resolve(r.Context(), s.identityRequest(r))
	if errors.Is(err, identity.ErrUnresolved) {
		writeError(w, http.StatusNotFound, "no tenant for request, install or log in first")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	prefs, err := s.prefs.GetOrCreate(r.Context(), res.Tenant.CompanyID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, tenantResponse{
		Tenant:      res.Tenant,
		Preferences: prefs,
		ResolvedVia: res.Via,
		URLMismatch: res.URLMismatch,
	})
}

type goalRequest struct {
	GoalCents int64 `json:"goal_cents" validate:"required,min=1"`
}

// handleSetGoal stores the dashboard's monthly revenue goal.
func (s *Server) handleSetGoal(w http.ResponseWriter, r *http.Request) {
	var req goalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mutatePreferences(w, r, func(ctx context.Context, companyID string) error {
		return s.prefs.SetGoal(ctx, companyID, req.GoalCents)
	})
}

func (s *Server) handleCompleteOnboarding(w http.ResponseWriter, r *http.Request) {
	s.mutatePreferences(w, r, func(ctx context.Context, companyID string) error {
		return s.prefs.MarkCompleted(ctx, companyID, s.now())
	})
}

func (s *Server) handleProWelcomeShown(w http.ResponseWriter, r *http.Request) {
	s.mutatePreferences(w, r, func(ctx context.Context, companyID string) error {
		return s.prefs.MarkProWelcomeShown(ctx, companyID, s.now())
	})
}

// mutatePreferences resolves the tenant, applies one preferences change and
// returns the updated row.
func (s *Server) mutatePreferences(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, companyID string) error) {
	res, err := s.resolver.Resolve(r.Context(), s.identityRequest(r))
	if errors.Is(err, identity.ErrUnresolved) {
		writeError(w, http.StatusNotFound, "no tenant for request, install or log in first")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	companyID := res.Tenant.CompanyID
	if _, err := s.prefs.GetOrCreate(r.Context(), companyID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := fn(r.Context(), companyID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	prefs, err := s.prefs.GetOrCreate(r.Context(), companyID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}
