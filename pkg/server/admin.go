package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"mercator-hq/throttle/pkg/config"
	"mercator-hq/throttle/pkg/limits/keys"
	"mercator-hq/throttle/pkg/limits/policy"
	"mercator-hq/throttle/pkg/proxy"
	"mercator-hq/throttle/pkg/proxy/middleware"
	"mercator-hq/throttle/pkg/proxy/types"
	"mercator-hq/throttle/pkg/telemetry/health"
)

// maxAdminBody bounds admin request bodies.
const maxAdminBody = 64 << 10

// newAdminRouter builds the admin listener: the /admin/v1 API plus the
// health, version and metrics endpoints.
func (s *Server) newAdminRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestIDMiddleware,
		middleware.RecoveryMiddleware,
		middleware.LoggingMiddleware(s.logger),
	)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = proxy.WriteErrorResponse(w, types.NewNotFoundError("No such endpoint.", ""))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = proxy.WriteErrorResponse(w, types.NewErrorResponse(
			"Method not allowed.", types.ErrorTypeMethodNotAllowed, "", "",
		))
	})

	tc := s.cfg.Telemetry
	if tc.Health.Enabled {
		s.telemetry.Health().Mount(r, health.Paths{
			Liveness:  tc.Health.LivenessPath,
			Readiness: tc.Health.ReadinessPath,
			Version:   tc.Health.VersionPath,
		}, s.telemetry.Version())
	}
	if tc.Metrics.Enabled {
		r.Method(http.MethodGet, tc.Metrics.Path, s.telemetry.Metrics().Handler())
	}

	r.Route(AdminPrefix, func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/reset", s.handleReset)
		r.Get("/policies", s.handleListPolicies)
		r.Get("/policies/{class}", s.handleGetPolicy)
		r.Put("/policies/{class}", s.handleSetPolicy)
		r.Post("/reap", s.handleReap)
	})

	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := BucketRequest{
		Identifier: strings.TrimSpace(q.Get("identifier")),
		Class:      strings.TrimSpace(q.Get("class")),
		UserID:     strings.TrimSpace(q.Get("user")),
	}
	if errResp := req.validate(); errResp != nil {
		_ = proxy.WriteErrorResponse(w, errResp)
		return
	}

	status, err := s.limiter.StatusOf(r.Context(), req.Identifier, policy.EndpointClass(req.Class), req.UserID)
	if err != nil {
		s.writeLimiterError(w, r, "status", err)
		return
	}

	_ = proxy.WriteJSONResponse(w, http.StatusOK, NewStatusResponse(status))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req BucketRequest
	if errResp := decodeBody(w, r, &req); errResp != nil {
		_ = proxy.WriteErrorResponse(w, errResp)
		return
	}
	req.Identifier = strings.TrimSpace(req.Identifier)
	req.Class = strings.TrimSpace(req.Class)
	req.UserID = strings.TrimSpace(req.UserID)
	if errResp := req.validate(); errResp != nil {
		_ = proxy.WriteErrorResponse(w, errResp)
		return
	}

	if err := s.limiter.ResetKey(r.Context(), req.Identifier, policy.EndpointClass(req.Class), req.UserID); err != nil {
		s.writeLimiterError(w, r, "reset", err)
		return
	}

	_ = proxy.WriteJSONResponse(w, http.StatusOK, ResetResponse{BucketRequest: req, Reset: true})
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	_ = proxy.WriteJSONResponse(w, http.StatusOK, NewPoliciesResponse(s.limiter.Registry()))
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	class := policy.EndpointClass(chi.URLParam(r, "class"))
	p, err := s.limiter.GetPolicy(class)
	if err != nil {
		s.writeLimiterError(w, r, "get policy", err)
		return
	}
	_ = proxy.WriteJSONResponse(w, http.StatusOK, PolicyResponse{
		Class:        string(class),
		PolicyConfig: config.PolicyConfigFrom(p),
	})
}

// handleSetPolicy replaces the policy of an existing class for this process.
// Other instances sharing the store keep their own policy.
func (s *Server) handleSetPolicy(w http.ResponseWriter, r *http.Request) {
	class := policy.EndpointClass(chi.URLParam(r, "class"))

	var body config.PolicyConfig
	if errResp := decodeBody(w, r, &body); errResp != nil {
		_ = proxy.WriteErrorResponse(w, errResp)
		return
	}

	p := body.ToPolicy()
	if err := s.limiter.SetPolicy(class, p); err != nil {
		s.writeLimiterError(w, r, "set policy", err)
		return
	}

	_ = proxy.WriteJSONResponse(w, http.StatusOK, PolicyResponse{
		Class:        string(class),
		PolicyConfig: config.PolicyConfigFrom(p),
	})
}

func (s *Server) handleReap(w http.ResponseWriter, r *http.Request) {
	if s.reaper == nil {
		_ = proxy.WriteErrorResponse(w, types.NewServiceUnavailableError(
			"The reaper is not configured.", "",
		))
		return
	}

	stats, err := s.reaper.Sweep(r.Context())
	if err != nil {
		s.writeLimiterError(w, r, "reap", err)
		return
	}
	_ = proxy.WriteJSONResponse(w, http.StatusOK, NewReapResponse(stats))
}

// writeLimiterError maps limiter errors to responses. Anything that is not a
// caller mistake is a store failure.
func (s *Server) writeLimiterError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var validation *policy.ValidationError
	switch {
	case errors.Is(err, policy.ErrUnknownEndpointClass):
		_ = proxy.WriteErrorResponse(w, types.NewNotFoundError(err.Error(), types.CodeUnknownClass))
	case errors.As(err, &validation):
		resp := types.NewInvalidRequestError(err.Error(), "", types.CodeInvalidValue)
		if len(validation.Errors) > 0 {
			resp.Error.Param = validation.Errors[0].Field
		}
		_ = proxy.WriteErrorResponse(w, resp)
	case errors.Is(err, keys.ErrMissingIdentifier), errors.Is(err, keys.ErrMissingEndpointClass):
		_ = proxy.WriteErrorResponse(w, types.NewInvalidRequestError(err.Error(), "", types.CodeMissingField))
	default:
		s.logger.ErrorContext(r.Context(), "admin operation failed", "operation", op, "error", err)
		_ = proxy.WriteErrorResponse(w, types.NewServiceUnavailableError(
			"The window store is unavailable.", types.CodeStoreUnavailable,
		))
	}
}

func (b BucketRequest) validate() *types.ErrorResponse {
	if b.Identifier == "" {
		return types.NewInvalidRequestError("identifier is required", "identifier", types.CodeMissingField)
	}
	if b.Class == "" {
		return types.NewInvalidRequestError("class is required", "class", types.CodeMissingField)
	}
	return nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) *types.ErrorResponse {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAdminBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return types.NewInvalidRequestError("Request body is not valid JSON: "+err.Error(), "", types.CodeInvalidJSON)
	}
	return nil
}
