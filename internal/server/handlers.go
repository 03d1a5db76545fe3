package server

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"newsrec/internal/core"
	"newsrec/internal/logger"
	"newsrec/internal/recommend"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ClickRequest is the body of POST /submit_user_click/.
type ClickRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Title  string `json:"title" validate:"required"`
	Date   string `json:"date" validate:"required"`
	Domain string `json:"domain" validate:"required"`
}

// AdjustRequest is the body of POST /adjust_recommendations/.
type AdjustRequest struct {
	UserID  string `json:"user_id" validate:"required"`
	Request string `json:"request" validate:"required"`
}

// StatusResponse is returned by click submission.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// AdjustResponse carries the model's reply to an adjustment.
type AdjustResponse struct {
	Response string `json:"response"`
}

// LoadNewsResponse reports whether a refresh ran.
type LoadNewsResponse struct {
	Status    string `json:"status"`
	Refreshed bool   `json:"refreshed"`
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// ErrorBody is the machine-readable part of an error response.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ErrorResponse wraps ErrorBody.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

func (s *Server) handleGetRecommendations(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")

	recs, err := s.svc.Recommender.GetRecommendations(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, recs)
}

func (s *Server) handleSubmitClick(w http.ResponseWriter, r *http.Request) {
	var req ClickRequest
	if err := decodeRequest(w, r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, StatusResponse{Status: "error", Message: err.Error()})
		return
	}

	_, err := s.svc.Clicks.RecordClick(r.Context(), recommend.Click{
		UserID: req.UserID,
		Title:  req.Title,
		Date:   req.Date,
		Domain: req.Domain,
	})
	if err != nil {
		logger.Error("Failed to record click", err, "user_id", req.UserID)
		respondJSON(w, statusFor(err), StatusResponse{Status: "error", Message: err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, StatusResponse{Status: "success"})
}

func (s *Server) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if err := decodeRequest(w, r, &req); err != nil {
		respondError(w, err)
		return
	}

	reply, err := s.svc.Recommender.AdjustRecommendations(r.Context(), req.UserID, req.Request)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, AdjustResponse{Response: reply})
}

// handleLoadNews runs the staleness check; ?force=true refreshes unconditionally.
func (s *Server) handleLoadNews(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("force") == "true" {
		if _, err := s.svc.Articles.Refresh(r.Context()); err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, LoadNewsResponse{Status: "success", Refreshed: true})
		return
	}

	refreshed, err := s.svc.Articles.RefreshIfStale(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, LoadNewsResponse{Status: "success", Refreshed: refreshed})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.svc.Checks))
	healthy := true
	for name, p := range s.svc.Checks {
		if err := p.Ping(r.Context()); err != nil {
			logger.Warn("Health check failed", "check", name, "error", err.Error())
			checks[name] = "error"
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	if !healthy {
		respondJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Checks: checks})
		return
	}
	respondJSON(w, http.StatusOK, HealthResponse{Status: "ok", Checks: checks})
}

// decodeRequest decodes a JSON body into v and validates it.
// Failures are returned as invalid_request errors.
func decodeRequest(w http.ResponseWriter, r *http.Request, v any) error {
	const op = "server.decodeRequest"

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		return core.E(core.KindInvalidRequest, op, fmt.Errorf("invalid JSON body: %w", err))
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, len(verrs))
			for i, fe := range verrs {
				fields[i] = fe.Field()
			}
			return core.E(core.KindInvalidRequest, op,
				fmt.Errorf("missing required fields: %s", strings.Join(fields, ", ")))
		}
		return core.E(core.KindInvalidRequest, op, err)
	}
	return nil
}

// statusFor maps an error kind to an HTTP status code.
func statusFor(err error) int {
	switch core.KindOf(err) {
	case core.KindInvalidRequest:
		return http.StatusBadRequest
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindTimeout:
		return http.StatusGatewayTimeout
	case core.KindMalformedModelResponse:
		return http.StatusBadGateway
	case core.KindStoreUnavailable, core.KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", err, "status", status)
	}
	respondJSON(w, status, ErrorResponse{Error: ErrorBody{
		Kind:    string(core.KindOf(err)),
		Message: err.Error(),
	}})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		logger.Error("Failed to marshal JSON response", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		logger.Error("Failed to write JSON response", err)
	}
}
