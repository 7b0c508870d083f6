package httpx

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/zeebo/blake3"

	"github.com/target/mmk-mentions-api/internal/domain/model"
	apperrors "github.com/target/mmk-mentions-api/internal/errors"
	"github.com/target/mmk-mentions-api/internal/service"
)

// AnalysisService is the orchestrator surface the API depends on.
type AnalysisService interface {
	Submit(ctx context.Context, req model.SubmitRequest) (*model.SubmitResult, error)
	Status(ctx context.Context, owner model.OwnerKey) (*model.AnalysisView, error)
	Stats(ctx context.Context) (*model.AnalysisStats, error)
}

// AnalysisHandlers serves the analysis endpoints.
type AnalysisHandlers struct {
	Svc AnalysisService
	// EnforceOwner requires an authenticated caller to match the user_id being accessed.
	EnforceOwner bool
	Logger       *slog.Logger
}

// submitAnalysisRequest is the POST /api/analyses body.
type submitAnalysisRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	BrandName string `json:"brand_name"`
	Category  string `json:"category,omitempty"`
	Location  string `json:"location,omitempty"`
	Force     bool   `json:"force,omitempty"`
}

// Submit handles POST /api/analyses.
func (h *AnalysisHandlers) Submit(w http.ResponseWriter, r *http.Request) {
	var body submitAnalysisRequest
	if !DecodeJSON(w, r, &body) {
		return
	}
	if !h.authorizeOwner(w, r, body.UserID) {
		return
	}

	query, err := model.BrandQuery{
		BrandName: body.BrandName,
		Category:  body.Category,
		Location:  body.Location,
	}.Encode()
	if err != nil {
		if errors.Is(err, model.ErrBrandNameRequired) {
			WriteAppError(w, h.Logger, apperrors.ValidationField("brand_name", "brand_name is required"))
			return
		}
		WriteAppError(w, h.Logger, err)
		return
	}

	res, err := h.Svc.Submit(r.Context(), model.SubmitRequest{
		Owner: model.OwnerKey{UserID: body.UserID, SessionID: body.SessionID},
		Query: query,
		Force: body.Force,
	})
	if err != nil {
		WriteAppError(w, h.Logger, err)
		return
	}

	if conflict := service.InProgress(res); conflict != nil {
		var appErr *apperrors.AppError
		errors.As(conflict, &appErr)
		WriteJSON(w, http.StatusConflict, errorBody{
			Error:    string(appErr.Code),
			Message:  appErr.Message,
			Analysis: res.View,
		})
		return
	}

	code := http.StatusOK
	if res.Accepted {
		code = http.StatusAccepted
		if res.View != nil {
			w.Header().Set("Location", analysisPath(res.View.UserID, res.View.SessionID))
		}
	}
	WriteJSON(w, code, res)
}

// Status handles GET /api/analyses/{user_id}/{session_id}.
func (h *AnalysisHandlers) Status(w http.ResponseWriter, r *http.Request) {
	userID, err := pathParam(r, "user_id")
	if err != nil {
		WriteAppError(w, h.Logger, apperrors.ValidationField("user_id", "user_id is not a valid path segment"))
		return
	}
	sessionID, err := pathParam(r, "session_id")
	if err != nil {
		WriteAppError(w, h.Logger, apperrors.ValidationField("session_id", "session_id is not a valid path segment"))
		return
	}
	owner := model.OwnerKey{UserID: userID, SessionID: sessionID}
	if !h.authorizeOwner(w, r, owner.UserID) {
		return
	}

	view, err := h.Svc.Status(r.Context(), owner)
	if err != nil {
		WriteAppError(w, h.Logger, err)
		return
	}

	payload, err := json.Marshal(view)
	if err != nil {
		WriteAppError(w, h.Logger, err)
		return
	}
	etag := viewETag(payload)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(append(payload, '\n')); err != nil {
		return
	}
}

// Stats handles GET /api/analyses/stats.
func (h *AnalysisHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Svc.Stats(r.Context())
	if err != nil {
		WriteAppError(w, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"pending":   stats.Pending,
		"running":   stats.Running,
		"completed": stats.Completed,
		"failed":    stats.Failed,
		"total":     stats.Total(),
	})
}

// authorizeOwner writes 403 when an authenticated caller targets another user's analyses.
// Requests that did not pass through bearer auth are not checked.
func (h *AnalysisHandlers) authorizeOwner(w http.ResponseWriter, r *http.Request, userID string) bool {
	if !h.EnforceOwner {
		return true
	}
	id, ok := IdentityFromContext(r.Context())
	if !ok || id.Owns(strings.TrimSpace(userID)) {
		return true
	}
	WriteError(w, ErrorParams{
		Code:    http.StatusForbidden,
		ErrCode: "forbidden",
		Err:     errors.New("caller may not access analyses of another user"),
	})
	return false
}

// pathParam returns a decoded route parameter. chi routes on the escaped path when the
// request has one, so an owner part containing "/" arrives as "%2F".
func pathParam(r *http.Request, name string) (string, error) {
	v := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return v, nil
	}
	return url.PathUnescape(v)
}

func analysisPath(userID, sessionID string) string {
	return "/api/analyses/" + url.PathEscape(userID) + "/" + url.PathEscape(sessionID)
}

// viewETag is a strong validator over the serialized view.
func viewETag(payload []byte) string {
	sum := blake3.Sum256(payload)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

// etagMatches implements the If-None-Match comparison (weak, list and wildcard forms).
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}
