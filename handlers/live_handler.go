package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/keydrop/server/middleware"
	"github.com/keydrop/server/services/live"
	"github.com/keydrop/server/utils"
	"go.uber.org/zap"
)

// LiveService defines the live token operations the handler depends on
type LiveService interface {
	IssueToken(req live.TokenRequest) (*live.TokenResult, error)
}

// LiveHandler handles live room token HTTP requests
type LiveHandler struct {
	service LiveService
	logger  *zap.Logger
}

// NewLiveHandler creates a new LiveHandler
func NewLiveHandler(service LiveService, logger *zap.Logger) *LiveHandler {
	return &LiveHandler{
		service: service,
		logger:  logger,
	}
}

// HandleToken handles POST /api/live/token. All fields are optional; an
// empty body yields a viewer token for the default room. The endpoint is
// open to anonymous callers; when an authenticated user omits the identity,
// their user ID is used instead of a generated one.
func (h *LiveHandler) HandleToken(w http.ResponseWriter, r *http.Request) {
	var req live.TokenRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			_ = utils.WriteBadRequest(w, "Invalid request body", nil)
			return
		}
	}

	if req.Identity == "" {
		if userID := middleware.GetUserIDFromContext(r.Context()); userID != uuid.Nil {
			req.Identity = userID.String()
		}
	}

	result, err := h.service.IssueToken(req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, result)
}
