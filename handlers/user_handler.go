package handlers

import (
	"context"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/keydrop/server/middleware"
	"github.com/keydrop/server/models"
	"github.com/keydrop/server/utils"
	"go.uber.org/zap"
)

// UserService defines the user operations the handler depends on
type UserService interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// UserHandler handles user HTTP requests
type UserHandler struct {
	service UserService
	logger  *zap.Logger
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(service UserService, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		service: service,
		logger:  logger,
	}
}

// HandleMe handles GET /api/users/me
func (h *UserHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := middleware.GetUserIDFromContext(ctx)
	if userID == uuid.Nil {
		h.logger.Error("missing user ID in context",
			zap.String("request_id", chimiddleware.GetReqID(ctx)))
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	user, err := h.service.GetUser(ctx, userID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, user)
}
