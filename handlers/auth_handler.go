package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/keydrop/server/services/auth"
	"github.com/keydrop/server/utils"
	"go.uber.org/zap"
)

// SignupRequest represents a local signup request
type SignupRequest struct {
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=8"`
	PasswordConfirm string `json:"passwordConfirm" validate:"required"`
	Nickname        string `json:"nickname" validate:"required,max=30"`
	BirthDate       string `json:"birthDate" validate:"required,datetime=2006-01-02"`
	DJLevel         string `json:"djLevel" validate:"required,oneof=BEGINNER AMATEUR PRO"`
}

// LoginRequest represents a local login request
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// GoogleLoginRequest carries the Google-issued ID token
type GoogleLoginRequest struct {
	Credential string `json:"credential" validate:"required"`
}

// CompleteProfileRequest finishes a federated signup. The signup token
// comes from the preceding google login response.
type CompleteProfileRequest struct {
	SignupToken string `json:"signupToken" validate:"required"`
	Nickname    string `json:"nickname" validate:"required,max=30"`
	BirthDate   string `json:"birthDate" validate:"required,datetime=2006-01-02"`
	DJLevel     string `json:"djLevel" validate:"required,oneof=BEGINNER AMATEUR PRO"`
}

// AuthService defines the auth operations the handler depends on
type AuthService interface {
	LocalSignup(ctx context.Context, in auth.SignupInput) (*auth.TokenResult, error)
	LocalLogin(ctx context.Context, in auth.LoginInput) (*auth.TokenResult, error)
	GoogleLogin(ctx context.Context, credential string) (*auth.TokenResult, error)
	CompleteProfile(ctx context.Context, signupToken string, in auth.ProfileInput) (*auth.TokenResult, error)
}

// AuthHandler handles authentication HTTP requests
type AuthHandler struct {
	service AuthService
	logger  *zap.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		service: service,
		logger:  logger,
	}
}

// HandleSignup handles POST /api/auth/signup
func (h *AuthHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	result, err := h.service.LocalSignup(r.Context(), auth.SignupInput{
		Email:           req.Email,
		Password:        req.Password,
		PasswordConfirm: req.PasswordConfirm,
		Nickname:        req.Nickname,
		BirthDate:       req.BirthDate,
		DJLevel:         req.DJLevel,
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteCreated(w, result)
}

// HandleLogin handles POST /api/auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	result, err := h.service.LocalLogin(r.Context(), auth.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, result)
}

// HandleGoogleLogin handles POST /api/auth/google
func (h *AuthHandler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	var req GoogleLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	result, err := h.service.GoogleLogin(r.Context(), req.Credential)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, result)
}

// HandleCompleteProfile handles POST /api/auth/complete-profile
func (h *AuthHandler) HandleCompleteProfile(w http.ResponseWriter, r *http.Request) {
	var req CompleteProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	result, err := h.service.CompleteProfile(r.Context(), req.SignupToken, auth.ProfileInput{
		Nickname:  req.Nickname,
		BirthDate: req.BirthDate,
		DJLevel:   req.DJLevel,
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteCreated(w, result)
}
