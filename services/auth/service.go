package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/keydrop/server/credentials"
	"github.com/keydrop/server/google"
	"github.com/keydrop/server/models"
	"github.com/keydrop/server/repositories"
	"github.com/keydrop/server/services"
	"github.com/keydrop/server/token"
	"go.uber.org/zap"
)

// AssertionVerifier validates a raw Google ID token. The call performs
// network I/O with a bounded timeout and is never retried here: retrying a
// forged assertion gains nothing.
type AssertionVerifier interface {
	VerifyAssertion(ctx context.Context, rawIDToken string) (*google.Assertion, error)
}

// Config holds token lifetimes for the auth flows
type Config struct {
	AccessTokenTTL time.Duration
	SignupTokenTTL time.Duration
}

// Service orchestrates the signup and login flows. It is the only component
// that decides when a user row is created: immediately for local signups,
// and at profile completion for Google signups.
type Service struct {
	users    repositories.UserRepository
	txm      repositories.TransactionManager
	hasher   credentials.Hasher
	codec    *token.Codec
	verifier AssertionVerifier
	cfg      Config
	logger   *zap.Logger
}

// NewService creates the auth service
func NewService(
	users repositories.UserRepository,
	txm repositories.TransactionManager,
	hasher credentials.Hasher,
	codec *token.Codec,
	verifier AssertionVerifier,
	cfg Config,
	logger *zap.Logger,
) *Service {
	return &Service{
		users:    users,
		txm:      txm,
		hasher:   hasher,
		codec:    codec,
		verifier: verifier,
		cfg:      cfg,
		logger:   logger,
	}
}

// SignupInput is a local signup request
type SignupInput struct {
	Email           string
	Password        string
	PasswordConfirm string
	Nickname        string
	BirthDate       string
	DJLevel         string
}

// LoginInput is a local login request
type LoginInput struct {
	Email    string
	Password string
}

// ProfileInput carries the required profile fields for completion
type ProfileInput struct {
	Nickname  string
	BirthDate string
	DJLevel   string
}

// TokenResult is the outcome of any auth flow. Exactly one of AccessToken or
// SignupToken is set: an access token means the flow is done, a signup token
// means the client must complete the profile first.
type TokenResult struct {
	AccessToken string `json:"accessToken,omitempty"`
	SignupToken string `json:"signupToken,omitempty"`
	Email       string `json:"email,omitempty"`
	IsNewUser   bool   `json:"isNewUser"`
}

// LocalSignup registers a LOCAL account. The credential and profile arrive
// atomically, so the row is inserted immediately and an access token returned.
func (s *Service) LocalSignup(ctx context.Context, in SignupInput) (*TokenResult, error) {
	if in.Password != in.PasswordConfirm {
		return nil, services.ErrPasswordMismatch
	}
	if in.Nickname == "" || in.BirthDate == "" || in.DJLevel == "" {
		return nil, services.ErrIncompleteProfile
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		if errors.Is(err, credentials.ErrPasswordTooShort) {
			return nil, services.NewDomainError(services.ErrorTypeValidation, "password too short", err)
		}
		return nil, services.WrapInternal("hash password", err)
	}

	var user *models.User
	err = s.txm.InTransaction(ctx, func(txCtx context.Context, _ repositories.Transaction) error {
		exists, err := s.users.ExistsByEmail(txCtx, in.Email)
		if err != nil {
			return services.WrapInternal("check email", err)
		}
		if exists {
			return services.ErrEmailTaken
		}

		user = models.NewLocalUser(in.Email, hash, in.Nickname, in.BirthDate, in.DJLevel)
		return s.users.Create(txCtx, user)
	})
	if err != nil {
		// the unique index closes the window between check and insert
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, services.ErrEmailTaken
		}
		var domainErr *services.DomainError
		if errors.As(err, &domainErr) {
			return nil, err
		}
		return nil, services.WrapInternal("create user", err)
	}

	s.logger.Info("local signup completed", zap.String("user_id", user.ID.String()))
	return s.accessResult(user)
}

// LocalLogin authenticates a LOCAL account. Every failure mode returns the
// same unauthorized error so the response does not reveal which check failed.
func (s *Service) LocalLogin(ctx context.Context, in LoginInput) (*TokenResult, error) {
	user, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrInvalidCredentials
		}
		return nil, services.WrapInternal("load user", err)
	}

	if user.Provider != models.ProviderLocal {
		s.logger.Debug("local login against federated account",
			zap.String("provider", string(user.Provider)))
		return nil, services.ErrInvalidCredentials
	}

	if user.PasswordHash == nil || !s.hasher.Matches(in.Password, *user.PasswordHash) {
		return nil, services.ErrInvalidCredentials
	}

	return s.accessResult(user)
}

// GoogleLogin verifies a Google ID token and resolves it to one of three
// outcomes: an access token for a known complete account, a signup-pending
// token for a known incomplete account, or a pre-signup token for an unknown
// identity. An unknown identity never causes a row to be created here; an
// abandoned signup leaves no orphan account.
func (s *Service) GoogleLogin(ctx context.Context, credential string) (*TokenResult, error) {
	assertion, err := s.verifier.VerifyAssertion(ctx, credential)
	if err != nil {
		s.logger.Warn("google assertion rejected", zap.Error(err))
		return nil, services.ErrInvalidAssertion
	}

	user, err := s.users.GetByProviderAndProviderID(ctx, models.ProviderGoogle, assertion.ProviderID)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return nil, services.WrapInternal("load user", err)
	}

	if user != nil {
		if user.ProfileComplete() {
			return s.accessResult(user)
		}

		// row exists but the profile never got finished; bind completion to it
		signupToken, err := s.codec.Issue(user.ID.String(), token.TypeSignupPending,
			token.Extra{Email: user.Email}, s.cfg.SignupTokenTTL)
		if err != nil {
			return nil, services.WrapInternal("issue signup token", err)
		}
		return &TokenResult{SignupToken: signupToken, Email: user.Email, IsNewUser: true}, nil
	}

	// never-seen identity: refuse if the email already belongs to another
	// provider, otherwise hand back a pre-signup token and persist nothing
	existing, err := s.users.GetByEmail(ctx, assertion.Email)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return nil, services.WrapInternal("check email", err)
	}
	if existing != nil {
		return nil, services.ErrEmailTaken.WithDetail("provider", string(existing.Provider))
	}

	preSignup, err := s.codec.Issue(assertion.Email, token.TypePreSignup,
		token.Extra{Email: assertion.Email, ProviderID: assertion.ProviderID}, s.cfg.SignupTokenTTL)
	if err != nil {
		return nil, services.WrapInternal("issue pre-signup token", err)
	}

	s.logger.Info("google pre-signup issued", zap.String("email", assertion.Email))
	return &TokenResult{SignupToken: preSignup, Email: assertion.Email, IsNewUser: true}, nil
}

// CompleteProfile finishes a Google signup. The token's discriminated type
// selects the path: a pre-signup token creates the row (the only creation
// point for federated accounts), a signup-pending token updates an existing
// one. Any other type is a mismatch, never reinterpreted.
func (s *Service) CompleteProfile(ctx context.Context, raw string, in ProfileInput) (*TokenResult, error) {
	if in.Nickname == "" || in.BirthDate == "" || in.DJLevel == "" {
		return nil, services.ErrIncompleteProfile
	}

	decoded, err := s.codec.Parse(raw)
	if err != nil {
		s.logger.Warn("profile completion with unparseable token", zap.Error(err))
		return nil, services.ErrInvalidToken
	}

	switch decoded.Type {
	case token.TypePreSignup:
		return s.completeFromPreSignup(ctx, decoded, in)
	case token.TypeSignupPending:
		return s.completeFromSignupPending(ctx, decoded, in)
	case token.TypeAccess:
		s.logger.Warn("profile completion with access token")
		return nil, services.ErrTokenTypeMismatch
	default:
		return nil, services.ErrTokenTypeMismatch
	}
}

// completeFromPreSignup inserts the account carried by a pre-signup token.
// The email uniqueness pre-check is a fast fail; the storage unique index is
// the arbiter when two completions for the same email race.
func (s *Service) completeFromPreSignup(ctx context.Context, decoded *token.Decoded, in ProfileInput) (*TokenResult, error) {
	email := decoded.Subject

	var user *models.User
	err := s.txm.InTransaction(ctx, func(txCtx context.Context, _ repositories.Transaction) error {
		exists, err := s.users.ExistsByEmail(txCtx, email)
		if err != nil {
			return services.WrapInternal("check email", err)
		}
		if exists {
			return services.ErrEmailTaken
		}

		user = models.NewGoogleUser(email, decoded.ProviderID, in.Nickname, in.BirthDate, in.DJLevel)
		return s.users.Create(txCtx, user)
	})
	if err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, services.ErrEmailTaken
		}
		var domainErr *services.DomainError
		if errors.As(err, &domainErr) {
			return nil, err
		}
		return nil, services.WrapInternal("create user", err)
	}

	s.logger.Info("google signup completed",
		zap.String("user_id", user.ID.String()))
	return s.accessResult(user)
}

// completeFromSignupPending updates the existing account a signup-pending
// token is bound to
func (s *Service) completeFromSignupPending(ctx context.Context, decoded *token.Decoded, in ProfileInput) (*TokenResult, error) {
	id, err := uuid.Parse(decoded.Subject)
	if err != nil {
		return nil, services.ErrInvalidToken
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrUserNotFound
		}
		return nil, services.WrapInternal("load user", err)
	}

	user.CompleteProfile(in.Nickname, in.BirthDate, in.DJLevel)
	if err := s.users.Update(ctx, user); err != nil {
		return nil, services.WrapInternal("update user", err)
	}

	s.logger.Info("profile completed", zap.String("user_id", user.ID.String()))
	return s.accessResult(user)
}

// ValidateAccess extracts the verified user ID from an access token. It is
// pure verification: no side effects, safe to call on every request. All
// failures collapse to unauthorized for the caller; the specific reason is
// only logged.
func (s *Service) ValidateAccess(ctx context.Context, raw string) (uuid.UUID, error) {
	decoded, err := s.codec.Verify(raw, token.TypeAccess)
	if err != nil {
		if token.IsTypeMismatch(err) {
			s.logger.Warn("non-access token presented for access", zap.Error(err))
			return uuid.Nil, services.ErrTokenTypeMismatch
		}
		return uuid.Nil, services.ErrInvalidToken
	}

	id, err := uuid.Parse(decoded.Subject)
	if err != nil {
		return uuid.Nil, services.ErrInvalidToken
	}
	return id, nil
}

// GetUser loads a user by ID for profile display
func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrUserNotFound
		}
		return nil, services.WrapInternal("load user", err)
	}
	return user, nil
}

// accessResult issues an access token for the user
func (s *Service) accessResult(user *models.User) (*TokenResult, error) {
	access, err := s.codec.Issue(user.ID.String(), token.TypeAccess,
		token.Extra{Email: user.Email}, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, services.WrapInternal("issue access token", err)
	}
	return &TokenResult{AccessToken: access, Email: user.Email}, nil
}
