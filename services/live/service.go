// Package live issues room capability tokens for the media server.
//
// A capability token is an HS256 JWT the media infrastructure verifies on
// its own; this service never sees the token again after minting it. The
// grant embedded in the token decides what the holder may do in the room:
// DJs publish, everyone subscribes.
package live

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/keydrop/server/services"
	"go.uber.org/zap"
)

// Role is a participant role inside a live room.
type Role string

const (
	RoleDJ     Role = "DJ"
	RoleViewer Role = "VIEWER"
)

const defaultRoom = "default"

// Config carries the media-server credentials and token lifetime.
type Config struct {
	URL       string
	APIKey    string
	APISecret string
	TokenTTL  time.Duration
}

// TokenRequest describes a join request. All fields are optional: a blank
// role means viewer, a blank room means the shared default room, a blank
// identity gets a generated one.
type TokenRequest struct {
	Room     string `json:"room"`
	Identity string `json:"identity"`
	Role     string `json:"role"`
}

// TokenResult is the minted capability token plus the coordinates the
// client needs to join.
type TokenResult struct {
	Token    string `json:"token"`
	URL      string `json:"url"`
	Room     string `json:"room"`
	Identity string `json:"identity"`
	Role     string `json:"role"`
}

// videoGrant mirrors the media server's grant claim layout.
type videoGrant struct {
	Room         string `json:"room"`
	RoomJoin     bool   `json:"roomJoin"`
	CanPublish   bool   `json:"canPublish"`
	CanSubscribe bool   `json:"canSubscribe"`
}

type capabilityClaims struct {
	jwt.RegisteredClaims
	Name  string     `json:"name"`
	Video videoGrant `json:"video"`
}

// Service mints capability tokens.
type Service struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates the live token service
func NewService(cfg Config, logger *zap.Logger) *Service {
	return &Service{cfg: cfg, logger: logger, now: time.Now}
}

// IssueToken normalizes the request and mints a room token. The role gate
// is the only authorization decision here: publishing is a DJ capability,
// subscribing is universal.
func (s *Service) IssueToken(req TokenRequest) (*TokenResult, error) {
	if s.cfg.APIKey == "" || s.cfg.APISecret == "" {
		s.logger.Error("live token requested without media credentials configured")
		return nil, services.NewDomainError(services.ErrorTypeInternal, "live tokens unavailable", nil)
	}

	role, err := normalizeRole(req.Role)
	if err != nil {
		return nil, err
	}

	room := strings.TrimSpace(req.Room)
	if room == "" {
		room = defaultRoom
	}

	identity := strings.TrimSpace(req.Identity)
	if identity == "" {
		identity = strings.ToLower(string(role)) + "-" + uuid.New().String()
	}

	now := s.now()
	claims := capabilityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.APIKey,
			Subject:   identity,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
		},
		Name: identity,
		Video: videoGrant{
			Room:         room,
			RoomJoin:     true,
			CanPublish:   role == RoleDJ,
			CanSubscribe: true,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.APISecret))
	if err != nil {
		return nil, services.WrapInternal("sign capability token", err)
	}

	s.logger.Info("capability token issued",
		zap.String("room", room),
		zap.String("identity", identity),
		zap.String("role", string(role)))

	return &TokenResult{
		Token:    signed,
		URL:      s.cfg.URL,
		Room:     room,
		Identity: identity,
		Role:     string(role),
	}, nil
}

// normalizeRole maps free-form input onto a known role. Blank input is a
// viewer; anything else unrecognized is rejected rather than silently
// downgraded.
func normalizeRole(raw string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(raw))) {
	case "":
		return RoleViewer, nil
	case RoleDJ:
		return RoleDJ, nil
	case RoleViewer:
		return RoleViewer, nil
	default:
		return "", services.ErrUnknownRole.WithDetail("role", raw)
	}
}
