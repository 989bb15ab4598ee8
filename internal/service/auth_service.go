package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
)

// Auth errors.
var (
	ErrInvalidToken    = errors.New("invalid token")
	ErrTokenSuperseded = errors.New("token superseded by a newer login")
)

// Role distinguishes candidate vs admin tokens.
type Role string

const (
	RoleCandidate Role = "candidate"
	RoleAdmin     Role = "admin"
)

// Claims extends JWT standard claims with the subject's role.
type Claims struct {
	jwt.RegisteredClaims
	Role Role `json:"role"`
}

// AuthService issues and verifies tokens. It does not handle credentials;
// whoever holds the signing secret is the identity provider.
type AuthService struct {
	cfg *config.Config
	rdb *redis.Client
	now func() time.Time
}

// NewAuthService creates a new AuthService. rdb may be nil, which disables
// the single-device check.
func NewAuthService(cfg *config.Config, rdb *redis.Client) *AuthService {
	return &AuthService{cfg: cfg, rdb: rdb, now: time.Now}
}

// IssueToken signs a token for subjectID. For candidates the token id is
// registered in Redis so that only the most recent token stays valid.
func (s *AuthService) IssueToken(ctx context.Context, subjectID string, role Role) (string, error) {
	if subjectID == "" {
		return "", errors.New("subject id is required")
	}
	jti := uuid.New().String()
	now := s.now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		Role: role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	if role == RoleCandidate && s.rdb != nil {
		key := config.CacheKey.SubjectTokenKey(subjectID)
		if err := s.rdb.Set(ctx, key, jti, s.cfg.JWTExpiry).Err(); err != nil {
			return "", fmt.Errorf("store token id: %w", err)
		}
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	switch claims.Role {
	case RoleCandidate, RoleAdmin:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	return claims, nil
}

// ValidateSubjectSession checks that jti is the subject's latest token.
func (s *AuthService) ValidateSubjectSession(ctx context.Context, subjectID, jti string) error {
	if s.rdb == nil {
		return nil
	}
	stored, err := s.rdb.Get(ctx, config.CacheKey.SubjectTokenKey(subjectID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrTokenSuperseded
		}
		return fmt.Errorf("check token id: %w", err)
	}
	if stored != jti {
		return ErrTokenSuperseded
	}
	return nil
}

// RevokeSubject invalidates every outstanding candidate token of a subject.
func (s *AuthService) RevokeSubject(ctx context.Context, subjectID string) error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Del(ctx, config.CacheKey.SubjectTokenKey(subjectID)).Err()
}
