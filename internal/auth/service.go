// Package auth signs users in and out and verifies session tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/vietddude/mealog/internal/core/domain"
	"github.com/vietddude/mealog/internal/infra/retry"
	"github.com/vietddude/mealog/internal/infra/storage"
)

// RevocationStore remembers signed-out tokens until they expire.
type RevocationStore interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Config holds the signing secrets and token lifetime.
type Config struct {
	JWTSecret         string        `yaml:"jwt_secret"`
	CustomTokenSecret string        `yaml:"custom_token_secret"`
	TokenTTL          time.Duration `yaml:"token_ttl"`
}

const defaultTokenTTL = 72 * time.Hour

// Token is an issued session token.
type Token struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	Identity  domain.Identity `json:"identity"`
}

type claims struct {
	Email     string `json:"email,omitempty"`
	Anonymous bool   `json:"anon,omitempty"`
	jwt.RegisteredClaims
}

// Service issues and verifies session tokens.
type Service struct {
	cfg     Config
	users   storage.UserRepository
	revoked RevocationStore
	policy  retry.Policy
	now     func() time.Time
	log     *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock used for token timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRetryPolicy sets the policy for account and revocation store calls.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) { s.log = log }
}

func NewService(cfg Config, users storage.UserRepository, revoked RevocationStore, opts ...Option) *Service {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	s := &Service{
		cfg:     cfg,
		users:   users,
		revoked: revoked,
		policy:  retry.DefaultPolicy,
		now:     time.Now,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.policy.Logger == nil {
		s.policy.Logger = s.log
	}
	return s
}

// SignUp creates an email/password account and signs it in.
func (s *Service) SignUp(ctx context.Context, email, password string) (*Token, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &domain.User{
		ID:           domain.OwnerID(uuid.NewString()),
		Email:        email,
		PasswordHash: string(hash),
	}

	err = retry.Run(ctx, s.policy, "create_user", func(ctx context.Context) error {
		return s.users.Create(ctx, user)
	})
	if storage.KindOf(err) == storage.KindAlreadyExists {
		return nil, ErrEmailInUse
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.log.Info("Account created", "owner", user.ID)
	return s.issue(domain.Identity{OwnerID: user.ID, Email: user.Email})
}

// SignIn checks an email/password pair.
func (s *Service) SignIn(ctx context.Context, email, password string) (*Token, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}

	user, err := retry.Do(ctx, s.policy, "get_user", func(ctx context.Context) (*domain.User, error) {
		return s.users.GetByEmail(ctx, email)
	})
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	if user.Disabled {
		return nil, ErrUserDisabled
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrWrongPassword
	}

	return s.issue(domain.Identity{OwnerID: user.ID, Email: user.Email})
}

// SignInAnonymously issues a token for a fresh anonymous identity.
func (s *Service) SignInAnonymously(ctx context.Context) (*Token, error) {
	return s.issue(domain.Identity{
		OwnerID:   domain.OwnerID(uuid.NewString()),
		Anonymous: true,
	})
}

// SignInWithToken exchanges a custom token minted by a trusted backend for a
// session token. The custom token's subject becomes the owner.
func (s *Service) SignInWithToken(ctx context.Context, customToken string) (*Token, error) {
	if s.cfg.CustomTokenSecret == "" {
		return nil, fmt.Errorf("%w: custom tokens are not enabled", ErrInvalidToken)
	}
	c, err := parse(customToken, s.cfg.CustomTokenSecret, s.now)
	if err != nil {
		return nil, err
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return s.issue(domain.Identity{OwnerID: domain.OwnerID(c.Subject), Email: c.Email})
}

// SignOut revokes token. Signing out an already invalid token is not an error.
func (s *Service) SignOut(ctx context.Context, token string) error {
	c, err := parse(token, s.cfg.JWTSecret, s.now)
	if err != nil {
		return nil
	}
	if c.ID == "" || c.ExpiresAt == nil {
		return nil
	}

	err = retry.Run(ctx, s.policy, "revoke_token", func(ctx context.Context) error {
		return s.revoked.Revoke(ctx, c.ID, c.ExpiresAt.Time)
	})
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}

	s.log.Info("Signed out", "owner", c.Subject)
	return nil
}

// Verify checks a session token and returns the identity it carries.
func (s *Service) Verify(ctx context.Context, token string) (domain.Identity, error) {
	c, err := parse(token, s.cfg.JWTSecret, s.now)
	if err != nil {
		return domain.Identity{}, err
	}
	if c.Subject == "" {
		return domain.Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	if c.ID != "" {
		revoked, err := retry.Do(ctx, s.policy, "is_revoked", func(ctx context.Context) (bool, error) {
			return s.revoked.IsRevoked(ctx, c.ID)
		})
		if err != nil {
			return domain.Identity{}, fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return domain.Identity{}, ErrTokenRevoked
		}
	}

	return domain.Identity{
		OwnerID:   domain.OwnerID(c.Subject),
		Email:     c.Email,
		Anonymous: c.Anonymous,
	}, nil
}

func (s *Service) issue(id domain.Identity) (*Token, error) {
	now := s.now()
	exp := now.Add(s.cfg.TokenTTL)
	c := claims{
		Email:     id.Email,
		Anonymous: id.Anonymous,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(id.OwnerID),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Token{Token: signed, ExpiresAt: exp, Identity: id}, nil
}

func parse(token, secret string, now func() time.Time) (*claims, error) {
	c := &claims{}
	_, err := jwt.ParseWithClaims(token, c,
		func(t *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: expired", ErrInvalidToken)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return c, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}
