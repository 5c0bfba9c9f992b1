// internal/auth/service.go
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"bibliopanel/internal/docstore"
	"bibliopanel/internal/logger"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

const issuer = "bibliopanel"

// Service issues and checks admin tokens.
type Service struct {
	store  docstore.Store
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	every    rate.Limit
	burst    int
}

type Option func(*Service)

// WithLoginRate allows perMinute attempts per email with the given burst.
func WithLoginRate(perMinute, burst int) Option {
	return func(s *Service) {
		if perMinute > 0 {
			s.every = rate.Every(time.Minute / time.Duration(perMinute))
		}
		if burst > 0 {
			s.burst = burst
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store docstore.Store, secret string, ttl time.Duration, opts ...Option) *Service {
	s := &Service{
		store:    store,
		secret:   []byte(secret),
		ttl:      ttl,
		now:      time.Now,
		limiters: make(map[string]*rate.Limiter),
		every:    rate.Every(1 * time.Minute / 5),
		burst:    5,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) limiter(email string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[email]
	if !ok {
		l = rate.NewLimiter(s.every, s.burst)
		s.limiters[email] = l
	}
	return l
}

// CreateAdmin registers a librarian account.
func (s *Service) CreateAdmin(ctx context.Context, email, name, password string) (*Admin, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("email and password are required")
	}
	hash, salt, err := hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	admin := &Admin{ID: email, Email: email, Name: strings.TrimSpace(name), CreatedAt: s.now().UTC()}

	err = s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		if _, err := tx.Get(ctx, AdminCollection, email); err == nil {
			return ErrAdminExists
		} else if !errors.Is(err, docstore.ErrNotFound) {
			return err
		}
		return tx.Set(AdminCollection, email, map[string]any{
			"email":        email,
			"name":         admin.Name,
			"passwordHash": hash,
			"salt":         salt,
			"createdAt":    admin.CreatedAt.Format(time.RFC3339Nano),
		})
	})
	if err != nil {
		return nil, err
	}
	logger.Info("admin created", "email", email)
	return admin, nil
}

// Authenticate checks the password and returns a signed token.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*LoginResponse, error) {
	email = normalizeEmail(email)
	if !s.limiter(email).AllowN(s.now(), 1) {
		logger.WarnContext(ctx, "login rate limited", "email", email)
		return nil, ErrRateLimited
	}

	snap, err := s.store.Get(ctx, AdminCollection, email)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load admin: %w", err)
	}
	ok, err := verifyPassword(password, docstore.String(snap.Data, "salt"), docstore.String(snap.Data, "passwordHash"))
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	admin := Admin{
		ID:        snap.ID,
		Email:     email,
		Name:      docstore.String(snap.Data, "name"),
		CreatedAt: docstore.Time(snap.Data, "createdAt"),
	}
	now := s.now()
	expires := now.Add(s.ttl)
	token, err := s.issue(admin, now, expires)
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "admin logged in", "email", email)
	return &LoginResponse{Token: token, ExpiresAt: expires.UTC(), Admin: admin}, nil
}

func (s *Service) issue(admin Admin, now, expires time.Time) (string, error) {
	claims := Claims{
		Email: admin.Email,
		Name:  admin.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   admin.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates a token and returns its claims.
func (s *Service) ParseToken(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}
