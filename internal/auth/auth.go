// Package auth exchanges API keys and bootstrap passwords for short-lived
// session tokens, and validates those tokens on subsequent requests.
package auth

import (
	"context"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/geodepot/geodepot/internal/apierror"
	"github.com/geodepot/geodepot/internal/services/meta"
	"github.com/geodepot/geodepot/internal/services/scope"
	"github.com/geodepot/geodepot/internal/services/user"
	"github.com/geodepot/geodepot/pkg/logger"
)

const defaultSessionTTL = 12 * time.Hour

// Config carries the session signing material.
type Config struct {
	// SigningKey is the HMAC secret for session tokens. Required.
	SigningKey []byte
	// SessionTTL bounds session lifetime. Zero means the default.
	SessionTTL time.Duration
	// Issuer is recorded in and required of every token.
	Issuer string
}

// Service issues and validates sessions.
type Service struct {
	users      *user.Service
	scopes     *scope.Service
	metas      *meta.Service
	signingKey []byte
	sessionTTL time.Duration
	issuer     string
	logger     *logger.Logger
}

func NewService(users *user.Service, scopes *scope.Service, metas *meta.Service, cfg Config, logger *logger.Logger) *Service {
	ttl := cfg.SessionTTL
	if ttl == 0 {
		ttl = defaultSessionTTL
	}
	return &Service{
		users:      users,
		scopes:     scopes,
		metas:      metas,
		signingKey: cfg.SigningKey,
		sessionTTL: ttl,
		issuer:     cfg.Issuer,
		logger:     logger,
	}
}

// LoginWithAPIKey validates an API key and issues a session token for its
// owner.
func (s *Service) LoginWithAPIKey(ctx context.Context, rawKey string) (string, *user.User, error) {
	u, err := s.users.AuthenticateAPIKey(ctx, rawKey)
	if err != nil {
		return "", nil, err
	}
	token, err := issueToken(s.signingKey, s.issuer, s.sessionTTL, u.ID, time.Now())
	if err != nil {
		return "", nil, err
	}
	return token, u, nil
}

// LoginWithPassword validates a bootstrap account's password and issues a
// session token. Accounts without a password always fail.
func (s *Service) LoginWithPassword(ctx context.Context, email, password string) (string, *user.User, error) {
	u, hash, err := s.users.GetPasswordHash(ctx, email)
	if err != nil {
		if apierror.IsKind(err, apierror.KindNotFound) {
			return "", nil, apierror.PermissionDenied("invalid credentials")
		}
		return "", nil, err
	}
	if len(hash) == 0 {
		return "", nil, apierror.PermissionDenied("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return "", nil, apierror.PermissionDenied("invalid credentials")
	}
	token, err := issueToken(s.signingKey, s.issuer, s.sessionTTL, u.ID, time.Now())
	if err != nil {
		return "", nil, err
	}
	return token, u, nil
}

// ValidateSession parses a session token and resolves its user.
func (s *Service) ValidateSession(ctx context.Context, token string) (*user.User, error) {
	userID, err := parseToken(s.signingKey, s.issuer, token)
	if err != nil {
		return nil, err
	}
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		if apierror.IsKind(err, apierror.KindNotFound) {
			return nil, apierror.PermissionDenied("session user no longer exists")
		}
		return nil, err
	}
	return u, nil
}

// Bootstrap ensures an admin account exists with the given credentials and
// every scope. Idempotent: an existing account keeps its password.
func (s *Service) Bootstrap(ctx context.Context, name, email, password string) (*user.User, error) {
	if existing, err := s.users.GetByEmail(ctx, email); err == nil {
		return existing, nil
	} else if !apierror.IsKind(err, apierror.KindNotFound) {
		return nil, err
	}

	u, err := s.users.Create(ctx, name, email)
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apierror.Internal(err, "failed to hash bootstrap password")
	}
	if err := s.users.SetPasswordHash(ctx, u.ID, hash); err != nil {
		return nil, err
	}
	m, err := s.metas.Create(ctx, "admin bootstrap", u.ID)
	if err != nil {
		return nil, err
	}
	if err := s.scopes.Grant(ctx, u.ID, scope.Grant{Scope: scope.All}, m.ID); err != nil {
		return nil, err
	}
	s.logger.Infof("Bootstrapped admin account %s", email)
	return u, nil
}

func issueToken(key []byte, issuer string, ttl time.Duration, userID int64, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", apierror.Internal(err, "failed to sign session token")
	}
	return token, nil
}

func parseToken(key []byte, issuer, raw string) (int64, error) {
	parsed, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (interface{}, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return 0, apierror.PermissionDenied("invalid session token")
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return 0, apierror.PermissionDenied("invalid session token")
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, apierror.PermissionDenied("invalid session token")
	}
	return userID, nil
}
