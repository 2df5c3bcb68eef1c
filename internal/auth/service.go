// Package auth issues opaque bearer tokens and guards routes with them.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nickigann03/ai-secretary/internal/redis"
)

const redisTokenPrefix = "auth:token:"

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Service issues, validates, and revokes user authentication tokens. Only the
// sha256 digest of a token is stored, in the database and in redis.
type Service struct {
	db             *sqlx.DB
	cache          *redis.Client
	tokenTTL       time.Duration
	cookieName     string
	headerName     string
	csrfCookieName string
	csrfHeaderName string
}

// NewService constructs an auth service with the supplied token lifetime; cache may be nil.
func NewService(db *sqlx.DB, cache *redis.Client, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		db:             db,
		cache:          cache,
		tokenTTL:       ttl,
		cookieName:     "auth_token",
		headerName:     "Authorization",
		csrfCookieName: "csrf_token",
		csrfHeaderName: "X-CSRF-Token",
	}
}

// IssueToken mints a new random token for the user and persists it.
func (s *Service) IssueToken(ctx context.Context, userID int64) (string, error) {
	if userID <= 0 {
		return "", errors.New("invalid user id")
	}
	now := time.Now().UTC()
	expiresAt := now.Add(s.tokenTTL)
	var lastErr error
	for i := 0; i < 5; i++ {
		token, err := generateToken()
		if err != nil {
			return "", err
		}
		digest := hashToken(token)
		_, err = s.db.ExecContext(ctx,
			s.db.Rebind(`INSERT INTO user_tokens (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`),
			digest, userID, now, expiresAt,
		)
		if err == nil {
			s.cacheToken(ctx, digest, userID, s.tokenTTL)
			return token, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("could not issue token: %w", lastErr)
}

// NewCSRFToken returns a random token used for CSRF protection.
func (s *Service) NewCSRFToken() (string, error) {
	return generateToken()
}

// ValidateToken verifies the token exists and has not expired, returning the user id.
func (s *Service) ValidateToken(ctx context.Context, authToken string) (int64, error) {
	if authToken == "" {
		return 0, ErrInvalidToken
	}
	digest := hashToken(authToken)
	if userID, ok := s.cachedToken(ctx, digest); ok {
		return userID, nil
	}
	var row struct {
		UserID  int64     `db:"user_id"`
		Expires time.Time `db:"expires_at"`
	}
	err := s.db.GetContext(ctx, &row,
		s.db.Rebind(`SELECT user_id, expires_at FROM user_tokens WHERE token = ?`), digest)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrInvalidToken
		}
		return 0, fmt.Errorf("lookup token: %w", err)
	}
	remaining := time.Until(row.Expires)
	if remaining <= 0 {
		_, _ = s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM user_tokens WHERE token = ?`), digest)
		return 0, ErrTokenExpired
	}
	s.cacheToken(ctx, digest, row.UserID, remaining)
	return row.UserID, nil
}

// RevokeToken deletes a single token.
func (s *Service) RevokeToken(ctx context.Context, authToken string) error {
	if authToken == "" {
		return nil
	}
	digest := hashToken(authToken)
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM user_tokens WHERE token = ?`), digest); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	if s.cache != nil {
		_ = s.cache.Del(ctx, redisTokenPrefix+digest)
	}
	return nil
}

// RevokeUserTokens removes all tokens belonging to the user.
func (s *Service) RevokeUserTokens(ctx context.Context, userID int64) error {
	if userID <= 0 {
		return nil
	}
	var digests []string
	if s.cache != nil {
		if err := s.db.SelectContext(ctx, &digests, s.db.Rebind(`SELECT token FROM user_tokens WHERE user_id = ?`), userID); err != nil {
			return fmt.Errorf("list user tokens: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM user_tokens WHERE user_id = ?`), userID); err != nil {
		return fmt.Errorf("revoke user tokens: %w", err)
	}
	if len(digests) > 0 {
		keys := make([]string, 0, len(digests))
		for _, d := range digests {
			keys = append(keys, redisTokenPrefix+d)
		}
		_ = s.cache.Del(ctx, keys...)
	}
	return nil
}

// PurgeExpired deletes every expired token row and reports how many went.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM user_tokens WHERE expires_at <= ?`), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge tokens: %w", err)
	}
	return res.RowsAffected()
}

func (s *Service) cacheToken(ctx context.Context, digest string, userID int64, ttl time.Duration) {
	if s.cache == nil || ttl <= 0 {
		return
	}
	_ = s.cache.Set(ctx, redisTokenPrefix+digest, strconv.FormatInt(userID, 10), ttl)
}

func (s *Service) cachedToken(ctx context.Context, digest string) (int64, bool) {
	if s.cache == nil {
		return 0, false
	}
	raw, err := s.cache.Get(ctx, redisTokenPrefix+digest)
	if err != nil {
		return 0, false
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		return 0, false
	}
	return userID, true
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// AuthCookieName returns the cookie name storing auth tokens.
func (s *Service) AuthCookieName() string {
	return s.cookieName
}

func (s *Service) CSRFCookieName() string {
	return s.csrfCookieName
}

func (s *Service) CSRFHeaderName() string {
	return s.csrfHeaderName
}

// TokenTTL reports the configured token lifetime.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}
