// Package users implements account signup, login sessions and API keys.
// Login issues an HS256 JWT and records a session row keyed by the token's
// sha256 digest; authentication requires both a valid signature and a live
// session, so logout and revocation take effect immediately.
package users

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/appforge-labs/appforge/internal/app/domain/user"
	"github.com/appforge-labs/appforge/internal/app/storage"
	"github.com/appforge-labs/appforge/internal/config"
	apperrors "github.com/appforge-labs/appforge/internal/errors"
	"github.com/appforge-labs/appforge/pkg/logger"
)

const tokenIssuer = "appforge"

// Claims carries the authenticated identity inside issued tokens.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Service manages accounts and the credentials that authenticate them.
type Service struct {
	users    storage.UserStore
	sessions storage.SessionStore
	keys     storage.APIKeyStore
	cfg      config.AuthConfig
	log      *logger.Logger
}

// New creates a user service.
func New(users storage.UserStore, sessions storage.SessionStore, keys storage.APIKeyStore, cfg config.AuthConfig, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("users")
	}
	return &Service{users: users, sessions: sessions, keys: keys, cfg: cfg, log: log}
}

// Signup registers an account and logs it straight in, returning the user
// and a session token.
func (s *Service) Signup(ctx context.Context, username, email, password string) (user.User, string, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if username == "" {
		return user.User{}, "", apperrors.InvalidRequest("username is required")
	}
	if email == "" || !strings.Contains(email, "@") {
		return user.User{}, "", apperrors.InvalidRequest("a valid email is required")
	}
	if len(password) < 8 {
		return user.User{}, "", apperrors.InvalidRequest("password must be at least 8 characters")
	}
	if _, err := s.users.GetUserByUsername(ctx, username); err == nil {
		return user.User{}, "", apperrors.Conflict("username is already taken")
	}
	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return user.User{}, "", apperrors.Conflict("email is already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost())
	if err != nil {
		return user.User{}, "", fmt.Errorf("hash password: %w", err)
	}

	u, err := s.users.CreateUser(ctx, user.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
	})
	if err != nil {
		return user.User{}, "", fmt.Errorf("create user: %w", err)
	}

	token, err := s.issueToken(ctx, u)
	if err != nil {
		return user.User{}, "", err
	}
	s.log.WithFields(logger.Fields{"user_id": u.ID, "username": u.Username}).Info("user registered")
	return u, token, nil
}

// Login verifies the password and issues a fresh token and session.
func (s *Service) Login(ctx context.Context, username, password string) (user.User, string, error) {
	u, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return user.User{}, "", apperrors.Unauthorized("Invalid username or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return user.User{}, "", apperrors.Unauthorized("Invalid username or password")
	}

	token, err := s.issueToken(ctx, u)
	if err != nil {
		return user.User{}, "", err
	}
	s.log.WithField("user_id", u.ID).Info("user logged in")
	return u, token, nil
}

// Logout revokes the session behind the token. Unknown tokens are ignored so
// logout never fails the client.
func (s *Service) Logout(ctx context.Context, token string) error {
	sess, err := s.sessions.GetSessionByTokenHash(ctx, hashToken(token))
	if err != nil {
		return nil
	}
	if err := s.sessions.RevokeSession(ctx, sess.ID); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	s.log.WithField("user_id", sess.UserID).Info("user logged out")
	return nil
}

// Authenticate resolves a bearer token to its user. The token must verify
// and its session must still be live.
func (s *Service) Authenticate(ctx context.Context, token string) (user.User, error) {
	claims, err := s.parseToken(token)
	if err != nil {
		return user.User{}, err
	}

	sess, err := s.sessions.GetSessionByTokenHash(ctx, hashToken(token))
	if err != nil || !sess.Active(time.Now().UTC()) {
		return user.User{}, apperrors.Unauthorized("Session expired")
	}

	u, err := s.users.GetUser(ctx, claims.UserID)
	if err != nil {
		return user.User{}, apperrors.Unauthorized("")
	}
	return u, nil
}

// AuthenticateAPIKey resolves an API key to its user and stamps the key's
// last use.
func (s *Service) AuthenticateAPIKey(ctx context.Context, key string) (user.User, error) {
	rec, err := s.keys.GetAPIKeyByHash(ctx, hashToken(key))
	if err != nil || rec.RevokedAt != nil {
		return user.User{}, apperrors.Unauthorized("Invalid API key")
	}
	if err := s.keys.TouchAPIKey(ctx, rec.ID, time.Now().UTC()); err != nil {
		s.log.WithError(err).WithField("key_id", rec.ID).Debug("could not stamp api key use")
	}

	u, err := s.users.GetUser(ctx, rec.UserID)
	if err != nil {
		return user.User{}, apperrors.Unauthorized("Invalid API key")
	}
	return u, nil
}

// Profile returns the account behind userID.
func (s *Service) Profile(ctx context.Context, userID string) (user.User, error) {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return user.User{}, apperrors.NotFound("User")
	}
	return u, nil
}

// ProfileInput patches an account. Nil fields are left unchanged.
type ProfileInput struct {
	Username *string
	Email    *string
}

// UpdateProfile changes the account's username or email, keeping both
// unique.
func (s *Service) UpdateProfile(ctx context.Context, userID string, in ProfileInput) (user.User, error) {
	u, err := s.Profile(ctx, userID)
	if err != nil {
		return user.User{}, err
	}

	if in.Username != nil {
		username := strings.TrimSpace(*in.Username)
		if username == "" {
			return user.User{}, apperrors.InvalidRequest("username cannot be empty")
		}
		if username != u.Username {
			if other, err := s.users.GetUserByUsername(ctx, username); err == nil && other.ID != u.ID {
				return user.User{}, apperrors.Conflict("username is already taken")
			}
			u.Username = username
		}
	}
	if in.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*in.Email))
		if email == "" || !strings.Contains(email, "@") {
			return user.User{}, apperrors.InvalidRequest("a valid email is required")
		}
		if email != u.Email {
			if other, err := s.users.GetUserByEmail(ctx, email); err == nil && other.ID != u.ID {
				return user.User{}, apperrors.Conflict("email is already registered")
			}
			u.Email = email
		}
	}

	updated, err := s.users.UpdateUser(ctx, u)
	if err != nil {
		return user.User{}, fmt.Errorf("update user: %w", err)
	}
	return updated, nil
}

// CreateAPIKey mints a programmatic credential. The key itself is returned
// exactly once; only its hash is stored.
func (s *Service) CreateAPIKey(ctx context.Context, userID, name string) (user.APIKey, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return user.APIKey{}, "", apperrors.InvalidRequest("key name is required")
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return user.APIKey{}, "", fmt.Errorf("generate key: %w", err)
	}
	key := hex.EncodeToString(raw)

	rec, err := s.keys.CreateAPIKey(ctx, user.APIKey{
		UserID:  userID,
		Name:    name,
		KeyHash: hashToken(key),
	})
	if err != nil {
		return user.APIKey{}, "", fmt.Errorf("create api key: %w", err)
	}
	s.log.WithFields(logger.Fields{"user_id": userID, "key_id": rec.ID}).Info("created api key")
	return rec, key, nil
}

// ListAPIKeys returns the user's keys, hashes excluded.
func (s *Service) ListAPIKeys(ctx context.Context, userID string) ([]user.APIKey, error) {
	keys, err := s.keys.ListAPIKeys(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// RevokeAPIKey disables one of the user's keys.
func (s *Service) RevokeAPIKey(ctx context.Context, userID, keyID string) error {
	keys, err := s.keys.ListAPIKeys(ctx, userID)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}
	for _, rec := range keys {
		if rec.ID != keyID {
			continue
		}
		if err := s.keys.RevokeAPIKey(ctx, keyID); err != nil {
			return fmt.Errorf("revoke api key: %w", err)
		}
		s.log.WithFields(logger.Fields{"user_id": userID, "key_id": keyID}).Info("revoked api key")
		return nil
	}
	return apperrors.NotFound("API key")
}

// PurgeExpiredSessions removes sessions past their expiry and reports how
// many were dropped.
func (s *Service) PurgeExpiredSessions(ctx context.Context) (int, error) {
	return s.sessions.DeleteExpiredSessions(ctx, time.Now().UTC())
}

// --- helpers ---

func (s *Service) issueToken(ctx context.Context, u user.User) (string, error) {
	now := time.Now().UTC()
	claims := &Claims{
		UserID: u.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL())),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	if _, err := s.sessions.CreateSession(ctx, user.Session{
		UserID:    u.ID,
		TokenHash: hashToken(token),
		ExpiresAt: now.Add(s.tokenTTL()),
	}); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return token, nil
}

func (s *Service) parseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, apperrors.InvalidToken(err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, apperrors.InvalidToken(nil)
	}
	return claims, nil
}

func (s *Service) tokenTTL() time.Duration {
	if s.cfg.TokenTTL > 0 {
		return s.cfg.TokenTTL
	}
	return 24 * time.Hour
}

func (s *Service) bcryptCost() int {
	if s.cfg.BcryptCost >= bcrypt.MinCost && s.cfg.BcryptCost <= bcrypt.MaxCost {
		return s.cfg.BcryptCost
	}
	return bcrypt.DefaultCost
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
