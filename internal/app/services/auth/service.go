package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/veritrace/platform/internal/app/domain"
	"github.com/veritrace/platform/internal/app/domain/token"
	"github.com/veritrace/platform/internal/app/storage"
	"github.com/veritrace/platform/internal/config"
	"github.com/veritrace/platform/pkg/logger"
)

// Claims are the JWT claims minted at login.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Service manages API accounts, login sessions and service tokens.
type Service struct {
	store storage.TokenStore
	cfg   config.AuthConfig
	log   *logger.Logger
}

// New constructs an auth service. A zero TTL falls back to the default.
func New(store storage.TokenStore, cfg config.AuthConfig, log *logger.Logger) *Service {
	if cfg.TokenTTLMinutes <= 0 {
		cfg.TokenTTLMinutes = config.Default().Auth.TokenTTLMinutes
	}
	if log == nil {
		log = logger.NewDefault("auth")
	}
	return &Service{store: store, cfg: cfg, log: log}
}

// EnsureAdmin creates the bootstrap admin account when credentials are
// configured and the account does not exist yet. Safe to call on every
// startup.
func (s *Service) EnsureAdmin(ctx context.Context) error {
	username := strings.TrimSpace(s.cfg.AdminUsername)
	if username == "" || s.cfg.AdminPassword == "" {
		return nil
	}

	_, err := s.store.GetUserByUsername(ctx, username)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
	default:
		return fmt.Errorf("look up admin user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(s.cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	u, err := s.store.CreateUser(ctx, token.User{
		Username:     username,
		PasswordHash: string(hash),
		Role:         token.RoleAdmin,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	s.log.WithField("username", u.Username).Info("admin account created")
	return nil
}

// Login checks a username and password and mints a signed JWT.
func (s *Service) Login(ctx context.Context, username, password string) (string, token.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return "", token.User{}, domain.NewError(domain.KindAuth, "username and password are required")
	}

	u, err := s.store.GetUserByUsername(ctx, username)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", token.User{}, domain.NewError(domain.KindAuth, "invalid credentials")
	case err != nil:
		return "", token.User{}, fmt.Errorf("look up user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", token.User{}, domain.NewError(domain.KindAuth, "invalid credentials")
	}

	signed, err := s.mintJWT(u)
	if err != nil {
		return "", token.User{}, err
	}
	s.log.WithField("username", u.Username).Info("user logged in")
	return signed, u, nil
}

// mintJWT signs an HS256 session token for u with the configured TTL.
func (s *Service) mintJWT(u token.User) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Username: u.Username,
		Role:     u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(s.cfg.TokenTTLMinutes) * time.Minute)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// AuthenticateBearer validates a JWT minted by Login.
func (s *Service) AuthenticateBearer(ctx context.Context, tokenString string) (token.Identity, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return token.Identity{}, domain.WrapError(domain.KindAuth, "invalid or expired token", err)
	}
	if !parsed.Valid {
		return token.Identity{}, domain.NewError(domain.KindAuth, "invalid or expired token")
	}
	return token.Identity{
		SubjectID: claims.Subject,
		Name:      claims.Username,
		Role:      claims.Role,
		Method:    token.AuthMethodJWT,
	}, nil
}

// IssueToken creates a service token. The plaintext key is returned
// exactly once; only its hash is stored.
func (s *Service) IssueToken(ctx context.Context, name, role string) (token.ServiceToken, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return token.ServiceToken{}, "", domain.NewError(domain.KindAuth, "token name is required")
	}
	role = strings.ToLower(strings.TrimSpace(role))
	switch role {
	case "":
		role = token.RoleReader
	case token.RoleAdmin, token.RoleWriter, token.RoleReader:
	default:
		return token.ServiceToken{}, "", domain.NewError(domain.KindAuth, fmt.Sprintf("unknown role %q", role))
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return token.ServiceToken{}, "", fmt.Errorf("generate key: %w", err)
	}
	key := "vt_" + hex.EncodeToString(raw)

	st, err := s.store.CreateServiceToken(ctx, token.ServiceToken{
		Name:    name,
		KeyHash: HashKey(key),
		Role:    role,
	})
	if err != nil {
		return token.ServiceToken{}, "", fmt.Errorf("store service token: %w", err)
	}

	s.log.WithField("token_id", st.ID).WithField("name", name).Info("service token issued")
	return st, key, nil
}

// AuthenticateAPIKey validates an X-API-Key value and stamps its last use.
func (s *Service) AuthenticateAPIKey(ctx context.Context, key string) (token.Identity, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return token.Identity{}, domain.NewError(domain.KindAuth, "api key is required")
	}

	st, err := s.store.GetServiceTokenByHash(ctx, HashKey(key))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return token.Identity{}, domain.NewError(domain.KindAuth, "invalid api key")
	case err != nil:
		return token.Identity{}, fmt.Errorf("look up api key: %w", err)
	}

	if err := s.store.TouchServiceToken(ctx, st.ID, time.Now().UTC()); err != nil {
		s.log.WithError(err).WithField("token_id", st.ID).Warn("record api key use")
	}

	return token.Identity{
		SubjectID: st.ID,
		Name:      st.Name,
		Role:      st.Role,
		Method:    token.AuthMethodAPIKey,
	}, nil
}

// Tokens lists issued service tokens.
func (s *Service) Tokens(ctx context.Context) ([]token.ServiceToken, error) {
	return s.store.ListServiceTokens(ctx)
}

// RevokeToken deletes a service token by ID.
func (s *Service) RevokeToken(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.NewError(domain.KindAuth, "token id is required")
	}
	if err := s.store.DeleteServiceToken(ctx, id); err != nil {
		return err
	}
	s.log.WithField("token_id", id).Info("service token revoked")
	return nil
}

// User returns one account by ID.
func (s *Service) User(ctx context.Context, id string) (token.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return token.User{}, domain.NewError(domain.KindAuth, "user id is required")
	}
	return s.store.GetUser(ctx, id)
}

// HashKey returns the hex SHA-256 digest under which API keys are stored.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
