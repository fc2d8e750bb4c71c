package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/veritrace/platform/internal/app/domain"
	"github.com/veritrace/platform/internal/app/domain/token"
	"github.com/veritrace/platform/internal/errors"
	"github.com/veritrace/platform/internal/httputil"
	"github.com/veritrace/platform/internal/logging"
)

// APIKeyHeader carries service token keys.
const APIKeyHeader = "X-API-Key"

// Authenticator validates presented credentials. Implemented by the
// auth service.
type Authenticator interface {
	AuthenticateBearer(ctx context.Context, tokenString string) (token.Identity, error)
	AuthenticateAPIKey(ctx context.Context, key string) (token.Identity, error)
}

// AuthMiddleware authenticates requests with a JWT bearer token or an
// API key. Requests that present no credentials are rejected, except
// reads when optionalReads is set. Presented-but-invalid credentials
// are always rejected.
type AuthMiddleware struct {
	auth          Authenticator
	logger        *logging.Logger
	optionalReads bool
	skipPaths     map[string]bool
}

// NewAuthMiddleware creates an authentication middleware. skipPaths are
// served without any credential check.
func NewAuthMiddleware(auth Authenticator, logger *logging.Logger, optionalReads bool, skipPaths []string) *AuthMiddleware {
	skip := make(map[string]bool)
	for _, path := range skipPaths {
		skip[path] = true
	}
	return &AuthMiddleware{
		auth:          auth,
		logger:        logger,
		optionalReads: optionalReads,
		skipPaths:     skip,
	}
}

// Handler returns the middleware handler.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		var (
			id  token.Identity
			err error
		)
		switch {
		case r.Header.Get("Authorization") != "":
			bearer, ok := bearerToken(r)
			if !ok {
				m.respondError(w, r, errors.Unauthorized("Invalid Authorization header format"))
				return
			}
			id, err = m.auth.AuthenticateBearer(r.Context(), bearer)
		case r.Header.Get(APIKeyHeader) != "":
			id, err = m.auth.AuthenticateAPIKey(r.Context(), r.Header.Get(APIKeyHeader))
		default:
			if m.allowAnonymous(r) {
				next.ServeHTTP(w, r)
				return
			}
			m.respondError(w, r, errors.Unauthorized(""))
			return
		}

		if err != nil {
			m.logger.WithContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
				"path":   r.URL.Path,
				"method": r.Method,
			}).Warn("authentication failed")
			m.respondError(w, r, authError(err))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func (m *AuthMiddleware) allowAnonymous(r *http.Request) bool {
	if !m.optionalReads {
		return false
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, serviceErr *errors.ServiceError) {
	httputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func authError(err error) *errors.ServiceError {
	if pe := domain.AsError(err); pe != nil && pe.Kind == domain.KindAuth {
		return errors.Unauthorized(pe.Message)
	}
	return errors.InvalidToken(err)
}

type identityKey struct{}

// WithIdentity stores the authenticated identity on the context,
// alongside the user ID and role keys the request logger reads.
func WithIdentity(ctx context.Context, id token.Identity) context.Context {
	ctx = context.WithValue(ctx, logging.UserIDKey, id.SubjectID)
	if id.Role != "" {
		ctx = context.WithValue(ctx, logging.RoleKey, id.Role)
	}
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the authenticated identity, if any.
func IdentityFrom(ctx context.Context) (token.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(token.Identity)
	return id, ok
}
