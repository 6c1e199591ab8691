package interceptors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/webitel/im-presence-service/internal/domain/model"
)

type contextKey string

const (
	// AuthContextKey is the key used to store/retrieve AuthUser from context
	AuthContextKey contextKey = "auth_user"
)

var ErrNoToken = errors.New("missing bearer token")

// Authenticator resolves a connect-time credential to an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.AuthUser, error)
}

// JWTAuthenticator accepts HS256 tokens whose subject is the user id.
type JWTAuthenticator struct {
	secret []byte
	issuer string
}

func NewJWTAuthenticator(secret, issuer string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret), issuer: issuer}
}

func (a *JWTAuthenticator) Authenticate(_ context.Context, token string) (*model.AuthUser, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("jwt secret is not configured")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	if _, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...); err != nil {
		return nil, err
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("subject is not a user id: %w", err)
	}

	return &model.AuthUser{
		UserID:    userID,
		Subject:   claims.Subject,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// NewAuthMiddleware rejects unauthenticated requests with 401 before the
// wrapped handler runs, so no connection state is ever created for them.
func NewAuthMiddleware(auther Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// [PRE_AUTH] Validate identity before allowing the upgrade
			token, err := bearerToken(r)
			if err == nil {
				var auth *model.AuthUser
				if auth, err = auther.Authenticate(r.Context(), token); err == nil {
					// [ENRICHMENT] Inject the identity into the context for downstream handlers
					next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), AuthContextKey, auth)))
					return
				}
			}
			http.Error(w, "authentication failed", http.StatusUnauthorized)
		})
	}
}

// bearerToken reads the Authorization header, falling back to ?token= for
// browser WebSocket clients that cannot set headers.
func bearerToken(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			return "", ErrNoToken
		}
		return token, nil
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", ErrNoToken
}

// GetAuthUser is a helper to extract the identity from context safely.
func GetAuthUser(ctx context.Context) (*model.AuthUser, bool) {
	auth, ok := ctx.Value(AuthContextKey).(*model.AuthUser)
	return auth, ok
}
