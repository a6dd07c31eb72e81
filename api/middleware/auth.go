package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/quickbrush-backend/api/responses"
	pkgAuth "github.com/angelmondragon/quickbrush-backend/pkg/auth"
	"github.com/angelmondragon/quickbrush-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/quickbrush-backend/pkg/errors"
	"github.com/angelmondragon/quickbrush-backend/pkg/logger"
)

// Auth validates a bearer token minted by the identity service and seeds the
// request context with the account it names.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := WithAccountID(r.Context(), claims.AccountID)
			ctx = withEmail(ctx, claims.Email)
			if logg != nil {
				ctx = logg.WithAccountID(ctx, claims.AccountID.String())
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
		raw = raw[7:]
	}
	return strings.TrimSpace(raw)
}
