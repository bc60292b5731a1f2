package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sundayezeilo/searchlink/internal/errx"
	"github.com/sundayezeilo/searchlink/internal/httpx"
)

// Require rejects requests without a valid bearer token with 401.
func Require(v *Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "auth.Require"
			ctx := r.Context()

			token := parseBearer(r.Header.Get("Authorization"))
			if token == "" {
				httpx.WriteKindError(w, errx.E(op, errx.Unauthorized, errors.New("missing bearer token")), "missing bearer token")
				return
			}

			id, err := v.Verify(token)
			if err != nil {
				logger.WarnContext(ctx, "token rejected",
					"request_id", httpx.GetRequestID(ctx),
					"path", r.URL.Path,
					"error", err.Error(),
				)
				httpx.WriteKindError(w, errx.E(op, errx.Unauthorized, err), "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, id)))
		})
	}
}

func parseBearer(header string) string {
	fields := strings.Fields(header)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
		return ""
	}
	return fields[1]
}
