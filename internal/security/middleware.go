package security

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"TrackerAuth/internal/model"
)

type ctxKey string

const claimsKey ctxKey = "access_claims"

// AccessVerifier is the part of TokenIssuer the middleware needs.
type AccessVerifier interface {
	VerifyAccessToken(token string) (*AccessClaims, error)
}

// JWTMiddleware rejects requests without a valid bearer token with 401.
// 401 is reserved for authentication failures; clients refresh on it.
func JWTMiddleware(verifier AccessVerifier) func(handler http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			raw := extractBearer(request.Header.Get("Authorization"))
			if raw == "" {
				writeError(writer, http.StatusUnauthorized, model.ErrMissingToken)
				return
			}

			claims, err := verifier.VerifyAccessToken(raw)
			if err != nil {
				slog.DebugContext(request.Context(), "access token rejected", "error", err)
				if errors.Is(err, model.ErrExpiredToken) {
					writeError(writer, http.StatusUnauthorized, model.ErrExpiredToken)
					return
				}
				writeError(writer, http.StatusUnauthorized, model.ErrInvalidToken)
				return
			}

			ctx := context.WithValue(request.Context(), claimsKey, claims)
			next.ServeHTTP(writer, request.WithContext(ctx))
		})
	}
}

func ClaimsFromContext(ctx context.Context) (*AccessClaims, bool) {
	claims, ok := ctx.Value(claimsKey).(*AccessClaims)
	return claims, ok && claims != nil
}

func extractBearer(header string) string {
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func writeError(writer http.ResponseWriter, status int, err error) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(map[string]string{"error": err.Error()})
}
