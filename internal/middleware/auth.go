// Package middleware содержит HTTP middleware сервиса WaterMap.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/BigCrunchTheory/watermap-service/internal/auth"
)

type contextKey string

const claimsKey contextKey = "authClaims"

const bearerSchema = "Bearer "

// AuthMiddleware выполняет проверку аутентификации по bearer-токену.
type AuthMiddleware struct {
	tokens *auth.TokenManager
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware.
func NewAuthMiddleware(tokens *auth.TokenManager) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Middleware проверяет токен из заголовка Authorization и добавляет
// утверждения токена в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := a.Authenticate(r)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin пропускает только запросы с токеном администратора.
func (a *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := a.Authenticate(r)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		if !claims.IsAdmin {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Authenticate извлекает и проверяет bearer-токен из заголовка Authorization.
// Используется обработчиками, которым токен нужен вне цепочки middleware.
func (a *AuthMiddleware) Authenticate(r *http.Request) (*auth.Claims, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerSchema) {
		return nil, false
	}

	claims, err := a.tokens.Verify(strings.TrimPrefix(header, bearerSchema))
	if err != nil {
		return nil, false
	}
	return claims, true
}

// ClaimsFromContext извлекает утверждения токена из контекста запроса.
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*auth.Claims)
	return claims, ok
}
