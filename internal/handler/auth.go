package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v4"

	"github.com/pavelanni/trilma/internal/model"
)

const sessionCookieName = "session"

// requireAuth accepts a token already issued by the account service, either
// as a bearer token or in the session cookie, and stores its user id in the
// request context.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := tokenFromRequest(r)
		if raw == "" {
			writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "ErrUnauthorized", nil)
			return
		}
		userID, err := h.userFromToken(raw)
		if err != nil {
			slog.Warn("rejected token", "error", err)
			writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "ErrUnauthorized", nil)
			return
		}
		ctx := model.ContextWithUser(r.Context(), userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

func (h *Handler) userFromToken(raw string) (int64, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return h.config.JWTSecret, nil
	})
	if err != nil {
		return 0, err
	}
	return userIDClaim(claims)
}

func userIDClaim(claims jwt.MapClaims) (int64, error) {
	switch v := claims["id"].(type) {
	case float64:
		if v <= 0 || v != float64(int64(v)) {
			return 0, fmt.Errorf("invalid id claim %v", v)
		}
		return int64(v), nil
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return 0, fmt.Errorf("invalid id claim %q", v)
		}
		return id, nil
	}
	return 0, errors.New("token has no id claim")
}
