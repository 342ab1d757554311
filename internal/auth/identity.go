package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Vovarama1992/ai-chat/internal/logger"
)

const (
	HeaderUserID    = "X-User-ID"
	HeaderSignature = "X-User-Signature"
)

type ctxUserKey struct{}

// Sign returns the hex HMAC-SHA256 of userID under key.
func Sign(key, userID string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}

func Verify(key, userID, sig string) bool {
	want, err := hex.DecodeString(Sign(key, userID))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	return hmac.Equal(want, got)
}

// WithUser returns ctx carrying the authenticated user id.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxUserKey{}, userID)
}

// UserID returns the authenticated user id, or "" for anonymous callers.
func UserID(ctx context.Context) string {
	v, _ := ctx.Value(ctxUserKey{}).(string)
	return v
}

// Require rejects requests without a valid signed identity.
func Require(signingKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
			sig := strings.TrimSpace(r.Header.Get(HeaderSignature))

			if userID == "" || sig == "" {
				unauthorized(w, "missing identity")
				return
			}
			if !Verify(signingKey, userID, sig) {
				logger.Warn("auth_signature_invalid", "user_id", userID, "remote", r.RemoteAddr)
				unauthorized(w, "invalid signature")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", msg)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": msg},
	})
}
