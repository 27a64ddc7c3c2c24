package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Auth failure reasons surfaced in the 401 body.
var (
	ErrTokenMissing   = errors.New("missing bearer token")
	ErrTokenMalformed = errors.New("malformed token")
	ErrTokenSignature = errors.New("invalid token signature")
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenAlg       = errors.New("unsupported signing algorithm")
)

// tokenClaims is the subset of JWT claims the API cares about.
type tokenClaims struct {
	Sub string `json:"sub"`
	Exp int64  `json:"exp"`
}

// verifyToken validates a compact HS256 JWT and returns the sub claim.
//
// The HMAC is verified BEFORE the expiry check so response timing cannot
// distinguish "expired" from "forged" (CWE-208).
func verifyToken(token string, secret []byte) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", ErrTokenMalformed
	}

	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", ErrTokenMalformed
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return "", ErrTokenMalformed
	}
	if header.Alg != "HS256" {
		return "", ErrTokenAlg
	}

	h := hmac.New(sha256.New, secret)
	h.Write([]byte(parts[0] + "." + parts[1]))
	expectedSig := h.Sum(nil)

	actualSig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return "", ErrTokenMalformed
	}
	if subtle.ConstantTimeCompare(expectedSig, actualSig) != 1 {
		return "", ErrTokenSignature
	}

	payloadJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", ErrTokenMalformed
	}
	var claims tokenClaims
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return "", ErrTokenMalformed
	}

	if claims.Exp != 0 && time.Now().Unix() > claims.Exp {
		return "", ErrTokenExpired
	}

	return claims.Sub, nil
}

// authMiddleware validates the Authorization header when a secret is
// configured. The verified sub claim lands in the request context; health
// probes are registered outside this stack and stay open.
func authMiddleware(secret []byte, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(raw, "Bearer ")
			if !ok || token == "" {
				writeError(w, http.StatusUnauthorized, "access denied: "+ErrTokenMissing.Error())
				return
			}

			sub, err := verifyToken(token, secret)
			if err != nil {
				logger.Warn("token verification failed",
					"error", err,
					"path", r.URL.Path,
				)
				writeError(w, http.StatusUnauthorized, "access denied: "+err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyUserID, sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
