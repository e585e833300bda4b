package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"wadispatch/internal/errors"
	"wadispatch/internal/tracing"
)

// SignatureHeader carries the provider's HMAC of the webhook body.
const SignatureHeader = "X-Hub-Signature-256"

// APIKeyHeader authenticates operator calls on the /v1 API.
const APIKeyHeader = "X-API-Key"

// verifySignature reads the body and checks it against a "sha256=<hex>" header.
// With no secret the check is skipped outside production.
func verifySignature(r *http.Request, secretKey string, maxBytes int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxBytes)
	}
	r.Body = io.NopCloser(bytes.NewBuffer(body))

	if secretKey == "" {
		if os.Getenv("WADISPATCH_ENV") == "production" {
			return nil, fmt.Errorf("webhook secret is required in production mode")
		}
		return body, nil
	}

	signatureHeader := r.Header.Get(SignatureHeader)
	if signatureHeader == "" {
		return nil, fmt.Errorf("missing signature header: %s", SignatureHeader)
	}

	parts := strings.SplitN(signatureHeader, "=", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "sha256" {
		return nil, fmt.Errorf("invalid signature format in header %s", SignatureHeader)
	}

	if !hmac.Equal([]byte(signBody(secretKey, body)), []byte(strings.ToLower(parts[1]))) {
		return nil, fmt.Errorf("signature mismatch")
	}
	return body, nil
}

func signBody(secretKey string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// requireAPIKey rejects /v1 calls without the configured key. An empty key disables the check.
func requireAPIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if subtle.ConstantTimeCompare([]byte(r.Header.Get(APIKeyHeader)), []byte(key)) != 1 {
				writeError(w, errors.New(errors.ErrCodeUnauthorized, "missing or invalid API key").
					WithUserMessage("Unauthorized"), tracing.GetRequestID(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
