package middleware

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/binarypool/internal/auth"
	"github.com/alanyoungcy/binarypool/internal/crypto"
	"github.com/alanyoungcy/binarypool/internal/domain"
)

// Request headers carrying the caller's proof of identity.
const (
	HeaderCaller    = "X-Caller"
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
)

// maxSignedBody bounds the body read for signature verification.
const maxSignedBody = 1 << 20

// DefaultSignatureWindow is the accepted clock drift of X-Timestamp.
const DefaultSignatureWindow = 5 * time.Minute

// SigningMessage is what a caller signs: method, path, the unix millisecond
// timestamp sent in X-Timestamp and the raw body. Identical requests need
// distinct timestamps.
func SigningMessage(method, path string, timestamp int64, body []byte) []byte {
	var b bytes.Buffer
	b.WriteString(method)
	b.WriteByte(' ')
	b.WriteString(path)
	b.WriteByte('\n')
	b.WriteString(strconv.FormatInt(timestamp, 10))
	b.WriteByte('\n')
	b.Write(body)
	return b.Bytes()
}

// SignatureConfig tunes Signature.
type SignatureConfig struct {
	// Window bounds how far X-Timestamp may be from the server clock.
	Window time.Duration
	// Replay records every accepted invocation hash for twice Window. Nil
	// disables replay detection.
	Replay domain.LockManager
	Now    func() time.Time
	Logger *slog.Logger
}

// Signature verifies X-Signature, an EIP-191 signature over SigningMessage,
// and attaches the recovered signer to the request context as the invocation
// caller. Requests without a signature pass through anonymously; the engine
// rejects anonymous mutations.
//
// A signed request is rejected with 401 when its timestamp is outside the
// window, the signature does not verify or belong to X-Caller, or the same
// invocation was already accepted. The invocation hash covers the normalized
// signature, so re-encoding a captured signature does not make it new.
func Signature(cfg SignatureConfig) func(http.Handler) http.Handler {
	if cfg.Window <= 0 {
		cfg.Window = DefaultSignatureWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sig := strings.TrimSpace(r.Header.Get(HeaderSignature))
			if sig == "" {
				next.ServeHTTP(w, r)
				return
			}

			ts, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(HeaderTimestamp)), 10, 64)
			if err != nil {
				writeUnauthorized(w, "missing or malformed "+HeaderTimestamp)
				return
			}
			if drift := cfg.Now().Sub(time.UnixMilli(ts)); drift > cfg.Window || drift < -cfg.Window {
				writeUnauthorized(w, "request timestamp outside the accepted window")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
			if err != nil {
				writeUnauthorized(w, "unreadable body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			msg := SigningMessage(r.Method, r.URL.Path, ts, body)
			signer, err := crypto.Recover(msg, sig)
			if err != nil {
				writeUnauthorized(w, "invalid signature")
				return
			}
			if claimed := r.Header.Get(HeaderCaller); claimed != "" {
				if !common.IsHexAddress(claimed) || common.HexToAddress(claimed) != signer {
					writeUnauthorized(w, "signature does not match caller")
					return
				}
			}
			hash, err := crypto.InvocationHash(msg, sig)
			if err != nil {
				writeUnauthorized(w, "invalid signature")
				return
			}

			if cfg.Replay != nil {
				// The claim is never released; it expires after the
				// timestamp check alone would reject the request.
				_, err := cfg.Replay.Acquire(r.Context(), "invocation:"+hash.Hex(), 2*cfg.Window)
				switch {
				case errors.Is(err, domain.ErrLockHeld):
					writeUnauthorized(w, "signature already used")
					return
				case err != nil:
					cfg.Logger.ErrorContext(r.Context(), "replay check failed",
						slog.String("caller", signer.Hex()),
						slog.String("error", err.Error()),
					)
					writeJSONError(w, http.StatusServiceUnavailable, "replay check unavailable")
					return
				}
			}

			ctx := auth.WithInvocation(r.Context(), auth.Invocation{Caller: signer, Hash: hash})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeJSONError(w, http.StatusUnauthorized, msg)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
