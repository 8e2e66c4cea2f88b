package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL bounds how long a completed reply is retained for replay.
const DefaultTTL = 24 * time.Hour

// ErrKeyReused reports an idempotency key presented with a different request
// payload than the one it was first claimed for.
var ErrKeyReused = errors.New("idempotency: key reused with a different request")

// Outcome describes the result of claiming an idempotency key.
type Outcome int

const (
	// OutcomeAccepted means the key was unclaimed and the request may proceed.
	OutcomeAccepted Outcome = iota
	// OutcomeReplay means a completed reply exists and should be returned as-is.
	OutcomeReplay
	// OutcomeInFlight means another request holding the key has not finished.
	OutcomeInFlight
)

// Key identifies one idempotent attempt. Requester scopes the key so two
// customers reusing the same header value never collide, and Fingerprint
// binds the key to the exact request that first claimed it.
type Key struct {
	Value       string
	Requester   string
	Fingerprint string
}

func (k Key) docID() string {
	return sha256Hex([]byte(strings.TrimSpace(k.Requester) + "|" + strings.TrimSpace(k.Value)))
}

// Reply is the stored HTTP response replayed on duplicate attempts.
type Reply struct {
	Status int
	Header http.Header
	Body   []byte
}

// Claim reports what the caller should do with the request.
type Claim struct {
	Outcome Outcome
	Reply   Reply
}

// Store persists idempotency claims and their completed replies.
type Store interface {
	Claim(ctx context.Context, key Key, now time.Time, ttl time.Duration) (Claim, error)
	Complete(ctx context.Context, key Key, reply Reply, now time.Time, ttl time.Duration) error
	Forget(ctx context.Context, key Key) error
	Purge(ctx context.Context, now time.Time, limit int) (int, error)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// replayableHeader filters hop-by-hop headers out of a stored reply.
func replayableHeader(header http.Header) http.Header {
	if len(header) == 0 {
		return nil
	}
	kept := make(http.Header, len(header))
	for name, values := range header {
		switch strings.ToLower(name) {
		case "content-length", "date", "connection", "keep-alive", "transfer-encoding", "upgrade", "trailer":
			continue
		}
		kept[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}
