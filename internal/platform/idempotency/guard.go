package idempotency

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shoplane/api/internal/platform/auth"
	"github.com/shoplane/api/internal/platform/httpx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	anonymousActor    = "anonymous"
)

// Logger receives background persistence failures.
type Logger interface {
	Printf(format string, args ...any)
}

type guardConfig struct {
	headerName string
	ttl        time.Duration
	clock      func() time.Time
	logger     Logger
}

// GuardOption customises Guard behaviour.
type GuardOption func(*guardConfig)

// WithHeader overrides the header carrying the idempotency key.
func WithHeader(name string) GuardOption {
	return func(cfg *guardConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.headerName = name
		}
	}
}

// WithTTL configures how long completed replies are retained.
func WithTTL(ttl time.Duration) GuardOption {
	return func(cfg *guardConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithLogger injects a logger for persistence errors.
func WithLogger(logger Logger) GuardOption {
	return func(cfg *guardConfig) {
		cfg.logger = logger
	}
}

// WithClock overrides the time source, primarily for testing.
func WithClock(clock func() time.Time) GuardOption {
	return func(cfg *guardConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// Guard wraps mutating routes so that retried requests carrying the same
// Idempotency-Key replay the original reply instead of running twice. Only
// POST requests are guarded; reads pass straight through.
func Guard(store Store, opts ...GuardOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	cfg := guardConfig{
		headerName: defaultHeaderName,
		ttl:        DefaultTTL,
		clock:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			value := strings.TrimSpace(r.Header.Get(cfg.headerName))
			if value == "" {
				httpx.WriteError(r.Context(), w, httpx.NewError("idempotency_key_required", "missing "+cfg.headerName+" header", http.StatusBadRequest))
				return
			}

			body, err := bufferBody(r)
			if err != nil {
				httpx.WriteError(r.Context(), w, httpx.NewError("request_body_unreadable", "unable to read request body", http.StatusInternalServerError))
				return
			}

			key := Key{
				Value:       value,
				Requester:   requester(r),
				Fingerprint: fingerprint(r, body),
			}
			now := cfg.clock().UTC()

			claim, err := store.Claim(r.Context(), key, now, cfg.ttl)
			if err != nil {
				writeClaimError(w, r, cfg.logger, err)
				return
			}

			switch claim.Outcome {
			case OutcomeReplay:
				writeReply(w, claim.Reply)
				return
			case OutcomeInFlight:
				httpx.WriteError(r.Context(), w, httpx.NewError("idempotency_in_progress", "a request with this idempotency key is still processing", http.StatusConflict))
				return
			}

			capture := newReplyCapture(w)
			next.ServeHTTP(capture, r)

			reply := capture.reply()
			if err := store.Complete(r.Context(), key, reply, cfg.clock().UTC(), cfg.ttl); err != nil {
				if cfg.logger != nil {
					cfg.logger.Printf("idempotency: persist reply for key %q: %v", value, err)
				}
				if forgetErr := store.Forget(r.Context(), key); forgetErr != nil && cfg.logger != nil {
					cfg.logger.Printf("idempotency: release key %q: %v", value, forgetErr)
				}
			}
			capture.flush()
		})
	}
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if err := r.Body.Close(); err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func requester(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity != nil && identity.UID != "" {
		return identity.UID
	}
	return anonymousActor
}

func fingerprint(r *http.Request, body []byte) string {
	parts := strings.Join([]string{
		r.Method,
		r.URL.Path,
		requester(r),
		sha256Hex(body),
	}, "|")
	return sha256Hex([]byte(parts))
}

func writeClaimError(w http.ResponseWriter, r *http.Request, logger Logger, err error) {
	if errors.Is(err, ErrKeyReused) {
		httpx.WriteError(r.Context(), w, httpx.NewError("idempotency_key_conflict", "idempotency key was already used for a different request", http.StatusConflict))
		return
	}
	if logger != nil {
		logger.Printf("idempotency: claim failed: %v", err)
	}
	httpx.WriteError(r.Context(), w, httpx.NewError("idempotency_unavailable", "unable to verify idempotency key", http.StatusInternalServerError))
}

func writeReply(w http.ResponseWriter, reply Reply) {
	header := w.Header()
	for name := range header {
		header.Del(name)
	}
	for name, values := range reply.Header {
		for _, value := range values {
			header.Add(name, value)
		}
	}
	header.Set(replayHeaderName, "true")

	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(reply.Body) > 0 {
		_, _ = w.Write(reply.Body)
	}
}

// replyCapture buffers the downstream handler's response so it can be stored
// before being flushed to the client.
type replyCapture struct {
	parent http.ResponseWriter
	header http.Header
	status int
	body   bytes.Buffer
}

func newReplyCapture(parent http.ResponseWriter) *replyCapture {
	return &replyCapture{parent: parent, header: make(http.Header)}
}

func (c *replyCapture) Header() http.Header {
	return c.header
}

func (c *replyCapture) WriteHeader(status int) {
	if c.status == 0 && status > 0 {
		c.status = status
	}
}

func (c *replyCapture) Write(data []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	return c.body.Write(data)
}

func (c *replyCapture) reply() Reply {
	status := c.status
	if status == 0 {
		status = http.StatusOK
	}
	var body []byte
	if c.body.Len() > 0 {
		body = append([]byte(nil), c.body.Bytes()...)
	}
	return Reply{Status: status, Header: replayableHeader(c.header), Body: body}
}

func (c *replyCapture) flush() {
	dst := c.parent.Header()
	for name, values := range c.header {
		dst[name] = values
	}
	status := c.status
	if status == 0 {
		status = http.StatusOK
	}
	c.parent.WriteHeader(status)
	if c.body.Len() > 0 {
		_, _ = c.parent.Write(c.body.Bytes())
	}
}
