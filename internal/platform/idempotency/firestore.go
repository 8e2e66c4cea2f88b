package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultCollection  = "idempotencyKeys"
	defaultMaxAttempts = 5
	defaultPurgeLimit  = 100
)

// FirestoreOption customises the FirestoreStore behaviour.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection holding idempotency documents.
func WithCollection(name string) FirestoreOption {
	return func(store *FirestoreStore) {
		if name != "" {
			store.collection = name
		}
	}
}

// WithMaxAttempts configures the transaction retry attempts.
func WithMaxAttempts(attempts int) FirestoreOption {
	return func(store *FirestoreStore) {
		if attempts > 0 {
			store.maxAttempts = attempts
		}
	}
}

// FirestoreStore implements Store on Google Cloud Firestore. Claims run in a
// transaction so two racing requests with the same key resolve to exactly one
// accepted attempt.
type FirestoreStore struct {
	client      *firestore.Client
	collection  string
	maxAttempts int
}

// NewFirestoreStore constructs a Firestore-backed idempotency store.
func NewFirestoreStore(client *firestore.Client, opts ...FirestoreOption) *FirestoreStore {
	store := &FirestoreStore{
		client:      client,
		collection:  defaultCollection,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

type claimDoc struct {
	KeyValue    string              `firestore:"keyValue"`
	Requester   string              `firestore:"requester"`
	Fingerprint string              `firestore:"fingerprint"`
	Done        bool                `firestore:"done"`
	ReplyStatus int                 `firestore:"replyStatus"`
	ReplyHeader map[string][]string `firestore:"replyHeader"`
	ReplyBody   []byte              `firestore:"replyBody"`
	CreatedAt   time.Time           `firestore:"createdAt"`
	ExpiresAt   time.Time           `firestore:"expiresAt"`
}

func newClaimDoc(key Key, now time.Time, ttl time.Duration) claimDoc {
	return claimDoc{
		KeyValue:    key.Value,
		Requester:   key.Requester,
		Fingerprint: key.Fingerprint,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

func (d claimDoc) expired(now time.Time) bool {
	return !d.ExpiresAt.IsZero() && !now.Before(d.ExpiresAt)
}

func (d claimDoc) reply() Reply {
	header := make(map[string][]string, len(d.ReplyHeader))
	for name, values := range d.ReplyHeader {
		header[name] = append([]string(nil), values...)
	}
	return Reply{Status: d.ReplyStatus, Header: header, Body: d.ReplyBody}
}

// Claim reserves the key for the caller or reports what already holds it.
func (s *FirestoreStore) Claim(ctx context.Context, key Key, now time.Time, ttl time.Duration) (Claim, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref := s.docRef(key)

	var claim Claim
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) != codes.NotFound {
				return err
			}
			claim = Claim{Outcome: OutcomeAccepted}
			return tx.Set(ref, newClaimDoc(key, now, ttl))
		}

		var doc claimDoc
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		if doc.expired(now) {
			claim = Claim{Outcome: OutcomeAccepted}
			return tx.Set(ref, newClaimDoc(key, now, ttl))
		}
		if doc.Fingerprint != key.Fingerprint {
			return ErrKeyReused
		}
		if doc.Done {
			claim = Claim{Outcome: OutcomeReplay, Reply: doc.reply()}
			return nil
		}
		claim = Claim{Outcome: OutcomeInFlight}
		return nil
	}, firestore.MaxAttempts(s.attempts()))

	return claim, err
}

// Complete stores the reply so later attempts with the same key replay it.
func (s *FirestoreStore) Complete(ctx context.Context, key Key, reply Reply, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref := s.docRef(key)

	header := replayableHeader(reply.Header)
	var body []byte
	if len(reply.Body) > 0 {
		body = append([]byte(nil), reply.Body...)
	}

	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc := newClaimDoc(key, now, ttl)
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) != codes.NotFound {
				return err
			}
		} else {
			var existing claimDoc
			if err := snap.DataTo(&existing); err != nil {
				return err
			}
			if existing.Fingerprint != key.Fingerprint {
				return ErrKeyReused
			}
			if !existing.CreatedAt.IsZero() {
				doc.CreatedAt = existing.CreatedAt
			}
		}

		doc.Done = true
		doc.ReplyStatus = reply.Status
		doc.ReplyHeader = header
		doc.ReplyBody = body
		doc.ExpiresAt = now.Add(ttl)
		return tx.Set(ref, doc)
	}, firestore.MaxAttempts(s.attempts()))
}

// Forget releases the claim so the caller may retry after a failure.
func (s *FirestoreStore) Forget(ctx context.Context, key Key) error {
	_, err := s.docRef(key).Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

// Purge deletes expired claims, up to limit documents per call.
func (s *FirestoreStore) Purge(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultPurgeLimit
	}
	query := s.client.Collection(s.collection).Where("expiresAt", "<=", now.UTC()).Limit(limit)
	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	batch := s.client.Batch()
	for _, doc := range docs {
		batch.Delete(doc.Ref)
	}
	if _, err := batch.Commit(ctx); err != nil {
		return 0, err
	}
	return len(docs), nil
}

func (s *FirestoreStore) docRef(key Key) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(key.docID())
}

func (s *FirestoreStore) attempts() int {
	if s.maxAttempts <= 0 {
		return 1
	}
	return s.maxAttempts
}
