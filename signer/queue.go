// Package signer holds signing requests that wait on a human (or an air-gapped device)
// until the UI answers them.
package signer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/abcfe/abcfe-wallet/common/logger"
	"github.com/ethereum/go-ethereum/event"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

var (
	ErrRequestNotFound = errors.New("sign request not found")
	ErrRequestRejected = errors.New("sign request rejected")
	ErrRequestTimeout  = errors.New("sign request timed out")
	ErrQueueClosed     = errors.New("sign queue closed")
)

type Kind string

const (
	KindManual Kind = "manual"
	KindQR     Kind = "qr"
)

// Request is a pending signature. Parts holds the UR parts to show for KindQR.
type Request struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	From      string    `json:"from"`
	ChainID   string    `json:"chainId"`
	Method    string    `json:"method"`
	Payload   string    `json:"payload"`
	Parts     []string  `json:"parts,omitempty"`
	CreatedAt time.Time `json:"createdAt"`

	done chan result
}

type result struct {
	signature string
	err       error
}

type EventType string

const (
	EventRequested EventType = "sign_request"
	EventResolved  EventType = "sign_resolved"
)

type Event struct {
	Type     EventType `json:"type"`
	Request  Request   `json:"request"`
	Rejected bool      `json:"rejected,omitempty"`
}

type Queue struct {
	mu      sync.Mutex
	pending map[string]*Request
	closed  bool

	timeout time.Duration
	clock   clockwork.Clock
	feed    event.Feed
}

// NewQueue returns a queue whose requests expire after timeout (0 disables expiry).
func NewQueue(timeout time.Duration, clock clockwork.Clock) *Queue {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Queue{
		pending: make(map[string]*Request),
		timeout: timeout,
		clock:   clock,
	}
}

// Submit registers req and blocks until it is resolved, rejected, expired or ctx ends.
// An empty req.ID gets a fresh uuid.
func (q *Queue) Submit(ctx context.Context, req Request) (string, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.CreatedAt = q.clock.Now()
	req.done = make(chan result, 1)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrQueueClosed
	}
	r := &req
	q.pending[r.ID] = r
	q.mu.Unlock()

	logger.Info("sign request queued: ", r.ID, " kind=", r.Kind, " from=", r.From)
	q.feed.Send(Event{Type: EventRequested, Request: r.snapshot()})

	var expired <-chan time.Time
	if q.timeout > 0 {
		timer := q.clock.NewTimer(q.timeout)
		defer timer.Stop()
		expired = timer.Chan()
	}

	select {
	case res := <-r.done:
		return res.signature, res.err
	case <-expired:
		q.finish(r.ID, result{err: ErrRequestTimeout})
	case <-ctx.Done():
		q.finish(r.ID, result{err: ctx.Err()})
	}
	// finish may have lost the race to Resolve/Reject, done holds whichever won
	res := <-r.done
	return res.signature, res.err
}

// Resolve answers request id with signature. An empty signature is passed through
// and left to the keyring to refuse.
func (q *Queue) Resolve(id, signature string) error {
	if !q.finish(id, result{signature: signature}) {
		return ErrRequestNotFound
	}
	return nil
}

func (q *Queue) Reject(id string) error {
	if !q.finish(id, result{err: ErrRequestRejected}) {
		return ErrRequestNotFound
	}
	return nil
}

func (q *Queue) finish(id string, res result) bool {
	q.mu.Lock()
	r, ok := q.pending[id]
	if ok {
		delete(q.pending, id)
	}
	q.mu.Unlock()
	if !ok {
		return false
	}

	r.done <- res
	if res.err != nil {
		logger.Info("sign request closed: ", id, " reason=", res.err)
	} else {
		logger.Info("sign request resolved: ", id)
	}
	q.feed.Send(Event{Type: EventResolved, Request: r.snapshot(), Rejected: res.err != nil})
	return true
}

func (q *Queue) Get(id string) (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.pending[id]
	if !ok {
		return Request{}, false
	}
	return r.snapshot(), true
}

// Pending lists open requests, oldest first.
func (q *Queue) Pending() []Request {
	q.mu.Lock()
	out := make([]Request, 0, len(q.pending))
	for _, r := range q.pending {
		out = append(out, r.snapshot())
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Subscribe delivers request and resolution events to ch.
func (q *Queue) Subscribe(ch chan<- Event) event.Subscription {
	return q.feed.Subscribe(ch)
}

// Close rejects every pending request and refuses new ones.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	ids := make([]string, 0, len(q.pending))
	for id := range q.pending {
		ids = append(ids, id)
	}
	q.mu.Unlock()

	for _, id := range ids {
		q.finish(id, result{err: ErrQueueClosed})
	}
}

func (r *Request) snapshot() Request {
	c := *r
	c.done = nil
	c.Parts = append([]string(nil), r.Parts...)
	return c
}
