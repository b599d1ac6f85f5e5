// Package ticket implements single-use, TTL-bound credentials that bind a
// validated kubeconfig+target pair to a future WebSocket session
// (spec.md §4.1).
package ticket

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Reason identifies why Consume failed.
type Reason int

const (
	// ReasonInvalid covers a missing (never-issued, already-swept) ticket.
	ReasonInvalid Reason = iota
	ReasonUsed
	ReasonExpired
)

// Error wraps a consume failure with its Reason and the reference phrasing
// from spec.md §4.1/§9.
type Error struct {
	Reason  Reason
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(reason Reason, message string) *Error {
	return &Error{Reason: reason, Message: message}
}

var (
	// ErrInvalid is returned for a missing, unknown, or already-swept ticket.
	ErrInvalid = newError(ReasonInvalid, "Invalid or expired ticket.")
	// ErrUsed is returned for a ticket that has already been consumed.
	ErrUsed = newError(ReasonUsed, "Ticket already used.")
	// ErrExpired is returned for a ticket past its TTL.
	ErrExpired = newError(ReasonExpired, "Ticket expired.")
)

// Target identifies the pod/container/command to exec into (spec.md §3).
type Target struct {
	Namespace string
	Pod       string
	Container string
	Command   []string
}

// IssuerMeta records who requested the ticket, for audit logging.
type IssuerMeta struct {
	RemoteAddr string
	UserAgent  string
}

type record struct {
	kubeconfig string
	target     Target
	issuer     IssuerMeta
	expiresAt  time.Time
	used       bool
}

// Store is a process-local, mutex-guarded single-use ticket table,
// following the teacher's TunnelManager/RelayPool shape: one mutex
// guarding a plain map with Add/Get/Remove-style methods
// (pkg/bridge/tunnel.go, pkg/bridge/relay.go).
type Store struct {
	mu      sync.Mutex
	records map[string]*record
	ttl     time.Duration

	// now is overridable in tests; defaults to time.Now.
	now func() time.Time

	// Cumulative counts, read live by the metrics collector.
	issued   atomic.Int64
	consumed atomic.Int64
	expired  atomic.Int64
	rejected atomic.Int64
}

// New creates a Store whose issued tickets expire after ttl.
func New(ttl time.Duration) *Store {
	return &Store{
		records: make(map[string]*record),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Issue generates a fresh ticket, records it, and returns its id and expiry.
func (s *Store) Issue(kubeconfig string, target Target, issuer IssuerMeta) (string, time.Time, error) {
	id, err := newTicketID()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate ticket id: %w", err)
	}

	expiresAt := s.now().Add(s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()

	s.records[id] = &record{
		kubeconfig: kubeconfig,
		target:     target,
		issuer:     issuer,
		expiresAt:  expiresAt,
		used:       false,
	}

	s.issued.Add(1)

	return id, expiresAt, nil
}

// Consume atomically takes the ticket if present, unused, and unexpired,
// marking it used so a replay cannot succeed even if the caller retains
// the id. The used record is reaped by the next sweep of an unrelated
// issue/consume call rather than deleted immediately, so an immediate
// replay of the same id is reported as ErrUsed rather than ErrInvalid.
//
// The requested id is resolved before the general sweep runs, and is
// excluded from that sweep: sweeping first would delete an already-used
// record for this exact id before the rec.used check below ever sees it,
// turning a replay into a false ErrInvalid.
func (s *Store) Consume(id string, _ IssuerMeta) (string, Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		s.sweepExcept(id)
		s.rejected.Add(1)
		return "", Target{}, ErrInvalid
	}
	if rec.used {
		s.sweepExcept(id)
		s.rejected.Add(1)
		return "", Target{}, ErrUsed
	}
	if !rec.expiresAt.After(s.now()) {
		delete(s.records, id)
		s.sweepLocked()
		s.expired.Add(1)
		return "", Target{}, ErrExpired
	}

	// Mark used rather than deleting immediately: a replayed auth frame
	// for the same ticket must see ErrUsed, not ErrInvalid. The record is
	// reaped by a later sweepLocked call for an unrelated id (spec.md §4.1
	// "a sweep is performed on every issue and consume call").
	rec.used = true
	s.consumed.Add(1)
	s.sweepExcept(id)

	return rec.kubeconfig, rec.target, nil
}

// sweepLocked deletes every used or expired record. Called on every Issue,
// per spec.md §4.1 ("a sweep is performed on every issue and consume
// call"). Caller must hold s.mu.
func (s *Store) sweepLocked() {
	s.sweepExcept("")
}

// sweepExcept deletes every used or expired record other than exceptID,
// whose own fate Consume has already decided and accounted for. Caller
// must hold s.mu.
func (s *Store) sweepExcept(exceptID string) {
	now := s.now()
	for id, rec := range s.records {
		if id == exceptID {
			continue
		}
		if rec.used {
			delete(s.records, id)
			continue
		}
		if !rec.expiresAt.After(now) {
			delete(s.records, id)
			s.expired.Add(1)
		}
	}
}

// Count returns the number of live (unused, unexpired) tickets. Used by
// the metrics collector.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	return len(s.records)
}

// Stats returns cumulative issue/consume/expire/reject counts, read live
// by the metrics collector.
func (s *Store) Stats() (issued, consumed, expired, rejected int64) {
	return s.issued.Load(), s.consumed.Load(), s.expired.Load(), s.rejected.Load()
}

func newTicketID() (string, error) {
	buf := make([]byte, 16) // 128 bits, satisfies the >=122-bit requirement.
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// AsTicketError unwraps err into a *Error, if it is one.
func AsTicketError(err error) (*Error, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
