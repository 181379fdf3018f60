package ingest

import (
	"sync"
	"time"
)

const defaultTicketTTL = 300 * time.Second

// Ticket is a single-use, IP-bound, time-bound bridge from an
// HTTP-authenticated identity to a later socket upgrade.
type Ticket struct {
	ID        TicketId
	User      UserId
	ClientIP  string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
}

func (t Ticket) isExpired(now time.Time) bool { return !now.Before(t.ExpiresAt) }
func (t Ticket) isValid(now time.Time) bool   { return !t.Used && !t.isExpired(now) }

// TicketStore is an in-memory ticket registry.
type TicketStore struct {
	mu      sync.Mutex
	tickets map[TicketId]*Ticket
	ttl     time.Duration
}

// NewTicketStore constructs a store with the given default TTL (0 uses
// the 300s default).
func NewTicketStore(ttl time.Duration) *TicketStore {
	if ttl <= 0 {
		ttl = defaultTicketTTL
	}
	return &TicketStore{tickets: make(map[TicketId]*Ticket), ttl: ttl}
}

// Generate issues a fresh ticket for user at clientIP, opportunistically
// sweeping expired tickets.
func (s *TicketStore) Generate(user UserId, clientIP string, now time.Time) Ticket {
	id := newTicketID()
	t := Ticket{ID: id, User: user, ClientIP: clientIP, CreatedAt: now, ExpiresAt: now.Add(s.ttl)}

	s.mu.Lock()
	s.tickets[id] = &t
	s.cleanupExpired(now)
	s.mu.Unlock()

	return t
}

// Validate returns the ticket iff it exists, is unused, unexpired, and
// bound to clientIP, marking it used. Any failed precondition other
// than an IP mismatch removes the ticket; an IP mismatch leaves it in
// place since the real caller may still retry.
func (s *TicketStore) Validate(id TicketId, clientIP string, now time.Time) (Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok {
		return Ticket{}, false
	}
	if !t.isValid(now) {
		delete(s.tickets, id)
		return Ticket{}, false
	}
	if t.ClientIP != clientIP {
		return Ticket{}, false
	}

	t.Used = true
	delete(s.tickets, id)
	return *t, true
}

// Purge idempotently removes a ticket.
func (s *TicketStore) Purge(id TicketId) {
	s.mu.Lock()
	delete(s.tickets, id)
	s.mu.Unlock()
}

// ActiveCount returns the number of unexpired, unused tickets, sweeping
// expired ones first.
func (s *TicketStore) ActiveCount(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupExpired(now)

	n := 0
	for _, t := range s.tickets {
		if t.isValid(now) {
			n++
		}
	}
	return n
}

func (s *TicketStore) cleanupExpired(now time.Time) {
	for id, t := range s.tickets {
		if t.isExpired(now) {
			delete(s.tickets, id)
		}
	}
}
