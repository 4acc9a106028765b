package repository

import (
	"context"
	"math"
	"slices"
	"sync"

	"github.com/prohmpiriya/ticket-registry/internal/domain"
)

// MemoryRegistryStore keeps registry state in process memory.
// One writer holds the lock for a whole transaction; staged writes are
// applied to committed state only when the transaction function succeeds.
type MemoryRegistryStore struct {
	mu        sync.RWMutex
	relayMu   sync.Mutex
	tickets   map[domain.TicketID]*domain.Ticket
	owners    map[domain.AccountID][]domain.TicketID
	listings  map[domain.TicketID]*domain.Listing
	nextID    uint64
	events    []*domain.RegistryEvent
	published map[uint64]bool
}

// NewMemoryRegistryStore creates an empty in-memory store
func NewMemoryRegistryStore() *MemoryRegistryStore {
	return &MemoryRegistryStore{
		tickets:   make(map[domain.TicketID]*domain.Ticket),
		owners:    make(map[domain.AccountID][]domain.TicketID),
		listings:  make(map[domain.TicketID]*domain.Listing),
		published: make(map[uint64]bool),
	}
}

// SetNextTicketID positions the id counter, used to seed a store
func (s *MemoryRegistryStore) SetNextTicketID(next domain.TicketID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID = uint64(next)
}

// WithTx runs fn with exclusive access and commits its staged writes on success
func (s *MemoryRegistryStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx RegistryTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newMemoryTx(s)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx.commit()
	return nil
}

// View runs fn under a shared lock against committed state
func (s *MemoryRegistryStore) View(ctx context.Context, fn func(ctx context.Context, r RegistryReader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(ctx, memoryReader{s: s})
}

// Close is a no-op
func (s *MemoryRegistryStore) Close() error {
	return nil
}

// ListEvents returns committed events after the given sequence
func (s *MemoryRegistryStore) ListEvents(ctx context.Context, after uint64, limit int) ([]*domain.RegistryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.RegistryEvent
	// sequences are 1-based and dense, so event seq n sits at index n-1
	for i := after; i < uint64(len(s.events)) && len(out) < limit; i++ {
		out = append(out, copyEvent(s.events[i]))
	}
	return out, nil
}

// ListUnpublished returns committed events not yet marked published
func (s *MemoryRegistryStore) ListUnpublished(ctx context.Context, limit int) ([]*domain.RegistryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.RegistryEvent
	for _, e := range s.events {
		if len(out) >= limit {
			break
		}
		if !s.published[e.Sequence] {
			out = append(out, copyEvent(e))
		}
	}
	return out, nil
}

// MarkPublished flags events as relayed
func (s *MemoryRegistryStore) MarkPublished(ctx context.Context, sequences []uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, seq := range sequences {
		s.published[seq] = true
	}
	return nil
}

// HasEvent reports whether a committed event carries the given id
func (s *MemoryRegistryStore) HasEvent(ctx context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.events {
		if e.EventID == eventID {
			return true, nil
		}
	}
	return false, nil
}

// ClaimUnpublished hands one batch to fn while holding the relay claim
func (s *MemoryRegistryStore) ClaimUnpublished(ctx context.Context, limit int, fn func(ctx context.Context, events []*domain.RegistryEvent) []uint64) (bool, error) {
	if !s.relayMu.TryLock() {
		return false, nil
	}
	defer s.relayMu.Unlock()

	events, err := s.ListUnpublished(ctx, limit)
	if err != nil {
		return true, err
	}
	if len(events) == 0 {
		return true, nil
	}
	return true, s.MarkPublished(ctx, fn(ctx, events))
}

// memoryReader reads committed state; callers hold the lock
type memoryReader struct {
	s *MemoryRegistryStore
}

func (r memoryReader) GetTicket(ctx context.Context, id domain.TicketID) (*domain.Ticket, error) {
	t, ok := r.s.tickets[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r memoryReader) ListOwnerTickets(ctx context.Context, owner domain.AccountID) ([]domain.TicketID, error) {
	return slices.Clone(r.s.owners[owner]), nil
}

func (r memoryReader) GetListing(ctx context.Context, id domain.TicketID) (*domain.Listing, error) {
	l, ok := r.s.listings[id]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

// memoryTx overlays staged writes on top of committed state
type memoryTx struct {
	s               *MemoryRegistryStore
	tickets         map[domain.TicketID]*domain.Ticket
	owners          map[domain.AccountID][]domain.TicketID
	listings        map[domain.TicketID]*domain.Listing
	deletedListings map[domain.TicketID]bool
	nextID          *uint64
	events          []*domain.RegistryEvent
}

func newMemoryTx(s *MemoryRegistryStore) *memoryTx {
	return &memoryTx{
		s:               s,
		tickets:         make(map[domain.TicketID]*domain.Ticket),
		owners:          make(map[domain.AccountID][]domain.TicketID),
		listings:        make(map[domain.TicketID]*domain.Listing),
		deletedListings: make(map[domain.TicketID]bool),
	}
}

func (tx *memoryTx) GetTicket(ctx context.Context, id domain.TicketID) (*domain.Ticket, error) {
	if t, ok := tx.tickets[id]; ok {
		cp := *t
		return &cp, nil
	}
	return memoryReader{s: tx.s}.GetTicket(ctx, id)
}

func (tx *memoryTx) ListOwnerTickets(ctx context.Context, owner domain.AccountID) ([]domain.TicketID, error) {
	if ids, ok := tx.owners[owner]; ok {
		return slices.Clone(ids), nil
	}
	return memoryReader{s: tx.s}.ListOwnerTickets(ctx, owner)
}

func (tx *memoryTx) GetListing(ctx context.Context, id domain.TicketID) (*domain.Listing, error) {
	if tx.deletedListings[id] {
		return nil, nil
	}
	if l, ok := tx.listings[id]; ok {
		cp := *l
		return &cp, nil
	}
	return memoryReader{s: tx.s}.GetListing(ctx, id)
}

func (tx *memoryTx) AllocateTicketID(ctx context.Context) (domain.TicketID, error) {
	next := tx.s.nextID
	if tx.nextID != nil {
		next = *tx.nextID
	}

	id := domain.TicketID(next)
	if next == math.MaxUint64 {
		existing, err := tx.GetTicket(ctx, id)
		if err != nil {
			return 0, err
		}
		if existing != nil {
			return 0, domain.ErrTicketIDsExhausted
		}
	} else {
		next++
	}

	tx.nextID = &next
	return id, nil
}

func (tx *memoryTx) PutTicket(ctx context.Context, ticket *domain.Ticket) error {
	cp := *ticket
	tx.tickets[ticket.ID] = &cp
	return nil
}

func (tx *memoryTx) AddOwnerTicket(ctx context.Context, owner domain.AccountID, id domain.TicketID) error {
	ids, _ := tx.ListOwnerTickets(ctx, owner)
	if slices.Contains(ids, id) {
		return nil
	}
	tx.owners[owner] = append(ids, id)
	return nil
}

func (tx *memoryTx) RemoveOwnerTicket(ctx context.Context, owner domain.AccountID, id domain.TicketID) error {
	ids, _ := tx.ListOwnerTickets(ctx, owner)
	tx.owners[owner] = slices.DeleteFunc(ids, func(v domain.TicketID) bool { return v == id })
	return nil
}

func (tx *memoryTx) PutListing(ctx context.Context, listing *domain.Listing) error {
	cp := *listing
	delete(tx.deletedListings, listing.TicketID)
	tx.listings[listing.TicketID] = &cp
	return nil
}

func (tx *memoryTx) DeleteListing(ctx context.Context, id domain.TicketID) error {
	delete(tx.listings, id)
	tx.deletedListings[id] = true
	return nil
}

func (tx *memoryTx) AppendEvent(ctx context.Context, event *domain.RegistryEvent) error {
	tx.events = append(tx.events, copyEvent(event))
	return nil
}

// commit applies staged writes; caller holds the write lock
func (tx *memoryTx) commit() {
	s := tx.s
	for id, t := range tx.tickets {
		s.tickets[id] = t
	}
	for owner, ids := range tx.owners {
		if len(ids) == 0 {
			delete(s.owners, owner)
			continue
		}
		s.owners[owner] = ids
	}
	for id := range tx.deletedListings {
		delete(s.listings, id)
	}
	for id, l := range tx.listings {
		s.listings[id] = l
	}
	if tx.nextID != nil {
		s.nextID = *tx.nextID
	}
	for _, e := range tx.events {
		e.Sequence = uint64(len(s.events)) + 1
		s.events = append(s.events, e)
	}
}

func copyEvent(e *domain.RegistryEvent) *domain.RegistryEvent {
	cp := *e
	cp.Payload = slices.Clone(e.Payload)
	return &cp
}
