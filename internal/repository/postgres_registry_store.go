package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prohmpiriya/ticket-registry/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

const (
	// registryLockKey is the advisory lock serializing registry writers
	registryLockKey int64 = 0x7469636b6574 // "ticket"
	// relayLockKey is the advisory lock held by the one relay draining the outbox
	relayLockKey int64 = 0x72656c6179 // "relay"
)

// PostgresRegistryStore implements Store on PostgreSQL.
// uint64 ids, prices and the counter are stored as the int64 with the same bits.
type PostgresRegistryStore struct {
	pool *pgxpool.Pool
}

// NewPostgresRegistryStore creates a new PostgresRegistryStore
func NewPostgresRegistryStore(pool *pgxpool.Pool) *PostgresRegistryStore {
	return &PostgresRegistryStore{pool: pool}
}

// EnsureSchema creates registry tables if they do not exist
func (s *PostgresRegistryStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply registry schema: %w", err)
	}
	return nil
}

// WithTx runs fn inside a transaction holding the registry advisory lock
func (s *PostgresRegistryStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx RegistryTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// no-op after a successful commit
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, registryLockKey); err != nil {
		return fmt.Errorf("failed to acquire registry lock: %w", err)
	}

	if err := fn(ctx, &postgresTx{q: tx}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// a cancel during COMMIT would close the connection and leave the outcome unknown
	if err := tx.Commit(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// View runs fn in a read-only repeatable-read transaction
func (s *PostgresRegistryStore) View(ctx context.Context, fn func(ctx context.Context, r RegistryReader) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	return fn(ctx, &postgresTx{q: tx})
}

// Close is a no-op; the pool is owned by the caller
func (s *PostgresRegistryStore) Close() error {
	return nil
}

// ListEvents returns committed events after the given sequence
func (s *PostgresRegistryStore) ListEvents(ctx context.Context, after uint64, limit int) ([]*domain.RegistryEvent, error) {
	if after > math.MaxInt64 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT sequence, event_id::text, event_type, ticket_id, occurred_at, payload
		FROM registry_events
		WHERE sequence > $1
		ORDER BY sequence
		LIMIT $2`, int64(after), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return scanEvents(rows)
}

// ListUnpublished returns committed events with no published_at, oldest first
func (s *PostgresRegistryStore) ListUnpublished(ctx context.Context, limit int) ([]*domain.RegistryEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT sequence, event_id::text, event_type, ticket_id, occurred_at, payload
		FROM registry_events
		WHERE published_at IS NULL
		ORDER BY sequence
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unpublished events: %w", err)
	}
	return scanEvents(rows)
}

const markPublishedSQL = `UPDATE registry_events SET published_at = NOW() WHERE sequence = ANY($1) AND published_at IS NULL`

// MarkPublished sets published_at on the given events
func (s *PostgresRegistryStore) MarkPublished(ctx context.Context, sequences []uint64) error {
	if len(sequences) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, markPublishedSQL, toInt64s(sequences))
	if err != nil {
		return fmt.Errorf("failed to mark events published: %w", err)
	}
	return nil
}

// HasEvent reports whether a committed event carries the given id
func (s *PostgresRegistryStore) HasEvent(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM registry_events WHERE event_id = $1)`, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to look up event: %w", err)
	}
	return exists, nil
}

// ClaimUnpublished hands one batch to fn inside a transaction holding the relay lock.
// Published sequences are marked in the same transaction.
func (s *PostgresRegistryStore) ClaimUnpublished(ctx context.Context, limit int, fn func(ctx context.Context, events []*domain.RegistryEvent) []uint64) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return false, fmt.Errorf("failed to begin relay transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	var claimed bool
	if err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1)`, relayLockKey).Scan(&claimed); err != nil {
		return false, fmt.Errorf("failed to acquire relay lock: %w", err)
	}
	if !claimed {
		return false, nil
	}

	rows, err := tx.Query(ctx, `
		SELECT sequence, event_id::text, event_type, ticket_id, occurred_at, payload
		FROM registry_events
		WHERE published_at IS NULL
		ORDER BY sequence
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return true, fmt.Errorf("failed to claim unpublished events: %w", err)
	}
	events, err := scanEvents(rows)
	if err != nil {
		return true, err
	}
	if len(events) == 0 {
		return true, nil
	}

	published := fn(ctx, events)
	if len(published) == 0 {
		return true, nil
	}
	if _, err := tx.Exec(ctx, markPublishedSQL, toInt64s(published)); err != nil {
		return true, fmt.Errorf("failed to mark events published: %w", err)
	}
	// the events are already on the broker; a late cancel must not roll the marks back
	if err := tx.Commit(context.WithoutCancel(ctx)); err != nil {
		return true, fmt.Errorf("failed to commit relay batch: %w", err)
	}
	return true, nil
}

func toInt64s(values []uint64) []int64 {
	out := make([]int64, len(values))
	for i, v := range values {
		out[i] = int64(v)
	}
	return out
}

func scanEvents(rows pgx.Rows) ([]*domain.RegistryEvent, error) {
	defer rows.Close()

	var events []*domain.RegistryEvent
	for rows.Next() {
		var (
			seq, ticketID int64
			eventType     string
			e             domain.RegistryEvent
		)
		if err := rows.Scan(&seq, &e.EventID, &eventType, &ticketID, &e.OccurredAt, &e.Payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Sequence = uint64(seq)
		e.Type = domain.RegistryEventType(eventType)
		e.TicketID = domain.TicketID(uint64(ticketID))
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}

type postgresTx struct {
	q pgx.Tx
}

func (t *postgresTx) GetTicket(ctx context.Context, id domain.TicketID) (*domain.Ticket, error) {
	var (
		ticket domain.Ticket
		rawID  int64
		owner  string
	)
	err := t.q.QueryRow(ctx, `
		SELECT id, event_name, expiration_date, owner
		FROM tickets WHERE id = $1`, int64(id)).Scan(&rawID, &ticket.EventName, &ticket.ExpirationDate, &owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	ticket.ID = domain.TicketID(uint64(rawID))
	ticket.Owner = domain.AccountID(owner)
	return &ticket, nil
}

func (t *postgresTx) ListOwnerTickets(ctx context.Context, owner domain.AccountID) ([]domain.TicketID, error) {
	rows, err := t.q.Query(ctx, `
		SELECT ticket_id FROM owner_tickets
		WHERE owner = $1
		ORDER BY position`, string(owner))
	if err != nil {
		return nil, fmt.Errorf("failed to list owner tickets: %w", err)
	}

	raw, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to scan owner tickets: %w", err)
	}

	ids := make([]domain.TicketID, len(raw))
	for i, v := range raw {
		ids[i] = domain.TicketID(uint64(v))
	}
	return ids, nil
}

func (t *postgresTx) GetListing(ctx context.Context, id domain.TicketID) (*domain.Listing, error) {
	var price int64
	err := t.q.QueryRow(ctx, `SELECT price FROM listings WHERE ticket_id = $1`, int64(id)).Scan(&price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	return &domain.Listing{TicketID: id, Price: uint64(price)}, nil
}

func (t *postgresTx) AllocateTicketID(ctx context.Context) (domain.TicketID, error) {
	var raw int64
	err := t.q.QueryRow(ctx, `SELECT next_id FROM registry_counter WHERE id = 1 FOR UPDATE`).Scan(&raw)
	if err != nil {
		return 0, fmt.Errorf("failed to read ticket counter: %w", err)
	}

	next := uint64(raw)
	id := domain.TicketID(next)
	if next == math.MaxUint64 {
		existing, err := t.GetTicket(ctx, id)
		if err != nil {
			return 0, err
		}
		if existing != nil {
			return 0, domain.ErrTicketIDsExhausted
		}
		return id, nil
	}

	if _, err := t.q.Exec(ctx, `UPDATE registry_counter SET next_id = $1 WHERE id = 1`, int64(next+1)); err != nil {
		return 0, fmt.Errorf("failed to advance ticket counter: %w", err)
	}
	return id, nil
}

func (t *postgresTx) PutTicket(ctx context.Context, ticket *domain.Ticket) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO tickets (id, event_name, expiration_date, owner)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET event_name = EXCLUDED.event_name,
			expiration_date = EXCLUDED.expiration_date,
			owner = EXCLUDED.owner,
			updated_at = NOW()`,
		int64(ticket.ID), ticket.EventName, ticket.ExpirationDate, string(ticket.Owner))
	if err != nil {
		return fmt.Errorf("failed to put ticket: %w", err)
	}
	return nil
}

func (t *postgresTx) AddOwnerTicket(ctx context.Context, owner domain.AccountID, id domain.TicketID) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO owner_tickets (owner, ticket_id) VALUES ($1, $2)
		ON CONFLICT (owner, ticket_id) DO NOTHING`, string(owner), int64(id))
	if err != nil {
		return fmt.Errorf("failed to add owner ticket: %w", err)
	}
	return nil
}

func (t *postgresTx) RemoveOwnerTicket(ctx context.Context, owner domain.AccountID, id domain.TicketID) error {
	_, err := t.q.Exec(ctx, `DELETE FROM owner_tickets WHERE owner = $1 AND ticket_id = $2`, string(owner), int64(id))
	if err != nil {
		return fmt.Errorf("failed to remove owner ticket: %w", err)
	}
	return nil
}

func (t *postgresTx) PutListing(ctx context.Context, listing *domain.Listing) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO listings (ticket_id, price) VALUES ($1, $2)
		ON CONFLICT (ticket_id) DO UPDATE SET price = EXCLUDED.price, listed_at = NOW()`,
		int64(listing.TicketID), int64(listing.Price))
	if err != nil {
		return fmt.Errorf("failed to put listing: %w", err)
	}
	return nil
}

func (t *postgresTx) DeleteListing(ctx context.Context, id domain.TicketID) error {
	if _, err := t.q.Exec(ctx, `DELETE FROM listings WHERE ticket_id = $1`, int64(id)); err != nil {
		return fmt.Errorf("failed to delete listing: %w", err)
	}
	return nil
}

func (t *postgresTx) AppendEvent(ctx context.Context, event *domain.RegistryEvent) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO registry_events (event_id, event_type, ticket_id, occurred_at, payload)
		VALUES ($1, $2, $3, $4, $5)`,
		event.EventID, string(event.Type), int64(event.TicketID), event.OccurredAt, []byte(event.Payload))
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}
