package repository

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/ticket-registry/internal/domain"
)

// setupPostgresStore connects to TEST_DATABASE_URL and resets registry tables
func setupPostgresStore(t *testing.T) *PostgresRegistryStore {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store := NewPostgresRegistryStore(pool)
	require.NoError(t, store.EnsureSchema(ctx))

	_, err = pool.Exec(ctx, `TRUNCATE registry_events, listings, owner_tickets, tickets RESTART IDENTITY`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `UPDATE registry_counter SET next_id = 0 WHERE id = 1`)
	require.NoError(t, err)

	return store
}

func TestPostgresRegistryStore_CommitRollback(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()

	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx RegistryTx) error {
		issueIn(t, ctx, tx, "alice")
		issueIn(t, ctx, tx, "alice")
		return tx.PutListing(ctx, &domain.Listing{TicketID: 1, Price: math.MaxUint64})
	}))

	boom := errors.New("settlement failed")
	err := store.WithTx(ctx, func(ctx context.Context, tx RegistryTx) error {
		require.NoError(t, tx.RemoveOwnerTicket(ctx, "alice", 1))
		require.NoError(t, tx.AddOwnerTicket(ctx, "bob", 1))
		require.NoError(t, tx.PutTicket(ctx, &domain.Ticket{ID: 1, EventName: "Concert", Owner: "bob"}))
		require.NoError(t, tx.DeleteListing(ctx, 1))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, store.View(ctx, func(ctx context.Context, r RegistryReader) error {
		ticket, err := r.GetTicket(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, domain.AccountID("alice"), ticket.Owner)

		ids, err := r.ListOwnerTickets(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, []domain.TicketID{0, 1}, ids)

		listing, err := r.GetListing(ctx, 1)
		require.NoError(t, err)
		require.NotNil(t, listing)
		assert.Equal(t, uint64(math.MaxUint64), listing.Price)

		missing, err := r.GetListing(ctx, 0)
		assert.NoError(t, err)
		assert.Nil(t, missing)
		return nil
	}))
}

func TestPostgresRegistryStore_EventOutbox(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()

	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx RegistryTx) error {
		issueIn(t, ctx, tx, "alice")
		issueIn(t, ctx, tx, "bob")
		return nil
	}))

	pending, err := store.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, domain.EventTicketIssued, pending[0].Type)

	var issued domain.TicketIssued
	require.NoError(t, pending[1].DecodePayload(&issued))
	assert.Equal(t, domain.AccountID("bob"), issued.Owner)

	require.NoError(t, store.MarkPublished(ctx, []uint64{pending[0].Sequence}))
	pending, err = store.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	all, err := store.ListEvents(ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestPostgresRegistryStore_CounterSaturates(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()

	_, err := store.pool.Exec(ctx, `UPDATE registry_counter SET next_id = $1 WHERE id = 1`, int64(-1))
	require.NoError(t, err)

	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx RegistryTx) error {
		assert.Equal(t, domain.TicketID(math.MaxUint64), issueIn(t, ctx, tx, "alice"))
		return nil
	}))

	err = store.WithTx(ctx, func(ctx context.Context, tx RegistryTx) error {
		_, err := tx.AllocateTicketID(ctx)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrTicketIDsExhausted)
}

func TestPostgresRegistryStore_CanceledContextRollsBack(t *testing.T) {
	store := setupPostgresStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	err := store.WithTx(ctx, func(txCtx context.Context, tx RegistryTx) error {
		issueIn(t, txCtx, tx, "alice")
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	all, err := store.ListEvents(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestPostgresRegistryStore_HasEventAndClaim(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()

	event := domain.NewTicketIssuedEvent(0, "alice")
	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx RegistryTx) error {
		id, err := tx.AllocateTicketID(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.PutTicket(ctx, &domain.Ticket{ID: id, EventName: "Concert", Owner: "alice"}))
		require.NoError(t, tx.AddOwnerTicket(ctx, "alice", id))
		return tx.AppendEvent(ctx, event)
	}))

	found, err := store.HasEvent(ctx, event.EventID)
	require.NoError(t, err)
	assert.True(t, found)

	found, err = store.HasEvent(ctx, domain.NewTicketIssuedEvent(9, "bob").EventID)
	require.NoError(t, err)
	assert.False(t, found)

	claimed, err := store.ClaimUnpublished(ctx, 10, func(ctx context.Context, events []*domain.RegistryEvent) []uint64 {
		require.Len(t, events, 1)

		again, err := store.ClaimUnpublished(ctx, 10, func(ctx context.Context, events []*domain.RegistryEvent) []uint64 {
			t.Fatal("second claim must not receive events")
			return nil
		})
		require.NoError(t, err)
		assert.False(t, again)

		return []uint64{events[0].Sequence}
	})
	require.NoError(t, err)
	assert.True(t, claimed)

	pending, err := store.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
