package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/tanya/internal/models"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestStore_PutGet(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			in := &models.Session{
				ID:           "s1",
				NextSeq:      2,
				CreatedAt:    base,
				LastActivity: base.Add(time.Minute),
				Turns: []models.Turn{
					{Seq: 0, Role: models.RoleUser, Text: "what is metformin", Timestamp: base, TokenCount: 3},
					{Seq: 1, Role: models.RoleAssistant, Text: "a diabetes drug", Timestamp: base.Add(time.Minute), TokenCount: 3, Citations: []string{"guide#0"}},
				},
			}
			require.NoError(t, store.Put(ctx, in))

			got, err := store.Get(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, 2, got.NextSeq)
			assert.True(t, got.LastActivity.Equal(in.LastActivity))
			require.Len(t, got.Turns, 2)
			assert.Equal(t, models.RoleAssistant, got.Turns[1].Role)
			assert.Equal(t, []string{"guide#0"}, got.Turns[1].Citations)
			assert.Nil(t, got.Turns[0].Citations)
			assert.True(t, got.Turns[1].Timestamp.Equal(in.Turns[1].Timestamp))

			got.Turns[1].Citations[0] = "changed"
			again, err := store.Get(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, "guide#0", again.Turns[1].Citations[0])
		})
	}
}

func TestStore_PutReplacesTurns(t *testing.T) {
	now := time.Now()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := &models.Session{ID: "s", CreatedAt: now, LastActivity: now, Turns: []models.Turn{
				{Seq: 0, Role: models.RoleUser, Text: "a", Timestamp: now},
				{Seq: 1, Role: models.RoleAssistant, Text: "b", Timestamp: now},
			}, NextSeq: 2}
			require.NoError(t, store.Put(ctx, s))
			s.Turns = s.Turns[1:]
			require.NoError(t, store.Put(ctx, s))

			got, err := store.Get(ctx, "s")
			require.NoError(t, err)
			require.Len(t, got.Turns, 1)
			assert.Equal(t, 1, got.Turns[0].Seq)
		})
	}
}

func TestStore_PutRenewedSessionResetsCreatedAt(t *testing.T) {
	old := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	renewed := old.Add(48 * time.Hour)
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Put(ctx, &models.Session{ID: "s", NextSeq: 1, CreatedAt: old, LastActivity: old,
				Turns: []models.Turn{{Seq: 0, Role: models.RoleUser, Text: "old question", Timestamp: old}}}))
			require.NoError(t, store.Put(ctx, &models.Session{ID: "s", CreatedAt: renewed, LastActivity: renewed}))

			got, err := store.Get(ctx, "s")
			require.NoError(t, err)
			assert.True(t, got.CreatedAt.Equal(renewed), "created_at = %s", got.CreatedAt)
			assert.Zero(t, got.NextSeq)
			assert.Empty(t, got.Turns)
		})
	}
}

func TestStore_NotFoundAndDelete(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := store.Get(ctx, "missing")
			assert.ErrorIs(t, err, models.ErrSessionNotFound)

			now := time.Now()
			require.NoError(t, store.Put(ctx, &models.Session{ID: "s", CreatedAt: now, LastActivity: now}))
			n, err := store.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			require.NoError(t, store.Delete(ctx, "s"))
			require.NoError(t, store.Delete(ctx, "s"))
			_, err = store.Get(ctx, "s")
			assert.ErrorIs(t, err, models.ErrSessionNotFound)
		})
	}
}

func TestStore_IdleSince(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i, id := range []string{"old", "mid", "new"} {
				at := base.Add(time.Duration(i) * time.Hour)
				require.NoError(t, store.Put(ctx, &models.Session{ID: id, CreatedAt: at, LastActivity: at}))
			}
			ids, err := store.IdleSince(ctx, base.Add(90*time.Minute))
			require.NoError(t, err)
			assert.Equal(t, []string{"mid", "old"}, ids)

			loc := time.FixedZone("KST", 9*3600)
			ids, err = store.IdleSince(ctx, base.Add(30*time.Minute).In(loc))
			require.NoError(t, err)
			assert.Equal(t, []string{"old"}, ids)
		})
	}
}
