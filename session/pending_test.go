package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/genloop/core"
)

func TestPendingStore_TakeOnce(t *testing.T) {
	store := NewPendingStore()
	history := core.History{core.NewTextContent(core.RoleUser, "before")}
	store.Put(core.PendingSelection{ID: "p1", Message: "draw", History: history})

	p, err := store.Take("p1")
	require.NoError(t, err)
	assert.Equal(t, "draw", p.Message)
	assert.Equal(t, history, p.History)
	assert.False(t, p.CreatedAt.IsZero())

	_, err = store.Take("p1")
	assert.ErrorIs(t, err, ErrSelectionNotFound)
}

func TestPendingStore_Discard(t *testing.T) {
	store := NewPendingStore()
	history := core.History{core.NewTextContent(core.RoleUser, "before")}
	store.Put(core.PendingSelection{ID: "p1", History: history})

	got, err := store.Discard("p1")
	require.NoError(t, err)
	assert.Equal(t, history, got)
	assert.Equal(t, 0, store.Len())

	_, err = store.Discard("p1")
	assert.ErrorIs(t, err, ErrSelectionNotFound)
}

func TestPendingStore_Expires(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	store := NewPendingStore(func(o *PendingStoreOptions) {
		o.TTL = time.Minute
		o.Now = func() time.Time { return now }
	})
	store.Put(core.PendingSelection{ID: "p1"})
	assert.Equal(t, 1, store.Len())

	now = now.Add(2 * time.Minute)
	_, err := store.Take("p1")
	assert.ErrorIs(t, err, ErrSelectionNotFound)
}

func TestPendingStore_ClonesHistory(t *testing.T) {
	store := NewPendingStore()
	history := core.History{core.NewTextContent(core.RoleUser, "before")}
	store.Put(core.PendingSelection{ID: "p1", History: history})

	history[0].Parts[0] = core.TextPart{Text: "mutated"}

	p, err := store.Take("p1")
	require.NoError(t, err)
	assert.Equal(t, "before", p.History[0].Parts[0].(core.TextPart).Text)
}

func TestPendingStore_ExpiresAt(t *testing.T) {
	created := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	store := NewPendingStore(func(o *PendingStoreOptions) { o.TTL = time.Minute })
	assert.Equal(t, created.Add(time.Minute), store.ExpiresAt(core.PendingSelection{CreatedAt: created}))

	forever := NewPendingStore(func(o *PendingStoreOptions) { o.TTL = 0 })
	assert.True(t, forever.ExpiresAt(core.PendingSelection{CreatedAt: created}).IsZero())
}
