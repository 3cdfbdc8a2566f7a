package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
	mu  sync.Mutex
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T) (*Store, *MemoryAdapter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	adapter := NewMemoryAdapter()
	store := NewStore(adapter, WithClock(clock.Now))
	require.NoError(t, store.Load(context.Background()))
	return store, adapter, clock
}

// flakyAdapter fails every Save while failing is set
type flakyAdapter struct {
	*MemoryAdapter
	mu      sync.Mutex
	failing bool
}

func (a *flakyAdapter) fail(on bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failing = on
}

func (a *flakyAdapter) Save(ctx context.Context, sessions []Session) error {
	a.mu.Lock()
	failing := a.failing
	a.mu.Unlock()
	if failing {
		return errors.New("disk full")
	}
	return a.MemoryAdapter.Save(ctx, sessions)
}

func sampleSession(id string) Session {
	return Session{
		SessionID:    id,
		AccessCode:   "code-" + id,
		AccessToken:  "token-" + id,
		RefreshToken: "refresh-" + id,
		Scope:        "openid",
	}
}

func TestStore_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	store, adapter, clock := newTestStore(t)

	require.NoError(t, store.Create(ctx, sampleSession("a")))

	persisted, err := adapter.Load(ctx)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, clock.Now().UnixMilli(), persisted[0].CreatedAt)

	tests := []struct {
		field Field
		value string
	}{
		{FieldAccessCode, "code-a"},
		{FieldRefreshToken, "refresh-a"},
		{FieldAccessToken, "token-a"},
		{FieldSessionID, "a"},
	}
	for _, tt := range tests {
		t.Run(string(tt.field), func(t *testing.T) {
			found, err := store.FindBy(ctx, tt.field, tt.value)
			require.NoError(t, err)
			require.NotNil(t, found)
			assert.Equal(t, "a", found.SessionID)
		})
	}

	missing, err := store.FindBy(ctx, FieldAccessCode, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_FindByEmptyValueNeverMatches(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)

	s := sampleSession("a")
	s.AccessCode = ""
	require.NoError(t, store.Create(ctx, s))

	found, err := store.FindBy(ctx, FieldAccessCode, "")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestStore_FindByUnknownField(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)
	require.NoError(t, store.Create(ctx, sampleSession("a")))

	_, err := store.FindBy(ctx, Field("password"), "x")
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestStore_ExpiredSessionsArePruned(t *testing.T) {
	ctx := context.Background()
	store, adapter, clock := newTestStore(t)

	require.NoError(t, store.Create(ctx, sampleSession("old")))
	clock.Advance(30 * time.Minute)
	require.NoError(t, store.Create(ctx, sampleSession("new")))
	clock.Advance(31 * time.Minute)

	found, err := store.FindBy(ctx, FieldAccessCode, "code-old")
	require.NoError(t, err)
	assert.Nil(t, found)

	found, err = store.FindBy(ctx, FieldAccessCode, "code-new")
	require.NoError(t, err)
	assert.NotNil(t, found)

	persisted, err := adapter.Load(ctx)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, "new", persisted[0].SessionID)

	// a second lookup prunes nothing more
	_, err = store.FindBy(ctx, FieldAccessCode, "code-old")
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())
}

func TestStore_SessionExpiresExactlyAtTTL(t *testing.T) {
	ctx := context.Background()
	store, _, clock := newTestStore(t)

	require.NoError(t, store.Create(ctx, sampleSession("a")))
	clock.Advance(DefaultTTL)

	found, err := store.FindBy(ctx, FieldSessionID, "a")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestStore_Remove(t *testing.T) {
	ctx := context.Background()
	store, adapter, _ := newTestStore(t)

	require.NoError(t, store.Create(ctx, sampleSession("a")))
	require.NoError(t, store.Create(ctx, sampleSession("b")))

	require.NoError(t, store.Remove(ctx, "token-a"))
	found, err := store.FindBy(ctx, FieldAccessToken, "token-a")
	require.NoError(t, err)
	assert.Nil(t, found)
	assert.Equal(t, 1, store.Len())

	saves := adapter.Saves()
	require.NoError(t, store.Remove(ctx, "token-unknown"))
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, saves, adapter.Saves())
}

func TestStore_Update(t *testing.T) {
	ctx := context.Background()
	store, adapter, _ := newTestStore(t)
	require.NoError(t, store.Create(ctx, sampleSession("a")))

	updated := sampleSession("a")
	updated.AccessToken = "token-a2"
	updated.RefreshToken = "refresh-a2"
	require.NoError(t, store.Update(ctx, updated))

	old, err := store.FindBy(ctx, FieldRefreshToken, "refresh-a")
	require.NoError(t, err)
	assert.Nil(t, old)

	persisted, err := adapter.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "refresh-a2", persisted[0].RefreshToken)

	err = store.Update(ctx, sampleSession("missing"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_UpdateKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	store, _, clock := newTestStore(t)
	require.NoError(t, store.Create(ctx, sampleSession("a")))
	created := clock.Now().UnixMilli()

	clock.Advance(30 * time.Minute)
	reset := sampleSession("a")
	reset.CreatedAt = 0
	require.NoError(t, store.Update(ctx, reset))

	found, err := store.FindBy(ctx, FieldAccessCode, "code-a")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created, found.CreatedAt)

	extended := sampleSession("a")
	extended.CreatedAt = clock.Now().UnixMilli()
	require.NoError(t, store.Update(ctx, extended))

	clock.Advance(31 * time.Minute)
	found, err = store.FindBy(ctx, FieldAccessCode, "code-a")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestStore_Modify(t *testing.T) {
	ctx := context.Background()
	store, adapter, _ := newTestStore(t)
	require.NoError(t, store.Create(ctx, sampleSession("a")))

	got, err := store.Modify(ctx, FieldRefreshToken, "refresh-a", func(s *Session) error {
		s.RefreshToken = "refresh-a2"
		s.SessionID = "hijacked"
		s.CreatedAt = 1
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a", got.SessionID)
	assert.Equal(t, "refresh-a2", got.RefreshToken)

	persisted, err := adapter.Load(ctx)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, "refresh-a2", persisted[0].RefreshToken)
	assert.NotEqual(t, int64(1), persisted[0].CreatedAt)

	// The old value no longer matches
	again, err := store.Modify(ctx, FieldRefreshToken, "refresh-a", func(*Session) error {
		t.Fatal("fn called for a rotated token")
		return nil
	})
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestStore_ModifyFnErrorLeavesSession(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)
	require.NoError(t, store.Create(ctx, sampleSession("a")))

	boom := errors.New("boom")
	_, err := store.Modify(ctx, FieldAccessCode, "code-a", func(s *Session) error {
		s.AccessCode = ""
		return boom
	})
	assert.ErrorIs(t, err, boom)

	found, err := store.FindBy(ctx, FieldAccessCode, "code-a")
	require.NoError(t, err)
	assert.NotNil(t, found)
}

func TestStore_ModifySerializesSameValue(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)
	require.NoError(t, store.Create(ctx, sampleSession("a")))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		matched int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := store.Modify(ctx, FieldRefreshToken, "refresh-a", func(s *Session) error {
				s.RefreshToken = fmt.Sprintf("refresh-a-%d", i)
				return nil
			})
			assert.NoError(t, err)
			if got != nil {
				mu.Lock()
				matched++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, matched)
}

func TestStore_FailedSaveRollsBack(t *testing.T) {
	ctx := context.Background()
	adapter := &flakyAdapter{MemoryAdapter: NewMemoryAdapter()}
	store := NewStore(adapter)
	require.NoError(t, store.Load(ctx))
	require.NoError(t, store.Create(ctx, sampleSession("a")))

	adapter.fail(true)

	t.Run("create", func(t *testing.T) {
		require.Error(t, store.Create(ctx, sampleSession("b")))
		found, err := store.FindBy(ctx, FieldAccessCode, "code-b")
		require.NoError(t, err)
		assert.Nil(t, found)
		assert.Equal(t, 1, store.Len())
	})

	t.Run("update", func(t *testing.T) {
		updated := sampleSession("a")
		updated.RefreshToken = "refresh-a2"
		require.Error(t, store.Update(ctx, updated))
		found, err := store.FindBy(ctx, FieldRefreshToken, "refresh-a")
		require.NoError(t, err)
		assert.NotNil(t, found)
	})

	t.Run("modify", func(t *testing.T) {
		_, err := store.Modify(ctx, FieldAccessCode, "code-a", func(s *Session) error {
			s.AccessCode = ""
			return nil
		})
		require.Error(t, err)
		found, err := store.FindBy(ctx, FieldAccessCode, "code-a")
		require.NoError(t, err)
		assert.NotNil(t, found)
	})

	t.Run("remove", func(t *testing.T) {
		require.Error(t, store.Remove(ctx, "token-a"))
		found, err := store.FindBy(ctx, FieldAccessToken, "token-a")
		require.NoError(t, err)
		assert.NotNil(t, found)
	})
}

func TestStore_LoadRestoresAndPrunes(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	adapter := NewMemoryAdapter()

	stale := sampleSession("stale")
	stale.CreatedAt = clock.Now().Add(-2 * time.Hour).UnixMilli()
	fresh := sampleSession("fresh")
	fresh.CreatedAt = clock.Now().Add(-time.Minute).UnixMilli()
	require.NoError(t, adapter.Save(ctx, []Session{stale, fresh}))

	store := NewStore(adapter, WithClock(clock.Now))
	require.NoError(t, store.Load(ctx))

	assert.Equal(t, 1, store.Len())
	persisted, err := adapter.Load(ctx)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, "fresh", persisted[0].SessionID)
}

func TestStore_ConcurrentCreates(t *testing.T) {
	ctx := context.Background()
	store, adapter, _ := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := sampleSession(fmt.Sprintf("s%d", i))
			assert.NoError(t, store.Create(ctx, s))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, store.Len())
	persisted, err := adapter.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, persisted, 50)
}
