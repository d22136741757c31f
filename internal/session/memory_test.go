package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lead-qualifier/internal/domain"
)

func newSession(phone string) domain.Session {
	return domain.NewSession(phone, "lead-1", "budget", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
}

func TestMemoryStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore(time.Hour, 0)
	require.NoError(t, err)

	_, ok, err := store.Get(ctx, "919876543210")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Put(ctx, newSession("+91 98765 43210")))
	got, ok, err := store.Get(ctx, "919876543210")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "919876543210", got.Phone)
	require.Equal(t, "budget", got.CurrentQuestionID)

	require.NoError(t, store.Delete(ctx, "919876543210"))
	_, ok, err = store.Get(ctx, "919876543210")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStore_PutOverwrites(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore(time.Hour, 0)
	require.NoError(t, err)

	s := newSession("919876543210")
	require.NoError(t, store.Put(ctx, s))
	s.CurrentQuestionID = "group_size"
	require.NoError(t, store.Put(ctx, s))

	got, ok, err := store.Get(ctx, "919876543210")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "group_size", got.CurrentQuestionID)
	require.Equal(t, 1, store.Len())
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore(time.Hour, 0)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, newSession("919876543210")))

	got, _, err := store.Get(ctx, "919876543210")
	require.NoError(t, err)
	got.Record("budget", domain.Response{Value: "x", Timestamp: time.Now()})

	again, _, err := store.Get(ctx, "919876543210")
	require.NoError(t, err)
	require.Empty(t, again.Responses)
}

func TestMemoryStore_ExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore(50*time.Millisecond, 0)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, newSession("919876543210")))

	require.Eventually(t, func() bool {
		_, ok, err := store.Get(ctx, "919876543210")
		return err == nil && !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMemoryStore_GetDoesNotRefreshTTL(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore(150*time.Millisecond, 0)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, newSession("919876543210")))

	deadline := time.Now().Add(400 * time.Millisecond)
	expired := false
	for time.Now().Before(deadline) {
		_, ok, err := store.Get(ctx, "919876543210")
		require.NoError(t, err)
		if !ok {
			expired = true
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.True(t, expired, "reads must not extend the session lifetime")
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore(time.Hour, 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s := newSession("919876543210")
				s.Record("budget", domain.Response{Value: "v", Timestamp: time.Now()})
				_ = store.Put(ctx, s)
				_, _, _ = store.Get(ctx, "919876543210")
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, store.Len())
}

func TestMemoryStore_Close(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore(time.Hour, 0)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, newSession("919876543210")))
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, _, err = store.Get(ctx, "919876543210")
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, store.Put(ctx, newSession("1")), ErrClosed)
}

func TestNewMemoryStore_InvalidTTL(t *testing.T) {
	_, err := NewMemoryStore(0, 0)
	require.Error(t, err)
}
