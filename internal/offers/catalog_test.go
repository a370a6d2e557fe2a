package offers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xelth-com/eckposgo/internal/models"
	"github.com/xelth-com/eckposgo/internal/store"
)

type fakeOffers struct {
	calls atomic.Int32
	block chan struct{}
	err   error
	list  []models.Offer
}

func (f *fakeOffers) GetOffers(ctx context.Context, profile string) ([]models.Offer, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.list, nil
}

type offline bool

func (o offline) IsOffline() bool { return bool(o) }

func TestEnsureFetchedLoadsOnceAndCaches(t *testing.T) {
	remote := &fakeOffers{list: []models.Offer{{Name: "PR-1"}}}
	st := store.NewMemoryStore()
	c := NewCatalog(remote, st, offline(false))
	ctx := context.Background()

	just, err := c.EnsureFetched(ctx, "Main")
	require.NoError(t, err)
	assert.True(t, just)

	just, err = c.EnsureFetched(ctx, "Main")
	require.NoError(t, err)
	assert.False(t, just)
	assert.Equal(t, int32(1), remote.calls.Load())

	o, ok := c.Find("Main", "PR-1")
	require.True(t, ok)
	assert.Equal(t, "PR-1", o.Name)
	assert.Len(t, st.GetOffers(ctx, "Main"), 1)

	c.Reset("Main")
	assert.False(t, c.HasFetched("Main"))
}

func TestEnsureFetchedSharesInFlightFetch(t *testing.T) {
	remote := &fakeOffers{block: make(chan struct{}), list: []models.Offer{{Name: "PR-1"}}}
	c := NewCatalog(remote, store.NewMemoryStore(), nil)

	var wg sync.WaitGroup
	results := make([]bool, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			just, err := c.EnsureFetched(context.Background(), "Main")
			assert.NoError(t, err)
			results[i] = just
		}(i)
	}
	require.Eventually(t, func() bool { return remote.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(remote.block)
	wg.Wait()

	assert.Equal(t, int32(1), remote.calls.Load())
	assert.Equal(t, []bool{true, true, true}, results)
}

func TestEnsureFetchedOfflineUsesCache(t *testing.T) {
	remote := &fakeOffers{}
	st := store.NewMemoryStore()
	require.NoError(t, st.SaveOffers(context.Background(), "Main", []models.Offer{{Name: "CACHED"}}))
	c := NewCatalog(remote, st, offline(true))

	just, err := c.EnsureFetched(context.Background(), "Main")
	require.NoError(t, err)
	assert.True(t, just)
	assert.Zero(t, remote.calls.Load())
	assert.Len(t, c.Offers("Main"), 1)
}

func TestEnsureFetchedFailureFallsBackAndStops(t *testing.T) {
	remote := &fakeOffers{err: errors.New("boom")}
	st := store.NewMemoryStore()
	require.NoError(t, st.SaveOffers(context.Background(), "Main", []models.Offer{{Name: "CACHED"}}))
	c := NewCatalog(remote, st, nil)

	just, err := c.EnsureFetched(context.Background(), "Main")
	require.NoError(t, err)
	assert.True(t, just)
	assert.Len(t, c.Offers("Main"), 1)

	_, _ = c.EnsureFetched(context.Background(), "Main")
	assert.Equal(t, int32(1), remote.calls.Load())

	_, err = c.EnsureFetched(context.Background(), "")
	assert.Error(t, err)
}

func TestResetStaleRefetchesAfterOfflineStart(t *testing.T) {
	remote := &fakeOffers{list: []models.Offer{{Name: "SERVER"}}}
	st := store.NewMemoryStore()
	require.NoError(t, st.SaveOffers(context.Background(), "Main", []models.Offer{{Name: "CACHED"}}))
	conn := &atomicOffline{}
	conn.v.Store(true)
	c := NewCatalog(remote, st, conn)
	ctx := context.Background()

	_, err := c.EnsureFetched(ctx, "Main")
	require.NoError(t, err)
	assert.True(t, c.IsStale("Main"))
	_, ok := c.Find("Main", "CACHED")
	assert.True(t, ok)

	conn.v.Store(false)
	assert.Equal(t, []string{"Main"}, c.ResetStale())
	assert.False(t, c.HasFetched("Main"))

	just, err := c.EnsureFetched(ctx, "Main")
	require.NoError(t, err)
	assert.True(t, just)
	assert.False(t, c.IsStale("Main"))
	_, ok = c.Find("Main", "SERVER")
	assert.True(t, ok)
	assert.Empty(t, c.ResetStale())
}

func TestResetStaleAfterFailedFetch(t *testing.T) {
	remote := &fakeOffers{err: errors.New("boom")}
	c := NewCatalog(remote, store.NewMemoryStore(), nil)
	ctx := context.Background()

	_, err := c.EnsureFetched(ctx, "Main")
	require.NoError(t, err)
	assert.True(t, c.IsStale("Main"))

	remote.err = nil
	remote.list = []models.Offer{{Name: "PR-1"}}
	c.ResetStale()
	_, err = c.EnsureFetched(ctx, "Main")
	require.NoError(t, err)
	assert.Len(t, c.Offers("Main"), 1)
	assert.Equal(t, int32(2), remote.calls.Load())
}

type atomicOffline struct{ v atomic.Bool }

func (a *atomicOffline) IsOffline() bool { return a.v.Load() }
