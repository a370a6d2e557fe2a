package sync

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xelth-com/eckposgo/internal/models"
	"github.com/xelth-com/eckposgo/internal/posapi"
	"github.com/xelth-com/eckposgo/internal/store"
)

type fakeReference struct {
	calls      int32
	block      chan struct{}
	historyErr error
}

func (f *fakeReference) GetPaymentMethods(ctx context.Context, profile string) (json.RawMessage, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.block != nil {
		<-f.block
	}
	return json.RawMessage(`[{"mode_of_payment":"Cash","default":1}]`), nil
}

func (f *fakeReference) GetInvoices(ctx context.Context, profile string, limit int) ([]posapi.HistoryInvoice, error) {
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return []posapi.HistoryInvoice{
		{Name: "SINV-1", Customer: "Alice", PostingDate: "2024-03-01", GrandTotal: 10},
		{Name: "SINV-2", Customer: "Bob", PostingDate: "2024-03-05", GrandTotal: 20},
	}, nil
}

func (f *fakeReference) GetUnpaidInvoices(ctx context.Context, profile string, limit int) ([]posapi.HistoryInvoice, error) {
	return []posapi.HistoryInvoice{
		{Name: "SINV-3", Customer: "Alice", PostingDate: "2024-03-02", GrandTotal: 50, OutstandingAmount: 30},
		{Name: "SINV-4", Customer: "Carol", PostingDate: "2024-03-03", GrandTotal: 40, OutstandingAmount: 40},
	}, nil
}

func TestPreloadForOffline(t *testing.T) {
	st := store.NewMemoryStore()
	p := NewPreloader(&fakeReference{}, st, nil)
	ctx := context.Background()

	res, err := p.PreloadForOffline(ctx, "Main")
	require.NoError(t, err)
	assert.True(t, res.PaymentMethods)
	assert.Equal(t, 2, res.History)
	assert.Equal(t, 2, res.Unpaid)

	assert.JSONEq(t, `[{"mode_of_payment":"Cash","default":1}]`, string(st.GetPaymentMethods(ctx, "Main")))

	history := st.QueryInvoiceHistory(ctx, models.HistoryFilter{Customer: "ali"})
	require.Len(t, history, 1)
	assert.Equal(t, "SINV-1", history[0].Name)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), history[0].PostingDate)

	unpaid := st.GetUnpaidInvoices(ctx, "Main")
	require.Len(t, unpaid, 2)
	assert.Equal(t, "SINV-4", unpaid[0].Name)

	summary := UnpaidSummary(ctx, st, "Main")
	assert.Equal(t, 2, summary.Count)
	assert.Equal(t, 70.0, summary.TotalOutstanding)
}

func TestPreloadPartialFailure(t *testing.T) {
	st := store.NewMemoryStore()
	boom := errors.New("history endpoint down")
	p := NewPreloader(&fakeReference{historyErr: boom}, st, nil)

	res, err := p.PreloadForOffline(context.Background(), "Main")
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, res)
	assert.True(t, res.PaymentMethods)
	assert.Zero(t, res.History)
	assert.Equal(t, 2, res.Unpaid)
}

func TestPreloadSharesConcurrentRuns(t *testing.T) {
	ref := &fakeReference{block: make(chan struct{})}
	p := NewPreloader(ref, store.NewMemoryStore(), nil)

	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := p.PreloadForOffline(context.Background(), "Main")
			assert.NoError(t, err)
			done <- struct{}{}
		}()
	}
	require.Eventually(t, func() bool { return atomic.LoadInt32(&ref.calls) == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(ref.block)
	<-done
	<-done
	assert.Equal(t, int32(1), atomic.LoadInt32(&ref.calls))
}

func TestPreloadOfflineAndDefaults(t *testing.T) {
	conn := &fakeConn{}
	conn.offline.Store(true)
	st := store.NewMemoryStore()
	p := NewPreloader(&fakeReference{}, st, conn)

	_, err := p.PreloadForOffline(context.Background(), "Main")
	assert.ErrorIs(t, err, ErrOffline)
	_, err = p.PreloadForOffline(context.Background(), "")
	assert.Error(t, err)

	assert.Equal(t, models.UnpaidSummary{}, UnpaidSummary(context.Background(), st, "Main"))
}
