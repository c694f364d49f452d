package pagination

import (
	"context"
	"testing"

	"github.com/bitrix24/b24phpsdk-sub004/internal/testutil"
	"github.com/bitrix24/b24phpsdk-sub004/pkg/batch"
	"github.com/bitrix24/b24phpsdk-sub004/pkg/client"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOffsetTraverser(t *testing.T, ft *testutil.FakeTransport, cfg OffsetConfig) *OffsetTraverser {
	t.Helper()
	o, err := NewOffsetTraverser(ft, batch.NewExecutor(ft, zerolog.Nop()), cfg, zerolog.Nop())
	require.NoError(t, err)
	return o
}

func TestOffsetTraverse_Batched(t *testing.T) {
	ft := testutil.NewFakeTransport()
	seedDeals(ft, 1, 120)
	o := newOffsetTraverser(t, ft, OffsetConfig{})

	seq, err := o.Traverse(context.Background(), "crm.deal.list", ListQuery{})
	require.NoError(t, err)

	assert.Equal(t, idRange(1, 120), collectIDs(t, seq))

	calls := ft.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "crm.deal.list", calls[0].Method)
	assert.Equal(t, "0", calls[0].Params["start"])
	assert.Equal(t, batch.MethodBatch, calls[1].Method)
	assert.Equal(t, []string{"crm.deal.list", "crm.deal.list"}, calls[1].Commands)
}

func TestOffsetTraverse_DescendingOrder(t *testing.T) {
	ft := testutil.NewFakeTransport()
	seedDeals(ft, 1, 70)
	o := newOffsetTraverser(t, ft, OffsetConfig{})

	seq, err := o.Traverse(context.Background(), "crm.deal.list", ListQuery{
		Order: client.Ordered{{Key: "ID", Value: "DESC"}},
	})
	require.NoError(t, err)

	ids := collectIDs(t, seq)
	require.Len(t, ids, 70)
	assert.Equal(t, int64(70), ids[0])
	assert.Equal(t, int64(1), ids[69])
}

func TestOffsetTraverse_PagesPerBatch(t *testing.T) {
	ft := testutil.NewFakeTransport()
	seedDeals(ft, 1, 120)
	o := newOffsetTraverser(t, ft, OffsetConfig{PagesPerBatch: 1})

	seq, err := o.Traverse(context.Background(), "crm.deal.list", ListQuery{})
	require.NoError(t, err)

	assert.Equal(t, idRange(1, 120), collectIDs(t, seq))
	assert.Equal(t, 3, ft.CallCount())
}

func TestOffsetTraverse_Empty(t *testing.T) {
	ft := testutil.NewFakeTransport()
	o := newOffsetTraverser(t, ft, OffsetConfig{})

	seq, err := o.Traverse(context.Background(), "crm.deal.list", ListQuery{})
	require.NoError(t, err)

	assert.Empty(t, collectIDs(t, seq))
	assert.Equal(t, 1, ft.CallCount())
}

func TestOffsetTraverse_Limit(t *testing.T) {
	ft := testutil.NewFakeTransport()
	seedDeals(ft, 1, 200)
	o := newOffsetTraverser(t, ft, OffsetConfig{})

	seq, err := o.Traverse(context.Background(), "crm.deal.list", ListQuery{Limit: 60})
	require.NoError(t, err)

	assert.Equal(t, idRange(1, 60), collectIDs(t, seq))

	calls := ft.Calls()
	require.Len(t, calls, 2)
	assert.Len(t, calls[1].Commands, 1, "only the pages covering the limit are requested")
}

func TestOffsetTraverse_InvalidQuery(t *testing.T) {
	ft := testutil.NewFakeTransport()
	o := newOffsetTraverser(t, ft, OffsetConfig{})

	_, err := o.Traverse(context.Background(), "crm.deal.list", ListQuery{Limit: -5})
	assert.ErrorIs(t, err, batch.ErrInvalidArgument)

	_, err = o.Traverse(context.Background(), "", ListQuery{})
	assert.ErrorIs(t, err, batch.ErrInvalidArgument)

	assert.Equal(t, 0, ft.CallCount())
}

// failingExecutor answers every batch with a portal error per command.
type failingExecutor struct{}

func (failingExecutor) Execute(ctx context.Context, cc *batch.CommandCollection) ([]batch.Result, error) {
	var results []batch.Result
	for _, c := range cc.Commands() {
		results = append(results, batch.Result{
			Key:     c.Key(),
			Command: c,
			Response: &client.Response{
				Error: &client.APIError{Code: "ACCESS_DENIED", Description: "Access denied"},
			},
		})
	}
	return results, nil
}

func TestOffsetTraverse_PageError(t *testing.T) {
	ft := testutil.NewFakeTransport()
	seedDeals(ft, 1, 120)
	o, err := NewOffsetTraverser(ft, failingExecutor{}, OffsetConfig{}, zerolog.Nop())
	require.NoError(t, err)

	seq, err := o.Traverse(context.Background(), "crm.deal.list", ListQuery{})
	require.NoError(t, err)

	items := 0
	var errs []error
	for _, err := range seq {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		items++
	}
	assert.Equal(t, 50, items)
	require.Len(t, errs, 1)

	var apiErr *client.APIError
	require.ErrorAs(t, errs[0], &apiErr)
	assert.Equal(t, "ACCESS_DENIED", apiErr.Code)
}

func TestNewOffsetTraverser(t *testing.T) {
	ft := testutil.NewFakeTransport()

	_, err := NewOffsetTraverser(ft, nil, OffsetConfig{}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewOffsetTraverser(ft, batch.NewExecutor(ft, zerolog.Nop()), OffsetConfig{PagesPerBatch: 51}, zerolog.Nop())
	assert.Error(t, err)
}
