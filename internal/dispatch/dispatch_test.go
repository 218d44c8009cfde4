package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rlch/lspmux/internal/brokererr"
)

func TestAllVoidSucceedsWhenEveryoneSucceeds(t *testing.T) {
	m := &Multi[struct{}, struct{}]{}
	var called int
	m.OnRequest(func(ctx context.Context, req struct{}) (struct{}, error) {
		called++
		return struct{}{}, nil
	})
	m.OnRequest(func(ctx context.Context, req struct{}) (struct{}, error) {
		called++
		return struct{}{}, nil
	})

	_, err := m.SendRequest(context.Background(), struct{}{}, AllVoid[struct{}])
	require.NoError(t, err)
	require.Equal(t, 2, called)
}

func TestAllVoidReturnsFirstError(t *testing.T) {
	m := &Multi[struct{}, struct{}]{}
	boom := errors.New("boom")
	m.OnRequest(func(ctx context.Context, req struct{}) (struct{}, error) {
		return struct{}{}, boom
	})
	m.OnRequest(func(ctx context.Context, req struct{}) (struct{}, error) {
		return struct{}{}, nil
	})

	_, err := m.SendRequest(context.Background(), struct{}{}, AllVoid[struct{}])
	require.Error(t, err)
}

type editResp struct {
	applied bool
}

func TestSingleHandlerRequiresExactlyOne(t *testing.T) {
	m := &Multi[struct{}, *editResp]{}
	isNil := func(r *editResp) bool { return r == nil }

	m.OnRequest(func(ctx context.Context, req struct{}) (*editResp, error) { return nil, nil })
	m.OnRequest(func(ctx context.Context, req struct{}) (*editResp, error) { return &editResp{applied: true}, nil })
	m.OnRequest(func(ctx context.Context, req struct{}) (*editResp, error) { return nil, nil })

	resp, err := m.SendRequest(context.Background(), struct{}{}, SingleHandler(isNil, false, (*editResp)(nil)))
	require.NoError(t, err)
	require.True(t, resp.applied)
}

func TestSingleHandlerMismatchWithoutDefault(t *testing.T) {
	m := &Multi[struct{}, *editResp]{}
	isNil := func(r *editResp) bool { return r == nil }

	m.OnRequest(func(ctx context.Context, req struct{}) (*editResp, error) { return &editResp{}, nil })
	m.OnRequest(func(ctx context.Context, req struct{}) (*editResp, error) { return &editResp{}, nil })

	_, err := m.SendRequest(context.Background(), struct{}{}, SingleHandler(isNil, false, (*editResp)(nil)))
	require.Error(t, err)
	require.True(t, isHandlerCountMismatch(err))
}

func TestSingleHandlerMismatchFallsBackToDefault(t *testing.T) {
	m := &Multi[struct{}, *editResp]{}
	isNil := func(r *editResp) bool { return r == nil }

	resp, err := m.SendRequest(context.Background(), struct{}{}, SingleHandler(isNil, true, &editResp{applied: false}))
	require.NoError(t, err)
	require.False(t, resp.applied)
}

func isHandlerCountMismatch(err error) bool {
	be, ok := err.(*brokererr.Error)
	return ok && be.Kind == brokererr.HandlerCountMismatch
}

func TestDisposeRemovesSubscriber(t *testing.T) {
	m := &Multi[struct{}, struct{}]{}
	var called int
	d := m.OnRequest(func(ctx context.Context, req struct{}) (struct{}, error) {
		called++
		return struct{}{}, nil
	})
	d.Dispose()

	_, _ = m.SendRequest(context.Background(), struct{}{}, AllVoid[struct{}])
	require.Equal(t, 0, called)
}
