package sched

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapPreservesOrder(t *testing.T) {
	s := New(4)
	items := []int{5, 1, 4, 2, 3}
	got, err := Map(context.Background(), s, "square", items, func(ctx context.Context, n int) (int, error) {
		time.Sleep(time.Duration(n) * time.Millisecond)
		return n * n, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{25, 1, 16, 4, 9}, got)
}

func TestMapEmpty(t *testing.T) {
	got, err := Map(context.Background(), New(2), "none", []string(nil), func(context.Context, string) (int, error) {
		t.Fatal("called")
		return 0, nil
	})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMapRespectsLimit(t *testing.T) {
	s := New(2)
	var cur, peak atomic.Int32
	items := make([]int, 12)
	_, err := Map(context.Background(), s, "limit", items, func(ctx context.Context, _ int) (int, error) {
		n := cur.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		cur.Add(-1)
		return 0, nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestMapFailsFast(t *testing.T) {
	s := New(1)
	boom := errors.New("compile failed")
	var started atomic.Int32

	items := []int{0, 1, 2, 3, 4, 5}
	got, err := Map(context.Background(), s, "fail", items, func(ctx context.Context, n int) (int, error) {
		started.Add(1)
		if n == 1 {
			return 0, boom
		}
		return n, nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, got)
	// With one slot, nothing after the failing item may start.
	assert.LessOrEqual(t, started.Load(), int32(2))
}

func TestMapCancelsInFlightSiblings(t *testing.T) {
	s := New(4)
	boom := errors.New("boom")
	var cancelled atomic.Bool

	_, err := Map(context.Background(), s, "cancel", []int{0, 1}, func(ctx context.Context, n int) (int, error) {
		if n == 0 {
			return 0, boom
		}
		select {
		case <-ctx.Done():
			cancelled.Store(true)
			return 0, ctx.Err()
		case <-time.After(5 * time.Second):
			return n, nil
		}
	})
	assert.ErrorIs(t, err, boom)
	assert.True(t, cancelled.Load())
}

func TestMapNested(t *testing.T) {
	s := New(2)
	pages := []string{"uprocd", "uprocctl", "u"}
	formats := []string{"roff", "html"}

	got, err := Map(context.Background(), s, "pages", pages, func(ctx context.Context, page string) ([]string, error) {
		return Map(ctx, s, page, formats, func(ctx context.Context, f string) (string, error) {
			return page + "." + f, nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"uprocd.roff", "uprocd.html"},
		{"uprocctl.roff", "uprocctl.html"},
		{"u.roff", "u.html"},
	}, got)
}

func TestMapHonoursParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Map(ctx, New(2), "cancelled", []int{1, 2}, func(ctx context.Context, n int) (int, error) {
		return n, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEach(t *testing.T) {
	var sum atomic.Int32
	err := Each(context.Background(), New(3), "sum", []int32{1, 2, 3}, func(ctx context.Context, n int32) error {
		sum.Add(n)
		return nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 6, sum.Load())
}

func TestNewDefaultsToCPUCount(t *testing.T) {
	assert.Positive(t, New(0).Jobs())
	assert.Equal(t, 3, New(3).Jobs())
}
