package errctx_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlvfram/tlvfram/errctx"
)

func TestSetIgnoresNilError(t *testing.T) {
	t.Parallel()

	c := errctx.New(4)
	c.Set(errctx.Entry{Err: nil, Tag: 1})

	_, ok := c.Last()
	assert.False(t, ok)
}

func TestLastReturnsMostRecentEntry(t *testing.T) {
	t.Parallel()

	c := errctx.New(0)

	errA := errors.New("a")
	errB := errors.New("b")

	c.Set(errctx.Entry{Err: errA, Tag: 1})
	c.Set(errctx.Entry{Err: errB, Tag: 2})

	last, ok := c.Last()
	require.True(t, ok)
	assert.Equal(t, errB, last.Err)
	assert.Equal(t, uint16(2), last.Tag)
}

func TestHistoryDisabledWhenDepthZero(t *testing.T) {
	t.Parallel()

	c := errctx.New(0)
	c.Set(errctx.Entry{Err: errors.New("x"), Tag: 1})

	assert.Nil(t, c.History())
}

func TestHistoryOrdersOldestFirstBeforeWrapping(t *testing.T) {
	t.Parallel()

	c := errctx.New(3)

	e1 := errors.New("1")
	e2 := errors.New("2")

	c.Set(errctx.Entry{Err: e1, Tag: 1})
	c.Set(errctx.Entry{Err: e2, Tag: 2})

	hist := c.History()
	require.Len(t, hist, 2)
	assert.Equal(t, e1, hist[0].Err)
	assert.Equal(t, e2, hist[1].Err)
}

func TestHistoryWrapsAroundCircularBuffer(t *testing.T) {
	t.Parallel()

	c := errctx.New(2)

	e1 := errors.New("1")
	e2 := errors.New("2")
	e3 := errors.New("3")

	c.Set(errctx.Entry{Err: e1, Tag: 1})
	c.Set(errctx.Entry{Err: e2, Tag: 2})
	c.Set(errctx.Entry{Err: e3, Tag: 3})

	hist := c.History()
	require.Len(t, hist, 2)
	assert.Equal(t, e2, hist[0].Err)
	assert.Equal(t, e3, hist[1].Err)
}

func TestClearResetsLastAndHistory(t *testing.T) {
	t.Parallel()

	c := errctx.New(2)
	c.Set(errctx.Entry{Err: errors.New("x"), Tag: 1})

	c.Clear()

	_, ok := c.Last()
	assert.False(t, ok)
	assert.Empty(t, c.History())
}
