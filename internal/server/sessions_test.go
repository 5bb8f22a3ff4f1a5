package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessions_NewQueryCancelsPrevious(t *testing.T) {
	reg := newSessionRegistry()

	ctx1, done1 := reg.begin(context.Background(), "s1")
	defer done1()

	ctx2, done2 := reg.begin(context.Background(), "s1")
	defer done2()

	assert.ErrorIs(t, ctx1.Err(), context.Canceled, "submitting a query cancels the session's previous search")
	require.NoError(t, ctx2.Err(), "the newest search keeps running")
}

func TestSessions_DifferentSessionsAreIndependent(t *testing.T) {
	reg := newSessionRegistry()

	ctx1, done1 := reg.begin(context.Background(), "s1")
	defer done1()

	_, done2 := reg.begin(context.Background(), "s2")
	defer done2()

	assert.NoError(t, ctx1.Err())
}

func TestSessions_DoneCancelsOwnContext(t *testing.T) {
	reg := newSessionRegistry()

	ctx, done := reg.begin(context.Background(), "s1")
	done()

	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestSessions_StaleDoneDoesNotEvictSuccessor(t *testing.T) {
	reg := newSessionRegistry()

	_, done1 := reg.begin(context.Background(), "s1")
	ctx2, done2 := reg.begin(context.Background(), "s1")
	defer done2()

	// The superseded search finishing must not deregister the newer one.
	done1()

	ctx3, done3 := reg.begin(context.Background(), "s1")
	defer done3()

	assert.ErrorIs(t, ctx2.Err(), context.Canceled, "the successor is still registered and gets cancelled by the next query")
	assert.NoError(t, ctx3.Err())
}

func TestSessions_EmptySessionIDIsNotTracked(t *testing.T) {
	reg := newSessionRegistry()

	ctx1, done1 := reg.begin(context.Background(), "")
	defer done1()

	_, done2 := reg.begin(context.Background(), "")
	defer done2()

	assert.NoError(t, ctx1.Err(), "anonymous requests never cancel each other")
}
