package registry

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutAndClaim(t *testing.T) {
	r := New()
	require.NoError(t, r.Put("a", []byte("ab12:cd34"), "h1"))

	rec, err := r.Claim("a")
	require.NoError(t, err)
	assert.Equal(t, "a", rec.ID)
	assert.Equal(t, []byte("ab12:cd34"), rec.EncryptedName)
	assert.Equal(t, "h1", rec.Handle)
	assert.NotZero(t, rec.Claim)
	assert.Equal(t, Claimed, r.State("a"))
}

func TestPut_Duplicate(t *testing.T) {
	r := New()
	require.NoError(t, r.Put("a", []byte("n1"), "h1"))
	assert.ErrorIs(t, r.Put("a", []byte("n2"), "h2"), ErrDuplicateID)

	// The original record is untouched.
	rec, err := r.Claim("a")
	require.NoError(t, err)
	assert.Equal(t, "h1", rec.Handle)
	assert.Equal(t, []byte("n1"), rec.EncryptedName)
}

func TestPut_CopiesName(t *testing.T) {
	r := New()
	name := []byte("name")
	require.NoError(t, r.Put("a", name, "h"))
	name[0] = 'X'

	got, err := r.Peek("a")
	require.NoError(t, err)
	assert.Equal(t, []byte("name"), got)
}

func TestClaim_Unknown(t *testing.T) {
	_, err := New().Claim("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClaim_Twice(t *testing.T) {
	r := New()
	require.NoError(t, r.Put("a", nil, "h"))
	_, err := r.Claim("a")
	require.NoError(t, err)

	_, err = r.Claim("a")
	assert.ErrorIs(t, err, ErrAlreadyClaimed)
}

func TestFinalize(t *testing.T) {
	r := New()
	require.NoError(t, r.Put("a", nil, "h"))
	rec, err := r.Claim("a")
	require.NoError(t, err)

	require.NoError(t, r.Finalize("a", rec.Claim))
	assert.Equal(t, Gone, r.State("a"))
	assert.Equal(t, 0, r.Len())

	_, err = r.Claim("a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFinalize_Idempotent(t *testing.T) {
	r := New()
	require.NoError(t, r.Put("a", nil, "h"))
	rec, err := r.Claim("a")
	require.NoError(t, err)

	require.NoError(t, r.Finalize("a", rec.Claim))
	assert.NoError(t, r.Finalize("a", rec.Claim))
}

func TestFinalize_RequiresClaim(t *testing.T) {
	r := New()
	require.NoError(t, r.Put("a", nil, "h"))
	assert.ErrorIs(t, r.Finalize("a", 1), ErrStaleClaim)
	assert.Equal(t, Available, r.State("a"))
}

func TestRelease(t *testing.T) {
	r := New()
	require.NoError(t, r.Put("a", []byte("n"), "h"))
	rec, err := r.Claim("a")
	require.NoError(t, err)

	require.NoError(t, r.Release("a", rec.Claim))
	assert.Equal(t, Available, r.State("a"))

	again, err := r.Claim("a")
	require.NoError(t, err)
	assert.Greater(t, again.Claim, rec.Claim)
}

func TestRelease_StaleClaimCannotTouchNewClaim(t *testing.T) {
	r := New()
	require.NoError(t, r.Put("a", nil, "h"))
	first, err := r.Claim("a")
	require.NoError(t, err)
	require.NoError(t, r.Release("a", first.Claim))
	second, err := r.Claim("a")
	require.NoError(t, err)

	assert.ErrorIs(t, r.Release("a", first.Claim), ErrStaleClaim)
	assert.ErrorIs(t, r.Finalize("a", first.Claim), ErrStaleClaim)
	assert.Equal(t, Claimed, r.State("a"))

	require.NoError(t, r.Finalize("a", second.Claim))
}

func TestRelease_Unknown(t *testing.T) {
	assert.ErrorIs(t, New().Release("missing", 1), ErrNotFound)
}

func TestPeek(t *testing.T) {
	r := New()
	_, err := r.Peek("a")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, r.Put("a", []byte("n"), "h"))
	name, err := r.Peek("a")
	require.NoError(t, err)
	assert.Equal(t, []byte("n"), name)

	_, err = r.Claim("a")
	require.NoError(t, err)
	_, err = r.Peek("a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "available", Available.String())
	assert.Equal(t, "claimed", Claimed.String())
	assert.Equal(t, "gone", Gone.String())
	assert.Equal(t, "unknown", State(0).String())
}

func TestClaim_ConcurrentExactlyOne(t *testing.T) {
	const workers = 64
	for round := 0; round < 20; round++ {
		r := New()
		id := fmt.Sprintf("id-%d", round)
		require.NoError(t, r.Put(id, nil, "h"))

		var (
			wg      sync.WaitGroup
			won     atomic.Int32
			claimed atomic.Int32
			start   = make(chan struct{})
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := r.Claim(id)
				switch {
				case err == nil:
					won.Add(1)
				case errors.Is(err, ErrAlreadyClaimed):
					claimed.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, int32(1), won.Load())
		assert.Equal(t, int32(workers-1), claimed.Load())
	}
}

func TestDisjointIDs_Concurrent(t *testing.T) {
	r := New()
	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("id-%d", i)
			if !assert.NoError(t, r.Put(id, nil, "h")) {
				return
			}
			rec, err := r.Claim(id)
			if !assert.NoError(t, err) {
				return
			}
			assert.NoError(t, r.Finalize(id, rec.Claim))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, r.Len())
}

func TestDrain(t *testing.T) {
	r := New()
	require.NoError(t, r.Put("a", nil, "h1"))
	require.NoError(t, r.Put("b", nil, "h2"))
	_, err := r.Claim("b")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"h1", "h2"}, r.Drain())
	assert.Equal(t, 0, r.Len())
	_, err = r.Claim("a")
	assert.ErrorIs(t, err, ErrNotFound)
}
