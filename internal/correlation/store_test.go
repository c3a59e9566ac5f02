package correlation

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/bridge/internal/domain"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func pending(c *clock, id string, kind domain.InputKind, ttl time.Duration) domain.PendingInput {
	return domain.PendingInput{
		ExecutionID: id,
		Prompt:      "Continue?",
		Kind:        kind,
		Deadline:    c.Now().Add(ttl),
	}
}

func TestRequestAndResolve(t *testing.T) {
	c := newClock()
	s := New(WithClock(c.Now))

	ch, err := s.Request(pending(c, "exec_1", domain.InputKindConfirm, time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Live())

	req, ok := s.Pending("exec_1")
	require.True(t, ok)
	assert.Equal(t, "Continue?", req.Prompt)
	assert.Equal(t, c.Now(), req.CreatedAt)

	require.NoError(t, s.Resolve("exec_1", "yes", domain.InputKindConfirm))

	select {
	case a := <-ch:
		assert.Equal(t, "yes", a.Value)
		assert.Equal(t, domain.InputKindConfirm, a.Kind)
	default:
		t.Fatal("answer not delivered")
	}
	assert.Equal(t, 0, s.Live())

	_, ok = s.Pending("exec_1")
	assert.False(t, ok)
}

func TestSingleLiveRequest(t *testing.T) {
	c := newClock()
	s := New(WithClock(c.Now))

	_, err := s.Request(pending(c, "exec_1", domain.InputKindText, time.Minute))
	require.NoError(t, err)
	_, err = s.Request(pending(c, "exec_1", domain.InputKindText, time.Minute))
	assert.ErrorIs(t, err, ErrPending)

	require.NoError(t, s.Resolve("exec_1", "a", domain.InputKindText))

	// A fresh request after the previous one was answered is allowed.
	_, err = s.Request(pending(c, "exec_1", domain.InputKindText, time.Minute))
	assert.NoError(t, err)
}

func TestResolveErrors(t *testing.T) {
	c := newClock()
	s := New(WithClock(c.Now))

	assert.ErrorIs(t, s.Resolve("exec_missing", "x", domain.InputKindText), ErrNotFound)

	_, err := s.Request(pending(c, "exec_1", domain.InputKindNumber, time.Minute))
	require.NoError(t, err)

	err = s.Resolve("exec_1", "42", domain.InputKindText)
	assert.Equal(t, domain.CodeValidation, domain.CodeOf(err))

	err = s.Resolve("exec_1", "forty-two", domain.InputKindNumber)
	assert.Equal(t, domain.CodeValidation, domain.CodeOf(err))

	// Rejected answers leave the request live.
	assert.Equal(t, 1, s.Live())

	require.NoError(t, s.Resolve("exec_1", "42", domain.InputKindNumber))
	assert.ErrorIs(t, s.Resolve("exec_1", "43", domain.InputKindNumber), ErrAlreadyResolved)
}

func TestConcurrentResolveSingleWinner(t *testing.T) {
	c := newClock()
	s := New(WithClock(c.Now))

	ch, err := s.Request(pending(c, "exec_1", domain.InputKindText, time.Minute))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, lost := 0, 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Resolve("exec_1", "v", domain.InputKindText)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if domain.CodeOf(err) == domain.CodeAlreadyResolved {
				lost++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 19, lost)
	assert.Len(t, ch, 1)
}

func TestLazyExpiry(t *testing.T) {
	c := newClock()
	var expired []string
	s := New(WithClock(c.Now), WithExpiryHandler(func(id string) {
		expired = append(expired, id)
	}))

	_, err := s.Request(pending(c, "exec_1", domain.InputKindConfirm, 5*time.Second))
	require.NoError(t, err)

	c.Advance(5 * time.Second)
	assert.ErrorIs(t, s.Resolve("exec_1", "yes", domain.InputKindConfirm), ErrExpired)
	assert.Equal(t, []string{"exec_1"}, expired)

	// Later answers keep seeing the expired tombstone and the hook fires once.
	assert.ErrorIs(t, s.Resolve("exec_1", "yes", domain.InputKindConfirm), ErrExpired)
	assert.Len(t, expired, 1)
	assert.Equal(t, 0, s.Live())
}

func TestSweep(t *testing.T) {
	c := newClock()
	var mu sync.Mutex
	var expired []string
	s := New(WithClock(c.Now), WithRetention(time.Minute), WithExpiryHandler(func(id string) {
		mu.Lock()
		defer mu.Unlock()
		expired = append(expired, id)
	}))

	_, err := s.Request(pending(c, "exec_short", domain.InputKindText, time.Second))
	require.NoError(t, err)
	_, err = s.Request(pending(c, "exec_long", domain.InputKindText, time.Hour))
	require.NoError(t, err)

	c.Advance(2 * time.Second)
	assert.Equal(t, 1, s.sweep())
	assert.Equal(t, []string{"exec_short"}, expired)

	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, "exec_long", list[0].ExecutionID)

	assert.ErrorIs(t, s.Resolve("exec_short", "x", domain.InputKindText), ErrExpired)

	// Tombstones are pruned after the retention window.
	c.Advance(2 * time.Minute)
	s.sweep()
	assert.ErrorIs(t, s.Resolve("exec_short", "x", domain.InputKindText), ErrNotFound)
}

func TestClose(t *testing.T) {
	c := newClock()
	s := New(WithClock(c.Now))

	_, err := s.Request(pending(c, "exec_cancel", domain.InputKindText, time.Minute))
	require.NoError(t, err)
	_, err = s.Request(pending(c, "exec_timeout", domain.InputKindText, time.Minute))
	require.NoError(t, err)

	s.Close("exec_cancel", false)
	s.Close("exec_timeout", true)

	assert.Equal(t, 0, s.Live())
	assert.ErrorIs(t, s.Resolve("exec_cancel", "x", domain.InputKindText), ErrNotFound)
	assert.ErrorIs(t, s.Resolve("exec_timeout", "x", domain.InputKindText), ErrExpired)
}

func TestListOrder(t *testing.T) {
	c := newClock()
	s := New(WithClock(c.Now))

	for _, id := range []string{"exec_a", "exec_b", "exec_c"} {
		_, err := s.Request(pending(c, id, domain.InputKindText, time.Minute))
		require.NoError(t, err)
		c.Advance(time.Millisecond)
	}

	list := s.List()
	require.Len(t, list, 3)
	assert.Equal(t, "exec_a", list[0].ExecutionID)
	assert.Equal(t, "exec_c", list[2].ExecutionID)
}

func TestResolveWithoutKind(t *testing.T) {
	c := newClock()
	s := New(WithClock(c.Now))

	ch, err := s.Request(pending(c, "exec_1", domain.InputKindConfirm, time.Minute))
	require.NoError(t, err)

	assert.Equal(t, domain.CodeValidation, domain.CodeOf(s.Resolve("exec_1", "maybe", "")))
	require.NoError(t, s.Resolve("exec_1", "yes", ""))

	a := <-ch
	assert.Equal(t, domain.InputKindConfirm, a.Kind)
}
