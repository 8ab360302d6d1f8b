package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/linesearch/pkg/resilience"
)

type fakeRemote struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
	gets int
	sets int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{data: make(map[string][]byte)}
}

func (f *fakeRemote) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.err != nil {
		return nil, false, f.err
	}
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeRemote) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	if f.err != nil {
		return f.err
	}
	f.data[key] = value
	return nil
}

func (f *fakeRemote) FlushByPrefix(_ context.Context, prefix string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			delete(f.data, k)
			n++
		}
	}
	return n, nil
}

func newCache(t *testing.T, remote Remote) *QueryCache {
	t.Helper()
	c, err := New(Config{Size: 16, TTL: time.Minute, OpTimeout: time.Second, Generation: 42}, remote)
	require.NoError(t, err)
	return c
}

func TestKeyIgnoresOrderAndRepetition(t *testing.T) {
	assert.Equal(t, Key([]string{"a", "b"}), Key([]string{"b", "a"}))
	assert.Equal(t, Key([]string{"a", "b"}), Key([]string{"b", "a", "a"}))
	assert.NotEqual(t, Key([]string{"ab"}), Key([]string{"a", "b"}))
	assert.NotEqual(t, Key([]string{"a"}), Key([]string{"a", "b"}))
}

func TestKeyDoesNotMutateInput(t *testing.T) {
	terms := []string{"z", "a", "z"}
	Key(terms)
	assert.Equal(t, []string{"z", "a", "z"}, terms)
}

func TestGetOrComputeLocal(t *testing.T) {
	c := newCache(t, nil)
	calls := 0
	compute := func() []int { calls++; return []int{1, 4} }

	lines, hit := c.GetOrCompute(context.Background(), []string{"x"}, compute)
	assert.False(t, hit)
	assert.Equal(t, []int{1, 4}, lines)

	lines, hit = c.GetOrCompute(context.Background(), []string{"x"}, compute)
	assert.True(t, hit)
	assert.Equal(t, []int{1, 4}, lines)
	assert.Equal(t, 1, calls)

	s := c.Stats()
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.Equal(t, 1, s.Entries)
	assert.Equal(t, "disabled", s.Remote)
	assert.InDelta(t, 0.5, s.HitRate(), 1e-9)
}

func TestGetOrComputeRemoteTier(t *testing.T) {
	remote := newFakeRemote()
	first := newCache(t, remote)
	_, hit := first.GetOrCompute(context.Background(), []string{"q"}, func() []int { return []int{7} })
	require.False(t, hit)
	assert.Equal(t, 1, remote.sets)

	// A second process sharing the remote tier gets the result without computing.
	second := newCache(t, remote)
	lines, hit := second.GetOrCompute(context.Background(), []string{"q"}, func() []int {
		t.Fatal("compute called despite remote entry")
		return nil
	})
	assert.True(t, hit)
	assert.Equal(t, []int{7}, lines)
	assert.Equal(t, int64(1), second.Stats().RemoteHits)
	assert.Equal(t, "closed", second.Stats().Remote)
}

func TestGenerationSeparatesCorpora(t *testing.T) {
	remote := newFakeRemote()
	a, err := New(Config{Size: 4, Generation: 1}, remote)
	require.NoError(t, err)
	b, err := New(Config{Size: 4, Generation: 2}, remote)
	require.NoError(t, err)

	a.GetOrCompute(context.Background(), []string{"q"}, func() []int { return []int{1} })
	lines, hit := b.GetOrCompute(context.Background(), []string{"q"}, func() []int { return []int{2} })
	assert.False(t, hit)
	assert.Equal(t, []int{2}, lines)
}

func TestRemoteFailureOpensBreaker(t *testing.T) {
	remote := newFakeRemote()
	remote.err = errors.New("connection refused")
	c, err := New(Config{
		Size:    1,
		Breaker: resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour},
	}, remote)
	require.NoError(t, err)

	for i, q := range []string{"a", "b", "c", "d"} {
		lines, hit := c.GetOrCompute(context.Background(), []string{q}, func() []int { return []int{i} })
		assert.False(t, hit)
		assert.Equal(t, []int{i}, lines)
	}
	assert.Equal(t, "open", c.Stats().Remote)
	remote.mu.Lock()
	defer remote.mu.Unlock()
	assert.Equal(t, 1, remote.gets)
}

func TestGetOrComputeSingleflight(t *testing.T) {
	c := newCache(t, nil)
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lines, _ := c.GetOrCompute(context.Background(), []string{"slow"}, func() []int {
				calls.Add(1)
				<-release
				return []int{3}
			})
			assert.Equal(t, []int{3}, lines)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestInvalidate(t *testing.T) {
	remote := newFakeRemote()
	c := newCache(t, remote)
	c.GetOrCompute(context.Background(), []string{"a"}, func() []int { return []int{1} })
	c.GetOrCompute(context.Background(), []string{"b"}, func() []int { return []int{2} })

	deleted, err := c.Invalidate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	assert.Equal(t, 0, c.Stats().Entries)

	_, hit := c.GetOrCompute(context.Background(), []string{"a"}, func() []int { return []int{1} })
	assert.False(t, hit)
}

func TestNewRejectsZeroSize(t *testing.T) {
	_, err := New(Config{Size: 0}, nil)
	assert.Error(t, err)
}
