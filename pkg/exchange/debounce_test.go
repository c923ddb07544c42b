package exchange_test

import (
	"sync"
	"testing"
	"time"

	"github.com/zeebo/assert"

	"wallet-exchange/pkg/exchange"
)

type emitted struct {
	mu     sync.Mutex
	values []string
}

func (e *emitted) add(v string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.values = append(e.values, v)
}

func (e *emitted) get() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.values...)
}

func TestDebouncerEmitsLastValueOfBurst(t *testing.T) {
	var out emitted
	d := exchange.NewDebouncer(30*time.Millisecond, out.add)

	for _, v := range []string{"1", "10", "100", "1000"} {
		d.Push(v)
		time.Sleep(5 * time.Millisecond)
	}
	assert.True(t, d.Pending())

	waitFor(t, "emission", func() bool { return len(out.get()) == 1 })
	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, out.get(), []string{"1000"})
	assert.False(t, d.Pending())
}

func TestDebouncerSeparateBursts(t *testing.T) {
	var out emitted
	d := exchange.NewDebouncer(10*time.Millisecond, out.add)

	d.Push("a")
	waitFor(t, "first", func() bool { return len(out.get()) == 1 })
	d.Push("b")
	waitFor(t, "second", func() bool { return len(out.get()) == 2 })

	assert.Equal(t, out.get(), []string{"a", "b"})
}

func TestDebouncerCancelAndStop(t *testing.T) {
	var out emitted
	d := exchange.NewDebouncer(10*time.Millisecond, out.add)

	d.Push("cancelled")
	d.Cancel()
	assert.False(t, d.Pending())

	d.Push("stopped")
	d.Stop()
	d.Push("after stop")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, len(out.get()), 0)
}
