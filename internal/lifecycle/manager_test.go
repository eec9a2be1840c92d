package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeriveComponentID_FileSourceUsesStem(t *testing.T) {
	id := deriveComponentID("file:///plugins/weather.wasm")
	assert.Equal(t, ComponentID("weather"), id)
}

func TestDeriveComponentID_HTTPSourceDeterministic(t *testing.T) {
	a := deriveComponentID("https://example.com/tools/calc.wasm")
	b := deriveComponentID("https://example.com/tools/calc.wasm")
	c := deriveComponentID("https://example.com/tools/other.wasm")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "weather", sanitizeFilename("weather"))
	assert.Equal(t, "a_b_c", sanitizeFilename("a/b:c"))
	assert.Equal(t, "a_b", sanitizeFilename("a//b"))
}

func TestLockTable_SerializesSameID(t *testing.T) {
	lt := newLockTable()
	order := make(chan int, 2)

	done1 := make(chan struct{})
	go func() {
		lt.withLock("x", func() error {
			time.Sleep(20 * time.Millisecond)
			order <- 1
			return nil
		})
		close(done1)
	}()
	time.Sleep(5 * time.Millisecond)
	lt.withLock("x", func() error {
		order <- 2
		return nil
	})
	<-done1
	close(order)

	var seen []int
	for v := range order {
		seen = append(seen, v)
	}
	assert.Equal(t, []int{1, 2}, seen)
}

func TestLockTable_DistinctIDsDoNotContend(t *testing.T) {
	lt := newLockTable()
	sa := lt.acquire("a")
	sb := lt.acquire("b")
	assert.NotSame(t, sa, sb)
	lt.release("a", sa)
	lt.release("b", sb)
}

// TestLockTable_EvictionDoesNotRaceConcurrentHolder pins down the bug the
// old forget()-while-held eviction had: a slot must stay registered in the
// table for as long as any in-flight withLock call still references it, so
// a second caller for the same id always either joins the existing slot or
// waits for a brand new one - never ends up holding a distinct mutex for
// the same id concurrently with an operation already in progress.
func TestLockTable_EvictionDoesNotRaceConcurrentHolder(t *testing.T) {
	lt := newLockTable()

	inCriticalSection := make(chan struct{})
	releaseFirst := make(chan struct{})
	firstDone := make(chan struct{})
	go func() {
		lt.withLock("x", func() error {
			close(inCriticalSection)
			<-releaseFirst
			return nil
		})
		close(firstDone)
	}()
	<-inCriticalSection

	secondStarted := make(chan struct{})
	secondEntered := make(chan struct{})
	go func() {
		close(secondStarted)
		lt.withLock("x", func() error {
			close(secondEntered)
			return nil
		})
	}()
	<-secondStarted
	time.Sleep(10 * time.Millisecond) // give the second call a chance to (wrongly) enter concurrently

	select {
	case <-secondEntered:
		t.Fatal("second withLock entered its critical section while the first was still running")
	default:
	}

	close(releaseFirst)
	<-firstDone
	<-secondEntered
}
