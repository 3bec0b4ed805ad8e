package loop

import (
	"errors"
	"sync"
	"testing"

	"go.uber.org/goleak"
	"pgregory.net/rapid"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// TestPropPostPreservesOrder checks that callbacks posted from one goroutine
// run in posting order.
func TestPropPostPreservesOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 200).Draw(t, "n")
		l := New()
		var got []int
		for i := 0; i < n; i++ {
			i := i
			l.Post(func() { got = append(got, i) })
		}
		l.Stop()

		if len(got) != n {
			t.Fatalf("ran %d callbacks, want %d", len(got), n)
		}
		for i, v := range got {
			if v != i {
				t.Fatalf("position %d ran callback %d", i, v)
			}
		}
	})
}

func TestPostFromLoopDoesNotBlock(t *testing.T) {
	l := New()
	defer l.Stop()

	var order []string
	err := l.Do(func() {
		order = append(order, "outer")
		for i := 0; i < 1000; i++ {
			l.Post(func() {})
		}
		l.Post(func() { order = append(order, "inner") })
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if err := l.Do(func() {}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(order) != 2 || order[1] != "inner" {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestConcurrentPostersSerialise(t *testing.T) {
	l := New()
	counter := 0
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				l.Post(func() { counter++ })
			}
		}()
	}
	wg.Wait()
	l.Stop()
	if counter != 800 {
		t.Fatalf("counter = %d, want 800", counter)
	}
}

func TestPostAfterStop(t *testing.T) {
	l := New()
	l.Stop()
	if l.Post(func() { t.Error("callback ran after stop") }) {
		t.Fatal("Post accepted work after Stop")
	}
	if err := l.Do(func() {}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Do after stop = %v, want ErrStopped", err)
	}
	l.Stop()
	select {
	case <-l.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
}
