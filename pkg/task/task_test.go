package task

import (
	"sort"
	"sync"
	"testing"

	"github.com/fathomlabs/taskrun/pkg/logging"
	"github.com/fathomlabs/taskrun/pkg/pool"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(&logging.Config{
		Level:  logging.ErrorLevel,
		Format: logging.TextFormat,
		Output: discard{},
	})
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestAwaitSimpleTask(t *testing.T) {
	log := testLogger()
	tk := New("double", log, func(y *Yield) int { return 21 * 2 })

	got := SyncWait(tk)
	if got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
}

func TestSharedTaskMultipleAwaiters(t *testing.T) {
	log := testLogger()
	tk := New("shared", log, func(y *Yield) int { return 7 })

	var wg sync.WaitGroup
	results := make([]int, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = SyncWait(tk)
		}(i)
	}
	wg.Wait()

	if results[0] != 7 || results[1] != 7 {
		t.Fatalf("both awaiters should see 7, got %v", results)
	}
}

func TestAwaitAllPreservesOrder(t *testing.T) {
	log := testLogger()
	tasks := make([]Task[int], 10)
	for i := range tasks {
		i := i
		tasks[i] = New("item", log, func(y *Yield) int { return i })
	}

	outer := New("outer", log, func(y *Yield) []int {
		return AwaitAll(y, tasks)
	})

	got := SyncWait(outer)
	for i, v := range got {
		if v != i {
			t.Fatalf("index %d: got %d", i, v)
		}
	}
}

func TestAwaitAll2Heterogeneous(t *testing.T) {
	log := testLogger()
	boolTask := New("flag", log, func(y *Yield) bool { return true })
	intTask := New("answer", log, func(y *Yield) int { return 42 })

	outer := New("outer", log, func(y *Yield) Pair[bool, int] {
		return AwaitAll2(y, boolTask, intTask)
	})

	got := SyncWait(outer)
	if !got.First || got.Second != 42 {
		t.Fatalf("got %+v, want {true 42}", got)
	}
}

func TestScheduleFansOutAcrossWorkers(t *testing.T) {
	log := testLogger()
	p := pool.New(4, log)
	defer p.Close()

	const n = 100
	tasks := make([]Task[int], n)
	for i := 0; i < n; i++ {
		i := i
		tasks[i] = New("fanout", log, func(y *Yield) int {
			y.Schedule(p)
			return i
		})
	}

	outer := New("collector", log, func(y *Yield) []int {
		return AwaitAll(y, tasks)
	})

	got := SyncWait(outer)
	sort.Ints(got)
	for i, v := range got {
		if v != i {
			t.Fatalf("result set is not a permutation of 0..%d: got %v", n-1, got)
		}
	}
}

func TestSyncWaitReentrantSubTasks(t *testing.T) {
	log := testLogger()
	p := pool.New(2, log)
	defer p.Close()

	outer := New("nested", log, func(y *Yield) int {
		subs := make([]Task[int], 10)
		for i := range subs {
			i := i
			subs[i] = New("sub", log, func(y *Yield) int {
				y.Schedule(p)
				return i
			})
		}
		sum := 0
		for _, v := range AwaitAll(y, subs) {
			sum += v
		}
		return sum
	})

	got := SyncWait(outer)
	if got != 45 {
		t.Fatalf("got %d, want 45", got)
	}
}

func TestNewEWrapsFailure(t *testing.T) {
	log := testLogger()
	tk := NewE("fallible", log, func(y *Yield) (int, error) {
		return 0, errBoom
	})

	res := SyncWait(tk)
	if res.Err != errBoom {
		t.Fatalf("got err %v, want errBoom", res.Err)
	}
}

var errBoom = &boomError{}

type boomError struct{}

func (*boomError) Error() string { return "boom" }
