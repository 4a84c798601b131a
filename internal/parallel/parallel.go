// Package parallel provides the synchronous batch-partitioned dispatch
// used by the convolution kernels.
package parallel

import (
	"runtime"
	"sync"
)

// Span is a half-open index range [Begin, End).
type Span struct {
	Begin, End int
}

// Partition splits [begin, end) into contiguous, non-overlapping spans of
// at most grain items each. The span list is deterministic: it depends
// only on the range and the grain, never on the worker count.
func Partition(begin, end, grain int) []Span {
	n := end - begin
	if n <= 0 {
		return nil
	}
	if grain < 1 {
		grain = 1
	}

	spans := make([]Span, 0, (n+grain-1)/grain)
	for s := begin; s < end; s += grain {
		spans = append(spans, Span{Begin: s, End: min(s+grain, end)})
	}
	return spans
}

// For executes body over contiguous chunks of [begin, end) on worker
// goroutines and blocks until every chunk has finished. Each chunk holds
// at least grain items, so small ranges run on the calling goroutine
// with no dispatch overhead. Chunks may run in any order; body must not
// assume ordering between them.
func For(begin, end, grain int, body func(start, end int)) {
	n := end - begin
	if n <= 0 {
		return
	}
	if grain < 1 {
		grain = 1
	}

	procs := runtime.GOMAXPROCS(0)
	chunk := max(grain, (n+procs-1)/procs)
	if chunk >= n {
		body(begin, end)
		return
	}

	var wg sync.WaitGroup
	for s := begin; s < end; s += chunk {
		e := min(s+chunk, end)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			body(s, e)
		}(s, e)
	}
	wg.Wait()
}
