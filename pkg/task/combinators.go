package task

// AwaitAll awaits every task in tasks, in index order, and returns their
// results in the same order. Per §4.4 this runtime awaits sequentially
// rather than racing all continuations in parallel: each task still runs
// concurrently to completion on its own goroutine the moment it was
// created by New, so AwaitAll's sequential awaiting only serialises the
// order in which the calling goroutine observes results, not the
// underlying work. A nil or empty tasks yields an empty, non-nil slice.
func AwaitAll[T any](y *Yield, tasks []Task[T]) []T {
	results := make([]T, len(tasks))
	for i, t := range tasks {
		results[i] = Await(y, t)
	}
	return results
}

// Pair holds the heterogeneous result of AwaitAll2.
type Pair[A, B any] struct {
	First  A
	Second B
}

// AwaitAll2 awaits two differently-typed tasks and returns both results.
func AwaitAll2[A, B any](y *Yield, a Task[A], b Task[B]) Pair[A, B] {
	ra := Await(y, a)
	rb := Await(y, b)
	return Pair[A, B]{First: ra, Second: rb}
}

// Triple holds the heterogeneous result of AwaitAll3.
type Triple[A, B, C any] struct {
	First  A
	Second B
	Third  C
}

// AwaitAll3 awaits three differently-typed tasks and returns all results.
func AwaitAll3[A, B, C any](y *Yield, a Task[A], b Task[B], c Task[C]) Triple[A, B, C] {
	ra := Await(y, a)
	rb := Await(y, b)
	rc := Await(y, c)
	return Triple[A, B, C]{First: ra, Second: rb, Third: rc}
}

// Quad holds the heterogeneous result of AwaitAll4.
type Quad[A, B, C, D any] struct {
	First  A
	Second B
	Third  C
	Fourth D
}

// AwaitAll4 awaits four differently-typed tasks and returns all results.
func AwaitAll4[A, B, C, D any](y *Yield, a Task[A], b Task[B], c Task[C], d Task[D]) Quad[A, B, C, D] {
	ra := Await(y, a)
	rb := Await(y, b)
	rc := Await(y, c)
	rd := Await(y, d)
	return Quad[A, B, C, D]{First: ra, Second: rb, Third: rc, Fourth: rd}
}
