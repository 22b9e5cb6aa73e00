// Package reqid hands out per-process request identifiers.
//
// DESIGN: The id is the only correlation key between the request log lines,
// the response log lines and the capture files of one exchange. Ids are not
// persisted and restart from zero with every process; the capture index pairs
// them with a run id to stay unique across restarts.
package reqid

import "sync/atomic"

// Allocator is a shared, lock-free id counter. The zero value is ready to use
// and issues 0 first.
type Allocator struct {
	next atomic.Int64
}

// New creates an allocator whose first id is start.
func New(start int64) *Allocator {
	a := &Allocator{}
	a.next.Store(start)
	return a
}

// Next returns the next id. Safe for concurrent use.
func (a *Allocator) Next() int64 {
	return a.next.Add(1) - 1
}

// Last returns the most recently issued id, or start-1 if none was issued.
func (a *Allocator) Last() int64 {
	return a.next.Load() - 1
}
