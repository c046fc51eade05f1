package responses

import (
	"math/bits"
	"sync"

	"surveycore/internal/addressing"
)

// KeyedValue is one stored value together with the key it is stored under.
type KeyedValue struct {
	Key   addressing.EntityIds
	Value int
}

// BufferPool lends scratch buffers to bulk reads.
type BufferPool interface {
	// Rent returns a zero-length slice with capacity of at least n.
	Rent(n int) []KeyedValue
	// Return gives a rented buffer back. The caller must not use it again.
	Return(buf []KeyedValue)
}

const maxPooledBucket = 24

// SlicePool is a BufferPool backed by one sync.Pool per power-of-two size.
// Requests above 1<<maxPooledBucket are allocated and dropped on return.
type SlicePool struct {
	buckets [maxPooledBucket + 1]sync.Pool
}

// NewSlicePool returns an empty pool.
func NewSlicePool() *SlicePool { return &SlicePool{} }

func bucketFor(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}

func (p *SlicePool) Rent(n int) []KeyedValue {
	b := bucketFor(n)
	if b > maxPooledBucket {
		return make([]KeyedValue, 0, n)
	}
	if v, ok := p.buckets[b].Get().(*[]KeyedValue); ok {
		return (*v)[:0]
	}
	return make([]KeyedValue, 0, 1<<b)
}

func (p *SlicePool) Return(buf []KeyedValue) {
	c := cap(buf)
	if c == 0 {
		return
	}
	// only exact power-of-two capacities go back so Rent can trust the bucket size
	b := bucketFor(c)
	if b > maxPooledBucket || 1<<b != c {
		return
	}
	buf = buf[:0]
	p.buckets[b].Put(&buf)
}

type allocPool struct{}

func (allocPool) Rent(n int) []KeyedValue { return make([]KeyedValue, 0, n) }
func (allocPool) Return([]KeyedValue)     {}
