package chunk

import (
	"iter"
	"math"
)

// Entry is the share of one record that falls into one chunk.
type Entry struct {
	Index int
	Bytes int64
	Ratio float64
}

// Overlap describes how the byte range [Offset, Offset+Length) spreads over
// the chunks of a Plan.
//
//	chunks ->  |   0    |   1    |   2    |   3    |
//	record ->       [------- Length ------]
//
// Here First is 0 and Last is 2: the record owns the tail of chunk 0, all
// of chunk 1 and the head of chunk 2.
type Overlap struct {
	// OutOfRange is set when the record lies entirely outside the plan.
	OutOfRange bool

	Offset int64
	Length int64

	// First and Last are chunk indices and may fall outside the plan.
	First int
	Last  int

	FirstBytes  int64
	MiddleBytes int64
	LastBytes   int64

	plan Plan
}

// Overlap computes the chunks touched by the record at offset with the
// given length (headers included).
func (p Plan) Overlap(offset, length int64) Overlap {
	o := Overlap{Offset: offset, Length: length, plan: p}

	if p.ChunkCount == 0 || length <= 0 || offset+length <= p.Start || offset >= p.End {
		o.OutOfRange = true
		return o
	}

	o.First = int(floorDiv(offset-p.Start, p.ChunkSize))
	o.Last = int(floorDiv(offset+length-p.Start, p.ChunkSize))

	endOfFirst := p.Start + int64(o.First+1)*p.ChunkSize
	o.FirstBytes = min(endOfFirst-offset, length)
	o.MiddleBytes = p.ChunkSize
	o.LastBytes = length - o.FirstBytes - p.ChunkSize*int64(o.Last-o.First-1)
	if o.LastBytes < 0 {
		o.LastBytes = 0
	}

	return o
}

// Bytes returns how many bytes of the record fall into chunk i. Chunk
// indices outside the plan get 0. The final chunk is clipped to End.
func (o Overlap) Bytes(i int) int64 {
	if o.OutOfRange || i < 0 || i >= o.plan.ChunkCount || i < o.First || i > o.Last {
		return 0
	}

	var n int64
	switch i {
	case o.First:
		n = o.FirstBytes
	case o.Last:
		n = o.LastBytes
	default:
		n = o.MiddleBytes
	}

	if i == o.plan.ChunkCount-1 {
		lo := max(o.Offset, o.plan.ChunkStart(i))
		hi := min(o.Offset+o.Length, o.plan.End)
		n = min(n, max(hi-lo, 0))
	}
	return n
}

// Ratio returns Bytes(i)/Length.
func (o Overlap) Ratio(i int) float64 {
	if o.Length <= 0 {
		return math.NaN()
	}
	return float64(o.Bytes(i)) / float64(o.Length)
}

// Chunks yields one Entry per in-plan chunk that holds at least one byte of
// the record, in ascending chunk order.
func (o Overlap) Chunks() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		if o.OutOfRange {
			return
		}
		from := max(o.First, 0)
		to := min(o.Last, o.plan.ChunkCount-1)
		for i := from; i <= to; i++ {
			n := o.Bytes(i)
			if n == 0 {
				continue
			}
			if !yield(Entry{Index: i, Bytes: n, Ratio: float64(n) / float64(o.Length)}) {
				return
			}
		}
	}
}

// InRangeBytes sums Bytes over every chunk of the plan.
func (o Overlap) InRangeBytes() int64 {
	var total int64
	for e := range o.Chunks() {
		total += e.Bytes
	}
	return total
}
