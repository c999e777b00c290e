package fairqueue

import "fmt"

// Ticket describes the cost of a request passing through a [FairQueue].
//
// Weight is the rate cost of the request (one request is usually weight 1) and
// Size its volume cost in bytes. A queue that admits one Ticket{1, 16 << 10}
// per second sustains 1 request/s at 16KiB/s.
type Ticket struct {
	Weight uint32
	Size   uint32
}

func NewTicket(weight, size uint32) Ticket {
	return Ticket{Weight: weight, Size: size}
}

func (t Ticket) Add(o Ticket) Ticket {
	return Ticket{Weight: t.Weight + o.Weight, Size: t.Size + o.Size}
}

// Sub wraps around if o is larger than t in either component.
func (t Ticket) Sub(o Ticket) Ticket {
	return Ticket{Weight: t.Weight - o.Weight, Size: t.Size - o.Size}
}

// StrictlyLess reports whether both quantities of t are less than the ones of
// o. There is no total order between tickets: {2, 1} and {1, 2} are not
// comparable.
func (t Ticket) StrictlyLess(o Ticket) bool {
	return t.Weight < o.Weight && t.Size < o.Size
}

// NonZero reports whether at least one quantity is non-zero.
func (t Ticket) NonZero() bool {
	return t.Weight != 0 || t.Size != 0
}

// Normalize returns the ticket as a scalar relative to axis, the sum of
// the weight ratio and the size ratio. A zero quantity in t is fine, a zero
// quantity in axis panics.
func (t Ticket) Normalize(axis Ticket) float64 {
	if axis.Weight == 0 || axis.Size == 0 {
		panic(fmt.Sprintf("fairqueue: cannot normalize %s along %s", t, axis))
	}
	return float64(t.Weight)/float64(axis.Weight) + float64(t.Size)/float64(axis.Size)
}

// fits reports whether t plus o stays within limit in both quantities.
func (t Ticket) fits(o, limit Ticket) bool {
	return uint64(t.Weight)+uint64(o.Weight) <= uint64(limit.Weight) &&
		uint64(t.Size)+uint64(o.Size) <= uint64(limit.Size)
}

func (t Ticket) String() string {
	return fmt.Sprintf("{%d, %d}", t.Weight, t.Size)
}
