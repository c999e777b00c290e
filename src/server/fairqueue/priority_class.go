package fairqueue

import "fairq/src/server/datastructures"

// Continuation is the deferred unit of work admitted by the [FairQueue]. It is
// invoked at most once, on the goroutine calling DispatchRequests.
type Continuation func()

type request struct {
	fn   Continuation
	desc Ticket
}

// PriorityClass identifies a producer registered against a [FairQueue].
//
// The handle is shared between the queue and the producer. Producers may read
// or update the shares; everything else is owned by the queue.
type PriorityClass struct {
	owner       *FairQueue
	id          uint64
	shares      uint32
	accumulated float64
	queue       datastructures.CircularQueue[request]
	queued      bool
}

func newPriorityClass(owner *FairQueue, id uint64, shares uint32) *PriorityClass {
	return &PriorityClass{
		owner:  owner,
		id:     id,
		shares: clampShares(shares),
		queue:  datastructures.NewCircularQueue[request](0),
	}
}

// Shares returns the current amount of shares of this class.
func (pc *PriorityClass) Shares() uint32 {
	return pc.shares
}

// UpdateShares changes the shares of this class, with a minimum of 1. Service
// already accounted is not recomputed.
func (pc *PriorityClass) UpdateShares(shares uint32) {
	pc.shares = clampShares(shares)
}

// ID returns the registration number of this class, unique within its queue.
func (pc *PriorityClass) ID() uint64 {
	return pc.id
}

// Pending returns how many requests of this class wait for admission.
func (pc *PriorityClass) Pending() int {
	return pc.queue.Len()
}

func clampShares(shares uint32) uint32 {
	if shares < 1 {
		return 1
	}
	return shares
}
