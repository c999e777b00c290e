// Package fairqueue implements a weighted fair queue admitting requests from
// several priority classes under a shared (weight, size) capacity.
//
// Producers register a [PriorityClass] once and then queue continuations with
// a [Ticket] describing their cost. The owner of the queue polls
// [FairQueue.DispatchRequests], which invokes admitted continuations, and
// calls [FairQueue.NotifyRequestFinished] when the admitted work completes.
//
// Service order is ascending accumulated virtual service: each admission adds
// the request cost, normalized against the maximum capacity and divided by the
// class shares. A class with nine times the shares of another is therefore
// admitted nine times as often while both have work queued.
package fairqueue
