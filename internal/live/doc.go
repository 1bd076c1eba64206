// Package live is the change notifier behind live queries.
//
// HOW IT WORKS:
// A live query is a Query: a function that computes a result, plus the
// Footprint (kind:index:key) of the data it reads. Subscribing runs the query
// once, delivers the result immediately and registers the subscription under
// its footprint. After every committed write the writer calls Publish with the
// footprint it touched; Publish re-runs every query registered under that key,
// compares the canonical JSON of the new result with the last one delivered,
// and forwards only results that actually changed.
//
//	write commits → Publish(message:by_channel:42)
//	             → re-run listMessages(42) for each subscriber on that key
//	             → bytes differ? → mailbox → Sink.Deliver
//
// Writes to other keys never touch these subscriptions.
//
// LOCKING:
// The footprint map is guarded by an RWMutex and each key has its own bucket
// mutex. Subscribe, Close and Publish serialise per key; unrelated keys
// proceed in parallel. Subscribe computes its initial result while holding the
// bucket lock, so a write that commits during that computation is either in
// the initial result or triggers a Publish that waits for the registration.
//
// ORDERING:
// Results enter a subscription's mailbox in the order they were computed. The
// mailbox keeps only the newest undelivered result (later results supersede
// earlier ones), and one goroutine per subscription drains it, so a subscriber
// may skip intermediate states under load but never sees an older result after
// a newer one. Seq numbers increase strictly per subscription.
package live
