// Package state provides the key-value state store used by message streams,
// task processors and projections.
//
// Writes go through a two-phase Store: AddState and SetState stage values in
// memory, and SaveChanges commits the staged batch to a Backend. Reads see
// staged values first, then committed ones.
//
// # Backends
//
//   - MemoryBackend: in-process, atomic commits, locks (testing, single process)
//   - BadgerBackend: embedded BadgerDB, one transaction per commit
//   - NATSBackend: NATS JetStream KV, distributed locks, ordered (non-atomic) commits
//
// # Usage
//
//	backend := state.NewMemoryBackend()
//	store := state.NewStore(backend)
//
//	_ = store.AddState(ctx, "ordersStream", int64(0))
//	_ = store.SetState(ctx, "TaskProcessororders.42", tp)
//	if err := store.SaveChanges(ctx); err != nil {
//	    store.Discard()
//	}
//
//	v, found, err := state.TryGet[int64](ctx, store, "ordersStream")
//
// Values are JSON encoded when staged.
package state
