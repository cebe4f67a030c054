// Package tasks tracks one long-running idempotent operation through its
// retry lifecycle.
//
// A TaskProcessor is a value: every transition returns a new processor and
// leaves the receiver untouched. Persistence is the caller's job; Load and
// Save read and stage processors in a state.Provider under
// "TaskProcessor"+key.
//
// # Lifecycle
//
//	New --Start--> Active --Complete--> Completed
//	                 |
//	                Fail --(policy allows)--> Suspended --Retry--> Active
//	                 |
//	                 +--(budget exhausted)--> Canceled
//
// Cancel moves any non-terminal processor to Canceled. Canceled and
// Completed are terminal: no transition leaves them, and Complete on a
// Canceled processor returns it unchanged.
//
// # Usage
//
//	tp, found, err := tasks.Load(ctx, store, key)
//	if !found {
//	    tp = tasks.New(policy, now)
//	}
//	tp, err = tp.Start(now)
//	if workErr != nil {
//	    tp, err = tp.Fail(now, workErr.Error(), detail)
//	} else {
//	    tp = tp.Complete(now)
//	}
//	err = tasks.Save(ctx, store, key, tp)
package tasks
