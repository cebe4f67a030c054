// Package shutdown orders the release of a process's resources.
//
// Handlers are registered with a phase. On Shutdown the phases run in
// ascending order; handlers sharing a phase run concurrently and the next
// phase starts once they have all returned. A failing handler does not stop
// later phases.
//
//	coord := shutdown.NewCoordinator(shutdown.DefaultConfig())
//	coord.Register("host", shutdown.PhaseWorkers, stopWorkers)
//	coord.Register("bus", shutdown.PhaseTransport, closeBus)
//	coord.Register("store", shutdown.PhaseStorage, closeStore)
//
//	ctx, stop := coord.HandleSignals(context.Background())
//	defer stop()
//	<-ctx.Done()
//	err := coord.ShutdownWithTimeout(0)
package shutdown
