package main

import (
	"github.com/spf13/cobra"

	errs "github.com/vinayprograms/eventkit/errors"
	"github.com/vinayprograms/eventkit/projections"
	"github.com/vinayprograms/eventkit/state"
)

type projectionStatus struct {
	Projection         string `json:"projection"`
	EventStreamVersion int64  `json:"eventStreamVersion"`
	LastEventDone      int64  `json:"lastEventDone"`
	Pending            int64  `json:"pending"`
}

func newProjectionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projections",
		Short: "Inspect projection progress",
	}

	status := &cobra.Command{
		Use:   "status <projection>",
		Short: "Print the catch-up position of a projection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			name := args[0]
			st, found, err := state.TryGet[projections.State](cmd.Context(), state.NewStore(backend), projections.StateKey(name))
			if err != nil {
				return err
			}
			if !found {
				return errs.NotFound("projection "+name+" has no state", errs.WithKey(projections.StateKey(name)))
			}

			out := projectionStatus{
				Projection:         name,
				EventStreamVersion: st.EventStreamVersion,
				LastEventDone:      st.LastEventDone,
				Pending:            st.Pending(),
			}
			if a.jsonOutput {
				return a.printJSON(out)
			}
			a.printf("Projection:      %s\n", out.Projection)
			a.printf("Stream version:  %d\n", out.EventStreamVersion)
			a.printf("Last event done: %d\n", out.LastEventDone)
			a.printf("Pending:         %d\n", out.Pending)
			return nil
		},
	}

	cmd.AddCommand(status)
	return cmd
}
