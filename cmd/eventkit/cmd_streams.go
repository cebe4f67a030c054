package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	errs "github.com/vinayprograms/eventkit/errors"
	"github.com/vinayprograms/eventkit/messages"
	"github.com/vinayprograms/eventkit/state"
)

// streamSummary is one row of "streams list".
type streamSummary struct {
	Stream  string `json:"stream"`
	Version int64  `json:"version"`
}

func newStreamsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "streams",
		Short: "Inspect message streams",
	}

	list := &cobra.Command{
		Use:   "list [prefix]",
		Short: "List streams and their versions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			streams, err := listStreams(cmd.Context(), a, prefix)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return a.printJSON(streams)
			}
			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STREAM\tVERSION")
			for _, s := range streams {
				fmt.Fprintf(w, "%s\t%d\n", s.Stream, s.Version)
			}
			return w.Flush()
		},
	}

	var from, to int64
	show := &cobra.Command{
		Use:   "show <stream>",
		Short: "Print the messages of a stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			s := messages.NewStore[messages.Envelope](state.NewStore(backend), args[0])
			version, err := s.Version(cmd.Context())
			if err != nil {
				return err
			}
			if version == 0 {
				return errs.NotFound("stream "+args[0]+" is empty", errs.WithStream(args[0]))
			}
			lo, hi := from, to
			if lo < 1 {
				lo = 1
			}
			if hi < 1 || hi > version {
				hi = version
			}
			if lo > version {
				return errs.NotFound(fmt.Sprintf("stream %s ends at version %d", args[0], version),
					errs.WithStream(args[0]), errs.WithVersion(version))
			}
			if lo > hi {
				return errs.InvalidInput(fmt.Sprintf("--from %d is after --to %d", lo, hi))
			}
			msgs, err := s.GetRange(cmd.Context(), lo, hi)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return a.printJSON(msgs)
			}
			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tTYPE\tID\tTIMESTAMP\tPAYLOAD")
			for i, m := range msgs {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", lo+int64(i), m.Type, m.ID,
					m.Timestamp.Format("2006-01-02T15:04:05Z07:00"), string(m.Payload))
			}
			return w.Flush()
		},
	}
	show.Flags().Int64Var(&from, "from", 1, "first version")
	show.Flags().Int64Var(&to, "to", 0, "last version (default: current)")

	cmd.AddCommand(list, show)
	return cmd
}

// listStreams finds stream headers, the keys ending in "Stream".
func listStreams(ctx context.Context, a *app, prefix string) ([]streamSummary, error) {
	backend, err := a.store(ctx)
	if err != nil {
		return nil, err
	}
	keys, err := state.Keys(ctx, backend, prefix)
	if err != nil {
		return nil, errs.WrapWithCode(err, errs.ErrCodeUnsupported, "list streams")
	}

	provider := state.NewStore(backend)
	var out []streamSummary
	for _, key := range keys {
		name, ok := strings.CutSuffix(key, "Stream")
		if !ok || name == "" {
			continue
		}
		version, err := messages.NewStore[messages.Envelope](provider, name).Version(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, streamSummary{Stream: name, Version: version})
	}
	return out, nil
}
