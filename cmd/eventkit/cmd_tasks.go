package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	errs "github.com/vinayprograms/eventkit/errors"
	"github.com/vinayprograms/eventkit/state"
	"github.com/vinayprograms/eventkit/tasks"
)

type taskRow struct {
	Key        string     `json:"key"`
	Status     string     `json:"status"`
	RetryCount int        `json:"retryCount"`
	RetryDate  *time.Time `json:"retryDate,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

func newTasksCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect command and projection task processors",
	}

	var status string
	list := &cobra.Command{
		Use:   "list [key-prefix]",
		Short: "List task processors",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			rows, err := listTasks(cmd.Context(), a, prefix, status)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return a.printJSON(rows)
			}
			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tSTATUS\tRETRIES\tRETRY AT\tREASON")
			for _, r := range rows {
				retryAt := "-"
				if r.RetryDate != nil {
					retryAt = r.RetryDate.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", r.Key, r.Status, r.RetryCount, retryAt, r.Reason)
			}
			return w.Flush()
		},
	}
	list.Flags().StringVar(&status, "status", "", "only tasks with this status (New, Active, Suspended, Canceled, Completed)")

	show := &cobra.Command{
		Use:   "show <key>",
		Short: "Print one task processor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			tp, found, err := tasks.Load(cmd.Context(), state.NewStore(backend), args[0])
			if err != nil {
				return err
			}
			if !found {
				return errs.NotFound("no task "+args[0], errs.WithKey(tasks.StateKey(args[0])))
			}
			if a.jsonOutput {
				return a.printJSON(tp)
			}
			a.printf("Key:         %s\n", args[0])
			a.printf("Status:      %s\n", tp.Status)
			a.printf("Retries:     %d\n", tp.RetryCount)
			a.printf("Created:     %s\n", formatTime(&tp.History.CreatedDate))
			a.printf("Started:     %s\n", formatTime(tp.History.ProcessingStartDate))
			if d := tp.RetryDate(); d != nil {
				a.printf("Retry at:    %s\n", d.Format(time.RFC3339))
			}
			if tp.Failure != nil {
				a.printf("Last error:  %s (%s)\n", tp.Failure.Reason, tp.Failure.Date.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

func listTasks(ctx context.Context, a *app, prefix, status string) ([]taskRow, error) {
	backend, err := a.store(ctx)
	if err != nil {
		return nil, err
	}
	keys, err := state.Keys(ctx, backend, tasks.StateKey(prefix))
	if err != nil {
		return nil, errs.WrapWithCode(err, errs.ErrCodeUnsupported, "list tasks")
	}

	provider := state.NewStore(backend)
	rows := make([]taskRow, 0, len(keys))
	for _, k := range keys {
		key := strings.TrimPrefix(k, tasks.KeyPrefix)
		tp, found, err := tasks.Load(ctx, provider, key)
		if err != nil {
			return nil, err
		}
		if !found || (status != "" && !strings.EqualFold(status, tp.Status.String())) {
			continue
		}
		row := taskRow{Key: key, Status: tp.Status.String(), RetryCount: tp.RetryCount, RetryDate: tp.RetryDate()}
		if tp.Failure != nil {
			row.Reason = tp.Failure.Reason
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}
