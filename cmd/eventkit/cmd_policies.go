package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/eventkit/resiliency"
)

type scheduleRow struct {
	Attempt int           `json:"attempt"`
	Wait    time.Duration `json:"waitNs"`
	Elapsed time.Duration `json:"elapsedNs"`
}

type policyView struct {
	Name     string              `json:"name"`
	Settings resiliency.Settings `json:"settings"`
	Schedule []scheduleRow       `json:"schedule,omitempty"`
}

func newPoliciesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policies",
		Short: "Inspect configured retry policies",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List configured policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			views := make([]policyView, 0, len(a.cfg.Policies))
			for _, name := range a.cfg.PolicyNames() {
				views = append(views, policyView{Name: name, Settings: a.cfg.Policies[name]})
			}
			if a.jsonOutput {
				return a.printJSON(views)
			}
			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tRETRIES\tINITIAL\tPERIOD\tTIMEOUT\tMAX PERIOD\tEXPONENTIAL")
			for _, v := range views {
				s := v.Settings
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%t\n", v.Name, s.MaximumRetries, s.InitialPeriod,
					s.Period, s.Timeout, s.MaximumExponentialPeriod, s.Exponential)
			}
			return w.Flush()
		},
	}

	var attempts int
	show := &cobra.Command{
		Use:   "show <name>",
		Short: "Print a policy and its retry schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.cfg.Policy(args[0])
			if err != nil {
				return err
			}
			view := policyView{Name: args[0], Settings: resiliency.SettingsOf(p), Schedule: schedule(p, attempts)}
			if a.jsonOutput {
				return a.printJSON(view)
			}
			a.printf("Policy %s (retries=%d timeout=%s exponential=%t)\n",
				view.Name, p.MaximumRetries, p.Timeout, p.Exponential)
			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ATTEMPT\tWAIT\tELAPSED")
			for _, r := range view.Schedule {
				fmt.Fprintf(w, "%d\t%s\t%s\n", r.Attempt, r.Wait, r.Elapsed)
			}
			return w.Flush()
		},
	}
	show.Flags().IntVar(&attempts, "attempts", 0, "rows to print (default: maximum retries)")

	cmd.AddCommand(list, show)
	return cmd
}

// schedule lists the wait before each retry. Each wait counts from the
// failure before it; attempts past the timeout are omitted.
func schedule(p resiliency.Policy, attempts int) []scheduleRow {
	if attempts <= 0 {
		attempts = p.MaximumRetries
	}
	var rows []scheduleRow
	var elapsed time.Duration
	for n := 1; n <= attempts; n++ {
		wait := p.EvaluatePeriod(n)
		elapsed += wait
		if elapsed > p.Timeout {
			break
		}
		rows = append(rows, scheduleRow{Attempt: n, Wait: wait, Elapsed: elapsed})
	}
	return rows
}
