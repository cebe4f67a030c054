package host

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/vinayprograms/eventkit/bus"
	errs "github.com/vinayprograms/eventkit/errors"
	"github.com/vinayprograms/eventkit/reminders"
)

// Resume runs one catch-up pass of every registered projection. Hosts call
// it on startup since timers registered before a restart are gone.
func (h *Host) Resume(ctx context.Context) error {
	var first error
	for _, name := range h.Projections() {
		if _, err := h.ContinueProjection(ctx, name); err != nil {
			h.logger.Error("projection_resume_failed", errorFields(err, map[string]interface{}{
				"projection": name,
			}))
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// Run resumes projections, then handles due reminders with workers
// goroutines until ctx is canceled. Handler failures are logged.
func (h *Host) Run(ctx context.Context, workers int) error {
	if h.bus == nil {
		return errs.InvalidInput("host: Run needs a bus")
	}
	if workers <= 0 {
		workers = 1
	}

	sub, err := h.bus.QueueSubscribe(bus.RemindersSubject, h.queue)
	if err != nil {
		return errs.Wrap(err, "subscribe to reminders")
	}
	defer sub.Unsubscribe()

	_ = h.Resume(ctx)

	h.logger.Info("host_started", map[string]interface{}{
		"workers":     workers,
		"projections": len(h.Projections()),
	})

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case msg, ok := <-sub.Messages():
					if !ok {
						return nil
					}
					h.handle(gctx, msg.Data)
				}
			}
		})
	}
	err = g.Wait()
	h.logger.Info("host_stopped")
	return err
}

func (h *Host) handle(ctx context.Context, data []byte) {
	r, err := reminders.Decode(data)
	if err == nil {
		err = h.HandleReminder(ctx, r)
	}
	if err != nil {
		h.logger.Error("reminder_failed", errorFields(err, map[string]interface{}{
			"reminder": r.Name,
		}))
	}
}

// errorFields adds err, with its code and metadata when it has them, to fields.
func errorFields(err error, fields map[string]interface{}) map[string]interface{} {
	fields["error"] = err.Error()
	if coded := errs.As(err); coded != nil {
		for k, v := range coded.Fields() {
			fields[k] = v
		}
	}
	return fields
}
