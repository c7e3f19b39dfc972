package tui

import (
	"context"
	"errors"
	"io"

	tea "github.com/charmbracelet/bubbletea"

	"workshopdl/internal/queue"
)

// RunQueue renders q in a bubbletea program while workFn runs. Queue events
// are forwarded in order; once workFn returns the final snapshot is applied
// and the program exits. Quitting the program cancels workFn's context.
func RunQueue(ctx context.Context, out io.Writer, title string, q *queue.Queue, workFn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := NewProgressModel(title)
	events, unsubscribe := q.Subscribe()
	model.Seed(q.Snapshot())

	p := tea.NewProgram(model, tea.WithOutput(out), tea.WithContext(ctx))

	workErr := make(chan error, 1)
	workDone := make(chan struct{})
	go func() {
		err := workFn(ctx)
		close(workDone)
		workErr <- err
	}()

	go func() {
		defer unsubscribe()
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				p.Send(EventMsg{Event: ev})
			case <-workDone:
				p.Send(SnapshotMsg{Requests: q.Snapshot()})
				p.Send(WorkDoneMsg{})
				return
			}
		}
	}()

	_, runErr := p.Run()
	interrupted := ctx.Err() != nil
	cancel()
	if err := <-workErr; err != nil {
		return err
	}
	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) && !interrupted {
		return runErr
	}
	return nil
}
