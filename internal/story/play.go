package story

import "context"

// Play runs script on seq and hands every event to sink until the script
// completes, ctx is done, or sink returns an error. In the latter two cases
// the run is cancelled before Play returns.
//
// seq must not be shared with another concurrent Play call.
func Play(ctx context.Context, seq *Sequencer, script Script, sink func(Event) error) error {
	if script.Len() == 0 {
		return nil
	}

	// At most two events per beat plus the completion event are emitted, so
	// the listener never blocks.
	events := make(chan Event, 2*script.Len()+1)
	unsubscribe := seq.Subscribe(func(ev Event) { events <- ev })
	defer unsubscribe()

	seq.Start(script)
	for {
		select {
		case <-ctx.Done():
			seq.Cancel()
			return ctx.Err()
		case ev := <-events:
			if err := sink(ev); err != nil {
				seq.Cancel()
				return err
			}
			if ev.Kind == EventCompleted {
				return nil
			}
		}
	}
}
