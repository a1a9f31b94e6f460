package ifmon

import "context"

// FakeMonitor replays a fixed Event script, for tests of code that
// consumes a Monitor without needing a real netlink/route-socket
// platform underneath.
type FakeMonitor struct {
	Script []Event
}

func (f *FakeMonitor) Run(ctx context.Context, events chan<- Event) error {
	for _, ev := range f.Script {
		select {
		case events <- ev:
		case <-ctx.Done():
			return nil
		}
	}
	<-ctx.Done()
	return nil
}
