package event

import "context"

// Fanout forwards records from the core's emit channel to the persistence
// and publish consumers. Persistence is the durability path and gets a
// blocking send; publishing is best-effort and is dropped when its consumer
// falls behind. The dropped count is reported through the callback.
func Fanout(ctx context.Context, in <-chan Record, persist chan<- Record, publish chan<- Record, onDrop func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-in:
			if !ok {
				return
			}
			select {
			case persist <- rec:
			case <-ctx.Done():
				return
			}
			select {
			case publish <- rec:
			default:
				if onDrop != nil {
					onDrop()
				}
			}
		}
	}
}
