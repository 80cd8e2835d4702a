package rpubsub

import "context"

// NextMessage blocks for the next delivered message, honoring ctx.
func (ps *PubSub) NextMessage(ctx context.Context) (Message, error) {
	select {
	case m := <-ps.messages:
		return m, nil
	case err := <-ps.errs:
		return Message{}, err
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Run drains messages until ctx is done, invoking onMessage for each one
// and onError for any dispatch error. This is the "push" consumption mode
// of spec.md §6.5; NextMessage is the "pull" mode.
func (ps *PubSub) Run(ctx context.Context, onMessage func(Message), onError func(error)) {
	for {
		select {
		case m := <-ps.messages:
			onMessage(m)
		case err := <-ps.errs:
			if onError != nil {
				onError(err)
			}
		case <-ctx.Done():
			return
		}
	}
}
