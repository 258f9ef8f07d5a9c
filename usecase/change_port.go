package usecase

// ChangeSink receives the ids touched by a local action so they can be pushed
// to the remote store. Implementations must not block.
type ChangeSink interface {
	Enqueue(upserted, removed []string)
}

// ChangeSinkFunc adapts a function to ChangeSink.
type ChangeSinkFunc func(upserted, removed []string)

func (f ChangeSinkFunc) Enqueue(upserted, removed []string) {
	if f != nil {
		f(upserted, removed)
	}
}
