package feed

import (
	"context"
	"sync"
)

// Loader reads the current state behind a topic.
type Loader[T any] func(ctx context.Context) (T, error)

// Subscription delivers the latest state of a watched topic. A slow consumer only
// ever sees the newest value; intermediate states are dropped.
type Subscription[T any] struct {
	updates chan T
	done    chan struct{}
	cancel  context.CancelFunc
	once    sync.Once
}

// Watch loads an initial snapshot of topic and reloads it on every notification
// until the subscription is cancelled. Load failures go to onErr and the
// subscription stays open.
func Watch[T any](bus *Bus, topic string, load Loader[T], onErr func(error)) *Subscription[T] {
	ctx, cancel := context.WithCancel(context.Background())
	notify, unsubscribe := bus.Subscribe(topic)

	s := &Subscription[T]{
		updates: make(chan T, 1),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	go s.run(ctx, notify, unsubscribe, load, onErr)
	return s
}

// Updates yields snapshots. It is never closed; select on Done as well.
func (s *Subscription[T]) Updates() <-chan T {
	return s.updates
}

// Done is closed once the subscription has stopped.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

// Cancel stops the subscription and waits for it to exit. No value is delivered
// after Cancel returns. Safe to call more than once.
func (s *Subscription[T]) Cancel() {
	s.once.Do(s.cancel)
	<-s.done
	select {
	case <-s.updates:
	default:
	}
}

func (s *Subscription[T]) run(ctx context.Context, notify <-chan struct{}, unsubscribe func(), load Loader[T], onErr func(error)) {
	defer close(s.done)
	defer unsubscribe()

	s.reload(ctx, load, onErr)
	for {
		select {
		case <-ctx.Done():
			return
		case <-notify:
			s.reload(ctx, load, onErr)
		}
	}
}

func (s *Subscription[T]) reload(ctx context.Context, load Loader[T], onErr func(error)) {
	value, err := load(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		if onErr != nil {
			onErr(err)
		}
		return
	}
	for {
		select {
		case s.updates <- value:
			return
		default:
		}
		select {
		case <-s.updates:
		default:
		}
	}
}
