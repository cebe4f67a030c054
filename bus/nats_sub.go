package bus

import (
	"sync"

	"github.com/nats-io/nats.go"
)

// natsSubscription adapts a callback subscription to a channel.
type natsSubscription struct {
	sub *nats.Subscription
	ch  chan *Message

	mu   sync.Mutex
	done bool
}

func (s *natsSubscription) Messages() <-chan *Message {
	return s.ch
}

func (s *natsSubscription) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	s.done = true
	close(s.ch)
	if err := s.sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed && err != nats.ErrBadSubscription {
		return err
	}
	return nil
}
