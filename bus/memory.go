package bus

import (
	"sync"
	"sync/atomic"
)

// MemoryBus implements MessageBus using in-memory channels.
type MemoryBus struct {
	config Config

	mu     sync.RWMutex
	subs   []*memorySub
	queues map[string]*queueGroup // key: subject + " " + queue
	closed atomic.Bool
}

type queueGroup struct {
	subject string
	members []*memorySub
	next    uint64
}

type memorySub struct {
	subject string
	queue   string
	ch      chan *Message
	closed  atomic.Bool
	bus     *MemoryBus
}

// NewMemoryBus creates a new in-memory message bus.
func NewMemoryBus(cfg Config) *MemoryBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	return &MemoryBus{
		config: cfg,
		queues: make(map[string]*queueGroup),
	}
}

// Publish delivers to matching subscribers and one member per queue group.
func (b *MemoryBus) Publish(subject string, data []byte) error {
	if err := ValidatePublishSubject(subject); err != nil {
		return err
	}
	if b.closed.Load() {
		return ErrClosed
	}

	msg := &Message{Subject: subject, Data: data}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if Match(sub.subject, subject) {
			sub.offer(msg)
		}
	}
	for _, g := range b.queues {
		if Match(g.subject, subject) {
			g.deliver(msg)
		}
	}
	return nil
}

// deliver hands msg to the next member in round-robin order that has room.
func (g *queueGroup) deliver(msg *Message) {
	n := uint64(len(g.members))
	if n == 0 {
		return
	}
	start := atomic.AddUint64(&g.next, 1) - 1
	for i := uint64(0); i < n; i++ {
		if g.members[(start+i)%n].offer(msg) {
			return
		}
	}
}

// offer sends without blocking; a full buffer drops the message.
func (s *memorySub) offer(msg *Message) bool {
	if s.closed.Load() {
		return false
	}
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}

// Subscribe creates a subscription to a subject pattern.
func (b *MemoryBus) Subscribe(subject string) (Subscription, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return nil, ErrClosed
	}
	sub := b.newSub(subject, "")
	b.subs = append(b.subs, sub)
	return sub, nil
}

// QueueSubscribe creates a queue subscription.
func (b *MemoryBus) QueueSubscribe(subject, queue string) (Subscription, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	if queue == "" {
		return nil, ErrInvalidQueue
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return nil, ErrClosed
	}
	key := subject + " " + queue
	g := b.queues[key]
	if g == nil {
		g = &queueGroup{subject: subject}
		b.queues[key] = g
	}
	sub := b.newSub(subject, queue)
	g.members = append(g.members, sub)
	return sub, nil
}

func (b *MemoryBus) newSub(subject, queue string) *memorySub {
	return &memorySub{
		subject: subject,
		queue:   queue,
		ch:      make(chan *Message, b.config.BufferSize),
		bus:     b,
	}
}

// Close shuts down the bus.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Swap(true) {
		return nil
	}

	for _, sub := range b.subs {
		sub.close()
	}
	for _, g := range b.queues {
		for _, sub := range g.members {
			sub.close()
		}
	}
	b.subs = nil
	b.queues = nil
	return nil
}

func (s *memorySub) close() {
	if !s.closed.Swap(true) {
		close(s.ch)
	}
}

// Messages returns the message channel.
func (s *memorySub) Messages() <-chan *Message {
	return s.ch
}

// Unsubscribe cancels the subscription.
func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if s.closed.Load() {
		return nil
	}

	if s.queue == "" {
		s.bus.subs = remove(s.bus.subs, s)
	} else if g := s.bus.queues[s.subject+" "+s.queue]; g != nil {
		g.members = remove(g.members, s)
		if len(g.members) == 0 {
			delete(s.bus.queues, s.subject+" "+s.queue)
		}
	}
	s.close()
	return nil
}

func remove(subs []*memorySub, target *memorySub) []*memorySub {
	for i, sub := range subs {
		if sub == target {
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}
