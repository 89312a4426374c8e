package events

import (
	"context"
	"sync"
)

// Bus is a lightweight pub/sub broker using channels.
type Bus struct {
	mu   sync.RWMutex
	subs map[Event][]chan any
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]chan any)}
}

// Subscribe registers a listener for an event and returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, buffer)
	b.subs[e] = append(b.subs[e], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subs[e]
			for i, c := range subs {
				if c == ch {
					close(c)
					b.subs[e] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		})
	}

	return ch, unsub
}

// SubscribeMany merges several topics into one channel of Envelopes. The
// channel closes after ctx is done.
func (b *Bus) SubscribeMany(ctx context.Context, topics []Event, buffer int) <-chan Envelope {
	out := make(chan Envelope, buffer)
	var wg sync.WaitGroup
	for _, topic := range topics {
		stream, unsub := b.Subscribe(topic, buffer)
		wg.Add(1)
		go func(topic Event, stream <-chan any, unsub func()) {
			defer wg.Done()
			defer unsub()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-stream:
					if !ok {
						return
					}
					select {
					case out <- Envelope{Type: topic, Data: msg}:
					default:
					}
				}
			}
		}(topic, stream, unsub)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// Publish fan-outs the payload to subscribers without blocking.
func (b *Bus) Publish(e Event, payload any) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e] {
		select {
		case ch <- payload:
		default:
			// drop if subscriber is slow
		}
	}
}
