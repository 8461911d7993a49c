package streaming

import (
	"sync"

	"github.com/KevinKickass/OpenPadCore/internal/storage"
)

// AllPads subscribes to the records of every pad.
const AllPads = ""

// EventStreamer fans status records out to per-pad subscribers. It is a
// status observer; slow subscribers miss records instead of blocking the
// recorder.
type EventStreamer struct {
	mu          sync.RWMutex
	subscribers map[string][]chan storage.PadStatus
}

func NewEventStreamer() *EventStreamer {
	return &EventStreamer{
		subscribers: make(map[string][]chan storage.PadStatus),
	}
}

func (s *EventStreamer) Subscribe(padCode string) <-chan storage.PadStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan storage.PadStatus, 100)
	s.subscribers[padCode] = append(s.subscribers[padCode], ch)
	return ch
}

func (s *EventStreamer) Unsubscribe(padCode string, ch <-chan storage.PadStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subscribers[padCode]
	for i, sub := range subs {
		if sub == ch {
			s.subscribers[padCode] = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	if len(s.subscribers[padCode]) == 0 {
		delete(s.subscribers, padCode)
	}
}

// PublishStatus delivers rec to the subscribers of its pad and of AllPads.
func (s *EventStreamer) PublishStatus(rec storage.PadStatus) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	deliver := func(subs []chan storage.PadStatus) {
		for _, ch := range subs {
			select {
			case ch <- rec:
			default:
			}
		}
	}
	deliver(s.subscribers[rec.PadCode])
	if rec.PadCode != AllPads {
		deliver(s.subscribers[AllPads])
	}
}

// CloseAll ends every subscription.
func (s *EventStreamer) CloseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for pad, subs := range s.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(s.subscribers, pad)
	}
}

func (s *EventStreamer) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, subs := range s.subscribers {
		n += len(subs)
	}
	return n
}
