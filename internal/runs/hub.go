package runs

import "github.com/troy12x/si-copilot/internal/models"

// EventType names a run event
type EventType string

const (
	EventSnapshot  EventType = "snapshot"
	EventProgress  EventType = "progress"
	EventDataset   EventType = "dataset"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventCancelled EventType = "cancelled"
)

// Event is streamed to run subscribers
type Event struct {
	Type     EventType       `json:"type"`
	RunID    string          `json:"runId"`
	Status   Status          `json:"status"`
	Progress models.Progress `json:"progress"`
	Split    string          `json:"split,omitempty"`
	Records  []models.Record `json:"records,omitempty"`
	Run      *Snapshot       `json:"run,omitempty"`
	Error    string          `json:"error,omitempty"`
}

type subscriber struct {
	send chan Event
}

// Hub fans run events out to subscribers. One goroutine owns the
// subscriber set; slow subscribers are dropped rather than blocking the run.
type Hub struct {
	register   chan *subscriber
	unregister chan *subscriber
	broadcast  chan Event
	quit       chan struct{}
	done       chan struct{}
	subs       map[*subscriber]bool
}

func newHub() *Hub {
	h := &Hub{
		register:   make(chan *subscriber),
		unregister: make(chan *subscriber),
		broadcast:  make(chan Event),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		subs:       make(map[*subscriber]bool),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case s := <-h.register:
			h.subs[s] = true
		case s := <-h.unregister:
			if h.subs[s] {
				delete(h.subs, s)
				close(s.send)
			}
		case ev := <-h.broadcast:
			for s := range h.subs {
				select {
				case s.send <- ev:
				default:
					delete(h.subs, s)
					close(s.send)
				}
			}
		case <-h.quit:
			for s := range h.subs {
				close(s.send)
			}
			return
		}
	}
}

// Publish delivers ev to current subscribers. It returns once the hub has
// handed the event out, so events are seen in publish order.
func (h *Hub) Publish(ev Event) {
	select {
	case h.broadcast <- ev:
	case <-h.done:
	}
}

// Subscribe returns a channel of events and a cancel func. The channel is
// closed when the hub closes or the subscriber falls behind.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	s := &subscriber{send: make(chan Event, 64)}
	select {
	case h.register <- s:
	case <-h.done:
		close(s.send)
		return s.send, func() {}
	}
	return s.send, func() {
		select {
		case h.unregister <- s:
		case <-h.done:
		}
	}
}

// Close disconnects every subscriber
func (h *Hub) Close() {
	select {
	case <-h.quit:
	default:
		close(h.quit)
	}
	<-h.done
}
