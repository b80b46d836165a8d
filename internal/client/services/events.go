package services

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

// PendingCountChanged is published after every committed queue mutation.
type PendingCountChanged struct {
	InspectionID string
	Pending      int
}

// Events fans queue notifications out to subscribers. Delivery never blocks
// the queue: while a subscriber's buffer is full its events are coalesced,
// keeping only the latest count per inspection, and delivered once it reads
// again.
type Events struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*subscriber
	log    logging.Logger
}

func NewEvents(log logging.Logger) *Events {
	return &Events{subs: make(map[int]*subscriber), log: log.With("module", "events")}
}

// Subscribe returns a channel of events and a function that cancels the
// subscription and closes the channel.
func (e *Events) Subscribe(buffer int) (<-chan PendingCountChanged, func()) {
	sub := &subscriber{
		out:    make(chan PendingCountChanged, buffer),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		latest: make(map[string]int),
	}
	go sub.run()

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = sub
	e.mu.Unlock()

	var once sync.Once
	return sub.out, func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
			close(sub.done)
		})
	}
}

func (e *Events) publish(ctx context.Context, ev PendingCountChanged) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, sub := range e.subs {
		if !sub.offer(ev) {
			e.log.Debug(ctx, "subscriber buffer full, event coalesced", "inspection_id", ev.InspectionID)
		}
	}
}

// subscriber owns the backlog of one subscription. Only run sends from the
// backlog; offer sends directly only while the backlog is empty and run is
// not mid-send, so a count never overtakes a newer one.
type subscriber struct {
	out  chan PendingCountChanged
	wake chan struct{}
	done chan struct{}

	mu      sync.Mutex
	latest  map[string]int
	order   []string
	sending bool
}

// offer reports whether ev went straight into the buffer.
func (s *subscriber) offer(ev PendingCountChanged) bool {
	s.mu.Lock()
	if len(s.order) == 0 && !s.sending {
		select {
		case s.out <- ev:
			s.mu.Unlock()
			return true
		default:
		}
	}
	if _, ok := s.latest[ev.InspectionID]; !ok {
		s.order = append(s.order, ev.InspectionID)
	}
	s.latest[ev.InspectionID] = ev.Pending
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return false
}

func (s *subscriber) next() (PendingCountChanged, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) == 0 {
		return PendingCountChanged{}, false
	}
	id := s.order[0]
	s.order = s.order[1:]
	n := s.latest[id]
	delete(s.latest, id)
	s.sending = true
	return PendingCountChanged{InspectionID: id, Pending: n}, true
}

func (s *subscriber) sent() {
	s.mu.Lock()
	s.sending = false
	s.mu.Unlock()
}

func (s *subscriber) run() {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			ev, ok := s.next()
			if !ok {
				break
			}
			select {
			case s.out <- ev:
				s.sent()
			case <-s.done:
				return
			}
		}
	}
}
