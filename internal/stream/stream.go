package stream

import (
	"context"
	"sync"
	"time"
)

// Event kinds emitted by the certification core. One event is published per
// successful mutating call, in the order the mutations were applied.
const (
	KindPlantCreated      = "plant.created"
	KindEquipmentCreated  = "equipment.registered"
	KindActorRegistered   = "actor.registered"
	KindDocumentSubmitted = "document.submitted"
	KindReadyForReview    = "equipment.ready_for_review"
	KindUnderReview       = "equipment.under_review"
	KindCertified         = "equipment.certified"
	KindRejected          = "equipment.rejected"
	KindDeprecated        = "equipment.deprecated"
	KindRoleGranted       = "role.granted"
	KindRoleRevoked       = "role.revoked"
	KindIntegrityChecked  = "integrity.checked"
)

// Event describes a single state transition, role change or integrity check.
type Event struct {
	Kind      string            `json:"kind"`
	EntityID  uint64            `json:"entity_id"`
	Actor     string            `json:"actor"`
	Timestamp time.Time         `json:"timestamp"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Stream fan-outs certification events to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking the writer.
		}
	}
}
