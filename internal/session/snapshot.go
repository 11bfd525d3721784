package session

import (
	"time"

	"github.com/ayusman/mukha/internal/movement"
	"github.com/ayusman/mukha/internal/overlay"
	"github.com/ayusman/mukha/internal/pipeline"
)

// Snapshot is a point-in-time view of a Session.
type Snapshot struct {
	SessionID      string            `json:"session_id"`
	State          State             `json:"state"`
	Status         string            `json:"status"`
	CameraActive   bool              `json:"camera_active"`
	Options        pipeline.Options  `json:"options"`
	Counters       movement.Counters `json:"counters"`
	LastDirection  string            `json:"last_direction"`
	CooldownActive bool              `json:"cooldown_active"`
	Faces          []overlay.Summary `json:"faces"`
	CatalogLabels  []string          `json:"catalog_labels"`
	CatalogError   string            `json:"catalog_error,omitempty"`
	SkippedTicks   uint64            `json:"skipped_ticks"`
	TickedAt       *time.Time        `json:"ticked_at,omitempty"`
}

// Snapshot returns the current state of the session.
func (s *Session) Snapshot() Snapshot {
	st := s.tracker.State()
	snap := Snapshot{
		SessionID:      s.id,
		Counters:       s.tracker.Counters(),
		LastDirection:  st.LastDirection.String(),
		CooldownActive: st.CooldownActive,
		CatalogLabels:  s.adapter.Matcher().Labels(),
		SkippedTicks:   s.skipped.Load(),
	}
	if snap.CatalogLabels == nil {
		snap.CatalogLabels = []string{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	snap.State = s.state
	snap.Status = s.status
	snap.CameraActive = s.state == CameraActive
	snap.Options = s.options
	snap.Faces = append([]overlay.Summary{}, s.summaries...)
	if s.catalogErr != nil {
		snap.CatalogError = s.catalogErr.Error()
	}
	if !s.tickedAt.IsZero() {
		t := s.tickedAt
		snap.TickedAt = &t
	}
	return snap
}

// Subscribe returns a channel receiving a Snapshot after every change and
// every tick. Slow subscribers only see the latest snapshot. Call cancel
// to unsubscribe; the channel is closed when the session closes, and is
// returned already closed after Close.
func (s *Session) Subscribe() (updates <-chan Snapshot, cancel func()) {
	ch := make(chan Snapshot, 1)

	s.subsMu.Lock()
	if s.subsClosed {
		s.subsMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()

	return ch, func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
	}
}

func (s *Session) notify() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if len(s.subs) == 0 {
		return
	}

	snap := s.Snapshot()
	for ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
