package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Type names a kind of change.
type Type string

// Event types.
const (
	PageCreated     Type = "page.created"
	PageUpdated     Type = "page.updated"
	PageMoved       Type = "page.moved"
	ContentSaved    Type = "content.saved"
	SubtreeRestored Type = "subtree.restored"
	SubtreePurged   Type = "subtree.purged"
	EmbedTrashed    Type = "embed.trashed"
	EmbedRestored   Type = "embed.restored"
)

// Event is one entry of the change feed. Related carries the other
// pages a change touched (subtree members, trashed embeds).
type Event struct {
	Seq      int64     `cbor:"seq" json:"seq"`
	Type     Type      `cbor:"type" json:"type"`
	TenantID string    `cbor:"tenant" json:"tenantId"`
	PostID   string    `cbor:"post" json:"postId"`
	ActorID  string    `cbor:"actor,omitempty" json:"actorId,omitempty"`
	Related  []string  `cbor:"related,omitempty" json:"related,omitempty"`
	Version  int       `cbor:"version,omitempty" json:"version,omitempty"`
	Time     time.Time `cbor:"time" json:"time"`
}

// Publisher receives committed events.
type Publisher interface {
	Publish(evts ...Event)
}

// subscriber represents a connected feed consumer. ch is never closed;
// done closes once when the subscriber is cancelled or dropped.
//
// While a cursor replay runs, live frames are held in pending instead
// of ch and flushed after the last stored event. pending and replaying
// are guarded by Manager.mu.
type subscriber struct {
	tenantID string
	ch       chan []byte
	done     chan struct{}
	once     sync.Once

	replaying bool
	pending   []liveFrame
}

type liveFrame struct {
	seq   int64
	frame []byte
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// Subscription is a live feed for one tenant.
type Subscription struct {
	// C delivers encoded frames.
	C <-chan []byte
	// Done closes when the subscription ends: cancelled, dropped as a
	// slow consumer, or shut down.
	Done <-chan struct{}

	cancel func()
}

// Close ends the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.cancel()
}

// Replayer streams stored events after a cursor. *Persister is the
// production implementation.
type Replayer interface {
	Replay(ctx context.Context, tenantID string, since int64, fn func(seq int64, frame []byte) error) error
}

// maxPending bounds the live frames held for one subscriber during
// replay. Past it the subscriber is dropped like any slow consumer.
const maxPending = 4096

// Manager fans committed events out to subscribers and replays history
// on connect.
type Manager struct {
	replayer Replayer
	log       zerolog.Logger

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

// NewManager creates a Manager. replayer may be nil, in which case
// cursors are ignored.
func NewManager(replayer Replayer, log zerolog.Logger) *Manager {
	return &Manager{
		replayer: replayer,
		log:      log.With().Str("component", "events").Logger(),
		subs:     make(map[*subscriber]struct{}),
	}
}

// Publish broadcasts committed events to subscribers of their tenant.
func (m *Manager) Publish(evts ...Event) {
	for _, evt := range evts {
		frame, err := EncodeFrame(evt)
		if err != nil {
			m.log.Error().Err(err).Int64("seq", evt.Seq).Msg("encode frame")
			continue
		}
		m.broadcast(evt.TenantID, evt.Seq, frame)
	}
}

// Subscribe opens a feed for tenantID. If since is non-nil, stored
// events after that cursor are replayed first.
func (m *Manager) Subscribe(ctx context.Context, tenantID string, since *int64) (*Subscription, error) {
	sub := &subscriber{
		tenantID:  tenantID,
		ch:        make(chan []byte, 256),
		done:      make(chan struct{}),
		replaying: since != nil && m.replayer != nil,
	}

	// Register before replay so nothing committed during it is missed.
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.New("events: manager shut down")
	}
	m.subs[sub] = struct{}{}
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		delete(m.subs, sub)
		m.mu.Unlock()
		sub.stop()
	}

	if sub.replaying {
		go m.replay(ctx, sub, *since)
	}

	return &Subscription{C: sub.ch, Done: sub.done, cancel: cancel}, nil
}

// replay sends stored events after since, then drains the live frames
// queued meanwhile. Queued frames already covered by the replay are
// skipped.
func (m *Manager) replay(ctx context.Context, sub *subscriber, since int64) {
	send := func(frame []byte) error {
		select {
		case sub.ch <- frame:
			return nil
		case <-sub.done:
			return errors.New("subscriber cancelled")
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	last := since
	err := m.replayer.Replay(ctx, sub.tenantID, since, func(seq int64, frame []byte) error {
		last = seq
		return send(frame)
	})
	if err != nil {
		m.log.Warn().Err(err).Str("tenant", sub.tenantID).Msg("replay")
	}

	for {
		m.mu.Lock()
		queued := sub.pending
		sub.pending = nil
		if len(queued) == 0 {
			sub.replaying = false
		}
		m.mu.Unlock()
		if len(queued) == 0 {
			return
		}
		for _, lf := range queued {
			if lf.seq <= last {
				continue
			}
			if err := send(lf.frame); err != nil {
				return
			}
		}
	}
}

// Shutdown ends every subscription and rejects new subscribers.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for sub := range m.subs {
		sub.stop()
		delete(m.subs, sub)
	}
}

// broadcast sends a frame to the tenant's subscribers. Slow consumers
// whose buffers are full are dropped; they reconnect with a cursor.
// Subscribers still replaying queue the frame instead.
func (m *Manager) broadcast(tenantID string, seq int64, frame []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sub := range m.subs {
		if sub.tenantID != tenantID {
			continue
		}
		if sub.replaying {
			if len(sub.pending) < maxPending {
				sub.pending = append(sub.pending, liveFrame{seq: seq, frame: frame})
				continue
			}
		} else {
			select {
			case sub.ch <- frame:
				continue
			default:
			}
		}
		m.log.Warn().Str("tenant", tenantID).Msg("dropping slow subscriber")
		sub.stop()
		delete(m.subs, sub)
	}
}
