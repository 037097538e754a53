// Package events is the page change feed. Mutations write an Event row
// inside their own transaction (so the feed never shows a rolled-back
// change), then publish it after commit to WebSocket subscribers of the
// same tenant. The BIGSERIAL seq doubles as the replay cursor.
package events

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/primal-host/primal-pages/internal/database"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort: cbor.SortCanonical,
		Time: cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("events: cbor enc mode: %v", err))
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("events: cbor dec mode: %v", err))
	}
}

// Record inserts evt into page_events through q and fills in its Seq
// and Time. Call it inside the mutating transaction.
func Record(ctx context.Context, q database.Querier, evt *Event) error {
	if evt.Time.IsZero() {
		evt.Time = time.Now().UTC()
	}
	payload, err := encMode.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", evt.Type, err)
	}

	err = q.QueryRow(ctx,
		`INSERT INTO page_events (tenant_id, event_type, post_id, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING seq`,
		evt.TenantID, string(evt.Type), evt.PostID, payload, evt.Time,
	).Scan(&evt.Seq)
	if err != nil {
		return fmt.Errorf("events: insert %s: %w", evt.Type, err)
	}
	return nil
}

// Persister reads stored events back for cursor replay.
type Persister struct {
	q database.Querier
}

// NewPersister creates a Persister reading through q (usually the pool).
func NewPersister(q database.Querier) *Persister {
	return &Persister{q: q}
}

// Replay calls fn with the seq and wire frame of every event of
// tenantID with seq > since, in seq order.
func (p *Persister) Replay(ctx context.Context, tenantID string, since int64, fn func(seq int64, frame []byte) error) error {
	rows, err := p.q.Query(ctx,
		`SELECT seq, payload FROM page_events
		 WHERE tenant_id = $1 AND seq > $2 ORDER BY seq ASC`,
		tenantID, since)
	if err != nil {
		return fmt.Errorf("events: replay query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq     int64
			payload []byte
		)
		if err := rows.Scan(&seq, &payload); err != nil {
			return fmt.Errorf("events: replay scan: %w", err)
		}

		var evt Event
		if err := decMode.Unmarshal(payload, &evt); err != nil {
			return fmt.Errorf("events: replay unmarshal seq %d: %w", seq, err)
		}
		evt.Seq = seq

		frame, err := EncodeFrame(evt)
		if err != nil {
			return fmt.Errorf("events: replay encode seq %d: %w", seq, err)
		}
		if err := fn(seq, frame); err != nil {
			return err
		}
	}
	return rows.Err()
}

// frameHeader precedes every event on the wire.
type frameHeader struct {
	Op   int    `cbor:"op"`
	Type string `cbor:"t"`
}

const opMessage = 1

// EncodeFrame serializes evt as CBOR(header) followed by CBOR(event).
func EncodeFrame(evt Event) ([]byte, error) {
	var buf bytes.Buffer
	enc := encMode.NewEncoder(&buf)
	if err := enc.Encode(frameHeader{Op: opMessage, Type: "#" + string(evt.Type)}); err != nil {
		return nil, fmt.Errorf("events: encode header: %w", err)
	}
	if err := enc.Encode(evt); err != nil {
		return nil, fmt.Errorf("events: encode event: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeFrame is the inverse of EncodeFrame.
func DecodeFrame(frame []byte) (Event, error) {
	dec := decMode.NewDecoder(bytes.NewReader(frame))
	var h frameHeader
	if err := dec.Decode(&h); err != nil {
		return Event{}, fmt.Errorf("events: decode header: %w", err)
	}
	if h.Op != opMessage {
		return Event{}, fmt.Errorf("events: unexpected op %d", h.Op)
	}
	var evt Event
	if err := dec.Decode(&evt); err != nil {
		return Event{}, fmt.Errorf("events: decode event: %w", err)
	}
	return evt, nil
}
