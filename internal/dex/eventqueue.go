package dex

import (
	"encoding/binary"
	"fmt"

	"github.com/synthfi-arb/arb/pkg/types"
)

// eventQueueHeaderSize matches the shared 32-byte queue header
// {flags, head, count, seq} (§6.3).
const eventQueueHeaderSize = 32

// eventRecordSize is the fixed width of one queue entry.
const eventRecordSize = 88

// QueueHeader is the shared request/event queue header.
type QueueHeader struct {
	Flags          uint64
	Head           uint64
	Count          uint64
	SequenceNumber uint64
}

// DecodeQueueHeader decodes the 32-byte header at the front of a queue
// account.
func DecodeQueueHeader(data []byte) (QueueHeader, error) {
	if len(data) < eventQueueHeaderSize {
		return QueueHeader{}, fmt.Errorf("dex event queue: header truncated, have %d bytes, want %d", len(data), eventQueueHeaderSize)
	}
	return QueueHeader{
		Flags:          binary.LittleEndian.Uint64(data[0:8]),
		Head:           binary.LittleEndian.Uint64(data[8:16]),
		Count:          binary.LittleEndian.Uint64(data[16:24]),
		SequenceNumber: binary.LittleEndian.Uint64(data[24:32]),
	}, nil
}

// Event is one decoded fill/out event.
type Event struct {
	Side          types.Side
	Owner         types.PublicKey
	Quantity      uint64
	ClientOrderID uint64
}

func decodeEvent(body []byte) (Event, error) {
	if len(body) < eventRecordSize {
		return Event{}, fmt.Errorf("dex event queue: record truncated, have %d bytes, want %d", len(body), eventRecordSize)
	}
	side := types.SideAsk
	if body[1] == 1 {
		side = types.SideBid
	}
	owner, err := types.NewHashFromBytes(body[8:40])
	if err != nil {
		return Event{}, err
	}
	qty := binary.LittleEndian.Uint64(body[40:48])
	clientOrderID := binary.LittleEndian.Uint64(body[48:56])
	return Event{Side: side, Owner: owner, Quantity: qty, ClientOrderID: clientOrderID}, nil
}

// EventQueueTracker maintains last_seen_seq across notifications and
// drains newly-arrived events from the circular buffer on each update
// (§4.7.2).
type EventQueueTracker struct {
	capacity    int
	lastSeenSeq uint64
	haveSeen    bool
}

// NewEventQueueTracker constructs a tracker for a queue account of the
// given record capacity.
func NewEventQueueTracker(capacity int) *EventQueueTracker {
	return &EventQueueTracker{capacity: capacity}
}

// Drain computes to_process = current_seq - last_seen_seq (or the full
// event_count on the first notification), reports through its bool result
// whether more events were produced than the queue can hold (meaning some
// were missed; logging that is left to the caller), and
// decodes up to min(event_count, to_process) entries starting at head,
// wrapping with (head+i) mod capacity.
func (t *EventQueueTracker) Drain(data []byte, header QueueHeader) ([]Event, bool, error) {
	var toProcess uint64
	missed := false
	if !t.haveSeen {
		toProcess = header.Count
	} else {
		toProcess = header.SequenceNumber - t.lastSeenSeq
		if toProcess > header.Count {
			missed = true
		}
	}

	n := toProcess
	if header.Count < n {
		n = header.Count
	}

	events := make([]Event, 0, n)
	for i := uint64(0); i < n; i++ {
		slot := (header.Head + i) % uint64(t.capacity)
		offset := eventQueueHeaderSize + int(slot)*eventRecordSize
		if offset+eventRecordSize > len(data) {
			return nil, missed, fmt.Errorf("dex event queue: slot %d out of range", slot)
		}
		evt, err := decodeEvent(data[offset : offset+eventRecordSize])
		if err != nil {
			return nil, missed, err
		}
		events = append(events, evt)
	}

	t.lastSeenSeq = header.SequenceNumber
	t.haveSeen = true
	return events, missed, nil
}
