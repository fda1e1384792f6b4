// Package audit keeps a journal of custody events and checks that every
// intercepted exception was disposed of exactly once.
package audit

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/chazu/custody/bridge"
	"github.com/chazu/custody/vm"
)

// Event is one custody event. It carries no exception payload.
type Event struct {
	Capsule uuid.UUID     `cbor:"1,keyasint"`
	Ref     uint32        `cbor:"2,keyasint"`
	Action  bridge.Action `cbor:"3,keyasint"`
	AtNanos int64         `cbor:"4,keyasint"`
}

// At returns the event time.
func (e Event) At() time.Time {
	return time.Unix(0, e.AtNanos)
}

// Journal records custody events. It implements bridge.Recorder and is safe
// for concurrent use.
type Journal struct {
	mu     sync.Mutex
	events []Event
	now    func() time.Time
}

// NewJournal creates an empty journal.
func NewJournal() *Journal {
	return &Journal{now: time.Now}
}

// Record appends an event.
func (j *Journal) Record(capsule uuid.UUID, ref vm.ExceptionRef, action bridge.Action) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, Event{
		Capsule: capsule,
		Ref:     uint32(ref),
		Action:  action,
		AtNanos: j.now().UnixNano(),
	})
}

// Events returns a copy of the recorded events in order.
func (j *Journal) Events() []Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Event(nil), j.events...)
}

// Len returns the number of recorded events.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.events)
}

// Summary counts capsules by final disposition.
type Summary struct {
	Raised   int
	Restored int
	Cleared  int
	Pending  int
	Misuses  int
}

type capsuleHistory struct {
	ref       uint32
	raises    int
	disposals []bridge.Action
	misuses   int
}

func (j *Journal) histories() (map[uuid.UUID]*capsuleHistory, []uuid.UUID) {
	j.mu.Lock()
	defer j.mu.Unlock()

	byCapsule := make(map[uuid.UUID]*capsuleHistory)
	var order []uuid.UUID
	for _, e := range j.events {
		h, ok := byCapsule[e.Capsule]
		if !ok {
			h = &capsuleHistory{ref: e.Ref}
			byCapsule[e.Capsule] = h
			order = append(order, e.Capsule)
		}
		switch e.Action {
		case bridge.ActionRaise:
			h.raises++
		case bridge.ActionRestore, bridge.ActionClear:
			h.disposals = append(h.disposals, e.Action)
		case bridge.ActionMisuse:
			h.misuses++
		}
	}
	return byCapsule, order
}

// Summarize counts capsules by disposition.
func (j *Journal) Summarize() Summary {
	byCapsule, _ := j.histories()
	var s Summary
	for _, h := range byCapsule {
		s.Raised += h.raises
		s.Misuses += h.misuses
		switch {
		case len(h.disposals) == 0:
			s.Pending++
		case h.disposals[0] == bridge.ActionRestore:
			s.Restored++
		default:
			s.Cleared++
		}
	}
	return s
}

// Verify checks that every capsule was raised once and disposed of exactly
// once. It returns every violation found, or nil. Pending capsules count as
// violations, so Verify is meant to run once all scopes have exited.
// Detected misuse (a refused second Restore) is not a violation.
func (j *Journal) Verify() error {
	byCapsule, order := j.histories()

	var result *multierror.Error
	for _, id := range order {
		h := byCapsule[id]
		ref := vm.ExceptionRef(h.ref)
		if h.raises != 1 {
			result = multierror.Append(result, fmt.Errorf("capsule %s (%v): raised %d times", id, ref, h.raises))
		}
		switch len(h.disposals) {
		case 0:
			result = multierror.Append(result, fmt.Errorf("capsule %s (%v): never disposed", id, ref))
		case 1:
		default:
			result = multierror.Append(result, fmt.Errorf("capsule %s (%v): disposed %d times %v", id, ref, len(h.disposals), h.disposals))
		}
	}
	return result.ErrorOrNil()
}
