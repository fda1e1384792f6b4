package audit

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// cborEncMode uses canonical mode for deterministic encoding.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("audit: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalEvents serializes events to CBOR bytes.
func MarshalEvents(events []Event) ([]byte, error) {
	return cborEncMode.Marshal(events)
}

// UnmarshalEvents deserializes events from CBOR bytes.
func UnmarshalEvents(data []byte) ([]Event, error) {
	var events []Event
	if err := cbor.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("audit: unmarshal events: %w", err)
	}
	return events, nil
}

// WriteFile writes the journal's events to path.
func (j *Journal) WriteFile(path string) error {
	data, err := MarshalEvents(j.Events())
	if err != nil {
		return fmt.Errorf("audit: marshal events: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("audit: cannot write %s: %w", path, err)
	}
	return nil
}

// ReadFile loads a journal written by WriteFile.
func ReadFile(path string) (*Journal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("audit: cannot read %s: %w", path, err)
	}
	events, err := UnmarshalEvents(data)
	if err != nil {
		return nil, err
	}
	j := NewJournal()
	j.events = events
	return j, nil
}
