// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/jeranaias/scout/internal/money"
)

// EventType classifies an audit event.
type EventType string

const (
	EventCommit     EventType = "commit"
	EventSpend      EventType = "spend"
	EventValidation EventType = "validation"
	EventGeneric    EventType = "generic"
)

// EventTypes lists every known event type.
var EventTypes = []EventType{EventCommit, EventSpend, EventValidation, EventGeneric}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventCommit, EventSpend, EventValidation, EventGeneric:
		return true
	}
	return false
}

// ErrInvalidEvent is returned for events that cannot be stored.
var ErrInvalidEvent = errors.New("invalid audit event")

// Payload is the typed body of an event. Each variant belongs to exactly one
// EventType.
type Payload interface {
	EventType() EventType
}

// =============================================================================
// PAYLOAD VARIANTS
// =============================================================================

// Git metadata markers on commit payloads.
const (
	GitMetadataAvailable   = "available"
	GitMetadataUnavailable = "unavailable"
)

// CommitPayload describes a git commit.
type CommitPayload struct {
	CommitHash   string   `json:"commit_hash,omitempty"`
	Branch       string   `json:"branch,omitempty"`
	Message      string   `json:"message,omitempty"`
	ChangedFiles []string `json:"changed_files,omitempty"`
	GitVersion   string   `json:"git_version,omitempty"`
	GitMetadata  string   `json:"git_metadata"`
	GitError     string   `json:"git_error,omitempty"`
}

func (CommitPayload) EventType() EventType { return EventCommit }

// SpendPayload records a cost.
type SpendPayload struct {
	Amount   money.Decimal `json:"amount"`
	Currency string        `json:"currency,omitempty"`
	Source   string        `json:"source,omitempty"`
	Note     string        `json:"note,omitempty"`
}

func (SpendPayload) EventType() EventType { return EventSpend }

// GeoPoint is a WGS84 coordinate in degrees.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Value is a validated field value: text, a number or a location. Exactly
// one of the members is meaningful for a given validation kind.
type Value struct {
	Text     string    `json:"text,omitempty"`
	Number   *float64  `json:"number,omitempty"`
	Location *GeoPoint `json:"location,omitempty"`
}

// TextValue returns a text Value.
func TextValue(s string) Value { return Value{Text: s} }

// NumberValue returns a numeric Value.
func NumberValue(f float64) Value { return Value{Number: &f} }

// LocationValue returns a location Value.
func LocationValue(lat, lon float64) Value { return Value{Location: &GeoPoint{Lat: lat, Lon: lon}} }

// ValidationPayload compares an expected and an observed value for one field.
type ValidationPayload struct {
	Field    string `json:"field"`
	Kind     string `json:"kind"`
	Expected Value  `json:"expected"`
	Actual   Value  `json:"actual"`
}

func (ValidationPayload) EventType() EventType { return EventValidation }

// GenericPayload carries free-form attributes.
type GenericPayload struct {
	Name       string            `json:"name,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func (GenericPayload) EventType() EventType { return EventGeneric }

// =============================================================================
// EVENT
// =============================================================================

// Event is one audit record. Sequence, PrevHash and Hash are assigned by the
// Logger; events are never modified after they are written.
type Event struct {
	SessionID string
	Sequence  uint64
	Timestamp time.Time
	Type      EventType
	Payload   Payload

	PrevHash string
	Hash     string
}

// NewEvent builds an unsequenced event for sessionID.
func NewEvent(sessionID string, ts time.Time, p Payload) Event {
	e := Event{SessionID: sessionID, Timestamp: ts, Payload: p}
	if p != nil {
		e.Type = p.EventType()
	}
	return e
}

// Validate checks the fields a caller must supply before Append.
func (e Event) Validate() error {
	if e.SessionID == "" {
		return fmt.Errorf("%w: missing session_id", ErrInvalidEvent)
	}
	if !utf8.ValidString(e.SessionID) {
		return fmt.Errorf("%w: session_id is not valid UTF-8", ErrInvalidEvent)
	}
	if e.Payload == nil {
		return fmt.Errorf("%w: missing payload", ErrInvalidEvent)
	}
	if e.Type != "" && e.Type != e.Payload.EventType() {
		return fmt.Errorf("%w: event_type %q does not match %T", ErrInvalidEvent, e.Type, e.Payload)
	}
	return nil
}

// record is the on-disk shape of an Event.
type record struct {
	SessionID string          `json:"session_id"`
	Sequence  uint64          `json:"sequence_no"`
	Timestamp time.Time       `json:"timestamp"`
	Type      EventType       `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash,omitempty"`
}

func (e Event) toRecord() (record, error) {
	if e.Payload == nil {
		return record{}, fmt.Errorf("%w: missing payload", ErrInvalidEvent)
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return record{}, fmt.Errorf("failed to encode payload: %w", err)
	}
	t := e.Type
	if t == "" {
		t = e.Payload.EventType()
	}
	return record{
		SessionID: e.SessionID,
		Sequence:  e.Sequence,
		Timestamp: e.Timestamp,
		Type:      t,
		Payload:   payload,
		PrevHash:  e.PrevHash,
		Hash:      e.Hash,
	}, nil
}

// MarshalJSON encodes the event in its on-disk record form.
func (e Event) MarshalJSON() ([]byte, error) {
	r, err := e.toRecord()
	if err != nil {
		return nil, err
	}
	return json.Marshal(r)
}

// UnmarshalJSON decodes a record, choosing the payload variant by
// event_type.
func (e *Event) UnmarshalJSON(data []byte) error {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	p, err := DecodePayload(r.Type, r.Payload)
	if err != nil {
		return err
	}
	*e = Event{
		SessionID: r.SessionID,
		Sequence:  r.Sequence,
		Timestamp: r.Timestamp,
		Type:      r.Type,
		Payload:   p,
		PrevHash:  r.PrevHash,
		Hash:      r.Hash,
	}
	return nil
}

// DecodePayload decodes raw into the variant for t.
func DecodePayload(t EventType, raw json.RawMessage) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch t {
	case EventCommit:
		var v CommitPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case EventSpend:
		var v SpendPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case EventValidation:
		var v ValidationPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case EventGeneric:
		var v GenericPayload
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: unknown event_type %q", ErrInvalidEvent, t)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", t, err)
	}
	return p, nil
}

// canonicalPayload returns p as it reads back from disk. encoding/json
// replaces invalid UTF-8 with U+FFFD when encoding, so hashing the original
// bytes would not match a hash of the decoded record.
func canonicalPayload(p Payload) (Payload, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return DecodePayload(p.EventType(), raw)
}

// ComputeHash returns the chain hash of e: SHA-256 over the record encoded
// with an empty hash field. PrevHash is part of the hashed content.
func (e Event) ComputeHash() (string, error) {
	r, err := e.toRecord()
	if err != nil {
		return "", err
	}
	r.Hash = ""
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// encodeLine seals e with its hash and returns the newline-terminated
// record.
func encodeLine(e *Event) ([]byte, error) {
	hash, err := e.ComputeHash()
	if err != nil {
		return nil, err
	}
	e.Hash = hash
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
