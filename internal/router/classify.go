// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/scout/internal/audit"
)

// ErrInvalidRaw is returned when a raw event cannot be turned into a payload.
var ErrInvalidRaw = errors.New("invalid raw event")

// RawEvent is an unclassified trigger, as produced by a git hook or the CLI.
type RawEvent struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// FromPayload wraps an already typed payload in a RawEvent.
func FromPayload(p audit.Payload, ts time.Time) (RawEvent, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return RawEvent{}, fmt.Errorf("encode %s payload: %w", p.EventType(), err)
	}
	return RawEvent{Type: string(p.EventType()), Timestamp: ts, Data: data}, nil
}

// typeAliases maps trigger names onto event types.
var typeAliases = map[string]audit.EventType{
	"commit":      audit.EventCommit,
	"post-commit": audit.EventCommit,
	"on-commit":   audit.EventCommit,
	"spend":       audit.EventSpend,
	"cost":        audit.EventSpend,
	"validation":  audit.EventValidation,
	"validate":    audit.EventValidation,
	"generic":     audit.EventGeneric,
}

// ClassifyType maps a raw type name onto an EventType. Unknown names are
// generic; the boolean reports whether the name was recognised.
func ClassifyType(name string) (audit.EventType, bool) {
	t, ok := typeAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return audit.EventGeneric, false
	}
	return t, true
}

// Classify decodes raw into the payload variant for its type.
func Classify(raw RawEvent) (audit.Payload, error) {
	t, known := ClassifyType(raw.Type)
	if !known {
		return genericFrom(raw)
	}

	data := bytes.TrimSpace(raw.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		switch t {
		case audit.EventCommit:
			return audit.CommitPayload{}, nil
		case audit.EventGeneric:
			return audit.GenericPayload{}, nil
		default:
			return nil, fmt.Errorf("%w: %s event without data", ErrInvalidRaw, t)
		}
	}

	p, err := audit.DecodePayload(t, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRaw, err)
	}
	if v, ok := p.(audit.ValidationPayload); ok && v.Field == "" {
		return nil, fmt.Errorf("%w: validation event without field", ErrInvalidRaw)
	}
	return p, nil
}

// genericFrom keeps the original type name and flattens an object body into
// string attributes. Non-object bodies are kept verbatim under "data".
func genericFrom(raw RawEvent) (audit.Payload, error) {
	p := audit.GenericPayload{Name: strings.TrimSpace(raw.Type)}
	if p.Name == "" {
		p.Name = "unknown"
	}
	data := bytes.TrimSpace(raw.Data)
	if len(data) == 0 {
		return p, nil
	}

	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		if !json.Valid(data) {
			return nil, fmt.Errorf("%w: data is not JSON", ErrInvalidRaw)
		}
		p.Attributes = map[string]string{"data": string(data)}
		return p, nil
	}

	p.Attributes = make(map[string]string, len(obj))
	for k, v := range obj {
		p.Attributes[k] = attrString(v)
	}
	return p, nil
}

func attrString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64, bool:
		return fmt.Sprint(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
