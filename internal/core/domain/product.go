package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

type Product struct {
	ID        string    `json:"id" yaml:"id"`
	Slug      string    `json:"slug" yaml:"slug"`
	Name      string    `json:"name,omitempty" yaml:"name"`
	Category  string    `json:"category" yaml:"category"`
	Specs     Specs     `json:"specs" yaml:"specs"`
	Stale     bool      `json:"stale" yaml:"stale"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// SpecEntry is one manufacturer-claimed specification.
type SpecEntry struct {
	Label string `json:"label" yaml:"label"`
	Value string `json:"value" yaml:"value"`
}

// Specs keeps manufacturer specifications in a stable order. It decodes either
// an ordered list of {label, value} pairs or a label->value object; objects are
// ordered by label so that derivations stay deterministic.
type Specs []SpecEntry

func (s *Specs) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*s = Specs{}
		return nil
	}

	switch trimmed[0] {
	case '[':
		var list []rawSpecEntry
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return fmt.Errorf("decode spec list: %w", err)
		}
		*s = specsFromList(list)
		return nil
	case '{':
		var raw map[string]any
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return fmt.Errorf("decode spec map: %w", err)
		}
		*s = specsFromMap(raw)
		return nil
	default:
		return fmt.Errorf("specs must be an object or an array")
	}
}

func (s Specs) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]SpecEntry(s))
}

// UnmarshalYAML accepts the same two shapes as UnmarshalJSON.
func (s *Specs) UnmarshalYAML(unmarshal func(any) error) error {
	var list []rawSpecEntry
	if err := unmarshal(&list); err == nil {
		*s = specsFromList(list)
		return nil
	}
	var raw map[string]any
	if err := unmarshal(&raw); err != nil {
		return fmt.Errorf("specs must be a mapping or a sequence: %w", err)
	}
	*s = specsFromMap(raw)
	return nil
}

// rawSpecEntry accepts non-string values; they are rendered with fmt.Sprint
// the same way object values are.
type rawSpecEntry struct {
	Label string `json:"label" yaml:"label"`
	Value any    `json:"value" yaml:"value"`
}

func specsFromList(list []rawSpecEntry) Specs {
	out := make(Specs, 0, len(list))
	for _, entry := range list {
		out = append(out, SpecEntry{Label: entry.Label, Value: specValue(entry.Value)})
	}
	return out
}

func specValue(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func specsFromMap(raw map[string]any) Specs {
	labels := make([]string, 0, len(raw))
	for label := range raw {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	out := make(Specs, 0, len(labels))
	for _, label := range labels {
		out = append(out, SpecEntry{Label: label, Value: specValue(raw[label])})
	}
	return out
}
