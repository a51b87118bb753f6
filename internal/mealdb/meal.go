package mealdb

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Meal is one recipe record as returned by the recipe API. Only idMeal is
// interpreted; the full object is kept verbatim and marshals back unchanged.
type Meal struct {
	ID  string
	raw json.RawMessage
}

// NewMeal builds a Meal from a raw JSON object
func NewMeal(raw []byte) (Meal, error) {
	var m Meal
	if err := m.UnmarshalJSON(raw); err != nil {
		return Meal{}, err
	}
	return m, nil
}

// UnmarshalJSON keeps the raw record and derives its key from idMeal. The
// API sends a string; numbers map to their decimal text and any other value
// to its raw JSON text, so an odd record never fails the whole batch.
func (m *Meal) UnmarshalJSON(data []byte) error {
	if !json.Valid(data) {
		return errors.New("meal record: invalid JSON")
	}
	var fields struct {
		ID json.RawMessage `json:"idMeal"`
	}
	// records that are not objects have no id and are kept as they are
	_ = json.Unmarshal(data, &fields)

	m.ID = idKey(fields.ID)
	m.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON emits the record exactly as it was received
func (m Meal) MarshalJSON() ([]byte, error) {
	if len(m.raw) == 0 {
		return json.Marshal(map[string]string{"idMeal": m.ID})
	}
	return m.raw, nil
}

// Raw returns the record bytes as received
func (m Meal) Raw() json.RawMessage {
	return m.raw
}

// Field returns a top-level string field of the record, or "" when it is
// missing or not a string.
func (m Meal) Field(name string) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(m.raw, &fields); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(fields[name], &s); err != nil {
		return ""
	}
	return s
}

// Name returns strMeal
func (m Meal) Name() string {
	return m.Field("strMeal")
}

func idKey(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			return n.String()
		}
	}
	return string(raw)
}
