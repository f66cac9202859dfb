package model

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// Properties is a JSON object that remembers key order.
type Properties struct {
	Keys   []string
	Values map[string]any
}

// NewProperties returns an empty property bag.
func NewProperties() *Properties {
	return &Properties{Values: make(map[string]any)}
}

// Set adds or replaces key. New keys are appended to the order.
func (p *Properties) Set(key string, value any) {
	if p.Values == nil {
		p.Values = make(map[string]any)
	}
	if _, ok := p.Values[key]; !ok {
		p.Keys = append(p.Keys, key)
	}
	p.Values[key] = value
}

// Get returns the value for key and whether it is present.
func (p *Properties) Get(key string) (any, bool) {
	if p == nil || p.Values == nil {
		return nil, false
	}
	v, ok := p.Values[key]
	return v, ok
}

// Len returns the number of keys.
func (p *Properties) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Keys)
}

// MarshalJSON writes the object with keys in insertion order.
func (p Properties) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range p.Keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, eris.Wrapf(err, "model: marshal key %q", k)
		}
		vb, err := json.Marshal(p.Values[k])
		if err != nil {
			return nil, eris.Wrapf(err, "model: marshal value of %q", k)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object, keeping the document's key order.
// JSON null yields an empty bag.
func (p *Properties) UnmarshalJSON(data []byte) error {
	p.Keys = nil
	p.Values = make(map[string]any)
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return eris.Wrap(err, "model: read properties")
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return eris.Errorf("model: properties must be an object, got %v", tok)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return eris.Wrap(err, "model: read property key")
		}
		key, ok := tok.(string)
		if !ok {
			return eris.Errorf("model: unexpected property key %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return eris.Wrapf(err, "model: decode property %q", key)
		}
		p.Set(key, v)
	}
	return nil
}
