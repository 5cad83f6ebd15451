package signer

import (
	"net/url"
	"strings"
)

// Params is an insertion-ordered set of query parameters. Setting an
// existing key replaces its value in place.
type Params struct {
	keys   []string
	values map[string]string
}

// NewParams creates an empty parameter set.
func NewParams() *Params {
	return &Params{values: make(map[string]string)}
}

// Set adds or replaces a parameter.
func (p *Params) Set(key, value string) *Params {
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
	return p
}

// Get returns the value for key, or "".
func (p *Params) Get(key string) string {
	return p.values[key]
}

// Keys returns the keys in insertion order.
func (p *Params) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Len returns the number of parameters.
func (p *Params) Len() int {
	return len(p.keys)
}

// Clone returns an independent copy.
func (p *Params) Clone() *Params {
	c := &Params{
		keys:   make([]string, len(p.keys)),
		values: make(map[string]string, len(p.values)),
	}
	copy(c.keys, p.keys)
	for k, v := range p.values {
		c.values[k] = v
	}
	return c
}

// Encode renders the canonical string k=v&k=v in insertion order.
func (p *Params) Encode() string {
	var sb strings.Builder
	for i, k := range p.keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(k))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(p.values[k]))
	}
	return sb.String()
}
