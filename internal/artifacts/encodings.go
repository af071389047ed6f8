package artifacts

import (
	"fmt"
	"sort"
	"strings"
)

// Encodings holds the frozen categorical vocabularies from training. Code 0
// is reserved for values never seen in training.
type Encodings struct {
	forward map[string]map[string]int
	inverse map[string]map[int]string
}

func NewEncodings(mappings map[string]map[string]int) (*Encodings, error) {
	e := &Encodings{
		forward: make(map[string]map[string]int, len(mappings)),
		inverse: make(map[string]map[int]string, len(mappings)),
	}

	for field, vocab := range mappings {
		fwd := make(map[string]int, len(vocab))
		inv := make(map[int]string, len(vocab))
		for value, code := range vocab {
			if code <= 0 {
				return nil, fmt.Errorf("field %s: code %d for %q must be positive", field, code, value)
			}
			if prev, dup := inv[code]; dup {
				return nil, fmt.Errorf("field %s: code %d shared by %q and %q", field, code, prev, value)
			}
			fwd[value] = code
			inv[code] = value
		}
		e.forward[field] = fwd
		e.inverse[field] = inv
	}
	return e, nil
}

func (e *Encodings) Encode(field, value string) int {
	if e == nil {
		return 0
	}
	vocab := e.forward[field]
	if code, ok := vocab[value]; ok {
		return code
	}
	if code, ok := vocab[strings.TrimSpace(value)]; ok {
		return code
	}
	return 0
}

func (e *Encodings) Decode(field string, code int) (string, bool) {
	if e == nil {
		return "", false
	}
	v, ok := e.inverse[field][code]
	return v, ok
}

func (e *Encodings) Fields() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.forward))
	for f := range e.forward {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
