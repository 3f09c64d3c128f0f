package schema

import (
	"bytes"
	"encoding/json"

	"github.com/teranos/ontogen/errors"
)

// Canonical encodes v as compact JSON with stable key order: struct fields in
// declaration order, map keys sorted. HTML characters are not escaped, so the
// text re-parses to the same value.
func Canonical(v interface{}) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", errors.Wrap(err, "canonical encoding")
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// UnitReference is the canonical {category: [path]} reference to a work unit
func UnitReference(category, path string) (string, error) {
	return Canonical(map[string][]string{category: {path}})
}
