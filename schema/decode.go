package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/teranos/ontogen/errors"
)

// DecodeError reports a reply field that matched none of its accepted shapes
type DecodeError struct {
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s", e.Field, e.Reason)
}

func decodeErr(field, format string, args ...interface{}) error {
	return errors.Mark(&DecodeError{Field: field, Reason: fmt.Sprintf(format, args...)}, errors.ErrDecode)
}

// fields splits a JSON object into its members and checks required keys
func fields(name string, data []byte, required ...string) (map[string]json.RawMessage, error) {
	if isNull(data) {
		return nil, decodeErr(name, "expected object, got null")
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, decodeErr(name, "expected object: %v", err)
	}
	for _, key := range required {
		if _, ok := m[key]; !ok {
			return nil, decodeErr(name+"."+key, "required field missing")
		}
	}
	return m, nil
}

func isNull(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}

// field decodes m[key] into dst; absent keys leave dst untouched
func field(name string, m map[string]json.RawMessage, key string, dst interface{}) error {
	raw, ok := m[key]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		if errors.Is(err, errors.ErrDecode) {
			return err
		}
		return decodeErr(name+"."+key, "%v", err)
	}
	return nil
}

// requiredString decodes a required string member, rejecting null
func requiredString(name string, m map[string]json.RawMessage, key string) (string, error) {
	raw := m[key]
	if isNull(raw) {
		return "", decodeErr(name+"."+key, "must be a string, got null")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", decodeErr(name+"."+key, "must be a string")
	}
	return s, nil
}

// namedList decodes a list whose elements are either a bare string or an
// object carrying the string under key. Null decodes to an empty list.
func namedList(name string, raw json.RawMessage, key string) ([]string, error) {
	if raw == nil || isNull(raw) {
		return []string{}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, decodeErr(name, "expected list")
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		elem := fmt.Sprintf("%s[%d]", name, i)
		if isNull(item) {
			return nil, decodeErr(elem, "expected string or object with %q, got null", key)
		}
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out = append(out, s)
			continue
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(item, &obj); err != nil || obj == nil {
			return nil, decodeErr(elem, "expected string or object with %q, got %s", key, truncate(item))
		}
		v, ok := obj[key]
		if !ok {
			return nil, decodeErr(elem, "object has no %q", key)
		}
		if err := json.Unmarshal(v, &s); err != nil || isNull(v) {
			return nil, decodeErr(elem+"."+key, "must be a string")
		}
		out = append(out, s)
	}
	return out, nil
}

func truncate(raw json.RawMessage) string {
	const max = 64
	s := string(bytes.TrimSpace(raw))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

// UnmarshalJSON requires node
func (a *Attribute) UnmarshalJSON(data []byte) error {
	m, err := fields("attribute", data, "node")
	if err != nil {
		return err
	}
	node, err := requiredString("attribute", m, "node")
	if err != nil {
		return err
	}
	out := Attribute{Node: node}
	for key, dst := range map[string]**string{"qualifier": &out.Qualifier, "time": &out.Time, "quantifier": &out.Quantifier} {
		if err := field("attribute", m, key, dst); err != nil {
			return err
		}
	}
	*a = out
	return nil
}

// UnmarshalJSON applies the default qualifier when the key is absent.
// An explicit null qualifier stays null.
func (e *Exposure) UnmarshalJSON(data []byte) error {
	m, err := fields("exposure", data)
	if err != nil {
		return err
	}
	var out Exposure
	if _, ok := m["qualifier"]; !ok {
		q := DefaultExposureQualifier
		out.Qualifier = &q
	}
	for key, dst := range map[string]**string{"node": &out.Node, "qualifier": &out.Qualifier, "quantifier": &out.Quantifier} {
		if err := field("exposure", m, key, dst); err != nil {
			return err
		}
	}
	*e = out
	return nil
}

func nodeObject(name string, data []byte) (string, error) {
	m, err := fields(name, data, "node")
	if err != nil {
		return "", err
	}
	return requiredString(name, m, "node")
}

// UnmarshalJSON requires node
func (s *Sebi) UnmarshalJSON(data []byte) error {
	node, err := nodeObject("sebi", data)
	if err != nil {
		return err
	}
	s.Node = node
	return nil
}

// UnmarshalJSON requires node
func (o *Objective) UnmarshalJSON(data []byte) error {
	node, err := nodeObject("objective", data)
	if err != nil {
		return err
	}
	o.Node = node
	return nil
}

// UnmarshalJSON decodes every category. tickers accept "NAME" or
// {"name": "NAME"}; vehicles and asset_types accept "path" or {"node": "path"}.
// Missing and null lists become empty lists.
func (p *ParsedOutput) UnmarshalJSON(data []byte) error {
	m, err := fields("parsed_output", data)
	if err != nil {
		return err
	}
	var out ParsedOutput

	if err := nullableList("parsed_output.attributes", m["attributes"], &out.Attributes); err != nil {
		return err
	}
	if err := nullableList("parsed_output.exposures", m["exposures"], &out.Exposures); err != nil {
		return err
	}
	if err := nullableList("parsed_output.sebi", m["sebi"], &out.Sebi); err != nil {
		return err
	}
	if err := nullableList("parsed_output.objectives", m["objectives"], &out.Objectives); err != nil {
		return err
	}

	tickers, err := namedList("parsed_output.tickers", m["tickers"], "name")
	if err != nil {
		return err
	}
	for _, name := range tickers {
		out.Tickers = append(out.Tickers, Ticker{Name: name})
	}

	vehicles, err := namedList("parsed_output.vehicles", m["vehicles"], "node")
	if err != nil {
		return err
	}
	for _, node := range vehicles {
		out.Vehicles = append(out.Vehicles, Vehicle{Node: node})
	}

	assetTypes, err := namedList("parsed_output.asset_types", m["asset_types"], "node")
	if err != nil {
		return err
	}
	for _, node := range assetTypes {
		out.AssetTypes = append(out.AssetTypes, AssetType{Node: node})
	}

	out.Normalize()
	*p = out
	return nil
}

func nullableList[T any](name string, raw json.RawMessage, dst *[]T) error {
	if raw == nil || isNull(raw) {
		*dst = []T{}
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		if errors.Is(err, errors.ErrDecode) {
			return err
		}
		return decodeErr(name, "expected list: %v", err)
	}
	return nil
}

// UnmarshalJSON requires reasoning and parsed_output
func (r *ParsedOutputReasoned) UnmarshalJSON(data []byte) error {
	m, err := fields("parsed_output_reasoned", data, "reasoning", "parsed_output")
	if err != nil {
		return err
	}
	reasoning, err := requiredString("parsed_output_reasoned", m, "reasoning")
	if err != nil {
		return err
	}
	var parsed ParsedOutput
	if err := json.Unmarshal(m["parsed_output"], &parsed); err != nil {
		return err
	}
	r.Reasoning = reasoning
	r.ParsedOutput = parsed
	return nil
}

// UnmarshalJSON requires combinations
func (c *Combinations) UnmarshalJSON(data []byte) error {
	m, err := fields("combinations", data, "combinations")
	if err != nil {
		return err
	}
	var out []ParsedOutput
	if err := nullableList("combinations.combinations", m["combinations"], &out); err != nil {
		return err
	}
	c.Combinations = out
	return nil
}

// UnmarshalJSON requires query
func (q *UserQuery) UnmarshalJSON(data []byte) error {
	m, err := fields("query", data, "query")
	if err != nil {
		return err
	}
	s, err := requiredString("query", m, "query")
	if err != nil {
		return err
	}
	q.Query = s
	return nil
}

// UnmarshalJSON requires queries
func (q *UserQueries) UnmarshalJSON(data []byte) error {
	m, err := fields("queries", data, "queries")
	if err != nil {
		return err
	}
	var out []UserQuery
	if err := nullableList("queries.queries", m["queries"], &out); err != nil {
		return err
	}
	q.Queries = out
	return nil
}

// UnmarshalJSON requires reasoning
func (r *Reasoning) UnmarshalJSON(data []byte) error {
	m, err := fields("reasoning", data, "reasoning")
	if err != nil {
		return err
	}
	s, err := requiredString("reasoning", m, "reasoning")
	if err != nil {
		return err
	}
	r.Reasoning = s
	return nil
}
