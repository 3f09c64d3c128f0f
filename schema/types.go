// Package schema defines the reply shapes requested from the generative
// service and how they are decoded, described and serialized.
//
// Decoding is strict: each field accepts an enumerated set of JSON shapes and
// anything else is a *DecodeError marked errors.ErrDecode. Lists that arrive as
// null decode to empty lists and are always encoded as [] so the dataset never
// carries a null category.
package schema

import (
	"bytes"
	"encoding/json"
)

// DefaultExposureQualifier applies when an exposure omits its qualifier
const DefaultExposureQualifier = "high"

// Attribute is an attribute node with optional qualifier, time and quantifier
type Attribute struct {
	Node       string  `json:"node"`
	Qualifier  *string `json:"qualifier"`
	Time       *string `json:"time"`
	Quantifier *string `json:"quantifier"`
}

// Exposure is a sector or factor exposure. Node may be null.
type Exposure struct {
	Node       *string `json:"node"`
	Qualifier  *string `json:"qualifier"`
	Quantifier *string `json:"quantifier"`
}

// Ticker names a security mentioned in a query
type Ticker struct {
	Name string `json:"name"`
}

// AssetType is an asset_type node
type AssetType struct {
	Node string `json:"node"`
}

// Sebi is a sebi_classification node
type Sebi struct {
	Node string `json:"node"`
}

// Vehicle is a vehicle node
type Vehicle struct {
	Node string `json:"node"`
}

// Objective is an objective node
type Objective struct {
	Node string `json:"node"`
}

// ParsedOutput is the structured interpretation of one query
type ParsedOutput struct {
	Attributes []Attribute `json:"attributes"`
	Exposures  []Exposure  `json:"exposures"`
	Tickers    []Ticker    `json:"tickers"`
	AssetTypes []AssetType `json:"asset_types"`
	Sebi       []Sebi      `json:"sebi"`
	Vehicles   []Vehicle   `json:"vehicles"`
	Objectives []Objective `json:"objectives"`
}

// ParsedOutputReasoned is the reply of the structured parse step
type ParsedOutputReasoned struct {
	Reasoning    string       `json:"reasoning"`
	ParsedOutput ParsedOutput `json:"parsed_output"`
}

// Combinations is the reply of the match step: candidate ontology
// combinations for one path
type Combinations struct {
	Combinations []ParsedOutput `json:"combinations"`
}

// Empty reports whether the match produced no candidates
func (c *Combinations) Empty() bool {
	return c == nil || len(c.Combinations) == 0
}

// UserQuery is one generated natural-language query
type UserQuery struct {
	Query string `json:"query"`
}

// UserQueries is the reply of the query generation step
type UserQueries struct {
	Queries []UserQuery `json:"queries"`
}

// Reasoning is the reply of the reasoning step
type Reasoning struct {
	Reasoning string `json:"reasoning"`
}

// Normalize replaces nil lists with empty ones
func (p *ParsedOutput) Normalize() {
	if p.Attributes == nil {
		p.Attributes = []Attribute{}
	}
	if p.Exposures == nil {
		p.Exposures = []Exposure{}
	}
	if p.Tickers == nil {
		p.Tickers = []Ticker{}
	}
	if p.AssetTypes == nil {
		p.AssetTypes = []AssetType{}
	}
	if p.Sebi == nil {
		p.Sebi = []Sebi{}
	}
	if p.Vehicles == nil {
		p.Vehicles = []Vehicle{}
	}
	if p.Objectives == nil {
		p.Objectives = []Objective{}
	}
}

// MarshalJSON encodes every list, empty ones as []. Quantifiers such as <5%
// stay literal.
func (p ParsedOutput) MarshalJSON() ([]byte, error) {
	type plain ParsedOutput
	p.Normalize()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(plain(p)); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Categories counts the non-empty categories of p
func (p *ParsedOutput) Categories() int {
	n := 0
	for _, l := range []int{
		len(p.Attributes), len(p.Exposures), len(p.Tickers), len(p.AssetTypes),
		len(p.Sebi), len(p.Vehicles), len(p.Objectives),
	} {
		if l > 0 {
			n++
		}
	}
	return n
}

// ExposureNodes lists the exposure nodes that are set
func (p *ParsedOutput) ExposureNodes() []string {
	var nodes []string
	for _, e := range p.Exposures {
		if e.Node != nil {
			nodes = append(nodes, *e.Node)
		}
	}
	return nodes
}
