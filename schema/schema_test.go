package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/ontogen/errors"
)

func TestParsedOutput_TaggedVariants(t *testing.T) {
	raw := `{
		"attributes": [{"node": "attribute/style/size/mid_cap", "qualifier": "high", "time": null, "quantifier": null}],
		"exposures": [{"node": "exposure/factor/growth", "quantifier": ">30%"}],
		"tickers": ["SUNPHARMA", {"name": "INFY"}],
		"asset_types": [{"node": "asset_type/equity"}, "asset_type/bonds"],
		"sebi": [{"node": "sebi_classification/equity_schemes/mid_cap_fund"}],
		"vehicles": ["vehicle/etf", {"node": "vehicle/mutual_fund"}],
		"objectives": null
	}`

	var p ParsedOutput
	require.NoError(t, json.Unmarshal([]byte(raw), &p))

	assert.Equal(t, []Ticker{{Name: "SUNPHARMA"}, {Name: "INFY"}}, p.Tickers)
	assert.Equal(t, []AssetType{{Node: "asset_type/equity"}, {Node: "asset_type/bonds"}}, p.AssetTypes)
	assert.Equal(t, []Vehicle{{Node: "vehicle/etf"}, {Node: "vehicle/mutual_fund"}}, p.Vehicles)
	assert.NotNil(t, p.Objectives)
	assert.Empty(t, p.Objectives)

	require.Len(t, p.Exposures, 1)
	require.NotNil(t, p.Exposures[0].Qualifier)
	assert.Equal(t, DefaultExposureQualifier, *p.Exposures[0].Qualifier, "absent qualifier takes the default")
	assert.Equal(t, []string{"exposure/factor/growth"}, p.ExposureNodes())
	assert.Equal(t, 6, p.Categories())
}

func TestParsedOutput_ExplicitNullQualifierStaysNull(t *testing.T) {
	var e Exposure
	require.NoError(t, json.Unmarshal([]byte(`{"node": null, "qualifier": null}`), &e))
	assert.Nil(t, e.Node)
	assert.Nil(t, e.Qualifier)
}

func TestParsedOutput_MissingListsAreEmpty(t *testing.T) {
	var p ParsedOutput
	require.NoError(t, json.Unmarshal([]byte(`{}`), &p))

	out, err := Canonical(p)
	require.NoError(t, err)
	assert.Equal(t,
		`{"attributes":[],"exposures":[],"tickers":[],"asset_types":[],"sebi":[],"vehicles":[],"objectives":[]}`,
		out)
}

func TestParsedOutput_RejectsUnknownShapes(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		field string
	}{
		{"ticker number", `{"tickers": [42]}`, "parsed_output.tickers[0]"},
		{"ticker object without name", `{"tickers": [{"symbol": "TCS"}]}`, "parsed_output.tickers[0]"},
		{"ticker null element", `{"tickers": [null]}`, "parsed_output.tickers[0]"},
		{"vehicle list", `{"vehicles": [["vehicle/etf"]]}`, "parsed_output.vehicles[0]"},
		{"vehicle node number", `{"vehicles": [{"node": 7}]}`, "parsed_output.vehicles[0].node"},
		{"asset types not a list", `{"asset_types": "asset_type/equity"}`, "parsed_output.asset_types"},
		{"attribute without node", `{"attributes": [{"qualifier": "high"}]}`, "attribute.node"},
		{"sebi bare string", `{"sebi": ["sebi_classification/debt"]}`, "sebi"},
		{"not an object", `[]`, "parsed_output"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p ParsedOutput
			err := json.Unmarshal([]byte(tt.raw), &p)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrDecode), "decode failures carry ErrDecode: %v", err)

			var de *DecodeError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, tt.field, de.Field)
		})
	}
}

func TestReplies_RequiredFields(t *testing.T) {
	var r Reasoning
	assert.True(t, errors.Is(json.Unmarshal([]byte(`{}`), &r), errors.ErrDecode))
	assert.True(t, errors.Is(json.Unmarshal([]byte(`{"reasoning": null}`), &r), errors.ErrDecode))
	require.NoError(t, json.Unmarshal([]byte(`{"reasoning": "Looks for growth."}`), &r))
	assert.Equal(t, "Looks for growth.", r.Reasoning)

	var q UserQueries
	assert.True(t, errors.Is(json.Unmarshal([]byte(`{"queries": [{}]}`), &q), errors.ErrDecode))
	require.NoError(t, json.Unmarshal([]byte(`{"queries": [{"query": "a"}, {"query": "b"}]}`), &q))
	assert.Equal(t, []UserQuery{{Query: "a"}, {Query: "b"}}, q.Queries)

	var pr ParsedOutputReasoned
	assert.True(t, errors.Is(json.Unmarshal([]byte(`{"reasoning": "x"}`), &pr), errors.ErrDecode))
	assert.True(t, errors.Is(json.Unmarshal([]byte(`{"reasoning": "x", "parsed_output": {"tickers": [1]}}`), &pr), errors.ErrDecode))
}

func TestCombinations_Empty(t *testing.T) {
	var c Combinations
	require.NoError(t, json.Unmarshal([]byte(`{"combinations": null}`), &c))
	assert.True(t, c.Empty())

	var missing *Combinations
	assert.True(t, missing.Empty())

	require.NoError(t, json.Unmarshal([]byte(`{"combinations": [{"vehicles": ["vehicle/etf"]}]}`), &c))
	assert.False(t, c.Empty())
}

func TestCanonical_StableAndLossless(t *testing.T) {
	raw := `{"reasoning": "Growth <and> value", "parsed_output": {"tickers": ["M&M"], "exposures": [{"node": "exposure/factor/growth"}]}}`
	var pr ParsedOutputReasoned
	require.NoError(t, json.Unmarshal([]byte(raw), &pr))

	first, err := Canonical(pr.ParsedOutput)
	require.NoError(t, err)
	assert.Contains(t, first, `"M&M"`, "HTML characters are kept literally")
	assert.Contains(t, first, `"tickers":[{"name":"M&M"}]`)

	var again ParsedOutput
	require.NoError(t, json.Unmarshal([]byte(first), &again))
	second, err := Canonical(again)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestUnitReference(t *testing.T) {
	ref, err := UnitReference("exposure", "exposure/factor/growth")
	require.NoError(t, err)
	assert.Equal(t, `{"exposure":["exposure/factor/growth"]}`, ref)
}

func TestDocuments_StrictShape(t *testing.T) {
	for name, doc := range map[string]json.RawMessage{
		NameCombinations:         CombinationsDocument,
		NameUserQueries:          UserQueriesDocument,
		NameReasoning:            ReasoningDocument,
		NameParsedOutputReasoned: ParsedOutputReasonedDocument,
	} {
		t.Run(name, func(t *testing.T) {
			var root map[string]interface{}
			require.NoError(t, json.Unmarshal(doc, &root))
			assert.Equal(t, "object", root["type"])
			assert.Equal(t, false, root["additionalProperties"])

			props := root["properties"].(map[string]interface{})
			required := root["required"].([]interface{})
			assert.Len(t, required, len(props), "strict mode requires every property")
		})
	}
}
