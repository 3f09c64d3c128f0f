package schema

import "encoding/json"

// Schema names used in response_format
const (
	NameCombinations         = "parsed_output_combinations"
	NameUserQueries          = "user_queries"
	NameReasoning            = "reasoning"
	NameParsedOutputReasoned = "parsed_output_reasoned"
)

// JSON Schema documents for strict structured output. Strict mode wants every
// property listed as required and no additional properties, so optional
// members are nullable instead of omitted.
var (
	CombinationsDocument         = mustDocument(combinationsSchema())
	UserQueriesDocument          = mustDocument(userQueriesSchema())
	ReasoningDocument            = mustDocument(reasoningSchema())
	ParsedOutputReasonedDocument = mustDocument(parsedOutputReasonedSchema())
)

type object = map[string]interface{}

func mustDocument(v object) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func str(description string) object {
	return object{"type": "string", "description": description}
}

func nullableStr(description string) object {
	return object{"type": []string{"string", "null"}, "description": description}
}

func list(items object, description string) object {
	return object{"type": "array", "items": items, "description": description}
}

func obj(properties object, order ...string) object {
	return object{
		"type":                 "object",
		"properties":           properties,
		"required":             order,
		"additionalProperties": false,
	}
}

func nodeObj(description string) object {
	return obj(object{"node": str(description)}, "node")
}

func parsedOutputSchema() object {
	return obj(object{
		"attributes": list(obj(object{
			"node":       str("attribute ontology path"),
			"qualifier":  nullableStr("low or high"),
			"time":       nullableStr("specific date, relative date or duration"),
			"quantifier": nullableStr("<operator><value><unit>, e.g. >4%, <500cr"),
		}, "node", "qualifier", "time", "quantifier"), "attributes mentioned in the query"),
		"exposures": list(obj(object{
			"node":       nullableStr("exposure ontology path"),
			"qualifier":  nullableStr("low or high"),
			"quantifier": nullableStr("<operator><value><unit>, e.g. >4%"),
		}, "node", "qualifier", "quantifier"), "exposures mentioned in the query"),
		"tickers":     list(obj(object{"name": str("security name")}, "name"), "securities identified in the query"),
		"asset_types": list(nodeObj("asset_type ontology path"), "asset types mentioned in the query"),
		"sebi":        list(nodeObj("sebi_classification ontology path"), "SEBI classifications mentioned in the query"),
		"vehicles":    list(nodeObj("vehicle ontology path"), "investment vehicles mentioned in the query"),
		"objectives":  list(nodeObj("objective ontology path"), "objectives mentioned in the query"),
	}, "attributes", "exposures", "tickers", "asset_types", "sebi", "vehicles", "objectives")
}

func combinationsSchema() object {
	return obj(object{
		"combinations": list(parsedOutputSchema(), "candidate ontology combinations"),
	}, "combinations")
}

func userQueriesSchema() object {
	return obj(object{
		"queries": list(obj(object{"query": str("natural language investment query")}, "query"), "one query per combination"),
	}, "queries")
}

func reasoningSchema() object {
	return obj(object{"reasoning": str("short justification of the query")}, "reasoning")
}

func parsedOutputReasonedSchema() object {
	return obj(object{
		"reasoning":     str("short justification of the parse"),
		"parsed_output": parsedOutputSchema(),
	}, "reasoning", "parsed_output")
}
