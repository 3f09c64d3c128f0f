package generator

import "github.com/teranos/ontogen/schema"

// fewShotMatchPath is the path of the worked match example
const fewShotMatchPath = "exposure/factor/growth"

func ptr[T any](v T) *T { return &v }

func exposure(node, quantifier string) schema.Exposure {
	e := schema.Exposure{Node: ptr(node), Qualifier: ptr(schema.DefaultExposureQualifier)}
	if quantifier != "" {
		e.Quantifier = ptr(quantifier)
	}
	return e
}

func attribute(node, qualifier, time string) schema.Attribute {
	a := schema.Attribute{Node: node}
	if qualifier != "" {
		a.Qualifier = ptr(qualifier)
	}
	if time != "" {
		a.Time = ptr(time)
	}
	return a
}

var fewShotCombinations = schema.Combinations{Combinations: []schema.ParsedOutput{
	{
		Attributes: []schema.Attribute{
			attribute("attribute/style/size/mid_cap", "high", ""),
			attribute("attribute/risk/volatility/medium", "high", ""),
		},
		Exposures: []schema.Exposure{
			exposure("exposure/factor/growth", ">30%"),
			exposure("exposure/sector/healthcare", ""),
		},
		Tickers:    []schema.Ticker{{Name: "SUNPHARMA"}},
		AssetTypes: []schema.AssetType{{Node: "asset_type/equity"}},
		Sebi:       []schema.Sebi{{Node: "sebi_classification/equity_schemes/mid_cap_fund"}},
		Vehicles:   []schema.Vehicle{{Node: "vehicle/etf"}},
		Objectives: []schema.Objective{{Node: "objective/growth"}},
	},
	{
		Attributes: []schema.Attribute{
			attribute("attribute/style/size/large_cap", "high", ""),
			attribute("attribute/returns/alpha", "high", "last_year"),
		},
		Exposures:  []schema.Exposure{exposure("exposure/factor/growth", ">30%")},
		Tickers:    []schema.Ticker{{Name: "INFY"}, {Name: "TCS"}},
		AssetTypes: []schema.AssetType{{Node: "asset_type/equity"}},
		Sebi:       []schema.Sebi{{Node: "sebi_classification/equity_schemes/sectoral_thematic_fund"}},
		Vehicles:   []schema.Vehicle{{Node: "vehicle/mutual_fund"}},
		Objectives: []schema.Objective{{Node: "objective/growth"}},
	},
	{
		Attributes: []schema.Attribute{
			attribute("attribute/returns/risk_adjusted_returns/high", "high", ""),
		},
		Exposures: []schema.Exposure{
			exposure("exposure/factor/growth", ">30%"),
			exposure("exposure/factor/value", ""),
		},
		AssetTypes: []schema.AssetType{{Node: "asset_type/equity"}, {Node: "asset_type/bonds"}},
		Sebi:       []schema.Sebi{{Node: "sebi_classification/hybrid_schemes/balanced_hybrid_fund"}},
		Vehicles:   []schema.Vehicle{{Node: "vehicle/mutual_fund"}},
		Objectives: []schema.Objective{{Node: "objective/growth"}, {Node: "objective/income"}},
	},
}}

var fewShotQueryCombinations = schema.Combinations{Combinations: []schema.ParsedOutput{
	{
		Attributes: []schema.Attribute{attribute("attribute/returns/cumulative_returns", "", "last year")},
		Tickers:    []schema.Ticker{{Name: "Pidilite Inds."}},
		Vehicles:   []schema.Vehicle{{Node: "vehicle/stock"}},
	},
	{
		Attributes: []schema.Attribute{attribute("attribute/returns/risk_adjusted_returns", "high", "")},
		Vehicles:   []schema.Vehicle{{Node: "vehicle/mutual_fund"}},
	},
	{
		Vehicles: []schema.Vehicle{{Node: "vehicle/portfolio"}},
	},
}}

var fewShotQueryAnswers = schema.UserQueries{Queries: []schema.UserQuery{
	{Query: "What's the cumulative return of Pidilite Inds. over the last year?"},
	{Query: "Show me mutual funds with high risk-adjusted returns."},
	{Query: "What are the benefits of diversification in an investment portfolio?"},
}}

var fewShotReasoning = []struct {
	query     string
	reasoning string
}{
	{
		query:     fewShotQueryAnswers.Queries[0].Query,
		reasoning: "This query is looking for the cumulative return of a specific ticker (Pidilite Inds.) over the last year. The key elements are the attribute (cumulative return), the time period (1 year) and the ticker (Pidilite Inds.).",
	},
	{
		query:     fewShotQueryAnswers.Queries[1].Query,
		reasoning: "This query is looking for mutual funds with high risk-adjusted returns. The key elements are the attribute (risk-adjusted returns), the qualifier (high) and the absence of specific tickers or asset types.",
	},
	{
		query:     fewShotQueryAnswers.Queries[2].Query,
		reasoning: "This query is looking for the benefits of diversification in an investment portfolio. The key elements are the vehicle (portfolio) and the absence of specific tickers or asset types.",
	},
}

func fewShotMatch() (string, error) {
	return schema.Canonical(fewShotCombinations)
}

func fewShotQueries() (string, string, error) {
	in, err := schema.Canonical(fewShotQueryCombinations)
	if err != nil {
		return "", "", err
	}
	out, err := schema.Canonical(fewShotQueryAnswers)
	if err != nil {
		return "", "", err
	}
	return in, out, nil
}
