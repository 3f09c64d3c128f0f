package dataset

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/ontogen/errors"
	"github.com/teranos/ontogen/logger"
	"github.com/teranos/ontogen/schema"
)

// ReasonedHeader is the column set of a transformed dataset
var ReasonedHeader = []string{"query", "reasoned_parsed_output"}

// TransformResult reports what Transform wrote
type TransformResult struct {
	Rows    int
	Invalid int
	Output  string
}

// ReasonedPath is where Transform writes by default: <name>_reasoned.csv next to path
func ReasonedPath(path string) string {
	return strings.TrimSuffix(path, ".csv") + "_reasoned.csv"
}

// Transform folds the reasoning and parsed_output columns of the dataset at
// in into a single reasoned_parsed_output column and writes query plus that
// column to out. A row whose columns do not validate keeps its query with an
// empty reasoned_parsed_output and is counted as invalid.
func Transform(in, out string, log *zap.SugaredLogger) (*TransformResult, error) {
	log = logger.OrNop(log)
	rows, err := readDataset(in)
	if err != nil {
		return nil, err
	}

	res := &TransformResult{Output: out}
	transformed := make([][]string, 0, len(rows))
	for i, row := range rows {
		query, reasoning, parsed := row[2], row[3], row[4]
		combined, err := reasoned(reasoning, parsed)
		if err != nil {
			res.Invalid++
			log.Warnw("Row does not validate",
				"row", i+1,
				"query", query,
				logger.FieldError, err)
		}
		transformed = append(transformed, []string{query, combined})
	}

	if err := writeCSV(out, ReasonedHeader, transformed); err != nil {
		return res, err
	}
	res.Rows = len(transformed)
	log.Infow("Transform complete",
		logger.FieldFile, out,
		logger.FieldRows, res.Rows,
		"invalid", res.Invalid)
	return res, nil
}

// reasoned validates reasoning and parsedJSON as a parse-step reply and
// returns its canonical encoding
func reasoned(reasoning, parsedJSON string) (string, error) {
	if !json.Valid([]byte(parsedJSON)) {
		return "", errors.Mark(errors.New("parsed_output is not JSON"), errors.ErrDecode)
	}
	reasoningJSON, err := json.Marshal(reasoning)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode reasoning")
	}
	raw := `{"reasoning":` + string(reasoningJSON) + `,"parsed_output":` + parsedJSON + `}`

	var reply schema.ParsedOutputReasoned
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return "", err
	}
	return schema.Canonical(reply)
}
