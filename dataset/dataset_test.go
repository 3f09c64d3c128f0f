package dataset

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/ontogen/errors"
	"github.com/teranos/ontogen/ontology"
	"github.com/teranos/ontogen/schema"
)

const segmentPrefix = "parser_dataset_segment_"

func testRow(query string) Row {
	growth := "exposure/factor/growth"
	return Row{
		Unit: ontology.Unit{Category: "exposure", Path: growth},
		Matched: &schema.Combinations{Combinations: []schema.ParsedOutput{
			{Vehicles: []schema.Vehicle{{Node: "vehicle/etf"}}},
		}},
		Query:     query,
		Reasoning: "Looks for growth, \"quoted\"\nacross lines.",
		ParsedOutput: schema.ParsedOutput{
			Exposures: []schema.Exposure{{Node: &growth}},
		},
	}
}

func readAll(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestRow_Record(t *testing.T) {
	record, err := testRow("Any growth ETFs?").Record()
	require.NoError(t, err)
	require.Len(t, record, len(Header))

	assert.Equal(t, `{"exposure":["exposure/factor/growth"]}`, record[0])
	assert.Equal(t, "Any growth ETFs?", record[2])

	var parsed schema.ParsedOutput
	require.NoError(t, json.Unmarshal([]byte(record[4]), &parsed))
	assert.Equal(t, []string{"exposure/factor/growth"}, parsed.ExposureNodes())
	assert.Contains(t, record[4], `"tickers":[]`)

	var matched schema.Combinations
	require.NoError(t, json.Unmarshal([]byte(record[1]), &matched))
	assert.Len(t, matched.Combinations, 1)
}

func TestRow_RecordKeepsComparisonQuantifiers(t *testing.T) {
	below, above := "<5%", ">500cr"
	row := testRow("Small caps with low debt?")
	row.ParsedOutput.Attributes = []schema.Attribute{
		{Node: "attribute/debt_to_equity", Quantifier: &below},
		{Node: "attribute/market_cap", Quantifier: &above},
	}
	row.Matched = &schema.Combinations{Combinations: []schema.ParsedOutput{row.ParsedOutput}}

	path := filepath.Join(t.TempDir(), "out.csv")
	sink, err := OpenCSV(path)
	require.NoError(t, err)
	require.NoError(t, sink.Append(context.Background(), row))
	require.NoError(t, sink.Close())

	records := readAll(t, path)
	require.Len(t, records, 2)
	for _, col := range []int{1, 4} {
		assert.Contains(t, records[1][col], `"quantifier":"<5%"`)
		assert.Contains(t, records[1][col], `"quantifier":">500cr"`)
		assert.NotContains(t, records[1][col], `\u003c`)
	}

	var parsed schema.ParsedOutput
	require.NoError(t, json.Unmarshal([]byte(records[1][4]), &parsed))
	require.Len(t, parsed.Attributes, 2)
	assert.Equal(t, below, *parsed.Attributes[0].Quantifier)
	assert.Equal(t, above, *parsed.Attributes[1].Quantifier)
}

func TestCSVSink_HeaderOnceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datasets", segmentPrefix+"0.csv")

	sink, err := OpenCSV(path)
	require.NoError(t, err)
	require.NoError(t, sink.Append(context.Background(), testRow("q1")))
	require.NoError(t, sink.Close())

	sink, err = OpenCSV(path)
	require.NoError(t, err)
	require.NoError(t, sink.Append(context.Background(), testRow("q1")))
	require.NoError(t, sink.Close())

	records := readAll(t, path)
	require.Len(t, records, 3, "header plus both runs' rows")
	assert.Equal(t, Header, records[0])
	assert.Equal(t, records[1], records[2], "the sink does not deduplicate")
}

func TestCSVSink_ConcurrentAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	sink, err := OpenCSV(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, sink.Append(context.Background(), testRow(fmt.Sprintf("q%d", i))))
		}(i)
	}
	wg.Wait()
	require.NoError(t, sink.Close())
	assert.Equal(t, 40, sink.Rows())

	records := readAll(t, path)
	require.Len(t, records, 41)
	seen := map[string]bool{}
	for _, r := range records[1:] {
		require.Len(t, r, len(Header), "rows never interleave")
		seen[r[2]] = true
	}
	assert.Len(t, seen, 40)
}

func TestCSVSink_AppendAfterClose(t *testing.T) {
	sink, err := OpenCSV(filepath.Join(t.TempDir(), "out.csv"))
	require.NoError(t, err)
	require.NoError(t, sink.Close())
	assert.Error(t, sink.Append(context.Background(), testRow("late")))
	assert.NoError(t, sink.Close())
}

func writeSegment(t *testing.T, dir string, start int, queries ...string) {
	t.Helper()
	sink, err := OpenCSV(filepath.Join(dir, fmt.Sprintf("%s%d.csv", segmentPrefix, start)))
	require.NoError(t, err)
	for _, q := range queries {
		require.NoError(t, sink.Append(context.Background(), testRow(q)))
	}
	require.NoError(t, sink.Close())
}

func TestSegmentFiles_NumericOrder(t *testing.T) {
	dir := t.TempDir()
	writeSegment(t, dir, 120)
	writeSegment(t, dir, 0)
	writeSegment(t, dir, 30)
	require.NoError(t, os.WriteFile(filepath.Join(dir, segmentPrefix+"notes.csv"), nil, 0644))

	files, err := SegmentFiles(dir, segmentPrefix)
	require.NoError(t, err)
	var starts []int
	for _, f := range files {
		starts = append(starts, f.Start)
	}
	assert.Equal(t, []int{0, 30, 120}, starts)
}

func TestMerge(t *testing.T) {
	dir := t.TempDir()
	writeSegment(t, dir, 60, "c1")
	writeSegment(t, dir, 0, "a1", "a2")
	writeSegment(t, dir, 30, "b1")
	require.NoError(t, os.WriteFile(filepath.Join(dir, segmentPrefix+"90.csv"), []byte("not,a,dataset\n"), 0644))

	out := filepath.Join(dir, "parser_dataset_final.csv")
	res, err := Merge(dir, segmentPrefix, out, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Files)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 4, res.Rows)

	records := readAll(t, out)
	require.Len(t, records, 5)
	assert.Equal(t, Header, records[0])
	var queries []string
	for _, r := range records[1:] {
		queries = append(queries, r[2])
	}
	assert.Equal(t, []string{"a1", "a2", "b1", "c1"}, queries)
}

func TestMerge_NothingReadable(t *testing.T) {
	dir := t.TempDir()
	_, err := Merge(dir, segmentPrefix, filepath.Join(dir, "final.csv"), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestShuffle(t *testing.T) {
	dir := t.TempDir()
	var queries []string
	for i := 0; i < 20; i++ {
		queries = append(queries, fmt.Sprintf("q%02d", i))
	}
	writeSegment(t, dir, 0, queries...)
	path := filepath.Join(dir, segmentPrefix+"0.csv")

	out, err := Shuffle(path, 7)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, segmentPrefix+"0_shuffled.csv"), out)

	first := readAll(t, out)
	again, err := Shuffle(path, 7)
	require.NoError(t, err)
	assert.Equal(t, first, readAll(t, again), "same seed, same order")

	var got []string
	for _, r := range first[1:] {
		got = append(got, r[2])
	}
	assert.NotEqual(t, queries, got)
	sort.Strings(got)
	assert.Equal(t, queries, got, "shuffling keeps every row")
}
