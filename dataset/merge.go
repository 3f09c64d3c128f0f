package dataset

import (
	"encoding/csv"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/ontogen/am"
	"github.com/teranos/ontogen/errors"
	"github.com/teranos/ontogen/logger"
)

// SegmentFile is a per-segment dataset file and its start offset
type SegmentFile struct {
	Path  string
	Start int
}

// SegmentFiles lists dir/<prefix><start>.csv ordered by numeric start.
// Files whose suffix is not a number are ignored.
func SegmentFiles(dir, prefix string) ([]SegmentFile, error) {
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"*.csv"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid segment file pattern")
	}
	var files []SegmentFile
	for _, m := range matches {
		suffix := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), prefix), ".csv")
		start, err := strconv.Atoi(suffix)
		if err != nil {
			continue
		}
		files = append(files, SegmentFile{Path: m, Start: start})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Start < files[j].Start })
	return files, nil
}

// MergeResult reports what Merge wrote
type MergeResult struct {
	Files   int
	Skipped int
	Rows    int
	Output  string
}

// Merge concatenates every segment file of dir into out with a single header.
// Unreadable files are logged and skipped.
func Merge(dir, prefix, out string, log *zap.SugaredLogger) (*MergeResult, error) {
	log = logger.OrNop(log)
	files, err := SegmentFiles(dir, prefix)
	if err != nil {
		return nil, err
	}
	log.Infow("Found segment files", logger.FieldCount, len(files))

	res := &MergeResult{Output: out}
	var rows [][]string
	for _, f := range files {
		records, err := readDataset(f.Path)
		if err != nil {
			res.Skipped++
			log.Errorw("Skipping unreadable segment file", logger.FieldFile, f.Path, logger.FieldError, err)
			continue
		}
		res.Files++
		rows = append(rows, records...)
		log.Infow("Added segment rows", logger.FieldFile, f.Path, logger.FieldRows, len(records))
	}
	if res.Files == 0 {
		return res, errors.Wrapf(errors.ErrNotFound, "no readable segment files in %s", dir)
	}

	if err := writeDataset(out, rows); err != nil {
		return res, err
	}
	res.Rows = len(rows)
	log.Infow("Merge complete", logger.FieldFile, out, logger.FieldRows, res.Rows)
	return res, nil
}

// Shuffle writes a row-shuffled copy of path next to it as <name>_shuffled.csv
func Shuffle(path string, seed int64) (string, error) {
	rows, err := readDataset(path)
	if err != nil {
		return "", err
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })

	out := strings.TrimSuffix(path, filepath.Ext(path)) + "_shuffled.csv"
	if err := writeDataset(out, rows); err != nil {
		return "", err
	}
	return out, nil
}

// readDataset returns the data rows of a dataset file after checking its header
func readDataset(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(Header)
	header, err := r.Read()
	if err == io.EOF {
		return nil, errors.Newf("%s is empty", path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read header of %s", path)
	}
	if !slices.Equal(header, Header) {
		return nil, errors.WithDetailf(errors.Newf("unexpected header in %s", path), "header: %v", header)
	}
	rows, err := r.ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	return rows, nil
}

func writeDataset(path string, rows [][]string) error {
	return writeCSV(path, Header, rows)
}

// writeCSV replaces path atomically with header followed by rows
func writeCSV(path string, header []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), am.DefaultDirPermissions); err != nil {
		return errors.Wrap(err, "failed to create output directory")
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, am.DefaultFilePermissions)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", tmp)
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return errors.Wrap(err, "failed to write header")
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to write %s", tmp)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %s", tmp)
	}
	return errors.Wrap(os.Rename(tmp, path), "failed to move dataset into place")
}
