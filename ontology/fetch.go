package ontology

import (
	"context"
	"net/url"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-getter"
	"go.uber.org/zap"

	"github.com/teranos/ontogen/errors"
	"github.com/teranos/ontogen/logger"
)

// Load reads a listing from a local file or any source go-getter understands
// (https URL, git, s3, gcs ...). Remote sources are fetched into a temporary
// directory that is removed before Load returns.
func Load(ctx context.Context, source, commentPrefix string) (*Listing, error) {
	return LoadWithLogger(ctx, source, commentPrefix, logger.ComponentLogger("ontology"))
}

// LoadWithLogger is Load with an explicit logger
func LoadWithLogger(ctx context.Context, source, commentPrefix string, log *zap.SugaredLogger) (*Listing, error) {
	log = logger.OrNop(log)

	path, cleanup, err := resolve(ctx, source, log)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read ontology %s", source)
	}

	listing, err := Decode(data, FormatFor(path), commentPrefix)
	if err != nil {
		return nil, errors.WithDetailf(err, "source: %s", source)
	}

	log.Infow("Loaded ontology",
		logger.FieldFile, source,
		logger.FieldCount, len(listing.Categories),
		logger.FieldTotalCount, listing.Count(),
	)
	return listing, nil
}

// resolve returns a local file for source and a cleanup func
func resolve(ctx context.Context, source string, log *zap.SugaredLogger) (string, func(), error) {
	noop := func() {}
	if _, err := os.Stat(source); err == nil {
		return source, noop, nil
	}

	pwd, err := os.Getwd()
	if err != nil {
		pwd = "."
	}
	detected, err := getter.Detect(source, pwd, getter.Detectors)
	if err != nil {
		return "", noop, errors.Wrapf(err, "failed to detect ontology source %q", source)
	}
	parsed, err := url.Parse(detected)
	if err != nil {
		return "", noop, errors.Wrap(err, "failed to parse detected source")
	}
	if parsed.Scheme == "file" || parsed.Scheme == "" {
		return "", noop, errors.WithHint(
			errors.Wrapf(errors.ErrNotFound, "ontology file %s", source),
			"set ontology.source in ontogen.toml or pass a URL",
		)
	}

	dir, err := os.MkdirTemp("", "ontogen-ontology-*")
	if err != nil {
		return "", noop, errors.Wrap(err, "failed to create temp directory")
	}
	cleanup := func() { os.RemoveAll(dir) }

	// Keep the source's base name so the extension still selects the format
	dst := filepath.Join(dir, filepath.Base(parsed.Path))
	if filepath.Base(parsed.Path) == "." || filepath.Base(parsed.Path) == "/" {
		dst = filepath.Join(dir, "ontology.toml")
	}

	log.Infow("Fetching ontology", "source", source, "detected", detected)
	client := &getter.Client{
		Ctx:     ctx,
		Src:     detected,
		Dst:     dst,
		Mode:    getter.ClientModeFile,
		Getters: getter.Getters,
	}
	if err := client.Get(); err != nil {
		cleanup()
		return "", noop, errors.Wrapf(err, "failed to fetch ontology %s", source)
	}
	return dst, cleanup, nil
}
