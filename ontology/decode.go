package ontology

import (
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/teranos/ontogen/errors"
)

// Format of a listing document
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatFor picks the format from a file extension, TOML by default
func FormatFor(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// Decode parses a listing document. Top-level keys are categories whose
// values are string lists; key order is preserved.
func Decode(data []byte, format Format, commentPrefix string) (*Listing, error) {
	var (
		cats []Category
		err  error
	)
	switch format {
	case FormatYAML:
		cats, err = decodeYAML(data)
	case FormatTOML:
		cats, err = decodeTOML(data)
	default:
		return nil, errors.Newf("unsupported ontology format %q", format)
	}
	if err != nil {
		return nil, err
	}
	return &Listing{Categories: cats, CommentPrefix: commentPrefix}, nil
}

func decodeTOML(data []byte) ([]Category, error) {
	var raw map[string][]string
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse TOML ontology")
	}

	var cats []Category
	for _, key := range md.Keys() {
		if len(key) != 1 {
			continue
		}
		name := key[0]
		cats = append(cats, Category{Name: name, Paths: raw[name]})
	}
	return cats, nil
}

func decodeYAML(data []byte) ([]Category, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "failed to parse YAML ontology")
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, errors.Newf("YAML ontology must be a mapping of category to paths (line %d)", root.Line)
	}

	var cats []Category
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		var paths []string
		if err := value.Decode(&paths); err != nil {
			return nil, errors.Wrapf(err, "category %q (line %d) must be a list of paths", key.Value, key.Line)
		}
		cats = append(cats, Category{Name: key.Value, Paths: paths})
	}
	return cats, nil
}
