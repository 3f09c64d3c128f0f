// Package ontology reads the ontology listing that drives generation.
//
// A listing maps categories to ordered path lists. Every path that does not
// start with the comment prefix becomes one work unit (category, path). Unit
// order is the listing order, so a (start, size) segment always names the same
// units for the same listing.
package ontology

import (
	"fmt"
	"strings"
)

// DefaultCommentPrefix marks paths excluded from processing
const DefaultCommentPrefix = "#"

// SecuritiesCategory holds ticker vocabulary for prompts. It yields no units.
const SecuritiesCategory = "securities"

// Unit is one (category, path) pair processed by the pipeline
type Unit struct {
	Category string
	Path     string
}

func (u Unit) String() string {
	return fmt.Sprintf("%s:%s", u.Category, u.Path)
}

// Category is one named path list in listing order
type Category struct {
	Name  string
	Paths []string
}

// Listing is an ordered ontology
type Listing struct {
	Categories    []Category
	CommentPrefix string
}

func (l *Listing) commented(path string) bool {
	return l.CommentPrefix != "" && strings.HasPrefix(path, l.CommentPrefix)
}

// Paths returns the active paths of a category, nil when it does not exist
func (l *Listing) Paths(category string) []string {
	for _, c := range l.Categories {
		if c.Name != category {
			continue
		}
		paths := make([]string, 0, len(c.Paths))
		for _, p := range c.Paths {
			if !l.commented(p) {
				paths = append(paths, p)
			}
		}
		return paths
	}
	return nil
}

// Units flattens the listing into work units, skipping commented paths and
// the securities vocabulary
func (l *Listing) Units() []Unit {
	var units []Unit
	for _, c := range l.Categories {
		if c.Name == SecuritiesCategory {
			continue
		}
		for _, p := range c.Paths {
			if l.commented(p) {
				continue
			}
			units = append(units, Unit{Category: c.Name, Path: p})
		}
	}
	return units
}

// Count is the number of work units in the listing
func (l *Listing) Count() int {
	return len(l.Units())
}

// Slice returns units[start:start+size] clamped to the list bounds
func Slice(units []Unit, start, size int) []Unit {
	if start < 0 {
		start = 0
	}
	if start >= len(units) || size <= 0 {
		return nil
	}
	end := start + size
	if end > len(units) {
		end = len(units)
	}
	return units[start:end]
}
