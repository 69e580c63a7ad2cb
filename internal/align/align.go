// Package align reads Silk alignment files and filters the entity
// matches they report.
//
// Silk writes its links in the Alignment API XML format: an rdf:RDF
// document whose Alignment element holds one map/Cell per candidate
// pair, each Cell naming entity1, entity2 and a confidence measure.
package align

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Match is one entity pair reported by Silk.
type Match struct {
	Entity1 string
	Entity2 string
	Measure float64
}

// Rule decides which matches survive filtering.
type Rule struct {
	// Threshold is the minimal confidence a match must reach.
	Threshold float64
	// DropExact removes matches with measure >= 1.0 and matches where
	// both entities are the same resource. Linking a dataset against
	// itself reports every entity as a perfect match of itself, which
	// is noise.
	DropExact bool
}

// Keep reports whether m survives the rule.
func (r Rule) Keep(m Match) bool {
	if m.Measure < r.Threshold {
		return false
	}
	if r.DropExact && (m.Measure >= 1.0 || m.Entity1 == m.Entity2) {
		return false
	}
	return true
}

// Filter returns the matches kept by the rule, preserving order.
func Filter(matches []Match, rule Rule) []Match {
	kept := make([]Match, 0, len(matches))
	for _, m := range matches {
		if rule.Keep(m) {
			kept = append(kept, m)
		}
	}
	return kept
}

// Element names are matched by local name only. Silk binds the
// alignment vocabulary as the default namespace, so qualifying the
// names here would tie the parser to one serialization of the same
// document.
type document struct {
	XMLName xml.Name `xml:"RDF"`
	Cells   []cell   `xml:"Alignment>map>Cell"`
}

type cell struct {
	Entity1 resource `xml:"entity1"`
	Entity2 resource `xml:"entity2"`
	Measure string   `xml:"measure"`
}

type resource struct {
	IRI string `xml:"resource,attr"`
}

// Parse decodes an alignment document. Cells missing an entity or
// carrying a measure that does not parse as a float are dropped, the
// way the rest of the pipeline expects; a malformed document is an
// error.
func Parse(r io.Reader) ([]Match, error) {
	var doc document
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding alignment: %w", err)
	}

	matches := make([]Match, 0, len(doc.Cells))
	for _, c := range doc.Cells {
		if c.Entity1.IRI == "" || c.Entity2.IRI == "" {
			continue
		}
		measure, err := strconv.ParseFloat(strings.TrimSpace(c.Measure), 64)
		if err != nil {
			continue
		}
		matches = append(matches, Match{
			Entity1: c.Entity1.IRI,
			Entity2: c.Entity2.IRI,
			Measure: measure,
		})
	}
	return matches, nil
}

// ParseFile decodes the alignment document at path.
func ParseFile(path string) ([]Match, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening alignment: %w", err)
	}
	defer f.Close()

	matches, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return matches, nil
}
