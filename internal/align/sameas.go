package align

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
)

// PrefixHeader is the prologue of every Turtle file this package
// writes. The fuseki loader shares it when patching silver-stage files
// that omit their own prefixes.
const PrefixHeader = `@prefix rdf: <http://www.w3.org/1999/02/22-rdf-syntax-ns#> .
@prefix rdfs: <http://www.w3.org/2000/01/rdf-schema#> .
@prefix owl: <http://www.w3.org/2002/07/owl#> .
@prefix xsd: <http://www.w3.org/2001/XMLSchema#> .
@prefix foaf: <http://xmlns.com/foaf/0.1/> .
@prefix schema: <http://schema.org/> .
@prefix kg: <https://kg-football.vn/ontology#> .
@prefix res: <https://kg-football.vn/resource/> .
`

// WriteSameAs writes matches as symmetric owl:sameAs triples in
// Turtle. Each pair is preceded by a comment carrying its measure, so
// the generated files stay reviewable. The header is written even when
// matches is empty; callers that want to skip empty outputs check
// before calling.
func WriteSameAs(w io.Writer, matches []Match) error {
	if _, err := io.WriteString(w, PrefixHeader); err != nil {
		return fmt.Errorf("writing prefixes: %w", err)
	}
	if _, err := io.WriteString(w, "\n# owl:sameAs links derived from entity alignment\n\n"); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for _, m := range matches {
		measure := strconv.FormatFloat(m.Measure, 'g', -1, 64)
		_, err := fmt.Fprintf(w, "# Measure: %s\n<%s> owl:sameAs <%s> .\n<%s> owl:sameAs <%s> .\n\n",
			measure, m.Entity1, m.Entity2, m.Entity2, m.Entity1)
		if err != nil {
			return fmt.Errorf("writing triples: %w", err)
		}
	}
	return nil
}

// SameAsTTL renders matches into an in-memory Turtle document.
func SameAsTTL(matches []Match) []byte {
	var buf bytes.Buffer
	// bytes.Buffer does not fail.
	_ = WriteSameAs(&buf, matches)
	return buf.Bytes()
}
