package api

import (
	"html/template"
	"log/slog"
	"net/http"
	"strings"
)

var resourcePage = template.Must(template.New("resource").Parse(`<html>
<head><title>{{.IRI}}</title></head>
<body>
<h1>{{.IRI}}</h1>
<p>Content negotiation: text/turtle, application/ld+json, text/html</p>
<table border="1">
<thead><tr><th>S</th><th>P</th><th>O</th></tr></thead>
<tbody>
{{- range .Rows}}
<tr><td>{{.Subject}}</td><td>{{.Predicate}}</td><td>{{.Object}}</td></tr>
{{- end}}
</tbody>
</table>
</body>
</html>
`))

type tripleRow struct {
	Subject, Predicate, Object string
}

func writeResourceHTML(w http.ResponseWriter, iri string, triples []byte) {
	page := struct {
		IRI  string
		Rows []tripleRow
	}{IRI: iri, Rows: tableRows(triples)}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := resourcePage.Execute(w, page); err != nil {
		slog.Warn("rendering resource page", "iri", iri, "error", err)
	}
}

// tableRows splits N-Triples lines into subject, predicate and object
// columns. Anything that does not look like a triple is skipped.
func tableRows(triples []byte) []tripleRow {
	var rows []tripleRow
	for _, line := range strings.Split(string(triples), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		subject, rest, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		predicate, object, ok := strings.Cut(rest, " ")
		if !ok {
			continue
		}
		object = strings.TrimSuffix(strings.TrimSpace(object), " .")
		rows = append(rows, tripleRow{
			Subject:   prettyTerm(subject),
			Predicate: prettyTerm(predicate),
			Object:    prettyTerm(object),
		})
	}
	return rows
}

// prettyTerm unwraps IRI brackets and plain literal quotes for
// display. Typed and tagged literals keep their suffix so the type
// stays visible in the table.
func prettyTerm(term string) string {
	if strings.HasPrefix(term, "<") && strings.HasSuffix(term, ">") {
		return term[1 : len(term)-1]
	}
	if strings.HasPrefix(term, `"`) && strings.HasSuffix(term, `"`) {
		return term[1 : len(term)-1]
	}
	return term
}
