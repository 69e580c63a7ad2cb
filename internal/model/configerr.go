package model

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	cue "cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
)

type CueErrorDetail struct {
	Path    string // e.g. jobs.0.sameas.threshold
	Code    string // missing_required | empty_required | unknown_field | type_mismatch | conflict | invalid_enum ...
	Message string // Human text
	Pos     CueErrorPosition
	Raw     string // original message
}

func (c CueErrorDetail) Attr(name string) slog.Attr {
	return slog.GroupAttrs(
		name,
		slog.String("code", c.Code),
		slog.String("path", c.Path),
		slog.String("message", c.Message),
		slog.String("file", c.Pos.Filename),
		slog.Int("line", c.Pos.Line),
		slog.Int("column", c.Pos.Column),
	)
}

type CueErrorPosition struct {
	Filename string
	Line     int
	Column   int
}

// CueErrDetails explodes a CUE validation error into the individual
// schema violations, one detail per position in the config file.
func CueErrDetails(err error) []CueErrorDetail {
	return humanize(err, schema)
}

var (
	reIncomplete  = regexp.MustCompile(`(?i)incomplete value`)
	reNotAllowed  = regexp.MustCompile(`(?i)not allowed|unknown field`)
	reConflict    = regexp.MustCompile(`(?i)conflicting values|cannot unify|incompatible`)
	reExpectedGot = regexp.MustCompile(`(?i)expected .* got .*`)
	reEnum        = regexp.MustCompile(`(?i)must be one of|expected one of`)
)

func humanize(err error, root cue.Value) []CueErrorDetail {
	if err == nil {
		return nil
	}

	seen := make(map[CueErrorPosition]struct{})

	var out []CueErrorDetail
	for _, e := range cueerrors.Errors(err) {
		raw, _ := e.Msg()
		path := normalizePath(e.Path())
		code, msg := classify(raw, path, root)

		pos := position(e)
		if pos.Filename == "" {
			continue
		}
		if _, ok := seen[pos]; ok {
			continue
		}

		switch path {
		case "service.mode", "docker.pull":
			msg += enumHint(path)
		}

		out = append(out, CueErrorDetail{
			Path:    path,
			Code:    code,
			Message: msg,
			Pos:     pos,
			Raw:     err.Error(),
		})
		seen[pos] = struct{}{}
	}
	return out
}

// enumHint lists the allowed values of an enum field straight from the
// schema, so the hint never drifts from the actual constraint.
func enumHint(path string) string {
	values, dflt := enumStrings(schema.LookupPath(cue.ParsePath(path)))
	if len(values) == 0 {
		return ""
	}
	hint := fmt.Sprintf(": possible values (%s)", strings.Join(values, ","))
	if dflt != nil {
		hint += fmt.Sprintf(" (default %s)", *dflt)
	}
	return hint
}

func enumStrings(v cue.Value) (values []string, def *string) {
	// Get default (if any)
	if d, ok := v.Default(); ok {
		if s, err := d.String(); err == nil {
			ss := s
			def = &ss
		}
	}
	// Detect disjunction
	if op, args := v.Expr(); op == cue.OrOp {
		seen := map[string]struct{}{}
		for _, a := range args {
			if a.Kind() != cue.StringKind {
				continue
			}
			if s, err := a.String(); err == nil {
				if _, ok := seen[s]; !ok {
					seen[s] = struct{}{}
					values = append(values, s)
				}
			}
		}
	} else if v.Kind() == cue.StringKind {
		// Single fixed value
		if s, err := v.String(); err == nil {
			values = append(values, s)
		}
	}
	return
}

func position(err cueerrors.Error) CueErrorPosition {
	for _, r := range cueerrors.Positions(err) {
		if r.Filename() == "" {
			continue
		}
		return CueErrorPosition{
			Filename: r.Filename(),
			Line:     r.Line(),
			Column:   r.Column(),
		}
	}
	var zero CueErrorPosition
	return zero
}

func normalizePath(p []string) string {
	if len(p) == 0 {
		return ""
	}
	// Remove leading definition (#Config)
	if strings.HasPrefix(p[0], "#") {
		p = p[1:]
	}
	return strings.Join(p, ".")
}

func classify(raw, path string, root cue.Value) (code, msg string) {
	switch {
	case reNotAllowed.MatchString(raw):
		return "unknown_field", fmt.Sprintf("Field %s is not allowed", last(path))
	case reIncomplete.MatchString(raw):
		if lookup(root, path).Exists() {
			return "missing_required", fmt.Sprintf("Field %s is required and must be non-empty", last(path))
		}
		return "missing_required", fmt.Sprintf("Field %s is required", last(path))
	case reConflict.MatchString(raw):
		return "conflicting_values", fmt.Sprintf("Conflicting values for %s", last(path))
	case reEnum.MatchString(raw):
		return "invalid_enum", fmt.Sprintf("Field %s has invalid value", last(path))
	case reExpectedGot.MatchString(raw):
		return "type_mismatch", fmt.Sprintf("Field %s has wrong type/value", last(path))
	default:
		return "validation_error", raw
	}
}

func lookup(root cue.Value, path string) cue.Value {
	if path == "" {
		return root
	}
	return root.LookupPath(cue.ParsePath(path))
}

func last(p string) string {
	if p == "" {
		return p
	}
	if i := strings.LastIndexByte(p, '.'); i >= 0 {
		return p[i+1:]
	}
	return p
}
