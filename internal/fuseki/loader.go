package fuseki

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/nghianinhnb/semantic-web-football-kg/internal/align"
	"github.com/nghianinhnb/semantic-web-football-kg/internal/model"
	"github.com/nghianinhnb/semantic-web-football-kg/internal/parallel"
)

// LoadResult is the outcome of loading one Turtle file. Err is nil on
// success. A failed file does not abort the rest of the load.
type LoadResult struct {
	File  string
	Graph string
	Err   error
}

// LoadDir uploads every *.ttl file under cfg.Dir into its own named
// graph, cfg.GraphBase plus the file name without extension. Files are
// loaded with up to cfg.Workers uploads in flight and failures are
// collected per file, so one broken document cannot sink a bulk load
// of hundreds.
func (c *Client) LoadDir(ctx context.Context, cfg model.Load) ([]LoadResult, error) {
	entries, err := os.ReadDir(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("reading turtle directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".ttl") {
			continue
		}
		files = append(files, entry.Name())
	}

	if err := c.EnsureDataset(ctx); err != nil {
		return nil, err
	}

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	// The map function folds its failure into the result, an error
	// return would cancel the remaining uploads.
	return parallel.Map(ctx, workers, files, func(ctx context.Context, name string) (LoadResult, error) {
		graph := cfg.GraphBase + strings.TrimSuffix(name, ".ttl")
		result := LoadResult{File: name, Graph: graph}

		content, err := os.ReadFile(filepath.Join(cfg.Dir, name))
		if err != nil {
			result.Err = err
			return result, nil
		}
		result.Err = c.LoadTTL(ctx, graph, ExpandResTokens(EnsurePrefixes(content)))
		return result, nil
	})
}

// EnsurePrefixes prepends the shared prefix header when the document
// does not declare the res prefix itself. Silver stage exports rely on
// the loader patching them up.
func EnsurePrefixes(content []byte) []byte {
	if bytes.Contains(bytes.ToLower(content), []byte("@prefix res")) {
		return content
	}
	patched := make([]byte, 0, len(align.PrefixHeader)+1+len(content))
	patched = append(patched, align.PrefixHeader...)
	patched = append(patched, '\n')
	return append(patched, content...)
}

var resToken = regexp.MustCompile(`\bres:([^\s;,.()\]">]+)`)

// ExpandResTokens rewrites res: tokens whose local name contains '/'
// or '#' into full IRIs. Resource paths like res:player/xuan-son are
// not legal prefixed names in Turtle, but the crawler emits them.
func ExpandResTokens(content []byte) []byte {
	return resToken.ReplaceAllFunc(content, func(token []byte) []byte {
		local := token[len("res:"):]
		if !bytes.ContainsAny(local, "/#") {
			return token
		}
		expanded := make([]byte, 0, len(model.DefaultResourceBase)+len(local)+2)
		expanded = append(expanded, '<')
		expanded = append(expanded, model.DefaultResourceBase...)
		expanded = append(expanded, local...)
		return append(expanded, '>')
	})
}

// Report summarizes a bulk load the way the crawler tooling expects:
// counts first, one line per failed file after.
type Report struct {
	OK     int
	Failed []LoadResult
}

func NewReport(results []LoadResult) Report {
	var report Report
	for _, r := range results {
		if r.Err == nil {
			report.OK++
		} else {
			report.Failed = append(report.Failed, r)
		}
	}
	return report
}

func (r Report) Write(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "Loaded OK: %d\nFailed: %d\n", r.OK, len(r.Failed)); err != nil {
		return err
	}
	for _, f := range r.Failed {
		if _, err := fmt.Fprintf(w, "- %s: %v\n", f.File, f.Err); err != nil {
			return err
		}
	}
	return nil
}
