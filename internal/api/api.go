// Package api serves the dereferenceable endpoints of the football
// knowledge graph: resource IRIs with content negotiation and a small
// SPARQL proxy. All graph access goes through a Store, normally the
// Fuseki client.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nghianinhnb/semantic-web-football-kg/internal/model"
)

const (
	mediaTurtle     = "text/turtle"
	mediaJSONLD     = "application/ld+json"
	mediaNTriples   = "application/n-triples"
	mediaSPARQLJSON = "application/sparql-results+json"
	mediaCSV        = "text/csv"
	mediaTSV        = "text/tab-separated-values"
)

// Store runs SPARQL queries against the knowledge graph.
type Store interface {
	Query(ctx context.Context, query, accept string) ([]byte, string, error)
	Ping(ctx context.Context) error
}

type Server struct {
	store        Store
	resourceBase string
	ontologyBase string
	metrics      *metrics
}

func NewServer(store Store, cfg model.API) *Server {
	resourceBase := cfg.ResourceBase
	if resourceBase == "" {
		resourceBase = model.DefaultResourceBase
	}
	ontologyBase := cfg.OntologyBase
	if ontologyBase == "" {
		ontologyBase = model.DefaultOntologyBase
	}

	return &Server{
		store:        store,
		resourceBase: resourceBase,
		ontologyBase: ontologyBase,
		metrics:      newMetrics(),
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/resource/*", s.instrument("resource", s.derefResource))
	r.Post("/sparql/run", s.instrument("sparql", s.sparqlRun))
	r.Get("/healthz", s.instrument("healthz", s.healthz))
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	return r
}

// Run serves the API until ctx is cancelled or the listener fails.
// Outstanding requests get five seconds to finish on shutdown.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	serverErrors := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "starting the api server", "addr", addr)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		slog.InfoContext(ctx, "shutting down the api server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			if closeErr := srv.Close(); closeErr != nil {
				return errors.Join(err, closeErr)
			}
			return err
		}
		return nil
	}
}

// derefResource resolves a resource IRI with content negotiation.
// Unknown resource paths are retried as ontology terms, so both
// res:player/x and kg:Player dereference from the same route.
func (s *Server) derefResource(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	if path == "" || strings.ContainsAny(path, "<>\"\n ") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid resource path"})
		return
	}

	iri := s.resourceBase + path
	triples, err := s.describe(r.Context(), iri)
	if err != nil {
		s.storeFailed(w, r, "resource query failed", err)
		return
	}
	if len(triples) == 0 {
		iri = s.ontologyBase + path
		triples, err = s.describe(r.Context(), iri)
		if err != nil {
			s.storeFailed(w, r, "ontology query failed", err)
			return
		}
		if len(triples) == 0 {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Resource not found"})
			return
		}
	}

	switch negotiate(r) {
	case mediaTurtle:
		body, _, err := s.store.Query(r.Context(), describeQuery(iri), mediaTurtle)
		if err != nil {
			s.storeFailed(w, r, "turtle query failed", err)
			return
		}
		w.Header().Set("Content-Type", mediaTurtle)
		_, _ = w.Write(body)
	case mediaJSONLD:
		body, _, err := s.store.Query(r.Context(), describeQuery(iri), mediaJSONLD)
		if err != nil {
			s.storeFailed(w, r, "json-ld query failed", err)
			return
		}
		w.Header().Set("Content-Type", mediaJSONLD)
		_, _ = w.Write(body)
	default:
		writeResourceHTML(w, iri, triples)
	}
}

type sparqlRequest struct {
	Query  string `json:"query"`
	Format string `json:"format,omitempty"`
}

// sparqlRun proxies a query to the store with the Accept header that
// matches the requested result format.
func (s *Server) sparqlRun(w http.ResponseWriter, r *http.Request) {
	var req sparqlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid request body"})
		return
	}
	format := strings.ToLower(req.Format)
	if format == "" {
		format = "json"
	}

	switch queryKind(req.Query) {
	case "SELECT":
		accept, contentType := mediaSPARQLJSON, "application/json"
		switch format {
		case "csv":
			accept, contentType = mediaCSV, mediaCSV
		case "text":
			accept, contentType = mediaTSV, "text/plain"
		}
		body, _, err := s.store.Query(r.Context(), req.Query, accept)
		if err != nil {
			s.storeFailed(w, r, "select query failed", err)
			return
		}
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(body)

	case "CONSTRUCT", "DESCRIBE":
		accept := mediaTurtle
		if format == "json" {
			accept = mediaJSONLD
		}
		body, _, err := s.store.Query(r.Context(), req.Query, accept)
		if err != nil {
			s.storeFailed(w, r, "construct query failed", err)
			return
		}
		w.Header().Set("Content-Type", accept)
		_, _ = w.Write(body)

	case "ASK":
		body, _, err := s.store.Query(r.Context(), req.Query, mediaSPARQLJSON)
		if err != nil {
			s.storeFailed(w, r, "ask query failed", err)
			return
		}
		var answer struct {
			Boolean bool `json:"boolean"`
		}
		if err := json.Unmarshal(body, &answer); err != nil {
			s.storeFailed(w, r, "decoding ask answer failed", err)
			return
		}
		if format == "json" {
			writeJSON(w, http.StatusOK, map[string]bool{"boolean": answer.Boolean})
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "%t", answer.Boolean)

	default:
		writeJSON(w, http.StatusOK, map[string]string{"message": "Unsupported or empty result"})
	}
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "down", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// describe fetches the CONSTRUCT neighbourhood of an IRI as N-Triples,
// the one serialization that is both cheap to probe for emptiness and
// trivial to split into table rows.
func (s *Server) describe(ctx context.Context, iri string) ([]byte, error) {
	body, _, err := s.store.Query(ctx, describeQuery(iri), mediaNTriples)
	if err != nil {
		return nil, err
	}
	return bytes.TrimSpace(body), nil
}

// describeQuery covers the resource itself and one hop beyond, so
// blank node values still render with their properties.
func describeQuery(iri string) string {
	return fmt.Sprintf(`CONSTRUCT { <%[1]s> ?p ?o . ?o ?p2 ?o2 }
WHERE {
  OPTIONAL { <%[1]s> ?p ?o . OPTIONAL { ?o ?p2 ?o2 } }
}`, iri)
}

func negotiate(r *http.Request) string {
	accept := r.Header.Get("Accept")
	switch {
	case strings.Contains(accept, mediaTurtle):
		return mediaTurtle
	case strings.Contains(accept, mediaJSONLD), strings.Contains(accept, "application/json"):
		return mediaJSONLD
	default:
		return "text/html"
	}
}

// queryKind finds the first query form keyword, skipping any PREFIX
// and BASE declarations in the prologue.
func queryKind(query string) string {
	for _, token := range strings.Fields(query) {
		switch kind := strings.ToUpper(token); kind {
		case "SELECT", "ASK", "CONSTRUCT", "DESCRIBE":
			return kind
		}
	}
	return ""
}

func (s *Server) storeFailed(w http.ResponseWriter, r *http.Request, msg string, err error) {
	slog.ErrorContext(r.Context(), msg, "error", err)
	http.Error(w, fmt.Sprintf("%s: %v", msg, err), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing json response", "error", err)
	}
}
