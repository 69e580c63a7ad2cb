package api_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nghianinhnb/semantic-web-football-kg/internal/api"
	"github.com/nghianinhnb/semantic-web-football-kg/internal/model"
)

const playerTriples = `<https://kg-football.vn/resource/player/nguyen-van-a> <http://xmlns.com/foaf/0.1/name> "Nguyen Van A" .
<https://kg-football.vn/resource/player/nguyen-van-a> <https://kg-football.vn/ontology#playsFor> <https://kg-football.vn/resource/club/ha-noi-fc> .
`

type storedQuery struct {
	query  string
	accept string
}

type fakeStore struct {
	mx      sync.Mutex
	queries []storedQuery
	reply   func(query, accept string) ([]byte, string, error)
	pingErr error
}

func (f *fakeStore) Query(_ context.Context, query, accept string) ([]byte, string, error) {
	f.mx.Lock()
	f.queries = append(f.queries, storedQuery{query: query, accept: accept})
	f.mx.Unlock()
	if f.reply == nil {
		return nil, "", nil
	}
	return f.reply(query, accept)
}

func (f *fakeStore) Ping(context.Context) error {
	return f.pingErr
}

func (f *fakeStore) recorded() []storedQuery {
	f.mx.Lock()
	defer f.mx.Unlock()
	return append([]storedQuery(nil), f.queries...)
}

func serve(store *fakeStore, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	api.NewServer(store, model.API{}).Handler().ServeHTTP(w, r)
	return w
}

func TestDerefResource(t *testing.T) {
	t.Parallel()

	t.Run("renders an html table by default", func(t *testing.T) {
		t.Parallel()
		store := &fakeStore{reply: func(string, string) ([]byte, string, error) {
			return []byte(playerTriples), "application/n-triples", nil
		}}

		w := serve(store, httptest.NewRequest(http.MethodGet, "/resource/player/nguyen-van-a", nil))

		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
		body := w.Body.String()
		require.Contains(t, body, "<h1>https://kg-football.vn/resource/player/nguyen-van-a</h1>")
		require.Contains(t, body, "<td>Nguyen Van A</td>")
		require.Contains(t, body, "<td>https://kg-football.vn/ontology#playsFor</td>")

		queries := store.recorded()
		require.Len(t, queries, 1)
		require.Equal(t, "application/n-triples", queries[0].accept)
		require.Contains(t, queries[0].query, "<https://kg-football.vn/resource/player/nguyen-van-a>")
	})

	t.Run("serves turtle when asked for it", func(t *testing.T) {
		t.Parallel()
		turtle := "@prefix foaf: <http://xmlns.com/foaf/0.1/> .\n\n<https://kg-football.vn/resource/player/nguyen-van-a> foaf:name \"Nguyen Van A\" .\n"
		store := &fakeStore{reply: func(_, accept string) ([]byte, string, error) {
			if accept == "text/turtle" {
				return []byte(turtle), "text/turtle", nil
			}
			return []byte(playerTriples), "application/n-triples", nil
		}}

		req := httptest.NewRequest(http.MethodGet, "/resource/player/nguyen-van-a", nil)
		req.Header.Set("Accept", "text/turtle")
		w := serve(store, req)

		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "text/turtle", w.Header().Get("Content-Type"))
		require.Equal(t, turtle, w.Body.String())

		queries := store.recorded()
		require.Len(t, queries, 2)
		require.Equal(t, "application/n-triples", queries[0].accept)
		require.Equal(t, "text/turtle", queries[1].accept)
	})

	t.Run("serves json-ld for json accept headers", func(t *testing.T) {
		t.Parallel()
		store := &fakeStore{reply: func(_, accept string) ([]byte, string, error) {
			if accept == "application/ld+json" {
				return []byte(`{"@id": "https://kg-football.vn/resource/player/nguyen-van-a"}`), "application/ld+json", nil
			}
			return []byte(playerTriples), "application/n-triples", nil
		}}

		req := httptest.NewRequest(http.MethodGet, "/resource/player/nguyen-van-a", nil)
		req.Header.Set("Accept", "application/json")
		w := serve(store, req)

		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "application/ld+json", w.Header().Get("Content-Type"))
		require.JSONEq(t, `{"@id": "https://kg-football.vn/resource/player/nguyen-van-a"}`, w.Body.String())
	})

	t.Run("falls back to the ontology namespace", func(t *testing.T) {
		t.Parallel()
		ontology := "<https://kg-football.vn/ontology#Player> <http://www.w3.org/2000/01/rdf-schema#subClassOf> <http://xmlns.com/foaf/0.1/Person> .\n"
		store := &fakeStore{reply: func(query, _ string) ([]byte, string, error) {
			if strings.Contains(query, "ontology#Player") {
				return []byte(ontology), "application/n-triples", nil
			}
			return nil, "application/n-triples", nil
		}}

		w := serve(store, httptest.NewRequest(http.MethodGet, "/resource/Player", nil))

		require.Equal(t, http.StatusOK, w.Code)
		require.Contains(t, w.Body.String(), "<h1>https://kg-football.vn/ontology#Player</h1>")

		queries := store.recorded()
		require.Len(t, queries, 2)
		require.Contains(t, queries[0].query, "<https://kg-football.vn/resource/Player>")
		require.Contains(t, queries[1].query, "<https://kg-football.vn/ontology#Player>")
	})

	t.Run("reports unknown resources", func(t *testing.T) {
		t.Parallel()
		store := &fakeStore{reply: func(string, string) ([]byte, string, error) {
			return []byte("\n  \n"), "application/n-triples", nil
		}}

		w := serve(store, httptest.NewRequest(http.MethodGet, "/resource/player/khong-ton-tai", nil))

		require.Equal(t, http.StatusNotFound, w.Code)
		require.JSONEq(t, `{"detail": "Resource not found"}`, w.Body.String())
	})

	t.Run("rejects malformed resource paths", func(t *testing.T) {
		t.Parallel()
		store := &fakeStore{}

		// The space is %-encoded because httptest.NewRequest cannot build
		// a request line with a raw space; the handler still sees "a b".
		for _, path := range []string{"/resource/", "/resource/a%20b"} {
			w := serve(store, httptest.NewRequest(http.MethodGet, path, nil))
			require.Equal(t, http.StatusBadRequest, w.Code, path)
		}
		require.Empty(t, store.recorded())
	})

	t.Run("surfaces store failures", func(t *testing.T) {
		t.Parallel()
		store := &fakeStore{reply: func(string, string) ([]byte, string, error) {
			return nil, "", fmt.Errorf("fuseki is down")
		}}

		w := serve(store, httptest.NewRequest(http.MethodGet, "/resource/player/nguyen-van-a", nil))

		require.Equal(t, http.StatusInternalServerError, w.Code)
		require.Contains(t, w.Body.String(), "fuseki is down")
	})
}

func sparqlRequest(t *testing.T, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/sparql/run", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestSparqlRun(t *testing.T) {
	t.Parallel()

	t.Run("select defaults to sparql results json", func(t *testing.T) {
		t.Parallel()
		results := `{"head": {"vars": ["s"]}, "results": {"bindings": []}}`
		store := &fakeStore{reply: func(_, accept string) ([]byte, string, error) {
			return []byte(results), accept, nil
		}}

		w := serve(store, sparqlRequest(t, `{"query": "SELECT ?s WHERE { ?s ?p ?o }"}`))

		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "application/json", w.Header().Get("Content-Type"))
		require.JSONEq(t, results, w.Body.String())

		queries := store.recorded()
		require.Len(t, queries, 1)
		require.Equal(t, "application/sparql-results+json", queries[0].accept)
	})

	t.Run("select honours csv and text formats", func(t *testing.T) {
		t.Parallel()
		for _, tc := range []struct {
			format      string
			accept      string
			contentType string
		}{
			{format: "csv", accept: "text/csv", contentType: "text/csv"},
			{format: "text", accept: "text/tab-separated-values", contentType: "text/plain"},
		} {
			store := &fakeStore{reply: func(_, accept string) ([]byte, string, error) {
				return []byte("s\nvalue\n"), accept, nil
			}}

			body := fmt.Sprintf(`{"query": "select ?s where { ?s ?p ?o }", "format": %q}`, tc.format)
			w := serve(store, sparqlRequest(t, body))

			require.Equal(t, http.StatusOK, w.Code, tc.format)
			require.Equal(t, tc.contentType, w.Header().Get("Content-Type"), tc.format)
			require.Equal(t, tc.accept, store.recorded()[0].accept, tc.format)
		}
	})

	t.Run("select skips the query prologue", func(t *testing.T) {
		t.Parallel()
		store := &fakeStore{reply: func(_, accept string) ([]byte, string, error) {
			return []byte(`{"head": {"vars": []}, "results": {"bindings": []}}`), accept, nil
		}}

		query := "PREFIX foaf: <http://xmlns.com/foaf/0.1/>\\nSELECT ?s WHERE { ?s foaf:name ?n }"
		w := serve(store, sparqlRequest(t, fmt.Sprintf(`{"query": "%s"}`, query)))

		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "application/sparql-results+json", store.recorded()[0].accept)
	})

	t.Run("construct returns json-ld by default and turtle on request", func(t *testing.T) {
		t.Parallel()
		for _, tc := range []struct {
			format string
			accept string
		}{
			{format: "", accept: "application/ld+json"},
			{format: "turtle", accept: "text/turtle"},
		} {
			store := &fakeStore{reply: func(_, accept string) ([]byte, string, error) {
				return []byte("graph"), accept, nil
			}}

			body := `{"query": "CONSTRUCT { ?s ?p ?o } WHERE { ?s ?p ?o }"`
			if tc.format != "" {
				body += fmt.Sprintf(`, "format": %q`, tc.format)
			}
			w := serve(store, sparqlRequest(t, body+"}"))

			require.Equal(t, http.StatusOK, w.Code, tc.format)
			require.Equal(t, tc.accept, w.Header().Get("Content-Type"), tc.format)
			require.Equal(t, tc.accept, store.recorded()[0].accept, tc.format)
		}
	})

	t.Run("ask answers json and plain text", func(t *testing.T) {
		t.Parallel()
		store := &fakeStore{reply: func(string, string) ([]byte, string, error) {
			return []byte(`{"head": {}, "boolean": true}`), "application/sparql-results+json", nil
		}}

		w := serve(store, sparqlRequest(t, `{"query": "ASK { ?s ?p ?o }"}`))
		require.Equal(t, http.StatusOK, w.Code)
		require.JSONEq(t, `{"boolean": true}`, w.Body.String())

		store = &fakeStore{reply: func(string, string) ([]byte, string, error) {
			return []byte(`{"head": {}, "boolean": false}`), "application/sparql-results+json", nil
		}}

		w = serve(store, sparqlRequest(t, `{"query": "ASK { ?s ?p ?o }", "format": "text"}`))
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "text/plain", w.Header().Get("Content-Type"))
		require.Equal(t, "false", w.Body.String())
	})

	t.Run("update queries are not proxied", func(t *testing.T) {
		t.Parallel()
		store := &fakeStore{}

		w := serve(store, sparqlRequest(t, `{"query": "INSERT DATA { <a> <b> <c> }"}`))

		require.Equal(t, http.StatusOK, w.Code)
		require.JSONEq(t, `{"message": "Unsupported or empty result"}`, w.Body.String())
		require.Empty(t, store.recorded())
	})

	t.Run("rejects bodies that are not json", func(t *testing.T) {
		t.Parallel()
		w := serve(&fakeStore{}, sparqlRequest(t, "SELECT ?s WHERE { ?s ?p ?o }"))

		require.Equal(t, http.StatusBadRequest, w.Code)
		require.JSONEq(t, `{"detail": "Invalid request body"}`, w.Body.String())
	})

	t.Run("surfaces store failures", func(t *testing.T) {
		t.Parallel()
		store := &fakeStore{reply: func(string, string) ([]byte, string, error) {
			return nil, "", fmt.Errorf("query timed out")
		}}

		w := serve(store, sparqlRequest(t, `{"query": "SELECT ?s WHERE { ?s ?p ?o }"}`))

		require.Equal(t, http.StatusInternalServerError, w.Code)
		require.Contains(t, w.Body.String(), "query timed out")
	})
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	t.Run("up", func(t *testing.T) {
		t.Parallel()
		w := serve(&fakeStore{}, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		require.Equal(t, http.StatusOK, w.Code)
		require.JSONEq(t, `{"status": "ok"}`, w.Body.String())
	})

	t.Run("down", func(t *testing.T) {
		t.Parallel()
		store := &fakeStore{pingErr: fmt.Errorf("dataset football: not found")}
		w := serve(store, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		require.JSONEq(t, `{"status": "down", "error": "dataset football: not found"}`, w.Body.String())
	})
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	handler := api.NewServer(store, model.API{}).Handler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	require.Contains(t, body, `kg_api_requests_total{code="200",handler="healthz"} 1`)
	require.Contains(t, body, `kg_api_request_duration_seconds_count{handler="healthz"} 1`)
}
