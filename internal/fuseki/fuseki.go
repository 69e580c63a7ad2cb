// Package fuseki is a thin client for an Apache Jena Fuseki server:
// dataset administration, Turtle uploads into named graphs and raw
// SPARQL queries. It speaks the admin protocol of the stain/jena-fuseki
// image the knowledge graph is deployed on.
package fuseki

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/nghianinhnb/semantic-web-football-kg/internal/model"
)

const (
	// SPARQLQueryType is the request body media type for POSTed queries.
	SPARQLQueryType = "application/sparql-query"

	turtleType = "text/turtle"
	formType   = "application/x-www-form-urlencoded"
)

type Client struct {
	base     *url.URL
	dataset  string
	username string
	password string
	client   *http.Client
}

// New validates the endpoint configuration and returns a client. The
// URL must carry a scheme and no path, dataset names the Fuseki
// dataset all other methods operate on.
func New(cfg model.Fuseki) (*Client, error) {
	if cfg.URL.AsURL() == nil {
		return nil, errors.New("fuseki url is required")
	}
	base := cfg.URL.Clone().AsURL()
	base.Path = strings.TrimRight(base.Path, "/")

	if base.Scheme == "" || base.Host == "" || base.Path != "" {
		return nil, errors.New("please define the fuseki url with a scheme and without path, e.g. `http://localhost:3030`")
	}
	if cfg.Dataset == "" {
		return nil, errors.New("fuseki dataset is required")
	}

	return &Client{
		base:     base,
		dataset:  cfg.Dataset,
		username: cfg.Username,
		password: cfg.Password,
		client:   &http.Client{},
	}, nil
}

// Dataset returns the dataset name the client operates on.
func (c *Client) Dataset() string {
	return c.dataset
}

// DatasetURL returns the browsable dataset endpoint, for messages.
func (c *Client) DatasetURL() string {
	return c.base.JoinPath(c.dataset).String()
}

// Ping checks that the server is up and the dataset exists. A missing
// dataset reports model.ErrNotFound.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.base.JoinPath(c.dataset).String(), nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("dataset %s: %w", c.dataset, model.ErrNotFound)
	default:
		return fmt.Errorf("pinging dataset %s: unexpected status %d", c.dataset, resp.StatusCode)
	}
}

// EnsureDataset creates the dataset through the admin protocol when it
// does not exist yet. An existing dataset is left alone, so the call is
// safe to repeat before every load.
func (c *Client) EnsureDataset(ctx context.Context) error {
	err := c.Ping(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return err
	}

	form := url.Values{
		"dbName": []string{c.dataset},
		"dbType": []string{"mem"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.base.JoinPath("$/datasets").String(), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", formType)
	c.auth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("cannot create dataset %s: status %d, body: %s", c.dataset, resp.StatusCode, errorBody(resp))
	}
	return nil
}

// LoadTTL uploads a Turtle document into the named graph, or into the
// default graph when graph is empty.
func (c *Client) LoadTTL(ctx context.Context, graph string, ttl []byte) error {
	u := c.base.JoinPath(c.dataset, "data")
	if graph != "" {
		u.RawQuery = url.Values{"graph": []string{graph}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(ttl))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", turtleType)
	c.auth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return nil
	}
	if graph == "" {
		return fmt.Errorf("loading turtle into default graph: status %d, body: %s", resp.StatusCode, errorBody(resp))
	}
	return fmt.Errorf("loading turtle into %s: status %d, body: %s", graph, resp.StatusCode, errorBody(resp))
}

// Query POSTs a SPARQL query and returns the raw response body together
// with its Content-Type. The accept argument picks the result
// serialization, Fuseki honors the usual SPARQL media types.
func (c *Client) Query(ctx context.Context, query, accept string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.base.JoinPath(c.dataset, "sparql").String(), strings.NewReader(query))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", SPARQLQueryType)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	c.auth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("query failed: status %d, body: %s", resp.StatusCode, errorBody(resp))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("reading query response: %w", err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func (c *Client) auth(req *http.Request) {
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
}

// Fuseki error pages can be whole HTML documents, keep only the head.
func errorBody(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return strings.TrimSpace(string(raw))
}
