// Package rest implements docstore.Store over the Firestore REST API using
// bearer tokens from a credentials.TokenSource. It keeps no connection state
// between calls.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mihaimyh/gofulfill/pkg/credentials"
	"github.com/mihaimyh/gofulfill/pkg/docstore"
	"github.com/mihaimyh/gofulfill/pkg/fulfill"
)

const (
	// DefaultEndpoint is the public Firestore REST endpoint.
	DefaultEndpoint = "https://firestore.googleapis.com"
	// EmulatorToken is the bearer token the local emulator accepts.
	EmulatorToken = "owner"

	maxResponseBody = 4 << 20
	maxErrorBody    = 512
)

// Config holds configuration for the REST document store.
type Config struct {
	// ProjectID is the project that owns the database.
	ProjectID string

	// Database is the database id (default: "(default)").
	Database string

	// Endpoint overrides the API root, e.g. "http://localhost:8080" for the
	// emulator (default: DefaultEndpoint).
	Endpoint string

	// Tokens supplies bearer tokens for every request.
	Tokens credentials.TokenSource

	// HTTPClient is used for all requests (default: 10s timeout).
	HTTPClient *http.Client

	Logger fulfill.Logger
}

// Storage implements docstore.Store against the Firestore REST API.
type Storage struct {
	base   string
	tokens credentials.TokenSource
	client *http.Client
	logger fulfill.Logger

	missingDatabase sync.Once
}

var _ docstore.Store = (*Storage)(nil)

// New creates a new REST storage adapter.
func New(cfg Config) (*Storage, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("rest: project id is required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("rest: token source is required")
	}
	if cfg.Database == "" {
		cfg.Database = "(default)"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &Storage{
		base: fmt.Sprintf("%s/v1/projects/%s/databases/%s/documents",
			strings.TrimRight(cfg.Endpoint, "/"), url.PathEscape(cfg.ProjectID), url.PathEscape(cfg.Database)),
		tokens: cfg.Tokens,
		client: cfg.HTTPClient,
		logger: fulfill.OrNoop(cfg.Logger),
	}, nil
}

// EmulatorEndpoint turns a FIRESTORE_EMULATOR_HOST value into an endpoint.
func EmulatorEndpoint(host string) string {
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}
	return "http://" + host
}

type wireDocument struct {
	Name       string         `json:"name"`
	Fields     map[string]any `json:"fields"`
	UpdateTime string         `json:"updateTime"`
}

// Get implements docstore.Store
func (s *Storage) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	var wd wireDocument
	err := s.do(ctx, http.MethodGet, s.docURL(collection, id), nil, &wd)
	var se *statusError
	if errors.As(err, &se) && se.code == http.StatusNotFound {
		if se.documentMissing() {
			return nil, nil
		}
		s.missingDatabase.Do(func() {
			s.logger.Error("Document store database not found, check the project id",
				fulfill.F("base", s.base),
				fulfill.F("error", err.Error()))
		})
	}
	if err != nil {
		return nil, fulfill.Upstream("docstore get "+collection, err)
	}
	return decodeDocument(collection, id, wd)
}

// Patch implements docstore.Store. Only the masked paths are written.
func (s *Storage) Patch(ctx context.Context, collection, id string, updates ...docstore.Update) error {
	if err := docstore.ValidateUpdates(updates); err != nil {
		return err
	}

	mask, body := docstore.BuildPatch(updates)
	q := url.Values{}
	for _, path := range mask {
		q.Add("updateMask.fieldPaths", path)
	}
	payload := map[string]any{"fields": docstore.EncodeFields(body)}

	s.logger.Debug("Patching document",
		fulfill.F("collection", collection),
		fulfill.F("id", id),
		fulfill.F("paths", docstore.DescribeUpdates(updates)),
	)
	if err := s.do(ctx, http.MethodPatch, s.docURL(collection, id)+"?"+q.Encode(), payload, nil); err != nil {
		return fulfill.Upstream("docstore patch "+collection, err)
	}
	return nil
}

// QueryEqual implements docstore.Store with a structured query limited to one result.
func (s *Storage) QueryEqual(ctx context.Context, collection string, field docstore.FieldPath,
	value docstore.Value) (*docstore.Document, error) {
	query := map[string]any{
		"structuredQuery": map[string]any{
			"from": []any{map[string]any{"collectionId": collection}},
			"where": map[string]any{
				"fieldFilter": map[string]any{
					"field": map[string]any{"fieldPath": field.String()},
					"op":    "EQUAL",
					"value": docstore.ToWire(value),
				},
			},
			"limit": 1,
		},
	}

	var results []struct {
		Document *wireDocument `json:"document"`
	}
	if err := s.do(ctx, http.MethodPost, s.base+":runQuery", query, &results); err != nil {
		return nil, fulfill.Upstream("docstore query "+collection, err)
	}
	for _, r := range results {
		if r.Document == nil {
			continue
		}
		return decodeDocument(collection, lastSegment(r.Document.Name), *r.Document)
	}
	return nil, nil
}

// Enabled implements docstore.Store
func (s *Storage) Enabled() bool {
	return true
}

func (s *Storage) docURL(collection, id string) string {
	return s.base + "/" + url.PathEscape(collection) + "/" + url.PathEscape(id)
}

// invalidator is implemented by token sources that cache tokens.
type invalidator interface {
	Invalidate()
}

// statusError is a non-2xx answer from the API.
type statusError struct {
	method string
	code   int
	body   []byte
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.method, e.code, bytes.TrimSpace(e.body))
}

// documentMissing reports whether a 404 names a document rather than the
// project or database.
func (e *statusError) documentMissing() bool {
	var ae struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if e.code != http.StatusNotFound || json.Unmarshal(e.body, &ae) != nil {
		return false
	}
	msg := ae.Error.Message
	return ae.Error.Status == "NOT_FOUND" &&
		(strings.HasPrefix(msg, "Document ") || strings.Contains(msg, "/documents/"))
}

// do performs one authenticated request and decodes a JSON response into
// out. A 401 drops the cached token and is retried once with a fresh one.
func (s *Storage) do(ctx context.Context, method, target string, in, out any) error {
	var payload []byte
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = raw
	}

	err := s.once(ctx, method, target, payload, out)
	var se *statusError
	if errors.As(err, &se) && se.code == http.StatusUnauthorized {
		if inv, ok := s.tokens.(invalidator); ok {
			s.logger.Warn("Document store rejected bearer token, minting a new one")
			inv.Invalidate()
			err = s.once(ctx, method, target, payload, out)
		}
	}
	return err
}

func (s *Storage) once(ctx context.Context, method, target string, payload []byte, out any) error {
	token, err := s.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(raw) > maxErrorBody {
			raw = raw[:maxErrorBody]
		}
		return &statusError{method: method, code: resp.StatusCode, body: raw}
	}
	if out != nil && len(raw) > 0 {
		if err := docstore.DecodeJSON(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func decodeDocument(collection, id string, wd wireDocument) (*docstore.Document, error) {
	fields, err := docstore.DecodeFields(wd.Fields)
	if err != nil {
		return nil, fulfill.Upstream("docstore decode "+collection+"/"+id, err)
	}
	doc := &docstore.Document{Collection: collection, ID: id, Fields: fields}
	if wd.UpdateTime != "" {
		if ts, err := time.Parse(time.RFC3339Nano, wd.UpdateTime); err == nil {
			doc.UpdateTime = ts
		}
	}
	return doc, nil
}

func lastSegment(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if unescaped, err := url.PathUnescape(name); err == nil {
		return unescaped
	}
	return name
}
