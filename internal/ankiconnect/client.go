// Package ankiconnect talks to the flashcard application's local JSON-RPC
// server.
package ankiconnect

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/cbegin/cardwave-go/internal/metrics"
)

const (
	DefaultURL = "http://127.0.0.1:8765"
	Version    = 6
)

// ErrNotFound is returned by RetrieveMediaFile when the server has no such
// file.
var ErrNotFound = errors.New("ankiconnect: media file not found")

// ProtocolError means the server answered with something other than the
// {error, result} envelope.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "ankiconnect: " + e.Reason }

// APIError carries the error string the server reported for an action.
type APIError struct {
	Action  string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ankiconnect %s: %s", e.Action, e.Message)
}

type request struct {
	Action  string `json:"action"`
	Version int    `json:"version"`
	Params  any    `json:"params"`
}

type Client struct {
	url     string
	http    *http.Client
	metrics *metrics.Metrics
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

// NewClient returns a client for the server at url, DefaultURL when empty.
func NewClient(url string, opts ...Option) *Client {
	if url == "" {
		url = DefaultURL
	}
	c := &Client{
		url:  url,
		http: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invoke runs action with params and decodes the result into result, which
// may be nil. Nil params are sent as an empty object.
func (c *Client) Invoke(ctx context.Context, action string, params any, result any) (err error) {
	start := time.Now()
	defer func() { c.metrics.RecordAnkiRequest(action, err, time.Since(start)) }()

	if params == nil {
		params = struct{}{}
	}
	body, err := json.Marshal(request{Action: action, Version: Version, Params: params})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", action, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to issue request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return &ProtocolError{Reason: fmt.Sprintf("response is not a JSON object: %v", err)}
	}
	if len(envelope) != 2 {
		return &ProtocolError{Reason: "response has an unexpected number of fields"}
	}
	apiErr, ok := envelope["error"]
	if !ok {
		return &ProtocolError{Reason: "response is missing required error field"}
	}
	res, ok := envelope["result"]
	if !ok {
		return &ProtocolError{Reason: "response is missing required result field"}
	}
	if msg := errorMessage(apiErr); msg != "" {
		return &APIError{Action: action, Message: msg}
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(res, result); err != nil {
		return fmt.Errorf("decode %s result: %w", action, err)
	}
	return nil
}

// errorMessage is empty for a null or otherwise falsy error field.
func errorMessage(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	switch e := v.(type) {
	case nil:
		return ""
	case string:
		return e
	case bool:
		if !e {
			return ""
		}
	case float64:
		if e == 0 {
			return ""
		}
	}
	return string(raw)
}

// Field is one note field of a card.
type Field struct {
	Value string `json:"value"`
	Order int    `json:"order"`
}

// Card is the card the reviewer currently shows.
type Card struct {
	CardID    int64            `json:"cardId"`
	Question  string           `json:"question"`
	Answer    string           `json:"answer"`
	DeckName  string           `json:"deckName"`
	ModelName string           `json:"modelName"`
	Fields    map[string]Field `json:"fields"`
}

// FieldNames lists the card's fields in note order.
func (c *Card) FieldNames() []string {
	names := make([]string, 0, len(c.Fields))
	for name := range c.Fields {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := c.Fields[names[i]], c.Fields[names[j]]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return names[i] < names[j]
	})
	return names
}

// CurrentCard returns the card under review, or nil when the reviewer is not
// showing one.
func (c *Client) CurrentCard(ctx context.Context) (*Card, error) {
	var card *Card
	if err := c.Invoke(ctx, "guiCurrentCard", nil, &card); err != nil {
		return nil, err
	}
	return card, nil
}

// RetrieveMediaFile downloads a file from the collection's media folder.
func (c *Client) RetrieveMediaFile(ctx context.Context, filename string) ([]byte, error) {
	var result any
	params := map[string]string{"filename": filename}
	if err := c.Invoke(ctx, "retrieveMediaFile", params, &result); err != nil {
		return nil, err
	}
	encoded, ok := result.(string)
	if !ok || encoded == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, filename)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filename, err)
	}
	return data, nil
}

// APIVersion asks the server for its protocol version.
func (c *Client) APIVersion(ctx context.Context) (int, error) {
	var v int
	if err := c.Invoke(ctx, "version", nil, &v); err != nil {
		return 0, err
	}
	return v, nil
}
