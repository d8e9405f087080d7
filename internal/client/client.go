// Package client talks to an equipscan server over HTTP. It satisfies
// scanner.Inventory so a kiosk can run a scanner session against a remote
// inventory.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/harrylevesque/equipscan/internal/models"
)

// DefaultServer is used when neither flag nor EQUIPSCAN_SERVER is set.
const DefaultServer = "http://localhost:8080"

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultServer
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// ===== Inventory =====

func (c *Client) Lookup(ctx context.Context, q models.LookupQuery) (*models.LookupResult, error) {
	v := url.Values{}
	v.Set("barcode", q.Code)
	if len(q.Fields) > 0 {
		v.Set("fields", strings.Join(q.Fields, ","))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	var res models.LookupResult
	if err := c.do(ctx, http.MethodGet, "/api/equipment/lookup?"+v.Encode(), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Borrow(ctx context.Context, id string) (*models.Action, error) {
	return c.action(ctx, id, "borrow")
}

func (c *Client) Return(ctx context.Context, id string) (*models.Action, error) {
	return c.action(ctx, id, "return")
}

func (c *Client) action(ctx context.Context, id, name string) (*models.Action, error) {
	var a models.Action
	if err := c.do(ctx, http.MethodPost, "/api/equipment/"+url.PathEscape(id)+"/"+name, nil, &a); err != nil {
		return nil, err
	}
	if a.Type == "" {
		return nil, nil
	}
	return &a, nil
}

// Transition runs a lifecycle route such as "retire" or "maintenance/start"
// and returns the updated item.
func (c *Client) Transition(ctx context.Context, id, route string) (*models.Equipment, error) {
	return c.transition(ctx, id, route, nil)
}

func (c *Client) Assign(ctx context.Context, id string, ht models.HolderType, holder string) (*models.Equipment, error) {
	body := map[string]string{"holder_type": string(ht), "holder": holder}
	return c.transition(ctx, id, "assign", body)
}

func (c *Client) transition(ctx context.Context, id, route string, body any) (*models.Equipment, error) {
	var e models.Equipment
	if err := c.do(ctx, http.MethodPost, "/api/equipment/"+url.PathEscape(id)+"/"+route, body, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// ===== Records =====

func (c *Client) List(ctx context.Context) ([]models.Equipment, error) {
	var items []models.Equipment
	err := c.do(ctx, http.MethodGet, "/api/equipment", nil, &items)
	return items, err
}

func (c *Client) Create(ctx context.Context, e *models.Equipment) (*models.Equipment, error) {
	var out models.Equipment
	if err := c.do(ctx, http.MethodPost, "/api/equipment", e, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Loans(ctx context.Context, id string) ([]models.Loan, error) {
	var loans []models.Loan
	err := c.do(ctx, http.MethodGet, "/api/equipment/"+url.PathEscape(id)+"/loans", nil, &loans)
	return loans, err
}

// Label fetches the PNG label of an item. format is "qr" or "code128".
func (c *Client) Label(ctx context.Context, id, format string, size int) ([]byte, error) {
	v := url.Values{}
	if format != "" {
		v.Set("format", format)
	}
	if size > 0 {
		v.Set("size", strconv.Itoa(size))
	}
	path := "/api/equipment/" + url.PathEscape(id) + "/label.png"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	resp, err := c.send(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// ===== Helpers =====

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// send performs the request and turns non-2xx answers into *APIError.
func (c *Client) send(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	var e struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(b))
	if json.Unmarshal(b, &e) == nil && e.Error != "" {
		msg = e.Error
	}
	return nil, &APIError{Status: resp.StatusCode, Message: msg}
}
