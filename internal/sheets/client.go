// Package sheets is a small Google Sheets v4 REST client: it reads a tab as
// header-keyed records and appends rows to another.
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultBaseURL = "https://sheets.googleapis.com"

// Tokens supplies bearer tokens
type Tokens interface {
	Token(ctx context.Context) (string, error)
}

// APIError is a non-2xx answer of the Sheets API
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sheets api status %d: %s", e.Status, e.Message)
}

// Client accesses one spreadsheet
type Client struct {
	tokens        Tokens
	spreadsheetID string
	baseURL       string
	httpClient    *http.Client
	logger        *zap.Logger
}

// NewClient creates a client for spreadsheetID
func NewClient(tokens Tokens, spreadsheetID string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		tokens:        tokens,
		spreadsheetID: spreadsheetID,
		baseURL:       defaultBaseURL,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		logger:        logger,
	}
}

// NewServiceAccountClient authenticates with the key file at credentialsFile
func NewServiceAccountClient(credentialsFile, spreadsheetID string, logger *zap.Logger) (*Client, error) {
	sa, err := LoadServiceAccount(credentialsFile)
	if err != nil {
		return nil, err
	}
	ts, err := NewTokenSource(sa, Scope)
	if err != nil {
		return nil, err
	}
	return NewClient(ts, spreadsheetID, logger), nil
}

type valueRange struct {
	Range          string  `json:"range,omitempty"`
	MajorDimension string  `json:"majorDimension,omitempty"`
	Values         [][]any `json:"values"`
}

// ReadRecords reads every row of tab as a record keyed by the header row.
// Short rows are padded with empty strings; an empty tab yields no records.
func (c *Client) ReadRecords(ctx context.Context, tab string) ([]map[string]string, error) {
	var vr valueRange
	path := fmt.Sprintf("/v4/spreadsheets/%s/values/%s", url.PathEscape(c.spreadsheetID), url.PathEscape(quoteTab(tab)))
	if err := c.do(ctx, http.MethodGet, path, nil, &vr); err != nil {
		return nil, fmt.Errorf("reading tab %s: %w", tab, err)
	}

	if len(vr.Values) == 0 {
		return nil, nil
	}

	header := make([]string, len(vr.Values[0]))
	for i, h := range vr.Values[0] {
		header[i] = strings.TrimSpace(cellString(h))
	}

	records := make([]map[string]string, 0, len(vr.Values)-1)
	for _, row := range vr.Values[1:] {
		rec := make(map[string]string, len(header))
		for i, h := range header {
			if h == "" {
				continue
			}
			if i < len(row) {
				rec[h] = cellString(row[i])
			} else {
				rec[h] = ""
			}
		}
		records = append(records, rec)
	}

	c.logger.Debug("sheet read", zap.String("tab", tab), zap.Int("records", len(records)))
	return records, nil
}

// AppendRows appends rows to tab without a header, creating the tab when
// it does not exist. Values are parsed as if typed by a user.
func (c *Client) AppendRows(ctx context.Context, tab string, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}

	width := 0
	for _, r := range rows {
		width = max(width, len(r))
	}
	if err := c.EnsureTab(ctx, tab, width+5); err != nil {
		return err
	}

	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = make([]any, len(r))
		for j, v := range r {
			values[i][j] = v
		}
	}

	path := fmt.Sprintf("/v4/spreadsheets/%s/values/%s:append?valueInputOption=USER_ENTERED&insertDataOption=INSERT_ROWS",
		url.PathEscape(c.spreadsheetID), url.PathEscape(quoteTab(tab)))
	if err := c.do(ctx, http.MethodPost, path, valueRange{Values: values}, nil); err != nil {
		return fmt.Errorf("appending to tab %s: %w", tab, err)
	}

	c.logger.Info("rows appended", zap.String("tab", tab), zap.Int("rows", len(rows)))
	return nil
}

// EnsureTab adds tab with 100 rows and cols columns unless it exists
func (c *Client) EnsureTab(ctx context.Context, tab string, cols int) error {
	titles, err := c.Tabs(ctx)
	if err != nil {
		return err
	}
	for _, t := range titles {
		if t == tab {
			return nil
		}
	}

	c.logger.Info("creating tab", zap.String("tab", tab), zap.Int("cols", cols))

	req := map[string]any{
		"requests": []any{
			map[string]any{
				"addSheet": map[string]any{
					"properties": map[string]any{
						"title": tab,
						"gridProperties": map[string]any{
							"rowCount":    100,
							"columnCount": cols,
						},
					},
				},
			},
		},
	}
	path := fmt.Sprintf("/v4/spreadsheets/%s:batchUpdate", url.PathEscape(c.spreadsheetID))
	if err := c.do(ctx, http.MethodPost, path, req, nil); err != nil {
		return fmt.Errorf("creating tab %s: %w", tab, err)
	}
	return nil
}

// Tabs lists the tab titles of the spreadsheet
func (c *Client) Tabs(ctx context.Context) ([]string, error) {
	var meta struct {
		Sheets []struct {
			Properties struct {
				Title string `json:"title"`
			} `json:"properties"`
		} `json:"sheets"`
	}
	path := fmt.Sprintf("/v4/spreadsheets/%s?fields=sheets.properties.title", url.PathEscape(c.spreadsheetID))
	if err := c.do(ctx, http.MethodGet, path, nil, &meta); err != nil {
		return nil, fmt.Errorf("listing tabs: %w", err)
	}

	titles := make([]string, len(meta.Sheets))
	for i, s := range meta.Sheets {
		titles[i] = s.Properties.Title
	}
	return titles, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// IsNotFound reports whether err is a 404 from the Sheets API
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

func errorMessage(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return strings.TrimSpace(string(body))
}

// quoteTab makes an A1 range out of a bare tab name
func quoteTab(tab string) string {
	return "'" + strings.ReplaceAll(tab, "'", "''") + "'"
}

func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	default:
		return fmt.Sprint(x)
	}
}
