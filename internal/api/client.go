// Package api implements the HTTP/JSON client for the external
// transaction and analytics service. The session core only depends on
// the session.Service port; this is its production implementation.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"receiptbox/internal/cache"
	"receiptbox/internal/core"
	"receiptbox/internal/log"
	"receiptbox/internal/session"
)

const (
	transactionsPath = "/api/transactions/"
	batchPath        = "/api/transactions/batch"
	analyticsPrefix  = "/api/transactions/analytics/"
	uploadPath       = "/api/upload/"
	formatsPath      = "/api/upload/formats"
	loginPath        = "/api/auth/login"
	signupPath       = "/api/auth/signup"
)

// Config configures a Client. Token is consulted per request; an empty
// string means no Authorization header (signed out).
type Config struct {
	BaseURL   string
	Token     func() string
	Timeout   time.Duration
	CacheSize int
	CacheTTL  time.Duration
	Logger    *log.Logger
}

type Client struct {
	base      string
	httpc     *http.Client
	token     func() string
	analytics *cache.LRU[json.RawMessage]
	logger    *log.Logger
}

var _ session.Service = (*Client)(nil)

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 32
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	if cfg.Token == nil {
		cfg.Token = func() string { return "" }
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Config{Component: log.ComponentAPI})
	}
	return &Client{
		base:      strings.TrimRight(cfg.BaseURL, "/"),
		httpc:     &http.Client{Timeout: cfg.Timeout},
		token:     cfg.Token,
		analytics: cache.New[json.RawMessage](cfg.CacheSize, cfg.CacheTTL),
		logger:    cfg.Logger,
	}
}

// List returns the persisted transactions.
func (c *Client) List(ctx context.Context) ([]core.Transaction, error) {
	var out []core.Transaction
	if err := c.do(ctx, http.MethodGet, transactionsPath, nil, nil, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateOne persists a single transaction and returns it with its
// assigned id.
func (c *Client) CreateOne(ctx context.Context, txn core.Transaction) (core.Transaction, error) {
	body, err := json.Marshal(txn)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("encode transaction: %w", err)
	}
	var out core.Transaction
	if err := c.do(ctx, http.MethodPost, transactionsPath, nil, bytes.NewReader(body), "application/json", &out); err != nil {
		return core.Transaction{}, err
	}
	return out, nil
}

// BatchSave persists the given transactions in one call. The backend
// treats the batch as a unit; the caller must treat any error as "none
// were saved".
func (c *Client) BatchSave(ctx context.Context, txns []core.Transaction) ([]core.Transaction, error) {
	body, err := json.Marshal(struct {
		Items []core.Transaction `json:"items"`
	}{Items: txns})
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	var out []core.Transaction
	if err := c.do(ctx, http.MethodPost, batchPath, nil, bytes.NewReader(body), "application/json", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteOne removes the persisted transaction with the given id.
func (c *Client) DeleteOne(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, transactionsPath+strconv.FormatInt(id, 10), nil, nil, "", nil)
}

// DeleteAll removes every persisted transaction.
func (c *Client) DeleteAll(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, transactionsPath, nil, nil, "", nil)
}

// Upload submits one receipt file for extraction and returns the
// candidate transactions parsed out of it.
func (c *Client) Upload(ctx context.Context, name string, data io.Reader) ([]core.Transaction, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("build upload form: %w", err)
	}
	if _, err := io.Copy(part, data); err != nil {
		return nil, fmt.Errorf("read upload file: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("finish upload form: %w", err)
	}

	var out struct {
		Transactions []core.Transaction `json:"transactions"`
	}
	if err := c.do(ctx, http.MethodPost, uploadPath, nil, &buf, form.FormDataContentType(), &out); err != nil {
		return nil, err
	}
	return out.Transactions, nil
}

// SupportedFormats probes which file types the extraction backend
// accepts.
func (c *Client) SupportedFormats(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, formatsPath, nil, nil, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) WeeklyAnalytics(ctx context.Context, weeks int) (json.RawMessage, error) {
	return c.cachedGet(ctx, analyticsPrefix+"weekly", url.Values{"weeks": {strconv.Itoa(weeks)}})
}

func (c *Client) MonthlyAnalytics(ctx context.Context, months int) (json.RawMessage, error) {
	return c.cachedGet(ctx, analyticsPrefix+"monthly", url.Values{"months": {strconv.Itoa(months)}})
}

func (c *Client) CategoryAnalytics(ctx context.Context, periodDays int) (json.RawMessage, error) {
	return c.cachedGet(ctx, analyticsPrefix+"categories", url.Values{"period_days": {strconv.Itoa(periodDays)}})
}

// CategoriesByMonth omits the year parameter when year is zero; the
// backend then assumes the current year.
func (c *Client) CategoriesByMonth(ctx context.Context, month, year int) (json.RawMessage, error) {
	query := url.Values{"mm": {strconv.Itoa(month)}}
	if year > 0 {
		query.Set("year", strconv.Itoa(year))
	}
	return c.cachedGet(ctx, analyticsPrefix+"categories-by-month", query)
}

func (c *Client) SpendingSummary(ctx context.Context, periodDays int) (json.RawMessage, error) {
	return c.cachedGet(ctx, analyticsPrefix+"summary", url.Values{"period_days": {strconv.Itoa(periodDays)}})
}

func (c *Client) CalendarData(ctx context.Context, year, month int) (json.RawMessage, error) {
	return c.cachedGet(ctx, analyticsPrefix+"calendar", url.Values{
		"year":  {strconv.Itoa(year)},
		"month": {strconv.Itoa(month)},
	})
}

func (c *Client) ByMonth(ctx context.Context, month, year int) (json.RawMessage, error) {
	query := url.Values{"mm": {strconv.Itoa(month)}}
	if year > 0 {
		query.Set("year", strconv.Itoa(year))
	}
	return c.cachedGet(ctx, analyticsPrefix+"by-month", query)
}

// Login exchanges credentials for a bearer token. The backend expects
// an OAuth2 password form, not JSON.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	form := url.Values{
		"username": {email},
		"password": {password},
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	err := c.do(ctx, http.MethodPost, loginPath, nil,
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", &out)
	if err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("login: response carried no access token")
	}
	return out.AccessToken, nil
}

// Signup registers a new account and returns its bearer token.
func (c *Client) Signup(ctx context.Context, email, password string) (string, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return "", fmt.Errorf("encode signup: %w", err)
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.do(ctx, http.MethodPost, signupPath, nil, bytes.NewReader(body), "application/json", &out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("signup: response carried no access token")
	}
	return out.AccessToken, nil
}

// cachedGet serves analytics reads through the LRU so quick view
// switches do not hammer the backend.
func (c *Client) cachedGet(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	key := path + "?" + query.Encode()
	if payload, ok := c.analytics.Get(key); ok {
		return payload, nil
	}
	var payload json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, query, nil, "", &payload); err != nil {
		return nil, err
	}
	c.analytics.Put(key, payload)
	return payload, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.DebugContext(ctx, "Service call",
		log.FieldEndpoint, method+" "+path,
		log.FieldStatus, resp.StatusCode,
		log.FieldDuration, time.Since(start).Milliseconds())

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}
