package orderapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/console/internal/enum"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultTimeout  = 15 * time.Second
	maxResponseBody = 4 << 20
)

var emailPaths = map[string]string{
	enum.EmailOrderConfirmed: "/mail-order-confirmed",
	enum.EmailOrderInTransit: "/mail-order-in-transit",
	enum.EmailOrderPickup:    "/mail-order-pickup",
}

// TokenSource supplies the bearer token attached to every request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken forwards a token the caller already holds.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// Client talks to the back-office order API.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	timeout time.Duration
	log     logrus.FieldLogger
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

func WithTokenSource(ts TokenSource) Option { return func(c *Client) { c.tokens = ts } }

func WithTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

func WithLogger(l logrus.FieldLogger) Option { return func(c *Client) { c.log = l } }

// New creates a Client for baseURL (e.g. "https://shop.example.com/api").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		timeout: defaultTimeout,
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithField("component", "orderapi")
	return c
}

// WithToken returns a copy of the client that authenticates with ts.
func (c *Client) WithToken(ts TokenSource) *Client {
	cp := *c
	cp.tokens = ts
	return &cp
}

// --- Line items ---

// ListOrderItems returns the authoritative line items of an order.
// The endpoint answers either a bare array or a {success, data} envelope.
func (c *Client) ListOrderItems(ctx context.Context, orderID int64) ([]LineItem, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/orders-products/"+strconv.FormatInt(orderID, 10), nil, &raw); err != nil {
		return nil, err
	}

	raw = bytes.TrimSpace(raw)
	items := []LineItem{}
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("%w: decode line items: %w", ErrTransport, err)
		}
		return items, nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: decode line items: %w", ErrTransport, err)
	}
	if err := env.check(http.StatusOK); err != nil {
		return nil, err
	}
	if len(env.Data) > 0 && !bytes.Equal(env.Data, []byte("null")) {
		if err := json.Unmarshal(env.Data, &items); err != nil {
			return nil, fmt.Errorf("%w: decode line items: %w", ErrTransport, err)
		}
	}
	return items, nil
}

func (c *Client) AddOrderItem(ctx context.Context, req AddItemRequest) error {
	return c.mutate(ctx, http.MethodPost, "/add-product", req)
}

func (c *Client) UpdateOrderItem(ctx context.Context, itemID int64, req UpdateItemRequest) error {
	return c.mutate(ctx, http.MethodPut, "/update-product/"+strconv.FormatInt(itemID, 10), req)
}

func (c *Client) RemoveOrderItem(ctx context.Context, itemID int64) error {
	return c.mutate(ctx, http.MethodDelete, "/remove-product/"+strconv.FormatInt(itemID, 10), nil)
}

// --- Order ---

func (c *Client) UpdateOrderStatus(ctx context.Context, orderID int64, req StatusUpdate) error {
	return c.mutate(ctx, http.MethodPut, "/update-order-status/"+strconv.FormatInt(orderID, 10), req)
}

// SendOrderEmail asks the API to mail the customer. kind is one of the
// enum.EmailOrder* constants.
func (c *Client) SendOrderEmail(ctx context.Context, kind string, payload EmailPayload) error {
	path, ok := emailPaths[kind]
	if !ok {
		return fmt.Errorf("unknown email kind %q", kind)
	}
	return c.mutate(ctx, http.MethodPost, path, payload)
}

// CheckNewOrders asks whether an order newer than sinceID exists.
func (c *Client) CheckNewOrders(ctx context.Context, sinceID int64) (*PendingCheck, error) {
	q := url.Values{}
	q.Set("since_id", strconv.FormatInt(sinceID, 10))

	var check PendingCheck
	if err := c.do(ctx, http.MethodGet, "/pending-orders-check?"+q.Encode(), nil, &check); err != nil {
		return nil, err
	}
	if check.NewOrder && check.Order == nil {
		return nil, fmt.Errorf("%w: new_order reported without order payload", ErrTransport)
	}
	return &check, nil
}

// --- Transport ---

type envelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func (e envelope) text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

// check turns an explicit success:false into an APIError.
func (e envelope) check(status int) error {
	if e.Success != nil && !*e.Success {
		return &APIError{StatusCode: status, Message: e.text()}
	}
	return nil
}

func (c *Client) mutate(ctx context.Context, method, path string, body any) error {
	var env envelope
	if err := c.do(ctx, method, path, body, &env); err != nil {
		return err
	}
	return env.check(http.StatusOK)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("token for %s %s: %w", method, path, err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("%w: read %s %s: %w", ErrTransport, method, path, err)
	}

	c.log.WithFields(logrus.Fields{
		"method":     method,
		"path":       path,
		"status":     resp.StatusCode,
		"request_id": requestID,
	}).Debug("order api call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var env envelope
		_ = json.Unmarshal(data, &env)
		return &APIError{StatusCode: resp.StatusCode, Message: env.text()}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode %s %s: %w", ErrTransport, method, path, err)
	}
	return nil
}
