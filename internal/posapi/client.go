// Package posapi talks to the remote order-of-record server over its JSON
// method endpoints (/api/method/<dotted.name>).
package posapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/xelth-com/eckposgo/internal/config"
	"github.com/xelth-com/eckposgo/internal/models"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Client calls the remote server. All methods except Ping go through a
// circuit breaker that opens after consecutive transport or 5xx failures.
type Client struct {
	baseURL    string
	pingPath   string
	authHeader string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[json.RawMessage]
}

// NewClient creates a client from the remote configuration.
func NewClient(cfg config.RemoteConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	failures := cfg.BreakerFailures
	if failures <= 0 {
		failures = 5
	}

	c := &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		pingPath: cfg.PingPath,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	if c.pingPath == "" {
		c.pingPath = "/api/method/frappe.ping"
	}
	if cfg.APIKey != "" {
		c.authHeader = fmt.Sprintf("token %s:%s", cfg.APIKey, cfg.APISecret)
	}

	c.breaker = gobreaker.NewCircuitBreaker[json.RawMessage](gobreaker.Settings{
		Name:        "pos-server",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failures)
		},
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			var se *ServerError
			return errors.As(err, &se) && se.Status < http.StatusInternalServerError
		},
	})
	return c
}

// BaseURL returns the configured server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Ping performs one reachability probe. Any 2xx answer counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.pingPath, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: ping returned %d", ErrUnreachable, resp.StatusCode)
	}
	return nil
}

// call posts params to a method endpoint and returns the unwrapped "message".
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	msg, err := c.breaker.Execute(func() (json.RawMessage, error) {
		return c.do(ctx, method, params)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%s: %w", method, ErrCircuitOpen)
	}
	return msg, err
}

func (c *Client) do(ctx context.Context, method string, params any) (json.RawMessage, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s params: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/method/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.authHeader != "" {
		req.Header.Set("Authorization", c.authHeader)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s: %w: %v", method, ErrUnreachable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", method, ErrUnreachable, err)
	}

	if resp.StatusCode >= 400 {
		return nil, newServerError(resp.StatusCode, errorText(raw))
	}

	var envelope struct {
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%s: %w", method, ErrInvalidResponse)
	}
	return envelope.Message, nil
}

// errorText collects the human readable parts of an error body.
func errorText(raw []byte) string {
	var body struct {
		Exception      string          `json:"exception"`
		ExcType        string          `json:"exc_type"`
		Message        json.RawMessage `json:"message"`
		ServerMessages string          `json:"_server_messages"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return strings.TrimSpace(string(raw))
	}

	var parts []string
	if body.Exception != "" {
		parts = append(parts, body.Exception)
	}
	var msg string
	if json.Unmarshal(body.Message, &msg) == nil && msg != "" {
		parts = append(parts, msg)
	}
	if body.ServerMessages != "" {
		var encoded []string
		if json.Unmarshal([]byte(body.ServerMessages), &encoded) == nil {
			for _, e := range encoded {
				var m struct {
					Message string `json:"message"`
				}
				if json.Unmarshal([]byte(e), &m) == nil && m.Message != "" {
					parts = append(parts, m.Message)
				}
			}
		}
	}
	if len(parts) == 0 {
		if body.ExcType != "" {
			return body.ExcType
		}
		return strings.TrimSpace(string(raw))
	}
	return strings.Join(parts, " | ")
}

// CheckOfflineInvoiceSynced asks whether offlineID already produced a server invoice.
func (c *Client) CheckOfflineInvoiceSynced(ctx context.Context, offlineID string) (*SyncedStatus, error) {
	msg, err := c.call(ctx, methodCheckSynced, map[string]string{"offline_id": offlineID})
	if err != nil {
		return nil, err
	}
	var status SyncedStatus
	if len(msg) == 0 || string(msg) == "null" {
		return &status, nil
	}
	if err := json.Unmarshal(msg, &status); err != nil {
		return nil, fmt.Errorf("%s: %w", methodCheckSynced, ErrInvalidResponse)
	}
	return &status, nil
}

// SubmitInvoice submits a normalized invoice and returns the server reference.
func (c *Client) SubmitInvoice(ctx context.Context, invoice *models.Invoice) (string, error) {
	msg, err := c.call(ctx, methodSubmitInvoice, map[string]any{
		"invoice": invoice,
		"data":    map[string]any{},
	})
	if err != nil {
		return "", err
	}
	ref := submitReference(msg)
	if ref == "" {
		return "", ErrInvalidResponse
	}
	return ref, nil
}

// submitReference reads "name", falling back to a nested "message" or a bare string.
func submitReference(msg json.RawMessage) string {
	var s string
	if json.Unmarshal(msg, &s) == nil {
		return s
	}
	var obj struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	}
	if json.Unmarshal(msg, &obj) != nil {
		return ""
	}
	if obj.Name != "" {
		return obj.Name
	}
	return obj.Message
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func decodeItems(method string, msg json.RawMessage) ([]models.Item, error) {
	if len(msg) == 0 || string(msg) == "null" {
		return []models.Item{}, nil
	}
	var items []models.Item
	if err := json.Unmarshal(msg, &items); err != nil {
		return nil, fmt.Errorf("%s: %w", method, ErrInvalidResponse)
	}
	return items, nil
}

// GetItems fetches one page of items, optionally filtered by group and search term.
func (c *Client) GetItems(ctx context.Context, req ItemsRequest) ([]models.Item, error) {
	msg, err := c.call(ctx, methodGetItems, req)
	if err != nil {
		return nil, err
	}
	return decodeItems(methodGetItems, msg)
}

// GetItemsBulk fetches one page of items across several groups.
func (c *Client) GetItemsBulk(ctx context.Context, req BulkItemsRequest) ([]models.Item, error) {
	msg, err := c.call(ctx, methodGetItemsBulk, req)
	if err != nil {
		return nil, err
	}
	return decodeItems(methodGetItemsBulk, msg)
}

// GetItemsCount returns the number of sellable items for the profile.
func (c *Client) GetItemsCount(ctx context.Context, profile, group string, includeVariants bool) (int, error) {
	params := map[string]any{
		"pos_profile":      profile,
		"include_variants": boolInt(includeVariants),
	}
	if group != "" {
		params["item_group"] = group
	}
	msg, err := c.call(ctx, methodGetItemsCount, params)
	if err != nil {
		return 0, err
	}
	var n float64
	if err := json.Unmarshal(msg, &n); err != nil {
		return 0, fmt.Errorf("%s: %w", methodGetItemsCount, ErrInvalidResponse)
	}
	return int(n), nil
}

// GetOffers returns the offers published for a profile.
func (c *Client) GetOffers(ctx context.Context, profile string) ([]models.Offer, error) {
	msg, err := c.call(ctx, methodGetOffers, map[string]string{"pos_profile": profile})
	if err != nil {
		return nil, err
	}
	offers := []models.Offer{}
	if len(msg) == 0 || string(msg) == "null" {
		return offers, nil
	}
	if err := json.Unmarshal(msg, &offers); err != nil {
		return nil, fmt.Errorf("%s: %w", methodGetOffers, ErrInvalidResponse)
	}
	return offers, nil
}

// ApplyOffers asks the pricing engine to evaluate the cart with the selected offers.
func (c *Client) ApplyOffers(ctx context.Context, invoice *OfferEvaluation, selected []string) (*ApplyOffersResponse, error) {
	if selected == nil {
		selected = []string{}
	}
	msg, err := c.call(ctx, methodApplyOffers, map[string]any{
		"invoice_data":    invoice,
		"selected_offers": selected,
	})
	if err != nil {
		return nil, err
	}
	resp := &ApplyOffersResponse{}
	if len(msg) == 0 || string(msg) == "null" {
		return resp, nil
	}
	if err := json.Unmarshal(msg, resp); err != nil {
		return nil, fmt.Errorf("%s: %w", methodApplyOffers, ErrInvalidResponse)
	}
	return resp, nil
}

// GetProfileItemGroups returns the item group filter of a profile. An empty
// list means the profile sells every group.
func (c *Client) GetProfileItemGroups(ctx context.Context, profile string) ([]string, error) {
	msg, err := c.call(ctx, methodProfileData, map[string]string{"pos_profile": profile})
	if err != nil {
		return nil, err
	}
	var data struct {
		Profile struct {
			ItemGroups []struct {
				ItemGroup string `json:"item_group"`
			} `json:"item_groups"`
		} `json:"pos_profile"`
	}
	if err := json.Unmarshal(msg, &data); err != nil {
		return nil, fmt.Errorf("%s: %w", methodProfileData, ErrInvalidResponse)
	}
	groups := make([]string, 0, len(data.Profile.ItemGroups))
	for _, g := range data.Profile.ItemGroups {
		if g.ItemGroup != "" {
			groups = append(groups, g.ItemGroup)
		}
	}
	return groups, nil
}

// GetPaymentMethods returns the raw payment mode list of a profile.
func (c *Client) GetPaymentMethods(ctx context.Context, profile string) (json.RawMessage, error) {
	return c.call(ctx, methodPaymentMethods, map[string]string{"pos_profile": profile})
}

func (c *Client) historyCall(ctx context.Context, method, profile string, limit int) ([]HistoryInvoice, error) {
	msg, err := c.call(ctx, method, map[string]any{"pos_profile": profile, "limit": limit})
	if err != nil {
		return nil, err
	}
	rows := []HistoryInvoice{}
	if len(msg) == 0 || string(msg) == "null" {
		return rows, nil
	}
	if err := json.Unmarshal(msg, &rows); err != nil {
		return nil, fmt.Errorf("%s: %w", method, ErrInvalidResponse)
	}
	return rows, nil
}

// GetInvoices returns recent invoices of a profile.
func (c *Client) GetInvoices(ctx context.Context, profile string, limit int) ([]HistoryInvoice, error) {
	return c.historyCall(ctx, methodGetInvoices, profile, limit)
}

// GetUnpaidInvoices returns the outstanding credit invoices of a profile.
func (c *Client) GetUnpaidInvoices(ctx context.Context, profile string, limit int) ([]HistoryInvoice, error) {
	return c.historyCall(ctx, methodCreditInvoices, profile, limit)
}
