package posapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xelth-com/eckposgo/internal/config"
	"github.com/xelth-com/eckposgo/internal/models"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient(config.RemoteConfig{
		BaseURL:         srv.URL,
		APIKey:          "key",
		APISecret:       "secret",
		Timeout:         2 * time.Second,
		BreakerFailures: 2,
		BreakerCooldown: time.Minute,
	})
	return c, srv
}

func writeMessage(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"message": v})
}

func TestSubmitInvoiceSendsEnvelope(t *testing.T) {
	var gotBody map[string]json.RawMessage
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/method/"+methodSubmitInvoice, r.URL.Path)
		assert.Equal(t, "token key:secret", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &gotBody))
		writeMessage(w, map[string]string{"name": "SINV-0001"})
	})

	ref, err := c.SubmitInvoice(context.Background(), &models.Invoice{OfflineID: "off-1", Customer: "C"})
	require.NoError(t, err)
	assert.Equal(t, "SINV-0001", ref)
	assert.Contains(t, string(gotBody["invoice"]), `"offline_id":"off-1"`)
	assert.JSONEq(t, `{}`, string(gotBody["data"]))
}

func TestSubmitInvoiceReferenceFallbacks(t *testing.T) {
	tests := []struct {
		name    string
		message any
		want    string
		wantErr error
	}{
		{"name field", map[string]string{"name": "A"}, "A", nil},
		{"nested message", map[string]string{"message": "B"}, "B", nil},
		{"bare string", "C", "C", nil},
		{"empty object", map[string]string{}, "", ErrInvalidResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeMessage(w, tt.message)
			})
			ref, err := c.SubmitInvoice(context.Background(), &models.Invoice{})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ref)
		})
	}
}

func TestServerErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantClass ErrorClass
		wantRef   string
	}{
		{
			name:      "duplicate in exception",
			body:      `{"exception":"frappe.exceptions.ValidationError: DUPLICATE_OFFLINE_INVOICE Sales Invoice: SINV-0042"}`,
			wantClass: ClassDuplicate,
			wantRef:   "SINV-0042",
		},
		{
			name:      "in progress in server messages",
			body:      `{"_server_messages":"[\"{\\\"message\\\": \\\"Invoice is currently being processed\\\"}\"]"}`,
			wantClass: ClassInProgress,
		},
		{
			name:      "other",
			body:      `{"message":"Item not found"}`,
			wantClass: ClassOther,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusExpectationFailed)
				io.WriteString(w, tt.body)
			})
			_, err := c.SubmitInvoice(context.Background(), &models.Invoice{})
			require.Error(t, err)

			var se *ServerError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.wantClass, se.Class)
			assert.Equal(t, tt.wantRef, se.ServerReference())
			assert.False(t, IsNetworkError(err))
		})
	}
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"message":"bad"}`)
	})
	for i := 0; i < 5; i++ {
		_, err := c.GetOffers(context.Background(), "Main")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}
	assert.Equal(t, int32(5), atomic.LoadInt32(&calls))
}

func TestServerFailuresOpenBreaker(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})
	for i := 0; i < 2; i++ {
		_, err := c.GetOffers(context.Background(), "Main")
		require.Error(t, err)
	}
	_, err := c.GetOffers(context.Background(), "Main")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, IsNetworkError(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestUnreachableServer(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	_, err := c.CheckOfflineInvoiceSynced(context.Background(), "off-1")
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.True(t, IsNetworkError(err))
	assert.ErrorIs(t, c.Ping(context.Background()), ErrUnreachable)
}

func TestPing(t *testing.T) {
	status := http.StatusOK
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/method/frappe.ping", r.URL.Path)
		w.WriteHeader(status)
	})
	assert.NoError(t, c.Ping(context.Background()))

	status = http.StatusServiceUnavailable
	assert.ErrorIs(t, c.Ping(context.Background()), ErrUnreachable)
}

func TestCheckOfflineInvoiceSynced(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["offline_id"] == "known" {
			writeMessage(w, map[string]any{"synced": true, "sales_invoice": "SINV-7"})
			return
		}
		writeMessage(w, map[string]any{"synced": false})
	})

	st, err := c.CheckOfflineInvoiceSynced(context.Background(), "known")
	require.NoError(t, err)
	assert.True(t, st.Synced)
	assert.Equal(t, "SINV-7", st.SalesInvoice)

	st, err = c.CheckOfflineInvoiceSynced(context.Background(), "new")
	require.NoError(t, err)
	assert.False(t, st.Synced)
}

func TestGetItemsDecodesFlags(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req ItemsRequest
		json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, 500, req.Limit)
		assert.Equal(t, "Drinks", req.ItemGroup)
		io.WriteString(w, `{"message":[{"item_code":"A","item_group":"Drinks","has_variants":1,"rate":2.5,"custom":"x"}]}`)
	})

	items, err := c.GetItems(context.Background(), ItemsRequest{POSProfile: "Main", ItemGroup: "Drinks", Limit: 500})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, bool(items[0].HasVariants))
	assert.Equal(t, 2.5, items[0].Rate)
	assert.True(t, strings.Contains(string(items[0].Raw), `"custom":"x"`))
}

func TestGetItemsCount(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, 1234)
	})
	n, err := c.GetItemsCount(context.Background(), "Main", "", false)
	require.NoError(t, err)
	assert.Equal(t, 1234, n)
}

func TestGetProfileItemGroups(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/method/"+methodProfileData, r.URL.Path)
		io.WriteString(w, `{"message":{"pos_profile":{"name":"Main","item_groups":[{"item_group":"Drinks"},{"item_group":""},{"item_group":"Snacks"}]},"item_groups_hierarchy":[]}}`)
	})

	groups, err := c.GetProfileItemGroups(context.Background(), "Main")
	require.NoError(t, err)
	assert.Equal(t, []string{"Drinks", "Snacks"}, groups)
}

func TestApplyOffers(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Invoice  OfferEvaluation `json:"invoice_data"`
			Selected []string        `json:"selected_offers"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Sales Invoice", body.Invoice.Doctype)
		assert.Equal(t, []string{"PR-1"}, body.Selected)
		io.WriteString(w, `{"message":{"items":[{"item_code":"A","rate":9,"price_list_rate":10,"discount_percentage":10,"pricing_rules":"[\"PR-1\"]"}],"free_items":[{"item_code":"B","qty":1,"stock_uom":"Nos"}],"applied_pricing_rules":["PR-1"]}}`)
	})

	resp, err := c.ApplyOffers(context.Background(), &OfferEvaluation{Doctype: "Sales Invoice"}, []string{"PR-1"})
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, 10.0, resp.Items[0].DiscountPercentage)
	require.Len(t, resp.FreeItems, 1)
	assert.Equal(t, "Nos", resp.FreeItems[0].EffectiveUOM())
	assert.Equal(t, []string{"PR-1"}, resp.AppliedPricingRules)
}

func TestInvalidEnvelope(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html>maintenance</html>`)
	})
	_, err := c.GetOffers(context.Background(), "Main")
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ClassDuplicate, Classify("This invoice has already been synced"))
	assert.Equal(t, ClassInProgress, Classify("SYNC_IN_PROGRESS"))
	assert.Equal(t, ClassOther, Classify("Stock not available"))
	assert.Equal(t, "duplicate", ClassDuplicate.String())
}
