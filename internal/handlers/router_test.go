package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xelth-com/eckposgo/internal/catalog"
	"github.com/xelth-com/eckposgo/internal/config"
	"github.com/xelth-com/eckposgo/internal/connectivity"
	"github.com/xelth-com/eckposgo/internal/models"
	"github.com/xelth-com/eckposgo/internal/offers"
	"github.com/xelth-com/eckposgo/internal/posapi"
	"github.com/xelth-com/eckposgo/internal/store"
	possync "github.com/xelth-com/eckposgo/internal/sync"
	"github.com/xelth-com/eckposgo/internal/utils"
)

type fakeConn struct{ offline atomic.Bool }

func (c *fakeConn) IsOffline() bool { return c.offline.Load() }

func (c *fakeConn) State() connectivity.State {
	if c.IsOffline() {
		return connectivity.State{Offline: true, Quality: connectivity.QualityOffline}
	}
	return connectivity.State{Quality: connectivity.QualityGood}
}

func (c *fakeConn) History() []connectivity.Transition { return nil }

type fakeInvoices struct{}

func (fakeInvoices) CheckOfflineInvoiceSynced(ctx context.Context, offlineID string) (*posapi.SyncedStatus, error) {
	return &posapi.SyncedStatus{}, nil
}

func (fakeInvoices) SubmitInvoice(ctx context.Context, inv *models.Invoice) (string, error) {
	return "SINV-0001", nil
}

type noItems struct{}

func (noItems) GetItems(ctx context.Context, req posapi.ItemsRequest) ([]models.Item, error) {
	return nil, errors.New("unreachable")
}

func (noItems) GetItemsBulk(ctx context.Context, req posapi.BulkItemsRequest) ([]models.Item, error) {
	return nil, errors.New("unreachable")
}

func (noItems) GetItemsCount(ctx context.Context, profile, group string, includeVariants bool) (int, error) {
	return 0, errors.New("unreachable")
}

type offerList []models.Offer

func (l offerList) GetOffers(ctx context.Context, profile string) ([]models.Offer, error) {
	return l, nil
}

// percentPricing grants a fixed percentage on the listed items per offer code.
type percentPricing map[string]struct {
	pct   float64
	items []string
}

func (p percentPricing) ApplyOffers(ctx context.Context, inv *posapi.OfferEvaluation, selected []string) (*posapi.ApplyOffersResponse, error) {
	resp := &posapi.ApplyOffersResponse{Items: make([]posapi.PricedItem, len(inv.Items))}
	applied := make(map[string]bool)
	for i, it := range inv.Items {
		pi := posapi.PricedItem{ItemCode: it.ItemCode, Rate: it.Rate, PriceListRate: it.PriceListRate}
		var names []string
		for _, code := range selected {
			for _, c := range p[code].items {
				if c == it.ItemCode {
					pi.DiscountPercentage += p[code].pct
					names = append(names, code)
					applied[code] = true
				}
			}
		}
		if len(names) > 0 {
			pi.PricingRules, _ = json.Marshal(names)
		}
		resp.Items[i] = pi
	}
	for _, code := range selected {
		if applied[code] {
			resp.AppliedPricingRules = append(resp.AppliedPricingRules, code)
		}
	}
	return resp, nil
}

var testOffers = offerList{{
	Name: "SNACK5", Offer: models.OfferItemPrice, ApplyOn: models.ApplyOnItemCode,
	EligibleItems: []string{"CHIPS"}, CouponBased: true,
	DiscountType: models.DiscountPercentage, DiscountPercentage: 5,
}}

type testEnv struct {
	router *Router
	store  *store.MemoryStore
	conn   *fakeConn
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	if cfg == nil {
		cfg = config.Defaults()
	}
	cfg.JWTSecret = "test-secret"
	cfg.Profile = "Main"
	cfg.Offers = config.OffersConfig{
		MaxRetries:     1,
		RetryBaseDelay: time.Millisecond,
		DebounceSmall:  time.Hour,
		DebounceMedium: time.Hour,
		DebounceLarge:  time.Hour,
	}

	st := store.NewMemoryStore()
	require.NoError(t, st.UpsertItems(context.Background(), []models.CachedCatalogItem{
		{ItemCode: "COLA", ItemName: "Cola", ItemGroup: "Drinks", StockUOM: "Nos", Rate: 10, PriceListRate: 10, StockQty: 5},
		{ItemCode: "CHIPS", ItemName: "Chips", ItemGroup: "Snacks", StockUOM: "Nos", Rate: 4, PriceListRate: 4, StockQty: 5},
	}))

	conn := &fakeConn{}
	items := catalog.NewSynchronizer(noItems{}, st, conn, cfg.Catalog)
	t.Cleanup(items.Stop)

	pricing := percentPricing{"SNACK5": {pct: 5, items: []string{"CHIPS"}}}

	r := NewRouter(Deps{
		Config:  cfg,
		Store:   st,
		Sync:    possync.NewEngine(st, fakeInvoices{}, nil, cfg.Sync),
		Catalog: items,
		Offers:  offers.NewCatalog(testOffers, st, conn),
		Pricing: pricing,
		Conn:    conn,
	})
	t.Cleanup(r.Close)
	return &testEnv{router: r, store: st, conn: conn}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) openShift(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/shift/open", "", OpenShiftRequest{Operator: "anna"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]interface{}](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["offline"])
	assert.EqualValues(t, 0, body["pending_invoices"])
}

func TestProtectedRoutesRequireShift(t *testing.T) {
	env := newTestEnv(t, nil)

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/cart", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/sync/pending", "garbage", nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/connectivity", "", nil).Code)
}

func TestShiftOpenAndClose(t *testing.T) {
	hash, err := utils.HashPIN("1234")
	require.NoError(t, err)
	cfg := config.Defaults()
	cfg.OperatorPINHash = hash
	env := newTestEnv(t, cfg)

	rec := env.do(t, http.MethodPost, "/api/shift/open", "", OpenShiftRequest{Operator: "anna", PIN: "0000"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/shift/open", "", OpenShiftRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/shift/open", "", OpenShiftRequest{Operator: "anna", PIN: "1234"})
	require.Equal(t, http.StatusCreated, rec.Code)
	opened := decode[map[string]interface{}](t, rec)
	assert.Equal(t, "Main", opened["pos_profile"])
	token := opened["token"].(string)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/cart", token, nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/shift/close", token, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/cart", token, nil).Code)
}

func TestProductionRefusesShiftWithoutPIN(t *testing.T) {
	cfg := config.Defaults()
	cfg.NodeEnv = "production"
	env := newTestEnv(t, cfg)

	rec := env.do(t, http.MethodPost, "/api/shift/open", "", OpenShiftRequest{Operator: "anna"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCartItemsAndOffers(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.openShift(t)

	rec := env.do(t, http.MethodPost, "/api/cart/offers/SNACK5", token, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/cart/items", token, AddItemRequest{ItemCode: "MISSING"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/cart/items", token, AddItemRequest{ItemCode: "CHIPS", Qty: 2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	view := decode[CartView](t, rec)
	require.Len(t, view.Lines, 1)
	assert.InDelta(t, 8, view.Subtotal, 0.001)

	rec = env.do(t, http.MethodGet, "/api/cart/offers", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decode[[]OfferView](t, rec)
	require.Len(t, listed, 1)
	assert.True(t, listed[0].Eligible)
	assert.False(t, listed[0].Applied)

	rec = env.do(t, http.MethodPost, "/api/cart/offers/NOPE", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/cart/offers/SNACK5", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	applied := decode[struct {
		Applied bool     `json:"applied"`
		Cart    CartView `json:"cart"`
	}](t, rec)
	assert.True(t, applied.Applied)
	require.Len(t, applied.Cart.AppliedOffers, 1)
	assert.Equal(t, "SNACK5", applied.Cart.AppliedOffers[0].Code)
	assert.InDelta(t, 5, applied.Cart.Lines[0].DiscountPercentage, 0.001)

	rec = env.do(t, http.MethodDelete, "/api/cart/offers/SNACK5", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	removed := decode[struct {
		Removed bool     `json:"removed"`
		Cart    CartView `json:"cart"`
	}](t, rec)
	assert.True(t, removed.Removed)
	assert.Empty(t, removed.Cart.AppliedOffers)
	assert.Zero(t, removed.Cart.Lines[0].DiscountPercentage)

	qty := 3.0
	rec = env.do(t, http.MethodPatch, "/api/cart/items/CHIPS", token, UpdateItemRequest{UOM: "Nos", Qty: &qty})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.InDelta(t, 3, decode[CartView](t, rec).TotalQty, 0.001)

	rec = env.do(t, http.MethodDelete, "/api/cart/items/CHIPS?uom=Nos", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[CartView](t, rec).Lines)

	rec = env.do(t, http.MethodDelete, "/api/cart/items/CHIPS?uom=Nos", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCartsAreIsolatedPerShift(t *testing.T) {
	env := newTestEnv(t, nil)
	first := env.openShift(t)
	second := env.openShift(t)

	rec := env.do(t, http.MethodPost, "/api/cart/items", first, AddItemRequest{ItemCode: "COLA"})
	require.Equal(t, http.StatusCreated, rec.Code)

	assert.Len(t, decode[CartView](t, env.do(t, http.MethodGet, "/api/cart", first, nil)).Lines, 1)
	assert.Empty(t, decode[CartView](t, env.do(t, http.MethodGet, "/api/cart", second, nil)).Lines)
}

func TestSaveInvoiceIsIdempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.openShift(t)

	inv := map[string]interface{}{
		"customer": "Walk-in Customer",
		"items":    []map[string]interface{}{{"item_code": "COLA", "qty": 2, "rate": 10}},
	}
	rec := env.do(t, http.MethodPost, "/api/invoices", token, inv, "Idempotency-Key", "sale-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	saved := decode[possync.SavedInvoice](t, rec)
	assert.NotEmpty(t, saved.OfflineID)

	rec = env.do(t, http.MethodPost, "/api/invoices", token, inv, "Idempotency-Key", "sale-1")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/invoices", token, map[string]interface{}{"customer": "x"}, "Idempotency-Key", "sale-2")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	item, err := env.store.GetItem(context.Background(), "COLA")
	require.NoError(t, err)
	assert.InDelta(t, 3, item.StockQty, 0.001)

	rec = env.do(t, http.MethodGet, "/api/sync/pending", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decode[struct {
		Count    int                    `json:"count"`
		Invoices []models.QueuedInvoice `json:"invoices"`
	}](t, rec)
	require.Equal(t, 1, pending.Count)
	assert.Equal(t, "Main", pending.Invoices[0].ProfileName)

	path := "/api/sync/pending/" + jsonNumber(pending.Invoices[0].ID)
	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, path, token, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, path, token, nil).Code)
}

func TestCatalogServesCacheWhileOffline(t *testing.T) {
	env := newTestEnv(t, nil)
	env.conn.offline.Store(true)
	token := env.openShift(t)

	rec := env.do(t, http.MethodPost, "/api/catalog/load", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 2, decode[map[string]interface{}](t, rec)["count"])

	rec = env.do(t, http.MethodGet, "/api/catalog/items?search=chi", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	found := decode[struct {
		Items []models.CachedCatalogItem `json:"items"`
		Total int64                      `json:"total"`
	}](t, rec)
	require.Len(t, found.Items, 1)
	assert.Equal(t, "CHIPS", found.Items[0].ItemCode)
	assert.EqualValues(t, 2, found.Total)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/catalog/items?limit=-1", token, nil).Code)
}

func jsonNumber(id uint) string {
	b, _ := json.Marshal(id)
	return string(b)
}

func TestReconnectConfirmsOffersAppliedOffline(t *testing.T) {
	env := newTestEnv(t, nil)
	env.router.Config.Offers.DebounceSmall = time.Millisecond
	env.router.Config.Offers.DebounceMedium = time.Millisecond
	env.router.Config.Offers.DebounceLarge = time.Millisecond
	require.NoError(t, env.store.SaveOffers(context.Background(), "Main", testOffers))
	env.conn.offline.Store(true)
	token := env.openShift(t)

	rec := env.do(t, http.MethodPost, "/api/cart/items", token, AddItemRequest{ItemCode: "CHIPS", Qty: 2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = env.do(t, http.MethodPost, "/api/cart/offers/SNACK5", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	cartSource := func() string {
		view := decode[CartView](t, env.do(t, http.MethodGet, "/api/cart", token, nil))
		if len(view.AppliedOffers) != 1 {
			return ""
		}
		return view.AppliedOffers[0].Source
	}
	require.Equal(t, models.SourceOffline, cartSource())
	assert.True(t, env.router.Offers.IsStale("Main"))

	env.conn.offline.Store(false)
	env.router.Reconnected()

	require.Eventually(t, func() bool { return cartSource() == models.SourceAuto }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, env.router.Offers.IsStale("Main"))
}

func TestShiftOpenRefetchesOffers(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.openShift(t)

	rec := env.do(t, http.MethodGet, "/api/cart/offers", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.router.Offers.HasFetched("Main"))

	env.openShift(t)
	assert.False(t, env.router.Offers.HasFetched("Main"))
}

func TestProfileUpdateDropsRemovedGroups(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	blob, _ := json.Marshal([]string{"Drinks", "Snacks"})
	require.NoError(t, env.store.SetSetting(ctx, models.ProfileGroupsKey("Main"), blob))
	token := env.openShift(t)

	rec := env.do(t, http.MethodPut, "/api/catalog/profile", token, catalog.ProfileInfo{ItemGroups: []string{"Drinks"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	profile := decode[catalog.ProfileInfo](t, rec)
	assert.Equal(t, "Main", profile.Name)
	assert.Equal(t, []string{"Drinks"}, profile.ItemGroups)

	_, err := env.store.GetItem(ctx, "CHIPS")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = env.store.GetItem(ctx, "COLA")
	assert.NoError(t, err)

	rec = env.do(t, http.MethodPut, "/api/catalog/profile", token, "not an object")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
