package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/xelth-com/eckposgo/internal/buildinfo"
	"github.com/xelth-com/eckposgo/internal/cart"
	"github.com/xelth-com/eckposgo/internal/catalog"
	"github.com/xelth-com/eckposgo/internal/config"
	"github.com/xelth-com/eckposgo/internal/connectivity"
	"github.com/xelth-com/eckposgo/internal/middleware"
	"github.com/xelth-com/eckposgo/internal/offers"
	"github.com/xelth-com/eckposgo/internal/store"
	possync "github.com/xelth-com/eckposgo/internal/sync"
	"github.com/xelth-com/eckposgo/internal/utils"
	"github.com/xelth-com/eckposgo/internal/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ConnectivityView is the read side of the connectivity monitor.
type ConnectivityView interface {
	State() connectivity.State
	IsOffline() bool
	History() []connectivity.Transition
}

// Deps are the components the local API exposes.
type Deps struct {
	Config    *config.Config
	Store     store.Store
	Sync      *possync.Engine
	Preloader *possync.Preloader
	Catalog   *catalog.Synchronizer
	Offers    *offers.Catalog
	Pricing   cart.PricingRemote
	Conn      ConnectivityView
	Hub       *websocket.Hub
}

// Router wraps the mux router and the node components
type Router struct {
	*mux.Router
	Deps

	shifts *shifts
	dedup  *utils.Deduplicator
}

// NewRouter creates a new HTTP router with all routes
func NewRouter(deps Deps) *Router {
	r := &Router{
		Router: mux.NewRouter(),
		Deps:   deps,
		shifts: newShifts(),
		dedup:  utils.NewDeduplicator(10 * time.Minute),
	}

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	// Terminal events
	if r.Hub != nil {
		r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
			websocket.ServeWs(r.Hub, w, req)
		})
	}

	// Public API
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/shift/open", r.openShift).Methods("POST")
	api.HandleFunc("/connectivity", r.getConnectivity).Methods("GET")

	// Shift token required
	protected := r.PathPrefix("/api").Subrouter()
	protected.Use(middleware.SessionAuth(r.Config.JWTSecret, r.shifts))
	protected.HandleFunc("/shift/close", r.closeShift).Methods("POST")

	protected.HandleFunc("/sync/pending", r.listPending).Methods("GET")
	protected.HandleFunc("/sync/run", r.runSync).Methods("POST")
	protected.HandleFunc("/sync/pending/{id:[0-9]+}", r.deletePending).Methods("DELETE")
	protected.HandleFunc("/sync/pending/{id:[0-9]+}/retry", r.retryPending).Methods("POST")
	protected.HandleFunc("/invoices", r.saveInvoice).Methods("POST")
	protected.HandleFunc("/invoices/history", r.invoiceHistory).Methods("GET")
	protected.HandleFunc("/invoices/unpaid", r.unpaidInvoices).Methods("GET")
	protected.HandleFunc("/offline/preload", r.preload).Methods("POST")

	protected.HandleFunc("/catalog/load", r.loadCatalog).Methods("POST")
	protected.HandleFunc("/catalog/more", r.loadMore).Methods("POST")
	protected.HandleFunc("/catalog/page/{n:[0-9]+}", r.catalogPage).Methods("GET")
	protected.HandleFunc("/catalog/group", r.selectGroup).Methods("PUT")
	protected.HandleFunc("/catalog/progress", r.catalogProgress).Methods("GET")
	protected.HandleFunc("/catalog/profile", r.profileUpdate).Methods("PUT")
	protected.HandleFunc("/catalog/items", r.searchItems).Methods("GET")

	protected.HandleFunc("/cart", r.getCart).Methods("GET")
	protected.HandleFunc("/cart", r.clearCart).Methods("DELETE")
	protected.HandleFunc("/cart/items", r.addCartItem).Methods("POST")
	protected.HandleFunc("/cart/items/{code}", r.updateCartItem).Methods("PATCH")
	protected.HandleFunc("/cart/items/{code}", r.removeCartItem).Methods("DELETE")
	protected.HandleFunc("/cart/customer", r.setCustomer).Methods("PUT")
	protected.HandleFunc("/cart/offers", r.listCartOffers).Methods("GET")
	protected.HandleFunc("/cart/offers/refresh", r.refreshOffers).Methods("POST")
	protected.HandleFunc("/cart/offers/{code}", r.applyOffer).Methods("POST")
	protected.HandleFunc("/cart/offers/{code}", r.removeOffer).Methods("DELETE")

	return r
}

// Handler returns the router instrumented with OpenTelemetry.
func (r *Router) Handler() http.Handler {
	return otelhttp.NewHandler(r.Router, "posnode")
}

// Close ends every open shift.
func (r *Router) Close() {
	r.shifts.closeAll()
}

// healthCheck reports the node state and build
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	resp := map[string]interface{}{
		"status":    "ok",
		"addresses": utils.GetLocalIPs(),
		"shifts":    r.shifts.count(),
		"build": map[string]string{
			"build_time":  buildinfo.BuildTime,
			"commit_time": buildinfo.CommitTime,
			"commit_hash": buildinfo.CommitHash,
			"start_time":  buildinfo.StartTime,
		},
	}
	if r.Conn != nil {
		resp["offline"] = r.Conn.IsOffline()
	}
	if r.Sync != nil {
		resp["pending_invoices"] = r.Sync.PendingCount(req.Context())
	}
	if r.Hub != nil {
		resp["terminals"] = r.Hub.ClientCount()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (r *Router) getConnectivity(w http.ResponseWriter, req *http.Request) {
	if r.Conn == nil {
		respondError(w, http.StatusServiceUnavailable, "Connectivity monitor not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"state":   r.Conn.State(),
		"history": r.Conn.History(),
	})
}

// detached keeps request values but not its cancellation, for work that
// must finish even when the terminal disconnects.
func detached(req *http.Request, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(req.Context()), timeout)
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
