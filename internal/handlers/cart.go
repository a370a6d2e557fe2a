package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/xelth-com/eckposgo/internal/cart"
	"github.com/xelth-com/eckposgo/internal/models"
	"github.com/xelth-com/eckposgo/internal/offers"
	"github.com/xelth-com/eckposgo/internal/store"
)

// CartView is the cart as terminals see it
type CartView struct {
	SessionID     string                `json:"session_id"`
	Operator      string                `json:"operator"`
	Profile       string                `json:"pos_profile"`
	Customer      string                `json:"customer"`
	Lines         []models.CartLine     `json:"items"`
	AppliedOffers []models.AppliedOffer `json:"applied_offers"`
	Subtotal      float64               `json:"subtotal"`
	TotalQty      float64               `json:"total_qty"`
	State         cart.ProcessingState  `json:"offer_state"`
}

func viewCart(s *cart.Session) CartView {
	snap := s.Snapshot()
	return CartView{
		SessionID:     s.ID,
		Operator:      s.Operator,
		Profile:       s.Profile().Name,
		Customer:      s.Customer(),
		Lines:         s.Lines(),
		AppliedOffers: s.AppliedOffers(),
		Subtotal:      snap.Subtotal,
		TotalQty:      snap.TotalQty,
		State:         s.ProcessingState(),
	}
}

func (r *Router) cartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cart.ErrLineNotFound), errors.Is(err, cart.ErrUnknownOffer), errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, cart.ErrCartEmpty), errors.Is(err, cart.ErrNoProfile):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, cart.ErrCancelled):
		respondError(w, http.StatusConflict, err.Error())
	default:
		respondError(w, http.StatusBadGateway, err.Error())
	}
}

func (r *Router) getCart(w http.ResponseWriter, req *http.Request) {
	sh, ok := r.currentShift(w, req)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, viewCart(sh.session))
}

func (r *Router) clearCart(w http.ResponseWriter, req *http.Request) {
	sh, ok := r.currentShift(w, req)
	if !ok {
		return
	}
	sh.session.Clear()
	respondJSON(w, http.StatusOK, viewCart(sh.session))
}

// AddItemRequest adds a catalog item to the cart
type AddItemRequest struct {
	ItemCode string  `json:"item_code"`
	Qty      float64 `json:"qty"`
	UOM      string  `json:"uom"`
}

func (r *Router) addCartItem(w http.ResponseWriter, req *http.Request) {
	sh, ok := r.currentShift(w, req)
	if !ok {
		return
	}
	var body AddItemRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if body.Qty == 0 {
		body.Qty = 1
	}
	item, err := r.Store.GetItem(req.Context(), body.ItemCode)
	if err != nil {
		r.cartError(w, err)
		return
	}
	if err := sh.session.AddItem(cart.LineFromItem(item, body.Qty, body.UOM)); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, viewCart(sh.session))
}

// UpdateItemRequest changes the quantity or the unit of a line
type UpdateItemRequest struct {
	UOM              string   `json:"uom"`
	Qty              *float64 `json:"qty"`
	ToUOM            string   `json:"to_uom"`
	Rate             float64  `json:"rate"`
	ConversionFactor float64  `json:"conversion_factor"`
}

func (r *Router) updateCartItem(w http.ResponseWriter, req *http.Request) {
	sh, ok := r.currentShift(w, req)
	if !ok {
		return
	}
	var body UpdateItemRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	code := mux.Vars(req)["code"]

	if body.ToUOM != "" {
		if _, err := sh.session.ChangeUOM(cart.UOMChange{
			ItemCode:         code,
			FromUOM:          body.UOM,
			ToUOM:            body.ToUOM,
			Rate:             body.Rate,
			ConversionFactor: body.ConversionFactor,
		}); err != nil {
			r.cartError(w, err)
			return
		}
		body.UOM = body.ToUOM
	}
	if body.Qty != nil {
		if err := sh.session.UpdateQuantity(code, body.UOM, *body.Qty); err != nil {
			r.cartError(w, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, viewCart(sh.session))
}

func (r *Router) removeCartItem(w http.ResponseWriter, req *http.Request) {
	sh, ok := r.currentShift(w, req)
	if !ok {
		return
	}
	if err := sh.session.RemoveItem(mux.Vars(req)["code"], req.URL.Query().Get("uom")); err != nil {
		r.cartError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewCart(sh.session))
}

func (r *Router) setCustomer(w http.ResponseWriter, req *http.Request) {
	sh, ok := r.currentShift(w, req)
	if !ok {
		return
	}
	var body struct {
		Customer string `json:"customer"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	sh.session.SetCustomer(body.Customer)
	respondJSON(w, http.StatusOK, viewCart(sh.session))
}

// OfferView is an offer with its eligibility for the current cart
type OfferView struct {
	models.Offer
	Applied      bool    `json:"applied"`
	Eligible     bool    `json:"eligible"`
	Reason       string  `json:"reason,omitempty"`
	UnlockAmount float64 `json:"unlock_amount,omitempty"`
}

// listCartOffers lists the profile offers, most valuable first
func (r *Router) listCartOffers(w http.ResponseWriter, req *http.Request) {
	sh, ok := r.currentShift(w, req)
	if !ok {
		return
	}
	profile := sh.session.Profile().Name
	if _, err := r.Offers.EnsureFetched(req.Context(), profile); err != nil {
		r.cartError(w, err)
		return
	}
	applied := make(map[string]bool)
	for _, a := range sh.session.AppliedOffers() {
		applied[a.Code] = true
	}
	snap := sh.session.Snapshot()
	list := offers.SortByValue(r.Offers.Offers(profile))
	out := make([]OfferView, 0, len(list))
	for _, o := range list {
		e := offers.CheckEligibility(o, snap)
		out = append(out, OfferView{
			Offer:        o,
			Applied:      applied[o.Name],
			Eligible:     e.Eligible,
			Reason:       e.Reason,
			UnlockAmount: offers.UnlockAmount(o, snap),
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (r *Router) applyOffer(w http.ResponseWriter, req *http.Request) {
	sh, ok := r.currentShift(w, req)
	if !ok {
		return
	}
	applied, err := sh.pipeline.ApplyOffer(req.Context(), mux.Vars(req)["code"])
	if err != nil {
		r.cartError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"applied": applied,
		"cart":    viewCart(sh.session),
	})
}

func (r *Router) removeOffer(w http.ResponseWriter, req *http.Request) {
	sh, ok := r.currentShift(w, req)
	if !ok {
		return
	}
	removed, err := sh.pipeline.RemoveOffer(req.Context(), mux.Vars(req)["code"])
	if err != nil {
		r.cartError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"removed": removed,
		"cart":    viewCart(sh.session),
	})
}

func (r *Router) refreshOffers(w http.ResponseWriter, req *http.Request) {
	sh, ok := r.currentShift(w, req)
	if !ok {
		return
	}
	if err := sh.pipeline.ForceRefresh(req.Context()); err != nil {
		r.cartError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewCart(sh.session))
}
