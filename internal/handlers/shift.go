package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/xelth-com/eckposgo/internal/cart"
	"github.com/xelth-com/eckposgo/internal/middleware"
	"github.com/xelth-com/eckposgo/internal/utils"
	"github.com/xelth-com/eckposgo/internal/websocket"
)

// shift is one open cart session and its offer pipeline.
type shift struct {
	session     *cart.Session
	pipeline    *cart.Pipeline
	unsubscribe func()
}

func (s *shift) close() {
	s.unsubscribe()
	s.pipeline.Close()
}

type shifts struct {
	mu   sync.RWMutex
	open map[string]*shift
}

func newShifts() *shifts {
	return &shifts{open: make(map[string]*shift)}
}

// IsOpen implements middleware.SessionChecker.
func (s *shifts) IsOpen(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.open[id]
	return ok
}

func (s *shifts) get(id string) (*shift, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sh, ok := s.open[id]
	return sh, ok
}

func (s *shifts) add(sh *shift) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open[sh.session.ID] = sh
}

func (s *shifts) remove(id string) (*shift, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.open[id]
	delete(s.open, id)
	return sh, ok
}

func (s *shifts) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.open)
}

func (s *shifts) all() []*shift {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*shift, 0, len(s.open))
	for _, sh := range s.open {
		out = append(out, sh)
	}
	return out
}

func (s *shifts) closeAll() {
	s.mu.Lock()
	open := s.open
	s.open = make(map[string]*shift)
	s.mu.Unlock()
	for _, sh := range open {
		sh.close()
	}
}

// OpenShiftRequest opens a cart session for an operator
type OpenShiftRequest struct {
	Operator         string `json:"operator"`
	PIN              string `json:"pin"`
	Profile          string `json:"pos_profile"`
	Company          string `json:"company"`
	SellingPriceList string `json:"selling_price_list"`
	Currency         string `json:"currency"`
	Customer         string `json:"customer"`
}

func (r *Router) openShift(w http.ResponseWriter, req *http.Request) {
	var body OpenShiftRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if body.Operator == "" {
		respondError(w, http.StatusBadRequest, "Operator is required")
		return
	}

	switch {
	case r.Config.OperatorPINHash != "":
		if !utils.CheckPINHash(body.PIN, r.Config.OperatorPINHash) {
			respondError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
	case r.Config.NodeEnv == "production":
		respondError(w, http.StatusServiceUnavailable, "Operator PIN is not configured")
		return
	default:
		log.Printf("⚠️ No operator PIN configured, opening shift for %s without check", body.Operator)
	}

	profile := body.Profile
	if profile == "" {
		profile = r.Config.Profile
	}
	if profile == "" {
		respondError(w, http.StatusBadRequest, "POS profile is required")
		return
	}

	// Offers live as long as a shift; the next cart evaluation refetches them.
	if r.Offers != nil {
		r.Offers.Reset(profile)
	}

	session := cart.NewSession(cart.Profile{
		Name:             profile,
		Company:          body.Company,
		SellingPriceList: body.SellingPriceList,
		Currency:         body.Currency,
		Customer:         body.Customer,
	}, body.Operator)

	token, err := utils.GenerateShiftToken(utils.ShiftClaims{
		SessionID: session.ID,
		Operator:  body.Operator,
		Profile:   profile,
	}, r.Config.JWTSecret, utils.ShiftTokenTTL)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	var conn cart.OfflineChecker
	if r.Conn != nil {
		conn = r.Conn
	}
	pipeline := cart.NewPipeline(session, r.Offers, r.Pricing, conn, r.Config.Offers)
	unsubscribe := pipeline.Subscribe(func(st cart.ProcessingState) {
		if r.Hub != nil {
			r.Hub.Publish(websocket.EventOffersState, map[string]interface{}{
				"session_id": session.ID,
				"state":      st,
			})
		}
	})
	r.shifts.add(&shift{session: session, pipeline: pipeline, unsubscribe: unsubscribe})
	log.Printf("✅ Shift opened for %s on profile %s (session %s)", body.Operator, profile, session.ID)

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"token":       token,
		"session_id":  session.ID,
		"operator":    body.Operator,
		"pos_profile": profile,
		"opened_at":   session.OpenedAt,
	})
}

func (r *Router) closeShift(w http.ResponseWriter, req *http.Request) {
	claims, _ := middleware.ShiftFromContext(req.Context())
	sh, ok := r.shifts.remove(claims.SessionID)
	if !ok {
		respondError(w, http.StatusNotFound, "Shift not found")
		return
	}
	sh.close()
	log.Printf("🛑 Shift closed for %s (session %s)", claims.Operator, claims.SessionID)
	respondJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// currentShift resolves the shift of the request; SessionAuth already
// checked that it is open.
func (r *Router) currentShift(w http.ResponseWriter, req *http.Request) (*shift, bool) {
	claims, ok := middleware.ShiftFromContext(req.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Shift token required")
		return nil, false
	}
	sh, ok := r.shifts.get(claims.SessionID)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Shift is closed")
		return nil, false
	}
	return sh, true
}

// Reconnected runs when the server is reachable again. Offers served from the
// offline cache are refetched and every open cart is re-evaluated, which
// confirms or drops the offers applied offline.
func (r *Router) Reconnected() {
	if r.Offers != nil {
		r.Offers.ResetStale()
	}
	open := r.shifts.all()
	for _, sh := range open {
		sh.pipeline.Trigger()
	}
	if len(open) > 0 {
		log.Printf("🔄 Re-evaluating offers of %d open carts", len(open))
	}
}
