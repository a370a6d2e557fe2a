// Package cart owns the active cart of a shift and keeps its offers in line
// with the pricing engine.
package cart

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xelth-com/eckposgo/internal/models"
	"github.com/xelth-com/eckposgo/internal/offers"
)

var (
	ErrNoProfile    = errors.New("cart: no active profile")
	ErrCartEmpty    = errors.New("cart: add items to the cart before applying an offer")
	ErrCancelled    = errors.New("cart: operation cancelled")
	ErrLineNotFound = errors.New("cart: item not found in cart")
	ErrUnknownOffer = errors.New("cart: unknown offer")
)

// Profile is the POS profile context sent along with offer evaluations.
type Profile struct {
	Name             string `json:"name"`
	Company          string `json:"company,omitempty"`
	SellingPriceList string `json:"selling_price_list,omitempty"`
	Currency         string `json:"currency,omitempty"`
	Customer         string `json:"customer,omitempty"` // default customer
}

// ChangeKind tells listeners what kind of mutation happened.
type ChangeKind int

const (
	ChangeLines ChangeKind = iota
	ChangeCustomer
	ChangeCleared
)

// ProcessingState is the offer pipeline state of one cart.
type ProcessingState struct {
	IsProcessing     bool       `json:"is_processing"`
	IsAutoProcessing bool       `json:"is_auto_processing"`
	LastProcessedAt  time.Time  `json:"last_processed_at"`
	LastCartHash     string     `json:"last_cart_hash"`
	LastOffline      bool       `json:"last_offline"`
	Error            string     `json:"error,omitempty"`
	RetryCount       int        `json:"retry_count"`
	SuppressReapply  bool       `json:"suppress_reapply"`
	Scheduler        SchedState `json:"scheduler"`
}

// Session is the cart of one shift. It is created when the shift opens and
// discarded when it closes; nothing about it is global.
type Session struct {
	mu sync.RWMutex

	ID       string
	OpenedAt time.Time
	Operator string

	profile  Profile
	lines    []models.CartLine
	customer string
	applied  []models.AppliedOffer
	state    ProcessingState

	// gen counts operator mutations; results computed for an older gen are
	// discarded. version counts every mutation and keys the snapshot memo.
	gen      uint64
	version  uint64
	snapVer  uint64
	snapshot offers.CartSnapshot
	snapOK   bool

	listeners []func(ChangeKind)
}

// NewSession opens a cart for profile.
func NewSession(profile Profile, operator string) *Session {
	return &Session{
		ID:       uuid.NewString(),
		OpenedAt: time.Now(),
		Operator: operator,
		profile:  profile,
		lines:    []models.CartLine{},
		applied:  []models.AppliedOffer{},
		state:    ProcessingState{Scheduler: SchedIdle},
	}
}

// OnChange registers fn for operator mutations. Listeners run synchronously
// after the session lock is released.
func (s *Session) OnChange(fn func(ChangeKind)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Session) notify(kind ChangeKind) {
	s.mu.RLock()
	listeners := append(([]func(ChangeKind))(nil), s.listeners...)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(kind)
	}
}

// touch must be called with mu held after an operator mutation.
func (s *Session) touch() {
	s.gen++
	s.version++
}

// Profile returns the profile context.
func (s *Session) Profile() Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

// Customer returns the selected customer, or the profile default.
func (s *Session) Customer() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.customerLocked()
}

func (s *Session) customerLocked() string {
	if s.customer != "" {
		return s.customer
	}
	return s.profile.Customer
}

func (s *Session) find(code, uom string) int {
	for i := range s.lines {
		if s.lines[i].ItemCode == code && (uom == "" || s.lines[i].EffectiveUOM() == uom) {
			return i
		}
	}
	return -1
}

// LineFromItem builds a cart line from a cached catalog item.
func LineFromItem(it *models.CachedCatalogItem, qty float64, uom string) models.CartLine {
	if uom == "" {
		uom = it.StockUOM
	}
	rate := it.Rate
	if rate == 0 {
		rate = it.PriceListRate
	}
	plr := it.PriceListRate
	if plr == 0 {
		plr = rate
	}
	return models.CartLine{
		ItemCode:         it.ItemCode,
		ItemName:         it.ItemName,
		ItemGroup:        it.ItemGroup,
		Brand:            it.Brand,
		UOM:              uom,
		StockUOM:         it.StockUOM,
		ConversionFactor: 1,
		Quantity:         qty,
		Rate:             rate,
		PriceListRate:    plr,
	}
}

// AddItem adds line to the cart, merging it into a line with the same item
// and unit.
func (s *Session) AddItem(line models.CartLine) error {
	if line.ItemCode == "" || line.Quantity <= 0 {
		return errors.New("cart: item code and a positive quantity are required")
	}
	s.mu.Lock()
	if i := s.find(line.ItemCode, line.EffectiveUOM()); i >= 0 {
		s.lines[i].Quantity += line.Quantity
		s.lines[i].Recalculate()
	} else {
		line.FreeQty = 0
		line.Recalculate()
		s.lines = append(s.lines, line)
	}
	s.touch()
	s.mu.Unlock()
	s.notify(ChangeLines)
	return nil
}

// UpdateQuantity sets the quantity of a line; zero or less removes it.
func (s *Session) UpdateQuantity(code, uom string, qty float64) error {
	if qty <= 0 {
		return s.RemoveItem(code, uom)
	}
	s.mu.Lock()
	i := s.find(code, uom)
	if i < 0 {
		s.mu.Unlock()
		return ErrLineNotFound
	}
	s.lines[i].Quantity = qty
	s.lines[i].Recalculate()
	s.touch()
	s.mu.Unlock()
	s.notify(ChangeLines)
	return nil
}

// RemoveItem drops a line.
func (s *Session) RemoveItem(code, uom string) error {
	s.mu.Lock()
	i := s.find(code, uom)
	if i < 0 {
		s.mu.Unlock()
		return ErrLineNotFound
	}
	s.lines = append(s.lines[:i], s.lines[i+1:]...)
	s.touch()
	s.mu.Unlock()
	s.notify(ChangeLines)
	return nil
}

// UOMChange describes a unit change; zero Rate or ConversionFactor keep the
// current values.
type UOMChange struct {
	ItemCode         string  `json:"item_code"`
	FromUOM          string  `json:"from_uom"`
	ToUOM            string  `json:"uom"`
	Rate             float64 `json:"rate"`
	ConversionFactor float64 `json:"conversion_factor"`
}

// ChangeUOM switches the unit of a line. When another line of the same item
// already uses the target unit the two are merged. It reports whether a merge
// happened.
func (s *Session) ChangeUOM(c UOMChange) (bool, error) {
	s.mu.Lock()
	src := s.find(c.ItemCode, c.FromUOM)
	if src < 0 {
		s.mu.Unlock()
		return false, ErrLineNotFound
	}
	if s.lines[src].EffectiveUOM() == c.ToUOM {
		s.mu.Unlock()
		return false, nil
	}

	merged := false
	target := -1
	for i := range s.lines {
		if i != src && s.lines[i].ItemCode == c.ItemCode && s.lines[i].EffectiveUOM() == c.ToUOM {
			target = i
			break
		}
	}
	if target >= 0 {
		s.lines[target].Quantity += s.lines[src].Quantity
		s.lines[target].Recalculate()
		s.lines = append(s.lines[:src], s.lines[src+1:]...)
		merged = true
	} else {
		l := &s.lines[src]
		l.UOM = c.ToUOM
		if c.ConversionFactor > 0 {
			l.ConversionFactor = c.ConversionFactor
		}
		if c.Rate > 0 {
			l.Rate = c.Rate
			l.PriceListRate = c.Rate
		}
		l.Recalculate()
	}
	s.touch()
	s.mu.Unlock()
	s.notify(ChangeLines)
	return merged, nil
}

// SetCustomer selects the customer of the sale.
func (s *Session) SetCustomer(customer string) {
	s.mu.Lock()
	if s.customer == customer {
		s.mu.Unlock()
		return
	}
	s.customer = customer
	s.touch()
	s.mu.Unlock()
	s.notify(ChangeCustomer)
}

// Clear empties the cart and resets the offer state.
func (s *Session) Clear() {
	s.mu.Lock()
	s.lines = []models.CartLine{}
	s.customer = ""
	s.applied = []models.AppliedOffer{}
	s.state = ProcessingState{Scheduler: SchedIdle}
	s.touch()
	s.mu.Unlock()
	s.notify(ChangeCleared)
}

// Lines returns a copy of the cart lines.
func (s *Session) Lines() []models.CartLine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyLines(s.lines)
}

func copyLines(lines []models.CartLine) []models.CartLine {
	out := make([]models.CartLine, len(lines))
	for i, l := range lines {
		l.PricingRules = append([]string(nil), l.PricingRules...)
		out[i] = l
	}
	return out
}

// AppliedOffers returns a copy of the confirmed offers.
func (s *Session) AppliedOffers() []models.AppliedOffer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.AppliedOffer{}, s.applied...)
}

// ProcessingState returns a copy of the pipeline state.
func (s *Session) ProcessingState() ProcessingState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Snapshot returns the cart snapshot, recomputed only when the cart changed.
func (s *Session) Snapshot() offers.CartSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() offers.CartSnapshot {
	if !s.snapOK || s.snapVer != s.version {
		s.snapshot = offers.BuildSnapshot(s.lines)
		s.snapVer = s.version
		s.snapOK = true
	}
	return s.snapshot
}

// Hash fingerprints everything that can change offer eligibility.
func (s *Session) Hash() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hashLocked()
}

func (s *Session) hashLocked() string {
	parts := make([]string, len(s.lines))
	for i := range s.lines {
		l := &s.lines[i]
		parts[i] = l.ItemCode + ":" + fmtNum(l.Quantity) + ":" + l.UOM + ":" + fmtNum(l.DiscountPercentage)
	}
	customer := s.customerLocked()
	if customer == "" {
		customer = "none"
	}
	subtotal := s.snapshotLocked().Subtotal
	return strings.Join([]string{
		strings.Join(parts, "|"),
		strconv.Itoa(len(s.lines)),
		strconv.FormatInt(int64(math.Round(subtotal*100)), 10),
		customer,
		strconv.Itoa(len(s.applied)),
	}, "::")
}

func fmtNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// view is a consistent copy of the cart taken for one evaluation.
type view struct {
	gen      uint64
	profile  Profile
	customer string
	lines    []models.CartLine
	applied  []models.AppliedOffer
	snapshot offers.CartSnapshot
}

func (s *Session) view() view {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{
		gen:      s.gen,
		profile:  s.profile,
		customer: s.customerLocked(),
		lines:    copyLines(s.lines),
		applied:  append([]models.AppliedOffer{}, s.applied...),
		snapshot: s.snapshotLocked(),
	}
}

// cartState is what the pipeline may change while folding a result.
type cartState struct {
	lines   []models.CartLine
	applied []models.AppliedOffer
}

// apply runs fn on the cart unless an operator mutation happened after gen.
// fn returning false discards its changes.
func (s *Session) apply(gen uint64, fn func(st *cartState) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	st := &cartState{lines: copyLines(s.lines), applied: append([]models.AppliedOffer{}, s.applied...)}
	if !fn(st) {
		return false
	}
	s.lines = st.lines
	s.applied = st.applied
	s.version++
	return true
}

func (s *Session) updateState(fn func(st *ProcessingState)) ProcessingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
	return s.state
}
