package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/xelth-com/eckposgo/internal/config"
	"github.com/xelth-com/eckposgo/internal/models"
	"github.com/xelth-com/eckposgo/internal/offers"
	"github.com/xelth-com/eckposgo/internal/posapi"
	possync "github.com/xelth-com/eckposgo/internal/sync"
)

// PricingRemote is the authoritative pricing engine.
type PricingRemote interface {
	ApplyOffers(ctx context.Context, inv *posapi.OfferEvaluation, selected []string) (*posapi.ApplyOffersResponse, error)
}

// OfflineChecker reports the connectivity state.
type OfflineChecker interface {
	IsOffline() bool
}

// Pipeline serializes every offer operation of one cart session through a
// single-slot task queue and folds pricing results back into the cart.
type Pipeline struct {
	session *Session
	catalog *offers.Catalog
	remote  PricingRemote
	conn    OfflineChecker
	cfg     config.OffersConfig

	queue *TaskQueue
	sched *Scheduler

	mu     sync.Mutex
	subs   map[int]func(ProcessingState)
	nextID int
}

// NewPipeline wires a pipeline to session. Operator changes of the session
// schedule a debounced reconciliation. conn may be nil.
func NewPipeline(session *Session, catalog *offers.Catalog, remote PricingRemote, conn OfflineChecker, cfg config.OffersConfig) *Pipeline {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.DebounceSmall <= 0 {
		cfg.DebounceSmall = 100 * time.Millisecond
	}
	if cfg.DebounceMedium <= 0 {
		cfg.DebounceMedium = 200 * time.Millisecond
	}
	if cfg.DebounceLarge <= 0 {
		cfg.DebounceLarge = 300 * time.Millisecond
	}

	p := &Pipeline{
		session: session,
		catalog: catalog,
		remote:  remote,
		conn:    conn,
		cfg:     cfg,
		queue:   NewTaskQueue(),
		subs:    make(map[int]func(ProcessingState)),
	}
	p.sched = NewScheduler(p.debounceDelay, p.runProcessing)
	p.sched.OnStateChange(func(st SchedState) {
		p.setState(func(s *ProcessingState) { s.Scheduler = st })
	})
	session.OnChange(p.onCartChange)
	return p
}

// Close stops scheduled and running work.
func (p *Pipeline) Close() {
	p.sched.Close()
	p.queue.Close()
}

func (p *Pipeline) offline() bool {
	return p.conn != nil && p.conn.IsOffline()
}

func (p *Pipeline) onCartChange(kind ChangeKind) {
	if kind == ChangeCleared {
		p.sched.Cancel()
		p.queue.Cancel()
		p.publish()
		return
	}
	p.Trigger()
}

// debounceDelay grows with the number of cart lines.
func (p *Pipeline) debounceDelay() time.Duration {
	n := len(p.session.Lines())
	switch {
	case n <= 3:
		return p.cfg.DebounceSmall
	case n <= 10:
		return p.cfg.DebounceMedium
	default:
		return p.cfg.DebounceLarge
	}
}

// Trigger schedules a debounced reconciliation.
func (p *Pipeline) Trigger() {
	p.sched.Schedule()
}

// State returns the processing state of the cart.
func (p *Pipeline) State() ProcessingState {
	return p.session.ProcessingState()
}

// Subscribe registers fn for processing state updates.
func (p *Pipeline) Subscribe(fn func(ProcessingState)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}
}

func (p *Pipeline) setState(fn func(s *ProcessingState)) {
	p.session.updateState(fn)
	p.publish()
}

func (p *Pipeline) publish() {
	st := p.session.ProcessingState()
	p.mu.Lock()
	subs := make([]func(ProcessingState), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()
	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("⚠️ Offer state subscriber panicked: %v", r)
				}
			}()
			fn(st)
		}()
	}
}

func cancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// runProcessing is the scheduler action: one reconciliation through the
// queue, with bounded retries on failure.
func (p *Pipeline) runProcessing(force bool) error {
	done := p.queue.Enqueue(func(ctx context.Context) error {
		p.setState(func(s *ProcessingState) {
			s.IsProcessing = true
			s.IsAutoProcessing = true
			s.Error = ""
		})
		defer p.setState(func(s *ProcessingState) {
			s.IsProcessing = false
			s.IsAutoProcessing = false
		})

		err := p.ProcessOffers(ctx, force)
		if err == nil || cancelled(ctx, err) {
			return err
		}

		var retries int
		p.setState(func(s *ProcessingState) {
			s.Error = err.Error()
			s.RetryCount++
			retries = s.RetryCount
		})
		if retries < p.cfg.MaxRetries {
			wait := p.cfg.RetryBaseDelay * time.Duration(retries)
			log.Printf("⏳ Offers: processing failed (%d/%d), retrying in %s: %v", retries, p.cfg.MaxRetries, wait, err)
			p.sched.ScheduleAfter(wait, true)
		} else {
			log.Printf("❌ Offers: processing failed after %d attempts: %v", retries, err)
		}
		return err
	})
	err := <-done
	if errors.Is(err, ErrCancelled) {
		return nil
	}
	return err
}

// ProcessOffers reconciles the offers of the cart once. It must run on the
// queue (or with no concurrent pipeline work) since it folds results into the
// cart.
func (p *Pipeline) ProcessOffers(ctx context.Context, force bool) error {
	p.setState(func(s *ProcessingState) { s.SuppressReapply = false })

	profile := p.session.Profile().Name
	if profile == "" {
		return nil
	}

	justFetched, err := p.catalog.EnsureFetched(ctx, profile)
	if err != nil {
		if ctx.Err() != nil {
			return ErrCancelled
		}
		return err
	}
	if ctx.Err() != nil {
		return ErrCancelled
	}

	offline := p.offline()
	st := p.session.ProcessingState()
	modeChanged := st.LastOffline && !offline
	if !force && !justFetched && !modeChanged && p.session.Hash() == st.LastCartHash {
		return nil
	}

	if offline {
		if !p.applyOffline(ctx, profile) {
			return ErrCancelled
		}
		p.markProcessed(true)
		return nil
	}

	if err := p.revalidate(ctx); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ErrCancelled
	}
	if err := p.autoApply(ctx, profile); err != nil {
		return err
	}
	p.markProcessed(false)
	return nil
}

func (p *Pipeline) markProcessed(offline bool) {
	hash := p.session.Hash()
	p.setState(func(s *ProcessingState) {
		s.LastCartHash = hash
		s.LastProcessedAt = time.Now()
		s.LastOffline = offline
		if !offline {
			s.RetryCount = 0
		}
	})
}

func (p *Pipeline) applyOffline(ctx context.Context, profile string) bool {
	all := p.catalog.Offers(profile)
	v := p.session.view()
	var added []models.AppliedOffer
	ok := p.session.apply(v.gen, func(st *cartState) bool {
		if ctx.Err() != nil {
			return false
		}
		added = offers.ApplyOffline(st.lines, offers.BuildSnapshot(st.lines), all, st.applied)
		st.applied = append(st.applied, added...)
		return true
	})
	if len(added) > 0 {
		names := make([]string, len(added))
		for i, a := range added {
			names[i] = a.Name
		}
		log.Printf("📦 Offers: offline, applied %v", names)
	}
	return ok
}

// payload builds the evaluation request. Offer driven discounts are stripped
// so that the server prices the cart from list prices.
func (p *Pipeline) payload(v view) *posapi.OfferEvaluation {
	items := make([]models.InvoiceItem, len(v.lines))
	for i, l := range v.lines {
		if l.HasPricingRules() {
			l.ClearDiscounts()
		}
		items[i] = l.ToInvoiceItem()
	}
	return &posapi.OfferEvaluation{
		Doctype:          "Sales Invoice",
		POSProfile:       v.profile.Name,
		Customer:         v.customer,
		Company:          v.profile.Company,
		SellingPriceList: v.profile.SellingPriceList,
		Currency:         v.profile.Currency,
		Items:            items,
	}
}

// evaluate submits codes for the cart in v. It returns ErrCancelled when ctx
// ended or the cart changed while the request was in flight; the result must
// then not be folded.
func (p *Pipeline) evaluate(ctx context.Context, v view, codes []string) (*posapi.ApplyOffersResponse, error) {
	if ctx.Err() != nil {
		return nil, ErrCancelled
	}
	resp, err := p.remote.ApplyOffers(ctx, p.payload(v), codes)
	if ctx.Err() != nil {
		return nil, ErrCancelled
	}
	if err != nil {
		return nil, fmt.Errorf("apply offers %v: %w", codes, err)
	}
	return resp, nil
}

// fold writes an authoritative response onto the cart, unless the cart
// changed since v was taken or ctx ended. ctx is checked under the session
// lock, so a cancelled task cannot land after the canceller's own write.
// keep decides the applied offer list afterwards.
func (p *Pipeline) fold(ctx context.Context, v view, resp *posapi.ApplyOffersResponse, keep func(applied []models.AppliedOffer, rules map[string]bool) []models.AppliedOffer) error {
	rules := make(map[string]bool, len(resp.AppliedPricingRules))
	for _, r := range resp.AppliedPricingRules {
		rules[r] = true
	}
	ok := p.session.apply(v.gen, func(st *cartState) bool {
		if ctx.Err() != nil {
			return false
		}
		foldItems(st.lines, resp.Items)
		foldFreeItems(st.lines, resp.FreeItems)
		st.applied = keep(st.applied, rules)
		return true
	})
	if !ok {
		return ErrCancelled
	}
	return nil
}

// foldItems matches response items to cart lines by index. Lines the server
// priced get its discount; lines that only carried offer discounts are reset.
// Manual discounts on lines without rules survive.
func foldItems(lines []models.CartLine, items []posapi.PricedItem) {
	for i := range lines {
		l := &lines[i]
		var si posapi.PricedItem
		if i < len(items) {
			si = items[i]
		}
		rules := splitRules(si.PricingRules)
		if len(rules) > 0 || si.DiscountPercentage > 0 || si.DiscountAmount > 0 {
			if l.PriceListRate > 0 {
				l.Rate = l.PriceListRate
			}
			l.DiscountPercentage = si.DiscountPercentage
			l.DiscountAmount = si.DiscountAmount
			l.PricingRules = rules
			if si.DiscountPercentage == 0 && si.DiscountAmount == 0 && si.Rate > 0 && si.Rate < l.Rate {
				l.Rate = si.Rate
			}
		} else if l.HasPricingRules() {
			l.ClearDiscounts()
		}
		l.Recalculate()
	}
}

// splitRules turns the pricing_rules of a response line into rule names.
func splitRules(raw json.RawMessage) []string {
	flat := possync.FlattenPricingRules(raw)
	if flat == "" {
		return nil
	}
	var out []string
	for _, r := range strings.Split(flat, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// foldFreeItems resets every free quantity, then grants the response's free
// items to the line with the same item code and unit.
func foldFreeItems(lines []models.CartLine, free []posapi.FreeItem) {
	for i := range lines {
		lines[i].FreeQty = 0
	}
	for _, f := range free {
		if f.Qty <= 0 {
			continue
		}
		for i := range lines {
			if lines[i].ItemCode == f.ItemCode && lines[i].EffectiveUOM() == f.EffectiveUOM() {
				lines[i].FreeQty = f.Qty
				break
			}
		}
	}
}

func filterConfirmed(applied []models.AppliedOffer, rules map[string]bool) []models.AppliedOffer {
	out := make([]models.AppliedOffer, 0, len(applied))
	for _, a := range applied {
		if rules[a.Code] {
			out = append(out, a)
		}
	}
	return out
}

func codes(applied []models.AppliedOffer) []string {
	out := make([]string, len(applied))
	for i, a := range applied {
		out[i] = a.Code
	}
	return out
}

// clearOfferEffects removes free quantities and offer discounts locally.
func clearOfferEffects(st *cartState) bool {
	st.applied = []models.AppliedOffer{}
	for i := range st.lines {
		st.lines[i].FreeQty = 0
		if st.lines[i].HasPricingRules() {
			st.lines[i].ClearDiscounts()
		}
	}
	return true
}

// clearIfCurrent clears offer effects unless ctx ended.
func clearIfCurrent(ctx context.Context) func(st *cartState) bool {
	return func(st *cartState) bool {
		if ctx.Err() != nil {
			return false
		}
		return clearOfferEffects(st)
	}
}

// revalidate drops applied offers the cart no longer qualifies for and
// re-prices the remaining set in one round trip.
func (p *Pipeline) revalidate(ctx context.Context) error {
	v := p.session.view()
	if len(v.applied) == 0 {
		return nil
	}
	if len(v.lines) == 0 {
		p.session.apply(v.gen, clearIfCurrent(ctx))
		return nil
	}

	var valid []models.AppliedOffer
	var dropped []string
	for _, a := range v.applied {
		if offers.CheckEligibility(a.Offer, v.snapshot).Eligible {
			valid = append(valid, a)
		} else {
			dropped = append(dropped, a.Name)
		}
	}
	if len(dropped) == 0 {
		return nil
	}
	log.Printf("⚠️ Offers: removed %v, cart no longer meets requirements", dropped)

	if len(valid) == 0 {
		p.session.apply(v.gen, clearIfCurrent(ctx))
		return nil
	}

	resp, err := p.evaluate(ctx, v, codes(valid))
	if err != nil {
		return err
	}
	validSet := make(map[string]bool, len(valid))
	for _, a := range valid {
		validSet[a.Code] = true
	}
	return p.fold(ctx, v, resp, func(applied []models.AppliedOffer, rules map[string]bool) []models.AppliedOffer {
		out := make([]models.AppliedOffer, 0, len(applied))
		for _, a := range applied {
			if validSet[a.Code] && rules[a.Code] {
				out = append(out, a)
			}
		}
		return out
	})
}

// autoApply submits the applied offers plus every newly eligible one in a
// single evaluation. Offers applied offline are always resubmitted so that
// the server confirms or drops them.
func (p *Pipeline) autoApply(ctx context.Context, profile string) error {
	v := p.session.view()
	if len(v.lines) == 0 {
		return nil
	}

	have := make(map[string]bool, len(v.applied))
	unconfirmed := false
	for _, a := range v.applied {
		have[a.Code] = true
		if a.Source == models.SourceOffline {
			unconfirmed = true
		}
	}
	var fresh []models.Offer
	for _, o := range offers.AllEligible(p.catalog.Offers(profile), v.snapshot) {
		if !have[o.Name] {
			fresh = append(fresh, o)
		}
	}
	if len(fresh) == 0 && !unconfirmed {
		return nil
	}

	selected := codes(v.applied)
	for _, o := range fresh {
		selected = append(selected, o.Name)
	}
	resp, err := p.evaluate(ctx, v, selected)
	if err != nil {
		return err
	}

	var added []string
	err = p.fold(ctx, v, resp, func(applied []models.AppliedOffer, rules map[string]bool) []models.AppliedOffer {
		out := filterConfirmed(applied, rules)
		for i := range out {
			if out[i].Source == models.SourceOffline {
				out[i].Source = models.SourceAuto
			}
		}
		for _, o := range fresh {
			if rules[o.Name] {
				out = append(out, models.NewAppliedOffer(o, models.SourceAuto, []string{o.Name}))
				added = append(added, o.DisplayName())
			}
		}
		return out
	})
	if err == nil && len(added) > 0 {
		log.Printf("✅ Offers: applied %v", added)
	}
	return err
}

// ForceRefresh drops pending work, forgets the last processed cart and
// reconciles right away.
func (p *Pipeline) ForceRefresh(ctx context.Context) error {
	p.sched.Cancel()
	p.queue.Cancel()
	p.setState(func(s *ProcessingState) {
		s.LastCartHash = ""
		s.Error = ""
		s.RetryCount = 0
		s.SuppressReapply = false
	})
	return p.await(ctx, p.queue.Enqueue(func(ctx context.Context) error {
		return p.ProcessOffers(ctx, true)
	}))
}

func (p *Pipeline) await(ctx context.Context, done <-chan error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// runManual runs a user operation exclusively: pending automatic work is
// dropped and the running task is cancelled.
func (p *Pipeline) runManual(ctx context.Context, task Task) error {
	p.sched.Cancel()
	p.queue.Cancel()
	return p.await(ctx, p.queue.Enqueue(func(ctx context.Context) error {
		p.setState(func(s *ProcessingState) {
			s.IsProcessing = true
			s.Error = ""
		})
		err := task(ctx)
		p.setState(func(s *ProcessingState) {
			s.IsProcessing = false
			if err != nil && !cancelled(ctx, err) {
				s.Error = err.Error()
			}
		})
		return err
	}))
}

// ApplyOffer applies the offer with code on top of the applied ones. An
// applied offer is removed instead and false is returned. It reports whether
// the server confirmed the offer; when it did not, the previous set is
// restored.
func (p *Pipeline) ApplyOffer(ctx context.Context, code string) (bool, error) {
	profile := p.session.Profile().Name
	if profile == "" {
		return false, ErrNoProfile
	}
	for _, a := range p.session.AppliedOffers() {
		if a.Code == code {
			_, err := p.RemoveOffer(ctx, code)
			return false, err
		}
	}
	if len(p.session.Lines()) == 0 {
		return false, ErrCartEmpty
	}
	if _, err := p.catalog.EnsureFetched(ctx, profile); err != nil {
		return false, err
	}
	offer, ok := p.catalog.Find(profile, code)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownOffer, code)
	}

	confirmed := false
	err := p.runManual(ctx, func(ctx context.Context) error {
		var err error
		confirmed, err = p.applyOne(ctx, offer)
		return err
	})
	if err != nil {
		return false, err
	}
	return confirmed, nil
}

func (p *Pipeline) applyOne(ctx context.Context, offer models.Offer) (bool, error) {
	v := p.session.view()
	p.setState(func(s *ProcessingState) { s.SuppressReapply = true })

	if p.offline() {
		applied := false
		ok := p.session.apply(v.gen, func(st *cartState) bool {
			if ctx.Err() != nil {
				return false
			}
			if !offers.CheckEligibility(offer, offers.BuildSnapshot(st.lines)).Eligible {
				return true
			}
			if offers.ApplyOfferOffline(st.lines, offer) {
				st.applied = append(st.applied, models.NewAppliedOffer(offer, models.SourceOffline, []string{offer.Name}))
				applied = true
			}
			return true
		})
		if !ok {
			return false, ErrCancelled
		}
		return applied, nil
	}

	existing := codes(v.applied)
	resp, err := p.evaluate(ctx, v, append(append([]string(nil), existing...), offer.Name))
	if err != nil {
		return false, err
	}
	confirmed := false
	for _, r := range resp.AppliedPricingRules {
		if r == offer.Name {
			confirmed = true
			break
		}
	}

	if err := p.fold(ctx, v, resp, func(applied []models.AppliedOffer, rules map[string]bool) []models.AppliedOffer {
		out := filterConfirmed(applied, rules)
		if confirmed {
			out = append(out, models.NewAppliedOffer(offer, models.SourceManual, []string{offer.Name}))
		}
		return out
	}); err != nil {
		return false, err
	}

	if confirmed {
		log.Printf("✅ Offers: %s applied", offer.DisplayName())
		p.markProcessedAt()
		return true, nil
	}

	log.Printf("⚠️ Offers: cart does not meet the requirements of %s", offer.DisplayName())
	if len(existing) > 0 {
		p.rollback(ctx, existing)
	}
	return false, nil
}

// rollback re-prices the cart with the previously applied offers. Its
// failure leaves the cart as folded from the first answer.
func (p *Pipeline) rollback(ctx context.Context, previous []string) {
	v := p.session.view()
	resp, err := p.evaluate(ctx, v, previous)
	if err != nil {
		if !cancelled(ctx, err) {
			log.Printf("❌ Offers: rollback failed: %v", err)
		}
		return
	}
	if err := p.fold(ctx, v, resp, filterConfirmed); err != nil && !errors.Is(err, ErrCancelled) {
		log.Printf("❌ Offers: rollback failed: %v", err)
	}
}

func (p *Pipeline) markProcessedAt() {
	p.setState(func(s *ProcessingState) { s.LastProcessedAt = time.Now() })
}

// RemoveOffer removes the offer with code, or every offer when code is empty,
// and re-prices the cart with what remains. It reports false when code was
// not applied.
func (p *Pipeline) RemoveOffer(ctx context.Context, code string) (bool, error) {
	applied := p.session.AppliedOffers()
	var remaining []string
	for _, a := range applied {
		if a.Code != code {
			remaining = append(remaining, a.Code)
		}
	}
	if code != "" && len(remaining) == len(applied) {
		return false, nil
	}

	if code == "" || len(remaining) == 0 {
		err := p.runManual(ctx, func(ctx context.Context) error {
			p.setState(func(s *ProcessingState) { s.SuppressReapply = true })
			for {
				if ctx.Err() != nil {
					return ErrCancelled
				}
				v := p.session.view()
				if p.session.apply(v.gen, clearIfCurrent(ctx)) {
					return nil
				}
			}
		})
		if err != nil {
			return false, err
		}
		log.Printf("🧹 Offers: all offers removed from cart")
		return true, nil
	}

	err := p.runManual(ctx, func(ctx context.Context) error {
		v := p.session.view()
		p.setState(func(s *ProcessingState) { s.SuppressReapply = true })
		if p.offline() {
			if !p.session.apply(v.gen, func(st *cartState) bool {
				if ctx.Err() != nil {
					return false
				}
				removeLocally(st, code)
				return true
			}) {
				return ErrCancelled
			}
			return nil
		}
		resp, err := p.evaluate(ctx, v, remaining)
		if err != nil {
			return err
		}
		keep := make(map[string]bool, len(remaining))
		for _, c := range remaining {
			keep[c] = true
		}
		if err := p.fold(ctx, v, resp, func(applied []models.AppliedOffer, rules map[string]bool) []models.AppliedOffer {
			out := make([]models.AppliedOffer, 0, len(applied))
			for _, a := range applied {
				if keep[a.Code] && rules[a.Code] {
					out = append(out, a)
				}
			}
			return out
		}); err != nil {
			return err
		}
		p.markProcessedAt()
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// removeLocally strips the effects of one offer without the server.
func removeLocally(st *cartState, code string) {
	out := st.applied[:0]
	for _, a := range st.applied {
		if a.Code != code {
			out = append(out, a)
		}
	}
	st.applied = out
	for i := range st.lines {
		l := &st.lines[i]
		for _, r := range l.PricingRules {
			if r == code {
				l.FreeQty = 0
				l.ClearDiscounts()
				break
			}
		}
	}
}
