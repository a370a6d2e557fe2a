// Package catalog mirrors the server item catalog into the local store.
//
// Every change of the active filter (profile, profile groups, selected group)
// starts a new generation. Background work captures its generation at start
// and re-checks it before each fetch and each write, so a superseded run
// never touches the store again.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xelth-com/eckposgo/internal/config"
	"github.com/xelth-com/eckposgo/internal/models"
	"github.com/xelth-com/eckposgo/internal/posapi"
	"github.com/xelth-com/eckposgo/internal/store"
	"golang.org/x/time/rate"
)

var (
	// ErrSuperseded is returned when a newer generation replaced the operation.
	ErrSuperseded = errors.New("catalog: superseded by a newer filter")
	// ErrNoProfile is returned before LoadAll selected a profile.
	ErrNoProfile = errors.New("catalog: no active profile")
)

// Status of the background sync.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusSyncing   Status = "syncing"
	StatusComplete  Status = "complete"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusPaused    Status = "paused"
)

// Progress of the current generation. Cached only grows within a generation.
type Progress struct {
	Generation uint64    `json:"generation"`
	Status     Status    `json:"status"`
	Cached     int       `json:"cached"`
	Total      int       `json:"total"`
	Percent    float64   `json:"percent"`
	Error      string    `json:"error,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ItemsRemote is the part of the server API the synchronizer needs.
type ItemsRemote interface {
	GetItems(ctx context.Context, req posapi.ItemsRequest) ([]models.Item, error)
	GetItemsBulk(ctx context.Context, req posapi.BulkItemsRequest) ([]models.Item, error)
	GetItemsCount(ctx context.Context, profile, group string, includeVariants bool) (int, error)
}

// Mirror is the local catalog plus the settings used to remember group filters.
type Mirror interface {
	store.CatalogMirror
	GetSetting(ctx context.Context, key string) ([]byte, bool)
	SetSetting(ctx context.Context, key string, value []byte) error
}

// OfflineChecker reports the connectivity state.
type OfflineChecker interface {
	IsOffline() bool
}

// ProfileInfo is the catalog relevant part of a POS profile.
type ProfileInfo struct {
	Name       string   `json:"name"`
	ItemGroups []string `json:"item_groups"`
}

// Synchronizer keeps the local catalog mirror filled.
type Synchronizer struct {
	mu sync.RWMutex

	remote ItemsRemote
	mirror Mirror
	conn   OfflineChecker
	cfg    config.CatalogConfig

	profile       string
	groups        []string
	selectedGroup string
	loaded        map[string]bool
	page          int
	total         int

	generation atomic.Uint64
	writeMu    sync.RWMutex

	progress Progress
	seen     map[string]struct{}
	subs     map[int]func(Progress)
	nextID   int

	baseCtx  context.Context
	cancel   context.CancelFunc
	bgCancel context.CancelFunc
	wg       sync.WaitGroup

	backoffBase time.Duration
	backoffMax  time.Duration
}

// NewSynchronizer creates a synchronizer. conn may be nil.
func NewSynchronizer(remote ItemsRemote, mirror Mirror, conn OfflineChecker, cfg config.CatalogConfig) *Synchronizer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = 5
	}
	if cfg.StatsTimeout <= 0 {
		cfg.StatsTimeout = 3 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Synchronizer{
		remote:      remote,
		mirror:      mirror,
		conn:        conn,
		cfg:         cfg,
		groups:      append([]string(nil), cfg.ItemGroups...),
		loaded:      make(map[string]bool),
		progress:    Progress{Status: StatusIdle},
		seen:        make(map[string]struct{}),
		subs:        make(map[int]func(Progress)),
		baseCtx:     ctx,
		cancel:      cancel,
		backoffBase: 2 * time.Second,
		backoffMax:  30 * time.Second,
	}
}

// Stop cancels background work and waits for it to exit.
func (s *Synchronizer) Stop() {
	s.bumpGeneration()
	s.cancel()
	s.wg.Wait()
}

func (s *Synchronizer) offline() bool {
	return s.conn != nil && s.conn.IsOffline()
}

// Generation returns the current generation number.
func (s *Synchronizer) Generation() uint64 {
	return s.generation.Load()
}

// bumpGeneration invalidates all running work. It waits for an in-flight
// write of the old generation so that none can land afterwards.
func (s *Synchronizer) bumpGeneration() uint64 {
	s.writeMu.Lock()
	gen := s.generation.Add(1)
	s.writeMu.Unlock()

	s.mu.Lock()
	if s.bgCancel != nil {
		s.bgCancel()
		s.bgCancel = nil
	}
	if s.progress.Status == StatusSyncing {
		s.progress.Status = StatusCancelled
	}
	s.mu.Unlock()
	return gen
}

func (s *Synchronizer) current(gen uint64) bool {
	return s.generation.Load() == gen
}

// upsertIfCurrent writes items unless gen was superseded.
func (s *Synchronizer) upsertIfCurrent(ctx context.Context, gen uint64, items []models.Item) error {
	s.writeMu.RLock()
	defer s.writeMu.RUnlock()

	if !s.current(gen) {
		return ErrSuperseded
	}
	now := time.Now()
	cached := make([]models.CachedCatalogItem, 0, len(items))
	for _, it := range items {
		if it.ItemCode == "" {
			continue
		}
		cached = append(cached, it.ToCached(now))
	}
	return s.mirror.UpsertItems(ctx, cached)
}

// scope returns the active profile, the group filter and the selected group.
func (s *Synchronizer) scope() (string, []string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile, append([]string(nil), s.groups...), s.selectedGroup
}

func cacheGroups(groups []string, selected string) []string {
	if selected != "" {
		return []string{selected}
	}
	return groups
}

func (s *Synchronizer) includeVariants() int {
	if s.cfg.IncludeVariants {
		return 1
	}
	return 0
}

// fetch reads one page from the server within the active filter.
func (s *Synchronizer) fetch(ctx context.Context, profile string, groups []string, selected string, start, limit int) ([]models.Item, error) {
	if selected == "" && len(groups) > 0 {
		return s.remote.GetItemsBulk(ctx, posapi.BulkItemsRequest{
			POSProfile:      profile,
			ItemGroups:      groups,
			Start:           start,
			Limit:           limit,
			IncludeVariants: s.includeVariants(),
		})
	}
	return s.remote.GetItems(ctx, posapi.ItemsRequest{
		POSProfile:      profile,
		ItemGroup:       selected,
		Start:           start,
		Limit:           limit,
		IncludeVariants: s.includeVariants(),
	})
}

// count asks the server for the catalog size with a short timeout. Zero
// means unknown.
func (s *Synchronizer) count(ctx context.Context, profile, selected string) int {
	statsCtx, cancel := context.WithTimeout(ctx, s.cfg.StatsTimeout)
	defer cancel()

	n, err := s.remote.GetItemsCount(statsCtx, profile, selected, s.cfg.IncludeVariants)
	if err != nil {
		if !posapi.IsNetworkError(err) && !errors.Is(err, context.DeadlineExceeded) {
			log.Printf("⚠️ Catalog: item count unavailable: %v", err)
		}
		return 0
	}
	return n
}

func (s *Synchronizer) cachedPage(ctx context.Context, groups []string, selected string, page int) []models.CachedCatalogItem {
	return s.mirror.QueryItems(ctx, store.ItemQuery{
		Groups: cacheGroups(groups, selected),
		Offset: page * s.cfg.PageSize,
		Limit:  s.cfg.PageSize,
	})
}

// savedGroups reads the group filter the mirror was last filled with.
func (s *Synchronizer) savedGroups(ctx context.Context, profile string) ([]string, bool) {
	blob, ok := s.mirror.GetSetting(ctx, models.ProfileGroupsKey(profile))
	if !ok {
		return nil, false
	}
	var groups []string
	if err := json.Unmarshal(blob, &groups); err != nil {
		log.Printf("⚠️ Catalog: corrupt group filter for %s: %v", profile, err)
		return nil, false
	}
	return groups, true
}

func (s *Synchronizer) restoreGroups(ctx context.Context, profile string) {
	groups, ok := s.savedGroups(ctx, profile)
	if !ok {
		return
	}
	s.mu.Lock()
	s.groups = groups
	s.mu.Unlock()
}

func (s *Synchronizer) persistGroups(ctx context.Context, profile string, groups []string) {
	if groups == nil {
		groups = []string{}
	}
	blob, _ := json.Marshal(groups)
	if err := s.mirror.SetSetting(ctx, models.ProfileGroupsKey(profile), blob); err != nil {
		log.Printf("⚠️ Catalog: failed to persist group filter for %s: %v", profile, err)
	}
}

// LoadAll prepares the catalog of profile and returns the first page.
// Offline, when the cache was completely filled in this session, or while a
// background sync is still filling it, it serves the cache. Small catalogs
// are fetched whole; large ones get a first page and a background sync.
func (s *Synchronizer) LoadAll(ctx context.Context, profile string, force bool) ([]models.CachedCatalogItem, error) {
	if profile == "" {
		return nil, ErrNoProfile
	}

	s.mu.Lock()
	switched := s.profile != profile
	if switched {
		s.profile = profile
		s.groups = append([]string(nil), s.cfg.ItemGroups...)
		s.selectedGroup = ""
		s.total = 0
	}
	s.page = 0
	s.mu.Unlock()
	if switched {
		s.bumpGeneration()
		s.restoreGroups(ctx, profile)
	}
	_, groups, selected := s.scope()

	if s.offline() {
		log.Printf("📦 Catalog: offline, serving cached items for %s", profile)
		return s.cachedPage(ctx, groups, selected, 0), nil
	}

	s.mu.RLock()
	fresh := s.loaded[profile]
	s.mu.RUnlock()
	if fresh && !force && s.mirror.CountItems(ctx, cacheGroups(groups, selected)) > 0 {
		return s.cachedPage(ctx, groups, selected, 0), nil
	}
	if !force && s.syncing() {
		return s.cachedPage(ctx, groups, selected, 0), nil
	}

	gen := s.bumpGeneration()
	total := s.count(ctx, profile, selected)
	s.mu.Lock()
	s.total = total
	s.mu.Unlock()

	if total > 0 && total <= s.cfg.SmallCatalogThreshold {
		log.Printf("📥 Catalog: small catalog (%d items), fetching everything", total)
		if err := s.fetchAll(ctx, gen, profile, groups, selected); err != nil {
			if errors.Is(err, ErrSuperseded) {
				return nil, err
			}
			log.Printf("⚠️ Catalog: full fetch failed, falling back to cache: %v", err)
			return s.cachedPage(ctx, groups, selected, 0), nil
		}
		s.markLoaded(profile)
		s.setProgress(gen, func(p *Progress) {
			p.Status = StatusComplete
			p.Total = total
			p.Percent = 100
		})
		return s.cachedPage(ctx, groups, selected, 0), nil
	}

	items, err := s.fetch(ctx, profile, groups, selected, 0, s.cfg.PageSize)
	if err != nil {
		log.Printf("⚠️ Catalog: first page failed, falling back to cache: %v", err)
		return s.cachedPage(ctx, groups, selected, 0), nil
	}
	if err := s.upsertIfCurrent(ctx, gen, items); err != nil {
		if errors.Is(err, ErrSuperseded) {
			return nil, err
		}
		log.Printf("❌ Catalog: failed to cache first page: %v", err)
	}
	s.startBackground(gen, profile, groups, selected, total)
	return s.cachedPage(ctx, groups, selected, 0), nil
}

// syncing reports whether a background sync of the current generation runs.
func (s *Synchronizer) syncing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress.Status == StatusSyncing && s.progress.Generation == s.generation.Load()
}

// markLoaded records that the mirror holds the whole catalog of profile.
func (s *Synchronizer) markLoaded(profile string) {
	s.mu.Lock()
	s.loaded[profile] = true
	s.mu.Unlock()
}

// fetchAll pulls every page of the filter in the foreground.
func (s *Synchronizer) fetchAll(ctx context.Context, gen uint64, profile string, groups []string, selected string) error {
	for start := 0; ; start += s.cfg.BatchSize {
		if !s.current(gen) {
			return ErrSuperseded
		}
		items, err := s.fetch(ctx, profile, groups, selected, start, s.cfg.BatchSize)
		if err != nil {
			return err
		}
		if err := s.upsertIfCurrent(ctx, gen, items); err != nil {
			return err
		}
		s.recordProgress(gen, items)
		if len(items) < s.cfg.BatchSize {
			return nil
		}
	}
}

// LoadMore returns the next page, reading through to the server when the
// cache runs short.
func (s *Synchronizer) LoadMore(ctx context.Context) ([]models.CachedCatalogItem, error) {
	s.mu.Lock()
	if s.profile == "" {
		s.mu.Unlock()
		return nil, ErrNoProfile
	}
	s.page++
	page := s.page
	s.mu.Unlock()
	return s.FetchPage(ctx, page)
}

// FetchPage returns page n (zero based) of the active filter.
func (s *Synchronizer) FetchPage(ctx context.Context, n int) ([]models.CachedCatalogItem, error) {
	if n < 0 {
		return nil, fmt.Errorf("catalog: invalid page %d", n)
	}
	profile, groups, selected := s.scope()
	if profile == "" {
		return nil, ErrNoProfile
	}

	cached := s.cachedPage(ctx, groups, selected, n)
	if len(cached) >= s.cfg.PageSize || s.offline() {
		return cached, nil
	}

	gen := s.generation.Load()
	items, err := s.fetch(ctx, profile, groups, selected, n*s.cfg.PageSize, s.cfg.PageSize)
	if err != nil {
		log.Printf("⚠️ Catalog: page %d fetch failed, serving cache: %v", n, err)
		return cached, nil
	}
	if err := s.upsertIfCurrent(ctx, gen, items); err != nil {
		if errors.Is(err, ErrSuperseded) {
			return nil, err
		}
		log.Printf("❌ Catalog: failed to cache page %d: %v", n, err)
	}
	return s.cachedPage(ctx, groups, selected, n), nil
}

// SetSelectedGroup narrows browsing and syncing to one item group. An empty
// group returns to the profile filter.
func (s *Synchronizer) SetSelectedGroup(ctx context.Context, group string) ([]models.CachedCatalogItem, error) {
	s.mu.Lock()
	if s.profile == "" {
		s.mu.Unlock()
		return nil, ErrNoProfile
	}
	if s.selectedGroup == group {
		s.mu.Unlock()
		return s.FetchPage(ctx, 0)
	}
	s.selectedGroup = group
	s.page = 0
	profile := s.profile
	s.mu.Unlock()

	gen := s.bumpGeneration()
	log.Printf("🔄 Catalog: group filter changed to %q (generation %d)", group, gen)

	page, err := s.FetchPage(ctx, 0)
	if err != nil {
		return nil, err
	}
	if !s.offline() {
		_, groups, selected := s.scope()
		s.mu.RLock()
		total := s.total
		s.mu.RUnlock()
		if selected != "" {
			total = s.count(ctx, profile, selected)
		}
		s.startBackground(gen, profile, groups, selected, total)
	}
	return page, nil
}

// ProfileSource reads the item group filter of a profile from the server.
type ProfileSource interface {
	GetProfileItemGroups(ctx context.Context, profile string) ([]string, error)
}

// RefreshProfile fetches the groups of profile and applies them.
func (s *Synchronizer) RefreshProfile(ctx context.Context, src ProfileSource, profile string) error {
	groups, err := src.GetProfileItemGroups(ctx, profile)
	if err != nil {
		return fmt.Errorf("catalog: profile %s: %w", profile, err)
	}
	return s.SetProfile(ctx, ProfileInfo{Name: profile, ItemGroups: groups})
}

// SetProfile applies a profile update from the server. The first call
// adopts the profile and drops mirrored groups the saved filter had but the
// profile no longer has; added groups are filled by the next LoadAll. Later
// calls for the active profile apply the item group delta, and calls for
// other profiles are ignored.
func (s *Synchronizer) SetProfile(ctx context.Context, info ProfileInfo) error {
	s.mu.Lock()
	current := s.profile
	oldGroups := append([]string(nil), s.groups...)
	if current == "" {
		s.profile = info.Name
		s.groups = append([]string(nil), info.ItemGroups...)
		s.mu.Unlock()

		if saved, ok := s.savedGroups(ctx, info.Name); ok {
			delta := CalculateGroupDelta(saved, info.ItemGroups)
			if len(delta.Removed) > 0 && len(info.ItemGroups) > 0 {
				n, err := s.mirror.DeleteItemsByGroups(ctx, delta.Removed)
				if err != nil {
					return fmt.Errorf("remove groups %v: %w", delta.Removed, err)
				}
				log.Printf("🧹 Catalog: %s no longer sells %v, removed %d items", info.Name, delta.Removed, n)
			}
		}
		s.persistGroups(ctx, info.Name, info.ItemGroups)
		return nil
	}
	s.mu.Unlock()

	if info.Name != current {
		log.Printf("⚠️ Catalog: ignoring update for inactive profile %s", info.Name)
		return nil
	}

	delta := CalculateGroupDelta(oldGroups, info.ItemGroups)
	if delta.Empty() {
		return nil
	}
	log.Printf("🔄 Catalog: group filter of %s changed (+%d, -%d)", info.Name, len(delta.Added), len(delta.Removed))

	s.mu.Lock()
	s.groups = append([]string(nil), info.ItemGroups...)
	s.selectedGroup = ""
	s.page = 0
	s.mu.Unlock()
	gen := s.bumpGeneration()

	err := s.applyDelta(ctx, gen, info.Name, delta)
	if errors.Is(err, ErrSuperseded) {
		return err
	}
	if err != nil {
		log.Printf("⚠️ Catalog: delta update failed, rebuilding cache: %v", err)
		if err := s.mirror.ClearItems(ctx); err != nil {
			log.Printf("❌ Catalog: failed to clear cache: %v", err)
		}
		s.mu.Lock()
		delete(s.loaded, info.Name)
		s.mu.Unlock()
		s.persistGroups(ctx, info.Name, info.ItemGroups)
		_, err = s.LoadAll(ctx, info.Name, true)
		return err
	}

	s.persistGroups(ctx, info.Name, info.ItemGroups)
	return nil
}

func (s *Synchronizer) applyDelta(ctx context.Context, gen uint64, profile string, delta GroupDelta) error {
	if len(delta.Removed) > 0 {
		n, err := s.mirror.DeleteItemsByGroups(ctx, delta.Removed)
		if err != nil {
			return fmt.Errorf("remove groups %v: %w", delta.Removed, err)
		}
		log.Printf("🧹 Catalog: removed %d items of %v", n, delta.Removed)
	}
	if len(delta.Added) == 0 {
		return nil
	}
	if s.offline() {
		return fmt.Errorf("add groups %v: %w", delta.Added, posapi.ErrUnreachable)
	}
	for _, group := range delta.Added {
		if err := s.fetchAll(ctx, gen, profile, nil, group); err != nil {
			return fmt.Errorf("add group %s: %w", group, err)
		}
	}
	return nil
}

// StartBackgroundSync restarts the exhaustive sync of the active filter.
func (s *Synchronizer) StartBackgroundSync() error {
	profile, groups, selected := s.scope()
	if profile == "" {
		return ErrNoProfile
	}
	gen := s.bumpGeneration()
	s.mu.RLock()
	total := s.total
	s.mu.RUnlock()
	s.startBackground(gen, profile, groups, selected, total)
	return nil
}

// Resume restarts a background sync that paused offline or gave up after
// errors and reports whether it did.
func (s *Synchronizer) Resume() bool {
	if s.offline() || s.baseCtx.Err() != nil {
		return false
	}
	s.mu.RLock()
	status := s.progress.Status
	profile := s.profile
	s.mu.RUnlock()
	if profile == "" || (status != StatusPaused && status != StatusFailed) {
		return false
	}
	log.Printf("🔄 Catalog: resuming %s background sync of %s", status, profile)
	return s.StartBackgroundSync() == nil
}

// StopBackgroundSync invalidates the running background sync.
func (s *Synchronizer) StopBackgroundSync() {
	s.bumpGeneration()
}

func (s *Synchronizer) startBackground(gen uint64, profile string, groups []string, selected string, total int) {
	ctx, cancel := context.WithCancel(s.baseCtx)

	s.mu.Lock()
	if !s.current(gen) {
		s.mu.Unlock()
		cancel()
		return
	}
	if s.bgCancel != nil {
		s.bgCancel()
	}
	s.bgCancel = cancel
	s.progress = Progress{Generation: gen, Status: StatusSyncing, Total: total, UpdatedAt: time.Now()}
	s.seen = make(map[string]struct{})
	s.mu.Unlock()
	s.publish()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.backgroundSync(ctx, gen, profile, groups, selected)
	}()
}

func (s *Synchronizer) backoff(consecutive int) time.Duration {
	d := time.Duration(float64(s.backoffBase) * math.Pow(2, float64(consecutive-1)))
	if d > s.backoffMax {
		d = s.backoffMax
	}
	return d
}

func (s *Synchronizer) backgroundSync(ctx context.Context, gen uint64, profile string, groups []string, selected string) {
	limit := rate.Inf
	if s.cfg.BatchDelay > 0 {
		limit = rate.Every(s.cfg.BatchDelay)
	}
	limiter := rate.NewLimiter(limit, 1)

	log.Printf("🔄 Catalog: background sync started for %s (generation %d)", profile, gen)
	consecutive := 0
	for start := 0; ; {
		if !s.current(gen) || ctx.Err() != nil {
			return
		}
		if s.offline() {
			s.setProgress(gen, func(p *Progress) { p.Status = StatusPaused })
			log.Printf("📡 Catalog: offline, background sync paused at %d items", start)
			return
		}
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		if !s.current(gen) {
			return
		}

		items, err := s.fetch(ctx, profile, groups, selected, start, s.cfg.BatchSize)
		if !s.current(gen) || ctx.Err() != nil {
			return
		}
		if err != nil {
			consecutive++
			if consecutive >= s.cfg.MaxConsecutiveErrors {
				log.Printf("❌ Catalog: background sync aborted after %d consecutive errors: %v", consecutive, err)
				s.setProgress(gen, func(p *Progress) {
					p.Status = StatusFailed
					p.Error = err.Error()
				})
				return
			}
			wait := s.backoff(consecutive)
			log.Printf("⏳ Catalog: batch at %d failed (%d/%d), retrying in %s: %v",
				start, consecutive, s.cfg.MaxConsecutiveErrors, wait, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		consecutive = 0

		if err := s.upsertIfCurrent(ctx, gen, items); err != nil {
			if errors.Is(err, ErrSuperseded) {
				return
			}
			log.Printf("❌ Catalog: failed to cache batch at %d: %v", start, err)
		}
		s.recordProgress(gen, items)

		if len(items) < s.cfg.BatchSize {
			s.markLoaded(profile)
			s.setProgress(gen, func(p *Progress) {
				p.Status = StatusComplete
				if p.Total > 0 {
					p.Percent = 100
				}
			})
			log.Printf("✅ Catalog: background sync complete, %d items cached", s.Progress().Cached)
			return
		}
		start += s.cfg.BatchSize
	}
}

// recordProgress counts unique item codes of gen.
func (s *Synchronizer) recordProgress(gen uint64, items []models.Item) {
	s.mu.Lock()
	if !s.current(gen) {
		s.mu.Unlock()
		return
	}
	if s.progress.Generation != gen {
		s.progress = Progress{Generation: gen, Status: StatusSyncing}
		s.seen = make(map[string]struct{})
	}
	for _, it := range items {
		if it.ItemCode != "" {
			s.seen[it.ItemCode] = struct{}{}
		}
	}
	s.progress.Cached = len(s.seen)
	if s.progress.Total > 0 {
		s.progress.Percent = math.Min(100, math.Round(float64(s.progress.Cached)/float64(s.progress.Total)*1000)/10)
	}
	s.progress.UpdatedAt = time.Now()
	s.mu.Unlock()
	s.publish()
}

func (s *Synchronizer) setProgress(gen uint64, fn func(p *Progress)) {
	s.mu.Lock()
	if !s.current(gen) {
		s.mu.Unlock()
		return
	}
	if s.progress.Generation != gen {
		s.progress = Progress{Generation: gen}
		s.seen = make(map[string]struct{})
	}
	fn(&s.progress)
	s.progress.UpdatedAt = time.Now()
	s.mu.Unlock()
	s.publish()
}

// Progress returns a copy of the current progress.
func (s *Synchronizer) Progress() Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress
}

// SubscribeProgress registers fn for progress updates.
func (s *Synchronizer) SubscribeProgress(fn func(Progress)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Synchronizer) publish() {
	s.mu.RLock()
	p := s.progress
	subs := make([]func(Progress), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.RUnlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("⚠️ Catalog progress subscriber panicked: %v", r)
				}
			}()
			fn(p)
		}()
	}
}

// Profile returns the active profile and its group filter.
func (s *Synchronizer) Profile() ProfileInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ProfileInfo{Name: s.profile, ItemGroups: append([]string(nil), s.groups...)}
}
