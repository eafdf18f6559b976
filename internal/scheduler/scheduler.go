// Package scheduler runs the continuous scrape loop.
//
// Each cycle moves through explicit states: SNAPSHOT reads the active topics,
// SHUFFLE randomizes their order, VISIT fetches them one at a time and stores
// new items, and IDLE waits out the rest of the interval. A cycle that runs
// longer than the interval is followed immediately by the next one; topics are
// never skipped to catch up.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/topicstreams/internal/metrics"
	"github.com/JakeFAU/topicstreams/internal/news"
)

// State names the phase the scheduler is in.
type State string

// Scheduler states.
const (
	StateSnapshot State = "snapshot"
	StateShuffle  State = "shuffle"
	StateVisit    State = "visit"
	StateIdle     State = "idle"
	StateStopped  State = "stopped"
)

const (
	// idleFloor bounds how hot the loop spins when there is nothing to visit
	// and no interval is configured.
	idleFloor = time.Second
	// logTimeout limits the detached write of a visit log.
	logTimeout = 5 * time.Second
)

// Topics supplies the active topic names at the start of each cycle.
type Topics interface {
	Snapshot(ctx context.Context) ([]string, error)
}

// Store is the subset of the item store the scheduler writes to.
type Store interface {
	InsertIfAbsent(ctx context.Context, topic string, raw news.RawItem) (news.Item, bool, error)
	AppendVisitLog(ctx context.Context, entry news.VisitLog) (news.VisitLog, error)
}

// Notifier is told about every newly stored item.
type Notifier interface {
	OnInserted(ctx context.Context, item news.Item)
}

// Clock reads time and waits on it.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Pacer enforces a gap between consecutive visits.
type Pacer interface {
	Wait(ctx context.Context) error
}

// SeenCache short-circuits inserts of pairs already known to be stored.
type SeenCache interface {
	Seen(ctx context.Context, topic, url string) (bool, error)
	Mark(ctx context.Context, topic, url string) error
}

// Archiver keeps the raw candidates of a successful visit.
type Archiver interface {
	Archive(ctx context.Context, topic string, at time.Time, items []news.RawItem) (string, error)
}

// Config controls cadence and fetch size.
type Config struct {
	// Interval is the target time between cycle starts. Zero or negative
	// means the next cycle starts as soon as the previous one ends.
	Interval time.Duration
	// MaxPages is passed to every Fetch call.
	MaxPages int
	// FetchTimeout bounds a single Fetch call when positive.
	FetchTimeout time.Duration
	// ShuffleSeed makes the visit order reproducible when non-zero.
	ShuffleSeed uint64
}

// Deps are the collaborators of a Scheduler. Topics, Fetcher, Store and
// Notifier are required.
type Deps struct {
	Topics   Topics
	Fetcher  news.Fetcher
	Store    Store
	Notifier Notifier
	Clock    Clock
	Pacer    Pacer
	Seen     SeenCache
	Archiver Archiver
	// Shuffle reorders topics in place. Defaults to a rand-based shuffle.
	Shuffle func([]string)
	Logger  *zap.Logger
}

// CycleReport summarizes one pass over the topic snapshot.
type CycleReport struct {
	Started    time.Time     `json:"started"`
	Duration   time.Duration `json:"duration_ns"`
	Topics     int           `json:"topics"`
	Visits     int           `json:"visits"`
	Failed     int           `json:"failed"`
	Inserted   int           `json:"inserted"`
	Duplicates int           `json:"duplicates"`
	Err        string        `json:"error,omitempty"`
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	State     State        `json:"state"`
	Cycles    int64        `json:"cycles"`
	LastCycle *CycleReport `json:"last_cycle,omitempty"`
}

// Scheduler visits every active topic once per cycle, sequentially.
type Scheduler struct {
	cfg      Config
	topics   Topics
	fetcher  news.Fetcher
	store    Store
	notifier Notifier
	clock    Clock
	pacer    Pacer
	seen     SeenCache
	archiver Archiver
	shuffle  func([]string)
	logger   *zap.Logger

	mu     sync.Mutex
	state  State
	cycles int64
	last   *CycleReport
}

// New validates deps and builds a Scheduler.
func New(cfg Config, deps Deps) (*Scheduler, error) {
	switch {
	case deps.Topics == nil:
		return nil, errors.New("topic source is required")
	case deps.Fetcher == nil:
		return nil, errors.New("fetcher is required")
	case deps.Store == nil:
		return nil, errors.New("store is required")
	case deps.Notifier == nil:
		return nil, errors.New("notifier is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	}
	if cfg.MaxPages < 1 {
		cfg.MaxPages = 1
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	shuffle := deps.Shuffle
	if shuffle == nil {
		shuffle = newShuffler(cfg.ShuffleSeed)
	}
	return &Scheduler{
		cfg:      cfg,
		topics:   deps.Topics,
		fetcher:  deps.Fetcher,
		store:    deps.Store,
		notifier: deps.Notifier,
		clock:    deps.Clock,
		pacer:    deps.Pacer,
		seen:     deps.Seen,
		archiver: deps.Archiver,
		shuffle:  shuffle,
		logger:   logger,
		state:    StateStopped,
	}, nil
}

func newShuffler(seed uint64) func([]string) {
	if seed == 0 {
		return func(topics []string) {
			rand.Shuffle(len(topics), func(i, j int) { topics[i], topics[j] = topics[j], topics[i] })
		}
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return func(topics []string) {
		rng.Shuffle(len(topics), func(i, j int) { topics[i], topics[j] = topics[j], topics[i] })
	}
}

// Run loops over cycles until ctx is cancelled. The in-flight visit is
// allowed to return before Run does.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("max_pages", s.cfg.MaxPages),
	)
	defer func() {
		s.setState(StateStopped)
		s.logger.Info("scheduler stopped")
	}()
	for ctx.Err() == nil {
		report := s.RunCycle(ctx)
		if ctx.Err() != nil {
			return
		}
		wait := nextWait(s.cfg.Interval, report.Duration)
		if wait <= 0 && (report.Topics == 0 || report.Err != "") {
			wait = idleFloor
		}
		if wait <= 0 {
			continue
		}
		s.setState(StateIdle)
		if err := s.clock.Sleep(ctx, wait); err != nil {
			return
		}
	}
}

// nextWait is the idle time before the next cycle: the rest of the interval,
// or nothing when the cycle overran or no interval is set.
func nextWait(interval, elapsed time.Duration) time.Duration {
	if interval <= 0 || elapsed >= interval {
		return 0
	}
	return interval - elapsed
}

// RunCycle performs a single SNAPSHOT, SHUFFLE and VISIT pass.
func (s *Scheduler) RunCycle(ctx context.Context) CycleReport {
	started := s.clock.Now()
	report := CycleReport{Started: started}

	s.setState(StateSnapshot)
	topics, err := s.topics.Snapshot(ctx)
	if err != nil {
		report.Err = fmt.Sprintf("snapshot topics: %v", err)
		s.logger.Error("topic snapshot failed", zap.Error(err))
	} else {
		report.Topics = len(topics)
		s.setState(StateShuffle)
		s.shuffle(topics)

		s.setState(StateVisit)
		for _, topic := range topics {
			if ctx.Err() != nil {
				break
			}
			res, visited := s.visit(ctx, topic)
			if !visited {
				continue
			}
			report.Visits++
			report.Inserted += res.inserted
			report.Duplicates += res.duplicates
			if res.failed {
				report.Failed++
			}
		}
	}

	report.Duration = s.clock.Now().Sub(started)
	metrics.ObserveCycle(report.Err != "", report.Duration)

	s.mu.Lock()
	s.cycles++
	last := report
	s.last = &last
	s.mu.Unlock()

	s.logger.Info("cycle complete",
		zap.Int("topics", report.Topics),
		zap.Int("visits", report.Visits),
		zap.Int("failed", report.Failed),
		zap.Int("inserted", report.Inserted),
		zap.Duration("duration", report.Duration),
	)
	return report
}

type visitResult struct {
	inserted   int
	duplicates int
	invalid    int
	failed     bool
}

// visit fetches one topic and records exactly one visit log for the fetch.
// It reports false when the visit was skipped before fetching.
func (s *Scheduler) visit(ctx context.Context, topic string) (visitResult, bool) {
	if s.pacer != nil {
		if err := s.pacer.Wait(ctx); err != nil {
			s.logger.Debug("visit skipped", zap.String("topic", topic), zap.Error(err))
			return visitResult{}, false
		}
	}

	attempted := s.clock.Now()
	entry := news.VisitLog{Topic: topic, AttemptedAt: attempted}

	raws, err := s.fetch(ctx, topic)
	if err != nil {
		entry.StatusCode, entry.ErrorMessage = describeFetchError(err)
		s.appendLog(ctx, entry)
		metrics.ObserveVisit(metrics.VisitFetchError)
		s.logger.Warn("fetch failed", zap.String("topic", topic), zap.Error(err))
		return visitResult{failed: true}, true
	}

	res, err := s.storeItems(ctx, topic, raws)
	metrics.ObserveItems(res.inserted, res.duplicates, res.invalid)
	if err != nil {
		res.failed = true
		msg := err.Error()
		entry.ErrorMessage = &msg
		s.appendLog(ctx, entry)
		metrics.ObserveVisit(metrics.VisitStorageError)
		s.logger.Error("store items failed", zap.String("topic", topic), zap.Error(err))
		return res, true
	}

	entry.Success = true
	s.appendLog(ctx, entry)
	metrics.ObserveVisit(metrics.VisitSuccess)
	s.logger.Debug("topic visited",
		zap.String("topic", topic),
		zap.Int("candidates", len(raws)),
		zap.Int("inserted", res.inserted),
		zap.Int("duplicates", res.duplicates),
	)
	s.archive(ctx, topic, attempted, raws)
	return res, true
}

func (s *Scheduler) fetch(ctx context.Context, topic string) ([]news.RawItem, error) {
	if s.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.FetchTimeout)
		defer cancel()
	}
	raws, err := s.fetcher.Fetch(ctx, topic, s.cfg.MaxPages)
	if err != nil {
		return nil, fmt.Errorf("fetch %q: %w", topic, err)
	}
	return raws, nil
}

// storeItems inserts candidates in order and notifies only rows the store
// reports as new. The first storage error aborts the remaining inserts.
func (s *Scheduler) storeItems(ctx context.Context, topic string, raws []news.RawItem) (visitResult, error) {
	var res visitResult
	for _, raw := range raws {
		raw = raw.Prepare()
		if raw.URL == "" {
			res.invalid++
			continue
		}
		if s.known(ctx, topic, raw.URL) {
			res.duplicates++
			continue
		}
		item, created, err := s.store.InsertIfAbsent(ctx, topic, raw)
		if err != nil {
			if !errors.Is(err, news.ErrStorage) {
				err = news.StorageError("insert item", err)
			}
			return res, err
		}
		s.markSeen(ctx, topic, raw.URL)
		if !created {
			res.duplicates++
			continue
		}
		res.inserted++
		s.notifier.OnInserted(ctx, item)
	}
	return res, nil
}

func (s *Scheduler) known(ctx context.Context, topic, url string) bool {
	if s.seen == nil {
		return false
	}
	seen, err := s.seen.Seen(ctx, topic, url)
	if err != nil {
		s.logger.Debug("seen cache lookup failed", zap.String("topic", topic), zap.Error(err))
		return false
	}
	return seen
}

func (s *Scheduler) markSeen(ctx context.Context, topic, url string) {
	if s.seen == nil {
		return
	}
	if err := s.seen.Mark(ctx, topic, url); err != nil {
		s.logger.Debug("seen cache mark failed", zap.String("topic", topic), zap.Error(err))
	}
}

func (s *Scheduler) archive(ctx context.Context, topic string, at time.Time, raws []news.RawItem) {
	if s.archiver == nil {
		return
	}
	uri, err := s.archiver.Archive(ctx, topic, at, raws)
	if err != nil {
		s.logger.Warn("archive snapshot failed", zap.String("topic", topic), zap.Error(err))
		return
	}
	s.logger.Debug("snapshot archived", zap.String("topic", topic), zap.String("uri", uri))
}

// appendLog writes the visit log even when ctx has been cancelled, so an
// interrupted visit is still recorded.
func (s *Scheduler) appendLog(ctx context.Context, entry news.VisitLog) {
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logTimeout)
	defer cancel()
	if _, err := s.store.AppendVisitLog(logCtx, entry); err != nil {
		s.logger.Error("append visit log failed", zap.String("topic", entry.Topic), zap.Error(err))
	}
}

func describeFetchError(err error) (*int, *string) {
	var status *int
	msg := err.Error()
	var fe *news.FetchError
	if errors.As(err, &fe) {
		if fe.StatusCode != 0 {
			code := fe.StatusCode
			status = &code
		}
		if fe.Message != "" {
			msg = fe.Message
		}
	}
	return status, &msg
}

// Status reports the current state and the last completed cycle.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{State: s.state, Cycles: s.cycles}
	if s.last != nil {
		last := *s.last
		st.LastCycle = &last
	}
	return st
}

func (s *Scheduler) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
