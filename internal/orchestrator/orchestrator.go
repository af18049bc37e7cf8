package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/bootstrap"
	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/fetch"
	"github.com/JakeFAU/listing-crawler/internal/frontier"
	"github.com/JakeFAU/listing-crawler/internal/progress"
	"github.com/JakeFAU/listing-crawler/internal/sink"
)

const tracerName = "github.com/JakeFAU/listing-crawler/internal/orchestrator"

// ErrAlreadyRunning is returned when Run is called while a run is active.
var ErrAlreadyRunning = errors.New("orchestrator: run already in progress")

// CategoryWalker discovers product URLs for one seed category.
type CategoryWalker interface {
	Walk(ctx context.Context, seedURL string, provider fetch.Provider, pageLimit int) (frontier.WalkResult, error)
}

// ProductFetcher fetches one URL, refreshing its origin session once when
// the attempt budget runs out.
type ProductFetcher interface {
	FetchWithRefresh(ctx context.Context, provider fetch.Provider, rawURL string) ([]byte, error)
}

// Flusher persists the accumulated records.
type Flusher interface {
	Flush(ctx context.Context, run crawler.RunInfo, records []crawler.ProductRecord) (sink.Report, error)
}

// Config controls pacing and bounds.
type Config struct {
	// PageLimit bounds listing pages per category; 0 means unbounded.
	PageLimit int
	// ProductCap stops the run once this many records exist; 0 disables it.
	ProductCap int
	// Delay is the minimum pause after every product fetch.
	Delay time.Duration
	// Jitter is the upper bound of the uniform random extra pause.
	Jitter time.Duration
	// FlushTimeout bounds the final flush, which runs even after cancellation.
	FlushTimeout time.Duration
	// Topic receives the run summary when a publisher is configured.
	Topic string
}

func (c Config) withDefaults() Config {
	if c.PageLimit < 0 {
		c.PageLimit = 0
	}
	if c.ProductCap < 0 {
		c.ProductCap = 0
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 2 * time.Minute
	}
	return c
}

// Orchestrator owns the run state machine. One Orchestrator runs at most one
// crawl at a time.
type Orchestrator struct {
	cfg       Config
	walker    CategoryWalker
	fetcher   ProductFetcher
	provider  fetch.Provider
	flusher   Flusher
	publisher crawler.Publisher
	events    progress.Emitter
	pauser    crawler.Pauser
	hasher    crawler.Hasher
	clock     crawler.Clock
	ids       crawler.IDGenerator
	jitter    func(bound time.Duration) time.Duration
	tracer    trace.Tracer
	logger    *zap.Logger

	mu    sync.Mutex
	state crawler.RunState
	runID uuid.UUID
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithPublisher announces each finished run.
func WithPublisher(p crawler.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithEmitter sends progress events.
func WithEmitter(e progress.Emitter) Option {
	return func(o *Orchestrator) { o.events = e }
}

// WithPauser replaces the timer used for pacing.
func WithPauser(p crawler.Pauser) Option {
	return func(o *Orchestrator) { o.pauser = p }
}

// WithHasher stamps records with a content digest.
func WithHasher(h crawler.Hasher) Option {
	return func(o *Orchestrator) { o.hasher = h }
}

// WithClock replaces the wall clock.
func WithClock(c crawler.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithIDGenerator replaces the run ID source.
func WithIDGenerator(g crawler.IDGenerator) Option {
	return func(o *Orchestrator) { o.ids = g }
}

// WithJitter replaces the random jitter source. fn receives the configured
// bound and returns a duration in [0, bound].
func WithJitter(fn func(bound time.Duration) time.Duration) Option {
	return func(o *Orchestrator) { o.jitter = fn }
}

// WithTracerProvider traces runs, categories and products. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Orchestrator) { o.tracer = tp.Tracer(tracerName) }
}

// New wires an Orchestrator.
func New(
	cfg Config,
	walker CategoryWalker,
	fetcher ProductFetcher,
	provider fetch.Provider,
	flusher Flusher,
	logger *zap.Logger,
	opts ...Option,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		cfg:      cfg.withDefaults(),
		walker:   walker,
		fetcher:  fetcher,
		provider: provider,
		flusher:  flusher,
		events:   progress.Discard{},
		pauser:   crawler.TimerPauser{},
		clock:    utcClock{},
		jitter:   uniformJitter,
		tracer:   otel.Tracer(tracerName),
		logger:   logger.Named("orchestrator"),
		state:    crawler.RunStateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State reports the current or last terminal state.
func (o *Orchestrator) State() crawler.RunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// run is the mutable state of one crawl.
type run struct {
	id        uuid.UUID
	info      crawler.RunInfo
	seeds     []string
	provider  *guardedProvider
	seen      *crawler.SeenSet
	records   []crawler.ProductRecord
	summary   crawler.RunSummary
	capHit    bool
	startedAt time.Time
}

// Run crawls seeds in order and returns once a terminal state is reached.
// The records gathered so far are flushed exactly once on every path. The
// returned error is nil for COMPLETED and INTERRUPTED runs unless the flush
// failed.
func (o *Orchestrator) Run(ctx context.Context, seeds []string) (crawler.RunSummary, error) {
	r, err := o.begin(seeds)
	if err != nil {
		return crawler.RunSummary{}, err
	}
	ctx, span := o.tracer.Start(ctx, "crawl.run", trace.WithAttributes(
		attribute.String("run.id", r.info.ID),
		attribute.Int("run.categories", len(seeds)),
	))
	defer span.End()

	log := o.logger.With(zap.String("run_id", r.info.ID))
	log.Info("run started", zap.Int("categories", len(seeds)))
	o.emit(r, progress.Event{Stage: progress.StageRunStart, Count: len(seeds)})

	loopErr := o.safeLoop(ctx, r, log)
	state := deriveState(loopErr)
	sum, err := o.finish(ctx, r, state, loopErr, log)
	span.SetAttributes(
		attribute.String("run.state", string(sum.State)),
		attribute.Int("run.records", sum.Records),
	)
	if sum.State == crawler.RunStateFailed || err != nil {
		span.SetStatus(codes.Error, firstNonEmpty(sum.Error, errString(err)))
	}
	return sum, err
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (o *Orchestrator) begin(seeds []string) (*run, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == crawler.RunStateRunning {
		return nil, ErrAlreadyRunning
	}

	idStr, id := o.newRunID()
	started := o.clock.Now()
	o.state = crawler.RunStateRunning
	o.runID = id
	return &run{
		id:        id,
		info:      crawler.RunInfo{ID: idStr, StartedAt: started, State: crawler.RunStateRunning},
		seeds:     append([]string(nil), seeds...),
		provider:  newGuardedProvider(o.provider),
		seen:      crawler.NewSeenSet(),
		startedAt: started,
		summary: crawler.RunSummary{
			RunID:      idStr,
			StartedAt:  started,
			Categories: len(seeds),
		},
	}, nil
}

func (o *Orchestrator) newRunID() (string, uuid.UUID) {
	if o.ids != nil {
		if s, err := o.ids.NewID(); err == nil && s != "" {
			if id, err := uuid.Parse(s); err == nil {
				return s, id
			}
			return s, uuid.NewSHA1(uuid.NameSpaceURL, []byte(s))
		} else if err != nil {
			o.logger.Warn("run id generator failed, using random id", zap.Error(err))
		}
	}
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String(), id
}

// safeLoop converts a panic anywhere in the crawl into ErrFatalRun so the
// flush still happens.
func (o *Orchestrator) safeLoop(ctx context.Context, r *run, log *zap.Logger) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("run panicked", zap.Any("panic", rec), zap.Stack("stack"))
			err = fmt.Errorf("%w: panic: %v", crawler.ErrFatalRun, rec)
		}
	}()
	return o.loop(ctx, r, log)
}

func (o *Orchestrator) loop(ctx context.Context, r *run, log *zap.Logger) error {
	for _, category := range r.seeds {
		if err := ctx.Err(); err != nil {
			return err
		}
		if o.capReached(r) {
			log.Info("product cap reached, skipping remaining categories", zap.Int("records", len(r.records)))
			return nil
		}
		if err := o.crawlCategory(ctx, r, category, log.With(zap.String("category", category))); err != nil {
			return err
		}
		if r.capHit {
			return nil
		}
	}
	return nil
}

func (o *Orchestrator) crawlCategory(ctx context.Context, r *run, category string, log *zap.Logger) error {
	ctx, span := o.tracer.Start(ctx, "crawl.category", trace.WithAttributes(attribute.String("category", category)))
	defer span.End()

	o.emit(r, progress.Event{Stage: progress.StageCategoryStart, Category: category})

	origin, err := crawler.OriginOf(category)
	if err != nil {
		log.Warn("skipping category with invalid url", zap.Error(err))
		return nil
	}
	if ferr := r.provider.failure(origin); ferr != nil {
		log.Warn("skipping category, origin bootstrap failed earlier in this run",
			zap.String("origin", origin.String()), zap.Error(ferr))
		return nil
	}

	log.Info("walking category", zap.Int("page_limit", o.cfg.PageLimit))
	walk, err := o.walker.Walk(ctx, category, r.provider, o.cfg.PageLimit)
	r.summary.PagesVisited += walk.PagesVisited
	r.summary.PagesDropped += walk.PagesDropped
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		log.Warn("category walk failed", zap.Error(err))
		return nil
	}
	log.Info("category walked",
		zap.Int("products", len(walk.Products)),
		zap.Int("pages_visited", walk.PagesVisited),
		zap.Int("pages_dropped", walk.PagesDropped),
	)

	for _, d := range walk.Products {
		if err := ctx.Err(); err != nil {
			return err
		}
		if o.capReached(r) {
			r.capHit = true
			log.Info("product cap reached", zap.Int("records", len(r.records)))
			return nil
		}
		if err := o.crawlProduct(ctx, r, category, d, log); err != nil {
			return err
		}
	}
	r.summary.CategoriesDone++
	return nil
}

func (o *Orchestrator) crawlProduct(ctx context.Context, r *run, category string, d frontier.Discovery, log *zap.Logger) error {
	productURL, origin, err := crawler.ResolveProductURL(d.Page, d.ProductURL)
	if err != nil {
		log.Warn("skipping unresolvable product url", zap.String("product", d.ProductURL), zap.Error(err))
		return nil
	}
	if normalized, err := crawler.NormalizeURL(productURL); err == nil {
		productURL = normalized
	}
	// Only successes are marked, so a failed product gets another chance when
	// a later category links it.
	if r.seen.Contains(productURL) {
		log.Debug("product already seen", zap.String("product", productURL))
		return nil
	}

	plog := log.With(zap.String("product", productURL), zap.String("page", d.Page), zap.String("origin", origin.String()))
	fetchCtx, span := o.tracer.Start(ctx, "crawl.product", trace.WithAttributes(
		attribute.String("product", productURL),
		attribute.String("origin", origin.String()),
	))
	start := o.clock.Now()
	body, err := o.fetcher.FetchWithRefresh(fetchCtx, r.provider, productURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
	}
	span.End()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		r.summary.ProductFailures++
		plog.Warn("product fetch failed",
			zap.Bool("session_expired", errors.Is(err, crawler.ErrSessionExpired)),
			zap.Bool("bootstrap_failed", errors.Is(err, crawler.ErrBootstrap)),
			zap.Error(err),
		)
		o.emit(r, progress.Event{Stage: progress.StageProductFailed, Category: category, URL: productURL, Note: err.Error()})
	} else {
		rec := o.newRecord(origin, category, d.Page, productURL, body)
		r.records = append(r.records, rec)
		r.seen.MarkIfNew(productURL)
		plog.Info("product fetched", zap.Int("bytes", len(body)), zap.Int("records", len(r.records)))
		o.emit(r, progress.Event{
			Stage:    progress.StageProductDone,
			Category: category,
			URL:      productURL,
			Count:    len(r.records),
			Dur:      nonNegative(o.clock.Now().Sub(start)),
		})
	}

	delay := o.cfg.Delay
	if o.cfg.Jitter > 0 {
		delay += o.jitter(o.cfg.Jitter)
	}
	return o.pauser.Pause(ctx, delay)
}

func (o *Orchestrator) newRecord(origin crawler.Origin, category, page, productURL string, body []byte) crawler.ProductRecord {
	rec := crawler.ProductRecord{
		Market:       origin.Host,
		Category:     category,
		CategoryPage: page,
		ProductURL:   productURL,
		FetchedAt:    o.clock.Now().Unix(),
		HTML:         string(body),
	}
	if o.hasher != nil {
		if sum, err := o.hasher.Hash(body); err == nil {
			rec.ContentSHA256 = sum
		}
	}
	return rec
}

func (o *Orchestrator) capReached(r *run) bool {
	return o.cfg.ProductCap > 0 && len(r.records) >= o.cfg.ProductCap
}

// deriveState maps the loop outcome to a terminal state.
func deriveState(loopErr error) crawler.RunState {
	switch {
	case loopErr == nil:
		return crawler.RunStateCompleted
	case errors.Is(loopErr, crawler.ErrFatalRun):
		return crawler.RunStateFailed
	case errors.Is(loopErr, context.Canceled), errors.Is(loopErr, context.DeadlineExceeded):
		return crawler.RunStateInterrupted
	default:
		return crawler.RunStateFailed
	}
}

func (o *Orchestrator) finish(ctx context.Context, r *run, state crawler.RunState, loopErr error, log *zap.Logger) (crawler.RunSummary, error) {
	r.info.State = state
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.FlushTimeout)
	defer cancel()

	report, flushErr := o.flush(flushCtx, r)

	sum := r.summary
	sum.State = state
	sum.FinishedAt = o.clock.Now()
	sum.Records = len(r.records)
	if len(report.Artifacts) > 0 {
		sum.Artifacts = report.Artifacts
	}
	if len(report.Errors) > 0 {
		sum.SinkErrors = report.Errors
	}
	var errs []error
	if state == crawler.RunStateFailed {
		if !errors.Is(loopErr, crawler.ErrFatalRun) {
			loopErr = fmt.Errorf("%w: %w", crawler.ErrFatalRun, loopErr)
		}
		errs = append(errs, loopErr)
	}
	if flushErr != nil {
		errs = append(errs, flushErr)
	}
	if err := errors.Join(errs...); err != nil {
		sum.Error = err.Error()
	}

	fields := []zap.Field{
		zap.String("state", string(state)),
		zap.Int("records", sum.Records),
		zap.Int("pages_visited", sum.PagesVisited),
		zap.Int("pages_dropped", sum.PagesDropped),
		zap.Int("product_failures", sum.ProductFailures),
		zap.Int("failed_origins", r.provider.failedCount()),
		zap.Duration("elapsed", sum.FinishedAt.Sub(sum.StartedAt)),
	}
	if state == crawler.RunStateFailed || flushErr != nil {
		log.Error("run finished", append(fields, zap.Error(errors.Join(errs...)))...)
	} else {
		log.Info("run finished", fields...)
	}

	o.publish(flushCtx, sum, log)
	o.emit(r, progress.Event{
		Stage: progress.StageRunDone,
		State: string(state),
		Count: sum.Records,
		Dur:   nonNegative(sum.FinishedAt.Sub(sum.StartedAt)),
		Note:  sum.Error,
	})

	o.mu.Lock()
	o.state = state
	o.mu.Unlock()
	return sum, errors.Join(errs...)
}

func (o *Orchestrator) flush(ctx context.Context, r *run) (report sink.Report, err error) {
	if o.flusher == nil {
		return sink.Report{}, errors.New("no result sink configured")
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("flush panicked: %v", rec)
		}
	}()
	records := append([]crawler.ProductRecord(nil), r.records...)
	report, err = o.flusher.Flush(ctx, r.info, records)
	if err != nil {
		return report, fmt.Errorf("flush results: %w", err)
	}
	return report, nil
}

func (o *Orchestrator) publish(ctx context.Context, sum crawler.RunSummary, log *zap.Logger) {
	if o.publisher == nil {
		return
	}
	id, err := o.publisher.Publish(ctx, o.cfg.Topic, sum)
	if err != nil {
		log.Warn("run notification failed", zap.Error(err))
		return
	}
	log.Debug("run notification published", zap.String("message_id", id))
}

// ObserveBootstrap reports a credential bootstrap as a progress event for the
// active run. It is meant to be passed to bootstrap.WithObserver.
func (o *Orchestrator) ObserveBootstrap(rep bootstrap.Report) {
	id, ok := o.activeRun()
	if !ok {
		return
	}
	evt := progress.Event{
		RunID:  id,
		TS:     o.clock.Now(),
		Stage:  progress.StageBootstrapDone,
		Origin: rep.Origin.String(),
		Dur:    nonNegative(rep.Duration),
		Note:   rep.Reason,
	}
	if rep.Err != nil {
		evt.Stage = progress.StageBootstrapFailed
		evt.Note = rep.Reason + ": " + rep.Err.Error()
	}
	o.events.Emit(evt)
}

// ObservePage reports a listing page outcome for the active run. It is meant
// to be passed to frontier.WithPageHook.
func (o *Orchestrator) ObservePage(rep frontier.PageReport) {
	id, ok := o.activeRun()
	if !ok {
		return
	}
	evt := progress.Event{
		RunID: id,
		TS:    o.clock.Now(),
		Stage: progress.StagePageDone,
		URL:   rep.URL,
		Count: rep.Products,
	}
	if rep.Err != nil {
		evt.Stage = progress.StagePageDropped
		evt.Note = rep.Err.Error()
	}
	o.events.Emit(evt)
}

func (o *Orchestrator) activeRun() (uuid.UUID, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runID, o.state == crawler.RunStateRunning
}

func (o *Orchestrator) emit(r *run, evt progress.Event) {
	evt.RunID = r.id
	evt.TS = o.clock.Now()
	o.events.Emit(evt)
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

func uniformJitter(bound time.Duration) time.Duration {
	if bound <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(bound) + 1))
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
