// Package saga contains multi-step business processes that orchestrate
// several domain operations in a coordinated manner.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/academic"
	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/achievement"
	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/achievement/predicates"
	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/shared"
	"github.com/Jose-Baigorria/tracking-carrera/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATION FLOW SAGA
// Flow: Lock → Load Snapshot → Load Catalog → Load Unlocked → Evaluate →
//
//	Record Unlocks → Publish Events
//
// One pass evaluates every pending catalog entry for one user against an
// immutable snapshot of that user's records. Loading and recording are
// critical; publishing is not.
// ══════════════════════════════════════════════════════════════════════════════

// Triggers.
const (
	TriggerManual    = "manual"
	TriggerGrade     = "grade_recorded"
	TriggerScheduled = "scheduled"
	TriggerCLI       = "cli"
)

// EvaluationInput identifies the user to evaluate and what caused the pass.
type EvaluationInput struct {
	UserID  string
	Trigger string
}

// Validate checks if the input is valid.
func (i EvaluationInput) Validate() error {
	if i.UserID == "" {
		return shared.ErrUserIDRequired
	}
	return nil
}

// EvaluationResult reports one pass.
type EvaluationResult struct {
	UserID string

	// NewUnlocks holds the ids recorded by this pass, in catalog order.
	NewUnlocks []string

	// Faulted holds ids whose predicate panicked.
	Faulted []string

	// Evaluated counts predicates that ran.
	Evaluated int

	// AlreadyUnlocked counts catalog entries the user held before the pass.
	AlreadyUnlocked int

	// SkippedCount counts entries of categories disabled for the user.
	SkippedCount int

	// Skipped is set when another pass held the user's lock.
	Skipped bool

	Duration    time.Duration
	ProcessedAt time.Time
}

// HasNewUnlocks returns true if the pass recorded any unlock.
func (r *EvaluationResult) HasNewUnlocks() bool {
	return len(r.NewUnlocks) > 0
}

// EvaluationFlowStep represents a step in the evaluation flow.
type EvaluationFlowStep string

const (
	StepValidateInput  EvaluationFlowStep = "validate_input"
	StepAcquireLock    EvaluationFlowStep = "acquire_lock"
	StepLoadSnapshot   EvaluationFlowStep = "load_snapshot"
	StepLoadCatalog    EvaluationFlowStep = "load_catalog"
	StepLoadUnlocked   EvaluationFlowStep = "load_unlocked"
	StepEvaluate       EvaluationFlowStep = "evaluate"
	StepRecordUnlocks  EvaluationFlowStep = "record_unlocks"
	StepPublishEvents  EvaluationFlowStep = "publish_events"
	StepEvaluationDone EvaluationFlowStep = "complete"
)

// EvaluationFlowState tracks the current state of one pass.
type EvaluationFlowState struct {
	CurrentStep EvaluationFlowStep
	Input       EvaluationInput
	Snapshot    *academic.Snapshot
	Catalog     []achievement.Achievement
	Unlocked    map[string]struct{}
	Satisfied   []achievement.Achievement
	Recorded    []achievement.Achievement
	Faulted     []string
	Evaluated   int
	Skipped     int
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       error
	FailedStep  EvaluationFlowStep
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Unlocker records an unlock at most once per (achievement, user).
type Unlocker interface {
	TryUnlock(ctx context.Context, achievementID, userID string, context map[string]any) (bool, error)
}

// CategoryGate decides whether a category is evaluated for a user.
type CategoryGate interface {
	AchievementCategoryEnabled(category, userID string) bool
}

// EvaluationLocker serializes passes for the same user across processes.
// release must be safe to call once acquired is true.
type EvaluationLocker interface {
	Acquire(ctx context.Context, userID string) (release func(), acquired bool, err error)
}

// MetricsRecorder receives engine metrics.
type MetricsRecorder interface {
	ObserveEvaluation(trigger, outcome string, took time.Duration)
	IncUnlock(category string)
	IncPredicateFault(achievementID string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveEvaluation(string, string, time.Duration) {}
func (noopMetrics) IncUnlock(string)                                {}
func (noopMetrics) IncPredicateFault(string)                        {}

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATION FLOW SAGA IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// EvaluationFlowSaga runs evaluation passes.
type EvaluationFlowSaga struct {
	// Dependencies
	records   academic.RecordRepository
	catalog   achievement.CatalogRepository
	unlocks   achievement.UnlockRepository
	unlocker  Unlocker
	registry  *predicates.Registry
	gate      CategoryGate
	locker    EvaluationLocker
	eventBus  shared.EventPublisher
	metrics   MetricsRecorder
	tracer    trace.Tracer
	log       *logger.Logger
	defaultTr string

	// Configuration
	enableEvents bool
}

// EvaluationFlowConfig contains configuration for the evaluation flow.
type EvaluationFlowConfig struct {
	EnableEvents   bool
	DefaultTrigger string
}

// DefaultEvaluationFlowConfig returns default configuration.
func DefaultEvaluationFlowConfig() EvaluationFlowConfig {
	return EvaluationFlowConfig{
		EnableEvents:   true,
		DefaultTrigger: TriggerManual,
	}
}

// Execute runs one evaluation pass for the user. When some unlocks could
// not be recorded, the returned result still lists, and events still
// announce, those that were, and err is an *EvaluationFlowError for the
// record step.
func (s *EvaluationFlowSaga) Execute(ctx context.Context, input EvaluationInput) (*EvaluationResult, error) {
	if input.Trigger == "" {
		input.Trigger = s.defaultTr
	}

	ctx, span := s.tracer.Start(ctx, "evaluation_flow", trace.WithAttributes(
		attribute.String("user.id", input.UserID),
		attribute.String("evaluation.trigger", input.Trigger),
	))
	defer span.End()

	result, err := s.execute(ctx, input)
	if err != nil {
		var flowErr *EvaluationFlowError
		if errors.As(err, &flowErr) {
			span.SetAttributes(attribute.String("evaluation.failed_step", string(flowErr.Step)))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "evaluation failed")
		return result, err
	}

	span.SetAttributes(
		attribute.Bool("evaluation.skipped", result.Skipped),
		attribute.Int("evaluation.evaluated", result.Evaluated),
		attribute.StringSlice("evaluation.new_unlocks", result.NewUnlocks),
		attribute.StringSlice("evaluation.faulted", result.Faulted),
	)
	return result, nil
}

func (s *EvaluationFlowSaga) execute(ctx context.Context, input EvaluationInput) (*EvaluationResult, error) {
	state := &EvaluationFlowState{
		CurrentStep: StepValidateInput,
		Input:       input,
		StartedAt:   time.Now().UTC(),
	}
	log := s.log.With(logger.UserID(input.UserID), logger.Trigger(input.Trigger))

	if err := input.Validate(); err != nil {
		state.FailedStep = StepValidateInput
		state.Error = err
		return nil, s.fail(state, err)
	}

	// Step 0: Per-user lock
	state.CurrentStep = StepAcquireLock
	if s.locker != nil {
		release, acquired, err := s.locker.Acquire(ctx, input.UserID)
		switch {
		case err != nil:
			// Without the lock the UNIQUE constraint still holds.
			log.Warn("evaluation lock unavailable, continuing unlocked", logger.Err(err))
		case !acquired:
			log.Debug("evaluation already running, skipping")
			s.metrics.ObserveEvaluation(input.Trigger, "skipped", time.Since(state.StartedAt))
			return s.skippedResult(state), nil
		default:
			defer release()
		}
	}

	// Step 1: Load snapshot
	state.CurrentStep = StepLoadSnapshot
	if err := s.stepLoadSnapshot(ctx, state); err != nil {
		return nil, s.fail(state, err)
	}

	// Step 2: Load catalog
	state.CurrentStep = StepLoadCatalog
	if err := s.stepLoadCatalog(ctx, state); err != nil {
		return nil, s.fail(state, err)
	}

	// Step 3: Load unlocked ids
	state.CurrentStep = StepLoadUnlocked
	if err := s.stepLoadUnlocked(ctx, state); err != nil {
		return nil, s.fail(state, err)
	}

	// Step 4: Evaluate predicates
	state.CurrentStep = StepEvaluate
	s.stepEvaluate(state, log)

	// Step 5: Record unlocks. A failed id does not stop the others.
	state.CurrentStep = StepRecordUnlocks
	recordErr := s.stepRecordUnlocks(ctx, state, log)

	// Step 6: Publish events for whatever was stored, even after a record
	// failure: a stored unlock is never offered again by a later pass.
	state.CurrentStep = StepPublishEvents
	if err := s.stepPublishEvents(state); err != nil {
		// Non-critical - unlocks are already stored
		log.Warn("failed to publish evaluation events", logger.Err(err))
	}

	if recordErr != nil {
		result := s.buildResult(state, time.Now().UTC())
		return result, s.fail(state, recordErr)
	}

	state.CurrentStep = StepEvaluationDone
	now := time.Now().UTC()
	state.CompletedAt = &now
	result := s.buildResult(state, now)

	s.metrics.ObserveEvaluation(input.Trigger, "ok", result.Duration)
	if result.HasNewUnlocks() || len(result.Faulted) > 0 {
		log.Info("evaluation completed",
			logger.Strings("new_unlocks", result.NewUnlocks),
			logger.Strings("faulted", result.Faulted),
			logger.Int("evaluated", result.Evaluated),
			logger.Latency(result.Duration),
		)
	} else {
		log.Debug("evaluation completed without unlocks",
			logger.Int("evaluated", result.Evaluated),
			logger.Latency(result.Duration),
		)
	}
	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SAGA STEPS
// ══════════════════════════════════════════════════════════════════════════════

// stepLoadSnapshot fetches every record collection of the user concurrently.
func (s *EvaluationFlowSaga) stepLoadSnapshot(ctx context.Context, state *EvaluationFlowState) error {
	userID := state.Input.UserID
	var p academic.SnapshotParams
	p.UserID = userID

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		p.Grades, err = s.records.GradesForUser(gctx, userID)
		return wrapLoad("grades", err)
	})
	g.Go(func() (err error) {
		p.Enrollments, err = s.records.EnrollmentsForUser(gctx, userID)
		return wrapLoad("enrollments", err)
	})
	g.Go(func() (err error) {
		p.Subjects, err = s.records.AllSubjects(gctx)
		return wrapLoad("subjects", err)
	})
	g.Go(func() (err error) {
		p.Sessions, err = s.records.StudySessionsForUser(gctx, userID)
		return wrapLoad("study sessions", err)
	})
	g.Go(func() (err error) {
		p.Social, err = s.records.SocialCountsForUser(gctx, userID)
		return wrapLoad("social counts", err)
	})
	g.Go(func() (err error) {
		p.Profile, err = s.records.ProfileForUser(gctx, userID)
		return wrapLoad("profile", err)
	})

	if err := g.Wait(); err != nil {
		state.FailedStep = StepLoadSnapshot
		state.Error = err
		return err
	}

	state.Snapshot = academic.NewSnapshot(p)
	return nil
}

func wrapLoad(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}

// stepLoadCatalog loads every achievement definition in catalog order.
func (s *EvaluationFlowSaga) stepLoadCatalog(ctx context.Context, state *EvaluationFlowState) error {
	catalog, err := s.catalog.AllAchievements(ctx)
	if err != nil {
		state.FailedStep = StepLoadCatalog
		state.Error = fmt.Errorf("failed to load catalog: %w", err)
		return state.Error
	}
	state.Catalog = catalog
	return nil
}

// stepLoadUnlocked loads the ids the user already holds.
func (s *EvaluationFlowSaga) stepLoadUnlocked(ctx context.Context, state *EvaluationFlowState) error {
	unlocked, err := s.unlocks.UnlockedIDs(ctx, state.Input.UserID)
	if err != nil {
		state.FailedStep = StepLoadUnlocked
		state.Error = fmt.Errorf("failed to load unlocked achievements: %w", err)
		return state.Error
	}
	if unlocked == nil {
		unlocked = map[string]struct{}{}
	}
	state.Unlocked = unlocked
	return nil
}

// stepEvaluate runs the predicate of every pending entry. A panicking
// predicate is recorded as faulted and treated as not met.
func (s *EvaluationFlowSaga) stepEvaluate(state *EvaluationFlowState, log *logger.Logger) {
	userID := state.Input.UserID
	for _, a := range achievement.Pending(state.Catalog, state.Unlocked) {
		if s.gate != nil && !s.gate.AchievementCategoryEnabled(string(a.Category), userID) {
			state.Skipped++
			continue
		}

		pred, ok := s.registry.Lookup(a.ID)
		if !ok {
			log.Debug("no predicate registered", logger.AchievementID(a.ID))
			continue
		}

		state.Evaluated++
		met, panicValue := safeEvaluate(pred, state.Snapshot)
		if panicValue != nil {
			state.Faulted = append(state.Faulted, a.ID)
			s.metrics.IncPredicateFault(a.ID)
			log.Error("predicate panicked",
				logger.AchievementID(a.ID),
				logger.PanicValue(panicValue),
			)
			continue
		}
		if met {
			state.Satisfied = append(state.Satisfied, a)
		}
	}
}

func safeEvaluate(pred predicates.Predicate, snapshot *academic.Snapshot) (met bool, panicValue any) {
	defer func() {
		if r := recover(); r != nil {
			met = false
			panicValue = r
		}
	}()
	return pred(snapshot), nil
}

// stepRecordUnlocks stores every satisfied entry. Entries another writer
// recorded first are not reported as new. Failures are joined and returned
// after every entry was tried.
func (s *EvaluationFlowSaga) stepRecordUnlocks(ctx context.Context, state *EvaluationFlowState, log *logger.Logger) error {
	var errs []error
	for _, a := range state.Satisfied {
		unlockCtx := map[string]any{
			"trigger":  state.Input.Trigger,
			"category": string(a.Category),
		}
		inserted, err := s.unlocker.TryUnlock(ctx, a.ID, state.Input.UserID, unlockCtx)
		if err != nil {
			log.Error("failed to record unlock", logger.AchievementID(a.ID), logger.Err(err))
			errs = append(errs, fmt.Errorf("failed to record unlock %s: %w", a.ID, err))
			continue
		}
		if !inserted {
			continue
		}
		state.Recorded = append(state.Recorded, a)
		s.metrics.IncUnlock(string(a.Category))
	}
	if len(errs) == 0 {
		return nil
	}
	state.FailedStep = StepRecordUnlocks
	state.Error = errors.Join(errs...)
	return state.Error
}

// stepPublishEvents emits one event per new unlock and a completion event.
func (s *EvaluationFlowSaga) stepPublishEvents(state *EvaluationFlowState) error {
	if !s.enableEvents || s.eventBus == nil {
		return nil
	}

	var errs []error
	for _, a := range state.Recorded {
		event := shared.NewAchievementUnlockedEvent(
			state.Input.UserID, a.ID, a.Name, string(a.Category), a.Points, string(a.Rarity), state.Input.Trigger,
		)
		if err := s.eventBus.Publish(event); err != nil {
			errs = append(errs, fmt.Errorf("publish unlock %s: %w", a.ID, err))
		}
	}

	completed := shared.NewEvaluationCompletedEvent(
		state.Input.UserID, state.Evaluated, ids(state.Recorded), state.Faulted, state.Input.Trigger,
		time.Since(state.StartedAt),
	)
	if err := s.eventBus.Publish(completed); err != nil {
		errs = append(errs, fmt.Errorf("publish completion: %w", err))
	}
	return errors.Join(errs...)
}

func (s *EvaluationFlowSaga) buildResult(state *EvaluationFlowState, now time.Time) *EvaluationResult {
	faulted := state.Faulted
	if faulted == nil {
		faulted = []string{}
	}
	return &EvaluationResult{
		UserID:          state.Input.UserID,
		NewUnlocks:      ids(state.Recorded),
		Faulted:         faulted,
		Evaluated:       state.Evaluated,
		AlreadyUnlocked: len(state.Unlocked),
		SkippedCount:    state.Skipped,
		Duration:        now.Sub(state.StartedAt),
		ProcessedAt:     now,
	}
}

func (s *EvaluationFlowSaga) skippedResult(state *EvaluationFlowState) *EvaluationResult {
	now := time.Now().UTC()
	return &EvaluationResult{
		UserID:      state.Input.UserID,
		NewUnlocks:  []string{},
		Faulted:     []string{},
		Skipped:     true,
		Duration:    now.Sub(state.StartedAt),
		ProcessedAt: now,
	}
}

func ids(as []achievement.Achievement) []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = a.ID
	}
	return out
}

// fail records the failure in metrics and wraps it.
func (s *EvaluationFlowSaga) fail(state *EvaluationFlowState, err error) error {
	s.metrics.ObserveEvaluation(state.Input.Trigger, "error", time.Since(state.StartedAt))
	return s.wrapError(state, err)
}

// wrapError wraps an error with saga context.
func (s *EvaluationFlowSaga) wrapError(state *EvaluationFlowState, err error) error {
	step := state.FailedStep
	if step == "" {
		step = state.CurrentStep
	}
	return &EvaluationFlowError{
		Step:    step,
		UserID:  state.Input.UserID,
		Cause:   err,
		Message: fmt.Sprintf("evaluation_flow failed at step %s: %v", step, err),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// EvaluationFlowError represents an error during an evaluation pass.
type EvaluationFlowError struct {
	Step    EvaluationFlowStep
	UserID  string
	Cause   error
	Message string
}

// Error implements the error interface.
func (e *EvaluationFlowError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error.
func (e *EvaluationFlowError) Unwrap() error {
	return e.Cause
}

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATION FLOW SAGA BUILDER (Fluent API)
// ══════════════════════════════════════════════════════════════════════════════

// EvaluationFlowSagaBuilder provides a fluent API for building EvaluationFlowSaga.
type EvaluationFlowSagaBuilder struct {
	records  academic.RecordRepository
	catalog  achievement.CatalogRepository
	unlocks  achievement.UnlockRepository
	unlocker Unlocker
	registry *predicates.Registry
	gate     CategoryGate
	locker   EvaluationLocker
	eventBus shared.EventPublisher
	metrics  MetricsRecorder
	tracer   trace.Tracer
	log      *logger.Logger
	config   EvaluationFlowConfig
}

// NewEvaluationFlowSagaBuilder creates a new builder.
func NewEvaluationFlowSagaBuilder() *EvaluationFlowSagaBuilder {
	return &EvaluationFlowSagaBuilder{
		config: DefaultEvaluationFlowConfig(),
	}
}

// WithRecordRepo sets the academic record repository.
func (b *EvaluationFlowSagaBuilder) WithRecordRepo(repo academic.RecordRepository) *EvaluationFlowSagaBuilder {
	b.records = repo
	return b
}

// WithCatalogRepo sets the achievement catalog repository.
func (b *EvaluationFlowSagaBuilder) WithCatalogRepo(repo achievement.CatalogRepository) *EvaluationFlowSagaBuilder {
	b.catalog = repo
	return b
}

// WithUnlockRepo sets the unlock repository.
func (b *EvaluationFlowSagaBuilder) WithUnlockRepo(repo achievement.UnlockRepository) *EvaluationFlowSagaBuilder {
	b.unlocks = repo
	return b
}

// WithUnlocker sets the unlock recorder.
func (b *EvaluationFlowSagaBuilder) WithUnlocker(u Unlocker) *EvaluationFlowSagaBuilder {
	b.unlocker = u
	return b
}

// WithRegistry sets the predicate registry. Defaults to predicates.Default().
func (b *EvaluationFlowSagaBuilder) WithRegistry(r *predicates.Registry) *EvaluationFlowSagaBuilder {
	b.registry = r
	return b
}

// WithCategoryGate sets the feature gate for categories.
func (b *EvaluationFlowSagaBuilder) WithCategoryGate(g CategoryGate) *EvaluationFlowSagaBuilder {
	b.gate = g
	return b
}

// WithLocker sets the per-user evaluation lock.
func (b *EvaluationFlowSagaBuilder) WithLocker(l EvaluationLocker) *EvaluationFlowSagaBuilder {
	b.locker = l
	return b
}

// WithEventBus sets the event bus.
func (b *EvaluationFlowSagaBuilder) WithEventBus(bus shared.EventPublisher) *EvaluationFlowSagaBuilder {
	b.eventBus = bus
	return b
}

// WithMetrics sets the metrics recorder.
func (b *EvaluationFlowSagaBuilder) WithMetrics(m MetricsRecorder) *EvaluationFlowSagaBuilder {
	b.metrics = m
	return b
}

// WithTracer sets the tracer. Defaults to the global provider's.
func (b *EvaluationFlowSagaBuilder) WithTracer(t trace.Tracer) *EvaluationFlowSagaBuilder {
	b.tracer = t
	return b
}

// WithLogger sets the logger.
func (b *EvaluationFlowSagaBuilder) WithLogger(l *logger.Logger) *EvaluationFlowSagaBuilder {
	b.log = l
	return b
}

// WithConfig sets the configuration.
func (b *EvaluationFlowSagaBuilder) WithConfig(config EvaluationFlowConfig) *EvaluationFlowSagaBuilder {
	b.config = config
	return b
}

// Build creates the EvaluationFlowSaga instance.
func (b *EvaluationFlowSagaBuilder) Build() (*EvaluationFlowSaga, error) {
	if b.records == nil {
		return nil, errors.New("record repository is required")
	}
	if b.catalog == nil {
		return nil, errors.New("catalog repository is required")
	}
	if b.unlocks == nil {
		return nil, errors.New("unlock repository is required")
	}
	if b.unlocker == nil {
		return nil, errors.New("unlocker is required")
	}

	registry := b.registry
	if registry == nil {
		registry = predicates.Default()
	}
	var metrics MetricsRecorder = noopMetrics{}
	if b.metrics != nil {
		metrics = b.metrics
	}
	tracer := b.tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/Jose-Baigorria/tracking-carrera/internal/application/saga")
	}
	log := b.log
	if log == nil {
		log = logger.NewNop()
	}
	trigger := b.config.DefaultTrigger
	if trigger == "" {
		trigger = TriggerManual
	}

	return &EvaluationFlowSaga{
		records:      b.records,
		catalog:      b.catalog,
		unlocks:      b.unlocks,
		unlocker:     b.unlocker,
		registry:     registry,
		gate:         b.gate,
		locker:       b.locker,
		eventBus:     b.eventBus,
		metrics:      metrics,
		tracer:       tracer,
		log:          log.Named("evaluation_flow"),
		defaultTr:    trigger,
		enableEvents: b.config.EnableEvents,
	}, nil
}
