package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Jose-Baigorria/tracking-carrera/internal/application/saga"
	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/academic"
	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/shared"
	"github.com/Jose-Baigorria/tracking-carrera/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD GRADE COMMAND
// Stores a grade and re-evaluates the user's achievements. The evaluation
// never fails the command: the grade is already stored when it runs.
// ══════════════════════════════════════════════════════════════════════════════

// RecordGradeCommand contains the data to record a grade.
type RecordGradeCommand struct {
	// UserID owns the enrollment.
	UserID string

	// EnrollmentID is the enrollment the grade belongs to.
	EnrollmentID string

	// SubjectID is optional; the store fills it from the enrollment.
	SubjectID string

	// Kind is a free-text label such as "parcial", "final" or "tp".
	Kind string

	// Value is 0-10, or academic.PendingGrade for a scheduled evaluation.
	Value float64

	// Date defaults to today when zero.
	Date time.Time

	IsPartial           bool
	IsFinal             bool
	IsAssignment        bool
	IsMakeup            bool
	CountsTowardAverage bool

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c RecordGradeCommand) Validate() error {
	if c.UserID == "" {
		return shared.ErrUserIDRequired
	}
	return c.grade().Validate()
}

func (c RecordGradeCommand) grade() academic.Grade {
	return academic.Grade{
		EnrollmentID:        c.EnrollmentID,
		SubjectID:           c.SubjectID,
		Kind:                c.Kind,
		Value:               c.Value,
		Date:                c.Date,
		IsPartial:           c.IsPartial,
		IsFinal:             c.IsFinal,
		IsAssignment:        c.IsAssignment,
		IsMakeup:            c.IsMakeup,
		CountsTowardAverage: c.CountsTowardAverage,
	}
}

// RecordGradeResult contains the result of recording a grade.
type RecordGradeResult struct {
	// Grade is the stored grade.
	Grade academic.Grade

	// NewUnlocks lists achievements unlocked by the evaluation that
	// followed. Empty when evaluation failed or was skipped.
	NewUnlocks []string

	// EvaluationError is set when the evaluation failed. It is informative
	// only; the command succeeded.
	EvaluationError error

	RecordedAt time.Time
}

// Evaluator runs an evaluation pass.
type Evaluator interface {
	Execute(ctx context.Context, input saga.EvaluationInput) (*saga.EvaluationResult, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RecordGradeHandler handles the RecordGradeCommand.
type RecordGradeHandler struct {
	grades         academic.GradeWriter
	evaluator      Evaluator
	eventPublisher shared.EventPublisher
	log            *logger.Logger
	now            func() time.Time
}

// NewRecordGradeHandler creates a new RecordGradeHandler. eventPublisher
// may be nil.
func NewRecordGradeHandler(
	grades academic.GradeWriter,
	evaluator Evaluator,
	eventPublisher shared.EventPublisher,
	log *logger.Logger,
) *RecordGradeHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &RecordGradeHandler{
		grades:         grades,
		evaluator:      evaluator,
		eventPublisher: eventPublisher,
		log:            log.Named("record_grade"),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Handle executes the record grade command.
func (h *RecordGradeHandler) Handle(ctx context.Context, cmd RecordGradeCommand) (*RecordGradeResult, error) {
	// Validate command
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("record_grade: validation failed: %w", err)
	}

	g := cmd.grade()
	if g.Date.IsZero() {
		g.Date = h.now()
	}

	// Store grade
	stored, err := h.grades.InsertGrade(ctx, cmd.UserID, g)
	if err != nil {
		return nil, fmt.Errorf("record_grade: failed to store grade: %w", err)
	}

	result := &RecordGradeResult{
		Grade:      stored,
		NewUnlocks: []string{},
		RecordedAt: h.now(),
	}

	// Publish event (non-critical)
	if h.eventPublisher != nil {
		event := shared.NewGradeRecordedEvent(cmd.UserID, stored.ID, stored.EnrollmentID, stored.SubjectID, stored.Value, stored.Kind)
		if cmd.CorrelationID != "" {
			event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
		}
		if err := h.eventPublisher.Publish(event); err != nil {
			h.log.Warn("failed to publish grade event", logger.UserID(cmd.UserID), logger.Err(err))
		}
	}

	// Evaluate achievements (non-critical)
	eval, err := h.evaluateSafely(ctx, cmd.UserID)
	if eval != nil && len(eval.NewUnlocks) > 0 {
		result.NewUnlocks = eval.NewUnlocks
	}
	if err != nil {
		result.EvaluationError = err
		h.log.Error("achievement evaluation failed after grade",
			logger.UserID(cmd.UserID),
			logger.String("grade_id", stored.ID),
			logger.Err(err),
		)
		return result, nil
	}

	return result, nil
}

// evaluateSafely runs the evaluator and turns a panic into an error.
func (h *RecordGradeHandler) evaluateSafely(ctx context.Context, userID string) (result *saga.EvaluationResult, err error) {
	if h.evaluator == nil {
		return nil, nil
	}
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = errors.Join(errEvaluationPanicked, fmt.Errorf("%v", r))
		}
	}()
	return h.evaluator.Execute(ctx, saga.EvaluationInput{UserID: userID, Trigger: saga.TriggerGrade})
}

var errEvaluationPanicked = errors.New("record_grade: evaluation panicked")
