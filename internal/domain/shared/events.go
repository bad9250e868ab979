package shared

import (
	"encoding/json"
	"time"
)

// EventType names an event and doubles as its pub/sub channel suffix.
type EventType string

const (
	EventAchievementUnlocked EventType = "achievement.unlocked"
	EventEvaluationCompleted EventType = "evaluation.completed"
	EventGradeRecorded       EventType = "grade.recorded"
)

// Event is a fact published after a state change. The aggregate of every
// event here is the user.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	AggregateID() string
	Payload() map[string]interface{}
}

// EventHandler consumes one event.
type EventHandler func(event Event) error

// EventPublisher is what application code depends on to emit events.
type EventPublisher interface {
	Publish(event Event) error
}

// EventSubscriber registers handlers for one type, or for all events.
type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
}

type EventBus interface {
	EventPublisher
	EventSubscriber
}

// BaseEvent holds the metadata shared by every event; concrete events embed
// it.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	Aggregate     string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

func newBase(t EventType, userID string) BaseEvent {
	return BaseEvent{Type: t, Timestamp: time.Now().UTC(), Aggregate: userID, Version: 1}
}

func (e BaseEvent) EventType() EventType  { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) AggregateID() string   { return e.Aggregate }
func (e BaseEvent) meta() BaseEvent       { return e }

// WithCorrelationID returns a copy tagged with id.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// AchievementUnlockedEvent is emitted once per newly recorded unlock.
type AchievementUnlockedEvent struct {
	BaseEvent
	AchievementID string `json:"achievement_id"`
	Name          string `json:"name"`
	Category      string `json:"category"`
	Points        int    `json:"points"`
	Rarity        string `json:"rarity"`
	Trigger       string `json:"trigger"`
}

func NewAchievementUnlockedEvent(userID, achievementID, name, category string, points int, rarity, trigger string) AchievementUnlockedEvent {
	return AchievementUnlockedEvent{
		BaseEvent:     newBase(EventAchievementUnlocked, userID),
		AchievementID: achievementID,
		Name:          name,
		Category:      category,
		Points:        points,
		Rarity:        rarity,
		Trigger:       trigger,
	}
}

func (e AchievementUnlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"achievement_id": e.AchievementID,
		"name":           e.Name,
		"category":       e.Category,
		"points":         e.Points,
		"rarity":         e.Rarity,
		"trigger":        e.Trigger,
	}
}

// EvaluationCompletedEvent summarizes one evaluation pass.
type EvaluationCompletedEvent struct {
	BaseEvent
	Evaluated   int           `json:"evaluated"`
	NewUnlocks  []string      `json:"new_unlocks"`
	Faulted     []string      `json:"faulted,omitempty"`
	Trigger     string        `json:"trigger"`
	ProcessTime time.Duration `json:"process_time"`
}

func NewEvaluationCompletedEvent(userID string, evaluated int, newUnlocks, faulted []string, trigger string, took time.Duration) EvaluationCompletedEvent {
	return EvaluationCompletedEvent{
		BaseEvent:   newBase(EventEvaluationCompleted, userID),
		Evaluated:   evaluated,
		NewUnlocks:  newUnlocks,
		Faulted:     faulted,
		Trigger:     trigger,
		ProcessTime: took,
	}
}

func (e EvaluationCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"evaluated":       e.Evaluated,
		"new_unlocks":     e.NewUnlocks,
		"faulted":         e.Faulted,
		"trigger":         e.Trigger,
		"process_time_ms": e.ProcessTime.Milliseconds(),
	}
}

// GradeRecordedEvent is emitted after a grade is stored.
type GradeRecordedEvent struct {
	BaseEvent
	GradeID      string  `json:"grade_id"`
	EnrollmentID string  `json:"enrollment_id"`
	SubjectID    string  `json:"subject_id"`
	Value        float64 `json:"value"`
	Kind         string  `json:"kind"`
}

func NewGradeRecordedEvent(userID, gradeID, enrollmentID, subjectID string, value float64, kind string) GradeRecordedEvent {
	return GradeRecordedEvent{
		BaseEvent:    newBase(EventGradeRecorded, userID),
		GradeID:      gradeID,
		EnrollmentID: enrollmentID,
		SubjectID:    subjectID,
		Value:        value,
		Kind:         kind,
	}
}

func (e GradeRecordedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"grade_id":      e.GradeID,
		"enrollment_id": e.EnrollmentID,
		"subject_id":    e.SubjectID,
		"value":         e.Value,
		"kind":          e.Kind,
	}
}

// EventEnvelope is the wire form of an event on pub/sub.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEventEnvelope encodes event's payload. Events that embed BaseEvent
// also carry their version and correlation id.
func NewEventEnvelope(id string, event Event) (EventEnvelope, error) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return EventEnvelope{}, WrapError("event", "Envelope", ErrInvalidFormat, "cannot encode payload", err)
	}
	env := EventEnvelope{
		ID:          id,
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		Timestamp:   event.OccurredAt(),
		Version:     1,
		Payload:     payload,
	}
	if m, ok := event.(interface{ meta() BaseEvent }); ok {
		b := m.meta()
		env.Version = b.Version
		env.CorrelationID = b.CorrelationID
	}
	return env, nil
}
