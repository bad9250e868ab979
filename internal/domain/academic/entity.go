// Package academic holds the student's academic records as the achievement
// engine reads them: grades, enrollments, the subject catalog, study sessions,
// social activity counters and the profile.
//
// Stores implement RecordRepository in infrastructure/persistence.
package academic

import (
	"strings"
	"time"

	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/shared"
	"github.com/Jose-Baigorria/tracking-carrera/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GRADES
// ══════════════════════════════════════════════════════════════════════════════

const (
	// PendingGrade marks an evaluation that is scheduled but not graded yet.
	PendingGrade = -1.0

	// PassingGrade is the lowest passing value. It is inclusive.
	PassingGrade = 4.0

	// MaxGrade is the highest value on the scale.
	MaxGrade = 10.0
)

// Grade is one graded evaluation of an enrollment.
type Grade struct {
	ID                  string
	EnrollmentID        string
	SubjectID           string
	Kind                string
	Value               float64
	Date                time.Time
	IsPartial           bool
	IsFinal             bool
	IsAssignment        bool
	IsMakeup            bool
	CountsTowardAverage bool
}

// IsPending reports whether the grade carries the pending sentinel.
func (g Grade) IsPending() bool {
	return g.Value < 0
}

// IsPassing reports whether the grade is at or above the passing boundary.
func (g Grade) IsPassing() bool {
	return g.Value >= PassingGrade
}

// CountsForAverage reports whether the grade enters average computations.
// Only passing grades flagged as counting do.
func (g Grade) CountsForAverage() bool {
	return g.CountsTowardAverage && g.Value >= PassingGrade
}

// HasDate reports whether the grade was dated.
func (g Grade) HasDate() bool {
	return !g.Date.IsZero()
}

// Validate checks the grade before it is written.
func (g Grade) Validate() error {
	if g.EnrollmentID == "" {
		return shared.ErrInvalidEnrollment
	}
	if g.Value != PendingGrade && (g.Value < 0 || g.Value > MaxGrade) {
		return shared.ErrInvalidGradeValue
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ENROLLMENTS
// ══════════════════════════════════════════════════════════════════════════════

// Status is the state of an enrollment.
type Status string

const (
	StatusBlocked  Status = "bloqueada"
	StatusEnrolled Status = "cursando"
	StatusRegular  Status = "regular"
	StatusApproved Status = "aprobada"
)

// IsValid reports whether the status is one of the known values.
func (s Status) IsValid() bool {
	switch s {
	case StatusBlocked, StatusEnrolled, StatusRegular, StatusApproved:
		return true
	}
	return false
}

// Enrollment is one attempt of a user at a subject.
type Enrollment struct {
	ID         string
	UserID     string
	SubjectID  string
	Status     Status
	Attempt    int
	Repeated   bool
	Term       string
	EnrolledAt *time.Time
	ApprovedAt *time.Time
	Promoted   bool
}

// IsApproved reports whether the enrollment ended approved.
func (e Enrollment) IsApproved() bool {
	return e.Status == StatusApproved
}

// DaysToApproval returns the days between enrollment and approval. ok is
// false when either date is missing.
func (e Enrollment) DaysToApproval() (days int, ok bool) {
	if e.EnrolledAt == nil || e.ApprovedAt == nil {
		return 0, false
	}
	return timeutil.DaysBetween(*e.EnrolledAt, *e.ApprovedAt), true
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// DefaultCredits is assigned to subjects stored without a credit value.
const DefaultCredits = 5

// Subject is an entry of the program's catalog. It is not user scoped.
type Subject struct {
	ID         string
	Name       string
	Level      int
	Credits    int
	IsElective bool
}

// IsMandatory reports whether the subject is required by the program.
func (s Subject) IsMandatory() bool {
	return !s.IsElective
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDY SESSIONS
// ══════════════════════════════════════════════════════════════════════════════

// DefaultSessionKind is used when a session is stored without a kind.
const DefaultSessionKind = "pomodoro"

// StudySession is a timed study block.
type StudySession struct {
	ID              string
	StartedAt       time.Time
	DurationMinutes int
	Kind            string
}

// IsPomodoro reports whether the session was a pomodoro block.
func (s StudySession) IsPomodoro() bool {
	return strings.EqualFold(s.Kind, DefaultSessionKind)
}

// ══════════════════════════════════════════════════════════════════════════════
// SOCIAL & PROFILE
// ══════════════════════════════════════════════════════════════════════════════

// SocialCounts aggregates the user's activity in the social stores.
type SocialCounts struct {
	GroupsCreated           int
	GroupMemberships        int
	NotesShared             int
	TutoringGiven           int
	TutoringSuccessful      int
	ThanksReceived          int
	ExplanationThanksSent   int
	SessionsInCreatedGroups int
	FlashcardsReviewed      int
}

// Profile carries the user data a few predicates need.
type Profile struct {
	BirthDate *time.Time
}
