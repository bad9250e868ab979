package academic

import (
	"sort"
)

// Snapshot is the immutable view of one user's records used by a single
// evaluation pass. Pending grades are dropped and the date-ordered
// collections are sorted with record id as tie-break.
//
// Accessors return the internal slices. Callers must not modify them.
type Snapshot struct {
	userID      string
	grades      []Grade
	enrollments []Enrollment
	subjects    []Subject
	sessions    []StudySession
	social      SocialCounts
	profile     Profile

	subjectsByID    map[string]*Subject
	enrollmentsByID map[string]*Enrollment
}

// SnapshotParams holds the raw collections loaded from the record store.
type SnapshotParams struct {
	UserID      string
	Grades      []Grade
	Enrollments []Enrollment
	Subjects    []Subject
	Sessions    []StudySession
	Social      SocialCounts
	Profile     Profile
}

// NewSnapshot builds a snapshot from store data. The input slices are copied.
func NewSnapshot(p SnapshotParams) *Snapshot {
	grades := make([]Grade, 0, len(p.Grades))
	for _, g := range p.Grades {
		if g.IsPending() {
			continue
		}
		grades = append(grades, g)
	}
	sort.SliceStable(grades, func(i, j int) bool {
		if !grades[i].Date.Equal(grades[j].Date) {
			return grades[i].Date.Before(grades[j].Date)
		}
		return grades[i].ID < grades[j].ID
	})

	sessions := append([]StudySession(nil), p.Sessions...)
	sort.SliceStable(sessions, func(i, j int) bool {
		if !sessions[i].StartedAt.Equal(sessions[j].StartedAt) {
			return sessions[i].StartedAt.Before(sessions[j].StartedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})

	s := &Snapshot{
		userID:          p.UserID,
		grades:          grades,
		enrollments:     append([]Enrollment(nil), p.Enrollments...),
		subjects:        append([]Subject(nil), p.Subjects...),
		sessions:        sessions,
		social:          p.Social,
		profile:         p.Profile,
		subjectsByID:    make(map[string]*Subject, len(p.Subjects)),
		enrollmentsByID: make(map[string]*Enrollment, len(p.Enrollments)),
	}
	for i := range s.subjects {
		s.subjectsByID[s.subjects[i].ID] = &s.subjects[i]
	}
	for i := range s.enrollments {
		s.enrollmentsByID[s.enrollments[i].ID] = &s.enrollments[i]
	}
	return s
}

// EmptySnapshot returns a snapshot without records for the user.
func EmptySnapshot(userID string) *Snapshot {
	return NewSnapshot(SnapshotParams{UserID: userID})
}

// UserID returns the owner of the records.
func (s *Snapshot) UserID() string { return s.userID }

// Grades returns graded evaluations in date order.
func (s *Snapshot) Grades() []Grade { return s.grades }

// Enrollments returns the user's enrollments in store order.
func (s *Snapshot) Enrollments() []Enrollment { return s.enrollments }

// Subjects returns the program catalog in store order.
func (s *Snapshot) Subjects() []Subject { return s.subjects }

// Sessions returns study sessions in start order.
func (s *Snapshot) Sessions() []StudySession { return s.sessions }

// Social returns the social activity counters.
func (s *Snapshot) Social() SocialCounts { return s.social }

// Profile returns the user's profile data.
func (s *Snapshot) Profile() Profile { return s.profile }

// SubjectByID looks up a catalog subject.
func (s *Snapshot) SubjectByID(id string) (*Subject, bool) {
	sub, ok := s.subjectsByID[id]
	return sub, ok
}

// EnrollmentByID looks up one of the user's enrollments.
func (s *Snapshot) EnrollmentByID(id string) (*Enrollment, bool) {
	e, ok := s.enrollmentsByID[id]
	return e, ok
}

// IsEmpty reports whether the snapshot carries no records at all.
func (s *Snapshot) IsEmpty() bool {
	return len(s.grades) == 0 && len(s.enrollments) == 0 &&
		len(s.sessions) == 0 && s.social == (SocialCounts{})
}
