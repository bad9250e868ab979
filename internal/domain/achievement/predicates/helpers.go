package predicates

import (
	"math"
	"sort"
	"time"

	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/academic"
	"github.com/Jose-Baigorria/tracking-carrera/pkg/textnorm"
	"github.com/Jose-Baigorria/tracking-carrera/pkg/timeutil"
)

const epsilon = 1e-9

func eq(a, b float64) bool {
	return math.Abs(a-b) < epsilon
}

// intValue truncates toward zero, the way grades are bucketed by value.
func intValue(g academic.Grade) int {
	return int(g.Value)
}

// ─────────────────────────────────────────────────────────────────────────────
// Grade filters and averages
// ─────────────────────────────────────────────────────────────────────────────

func filterGrades(gs []academic.Grade, keep func(academic.Grade) bool) []academic.Grade {
	out := make([]academic.Grade, 0, len(gs))
	for _, g := range gs {
		if keep(g) {
			out = append(out, g)
		}
	}
	return out
}

func countGrades(gs []academic.Grade, match func(academic.Grade) bool) int {
	n := 0
	for _, g := range gs {
		if match(g) {
			n++
		}
	}
	return n
}

func anyGrade(gs []academic.Grade, match func(academic.Grade) bool) bool {
	for _, g := range gs {
		if match(g) {
			return true
		}
	}
	return false
}

func allGrades(gs []academic.Grade, match func(academic.Grade) bool) bool {
	for _, g := range gs {
		if !match(g) {
			return false
		}
	}
	return true
}

func isPartial(g academic.Grade) bool    { return g.IsPartial }
func isAssignment(g academic.Grade) bool { return g.IsAssignment }
func isFinal(g academic.Grade) bool      { return g.IsFinal }
func isExam(g academic.Grade) bool       { return g.IsPartial || g.IsFinal }
func passing(g academic.Grade) bool      { return g.IsPassing() }
func failing(g academic.Grade) bool      { return !g.IsPassing() }
func dated(g academic.Grade) bool        { return g.HasDate() }

func atLeast(v float64) func(academic.Grade) bool {
	return func(g academic.Grade) bool { return g.Value >= v }
}

func exactly(v float64) func(academic.Grade) bool {
	return func(g academic.Grade) bool { return eq(g.Value, v) }
}

// mean returns the arithmetic mean of every value. ok is false on empty input.
func mean(gs []academic.Grade) (avg float64, ok bool) {
	if len(gs) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, g := range gs {
		sum += g.Value
	}
	return sum / float64(len(gs)), true
}

// validMean averages the grades that count toward the average.
func validMean(gs []academic.Grade) (avg float64, ok bool) {
	return mean(filterGrades(gs, academic.Grade.CountsForAverage))
}

func validCount(gs []academic.Grade) int {
	return countGrades(gs, academic.Grade.CountsForAverage)
}

// generalAverageAtLeast tests the overall average against a threshold.
func generalAverageAtLeast(s *academic.Snapshot, threshold float64) bool {
	avg, ok := validMean(s.Grades())
	return ok && avg >= threshold
}

// halves splits the date-ordered grades at len/2.
func halves(gs []academic.Grade) (first, second []academic.Grade) {
	mid := len(gs) / 2
	return gs[:mid], gs[mid:]
}

// ─────────────────────────────────────────────────────────────────────────────
// Runs and windows
// ─────────────────────────────────────────────────────────────────────────────

// hasRun reports whether n consecutive grades satisfy match.
func hasRun(gs []academic.Grade, n int, match func(academic.Grade) bool) bool {
	run := 0
	for _, g := range gs {
		if !match(g) {
			run = 0
			continue
		}
		run++
		if run >= n {
			return true
		}
	}
	return false
}

// hasIntSequence reports whether the truncated values contain seq as a
// contiguous window.
func hasIntSequence(gs []academic.Grade, seq ...int) bool {
	for i := 0; i+len(seq) <= len(gs); i++ {
		match := true
		for j, want := range seq {
			if intValue(gs[i+j]) != want {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// contiguousDays reports whether the distinct civil dates contain n
// calendar-consecutive days.
func contiguousDays(dates []time.Time, n int) bool {
	if n <= 0 {
		return false
	}
	seen := make(map[string]struct{}, len(dates))
	unique := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		key := timeutil.DateKey(d)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, timeutil.DateOnly(d))
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i].Before(unique[j]) })

	for i := 0; i+n-1 < len(unique); i++ {
		if timeutil.DaysBetween(unique[i], unique[i+n-1]) == n-1 {
			return true
		}
	}
	return false
}

// ─────────────────────────────────────────────────────────────────────────────
// Subjects and enrollments
// ─────────────────────────────────────────────────────────────────────────────

// approvedEnrollment returns the first approved enrollment for the subject.
func approvedEnrollment(s *academic.Snapshot, subjectID string) (academic.Enrollment, bool) {
	for _, e := range s.Enrollments() {
		if e.SubjectID == subjectID && e.IsApproved() {
			return e, true
		}
	}
	return academic.Enrollment{}, false
}

func subjectApproved(s *academic.Snapshot, subjectID string) bool {
	_, ok := approvedEnrollment(s, subjectID)
	return ok
}

func countEnrollments(s *academic.Snapshot, status academic.Status) int {
	n := 0
	for _, e := range s.Enrollments() {
		if e.Status == status {
			n++
		}
	}
	return n
}

func gradesOfEnrollment(s *academic.Snapshot, enrollmentID string) []academic.Grade {
	return filterGrades(s.Grades(), func(g academic.Grade) bool { return g.EnrollmentID == enrollmentID })
}

// subjectAverage is the valid mean of the grades of the approved enrollment
// for the subject. Zero when the subject is not approved or has no passing
// counting grades.
func subjectAverage(s *academic.Snapshot, subjectID string) float64 {
	e, ok := approvedEnrollment(s, subjectID)
	if !ok {
		return 0
	}
	avg, ok := validMean(gradesOfEnrollment(s, e.ID))
	if !ok {
		return 0
	}
	return avg
}

func subjectMeets(s *academic.Snapshot, subjectID string, threshold float64) bool {
	return subjectApproved(s, subjectID) && subjectAverage(s, subjectID) >= threshold
}

// approvedElectives returns the catalog subjects of approved elective
// enrollments, one per enrollment.
func approvedElectives(s *academic.Snapshot) []academic.Subject {
	var out []academic.Subject
	for _, e := range s.Enrollments() {
		if !e.IsApproved() {
			continue
		}
		if sub, ok := s.SubjectByID(e.SubjectID); ok && sub.IsElective {
			out = append(out, *sub)
		}
	}
	return out
}

func mandatorySubjects(s *academic.Snapshot) []academic.Subject {
	var out []academic.Subject
	for _, sub := range s.Subjects() {
		if sub.IsMandatory() {
			out = append(out, sub)
		}
	}
	return out
}

// allApproved reports whether every given subject is approved. An empty set
// is "not met".
func allApproved(s *academic.Snapshot, subjects []academic.Subject) bool {
	if len(subjects) == 0 {
		return false
	}
	for _, sub := range subjects {
		if !subjectApproved(s, sub.ID) {
			return false
		}
	}
	return true
}

// careerProgress is the fraction of the program completed. Elective credits
// are scaled so 20 credits weigh as 7 mandatory subjects.
func careerProgress(s *academic.Snapshot) float64 {
	mandatory := mandatorySubjects(s)
	if len(mandatory) == 0 {
		return 0
	}
	approved := 0
	for _, sub := range mandatory {
		if subjectApproved(s, sub.ID) {
			approved++
		}
	}
	credits := 0
	for _, sub := range approvedElectives(s) {
		credits += sub.Credits
	}
	return (float64(approved) + float64(credits)/20*7) / float64(len(mandatory)+7)
}

func levelComplete(s *academic.Snapshot, level int) bool {
	var subjects []academic.Subject
	for _, sub := range s.Subjects() {
		if sub.Level == level && sub.IsMandatory() {
			subjects = append(subjects, sub)
		}
	}
	return allApproved(s, subjects)
}

// matchesKeyword compares short keywords as whole words and longer ones as
// substrings of the accent-folded name.
func matchesKeyword(name, keyword string) bool {
	if len([]rune(keyword)) <= 3 {
		return textnorm.HasWord(name, keyword)
	}
	return textnorm.ContainsAny(name, keyword)
}

// filterSubjects returns catalog subjects whose name matches any keyword, in
// catalog order.
func filterSubjects(s *academic.Snapshot, keywords ...string) []academic.Subject {
	var out []academic.Subject
	for _, sub := range s.Subjects() {
		for _, kw := range keywords {
			if matchesKeyword(sub.Name, kw) {
				out = append(out, sub)
				break
			}
		}
	}
	return out
}

// gradesBySubject groups grades by the subject of their enrollment. Grades
// whose enrollment is unknown are skipped. keys keeps first-seen order.
func gradesBySubject(s *academic.Snapshot) (keys []string, groups map[string][]academic.Grade) {
	groups = make(map[string][]academic.Grade)
	for _, g := range s.Grades() {
		e, ok := s.EnrollmentByID(g.EnrollmentID)
		if !ok {
			continue
		}
		if _, seen := groups[e.SubjectID]; !seen {
			keys = append(keys, e.SubjectID)
		}
		groups[e.SubjectID] = append(groups[e.SubjectID], g)
	}
	return keys, groups
}

// gradesByEnrollment groups grades by enrollment id, keeping date order.
func gradesByEnrollment(s *academic.Snapshot) (keys []string, groups map[string][]academic.Grade) {
	groups = make(map[string][]academic.Grade)
	for _, g := range s.Grades() {
		if _, seen := groups[g.EnrollmentID]; !seen {
			keys = append(keys, g.EnrollmentID)
		}
		groups[g.EnrollmentID] = append(groups[g.EnrollmentID], g)
	}
	return keys, groups
}

// ─────────────────────────────────────────────────────────────────────────────
// Study sessions
// ─────────────────────────────────────────────────────────────────────────────

func sessionDates(sessions []academic.StudySession, keep func(academic.StudySession) bool) []time.Time {
	var out []time.Time
	for _, ss := range sessions {
		if ss.StartedAt.IsZero() || (keep != nil && !keep(ss)) {
			continue
		}
		out = append(out, ss.StartedAt)
	}
	return out
}

func totalStudyHours(sessions []academic.StudySession) float64 {
	minutes := 0
	for _, ss := range sessions {
		if ss.DurationMinutes > 0 {
			minutes += ss.DurationMinutes
		}
	}
	return float64(minutes) / 60
}

// hoursPerDay sums session durations per civil date.
func hoursPerDay(sessions []academic.StudySession, keep func(academic.StudySession) bool) map[string]float64 {
	out := make(map[string]float64)
	for _, ss := range sessions {
		if ss.StartedAt.IsZero() || (keep != nil && !keep(ss)) {
			continue
		}
		if ss.DurationMinutes > 0 {
			out[timeutil.DateKey(ss.StartedAt)] += float64(ss.DurationMinutes) / 60
		}
	}
	return out
}

func anyDayAtLeast(hours map[string]float64, threshold float64) bool {
	for _, h := range hours {
		if h >= threshold {
			return true
		}
	}
	return false
}
