package predicates

import (
	"math"
	"time"

	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/academic"
	"github.com/Jose-Baigorria/tracking-carrera/pkg/timeutil"
)

// Special challenges and study dedication.
func registerChallenges(r *Registry) {
	r.Register("recuperacion_epica", epicRecovery)

	r.Register("comeback", func(s *academic.Snapshot) bool {
		if len(s.Grades()) < 10 {
			return false
		}
		first, second := halves(s.Grades())
		a, okA := validMean(first)
		b, okB := validMean(second)
		return okA && okB && a <= 6 && b >= 8
	})

	// Approved a subject after at least three graded evaluations in it.
	r.Register("resistencia", func(s *academic.Snapshot) bool {
		keys, groups := gradesBySubject(s)
		for _, subjectID := range keys {
			if len(groups[subjectID]) >= 3 && subjectApproved(s, subjectID) {
				return true
			}
		}
		return false
	})

	r.Register("salvado_por_la_campana", savedByTheBell)

	r.Register("madrugador", func(s *academic.Snapshot) bool {
		if len(s.Sessions()) < 7 {
			return false
		}
		dates := sessionDates(s.Sessions(), func(ss academic.StudySession) bool {
			return ss.StartedAt.Hour() < 6
		})
		return contiguousDays(dates, 7)
	})
	r.Register("noctambulo", func(s *academic.Snapshot) bool {
		if len(s.Sessions()) < 10 {
			return false
		}
		dates := sessionDates(s.Sessions(), func(ss academic.StudySession) bool {
			return ss.StartedAt.Hour() >= 23
		})
		return contiguousDays(dates, 10)
	})
	r.Register("disciplinado", func(s *academic.Snapshot) bool {
		if len(s.Sessions()) < 30 {
			return false
		}
		return contiguousDays(sessionDates(s.Sessions(), nil), 30)
	})

	r.Register("maraton", func(s *academic.Snapshot) bool {
		return anyDayAtLeast(hoursPerDay(s.Sessions(), nil), 8)
	})
	r.Register("sprint", func(s *academic.Snapshot) bool {
		for _, ss := range s.Sessions() {
			if ss.DurationMinutes >= 240 {
				return true
			}
		}
		return false
	})

	r.Register("multitasker", func(s *academic.Snapshot) bool {
		return countEnrollments(s, academic.StatusEnrolled) >= 6
	})
	r.Register("velocidad", func(s *academic.Snapshot) bool {
		for _, e := range s.Enrollments() {
			if !e.IsApproved() {
				continue
			}
			if days, ok := e.DaysToApproval(); ok && days <= 30 {
				return true
			}
		}
		return false
	})

	r.Register("perfeccion_cuatri", func(s *academic.Snapshot) bool {
		return hasRun(s.Grades(), 5, func(g academic.Grade) bool {
			return math.Abs(g.Value-10) < 0.01
		})
	})

	r.Register("pomodoro_master", func(s *academic.Snapshot) bool {
		n := 0
		for _, ss := range s.Sessions() {
			if ss.IsPomodoro() {
				n++
			}
		}
		return n >= 100
	})
	r.Register("flashcard_champion", func(s *academic.Snapshot) bool {
		return s.Social().FlashcardsReviewed >= 1000
	})

	r.Register("recursante_exitoso", repeatedWithHonors)

	r.Register("intensivo_verano", func(s *academic.Snapshot) bool {
		n := 0
		for _, e := range s.Enrollments() {
			if e.IsApproved() && e.ApprovedAt != nil &&
				timeutil.MonthIn(*e.ApprovedAt, time.December, time.January, time.February) {
				n++
			}
		}
		return n >= 3
	})

	for id, h := range map[string]float64{
		"100_horas_estudio":  100,
		"500_horas_estudio":  500,
		"1000_horas_estudio": 1000,
	} {
		hours := h
		r.Register(id, func(s *academic.Snapshot) bool {
			return len(s.Sessions()) > 0 && totalStudyHours(s.Sessions()) >= hours
		})
	}

	r.Register("madrugon_domingo", func(s *academic.Snapshot) bool {
		for _, ss := range s.Sessions() {
			if !ss.StartedAt.IsZero() && ss.StartedAt.Weekday() == time.Sunday && ss.StartedAt.Hour() < 8 {
				return true
			}
		}
		return false
	})
	r.Register("fin_de_semana_warrior", func(s *academic.Snapshot) bool {
		weekend := hoursPerDay(s.Sessions(), func(ss academic.StudySession) bool {
			return timeutil.IsWeekend(ss.StartedAt)
		})
		return anyDayAtLeast(weekend, 10)
	})
}

// epicRecovery: in some subject a failed partial is followed, 1 to 30 days
// later, by a perfect partial.
func epicRecovery(s *academic.Snapshot) bool {
	bySubject := make(map[string][]academic.Grade)
	for _, g := range s.Grades() {
		if !g.IsPartial {
			continue
		}
		e, ok := s.EnrollmentByID(g.EnrollmentID)
		if !ok {
			continue
		}
		bySubject[e.SubjectID] = append(bySubject[e.SubjectID], g)
	}
	for _, gs := range bySubject {
		for i, failed := range gs {
			if failed.IsPassing() || !failed.HasDate() {
				continue
			}
			for _, later := range gs[i+1:] {
				if !eq(later.Value, 10) || !later.HasDate() {
					continue
				}
				if d := timeutil.DaysBetween(failed.Date, later.Date); d >= 1 && d <= 30 {
					return true
				}
			}
		}
	}
	return false
}

// savedByTheBell: an enrollment whose last grade is a 4 after at least one
// earlier failing grade.
func savedByTheBell(s *academic.Snapshot) bool {
	keys, groups := gradesByEnrollment(s)
	for _, id := range keys {
		gs := groups[id]
		if len(gs) < 2 {
			continue
		}
		last := gs[len(gs)-1]
		if math.Abs(last.Value-4) >= 0.01 {
			continue
		}
		if anyGrade(gs[:len(gs)-1], failing) {
			return true
		}
	}
	return false
}

// repeatedWithHonors: a subject taken more than once, eventually approved,
// whose valid grades across all attempts average 9.
func repeatedWithHonors(s *academic.Snapshot) bool {
	bySubject := make(map[string][]academic.Enrollment)
	var order []string
	for _, e := range s.Enrollments() {
		if _, seen := bySubject[e.SubjectID]; !seen {
			order = append(order, e.SubjectID)
		}
		bySubject[e.SubjectID] = append(bySubject[e.SubjectID], e)
	}
	for _, subjectID := range order {
		attempts := bySubject[subjectID]
		if len(attempts) < 2 || !subjectApproved(s, subjectID) {
			continue
		}
		ids := make(map[string]bool, len(attempts))
		for _, e := range attempts {
			ids[e.ID] = true
		}
		grades := filterGrades(s.Grades(), func(g academic.Grade) bool {
			return ids[g.EnrollmentID]
		})
		if avg, ok := validMean(grades); ok && avg >= 9 {
			return true
		}
	}
	return false
}
