package predicates

import (
	"math"

	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/academic"
	"github.com/Jose-Baigorria/tracking-carrera/pkg/timeutil"
)

// Negative and humorous achievements.
func registerNegative(r *Registry) {
	r.Register("primer_tropiezo", func(s *academic.Snapshot) bool {
		return anyGrade(s.Grades(), failing)
	})
	r.Register("mala_racha", func(s *academic.Snapshot) bool {
		return hasRun(s.Grades(), 3, failing)
	})
	r.Register("racha_4s", func(s *academic.Snapshot) bool {
		return hasRun(s.Grades(), 5, func(g academic.Grade) bool {
			return math.Abs(g.Value-4) < 0.1
		})
	})
	r.Register("peor_nota", func(s *academic.Snapshot) bool {
		return anyGrade(s.Grades(), exactly(2))
	})
	r.Register("casi", func(s *academic.Snapshot) bool {
		return countGrades(s.Grades(), func(g academic.Grade) bool {
			return g.Value >= 3.5 && g.Value < academic.PassingGrade
		}) >= 3
	})

	r.Register("recursante", func(s *academic.Snapshot) bool {
		seen := make(map[string]int)
		for _, e := range s.Enrollments() {
			seen[e.SubjectID]++
			if seen[e.SubjectID] > 1 {
				return true
			}
		}
		return false
	})

	r.Register("procrastinador", procrastinator)
}

// procrastinator counts study sessions held exactly one day before a passed
// exam. Each session counts once.
func procrastinator(s *academic.Snapshot) bool {
	exams := filterGrades(s.Grades(), func(g academic.Grade) bool {
		return isExam(g) && g.HasDate() && g.IsPassing()
	})
	if len(exams) == 0 {
		return false
	}
	n := 0
	for _, ss := range s.Sessions() {
		if ss.StartedAt.IsZero() {
			continue
		}
		for _, exam := range exams {
			if timeutil.DaysBetween(ss.StartedAt, exam.Date) == 1 {
				n++
				break
			}
		}
		if n >= 5 {
			return true
		}
	}
	return false
}
