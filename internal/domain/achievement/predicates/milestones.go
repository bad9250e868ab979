package predicates

import (
	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/academic"
)

// First steps: the first grade at each value, the first subjects past each
// state, and the early volume thresholds.
func registerMilestones(r *Registry) {
	r.Register("primer_2", func(s *academic.Snapshot) bool {
		return len(s.Grades()) >= 1
	})
	for id, v := range map[string]float64{
		"primer_4": 4, "primer_5": 5, "primer_6": 6,
		"primer_7": 7, "primer_8": 8, "primer_9": 9,
	} {
		threshold := v
		r.Register(id, func(s *academic.Snapshot) bool {
			return anyGrade(s.Grades(), atLeast(threshold))
		})
	}
	r.Register("primer_10", func(s *academic.Snapshot) bool {
		return anyGrade(s.Grades(), exactly(10))
	})

	r.Register("primera_materia_regular", func(s *academic.Snapshot) bool {
		return countEnrollments(s, academic.StatusRegular) > 0
	})
	r.Register("primera_materia_aprobada", func(s *academic.Snapshot) bool {
		return countEnrollments(s, academic.StatusApproved) > 0
	})
	r.Register("primera_materia_directa", func(s *academic.Snapshot) bool {
		for _, e := range s.Enrollments() {
			if e.IsApproved() && e.Promoted {
				return true
			}
		}
		return false
	})

	r.Register("10_notas", func(s *academic.Snapshot) bool {
		return len(s.Grades()) >= 10
	})
	r.Register("primer_parcial", func(s *academic.Snapshot) bool {
		return anyGrade(s.Grades(), isPartial)
	})
	r.Register("primer_tp", func(s *academic.Snapshot) bool {
		return anyGrade(s.Grades(), isAssignment)
	})
	r.Register("primera_desaprobada", func(s *academic.Snapshot) bool {
		return anyGrade(s.Grades(), failing)
	})
	r.Register("primer_nivel", func(s *academic.Snapshot) bool {
		return levelComplete(s, 1)
	})
	r.Register("5_materias", func(s *academic.Snapshot) bool {
		return countEnrollments(s, academic.StatusApproved) >= 5
	})
	r.Register("promedio_5", func(s *academic.Snapshot) bool {
		return generalAverageAtLeast(s, 5)
	})
	r.Register("10_percent_carrera", func(s *academic.Snapshot) bool {
		return careerProgress(s) >= 0.10
	})
}
