package predicates

import (
	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/academic"
)

func registerGraduation(r *Registry) {
	r.Register("ultimo_parcial", func(s *academic.Snapshot) bool {
		return allApproved(s, mandatorySubjects(s)) && anyGrade(s.Grades(), isPartial)
	})
	r.Register("ultimo_final", func(s *academic.Snapshot) bool {
		return allApproved(s, mandatorySubjects(s)) && anyGrade(s.Grades(), isFinal)
	})
	r.Register("todas_aprobadas", func(s *academic.Snapshot) bool {
		return allApproved(s, s.Subjects())
	})
	r.Register("promedio_final_8", graduatedWithAverage(8))
	r.Register("promedio_final_9", graduatedWithAverage(9))
}

func graduatedWithAverage(threshold float64) Predicate {
	return func(s *academic.Snapshot) bool {
		return allApproved(s, s.Subjects()) && generalAverageAtLeast(s, threshold)
	}
}
