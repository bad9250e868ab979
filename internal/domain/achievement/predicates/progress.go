package predicates

import (
	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/academic"
)

func registerProgress(r *Registry) {
	for id, pct := range map[string]float64{
		"20_percent_carrera": 20,
		"25_percent_carrera": 25,
		"33_percent_carrera": 33,
		"50_percent_carrera": 50,
		"66_percent_carrera": 66,
		"75_percent_carrera": 75,
		"90_percent_carrera": 90,
	} {
		threshold := pct / 100
		r.Register(id, func(s *academic.Snapshot) bool {
			return careerProgress(s) >= threshold
		})
	}

	levels := map[string]int{
		"nivel_2_completo":     2,
		"nivel_3_completo":     3,
		"nivel_4_completo":     4,
		"nivel_5_completo":     5,
		"primer_año_completo":  1,
		"segundo_año_completo": 2,
		"tercer_año_completo":  3,
		"cuarto_año_completo":  4,
		"quinto_año_completo":  5,
	}
	for id, level := range levels {
		l := level
		r.Register(id, func(s *academic.Snapshot) bool {
			return levelComplete(s, l)
		})
	}

	for id, n := range map[string]int{
		"10_materias_aprobadas": 10,
		"15_materias_aprobadas": 15,
		"20_materias_aprobadas": 20,
		"25_materias_aprobadas": 25,
		"30_materias_aprobadas": 30,
	} {
		want := n
		r.Register(id, func(s *academic.Snapshot) bool {
			return countEnrollments(s, academic.StatusApproved) >= want
		})
	}

	r.Register("todas_obligatorias", func(s *academic.Snapshot) bool {
		return allApproved(s, mandatorySubjects(s))
	})
	r.Register("primera_electiva", func(s *academic.Snapshot) bool {
		return len(approvedElectives(s)) >= 1
	})
	r.Register("3_electivas", func(s *academic.Snapshot) bool {
		return len(approvedElectives(s)) >= 3
	})
	r.Register("todas_electivas", func(s *academic.Snapshot) bool {
		var electives []academic.Subject
		for _, sub := range s.Subjects() {
			if sub.IsElective {
				electives = append(electives, sub)
			}
		}
		return allApproved(s, electives)
	})
}
