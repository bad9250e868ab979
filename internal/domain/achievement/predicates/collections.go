package predicates

import (
	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/academic"
)

func gradeCountAtLeast(n int, match func(academic.Grade) bool) Predicate {
	return func(s *academic.Snapshot) bool {
		if match == nil {
			return len(s.Grades()) >= n
		}
		return countGrades(s.Grades(), match) >= n
	}
}

func registerCollections(r *Registry) {
	r.Register("coleccionista_10", gradeCountAtLeast(10, exactly(10)))
	r.Register("coleccionista_25", gradeCountAtLeast(25, exactly(10)))
	r.Register("coleccionista_50", gradeCountAtLeast(50, exactly(10)))
	r.Register("nueves_10", gradeCountAtLeast(10, atLeast(9)))
	r.Register("nueves_25", gradeCountAtLeast(25, atLeast(9)))
	r.Register("ochos_20", gradeCountAtLeast(20, atLeast(8)))

	r.Register("50_notas", gradeCountAtLeast(50, nil))
	r.Register("100_notas", gradeCountAtLeast(100, nil))
	r.Register("200_notas", gradeCountAtLeast(200, nil))
	r.Register("500_notas", gradeCountAtLeast(500, nil))
	r.Register("50_parciales", gradeCountAtLeast(50, isPartial))
	r.Register("100_parciales", gradeCountAtLeast(100, isPartial))
	r.Register("50_tps", gradeCountAtLeast(50, isAssignment))
	r.Register("100_tps", gradeCountAtLeast(100, isAssignment))

	r.Register("todas_aprobadas_50", firstPassed(50))
	r.Register("solo_aprobadas_20", firstPassed(20))

	r.Register("sin_doses", func(s *academic.Snapshot) bool {
		gs := s.Grades()
		return len(gs) >= 50 && !anyGrade(gs, exactly(2))
	})
	r.Register("sin_treses", func(s *academic.Snapshot) bool {
		gs := s.Grades()
		return len(gs) >= 50 && !anyGrade(gs, exactly(3))
	})

	// Every integer value from 2 to 10 appears at least once.
	r.Register("variedad", func(s *academic.Snapshot) bool {
		seen := make(map[int]bool)
		for _, g := range s.Grades() {
			seen[intValue(g)] = true
		}
		for v := 2; v <= 10; v++ {
			if !seen[v] {
				return false
			}
		}
		return true
	})

	// Five grades, each strictly above the previous one.
	r.Register("mejorando", func(s *academic.Snapshot) bool {
		gs := s.Grades()
		run := 1
		for i := 1; i < len(gs); i++ {
			if gs[i].Value > gs[i-1].Value {
				run++
				if run >= 5 {
					return true
				}
				continue
			}
			run = 1
		}
		return false
	})
}

// firstPassed: at least n grades and the n earliest all passed.
func firstPassed(n int) Predicate {
	return func(s *academic.Snapshot) bool {
		gs := s.Grades()
		if len(gs) < n {
			return false
		}
		return allGrades(gs[:n], passing)
	}
}
