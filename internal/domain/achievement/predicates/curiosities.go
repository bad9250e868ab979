package predicates

import (
	"math"
	"time"

	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/academic"
	"github.com/Jose-Baigorria/tracking-carrera/pkg/timeutil"
)

func registerCuriosities(r *Registry) {
	// Three consecutive grades with the same integer value.
	r.Register("nota_capicua", func(s *academic.Snapshot) bool {
		gs := s.Grades()
		for i := 0; i+2 < len(gs); i++ {
			if intValue(gs[i]) == intValue(gs[i+1]) && intValue(gs[i+1]) == intValue(gs[i+2]) {
				return true
			}
		}
		return false
	})

	r.Register("fibonacci", fibonacci)

	r.Register("lucky_7", func(s *academic.Snapshot) bool {
		return countGrades(s.Grades(), func(g academic.Grade) bool { return intValue(g) == 7 }) >= 7
	})

	r.Register("perfeccion_triple", func(s *academic.Snapshot) bool {
		return anyDayCount(s.Grades(), exactly(10), 3)
	})
	r.Register("maratonista_notas", func(s *academic.Snapshot) bool {
		return anyDayCount(s.Grades(), nil, 20)
	})

	r.Register("viernes_13", func(s *academic.Snapshot) bool {
		return anyGrade(s.Grades(), func(g academic.Grade) bool {
			return g.HasDate() && g.Date.Weekday() == time.Friday && g.Date.Day() == 13 && g.IsPassing()
		})
	})

	r.Register("año_nuevo", sessionOn(time.January, 1))
	r.Register("navidad", sessionOn(time.December, 25))

	r.Register("tu_cumpleaños", func(s *academic.Snapshot) bool {
		birth := s.Profile().BirthDate
		if s.UserID() == "" || birth == nil {
			return false
		}
		return anyGrade(s.Grades(), func(g academic.Grade) bool {
			return g.HasDate() && g.Date.Month() == birth.Month() && g.Date.Day() == birth.Day() && g.IsPassing()
		})
	})

	r.Register("medianoche", func(s *academic.Snapshot) bool {
		for _, ss := range s.Sessions() {
			if !ss.StartedAt.IsZero() && ss.StartedAt.Hour() == 0 {
				return true
			}
		}
		return false
	})

	r.Register("coleccionista_dieces", func(s *academic.Snapshot) bool {
		gs := s.Grades()
		return len(gs) >= 20 && allGrades(gs, exactly(10))
	})

	r.Register("equilibrio_zen", func(s *academic.Snapshot) bool {
		avg, ok := validMean(s.Grades())
		return ok && math.Abs(avg-7) < 0.01
	})

	r.Register("escalera", func(s *academic.Snapshot) bool {
		return hasIntSequence(s.Grades(), 4, 5, 6, 7, 8, 9, 10)
	})

	// Ten grades sharing one integer value.
	r.Register("monotonia", func(s *academic.Snapshot) bool {
		gs := s.Grades()
		if len(gs) < 10 {
			return false
		}
		counts := make(map[int]int)
		for _, g := range gs {
			counts[intValue(g)]++
			if counts[intValue(g)] >= 10 {
				return true
			}
		}
		return false
	})

	r.Register("primer_dia_clases", firstDayOfClasses)
}

// fibonacci looks at windows of four grades for 2-3-5-8, 1-1-2-3, or a
// window opening with 3-5-8.
func fibonacci(s *academic.Snapshot) bool {
	gs := s.Grades()
	for i := 0; i+4 <= len(gs); i++ {
		v := [4]int{intValue(gs[i]), intValue(gs[i+1]), intValue(gs[i+2]), intValue(gs[i+3])}
		switch {
		case v == [4]int{2, 3, 5, 8}, v == [4]int{1, 1, 2, 3}:
			return true
		case v[0] == 3 && v[1] == 5 && v[2] == 8:
			return true
		}
	}
	return false
}

// anyDayCount reports whether some civil date carries at least n matching
// grades. A nil match counts every grade.
func anyDayCount(gs []academic.Grade, match func(academic.Grade) bool, n int) bool {
	perDay := make(map[string]int)
	for _, g := range gs {
		if !g.HasDate() || (match != nil && !match(g)) {
			continue
		}
		key := timeutil.DateKey(g.Date)
		perDay[key]++
		if perDay[key] >= n {
			return true
		}
	}
	return false
}

func sessionOn(month time.Month, day int) Predicate {
	return func(s *academic.Snapshot) bool {
		for _, ss := range s.Sessions() {
			if !ss.StartedAt.IsZero() && ss.StartedAt.Month() == month && ss.StartedAt.Day() == day {
				return true
			}
		}
		return false
	}
}

// firstDayOfClasses: a grade dated on the earliest enrollment date.
func firstDayOfClasses(s *academic.Snapshot) bool {
	if len(s.Grades()) == 0 {
		return false
	}
	var first *time.Time
	for _, e := range s.Enrollments() {
		if e.EnrolledAt == nil {
			continue
		}
		if first == nil || e.EnrolledAt.Before(*first) {
			d := *e.EnrolledAt
			first = &d
		}
	}
	if first == nil {
		return false
	}
	return anyGrade(s.Grades(), func(g academic.Grade) bool {
		return g.HasDate() && timeutil.SameDay(g.Date, *first)
	})
}
