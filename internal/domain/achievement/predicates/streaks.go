package predicates

import (
	"sort"
	"time"

	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/academic"
	"github.com/Jose-Baigorria/tracking-carrera/pkg/timeutil"
)

// Streaks and consistency. Runs are measured over the date-ordered grades:
// consecutive means adjacent in that order, not on adjacent days.
func registerStreaks(r *Registry) {
	r.Register("racha_3_dieces", func(s *academic.Snapshot) bool {
		return hasRun(filterGrades(s.Grades(), dated), 3, exactly(10))
	})
	r.Register("racha_5_aprobadas", func(s *academic.Snapshot) bool {
		return hasRun(s.Grades(), 5, passing)
	})
	r.Register("racha_10_aprobadas", func(s *academic.Snapshot) bool {
		return hasRun(s.Grades(), 10, passing)
	})
	r.Register("racha_5_sietes", func(s *academic.Snapshot) bool {
		return hasRun(s.Grades(), 5, atLeast(7))
	})
	r.Register("racha_5_ochos", func(s *academic.Snapshot) bool {
		return hasRun(s.Grades(), 5, atLeast(8))
	})
	r.Register("sin_desaprobar_mes", cleanMonth)
	r.Register("todas_materias_aprobadas_cuatri", cleanTerm)
	r.Register("mejora_continua", improvingPeriods)
	r.Register("racha_parciales", func(s *academic.Snapshot) bool {
		return hasRun(filterGrades(s.Grades(), isPartial), 5, passing)
	})
	r.Register("racha_tps", func(s *academic.Snapshot) bool {
		return hasRun(filterGrades(s.Grades(), isAssignment), 10, passing)
	})
	r.Register("racha_7_materias", sevenApprovalsInAYear)
	r.Register("racha_10_dieces", func(s *academic.Snapshot) bool {
		return countGrades(s.Grades(), exactly(10)) >= 10
	})
	r.Register("sin_desaprobar_20", func(s *academic.Snapshot) bool {
		gs := s.Grades()
		if len(gs) < 20 {
			return false
		}
		return allGrades(gs[len(gs)-20:], passing)
	})
	r.Register("racha_verano", func(s *academic.Snapshot) bool {
		return passedInMonths(s, time.December, time.January, time.February) >= 3
	})
	r.Register("racha_invierno", func(s *academic.Snapshot) bool {
		return passedInMonths(s, time.June, time.July, time.August) >= 3
	})
}

// cleanMonth: some calendar month whose grades all passed.
func cleanMonth(s *academic.Snapshot) bool {
	byMonth := make(map[int][]academic.Grade)
	for _, g := range s.Grades() {
		if !g.HasDate() {
			continue
		}
		key := timeutil.YearMonth(g.Date)
		byMonth[key] = append(byMonth[key], g)
	}
	for _, gs := range byMonth {
		if len(gs) > 0 && allGrades(gs, passing) {
			return true
		}
	}
	return false
}

// cleanTerm: some labelled term whose enrollments all ended approved.
func cleanTerm(s *academic.Snapshot) bool {
	byTerm := make(map[string][]academic.Enrollment)
	for _, e := range s.Enrollments() {
		if e.Term == "" {
			continue
		}
		byTerm[e.Term] = append(byTerm[e.Term], e)
	}
	for _, es := range byTerm {
		all := len(es) > 0
		for _, e := range es {
			if !e.IsApproved() {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

type periodAverage struct {
	year, period int
	avg          float64
}

// improvingPeriods: three consecutive teaching periods with strictly
// increasing valid averages. Grades in recess months are ignored.
func improvingPeriods(s *academic.Snapshot) bool {
	type key struct{ year, period int }
	sums := make(map[key][]float64)
	for _, g := range s.Grades() {
		if !g.HasDate() || !g.CountsForAverage() {
			continue
		}
		y, p, ok := timeutil.AcademicPeriod(g.Date)
		if !ok {
			continue
		}
		k := key{y, p}
		sums[k] = append(sums[k], g.Value)
	}
	if len(sums) < 3 {
		return false
	}

	periods := make([]periodAverage, 0, len(sums))
	for k, values := range sums {
		total := 0.0
		for _, v := range values {
			total += v
		}
		periods = append(periods, periodAverage{year: k.year, period: k.period, avg: total / float64(len(values))})
	}
	sort.Slice(periods, func(i, j int) bool {
		if periods[i].year != periods[j].year {
			return periods[i].year < periods[j].year
		}
		return periods[i].period < periods[j].period
	})

	for i := 0; i+2 < len(periods); i++ {
		if periods[i].avg < periods[i+1].avg && periods[i+1].avg < periods[i+2].avg {
			return true
		}
	}
	return false
}

// sevenApprovalsInAYear: seven approvals, ordered by approval date, whose
// first and last are less than 365 days apart.
func sevenApprovalsInAYear(s *academic.Snapshot) bool {
	var dates []time.Time
	for _, e := range s.Enrollments() {
		if e.IsApproved() && e.ApprovedAt != nil {
			dates = append(dates, *e.ApprovedAt)
		}
	}
	if len(dates) < 7 {
		return false
	}
	sort.SliceStable(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	for i := 0; i+6 < len(dates); i++ {
		if timeutil.DaysBetween(dates[i], dates[i+6]) < 365 {
			return true
		}
	}
	return false
}

func passedInMonths(s *academic.Snapshot, months ...time.Month) int {
	return countGrades(s.Grades(), func(g academic.Grade) bool {
		return g.HasDate() && timeutil.MonthIn(g.Date, months...) && g.IsPassing()
	})
}
