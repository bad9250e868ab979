package predicates

import (
	"sort"

	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/academic"
	"github.com/Jose-Baigorria/tracking-carrera/pkg/timeutil"
)

// Recovery and comeback narratives.
func registerRecovery(r *Registry) {
	r.Register("de_2_a_10", func(s *academic.Snapshot) bool {
		keys, groups := gradesByEnrollment(s)
		for _, id := range keys {
			gs := groups[id]
			if anyGrade(gs, exactly(2)) && anyGrade(gs, exactly(10)) {
				return true
			}
		}
		return false
	})

	r.Register("segunda_oportunidad", approvedAfterExamDates(isPartial, func(n int) bool { return n == 2 }))
	r.Register("nunca_me_rindo", approvedAfterExamDates(isExam, func(n int) bool { return n >= 4 }))

	// Five partials passed right after failing the previous partial of the
	// same enrollment.
	r.Register("recuperatorio_salvador", func(s *academic.Snapshot) bool {
		keys, groups := gradesByEnrollment(s)
		recovered := 0
		for _, id := range keys {
			partials := filterGrades(groups[id], isPartial)
			for i := 1; i < len(partials); i++ {
				if failing(partials[i-1]) && passing(partials[i]) {
					recovered++
				}
			}
		}
		return recovered >= 5
	})

	// An approved enrollment whose first two partials both failed.
	r.Register("remontada", func(s *academic.Snapshot) bool {
		for _, e := range s.Enrollments() {
			if !e.IsApproved() {
				continue
			}
			partials := filterGrades(gradesOfEnrollment(s, e.ID), isPartial)
			if len(partials) >= 2 && failing(partials[0]) && failing(partials[1]) {
				return true
			}
		}
		return false
	})

	// Promoted despite a first partial below 6.
	r.Register("milagro", func(s *academic.Snapshot) bool {
		for _, e := range s.Enrollments() {
			if !e.Promoted {
				continue
			}
			partials := filterGrades(gradesOfEnrollment(s, e.ID), isPartial)
			if len(partials) > 0 && partials[0].Value < 6 {
				return true
			}
		}
		return false
	})

	r.Register("phoenix_rise", phoenixRise)

	r.Register("del_abismo", func(s *academic.Snapshot) bool {
		if len(s.Grades()) < 10 {
			return false
		}
		first, second := halves(filterGrades(s.Grades(), dated))
		a, okA := validMean(first)
		b, okB := validMean(second)
		return okA && okB && a < 5 && b >= 7
	})

	// Failed in at least three subjects yet approved five.
	r.Register("resiliencia", func(s *academic.Snapshot) bool {
		failedSubjects := make(map[string]struct{})
		for _, g := range s.Grades() {
			if !failing(g) {
				continue
			}
			if e, ok := s.EnrollmentByID(g.EnrollmentID); ok {
				failedSubjects[e.SubjectID] = struct{}{}
			}
		}
		return len(failedSubjects) >= 3 && countEnrollments(s, academic.StatusApproved) >= 5
	})

	r.Register("mejor_version", func(s *academic.Snapshot) bool {
		if len(s.Grades()) < 10 {
			return false
		}
		gs := filterGrades(s.Grades(), dated)
		third := len(gs) / 3
		if third < 3 {
			return false
		}
		a, okA := validMean(gs[:third])
		b, okB := validMean(gs[len(gs)-third:])
		return okA && okB && b > a
	})
}

// approvedAfterExamDates: some approved subject whose exams of the given kind
// took place on a number of distinct dates accepted by want.
func approvedAfterExamDates(kind func(academic.Grade) bool, want func(int) bool) Predicate {
	return func(s *academic.Snapshot) bool {
		keys, groups := gradesBySubject(s)
		for _, subjectID := range keys {
			dates := make(map[string]struct{})
			for _, g := range groups[subjectID] {
				if kind(g) && g.HasDate() {
					dates[timeutil.DateKey(g.Date)] = struct{}{}
				}
			}
			if want(len(dates)) && subjectApproved(s, subjectID) {
				return true
			}
		}
		return false
	}
}

// phoenixRise: two consecutive four-month blocks whose averages rise by at
// least three points. Blocks without counting grades are skipped.
func phoenixRise(s *academic.Snapshot) bool {
	if len(s.Grades()) < 10 {
		return false
	}
	type block struct{ year, period int }
	byBlock := make(map[block][]academic.Grade)
	for _, g := range s.Grades() {
		if !g.HasDate() {
			continue
		}
		y, p := timeutil.FourMonthPeriod(g.Date)
		byBlock[block{y, p}] = append(byBlock[block{y, p}], g)
	}
	if len(byBlock) < 2 {
		return false
	}

	blocks := make([]block, 0, len(byBlock))
	for b := range byBlock {
		blocks = append(blocks, b)
	}
	sort.Slice(blocks, func(i, j int) bool {
		if blocks[i].year != blocks[j].year {
			return blocks[i].year < blocks[j].year
		}
		return blocks[i].period < blocks[j].period
	})

	var averages []float64
	for _, b := range blocks {
		if avg, ok := validMean(byBlock[b]); ok {
			averages = append(averages, avg)
		}
	}
	for i := 1; i < len(averages); i++ {
		if averages[i]-averages[i-1] >= 3 {
			return true
		}
	}
	return false
}
