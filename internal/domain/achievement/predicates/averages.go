package predicates

import (
	"math"

	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/academic"
)

// Averages only ever include grades that count toward the average and passed.
func registerAverages(r *Registry) {
	for id, v := range map[string]float64{
		"promedio_6":     6,
		"promedio_7":     7,
		"promedio_8":     8,
		"promedio_9":     9,
		"promedio_9_5":   9.5,
		"top_10_percent": 9,
	} {
		threshold := v
		r.Register(id, func(s *academic.Snapshot) bool {
			return generalAverageAtLeast(s, threshold)
		})
	}

	r.Register("promedio_10", func(s *academic.Snapshot) bool {
		valid := filterGrades(s.Grades(), academic.Grade.CountsForAverage)
		return len(valid) >= 10 && allGrades(valid, exactly(10))
	})
	r.Register("promedio_parciales_8", kindAverage(isPartial, 10, 8))
	r.Register("promedio_tps_9", kindAverage(isAssignment, 10, 9))

	r.Register("mantener_promedio_8_year", func(s *academic.Snapshot) bool {
		byYear := make(map[int][]academic.Grade)
		for _, g := range s.Grades() {
			if g.HasDate() {
				byYear[g.Date.Year()] = append(byYear[g.Date.Year()], g)
			}
		}
		for _, gs := range byYear {
			if validCount(gs) < 10 {
				continue
			}
			if avg, ok := validMean(gs); ok && avg >= 8 {
				return true
			}
		}
		return false
	})

	r.Register("subir_promedio_1punto", func(s *academic.Snapshot) bool {
		if len(s.Grades()) < 2 {
			return false
		}
		first, second := halves(s.Grades())
		a, okA := validMean(first)
		b, okB := validMean(second)
		return okA && okB && b-a >= 1
	})

	r.Register("mantener_7_50notas", func(s *academic.Snapshot) bool {
		return validCount(s.Grades()) >= 50 && generalAverageAtLeast(s, 7)
	})

	// Dip then recovery across thirds: the middle third is below the first
	// and the last is above both.
	r.Register("recuperacion_promedio", func(s *academic.Snapshot) bool {
		gs := s.Grades()
		if len(gs) < 30 {
			return false
		}
		third := len(gs) / 3
		p1 := validMeanOrZero(gs[:third])
		p2 := validMeanOrZero(gs[third : 2*third])
		p3 := validMeanOrZero(gs[2*third:])
		return p2 < p1 && p3 > p2 && p3 > p1
	})

	r.Register("promedio_primer_cuatri_8", func(s *academic.Snapshot) bool {
		gs := s.Grades()
		if len(gs) == 0 {
			return false
		}
		avg, ok := validMean(gs[:min(15, len(gs))])
		return ok && avg >= 8
	})

	r.Register("mejor_promedio_ultimo_cuatri", func(s *academic.Snapshot) bool {
		if len(s.Grades()) < 10 {
			return false
		}
		first, second := halves(s.Grades())
		a, okA := validMean(first)
		b, okB := validMean(second)
		return okA && okB && b > a
	})

	r.Register("equilibrado", func(s *academic.Snapshot) bool {
		partials := filterGrades(s.Grades(), func(g academic.Grade) bool { return g.IsPartial && g.CountsForAverage() })
		assignments := filterGrades(s.Grades(), func(g academic.Grade) bool { return g.IsAssignment && g.CountsForAverage() })
		if len(partials) < 5 || len(assignments) < 5 {
			return false
		}
		a, _ := mean(partials)
		b, _ := mean(assignments)
		return math.Abs(a-b) <= 0.5+epsilon
	})

	r.Register("sin_bajar_promedio", neverDroppingAverage)

	r.Register("promedio_7_todas_materias", func(s *academic.Snapshot) bool {
		keys, groups := gradesBySubject(s)
		if len(keys) == 0 {
			return false
		}
		for _, subjectID := range keys {
			avg, ok := validMean(groups[subjectID])
			if !ok || avg < 7 {
				return false
			}
		}
		return true
	})

	r.Register("promedio_8_mitad_carrera", func(s *academic.Snapshot) bool {
		return careerProgress(s) >= 0.5 && generalAverageAtLeast(s, 8)
	})

	r.Register("promedio_9_nivel", func(s *academic.Snapshot) bool {
		byLevel := make(map[int][]academic.Grade)
		for _, g := range s.Grades() {
			e, ok := s.EnrollmentByID(g.EnrollmentID)
			if !ok {
				continue
			}
			sub, ok := s.SubjectByID(e.SubjectID)
			if !ok {
				continue
			}
			byLevel[sub.Level] = append(byLevel[sub.Level], g)
		}
		for _, gs := range byLevel {
			if validCount(gs) < 5 {
				continue
			}
			if avg, ok := validMean(gs); ok && avg >= 9 {
				return true
			}
		}
		return false
	})
}

// kindAverage requires at least n counting grades of a kind averaging the
// threshold.
func kindAverage(kind func(academic.Grade) bool, n int, threshold float64) Predicate {
	return func(s *academic.Snapshot) bool {
		gs := filterGrades(s.Grades(), func(g academic.Grade) bool { return kind(g) && g.CountsForAverage() })
		if len(gs) < n {
			return false
		}
		avg, _ := mean(gs)
		return avg >= threshold
	}
}

func validMeanOrZero(gs []academic.Grade) float64 {
	avg, ok := validMean(gs)
	if !ok {
		return 0
	}
	return avg
}

// neverDroppingAverage slides a 20-grade window over the date-ordered
// grades. Inside a window, grades are paired (0,1), (2,3)...; a pair counts
// only if both of its grades count toward the average. The condition holds
// when some window has at least two pair averages and none is below the
// previous one.
func neverDroppingAverage(s *academic.Snapshot) bool {
	const window = 20
	gs := s.Grades()
	if len(gs) < window {
		return false
	}
	for i := 0; i+window <= len(gs); i++ {
		w := gs[i : i+window]
		var pairs []float64
		for j := 0; j+1 < len(w); j += 2 {
			if w[j].CountsForAverage() && w[j+1].CountsForAverage() {
				pairs = append(pairs, (w[j].Value+w[j+1].Value)/2)
			}
		}
		if len(pairs) < 2 {
			continue
		}
		rising := true
		for k := 1; k < len(pairs); k++ {
			if pairs[k] < pairs[k-1] {
				rising = false
				break
			}
		}
		if rising {
			return true
		}
	}
	return false
}
