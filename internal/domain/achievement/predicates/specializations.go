package predicates

import (
	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/academic"
)

// Specializations filter the catalog by subject-name keywords. Keywords keep
// both accented and plain spellings; matching is accent-insensitive anyway.
var (
	mathKeywords        = []string{"análisis", "álgebra", "matemática", "matematica", "cálculo", "calculo"}
	programmingKeywords = []string{"programación", "programacion", "algoritmo", "software", "lenguaje"}
	physicsKeywords     = []string{"física", "fisica"}
	softwareKeywords    = []string{"ingeniería", "ingenieria", "software", "desarrollo", "sistema"}
	networkKeywords     = []string{"redes", "comunicación", "comunicacion"}
	databaseKeywords    = []string{"base de datos", "bases de datos", "bd", "database"}
	aiKeywords          = []string{"inteligencia artificial", "ia", "aprendizaje", "machine learning"}
	osKeywords          = []string{"sistemas operativos", "sistema operativo"}
	algorithmKeywords   = []string{"algoritmo", "estructura de datos", "algoritmos"}
	architectureKeyword = []string{"arquitectura"}
)

func registerSpecializations(r *Registry) {
	r.Register("matematico", everySubjectMeets(mathKeywords, 7))
	r.Register("programador", everySubjectMeets(programmingKeywords, 8))
	r.Register("fisico", everySubjectMeets(physicsKeywords, 7))
	r.Register("ingeniero_software", everySubjectMeets(softwareKeywords, 8))
	r.Register("ia_specialist", everySubjectMeets(aiKeywords, 9))

	r.Register("redes_experto", approvedSubjectsAverage(networkKeywords, 9))
	r.Register("bd_master", approvedSubjectsAverage(databaseKeywords, 9))

	r.Register("sistemas_operativos_guru", firstSubjectMeets(osKeywords, 10))
	r.Register("algoritmico", firstSubjectMeets(algorithmKeywords, 9))
	r.Register("arquitecto", firstSubjectMeets(architectureKeyword, 9))
}

// everySubjectMeets: at least one subject matches and every match is
// approved with a subject average at or above threshold.
func everySubjectMeets(keywords []string, threshold float64) Predicate {
	return func(s *academic.Snapshot) bool {
		subjects := filterSubjects(s, keywords...)
		if len(subjects) == 0 {
			return false
		}
		for _, sub := range subjects {
			if !subjectMeets(s, sub.ID, threshold) {
				return false
			}
		}
		return true
	}
}

// approvedSubjectsAverage: the mean of the subject averages of the approved
// matching subjects reaches threshold.
func approvedSubjectsAverage(keywords []string, threshold float64) Predicate {
	return func(s *academic.Snapshot) bool {
		var averages []float64
		for _, sub := range filterSubjects(s, keywords...) {
			if subjectMeets(s, sub.ID, academic.PassingGrade) {
				averages = append(averages, subjectAverage(s, sub.ID))
			}
		}
		if len(averages) == 0 {
			return false
		}
		total := 0.0
		for _, a := range averages {
			total += a
		}
		return total/float64(len(averages)) >= threshold
	}
}

// firstSubjectMeets checks only the first matching subject in catalog order.
func firstSubjectMeets(keywords []string, threshold float64) Predicate {
	return func(s *academic.Snapshot) bool {
		subjects := filterSubjects(s, keywords...)
		if len(subjects) == 0 {
			return false
		}
		return subjectMeets(s, subjects[0].ID, threshold)
	}
}
