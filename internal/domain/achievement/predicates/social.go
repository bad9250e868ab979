package predicates

import (
	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/academic"
)

// social wraps a counter check. Without a user id the social stores cannot
// be attributed, so the condition is never met.
func social(check func(c academic.SocialCounts) bool) Predicate {
	return func(s *academic.Snapshot) bool {
		if s.UserID() == "" {
			return false
		}
		return check(s.Social())
	}
}

func registerSocial(r *Registry) {
	r.Register("primer_grupo", social(func(c academic.SocialCounts) bool {
		return c.GroupsCreated+c.GroupMemberships >= 1
	}))
	r.Register("colaborador", social(func(c academic.SocialCounts) bool {
		return c.NotesShared >= 5
	}))
	r.Register("tutor", social(func(c academic.SocialCounts) bool {
		return c.TutoringGiven >= 3
	}))
	r.Register("mejor_compañero", social(func(c academic.SocialCounts) bool {
		return c.ThanksReceived >= 5
	}))
	r.Register("lider_equipo", social(func(c academic.SocialCounts) bool {
		return c.GroupsCreated >= 2
	}))
	r.Register("networking", social(func(c academic.SocialCounts) bool {
		return c.GroupMemberships >= 3
	}))
	r.Register("explicador", social(func(c academic.SocialCounts) bool {
		return c.ExplanationThanksSent >= 10
	}))
	r.Register("organizador", social(func(c academic.SocialCounts) bool {
		return c.SessionsInCreatedGroups >= 5
	}))
	r.Register("comunidad", social(func(c academic.SocialCounts) bool {
		return c.GroupMemberships >= 2 && c.NotesShared >= 3 && c.TutoringGiven >= 1
	}))
	r.Register("mentor_senior", social(func(c academic.SocialCounts) bool {
		return c.TutoringSuccessful >= 10
	}))
}
