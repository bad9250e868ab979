package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/achievement"
	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/achievement/predicates"
	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/shared"
)

func TestLoadEmbeddedCatalog(t *testing.T) {
	entries, err := Load()
	require.NoError(t, err)
	require.Len(t, entries, 177)

	assert.Equal(t, "primer_2", entries[0].ID)
	assert.Equal(t, "promedio_final_9", entries[len(entries)-1].ID)

	perCategory := make(map[achievement.Category]int)
	for _, a := range entries {
		perCategory[a.Category]++
		assert.NotEmpty(t, a.Name, a.ID)
		assert.Positive(t, a.Points, a.ID)
		assert.Equal(t, achievement.DefaultRequiredProgress, a.RequiredProgress, a.ID)
	}
	assert.Len(t, perCategory, len(achievement.Categories))
	assert.Equal(t, 10, perCategory[achievement.CategorySocial])
}

func TestLoadReturnsCopies(t *testing.T) {
	first, err := Load()
	require.NoError(t, err)
	first[0].Name = "changed"

	second, err := Load()
	require.NoError(t, err)
	assert.NotEqual(t, "changed", second[0].Name)
}

func TestCatalogMatchesPredicateRegistry(t *testing.T) {
	entries, err := Load()
	require.NoError(t, err)

	missing, orphans := Diff(entries, predicates.Default().IDs())
	assert.Empty(t, missing, "catalog entries without a predicate")
	assert.Empty(t, orphans, "predicates without a catalog entry")
}

func TestParseRejectsBadCatalogs(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{
			name: "empty",
			doc:  "version: 1\nachievements: []\n",
			want: shared.ErrCatalogEmpty,
		},
		{
			name: "duplicate id",
			doc: `achievements:
  - {id: a, name: A, category: milestones}
  - {id: a, name: B, category: streaks}
`,
			want: shared.ErrDuplicateAchievement,
		},
		{
			name: "unknown category",
			doc:  "achievements:\n  - {id: a, name: A, category: misc}\n",
			want: shared.ErrUnknownCategory,
		},
		{
			name: "missing id",
			doc:  "achievements:\n  - {name: A, category: social}\n",
			want: shared.ErrInvalidID,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	_, err := Parse([]byte("achievements:\n  - {id: a, name: A, category: social, icon: x}\n"))
	assert.Error(t, err, "unknown fields are rejected")
}

func TestParseAppliesDefaults(t *testing.T) {
	entries, err := Parse([]byte("achievements:\n  - {id: a, name: A, category: social}\n"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, achievement.DefaultPoints, entries[0].Points)
	assert.Equal(t, achievement.RarityCommon, entries[0].Rarity)
}

type recordingCatalog struct {
	upserted []achievement.Achievement
	err      error
}

func (r *recordingCatalog) AllAchievements(context.Context) ([]achievement.Achievement, error) {
	return r.upserted, nil
}

func (r *recordingCatalog) UpsertAchievements(_ context.Context, as []achievement.Achievement) error {
	if r.err != nil {
		return r.err
	}
	r.upserted = append(r.upserted, as...)
	return nil
}

func TestSeed(t *testing.T) {
	repo := &recordingCatalog{}
	n, err := Seed(context.Background(), repo)
	require.NoError(t, err)
	assert.Equal(t, 177, n)
	assert.Len(t, repo.upserted, 177)

	failing := &recordingCatalog{err: errors.New("store down")}
	_, err = Seed(context.Background(), failing)
	assert.ErrorContains(t, err, "store down")
}

func TestDiff(t *testing.T) {
	entries := []achievement.Achievement{{ID: "a"}, {ID: "b"}}
	missing, orphans := Diff(entries, []string{"b", "c"})
	assert.Equal(t, []string{"a"}, missing)
	assert.Equal(t, []string{"c"}, orphans)
}
