// Package catalog ships the embedded achievement catalog and seeds it into a
// catalog store.
package catalog

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/achievement"
	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/shared"
)

//go:embed catalog.yaml
var catalogYAML []byte

var (
	loadOnce      sync.Once
	embedded      []achievement.Achievement
	embeddedError error
)

type yamlCatalog struct {
	Version      int                       `yaml:"version"`
	Achievements []achievement.Achievement `yaml:"achievements"`
}

// Load returns the embedded catalog in file order, with defaults applied.
//
// The YAML is decoded and validated once; every call returns a fresh copy.
func Load() ([]achievement.Achievement, error) {
	loadOnce.Do(func() {
		embedded, embeddedError = Parse(catalogYAML)
	})
	if embeddedError != nil {
		return nil, embeddedError
	}
	out := make([]achievement.Achievement, len(embedded))
	copy(out, embedded)
	return out, nil
}

// Parse decodes a catalog document and validates every entry. Unknown
// fields are rejected.
func Parse(data []byte) ([]achievement.Achievement, error) {
	var doc yamlCatalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(doc.Achievements) == 0 {
		return nil, shared.ErrCatalogEmpty
	}

	seen := make(map[string]struct{}, len(doc.Achievements))
	out := make([]achievement.Achievement, 0, len(doc.Achievements))
	for i, a := range doc.Achievements {
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("catalog entry %d: %w", i, err)
		}
		if _, dup := seen[a.ID]; dup {
			return nil, shared.WrapError("achievement", "LoadCatalog", shared.ErrAlreadyExists,
				fmt.Sprintf("duplicate id %q", a.ID), shared.ErrDuplicateAchievement)
		}
		seen[a.ID] = struct{}{}
		out = append(out, a.WithDefaults())
	}
	return out, nil
}

// Seed upserts the embedded catalog into repo and returns how many entries
// were written.
func Seed(ctx context.Context, repo achievement.CatalogRepository) (int, error) {
	entries, err := Load()
	if err != nil {
		return 0, err
	}
	if err := repo.UpsertAchievements(ctx, entries); err != nil {
		return 0, fmt.Errorf("seed catalog: %w", err)
	}
	return len(entries), nil
}

// Diff compares catalog ids with registered predicate ids. missing lists
// catalog entries without a predicate; orphans lists predicates without a
// catalog entry. Both are sorted.
func Diff(entries []achievement.Achievement, registered []string) (missing, orphans []string) {
	inCatalog := make(map[string]struct{}, len(entries))
	for _, a := range entries {
		inCatalog[a.ID] = struct{}{}
	}
	inRegistry := make(map[string]struct{}, len(registered))
	for _, id := range registered {
		inRegistry[id] = struct{}{}
		if _, ok := inCatalog[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	for _, a := range entries {
		if _, ok := inRegistry[a.ID]; !ok {
			missing = append(missing, a.ID)
		}
	}
	sort.Strings(missing)
	sort.Strings(orphans)
	return missing, orphans
}
