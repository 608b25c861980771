package transport

import (
	"context"
	"errors"
	"slices"
	"strings"
)

var ErrUnknownArchive = errors.New("unknown archive")

type Option struct {
	Key     string   `yaml:"key"`
	Type    string   `yaml:"type"`
	Default string   `yaml:"default"`
	Values  []string `yaml:"values"`
}

type Archive struct {
	Name     string   `yaml:"name"`
	Checksum string   `yaml:"checksum"`
	Options  []Option `yaml:"options"`
	// StartPositions is only meaningful for maps; zero means unknown.
	StartPositions int `yaml:"startPositions"`
}

type Catalog interface {
	ListMaps(ctx context.Context) ([]Archive, error)
	ListMods(ctx context.Context) ([]Archive, error)
}

// StaticCatalog serves archives declared in the configuration.
type StaticCatalog struct {
	Maps []Archive
	Mods []Archive
}

func (c StaticCatalog) ListMaps(context.Context) ([]Archive, error) { return slices.Clone(c.Maps), nil }
func (c StaticCatalog) ListMods(context.Context) ([]Archive, error) { return slices.Clone(c.Mods), nil }

// Archives is one loaded snapshot of the catalog.
type Archives struct {
	maps map[string]Archive
	mods map[string]Archive
}

func LoadArchives(ctx context.Context, c Catalog) (Archives, error) {
	maps, err := c.ListMaps(ctx)
	if err != nil {
		return Archives{}, err
	}
	mods, err := c.ListMods(ctx)
	if err != nil {
		return Archives{}, err
	}
	a := Archives{maps: make(map[string]Archive, len(maps)), mods: make(map[string]Archive, len(mods))}
	for _, m := range maps {
		a.maps[strings.ToLower(m.Name)] = m
	}
	for _, m := range mods {
		a.mods[strings.ToLower(m.Name)] = m
	}
	return a, nil
}

func (a Archives) Map(name string) (Archive, error) {
	m, ok := a.maps[strings.ToLower(name)]
	if !ok {
		return Archive{}, ErrUnknownArchive
	}
	return m, nil
}

func (a Archives) Mod(name string) (Archive, error) {
	m, ok := a.mods[strings.ToLower(name)]
	if !ok {
		return Archive{}, ErrUnknownArchive
	}
	return m, nil
}

// NextMap returns the rotation entry following current, skipping maps the
// catalog does not know. It returns current when nothing else is usable.
func (a Archives) NextMap(current string, rotation []string) string {
	start := slices.IndexFunc(rotation, func(m string) bool { return strings.EqualFold(m, current) })
	for i := 1; i <= len(rotation); i++ {
		cand := rotation[(start+i+len(rotation))%len(rotation)]
		if strings.EqualFold(cand, current) {
			continue
		}
		if _, err := a.Map(cand); err == nil {
			return cand
		}
	}
	return current
}
