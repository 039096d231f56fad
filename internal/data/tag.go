package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/l1jgo/scenesync/internal/scene/entity"
)

// TagEntry defines one classification tag. Tags sharing a name share a
// packed bucket; always-visible tags are packed after every other bucket.
type TagEntry struct {
	Name          string `yaml:"name"`
	AlwaysVisible bool   `yaml:"always_visible"`
	Note          string `yaml:"note"`
}

// TagTable resolves tag names loaded from tags.yaml.
type TagTable struct {
	tags  map[string]entity.Tag
	order []string
}

// LoadTagTable loads tags.yaml.
func LoadTagTable(path string) (*TagTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tag table: %w", err)
	}
	var file struct {
		Tags []TagEntry `yaml:"tags"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse tag table: %w", err)
	}
	t := &TagTable{tags: make(map[string]entity.Tag, len(file.Tags))}
	for _, e := range file.Tags {
		if e.Name == "" {
			return nil, fmt.Errorf("tag table: entry without name")
		}
		if _, dup := t.tags[e.Name]; dup {
			return nil, fmt.Errorf("tag table: duplicate tag %q", e.Name)
		}
		t.tags[e.Name] = entity.Tag{Name: e.Name, AlwaysVisible: e.AlwaysVisible}
		t.order = append(t.order, e.Name)
	}
	return t, nil
}

// Get returns the tag with the given name.
func (t *TagTable) Get(name string) (entity.Tag, bool) {
	tag, ok := t.tags[name]
	return tag, ok
}

// Names returns tag names in file order.
func (t *TagTable) Names() []string { return t.order }

func (t *TagTable) Count() int { return len(t.tags) }
