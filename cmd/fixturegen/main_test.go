package main

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/l1jgo/scenesync/internal/data"
)

func TestGenerate_LoadsBack(t *testing.T) {
	tags, err := data.LoadTagTable(filepath.Join("..", "..", "data", "yaml", "tags.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	f := generate(tags, 200, rand.New(rand.NewSource(3)))
	if f.Count() != 200 || f.Entities[0].Kind != "directional" {
		t.Fatalf("count %d first %+v", f.Count(), f.Entities[0])
	}

	path := filepath.Join(t.TempDir(), "gen.yaml")
	if err := data.WriteFixture(path, f); err != nil {
		t.Fatal(err)
	}
	if _, err := data.LoadFixture(path, tags); err != nil {
		t.Fatal(err)
	}
}
