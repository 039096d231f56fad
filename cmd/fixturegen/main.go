// fixturegen writes a random scene fixture for a tag table.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"

	"github.com/l1jgo/scenesync/internal/data"
)

func main() {
	if len(os.Args) < 4 {
		fmt.Fprintln(os.Stderr, "Usage: fixturegen <tags.yaml> <count> <output.yaml> [seed]")
		os.Exit(1)
	}

	tags, err := data.LoadTagTable(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	count, err := strconv.Atoi(os.Args[2])
	if err != nil || count <= 0 {
		fmt.Fprintf(os.Stderr, "bad count %q\n", os.Args[2])
		os.Exit(1)
	}
	seed := int64(1)
	if len(os.Args) > 4 {
		if seed, err = strconv.ParseInt(os.Args[4], 10, 64); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	f := generate(tags, count, rand.New(rand.NewSource(seed)))
	if err := data.WriteFixture(os.Args[3], f); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	byTag := map[string]int{}
	for _, e := range f.Entities {
		byTag[e.Tag]++
	}
	names := make([]string, 0, len(byTag))
	for n := range byTag {
		names = append(names, n)
	}
	sort.Strings(names)
	fmt.Printf("Wrote %d entities to %s\n", f.Count(), os.Args[3])
	for _, n := range names {
		fmt.Printf("  %-12s %d\n", n, byTag[n])
	}
}

// generate scatters meshes over a square world. The "light" tag, when
// present, receives roughly one point light in eight and one directional
// light; "decal" receives decals.
func generate(tags *data.TagTable, count int, rng *rand.Rand) *data.Fixture {
	const half = 500.0
	var meshTags []string
	for _, n := range tags.Names() {
		if n != "light" && n != "decal" {
			meshTags = append(meshTags, n)
		}
	}
	if len(meshTags) == 0 {
		meshTags = tags.Names()
	}
	_, hasLight := tags.Get("light")
	_, hasDecal := tags.Get("decal")

	f := &data.Fixture{Name: fmt.Sprintf("generated-%d", count)}
	pos := func() [3]float64 {
		return [3]float64{rng.Float64()*2*half - half, rng.Float64() * 20, rng.Float64()*2*half - half}
	}
	if hasLight {
		f.Entities = append(f.Entities, data.FixtureEntity{Ref: "sun", Kind: "directional", Tag: "light", Position: [3]float64{0, 1000, 0}})
	}
	for i := len(f.Entities); i < count; i++ {
		e := data.FixtureEntity{Ref: "e" + strconv.Itoa(i), Position: pos()}
		switch r := rng.Intn(8); {
		case r == 0 && hasLight:
			e.Kind, e.Tag, e.Radius = "point", "light", 5+rng.Float64()*20
		case r == 1 && hasDecal:
			e.Kind, e.Tag = "decal", "decal"
			e.Extent = [3]float64{1 + rng.Float64()*3, 0.5, 1 + rng.Float64()*3}
		default:
			e.Kind, e.Tag = "mesh", meshTags[rng.Intn(len(meshTags))]
			e.Extent = [3]float64{0.5 + rng.Float64()*4, 0.5 + rng.Float64()*4, 0.5 + rng.Float64()*4}
			e.NoShadow = rng.Intn(10) == 0
		}
		f.Entities = append(f.Entities, e)
	}
	return f
}
