package pipeline

import (
	"testing"

	"github.com/dshills/bookflow-go/flow"
)

func TestSplitDocument(t *testing.T) {
	t.Run("markdown headings delimit units", func(t *testing.T) {
		doc := `# Chapter 1

It was the best of times.

# Chapter 2

It was the worst of times.`

		units := SplitDocument(doc)
		if len(units) != 2 {
			t.Fatalf("got %d units", len(units))
		}
		if units[0].Title != "Chapter 1" || units[1].Title != "Chapter 2" {
			t.Errorf("titles = %q, %q", units[0].Title, units[1].Title)
		}
		if units[0].ID != "unit-001" || units[1].ID != "unit-002" {
			t.Errorf("ids = %q, %q", units[0].ID, units[1].ID)
		}
		if units[1].Index != 1 {
			t.Errorf("index = %d", units[1].Index)
		}
	})

	t.Run("plain chapter lines delimit units", func(t *testing.T) {
		doc := `CHAPTER I

Call me Ishmael.

Chapter II

Some years ago.`

		units := SplitDocument(doc)
		if len(units) != 2 {
			t.Fatalf("got %d units", len(units))
		}
	})

	t.Run("front matter becomes its own unit", func(t *testing.T) {
		doc := `A preface about the book.

# Chapter 1

The story begins.`

		units := SplitDocument(doc)
		if len(units) != 2 {
			t.Fatalf("got %d units", len(units))
		}
		if units[0].Title != "" {
			t.Errorf("front matter has title %q", units[0].Title)
		}
		if units[1].Title != "Chapter 1" {
			t.Errorf("title = %q", units[1].Title)
		}
	})

	t.Run("no headings yields one unit", func(t *testing.T) {
		units := SplitDocument("Just a short story without chapters.")
		if len(units) != 1 {
			t.Fatalf("got %d units", len(units))
		}
		if units[0].ID != "unit-001" || units[0].Status != flow.UnitPending {
			t.Errorf("unit = %+v", units[0])
		}
	})

	t.Run("empty input yields nothing", func(t *testing.T) {
		if units := SplitDocument("  \n\t "); units != nil {
			t.Errorf("units = %v", units)
		}
	})

	t.Run("ids are stable across runs", func(t *testing.T) {
		doc := "# One\n\nalpha\n\n# Two\n\nbeta"
		first := SplitDocument(doc)
		second := SplitDocument(doc)
		for i := range first {
			if first[i].ID != second[i].ID {
				t.Errorf("unit %d id changed: %q vs %q", i, first[i].ID, second[i].ID)
			}
		}
	})
}
