package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dshills/bookflow-go/flow"
)

// chapterHeading matches the headings that delimit work units: markdown
// headings and conventional chapter lines.
var chapterHeading = regexp.MustCompile(`(?mi)^(#{1,3}\s+.+|chapter\s+[\divxlc]+.*)$`)

// SplitDocument splits a source document into work units at chapter
// boundaries. A document with no recognizable headings becomes a single
// unit. Unit IDs are stable across runs of the same document, which is
// what lets the artifact store skip completed units on resume.
func SplitDocument(text string) []flow.WorkUnit {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	locs := chapterHeading.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		unit := flow.NewWorkUnit("unit-001", 0, text)
		return []flow.WorkUnit{unit}
	}

	var units []flow.WorkUnit
	appendUnit := func(title, body string) {
		body = strings.TrimSpace(body)
		if body == "" {
			return
		}
		index := len(units)
		unit := flow.NewWorkUnit(fmt.Sprintf("unit-%03d", index+1), index, body)
		unit.Title = title
		units = append(units, unit)
	}

	// Front matter before the first heading becomes its own unit.
	if locs[0][0] > 0 {
		appendUnit("", text[:locs[0][0]])
	}
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		heading := strings.TrimSpace(text[loc[0]:loc[1]])
		title := strings.TrimSpace(strings.TrimLeft(heading, "# "))
		appendUnit(title, text[loc[0]:end])
	}
	return units
}
