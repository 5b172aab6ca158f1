package worker

import (
	"fmt"
	"strings"
)

// Column layout of a work list row
const (
	colReference = iota
	colTitle
	colDescription
	colTags
	colID

	requiredColumns
)

const tagSeparator = ","

// WorkItem represents one row's intent to migrate a single asset
type WorkItem struct {
	SourceReference string   `json:"source_reference"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Tags            []string `json:"tags"`
	ID              string   `json:"id"`
}

// ParseError reports a row that cannot become a WorkItem
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "invalid row: " + e.Reason
}

// ParseRow converts a work list row into a WorkItem
func ParseRow(row []string) (WorkItem, error) {
	if len(row) < requiredColumns {
		return WorkItem{}, &ParseError{Reason: fmt.Sprintf("expected %d columns, got %d", requiredColumns, len(row))}
	}

	item := WorkItem{
		SourceReference: strings.TrimSpace(row[colReference]),
		Title:           strings.TrimSpace(row[colTitle]),
		Description:     strings.TrimSpace(row[colDescription]),
		Tags:            parseTags(row[colTags]),
		ID:              strings.TrimSpace(row[colID]),
	}

	switch {
	case item.SourceReference == "":
		return WorkItem{}, &ParseError{Reason: "source reference is empty"}
	case item.Title == "":
		return WorkItem{}, &ParseError{Reason: "title is empty"}
	case item.Description == "":
		return WorkItem{}, &ParseError{Reason: "description is empty"}
	case item.ID == "":
		return WorkItem{}, &ParseError{Reason: "id is empty"}
	}

	return item, nil
}

func parseTags(cell string) []string {
	tags := []string{}
	for _, segment := range strings.Split(cell, tagSeparator) {
		if tag := strings.TrimSpace(segment); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// ScratchName returns the scratch file name for an item id.
// Distinct ids never share a name and the same id always maps to the same name.
func ScratchName(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		default:
			// escape anything else, '_' included, so the mapping stays injective
			fmt.Fprintf(&b, "_%x_", r)
		}
	}
	return b.String() + ".mp4"
}

// Config contains item processing configuration
type Config struct {
	TempDir string
}
