package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/LewisZett/parts-connect-pro/listing"
)

// ErrNoParts means the model output held no usable parts. Nothing is inserted.
var ErrNoParts = errors.New("ingest: no parts could be extracted from the text")

const (
	defaultCondition = "used-good"
	otherCategory    = "other"
)

// Categories are the buckets the model is asked to classify into.
var Categories = []string{"electrical", "plumbing", "hvac", "structural", "roofing", "flooring", "doors", "windows", "other"}

var conditions = map[string]bool{
	"new": true, "like-new": true, "used-good": true, "used-fair": true, "for-parts": true,
}

type extractedPart struct {
	PartName    string   `json:"part_name"`
	Category    string   `json:"category"`
	Condition   string   `json:"condition"`
	Price       *float64 `json:"price"`
	Description string   `json:"description"`
}

// Parse decodes the model's JSON array, tolerating a surrounding code fence,
// and applies field defaults. Over-long names and descriptions are clipped to
// the listing limits. A nameless entry fails the whole batch.
func Parse(raw string) ([]listing.PartInput, error) {
	body := stripFence(raw)
	if !strings.HasPrefix(body, "[") {
		return nil, fmt.Errorf("%w: model output is not a JSON array", ErrNoParts)
	}

	var extracted []extractedPart
	if err := json.Unmarshal([]byte(body), &extracted); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoParts, err)
	}
	if len(extracted) == 0 {
		return nil, ErrNoParts
	}

	parts := make([]listing.PartInput, 0, len(extracted))
	for i, e := range extracted {
		name := strings.TrimSpace(e.PartName)
		if name == "" {
			return nil, fmt.Errorf("%w: entry %d has no part_name", ErrNoParts, i)
		}

		p := listing.PartInput{
			Name:        clip(name, listing.MaxNameLen),
			Category:    normalizeCategory(e.Category),
			Condition:   normalizeCondition(e.Condition),
			Description: clip(strings.TrimSpace(e.Description), listing.MaxDescriptionLen),
		}
		if e.Price != nil && *e.Price > 0 {
			p.Price = *e.Price
		}
		parts = append(parts, p)
	}
	return parts, nil
}

// clip cuts s to at most n runes.
func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n]))
}

func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(s, "```json"):
		s = strings.TrimPrefix(s, "```json")
	case strings.HasPrefix(s, "```"):
		s = strings.TrimPrefix(s, "```")
	default:
		return s
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func normalizeCategory(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	for _, known := range Categories {
		if c == known {
			return c
		}
	}
	return otherCategory
}

func normalizeCondition(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	if conditions[c] {
		return c
	}
	return defaultCondition
}
