package ner

import (
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// CanonicalDateLayout is the YYYY-MM-DD form all DATE entities are rewritten to.
const CanonicalDateLayout = "2006-01-02"

var (
	reLeadingThe = regexp.MustCompile(`(?i)^the\s+`)
	reDayOf      = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+of\s+`)
	reOrdinal    = regexp.MustCompile(`(?i)\b(\d{1,2})(st|nd|rd|th)\b`)
	reDayMonth   = regexp.MustCompile(`^(\d{1,2}\s+\p{L}+),\s*(\d{4})$`)
	reRange      = regexp.MustCompile(`(?i)\p{L}\s+\d{1,2}\s*[-–—]\s*\d{1,2}\b|\d\s*[–—]\s*\d|\d\s+(?:to|through|until|and)\s+\d`)
)

// Written-out layouts tried before dateparse. Month names match case-insensitively.
var textLayouts = []string{
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"2 January 2006",
	"2 Jan 2006",
}

// DateNormalizer rewrites date expressions into CanonicalDateLayout.
// Absolute dates go through dateparse; relative expressions ("tomorrow",
// "next friday") are resolved by when against the reference clock.
type DateNormalizer struct {
	relative *when.Parser
	now      func() time.Time
}

// NewDateNormalizer creates a normalizer. A nil clock means time.Now.
func NewDateNormalizer(now func() time.Time) *DateNormalizer {
	if now == nil {
		now = time.Now
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &DateNormalizer{relative: w, now: now}
}

// Normalize returns the canonical form of value and true, or the original
// value and false when it cannot be read as a single calendar date.
// Ranges and text that only partly reads as a date are left unchanged.
func (d *DateNormalizer) Normalize(value string) (string, bool) {
	s := strings.TrimSpace(value)
	if s == "" {
		return value, false
	}

	if t, err := time.Parse(CanonicalDateLayout, s); err == nil {
		return t.Format(CanonicalDateLayout), true
	}

	cleaned := cleanDate(s)
	if reRange.MatchString(cleaned) {
		return value, false
	}

	for _, layout := range textLayouts {
		if t, err := time.Parse(layout, cleaned); err == nil {
			return t.Format(CanonicalDateLayout), true
		}
	}
	if t, err := dateparse.ParseIn(cleaned, time.UTC); err == nil {
		return t.Format(CanonicalDateLayout), true
	}

	r, err := d.relative.Parse(cleaned, d.now())
	if err != nil || r == nil {
		return value, false
	}
	// when reports the first date-like fragment it finds; anything less
	// than the whole expression would borrow the missing parts from the clock.
	if r.Index != 0 || !strings.EqualFold(strings.TrimSpace(r.Text), cleaned) {
		return value, false
	}
	return r.Time.Format(CanonicalDateLayout), true
}

// cleanDate folds "the 4th of July, 2023" style phrasing into "4 July 2023".
func cleanDate(s string) string {
	s = reLeadingThe.ReplaceAllString(s, "")
	s = reDayOf.ReplaceAllString(s, "$1 ")
	s = reOrdinal.ReplaceAllString(s, "$1")
	s = strings.Join(strings.Fields(s), " ")
	return reDayMonth.ReplaceAllString(s, "$1 $2")
}
