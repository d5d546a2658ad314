// Package change decides whether an incoming opportunity differs enough
// from the stored row to justify an update write. Upstream sources return
// near-identical data on every poll; without this gate every run would be
// an update storm.
package change

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/grantwell/ingest-cli/internal/model"
)

// moneyThreshold is the relative difference a monetary field must exceed
// (strictly) to count as material.
const moneyThreshold = 0.05

// descriptionSimilarityFloor is the Jaccard similarity below which a
// description change is material.
const descriptionSimilarityFloor = 0.80

// minTokenLength excludes short filler words from the Jaccard token set.
const minTokenLength = 3

// FieldChange records a single field's before/after values for audit logs.
type FieldChange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// IsMaterial reports whether any monitored field of incoming differs
// materially from existing. Neither input is modified.
func IsMaterial(existing, incoming *model.Opportunity) bool {
	return len(Describe(existing, incoming)) > 0
}

// Describe returns the set of materially changed fields keyed by field
// name, with stringified before/after values.
func Describe(existing, incoming *model.Opportunity) map[string]FieldChange {
	changes := make(map[string]FieldChange)

	if dateChanged(existing.OpenDate, incoming.OpenDate) {
		changes["open_date"] = FieldChange{From: dateString(existing.OpenDate), To: dateString(incoming.OpenDate)}
	}
	if dateChanged(existing.CloseDate, incoming.CloseDate) {
		changes["close_date"] = FieldChange{From: dateString(existing.CloseDate), To: dateString(incoming.CloseDate)}
	}
	if stringChanged(existing.Status, incoming.Status) {
		changes["status"] = FieldChange{From: existing.Status, To: incoming.Status}
	}
	if stringChanged(existing.FundingType, incoming.FundingType) {
		changes["funding_type"] = FieldChange{From: existing.FundingType, To: incoming.FundingType}
	}
	if moneyChanged(existing.AmountMin, incoming.AmountMin) {
		changes["amount_min"] = FieldChange{From: moneyString(existing.AmountMin), To: moneyString(incoming.AmountMin)}
	}
	if moneyChanged(existing.AmountMax, incoming.AmountMax) {
		changes["amount_max"] = FieldChange{From: moneyString(existing.AmountMax), To: moneyString(incoming.AmountMax)}
	}
	if moneyChanged(existing.TotalFunding, incoming.TotalFunding) {
		changes["total_funding"] = FieldChange{From: moneyString(existing.TotalFunding), To: moneyString(incoming.TotalFunding)}
	}
	if descriptionChanged(existing.Description, incoming.Description) {
		changes["description"] = FieldChange{From: truncate(existing.Description), To: truncate(incoming.Description)}
	}

	return changes
}

// dateChanged compares at calendar-day granularity in UTC. Any day-level
// difference is material, as is a null/non-null transition.
func dateChanged(a, b *time.Time) bool {
	if a == nil && b == nil {
		return false
	}
	if a == nil || b == nil {
		return true
	}
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay != by || am != bm || ad != bd
}

func stringChanged(a, b string) bool {
	return !strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// moneyChanged applies the 5% relative threshold. Null/non-null and
// zero/non-zero transitions are always material; two equal nulls or zeros
// never are. The threshold is strict: a change of exactly 5% is ignored.
func moneyChanged(a, b *float64) bool {
	if a == nil && b == nil {
		return false
	}
	if a == nil || b == nil {
		return true
	}
	av, bv := *a, *b
	if av == 0 && bv == 0 {
		return false
	}
	if av == 0 || bv == 0 {
		return true
	}
	return math.Abs(bv-av)/math.Abs(av) > moneyThreshold
}

// descriptionChanged normalizes both descriptions and, when they still
// differ, falls back to word-level Jaccard similarity over tokens longer
// than minTokenLength.
func descriptionChanged(a, b string) bool {
	if a == "" && b == "" {
		return false
	}
	if a == "" || b == "" {
		return true
	}

	na, nb := normalizeText(a), normalizeText(b)
	if na == nb {
		return false
	}
	return jaccard(tokenSet(na), tokenSet(nb)) < descriptionSimilarityFloor
}

// normalizeText lowercases and strips punctuation, collapsing whitespace.
func normalizeText(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(s) {
		if len(tok) > minTokenLength {
			set[tok] = true
		}
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	intersection := 0
	for tok := range a {
		if b[tok] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 1
	}
	return float64(intersection) / float64(union)
}

func dateString(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}

func moneyString(f *float64) string {
	if f == nil {
		return ""
	}
	return fmt.Sprintf("%.2f", *f)
}

func truncate(s string) string {
	const maxLen = 120
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
