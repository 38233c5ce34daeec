// Package ledger keeps the canonical estimate and the client-side soft-delete
// overlay, and recomputes the aggregates shown under the line-item table.
package ledger

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/chative-estimate/server/internal/agent/model"
)

var firstInt = regexp.MustCompile(`\d+`)

// Totals are the recomputed sums over non-deleted items.
type Totals struct {
	Amount   float64 `json:"amount"`
	Duration float64 `json:"duration"`
	Pages    float64 `json:"pages"`
}

// View is a read-only snapshot handed to renderers.
type View struct {
	Estimate *model.Estimate `json:"estimate,omitempty"`
	Deleted  map[string]bool `json:"deleted"`
	Totals   Totals          `json:"totals"`
}

// Ledger is not safe for concurrent use; the owning chat serializes access.
type Ledger struct {
	estimate *model.Estimate
	overlay  map[string]bool
	totals   Totals
}

func New() *Ledger {
	return &Ledger{overlay: map[string]bool{}}
}

// Seed replaces the estimate, resets the overlay and recomputes the totals.
func (l *Ledger) Seed(estimate *model.Estimate) View {
	l.estimate = estimate
	l.overlay = map[string]bool{}
	l.totals = Aggregate(estimate, l.overlay)
	return l.View()
}

// ToggleDeleted flips the soft-delete flag for one item. Unknown ids are a no-op.
func (l *Ledger) ToggleDeleted(itemID string) View {
	if !l.hasItem(itemID) {
		return l.View()
	}
	if l.overlay[itemID] {
		delete(l.overlay, itemID)
	} else {
		l.overlay[itemID] = true
	}
	l.totals = Aggregate(l.estimate, l.overlay)
	return l.View()
}

// Clear drops the estimate and overlay.
func (l *Ledger) Clear() {
	l.estimate = nil
	l.overlay = map[string]bool{}
	l.totals = Totals{}
}

func (l *Ledger) Estimate() *model.Estimate {
	return l.estimate
}

func (l *Ledger) View() View {
	deleted := make(map[string]bool, len(l.overlay))
	for k, v := range l.overlay {
		deleted[k] = v
	}
	return View{Estimate: l.estimate, Deleted: deleted, Totals: l.totals}
}

// Snapshot describes the current totals and deletions in plain text so the
// backend can account for items the user already removed.
func (l *Ledger) Snapshot() string {
	if l.estimate == nil {
		return "Current estimate: none."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Current estimate for %q: amount=%s, duration=%s, pages=%s.",
		l.estimate.Project, formatNumber(l.totals.Amount), formatNumber(l.totals.Duration), formatNumber(l.totals.Pages))

	var removed []string
	for _, item := range l.estimate.Items() {
		if l.overlay[string(item.ID)] {
			removed = append(removed, fmt.Sprintf("%s (%s)", item.Feature, item.ID))
		}
	}
	if len(removed) == 0 {
		b.WriteString(" Deleted items: none.")
	} else {
		b.WriteString(" Deleted items: ")
		b.WriteString(strings.Join(removed, ", "))
		b.WriteString(".")
	}
	return b.String()
}

func (l *Ledger) hasItem(itemID string) bool {
	for _, item := range l.estimate.Items() {
		if string(item.ID) == itemID {
			return true
		}
	}
	return false
}

// Aggregate sums the non-deleted items. Amounts only count when numeric; a
// string amount is a sentinel such as "quote on request" and is skipped.
// Durations and page counts take the first integer token of string values so
// "5 days" and "3 pages" both count; text without digits contributes zero.
func Aggregate(estimate *model.Estimate, overlay map[string]bool) Totals {
	var t Totals
	for _, item := range estimate.Items() {
		if overlay[string(item.ID)] {
			continue
		}
		if item.Amount.IsNumber {
			t.Amount += item.Amount.Number
		}
		t.Duration += quantity(item.Duration)
		t.Pages += quantity(item.Pages)
	}
	return t
}

func quantity(v model.FlexValue) float64 {
	if !v.Present {
		return 0
	}
	if v.IsNumber {
		return v.Number
	}
	tok := firstInt.FindString(v.Text)
	if tok == "" {
		return 0
	}
	n, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0
	}
	return n
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
