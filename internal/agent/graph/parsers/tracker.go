package parsers

import "github.com/chative-estimate/server/internal/agent/model"

// Tracker latches the first estimate parsed for one assistant turn. After the
// latch, later buffers only refresh the prose; the estimate is never re-parsed.
type Tracker struct {
	estimate *model.Estimate
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Feed returns the current result and whether this call produced the estimate.
func (t *Tracker) Feed(buffer string) (Result, bool) {
	if t.estimate != nil {
		return Result{NaturalText: StripText(buffer), Estimate: t.estimate}, false
	}
	res := Feed(buffer)
	if res.Estimate == nil {
		return res, false
	}
	t.estimate = res.Estimate
	return res, true
}

func (t *Tracker) Estimate() *model.Estimate {
	return t.estimate
}
