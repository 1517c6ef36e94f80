// Package scoring turns a session's event log into an integrity score
// and an itemized deduction ledger. Everything here is pure: no I/O, no
// clocks, no state beyond the static rule table.
package scoring

import "github.com/your-org/proctor/internal/session"

const maxScore = 100

// override swaps the base points when a single meta field matches a
// required value exactly.
type override struct {
	Field  string
	Value  string
	Points int
}

type rule struct {
	Type     session.EventType
	Points   int
	Override *override
}

// Deduction rule table. Types are unique, so at most one rule applies
// per event.
var rules = []rule{
	{Type: session.EventLookingAway, Points: 2},
	{Type: session.EventUserAbsent, Points: 5},
	{Type: session.EventMultipleFaces, Points: 10},
	{
		Type:     session.EventSuspiciousObject,
		Points:   10,
		Override: &override{Field: "class", Value: "cell phone", Points: 15},
	},
	{Type: session.EventDrowsinessDetected, Points: 5},
	{Type: session.EventBackgroundVoice, Points: 3},
}

// Deduction is one ledger entry: the points charged for a single event.
type Deduction struct {
	Type   session.EventType
	Points int
}

// Deductions maps the event log to its deduction ledger, preserving
// input order. Events with no matching rule produce no entry.
func Deductions(events []session.Event) []Deduction {
	var ledger []Deduction
	for _, ev := range events {
		r, ok := lookup(ev.Type)
		if !ok {
			continue
		}
		points := r.Points
		if r.Override != nil && ev.Meta != nil {
			if v, present := ev.Meta[r.Override.Field]; present && v == any(r.Override.Value) {
				points = r.Override.Points
			}
		}
		ledger = append(ledger, Deduction{Type: ev.Type, Points: points})
	}
	return ledger
}

// Score reduces the ledger to a final integrity score in [0,100]:
// start at 100, subtract every deduction, floor at zero.
func Score(events []session.Event) int {
	score := maxScore
	for _, d := range Deductions(events) {
		score -= d.Points
	}
	if score < 0 {
		score = 0
	}
	return score
}

func lookup(t session.EventType) (rule, bool) {
	for _, r := range rules {
		if r.Type == t {
			return r, true
		}
	}
	return rule{}, false
}
