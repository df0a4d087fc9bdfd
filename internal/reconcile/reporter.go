package reconcile

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Reporter renders plans and outcomes. plan is nil for skipped groups.
type Reporter interface {
	Group(plan *Plan, result GroupResult)
	Summary(summary Summary) error
}

// TextReporter writes one line per group followed by the aggregate line.
// Verbose output lists the sorted want, have, add and remove sets.
type TextReporter struct {
	w       io.Writer
	verbose bool
	dryRun  bool
}

// NewTextReporter creates a reporter that writes to w.
func NewTextReporter(w io.Writer, verbose, dryRun bool) *TextReporter {
	return &TextReporter{w: w, verbose: verbose, dryRun: dryRun}
}

func (r *TextReporter) Group(plan *Plan, result GroupResult) {
	if r.verbose && plan != nil {
		fmt.Fprintf(r.w, "%s (%s)\n", plan.GroupName, plan.Kind)
		writeSet(r.w, "want", plan.Want)
		writeSet(r.w, "have", plan.Have)
		writeSet(r.w, "add", plan.ToAdd)
		writeSet(r.w, "remove", plan.ToRemove)
	}
	fmt.Fprintln(r.w, result.Line(r.dryRun))
}

func (r *TextReporter) Summary(summary Summary) error {
	if _, err := fmt.Fprintln(r.w, summary.Totals.Line(summary.DryRun)); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

func writeSet(w io.Writer, label string, s Set) {
	fmt.Fprintf(w, "  %-7s %s\n", label+":", strings.Join(s.Sorted(), " "))
}

// JSONReporter writes the whole summary as one JSON document when the run
// ends. Verbose output adds the member lists of every plan.
type JSONReporter struct {
	w       io.Writer
	verbose bool
	plans   []planJSON
}

type planJSON struct {
	Group    string   `json:"group"`
	Want     []string `json:"want"`
	Have     []string `json:"have"`
	ToAdd    []string `json:"to_add"`
	ToRemove []string `json:"to_remove"`
}

// appliedJSON holds the written counts. It is absent from dry-run reports.
type appliedJSON struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

type groupJSON struct {
	GroupResult
	Applied *appliedJSON `json:"applied,omitempty"`
}

type totalsJSON struct {
	Totals
	Applied *appliedJSON `json:"applied,omitempty"`
}

type reportJSON struct {
	Summary
	Groups []groupJSON `json:"groups"`
	Totals totalsJSON  `json:"totals"`
	Plans  []planJSON  `json:"plans,omitempty"`
}

func newReportJSON(summary Summary, plans []planJSON) reportJSON {
	applied := func(added, removed int) *appliedJSON {
		if summary.DryRun {
			return nil
		}
		return &appliedJSON{Added: added, Removed: removed}
	}

	groups := make([]groupJSON, len(summary.Groups))
	for i, g := range summary.Groups {
		groups[i] = groupJSON{GroupResult: g, Applied: applied(g.Added, g.Removed)}
	}

	return reportJSON{
		Summary: summary,
		Groups:  groups,
		Totals:  totalsJSON{Totals: summary.Totals, Applied: applied(summary.Totals.Added, summary.Totals.Removed)},
		Plans:   plans,
	}
}

// NewJSONReporter creates a reporter that writes to w.
func NewJSONReporter(w io.Writer, verbose bool) *JSONReporter {
	return &JSONReporter{w: w, verbose: verbose}
}

func (r *JSONReporter) Group(plan *Plan, _ GroupResult) {
	if !r.verbose || plan == nil {
		return
	}
	r.plans = append(r.plans, planJSON{
		Group:    plan.GroupName,
		Want:     plan.Want.Sorted(),
		Have:     plan.Have.Sorted(),
		ToAdd:    plan.ToAdd.Sorted(),
		ToRemove: plan.ToRemove.Sorted(),
	})
}

func (r *JSONReporter) Summary(summary Summary) error {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(newReportJSON(summary, r.plans)); err != nil {
		return fmt.Errorf("write JSON report: %w", err)
	}
	return nil
}

// CaptureReporter records everything it is given.
type CaptureReporter struct {
	mu        sync.Mutex
	Plans     []Plan
	Results   []GroupResult
	Summaries []Summary
}

func (r *CaptureReporter) Group(plan *Plan, result GroupResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if plan != nil {
		r.Plans = append(r.Plans, *plan)
	}
	r.Results = append(r.Results, result)
}

func (r *CaptureReporter) Summary(summary Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Summaries = append(r.Summaries, summary)
	return nil
}

// Result returns the recorded result for group.
func (r *CaptureReporter) Result(group string) (GroupResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, result := range r.Results {
		if result.Group == group {
			return result, true
		}
	}
	return GroupResult{}, false
}

// Plan returns the recorded plan for group.
func (r *CaptureReporter) Plan(group string) (Plan, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, plan := range r.Plans {
		if plan.GroupName == group {
			return plan, true
		}
	}
	return Plan{}, false
}
