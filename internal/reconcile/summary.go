package reconcile

import (
	"fmt"
	"time"

	ldapclient "github.com/isometry/groupsync/internal/ldap"
)

// GroupResult is the per-group line of the run summary.
type GroupResult struct {
	Group            string                     `json:"group"`
	Kind             Kind                       `json:"kind"`
	Provision        ldapclient.ProvisionAction `json:"provision,omitempty"`
	PlannedAdd       int                        `json:"planned_add"`
	PlannedRemove    int                        `json:"planned_remove"`
	Added            int                        `json:"-"`
	Removed          int                        `json:"-"`
	Kept             int                        `json:"kept"`
	Benign           int                        `json:"benign"`
	Errors           int                        `json:"errors"`
	DeleteSuppressed bool                       `json:"delete_suppressed,omitempty"`
	Skipped          string                     `json:"skipped,omitempty"`
}

// Totals aggregates counts across groups.
type Totals struct {
	Groups        int `json:"groups"`
	PlannedAdd    int `json:"planned_add"`
	PlannedRemove int `json:"planned_remove"`
	Added         int `json:"-"`
	Removed       int `json:"-"`
	Kept          int `json:"kept"`
	Errors        int `json:"errors"`
}

// Summary is the report of one run.
type Summary struct {
	RunID    string        `json:"run_id,omitempty"`
	DryRun   bool          `json:"dry_run"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration_ns"`
	Groups   []GroupResult `json:"groups"`
	Totals   Totals        `json:"totals"`
}

// Add appends a group result and folds it into the totals.
func (s *Summary) Add(result GroupResult) {
	s.Groups = append(s.Groups, result)
	s.Totals.Groups++
	s.Totals.PlannedAdd += result.PlannedAdd
	s.Totals.PlannedRemove += result.PlannedRemove
	s.Totals.Added += result.Added
	s.Totals.Removed += result.Removed
	s.Totals.Kept += result.Kept
	s.Totals.Errors += result.Errors
}

// HasErrors reports whether any read or mutation failed.
func (s *Summary) HasErrors() bool {
	return s.Totals.Errors > 0
}

// Line renders the result as "<group>: planned +A/-R, applied +a/-r, kept K,
// errors E". Dry runs omit the applied counts.
func (r GroupResult) Line(dryRun bool) string {
	line := r.Group + ": " + counts(r.PlannedAdd, r.PlannedRemove, r.Added, r.Removed, r.Kept, r.Errors, dryRun)
	if r.Skipped != "" {
		line += " [skipped: " + r.Skipped + "]"
	}
	if r.DeleteSuppressed {
		line += " [delete suppressed]"
	}
	if dryRun {
		line += " (dry-run)"
	}
	return line
}

// Line renders the aggregate in the same shape as a group line.
func (t Totals) Line(dryRun bool) string {
	line := fmt.Sprintf("total (%d groups): ", t.Groups) +
		counts(t.PlannedAdd, t.PlannedRemove, t.Added, t.Removed, t.Kept, t.Errors, dryRun)
	if dryRun {
		line += " (dry-run)"
	}
	return line
}

func counts(plannedAdd, plannedRemove, added, removed, kept, errs int, dryRun bool) string {
	if dryRun {
		return fmt.Sprintf("planned +%d/-%d, kept %d, errors %d", plannedAdd, plannedRemove, kept, errs)
	}
	return fmt.Sprintf("planned +%d/-%d, applied +%d/-%d, kept %d, errors %d",
		plannedAdd, plannedRemove, added, removed, kept, errs)
}
