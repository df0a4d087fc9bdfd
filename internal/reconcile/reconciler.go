package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/isometry/groupsync/internal/classification"
	ldapclient "github.com/isometry/groupsync/internal/ldap"
	"github.com/isometry/groupsync/internal/logging"
	"github.com/isometry/groupsync/internal/monitoring"
	"github.com/isometry/groupsync/internal/tracing"
)

var (
	// ErrSnapshot marks a failure to read the account or group snapshot.
	ErrSnapshot = errors.New("read directory snapshot")
	// ErrUnknownGroups marks a group filter naming groups that do not exist.
	ErrUnknownGroups = errors.New("unknown groups")
)

// DirectoryReader reads the snapshot and current membership.
type DirectoryReader interface {
	ListAccounts(ctx context.Context, baseDN string) ([]ldapclient.Account, error)
	ListGroups(ctx context.Context, baseDN string) ([]ldapclient.Group, error)
	CurrentMembers(ctx context.Context, groupDN string) ([]string, error)
}

// GroupMutator applies membership changes.
type GroupMutator interface {
	Apply(ctx context.Context, change ldapclient.MembershipChange, dryRun bool) ldapclient.MutationResult
}

// GroupProvisioner creates or repairs classification groups.
type GroupProvisioner interface {
	Ensure(ctx context.Context, spec ldapclient.GroupSpec, opts ldapclient.EnsureOptions) (ldapclient.ProvisionResult, error)
}

// GroupMapper maps classification groups into Samba.
type GroupMapper interface {
	Ensure(ctx context.Context, group string, dryRun bool) (bool, error)
}

// Options controls a single run.
type Options struct {
	RunID              string
	PeopleDN           string
	GroupsDN           string
	GroupNameAttribute string
	DryRun             bool
	CreateGroups       bool
	Groups             []string // empty selects every known group
}

// Reconciler drives a full synchronization pass.
type Reconciler struct {
	registry    *classification.Registry
	reader      DirectoryReader
	mutator     GroupMutator
	provisioner GroupProvisioner
	mapper      GroupMapper
	reporter    Reporter

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.Logger

	now func() time.Time
}

// NewReconciler wires a reconciler. tracer, monitor and logger may be nil.
func NewReconciler(
	registry *classification.Registry,
	reader DirectoryReader,
	mutator GroupMutator,
	provisioner GroupProvisioner,
	reporter Reporter,
	tracer tracing.TracingInterface,
	monitor monitoring.MonitorInterface,
	logger logging.Logger,
) *Reconciler {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	if monitor == nil {
		monitor = monitoring.NopMonitor{}
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}

	return &Reconciler{
		registry:    registry,
		reader:      reader,
		mutator:     mutator,
		provisioner: provisioner,
		reporter:    reporter,
		tracer:      tracer,
		monitor:     monitor,
		logger:      logger,
		now:         time.Now,
	}
}

// WithGroupMapper enables Samba group mapping for classification groups.
func (r *Reconciler) WithGroupMapper(mapper GroupMapper) *Reconciler {
	r.mapper = mapper
	return r
}

// Run reads the snapshot once and synchronizes every selected group in
// order. Per-group failures are counted in the summary; the returned error
// is reserved for snapshot, filter and cancellation failures.
func (r *Reconciler) Run(ctx context.Context, opts Options) (Summary, error) {
	ctx, span := r.tracer.Start(ctx, "reconcile.Reconciler.Run",
		trace.WithAttributes(attribute.Bool("dry_run", opts.DryRun)))
	defer span.End()

	started := r.now()
	summary := Summary{RunID: opts.RunID, DryRun: opts.DryRun, Started: started}

	accounts, groups, err := r.snapshot(ctx, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return summary, err
	}

	targets, err := filterTargets(r.targets(groups, opts), opts.Groups)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return summary, err
	}
	span.SetAttributes(attribute.Int("groups", len(targets)), attribute.Int("accounts", len(accounts)))

	r.logger.Info("Starting reconciliation", map[string]any{
		"dry_run":  opts.DryRun,
		"accounts": len(accounts),
		"groups":   len(targets),
	})

	want := NewWantComputer(r.registry, accounts)

	var runErr error
	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("reconciliation interrupted before %s: %w", target.Name, err)
			r.logger.Warn("Reconciliation interrupted", map[string]any{"next_group": target.Name})
			break
		}

		plan, result := r.syncGroup(ctx, target, want, opts)
		summary.Add(result)
		r.reporter.Group(plan, result)
		r.monitor.RecordGroup(monitoring.GroupStats{
			Group:            result.Group,
			Kind:             string(result.Kind),
			Added:            result.Added,
			Removed:          result.Removed,
			Errors:           result.Errors,
			Created:          result.Provision == ldapclient.ProvisionCreated && !opts.DryRun,
			DeleteSuppressed: result.DeleteSuppressed,
		})
	}

	finished := r.now()
	summary.Duration = finished.Sub(started)
	if err := r.reporter.Summary(summary); err != nil {
		r.logger.Error("Failed to write report", map[string]any{"error": err.Error()})
		runErr = errors.Join(runErr, err)
	}
	r.monitor.RecordRun(monitoring.RunStats{
		DryRun:   opts.DryRun,
		Duration: summary.Duration,
		Errors:   summary.Totals.Errors,
		Finished: finished,
	})

	r.logger.Info("Reconciliation complete", map[string]any{
		"groups":         summary.Totals.Groups,
		"planned_add":    summary.Totals.PlannedAdd,
		"planned_remove": summary.Totals.PlannedRemove,
		"added":          summary.Totals.Added,
		"removed":        summary.Totals.Removed,
		"errors":         summary.Totals.Errors,
		"duration":       summary.Duration.String(),
	})

	if summary.HasErrors() {
		span.SetStatus(codes.Error, fmt.Sprintf("%d errors", summary.Totals.Errors))
	}
	return summary, runErr
}

func (r *Reconciler) snapshot(ctx context.Context, opts Options) ([]ldapclient.Account, []ldapclient.Group, error) {
	ctx, span := r.tracer.Start(ctx, "reconcile.Reconciler.snapshot")
	defer span.End()

	var (
		accounts []ldapclient.Account
		groups   []ldapclient.Group
	)
	err := logging.LogOperation(r.logger, "read_snapshot", map[string]any{
		"people_dn": opts.PeopleDN,
		"groups_dn": opts.GroupsDN,
	}, func() error {
		var err error
		if accounts, err = r.reader.ListAccounts(ctx, opts.PeopleDN); err != nil {
			return err
		}
		groups, err = r.reader.ListGroups(ctx, opts.GroupsDN)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, nil, fmt.Errorf("%w: %w", ErrSnapshot, err)
	}

	r.logger.Debug("Read directory snapshot", map[string]any{
		"accounts": len(accounts),
		"groups":   len(groups),
	})
	return accounts, groups, nil
}

// targets lists classification groups in table order followed by business
// groups sorted by name.
func (r *Reconciler) targets(groups []ldapclient.Group, opts Options) []Target {
	nameAttr := opts.GroupNameAttribute
	if nameAttr == "" {
		nameAttr = ldapclient.DefaultSchema().GroupNameAttribute
	}

	existing := make(map[string]ldapclient.Group, len(groups))
	for _, g := range groups {
		existing[g.Name] = g
	}

	var targets []Target
	for _, def := range r.registry.All() {
		t := Target{
			Name:         def.Name,
			DN:           ldapclient.GroupDN(nameAttr, def.Name, opts.GroupsDN),
			GIDNumber:    def.GIDNumber,
			HasGIDNumber: true,
			Kind:         KindClassification,
		}
		if g, ok := existing[def.Name]; ok {
			t.DN = g.DN
			t.Exists = true
		}
		targets = append(targets, t)
	}

	var business []Target
	for _, g := range groups {
		if _, ok := r.registry.ByName(g.Name); ok {
			continue
		}
		business = append(business, Target{
			Name:         g.Name,
			DN:           g.DN,
			GIDNumber:    g.GIDNumber,
			HasGIDNumber: g.HasGIDNumber,
			Kind:         KindBusiness,
			Exists:       true,
		})
	}
	slices.SortFunc(business, func(a, b Target) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.DN, b.DN)
	})

	return append(targets, business...)
}

func filterTargets(targets []Target, names []string) ([]Target, error) {
	if len(names) == 0 {
		return targets, nil
	}

	selected := make(map[string]bool, len(names))
	for _, name := range names {
		selected[name] = false
	}

	var out []Target
	for _, t := range targets {
		if _, ok := selected[t.Name]; ok {
			selected[t.Name] = true
			out = append(out, t)
		}
	}

	var unknown []string
	for name, found := range selected {
		if !found {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		slices.Sort(unknown)
		return nil, fmt.Errorf("%w: %s", ErrUnknownGroups, strings.Join(unknown, ", "))
	}

	return out, nil
}

func (r *Reconciler) syncGroup(ctx context.Context, target Target, want *WantComputer, opts Options) (*Plan, GroupResult) {
	ctx, span := r.tracer.Start(ctx, "reconcile.Reconciler.syncGroup",
		trace.WithAttributes(attribute.String("group", target.Name), attribute.String("kind", string(target.Kind))))
	defer span.End()

	logger := r.logger.With(map[string]any{"group": target.Name, "kind": string(target.Kind)})
	result := GroupResult{Group: target.Name, Kind: target.Kind}

	if !target.HasGIDNumber {
		logger.Warn("Skipping group without gidNumber", map[string]any{"dn": target.DN})
		result.Skipped = "no gidNumber"
		result.Errors = 1
		return nil, result
	}

	created := false
	if target.Kind == KindClassification {
		provision, err := r.provisioner.Ensure(ctx, ldapclient.GroupSpec{
			Name:      target.Name,
			DN:        target.DN,
			GIDNumber: target.GIDNumber,
		}, ldapclient.EnsureOptions{DryRun: opts.DryRun, Create: opts.CreateGroups})
		result.Provision = provision.Action
		if err != nil {
			result.Errors = 1
			span.RecordError(err)
			if errors.Is(err, ldapclient.ErrGroupNotFound) {
				logger.Warn("Classification group missing and creation disabled", map[string]any{"dn": target.DN})
				result.Skipped = "missing"
			} else {
				logger.Error("Failed to provision group", map[string]any{"dn": target.DN, "error": err.Error()})
				result.Skipped = "provisioning failed"
			}
			return nil, result
		}
		created = provision.Action == ldapclient.ProvisionCreated

		if r.mapper != nil {
			if _, err := r.mapper.Ensure(ctx, target.Name, opts.DryRun); err != nil {
				logger.Error("Failed to map group into Samba", map[string]any{"error": err.Error()})
				result.Errors++
			}
		}
	}

	have := make(Set)
	if !(created && opts.DryRun) {
		members, err := r.reader.CurrentMembers(ctx, target.DN)
		if err != nil {
			span.RecordError(err)
			logger.Error("Failed to read current members", map[string]any{"dn": target.DN, "error": err.Error()})
			result.Errors++
			result.Skipped = "read failed"
			return nil, result
		}
		have = NewSet(members...)
	}

	plan := NewPlan(target, want.Want(target), have)
	if plan.DeleteSuppressed && have.Len() > 0 {
		logger.Warn("Want set is empty, removals suppressed", map[string]any{"current_members": have.Len()})
	}

	mutation := r.mutator.Apply(ctx, ldapclient.MembershipChange{
		GroupName: target.Name,
		GroupDN:   target.DN,
		ToAdd:     plan.ToAdd.Sorted(),
		ToRemove:  plan.ToRemove.Sorted(),
	}, opts.DryRun)

	result.PlannedAdd = plan.ToAdd.Len()
	result.PlannedRemove = plan.ToRemove.Len()
	result.Added = mutation.Added
	result.Removed = mutation.Removed
	result.Benign = mutation.Benign
	result.Kept = plan.Kept()
	result.Errors += mutation.Errors
	result.DeleteSuppressed = plan.DeleteSuppressed

	span.SetAttributes(
		attribute.Int("planned_add", result.PlannedAdd),
		attribute.Int("planned_remove", result.PlannedRemove),
		attribute.Int("errors", result.Errors),
	)

	return &plan, result
}
