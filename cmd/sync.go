package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/isometry/groupsync/internal/config"
	"github.com/isometry/groupsync/internal/groupmap"
	ldapclient "github.com/isometry/groupsync/internal/ldap"
	"github.com/isometry/groupsync/internal/logging"
	"github.com/isometry/groupsync/internal/monitoring"
	"github.com/isometry/groupsync/internal/reconcile"
	"github.com/isometry/groupsync/internal/tracing"
)

type syncFlags struct {
	apply              bool
	createGroups       bool
	groups             []string
	verbose            bool
	output             string
	metricsFile        string
	sambaGroupMap      bool
	classificationFile string
	uri                string
	fallbackURI        string
	bindDN             string
	baseDN             string
	domain             string
}

func newSyncCmd(d *deps, global *globalFlags) *cobra.Command {
	flags := &syncFlags{}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile group membership",
		Long: `Reconcile the membership of every classification group and every
business group under the groups DN.

Without --apply nothing is written and the report shows what would change.

Exit codes:
  0  no errors
  1  configuration or other fatal error
  2  read or mutation errors occurred
  3  connection negotiation failed`,
		Example: `  groupsync sync --base-dn dc=example,dc=org
  groupsync sync --apply --create-groups
  groupsync sync --groups sales,adm-cls --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, d, global, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.apply, "apply", false, "Write changes (default is a dry run)")
	cmd.Flags().BoolVar(&flags.createGroups, "create-groups", false, "Create missing classification groups")
	cmd.Flags().StringSliceVar(&flags.groups, "groups", nil, "Only synchronize these groups (comma separated)")
	cmd.Flags().BoolVarP(&flags.verbose, "verbose", "v", false, "Print want, have, add and remove lists per group")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "text", "Report format: text or json")
	cmd.Flags().StringVar(&flags.metricsFile, "metrics-file", "", "Write Prometheus metrics to this node_exporter textfile")
	cmd.Flags().BoolVar(&flags.sambaGroupMap, "samba-groupmap", false, "Map classification groups into Samba with net groupmap")
	cmd.Flags().StringVar(&flags.classificationFile, "classification-file", "", "YAML classification table (default built-in)")
	cmd.Flags().StringVar(&flags.uri, "uri", "", "Directory URI (ldapi://, ldap:// or ldaps://)")
	cmd.Flags().StringVar(&flags.fallbackURI, "fallback-uri", "", "URI to bind to when local EXTERNAL authentication fails")
	cmd.Flags().StringVar(&flags.bindDN, "bind-dn", "", "DN for the fallback simple bind")
	cmd.Flags().StringVar(&flags.baseDN, "base-dn", "", "Base DN; people and groups DNs default beneath it")
	cmd.Flags().StringVar(&flags.domain, "domain", "", "DNS domain to discover the fallback URI from when none is set")

	return cmd
}

// applyFlags overlays explicitly set flags on the environment.
func (f *syncFlags) applyFlags(cmd *cobra.Command, specs *config.EnvSpec) {
	changed := cmd.Flags().Changed
	if changed("uri") {
		specs.URI = f.uri
	}
	if changed("fallback-uri") {
		specs.FallbackURI = f.fallbackURI
	}
	if changed("bind-dn") {
		specs.BindDN = f.bindDN
	}
	if changed("base-dn") {
		specs.BaseDN = f.baseDN
	}
	if changed("domain") {
		specs.Domain = f.domain
	}
	if changed("classification-file") {
		specs.ClassificationFile = f.classificationFile
	}
	if changed("metrics-file") {
		specs.MetricsFile = f.metricsFile
	}
	if changed("samba-groupmap") {
		specs.SambaGroupMap = f.sambaGroupMap
	}
}

func newReporter(w io.Writer, output string, verbose, dryRun bool) (reconcile.Reporter, error) {
	switch output {
	case "", "text":
		return reconcile.NewTextReporter(w, verbose, dryRun), nil
	case "json":
		return reconcile.NewJSONReporter(w, verbose), nil
	default:
		return nil, fmt.Errorf("unsupported output format %q: use text or json", output)
	}
}

func runSync(cmd *cobra.Command, d *deps, global *globalFlags, flags *syncFlags) error {
	ctx := cmd.Context()
	dryRun := !flags.apply

	specs, err := loadSpecs(global)
	if err != nil {
		return err
	}
	flags.applyFlags(cmd, specs)
	specs.ResolveDNs()
	if err := specs.Validate(); err != nil {
		return withExitCode(ExitFatal, fmt.Errorf("invalid configuration: %w", err))
	}

	reporter, err := newReporter(cmd.OutOrStdout(), flags.output, flags.verbose, dryRun)
	if err != nil {
		return withExitCode(ExitFatal, err)
	}

	registry, err := loadRegistry(specs.ClassificationFile)
	if err != nil {
		return err
	}

	baseLogger, err := d.buildLogger(specs)
	if err != nil {
		return err
	}
	defer syncLogger(baseLogger)

	runID := uuid.NewString()
	logger := baseLogger.With(map[string]any{"run_id": runID})

	tracer := tracing.NewTracer(tracing.NewConfig(specs.TracingEnabled, specs.OtelHTTPEndpoint, logger))
	defer func() {
		if err := tracer.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Failed to flush traces", map[string]any{"error": err.Error()})
		}
	}()

	monitor := monitoring.NewMonitor("groupsync", logger)

	if specs.FallbackURI == "" && specs.Domain != "" {
		uri, err := ldapclient.NewSRVDiscovery(d.resolver, logger).DiscoverFallbackURI(ctx, specs.Domain)
		if err != nil {
			return withExitCode(ExitConnection, fmt.Errorf("discover fallback URI: %w", err))
		}
		logger.Info("Discovered fallback URI", map[string]any{"domain": specs.Domain, "fallback_uri": uri})
		specs.FallbackURI = uri
	}

	client, err := connect(ctx, d.connect, tracer, specs.ConnectionConfig(dryRun), logger)
	if err != nil {
		return withExitCode(ExitConnection, err)
	}
	defer client.Close()

	schema := specs.Schema()
	reconciler := reconcile.NewReconciler(
		registry,
		ldapclient.NewReader(client, schema, logger),
		ldapclient.NewMutator(client, schema, logger),
		ldapclient.NewProvisioner(client, schema, logger),
		reporter,
		tracer,
		monitor,
		logger,
	)
	if specs.SambaGroupMap {
		runner := d.runner
		if runner == nil {
			runner = groupmap.NewExecRunner(specs.NetCommand, logger)
		}
		reconciler.WithGroupMapper(groupmap.NewMapper(runner, logger))
	}

	summary, runErr := reconciler.Run(ctx, reconcile.Options{
		RunID:              runID,
		PeopleDN:           specs.PeopleDN,
		GroupsDN:           specs.GroupsDN,
		GroupNameAttribute: schema.GroupNameAttribute,
		DryRun:             dryRun,
		CreateGroups:       flags.createGroups,
		Groups:             flags.groups,
	})

	if specs.MetricsFile != "" {
		if err := monitor.WriteTextfile(specs.MetricsFile); err != nil {
			logger.Error("Failed to write metrics", map[string]any{"error": err.Error()})
		}
	}

	switch {
	case errors.Is(runErr, reconcile.ErrSnapshot):
		return withExitCode(ExitErrors, runErr)
	case runErr != nil:
		return withExitCode(ExitFatal, runErr)
	case summary.HasErrors():
		return withExitCode(ExitErrors, fmt.Errorf("completed with %d errors", summary.Totals.Errors))
	}
	return nil
}

// boundSession describes how a negotiated session was established.
type boundSession interface {
	URI() string
	AuthMethod() ldapclient.AuthMethod
}

func connect(ctx context.Context, fn ConnectFunc, tracer tracing.TracingInterface, cfg *ldapclient.ConnectionConfig, logger logging.Logger) (ldapclient.Client, error) {
	ctx, span := tracer.Start(ctx, "ldap.Negotiator.Negotiate", trace.WithAttributes(
		attribute.String("uri", cfg.URI),
		attribute.String("fallback_uri", cfg.FallbackURI),
	))
	defer span.End()

	client, err := fn(ctx, cfg, logger)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if s, ok := client.(boundSession); ok {
		span.SetAttributes(
			attribute.String("bound_uri", s.URI()),
			attribute.String("auth_method", s.AuthMethod().String()),
		)
		logger.Info("Connected to directory", map[string]any{
			"uri":         s.URI(),
			"auth_method": s.AuthMethod().String(),
		})
	}
	return client, nil
}
