package ldap

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/isometry/groupsync/internal/logging"
)

// GroupSpec is the desired shape of a provisioned group.
type GroupSpec struct {
	Name      string
	DN        string
	GIDNumber int
}

// ProvisionAction is what Ensure did, or would do in dry-run mode.
type ProvisionAction string

const (
	ProvisionUnchanged ProvisionAction = "unchanged"
	ProvisionCreated   ProvisionAction = "created"
	ProvisionRepaired  ProvisionAction = "repaired"
	ProvisionMissing   ProvisionAction = "missing"
)

// ProvisionResult reports the outcome of Ensure.
type ProvisionResult struct {
	Action      ProvisionAction
	DryRun      bool
	PreviousGID int
	HadGID      bool
}

// EnsureOptions controls Ensure.
type EnsureOptions struct {
	DryRun bool
	Create bool // create the group when it is missing
}

// Provisioner creates classification groups and repairs their gidNumber.
type Provisioner struct {
	client Client
	reader *Reader
	schema Schema
	logger logging.Logger
}

// NewProvisioner creates a provisioner over client.
func NewProvisioner(client Client, schema Schema, logger logging.Logger) *Provisioner {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Provisioner{
		client: client,
		reader: NewReader(client, schema, logger),
		schema: schema,
		logger: logger,
	}
}

// Ensure makes the group exist with spec.GIDNumber. Repeated calls with no
// intervening change perform no writes. When the group is missing and
// opts.Create is false it returns ProvisionMissing with ErrGroupNotFound.
func (p *Provisioner) Ensure(ctx context.Context, spec GroupSpec, opts EnsureOptions) (ProvisionResult, error) {
	result := ProvisionResult{Action: ProvisionUnchanged, DryRun: opts.DryRun}
	fields := map[string]any{
		"group":      spec.Name,
		"group_dn":   spec.DN,
		"gid_number": spec.GIDNumber,
		"dry_run":    opts.DryRun,
	}

	gid, hasGID, err := p.reader.GroupNumericID(ctx, spec.DN)
	if errors.Is(err, ErrGroupNotFound) {
		if !opts.Create {
			result.Action = ProvisionMissing
			p.logger.Warn("Classification group is missing and creation is disabled", fields)
			return result, err
		}

		result.Action = ProvisionCreated
		if opts.DryRun {
			p.logger.Info("Would create classification group", fields)
			return result, nil
		}

		err = p.create(ctx, spec)
		if err == nil {
			p.logger.Info("Created classification group", fields)
			return result, nil
		}
		if !IsEntryExists(err) {
			return result, err
		}

		// Created concurrently by another writer; fall through to the gid check.
		p.logger.Debug("Group appeared during creation", fields)
		gid, hasGID, err = p.reader.GroupNumericID(ctx, spec.DN)
	}
	if err != nil {
		return ProvisionResult{DryRun: opts.DryRun}, err
	}

	if hasGID && gid == spec.GIDNumber {
		result.Action = ProvisionUnchanged
		p.logger.Trace("Classification group is up to date", fields)
		return result, nil
	}

	result.Action = ProvisionRepaired
	result.PreviousGID = gid
	result.HadGID = hasGID
	fields["previous_gid_number"] = gid

	if opts.DryRun {
		p.logger.Info("Would repair classification group gidNumber", fields)
		return result, nil
	}

	err = p.client.Modify(ctx, &ModifyRequest{
		DN:                spec.DN,
		ReplaceAttributes: map[string][]string{p.schema.GIDNumberAttribute: {strconv.Itoa(spec.GIDNumber)}},
	})
	if err != nil {
		return result, fmt.Errorf("repair gidNumber of %s: %w", spec.DN, err)
	}

	p.logger.Info("Repaired classification group gidNumber", fields)
	return result, nil
}

func (p *Provisioner) create(ctx context.Context, spec GroupSpec) error {
	return p.client.Add(ctx, &AddRequest{
		DN: spec.DN,
		Attributes: map[string][]string{
			"objectClass":               p.schema.GroupObjectClasses,
			p.schema.GroupNameAttribute: {spec.Name},
			p.schema.GIDNumberAttribute: {strconv.Itoa(spec.GIDNumber)},
		},
	})
}
