package ldap

import (
	"context"

	"github.com/isometry/groupsync/internal/logging"
)

// MemberBatchSize caps the number of values sent in one modify.
const MemberBatchSize = 1000

// MembershipChange is the set of membership edits for one group.
type MembershipChange struct {
	GroupName string
	GroupDN   string
	ToAdd     []string
	ToRemove  []string
}

// MemberFailure records one value that could not be applied.
type MemberFailure struct {
	UID       string
	Operation string // "add" or "remove"
	Err       error
}

// MutationResult counts what Apply did. Benign counts values that already
// held the target state.
type MutationResult struct {
	Added    int
	Removed  int
	Benign   int
	Errors   int
	Failures []MemberFailure
}

// Mutator applies membership changes, batch first with per-item fallback.
type Mutator struct {
	client Client
	schema Schema
	logger logging.Logger
}

// NewMutator creates a mutator over client.
func NewMutator(client Client, schema Schema, logger logging.Logger) *Mutator {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Mutator{client: client, schema: schema, logger: logger}
}

// Apply writes change to the directory. In dry-run mode nothing is written.
// Failures are counted, never returned, so one bad value cannot stop the rest.
func (m *Mutator) Apply(ctx context.Context, change MembershipChange, dryRun bool) MutationResult {
	var result MutationResult

	fields := map[string]any{
		"group":     change.GroupName,
		"group_dn":  change.GroupDN,
		"to_add":    len(change.ToAdd),
		"to_remove": len(change.ToRemove),
	}

	if dryRun {
		m.logger.Debug("Dry run, skipping membership writes", fields)
		return result
	}

	for start := 0; start < len(change.ToAdd); start += MemberBatchSize {
		end := min(start+MemberBatchSize, len(change.ToAdd))
		m.applyBatch(ctx, change.GroupDN, "add", change.ToAdd[start:end], &result)
	}

	for start := 0; start < len(change.ToRemove); start += MemberBatchSize {
		end := min(start+MemberBatchSize, len(change.ToRemove))
		m.applyBatch(ctx, change.GroupDN, "remove", change.ToRemove[start:end], &result)
	}

	fields["added"] = result.Added
	fields["removed"] = result.Removed
	fields["benign"] = result.Benign
	fields["errors"] = result.Errors
	m.logger.Debug("Membership changes applied", fields)

	return result
}

// applyBatch sends all values in one modify, retrying one at a time on failure.
func (m *Mutator) applyBatch(ctx context.Context, groupDN, op string, uids []string, result *MutationResult) {
	if len(uids) == 0 {
		return
	}

	err := m.client.Modify(ctx, m.request(groupDN, op, uids))
	if err == nil {
		m.count(op, len(uids), result)
		return
	}

	m.logger.Debug("Batch modify failed, falling back to individual values", map[string]any{
		"group_dn":  groupDN,
		"operation": op,
		"count":     len(uids),
		"error":     err.Error(),
	})

	m.applyIndividually(ctx, groupDN, op, uids, result)
}

func (m *Mutator) applyIndividually(ctx context.Context, groupDN, op string, uids []string, result *MutationResult) {
	for _, uid := range uids {
		err := m.client.Modify(ctx, m.request(groupDN, op, []string{uid}))
		switch {
		case err == nil:
			m.count(op, 1, result)
		case isBenign(op, err):
			result.Benign++
			m.logger.Debug("Membership already in target state", map[string]any{
				"group_dn":  groupDN,
				"operation": op,
				"uid":       uid,
			})
		default:
			result.Errors++
			result.Failures = append(result.Failures, MemberFailure{UID: uid, Operation: op, Err: err})
			LogLDAPError(m.logger, "modify_member", err, map[string]any{
				"group_dn":  groupDN,
				"member_op": op,
				"uid":       uid,
			})
		}
	}
}

func (m *Mutator) request(groupDN, op string, uids []string) *ModifyRequest {
	values := map[string][]string{m.schema.MemberAttribute: uids}
	if op == "add" {
		return &ModifyRequest{DN: groupDN, AddAttributes: values}
	}
	return &ModifyRequest{DN: groupDN, DeleteValues: values}
}

func (m *Mutator) count(op string, n int, result *MutationResult) {
	if op == "add" {
		result.Added += n
	} else {
		result.Removed += n
	}
}

func isBenign(op string, err error) bool {
	if op == "add" {
		return IsValueExists(err)
	}
	return IsValueAbsent(err)
}
