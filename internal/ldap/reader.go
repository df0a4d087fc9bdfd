package ldap

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/groupsync/internal/logging"
)

// Reader performs read-only directory queries and normalizes entries into
// Account and Group records.
type Reader struct {
	client Client
	schema Schema
	logger logging.Logger
}

// NewReader creates a reader over client.
func NewReader(client Client, schema Schema, logger logging.Logger) *Reader {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Reader{client: client, schema: schema, logger: logger}
}

func (r *Reader) accountAttributes() []string {
	return []string{r.schema.UIDAttribute, r.schema.GIDNumberAttribute, r.schema.MarkerAttribute}
}

func (r *Reader) groupAttributes() []string {
	return []string{r.schema.GroupNameAttribute, r.schema.GIDNumberAttribute, r.schema.MemberAttribute}
}

// ListAccounts returns every person entry bearing a uid under baseDN.
func (r *Reader) ListAccounts(ctx context.Context, baseDN string) ([]Account, error) {
	result, err := r.client.SearchWithPaging(ctx, &SearchRequest{
		BaseDN:     baseDN,
		Scope:      ScopeWholeSubtree,
		Filter:     r.schema.AccountFilter,
		Attributes: r.accountAttributes(),
	})
	if err != nil {
		return nil, fmt.Errorf("list accounts under %s: %w", baseDN, err)
	}

	accounts := make([]Account, 0, len(result.Entries))
	for _, entry := range result.Entries {
		account, ok := r.entryToAccount(entry)
		if !ok {
			continue
		}
		accounts = append(accounts, account)
	}

	r.logger.Debug("Accounts loaded", map[string]any{
		"base_dn":  baseDN,
		"entries":  len(result.Entries),
		"accounts": len(accounts),
	})

	return accounts, nil
}

// ListGroups returns every group entry under baseDN.
func (r *Reader) ListGroups(ctx context.Context, baseDN string) ([]Group, error) {
	result, err := r.client.SearchWithPaging(ctx, &SearchRequest{
		BaseDN:     baseDN,
		Scope:      ScopeWholeSubtree,
		Filter:     r.schema.GroupFilter,
		Attributes: r.groupAttributes(),
	})
	if err != nil {
		return nil, fmt.Errorf("list groups under %s: %w", baseDN, err)
	}

	groups := make([]Group, 0, len(result.Entries))
	for _, entry := range result.Entries {
		group, ok := r.entryToGroup(entry)
		if !ok {
			continue
		}
		groups = append(groups, group)
	}

	return groups, nil
}

// CurrentMembers returns the uids currently listed on the group. A group
// without members yields an empty, non-nil slice; a missing group yields
// ErrGroupNotFound.
func (r *Reader) CurrentMembers(ctx context.Context, groupDN string) ([]string, error) {
	group, err := r.lookupGroup(ctx, groupDN)
	if err != nil {
		return nil, err
	}
	return group.Members, nil
}

// GroupExists reports whether the group entry exists.
func (r *Reader) GroupExists(ctx context.Context, groupDN string) (bool, error) {
	_, err := r.lookupGroup(ctx, groupDN)
	switch {
	case err == nil:
		return true, nil
	case IsNotFoundError(err):
		return false, nil
	default:
		return false, err
	}
}

// GroupNumericID returns the group's gidNumber and whether it carries one.
func (r *Reader) GroupNumericID(ctx context.Context, groupDN string) (int, bool, error) {
	group, err := r.lookupGroup(ctx, groupDN)
	if err != nil {
		return 0, false, err
	}
	return group.GIDNumber, group.HasGIDNumber, nil
}

// lookupGroup reads a single group entry with a base-scope search.
func (r *Reader) lookupGroup(ctx context.Context, groupDN string) (*Group, error) {
	result, err := r.client.Search(ctx, &SearchRequest{
		BaseDN:     groupDN,
		Scope:      ScopeBaseObject,
		Filter:     "(objectClass=*)",
		Attributes: r.groupAttributes(),
		SizeLimit:  1,
	})
	if err != nil {
		if IsNoSuchObject(err) {
			return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, groupDN)
		}
		return nil, fmt.Errorf("read group %s: %w", groupDN, err)
	}

	if len(result.Entries) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, groupDN)
	}

	group, _ := r.entryToGroup(result.Entries[0])
	if group.DN == "" {
		group.DN = groupDN
	}
	return &group, nil
}

// entryToAccount normalizes a person entry. Entries without a uid are skipped.
func (r *Reader) entryToAccount(entry *ldap.Entry) (Account, bool) {
	account := Account{
		DN:               entry.DN,
		UID:              strings.TrimSpace(entry.GetAttributeValue(r.schema.UIDAttribute)),
		EmploymentMarker: strings.TrimSpace(entry.GetAttributeValue(r.schema.MarkerAttribute)),
	}

	if account.UID == "" {
		r.logger.Debug("Skipping entry without uid", map[string]any{"dn": entry.DN})
		return Account{}, false
	}

	if raw := entry.GetAttributeValue(r.schema.GIDNumberAttribute); raw != "" {
		gid, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			r.logger.Warn("Ignoring unparseable gidNumber", map[string]any{
				"dn":        entry.DN,
				"gidNumber": raw,
			})
		} else {
			account.GIDNumber = gid
			account.HasGIDNumber = true
		}
	}

	return account, true
}

// entryToGroup normalizes a group entry. Entries without a name are skipped.
func (r *Reader) entryToGroup(entry *ldap.Entry) (Group, bool) {
	group := Group{
		DN:      entry.DN,
		Name:    entry.GetAttributeValue(r.schema.GroupNameAttribute),
		Members: normalizeMembers(entry.GetAttributeValues(r.schema.MemberAttribute)),
	}

	if raw := entry.GetAttributeValue(r.schema.GIDNumberAttribute); raw != "" {
		if gid, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
			group.GIDNumber = gid
			group.HasGIDNumber = true
		}
	}

	return group, group.Name != ""
}

// normalizeMembers trims, deduplicates and sorts membership values.
func normalizeMembers(values []string) []string {
	members := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			members = append(members, v)
		}
	}
	slices.Sort(members)
	return slices.Compact(members)
}
