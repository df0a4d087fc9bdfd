// Package ldaptest provides an in-memory directory implementing the
// ldapclient.Client surface for tests.
package ldaptest

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/go-ldap/ldap/v3"
	"gopkg.in/yaml.v3"

	ldapclient "github.com/isometry/groupsync/internal/ldap"
)

// Call records one client operation.
type Call struct {
	Op  string // "search", "add" or "modify"
	DN  string
	Err error
}

type entry struct {
	dn    string
	attrs map[string][]string
}

// Directory is a minimal, thread-safe in-memory directory. Filters support
// equality and presence terms joined by a single AND.
type Directory struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   []string
	calls   []Call
	closed  bool

	// Optional fault injection; a non-nil return short-circuits the call.
	SearchErr func(req *ldapclient.SearchRequest) error
	AddErr    func(req *ldapclient.AddRequest) error
	ModifyErr func(req *ldapclient.ModifyRequest) error
}

var _ ldapclient.Client = (*Directory)(nil)

// New returns an empty directory.
func New() *Directory {
	return &Directory{entries: make(map[string]*entry)}
}

func key(dn string) string {
	return strings.ToLower(strings.ReplaceAll(dn, ", ", ","))
}

// AddEntry stores an entry, replacing any existing one with the same DN.
func (d *Directory) AddEntry(dn string, attrs map[string][]string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	k := key(dn)
	if _, ok := d.entries[k]; !ok {
		d.order = append(d.order, k)
	}
	copied := make(map[string][]string, len(attrs))
	for name, values := range attrs {
		copied[name] = slices.Clone(values)
	}
	d.entries[k] = &entry{dn: dn, attrs: copied}
}

// AddPerson stores a person entry under peopleDN and returns its DN. A
// negative gid omits gidNumber; an empty marker omits employeeType.
func (d *Directory) AddPerson(peopleDN, uid string, gid int, marker string) string {
	dn := "uid=" + uid + "," + peopleDN
	attrs := map[string][]string{
		"objectClass": {"top", "person", "posixAccount"},
		"uid":         {uid},
	}
	if gid >= 0 {
		attrs["gidNumber"] = []string{strconv.Itoa(gid)}
	}
	if marker != "" {
		attrs["employeeType"] = []string{marker}
	}
	d.AddEntry(dn, attrs)
	return dn
}

// AddGroup stores a posixGroup entry under groupsDN and returns its DN.
func (d *Directory) AddGroup(groupsDN, cn string, gid int, members ...string) string {
	dn := "cn=" + cn + "," + groupsDN
	attrs := map[string][]string{
		"objectClass": {"top", "posixGroup"},
		"cn":          {cn},
		"gidNumber":   {strconv.Itoa(gid)},
	}
	if len(members) > 0 {
		attrs["memberUid"] = members
	}
	d.AddEntry(dn, attrs)
	return dn
}

// Get returns the values of attr on dn, and whether the entry exists.
func (d *Directory) Get(dn, attr string) ([]string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[key(dn)]
	if !ok {
		return nil, false
	}
	return slices.Clone(e.values(attr)), true
}

// Members returns the sorted memberUid values of dn.
func (d *Directory) Members(dn string) []string {
	values, _ := d.Get(dn, "memberUid")
	slices.Sort(values)
	return values
}

// Exists reports whether dn is present.
func (d *Directory) Exists(dn string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.entries[key(dn)]
	return ok
}

// Calls returns every recorded operation in order.
func (d *Directory) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.calls)
}

// Writes counts successful add and modify operations.
func (d *Directory) Writes() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, c := range d.calls {
		if c.Op != "search" && c.Err == nil {
			n++
		}
	}
	return n
}

// ResetCalls forgets recorded operations.
func (d *Directory) ResetCalls() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}

// Closed reports whether Close was called.
func (d *Directory) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Directory) record(op, dn string, err error) error {
	d.calls = append(d.calls, Call{Op: op, DN: dn, Err: err})
	return err
}

// Search implements ldapclient.Client.
func (d *Directory) Search(ctx context.Context, req *ldapclient.SearchRequest) (*ldapclient.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.SearchErr != nil {
		if err := d.SearchErr(req); err != nil {
			return nil, d.record("search", req.BaseDN, err)
		}
	}

	terms, err := parseFilter(req.Filter)
	if err != nil {
		return nil, d.record("search", req.BaseDN, ldap.NewError(ldap.LDAPResultFilterError, err))
	}

	base := key(req.BaseDN)
	_, baseExists := d.entries[base]

	var found []*ldap.Entry
	descendants := false
	for _, k := range d.order {
		e := d.entries[k]
		if k != base && strings.HasSuffix(k, ","+base) {
			descendants = true
		}
		if !inScope(k, base, req.Scope) || !e.matches(terms) {
			continue
		}
		found = append(found, e.toLDAP(req.Attributes))
		if req.SizeLimit > 0 && len(found) >= req.SizeLimit {
			break
		}
	}

	if !baseExists && !descendants {
		return nil, d.record("search", req.BaseDN, ldap.NewError(ldap.LDAPResultNoSuchObject, fmt.Errorf("no such object: %s", req.BaseDN)))
	}

	d.record("search", req.BaseDN, nil)
	return &ldapclient.SearchResult{Entries: found, Total: len(found)}, nil
}

// SearchWithPaging implements ldapclient.Client; results are never paged.
func (d *Directory) SearchWithPaging(ctx context.Context, req *ldapclient.SearchRequest) (*ldapclient.SearchResult, error) {
	return d.Search(ctx, req)
}

// Add implements ldapclient.Client.
func (d *Directory) Add(ctx context.Context, req *ldapclient.AddRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.AddErr != nil {
		if err := d.AddErr(req); err != nil {
			return d.record("add", req.DN, err)
		}
	}

	k := key(req.DN)
	if _, ok := d.entries[k]; ok {
		return d.record("add", req.DN, ldap.NewError(ldap.LDAPResultEntryAlreadyExists, fmt.Errorf("entry already exists: %s", req.DN)))
	}

	attrs := make(map[string][]string, len(req.Attributes))
	for name, values := range req.Attributes {
		attrs[name] = slices.Clone(values)
	}
	d.entries[k] = &entry{dn: req.DN, attrs: attrs}
	d.order = append(d.order, k)

	return d.record("add", req.DN, nil)
}

// Modify implements ldapclient.Client. Changes are applied atomically: if any
// part fails, the entry is left untouched.
func (d *Directory) Modify(ctx context.Context, req *ldapclient.ModifyRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ModifyErr != nil {
		if err := d.ModifyErr(req); err != nil {
			return d.record("modify", req.DN, err)
		}
	}

	e, ok := d.entries[key(req.DN)]
	if !ok {
		return d.record("modify", req.DN, ldap.NewError(ldap.LDAPResultNoSuchObject, fmt.Errorf("no such object: %s", req.DN)))
	}

	staged := make(map[string][]string, len(e.attrs))
	for name, values := range e.attrs {
		staged[name] = slices.Clone(values)
	}
	next := &entry{dn: e.dn, attrs: staged}

	for attr, values := range req.AddAttributes {
		current := next.values(attr)
		for _, v := range values {
			if slices.Contains(current, v) {
				return d.record("modify", req.DN, ldap.NewError(ldap.LDAPResultAttributeOrValueExists, fmt.Errorf("%s: value %q exists", attr, v)))
			}
			current = append(current, v)
		}
		next.set(attr, current)
	}

	for attr, values := range req.ReplaceAttributes {
		next.set(attr, slices.Clone(values))
	}

	for attr, values := range req.DeleteValues {
		current := next.values(attr)
		if len(values) == 0 {
			if len(current) == 0 {
				return d.record("modify", req.DN, ldap.NewError(ldap.LDAPResultNoSuchAttribute, fmt.Errorf("%s: no such attribute", attr)))
			}
			next.set(attr, nil)
			continue
		}
		for _, v := range values {
			i := slices.Index(current, v)
			if i < 0 {
				return d.record("modify", req.DN, ldap.NewError(ldap.LDAPResultNoSuchAttribute, fmt.Errorf("%s: value %q absent", attr, v)))
			}
			current = slices.Delete(current, i, i+1)
		}
		next.set(attr, current)
	}

	d.entries[key(req.DN)] = next
	return d.record("modify", req.DN, nil)
}

// Close implements ldapclient.Client.
func (d *Directory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (e *entry) name(attr string) (string, bool) {
	for name := range e.attrs {
		if strings.EqualFold(name, attr) {
			return name, true
		}
	}
	return "", false
}

func (e *entry) values(attr string) []string {
	if name, ok := e.name(attr); ok {
		return e.attrs[name]
	}
	return nil
}

func (e *entry) set(attr string, values []string) {
	if name, ok := e.name(attr); ok {
		delete(e.attrs, name)
	}
	if len(values) > 0 {
		e.attrs[attr] = values
	}
}

func (e *entry) matches(terms []term) bool {
	for _, t := range terms {
		values := e.values(t.attr)
		if t.value == "*" {
			if len(values) == 0 {
				return false
			}
			continue
		}
		if !slices.ContainsFunc(values, func(v string) bool { return strings.EqualFold(v, t.value) }) {
			return false
		}
	}
	return true
}

// toLDAP returns the entry with the requested attributes, named as requested.
func (e *entry) toLDAP(attributes []string) *ldap.Entry {
	out := make(map[string][]string, len(attributes))
	if len(attributes) == 0 {
		for name, values := range e.attrs {
			out[name] = slices.Clone(values)
		}
	}
	for _, attr := range attributes {
		if values := e.values(attr); len(values) > 0 {
			out[attr] = slices.Clone(values)
		}
	}
	return ldap.NewEntry(e.dn, out)
}

func inScope(k, base string, scope ldapclient.SearchScope) bool {
	switch scope {
	case ldapclient.ScopeBaseObject:
		return k == base
	case ldapclient.ScopeSingleLevel:
		rdn, parent, ok := strings.Cut(k, ",")
		return ok && rdn != "" && parent == base
	default:
		return k == base || strings.HasSuffix(k, ","+base)
	}
}

type term struct {
	attr  string
	value string
}

var termPattern = regexp.MustCompile(`\(([A-Za-z][A-Za-z0-9-]*)=([^()]*)\)`)

func parseFilter(filter string) ([]term, error) {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return nil, nil
	}
	if strings.ContainsAny(filter, "|!") {
		return nil, fmt.Errorf("unsupported filter %q", filter)
	}

	matches := termPattern.FindAllStringSubmatch(filter, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("unsupported filter %q", filter)
	}

	terms := make([]term, 0, len(matches))
	for _, m := range matches {
		terms = append(terms, term{attr: m[1], value: m[2]})
	}
	return terms, nil
}

// Fixture is a YAML description of directory content.
type Fixture struct {
	Entries []FixtureEntry  `yaml:"entries"`
	People  []FixturePerson `yaml:"people"`
	Groups  []FixtureGroup  `yaml:"groups"`
}

// FixtureEntry is a raw entry.
type FixtureEntry struct {
	DN    string              `yaml:"dn"`
	Attrs map[string][]string `yaml:"attrs"`
}

// FixturePerson is a person under the fixture's people DN.
type FixturePerson struct {
	UID    string `yaml:"uid"`
	GID    *int   `yaml:"gid"`
	Marker string `yaml:"marker"`
}

// FixtureGroup is a posixGroup under the fixture's groups DN.
type FixtureGroup struct {
	CN      string   `yaml:"cn"`
	GID     int      `yaml:"gid"`
	Members []string `yaml:"members"`
}

// Load populates the directory from a YAML fixture. People and groups are
// placed under peopleDN and groupsDN, which are created as entries.
func (d *Directory) Load(data []byte, peopleDN, groupsDN string) error {
	var fixture Fixture
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return fmt.Errorf("parse directory fixture: %w", err)
	}

	for _, dn := range []string{peopleDN, groupsDN} {
		if dn != "" && !d.Exists(dn) {
			d.AddEntry(dn, map[string][]string{"objectClass": {"top", "organizationalUnit"}})
		}
	}

	for _, e := range fixture.Entries {
		d.AddEntry(e.DN, e.Attrs)
	}
	for _, p := range fixture.People {
		gid := -1
		if p.GID != nil {
			gid = *p.GID
		}
		d.AddPerson(peopleDN, p.UID, gid, p.Marker)
	}
	for _, g := range fixture.Groups {
		d.AddGroup(groupsDN, g.CN, g.GID, g.Members...)
	}
	return nil
}
