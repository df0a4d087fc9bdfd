package ldap_test

import (
	"context"
	"errors"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ldapclient "github.com/isometry/groupsync/internal/ldap"
	"github.com/isometry/groupsync/internal/ldap/ldaptest"
	"github.com/isometry/groupsync/internal/logging"
)

const (
	peopleDN = "ou=people,dc=example,dc=org"
	groupsDN = "ou=groups,dc=example,dc=org"
)

const fixture = `
people:
  - uid: alice
    gid: 1000
    marker: "adm-cls 1"
  - uid: bob
    gid: 1000
    marker: "35"
  - uid: carol
    gid: 2000
  - uid: dave
groups:
  - cn: sales
    gid: 1000
    members: [bob, carol]
  - cn: engineering
    gid: 2000
  - cn: adm-cls
    gid: 5003
    members: [" bob ", alice, bob]
entries:
  - dn: cn=printer,ou=people,dc=example,dc=org
    attrs:
      objectClass: [device]
      cn: [printer]
`

func newDirectory(t *testing.T) *ldaptest.Directory {
	t.Helper()
	dir := ldaptest.New()
	require.NoError(t, dir.Load([]byte(fixture), peopleDN, groupsDN))
	return dir
}

func TestReader_ListAccounts(t *testing.T) {
	reader := ldapclient.NewReader(newDirectory(t), ldapclient.DefaultSchema(), nil)

	accounts, err := reader.ListAccounts(context.Background(), peopleDN)
	require.NoError(t, err)
	require.Len(t, accounts, 4)

	byUID := make(map[string]ldapclient.Account)
	for _, a := range accounts {
		byUID[a.UID] = a
	}

	assert.Equal(t, ldapclient.Account{
		DN:               "uid=alice," + peopleDN,
		UID:              "alice",
		GIDNumber:        1000,
		HasGIDNumber:     true,
		EmploymentMarker: "adm-cls 1",
	}, byUID["alice"])
	assert.Equal(t, "35", byUID["bob"].EmploymentMarker)
	assert.Empty(t, byUID["carol"].EmploymentMarker)
	assert.False(t, byUID["dave"].HasGIDNumber)
}

func TestReader_ListAccounts_BadGIDNumber(t *testing.T) {
	dir := ldaptest.New()
	dir.AddEntry(peopleDN, map[string][]string{"objectClass": {"organizationalUnit"}})
	dir.AddEntry("uid=eve,"+peopleDN, map[string][]string{
		"objectClass": {"person"},
		"uid":         {"eve"},
		"gidNumber":   {"not-a-number"},
	})

	logger := logging.NewCaptureLogger()
	accounts, err := ldapclient.NewReader(dir, ldapclient.DefaultSchema(), logger).ListAccounts(context.Background(), peopleDN)
	require.NoError(t, err)
	require.Len(t, accounts, 1)

	assert.False(t, accounts[0].HasGIDNumber)
	assert.True(t, logger.Contains("Ignoring unparseable gidNumber"))
}

func TestReader_ListAccounts_SearchError(t *testing.T) {
	dir := newDirectory(t)
	dir.SearchErr = func(*ldapclient.SearchRequest) error {
		return ldap.NewError(ldap.LDAPResultInsufficientAccessRights, errors.New("denied"))
	}

	_, err := ldapclient.NewReader(dir, ldapclient.DefaultSchema(), nil).ListAccounts(context.Background(), peopleDN)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list accounts under "+peopleDN)
}

func TestReader_ListGroups(t *testing.T) {
	reader := ldapclient.NewReader(newDirectory(t), ldapclient.DefaultSchema(), nil)

	groups, err := reader.ListGroups(context.Background(), groupsDN)
	require.NoError(t, err)
	require.Len(t, groups, 3)

	assert.Equal(t, "sales", groups[0].Name)
	assert.Equal(t, 1000, groups[0].GIDNumber)
	assert.Equal(t, []string{"bob", "carol"}, groups[0].Members)
	assert.Empty(t, groups[1].Members)
}

func TestReader_CurrentMembers(t *testing.T) {
	reader := ldapclient.NewReader(newDirectory(t), ldapclient.DefaultSchema(), nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		dn       string
		expected []string
		notFound bool
	}{
		{
			name:     "members are trimmed and deduplicated",
			dn:       "cn=adm-cls," + groupsDN,
			expected: []string{"alice", "bob"},
		},
		{
			name:     "existing group without members",
			dn:       "cn=engineering," + groupsDN,
			expected: []string{},
		},
		{
			name:     "missing group",
			dn:       "cn=exec-cls," + groupsDN,
			notFound: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			members, err := reader.CurrentMembers(ctx, tt.dn)
			if tt.notFound {
				require.Error(t, err)
				assert.ErrorIs(t, err, ldapclient.ErrGroupNotFound)
				assert.Nil(t, members)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, members)
			assert.Equal(t, tt.expected, members)
		})
	}
}

func TestReader_GroupExistsAndNumericID(t *testing.T) {
	reader := ldapclient.NewReader(newDirectory(t), ldapclient.DefaultSchema(), nil)
	ctx := context.Background()

	exists, err := reader.GroupExists(ctx, "cn=sales,"+groupsDN)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = reader.GroupExists(ctx, "cn=nobody,"+groupsDN)
	require.NoError(t, err)
	assert.False(t, exists)

	gid, ok, err := reader.GroupNumericID(ctx, "cn=adm-cls,"+groupsDN)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5003, gid)

	_, _, err = reader.GroupNumericID(ctx, "cn=nobody,"+groupsDN)
	assert.ErrorIs(t, err, ldapclient.ErrGroupNotFound)
}

func TestReader_GroupExists_ReadError(t *testing.T) {
	dir := newDirectory(t)
	dir.SearchErr = func(*ldapclient.SearchRequest) error {
		return ldap.NewError(ldap.LDAPResultUnavailable, errors.New("unavailable"))
	}

	_, err := ldapclient.NewReader(dir, ldapclient.DefaultSchema(), nil).GroupExists(context.Background(), "cn=sales,"+groupsDN)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ldapclient.ErrGroupNotFound)
}
