package ldap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildServicePrincipal(t *testing.T) {
	tests := []struct {
		name        string
		config      *ConnectionConfig
		host        string
		expected    string
		expectError bool
	}{
		{
			name:     "derived from host",
			config:   &ConnectionConfig{},
			host:     "dc1.example.org",
			expected: "ldap/dc1.example.org",
		},
		{
			name:     "explicit SPN wins",
			config:   &ConnectionConfig{KerberosSPN: "ldap/ldap.example.org"},
			host:     "10.0.0.5",
			expected: "ldap/ldap.example.org",
		},
		{
			name:        "no host",
			config:      &ConnectionConfig{},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spn, err := buildServicePrincipal(tt.config, tt.host)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, spn)
		})
	}
}

func TestSplitPrincipal(t *testing.T) {
	tests := []struct {
		name          string
		principal     string
		realm         string
		wantPrincipal string
		wantRealm     string
	}{
		{"bare principal", "groupsync", "EXAMPLE.ORG", "groupsync", "EXAMPLE.ORG"},
		{"realm from principal", "groupsync@EXAMPLE.ORG", "", "groupsync", "EXAMPLE.ORG"},
		{"explicit realm wins", "groupsync@OTHER.ORG", "EXAMPLE.ORG", "groupsync", "EXAMPLE.ORG"},
		{"empty", "", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			principal, realm := splitPrincipal(tt.principal, tt.realm)
			assert.Equal(t, tt.wantPrincipal, principal)
			assert.Equal(t, tt.wantRealm, realm)
		})
	}
}

func TestCreateGSSAPIClient_Errors(t *testing.T) {
	tempDir := t.TempDir()
	krb5Conf := filepath.Join(tempDir, "krb5.conf")
	f, err := os.Create(krb5Conf)
	require.NoError(t, err)
	f.Close()

	t.Setenv("KRB5CCNAME", filepath.Join(tempDir, "missing-ccache"))
	t.Setenv("KRB5_KTNAME", filepath.Join(tempDir, "missing-keytab"))

	tests := []struct {
		name      string
		config    *ConnectionConfig
		principal string
		errorMsg  string
	}{
		{
			name:     "missing krb5.conf",
			config:   &ConnectionConfig{KerberosConfig: filepath.Join(tempDir, "nope.conf")},
			errorMsg: "kerberos configuration file not found",
		},
		{
			name:     "no principal without a credential cache",
			config:   &ConnectionConfig{KerberosConfig: krb5Conf},
			errorMsg: "kerberos principal is required",
		},
		{
			name: "no credentials",
			config: &ConnectionConfig{
				KerberosConfig: krb5Conf,
				KerberosKeytab: filepath.Join(tempDir, "absent.keytab"),
			},
			principal: "groupsync",
			errorMsg:  "no suitable credentials found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := createGSSAPIClient(tt.config, tt.principal, "EXAMPLE.ORG", nopLogger())
			require.Error(t, err)
			assert.Nil(t, client)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestGetDefaultCCachePath(t *testing.T) {
	t.Run("environment with FILE prefix", func(t *testing.T) {
		t.Setenv("KRB5CCNAME", "FILE:/tmp/custom_ccache")
		assert.Equal(t, "/tmp/custom_ccache", getDefaultCCachePath())
	})

	t.Run("environment without prefix", func(t *testing.T) {
		t.Setenv("KRB5CCNAME", "/custom/path/ccache")
		assert.Equal(t, "/custom/path/ccache", getDefaultCCachePath())
	})

	t.Run("no environment", func(t *testing.T) {
		t.Setenv("KRB5CCNAME", "")
		assert.Contains(t, getDefaultCCachePath(), "/tmp/krb5cc_")
	})
}

func TestGetDefaultKeytabPath(t *testing.T) {
	t.Run("environment with FILE prefix", func(t *testing.T) {
		t.Setenv("KRB5_KTNAME", "FILE:/custom/path/keytab")
		assert.Equal(t, "/custom/path/keytab", getDefaultKeytabPath())
	})

	t.Run("no environment", func(t *testing.T) {
		t.Setenv("KRB5_KTNAME", "")
		assert.Equal(t, "/etc/krb5.keytab", getDefaultKeytabPath())
	})
}

func TestFileExists(t *testing.T) {
	tempDir := t.TempDir()
	existingFile := filepath.Join(tempDir, "existing.txt")

	f, err := os.Create(existingFile)
	require.NoError(t, err)
	f.Close()

	assert.True(t, fileExists(existingFile))
	assert.False(t, fileExists(filepath.Join(tempDir, "missing.txt")))
	assert.False(t, fileExists(""))
}
