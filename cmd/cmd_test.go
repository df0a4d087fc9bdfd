package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/isometry/groupsync/internal/groupmap"
	ldapclient "github.com/isometry/groupsync/internal/ldap"
	"github.com/isometry/groupsync/internal/ldap/ldaptest"
	"github.com/isometry/groupsync/internal/logging"
)

const (
	baseDN   = "dc=example,dc=org"
	peopleDN = "ou=people," + baseDN
	groupsDN = "ou=groups," + baseDN
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
    marker: "mgr-cls 5"
groups:
  - cn: sales
    gid: 1000
    members: [bob, carol]
  - cn: adm-cls
    gid: 5003
    members: [alice]
`

// MockRunner is a mock implementation of groupmap.Runner.
type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, req groupmap.Request) (groupmap.Response, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(groupmap.Response), args.Error(1)
}

// staticResolver answers every SRV lookup with the same records.
type staticResolver []*net.SRV

func (r staticResolver) LookupSRV(context.Context, string, string, string) (string, []*net.SRV, error) {
	return "", r, nil
}

type testEnv struct {
	dir     *ldaptest.Directory
	deps    *deps
	stdout  *bytes.Buffer
	stderr  *bytes.Buffer
	logger  *logging.CaptureLogger
	configs []*ldapclient.ConnectionConfig
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	t.Chdir(t.TempDir())
	for _, kv := range os.Environ() {
		if name, _, _ := strings.Cut(kv, "="); strings.HasPrefix(name, "GROUPSYNC_") {
			t.Setenv(name, "")
			os.Unsetenv(name)
		}
	}
	t.Setenv("GROUPSYNC_BASE_DN", baseDN)

	dir := ldaptest.New()
	require.NoError(t, dir.Load([]byte(fixture), peopleDN, groupsDN))

	env := &testEnv{
		dir:    dir,
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
		logger: logging.NewCaptureLogger(),
	}
	env.deps = &deps{
		stdout: env.stdout,
		stderr: env.stderr,
		connect: func(_ context.Context, cfg *ldapclient.ConnectionConfig, _ logging.Logger) (ldapclient.Client, error) {
			env.configs = append(env.configs, cfg)
			return dir, nil
		},
		newLogger: func(logging.Config) (logging.Logger, error) {
			return env.logger, nil
		},
	}
	return env
}

func (e *testEnv) run(args ...string) int {
	return run(context.Background(), args, e.deps)
}

func TestVersionCmd(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, ExitOK, env.run("version"))
	assert.Equal(t, "groupsync version dev (commit: none)\n", env.stdout.String())
}

func TestValidateRegistryCmd(t *testing.T) {
	t.Run("built-in table", func(t *testing.T) {
		env := newTestEnv(t)

		require.Equal(t, ExitOK, env.run("validate-registry"))
		out := env.stdout.String()
		assert.Contains(t, out, "NAME")
		assert.Contains(t, out, "adm-cls")
		assert.Contains(t, out, "900-999")
	})

	t.Run("invalid file", func(t *testing.T) {
		env := newTestEnv(t)
		path := filepath.Join(t.TempDir(), "classifications.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
classifications:
  - name: a-cls
    gid_number: 6001
    level_min: 1
    level_max: 50
    fallback: true
  - name: b-cls
    gid_number: 6002
    level_min: 51
    level_max: 60
    fallback: true
`), 0o600))

		assert.Equal(t, ExitFatal, env.run("validate-registry", "--classification-file", path))
		assert.Contains(t, env.stderr.String(), "Error:")
		assert.Contains(t, env.stderr.String(), "marked as fallback")
	})

	t.Run("overlapping ranges are accepted", func(t *testing.T) {
		env := newTestEnv(t)
		path := filepath.Join(t.TempDir(), "classifications.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
classifications:
  - name: a-cls
    gid_number: 6001
    level_min: 1
    level_max: 50
  - name: b-cls
    gid_number: 6002
    level_min: 40
    level_max: 60
    fallback: true
`), 0o600))

		require.Equal(t, ExitOK, env.run("validate-registry", "--classification-file", path))
		assert.Contains(t, env.stdout.String(), "b-cls")
	})
}

func TestSyncCmd_DryRun(t *testing.T) {
	env := newTestEnv(t)

	require.Equal(t, ExitOK, env.run("sync", "--create-groups"))

	out := env.stdout.String()
	assert.Contains(t, out, "sales: planned +1/-1, kept 1, errors 0 (dry-run)")
	assert.NotContains(t, out, "applied")
	assert.Contains(t, out, "(dry-run)")
	assert.Zero(t, env.dir.Writes())
	assert.True(t, env.dir.Closed())

	require.Len(t, env.configs, 1)
	assert.True(t, env.configs[0].ReadOnly)
	assert.Equal(t, "ldapi:///", env.configs[0].URI)

	entries := env.logger.Filter("info")
	require.NotEmpty(t, entries)
	assert.NotEmpty(t, entries[0].Fields["run_id"])
}

func TestSyncCmd_Apply(t *testing.T) {
	env := newTestEnv(t)

	require.Equal(t, ExitOK, env.run("sync", "--apply", "--create-groups", "--uri", "ldap://dc1.example.org"))

	assert.Equal(t, []string{"alice", "bob"}, env.dir.Members("cn=sales,"+groupsDN))
	assert.Equal(t, []string{"carol"}, env.dir.Members("cn=mgr-cls,"+groupsDN))
	assert.NotContains(t, env.stdout.String(), "(dry-run)")

	require.Len(t, env.configs, 1)
	assert.False(t, env.configs[0].ReadOnly)
	assert.Equal(t, "ldap://dc1.example.org", env.configs[0].URI)
}

func TestSyncCmd_DiscoversFallbackURI(t *testing.T) {
	env := newTestEnv(t)
	env.deps.resolver = staticResolver{{Target: "dc1.example.org.", Port: 636}}

	require.Equal(t, ExitOK, env.run("sync", "--create-groups", "--domain", "example.org"))

	require.Len(t, env.configs, 1)
	assert.Equal(t, "ldaps://dc1.example.org:636", env.configs[0].FallbackURI)
	assert.True(t, env.logger.Contains("Discovered fallback URI"))
}

func TestSyncCmd_ExplicitFallbackSkipsDiscovery(t *testing.T) {
	env := newTestEnv(t)
	env.deps.resolver = staticResolver{{Target: "dc1.example.org.", Port: 636}}

	require.Equal(t, ExitOK, env.run("sync", "--create-groups", "--domain", "example.org", "--fallback-uri", "ldap://dc9.example.org"))

	require.Len(t, env.configs, 1)
	assert.Equal(t, "ldap://dc9.example.org", env.configs[0].FallbackURI)
	assert.False(t, env.logger.Contains("Discovered fallback URI"))
}

func TestSyncCmd_GlobalFlags(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("GROUPSYNC_LOG_LEVEL", "warn")

	var got logging.Config
	env.deps.newLogger = func(cfg logging.Config) (logging.Logger, error) {
		got = cfg
		return env.logger, nil
	}

	require.Equal(t, ExitOK, env.run("sync", "--create-groups", "--log-level", "debug", "--log-format", "json"))
	assert.Equal(t, "debug", got.Level)
	assert.Equal(t, "json", got.Format)
}

func TestSyncCmd_UpperCaseLogFormat(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("GROUPSYNC_LOG_FORMAT", "JSON")
	env.deps.newLogger = func(cfg logging.Config) (logging.Logger, error) {
		return logging.New(cfg)
	}

	assert.Equal(t, ExitOK, env.run("sync", "--create-groups"))
	assert.Empty(t, env.stderr.String())
}

func TestSyncCmd_ExitCodes(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		setup    func(env *testEnv)
		expected int
		stderr   string
	}{
		{
			name:     "missing classification groups",
			args:     []string{"sync"},
			expected: ExitErrors,
			stderr:   "completed with 4 errors",
		},
		{
			name: "negotiation failure",
			args: []string{"sync"},
			setup: func(env *testEnv) {
				env.deps.connect = func(context.Context, *ldapclient.ConnectionConfig, logging.Logger) (ldapclient.Client, error) {
					return nil, &ldapclient.NegotiationError{
						State: ldapclient.StateTryFallbackBind,
						URI:   "ldap://dc1.example.org",
						Err:   errors.New("StartTLS rejected"),
					}
				}
			},
			expected: ExitConnection,
			stderr:   "connection negotiation failed",
		},
		{
			name: "missing base DN",
			args: []string{"sync"},
			setup: func(*testEnv) {
				os.Unsetenv("GROUPSYNC_BASE_DN")
			},
			expected: ExitFatal,
			stderr:   "people DN is required",
		},
		{
			name:     "unsupported output",
			args:     []string{"sync", "--output", "yaml"},
			expected: ExitFatal,
			stderr:   "unsupported output format",
		},
		{
			name:     "unknown group",
			args:     []string{"sync", "--groups", "sales,nope"},
			expected: ExitFatal,
			stderr:   "unknown groups: nope",
		},
		{
			name:     "unknown flag",
			args:     []string{"sync", "--bogus"},
			expected: ExitFatal,
		},
		{
			name: "snapshot failure",
			args: []string{"sync", "--create-groups"},
			setup: func(env *testEnv) {
				env.dir.SearchErr = func(req *ldapclient.SearchRequest) error {
					if req.BaseDN == peopleDN {
						return ldap.NewError(ldap.LDAPResultInsufficientAccessRights, errors.New("denied"))
					}
					return nil
				}
			},
			expected: ExitErrors,
			stderr:   "read directory snapshot",
		},
		{
			name: "mutation failure",
			args: []string{"sync", "--apply", "--groups", "sales"},
			setup: func(env *testEnv) {
				env.dir.ModifyErr = func(*ldapclient.ModifyRequest) error {
					return ldap.NewError(ldap.LDAPResultInsufficientAccessRights, errors.New("denied"))
				}
			},
			expected: ExitErrors,
			stderr:   "completed with 2 errors",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tt.setup != nil {
				tt.setup(env)
			}

			assert.Equal(t, tt.expected, env.run(tt.args...))
			if tt.stderr != "" {
				assert.Contains(t, env.stderr.String(), tt.stderr)
			}
		})
	}
}

func TestSyncCmd_JSONOutput(t *testing.T) {
	env := newTestEnv(t)

	require.Equal(t, ExitOK, env.run("sync", "--create-groups", "--output", "json", "--verbose"))

	var report struct {
		RunID  string `json:"run_id"`
		DryRun bool   `json:"dry_run"`
		Totals struct {
			Groups     int `json:"groups"`
			PlannedAdd int `json:"planned_add"`
		} `json:"totals"`
		Plans []struct {
			Group string `json:"group"`
		} `json:"plans"`
	}
	require.NoError(t, json.Unmarshal(env.stdout.Bytes(), &report))

	assert.NotEmpty(t, report.RunID)
	assert.True(t, report.DryRun)
	assert.Equal(t, 6, report.Totals.Groups)
	assert.NotEmpty(t, report.Plans)
}

func TestSyncCmd_MetricsFile(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(t.TempDir(), "groupsync.prom")

	require.Equal(t, ExitOK, env.run("sync", "--apply", "--create-groups", "--metrics-file", path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "groupsync_groups_created_total 4")
	assert.Contains(t, string(data), "groupsync_dry_run 0")
}

func TestSyncCmd_SambaGroupMap(t *testing.T) {
	env := newTestEnv(t)

	runner := &MockRunner{}
	runner.On("Run", mock.Anything, groupmap.Request{Args: []string{"groupmap", "list"}}).
		Return(groupmap.Response{Stdout: "adm-cls (S-1-5-21-1-2-3-1001) -> adm-cls\n"}, nil).Once()
	runner.On("Run", mock.Anything, mock.MatchedBy(func(req groupmap.Request) bool {
		return len(req.Args) > 1 && req.Args[1] == "add"
	})).Return(groupmap.Response{}, nil)
	env.deps.runner = runner

	require.Equal(t, ExitOK, env.run("sync", "--apply", "--create-groups", "--samba-groupmap", "--groups", "adm-cls,mgr-cls,sales"))

	runner.AssertExpectations(t)
	runner.AssertNumberOfCalls(t, "Run", 2)
	runner.AssertCalled(t, "Run", mock.Anything, groupmap.Request{Args: []string{
		"groupmap", "add", "ntgroup=mgr-cls", "unixgroup=mgr-cls", "type=domain",
	}})
}

// negotiatedDirectory reports session details like a negotiated session.
type negotiatedDirectory struct {
	*ldaptest.Directory
}

func (negotiatedDirectory) URI() string                       { return "ldapi:///" }
func (negotiatedDirectory) AuthMethod() ldapclient.AuthMethod { return ldapclient.AuthMethodExternal }

func TestSyncCmd_LogsSession(t *testing.T) {
	env := newTestEnv(t)
	env.deps.connect = func(context.Context, *ldapclient.ConnectionConfig, logging.Logger) (ldapclient.Client, error) {
		return negotiatedDirectory{Directory: env.dir}, nil
	}

	require.Equal(t, ExitOK, env.run("sync", "--create-groups"))

	var found bool
	for _, e := range env.logger.Entries() {
		if e.Message == "Connected to directory" {
			found = true
			assert.Equal(t, "ldapi:///", e.Fields["uri"])
			assert.Equal(t, "external", e.Fields["auth_method"])
		}
	}
	assert.True(t, found)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitFatal, exitCode(errors.New("boom")))
	assert.Equal(t, ExitConnection, exitCode(withExitCode(ExitConnection, errors.New("boom"))))
	assert.Equal(t, ExitErrors, exitCode(fmt.Errorf("sync: %w", withExitCode(ExitErrors, errors.New("boom")))))
}
