package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	ldapclient "github.com/isometry/groupsync/internal/ldap"
)

// EnvPrefix prefixes every environment variable, e.g. GROUPSYNC_URI.
const EnvPrefix = "groupsync"

// EnvSpec is the environment configuration for a run.
type EnvSpec struct {
	URI          string        `envconfig:"uri" default:"ldapi:///"`
	FallbackURI  string        `envconfig:"fallback_uri"`
	Domain       string        `envconfig:"domain"` // SRV lookup for FallbackURI when unset
	BindDN       string        `envconfig:"bind_dn"`
	BindPassword string        `envconfig:"bind_password"`
	Timeout      time.Duration `envconfig:"timeout" default:"30s"`
	MaxRetries   int           `envconfig:"max_retries" default:"3"`

	BaseDN   string `envconfig:"base_dn"`
	PeopleDN string `envconfig:"people_dn"`
	GroupsDN string `envconfig:"groups_dn"`

	TLSCACertFile         string `envconfig:"tls_ca_cert_file"`
	TLSInsecureSkipVerify bool   `envconfig:"tls_insecure_skip_verify" default:"false"`

	KerberosRealm     string `envconfig:"kerberos_realm"`
	KerberosPrincipal string `envconfig:"kerberos_principal"`
	KerberosKeytab    string `envconfig:"kerberos_keytab"`
	KerberosConfig    string `envconfig:"kerberos_config"`
	KerberosCCache    string `envconfig:"kerberos_ccache"`
	KerberosSPN       string `envconfig:"kerberos_spn"`

	UIDAttribute       string `envconfig:"uid_attribute" default:"uid"`
	GIDNumberAttribute string `envconfig:"gid_number_attribute" default:"gidNumber"`
	MemberAttribute    string `envconfig:"member_attribute" default:"memberUid"`
	MarkerAttribute    string `envconfig:"marker_attribute" default:"employeeType"`
	GroupNameAttribute string `envconfig:"group_name_attribute" default:"cn"`

	ClassificationFile string `envconfig:"classification_file"`

	LogLevel  string `envconfig:"log_level" default:"info"`
	LogFormat string `envconfig:"log_format"`
	LogFile   string `envconfig:"log_file"`

	MetricsFile      string `envconfig:"metrics_file"`
	TracingEnabled   bool   `envconfig:"tracing_enabled" default:"false"`
	OtelHTTPEndpoint string `envconfig:"otel_http_endpoint"`

	SambaGroupMap bool   `envconfig:"samba_groupmap" default:"false"`
	NetCommand    string `envconfig:"net_command" default:"net"`
}

// Load reads envFile, or ./.env when envFile is empty, then processes the
// environment. Variables already set in the environment win over the file.
func Load(envFile string) (*EnvSpec, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	specs := new(EnvSpec)
	if err := envconfig.Process(EnvPrefix, specs); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	return specs, nil
}

// ResolveDNs derives the people and groups DNs from the base DN when they
// are not set explicitly.
func (s *EnvSpec) ResolveDNs() {
	if s.BaseDN == "" {
		return
	}
	if s.PeopleDN == "" {
		s.PeopleDN = "ou=people," + s.BaseDN
	}
	if s.GroupsDN == "" {
		s.GroupsDN = "ou=groups," + s.BaseDN
	}
}

// Validate checks the settings a sync run cannot do without.
func (s *EnvSpec) Validate() error {
	var errs []error

	if s.PeopleDN == "" {
		errs = append(errs, errors.New("people DN is required (set GROUPSYNC_BASE_DN or GROUPSYNC_PEOPLE_DN)"))
	}
	if s.GroupsDN == "" {
		errs = append(errs, errors.New("groups DN is required (set GROUPSYNC_BASE_DN or GROUPSYNC_GROUPS_DN)"))
	}
	if err := ldapclient.ValidateURI(s.URI); err != nil {
		errs = append(errs, fmt.Errorf("uri: %w", err))
	}
	if s.FallbackURI != "" {
		if err := ldapclient.ValidateURI(s.FallbackURI); err != nil {
			errs = append(errs, fmt.Errorf("fallback uri: %w", err))
		}
	}
	if s.BindPassword != "" && s.BindDN == "" {
		errs = append(errs, errors.New("bind password set without bind DN"))
	}
	if s.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", s.Timeout))
	}
	if s.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max retries must not be negative, got %d", s.MaxRetries))
	}
	switch strings.ToLower(strings.TrimSpace(s.LogFormat)) {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log format must be console or json, got %q", s.LogFormat))
	}

	return errors.Join(errs...)
}

// ConnectionConfig builds the negotiator settings. readOnly permits an
// anonymous bind when no credentials are configured.
func (s *EnvSpec) ConnectionConfig(readOnly bool) *ldapclient.ConnectionConfig {
	cfg := ldapclient.DefaultConfig()

	cfg.URI = s.URI
	cfg.FallbackURI = s.FallbackURI
	cfg.Timeout = s.Timeout
	cfg.MaxRetries = s.MaxRetries
	cfg.BindDN = s.BindDN
	cfg.BindPassword = s.BindPassword
	cfg.ReadOnly = readOnly

	cfg.TLSCACertFile = s.TLSCACertFile
	cfg.TLSInsecureSkipVerify = s.TLSInsecureSkipVerify

	cfg.KerberosRealm = s.KerberosRealm
	cfg.KerberosPrincipal = s.KerberosPrincipal
	cfg.KerberosKeytab = s.KerberosKeytab
	cfg.KerberosConfig = s.KerberosConfig
	cfg.KerberosCCache = s.KerberosCCache
	cfg.KerberosSPN = s.KerberosSPN

	return cfg
}

// Schema applies the attribute name overrides to the default schema.
func (s *EnvSpec) Schema() ldapclient.Schema {
	schema := ldapclient.DefaultSchema()
	schema.UIDAttribute = s.UIDAttribute
	schema.GIDNumberAttribute = s.GIDNumberAttribute
	schema.MemberAttribute = s.MemberAttribute
	schema.MarkerAttribute = s.MarkerAttribute
	schema.GroupNameAttribute = s.GroupNameAttribute
	schema.AccountFilter = fmt.Sprintf("(&(objectClass=person)(%s=*))", s.UIDAttribute)
	return schema
}
