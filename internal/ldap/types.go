package ldap

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// ConnectionConfig holds configuration for negotiating a directory session.
type ConnectionConfig struct {
	// Connection settings
	URI         string        // Preferred URI: ldapi://, ldap:// or ldaps://
	FallbackURI string        // Used when local EXTERNAL auth fails
	Timeout     time.Duration // Transport timeout, passed through to the connection

	// Authentication settings
	BindDN       string // DN for simple bind
	BindPassword string // Password for simple bind (or Kerberos password auth)
	ReadOnly     bool   // Dry-run; permits anonymous bind when credentials are absent

	// Kerberos settings; GSSAPI replaces simple bind when a realm is set
	KerberosRealm     string
	KerberosPrincipal string
	KerberosKeytab    string
	KerberosConfig    string
	KerberosCCache    string
	KerberosSPN       string

	// TLS settings
	TLSConfig             *tls.Config // Custom TLS configuration
	TLSCACertFile         string      // Path to CA certificate file
	TLSInsecureSkipVerify bool        // Disable certificate verification (not recommended)

	// Retry settings
	MaxRetries     int           // Maximum retry attempts
	InitialBackoff time.Duration // Initial backoff duration
	MaxBackoff     time.Duration // Maximum backoff duration
	BackoffFactor  float64       // Backoff multiplication factor
}

// DefaultConfig returns a secure default configuration.
func DefaultConfig() *ConnectionConfig {
	return &ConnectionConfig{
		URI:            "ldapi:///",
		Timeout:        30 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
	}
}

// UsesKerberos reports whether the bind step should use GSSAPI.
func (c *ConnectionConfig) UsesKerberos() bool {
	return c.KerberosRealm != ""
}

// HasSimpleCredentials reports whether a simple bind can be attempted.
func (c *ConnectionConfig) HasSimpleCredentials() bool {
	return c.BindDN != "" && c.BindPassword != ""
}

// Schema names the directory attributes and filters groupsync reads and writes.
type Schema struct {
	UIDAttribute       string
	GIDNumberAttribute string
	MemberAttribute    string
	MarkerAttribute    string
	GroupNameAttribute string

	AccountFilter      string
	GroupFilter        string
	GroupObjectClasses []string
}

// DefaultSchema returns the RFC 2307 attribute layout.
func DefaultSchema() Schema {
	return Schema{
		UIDAttribute:       "uid",
		GIDNumberAttribute: "gidNumber",
		MemberAttribute:    "memberUid",
		MarkerAttribute:    "employeeType",
		GroupNameAttribute: "cn",
		AccountFilter:      "(&(objectClass=person)(uid=*))",
		GroupFilter:        "(objectClass=posixGroup)",
		GroupObjectClasses: []string{"top", "posixGroup"},
	}
}

// Account is a person entry normalized at the reader boundary.
type Account struct {
	DN               string
	UID              string
	GIDNumber        int
	HasGIDNumber     bool
	EmploymentMarker string
}

// Group is a group entry normalized at the reader boundary.
type Group struct {
	DN           string
	Name         string
	GIDNumber    int
	HasGIDNumber bool
	Members      []string // sorted, deduplicated uids
}

// Client provides the directory operations a negotiated session supports.
type Client interface {
	Search(ctx context.Context, req *SearchRequest) (*SearchResult, error)
	SearchWithPaging(ctx context.Context, req *SearchRequest) (*SearchResult, error)
	Add(ctx context.Context, req *AddRequest) error
	Modify(ctx context.Context, req *ModifyRequest) error
	Close() error
}

// SearchRequest encapsulates LDAP search parameters.
type SearchRequest struct {
	BaseDN     string
	Scope      SearchScope
	Filter     string
	Attributes []string
	SizeLimit  int
	TimeLimit  time.Duration
}

// SearchResult contains search results.
type SearchResult struct {
	Entries []*ldap.Entry
	Total   int
}

// AddRequest encapsulates LDAP add parameters.
type AddRequest struct {
	DN         string
	Attributes map[string][]string
}

// ModifyRequest encapsulates LDAP modify parameters. DeleteValues removes
// only the listed values; an empty slice removes the whole attribute.
type ModifyRequest struct {
	DN                string
	AddAttributes     map[string][]string
	ReplaceAttributes map[string][]string
	DeleteValues      map[string][]string
}

// SearchScope defines LDAP search scope.
type SearchScope int

const (
	ScopeBaseObject SearchScope = iota
	ScopeSingleLevel
	ScopeWholeSubtree
)

func (s SearchScope) String() string {
	switch s {
	case ScopeBaseObject:
		return "base"
	case ScopeSingleLevel:
		return "one"
	case ScopeWholeSubtree:
		return "sub"
	default:
		return "unknown"
	}
}

// AuthMethod defines authentication method types.
type AuthMethod int

const (
	AuthMethodNone       AuthMethod = iota
	AuthMethodExternal              // SASL EXTERNAL over ldapi
	AuthMethodSimpleBind            // DN/password
	AuthMethodKerberos              // GSSAPI
	AuthMethodAnonymous             // read-only runs without credentials
)

// String returns string representation of authentication method.
func (a AuthMethod) String() string {
	switch a {
	case AuthMethodNone:
		return "none"
	case AuthMethodExternal:
		return "external"
	case AuthMethodSimpleBind:
		return "simple"
	case AuthMethodKerberos:
		return "kerberos"
	case AuthMethodAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// RetryableError indicates an error that can be retried.
type RetryableError interface {
	error
	IsRetryable() bool
}

// ConnectionError represents connection-related errors.
type ConnectionError struct {
	message   string
	retryable bool
	cause     error
}

func (e *ConnectionError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *ConnectionError) IsRetryable() bool {
	return e.retryable
}

func (e *ConnectionError) Unwrap() error {
	return e.cause
}

// NewConnectionError creates a new connection error.
func NewConnectionError(message string, retryable bool, cause error) *ConnectionError {
	return &ConnectionError{
		message:   message,
		retryable: retryable,
		cause:     cause,
	}
}
