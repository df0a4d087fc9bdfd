package ldap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/groupsync/internal/logging"
)

const (
	schemeLDAPI = "ldapi"
	schemeLDAP  = "ldap"
	schemeLDAPS = "ldaps"
)

// State is a connection negotiation state.
type State int

const (
	StateTryLocal        State = iota // ldapi with SASL EXTERNAL
	StateTryFallbackBind              // ldap+StartTLS or ldaps, then bind
	StateBound                        // authenticated session ready
	StateFailed                       // terminal; no usable session
)

func (s State) String() string {
	switch s {
	case StateTryLocal:
		return "TryLocal"
	case StateTryFallbackBind:
		return "TryFallbackBind"
	case StateBound:
		return "Bound"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Conn is the subset of *ldap.Conn used by negotiation and sessions.
type Conn interface {
	StartTLS(config *tls.Config) error
	ExternalBind() error
	Bind(username, password string) error
	UnauthenticatedBind(username string) error
	GSSAPIBind(client ldap.GSSAPIClient, servicePrincipal, authzid string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Add(req *ldap.AddRequest) error
	Modify(req *ldap.ModifyRequest) error
	Close() error
}

// Dialer opens a transport to uri. tlsConfig is non-nil for ldaps.
type Dialer interface {
	Dial(ctx context.Context, uri string, tlsConfig *tls.Config) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, uri string, tlsConfig *tls.Config) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, uri string, tlsConfig *tls.Config) (Conn, error) {
	return f(ctx, uri, tlsConfig)
}

// NetDialer dials real directory servers with go-ldap.
type NetDialer struct {
	Timeout time.Duration
}

func (d NetDialer) Dial(_ context.Context, uri string, tlsConfig *tls.Config) (Conn, error) {
	opts := []ldap.DialOpt{ldap.DialWithDialer(&net.Dialer{Timeout: d.Timeout})}
	if tlsConfig != nil {
		opts = append(opts, ldap.DialWithTLSConfig(tlsConfig))
	}

	conn, err := ldap.DialURL(uri, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", uri, err)
	}

	if d.Timeout > 0 {
		conn.SetTimeout(d.Timeout)
	}

	return ldapConn{conn}, nil
}

// ldapConn pins Close to the error-returning signature Conn expects.
type ldapConn struct {
	*ldap.Conn
}

func (c ldapConn) Close() error {
	c.Conn.Close()
	return nil
}

// Negotiator establishes an authenticated session, falling back from local
// EXTERNAL authentication to a secured simple (or GSSAPI) bind.
type Negotiator struct {
	config *ConnectionConfig
	dialer Dialer
	logger logging.Logger

	state  State
	target string
	conn   Conn
	method AuthMethod
	err    error
	trail  []State
}

// NewNegotiator creates a negotiator. A nil dialer uses NetDialer with the
// configured timeout.
func NewNegotiator(config *ConnectionConfig, dialer Dialer, logger logging.Logger) *Negotiator {
	if config == nil {
		config = DefaultConfig()
	}
	if dialer == nil {
		dialer = NetDialer{Timeout: config.Timeout}
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Negotiator{
		config: config,
		dialer: dialer,
		logger: logger,
	}
}

// State returns the current state.
func (n *Negotiator) State() State { return n.state }

// Trail returns every state visited by the last Negotiate call, in order.
func (n *Negotiator) Trail() []State {
	out := make([]State, len(n.trail))
	copy(out, n.trail)
	return out
}

// Negotiate runs the state machine to completion.
func (n *Negotiator) Negotiate(ctx context.Context) (*Session, error) {
	n.trail = nil
	n.conn = nil
	n.err = nil
	n.method = AuthMethodNone
	n.state = n.start()

	for {
		n.trail = append(n.trail, n.state)

		switch n.state {
		case StateTryLocal:
			n.state = n.tryLocal(ctx)
		case StateTryFallbackBind:
			n.state = n.tryFallbackBind(ctx)
		case StateBound:
			LogConnectionEvent(n.logger, "connection_established", map[string]any{
				"uri":         n.target,
				"auth_method": n.method.String(),
			})
			return NewSession(n.conn, n.config, n.logger, n.target, n.method), nil
		case StateFailed:
			LogConnectionEvent(n.logger, "negotiation_failed", map[string]any{
				"uri":   n.target,
				"error": n.err.Error(),
			})
			return nil, n.err
		default:
			return nil, fmt.Errorf("unexpected negotiation state %s", n.state)
		}
	}
}

// start selects the entry state from the preferred URI scheme.
func (n *Negotiator) start() State {
	n.target = n.config.URI
	n.state = StateFailed

	scheme, err := uriScheme(n.target)
	if err != nil {
		return n.fail(err)
	}

	switch scheme {
	case schemeLDAPI:
		return StateTryLocal
	default:
		return StateTryFallbackBind
	}
}

// tryLocal attempts SASL EXTERNAL over the local socket. Any failure moves to
// the fallback URI; ldapi is never retried.
func (n *Negotiator) tryLocal(ctx context.Context) State {
	fields := map[string]any{"uri": n.target, "state": StateTryLocal.String()}
	LogConnectionEvent(n.logger, "connection_attempt", fields)

	conn, err := n.dialer.Dial(ctx, n.target, nil)
	if err == nil {
		if err = conn.ExternalBind(); err == nil {
			n.conn = conn
			n.method = AuthMethodExternal
			return StateBound
		}
		_ = conn.Close()
	}

	fields["error"] = err.Error()
	LogConnectionEvent(n.logger, "authentication_failed", fields)

	if n.config.FallbackURI == "" {
		return n.fail(fmt.Errorf("local EXTERNAL authentication failed and no fallback URI is configured: %w", err))
	}

	n.target = n.config.FallbackURI
	return StateTryFallbackBind
}

// tryFallbackBind secures the transport and performs the credential bind.
func (n *Negotiator) tryFallbackBind(ctx context.Context) State {
	scheme, err := uriScheme(n.target)
	if err != nil {
		return n.fail(err)
	}
	if scheme == schemeLDAPI {
		return n.fail(fmt.Errorf("fallback URI %q must use ldap or ldaps", n.target))
	}

	host := uriHost(n.target)
	tlsConfig, err := buildTLSConfig(n.config, host)
	if err != nil {
		return n.fail(err)
	}

	LogConnectionEvent(n.logger, "connection_attempt", map[string]any{
		"uri":   n.target,
		"state": StateTryFallbackBind.String(),
	})

	var dialTLS *tls.Config
	if scheme == schemeLDAPS {
		dialTLS = tlsConfig
	}

	conn, err := n.dial(ctx, n.target, dialTLS)
	if err != nil {
		return n.fail(err)
	}

	if scheme == schemeLDAP {
		if err := conn.StartTLS(tlsConfig); err != nil {
			_ = conn.Close()
			LogConnectionEvent(n.logger, "starttls_failed", map[string]any{"uri": n.target, "error": err.Error()})
			return n.fail(fmt.Errorf("StartTLS rejected: %w", err))
		}
	}

	method, err := n.bind(conn, host)
	if err != nil {
		_ = conn.Close()
		return n.fail(err)
	}

	n.conn = conn
	n.method = method
	return StateBound
}

// bind authenticates a secured connection.
func (n *Negotiator) bind(conn Conn, host string) (AuthMethod, error) {
	switch {
	case n.config.UsesKerberos():
		if err := performKerberosBind(conn, n.config, host, n.logger); err != nil {
			return AuthMethodNone, err
		}
		return AuthMethodKerberos, nil

	case n.config.HasSimpleCredentials():
		if err := conn.Bind(n.config.BindDN, n.config.BindPassword); err != nil {
			LogLDAPError(n.logger, "simple_bind", err, map[string]any{"bind_dn": n.config.BindDN})
			return AuthMethodNone, WrapError("bind", n.config.BindDN, err)
		}
		return AuthMethodSimpleBind, nil

	case n.config.ReadOnly:
		if err := conn.UnauthenticatedBind(""); err != nil {
			return AuthMethodNone, WrapError("anonymous_bind", "", err)
		}
		n.logger.Warn("No credentials configured, using anonymous bind for read-only run", nil)
		return AuthMethodAnonymous, nil

	default:
		return AuthMethodNone, ErrMissingCredentials
	}
}

func (n *Negotiator) dial(ctx context.Context, uri string, tlsConfig *tls.Config) (Conn, error) {
	var conn Conn
	err := withRetry(ctx, n.config, n.logger, func() error {
		var dialErr error
		conn, dialErr = n.dialer.Dial(ctx, uri, tlsConfig)
		return dialErr
	})
	return conn, err
}

func (n *Negotiator) fail(err error) State {
	n.err = &NegotiationError{State: n.state, URI: n.target, Err: err}
	return StateFailed
}

func uriScheme(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid LDAP URI %q: %w", uri, err)
	}

	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case schemeLDAPI, schemeLDAP, schemeLDAPS:
		return scheme, nil
	default:
		return "", fmt.Errorf("unsupported LDAP URI scheme %q (valid: ldapi, ldap, ldaps)", u.Scheme)
	}
}

func uriHost(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// ValidateURI checks that uri uses a supported scheme.
func ValidateURI(uri string) error {
	_, err := uriScheme(uri)
	return err
}
