package ldap

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	krb5client "github.com/jcmturner/gokrb5/v8/client"

	"github.com/isometry/groupsync/internal/logging"
)

const defaultKrb5Conf = "/etc/krb5.conf"

// performKerberosBind performs a GSSAPI bind on a secured connection.
func performKerberosBind(conn Conn, cfg *ConnectionConfig, host string, logger logging.Logger) error {
	principal, realm := splitPrincipal(cfg.KerberosPrincipal, cfg.KerberosRealm)

	gssapiClient, err := createGSSAPIClient(cfg, principal, realm, logger)
	if err != nil {
		return fmt.Errorf("failed to create GSSAPI client: %w", err)
	}
	defer func() {
		_ = gssapiClient.DeleteSecContext()
	}()

	spn, err := buildServicePrincipal(cfg, host)
	if err != nil {
		return fmt.Errorf("failed to build service principal: %w", err)
	}

	logger.Debug("Performing GSSAPI bind", map[string]any{
		"principal": principal,
		"realm":     realm,
		"spn":       spn,
	})

	if err := conn.GSSAPIBind(gssapiClient, spn, ""); err != nil {
		return WrapError("gssapi_bind", "", err)
	}

	return nil
}

// createGSSAPIClient creates a GSSAPI client.
// Priority order: credential cache, keytab, password.
func createGSSAPIClient(cfg *ConnectionConfig, principal, realm string, logger logging.Logger) (ldap.GSSAPIClient, error) {
	krb5confPath := cfg.KerberosConfig
	if krb5confPath == "" {
		krb5confPath = defaultKrb5Conf
	}

	if !fileExists(krb5confPath) {
		return nil, fmt.Errorf("kerberos configuration file not found at %s", krb5confPath)
	}

	if cfg.KerberosCCache != "" && fileExists(cfg.KerberosCCache) {
		return gssapi.NewClientFromCCache(cfg.KerberosCCache, krb5confPath, krb5client.DisablePAFXFAST(true))
	}

	if defaultCCache := getDefaultCCachePath(); fileExists(defaultCCache) {
		logger.Debug("Using default credential cache", map[string]any{"ccache": defaultCCache})
		return gssapi.NewClientFromCCache(defaultCCache, krb5confPath, krb5client.DisablePAFXFAST(true))
	}

	if principal == "" {
		return nil, fmt.Errorf("kerberos principal is required without a credential cache")
	}

	if cfg.KerberosKeytab != "" && fileExists(cfg.KerberosKeytab) {
		return gssapi.NewClientWithKeytab(principal, realm, cfg.KerberosKeytab, krb5confPath, krb5client.DisablePAFXFAST(true))
	}

	if defaultKeytab := getDefaultKeytabPath(); fileExists(defaultKeytab) {
		return gssapi.NewClientWithKeytab(principal, realm, defaultKeytab, krb5confPath, krb5client.DisablePAFXFAST(true))
	}

	if cfg.BindPassword != "" {
		return gssapi.NewClientWithPassword(principal, realm, cfg.BindPassword, krb5confPath, krb5client.DisablePAFXFAST(true))
	}

	return nil, fmt.Errorf("no suitable credentials found for Kerberos authentication")
}

// buildServicePrincipal returns the explicit SPN or "ldap/<host>".
func buildServicePrincipal(cfg *ConnectionConfig, host string) (string, error) {
	if cfg.KerberosSPN != "" {
		return cfg.KerberosSPN, nil
	}

	if host == "" {
		return "", fmt.Errorf("hostname is required for service principal")
	}

	return "ldap/" + host, nil
}

// splitPrincipal separates "user@REALM"; an explicit realm wins.
func splitPrincipal(principal, realm string) (string, string) {
	if name, suffix, ok := strings.Cut(principal, "@"); ok {
		if realm == "" {
			realm = suffix
		}
		return name, realm
	}
	return principal, realm
}

// getDefaultCCachePath returns the default credential cache location.
func getDefaultCCachePath() string {
	if ccache := os.Getenv("KRB5CCNAME"); ccache != "" {
		return strings.TrimPrefix(ccache, "FILE:")
	}
	return fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
}

// getDefaultKeytabPath returns the default keytab location.
func getDefaultKeytabPath() string {
	if keytab := os.Getenv("KRB5_KTNAME"); keytab != "" {
		return strings.TrimPrefix(keytab, "FILE:")
	}
	return "/etc/krb5.keytab"
}

// fileExists checks if a file exists and is readable.
func fileExists(path string) bool {
	if path == "" {
		return false
	}
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	_ = file.Close()
	return true
}
