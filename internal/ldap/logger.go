package ldap

import (
	"errors"
	"maps"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/groupsync/internal/logging"
)

// LogLDAPError logs LDAP-specific error information.
func LogLDAPError(logger logging.Logger, operation string, err error, fields map[string]any) {
	entry := make(map[string]any, len(fields)+5)
	maps.Copy(entry, fields)
	entry["operation"] = operation
	entry["error"] = err.Error()

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		entry["ldap_result_code"] = resultErr.ResultCode
		if resultErr.MatchedDN != "" {
			entry["ldap_matched_dn"] = resultErr.MatchedDN
		}
		if resultErr.Err != nil {
			entry["ldap_diagnostic_message"] = resultErr.Err.Error()
		}
	}

	logger.Error("LDAP operation failed", entry)
}

// LogConnectionEvent logs negotiation and connection events.
func LogConnectionEvent(logger logging.Logger, event string, fields map[string]any) {
	entry := make(map[string]any, len(fields)+1)
	maps.Copy(entry, fields)
	entry["event"] = event

	switch event {
	case "connection_established", "authentication_success":
		logger.Info("Connection event", entry)
	case "negotiation_failed":
		logger.Error("Connection event", entry)
	case "connection_failed", "authentication_failed", "starttls_failed":
		logger.Warn("Connection event", entry)
	default:
		logger.Debug("Connection event", entry)
	}
}
