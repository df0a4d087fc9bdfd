package ldap

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/groupsync/internal/logging"
)

const (
	// DefaultPageSize is the paging control size used for subtree searches.
	DefaultPageSize = 1000

	maxPagesPerSearch = 1000
)

// Session is an authenticated directory connection produced by a Negotiator.
type Session struct {
	conn       Conn
	config     *ConnectionConfig
	logger     logging.Logger
	uri        string
	authMethod AuthMethod
}

var _ Client = (*Session)(nil)

// NewSession wraps an already bound connection.
func NewSession(conn Conn, config *ConnectionConfig, logger logging.Logger, uri string, method AuthMethod) *Session {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Session{
		conn:       conn,
		config:     config,
		logger:     logger,
		uri:        uri,
		authMethod: method,
	}
}

// URI returns the URI the session is bound to.
func (s *Session) URI() string { return s.uri }

// AuthMethod returns how the session authenticated.
func (s *Session) AuthMethod() AuthMethod { return s.authMethod }

// Close releases the underlying connection.
func (s *Session) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// Search performs a single LDAP search.
func (s *Session) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if req == nil {
		return nil, fmt.Errorf("search request cannot be nil")
	}

	fields := map[string]any{
		"base_dn":    req.BaseDN,
		"scope":      req.Scope.String(),
		"filter":     req.Filter,
		"attributes": req.Attributes,
	}

	s.logger.Debug("Starting search", fields)

	var raw *ldap.SearchResult
	err := s.withRetry(ctx, func() error {
		var searchErr error
		raw, searchErr = s.conn.Search(toLDAPSearch(req, req.SizeLimit, nil))
		return searchErr
	})
	if err != nil {
		fields["error"] = err.Error()
		s.logger.Debug("Search failed", fields)
		return nil, WrapError("search", req.BaseDN, err)
	}

	fields["entries_found"] = len(raw.Entries)
	s.logger.Trace("Search completed", fields)

	return &SearchResult{Entries: raw.Entries, Total: len(raw.Entries)}, nil
}

// SearchWithPaging performs an LDAP search with automatic pagination.
func (s *Session) SearchWithPaging(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if req == nil {
		return nil, fmt.Errorf("search request cannot be nil")
	}

	start := time.Now()
	fields := map[string]any{
		"base_dn": req.BaseDN,
		"filter":  req.Filter,
		"scope":   req.Scope.String(),
	}

	s.logger.Debug("Starting paged search", fields)

	var allEntries []*ldap.Entry
	pagingControl := ldap.NewControlPaging(DefaultPageSize)

	for pageNum := 1; ; pageNum++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if pageNum > maxPagesPerSearch {
			return nil, NewLDAPError("paged_search", req.BaseDN,
				fmt.Errorf("exceeded %d pages after %d entries", maxPagesPerSearch, len(allEntries)))
		}

		ldapReq := toLDAPSearch(req, 0, []ldap.Control{pagingControl})

		var raw *ldap.SearchResult
		err := s.withRetry(ctx, func() error {
			var searchErr error
			raw, searchErr = s.conn.Search(ldapReq)
			return searchErr
		})
		if err != nil {
			LogLDAPError(s.logger, "paged_search", err, map[string]any{
				"base_dn":     req.BaseDN,
				"page_number": pageNum,
			})
			return nil, WrapError("paged_search", req.BaseDN, err)
		}

		allEntries = append(allEntries, raw.Entries...)

		s.logger.Trace("Completed search page", map[string]any{
			"page_number":     pageNum,
			"entries_in_page": len(raw.Entries),
			"total_entries":   len(allEntries),
		})

		responseControl, ok := ldap.FindControl(raw.Controls, ldap.ControlTypePaging).(*ldap.ControlPaging)
		if !ok || len(responseControl.Cookie) == 0 {
			break
		}
		pagingControl.SetCookie(responseControl.Cookie)
	}

	fields["total_entries"] = len(allEntries)
	fields["duration_ms"] = time.Since(start).Milliseconds()
	s.logger.Debug("Paged search completed", fields)

	return &SearchResult{Entries: allEntries, Total: len(allEntries)}, nil
}

// Add creates a new LDAP entry.
func (s *Session) Add(ctx context.Context, req *AddRequest) error {
	if req == nil {
		return fmt.Errorf("add request cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ldapReq := ldap.NewAddRequest(req.DN, nil)
	for _, attr := range sortedKeys(req.Attributes) {
		ldapReq.Attribute(attr, req.Attributes[attr])
	}

	err := s.withRetry(ctx, func() error {
		return s.conn.Add(ldapReq)
	})
	return WrapError("add", req.DN, err)
}

// Modify modifies an existing LDAP entry.
func (s *Session) Modify(ctx context.Context, req *ModifyRequest) error {
	if req == nil {
		return fmt.Errorf("modify request cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ldapReq := ldap.NewModifyRequest(req.DN, nil)
	for _, attr := range sortedKeys(req.AddAttributes) {
		ldapReq.Add(attr, req.AddAttributes[attr])
	}
	for _, attr := range sortedKeys(req.ReplaceAttributes) {
		ldapReq.Replace(attr, req.ReplaceAttributes[attr])
	}
	for _, attr := range sortedKeys(req.DeleteValues) {
		ldapReq.Delete(attr, req.DeleteValues[attr])
	}

	err := s.withRetry(ctx, func() error {
		return s.conn.Modify(ldapReq)
	})
	return WrapError("modify", req.DN, err)
}

func (s *Session) withRetry(ctx context.Context, operation func() error) error {
	return withRetry(ctx, s.config, s.logger, operation)
}

// withRetry executes an operation with exponential backoff on transient errors.
func withRetry(ctx context.Context, config *ConnectionConfig, logger logging.Logger, operation func() error) error {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			logger.Debug("Retrying operation", map[string]any{
				"attempt":    attempt,
				"max_retry":  config.MaxRetries,
				"backoff_ms": backoff.Milliseconds(),
				"last_error": lastErr.Error(),
			})
		}

		err := operation()
		if err == nil {
			if attempt > 0 {
				logger.Info("Operation succeeded after retries", map[string]any{
					"total_attempts": attempt + 1,
				})
			}
			return nil
		}

		lastErr = err

		if !IsRetryableError(err) {
			return err
		}

		if attempt == config.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			logger.Warn("Operation cancelled during retry", map[string]any{
				"context_error": ctx.Err().Error(),
				"attempt":       attempt + 1,
			})
			return errors.Join(ctx.Err(), lastErr)
		case <-time.After(backoff):
			backoff = min(time.Duration(float64(backoff)*config.BackoffFactor), config.MaxBackoff)
		}
	}

	if config.MaxRetries == 0 {
		return lastErr
	}

	logger.Error("Operation failed after all retries exhausted", map[string]any{
		"total_attempts": config.MaxRetries + 1,
		"final_error":    lastErr.Error(),
	})

	return NewConnectionError("operation failed after retries", false, lastErr)
}

func toLDAPSearch(req *SearchRequest, sizeLimit int, controls []ldap.Control) *ldap.SearchRequest {
	return ldap.NewSearchRequest(
		req.BaseDN,
		int(req.Scope),
		ldap.NeverDerefAliases,
		sizeLimit,
		int(req.TimeLimit.Seconds()),
		false,
		req.Filter,
		req.Attributes,
		controls,
	)
}

func sortedKeys(m map[string][]string) []string {
	return slices.Sorted(maps.Keys(m))
}
