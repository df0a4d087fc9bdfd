package ldap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/isometry/groupsync/internal/logging"
)

// Resolver looks up DNS SRV records. *net.Resolver satisfies it.
type Resolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

// ServerInfo is a directory server found through DNS.
type ServerInfo struct {
	Host     string
	Port     int
	UseTLS   bool
	Priority int
	Weight   int
	Source   string // "srv" or "fallback"
}

// URI renders the server as an ldap:// or ldaps:// URI.
func (s *ServerInfo) URI() string {
	scheme := "ldap"
	if s.UseTLS {
		scheme = "ldaps"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, s.Host, s.Port)
}

// SRVDiscovery finds directory servers for a DNS domain.
type SRVDiscovery struct {
	resolver Resolver
	logger   logging.Logger
}

// NewSRVDiscovery creates a discovery using resolver, or the system resolver
// when nil.
func NewSRVDiscovery(resolver Resolver, logger logging.Logger) *SRVDiscovery {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &SRVDiscovery{resolver: resolver, logger: logger}
}

// DiscoverServers returns servers for domain in preference order:
// _ldaps._tcp records, then _ldap._tcp records. When neither exists the
// domain itself is returned on the standard ports.
func (d *SRVDiscovery) DiscoverServers(ctx context.Context, domain string) ([]*ServerInfo, error) {
	if domain == "" {
		return nil, errors.New("domain cannot be empty")
	}

	start := time.Now()
	services := []struct {
		name   string
		useTLS bool
	}{
		{"_ldaps._tcp." + domain, true},
		{"_ldap._tcp." + domain, false},
	}

	var servers []*ServerInfo
	for _, service := range services {
		found, err := d.lookupSRV(ctx, service.name, service.useTLS)
		if err != nil {
			d.logger.Debug("SRV lookup failed", map[string]any{
				"service": service.name,
				"error":   err.Error(),
			})
			continue
		}
		servers = append(servers, found...)

		// ldaps servers win outright
		if service.useTLS {
			break
		}
	}

	if len(servers) == 0 {
		d.logger.Warn("No SRV records found, using domain name", map[string]any{"domain": domain})
		return fallbackServers(domain), nil
	}

	sortServers(servers)

	d.logger.Debug("Server discovery completed", map[string]any{
		"domain":       domain,
		"server_count": len(servers),
		"duration":     time.Since(start).String(),
	})
	return servers, nil
}

// DiscoverFallbackURI returns the URI of the preferred server for domain.
func (d *SRVDiscovery) DiscoverFallbackURI(ctx context.Context, domain string) (string, error) {
	servers, err := d.DiscoverServers(ctx, domain)
	if err != nil {
		return "", err
	}
	return servers[0].URI(), nil
}

func (d *SRVDiscovery) lookupSRV(ctx context.Context, service string, useTLS bool) ([]*ServerInfo, error) {
	_, records, err := d.resolver.LookupSRV(ctx, "", "", service)
	if err != nil {
		return nil, fmt.Errorf("SRV lookup failed for %s: %w", service, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no SRV records found for %s", service)
	}

	servers := make([]*ServerInfo, 0, len(records))
	for _, srv := range records {
		servers = append(servers, &ServerInfo{
			Host:     strings.TrimSuffix(srv.Target, "."),
			Port:     int(srv.Port),
			UseTLS:   useTLS,
			Priority: int(srv.Priority),
			Weight:   int(srv.Weight),
			Source:   "srv",
		})
	}
	return servers, nil
}

func fallbackServers(domain string) []*ServerInfo {
	return []*ServerInfo{
		{Host: domain, Port: 636, UseTLS: true, Priority: 0, Weight: 100, Source: "fallback"},
		{Host: domain, Port: 389, UseTLS: false, Priority: 1, Weight: 100, Source: "fallback"},
	}
}

// sortServers orders by ascending priority, then descending weight (RFC 2782).
func sortServers(servers []*ServerInfo) {
	slices.SortStableFunc(servers, func(a, b *ServerInfo) int {
		if a.Priority != b.Priority {
			return a.Priority - b.Priority
		}
		return b.Weight - a.Weight
	})
}
