package groupmap

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/isometry/groupsync/internal/logging"
)

// Mapping is one line of "net groupmap list".
type Mapping struct {
	NTGroup   string
	SID       string
	UnixGroup string
}

var listLine = regexp.MustCompile(`^(.+?) \((S-[0-9-]+)\) -> (.+)$`)

// ParseList parses the output of "net groupmap list". Lines that do not
// look like a mapping are ignored.
func ParseList(output string) []Mapping {
	var mappings []Mapping
	for _, line := range strings.Split(output, "\n") {
		m := listLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		mappings = append(mappings, Mapping{NTGroup: m[1], SID: m[2], UnixGroup: m[3]})
	}
	return mappings
}

// Mapper keeps Samba domain group mappings in step with POSIX groups.
type Mapper struct {
	runner Runner
	logger logging.Logger

	mu     sync.Mutex
	mapped map[string]bool // unix group names, loaded on first use
}

// NewMapper creates a mapper using runner.
func NewMapper(runner Runner, logger logging.Logger) *Mapper {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Mapper{runner: runner, logger: logger}
}

// List returns the current mappings.
func (m *Mapper) List(ctx context.Context) ([]Mapping, error) {
	resp, err := m.runner.Run(ctx, Request{Args: []string{"groupmap", "list"}})
	if err != nil {
		return nil, fmt.Errorf("list group mappings: %w", err)
	}
	return ParseList(resp.Stdout), nil
}

// Ensure maps group as a domain group unless a mapping for it exists. It
// reports whether a mapping was added, or would be in a dry run.
func (m *Mapper) Ensure(ctx context.Context, group string, dryRun bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mapped == nil {
		mappings, err := m.List(ctx)
		if err != nil {
			return false, err
		}
		m.mapped = make(map[string]bool, len(mappings))
		for _, mapping := range mappings {
			m.mapped[mapping.UnixGroup] = true
		}
	}

	if m.mapped[group] {
		return false, nil
	}

	fields := map[string]any{"group": group}
	if dryRun {
		m.logger.Info("Would add group mapping", fields)
		return true, nil
	}

	_, err := m.runner.Run(ctx, Request{Args: []string{
		"groupmap", "add",
		"ntgroup=" + group,
		"unixgroup=" + group,
		"type=domain",
	}})
	if err != nil {
		return false, fmt.Errorf("add group mapping for %s: %w", group, err)
	}

	m.mapped[group] = true
	m.logger.Info("Added group mapping", fields)
	return true, nil
}
