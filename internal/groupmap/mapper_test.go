package groupmap

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/isometry/groupsync/internal/logging"
)

// MockRunner is a mock implementation of Runner.
type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, req Request) (Response, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(Response), args.Error(1)
}

const listOutput = `Domain Admins (S-1-5-21-3623811015-3361044348-30300820-512) -> domadm
adm-cls (S-1-5-21-3623811015-3361044348-30300820-1001) -> adm-cls
Print Operators (S-1-5-32-550) -> -1
garbage line
`

var listRequest = Request{Args: []string{"groupmap", "list"}}

func addRequest(group string) Request {
	return Request{Args: []string{"groupmap", "add", "ntgroup=" + group, "unixgroup=" + group, "type=domain"}}
}

func TestParseList(t *testing.T) {
	mappings := ParseList(listOutput)
	require.Len(t, mappings, 3)

	assert.Equal(t, Mapping{
		NTGroup:   "Domain Admins",
		SID:       "S-1-5-21-3623811015-3361044348-30300820-512",
		UnixGroup: "domadm",
	}, mappings[0])
	assert.Equal(t, "adm-cls", mappings[1].UnixGroup)
	assert.Equal(t, "-1", mappings[2].UnixGroup)

	assert.Empty(t, ParseList(""))
}

func TestMapper_Ensure(t *testing.T) {
	tests := []struct {
		name      string
		group     string
		dryRun    bool
		addErr    error
		expectAdd bool
		expected  bool
		expectErr bool
	}{
		{
			name:  "already mapped",
			group: "adm-cls",
		},
		{
			name:      "adds mapping",
			group:     "mgr-cls",
			expectAdd: true,
			expected:  true,
		},
		{
			name:     "dry run only reports",
			group:    "mgr-cls",
			dryRun:   true,
			expected: true,
		},
		{
			name:      "add fails",
			group:     "mgr-cls",
			expectAdd: true,
			addErr:    errors.New("exit status 255"),
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &MockRunner{}
			runner.On("Run", mock.Anything, listRequest).Return(Response{Stdout: listOutput}, nil).Once()
			if tt.expectAdd {
				runner.On("Run", mock.Anything, addRequest(tt.group)).Return(Response{}, tt.addErr).Once()
			}

			added, err := NewMapper(runner, nil).Ensure(context.Background(), tt.group, tt.dryRun)
			if tt.expectErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "add group mapping for "+tt.group)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.expected, added)
			runner.AssertExpectations(t)
		})
	}
}

func TestMapper_Ensure_ListsOnce(t *testing.T) {
	runner := &MockRunner{}
	runner.On("Run", mock.Anything, listRequest).Return(Response{Stdout: listOutput}, nil).Once()
	runner.On("Run", mock.Anything, addRequest("mgr-cls")).Return(Response{}, nil).Once()

	logger := logging.NewCaptureLogger()
	mapper := NewMapper(runner, logger)

	added, err := mapper.Ensure(context.Background(), "mgr-cls", false)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = mapper.Ensure(context.Background(), "mgr-cls", false)
	require.NoError(t, err)
	assert.False(t, added)

	runner.AssertExpectations(t)
	assert.True(t, logger.Contains("Added group mapping"))
}

func TestMapper_Ensure_ListFailure(t *testing.T) {
	runner := &MockRunner{}
	runner.On("Run", mock.Anything, listRequest).Return(Response{ExitCode: 255}, errors.New("net: not found")).Once()

	_, err := NewMapper(runner, nil).Ensure(context.Background(), "adm-cls", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list group mappings")
}
