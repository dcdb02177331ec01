package container

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"testing"
	"time"

	"github.com/fgeck/worldkeeper/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockExecutor is a mock implementation of CommandExecutor for testing.
type mockExecutor struct {
	executeFunc func(ctx context.Context, name string, args ...string) ([]byte, error)
	calls       [][]string
}

func (m *mockExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.calls = append(m.calls, append([]string{name}, args...))
	if m.executeFunc != nil {
		return m.executeFunc(ctx, name, args...)
	}
	return nil, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testRuntime() models.RuntimeConfig {
	return models.RuntimeConfig{Binary: "docker", ConsoleCommand: "rcon-cli"}
}

func TestConsole_Delivered(t *testing.T) {
	executor := &mockExecutor{}
	svc := NewWithExecutor(testLogger(), testRuntime(), executor)

	result := svc.Console(context.Background(), "mc", "say hello")

	assert.True(t, result.Delivered())
	assert.NoError(t, result.Error)
	require.Len(t, executor.calls, 1)
	assert.Equal(t, []string{"docker", "exec", "mc", "rcon-cli", "say hello"}, executor.calls[0])
}

func TestConsole_Rejected(t *testing.T) {
	executor := &mockExecutor{
		executeFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return []byte("Failed to connect to RCON"), errors.New("exit status 1")
		},
	}
	svc := NewWithExecutor(testLogger(), testRuntime(), executor)

	result := svc.Console(context.Background(), "mc", "say hello")

	assert.Equal(t, models.StatusRejected, result.Status)
	assert.Error(t, result.Error)
	assert.Equal(t, "Failed to connect to RCON", result.Output)
}

func TestConsole_ContainerNotRunning(t *testing.T) {
	executor := &mockExecutor{
		executeFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return []byte("Error response from daemon: Container abc is not running"), errors.New("exit status 1")
		},
	}
	svc := NewWithExecutor(testLogger(), testRuntime(), executor)

	result := svc.Console(context.Background(), "mc", "list")

	assert.Equal(t, models.StatusUnreachable, result.Status)
}

func TestConsole_RuntimeMissing(t *testing.T) {
	executor := &mockExecutor{
		executeFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return nil, &exec.Error{Name: name, Err: exec.ErrNotFound}
		},
	}
	svc := NewWithExecutor(testLogger(), testRuntime(), executor)

	result := svc.Console(context.Background(), "mc", "list")

	assert.Equal(t, models.StatusUnreachable, result.Status)
	assert.Equal(t, "unreachable", result.Status.String())
}

func TestStop_AnnouncesThenStops(t *testing.T) {
	executor := &mockExecutor{}
	svc := NewWithExecutor(testLogger(), testRuntime(), executor)

	result := svc.Stop(context.Background(), "mc")

	assert.True(t, result.Delivered())
	require.Len(t, executor.calls, 2)
	assert.Equal(t, "say "+ShutdownNotice, executor.calls[0][4])
	assert.Equal(t, "stop", executor.calls[1][4])
}

func TestStop_ResultReflectsStopCommand(t *testing.T) {
	executor := &mockExecutor{
		executeFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			if args[len(args)-1] == "stop" {
				return []byte("rcon error"), errors.New("exit status 1")
			}
			return nil, nil
		},
	}
	svc := NewWithExecutor(testLogger(), testRuntime(), executor)

	result := svc.Stop(context.Background(), "mc")

	assert.Equal(t, models.StatusRejected, result.Status)
}

func TestStart(t *testing.T) {
	executor := &mockExecutor{}
	svc := NewWithExecutor(testLogger(), testRuntime(), executor)

	result := svc.Start(context.Background(), "mc")

	assert.True(t, result.Delivered())
	assert.Equal(t, []string{"docker", "start", "mc"}, executor.calls[0])
}

func TestStart_Failure(t *testing.T) {
	executor := &mockExecutor{
		executeFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return []byte("Error: No such container: mc"), errors.New("exit status 1")
		},
	}
	svc := NewWithExecutor(testLogger(), testRuntime(), executor)

	result := svc.Start(context.Background(), "mc")

	assert.Equal(t, models.StatusUnreachable, result.Status)
	assert.Contains(t, result.Error.Error(), "docker start")
}

func TestCopyFrom(t *testing.T) {
	executor := &mockExecutor{}
	svc := NewWithExecutor(testLogger(), testRuntime(), executor)

	err := svc.CopyFrom(context.Background(), "mc", "/data/world", "/backups/stage/world")

	require.NoError(t, err)
	assert.Equal(t, []string{"docker", "cp", "mc:/data/world", "/backups/stage/world"}, executor.calls[0])
}

func TestCopyFrom_Error(t *testing.T) {
	executor := &mockExecutor{
		executeFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return []byte("Could not find the file /data/world"), errors.New("exit status 1")
		},
	}
	svc := NewWithExecutor(testLogger(), testRuntime(), executor)

	err := svc.CopyFrom(context.Background(), "mc", "/data/world", "/tmp/world")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "Could not find the file")
}

func TestIsRunning(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    bool
		wantErr bool
	}{
		{name: "running", output: "true\n", want: true},
		{name: "stopped", output: "false\n", want: false},
		{name: "garbage", output: "maybe", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executor := &mockExecutor{
				executeFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
					return []byte(tt.output), nil
				},
			}
			svc := NewWithExecutor(testLogger(), testRuntime(), executor)

			running, err := svc.IsRunning(context.Background(), "mc")

			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, running)
		})
	}
}

func TestWaitStopped_EventuallyStops(t *testing.T) {
	polls := 0
	executor := &mockExecutor{
		executeFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			polls++
			if polls < 3 {
				return []byte("true"), nil
			}
			return []byte("false"), nil
		},
	}
	svc := NewWithExecutor(testLogger(), testRuntime(), executor)

	err := svc.WaitStopped(context.Background(), "mc", time.Second, time.Millisecond)

	require.NoError(t, err)
	assert.Equal(t, 3, polls)
}

func TestWaitStopped_Timeout(t *testing.T) {
	executor := &mockExecutor{
		executeFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return []byte("true"), nil
		},
	}
	svc := NewWithExecutor(testLogger(), testRuntime(), executor)

	err := svc.WaitStopped(context.Background(), "mc", 20*time.Millisecond, time.Millisecond)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "did not stop")
}

func TestNew_Defaults(t *testing.T) {
	svc := New(testLogger(), models.RuntimeConfig{})

	assert.Equal(t, "docker", svc.binary)
	assert.Equal(t, "rcon-cli", svc.consoleCommand)
}
