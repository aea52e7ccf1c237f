package executor_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/executor"
)

func TestRunCapturesOutput(t *testing.T) {
	r := executor.NewLocal()

	result, err := r.Run(context.Background(), executor.Command{
		Program: "sh",
		Args:    []string{"-c", "echo out && echo err >&2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "out\n", result.Stdout)
	assert.Equal(t, "err\n", result.Stderr)
	assert.Equal(t, 0, result.ExitCode)
}

func TestRunStreamsOutput(t *testing.T) {
	var live bytes.Buffer
	r := executor.NewLocal(executor.WithOutput(&live, nil))

	result, err := r.Run(context.Background(), executor.Command{Program: "echo", Args: []string{"hello"}})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", live.String())
	assert.Equal(t, "hello\n", result.Stdout)
}

func TestRunNonZeroExit(t *testing.T) {
	r := executor.NewLocal()

	result, err := r.Run(context.Background(), executor.Command{
		Program: "sh",
		Args:    []string{"-c", "echo first >&2; echo boom >&2; exit 3"},
	})
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, 3, executor.ExitCode(err))

	var exitErr *executor.ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, "sh exited with code 3: boom", exitErr.Error())
}

func TestRunMissingProgram(t *testing.T) {
	r := executor.NewLocal()

	_, err := r.Run(context.Background(), executor.Command{Program: "definitely-not-a-real-binary-xyz"})
	require.Error(t, err)
	assert.Equal(t, -1, executor.ExitCode(err))

	_, err = r.Run(context.Background(), executor.Command{})
	assert.Error(t, err)
}

func TestRunEnvironmentAndDir(t *testing.T) {
	r := executor.NewLocal(executor.WithBaseEnv([]string{"PATH=/usr/bin:/bin", "BASE=1"}))

	result, err := r.Run(context.Background(), executor.Command{
		Program: "sh",
		Args:    []string{"-c", `echo "$BASE $CUSTOM" && pwd`},
		Dir:     "/tmp",
		Env:     map[string]string{"CUSTOM": "value"},
	})
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(result.Stdout), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "1 value", lines[0])
	assert.Contains(t, lines[1], "tmp")
}

func TestRunStdin(t *testing.T) {
	r := executor.NewLocal()

	result, err := r.Run(context.Background(), executor.Command{
		Program: "cat",
		Stdin:   strings.NewReader("from stdin"),
	})
	require.NoError(t, err)
	assert.Equal(t, "from stdin", result.Stdout)
}

func TestRunRetries(t *testing.T) {
	dir := t.TempDir()
	r := executor.NewLocal(executor.WithRetry(2, 10*time.Millisecond))

	// Succeeds on the third attempt.
	script := `echo x >> attempts; [ $(wc -l < attempts) -ge 3 ]`
	_, err := r.Run(context.Background(), executor.Command{Program: "sh", Args: []string{"-c", script}, Dir: dir})
	require.NoError(t, err)

	noRetry := executor.NewLocal(
		executor.WithRetry(5, 10*time.Millisecond),
		executor.WithRetryCondition(func(error) bool { return false }),
	)
	start := time.Now()
	_, err = noRetry.Run(context.Background(), executor.Command{Program: "sh", Args: []string{"-c", "exit 1"}})
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "rejected errors are not retried")
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := executor.NewLocal().Run(ctx, executor.Command{Program: "sleep", Args: []string{"5"}})
	assert.Error(t, err)
}

func TestRunnerFunc(t *testing.T) {
	var got executor.Command
	var r executor.Runner = executor.RunnerFunc(func(_ context.Context, cmd executor.Command) (*executor.Result, error) {
		got = cmd
		return &executor.Result{Stdout: "ok"}, nil
	})

	result, err := r.Run(context.Background(), executor.Command{Program: "cdk", Args: []string{"synth"}})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Stdout)
	assert.Equal(t, "cdk synth", got.String())
}
