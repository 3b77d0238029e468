package runner

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"vidcutapi/config"
	"vidcutapi/progress"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRunner(t *testing.T, timeout time.Duration) *Runner {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	cfg := &config.Config{
		DownloadCmd:        "sh",
		CutCmd:             "sh",
		ProcessTimeout:     timeout,
		OutputCaptureLimit: 1 << 20,
		TempDir:            t.TempDir(),
	}
	r, err := NewRunner(cfg)
	require.NoError(t, err)
	return r
}

func shell(script string) Command {
	return Command{Name: "test", Path: "sh", Args: []string{"-c", script}}
}

func TestRunner_Success(t *testing.T) {
	r := testRunner(t, 10*time.Second)

	var events []progress.Event
	var lines []string
	out := r.Run(context.Background(), shell(`
echo 'starting'
echo '[download] {"status":"downloading","percent":10}'
echo '{"status":"downloading","percent":55.5}'
echo '{"status":"finished","filename":"/tmp/clip.mp4"}'
`), func(ev progress.Event) { events = append(events, ev) }, func(l string) { lines = append(lines, l) })

	require.True(t, out.Succeeded(), "outcome: %+v", out)
	assert.Equal(t, 0, out.ExitCode)
	assert.Len(t, lines, 4)
	require.Len(t, events, 3)
	assert.Equal(t, 10.0, events[0].Percent)
	assert.Equal(t, 55.5, events[1].Percent)
	assert.Equal(t, progress.KindFinished, events[2].Kind)
	assert.Equal(t, "/tmp/clip.mp4", events[2].Path)
	assert.Contains(t, out.Stdout, "starting")
}

func TestRunner_FailureCapturesStderr(t *testing.T) {
	r := testRunner(t, 10*time.Second)

	out := r.Run(context.Background(), shell(`echo 'boom: 403' >&2; exit 3`), nil, nil)

	assert.Equal(t, OutcomeFailure, out.Kind)
	assert.Equal(t, 3, out.ExitCode)
	assert.Contains(t, out.Stderr, "boom: 403")
	assert.Empty(t, out.Stdout)
}

func TestRunner_StderrIsNotParsed(t *testing.T) {
	r := testRunner(t, 10*time.Second)

	called := false
	out := r.Run(context.Background(), shell(`echo '{"status":"downloading","percent":50}' >&2`),
		func(progress.Event) { called = true }, nil)

	assert.True(t, out.Succeeded())
	assert.False(t, called)
}

func TestRunner_Timeout(t *testing.T) {
	r := testRunner(t, 300*time.Millisecond)

	started := time.Now()
	out := r.Run(context.Background(), shell(`sleep 30 & sleep 30; wait`), nil, nil)

	assert.Equal(t, OutcomeTimedOut, out.Kind)
	assert.True(t, errors.Is(out.Err, ErrTimedOut))
	assert.Less(t, time.Since(started), 10*time.Second)
}

func TestRunner_LaunchError(t *testing.T) {
	r := testRunner(t, 10*time.Second)

	out := r.Run(context.Background(), Command{Name: "missing", Path: "/nonexistent/definitely-not-here"}, nil, nil)

	assert.Equal(t, OutcomeLaunchError, out.Kind)
	assert.True(t, errors.Is(out.Err, ErrLaunch))
	assert.False(t, out.Succeeded())
}

func TestRunner_ParentCancelIsFailure(t *testing.T) {
	r := testRunner(t, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()
	out := r.Run(ctx, shell(`sleep 30`), nil, nil)

	assert.Equal(t, OutcomeFailure, out.Kind)
	assert.True(t, errors.Is(out.Err, context.Canceled))
}

func TestRunner_EnvIsPassed(t *testing.T) {
	r := testRunner(t, 10*time.Second)

	cmd := shell(`echo "secret=$VIDCUT_TEST_SECRET"`)
	cmd.Env = []string{"VIDCUT_TEST_SECRET=s3cr3t"}
	out := r.Run(context.Background(), cmd, nil, nil)

	require.True(t, out.Succeeded())
	assert.Contains(t, out.Stdout, "secret=s3cr3t")
}

func TestCappedBuffer(t *testing.T) {
	b := newCappedBuffer(8)
	b.WriteLine("12345")
	b.WriteLine("67890")

	s := b.String()
	assert.True(t, strings.HasPrefix(s, "12345\n67"))
	assert.True(t, strings.HasSuffix(s, truncatedMarker))
}

func TestNewRunner_RejectsShellTemplate(t *testing.T) {
	_, err := NewRunner(&config.Config{DownloadCmd: "python dl.py | tee log", CutCmd: "python cut.py"})
	assert.Error(t, err)
}
