package credential

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"vidcutapi/config"
	"vidcutapi/progress"
	"vidcutapi/runner"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSupervisor struct {
	calls   []runner.Command
	lines   []string
	outcome runner.Outcome
	onRun   func(cmd runner.Command)
}

func (s *stubSupervisor) Run(ctx context.Context, cmd runner.Command, onEvent func(progress.Event), onLine func(string)) runner.Outcome {
	s.calls = append(s.calls, cmd)
	if s.onRun != nil {
		s.onRun(cmd)
	}
	for _, l := range s.lines {
		if onLine != nil {
			onLine(l)
		}
	}
	return s.outcome
}

func TestCommandLogin_PassesSecretInEnv(t *testing.T) {
	sup := &stubSupervisor{
		lines:   []string{`login ok {"cookies":[{"domain":".kwai.com","path":"/","name":"sid","value":"v","secure":true,"expiry":1700000000}]}`},
		outcome: runner.Outcome{Kind: runner.OutcomeSuccess},
	}
	l, err := NewCommandLogin("python login.py", "", time.Minute, sup)
	require.NoError(t, err)

	p, _ := LookupPlatform("kwai")
	cookies, err := l.Login(context.Background(), p, "me", "pw")
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	assert.Equal(t, "sid", cookies[0].Name)
	assert.Equal(t, 1700000000.0, cookies[0].Expiry)

	require.Len(t, sup.calls, 1)
	cmd := sup.calls[0]
	assert.Equal(t, "python", cmd.Path)
	assert.Equal(t, []string{"login.py", "--platform", "kwai", "--username", "me", "--domain", "kwai.com", "--login-url", "https://www.kwai.com/login"}, cmd.Args)
	assert.Equal(t, []string{"VIDCUT_LOGIN_SECRET=pw"}, cmd.Env)
	assert.NotContains(t, cmd.Args, "pw")
	assert.Equal(t, time.Minute, cmd.Timeout)
}

func TestCommandLogin_Failures(t *testing.T) {
	p, _ := LookupPlatform("youtube")

	t.Run("browser missing", func(t *testing.T) {
		sup := &stubSupervisor{}
		l, err := NewCommandLogin("python login.py", "no-such-browser-binary", time.Minute, sup)
		require.NoError(t, err)
		_, err = l.Login(context.Background(), p, "u", "p")
		assert.ErrorIs(t, err, ErrBrowserUnavailable)
		assert.Empty(t, sup.calls)
	})

	t.Run("non-zero exit", func(t *testing.T) {
		sup := &stubSupervisor{outcome: runner.Outcome{Kind: runner.OutcomeFailure, ExitCode: 1, Stderr: "trace\nbad password"}}
		l, err := NewCommandLogin("python login.py", "", time.Minute, sup)
		require.NoError(t, err)
		_, err = l.Login(context.Background(), p, "u", "p")
		assert.ErrorIs(t, err, ErrLoginFailed)
		assert.Contains(t, err.Error(), "bad password")
	})

	t.Run("no cookies reported", func(t *testing.T) {
		sup := &stubSupervisor{lines: []string{"done"}, outcome: runner.Outcome{Kind: runner.OutcomeSuccess}}
		l, err := NewCommandLogin("python login.py", "", time.Minute, sup)
		require.NoError(t, err)
		_, err = l.Login(context.Background(), p, "u", "p")
		assert.ErrorIs(t, err, ErrLoginFailed)
	})

	t.Run("launch error", func(t *testing.T) {
		sup := &stubSupervisor{outcome: runner.Outcome{Kind: runner.OutcomeLaunchError, Err: errors.New("exec: not found")}}
		l, err := NewCommandLogin("python login.py", "", time.Minute, sup)
		require.NoError(t, err)
		_, err = l.Login(context.Background(), p, "u", "p")
		assert.ErrorIs(t, err, ErrBrowserUnavailable)
	})
}

func TestCommandLogin_WithRealProcess(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "login.sh")
	require.NoError(t, os.WriteFile(script, []byte(`#!/bin/sh
[ "$VIDCUT_LOGIN_SECRET" = "pw" ] || { echo "wrong secret" >&2; exit 2; }
echo "navigating..."
echo '{"cookies":[{"domain":".pinterest.com","path":"/","name":"_pinterest_sess","value":"z","secure":true,"httpOnly":true}]}'
`), 0o755))

	r, err := runner.NewRunner(&config.Config{DownloadCmd: "sh", CutCmd: "sh", ProcessTimeout: 10 * time.Second})
	require.NoError(t, err)
	l, err := NewCommandLogin("sh "+script, "", 10*time.Second, r)
	require.NoError(t, err)

	p, _ := LookupPlatform("pinterest")
	cookies, err := l.Login(context.Background(), p, "u", "pw")
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	assert.True(t, cookies[0].HTTPOnly)

	_, err = l.Login(context.Background(), p, "u", "wrong")
	assert.ErrorIs(t, err, ErrLoginFailed)
	assert.Contains(t, err.Error(), "wrong secret")
}

func TestBrowserExtractor(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "cookies.txt")
	sup := &stubSupervisor{
		outcome: runner.Outcome{Kind: runner.OutcomeSuccess},
		onRun: func(cmd runner.Command) {
			_ = os.WriteFile(dest, []byte("# Netscape HTTP Cookie File\n.youtube.com\tTRUE\t/\tFALSE\t0\ta\tb\n"), 0o600)
		},
	}
	b, err := NewBrowserExtractor("yt-dlp", sup)
	require.NoError(t, err)

	require.NoError(t, b.Extract(context.Background(), "Chrome", dest))
	require.Len(t, sup.calls, 1)
	assert.Equal(t, "yt-dlp", sup.calls[0].Path)
	assert.Equal(t, []string{"--cookies-from-browser", "chrome", "--cookies", dest, "--skip-download", "--quiet", "https://www.youtube.com/"}, sup.calls[0].Args)

	assert.Error(t, b.Extract(context.Background(), "lynx", dest))

	failing := &stubSupervisor{outcome: runner.Outcome{Kind: runner.OutcomeFailure, Stderr: "could not find chrome cookies database"}}
	b, err = NewBrowserExtractor("yt-dlp", failing)
	require.NoError(t, err)
	err = b.Extract(context.Background(), "chrome", filepath.Join(t.TempDir(), "none.txt"))
	assert.ErrorContains(t, err, "could not find chrome cookies database")
}
