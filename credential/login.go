package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"vidcutapi/progress"
	"vidcutapi/runner"
)

const secretEnv = "VIDCUT_LOGIN_SECRET"

var (
	ErrBrowserUnavailable = errors.New("browser engine unavailable")
	ErrLoginFailed        = errors.New("login failed")
)

// Supervisor runs one external command to completion.
type Supervisor interface {
	Run(ctx context.Context, cmd runner.Command, onEvent func(progress.Event), onLine func(string)) runner.Outcome
}

// Login performs an interactive login for a platform and returns its cookies.
type Login interface {
	Login(ctx context.Context, p Platform, username, secret string) ([]Cookie, error)
}

// LoginFunc adapts a function to Login.
type LoginFunc func(ctx context.Context, p Platform, username, secret string) ([]Cookie, error)

func (f LoginFunc) Login(ctx context.Context, p Platform, username, secret string) ([]Cookie, error) {
	return f(ctx, p, username, secret)
}

// CommandLogin drives the configured login tool. The secret is handed over in
// the environment, never on the command line.
type CommandLogin struct {
	argv       []string
	browserBin string
	timeout    time.Duration
	sup        Supervisor
	lookPath   func(string) (string, error)
}

func NewCommandLogin(command, browserBin string, timeout time.Duration, sup Supervisor) (*CommandLogin, error) {
	argv, err := runner.ParseTemplate(command)
	if err != nil {
		return nil, fmt.Errorf("login command: %w", err)
	}
	return &CommandLogin{
		argv:       argv,
		browserBin: browserBin,
		timeout:    timeout,
		sup:        sup,
		lookPath:   exec.LookPath,
	}, nil
}

func (l *CommandLogin) Login(ctx context.Context, p Platform, username, secret string) ([]Cookie, error) {
	if l.browserBin != "" {
		if _, err := l.lookPath(l.browserBin); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrBrowserUnavailable, l.browserBin, err)
		}
	}

	args := append(append([]string{}, l.argv[1:]...),
		"--platform", p.Name,
		"--username", username,
		"--domain", p.Domain,
		"--login-url", p.LoginURL,
	)
	var cookies []Cookie
	var decodeErr error
	outcome := l.sup.Run(ctx, runner.Command{
		Name:    "login:" + p.Name,
		Path:    l.argv[0],
		Args:    args,
		Env:     []string{secretEnv + "=" + secret},
		Timeout: l.timeout,
	}, nil, func(line string) {
		payload, ok := progress.ExtractPayload(line)
		if !ok {
			return
		}
		if _, has := payload["cookies"]; !has {
			return
		}
		got, err := decodeCookies(payload["cookies"])
		if err != nil {
			decodeErr = err
			return
		}
		cookies = got
	})

	switch outcome.Kind {
	case runner.OutcomeSuccess:
	case runner.OutcomeLaunchError:
		return nil, fmt.Errorf("%w: %v", ErrBrowserUnavailable, outcome.Err)
	default:
		return nil, fmt.Errorf("%w: %s: %s", ErrLoginFailed, outcome.Kind, lastLine(outcome.Stderr, outcome.Err))
	}
	if decodeErr != nil && len(cookies) == 0 {
		return nil, fmt.Errorf("%w: decode cookies: %v", ErrLoginFailed, decodeErr)
	}
	if len(cookies) == 0 {
		return nil, fmt.Errorf("%w: login tool reported no cookies", ErrLoginFailed)
	}
	zap.S().Named("credential").Infow("login tool returned cookies", "platform", p.Name, "count", len(cookies))
	return cookies, nil
}

func decodeCookies(v any) ([]Cookie, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var cookies []Cookie
	if err := json.Unmarshal(raw, &cookies); err != nil {
		return nil, err
	}
	return cookies, nil
}

func lastLine(s string, fallback error) string {
	s = strings.TrimSpace(s)
	if s == "" {
		if fallback != nil {
			return fallback.Error()
		}
		return "no output"
	}
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
