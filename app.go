package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"vidcutapi/config"
	"vidcutapi/credential"
	"vidcutapi/logging"
	"vidcutapi/runner"
)

// app holds the dependencies shared by every command.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	runner *runner.Runner
	creds  *credential.Store
	undo   func()
}

func bootstrap() (*app, error) {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	undo := zap.ReplaceGlobals(logger)

	a := &app{cfg: cfg, logger: logger, undo: undo}
	if err := a.init(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) init() error {
	if err := a.cfg.EnsureDirectories(); err != nil {
		return err
	}

	r, err := runner.NewRunner(a.cfg)
	if err != nil {
		return fmt.Errorf("initializing process runner: %w", err)
	}
	a.runner = r

	login, err := credential.NewCommandLogin(a.cfg.LoginCmd, a.cfg.BrowserBin, a.cfg.LoginTimeout, r)
	if err != nil {
		return fmt.Errorf("initializing login command: %w", err)
	}
	creds, err := credential.NewStore(a.cfg.CookiesDir, login)
	if err != nil {
		return fmt.Errorf("initializing credential store: %w", err)
	}
	a.creds = creds

	for platform, c := range a.cfg.PlatformCredentials {
		if err := creds.Seed(platform, c.Username, c.Password); err != nil {
			zap.S().Named("main").Warnw("ignoring configured credentials", "platform", platform, "error", err)
		}
	}
	return nil
}

func (a *app) close() {
	if a.creds != nil {
		a.creds.Close()
	}
	_ = a.logger.Sync()
	a.undo()
}
