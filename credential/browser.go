package credential

import (
	"context"
	"fmt"
	"strings"

	"vidcutapi/runner"
)

const browserProbeURL = "https://www.youtube.com/"

// BrowserExtractor copies cookies out of a locally installed browser profile
// with the configured extraction tool.
type BrowserExtractor struct {
	argv []string
	sup  Supervisor
}

func NewBrowserExtractor(command string, sup Supervisor) (*BrowserExtractor, error) {
	argv, err := runner.ParseTemplate(command)
	if err != nil {
		return nil, fmt.Errorf("cookie extract command: %w", err)
	}
	return &BrowserExtractor{argv: argv, sup: sup}, nil
}

// Extract writes the browser's cookies to dest.
func (b *BrowserExtractor) Extract(ctx context.Context, browser, dest string) error {
	browser = strings.ToLower(browser)
	if !IsSupportedBrowser(browser) {
		return fmt.Errorf("unsupported browser %q", browser)
	}
	args := append(append([]string{}, b.argv[1:]...),
		"--cookies-from-browser", browser,
		"--cookies", dest,
		"--skip-download",
		"--quiet",
		browserProbeURL,
	)
	outcome := b.sup.Run(ctx, runner.Command{Name: "cookies:" + browser, Path: b.argv[0], Args: args}, nil, nil)
	if !outcome.Succeeded() {
		return fmt.Errorf("extract cookies from %s: %s: %s", browser, outcome.Kind, lastLine(outcome.Stderr, outcome.Err))
	}
	if !VerifyFile(dest) {
		return fmt.Errorf("extract cookies from %s: no cookies written", browser)
	}
	return nil
}
