package task

import (
	"context"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"vidcutapi/config"
	"vidcutapi/progress"
	"vidcutapi/runner"
	"vidcutapi/video"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{
		DownloadsDir:   filepath.Join(root, "downloads"),
		CutsDir:        filepath.Join(root, "cuts"),
		TempDir:        filepath.Join(root, "temp"),
		CookiesDir:     filepath.Join(root, "temp", "cookies"),
		DownloadCmd:    "python download.py",
		CutCmd:         "python cut.py",
		ProcessTimeout: time.Minute,
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	return cfg
}

// fakeSupervisor records every command and delegates to run.
type fakeSupervisor struct {
	mu    sync.Mutex
	calls []runner.Command
	run   func(ctx context.Context, cmd runner.Command, onEvent func(progress.Event)) runner.Outcome
}

func (f *fakeSupervisor) Run(ctx context.Context, cmd runner.Command, onEvent func(progress.Event), onLine func(string)) runner.Outcome {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()
	if onEvent == nil {
		onEvent = func(progress.Event) {}
	}
	if f.run == nil {
		return runner.Outcome{Kind: runner.OutcomeSuccess}
	}
	return f.run(ctx, cmd, onEvent)
}

func (f *fakeSupervisor) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c.Name, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeSupervisor) last(prefix string) runner.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if strings.HasPrefix(f.calls[i].Name, prefix) {
			return f.calls[i]
		}
	}
	return runner.Command{}
}

func argAfter(args []string, flag string) string {
	i := slices.Index(args, flag)
	if i < 0 || i+1 >= len(args) {
		return ""
	}
	return args[i+1]
}

// memGateway is an in-memory video.Gateway.
type memGateway struct {
	mu     sync.Mutex
	nextID uint
	videos map[uint]*video.Video
}

func newMemGateway() *memGateway {
	return &memGateway{videos: map[uint]*video.Video{}}
}

func (g *memGateway) Create(ctx context.Context, platform, url, filename string, status video.Status) (uint, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	g.videos[g.nextID] = &video.Video{ID: g.nextID, Platform: platform, URL: url, Filename: filename, Status: status, CreatedAt: time.Now()}
	return g.nextID, nil
}

func (g *memGateway) UpdateStatus(ctx context.Context, id uint, status video.Status) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.videos[id]
	if ok {
		v.Status = status
	}
	return ok, nil
}

func (g *memGateway) UpdateFilename(ctx context.Context, id uint, filename string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.videos[id]
	if ok {
		v.Filename = filename
	}
	return ok, nil
}

func (g *memGateway) FindByID(ctx context.Context, id uint) (*video.Video, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.videos[id]
	if !ok {
		return nil, video.ErrNotFound
	}
	c := *v
	return &c, nil
}

func (g *memGateway) List(ctx context.Context, limit int) ([]video.Video, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []video.Video
	for id := g.nextID; id > 0; id-- {
		if v, ok := g.videos[id]; ok {
			out = append(out, *v)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (g *memGateway) add(t *testing.T, filename string, status video.Status) uint {
	t.Helper()
	id, _ := g.Create(context.Background(), "youtube", "https://youtu.be/x", filename, status)
	return id
}

type fakeCredentials struct {
	mu        sync.Mutex
	artifacts map[string]string
	asked     []string
}

func (f *fakeCredentials) Artifact(ctx context.Context, platform string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked = append(f.asked, platform)
	p, ok := f.artifacts[platform]
	return p, ok
}

type fakeExtractor struct {
	err   error
	calls int
}

func (f *fakeExtractor) Extract(ctx context.Context, browser, dest string) error {
	f.calls++
	return f.err
}
