package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"vidcutapi/metrics"
)

var (
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	ErrNoCredentials       = errors.New("no credentials stored for platform")
	ErrRefreshInProgress   = errors.New("a refresh cycle is already running")
)

const (
	centralDir   = "central"
	lockFileName = ".refresh.lock"
)

// Artifact is the current cookie file of one platform.
type Artifact struct {
	Platform    string    `json:"platform"`
	Path        string    `json:"path"`
	RefreshedAt time.Time `json:"refreshedAt"`
}

// PlatformStatus is the externally visible state of one platform. Secrets are never included.
type PlatformStatus struct {
	Platform       string     `json:"platform"`
	HasCredentials bool       `json:"hasCredentials"`
	Username       string     `json:"username,omitempty"`
	ArtifactPath   string     `json:"artifactPath,omitempty"`
	RefreshedAt    *time.Time `json:"refreshedAt,omitempty"`
}

type secret struct {
	username string
	password string
}

// Store holds credentials and the current artifact per platform.
//
// Artifacts are replaced by renaming a complete file over the previous one,
// so readers never see a partial file. Logins for the same platform are
// serialized; a whole refresh cycle is exclusive within the process and,
// through a lock file in the cookie directory, across processes.
type Store struct {
	dir   string
	login Login

	mu        sync.RWMutex
	creds     map[string]secret
	artifacts map[string]Artifact

	platformMu sync.Map // platform -> *sync.Mutex
	cycleMu    sync.Mutex
	fileLock   *flock.Flock

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewStore(cookiesDir string, login Login) (*Store, error) {
	dir := filepath.Join(cookiesDir, centralDir)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create credential dir: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		dir:       dir,
		login:     login,
		creds:     map[string]secret{},
		artifacts: map[string]Artifact{},
		fileLock:  flock.New(filepath.Join(cookiesDir, lockFileName)),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Seed stores credentials without triggering a refresh.
func (s *Store) Seed(platform, username, password string) error {
	p, ok := LookupPlatform(platform)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedPlatform, platform)
	}
	s.mu.Lock()
	s.creds[p.Name] = secret{username: username, password: password}
	s.mu.Unlock()
	return nil
}

// SetCredentials stores credentials for a supported platform and starts a
// refresh of that platform in the background. It returns false for
// unsupported platforms.
func (s *Store) SetCredentials(platform, username, password string) bool {
	if err := s.Seed(platform, username, password); err != nil {
		zap.S().Named("credential").Warnw("rejected credentials", "platform", platform, "error", err)
		return false
	}
	p, _ := LookupPlatform(platform)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.Refresh(s.ctx, p.Name); err != nil {
			zap.S().Named("credential").Warnw("refresh after credential update failed", "platform", p.Name, "error", err)
		}
	}()
	return true
}

// RefreshAllAsync runs RefreshAll in the background. Close cancels the cycle
// and waits for it.
func (s *Store) RefreshAllAsync() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log := zap.S().Named("credential")
		results, err := s.RefreshAll(s.ctx)
		if err != nil {
			log.Warnw("background refresh not run", "error", err)
			return
		}
		log.Infow("background refresh finished", "results", results)
	}()
}

// Refresh logs in for one platform and replaces its artifact. On failure the
// previous artifact is left untouched.
func (s *Store) Refresh(ctx context.Context, platform string) (Artifact, error) {
	log := zap.S().Named("credential")
	p, ok := LookupPlatform(platform)
	if !ok {
		return Artifact{}, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, platform)
	}

	lock := s.platformLock(p.Name)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	cred, ok := s.creds[p.Name]
	s.mu.RUnlock()
	if !ok {
		return Artifact{}, fmt.Errorf("%w: %s", ErrNoCredentials, p.Name)
	}

	log.Infow("refreshing credentials", "platform", p.Name)
	cookies, err := s.login.Login(ctx, p, cred.username, cred.password)
	if err == nil {
		cookies = filterDomain(cookies, p.Domain)
		if len(cookies) == 0 {
			err = fmt.Errorf("%w: no cookies for domain %s", ErrLoginFailed, p.Domain)
		}
	}
	if err == nil {
		err = WriteNetscapeFile(s.artifactPath(p), cookies)
	}
	metrics.IncreaseCredentialRefreshMetric(p.Name, err == nil)
	if err != nil {
		log.Warnw("credential refresh failed", "platform", p.Name, "error", err)
		return Artifact{}, err
	}

	a := Artifact{Platform: p.Name, Path: s.artifactPath(p), RefreshedAt: time.Now()}
	s.mu.Lock()
	s.artifacts[p.Name] = a
	s.mu.Unlock()
	log.Infow("credentials refreshed", "platform", p.Name, "path", a.Path, "cookies", len(cookies))
	return a, nil
}

// RefreshAll refreshes every platform with stored credentials. Platforms are
// independent: one failure does not stop the others. Only one cycle may run
// at a time; a concurrent call gets ErrRefreshInProgress.
func (s *Store) RefreshAll(ctx context.Context) (map[string]bool, error) {
	if !s.cycleMu.TryLock() {
		return nil, ErrRefreshInProgress
	}
	defer s.cycleMu.Unlock()

	locked, err := s.fileLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire refresh lock: %w", err)
	}
	if !locked {
		return nil, ErrRefreshInProgress
	}
	defer func() {
		if err := s.fileLock.Unlock(); err != nil {
			zap.S().Named("credential").Warnw("failed to release refresh lock", "error", err)
		}
	}()

	s.mu.RLock()
	names := make([]string, 0, len(s.creds))
	for name := range s.creds {
		names = append(names, name)
	}
	s.mu.RUnlock()
	slices.Sort(names)

	results := make(map[string]bool, len(names))
	for _, name := range names {
		if ctx.Err() != nil {
			results[name] = false
			continue
		}
		_, err := s.Refresh(ctx, name)
		results[name] = err == nil
	}
	zap.S().Named("credential").Infow("refresh cycle finished", "results", results)
	return results, nil
}

// Artifact returns the path of the current cookie file for platform. When no
// file exists yet but credentials do, one refresh is attempted first.
func (s *Store) Artifact(ctx context.Context, platform string) (string, bool) {
	p, ok := LookupPlatform(platform)
	if !ok {
		return "", false
	}
	if a, ok := s.current(p); ok {
		return a.Path, true
	}

	s.mu.RLock()
	_, hasCreds := s.creds[p.Name]
	s.mu.RUnlock()
	if !hasCreds {
		return "", false
	}
	a, err := s.Refresh(ctx, p.Name)
	if err != nil {
		return "", false
	}
	return a.Path, true
}

// current returns the known artifact, adopting a file left by an earlier run.
func (s *Store) current(p Platform) (Artifact, bool) {
	s.mu.RLock()
	a, ok := s.artifacts[p.Name]
	s.mu.RUnlock()
	if ok && VerifyFile(a.Path) {
		return a, true
	}

	path := s.artifactPath(p)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		return Artifact{}, false
	}
	a = Artifact{Platform: p.Name, Path: path, RefreshedAt: info.ModTime()}
	s.mu.Lock()
	s.artifacts[p.Name] = a
	s.mu.Unlock()
	return a, true
}

// LastRefresh returns when the platform's artifact was last replaced.
func (s *Store) LastRefresh(platform string) (time.Time, bool) {
	p, ok := LookupPlatform(platform)
	if !ok {
		return time.Time{}, false
	}
	a, ok := s.current(p)
	return a.RefreshedAt, ok
}

// Status lists every supported platform.
func (s *Store) Status() []PlatformStatus {
	var out []PlatformStatus
	for _, name := range SupportedPlatforms() {
		p, _ := LookupPlatform(name)
		s.mu.RLock()
		cred, hasCreds := s.creds[name]
		s.mu.RUnlock()
		st := PlatformStatus{Platform: name, HasCredentials: hasCreds, Username: cred.username}
		if a, ok := s.current(p); ok {
			t := a.RefreshedAt
			st.ArtifactPath = a.Path
			st.RefreshedAt = &t
		}
		out = append(out, st)
	}
	return out
}

// Wait blocks until background refreshes started by SetCredentials finish.
func (s *Store) Wait() {
	s.wg.Wait()
}

// Close cancels background refreshes and waits for them.
func (s *Store) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Store) artifactPath(p Platform) string {
	return filepath.Join(s.dir, p.CookiesFile)
}

func (s *Store) platformLock(name string) *sync.Mutex {
	v, _ := s.platformMu.LoadOrStore(name, &sync.Mutex{})
	return v.(*sync.Mutex)
}
