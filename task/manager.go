package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"go.uber.org/zap"

	"vidcutapi/config"
	"vidcutapi/credential"
	"vidcutapi/files"
	"vidcutapi/metrics"
	"vidcutapi/progress"
	"vidcutapi/runner"
	"vidcutapi/video"
)

// CredentialSourceUnavailable marks a download whose platform needed stored
// credentials that could not be produced.
const CredentialSourceUnavailable = "unavailable"

// Supervisor runs one external command to completion.
type Supervisor interface {
	Run(ctx context.Context, cmd runner.Command, onEvent func(progress.Event), onLine func(string)) runner.Outcome
}

// CredentialSource hands out the current cookie file of a login platform.
type CredentialSource interface {
	Artifact(ctx context.Context, platform string) (string, bool)
}

// CookieExtractor copies cookies out of a local browser into dest.
type CookieExtractor interface {
	Extract(ctx context.Context, browser, dest string) error
}

// Cleaner removes stored output files older than a given age.
type Cleaner interface {
	Clean(olderThan time.Duration) (files.CleanResult, error)
}

type DownloadRequest struct {
	URL      string
	Filename string
	// Cookies names a cookie file, absolute or relative to the cookies directory.
	Cookies            string
	CookiesFromBrowser string
}

type CutRequest struct {
	VideoID        uint
	StartTime      string
	EndTime        string
	OutputFilename string
}

type DownloadAndCutRequest struct {
	DownloadRequest
	StartTime      string
	EndTime        string
	OutputFilename string
}

// VideoErrorReport explains why a video ended in error.
type VideoErrorReport struct {
	Video *video.Video `json:"video"`
	Jobs  []*Job       `json:"jobs"`
}

// Manager owns the job lifecycle: it validates requests, records jobs, and
// runs each one on its own goroutine through the supervisor.
type Manager struct {
	cfg        *config.Config
	jobs       *Registry
	videos     video.Gateway
	supervisor Supervisor
	creds      CredentialSource
	extractor  CookieExtractor
	cleaner    Cleaner

	downloadArgv []string
	cutArgv      []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Manager)

func WithCredentials(c CredentialSource) Option {
	return func(m *Manager) { m.creds = c }
}

func WithCookieExtractor(e CookieExtractor) Option {
	return func(m *Manager) { m.extractor = e }
}

func WithCleaner(c Cleaner) Option {
	return func(m *Manager) { m.cleaner = c }
}

func WithRegistry(r *Registry) Option {
	return func(m *Manager) { m.jobs = r }
}

func NewManager(cfg *config.Config, videos video.Gateway, supervisor Supervisor, opts ...Option) (*Manager, error) {
	downloadArgv, err := runner.ParseTemplate(cfg.DownloadCmd)
	if err != nil {
		return nil, fmt.Errorf("download command: %w", err)
	}
	cutArgv, err := runner.ParseTemplate(cfg.CutCmd)
	if err != nil {
		return nil, fmt.Errorf("cut command: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:          cfg,
		jobs:         NewRegistry(),
		videos:       videos,
		supervisor:   supervisor,
		downloadArgv: downloadArgv,
		cutArgv:      cutArgv,
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Start launches background maintenance. Jobs run without it.
func (m *Manager) Start(ctx context.Context) {
	if m.cleaner != nil && m.cfg.OutputLocalLifetime > 0 {
		go m.cleanupLoop(ctx)
	}
}

// Shutdown terminates in-flight external processes and waits for their
// workers to record the outcome.
func (m *Manager) Shutdown() {
	m.cancel()
	m.wg.Wait()
}

// Wait blocks until every dispatched job has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func newJobID() string {
	return fmt.Sprintf("%s_%d", shortuuid.New(), time.Now().Unix())
}

// StartDownload records a download job and runs it in the background.
func (m *Manager) StartDownload(ctx context.Context, req DownloadRequest) (*Job, error) {
	filename, err := m.validateDownload(req)
	if err != nil {
		return nil, err
	}
	platform := DetectPlatform(req.URL)
	template := filepath.Join(m.cfg.DownloadsDir, filename)

	videoID, err := m.videos.Create(ctx, platform, req.URL, filename, video.StatusDownloading)
	if err != nil {
		return nil, fmt.Errorf("create video record: %w", err)
	}

	job := &Job{
		ID:             newJobID(),
		Kind:           KindDownload,
		Status:         StatusRunning,
		VideoID:        &videoID,
		URL:            req.URL,
		Platform:       platform,
		OutputTemplate: template,
		OutputPath:     template,
	}
	return m.dispatch(job, func(ctx context.Context) {
		ok := m.downloadStage(ctx, job.ID, videoID, req, platform, template)
		if ok {
			m.finishSuccess(ctx, job.ID, videoID)
		}
	})
}

// StartCut validates that the video is ready and runs the cut in the background.
func (m *Manager) StartCut(ctx context.Context, req CutRequest) (*Job, error) {
	if _, _, err := ParseRange(req.StartTime, req.EndTime); err != nil {
		return nil, err
	}
	outName, err := cutFilename(req.OutputFilename)
	if err != nil {
		return nil, err
	}

	v, err := m.videos.FindByID(ctx, req.VideoID)
	if err != nil {
		if errors.Is(err, video.ErrNotFound) {
			return nil, fmt.Errorf("video %d: %w", req.VideoID, ErrNotFound)
		}
		return nil, err
	}
	if v.Status != video.StatusCompleted {
		return nil, fmt.Errorf("video %d is %s, not %s: %w", v.ID, v.Status, video.StatusCompleted, ErrPreconditionFailed)
	}
	input, ok := m.videoPath(v.Filename)
	if !ok {
		return nil, fmt.Errorf("video %d file %s: %w", v.ID, v.Filename, ErrMissingFile)
	}

	videoID := v.ID
	output := filepath.Join(m.cfg.CutsDir, outName)
	job := &Job{
		ID:            newJobID(),
		Kind:          KindCut,
		Status:        StatusRunning,
		VideoID:       &videoID,
		Platform:      v.Platform,
		InputPath:     input,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		OutputPath:    output,
		CutOutputPath: output,
	}
	return m.dispatch(job, func(ctx context.Context) {
		outcome := m.cutStage(ctx, job.ID, input, output, req.StartTime, req.EndTime)
		if outcome.Succeeded() {
			m.finishSuccess(ctx, job.ID, 0)
		} else {
			m.finishFailure(ctx, job.ID, 0, "cut", outcome)
		}
	})
}

// StartDownloadAndCut downloads and then cuts as one background unit. The
// cut never runs when the download did not succeed.
func (m *Manager) StartDownloadAndCut(ctx context.Context, req DownloadAndCutRequest) (*Job, error) {
	filename, err := m.validateDownload(req.DownloadRequest)
	if err != nil {
		return nil, err
	}
	if _, _, err := ParseRange(req.StartTime, req.EndTime); err != nil {
		return nil, err
	}
	outName, err := cutFilename(req.OutputFilename)
	if err != nil {
		return nil, err
	}
	platform := DetectPlatform(req.URL)
	template := filepath.Join(m.cfg.DownloadsDir, filename)
	cutOutput := filepath.Join(m.cfg.CutsDir, outName)

	videoID, err := m.videos.Create(ctx, platform, req.URL, filename, video.StatusDownloading)
	if err != nil {
		return nil, fmt.Errorf("create video record: %w", err)
	}

	job := &Job{
		ID:             newJobID(),
		Kind:           KindDownloadAndCut,
		Status:         StatusRunning,
		VideoID:        &videoID,
		URL:            req.URL,
		Platform:       platform,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
		OutputTemplate: template,
		OutputPath:     template,
		CutOutputPath:  cutOutput,
	}
	return m.dispatch(job, func(ctx context.Context) {
		m.update(job.ID, func(j *Job) { j.Status = StatusDownloading })
		if !m.downloadStage(ctx, job.ID, videoID, req.DownloadRequest, platform, template) {
			return
		}

		current, _ := m.jobs.Get(job.ID)
		input, ok := resolveTemplate(current.OutputPath)
		if !ok {
			m.finishFailure(ctx, job.ID, videoID, "cut", runner.Outcome{
				Kind: runner.OutcomeFailure, ExitCode: -1,
				Err: fmt.Errorf("downloaded file for %s: %w", current.OutputPath, ErrMissingFile),
			})
			return
		}
		m.update(job.ID, func(j *Job) {
			j.Status = StatusCutting
			j.InputPath = input
		})
		m.setVideoStatus(ctx, videoID, video.StatusProcessing)

		outcome := m.cutStage(ctx, job.ID, input, cutOutput, req.StartTime, req.EndTime)
		if !outcome.Succeeded() {
			m.finishFailure(ctx, job.ID, videoID, "cut", outcome)
			return
		}
		m.update(job.ID, func(j *Job) { j.OutputPath = cutOutput })
		m.finishSuccess(ctx, job.ID, videoID)
	})
}

// Get returns a snapshot of one job.
func (m *Manager) Get(id string) (*Job, error) {
	j, ok := m.jobs.Get(id)
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return j, nil
}

// List returns snapshots of every job in creation order.
func (m *Manager) List() []*Job {
	return m.jobs.List()
}

func (m *Manager) Video(ctx context.Context, id uint) (*video.Video, error) {
	v, err := m.videos.FindByID(ctx, id)
	if errors.Is(err, video.ErrNotFound) {
		return nil, fmt.Errorf("video %d: %w", id, ErrNotFound)
	}
	return v, err
}

func (m *Manager) Videos(ctx context.Context, limit int) ([]video.Video, error) {
	return m.videos.List(ctx, limit)
}

// VideoErrorDetails returns a failed video with the jobs that ran against it.
func (m *Manager) VideoErrorDetails(ctx context.Context, id uint) (*VideoErrorReport, error) {
	v, err := m.Video(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.Status != video.StatusError {
		return nil, fmt.Errorf("video %d is %s: %w", id, v.Status, ErrPreconditionFailed)
	}
	return &VideoErrorReport{Video: v, Jobs: m.jobs.ByVideo(id)}, nil
}

func (m *Manager) validateDownload(req DownloadRequest) (string, error) {
	if err := validateURL(req.URL); err != nil {
		return "", err
	}
	if req.CookiesFromBrowser != "" && !credential.IsSupportedBrowser(req.CookiesFromBrowser) {
		return "", invalid("cookiesFromBrowser", "unsupported browser %q, expected one of %s",
			req.CookiesFromBrowser, strings.Join(credential.SupportedBrowsers(), ", "))
	}
	return downloadFilename(req.Filename)
}

func (m *Manager) dispatch(job *Job, work func(ctx context.Context)) (*Job, error) {
	if err := m.jobs.Create(job); err != nil {
		return nil, err
	}
	snapshot, _ := m.jobs.Get(job.ID)
	metrics.IncreaseJobsStartedMetric(string(job.Kind))
	zap.S().Named("task").Infow("job dispatched", "job", job.ID, "kind", job.Kind, "video", derefID(job.VideoID),
		"tracked", m.jobs.Len())

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				zap.S().Named("task").Errorw("job worker panicked", "job", job.ID, "panic", r)
				videoID := derefID(job.VideoID)
				if job.Kind == KindCut {
					videoID = 0
				}
				m.finishFailure(m.ctx, job.ID, videoID, string(job.Kind), runner.Outcome{
					Kind: runner.OutcomeFailure, ExitCode: -1, Err: fmt.Errorf("internal error: %v", r),
				})
			}
		}()
		work(m.ctx)
	}()
	return snapshot, nil
}

// downloadStage runs the download command and records its progress. On
// failure the job and video are finalized and false is returned.
func (m *Manager) downloadStage(ctx context.Context, jobID string, videoID uint, req DownloadRequest, platform, template string) bool {
	log := zap.S().Named("task")

	cookieArgs, source, cleanup := m.resolveCookies(ctx, jobID, platform, req)
	defer cleanup()
	if source != "" {
		m.update(jobID, func(j *Job) { j.CredentialSource = source })
	}

	args := append(append([]string{}, m.downloadArgv[1:]...), "--url", req.URL, "--output", template)
	args = append(args, cookieArgs...)

	outcome := m.supervisor.Run(ctx, runner.Command{
		Name: "download:" + jobID,
		Path: m.downloadArgv[0],
		Args: args,
	}, func(ev progress.Event) {
		switch ev.Kind {
		case progress.KindDownloading:
			m.update(jobID, func(j *Job) { j.applyProgress(ev) })
		case progress.KindFinished:
			if ev.Path == "" || !matchesTemplate(template, ev.Path) {
				log.Warnw("finished path does not match output template", "job", jobID, "path", ev.Path, "template", template)
				return
			}
			m.update(jobID, func(j *Job) { j.OutputPath = ev.Path })
		}
	}, nil)
	metrics.ObserveExternalProcessMetric("download", string(outcome.Kind), outcome.Duration)
	m.update(jobID, func(j *Job) { j.Output = outcome.Stdout })

	if !outcome.Succeeded() {
		m.finishFailure(ctx, jobID, videoID, "download", outcome)
		return false
	}

	current, _ := m.jobs.Get(jobID)
	if final, ok := resolveTemplate(current.OutputPath); ok {
		if final != current.OutputPath {
			m.update(jobID, func(j *Job) { j.OutputPath = final })
		}
		if final != template {
			if _, err := m.videos.UpdateFilename(ctx, videoID, m.storedName(final)); err != nil {
				log.Warnw("could not record downloaded filename", "job", jobID, "video", videoID, "error", err)
			}
		}
	} else {
		log.Warnw("download succeeded but the output file was not found", "job", jobID, "template", template)
	}
	return true
}

func (m *Manager) cutStage(ctx context.Context, jobID, input, output, start, end string) runner.Outcome {
	startSec, endSec, _ := ParseRange(start, end)
	args := append(append([]string{}, m.cutArgv[1:]...),
		"--input", input,
		"--output", output,
		"--start", strconv.Itoa(startSec),
		"--end", strconv.Itoa(endSec),
	)
	outcome := m.supervisor.Run(ctx, runner.Command{
		Name: "cut:" + jobID,
		Path: m.cutArgv[0],
		Args: args,
	}, nil, nil)
	metrics.ObserveExternalProcessMetric("cut", string(outcome.Kind), outcome.Duration)
	m.update(jobID, func(j *Job) { j.Output = joinOutput(j.Output, outcome.Stdout) })
	return outcome
}

// resolveCookies picks the cookie source for a download: an explicit file,
// then browser extraction, then the credential store. The chosen file is
// copied into the temp dir so the download tool never writes to the shared one.
func (m *Manager) resolveCookies(ctx context.Context, jobID, platform string, req DownloadRequest) ([]string, string, func()) {
	log := zap.S().Named("task")
	var cleanups []func()
	cleanup := func() {
		for _, c := range cleanups {
			c()
		}
	}

	var path, source string
	unavailable := false
	if req.Cookies != "" {
		candidate := credential.ResolveCookiesPath(m.cfg.CookiesDir, req.Cookies)
		if credential.VerifyFile(candidate) {
			path, source = candidate, "file"
		} else {
			log.Warnw("cookie file missing or empty, ignoring", "job", jobID, "path", candidate)
		}
	}
	if path == "" && req.CookiesFromBrowser != "" && m.extractor != nil {
		dest := filepath.Join(m.cfg.TempDir, "browser-"+jobID+".txt")
		cleanups = append(cleanups, func() { os.Remove(dest) })
		if err := m.extractor.Extract(ctx, req.CookiesFromBrowser, dest); err != nil {
			log.Warnw("browser cookie extraction failed", "job", jobID, "browser", req.CookiesFromBrowser, "error", err)
		} else {
			path, source = dest, "browser"
		}
	}
	if path == "" && m.creds != nil {
		if loginPlatform, ok := LoginPlatform(platform); ok {
			if artifact, ok := m.creds.Artifact(ctx, loginPlatform); ok {
				path, source = artifact, "store:"+loginPlatform
				log.Infow("using stored credentials", "job", jobID, "platform", loginPlatform)
			} else {
				unavailable = true
				log.Warnw("no usable stored credentials, downloading without them", "job", jobID, "platform", loginPlatform)
			}
		}
	}

	switch {
	case path != "":
		private := filepath.Join(m.cfg.TempDir, "cookies-"+jobID+".txt")
		if err := copyFile(path, private); err != nil {
			log.Warnw("could not copy cookie file, using it in place", "job", jobID, "error", err)
			return []string{"--cookies", path}, source, cleanup
		}
		cleanups = append(cleanups, func() { os.Remove(private) })
		return []string{"--cookies", private}, source, cleanup
	case req.CookiesFromBrowser != "":
		return []string{"--cookies-from-browser", strings.ToLower(req.CookiesFromBrowser)}, "browser:direct", cleanup
	case unavailable:
		return nil, CredentialSourceUnavailable, cleanup
	}
	return nil, "", cleanup
}

func (m *Manager) finishSuccess(ctx context.Context, jobID string, videoID uint) {
	j, err := m.jobs.Update(jobID, func(j *Job) {
		j.Status = StatusCompleted
		j.Progress = 100
		if j.ProgressDetails != nil {
			j.ProgressDetails.Percent = 100
		}
	})
	if err != nil {
		zap.S().Named("task").Warnw("could not complete job", "job", jobID, "error", err)
		return
	}
	if videoID != 0 {
		m.setVideoStatus(ctx, videoID, video.StatusCompleted)
	}
	metrics.IncreaseJobsFinishedMetric(string(j.Kind), string(j.Status))
	zap.S().Named("task").Infow("job completed", "job", jobID, "kind", j.Kind, "output", j.OutputPath)
}

// finishFailure records a failed stage on the job and, when videoID is set,
// marks the video as errored.
func (m *Manager) finishFailure(ctx context.Context, jobID string, videoID uint, stage string, outcome runner.Outcome) {
	status := StatusError
	if outcome.Kind == runner.OutcomeTimedOut {
		status = StatusTimedOut
	}
	msg, details := failureMessage(stage, outcome)

	j, err := m.jobs.Update(jobID, func(j *Job) {
		j.Status = status
		j.Error = msg
		j.ErrorDetails = details
		if stage == "download" && j.CredentialSource == CredentialSourceUnavailable {
			if j.ErrorDetails == nil {
				j.ErrorDetails = map[string]any{}
			}
			j.ErrorDetails["credential"] = fmt.Errorf("%w for %s", ErrCredentialUnavailable, j.Platform).Error()
		}
		if outcome.Stdout != "" && j.Output == "" {
			j.Output = outcome.Stdout
		}
	})
	if err != nil {
		zap.S().Named("task").Warnw("could not record job failure", "job", jobID, "error", err)
		return
	}
	if videoID != 0 {
		m.setVideoStatus(ctx, videoID, video.StatusError)
	}
	metrics.IncreaseJobsFinishedMetric(string(j.Kind), string(j.Status))
	zap.S().Named("task").Warnw("job failed", "job", jobID, "kind", j.Kind, "stage", stage,
		"status", status, "error", outcomeError(outcome))
}

func failureMessage(stage string, outcome runner.Outcome) (string, map[string]any) {
	switch outcome.Kind {
	case runner.OutcomeTimedOut:
		return fmt.Sprintf("%s %v", stage, outcome.Err), nil
	case runner.OutcomeLaunchError:
		return fmt.Sprintf("%s could not start: %v", stage, outcome.Err), nil
	}
	if payload, ok := lastErrorPayload(outcome.Stdout); ok {
		if ev, ok := progress.FromPayload(payload); ok && ev.Message != "" {
			return ev.Message, payload
		}
		return fmt.Sprintf("%s failed", stage), payload
	}
	if stderr := strings.TrimSpace(outcome.Stderr); stderr != "" {
		return stderr, nil
	}
	if outcome.Err != nil {
		return fmt.Sprintf("%s failed: %v", stage, outcome.Err), nil
	}
	return fmt.Sprintf("%s exited with code %d", stage, outcome.ExitCode), nil
}

// lastErrorPayload finds the last structured error emitted on stdout.
func lastErrorPayload(stdout string) (map[string]any, bool) {
	lines := strings.Split(stdout, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		ev, ok := progress.Parse(lines[i])
		if ok && ev.Kind == progress.KindError {
			return ev.Payload, true
		}
	}
	return nil, false
}

func outcomeError(o runner.Outcome) error {
	switch o.Kind {
	case runner.OutcomeSuccess:
		return nil
	case runner.OutcomeTimedOut:
		return fmt.Errorf("%w: %v", ErrTimeout, o.Err)
	case runner.OutcomeLaunchError:
		return fmt.Errorf("%w: %v", ErrLaunch, o.Err)
	}
	return fmt.Errorf("%w: exit code %d: %v", ErrExternalProcess, o.ExitCode, o.Err)
}

func (m *Manager) update(jobID string, fn func(*Job)) {
	if _, err := m.jobs.Update(jobID, fn); err != nil {
		zap.S().Named("task").Debugw("job update skipped", "job", jobID, "error", err)
	}
}

func (m *Manager) setVideoStatus(ctx context.Context, id uint, status video.Status) {
	ok, err := m.videos.UpdateStatus(ctx, id, status)
	if err != nil || !ok {
		zap.S().Named("task").Warnw("could not update video status", "video", id, "status", status, "error", err)
	}
}

// videoPath resolves a stored video filename to an existing file.
func (m *Manager) videoPath(filename string) (string, bool) {
	if filename == "" {
		return "", false
	}
	path := filename
	if !filepath.IsAbs(path) {
		path = filepath.Join(m.cfg.DownloadsDir, filename)
	}
	return resolveTemplate(path)
}

// storedName is the inverse of videoPath for files inside the downloads dir.
func (m *Manager) storedName(path string) string {
	if filepath.Clean(filepath.Dir(path)) == filepath.Clean(m.cfg.DownloadsDir) {
		return filepath.Base(path)
	}
	return path
}

// cleanupLoop periodically removes old output files. Jobs are kept.
func (m *Manager) cleanupLoop(ctx context.Context) {
	log := zap.S().Named("task")
	ticker := time.NewTicker(m.cfg.OutputLocalLifetime / 4) // Check 4 times per lifetime
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("cleanup loop shutting down")
			return
		case <-ticker.C:
			res, err := m.cleaner.Clean(m.cfg.OutputLocalLifetime)
			if err != nil {
				log.Warnw("cleanup failed", "error", err)
			} else if res.Total() > 0 {
				log.Infow("removed old output files", "downloads", res.Downloads, "cuts", res.Cuts)
			}
		}
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func joinOutput(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + b
}

func derefID(id *uint) uint {
	if id == nil {
		return 0
	}
	return *id
}
