package task

import (
	"maps"
	"time"

	"vidcutapi/progress"
)

type Kind string

const (
	KindDownload       Kind = "download"
	KindCut            Kind = "cut"
	KindDownloadAndCut Kind = "download_and_cut"
)

type Status string

const (
	StatusRunning     Status = "running"
	StatusDownloading Status = "downloading"
	StatusCutting     Status = "cutting"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
	StatusTimedOut    Status = "timed_out"
)

func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusTimedOut:
		return true
	}
	return false
}

// ProgressDetails is the last download progress reported by the external tool.
type ProgressDetails struct {
	Percent         float64 `json:"percent"`
	DownloadedBytes int64   `json:"downloadedBytes,omitempty"`
	TotalBytes      int64   `json:"totalBytes,omitempty"`
	Speed           float64 `json:"speed,omitempty"`
	ETA             float64 `json:"eta,omitempty"`
}

type Job struct {
	ID      string `json:"id"`
	Kind    Kind   `json:"kind"`
	Status  Status `json:"status"`
	VideoID *uint  `json:"videoId,omitempty"`

	URL       string `json:"url,omitempty"`
	Platform  string `json:"platform,omitempty"`
	InputPath string `json:"inputPath,omitempty"`
	StartTime string `json:"startTime,omitempty"`
	EndTime   string `json:"endTime,omitempty"`

	// OutputTemplate is the download destination as requested, possibly with
	// the extension placeholder; OutputPath is the file actually produced.
	OutputTemplate string `json:"outputTemplate,omitempty"`
	OutputPath     string `json:"outputPath,omitempty"`
	CutOutputPath  string `json:"cutOutputPath,omitempty"`

	CredentialSource string `json:"credentialSource,omitempty"`

	Progress        float64          `json:"progress"`
	ProgressDetails *ProgressDetails `json:"progressDetails,omitempty"`

	Output       string         `json:"output,omitempty"`
	Error        string         `json:"error,omitempty"`
	ErrorDetails map[string]any `json:"errorDetails,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// clone returns a copy that shares no mutable state with j.
func (j *Job) clone() *Job {
	c := *j
	if j.VideoID != nil {
		id := *j.VideoID
		c.VideoID = &id
	}
	if j.ProgressDetails != nil {
		d := *j.ProgressDetails
		c.ProgressDetails = &d
	}
	if j.ErrorDetails != nil {
		c.ErrorDetails = maps.Clone(j.ErrorDetails)
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func (j *Job) applyProgress(ev progress.Event) {
	percent := clampPercent(ev.Percent)
	// Progress never moves backwards, even when the tool restarts a stream.
	if percent > j.Progress {
		j.Progress = percent
	}
	j.ProgressDetails = &ProgressDetails{
		Percent:         percent,
		DownloadedBytes: ev.DownloadedBytes,
		TotalBytes:      ev.TotalBytes,
		Speed:           ev.Speed,
		ETA:             ev.ETA,
	}
}

func clampPercent(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
