package api

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vidcutapi/config"
	"vidcutapi/credential"
	"vidcutapi/files"
	"vidcutapi/task"
)

// CredentialService is the part of the credential store the API exposes.
type CredentialService interface {
	SetCredentials(platform, username, password string) bool
	RefreshAllAsync()
	Status() []credential.PlatformStatus
}

type Handler struct {
	taskManager *task.Manager
	creds       CredentialService
	library     *files.Library
	cfg         *config.Config
}

func NewHandler(tm *task.Manager, creds CredentialService, lib *files.Library, cfg *config.Config) *Handler {
	return &Handler{
		taskManager: tm,
		creds:       creds,
		library:     lib,
		cfg:         cfg,
	}
}

type DownloadRequest struct {
	URL                string `json:"url" binding:"required"`
	Filename           string `json:"filename"`
	Cookies            string `json:"cookies"`
	CookiesFromBrowser string `json:"cookiesFromBrowser"`
}

func (r DownloadRequest) toTask() task.DownloadRequest {
	return task.DownloadRequest{
		URL:                r.URL,
		Filename:           r.Filename,
		Cookies:            r.Cookies,
		CookiesFromBrowser: r.CookiesFromBrowser,
	}
}

type CutRequest struct {
	StartTime      string `json:"startTime" binding:"required"`
	EndTime        string `json:"endTime" binding:"required"`
	OutputFilename string `json:"outputFilename"`
}

type DownloadAndCutRequest struct {
	DownloadRequest
	CutRequest
}

type CredentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type CleanRequest struct {
	Days *int `json:"days"`
}

// jobResponse adds the file URL of a completed job.
type jobResponse struct {
	*task.Job
	DownloadURL string `json:"downloadUrl,omitempty"`
}

// writeError maps the task error taxonomy to HTTP status codes.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, task.ErrValidation), errors.Is(err, files.ErrInvalidName), errors.Is(err, files.ErrUnknownKind):
		status = http.StatusBadRequest
	case errors.Is(err, task.ErrNotFound), errors.Is(err, files.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, task.ErrPreconditionFailed), errors.Is(err, task.ErrMissingFile):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		zap.S().Named("api").Errorw("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *Handler) accepted(c *gin.Context, j *task.Job, message string) {
	body := gin.H{
		"taskId":  j.ID,
		"status":  j.Status,
		"message": message,
	}
	if j.VideoID != nil {
		body["videoId"] = *j.VideoID
	}
	if j.OutputPath != "" {
		body["outputPath"] = j.OutputPath
	}
	if j.CutOutputPath != "" {
		body["cutOutputPath"] = j.CutOutputPath
	}
	c.JSON(http.StatusAccepted, body)
}

func (h *Handler) handleDownload(c *gin.Context) {
	var req DownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	j, err := h.taskManager.StartDownload(c.Request.Context(), req.toTask())
	if err != nil {
		writeError(c, err)
		return
	}
	h.accepted(c, j, "Download started")
}

func (h *Handler) handleDownloadAndCut(c *gin.Context) {
	var req DownloadAndCutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	j, err := h.taskManager.StartDownloadAndCut(c.Request.Context(), task.DownloadAndCutRequest{
		DownloadRequest: req.DownloadRequest.toTask(),
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		OutputFilename:  req.OutputFilename,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	h.accepted(c, j, "Download and cut started")
}

func (h *Handler) handleCut(c *gin.Context) {
	id, ok := videoID(c)
	if !ok {
		return
	}
	var req CutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	j, err := h.taskManager.StartCut(c.Request.Context(), task.CutRequest{
		VideoID:        id,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
		OutputFilename: req.OutputFilename,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	h.accepted(c, j, "Cut started")
}

func (h *Handler) handleListVideos(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	videos, err := h.taskManager.Videos(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, videos)
}

func (h *Handler) handleGetVideo(c *gin.Context) {
	id, ok := videoID(c)
	if !ok {
		return
	}
	v, err := h.taskManager.Video(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handler) handleGetVideoError(c *gin.Context) {
	id, ok := videoID(c)
	if !ok {
		return
	}
	report, err := h.taskManager.VideoErrorDetails(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func videoID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid video id"})
		return 0, false
	}
	return uint(id), true
}

// handleListTasks lists all tasks.
func (h *Handler) handleListTasks(c *gin.Context) {
	jobs := h.taskManager.List()
	out := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, h.withDownloadURL(c, j))
	}
	c.JSON(http.StatusOK, out)
}

// handleGetTaskStatus retrieves the status of a single task.
func (h *Handler) handleGetTaskStatus(c *gin.Context) {
	j, err := h.taskManager.Get(c.Param("taskId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.withDownloadURL(c, j))
}

// withDownloadURL constructs the full URL for a completed task's file.
func (h *Handler) withDownloadURL(c *gin.Context, j *task.Job) jobResponse {
	resp := jobResponse{Job: j}
	if j.Status != task.StatusCompleted || j.OutputPath == "" {
		return resp
	}
	var kind files.Kind
	switch filepath.Clean(filepath.Dir(j.OutputPath)) {
	case filepath.Clean(h.cfg.DownloadsDir):
		kind = files.KindDownload
	case filepath.Clean(h.cfg.CutsDir):
		kind = files.KindCut
	default:
		return resp
	}

	baseURL := h.cfg.BaseURL
	if baseURL == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s", scheme, c.Request.Host)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	resp.DownloadURL = fmt.Sprintf("%s/api/v1/files/%s/%s", baseURL, kind, filepath.Base(j.OutputPath))
	return resp
}

func (h *Handler) handleListFiles(c *gin.Context) {
	listing, err := h.library.List()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

// handleGetFile serves a downloaded or cut file.
func (h *Handler) handleGetFile(c *gin.Context) {
	path, err := h.library.Resolve(files.Kind(c.Param("type")), c.Param("filename"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.FileAttachment(path, filepath.Base(path))
}

func (h *Handler) handleCleanFiles(c *gin.Context) {
	var req CleanRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	days := 7
	if req.Days != nil {
		days = *req.Days
	}
	if days < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days must not be negative"})
		return
	}
	res, err := h.library.Clean(time.Duration(days) * 24 * time.Hour)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("Files older than %d days were removed", days),
		"cleaned": res,
	})
}

func (h *Handler) handleListCredentials(c *gin.Context) {
	c.JSON(http.StatusOK, h.creds.Status())
}

func (h *Handler) handleSetCredentials(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	platform := strings.ToLower(c.Param("platform"))
	if !h.creds.SetCredentials(platform, req.Username, req.Password) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("unsupported platform %q, expected one of %s", platform, strings.Join(credential.SupportedPlatforms(), ", ")),
		})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"platform": platform, "message": "Credentials stored, refresh started"})
}

// handleRefreshCredentials starts a refresh cycle without waiting for the
// logins; results show up in the credential listing.
func (h *Handler) handleRefreshCredentials(c *gin.Context) {
	h.creds.RefreshAllAsync()
	c.JSON(http.StatusAccepted, gin.H{"message": "Credential refresh started"})
}
