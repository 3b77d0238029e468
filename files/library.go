// Package files exposes the downloads and cuts directories: listing,
// safe lookup by name, and age-based cleanup.
package files

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Kind string

const (
	KindDownload Kind = "download"
	KindCut      Kind = "cut"
)

var (
	ErrInvalidName = errors.New("invalid filename")
	ErrUnknownKind = errors.New("unknown file type")
	ErrNotFound    = errors.New("file not found")
)

type Entry struct {
	Name    string    `json:"name"`
	Kind    Kind      `json:"type"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modifiedAt"`
}

type Listing struct {
	Downloads []Entry `json:"downloads"`
	Cuts      []Entry `json:"cuts"`
}

type CleanResult struct {
	Downloads int `json:"downloads"`
	Cuts      int `json:"cuts"`
}

func (r CleanResult) Total() int { return r.Downloads + r.Cuts }

type Library struct {
	downloadsDir string
	cutsDir      string
	now          func() time.Time
}

func NewLibrary(downloadsDir, cutsDir string) *Library {
	return &Library{downloadsDir: downloadsDir, cutsDir: cutsDir, now: time.Now}
}

func (l *Library) dir(kind Kind) (string, error) {
	switch kind {
	case KindDownload:
		return l.downloadsDir, nil
	case KindCut:
		return l.cutsDir, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// List returns the files of both directories, newest first. Partial
// downloads and hidden files are skipped.
func (l *Library) List() (*Listing, error) {
	downloads, err := l.list(KindDownload)
	if err != nil {
		return nil, err
	}
	cuts, err := l.list(KindCut)
	if err != nil {
		return nil, err
	}
	return &Listing{Downloads: downloads, Cuts: cuts}, nil
}

func (l *Library) list(kind Kind) ([]Entry, error) {
	dir, _ := l.dir(kind)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	out := []Entry{}
	for _, e := range entries {
		if !e.Type().IsRegular() || skipped(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{Name: e.Name(), Kind: kind, Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModTime.After(out[j].ModTime) })
	return out, nil
}

func skipped(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".ytdl")
}

// Resolve returns the path of filename in the directory of kind.
// Names containing path separators or parent references are rejected.
func (l *Library) Resolve(kind Kind, filename string) (string, error) {
	dir, err := l.dir(kind)
	if err != nil {
		return "", err
	}
	// Security: Prevent path traversal
	clean := filepath.Base(filename)
	if clean != filename || clean == "." || clean == ".." || strings.ContainsRune(filename, '\\') {
		return "", ErrInvalidName
	}
	full := filepath.Join(dir, clean)
	info, err := os.Stat(full)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%s: %w", filename, ErrNotFound)
	}
	return full, nil
}

// Clean removes files last modified more than olderThan ago from both directories.
func (l *Library) Clean(olderThan time.Duration) (CleanResult, error) {
	cutoff := l.now().Add(-olderThan)
	var res CleanResult
	var errs []error
	for _, kind := range []Kind{KindDownload, KindCut} {
		entries, err := l.list(kind)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		dir, _ := l.dir(kind)
		for _, e := range entries {
			if !e.ModTime.Before(cutoff) {
				continue
			}
			path := filepath.Join(dir, e.Name)
			if err := os.Remove(path); err != nil {
				errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
				continue
			}
			zap.S().Named("files").Debugw("removed old file", "path", path, "modifiedAt", e.ModTime)
			if kind == KindDownload {
				res.Downloads++
			} else {
				res.Cuts++
			}
		}
	}
	return res, errors.Join(errs...)
}
