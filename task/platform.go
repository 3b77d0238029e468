package task

import (
	"net/url"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ExtPlaceholder is appended to download names without a known video
// extension; the download tool substitutes the real extension.
const ExtPlaceholder = ".%(ext)s"

var videoExtensions = []string{".mp4", ".mkv", ".avi", ".mov"}

const (
	PlatformYouTube   = "youtube"
	PlatformInstagram = "instagram"
	PlatformTikTok    = "tiktok"
	PlatformKwai      = "kwai"
	PlatformPinterest = "pinterest"
	PlatformUnknown   = "unknown"
)

// DetectPlatform classifies a source URL by host substring.
func DetectPlatform(rawURL string) string {
	u := strings.ToLower(rawURL)
	switch {
	case strings.Contains(u, "youtube.com"), strings.Contains(u, "youtu.be"):
		return PlatformYouTube
	case strings.Contains(u, "instagram.com"):
		return PlatformInstagram
	case strings.Contains(u, "tiktok.com"):
		return PlatformTikTok
	case strings.Contains(u, "kwai.com"):
		return PlatformKwai
	case strings.Contains(u, "pinterest.com"):
		return PlatformPinterest
	}
	return PlatformUnknown
}

// LoginPlatform maps a detected platform onto the credential store's platform
// name. Platforms without login automation report false.
func LoginPlatform(detected string) (string, bool) {
	switch detected {
	case PlatformYouTube, PlatformInstagram, PlatformKwai, PlatformPinterest:
		return detected, true
	}
	return "", false
}

func validateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return invalid("url", "must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return invalid("url", "%v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalid("url", "scheme must be http or https")
	}
	if u.Host == "" {
		return invalid("url", "missing host")
	}
	return nil
}

func hasVideoExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, v := range videoExtensions {
		if ext == v {
			return true
		}
	}
	return false
}

// downloadFilename returns the file name to download into, generating one when
// empty and appending ExtPlaceholder when the extension is not a known video one.
func downloadFilename(name string) (string, error) {
	if name == "" {
		name = "video_" + shortHex()
	}
	if err := checkBaseName("filename", name); err != nil {
		return "", err
	}
	if !hasVideoExtension(name) {
		name += ExtPlaceholder
	}
	return name, nil
}

func cutFilename(name string) (string, error) {
	if name == "" {
		return "cut_" + shortHex() + ".mp4", nil
	}
	if err := checkBaseName("outputFilename", name); err != nil {
		return "", err
	}
	return name, nil
}

func checkBaseName(field, name string) error {
	if name != filepath.Base(name) || name == "." || name == ".." {
		return invalid(field, "must be a plain file name")
	}
	return nil
}

func shortHex() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// matchesTemplate reports whether path is a concrete instance of template,
// where template may end with ExtPlaceholder.
func matchesTemplate(template, path string) bool {
	if template == path {
		return true
	}
	base, ok := strings.CutSuffix(template, ExtPlaceholder)
	if !ok {
		return false
	}
	rest, ok := strings.CutPrefix(path, base+".")
	return ok && rest != "" && !strings.ContainsAny(rest, "/\\")
}

// resolveTemplate finds the file the download tool produced for template.
func resolveTemplate(template string) (string, bool) {
	base, ok := strings.CutSuffix(template, ExtPlaceholder)
	if !ok {
		return template, fileExists(template)
	}
	matches, _ := filepath.Glob(globEscape(base) + ".*")
	for _, m := range matches {
		if strings.HasSuffix(m, ".part") || strings.HasSuffix(m, ".ytdl") {
			continue
		}
		if fileExists(m) {
			return m, true
		}
	}
	return "", false
}

func globEscape(s string) string {
	r := strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`, `\`, `\\`)
	return r.Replace(s)
}
