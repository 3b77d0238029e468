package task

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectPlatform(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.youtube.com/watch?v=abc", PlatformYouTube},
		{"https://youtu.be/abc", PlatformYouTube},
		{"https://www.Instagram.com/reel/x", PlatformInstagram},
		{"https://www.tiktok.com/@a/video/1", PlatformTikTok},
		{"https://www.kwai.com/v/1", PlatformKwai},
		{"https://br.pinterest.com/pin/1", PlatformPinterest},
		{"https://vimeo.com/1", PlatformUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.want+" "+tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectPlatform(tt.url))
		})
	}
}

func TestLoginPlatform(t *testing.T) {
	p, ok := LoginPlatform(PlatformYouTube)
	assert.True(t, ok)
	assert.Equal(t, "youtube", p)

	_, ok = LoginPlatform(PlatformTikTok)
	assert.False(t, ok)
	_, ok = LoginPlatform(PlatformUnknown)
	assert.False(t, ok)
}

func TestDownloadFilename(t *testing.T) {
	name, err := downloadFilename("clip")
	require.NoError(t, err)
	assert.Equal(t, "clip.%(ext)s", name)

	name, err = downloadFilename("clip.MKV")
	require.NoError(t, err)
	assert.Equal(t, "clip.MKV", name)

	name, err = downloadFilename("")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "video_"))
	assert.True(t, strings.HasSuffix(name, ExtPlaceholder))
	assert.Len(t, name, len("video_")+8+len(ExtPlaceholder))

	_, err = downloadFilename("../etc/passwd")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCutFilename(t *testing.T) {
	name, err := cutFilename("")
	require.NoError(t, err)
	assert.Regexp(t, `^cut_[0-9a-f]{8}\.mp4$`, name)

	_, err = cutFilename("x/y.mp4")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestValidateURL(t *testing.T) {
	assert.NoError(t, validateURL("https://youtu.be/x"))
	assert.NoError(t, validateURL("http://example.com/v.mp4"))
	for _, bad := range []string{"", "ftp://host/x", "youtube.com/watch", "https://"} {
		assert.ErrorIs(t, validateURL(bad), ErrValidation, bad)
	}
}

func TestTemplateMatching(t *testing.T) {
	tmpl := "/d/clip.%(ext)s"
	assert.True(t, matchesTemplate(tmpl, "/d/clip.mp4"))
	assert.True(t, matchesTemplate(tmpl, "/d/clip.webm"))
	assert.False(t, matchesTemplate(tmpl, "/d/other.mp4"))
	assert.False(t, matchesTemplate(tmpl, "/d/clip."))
	assert.True(t, matchesTemplate("/d/clip.mp4", "/d/clip.mp4"))
	assert.False(t, matchesTemplate("/d/clip.mp4", "/d/clip.mkv"))
}

func TestResolveTemplate(t *testing.T) {
	dir := t.TempDir()
	tmpl := filepath.Join(dir, "clip"+ExtPlaceholder)

	_, ok := resolveTemplate(tmpl)
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "clip.mp4.part"), []byte("x"), 0o644))
	_, ok = resolveTemplate(tmpl)
	assert.False(t, ok, "partial downloads are ignored")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "clip.webm"), []byte("x"), 0o644))
	path, ok := resolveTemplate(tmpl)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "clip.webm"), path)
}
