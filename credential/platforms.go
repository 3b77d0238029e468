// Package credential keeps per-platform login credentials, turns them into
// cookie files through an external login tool, and refreshes those files on
// a daily schedule.
package credential

import (
	"path/filepath"
	"slices"
	"strings"
)

type Platform struct {
	Name        string
	LoginURL    string
	CookiesFile string
	Domain      string
}

var platforms = map[string]Platform{
	"youtube":   {Name: "youtube", LoginURL: "https://accounts.google.com/signin", CookiesFile: "youtube_cookies.txt", Domain: "youtube.com"},
	"instagram": {Name: "instagram", LoginURL: "https://www.instagram.com/accounts/login/", CookiesFile: "instagram_cookies.txt", Domain: "instagram.com"},
	"facebook":  {Name: "facebook", LoginURL: "https://www.facebook.com/login/", CookiesFile: "facebook_cookies.txt", Domain: "facebook.com"},
	"kwai":      {Name: "kwai", LoginURL: "https://www.kwai.com/login", CookiesFile: "kwai_cookies.txt", Domain: "kwai.com"},
	"pinterest": {Name: "pinterest", LoginURL: "https://www.pinterest.com/login/", CookiesFile: "pinterest_cookies.txt", Domain: "pinterest.com"},
}

var browsers = []string{"chrome", "firefox", "opera", "edge", "safari"}

func LookupPlatform(name string) (Platform, bool) {
	p, ok := platforms[strings.ToLower(name)]
	return p, ok
}

// SupportedPlatforms returns the platform names with login automation, sorted.
func SupportedPlatforms() []string {
	names := make([]string, 0, len(platforms))
	for name := range platforms {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsSupportedBrowser reports whether cookies can be extracted from the named browser.
func IsSupportedBrowser(name string) bool {
	return slices.Contains(browsers, strings.ToLower(name))
}

func SupportedBrowsers() []string {
	return slices.Clone(browsers)
}

// ResolveCookiesPath returns name as-is when absolute, otherwise joined with dir.
func ResolveCookiesPath(dir, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}
