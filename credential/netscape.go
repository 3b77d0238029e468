package credential

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Cookie is one browser cookie as reported by the login tool.
type Cookie struct {
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Secure   bool    `json:"secure"`
	HTTPOnly bool    `json:"httpOnly"`
	Expiry   float64 `json:"expiry,omitempty"`
}

const netscapeHeader = "# Netscape HTTP Cookie File\n# This is a generated file! Do not edit.\n\n"

// filterDomain keeps the cookies whose domain contains domain.
func filterDomain(cookies []Cookie, domain string) []Cookie {
	var out []Cookie
	for _, c := range cookies {
		if strings.Contains(c.Domain, domain) {
			out = append(out, c)
		}
	}
	return out
}

// WriteNetscapeFile writes cookies in Netscape format to path. The content is
// written to a temp file in the same directory and renamed into place, so a
// reader sees either the previous file or the complete new one.
func WriteNetscapeFile(path string, cookies []Cookie) error {
	if len(cookies) == 0 {
		return fmt.Errorf("no cookies to write")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create cookie dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp cookie file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	w.WriteString(netscapeHeader)
	for _, c := range cookies {
		cookiePath := c.Path
		if cookiePath == "" {
			cookiePath = "/"
		}
		fmt.Fprintf(w, "%s\tTRUE\t%s\t%s\t%d\t%s\t%s\n",
			c.Domain, cookiePath, boolField(c.Secure), int64(c.Expiry), c.Name, c.Value)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("write cookie file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync cookie file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cookie file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("chmod cookie file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace cookie file: %w", err)
	}
	return nil
}

func boolField(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

// VerifyFile reports whether path is an existing, non-empty regular file.
func VerifyFile(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// CountCookies returns the number of cookie lines in a Netscape file.
func CountCookies(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || (strings.HasPrefix(line, "#") && !strings.HasPrefix(line, "#HttpOnly_")) {
			continue
		}
		if len(strings.Split(line, "\t")) == 7 {
			n++
		}
	}
	return n, sc.Err()
}

