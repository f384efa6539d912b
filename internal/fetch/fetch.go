// Package fetch downloads remote media referenced by URL at submission time.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"regexp"
	"time"
)

var httpClient = &http.Client{
	Timeout: 30 * time.Minute,
}

var filenameRe = regexp.MustCompile(`filename="?([^";]+)"?`)

// ErrTooLarge is returned when a remote file exceeds the size cap.
type ErrTooLarge struct {
	Limit int64
}

func (e *ErrTooLarge) Error() string {
	return fmt.Sprintf("remote file exceeds the %d MB limit", e.Limit/(1024*1024))
}

// Download fetches a remote file into a temp file and returns its path, the
// derived filename and the byte count. The caller owns the temp file.
func Download(ctx context.Context, rawURL string, maxSize int64) (string, string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return "", "", 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", "", 0, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", 0, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}
	if resp.ContentLength > 0 && maxSize > 0 && resp.ContentLength > maxSize {
		return "", "", 0, &ErrTooLarge{Limit: maxSize}
	}

	filename := filenameFromResponse(resp, rawURL)

	tmp, err := os.CreateTemp("", "transcribe-fetch-*"+path.Ext(filename))
	if err != nil {
		return "", "", 0, err
	}

	var reader io.Reader = resp.Body
	if maxSize > 0 {
		reader = io.LimitReader(resp.Body, maxSize+1)
	}
	size, err := io.Copy(tmp, reader)
	tmp.Close()
	if err != nil {
		os.Remove(tmp.Name())
		return "", "", 0, fmt.Errorf("download %s: %w", rawURL, err)
	}
	if maxSize > 0 && size > maxSize {
		os.Remove(tmp.Name())
		return "", "", 0, &ErrTooLarge{Limit: maxSize}
	}

	log.Printf("[fetch] downloaded %s (%d bytes) as %s", rawURL, size, filename)
	return tmp.Name(), filename, size, nil
}

func filenameFromResponse(resp *http.Response, rawURL string) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if m := filenameRe.FindStringSubmatch(cd); m != nil {
			return path.Base(m[1])
		}
	}
	if u, err := url.Parse(rawURL); err == nil {
		if name := path.Base(u.Path); name != "" && name != "/" && name != "." {
			return name
		}
	}
	return "downloaded_file"
}
