package timeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/codefionn/proxymetric/proxymetric-srv/logger"
)

// BadProxy is one entry of the browser's bad-proxy list. Retry is the time
// the proxy will be retried, in milliseconds since the epoch.
type BadProxy struct {
	Proxy string `json:"proxy"`
	Retry int64  `json:"retry"`
}

// ProxyInfo is the data-reduction proxy state the browser reported while
// the capture was taken. CapturedAt is when the state was read, in
// milliseconds since the epoch, or 0 if unknown.
type ProxyInfo struct {
	Enabled    bool       `json:"enabled"`
	BadProxies []BadProxy `json:"badProxies"`
	CapturedAt int64      `json:"captured_at,omitempty"`
}

// CaptureTime returns CapturedAt as a time, or the zero time if unknown.
func (p *ProxyInfo) CaptureTime() time.Time {
	if p == nil || p.CapturedAt <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(p.CapturedAt)
}

// Capture is a loaded capture file: the aggregate event snapshot, the same
// events grouped per page when the source knows about pages, and the proxy
// state if recorded.
type Capture struct {
	Events    Events
	ByPage    map[string]Events
	ProxyInfo *ProxyInfo
}

type captureFile struct {
	Events    []captureEvent `json:"events"`
	ProxyInfo *ProxyInfo     `json:"proxy_info,omitempty"`
}

type captureEvent struct {
	URL               string            `json:"url"`
	Page              string            `json:"page,omitempty"`
	Status            int               `json:"status,omitempty"`
	Headers           map[string]string `json:"headers"`
	Body              string            `json:"body,omitempty"`
	Base64EncodedBody bool              `json:"base64_encoded_body,omitempty"`
	ServedFromCache   bool              `json:"served_from_cache,omitempty"`
}

// LoadCapture reads a JSON capture file.
func LoadCapture(path string) (*Capture, error) {
	file, err := openCleanPath(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			logger.Error("Error closing capture file: %v", closeErr)
		}
	}()

	var data captureFile
	if err := json.NewDecoder(file).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode capture file: %w", err)
	}

	pages := make(map[string][]*Response)
	all := make([]*Response, 0, len(data.Events))
	for i, ev := range data.Events {
		if ev.URL == "" {
			return nil, fmt.Errorf("event at index %d has no url", i)
		}
		opts := []Option{}
		if ev.Status != 0 {
			opts = append(opts, WithStatus(ev.Status))
		}
		if ev.Base64EncodedBody {
			opts = append(opts, WithBase64Body())
		}
		if ev.ServedFromCache {
			opts = append(opts, WithServedFromCache())
		}
		resp := NewResponse(ev.URL, ev.Headers, []byte(ev.Body), opts...)
		all = append(all, resp)
		if ev.Page != "" {
			pages[ev.Page] = append(pages[ev.Page], resp)
		}
	}

	logger.Debug("Loaded %d events from capture %s", len(all), path)
	return &Capture{
		Events:    NewEvents(all...),
		ByPage:    snapshotPages(pages),
		ProxyInfo: data.ProxyInfo,
	}, nil
}

func snapshotPages(pages map[string][]*Response) map[string]Events {
	out := make(map[string]Events, len(pages))
	for page, responses := range pages {
		out[page] = NewEvents(responses...)
	}
	return out
}

func openCleanPath(path string) (*os.File, error) {
	cleanPath := filepath.Clean(path)
	if !filepath.IsAbs(cleanPath) {
		absPath, err := filepath.Abs(cleanPath)
		if err != nil {
			return nil, fmt.Errorf("invalid file path: %w", err)
		}
		cleanPath = absPath
	}
	file, err := os.Open(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cleanPath, err)
	}
	return file, nil
}
