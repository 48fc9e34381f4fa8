package timeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/codefionn/proxymetric/proxymetric-srv/logger"
)

// The subset of HAR 1.2 the loader needs. See
// http://www.softwareishard.com/blog/har-12-spec/ for the full format.
type har struct {
	Log harLog `json:"log"`
}

type harLog struct {
	Version string     `json:"version"`
	Pages   []harPage  `json:"pages"`
	Entries []harEntry `json:"entries"`
}

type harPage struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type harEntry struct {
	Pageref  string      `json:"pageref"`
	Request  harRequest  `json:"request"`
	Response harResponse `json:"response"`
	// Chrome extension: "disk" or "memory" when the entry was a cache hit.
	FromCache string `json:"_fromCache,omitempty"`
}

type harRequest struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

type harResponse struct {
	Status  int        `json:"status"`
	Headers []harPair  `json:"headers"`
	Content harContent `json:"content"`
}

type harPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type harContent struct {
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text,omitempty"`
	Encoding string `json:"encoding,omitempty"`
}

// LoadHAR reads a HAR file. Entries are grouped by page title when the
// page has one, else by page id. Entries without a response status
// (aborted requests) are skipped.
func LoadHAR(path string) (*Capture, error) {
	file, err := openCleanPath(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			logger.Error("Error closing HAR file: %v", closeErr)
		}
	}()

	var data har
	if err := json.NewDecoder(file).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode HAR file: %w", err)
	}

	pageNames := make(map[string]string, len(data.Log.Pages))
	for _, p := range data.Log.Pages {
		name := p.Title
		if name == "" {
			name = p.ID
		}
		pageNames[p.ID] = name
	}

	pages := make(map[string][]*Response)
	all := make([]*Response, 0, len(data.Log.Entries))
	skipped := 0
	for _, entry := range data.Log.Entries {
		if entry.Response.Status <= 0 {
			skipped++
			continue
		}
		resp := responseFromHAR(entry)
		all = append(all, resp)
		if entry.Pageref != "" {
			name, ok := pageNames[entry.Pageref]
			if !ok {
				name = entry.Pageref
			}
			pages[name] = append(pages[name], resp)
		}
	}
	if skipped > 0 {
		logger.Warn("Skipped %d HAR entries without a response in %s", skipped, path)
	}

	logger.Debug("Loaded %d entries from HAR %s (version %s)", len(all), path, data.Log.Version)
	return &Capture{
		Events: NewEvents(all...),
		ByPage: snapshotPages(pages),
	}, nil
}

func responseFromHAR(entry harEntry) *Response {
	headers := make(map[string]string, len(entry.Response.Headers))
	names := make(map[string]string, len(entry.Response.Headers))
	for _, h := range entry.Response.Headers {
		// Repeated fields are combined into one comma-separated list.
		lk := strings.ToLower(h.Name)
		name, seen := names[lk]
		if !seen {
			names[lk] = h.Name
			headers[h.Name] = h.Value
			continue
		}
		headers[name] += ", " + h.Value
	}

	opts := []Option{WithStatus(entry.Response.Status)}
	if entry.Response.Content.Encoding == "base64" {
		opts = append(opts, WithBase64Body())
	}
	if entry.FromCache != "" {
		opts = append(opts, WithServedFromCache())
	}
	return NewResponse(entry.Request.URL, headers, []byte(entry.Response.Content.Text), opts...)
}
