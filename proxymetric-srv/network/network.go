// Package network computes transfer-size metrics over captured responses:
// bytes on the wire, original size before proxy compression, and the
// resulting data saving.
package network

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/codefionn/proxymetric/proxymetric-srv/logger"
	"github.com/codefionn/proxymetric/proxymetric-srv/results"
	"github.com/codefionn/proxymetric/proxymetric-srv/timeline"
)

// OriginalContentLengthHeader carries the uncompressed size set by the proxy.
const OriginalContentLengthHeader = "X-Original-Content-Length"

// ContentLength estimates the number of body bytes that crossed the wire.
// Captured text bodies have already been decoded by the browser, so a
// Content-Encoding is re-applied to recover the compressed size. Anything
// that cannot be measured falls back to the Content-Length header, then to
// the raw body length.
func ContentLength(resp *timeline.Response) int64 {
	cl, err := contentLengthFromBody(resp)
	if err == nil {
		return cl
	}
	logger.Warn("Could not measure body of %s: %v", resp.URL(), err)
	if header := resp.Header("Content-Length"); header != "" {
		if n, perr := strconv.ParseInt(strings.TrimSpace(header), 10, 64); perr == nil && n >= 0 {
			return n
		}
	}
	return int64(len(resp.Body()))
}

func contentLengthFromBody(resp *timeline.Response) (int64, error) {
	if resp.Base64Encoded() {
		body, err := resp.DecodedBody()
		if err != nil {
			return 0, err
		}
		return int64(len(body)), nil
	}

	body := resp.Body()
	if len(body) == 0 {
		return 0, nil
	}

	encoding := strings.ToLower(strings.TrimSpace(resp.Header("Content-Encoding")))
	switch encoding {
	case "", "identity":
		return int64(len(body)), nil
	case "gzip", "x-gzip":
		return compressedLength(body, func(w io.Writer) (io.WriteCloser, error) {
			return gzip.NewWriterLevel(w, gzip.BestCompression)
		})
	case "deflate":
		return compressedLength(body, func(w io.Writer) (io.WriteCloser, error) {
			return zlib.NewWriterLevel(w, zlib.BestCompression)
		})
	case "br":
		return compressedLength(body, func(w io.Writer) (io.WriteCloser, error) {
			return brotli.NewWriterLevel(w, brotli.BestCompression), nil
		})
	default:
		return 0, fmt.Errorf("unknown Content-Encoding %q", encoding)
	}
}

func compressedLength(body []byte, newWriter func(io.Writer) (io.WriteCloser, error)) (int64, error) {
	var buf bytes.Buffer
	w, err := newWriter(&buf)
	if err != nil {
		return 0, err
	}
	if _, err := w.Write(body); err != nil {
		return 0, fmt.Errorf("failed to compress body: %w", err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("failed to finish compression: %w", err)
	}
	return int64(buf.Len()), nil
}

// HasOriginalContentLength reports whether the proxy annotated the response
// with its uncompressed size.
func HasOriginalContentLength(resp *timeline.Response) bool {
	return resp.HasHeader(OriginalContentLengthHeader)
}

// OriginalContentLength returns the proxy-reported uncompressed size, or 0
// when the header is absent or malformed.
func OriginalContentLength(resp *timeline.Response) int64 {
	v := strings.TrimSpace(resp.Header(OriginalContentLengthHeader))
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// DataSavingRate returns the fraction of bytes saved for one response, in
// [0,1] for well-formed data. Cache hits save nothing on the network.
func DataSavingRate(resp *timeline.Response) float64 {
	if resp.ServedFromCache() || !HasOriginalContentLength(resp) {
		return 0
	}
	ocl := OriginalContentLength(resp)
	if ocl <= 0 {
		return 0
	}
	return float64(ocl-ContentLength(resp)) / float64(ocl)
}

// Metric reports content length totals for a set of responses.
type Metric struct {
	// PerResource adds one value per response, keyed by its URL.
	PerResource bool
	// ComputeDataSaving adds the data_saving percentage.
	ComputeDataSaving bool
}

// NewMetric returns a metric that reports totals and data saving.
func NewMetric() *Metric {
	return &Metric{ComputeDataSaving: true}
}

// AddResults writes content_length, original_content_length and, when
// enabled, data_saving for the snapshot. Cache hits are ignored.
func (m *Metric) AddResults(ctx context.Context, page string, events timeline.Events, res results.Results) error {
	var contentLength, originalContentLength int64

	for _, resp := range events.Responses() {
		if resp.ServedFromCache() {
			continue
		}
		resource := resp.URL()
		cl := ContentLength(resp)

		if HasOriginalContentLength(resp) {
			ocl := OriginalContentLength(resp)
			if ocl < cl {
				logger.Warn("original content length (%d) is less than content length (%d) for resource %s", ocl, cl, resource)
			}
			if m.PerResource {
				if err := res.Add(ctx, page, "resource_data_saving_"+resource, results.UnitPercent, DataSavingRate(resp)*100); err != nil {
					return err
				}
				if err := res.Add(ctx, page, "resource_original_content_length_"+resource, results.UnitBytes, ocl); err != nil {
					return err
				}
			}
			originalContentLength += ocl
		} else {
			originalContentLength += cl
		}

		if m.PerResource {
			if err := res.Add(ctx, page, "resource_content_length_"+resource, results.UnitBytes, cl); err != nil {
				return err
			}
		}
		contentLength += cl
	}

	if err := res.Add(ctx, page, "content_length", results.UnitBytes, contentLength); err != nil {
		return err
	}
	if err := res.Add(ctx, page, "original_content_length", results.UnitBytes, originalContentLength); err != nil {
		return err
	}
	if !m.ComputeDataSaving {
		return nil
	}

	saving := 0.0
	if originalContentLength > 0 && originalContentLength >= contentLength {
		saving = float64(originalContentLength-contentLength) * 100 / float64(originalContentLength)
	}
	return res.Add(ctx, page, "data_saving", results.UnitPercent, saving)
}
