package metric

import (
	"testing"

	"github.com/codefionn/proxymetric/proxymetric-srv/classifier"
	"github.com/codefionn/proxymetric/proxymetric-srv/config"
	"github.com/codefionn/proxymetric/proxymetric-srv/timeline"
	"github.com/stretchr/testify/assert"
)

func TestHasProxyMarker(t *testing.T) {
	rc := NewResponseClassifier(config.MarkerConfig{}, nil)

	tests := []struct {
		name string
		via  string
		want bool
	}{
		{"current token", "1.1 Chrome-Compression-Proxy", true},
		{"current token with comment", "1.1 Chrome-Compression-Proxy (cached)", true},
		{"current token later in list", "1.0 squid, 1.1 Chrome-Compression-Proxy", true},
		{"combined repeated fields", "1.1 some-cdn, 1.1 Chrome-Compression-Proxy, 1.0 edge", true},
		{"deprecated token", "1.1 Chrome Compression Proxy", true},
		{"deprecated token in list", "1.1 Chrome Compression Proxy,other-via", true},
		{"deprecated token padded", "  1.1 Chrome Compression Proxy  , x", true},
		{"absent", "1.1 squid", false},
		{"empty", "", false},
		{"token prefix only", "1.1 Chrome-Compression-Proxy-Fake", false},
		{"token as protocol", "Chrome-Compression-Proxy", false},
		{"deprecated with suffix", "1.1 Chrome Compression Proxy v2", false},
		{"substring in another segment", "1.1 my.Chrome-Compression-Proxy.example", false},
		{"commas only", ",,", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{"Content-Type": "text/html"}
			if tt.via != "" {
				headers["Via"] = tt.via
			}
			resp := timeline.NewResponse("http://a.test/", headers, nil)
			assert.Equal(t, tt.want, rc.HasProxyMarker(resp))
		})
	}
}

func TestHasProxyMarker_CustomMarkers(t *testing.T) {
	rc := NewResponseClassifier(config.MarkerConfig{Via: "My-Proxy", DeprecatedVia: "1.0 Old Proxy"}, nil)

	assert.True(t, rc.HasProxyMarker(timeline.NewResponse("http://a.test/", map[string]string{"via": "2 My-Proxy"}, nil)))
	assert.True(t, rc.HasProxyMarker(timeline.NewResponse("http://a.test/", map[string]string{"VIA": "1.0 Old Proxy"}, nil)))
	assert.False(t, rc.HasProxyMarker(timeline.NewResponse("http://a.test/", map[string]string{"Via": "1.1 Chrome-Compression-Proxy"}, nil)))
}

func TestShouldHaveProxyMarker(t *testing.T) {
	html := map[string]string{"Content-Type": "text/html"}

	tests := []struct {
		name string
		resp *timeline.Response
		want bool
	}{
		{"plain http", timeline.NewResponse("http://a.test/", html, nil), true},
		{"https", timeline.NewResponse("https://a.test/", html, nil), false},
		{"data url", timeline.NewResponse("data:text/html,hi", html, nil), false},
		{"websocket", timeline.NewResponse("ws://a.test/socket", html, nil), false},
		{"not modified", timeline.NewResponse("http://a.test/", html, nil, timeline.WithStatus(304)), false},
		{"cache hit", timeline.NewResponse("http://a.test/", html, nil, timeline.WithServedFromCache()), false},
		{"no headers", timeline.NewResponse("http://a.test/", nil, nil), false},
		{"malware redirect", timeline.NewResponse("http://a.test/", map[string]string{"X-Malware-Url": "1"}, nil, timeline.WithStatus(307)), false},
		{"malware header without redirect", timeline.NewResponse("http://a.test/", map[string]string{"X-Malware-Url": "1"}, nil), true},
		{"plain redirect", timeline.NewResponse("http://a.test/", map[string]string{"Location": "/b"}, nil, timeline.WithStatus(302)), true},
	}

	rc := NewResponseClassifier(config.MarkerConfig{}, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rc.ShouldHaveProxyMarker(tt.resp))
			if !tt.want {
				assert.True(t, rc.IsValidByViaMarker(tt.resp), "exempt responses are always valid")
			}
		})
	}
}

func TestShouldHaveProxyMarker_Exemptions(t *testing.T) {
	exempt := &classifier.ClassifierContentType{Prefix: "video/"}
	rc := NewResponseClassifier(config.MarkerConfig{}, exempt)

	video := timeline.NewResponse("http://a.test/v", map[string]string{"Content-Type": "video/mp4"}, nil)
	page := timeline.NewResponse("http://a.test/", map[string]string{"Content-Type": "text/html"}, nil)

	assert.False(t, rc.ShouldHaveProxyMarker(video))
	assert.True(t, rc.IsValidByViaMarker(video))
	assert.True(t, rc.ShouldHaveProxyMarker(page))
	assert.False(t, rc.IsValidByViaMarker(page))

	broken := NewResponseClassifier(config.MarkerConfig{}, &classifier.ClassifierRef{Id: "missing"})
	assert.True(t, broken.ShouldHaveProxyMarker(page), "a failing rule does not exempt")
}

func TestIsValidByViaMarker(t *testing.T) {
	rc := NewResponseClassifier(config.MarkerConfig{}, nil)

	assert.False(t, rc.IsValidByViaMarker(eventHTMLProxy))
	assert.True(t, rc.IsValidByViaMarker(eventHTMLProxyDeprecatedVia))
	assert.True(t, rc.IsValidByViaMarker(eventImageProxyCached))
	assert.False(t, rc.IsValidByViaMarker(eventImageDirect))
	assert.True(t, rc.IsValidByViaMarker(eventMalwareProxy))
}

func TestIsSafebrowsingResponse(t *testing.T) {
	rc := NewResponseClassifier(config.MarkerConfig{}, nil)
	assert.True(t, rc.IsSafebrowsingResponse(eventMalwareProxy))

	base := map[string]string{
		"X-Malware-Url": "1",
		"Via":           "1.1 Chrome-Compression-Proxy",
		"Location":      "http://test.malware",
	}
	without := func(key string) map[string]string {
		out := make(map[string]string)
		for k, v := range base {
			if k != key {
				out[k] = v
			}
		}
		return out
	}

	tests := []struct {
		name string
		resp *timeline.Response
	}{
		{"wrong status", timeline.NewResponse("http://test.malware", base, nil, timeline.WithStatus(302))},
		{"no malware header", timeline.NewResponse("http://test.malware", without("X-Malware-Url"), nil, timeline.WithStatus(307))},
		{"no via", timeline.NewResponse("http://test.malware", without("Via"), nil, timeline.WithStatus(307))},
		{"other location", timeline.NewResponse("http://test.other", base, nil, timeline.WithStatus(307))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, rc.IsSafebrowsingResponse(tt.resp))
		})
	}
}
