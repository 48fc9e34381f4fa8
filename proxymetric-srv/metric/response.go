package metric

import (
	"strings"

	"github.com/codefionn/proxymetric/proxymetric-srv/classifier"
	"github.com/codefionn/proxymetric/proxymetric-srv/config"
	"github.com/codefionn/proxymetric/proxymetric-srv/logger"
	"github.com/codefionn/proxymetric/proxymetric-srv/timeline"
)

// Header names inspected by the classifier.
const (
	ViaHeader        = "Via"
	MalwareURLHeader = "X-Malware-Url"
	LocationHeader   = "Location"
)

// ResponseClassifier decides whether captured responses should carry, and
// do carry, the compression proxy's Via marker. All methods are pure and
// never fail.
type ResponseClassifier struct {
	viaMarker        string
	deprecatedMarker string
	exemptions       classifier.Classifier
}

// NewResponseClassifier builds a classifier for the given markers. An empty
// marker falls back to the default token. exemptions may be nil.
func NewResponseClassifier(markers config.MarkerConfig, exemptions classifier.Classifier) *ResponseClassifier {
	rc := &ResponseClassifier{
		viaMarker:        strings.TrimSpace(markers.Via),
		deprecatedMarker: strings.TrimSpace(markers.DeprecatedVia),
		exemptions:       exemptions,
	}
	if rc.viaMarker == "" {
		rc.viaMarker = config.DefaultViaMarker
	}
	if rc.deprecatedMarker == "" {
		rc.deprecatedMarker = config.DefaultDeprecatedViaMarker
	}
	return rc
}

// ShouldHaveProxyMarker reports whether resp is expected to have passed
// through the proxy. Only plain HTTP requests that reached the network are
// proxied. 304s, cache hits, header-less records and safebrowsing redirects
// are exempt, as is anything matched by the exemption rules.
func (rc *ResponseClassifier) ShouldHaveProxyMarker(resp *timeline.Response) bool {
	if resp.Scheme() != "http" {
		return false
	}
	if resp.Status() == 304 {
		return false
	}
	if resp.ServedFromCache() {
		return false
	}
	if !resp.HasHeaders() {
		return false
	}
	if isRedirect(resp.Status()) && resp.HasHeader(MalwareURLHeader) {
		return false
	}
	if rc.isExempt(resp) {
		return false
	}
	return true
}

func (rc *ResponseClassifier) isExempt(resp *timeline.Response) bool {
	if rc.exemptions == nil {
		return false
	}
	exempt, err := rc.exemptions.Classify(classifier.NewInput(resp))
	if err != nil {
		// A broken rule must not hide a missing marker.
		logger.Warn("Exemption rule failed for %s: %v", resp.URL(), err)
		return false
	}
	return exempt
}

// HasProxyMarker reports whether the Via header names the proxy. Each
// comma-separated segment is compared whole against the deprecated token,
// and its received-by field against the current token.
func (rc *ResponseClassifier) HasProxyMarker(resp *timeline.Response) bool {
	via := resp.Header(ViaHeader)
	if via == "" {
		return false
	}
	for _, segment := range strings.Split(via, ",") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		if segment == rc.deprecatedMarker {
			return true
		}
		// received-protocol received-by [comment]
		fields := strings.Fields(segment)
		if len(fields) >= 2 && fields[1] == rc.viaMarker {
			return true
		}
	}
	return false
}

// IsValidByViaMarker reports whether resp is consistent with the proxy:
// either it was not expected to carry the marker, or it does.
func (rc *ResponseClassifier) IsValidByViaMarker(resp *timeline.Response) bool {
	return !rc.ShouldHaveProxyMarker(resp) || rc.HasProxyMarker(resp)
}

// IsSafebrowsingResponse reports whether resp is the proxy's safebrowsing
// interstitial redirect: a 307 back to the same URL with X-Malware-Url set.
func (rc *ResponseClassifier) IsSafebrowsingResponse(resp *timeline.Response) bool {
	return resp.Status() == 307 &&
		strings.TrimSpace(resp.Header(MalwareURLHeader)) == "1" &&
		rc.HasProxyMarker(resp) &&
		resp.Header(LocationHeader) == resp.URL()
}

func isRedirect(status int) bool {
	return status >= 300 && status < 400
}
