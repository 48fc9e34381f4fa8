package config

import (
	"bytes"
	"os"

	"github.com/codefionn/proxymetric/proxymetric-srv/logger"
)

// HasChanged returns true if the configuration differs from another config.
// All fields are compared explicitly without reflection.
func HasChanged(a, b *Config) bool {
	if a == nil || b == nil {
		return a != b
	}
	if a.LogLevel != b.LogLevel || a.PerResource != b.PerResource {
		return true
	}
	if a.Markers != b.Markers {
		return true
	}
	if a.Bypass != b.Bypass {
		return true
	}
	if a.Statistics != b.Statistics {
		return true
	}
	if !classifiersMapEqual(a.Classifiers, b.Classifiers) {
		return true
	}
	if !classifierEqual(a.Exemptions, b.Exemptions) {
		return true
	}
	return false
}

// classifierEqual compares two Classifier interfaces for equality.
func classifierEqual(a, b Classifier) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Type() != b.Type() {
		return false
	}
	switch ta := a.(type) {
	case *ClassifierDomainsFile:
		tb := b.(*ClassifierDomainsFile)
		if ta.FilePath == tb.FilePath {
			return true
		}
		taContent, err := os.ReadFile(ta.FilePath)
		if err != nil {
			logger.Error("Failed to read domains file: %v (file: %s)", err, ta.FilePath)
			return false
		}
		tbContent, err := os.ReadFile(tb.FilePath)
		if err != nil {
			logger.Error("Failed to read domains file: %v (file: %s)", err, tb.FilePath)
			return false
		}
		return bytes.Equal(taContent, tbContent)
	case *ClassifierAnd:
		return classifierSliceEqual(ta.Classifiers, b.(*ClassifierAnd).Classifiers)
	case *ClassifierOr:
		return classifierSliceEqual(ta.Classifiers, b.(*ClassifierOr).Classifiers)
	case *ClassifierNot:
		return classifierEqual(ta.Classifier, b.(*ClassifierNot).Classifier)
	case *ClassifierDomain:
		tb := b.(*ClassifierDomain)
		return ta.Op == tb.Op && ta.Domain == tb.Domain
	case *ClassifierRef:
		return ta.Id == b.(*ClassifierRef).Id
	case *ClassifierTrue, *ClassifierFalse:
		return true
	case *ClassifierScheme:
		return ta.Scheme == b.(*ClassifierScheme).Scheme
	case *ClassifierStatus:
		return *ta == *b.(*ClassifierStatus)
	case *ClassifierContentType:
		return ta.Prefix == b.(*ClassifierContentType).Prefix
	default:
		return false
	}
}

func classifierSliceEqual(a, b []Classifier) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !classifierEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// classifiersMapEqual compares two maps of Classifier for equality.
func classifiersMapEqual(a, b map[string]Classifier) bool {
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok || !classifierEqual(va, vb) {
			return false
		}
	}
	return true
}
