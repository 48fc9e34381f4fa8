// Package classifier compiles exemption rules from the configuration into
// runtime matchers over captured responses.
package classifier

import (
	"fmt"
	"sort"
	"strings"

	ahocorasick "github.com/BobuSumisu/aho-corasick"
	"github.com/codefionn/proxymetric/proxymetric-srv/config"
	"github.com/codefionn/proxymetric/proxymetric-srv/logger"
	"github.com/codefionn/proxymetric/proxymetric-srv/timeline"
)

// ClassifierInput contains the response attributes rules can match on.
type ClassifierInput struct {
	host        string
	scheme      string
	status      int
	contentType string
}

// NewInput extracts the classifier input from a captured response.
func NewInput(resp *timeline.Response) ClassifierInput {
	return ClassifierInput{
		host:        resp.Host(),
		scheme:      resp.Scheme(),
		status:      resp.Status(),
		contentType: strings.ToLower(strings.TrimSpace(resp.Header("Content-Type"))),
	}
}

// Classifier defines the interface for all response classifiers.
type Classifier interface {
	Classify(input ClassifierInput) (bool, error)
}

// ClassifierAnd implements a logical AND operation across multiple classifiers.
type ClassifierAnd struct {
	Classifiers []Classifier
}

// Classify returns true if all classifiers in the AND group return true.
func (c *ClassifierAnd) Classify(input ClassifierInput) (bool, error) {
	for _, classifier := range c.Classifiers {
		result, err := classifier.Classify(input)
		if err != nil {
			return false, err
		}
		if !result {
			return false, nil
		}
	}
	return true, nil
}

// ClassifierOr implements a logical OR operation across multiple classifiers.
type ClassifierOr struct {
	Classifiers []Classifier
}

// Classify returns true if any classifier in the OR group returns true.
func (c *ClassifierOr) Classify(input ClassifierInput) (bool, error) {
	for _, classifier := range c.Classifiers {
		result, err := classifier.Classify(input)
		if err != nil {
			return false, err
		}
		if result {
			return true, nil
		}
	}
	return false, nil
}

// ClassifierNot negates the result of another classifier.
type ClassifierNot struct {
	Classifier Classifier
}

// Classify returns the negation of the underlying classifier's result.
func (c *ClassifierNot) Classify(input ClassifierInput) (bool, error) {
	result, err := c.Classifier.Classify(input)
	if err != nil {
		return false, err
	}
	return !result, nil
}

// ClassifierStrEq matches when the host equals Domain.
type ClassifierStrEq struct {
	Domain string
}

func (c *ClassifierStrEq) Classify(input ClassifierInput) (bool, error) {
	return input.host == c.Domain, nil
}

// ClassifierStrNotEq matches when the host differs from Domain.
type ClassifierStrNotEq struct {
	Domain string
}

func (c *ClassifierStrNotEq) Classify(input ClassifierInput) (bool, error) {
	return input.host != c.Domain, nil
}

// ClassifierStrContains matches when the host contains Domain.
type ClassifierStrContains struct {
	Domain string
}

func (c *ClassifierStrContains) Classify(input ClassifierInput) (bool, error) {
	return strings.Contains(input.host, c.Domain), nil
}

// ClassifierStrNotContains matches when the host does not contain Domain.
type ClassifierStrNotContains struct {
	Domain string
}

func (c *ClassifierStrNotContains) Classify(input ClassifierInput) (bool, error) {
	return !strings.Contains(input.host, c.Domain), nil
}

// ClassifierStrIs matches Domain itself and any of its subdomains.
type ClassifierStrIs struct {
	Domain string
}

func (c *ClassifierStrIs) Classify(input ClassifierInput) (bool, error) {
	return isDomainOrSubdomain(input.host, c.Domain), nil
}

// ClassifierScheme matches the URL scheme.
type ClassifierScheme struct {
	Scheme string
}

func (c *ClassifierScheme) Classify(input ClassifierInput) (bool, error) {
	return input.scheme == c.Scheme, nil
}

// ClassifierStatus matches a status code or an inclusive range.
type ClassifierStatus struct {
	Min int
	Max int
}

func (c *ClassifierStatus) Classify(input ClassifierInput) (bool, error) {
	return input.status >= c.Min && input.status <= c.Max, nil
}

// ClassifierContentType matches a Content-Type prefix. Responses without a
// Content-Type never match.
type ClassifierContentType struct {
	Prefix string
}

func (c *ClassifierContentType) Classify(input ClassifierInput) (bool, error) {
	if input.contentType == "" {
		return false, nil
	}
	return strings.HasPrefix(input.contentType, c.Prefix), nil
}

// ClassifierRef represents a reference to another classifier by ID.
type ClassifierRef struct {
	Id          string
	Classifiers map[string]Classifier
}

// Classify looks up the referenced classifier by ID and delegates classification to it.
func (c *ClassifierRef) Classify(input ClassifierInput) (bool, error) {
	classifier, ok := c.Classifiers[c.Id]
	if !ok {
		return false, fmt.Errorf("classifier with ID '%s' not found", c.Id)
	}
	return classifier.Classify(input)
}

// ClassifierTrue always returns true.
type ClassifierTrue struct{}

func (c *ClassifierTrue) Classify(ClassifierInput) (bool, error) { return true, nil }

// ClassifierFalse always returns false.
type ClassifierFalse struct{}

func (c *ClassifierFalse) Classify(ClassifierInput) (bool, error) { return false, nil }

// ClassifierOrDomains is an OR over domain/equal rules backed by one
// Aho-Corasick trie.
type ClassifierOrDomains struct {
	Trie       *ahocorasick.Trie
	DomainList []string
}

// Classify returns true if the host equals any domain in the list.
func (c *ClassifierOrDomains) Classify(input ClassifierInput) (bool, error) {
	if c.Trie == nil {
		return false, nil
	}
	for _, match := range c.Trie.MatchString(input.host) {
		if input.host == c.DomainList[match.Pattern()] {
			return true, nil
		}
	}
	return false, nil
}

// ClassifierOrDomainsIs is an OR over domain/is rules backed by one
// Aho-Corasick trie.
type ClassifierOrDomainsIs struct {
	Trie       *ahocorasick.Trie
	DomainList []string
}

// Classify returns true if the host is any listed domain or a subdomain of one.
func (c *ClassifierOrDomainsIs) Classify(input ClassifierInput) (bool, error) {
	return matchDomainTrie(c.Trie, c.DomainList, input.host), nil
}

func matchDomainTrie(trie *ahocorasick.Trie, domains []string, host string) bool {
	if trie == nil {
		return false
	}
	for _, match := range trie.MatchString(host) {
		if isDomainOrSubdomain(host, domains[match.Pattern()]) {
			return true
		}
	}
	return false
}

func isDomainOrSubdomain(host, domain string) bool {
	if host == domain {
		return true
	}
	return len(host) > len(domain) &&
		strings.HasSuffix(host, domain) &&
		host[len(host)-len(domain)-1] == '.'
}

func buildTrie(domains []string, what string) *ahocorasick.Trie {
	if len(domains) == 0 {
		return nil
	}
	trie := ahocorasick.NewTrieBuilder().AddStrings(domains).Build()
	logger.Debug("Created Aho-Corasick trie with %d %s", len(domains), what)
	return trie
}

// tryOptimizeOrClassifier collapses an OR whose children are all domain
// rules with the same operation (or all domains files) into a single trie
// lookup. It returns nil when the OR cannot be collapsed.
func tryOptimizeOrClassifier(orClassifier *config.ClassifierOr) (Classifier, error) {
	var domains []string
	var filePaths []string
	allEqual, allIs := true, true

	for _, sub := range orClassifier.Classifiers {
		switch c := sub.(type) {
		case *config.ClassifierDomain:
			switch c.Op {
			case config.ClassifierOpEqual:
				allIs = false
			case config.ClassifierOpIs:
				allEqual = false
			default:
				return nil, nil
			}
			domains = append(domains, c.Domain)
		case *config.ClassifierDomainsFile:
			allEqual = false
			filePaths = append(filePaths, c.FilePath)
		default:
			return nil, nil
		}
	}

	if len(orClassifier.Classifiers) < 2 {
		return nil, nil
	}

	if allEqual {
		return &ClassifierOrDomains{
			Trie:       buildTrie(domains, "equal domains"),
			DomainList: domains,
		}, nil
	}

	if allIs {
		// Domains files have "is" semantics, so they merge into one trie.
		combined := append([]string(nil), domains...)
		for _, path := range filePaths {
			loaded, err := LoadDomainsFile(path)
			if err != nil {
				return nil, err
			}
			combined = append(combined, loaded...)
		}
		return &ClassifierOrDomainsIs{
			Trie:       buildTrie(combined, "domains"),
			DomainList: combined,
		}, nil
	}

	return nil, nil
}

// CompileClassifier compiles a config.Classifier into a runtime Classifier.
func CompileClassifier(classifier config.Classifier) (Classifier, error) {
	if classifier == nil {
		return nil, fmt.Errorf("nil classifier provided")
	}

	switch c := classifier.(type) {
	case *config.ClassifierAnd:
		children, err := CompileClassifiers(c.Classifiers)
		if err != nil {
			return nil, err
		}
		return &ClassifierAnd{Classifiers: children}, nil
	case *config.ClassifierOr:
		optimized, err := tryOptimizeOrClassifier(c)
		if err != nil {
			return nil, err
		}
		if optimized != nil {
			return optimized, nil
		}
		children, err := CompileClassifiers(c.Classifiers)
		if err != nil {
			return nil, err
		}
		return &ClassifierOr{Classifiers: children}, nil
	case *config.ClassifierNot:
		child, err := CompileClassifier(c.Classifier)
		if err != nil {
			return nil, err
		}
		return &ClassifierNot{Classifier: child}, nil
	case *config.ClassifierDomain:
		switch c.Op {
		case config.ClassifierOpEqual:
			return &ClassifierStrEq{Domain: c.Domain}, nil
		case config.ClassifierOpNotEqual:
			return &ClassifierStrNotEq{Domain: c.Domain}, nil
		case config.ClassifierOpContains:
			return &ClassifierStrContains{Domain: c.Domain}, nil
		case config.ClassifierOpNotContains:
			return &ClassifierStrNotContains{Domain: c.Domain}, nil
		case config.ClassifierOpIs:
			return &ClassifierStrIs{Domain: c.Domain}, nil
		default:
			return nil, fmt.Errorf("unsupported domain classifier operation: %v", c.Op)
		}
	case *config.ClassifierRef:
		// Populated with the named classifiers by CompileClassifiersMap or Link.
		return &ClassifierRef{Id: c.Id, Classifiers: make(map[string]Classifier)}, nil
	case *config.ClassifierTrue:
		return &ClassifierTrue{}, nil
	case *config.ClassifierFalse:
		return &ClassifierFalse{}, nil
	case *config.ClassifierDomainsFile:
		domains, err := LoadDomainsFile(c.FilePath)
		if err != nil {
			return nil, err
		}
		return &ClassifierOrDomainsIs{
			Trie:       buildTrie(domains, "domains from "+c.FilePath),
			DomainList: domains,
		}, nil
	case *config.ClassifierScheme:
		return &ClassifierScheme{Scheme: c.Scheme}, nil
	case *config.ClassifierStatus:
		maxStatus := c.Max
		if maxStatus == 0 {
			maxStatus = c.Status
		}
		return &ClassifierStatus{Min: c.Status, Max: maxStatus}, nil
	case *config.ClassifierContentType:
		return &ClassifierContentType{Prefix: strings.ToLower(c.Prefix)}, nil
	default:
		return nil, fmt.Errorf("unsupported classifier type: %v", classifier.Type())
	}
}

// CompileClassifiers compiles a slice of config.Classifier into runtime Classifiers.
func CompileClassifiers(classifiers []config.Classifier) ([]Classifier, error) {
	var result []Classifier
	for _, classifier := range classifiers {
		c, err := CompileClassifier(classifier)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, nil
}

// CompileClassifiersMap compiles named classifiers and links references
// between them.
func CompileClassifiersMap(classifiers map[string]config.Classifier) (map[string]Classifier, error) {
	result := make(map[string]Classifier, len(classifiers))
	for name, classifier := range classifiers {
		c, err := CompileClassifier(classifier)
		if err != nil {
			return nil, fmt.Errorf("classifier %q: %w", name, err)
		}
		result[name] = c
	}
	for _, c := range result {
		Link(c, result)
	}
	if err := checkRefCycles(result); err != nil {
		return nil, err
	}
	return result, nil
}

// checkRefCycles rejects named classifiers that reach themselves through
// references, which would recurse forever at classification time.
func checkRefCycles(named map[string]Classifier) error {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int, len(named))

	var visit func(name string, path []string) error
	var walk func(c Classifier, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case visiting:
			return fmt.Errorf("classifier reference cycle: %s", strings.Join(append(path, name), " -> "))
		case done:
			return nil
		}
		c, ok := named[name]
		if !ok {
			return nil
		}
		state[name] = visiting
		if err := walk(c, append(path, name)); err != nil {
			return err
		}
		state[name] = done
		return nil
	}
	walk = func(c Classifier, path []string) error {
		switch t := c.(type) {
		case *ClassifierRef:
			return visit(t.Id, path)
		case *ClassifierAnd:
			for _, child := range t.Classifiers {
				if err := walk(child, path); err != nil {
					return err
				}
			}
		case *ClassifierOr:
			for _, child := range t.Classifiers {
				if err := walk(child, path); err != nil {
					return err
				}
			}
		case *ClassifierNot:
			return walk(t.Classifier, path)
		}
		return nil
	}

	names := make([]string, 0, len(named))
	for name := range named {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := visit(name, nil); err != nil {
			return err
		}
	}
	return nil
}

// Link points every reference inside c, at any depth, to named.
func Link(c Classifier, named map[string]Classifier) {
	switch t := c.(type) {
	case *ClassifierRef:
		t.Classifiers = named
	case *ClassifierAnd:
		for _, child := range t.Classifiers {
			Link(child, named)
		}
	case *ClassifierOr:
		for _, child := range t.Classifiers {
			Link(child, named)
		}
	case *ClassifierNot:
		Link(t.Classifier, named)
	}
}

// CompileExemptions compiles the configured exemption rule with the named
// classifiers available to references. It returns nil when no rule is
// configured.
func CompileExemptions(cfg *config.Config) (Classifier, error) {
	if cfg.Exemptions == nil {
		return nil, nil
	}
	named, err := CompileClassifiersMap(cfg.Classifiers)
	if err != nil {
		return nil, err
	}
	exemptions, err := CompileClassifier(cfg.Exemptions)
	if err != nil {
		return nil, fmt.Errorf("exemptions: %w", err)
	}
	Link(exemptions, named)
	return exemptions, nil
}
