package config

// ClassifierType defines the type of an exemption rule.
type ClassifierType int

const (
	// ClassifierTypeAnd represents a logical AND operation across multiple classifiers.
	ClassifierTypeAnd ClassifierType = iota
	// ClassifierTypeOr represents a logical OR operation across multiple classifiers.
	ClassifierTypeOr
	// ClassifierTypeNot represents a logical NOT operation on a classifier.
	ClassifierTypeNot
	// ClassifierTypeDomain matches against the response host.
	ClassifierTypeDomain
	// ClassifierTypeRef references another classifier by name.
	ClassifierTypeRef
	// ClassifierTypeTrue always returns true.
	ClassifierTypeTrue
	// ClassifierTypeFalse always returns false.
	ClassifierTypeFalse
	// ClassifierTypeDomainsFile matches against domains loaded from a file.
	ClassifierTypeDomainsFile
	// ClassifierTypeScheme matches the URL scheme.
	ClassifierTypeScheme
	// ClassifierTypeStatus matches the HTTP status code.
	ClassifierTypeStatus
	// ClassifierTypeContentType matches a Content-Type prefix.
	ClassifierTypeContentType
)

// ClassifierOp defines the operation type for string comparisons.
type ClassifierOp int

const (
	// ClassifierOpEqual checks for equality.
	ClassifierOpEqual ClassifierOp = iota
	// ClassifierOpNotEqual checks for inequality.
	ClassifierOpNotEqual
	// ClassifierOpContains checks if string contains substring.
	ClassifierOpContains
	// ClassifierOpNotContains checks if string does not contain substring.
	ClassifierOpNotContains
	// ClassifierOpIs matches the domain itself or any of its subdomains.
	ClassifierOpIs
)

// Classifier defines the interface for all classifier configurations.
type Classifier interface {
	Type() ClassifierType
}

// ClassifierAnd matches when every child matches.
type ClassifierAnd struct {
	Classifiers []Classifier
}

func (c *ClassifierAnd) Type() ClassifierType { return ClassifierTypeAnd }

// ClassifierOr matches when any child matches.
type ClassifierOr struct {
	Classifiers []Classifier
}

func (c *ClassifierOr) Type() ClassifierType { return ClassifierTypeOr }

// ClassifierNot negates the result of another classifier.
type ClassifierNot struct {
	Classifier Classifier
}

func (c *ClassifierNot) Type() ClassifierType { return ClassifierTypeNot }

// ClassifierDomain matches the response host against a domain.
type ClassifierDomain struct {
	Op     ClassifierOp
	Domain string
}

func (c *ClassifierDomain) Type() ClassifierType { return ClassifierTypeDomain }

// ClassifierRef references another classifier by name.
type ClassifierRef struct {
	Id string
}

func (c *ClassifierRef) Type() ClassifierType { return ClassifierTypeRef }

// ClassifierTrue always matches.
type ClassifierTrue struct{}

func (c *ClassifierTrue) Type() ClassifierType { return ClassifierTypeTrue }

// ClassifierFalse never matches.
type ClassifierFalse struct{}

func (c *ClassifierFalse) Type() ClassifierType { return ClassifierTypeFalse }

// ClassifierDomainsFile holds the path to a file containing domains for matching.
// Loading and matching happen in the classifier package.
type ClassifierDomainsFile struct {
	FilePath string
}

func (c *ClassifierDomainsFile) Type() ClassifierType { return ClassifierTypeDomainsFile }

// ClassifierScheme matches the lower-cased URL scheme exactly.
type ClassifierScheme struct {
	Scheme string
}

func (c *ClassifierScheme) Type() ClassifierType { return ClassifierTypeScheme }

// ClassifierStatus matches a status code, or an inclusive range when Max
// is set.
type ClassifierStatus struct {
	Status int
	Max    int
}

func (c *ClassifierStatus) Type() ClassifierType { return ClassifierTypeStatus }

// ClassifierContentType matches when the Content-Type starts with Prefix,
// case insensitively.
type ClassifierContentType struct {
	Prefix string
}

func (c *ClassifierContentType) Type() ClassifierType { return ClassifierTypeContentType }
