package classifier

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/codefionn/proxymetric/proxymetric-srv/config"
	"github.com/codefionn/proxymetric/proxymetric-srv/timeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTest = errors.New("test error")

type mockClassifier struct {
	result bool
	err    error
}

func (m *mockClassifier) Classify(ClassifierInput) (bool, error) {
	return m.result, m.err
}

func writeDomains(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "domains.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestClassifierAnd_Classify(t *testing.T) {
	tests := []struct {
		name        string
		classifiers []Classifier
		expected    bool
		error       bool
	}{
		{"All true", []Classifier{&mockClassifier{result: true}, &mockClassifier{result: true}}, true, false},
		{"One false", []Classifier{&mockClassifier{result: true}, &mockClassifier{result: false}}, false, false},
		{"One error", []Classifier{&mockClassifier{result: true}, &mockClassifier{err: errTest}}, false, true},
		{"Empty", nil, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &ClassifierAnd{Classifiers: tt.classifiers}
			result, err := c.Classify(ClassifierInput{host: "example.com"})

			if (err != nil) != tt.error {
				t.Errorf("ClassifierAnd.Classify() error = %v, wantErr %v", err, tt.error)
				return
			}
			if result != tt.expected {
				t.Errorf("ClassifierAnd.Classify() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestClassifierOr_Classify(t *testing.T) {
	tests := []struct {
		name        string
		classifiers []Classifier
		expected    bool
		error       bool
	}{
		{"All false", []Classifier{&mockClassifier{result: false}, &mockClassifier{result: false}}, false, false},
		{"One true", []Classifier{&mockClassifier{result: false}, &mockClassifier{result: true}}, true, false},
		{"Error before match", []Classifier{&mockClassifier{err: errTest}, &mockClassifier{result: true}}, false, true},
		{"Empty", nil, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &ClassifierOr{Classifiers: tt.classifiers}
			result, err := c.Classify(ClassifierInput{host: "example.com"})

			if (err != nil) != tt.error {
				t.Errorf("ClassifierOr.Classify() error = %v, wantErr %v", err, tt.error)
				return
			}
			if result != tt.expected {
				t.Errorf("ClassifierOr.Classify() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestClassifierNot_Classify(t *testing.T) {
	result, err := (&ClassifierNot{Classifier: &mockClassifier{result: true}}).Classify(ClassifierInput{})
	require.NoError(t, err)
	assert.False(t, result)

	_, err = (&ClassifierNot{Classifier: &mockClassifier{err: errTest}}).Classify(ClassifierInput{})
	assert.ErrorIs(t, err, errTest)
}

func TestDomainClassifiers(t *testing.T) {
	tests := []struct {
		name       string
		classifier Classifier
		host       string
		expected   bool
	}{
		{"equal match", &ClassifierStrEq{Domain: "example.com"}, "example.com", true},
		{"equal subdomain", &ClassifierStrEq{Domain: "example.com"}, "www.example.com", false},
		{"not equal", &ClassifierStrNotEq{Domain: "example.com"}, "example.org", true},
		{"contains", &ClassifierStrContains{Domain: "ample"}, "example.com", true},
		{"not contains", &ClassifierStrNotContains{Domain: "ample"}, "example.com", false},
		{"is exact", &ClassifierStrIs{Domain: "example.com"}, "example.com", true},
		{"is subdomain", &ClassifierStrIs{Domain: "example.com"}, "a.b.example.com", true},
		{"is suffix without dot", &ClassifierStrIs{Domain: "example.com"}, "badexample.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.classifier.Classify(ClassifierInput{host: tt.host})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestResponseClassifiers(t *testing.T) {
	resp := timeline.NewResponse("HTTPS://Media.Example.com/v.mp4",
		map[string]string{"Content-Type": "Video/MP4; codecs=avc1"}, nil, timeline.WithStatus(206))
	input := NewInput(resp)

	assert.Equal(t, "media.example.com", input.host)
	assert.Equal(t, "https", input.scheme)
	assert.Equal(t, 206, input.status)

	tests := []struct {
		name       string
		classifier Classifier
		expected   bool
	}{
		{"scheme", &ClassifierScheme{Scheme: "https"}, true},
		{"other scheme", &ClassifierScheme{Scheme: "http"}, false},
		{"status exact", &ClassifierStatus{Min: 206, Max: 206}, true},
		{"status range", &ClassifierStatus{Min: 200, Max: 299}, true},
		{"status outside", &ClassifierStatus{Min: 300, Max: 399}, false},
		{"content type", &ClassifierContentType{Prefix: "video/"}, true},
		{"content type other", &ClassifierContentType{Prefix: "image/"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.classifier.Classify(input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}

	noType := NewInput(timeline.NewResponse("http://a.test/", map[string]string{"Via": "x"}, nil))
	result, err := (&ClassifierContentType{Prefix: "video/"}).Classify(noType)
	require.NoError(t, err)
	assert.False(t, result)
}

func TestClassifierRef_Missing(t *testing.T) {
	ref := &ClassifierRef{Id: "missing", Classifiers: map[string]Classifier{}}
	_, err := ref.Classify(ClassifierInput{})
	assert.ErrorContains(t, err, "classifier with ID 'missing' not found")
}

func TestLoadDomainsFile(t *testing.T) {
	path := writeDomains(t, `# comment
; another comment
0.0.0.0 Ads.Example.com tracker.test  # trailing
*.cdn.test

plain.test`)

	domains, err := LoadDomainsFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"ads.example.com", "tracker.test", "cdn.test", "plain.test"}, domains)

	_, err = LoadDomainsFile(filepath.Join(t.TempDir(), "nope.txt"))
	assert.ErrorContains(t, err, "failed to open domains file")
}

func TestCompileClassifier(t *testing.T) {
	domainsPath := writeDomains(t, "cdn.test\n")

	tests := []struct {
		name     string
		cfg      config.Classifier
		host     string
		expected bool
	}{
		{"domain equal", &config.ClassifierDomain{Op: config.ClassifierOpEqual, Domain: "a.test"}, "a.test", true},
		{"domain not-equal", &config.ClassifierDomain{Op: config.ClassifierOpNotEqual, Domain: "a.test"}, "a.test", false},
		{"domain contains", &config.ClassifierDomain{Op: config.ClassifierOpContains, Domain: "test"}, "a.test", true},
		{"domain not-contains", &config.ClassifierDomain{Op: config.ClassifierOpNotContains, Domain: "zzz"}, "a.test", true},
		{"domain is", &config.ClassifierDomain{Op: config.ClassifierOpIs, Domain: "test"}, "a.test", true},
		{"domains file", &config.ClassifierDomainsFile{FilePath: domainsPath}, "img.cdn.test", true},
		{"domains file miss", &config.ClassifierDomainsFile{FilePath: domainsPath}, "cdn.test.evil", false},
		{"true", &config.ClassifierTrue{}, "a.test", true},
		{"false", &config.ClassifierFalse{}, "a.test", false},
		{"not", &config.ClassifierNot{Classifier: &config.ClassifierTrue{}}, "a.test", false},
		{"and", &config.ClassifierAnd{Classifiers: []config.Classifier{
			&config.ClassifierTrue{},
			&config.ClassifierScheme{Scheme: "http"},
		}}, "a.test", true},
		{"status default max", &config.ClassifierStatus{Status: 200}, "a.test", true},
		{"content type", &config.ClassifierContentType{Prefix: "Text/"}, "a.test", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := CompileClassifier(tt.cfg)
			require.NoError(t, err)
			resp := timeline.NewResponse("http://"+tt.host+"/", map[string]string{"Content-Type": "text/html"}, nil)
			result, err := c.Classify(NewInput(resp))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}

	_, err := CompileClassifier(nil)
	assert.Error(t, err)

	_, err = CompileClassifier(&config.ClassifierDomainsFile{FilePath: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}

func TestCompileClassifier_OrOptimization(t *testing.T) {
	equal := &config.ClassifierOr{Classifiers: []config.Classifier{
		&config.ClassifierDomain{Op: config.ClassifierOpEqual, Domain: "a.test"},
		&config.ClassifierDomain{Op: config.ClassifierOpEqual, Domain: "b.test"},
	}}
	c, err := CompileClassifier(equal)
	require.NoError(t, err)
	require.IsType(t, &ClassifierOrDomains{}, c)
	ok, _ := c.Classify(ClassifierInput{host: "b.test"})
	assert.True(t, ok)
	ok, _ = c.Classify(ClassifierInput{host: "x.b.test"})
	assert.False(t, ok)

	is := &config.ClassifierOr{Classifiers: []config.Classifier{
		&config.ClassifierDomain{Op: config.ClassifierOpIs, Domain: "a.test"},
		&config.ClassifierDomainsFile{FilePath: writeDomains(t, "c.test\n")},
	}}
	c, err = CompileClassifier(is)
	require.NoError(t, err)
	require.IsType(t, &ClassifierOrDomainsIs{}, c)
	ok, _ = c.Classify(ClassifierInput{host: "www.c.test"})
	assert.True(t, ok)
	ok, _ = c.Classify(ClassifierInput{host: "x.a.test"})
	assert.True(t, ok)
	ok, _ = c.Classify(ClassifierInput{host: "d.test"})
	assert.False(t, ok)

	mixed := &config.ClassifierOr{Classifiers: []config.Classifier{
		&config.ClassifierDomain{Op: config.ClassifierOpEqual, Domain: "a.test"},
		&config.ClassifierScheme{Scheme: "ws"},
	}}
	c, err = CompileClassifier(mixed)
	require.NoError(t, err)
	assert.IsType(t, &ClassifierOr{}, c)
}

func TestCompileExemptions_Refs(t *testing.T) {
	cfg := config.Default()
	cfg.Classifiers["media"] = &config.ClassifierContentType{Prefix: "video/"}
	cfg.Classifiers["nested"] = &config.ClassifierNot{Classifier: &config.ClassifierRef{Id: "media"}}
	cfg.Exemptions = &config.ClassifierAnd{Classifiers: []config.Classifier{
		&config.ClassifierRef{Id: "media"},
		&config.ClassifierNot{Classifier: &config.ClassifierRef{Id: "nested"}},
	}}

	exemptions, err := CompileExemptions(cfg)
	require.NoError(t, err)

	video := timeline.NewResponse("http://a.test/v", map[string]string{"Content-Type": "video/webm"}, nil)
	page := timeline.NewResponse("http://a.test/", map[string]string{"Content-Type": "text/html"}, nil)

	ok, err := exemptions.Classify(NewInput(video))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = exemptions.Classify(NewInput(page))
	require.NoError(t, err)
	assert.False(t, ok)

	cfg.Exemptions = nil
	exemptions, err = CompileExemptions(cfg)
	require.NoError(t, err)
	assert.Nil(t, exemptions)
}

func TestCompileExemptions_RefCycle(t *testing.T) {
	ref := func(id string) config.Classifier { return &config.ClassifierRef{Id: id} }

	tests := []struct {
		name        string
		classifiers map[string]config.Classifier
	}{
		{"self", map[string]config.Classifier{"a": ref("a")}},
		{"mutual", map[string]config.Classifier{"a": ref("b"), "b": ref("a")}},
		{"through not and and", map[string]config.Classifier{
			"a": &config.ClassifierNot{Classifier: ref("b")},
			"b": &config.ClassifierAnd{Classifiers: []config.Classifier{&config.ClassifierTrue{}, ref("c")}},
			"c": &config.ClassifierOr{Classifiers: []config.Classifier{&config.ClassifierFalse{}, ref("a")}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Classifiers = tt.classifiers
			cfg.Exemptions = ref("a")

			exemptions, err := CompileExemptions(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "classifier reference cycle")
			assert.Nil(t, exemptions)
		})
	}

	t.Run("shared reference is not a cycle", func(t *testing.T) {
		cfg := config.Default()
		cfg.Classifiers = map[string]config.Classifier{
			"leaf": &config.ClassifierTrue{},
			"x":    ref("leaf"),
			"y":    &config.ClassifierAnd{Classifiers: []config.Classifier{ref("leaf"), ref("x")}},
		}
		cfg.Exemptions = ref("y")
		exemptions, err := CompileExemptions(cfg)
		require.NoError(t, err)
		ok, err := exemptions.Classify(NewInput(timeline.NewResponse("http://a.test/", map[string]string{"Via": "x"}, nil)))
		require.NoError(t, err)
		assert.True(t, ok)
	})
}
