package improve

import (
	"path/filepath"
	"strings"
	"sync"
	"unicode"
)

// defaultProtectedPatterns are glob patterns (with ** support) for
// security-sensitive trees the engine must never patch.
var defaultProtectedPatterns = []string{
	"**/.git/**",
	"**/.cadre/**",
	"**/.ssh/**",
	"**/secrets/**",
	"**/credentials/**",
	"**/certs/**",
	"**/migrations/**",
}

// defaultProtectedKeywords match whole name tokens ("auth" in
// "internal/auth/login.go", not in "author.go").
var defaultProtectedKeywords = []string{
	"secret",
	"secrets",
	"password",
	"credential",
	"credentials",
	"private",
}

var defaultProtectedFileTypes = []string{
	".pem",
	".key",
	".env",
	".p12",
	".pfx",
	".jks",
	".keystore",
	".crt",
}

// Guard rejects improvement targets in protected areas.
type Guard struct {
	mu        sync.RWMutex
	patterns  []string
	keywords  []string
	fileTypes []string
}

// NewGuard creates a guard with the default protected areas plus any extra
// glob patterns.
func NewGuard(extraPatterns ...string) *Guard {
	g := &Guard{
		patterns:  append([]string{}, defaultProtectedPatterns...),
		keywords:  append([]string{}, defaultProtectedKeywords...),
		fileTypes: append([]string{}, defaultProtectedFileTypes...),
	}
	g.patterns = append(g.patterns, extraPatterns...)
	return g
}

// AddPattern adds a glob pattern.
func (g *Guard) AddPattern(pattern string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.patterns = append(g.patterns, pattern)
}

// AddFileType adds a protected extension, including the leading dot.
func (g *Guard) AddFileType(ext string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fileTypes = append(g.fileTypes, ext)
}

// IsProtected reports whether target may not be patched.
func (g *Guard) IsProtected(target string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	p := filepath.ToSlash(filepath.Clean(target))
	// Leading "**/" should also match at the root.
	rooted := "/" + strings.TrimPrefix(p, "/")

	for _, pattern := range g.patterns {
		if globMatch(p, pattern) || globMatch(rooted, pattern) {
			return true
		}
	}

	ext := strings.ToLower(filepath.Ext(p))
	for _, ft := range g.fileTypes {
		if ext == strings.ToLower(ft) {
			return true
		}
	}

	tokens := strings.FieldsFunc(strings.ToLower(p), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		for _, kw := range g.keywords {
			if tok == kw {
				return true
			}
		}
	}
	return false
}

// globMatch matches a slash path against a pattern where ** spans any
// number of segments and other segments use filepath.Match syntax.
func globMatch(path, pattern string) bool {
	return matchSegments(strings.Split(path, "/"), strings.Split(pattern, "/"))
}

func matchSegments(path, pattern []string) bool {
	if len(pattern) == 0 {
		return len(path) == 0
	}
	if pattern[0] == "**" {
		if len(pattern) == 1 {
			return true
		}
		for i := 0; i <= len(path); i++ {
			if matchSegments(path[i:], pattern[1:]) {
				return true
			}
		}
		return false
	}
	if len(path) == 0 {
		return false
	}
	if ok, err := filepath.Match(pattern[0], path[0]); err != nil || !ok {
		return false
	}
	return matchSegments(path[1:], pattern[1:])
}
