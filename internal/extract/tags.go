package extract

import (
	"path/filepath"
	"sort"
	"strings"
)

// defaultTagRules maps a tag to the keywords or path fragments that
// imply it. Matching is case-insensitive substring search, which is
// crude but fast and good enough for suggestion, not classification.
var defaultTagRules = map[string][]string{
	// Languages
	"go":         {".go", "go.mod", "go build", "go test", "golang"},
	"python":     {".py", "pip ", "pytest", "django", "flask"},
	"typescript": {".ts", ".tsx", "tsconfig", "typescript"},
	"rust":       {".rs", "cargo ", "rustc"},
	"sql":        {".sql", "select ", "migration", "schema"},

	// Infrastructure
	"docker":     {"dockerfile", "docker-compose", "docker "},
	"kubernetes": {"kubectl", "k8s", "helm ", "kustomize"},
	"terraform":  {".tf", "terraform"},
	"ci":         {".github/workflows", "gitlab-ci", "jenkinsfile", "ci pipeline"},

	// Activities
	"testing":     {"_test.go", "test case", "coverage", "mock", "assert"},
	"debugging":   {"stack trace", "panic", "root cause", "bug", "regression"},
	"performance": {"latency", "benchmark", "profil", "optimiz", "cache"},
	"security":    {"credential", "secret", "auth", "encrypt", "permission"},
	"release":     {"changelog", "version bump", "deploy", "rollback", "release"},

	// Surfaces
	"api":      {"endpoint", "grpc", "rest ", "handler", "openapi"},
	"database": {"postgres", "sqlite", "mysql", "redis", "transaction"},
	"cli":      {"cobra", "flag", "subcommand", "stdin", "stdout"},
}

// Tagger suggests tags for record content and file paths.
type Tagger struct {
	rules map[string][]string
}

// NewTagger builds a Tagger; nil or empty rules fall back to the
// defaults.
func NewTagger(rules map[string][]string) *Tagger {
	if len(rules) == 0 {
		rules = defaultTagRules
	}
	return &Tagger{rules: rules}
}

// Tags returns the tags whose keywords appear in the content, sorted
// for stable output.
func (t *Tagger) Tags(content string) []string {
	content = strings.ToLower(content)
	found := make(map[string]bool)
	for tag, keywords := range t.rules {
		for _, kw := range keywords {
			if strings.Contains(content, strings.ToLower(kw)) {
				found[tag] = true
				break
			}
		}
	}
	return sortedKeys(found)
}

// TagsFromFiles returns tags implied by file paths, used when the
// caller has a changed-file list instead of prose.
func (t *Tagger) TagsFromFiles(paths []string) []string {
	found := make(map[string]bool)
	for _, path := range paths {
		lower := strings.ToLower(path)
		ext := strings.ToLower(filepath.Ext(path))
		for tag, keywords := range t.rules {
			for _, kw := range keywords {
				kw = strings.ToLower(kw)
				if ext == kw || strings.Contains(lower, kw) {
					found[tag] = true
					break
				}
			}
		}
	}
	return sortedKeys(found)
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
