package scrub

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

var (
	// ErrInvalidAllowlist indicates an allowlist file could not be parsed.
	ErrInvalidAllowlist = errors.New("invalid allowlist file")

	// ErrInvalidPattern indicates an allowlist regex failed to compile.
	ErrInvalidPattern = errors.New("invalid allowlist pattern")
)

// Allowlist holds regex patterns whose matches are never treated as
// secrets. Patterns come from the project's .gitleaks.toml and from the
// user's allowlist file, merged by union.
type Allowlist struct {
	Paths   []string
	Regexes []string
}

// LoadAllowlist merges the project .gitleaks.toml (if projectDir is
// non-empty) with an extra allowlist file. Missing files are fine;
// present-but-broken files are an error so typos do not silently
// disable an exemption.
func LoadAllowlist(projectDir, extraPath string) (*Allowlist, error) {
	merged := &Allowlist{}

	paths := make([]string, 0, 2)
	if projectDir != "" {
		paths = append(paths, filepath.Join(projectDir, ".gitleaks.toml"))
	}
	if extraPath != "" {
		paths = append(paths, extraPath)
	}

	for _, path := range paths {
		part, err := loadTOML(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		merged.Paths = append(merged.Paths, part.Paths...)
		merged.Regexes = append(merged.Regexes, part.Regexes...)
	}
	return merged, nil
}

func loadTOML(path string) (*Allowlist, error) {
	var doc struct {
		Allowlist struct {
			Paths   []string
			Regexes []string
		}
	}

	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAllowlist, path, err)
	}

	for _, pattern := range append(doc.Allowlist.Paths, doc.Allowlist.Regexes...) {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: %q in %s: %v", ErrInvalidPattern, pattern, path, err)
		}
	}
	return &Allowlist{Paths: doc.Allowlist.Paths, Regexes: doc.Allowlist.Regexes}, nil
}

// apply merges the allowlist into a Gitleaks config. Patterns are
// validated at load time; a compile failure here is a bug.
func (a *Allowlist) apply(cfg *gitleaksConfig.Config) {
	if len(a.Paths) == 0 && len(a.Regexes) == 0 {
		return
	}

	global := &gitleaksConfig.Allowlist{Description: "kodo allowlist"}
	for _, pattern := range a.Paths {
		global.Paths = append(global.Paths, (*gitleaksRegexp.Regexp)(regexp.MustCompile(pattern)))
	}
	for _, pattern := range a.Regexes {
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(regexp.MustCompile(pattern)))
	}
	cfg.Allowlists = append(cfg.Allowlists, global)
}
