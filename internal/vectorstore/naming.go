package vectorstore

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

const (
	// maxNameLength is the collection name cap shared by qdrant and
	// chromem.
	maxNameLength = 64

	// namePrefix namespaces collections on servers shared with other
	// tools.
	namePrefix = "kodo_"

	// hashLength is the path-hash suffix width. Same-named projects in
	// different directories must land in different collections.
	hashLength = 8
)

// CollectionName derives a per-project collection name from the
// project directory: the sanitized directory basename plus a short
// hash of the absolute path. The result always passes
// ValidateCollectionName.
func CollectionName(projectDir string) string {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		abs = projectDir
	}
	sum := sha256.Sum256([]byte(abs))
	hash := hex.EncodeToString(sum[:])[:hashLength]

	base := sanitizeIdentifier(filepath.Base(abs))
	if keep := maxNameLength - len(namePrefix) - hashLength - 1; len(base) > keep {
		base = strings.TrimRight(base[:keep], "_")
	}
	return namePrefix + base + "_" + hash
}

// sanitizeIdentifier lowercases s and maps every run of characters
// outside [a-z0-9] to a single underscore, trimming the ends. An
// input with nothing valid in it becomes "project".
func sanitizeIdentifier(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pending := false
	for _, r := range strings.ToLower(s) {
		valid := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !valid {
			pending = b.Len() > 0
			continue
		}
		if pending {
			b.WriteByte('_')
			pending = false
		}
		b.WriteRune(r)
	}
	if b.Len() == 0 {
		return "project"
	}
	return b.String()
}
