// Package tenant derives the isolation key that scopes every indexed
// document: project name, branch name, and a hash of the project root.
//
// Two checkouts of the same project never share index entries, and
// switching branches switches the visible document set.
package tenant

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	cdocserr "github.com/compounding-docs/cdocs/internal/errors"
)

// DefaultBranch is used when branch detection fails.
const DefaultBranch = "main"

// pathHashLen is the number of hex characters kept from the root path
// digest.
const pathHashLen = 16

// Key identifies one tenant. All three fields participate in every
// store filter.
type Key struct {
	Project  string `json:"project_name"`
	Branch   string `json:"branch_name"`
	PathHash string `json:"path_hash"`
}

// Validate reports whether the key is complete.
func (k Key) Validate() error {
	if k.Project == "" || k.Branch == "" || k.PathHash == "" {
		return cdocserr.Newf(cdocserr.TagInvalidArgument,
			"incomplete tenant key: project=%q branch=%q path_hash=%q",
			k.Project, k.Branch, k.PathHash)
	}
	return nil
}

// String renders the key for logs.
func (k Key) String() string {
	return fmt.Sprintf("%s@%s#%s", k.Project, k.Branch, k.PathHash)
}

// PathHash returns the first 16 hex characters of the SHA-256 digest of
// the absolute project root path.
func PathHash(rootPath string) (string, error) {
	abs, err := filepath.Abs(rootPath)
	if err != nil {
		return "", cdocserr.Wrap(cdocserr.TagFileSystemError, "failed to resolve project root", err)
	}
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:])[:pathHashLen], nil
}

// DetectBranch reads .git/HEAD under the project root. A symbolic ref
// yields the branch name; a detached HEAD yields the short commit hash;
// anything else falls back to DefaultBranch.
func DetectBranch(rootPath string) string {
	data, err := os.ReadFile(filepath.Join(rootPath, ".git", "HEAD"))
	if err != nil {
		return DefaultBranch
	}

	head := strings.TrimSpace(string(data))
	if ref, ok := strings.CutPrefix(head, "ref: refs/heads/"); ok && ref != "" {
		return ref
	}
	if isHexCommit(head) {
		return head[:12]
	}
	return DefaultBranch
}

// Resolve builds the tenant key for a project root.
func Resolve(rootPath, projectName string) (Key, error) {
	if projectName == "" {
		return Key{}, cdocserr.New(cdocserr.TagInvalidArgument, "project name must not be empty")
	}
	hash, err := PathHash(rootPath)
	if err != nil {
		return Key{}, err
	}
	return Key{
		Project:  projectName,
		Branch:   DetectBranch(rootPath),
		PathHash: hash,
	}, nil
}

func isHexCommit(s string) bool {
	if len(s) != 40 && len(s) != 64 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}
