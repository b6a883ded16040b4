// Package fsutil maps request paths onto files under the static
// asset directory.
package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	ErrPathTraversal = errors.New("path escapes root")
	ErrNotFound      = errors.New("file not found")
)

// IndexFile is served for "/" and for directory paths.
const IndexFile = "index.html"

// Resolve maps urlPath to a regular file under root. Paths that leave
// root, directly or through a symlink, return ErrPathTraversal. Hidden
// files and anything else that is not a regular file return
// ErrNotFound.
func Resolve(root, urlPath string) (string, error) {
	if root == "" {
		return "", errors.New("root is required")
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	rootReal, err := filepath.EvalSymlinks(rootAbs)
	if err != nil {
		return "", err
	}

	if strings.Contains(urlPath, "\x00") || strings.Contains(urlPath, "\\") {
		return "", ErrPathTraversal
	}
	for _, seg := range strings.Split(urlPath, "/") {
		if seg == ".." {
			return "", ErrPathTraversal
		}
	}
	rel := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	if rel == "" {
		rel = IndexFile
	}
	for _, seg := range strings.Split(rel, "/") {
		if strings.HasPrefix(seg, ".") {
			return "", ErrNotFound
		}
	}

	p := filepath.Join(rootAbs, filepath.FromSlash(rel))
	st, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if st.IsDir() {
		p = filepath.Join(p, IndexFile)
		if st, err = os.Stat(p); err != nil {
			return "", ErrNotFound
		}
	}
	if !st.Mode().IsRegular() {
		return "", ErrNotFound
	}

	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		return "", err
	}
	if !isWithin(rootReal, resolved) {
		return "", ErrPathTraversal
	}
	return p, nil
}

func isWithin(root, candidate string) bool {
	root = filepath.Clean(root)
	candidate = filepath.Clean(candidate)
	if root == candidate {
		return true
	}
	sep := string(filepath.Separator)
	if !strings.HasSuffix(root, sep) {
		root += sep
	}
	return strings.HasPrefix(candidate, root)
}
