// Package storage manages per-run scratch workspaces on local disk and
// optional publishing of finished outputs to S3.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
)

// Publisher uploads a finished file and returns where it can be fetched.
type Publisher interface {
	Publish(ctx context.Context, localPath, key string) (url string, err error)
}

// ObjectKey builds the object key for a published output.
func ObjectKey(prefix, runID, localPath string) string {
	key := runID + "/" + filepath.Base(localPath)
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// ErrOutsideMediaRoot is returned by ResolveUnder for paths that leave the
// media root.
var ErrOutsideMediaRoot = errors.New("path is outside the media root")

// ResolveUnder returns p as a clean absolute path strictly inside root.
// Relative paths are taken relative to root. An empty root confines nothing
// and rejects every path.
func ResolveUnder(root, p string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("%w: no media root configured", ErrOutsideMediaRoot)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve media root: %w", err)
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(absRoot, p)
	}
	p = filepath.Clean(p)

	rel, err := filepath.Rel(absRoot, p)
	if err != nil || rel == "." || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %s", ErrOutsideMediaRoot, p)
	}
	return p, nil
}
