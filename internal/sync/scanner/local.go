package scanner

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dl-alexandre/cellsync/internal/sync/exclude"
	"github.com/spf13/afero"
)

// Walk lists the regular files below localRoot that are not excluded by
// matcher. Symlinks and special files are skipped and a missing root yields
// no entries.
func Walk(ctx context.Context, fsys afero.Fs, localRoot, remoteRoot string, matcher *exclude.Matcher) ([]LocalEntry, error) {
	info, err := fsys.Stat(localRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return []LocalEntry{}, nil
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", localRoot)
	}

	entries := []LocalEntry{}
	err = afero.Walk(fsys, localRoot, func(current string, info os.FileInfo, walkErr error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if walkErr != nil {
			// unreadable subtree
			if info != nil && info.IsDir() && current != localRoot {
				return filepath.SkipDir
			}
			if current == localRoot {
				return walkErr
			}
			return nil
		}

		rel, err := filepath.Rel(localRoot, current)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = path.Clean(filepath.ToSlash(rel))

		if info.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		if matcher != nil && matcher.IsExcluded(rel, info.IsDir()) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		entries = append(entries, LocalEntry{
			RelativePath: rel,
			AbsPath:      current,
			Key:          RemoteKey(remoteRoot, rel),
			Size:         info.Size(),
			ModTime:      info.ModTime().UnixNano(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].RelativePath < entries[j].RelativePath
	})
	return entries, nil
}

// RemoteKey joins the remote root and a slash separated relative path
func RemoteKey(remoteRoot, rel string) string {
	remoteRoot = strings.Trim(remoteRoot, "/")
	rel = strings.TrimPrefix(rel, "/")
	if remoteRoot == "" {
		return rel
	}
	return remoteRoot + "/" + rel
}
