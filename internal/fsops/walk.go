package fsops

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// Entry is one file or directory found by Walk
type Entry struct {
	Path    string // full path on the filesystem
	RelPath string // path relative to the walk root
	Name    string
	IsDir   bool
	Size    int64
	Mode    os.FileMode
}

// WalkPolicy decides whether an entry is included. Returning descend=false for a
// directory prunes its subtree.
type WalkPolicy func(e Entry) (include bool, descend bool)

// AllEntries includes everything
func AllEntries(Entry) (bool, bool) { return true, true }

// SkipDirs returns a policy that prunes directories with the given names
func SkipDirs(names ...string) WalkPolicy {
	skip := make(map[string]struct{}, len(names))
	for _, n := range names {
		skip[n] = struct{}{}
	}
	return func(e Entry) (bool, bool) {
		if _, ok := skip[e.Name]; ok && e.IsDir {
			return false, false
		}
		return true, true
	}
}

// SourcePolicy skips dotfiles, dot directories and vendored dependencies
func SourcePolicy(e Entry) (bool, bool) {
	if strings.HasPrefix(e.Name, ".") {
		return false, false
	}
	if e.IsDir && e.Name == "node_modules" {
		return false, false
	}
	return true, true
}

// Walk returns a flat, path-ordered list of typed entries below root.
// The root itself is not included.
func Walk(fs afero.Fs, root string, policy WalkPolicy) ([]Entry, error) {
	if policy == nil {
		policy = AllEntries
	}
	info, err := fs.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("walk %s: not a directory", root)
	}

	var entries []Entry
	if err := walkDir(fs, root, "", policy, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func walkDir(fs afero.Fs, root, rel string, policy WalkPolicy, out *[]Entry) error {
	dir := filepath.Join(root, rel)
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		return fmt.Errorf("read dir %s: %w", dir, err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })

	for _, info := range infos {
		childRel := filepath.Join(rel, info.Name())
		entry := Entry{
			Path:    filepath.Join(root, childRel),
			RelPath: childRel,
			Name:    info.Name(),
			IsDir:   info.IsDir(),
			Size:    info.Size(),
			Mode:    info.Mode(),
		}
		include, descend := policy(entry)
		if include {
			*out = append(*out, entry)
		}
		if entry.IsDir && descend {
			if err := walkDir(fs, root, childRel, policy, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// Files filters entries down to regular files
func Files(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir {
			out = append(out, e)
		}
	}
	return out
}

// TotalSize sums the size of every file entry
func TotalSize(entries []Entry) int64 {
	var total int64
	for _, e := range entries {
		if !e.IsDir {
			total += e.Size
		}
	}
	return total
}
