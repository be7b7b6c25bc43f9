package fs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// DirSource walks a host directory top down: the files of a directory in
// lexical order, then each subdirectory in lexical order.
type DirSource struct {
	Root           string
	FollowSymlinks bool // descend into symlinked directories

	logger *slog.Logger
}

func NewDirSource(root string, followSymlinks bool) *DirSource {
	return &DirSource{
		Root:           root,
		FollowSymlinks: followSymlinks,
		logger:         slog.Default(),
	}
}

func (s *DirSource) Info() string {
	return "dir:" + s.Root
}

func (s *DirSource) Walk(ctx context.Context, fn func(Entry) error) error {
	fi, err := os.Stat(s.Root)
	if err != nil {
		return fmt.Errorf("stat root: %w", err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotADirectory, s.Root)
	}

	ancestors := make(map[string]struct{})
	return s.walkDir(ctx, s.Root, ancestors, fn)
}

// walkDir skips a directory only when it resolves to one of its own
// ancestors. Aliases of a directory elsewhere in the tree are walked again.
func (s *DirSource) walkDir(ctx context.Context, dir string, ancestors map[string]struct{}, fn func(Entry) error) error {
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", dir, err)
	}
	if _, seen := ancestors[resolved]; seen {
		s.log().DebugContext(ctx, "skipping directory cycle", "path", dir)
		return nil
	}
	ancestors[resolved] = struct{}{}
	defer delete(ancestors, resolved)

	// sorted by name
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read directory: %w", err)
	}

	var subdirs []string
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		full := filepath.Join(dir, e.Name())
		fi, err := os.Stat(full)
		if err != nil {
			if e.Type()&os.ModeSymlink != 0 {
				return fmt.Errorf("%w: %s", ErrDanglingSymlink, full)
			}
			return fmt.Errorf("stat %s: %w", full, err)
		}

		switch {
		case fi.IsDir():
			if e.Type()&os.ModeSymlink != 0 && !s.FollowSymlinks {
				continue
			}
			subdirs = append(subdirs, full)
		case fi.Mode().IsRegular():
			if err := s.emit(full, fn); err != nil {
				return err
			}
		default:
			s.log().WarnContext(ctx, "skipping special file", "path", full, "mode", fi.Mode().String())
		}
	}

	for _, sub := range subdirs {
		if err := s.walkDir(ctx, sub, ancestors, fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *DirSource) emit(full string, fn func(Entry) error) error {
	rel, err := filepath.Rel(s.Root, full)
	if err != nil {
		return fmt.Errorf("relative path of %s: %w", full, err)
	}

	content, err := os.ReadFile(full)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	return fn(Entry{Name: "/" + filepath.ToSlash(rel), Content: content})
}

func (s *DirSource) log() *slog.Logger {
	if s.logger == nil {
		return slog.Default()
	}
	return s.logger
}
