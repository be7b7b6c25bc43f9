// Package fs provides the file sources an image is built from.
//
// DirSource walks a host directory. LayerFlattener merges OCI image layers
// into a single in-memory file set. It handles:
//   - Layer ordering and file overwrites
//   - OCI whiteout markers (.wh.* files) for deletions
//   - Opaque whiteouts (.wh..wh..opaque) for directory clearing
//   - Directory traversal protection
//   - Context cancellation
package fs

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/maxdollinger/spiffsgen/pkg/oci"
)

const (
	whiteoutPrefix = ".wh."
	opaqueWhiteout = ".wh..wh..opaque"
	maxLinkHops    = 40
)

type fileNode struct {
	content  []byte
	linkname string // symlink target, content is unused when set
	layer    int
}

func (n *fileNode) isSymlink() bool {
	return n.linkname != ""
}

// LayerFlattener applies OCI layers in order and keeps the resulting regular
// files in memory. Directories are implied by file paths, as objects carry
// flat names.
type LayerFlattener struct {
	// FollowSymlinks resolves symlinks to the regular file they point at
	// within the image. Otherwise symlinks are dropped.
	FollowSymlinks bool

	logger *slog.Logger
}

func NewLayerFlattener(followSymlinks bool) *LayerFlattener {
	return &LayerFlattener{
		FollowSymlinks: followSymlinks,
		logger:         slog.Default(),
	}
}

// Flatten returns the merged file set sorted by name.
func (f *LayerFlattener) Flatten(ctx context.Context, layers []oci.Layer) ([]Entry, error) {
	files := make(map[string]*fileNode)

	for i, layer := range layers {
		if err := f.applyLayer(ctx, i, layer, files); err != nil {
			return nil, fmt.Errorf("extract layer %d: %w", i, err)
		}
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		node := files[name]
		if node.isSymlink() {
			if !f.FollowSymlinks {
				continue
			}
			target, err := resolveLink(files, name)
			if err != nil {
				f.log().DebugContext(ctx, "skipping symlink", "path", name, "error", err)
				continue
			}
			node = target
		}
		entries = append(entries, Entry{Name: "/" + name, Content: node.content})
	}

	return entries, nil
}

func (f *LayerFlattener) applyLayer(ctx context.Context, ix int, layer oci.Layer, files map[string]*fileNode) error {
	reader, err := layer.Uncompressed(ctx)
	if err != nil {
		return fmt.Errorf("open layer: %w", err)
	}
	defer reader.Close()

	tarReader := tar.NewReader(reader)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}

		name, err := cleanEntryPath(header.Name)
		if err != nil {
			return err
		}
		if name == "" {
			continue
		}

		if isWhiteout(name) {
			handleWhiteout(files, ix, name)
			continue
		}

		if err := f.applyEntry(files, ix, name, header, tarReader); err != nil {
			return fmt.Errorf("extract tar entry %q: %w", header.Name, err)
		}
	}

	return nil
}

// cleanEntryPath returns the entry path relative to the image root, or ""
// for the root itself.
func cleanEntryPath(name string) (string, error) {
	cleaned := path.Clean(strings.TrimPrefix(name, "/"))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, name)
	}
	if cleaned == "." {
		return "", nil
	}
	return cleaned, nil
}

func isWhiteout(name string) bool {
	return strings.HasPrefix(path.Base(name), whiteoutPrefix)
}

// handleWhiteout removes what a whiteout marker hides in lower layers.
func handleWhiteout(files map[string]*fileNode, ix int, name string) {
	dir, file := path.Split(name)

	if file == opaqueWhiteout {
		// entries of the current layer survive an opaque marker
		for p, node := range files {
			if node.layer < ix && strings.HasPrefix(p, dir) {
				delete(files, p)
			}
		}
		return
	}

	target := dir + strings.TrimPrefix(file, whiteoutPrefix)
	removeTree(files, target)
}

func removeTree(files map[string]*fileNode, target string) {
	delete(files, target)
	prefix := target + "/"
	for p := range files {
		if strings.HasPrefix(p, prefix) {
			delete(files, p)
		}
	}
}

func (f *LayerFlattener) applyEntry(files map[string]*fileNode, ix int, name string, header *tar.Header, r io.Reader) error {
	switch header.Typeflag {
	case tar.TypeReg:
		content, err := io.ReadAll(io.LimitReader(r, header.Size))
		if err != nil {
			return fmt.Errorf("copy file content: %w", err)
		}
		removeTree(files, name)
		files[name] = &fileNode{content: content, layer: ix}

	case tar.TypeSymlink:
		removeTree(files, name)
		files[name] = &fileNode{linkname: header.Linkname, layer: ix}

	case tar.TypeLink:
		target, err := cleanEntryPath(header.Linkname)
		if err != nil {
			return err
		}
		node, ok := files[target]
		if !ok {
			return fmt.Errorf("hardlink target %q not found", header.Linkname)
		}
		removeTree(files, name)
		files[name] = &fileNode{content: node.content, linkname: node.linkname, layer: ix}

	case tar.TypeDir:
		// a directory replaces a file of the same name from a lower layer
		if node, ok := files[name]; ok && node.layer < ix {
			delete(files, name)
		}

	default:
		// device nodes and pipes have no place on flash
		f.log().Debug("skipping special file", "path", name, "type", string(header.Typeflag))
	}

	return nil
}

// resolveLink follows symlinks from name until it reaches a regular file.
func resolveLink(files map[string]*fileNode, name string) (*fileNode, error) {
	current := name
	for hops := 0; hops < maxLinkHops; hops++ {
		node, ok := files[current]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrDanglingSymlink, current)
		}
		if !node.isSymlink() {
			return node, nil
		}

		target := node.linkname
		if !strings.HasPrefix(target, "/") {
			target = path.Join(path.Dir(current), target)
		}
		// symlinks cannot escape the image root, ".." stops there
		current = strings.TrimPrefix(path.Clean("/"+target), "/")
	}
	return nil, fmt.Errorf("too many levels of symlinks: %s", name)
}

func (f *LayerFlattener) log() *slog.Logger {
	if f.logger == nil {
		return slog.Default()
	}
	return f.logger
}
