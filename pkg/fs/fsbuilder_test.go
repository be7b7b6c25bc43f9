package fs

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/maxdollinger/spiffsgen/pkg/oci"
)

type tarEntry struct {
	name     string
	typeflag byte
	content  []byte
	linkname string
	mode     int64
}

// newTarLayer builds an in-memory layer from tar entries
func newTarLayer(entries ...tarEntry) oci.Layer {
	var buf bytes.Buffer
	tarWriter := tar.NewWriter(&buf)

	for _, entry := range entries {
		header := &tar.Header{
			Name:     entry.name,
			Typeflag: entry.typeflag,
			Size:     int64(len(entry.content)),
			Mode:     entry.mode,
			Linkname: entry.linkname,
		}

		if err := tarWriter.WriteHeader(header); err != nil {
			panic(err)
		}

		if len(entry.content) > 0 {
			if _, err := tarWriter.Write(entry.content); err != nil {
				panic(err)
			}
		}
	}

	if err := tarWriter.Close(); err != nil {
		panic(err)
	}

	return oci.NewMemoryLayer(buf.Bytes())
}

func flatten(t *testing.T, followSymlinks bool, layers ...oci.Layer) map[string]string {
	t.Helper()

	entries, err := NewLayerFlattener(followSymlinks).Flatten(context.Background(), layers)
	if err != nil {
		t.Fatalf("Flatten failed: %v", err)
	}

	files := make(map[string]string, len(entries))
	for _, e := range entries {
		files[e.Name] = string(e.Content)
	}
	return files
}

func TestLayerFlattenerBasicExtraction(t *testing.T) {
	layer := newTarLayer(
		tarEntry{name: "file.txt", typeflag: tar.TypeReg, content: []byte("hello"), mode: 0o644},
		tarEntry{name: "dir/", typeflag: tar.TypeDir, mode: 0o755},
		tarEntry{name: "dir/nested.txt", typeflag: tar.TypeReg, content: []byte("world"), mode: 0o644},
		tarEntry{name: "./dot/file", typeflag: tar.TypeReg, content: []byte("dot"), mode: 0o644},
	)

	files := flatten(t, false, layer)

	want := map[string]string{
		"/file.txt":       "hello",
		"/dir/nested.txt": "world",
		"/dot/file":       "dot",
	}
	if len(files) != len(want) {
		t.Fatalf("got %d files, want %d: %v", len(files), len(want), files)
	}
	for name, content := range want {
		if files[name] != content {
			t.Errorf("%s content = %q, want %q", name, files[name], content)
		}
	}
}

func TestLayerFlattenerSortedOutput(t *testing.T) {
	layer := newTarLayer(
		tarEntry{name: "b", typeflag: tar.TypeReg, content: []byte("b"), mode: 0o644},
		tarEntry{name: "a/z", typeflag: tar.TypeReg, content: []byte("az"), mode: 0o644},
		tarEntry{name: "a", typeflag: tar.TypeDir, mode: 0o755},
		tarEntry{name: "c", typeflag: tar.TypeReg, content: []byte("c"), mode: 0o644},
	)

	entries, err := NewLayerFlattener(false).Flatten(context.Background(), []oci.Layer{layer})
	if err != nil {
		t.Fatalf("Flatten failed: %v", err)
	}

	want := []string{"/a/z", "/b", "/c"}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i, name := range want {
		if entries[i].Name != name {
			t.Errorf("entry %d = %q, want %q", i, entries[i].Name, name)
		}
	}
}

// TestLayerFlattenerLayerOverwrite tests that later layers overwrite earlier ones
func TestLayerFlattenerLayerOverwrite(t *testing.T) {
	layer1 := newTarLayer(
		tarEntry{name: "file.txt", typeflag: tar.TypeReg, content: []byte("original"), mode: 0o644},
	)

	layer2 := newTarLayer(
		tarEntry{name: "file.txt", typeflag: tar.TypeReg, content: []byte("updated"), mode: 0o644},
	)

	files := flatten(t, false, layer1, layer2)
	if files["/file.txt"] != "updated" {
		t.Errorf("file.txt content = %q, want %q", files["/file.txt"], "updated")
	}
}

// TestLayerFlattenerWhiteout tests OCI whiteout handling
func TestLayerFlattenerWhiteout(t *testing.T) {
	layer1 := newTarLayer(
		tarEntry{name: "file.txt", typeflag: tar.TypeReg, content: []byte("delete me"), mode: 0o644},
		tarEntry{name: "dir/a", typeflag: tar.TypeReg, content: []byte("a"), mode: 0o644},
		tarEntry{name: "dir/sub/b", typeflag: tar.TypeReg, content: []byte("b"), mode: 0o644},
		tarEntry{name: "keep.txt", typeflag: tar.TypeReg, content: []byte("keep"), mode: 0o644},
	)

	layer2 := newTarLayer(
		// .wh.file.txt indicates that file.txt should be deleted
		tarEntry{name: ".wh.file.txt", typeflag: tar.TypeReg, mode: 0o644},
		tarEntry{name: ".wh.dir", typeflag: tar.TypeReg, mode: 0o644},
	)

	files := flatten(t, false, layer1, layer2)

	for _, name := range []string{"/file.txt", "/dir/a", "/dir/sub/b"} {
		if _, ok := files[name]; ok {
			t.Errorf("%s should have been deleted by whiteout", name)
		}
	}
	if files["/keep.txt"] != "keep" {
		t.Errorf("keep.txt should survive, got %v", files)
	}
}

// TestLayerFlattenerOpaqueWhiteout tests opaque whiteout handling
func TestLayerFlattenerOpaqueWhiteout(t *testing.T) {
	layer1 := newTarLayer(
		tarEntry{name: "dir/", typeflag: tar.TypeDir, mode: 0o755},
		tarEntry{name: "dir/file1.txt", typeflag: tar.TypeReg, content: []byte("file1"), mode: 0o644},
		tarEntry{name: "dir/file2.txt", typeflag: tar.TypeReg, content: []byte("file2"), mode: 0o644},
		tarEntry{name: "dirx/file.txt", typeflag: tar.TypeReg, content: []byte("other"), mode: 0o644},
	)

	layer2 := newTarLayer(
		tarEntry{name: "dir/early.txt", typeflag: tar.TypeReg, content: []byte("early"), mode: 0o644},
		// .wh..wh..opaque hides everything lower layers put into dir/
		tarEntry{name: "dir/.wh..wh..opaque", typeflag: tar.TypeReg, mode: 0o644},
		tarEntry{name: "dir/newfile.txt", typeflag: tar.TypeReg, content: []byte("new"), mode: 0o644},
	)

	files := flatten(t, false, layer1, layer2)

	for _, name := range []string{"/dir/file1.txt", "/dir/file2.txt"} {
		if _, ok := files[name]; ok {
			t.Errorf("%s should have been deleted by opaque whiteout", name)
		}
	}
	for _, name := range []string{"/dir/early.txt", "/dir/newfile.txt", "/dirx/file.txt"} {
		if _, ok := files[name]; !ok {
			t.Errorf("%s should exist", name)
		}
	}
}

// TestLayerFlattenerMultipleLayers tests merging multiple layers
func TestLayerFlattenerMultipleLayers(t *testing.T) {
	layer1 := newTarLayer(
		tarEntry{name: "file1.txt", typeflag: tar.TypeReg, content: []byte("layer1"), mode: 0o644},
	)

	layer2 := newTarLayer(
		tarEntry{name: "file2.txt", typeflag: tar.TypeReg, content: []byte("layer2"), mode: 0o644},
	)

	layer3 := newTarLayer(
		tarEntry{name: "file3.txt", typeflag: tar.TypeReg, content: []byte("layer3"), mode: 0o644},
	)

	files := flatten(t, false, layer1, layer2, layer3)

	for i, name := range []string{"/file1.txt", "/file2.txt", "/file3.txt"} {
		expected := "layer" + string(rune('1'+i))
		if files[name] != expected {
			t.Errorf("%s content = %q, want %q", name, files[name], expected)
		}
	}
}

func TestLayerFlattenerLinks(t *testing.T) {
	layer := newTarLayer(
		tarEntry{name: "etc/config", typeflag: tar.TypeReg, content: []byte("cfg"), mode: 0o644},
		tarEntry{name: "etc/hard", typeflag: tar.TypeLink, linkname: "etc/config"},
		tarEntry{name: "etc/rel", typeflag: tar.TypeSymlink, linkname: "config"},
		tarEntry{name: "abs", typeflag: tar.TypeSymlink, linkname: "/etc/rel"},
		tarEntry{name: "dangling", typeflag: tar.TypeSymlink, linkname: "/nowhere"},
		tarEntry{name: "loop", typeflag: tar.TypeSymlink, linkname: "loop"},
		tarEntry{name: "null", typeflag: tar.TypeChar, mode: 0o666},
	)

	t.Run("dropped", func(t *testing.T) {
		files := flatten(t, false, layer)

		want := map[string]string{"/etc/config": "cfg", "/etc/hard": "cfg"}
		if len(files) != len(want) {
			t.Fatalf("got %v, want %v", files, want)
		}
	})

	t.Run("followed", func(t *testing.T) {
		files := flatten(t, true, layer)

		want := map[string]string{
			"/etc/config": "cfg",
			"/etc/hard":   "cfg",
			"/etc/rel":    "cfg",
			"/abs":        "cfg",
		}
		if len(files) != len(want) {
			t.Fatalf("got %v, want %v", files, want)
		}
		for name, content := range want {
			if files[name] != content {
				t.Errorf("%s content = %q, want %q", name, files[name], content)
			}
		}
	})
}

func TestLayerFlattenerPathTraversal(t *testing.T) {
	layer := newTarLayer(
		tarEntry{name: "../escape", typeflag: tar.TypeReg, content: []byte("x"), mode: 0o644},
	)

	_, err := NewLayerFlattener(false).Flatten(context.Background(), []oci.Layer{layer})
	if !errors.Is(err, ErrPathTraversal) {
		t.Fatalf("expected ErrPathTraversal, got %v", err)
	}
}

func TestLayerFlattenerMissingHardlinkTarget(t *testing.T) {
	layer := newTarLayer(
		tarEntry{name: "link", typeflag: tar.TypeLink, linkname: "missing"},
	)

	if _, err := NewLayerFlattener(false).Flatten(context.Background(), []oci.Layer{layer}); err == nil {
		t.Fatal("expected an error for a missing hardlink target")
	}
}

// TestLayerFlattenerContextCancellation tests that context cancellation works
func TestLayerFlattenerContextCancellation(t *testing.T) {
	layer := newTarLayer(
		tarEntry{name: "file.txt", typeflag: tar.TypeReg, content: []byte("content"), mode: 0o644},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLayerFlattener(false).Flatten(ctx, []oci.Layer{layer})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context cancellation error, got %v", err)
	}
}

func TestImageSourceWalk(t *testing.T) {
	layer := newTarLayer(
		tarEntry{name: "b.txt", typeflag: tar.TypeReg, content: []byte("b"), mode: 0o644},
		tarEntry{name: "a.txt", typeflag: tar.TypeReg, content: []byte("a"), mode: 0o644},
	)
	src := NewImageSource(oci.NewNoOpImageProvider(layer), NewLayerFlattener(false))

	var names []string
	err := src.Walk(context.Background(), func(e Entry) error {
		names = append(names, e.Name)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}
	if len(names) != 2 || names[0] != "/a.txt" || names[1] != "/b.txt" {
		t.Errorf("Walk yielded %v", names)
	}

	stop := errors.New("stop")
	err = src.Walk(context.Background(), func(Entry) error { return stop })
	if !errors.Is(err, stop) {
		t.Errorf("Walk error = %v, want %v", err, stop)
	}
}
