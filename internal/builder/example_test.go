package builder_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/maxdollinger/spiffsgen/internal/builder"
	"github.com/maxdollinger/spiffsgen/pkg/fs"
	"github.com/maxdollinger/spiffsgen/pkg/lock"
	"github.com/maxdollinger/spiffsgen/pkg/spiffs"
)

// ExampleNewBuilder demonstrates how to create and use the builder
func ExampleNewBuilder() {
	root, err := os.MkdirTemp("", "spiffsgen-example-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(root)

	if err := os.WriteFile(filepath.Join(root, "config.json"), []byte(`{"wifi":"on"}`), 0o644); err != nil {
		log.Fatal(err)
	}

	bldr := builder.NewBuilder(lock.NewNoOpLocker())

	result, err := bldr.Build(context.Background(), fs.NewDirSource(root, false), builder.BuildOptions{
		ImageSize: 0x10000,
		Geometry:  spiffs.DefaultOptions(),
	})
	if err != nil {
		log.Fatalf("build failed: %v", err)
	}

	fmt.Printf("files=%d blocks=%d/%d bytes=%d\n",
		result.Files, result.BlocksUsed, result.BlocksLimit, result.SizeBytes)
	// Output: files=1 blocks=1/16 bytes=65536
}
