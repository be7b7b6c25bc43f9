// Package builder turns a file source into a published SPIFFS image.
package builder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/maxdollinger/spiffsgen/pkg/fs"
	"github.com/maxdollinger/spiffsgen/pkg/lock"
	"github.com/maxdollinger/spiffsgen/pkg/spiffs"
	"github.com/maxdollinger/spiffsgen/pkg/utils"
	"github.com/opencontainers/go-digest"
)

type Builder interface {
	Build(ctx context.Context, src fs.Source, opts BuildOptions) (*BuildResult, error)
}

type BuildOptions struct {
	ImageSize  int64          // total image size in bytes
	Geometry   spiffs.Options // page and block layout
	OutputPath string         // empty skips publishing
	Perm       os.FileMode    // defaults to 0o644
}

// BuildResult contains information about the built artifact
type BuildResult struct {
	BuildID     string
	OutputPath  string
	SizeBytes   int64
	Digest      digest.Digest // digest of the image bytes
	Files       int
	BlocksUsed  int
	BlocksLimit int
	Blocks      []spiffs.BlockStats
	BuildTime   time.Duration
	Image       []byte
}

type builder struct {
	locker lock.Locker
	logger *slog.Logger
}

func NewBuilder(locker lock.Locker) Builder {
	return &builder{
		locker: locker,
		logger: slog.Default(),
	}
}

func (b *builder) Build(ctx context.Context, src fs.Source, opts BuildOptions) (*BuildResult, error) {
	startTime := time.Now()

	buildID, err := utils.NewBuildID()
	if err != nil {
		return nil, err
	}
	logger := b.logger.With("build", buildID)
	logger.InfoContext(ctx, "starting build", "source", src.Info(), "size", opts.ImageSize)

	// geometry problems surface before any file is read
	cfg, err := spiffs.NewConfig(opts.Geometry)
	if err != nil {
		return nil, err
	}
	img, err := spiffs.NewImage(opts.ImageSize, cfg)
	if err != nil {
		return nil, err
	}

	files := 0
	err = src.Walk(ctx, func(e fs.Entry) error {
		if err := img.AddFile(e.Name, e.Content); err != nil {
			return fmt.Errorf("add %s: %w", e.Name, err)
		}
		files++
		logger.DebugContext(ctx, "added file", "name", e.Name, "bytes", len(e.Content))
		return nil
	})
	if err != nil {
		return nil, err
	}

	out, err := img.Finish()
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	dgst := digest.FromBytes(out)
	logger = logger.With("digest", dgst.Encoded()[:12])

	result := &BuildResult{
		BuildID:     buildID,
		SizeBytes:   int64(len(out)),
		Digest:      dgst,
		Files:       files,
		BlocksUsed:  img.BlocksUsed(),
		BlocksLimit: img.BlocksLimit(),
		Blocks:      img.Stats(),
		Image:       out,
	}

	if opts.OutputPath != "" {
		if err := b.publish(ctx, out, opts); err != nil {
			return nil, err
		}
		result.OutputPath = opts.OutputPath
	}

	result.BuildTime = time.Since(startTime)
	logger.InfoContext(ctx, "build completed successfully",
		"files", files,
		"blocks_used", result.BlocksUsed,
		"blocks_limit", result.BlocksLimit,
		"duration", result.BuildTime)

	return result, nil
}

// publish writes the image atomically while holding the output lock.
func (b *builder) publish(ctx context.Context, out []byte, opts BuildOptions) error {
	if err := os.MkdirAll(filepath.Dir(opts.OutputPath), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	l, err := b.locker.AcquireLock(ctx, opts.OutputPath)
	if err != nil {
		return fmt.Errorf("lock output: %w", err)
	}
	defer func() {
		if err := l.Release(); err != nil {
			b.logger.WarnContext(ctx, "failed to release output lock", "error", err, "path", opts.OutputPath)
		}
	}()

	perm := opts.Perm
	if perm == 0 {
		perm = 0o644
	}
	if err := fs.WriteFileAtomic(opts.OutputPath, out, perm); err != nil {
		return fmt.Errorf("error publishing image: %w", err)
	}
	return nil
}
