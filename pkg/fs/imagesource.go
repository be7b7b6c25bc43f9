package fs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maxdollinger/spiffsgen/pkg/oci"
)

// ImageSource yields the flattened files of an OCI image.
type ImageSource struct {
	provider  oci.ImageSource
	flattener *LayerFlattener
	logger    *slog.Logger
}

func NewImageSource(provider oci.ImageSource, flattener *LayerFlattener) *ImageSource {
	return &ImageSource{
		provider:  provider,
		flattener: flattener,
		logger:    slog.Default(),
	}
}

func (s *ImageSource) Info() string {
	return "image:" + s.provider.Info()
}

func (s *ImageSource) Walk(ctx context.Context, fn func(Entry) error) error {
	image, err := s.provider.GetImage(ctx)
	if err != nil {
		return fmt.Errorf("failed to provide image: %w", err)
	}

	s.logger.InfoContext(ctx, "image fetched",
		"ref", image.Reference,
		"digest", image.Digest.String(),
		"layers", len(image.Layers))

	entries, err := s.flattener.Flatten(ctx, image.Layers)
	if err != nil {
		return fmt.Errorf("flatten layers: %w", err)
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}
