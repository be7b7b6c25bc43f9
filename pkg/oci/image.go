package oci

import (
	"fmt"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/opencontainers/go-digest"
)

// Image is a resolved OCI image reduced to what a filesystem build needs:
// its identity and the ordered layers.
type Image struct {
	Reference string
	Digest    digest.Digest
	Layers    []Layer
	Manifest  *Manifest
}

// Manifest represents the OCI manifest
type Manifest struct {
	MediaType string
	Size      int64
}

// fromV1Image converts a go-containerregistry image. Layer content stays
// lazy, nothing is read until a layer is opened.
func fromV1Image(ref string, img v1.Image) (*Image, error) {
	dgst, err := img.Digest()
	if err != nil {
		return nil, fmt.Errorf("get image digest: %w", err)
	}

	manifest, err := img.Manifest()
	if err != nil {
		return nil, fmt.Errorf("get manifest: %w", err)
	}

	layers, err := img.Layers()
	if err != nil {
		return nil, fmt.Errorf("get layers: %w", err)
	}

	wrapped := make([]Layer, len(layers))
	for i, layer := range layers {
		wrapped[i] = &v1Layer{layer: layer}
	}

	manifestSize := manifest.Config.Size
	for _, layer := range manifest.Layers {
		manifestSize += layer.Size
	}

	return &Image{
		Reference: ref,
		Digest:    digest.Digest(dgst.String()),
		Layers:    wrapped,
		Manifest: &Manifest{
			MediaType: string(manifest.MediaType),
			Size:      manifestSize,
		},
	}, nil
}
