package oci

import (
	"context"
	"os"

	"github.com/opencontainers/go-digest"
)

// ImageSource abstracts where images come from (registry, tarball, memory).
type ImageSource interface {
	GetImage(ctx context.Context) (*Image, error)
	Info() string
}

// NewProvider returns a tarball provider when ref names an existing file and
// a registry provider otherwise.
func NewProvider(ref string) (ImageSource, error) {
	if fi, err := os.Stat(ref); err == nil && fi.Mode().IsRegular() {
		return NewTarballProvider(ref), nil
	}
	return NewRegistryProvider(ref)
}

// NoOpImageProvider serves a fixed set of layers, for testing.
type NoOpImageProvider struct {
	layers []Layer
}

func NewNoOpImageProvider(layers ...Layer) *NoOpImageProvider {
	return &NoOpImageProvider{layers: layers}
}

func (p *NoOpImageProvider) Info() string {
	return "registry.com/noop-image:latest"
}

func (p *NoOpImageProvider) GetImage(ctx context.Context) (*Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dgst := digest.Canonical.Digester()
	for _, l := range p.layers {
		_, _ = dgst.Hash().Write([]byte(l.Digest()))
	}

	return &Image{
		Reference: p.Info(),
		Digest:    dgst.Digest(),
		Layers:    p.layers,
		Manifest:  &Manifest{MediaType: "application/vnd.oci.image.manifest.v1+json"},
	}, nil
}
