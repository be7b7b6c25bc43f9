package oci

import (
	"context"
	"fmt"

	"github.com/google/go-containerregistry/pkg/v1/tarball"
)

// TarballProvider reads an image from a `docker save` style archive holding
// a single image.
type TarballProvider struct {
	path string
}

func NewTarballProvider(path string) *TarballProvider {
	return &TarballProvider{path: path}
}

func (p *TarballProvider) Info() string {
	return "tarball:" + p.path
}

func (p *TarballProvider) GetImage(ctx context.Context) (*Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := tarball.ImageFromPath(p.path, nil)
	if err != nil {
		return nil, fmt.Errorf("open image archive %s: %w", p.path, err)
	}

	return fromV1Image(p.Info(), img)
}
