package oci

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
)

// RegistryProvider fetches OCI images from a container registry using go-containerregistry.
//
// GetImage downloads the manifest and layer metadata. Layer content is not
// downloaded until a layer is opened.
type RegistryProvider struct {
	imageRef name.Reference
}

// NewRegistryProvider creates a new provider for the given image reference
// ref can be:
//   - "nginx:latest" (defaults to docker.io/library)
//   - "docker.io/nginx:latest"
//   - "ghcr.io/owner/repo:tag"
//   - "localhost:5000/image:tag"
func NewRegistryProvider(imageRef string) (ImageSource, error) {
	ref, err := name.ParseReference(normalizeReference(imageRef))
	if err != nil {
		return nil, fmt.Errorf("invalid image reference: %w", err)
	}

	return &RegistryProvider{
		imageRef: ref,
	}, nil
}

func normalizeReference(imageRef string) string {
	if !strings.Contains(imageRef, "/") {
		return "docker.io/library/" + imageRef
	}
	// a first component without dots or a port is a docker hub namespace
	first := strings.Split(imageRef, "/")[0]
	if !strings.Contains(first, ".") && !strings.Contains(first, ":") && first != "localhost" {
		return "docker.io/" + imageRef
	}
	return imageRef
}

func (p *RegistryProvider) Info() string {
	return p.imageRef.String()
}

// GetImage resolves the image for linux on the host architecture.
func (p *RegistryProvider) GetImage(ctx context.Context) (*Image, error) {
	platform, err := v1.ParsePlatform(fmt.Sprintf("linux/%s", runtime.GOARCH))
	if err != nil {
		return nil, fmt.Errorf("could not parse platform: %w", err)
	}

	img, err := remote.Image(p.imageRef, remote.WithContext(ctx), remote.WithPlatform(*platform))
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}

	return fromV1Image(p.Info(), img)
}
