package oci

import (
	"bytes"
	"context"
	"fmt"
	"io"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/opencontainers/go-digest"
)

// Layer represents a single OCI layer
type Layer interface {
	Digest() digest.Digest
	Size() int64
	MediaType() string
	// Uncompressed returns a reader for the layer tar stream.
	// The caller must close the reader when done.
	Uncompressed(ctx context.Context) (io.ReadCloser, error)
}

// v1Layer wraps a go-containerregistry layer. Registry layers are only
// downloaded once Uncompressed is called.
type v1Layer struct {
	layer v1.Layer
}

func (l *v1Layer) Digest() digest.Digest {
	dgst, err := l.layer.Digest()
	if err != nil {
		return digest.Digest("")
	}
	return digest.Digest(dgst.String())
}

func (l *v1Layer) Size() int64 {
	size, err := l.layer.Size()
	if err != nil {
		return 0
	}
	return size
}

func (l *v1Layer) MediaType() string {
	mediaType, err := l.layer.MediaType()
	if err != nil {
		return ""
	}
	return string(mediaType)
}

func (l *v1Layer) Uncompressed(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reader, err := l.layer.Uncompressed()
	if err != nil {
		return nil, fmt.Errorf("get uncompressed layer: %w", err)
	}
	return reader, nil
}

// MemoryLayer is a layer whose tar stream is held in memory.
type MemoryLayer struct {
	data []byte
}

// NewMemoryLayer wraps an uncompressed tar stream.
func NewMemoryLayer(tarData []byte) *MemoryLayer {
	return &MemoryLayer{data: tarData}
}

func (l *MemoryLayer) Digest() digest.Digest {
	return digest.FromBytes(l.data)
}

func (l *MemoryLayer) Size() int64 {
	return int64(len(l.data))
}

func (l *MemoryLayer) MediaType() string {
	return "application/vnd.oci.image.layer.v1.tar"
}

func (l *MemoryLayer) Uncompressed(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(l.data)), nil
}
