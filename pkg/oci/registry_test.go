package oci

import (
	"context"
	"strings"
	"testing"
)

func TestNewRegistryProvider(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "simple image name defaults to docker.io",
			input: "busybox",
			want:  "docker.io/library/busybox",
		},
		{
			name:  "image with tag defaults to docker.io",
			input: "busybox:1.36",
			want:  "docker.io/library/busybox:1.36",
		},
		{
			name:  "docker hub namespace",
			input: "espressif/idf:v5.1",
			want:  "docker.io/espressif/idf:v5.1",
		},
		{
			name:  "ghcr reference",
			input: "ghcr.io/owner/firmware-assets:v1.0",
			want:  "ghcr.io/owner/firmware-assets:v1.0",
		},
		{
			name:  "localhost registry",
			input: "localhost:5000/assets:latest",
			want:  "localhost:5000/assets:latest",
		},
		{
			name:    "invalid reference",
			input:   "UPPER/Case::tag",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewRegistryProvider(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewRegistryProvider() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err != nil {
				return
			}

			got := provider.Info()
			if got != tt.want {
				t.Errorf("Info() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewProviderPicksRegistry(t *testing.T) {
	provider, err := NewProvider("busybox")
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}

	if _, ok := provider.(*RegistryProvider); !ok {
		t.Errorf("NewProvider() = %T, want *RegistryProvider", provider)
	}
	if !strings.Contains(provider.Info(), "busybox") {
		t.Errorf("Info() = %q, should contain 'busybox'", provider.Info())
	}
}

func TestNoOpImageProvider(t *testing.T) {
	layer := NewMemoryLayer([]byte("not really a tar"))
	provider := NewNoOpImageProvider(layer)

	if provider.Info() == "" {
		t.Error("Info() returned empty string")
	}

	image, err := provider.GetImage(context.Background())
	if err != nil {
		t.Fatalf("GetImage failed: %v", err)
	}

	if image.Manifest == nil {
		t.Fatal("GetImage returned image with nil manifest")
	}
	if len(image.Layers) != 1 {
		t.Fatalf("got %d layers, want 1", len(image.Layers))
	}
	if err := image.Digest.Validate(); err != nil {
		t.Errorf("invalid image digest %q: %v", image.Digest, err)
	}
}

func TestNoOpImageProviderCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewNoOpImageProvider().GetImage(ctx); err == nil {
		t.Error("expected an error for a cancelled context")
	}
}
