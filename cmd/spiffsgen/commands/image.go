package commands

import (
	"github.com/maxdollinger/spiffsgen/pkg/fs"
	"github.com/maxdollinger/spiffsgen/pkg/oci"
	"github.com/spf13/cobra"
)

func newImageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "image [flags] <image_size> <image_ref|archive> <output_file>",
		Short: "Build a SPIFFS image from the filesystem of an OCI image",
		Long: `image flattens the layers of a container image and packs the resulting
files into a SPIFFS image. The source is either a registry reference such as
ghcr.io/owner/assets:v1 or a local archive written by docker save.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, args, func(s *Settings) (fs.Source, error) {
				provider, err := oci.NewProvider(args[1])
				if err != nil {
					return nil, err
				}
				return fs.NewImageSource(provider, fs.NewLayerFlattener(s.FollowSymlinks)), nil
			})
		},
	}
}
