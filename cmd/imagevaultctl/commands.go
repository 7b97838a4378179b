package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/abduss/imagevault/internal/asset"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type cli struct {
	connect backendFactory
	backend *backend
	wait    time.Duration
}

func newRootCmd(connect backendFactory) *cobra.Command {
	c := &cli{connect: connect}

	root := &cobra.Command{
		Use:   "imagevaultctl",
		Short: "Upload and manage imagevault assets",
		Long: "imagevaultctl drives the imagevault upload pipeline directly.\n\n" +
			"Thumbnails for new or replaced assets are generated in-process; the\n" +
			"command waits up to --wait for them before exiting. Anything left\n" +
			"pending is picked up by imagevaultd's recovery sweep.",
		SilenceUsage:       true,
		PersistentPreRunE:  c.open,
		PersistentPostRunE: c.drain,
	}
	root.PersistentFlags().DurationVar(&c.wait, "wait", 30*time.Second, "How long to wait for thumbnail generation before exiting")

	root.AddCommand(
		c.uploadCmd(),
		c.replaceCmd(),
		c.deleteCmd(),
		c.getCmd(),
		c.listCmd(),
		c.sweepCmd(),
		c.urlCmd(),
	)
	return root
}

func (c *cli) open(cmd *cobra.Command, _ []string) error {
	b, err := c.connect(cmd.Context())
	if err != nil {
		return err
	}
	c.backend = b
	b.generator.Start(context.Background())
	return nil
}

func (c *cli) drain(cmd *cobra.Command, _ []string) error {
	if c.backend == nil {
		return nil
	}
	defer c.backend.close()

	ctx, cancel := context.WithTimeout(context.Background(), c.wait)
	defer cancel()
	if err := c.backend.generator.Stop(ctx); err != nil {
		c.backend.log.Warn("thumbnail generation still pending at exit", zap.Error(err))
	}
	return nil
}

func (c *cli) uploadCmd() *cobra.Command {
	var project, name, contentType string

	cmd := &cobra.Command{
		Use:   "upload FILE",
		Short: "Upload an image into a project",
		Long: `Upload an image into a project. Uploading bytes the project already
holds returns the existing asset.

Examples:
  imagevaultctl upload --project acme ./logo.png
  imagevaultctl upload --project acme --name banner.jpg ./tmp/upload.bin`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readContent(args[0], name, contentType)
			if err != nil {
				return err
			}
			content.ProjectID = project

			result, err := c.backend.service.Upload(cmd.Context(), content)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "Project that owns the asset")
	cmd.Flags().StringVar(&name, "name", "", "Original file name (defaults to the file's base name)")
	cmd.Flags().StringVar(&contentType, "content-type", "", "Content type of the upload")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func (c *cli) replaceCmd() *cobra.Command {
	var name, contentType string

	cmd := &cobra.Command{
		Use:   "replace ID FILE",
		Short: "Replace an asset's image and regenerate its thumbnail",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			content, err := readContent(args[1], name, contentType)
			if err != nil {
				return err
			}

			updated, err := c.backend.service.Replace(cmd.Context(), id, content)
			if err != nil {
				return err
			}
			return printJSON(cmd, updated)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Original file name (defaults to the file's base name)")
	cmd.Flags().StringVar(&contentType, "content-type", "", "Content type of the upload")
	return cmd
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete ID",
		Aliases: []string{"rm"},
		Short:   "Soft-delete an asset and remove its blobs",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := c.backend.service.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			return nil
		},
	}
}

func (c *cli) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show an asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := c.backend.service.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, a)
		},
	}
}

func (c *cli) listCmd() *cobra.Command {
	var project string
	var page, size int

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List a project's assets, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			assets, err := c.backend.service.List(cmd.Context(), project, page, size)
			if err != nil {
				return err
			}
			if assets == nil {
				assets = []asset.Asset{}
			}
			return printJSON(cmd, assets)
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "Project to list")
	cmd.Flags().IntVar(&page, "page", 1, "Page number, starting at 1")
	cmd.Flags().IntVar(&size, "size", 20, "Page size (max 100)")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func (c *cli) sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Re-enqueue pending assets whose thumbnail work was lost",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := c.backend.sweeper.SweepOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %d assets\n", n)
			return nil
		},
	}
}

func (c *cli) urlCmd() *cobra.Command {
	var thumbnailOnly bool

	cmd := &cobra.Command{
		Use:   "url ID",
		Short: "Print time-limited download links for an asset",
		Long: `Print presigned download links for an asset's original and, once it is
READY, its thumbnail. Links expire after MINIO_PRESIGN_TTL.

Examples:
  imagevaultctl url 3f1c9a0e-6d0b-4b8e-9a51-2d1d6f1f7c11
  imagevaultctl url --thumbnail 3f1c9a0e-6d0b-4b8e-9a51-2d1d6f1f7c11`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := c.backend.service.Get(cmd.Context(), id)
			if err != nil {
				return err
			}

			if thumbnailOnly {
				link, err := c.backend.links.ThumbnailURL(cmd.Context(), a)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), link)
				return nil
			}

			links, err := c.backend.links.Links(cmd.Context(), a)
			if err != nil {
				return err
			}
			return printJSON(cmd, links)
		},
	}
	cmd.Flags().BoolVar(&thumbnailOnly, "thumbnail", false, "Print only the thumbnail link")
	return cmd
}

func readContent(path, name, contentType string) (asset.Content, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return asset.Content{}, fmt.Errorf("read %s: %w", path, err)
	}
	if name == "" {
		name = filepath.Base(path)
	}
	return asset.Content{Data: data, OriginalName: name, ContentType: contentType}, nil
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid asset id %q: %w", raw, err)
	}
	return id, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
