package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/docker/go-units"
	"github.com/jpfielding/shrink.go/pkg/exif"
	"github.com/jpfielding/shrink.go/pkg/intake"
	"github.com/jpfielding/shrink.go/pkg/surface"
	"github.com/jpfielding/shrink.go/pkg/util"
	"github.com/spf13/cobra"
)

type fileInfo struct {
	Name        string `json:"name"`
	ID          string `json:"id"`
	MD5         string `json:"md5"`
	Type        string `json:"type"`
	Size        int64  `json:"size"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Orientation int    `json:"orientation"`
	Supported   bool   `json:"supported"`
}

// NewInfoCmd prints what the pipeline sees in a file
func NewInfoCmd(ctx context.Context, a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info FILE",
		Short: "describe an image file",
		Long:  "Prints the sniffed type, stored dimensions and EXIF orientation of an image file.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := intake.Open(args[0], a.cfg.Intake.MaxFileSize)
			if err != nil {
				return err
			}
			data := src.Bytes()
			fi := fileInfo{
				Name:        src.Name,
				ID:          util.ContentID(data),
				MD5:         util.Md5ThenHex(data),
				Type:        src.Type,
				Size:        src.Size,
				Orientation: int(exif.Normal),
				Supported:   a.cfg.Rules().Check(src) == nil,
			}
			if src.Type == surface.MIMEJPEG {
				fi.Orientation = int(exif.ReadOrientation(data))
			}
			if d, err := src.Dimensions(); err == nil {
				fi.Width, fi.Height = d.Width, d.Height
			}

			switch format, _ := cmd.Flags().GetString("output"); format {
			case "json":
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(fi)
			default:
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "Name: %s\n", fi.Name)
				fmt.Fprintf(w, "ID: %s\n", fi.ID)
				fmt.Fprintf(w, "MD5: %s\n", fi.MD5)
				fmt.Fprintf(w, "Type: %s\n", fi.Type)
				fmt.Fprintf(w, "Size: %s\n", units.HumanSize(float64(fi.Size)))
				fmt.Fprintf(w, "Dimensions: %dx%d\n", fi.Width, fi.Height)
				fmt.Fprintf(w, "Orientation: %d (%s)\n", fi.Orientation, exif.Orientation(fi.Orientation))
				fmt.Fprintf(w, "Supported: %v\n", fi.Supported)
			}
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "text", "output format (text|json)")
	return cmd
}
