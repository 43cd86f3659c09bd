package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/docker/go-units"
	"github.com/jpfielding/shrink.go/pkg/archive"
	"github.com/jpfielding/shrink.go/pkg/intake"
	"github.com/jpfielding/shrink.go/pkg/shrink"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// NewCompressCmd compresses a set of files as one batch
func NewCompressCmd(ctx context.Context, a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compress [files...]",
		Short: "resize and re-encode images",
		Long:  "Compresses every accepted file as one batch and writes the results to --out or --zip.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := settingsFromFlags(cmd.Flags(), a.cfg.Compression)
			if err := settings.Validate(); err != nil {
				return err
			}
			rules := a.cfg.Rules()
			out := cmd.OutOrStdout()

			var sources []*shrink.SourceImage
			for _, path := range args {
				src, err := intake.Open(path, rules.MaxFileSize)
				if err != nil {
					fmt.Fprintf(out, "skip %s: %v\n", path, err)
					continue
				}
				sources = append(sources, src)
			}
			accepted, rejected := rules.Validate(sources)
			for _, r := range rejected {
				fmt.Fprintf(out, "skip %v\n", r)
			}
			if len(accepted) == 0 {
				return fmt.Errorf("no acceptable images among %d file(s)", len(args))
			}

			c := shrink.New(shrink.WithPolicy(a.cfg.Policy()), shrink.WithLogger(slog.Default()))
			defer c.Clear()

			quiet, _ := cmd.Flags().GetBool("quiet")
			var progress shrink.ProgressFunc
			if !quiet {
				progress = func(percent float64, done, total int) {
					fmt.Fprintf(cmd.ErrOrStderr(), "\r%3.0f%% (%d/%d)", percent, done, total)
					if done == total {
						fmt.Fprintln(cmd.ErrOrStderr())
					}
				}
			}
			report, err := c.CompressBatch(ctx, accepted, settings, progress)
			if report != nil {
				printReport(out, report)
			}
			if err != nil {
				return err
			}
			return writeResults(cmd, a, report.Results)
		},
	}
	addSettingsFlags(cmd.Flags())
	cmd.Flags().StringP("out", "o", "", "output directory (default from config)")
	cmd.Flags().StringP("zip", "z", "", "write a zip archive instead of a directory")
	cmd.Flags().BoolP("quiet", "q", false, "no progress line")
	return cmd
}

func addSettingsFlags(fs *pflag.FlagSet) {
	fs.Float64("quality", shrink.DefaultQuality, "encoder quality in [0,1]; ignored for PNG")
	fs.Int("max-width", shrink.DefaultMaxWidth, "maximum output width")
	fs.Int("max-height", shrink.DefaultMaxHeight, "maximum output height")
	fs.StringP("format", "f", "", "output MIME type (default keeps the source format)")
}

// settingsFromFlags applies explicitly set flags over the configured settings
func settingsFromFlags(fs *pflag.FlagSet, base shrink.Settings) shrink.Settings {
	s := base
	if fs.Changed("quality") {
		s.Quality, _ = fs.GetFloat64("quality")
	}
	if fs.Changed("max-width") {
		s.MaxWidth, _ = fs.GetInt("max-width")
	}
	if fs.Changed("max-height") {
		s.MaxHeight, _ = fs.GetInt("max-height")
	}
	if fs.Changed("format") {
		s.OutputFormat, _ = fs.GetString("format")
	}
	return s
}

func printReport(w io.Writer, report *shrink.BatchReport) {
	for _, res := range report.Results {
		fmt.Fprintf(w, "%s: %s %dx%d -> %s %dx%d %s (%d%%)\n",
			res.OriginalInfo.Name,
			units.HumanSize(float64(res.OriginalInfo.Size)),
			res.OriginalInfo.Width, res.OriginalInfo.Height,
			units.HumanSize(float64(res.EncodedInfo.Size)),
			res.EncodedInfo.Width, res.EncodedInfo.Height,
			res.EncodedInfo.Type,
			res.CompressionRatio)
	}
	for _, f := range report.Failures {
		fmt.Fprintf(w, "failed %v\n", f)
	}
	fmt.Fprintf(w, "%d/%d compressed\n", len(report.Results), report.Total)
}

func writeResults(cmd *cobra.Command, a *app, results []*shrink.Result) error {
	zipPath, _ := cmd.Flags().GetString("zip")
	if zipPath == "" {
		zipPath = a.cfg.Output.Zip
	}
	if zipPath != "" {
		f, err := os.Create(zipPath)
		if err != nil {
			return fmt.Errorf("failed to create zip: %w", err)
		}
		if err := archive.WriteZip(f, results); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to close zip: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", zipPath)
		return nil
	}

	dir, _ := cmd.Flags().GetString("out")
	if dir == "" {
		dir = a.cfg.Output.Dir
	}
	paths, err := archive.WriteDir(dir, results)
	for _, p := range paths {
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", p)
	}
	return err
}
