package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/jpfielding/shrink.go/pkg/archive"
	"github.com/jpfielding/shrink.go/pkg/intake"
	"github.com/jpfielding/shrink.go/pkg/shrink"
	"github.com/jpfielding/shrink.go/pkg/util"
	"github.com/jpfielding/shrink.go/pkg/watch"
	"github.com/spf13/cobra"
)

// NewWatchCmd compresses images as they land in a directory
func NewWatchCmd(ctx context.Context, a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch DIR",
		Short: "compress images as they appear in a directory",
		Long:  "Watches DIR and compresses each new or rewritten image as a one-item batch into --out.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := settingsFromFlags(cmd.Flags(), a.cfg.Compression)
			if err := settings.Validate(); err != nil {
				return err
			}
			outDir, _ := cmd.Flags().GetString("out")
			if outDir == "" {
				outDir = a.cfg.Output.Dir
			}
			srcDir, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if abs, err := filepath.Abs(outDir); err == nil && abs == srcDir {
				return fmt.Errorf("--out must differ from the watched directory")
			}

			c := shrink.New(shrink.WithPolicy(a.cfg.Policy()), shrink.WithLogger(slog.Default()))
			defer c.Clear()
			h := &watchHandler{
				compressor: c,
				settings:   settings,
				rules:      a.cfg.Rules(),
				outDir:     outDir,
				seen:       map[string]string{},
			}

			delay, _ := cmd.Flags().GetDuration("delay")
			w, err := watch.New(srcDir, h.handle, watch.WithDelay(delay), watch.WithLogger(slog.Default()))
			if err != nil {
				return err
			}
			return w.Run(ctx)
		},
	}
	addSettingsFlags(cmd.Flags())
	cmd.Flags().StringP("out", "o", "", "output directory (default from config)")
	cmd.Flags().Duration("delay", watch.DefaultDelay, "quiet period before a file is compressed")
	return cmd
}

type watchHandler struct {
	compressor *shrink.Compressor
	settings   shrink.Settings
	rules      intake.Rules
	outDir     string

	mu   sync.Mutex
	seen map[string]string // path -> content id of the last compressed version
}

func (h *watchHandler) handle(ctx context.Context, path string) error {
	src, err := intake.Open(path, h.rules.MaxFileSize)
	if err != nil {
		return err
	}
	if err := h.rules.Check(src); err != nil {
		return err
	}
	id := util.ContentID(src.Bytes())
	h.mu.Lock()
	unchanged := h.seen[path] == id
	h.mu.Unlock()
	if unchanged {
		slog.DebugContext(ctx, "skipping unchanged file", "path", path, "id", id)
		return nil
	}

	report, err := h.compressor.CompressBatch(ctx, []*shrink.SourceImage{src}, h.settings, nil)
	if err != nil {
		return err
	}
	paths, err := archive.WriteDir(h.outDir, report.Results)
	if err != nil {
		return err
	}
	// handles are not needed once written
	h.compressor.Clear()

	h.mu.Lock()
	h.seen[path] = id
	h.mu.Unlock()
	res := report.Results[0]
	slog.InfoContext(ctx, "compressed",
		"path", path,
		"out", paths[0],
		"ratio", res.CompressionRatio,
		"size", res.EncodedInfo.Size)
	return nil
}
