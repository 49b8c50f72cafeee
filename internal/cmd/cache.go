package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/cibox/internal/image"
	"github.com/felixgeelhaar/cibox/internal/log"
	"github.com/felixgeelhaar/cibox/internal/report"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and prune the image cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cached images",
	RunE:  runCacheStats,
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove cached images not used recently",
	Long: `Remove cache entries whose image was last used longer ago than --max-age
and delete the images from the local engine.`,
	RunE: runCachePrune,
}

func init() {
	cachePruneCmd.Flags().Duration("max-age", 0, "maximum age since last use (default from config)")
	cachePruneCmd.Flags().Bool("keep-images", false, "only drop cache entries, keep the images")

	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cachePruneCmd)
	rootCmd.AddCommand(cacheCmd)
}

func loadCache(cctx *CommandContext) (*image.Cache, error) {
	cache := image.NewCache(cctx.Config.Cache.Dir)
	if err := cache.Load(); err != nil {
		return nil, err
	}
	return cache, nil
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	cctx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	cache, err := loadCache(cctx)
	if err != nil {
		return err
	}

	if cctx.Format != "text" {
		formatter, err := report.NewFormatter(cctx.Format, &report.FormatterOptions{Writer: cmd.OutOrStdout()})
		if err != nil {
			return err
		}
		return formatter.Format(struct {
			Stats   image.CacheStats `json:"stats" yaml:"stats"`
			Entries []image.Ref      `json:"entries" yaml:"entries"`
		}{cache.Stats(), cache.Entries()})
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Tag", "Image ID", "Built", "Last used"})
	for _, ref := range cache.Entries() {
		t.AppendRow(table.Row{ref.Name, shortID(ref.ID), ref.BuiltAt.Format(time.RFC3339), ref.LastUsed.Format(time.RFC3339)})
	}
	t.Render()

	stats := cache.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "%d images in %s\n", stats.Images, stats.Dir)
	return nil
}

func runCachePrune(cmd *cobra.Command, args []string) error {
	cctx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	cache, err := loadCache(cctx)
	if err != nil {
		return err
	}

	maxAge, _ := cmd.Flags().GetDuration("max-age")
	if maxAge <= 0 {
		maxAge = cctx.Config.Cache.MaxAge
	}
	keep, _ := cmd.Flags().GetBool("keep-images")

	var remover imageRemover
	if !keep {
		remover = image.NewDockerBuilder(cctx.Config.Docker.Bin)
	}
	pruned, failed, err := pruneCache(cmd.Context(), cache, remover, maxAge, cctx.Logger)
	if err != nil {
		return err
	}
	for _, ref := range pruned {
		fmt.Fprintf(cmd.OutOrStdout(), "pruned %s\n", ref.Name)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d images pruned, %d kept\n", len(pruned), cache.Stats().Images)
	if len(failed) > 0 {
		return fmt.Errorf("%d images could not be removed and stay in the cache", len(failed))
	}
	return nil
}

type imageRemover interface {
	Remove(ctx context.Context, ref image.Ref) error
}

// pruneCache drops entries older than maxAge and deletes their images with
// remover (nil keeps the images). Entries whose image could not be deleted
// are restored so a later prune can retry them. The manifest is saved
// last.
func pruneCache(ctx context.Context, cache *image.Cache, remover imageRemover, maxAge time.Duration, logger *log.Logger) (pruned, failed []image.Ref, err error) {
	for _, ref := range cache.Prune(maxAge) {
		if remover != nil {
			if err := remover.Remove(ctx, ref); err != nil {
				logger.WithError(err).Warn("failed to remove image", "image", ref.Name)
				cache.Restore(ref)
				failed = append(failed, ref)
				continue
			}
		}
		pruned = append(pruned, ref)
	}
	if err := cache.Save(); err != nil {
		return nil, nil, err
	}
	return pruned, failed, nil
}

func shortID(id string) string {
	const n = len("sha256:") + 12
	if len(id) > n {
		return id[:n]
	}
	return id
}
