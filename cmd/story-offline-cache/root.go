package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vertextoedge/story-offline-cache/internal/domain"
)

// rootOptions holds global flags for all commands
type rootOptions struct {
	configPath string
}

// newRootCommand creates the CLI root command
func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "story-offline-cache",
		Short:        "Offline storage and sync engine for the story viewer",
		Version:      version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to configuration file")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newDownloadCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newLimitCommand(opts))
	cmd.AddCommand(newClearCommand(opts))

	return cmd
}

// newServeCommand runs the HTTP API with the background services
func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, prefetch scheduler and maintenance loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts.configPath)
			if err != nil {
				return err
			}
			defer a.close()

			a.logger.Info("starting story-offline-cache",
				zap.String("version", version),
				zap.String("config", opts.configPath))

			// Create context for graceful shutdown
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			// Start HTTP server
			go func() {
				if err := a.server.Start(ctx); err != nil {
					a.logger.Error("HTTP server failed", zap.Error(err))
					cancel()
				}
			}()

			// Start prefetch scheduler
			go func() {
				if err := a.prefetch.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					a.logger.Error("prefetch scheduler stopped with error", zap.Error(err))
				}
			}()

			// Start maintenance service
			go func() {
				if err := a.maintenance.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					a.logger.Error("maintenance service stopped with error", zap.Error(err))
				}
			}()

			a.logger.Info("application started successfully",
				zap.String("http_addr", a.cfg.HTTP.BindAddr),
				zap.String("data_dir", a.cfg.Storage.DataDir))
			<-ctx.Done()

			a.logger.Info("shutdown signal received, stopping services...")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()

			a.prefetch.Stop()
			a.maintenance.Stop()

			if err := a.server.Stop(shutdownCtx); err != nil {
				a.logger.Error("failed to stop HTTP server gracefully", zap.Error(err))
			}

			a.logger.Info("application stopped successfully")
			return nil
		},
	}
}

// newDownloadCommand runs a bulk download in the foreground
func newDownloadCommand(opts *rootOptions) *cobra.Command {
	var fresh bool

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download the whole catalog into the library",
		Long: "Download every record and its artwork for offline use. " +
			"Interrupting keeps a checkpoint that the next run resumes from.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts.configPath)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			out := cmd.OutOrStdout()
			summary, err := a.downloader.Start(ctx, func(p domain.DownloadProgress) {
				switch p.Phase {
				case domain.PhaseDownloading:
					fmt.Fprintf(out, "\r%d/%d", p.Current, p.Total)
				case domain.PhaseError:
					fmt.Fprintf(out, "\n%s\n", p.Message)
				default:
					if p.Message != "" {
						fmt.Fprintln(out, p.Message)
					}
				}
			}, !fresh)
			if err != nil {
				if info, cerr := a.downloader.CheckResumable(context.Background()); cerr == nil && info.CanResume {
					fmt.Fprintf(out, "download interrupted at %d/%d, run again to resume\n", info.Completed, info.Total)
				}
				return err
			}

			fmt.Fprintf(out, "\nstories: %d, images: %d, skipped: %d, errors: %d\n",
				summary.StoriesDownloaded, summary.ImagesDownloaded, summary.Skipped, summary.Errors)
			return nil
		},
	}

	cmd.Flags().BoolVar(&fresh, "fresh", false, "ignore any saved checkpoint and start from zero")
	return cmd
}

// newStatusCommand prints storage usage and download state
func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show storage usage, budget and resumable downloads",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts.configPath)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			usage, err := a.quota.GetUsage(ctx)
			if err != nil {
				return err
			}
			limit := a.quota.LimitBytes()
			fmt.Fprintf(out, "storage:  %s of %s (%d MB preset)\n",
				humanize.IBytes(uint64(usage.TotalBytes)), humanize.IBytes(uint64(limit)), a.quota.GetLimitMB())
			fmt.Fprintf(out, "cache:    %d records\n", usage.CacheCount)
			fmt.Fprintf(out, "library:  %d records\n", usage.LibraryCount)

			if count, size, err := a.blobs.Stats(ctx); err == nil {
				fmt.Fprintf(out, "assets:   %s in %s\n", humanize.Comma(int64(count)), humanize.IBytes(uint64(size)))
			}

			info, err := a.downloader.CheckResumable(ctx)
			if err != nil {
				return err
			}
			if info.CanResume {
				fmt.Fprintf(out, "download: resumable at %d/%d\n", info.Completed, info.Total)
			}
			return nil
		},
	}
}

// newLimitCommand shows or sets the storage budget
func newLimitCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "limit [MB]",
		Short: "Show or set the storage limit",
		Long:  fmt.Sprintf("Show or set the storage limit. Allowed values: %v MB.", domain.StorageLimitPresets),
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts.configPath)
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				fmt.Fprintf(out, "%d MB\n", a.quota.GetLimitMB())
				return nil
			}

			mb, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid limit %q: %w", args[0], err)
			}
			if err := a.quota.SetLimitMB(mb); err != nil {
				return err
			}

			// A lower budget takes effect immediately
			res, err := a.library.RunCleanup(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "limit set to %d MB\n", mb)
			if res != nil && res.Triggered {
				fmt.Fprintf(out, "evicted %d cached records\n", len(res.Evicted))
			}
			return nil
		},
	}
}

// newClearCommand runs the manual clear actions
func newClearCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "clear cache|library",
		Short:     "Remove every cached record and asset, or every saved record",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"cache", "library"},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts.configPath)
			if err != nil {
				return err
			}
			defer a.close()

			var n int
			switch args[0] {
			case "cache":
				n, err = a.library.ClearCache(cmd.Context())
			case "library":
				n, err = a.library.ClearLibrary(cmd.Context())
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d %s records\n", n, args[0])
			return nil
		},
	}
}
