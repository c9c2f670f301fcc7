// Package main は pdfsqueeze コマンドラインツールです。
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourusername/pdf-squeeze/internal/config"
	"github.com/yourusername/pdf-squeeze/internal/converter"
	"github.com/yourusername/pdf-squeeze/internal/jobs"
	"github.com/yourusername/pdf-squeeze/internal/logging"
	"github.com/yourusername/pdf-squeeze/internal/pdf"
	"github.com/yourusername/pdf-squeeze/internal/storage"
)

const pollInterval = 100 * time.Millisecond

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "pdfsqueeze: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pdfsqueeze",
		Short: "Compress PDF files with Ghostscript",
		Long: `pdfsqueeze compresses PDF files with Ghostscript using one of three quality profiles
(prepress, ebook, screen). Settings such as GHOSTSCRIPT_PATH, UPLOAD_DIR and COMPRESSED_DIR are
read from the environment or .env.local, the same way the API server does.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newCompressCmd(),
		newProfilesCmd(),
		newCleanupCmd(),
	)
	return cmd
}

func newCompressCmd() *cobra.Command {
	var (
		profile string
		timeout time.Duration
		output  string
		keep    bool
	)
	cmd := &cobra.Command{
		Use:   "compress <file.pdf>",
		Short: "Compress a PDF and write <name>_compressed.pdf",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if timeout > 0 {
				cfg.ConvertTimeoutSeconds = int((timeout + time.Second - 1) / time.Second)
			}
			logging.Configure(logging.Config{Level: cfg.LogLevel, Output: io.Discard, Service: "pdfsqueeze-cli"})
			return runCompress(cmd.Context(), cmd.OutOrStdout(), cfg, args[0], profile, output, keep)
		},
	}
	cmd.Flags().StringVarP(&profile, "profile", "p", string(converter.DefaultProfile), "Compression profile (prepress, ebook, screen)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Ghostscript time limit (defaults to CONVERT_TIMEOUT_SECONDS)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Where to write the compressed PDF (defaults to the input directory)")
	cmd.Flags().BoolVar(&keep, "keep", false, "Keep the working copies in UPLOAD_DIR and COMPRESSED_DIR")
	return cmd
}

func runCompress(ctx context.Context, out io.Writer, cfg *config.Config, inputPath, profile, output string, keep bool) (err error) {
	files, err := storage.NewLocal(cfg.UploadDir, cfg.CompressedDir, cfg.MaxFileSize)
	if err != nil {
		return err
	}
	gs := converter.NewGhostscript(converter.Options{Path: cfg.GhostscriptPath, Timeout: cfg.ConvertTimeout()})
	manager, err := newLocalManager(gs, files)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = errors.Join(err, manager.Shutdown(shutdownCtx))
	}()

	stored, err := files.ImportFile(ctx, inputPath)
	if err != nil {
		return err
	}
	id, err := manager.Submit(ctx, jobs.SubmitRequest{
		InputPath: stored.Path,
		InputName: stored.OriginalName,
		Profile:   profile,
	})
	if err != nil {
		_ = files.Remove(stored.Path)
		return err
	}
	if !keep {
		defer func() {
			err = errors.Join(err, manager.Cleanup(context.WithoutCancel(ctx), id))
		}()
	}

	if err := waitForJob(ctx, out, manager, id); err != nil {
		return err
	}
	result, err := manager.FinalizeAndFetch(ctx, id)
	if err != nil {
		var jobErr *jobs.JobError
		if errors.As(err, &jobErr) && jobErr.Diagnostics != "" {
			fmt.Fprintln(out, jobErr.Diagnostics)
		}
		return err
	}

	if output == "" {
		output = filepath.Join(filepath.Dir(inputPath), result.OutputName)
	}
	if err := copyFile(result.OutputPath, output); err != nil {
		return err
	}

	fmt.Fprintf(out, "%s -> %s\n", inputPath, output)
	fmt.Fprintf(out, "  profile:    %s\n", result.Profile)
	fmt.Fprintf(out, "  original:   %s\n", formatSize(result.OriginalSize))
	fmt.Fprintf(out, "  compressed: %s\n", formatSize(result.CompressedSize))
	fmt.Fprintf(out, "  reduction:  %.1f%%\n", result.Reduction)
	if result.Pages > 0 {
		fmt.Fprintf(out, "  pages:      %d\n", result.Pages)
	}
	return nil
}

func newLocalManager(conv jobs.Converter, files *storage.Local) (*jobs.Manager, error) {
	store := jobs.NewMemoryStore()
	runner, err := jobs.NewRunner(store, conv, files,
		jobs.WithInspector(pdf.NewInspector()),
		jobs.WithRunnerLogger(logging.WithComponent("runner")),
	)
	if err != nil {
		return nil, err
	}
	manager, err := jobs.NewManager(jobs.ManagerConfig{
		Store:      store,
		Dispatcher: jobs.NewPool(1, 1, logging.WithComponent("dispatcher")),
		Runner:     runner,
		Files:      files,
		Logger:     logging.WithComponent("jobs"),
	})
	if err != nil {
		return nil, err
	}
	if err := manager.Start(); err != nil {
		return nil, err
	}
	return manager, nil
}

// waitForJob は段階が変わるたびに1行出力し、終端状態になるまで待ちます。
func waitForJob(ctx context.Context, out io.Writer, manager *jobs.Manager, id string) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var last jobs.Stage
	for {
		progress, err := manager.Progress(ctx, id)
		if err != nil {
			return err
		}
		if progress.Stage != last {
			fmt.Fprintf(out, "[%3d%%] %s\n", progress.Percentage, progress.Stage)
			last = progress.Stage
		}
		if progress.Complete {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func newProfilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List compression profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tNAME\tSETTING\tDESCRIPTION")
			for _, p := range converter.Profiles() {
				key := string(p.Key)
				if p.Default {
					key += " (default)"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", key, p.Name, p.Setting, p.Description)
			}
			return w.Flush()
		},
	}
}

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete every file in UPLOAD_DIR and COMPRESSED_DIR",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			files, err := storage.NewLocal(cfg.UploadDir, cfg.CompressedDir, cfg.MaxFileSize)
			if err != nil {
				return err
			}
			if err := files.Purge(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleaned %s and %s\n", files.InputDir(), files.OutputDir())
			return nil
		},
	}
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	_, err = io.Copy(out, in)
	return err
}

func formatSize(n int64) string {
	return fmt.Sprintf("%.2f KB", float64(n)/1024)
}
