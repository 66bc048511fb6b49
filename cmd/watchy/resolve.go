package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"watchy/internal/domain"
	"watchy/internal/downloader"
	"watchy/internal/magnet"
)

const remoteTimeout = 2 * time.Minute

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <magnet>",
		Short: "Print the direct links of a magnet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), remoteTimeout)
			defer cancel()

			a, err := newApp(ctx, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.pipeline.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, res.Message())
			for _, f := range res.Files {
				fmt.Fprintf(out, "%s\t%s\n", f.Filename, f.DirectURL)
			}
			return nil
		},
	}
}

func newDownloadCmd() *cobra.Command {
	var (
		dir   string
		title string
	)
	cmd := &cobra.Command{
		Use:   "download <magnet|url>...",
		Short: "Resolve magnets and download every file, waiting for completion",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			type request struct {
				url  string
				opts downloader.SubmitOptions
			}
			var requests []request
			for _, arg := range args {
				if !strings.HasPrefix(arg, "magnet:") && !magnet.IsHash(arg) {
					requests = append(requests, request{url: arg, opts: downloader.SubmitOptions{Directory: dir, MagnetTitle: title}})
					continue
				}

				rctx, cancel := context.WithTimeout(ctx, remoteTimeout)
				res, err := a.pipeline.Resolve(rctx, arg)
				cancel()
				if err != nil {
					return err
				}
				if res.Status != domain.ResolutionReady {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", res.Hash, res.Message())
					continue
				}

				magnetTitle := title
				if magnetTitle == "" {
					magnetTitle = magnet.DisplayName(arg)
				}
				if magnetTitle == "" {
					magnetTitle = res.Hash
				}
				for _, f := range res.Files {
					requests = append(requests, request{url: f.DirectURL, opts: downloader.SubmitOptions{Directory: dir, MagnetTitle: magnetTitle}})
				}
			}
			if len(requests) == 0 {
				return nil
			}

			out := cmd.OutOrStdout()
			var (
				mu      sync.Mutex
				pending = map[string]bool{}
				failed  int
				done    = make(chan struct{})
			)
			unsubscribe := a.reporter.Subscribe(func(e domain.DownloadEvent) {
				mu.Lock()
				defer mu.Unlock()
				if !pending[e.JobID] || !e.State.Terminal() {
					return
				}
				delete(pending, e.JobID)
				if e.State == domain.JobStateFailed {
					failed++
				}
				fmt.Fprintf(out, "%s\t%s\t%s\n", e.State, humanize.IBytes(uint64(max(e.ReceivedBytes, 0))), e.SavePath)
				if len(pending) == 0 {
					close(done)
				}
			})
			defer unsubscribe()

			mu.Lock()
			for _, r := range requests {
				job := a.queue.Submit(r.url, r.opts)
				if job.State == domain.JobStateFailed {
					failed++
					continue
				}
				pending[job.ID] = true
			}
			empty := len(pending) == 0
			mu.Unlock()
			if empty {
				return fmt.Errorf("%d downloads failed", failed)
			}

			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
			if failed > 0 {
				return fmt.Errorf("%d downloads failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Destination directory (defaults to download.datadir)")
	cmd.Flags().StringVarP(&title, "title", "t", "", "Title recorded in the download history")
	return cmd
}
