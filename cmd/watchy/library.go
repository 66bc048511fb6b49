package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"watchy/internal/domain"
	"watchy/internal/magnet"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the download history",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			history, err := a.library.DownloadHistory(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tFILE\tSTATE\tSIZE\tFINISHED")
			for _, e := range history {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", e.ID, e.MagnetTitle, e.Filename, e.State,
					humanize.IBytes(uint64(max(e.TotalBytes, 0))), humanize.Time(e.CompletedAt))
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <id>",
		Short: "Remove a history entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.library.RemoveDownloadHistory(cmd.Context(), args[0])
		},
	}, &cobra.Command{
		Use:   "clear",
		Short: "Remove every history entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.library.ClearDownloadHistory(cmd.Context())
		},
	})
	return cmd
}

func newWatchedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watched",
		Short: "List the watch history",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			history, err := a.library.WatchHistory(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tFILE\tPLAYS\tLAST PLAYED")
			for _, e := range history {
				for _, f := range e.Files {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", e.ID, e.MagnetTitle, f.Filename, f.PlayCount, f.PlayedAt.Format(time.DateTime))
				}
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <id> [filename]",
		Short: "Remove a watch entry, or only one of its files",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			if len(args) == 2 {
				return a.library.ResetFileWatched(cmd.Context(), args[0], args[1])
			}
			return a.library.RemoveWatchEntry(cmd.Context(), args[0])
		},
	}, &cobra.Command{
		Use:   "clear",
		Short: "Remove every watch entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.library.ClearWatchHistory(cmd.Context())
		},
	})
	return cmd
}

func newLibraryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "library",
		Short: "List the saved magnets",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			magnets, err := a.library.SavedMagnets(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tSIZE\tSEEDS\tSAVED")
			for _, m := range magnets {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", m.ID, m.Title, m.Size, m.Seeds, humanize.Time(m.SavedAt))
			}
			return w.Flush()
		},
	}

	var title string
	add := &cobra.Command{
		Use:   "add <magnet>",
		Short: "Save a magnet to the library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if title == "" {
				title = magnet.DisplayName(args[0])
			}
			item, err := a.library.AddSavedMagnet(cmd.Context(), domain.SavedMagnet{Title: title, Magnet: args[0]})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), item.ID)
			return nil
		},
	}
	add.Flags().StringVarP(&title, "title", "t", "", "Title to store (defaults to the magnet display name)")

	searches := &cobra.Command{
		Use:   "searches",
		Short: "List the saved searches",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			saved, err := a.library.SavedSearches(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tQUERY\tSAVED")
			for _, s := range saved {
				fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, s.Query, humanize.Time(s.SavedAt))
			}
			return w.Flush()
		},
	}
	searches.AddCommand(&cobra.Command{
		Use:   "add <query>",
		Short: "Save a search query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			_, err = a.library.AddSavedSearch(cmd.Context(), args[0])
			return err
		},
	}, &cobra.Command{
		Use:   "rm <id>",
		Short: "Remove a saved search",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.library.RemoveSavedSearch(cmd.Context(), args[0])
		},
	})

	cmd.AddCommand(add, &cobra.Command{
		Use:   "rm <id>",
		Short: "Remove a saved magnet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.library.RemoveSavedMagnet(cmd.Context(), args[0])
		},
	}, searches)
	return cmd
}
