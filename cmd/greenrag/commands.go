package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"greenrag/internal/domain"
	"greenrag/internal/mcp"
	"greenrag/internal/service"
	"greenrag/internal/tui"
)

func newIndexCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build or inspect the directive index",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "build",
		Short: "Open the persisted index, building it from the source if missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(c.cfg)
			if err != nil {
				return classify(err)
			}
			defer a.close()
			st, err := a.service.Init(cmd.Context())
			if err != nil {
				return classify(err)
			}
			printStatus(cmd.OutOrStdout(), c.cfg.Index.Backend, c.cfg.Index.Path, st)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rebuild",
		Short: "Re-ingest the source and replace the index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(c.cfg)
			if err != nil {
				return classify(err)
			}
			defer a.close()
			st, err := a.service.Rebuild(cmd.Context())
			if err != nil {
				return classify(err)
			}
			printStatus(cmd.OutOrStdout(), c.cfg.Index.Backend, c.cfg.Index.Path, st)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the persisted index manifest without building",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(c.cfg)
			if err != nil {
				return classify(err)
			}
			defer a.close()
			st := service.Status{Source: c.cfg.Source.Path}
			idx, err := a.manager.Open(cmd.Context())
			switch {
			case err == nil:
				defer idx.Close()
				st.Initialized = true
				st.Chunks = idx.Len()
				st.Manifest = idx.Manifest()
			case errors.Is(err, domain.ErrNotFound):
			default:
				return classify(err)
			}
			printStatus(cmd.OutOrStdout(), c.cfg.Index.Backend, c.cfg.Index.Path, st)
			return nil
		},
	})

	return cmd
}

func printStatus(w io.Writer, backend, path string, st service.Status) {
	fmt.Fprintf(w, "source:    %s\n", st.Source)
	fmt.Fprintf(w, "backend:   %s (%s)\n", backend, path)
	if !st.Initialized {
		fmt.Fprintln(w, "index:     not built")
		return
	}
	m := st.Manifest
	fmt.Fprintf(w, "build:     %s\n", m.BuildID)
	fmt.Fprintf(w, "model:     %s (dimension %d)\n", m.Model, m.Dimension)
	fmt.Fprintf(w, "chunks:    %d\n", st.Chunks)
	if !m.CreatedAt.IsZero() {
		fmt.Fprintf(w, "created:   %s\n", m.CreatedAt.Local().Format(time.RFC1123))
	}
}

type searchFlags struct {
	k     int
	brief bool
}

func newSearchCmd(c *cli) *cobra.Command {
	var flags searchFlags
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Print the directive passages most relevant to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(c.cfg)
			if err != nil {
				return classify(err)
			}
			defer a.close()
			k := flags.k
			if !cmd.Flags().Changed("top-k") {
				k = a.service.DefaultK()
			}
			query := strings.Join(args, " ")
			results, err := a.service.SearchDirective(cmd.Context(), query, k)
			if err != nil {
				return classify(err)
			}
			out := service.Format(results)
			if flags.brief {
				out = formatBrief(results, query, a.summarizer.Summarize, c.cfg.Summarizer.MaxSentences)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVarP(&flags.k, "top-k", "k", service.DefaultK, "Number of passages to return")
	f.BoolVar(&flags.brief, "brief", false, "Print an extractive summary of each passage")
	return cmd
}

// formatBrief renders results like service.Format but with summarized content.
func formatBrief(results domain.QueryResult, query string, summarize func(text, query string, n int) string, sentences int) string {
	if len(results) == 0 {
		return service.NoResultsMessage
	}
	briefs := make(domain.QueryResult, len(results))
	for i, r := range results {
		briefs[i] = r
		briefs[i].Chunk.Content = summarize(r.Chunk.Content, query, sentences)
	}
	return service.Format(briefs)
}

func newBrowseCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "browse",
		Short: "Interactively query the directive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(c.cfg)
			if err != nil {
				return classify(err)
			}
			defer a.close()
			st, err := a.service.Init(cmd.Context())
			if err != nil {
				return classify(err)
			}
			header := fmt.Sprintf("%d chunks · %s · build %s", st.Chunks, st.Manifest.Model, shortID(st.Manifest.BuildID))
			m := tui.New(a.service, a.summarizer, a.service.DefaultK(), header)
			if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
				return classify(err)
			}
			return nil
		},
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func newServeCmd(c *cli) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the search_eu_directive MCP tool over stdio or HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(c.cfg)
			if err != nil {
				return classify(err)
			}
			defer a.close()
			defer a.service.Close()

			srv, err := mcp.NewServer(a.service)
			if err != nil {
				return classify(err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if addr != "" {
				return classify(srv.RunHTTP(ctx, addr))
			}
			if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return classify(err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "http", "", "Serve streamable HTTP on this address instead of stdio (e.g. :8080)")
	return cmd
}
