// Command sitestats runs maintenance operations against the site counters,
// currently a full recomputation of the counters row from the source tables.
package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/commonpedia/sitestats/internal/datastore/postgres"
	log "github.com/commonpedia/sitestats/internal/logging"
	"github.com/commonpedia/sitestats/internal/sitestats"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		log.Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:           "sitestats",
		Short:         "site counters maintenance",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return setupLogging(logLevel)
		},
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "verbosity of logging (trace, debug, info, warn, error)")
	cmd.AddCommand(recomputeCmd())
	return cmd
}

func recomputeCmd() *cobra.Command {
	var (
		replicaURI         string
		primaryURI         string
		articleCountMethod string
		contentNamespaces  []int32
		activeUsers        bool
	)

	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "recount all site counters from the source tables and commit them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			method := sitestats.ArticleCountMethod(articleCountMethod)
			if err := method.Validate(); err != nil {
				return err
			}

			ds, err := postgres.NewDatastore(ctx, replicaURI, primaryURI)
			if err != nil {
				return fmt.Errorf("unable to connect: %w", err)
			}
			defer ds.Close()

			opts := []sitestats.RecomputerOption{
				sitestats.WithArticleCountMethod(method),
				sitestats.WithContentNamespaces(contentNamespaces...),
			}
			if activeUsers {
				opts = append(opts, sitestats.WithActiveUsersUpdater(
					postgres.NewActiveUsersCounter(ds.Primary()),
				))
			}

			return sitestats.RecomputeAndCommit(ctx, ds, opts...)
		},
	}

	cmd.Flags().StringVar(&replicaURI, "replica-uri", "", "connection string of the replica used for counting")
	cmd.Flags().StringVar(&primaryURI, "primary-uri", "", "connection string of the primary; defaults to the replica URI")
	cmd.Flags().StringVar(&articleCountMethod, "article-count-method", string(sitestats.ArticleCountAny), "article counting method (any, link, comma)")
	cmd.Flags().Int32SliceVar(&contentNamespaces, "content-namespaces", []int32{0}, "namespaces whose pages are candidate articles")
	cmd.Flags().BoolVar(&activeUsers, "active-users", false, "also recount active users")
	if err := cmd.MarkFlagRequired("replica-uri"); err != nil {
		panic(err)
	}
	return cmd
}

func setupLogging(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("unknown log level %q: %w", level, err)
	}

	var out = zerolog.New(os.Stderr)
	if isatty.IsTerminal(os.Stderr.Fd()) {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log.SetGlobalLogger(out.Level(lvl).With().Timestamp().Logger())
	return nil
}
