package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tubewise/tubewise/config"
	"github.com/tubewise/tubewise/internal/ingest"
	"github.com/tubewise/tubewise/internal/provider/openai"
	srv "github.com/tubewise/tubewise/internal/server"
	"github.com/tubewise/tubewise/internal/store"
	"github.com/tubewise/tubewise/internal/youtube"
)

func main() {
	var root = &cobra.Command{Use: "tubewise"}

	var configPath string
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	var serveAddr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if serveAddr == "" {
				serveAddr = os.Getenv("TUBEWISE_HTTP_ADDR")
			}
			return srv.Run(cfg, serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (defaults to general.listen)")

	var migDir string
	var direction string
	var steps int
	var migrate = &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			dsn, err := cfg.Databases.Postgres.DSN()
			if err != nil {
				return err
			}
			return srv.Migrate(migDir, dsn, direction, steps)
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", "file://migrations", "migrations source (file://migrations)")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	var ingestChannel string
	var ingestVideos string
	var ingestCmd = &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a channel's video transcripts from the command line",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ingestChannel == "" {
				return fmt.Errorf("--channel is required")
			}
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if err := cfg.Providers.OpenAI.Validate(); err != nil {
				return err
			}
			dsn, err := cfg.Databases.Postgres.DSN()
			if err != nil {
				return err
			}
			ctx := context.Background()
			st, err := store.NewWithDSN(ctx, dsn)
			if err != nil {
				return err
			}
			defer st.DB.Close()

			source := youtube.NewClient(cfg.YouTube)
			llm, err := openai.New(cfg.Providers.OpenAI)
			if err != nil {
				return err
			}
			pipe, err := ingest.New(st, source, llm, cfg.Providers.OpenAI, cfg.Ingest, nil)
			if err != nil {
				return err
			}

			ch, err := st.GetChannel(ctx, ingestChannel)
			if err != nil {
				return fmt.Errorf("channel %s: %w", ingestChannel, err)
			}

			var ids []string
			if ingestVideos != "" {
				ids = strings.Split(ingestVideos, ",")
			} else {
				videos, err := source.ChannelVideos(ctx, ch.ChannelID, cfg.YouTube.MaxVideos)
				if err != nil {
					return err
				}
				for _, v := range videos {
					ids = append(ids, v.VideoID)
				}
			}
			if len(ids) == 0 {
				return fmt.Errorf("no videos to ingest")
			}

			report := pipe.IngestVideos(ctx, ch.ID, ids)
			for _, o := range report.Outcomes {
				if o.Error != "" {
					log.Printf("%s: %s (%s)", o.VideoID, o.Status, o.Error)
				} else {
					log.Printf("%s: %s", o.VideoID, o.Status)
				}
			}
			if failed := report.Failed(); len(failed) > 0 {
				return fmt.Errorf("%d of %d videos failed", len(failed), len(report.Outcomes))
			}
			return nil
		},
	}
	ingestCmd.Flags().StringVar(&ingestChannel, "channel", "", "channel id (database id)")
	ingestCmd.Flags().StringVar(&ingestVideos, "videos", "", "comma-separated video ids (defaults to the channel's uploads feed)")

	root.AddCommand(serve, migrate, ingestCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
