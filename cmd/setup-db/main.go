package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"school-service/internal/config"
	"school-service/internal/db"
	"school-service/internal/school"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	dropFirst   bool
	withSamples bool
	timeout     time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "setup-db",
	Short: "Create the schools table",
	Long:  `Create the schools table in the configured PostgreSQL database and optionally seed sample rows.`,
	RunE:  run,
}

var sampleSchools = []school.School{
	{Name: "Example School", Address: "123 Main Street", Latitude: 40.7128, Longitude: -74.0060},
	{Name: "Test Academy", Address: "456 Park Avenue", Latitude: 40.7135, Longitude: -74.0046},
}

func init() {
	rootCmd.Flags().BoolVar(&dropFirst, "drop", false, "Drop the schools table before creating it")
	rootCmd.Flags().BoolVar(&withSamples, "with-samples", false, "Insert sample schools into an empty table")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall timeout")
}

func main() {
	_ = godotenv.Load()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("database setup failed")
	}
}

func run(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	database, err := db.New(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(database) }()

	log.Info().Str("host", cfg.Database.Host).Str("database", cfg.Database.DBName).Msg("connected")

	if dropFirst {
		if err := db.DropTables(ctx, database, (*school.School)(nil)); err != nil {
			return err
		}
		log.Warn().Msg("dropped schools table")
	}

	if err := school.CreateTable(ctx, database); err != nil {
		return err
	}
	log.Info().Msg("schools table ready")

	if !withSamples {
		return nil
	}

	repo := school.NewRepository(database, nil)
	existing, err := repo.GetAll(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		log.Info().Int("rows", len(existing)).Msg("table not empty, skipping samples")
		return nil
	}

	for i := range sampleSchools {
		created, err := repo.Create(ctx, &sampleSchools[i])
		if err != nil {
			return fmt.Errorf("failed to insert sample %q: %w", sampleSchools[i].Name, err)
		}
		log.Info().Int("id", created.ID).Str("name", created.Name).Msg("sample school inserted")
	}

	return nil
}
