package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"

	"paidquiz-service/internal/bank"
	"paidquiz-service/internal/config"
	"paidquiz-service/internal/domain"
	pgstore "paidquiz-service/internal/infra/postgres"
)

// NewUploadCmd publishes a test from a CSV question bank.
func NewUploadCmd(configPath *string) *cobra.Command {
	var (
		title string
		price string
	)
	cmd := &cobra.Command{
		Use:   "upload <bank.csv>",
		Short: "Publish a test from a CSV question bank",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd.Context(), *configPath, args[0], title, price)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "test title (required)")
	cmd.Flags().StringVar(&price, "price", "0", "base price in INR")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func runUpload(ctx context.Context, configPath, bankPath, title, price string) error {
	priceINR, err := strconv.ParseFloat(price, 64)
	if err != nil || priceINR < 0 {
		return fmt.Errorf("invalid price %q", price)
	}

	f, err := os.Open(bankPath)
	if err != nil {
		return err
	}
	defer f.Close()

	questions, err := bank.Parse(f)
	if err != nil {
		return fmt.Errorf("parse question bank: %w", err)
	}
	if len(questions) == 0 {
		return fmt.Errorf("question bank %s is empty", bankPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}
	if err := runMigrationsWithConfig(ctx, cfg); err != nil {
		return err
	}

	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	test := domain.Test{
		ID:        uuid.NewString(),
		Title:     title,
		PriceINR:  priceINR,
		Questions: questions,
		CreatedAt: time.Now(),
	}
	if err := pgstore.NewStore(pool).CreateTest(ctx, test); err != nil {
		return err
	}
	fmt.Printf("published test %s (%d questions)\n", test.ID, len(questions))
	return nil
}
