package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"meetbook/internal/database"
	"meetbook/internal/domain"
	"meetbook/internal/token"

	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		legacyPath = flag.String("legacy", "bookings.db", "path to the legacy sqlite db with the bookings table")
		dbPath     = flag.String("db", "./data/meetbook.db", "path to sqlite db")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	rows, err := database.ReadLegacyBookings(ctx, *legacyPath)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("no bookings in %s", *legacyPath)
	}

	db, err := database.NewDB(*dbPath, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	references := token.NewReferenceIssuer(db)

	imported := 0
	skipped := 0
	for _, b := range rows {
		exists, err := db.TokenExists(ctx, b.ApprovalToken)
		if err != nil {
			return err
		}
		if exists {
			skipped++
			continue
		}

		if b.Reference, err = references.Issue(ctx); err != nil {
			return fmt.Errorf("issue reference: %w", err)
		}
		if err := db.ImportBooking(ctx, b); err != nil {
			if errors.Is(err, domain.ErrDuplicateToken) {
				skipped++
				continue
			}
			return fmt.Errorf("import booking %d: %w", imported+skipped+1, err)
		}
		logger.Info().Str("reference", b.Reference).Str("status", string(b.Status)).Msg("imported")
		imported++
	}

	fmt.Printf("done: imported=%d skipped=%d\n", imported, skipped)
	return nil
}
