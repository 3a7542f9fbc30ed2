package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/4xmen/nexchat/pkg/config"
)

// Databases written before friendships carried the ordering CHECK may hold
// reversed or duplicated pairs. This migration rebuilds the table with one
// canonical row per pair.

type friendshipsMigrationOptions struct {
	DatabasePath string
	DryRun       bool
}

type friendshipPair struct {
	UserID1 int
	UserID2 int
}

type migrationStats struct {
	Rows      int
	Reversed  int
	Dropped   int
	Canonical int
}

type sqliteQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func migrateCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run a one-off schema migration",
	}

	opts := friendshipsMigrationOptions{}
	friendshipsCmd := &cobra.Command{
		Use:   "friendships",
		Short: "Canonicalize friendship pairs (user_id_1 < user_id_2)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("database") {
				opts.DatabasePath = cfg.DatabasePath
			}
			if strings.TrimSpace(opts.DatabasePath) == "" {
				return fmt.Errorf("database path cannot be empty")
			}
			return runFriendshipsMigration(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	friendshipsCmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report what would change without writing")
	friendshipsCmd.Flags().StringVar(&opts.DatabasePath, "database", "", "database path (default: DATABASE_PATH)")

	cmd.AddCommand(friendshipsCmd)
	return cmd
}

func runFriendshipsMigration(ctx context.Context, out io.Writer, opts friendshipsMigrationOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	dbConn, err := sql.Open("sqlite3", opts.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer dbConn.Close()

	// BEGIN/COMMIT must run on one connection.
	conn, err := dbConn.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("failed to start migration transaction: %w", err)
	}
	inTx := true
	defer func() {
		if inTx {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	legacy, err := friendshipsTableIsLegacy(ctx, conn)
	if err != nil {
		return fmt.Errorf("failed to inspect friendships schema: %w", err)
	}
	if !legacy {
		if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
			return fmt.Errorf("failed to finish migration transaction: %w", err)
		}
		inTx = false
		fmt.Fprintln(out, "Friendships migration: already migrated (ordering constraint present).")
		return nil
	}

	pairs, stats, err := loadLegacyFriendships(ctx, conn)
	if err != nil {
		return err
	}

	if opts.DryRun {
		fmt.Fprintf(out, "Dry-run successful. Database: %s\n", opts.DatabasePath)
		fmt.Fprintf(out, "Would rewrite %d friendship rows into %d pairs (%d reversed, %d dropped).\n",
			stats.Rows, stats.Canonical, stats.Reversed, stats.Dropped)
		if _, err := conn.ExecContext(ctx, "ROLLBACK"); err != nil {
			return fmt.Errorf("failed to finish dry-run rollback: %w", err)
		}
		inTx = false
		return nil
	}

	if err := rebuildFriendships(ctx, conn, pairs); err != nil {
		return err
	}

	if err := validateFriendshipsMigration(ctx, conn, stats.Canonical); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	inTx = false

	fmt.Fprintf(out, "Migration completed. Database: %s\n", opts.DatabasePath)
	fmt.Fprintf(out, "Rewrote %d friendship rows into %d pairs (%d reversed, %d dropped).\n",
		stats.Rows, stats.Canonical, stats.Reversed, stats.Dropped)
	return nil
}

// ensureFriendshipsMigrated refuses to start the server on a database whose
// friendships table lacks the ordering constraint.
func ensureFriendshipsMigrated(databasePath string) error {
	if _, err := os.Stat(databasePath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to access database path: %w", err)
	}

	dbConn, err := sql.Open("sqlite3", databasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer dbConn.Close()

	if err := dbConn.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	legacy, err := friendshipsTableIsLegacy(context.Background(), dbConn)
	if err != nil {
		return fmt.Errorf("failed to inspect friendships schema: %w", err)
	}
	if legacy {
		return fmt.Errorf("legacy friendships schema detected. Run `nexchat migrate friendships --database %s` before starting server", databasePath)
	}
	return nil
}

// friendshipsTableIsLegacy reports whether a friendships table exists
// without the user_id_1 < user_id_2 check.
func friendshipsTableIsLegacy(ctx context.Context, q sqliteQueryer) (bool, error) {
	var ddl string
	err := q.QueryRowContext(ctx,
		"SELECT sql FROM sqlite_master WHERE type = 'table' AND name = 'friendships'",
	).Scan(&ddl)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	normalized := strings.ToLower(strings.Join(strings.Fields(ddl), ""))
	return !strings.Contains(normalized, "check(user_id_1<user_id_2)"), nil
}

func loadLegacyFriendships(ctx context.Context, conn *sql.Conn) ([]friendshipPair, migrationStats, error) {
	var stats migrationStats

	rows, err := conn.QueryContext(ctx, "SELECT user_id_1, user_id_2 FROM friendships ORDER BY rowid")
	if err != nil {
		return nil, stats, fmt.Errorf("failed to read legacy friendships: %w", err)
	}
	defer rows.Close()

	seen := make(map[friendshipPair]struct{})
	pairs := make([]friendshipPair, 0)
	for rows.Next() {
		var a, b int
		if err := rows.Scan(&a, &b); err != nil {
			return nil, stats, fmt.Errorf("failed to scan legacy friendship: %w", err)
		}
		stats.Rows++

		pair, ok := canonicalFriendship(a, b)
		if !ok {
			stats.Dropped++
			continue
		}
		if pair.UserID1 != a {
			stats.Reversed++
		}
		if _, dup := seen[pair]; dup {
			stats.Dropped++
			continue
		}
		seen[pair] = struct{}{}
		pairs = append(pairs, pair)
	}
	if err := rows.Err(); err != nil {
		return nil, stats, fmt.Errorf("failed while reading legacy friendships: %w", err)
	}

	stats.Canonical = len(pairs)
	return pairs, stats, nil
}

// canonicalFriendship orders a pair; self-pairs and non-positive ids are
// rejected.
func canonicalFriendship(a, b int) (friendshipPair, bool) {
	if a <= 0 || b <= 0 || a == b {
		return friendshipPair{}, false
	}
	if a > b {
		a, b = b, a
	}
	return friendshipPair{UserID1: a, UserID2: b}, true
}

func rebuildFriendships(ctx context.Context, conn *sql.Conn, pairs []friendshipPair) error {
	if _, err := conn.ExecContext(ctx, "DROP TABLE friendships"); err != nil {
		return fmt.Errorf("failed to drop legacy friendships table: %w", err)
	}

	if _, err := conn.ExecContext(ctx, `
		CREATE TABLE friendships (
			user_id_1 INTEGER NOT NULL,
			user_id_2 INTEGER NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id_1, user_id_2),
			CHECK (user_id_1 < user_id_2),
			FOREIGN KEY (user_id_1) REFERENCES users(id),
			FOREIGN KEY (user_id_2) REFERENCES users(id)
		)
	`); err != nil {
		return fmt.Errorf("failed to create friendships table: %w", err)
	}

	if _, err := conn.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_friendships_user_id_2 ON friendships(user_id_2)"); err != nil {
		return fmt.Errorf("failed to create idx_friendships_user_id_2: %w", err)
	}

	stmt, err := conn.PrepareContext(ctx, "INSERT INTO friendships (user_id_1, user_id_2) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare backfill statement: %w", err)
	}
	defer stmt.Close()

	for _, p := range pairs {
		if _, err := stmt.ExecContext(ctx, p.UserID1, p.UserID2); err != nil {
			return fmt.Errorf("failed to insert friendship (%d, %d): %w", p.UserID1, p.UserID2, err)
		}
	}
	return nil
}

func validateFriendshipsMigration(ctx context.Context, conn *sql.Conn, expected int) error {
	var count int
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM friendships").Scan(&count); err != nil {
		return fmt.Errorf("failed to validate friendships count: %w", err)
	}
	if count != expected {
		return fmt.Errorf("friendship count mismatch after migration: got %d want %d", count, expected)
	}

	legacy, err := friendshipsTableIsLegacy(ctx, conn)
	if err != nil {
		return fmt.Errorf("failed to validate friendships schema: %w", err)
	}
	if legacy {
		return fmt.Errorf("friendships table still lacks the ordering constraint after migration")
	}
	return nil
}
