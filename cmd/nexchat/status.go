package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/4xmen/nexchat/pkg/config"
)

type appStatus struct {
	GeneratedAt     time.Time
	Environment     string
	Port            string
	DatabasePath    string
	Users           int64
	OnlineUsers     int64
	GroupChannels   int64
	DirectChannels  int64
	Messages        int64
	FileMessages    int64
	MessagesLast24h int64
	LatestMessageAt int64
	PendingRequests int64
	Friendships     int64
	DBSize          int64
	DBWALSize       int64
	DBSHMSize       int64
	DBMetricsReady  bool
	DBWarning       string
	StorageWarnings []string
}

func statusCmd(cfg *config.Config) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show application statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cfg, cmd.OutOrStdout(), asJSON)
		},
	}
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "print statistics as JSON")
	return cmd
}

func runStatus(cfg *config.Config, out io.Writer, asJSON bool) error {
	status := collectStatus(cfg, time.Now())
	if asJSON {
		return printStatusJSON(out, status)
	}
	printStatus(out, status)
	return nil
}

func collectStatus(cfg *config.Config, now time.Time) appStatus {
	status := appStatus{
		GeneratedAt:  now,
		Environment:  cfg.Environment,
		Port:         cfg.Port,
		DatabasePath: cfg.DatabasePath,
	}

	if size, err := fileSize(cfg.DatabasePath); err == nil {
		status.DBSize = size
	} else {
		status.StorageWarnings = append(status.StorageWarnings, fmt.Sprintf("database file: %v", err))
	}

	if size, err := fileSize(cfg.DatabasePath + "-wal"); err == nil {
		status.DBWALSize = size
	}

	if size, err := fileSize(cfg.DatabasePath + "-shm"); err == nil {
		status.DBSHMSize = size
	}

	if _, err := os.Stat(cfg.DatabasePath); err != nil {
		status.DBWarning = fmt.Sprintf("database unavailable: %v", err)
		return status
	}

	dbConn, err := sql.Open("sqlite3", cfg.DatabasePath)
	if err != nil {
		status.DBWarning = fmt.Sprintf("database unavailable: %v", err)
		return status
	}
	defer dbConn.Close()

	if err := dbConn.Ping(); err != nil {
		status.DBWarning = fmt.Sprintf("database unavailable: %v", err)
		return status
	}

	dayAgo := now.Add(-24 * time.Hour).UnixMilli()
	queries := []struct {
		dest  *int64
		query string
		args  []any
	}{
		{&status.Users, "SELECT COUNT(*) FROM users", nil},
		{&status.OnlineUsers, "SELECT COUNT(*) FROM users WHERE status = 'online'", nil},
		{&status.GroupChannels, "SELECT COUNT(*) FROM channels WHERE type = 'group'", nil},
		{&status.DirectChannels, "SELECT COUNT(*) FROM channels WHERE type = 'direct'", nil},
		{&status.Messages, "SELECT COUNT(*) FROM messages", nil},
		{&status.FileMessages, "SELECT COUNT(*) FROM messages WHERE type = 'file'", nil},
		{&status.MessagesLast24h, "SELECT COUNT(*) FROM messages WHERE timestamp >= ?", []any{dayAgo}},
		{&status.LatestMessageAt, "SELECT COALESCE(MAX(timestamp), 0) FROM messages", nil},
		{&status.PendingRequests, "SELECT COUNT(*) FROM friend_requests WHERE status = 'pending'", nil},
		{&status.Friendships, "SELECT COUNT(*) FROM friendships", nil},
	}
	for _, q := range queries {
		if *q.dest, err = queryInt64(dbConn, q.query, q.args...); err != nil {
			status.DBWarning = fmt.Sprintf("could not read database stats: %v", err)
			return status
		}
	}

	status.DBMetricsReady = true
	return status
}

func queryInt64(db *sql.DB, query string, args ...any) (int64, error) {
	var value int64
	if err := db.QueryRow(query, args...).Scan(&value); err != nil {
		return 0, err
	}
	return value, nil
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}
	return info.Size(), nil
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// formatMillis renders an epoch-millisecond message timestamp.
func formatMillis(ms int64) string {
	if ms <= 0 {
		return "n/a"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

func printStatus(out io.Writer, status appStatus) {
	totalDB := status.DBSize + status.DBWALSize + status.DBSHMSize

	fmt.Fprintln(out, "NexChat Status")
	fmt.Fprintf(out, "Generated at: %s\n", status.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Environment : %s\n", status.Environment)
	fmt.Fprintf(out, "Port        : %s\n", status.Port)
	fmt.Fprintf(out, "Database    : %s\n", status.DatabasePath)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Data")
	if status.DBMetricsReady {
		fmt.Fprintf(out, "  Users             : %d (%d online)\n", status.Users, status.OnlineUsers)
		fmt.Fprintf(out, "  Group channels    : %d\n", status.GroupChannels)
		fmt.Fprintf(out, "  Direct channels   : %d\n", status.DirectChannels)
		fmt.Fprintf(out, "  Messages          : %d\n", status.Messages)
		fmt.Fprintf(out, "  File messages     : %d\n", status.FileMessages)
		fmt.Fprintf(out, "  Messages last 24h : %d\n", status.MessagesLast24h)
		fmt.Fprintf(out, "  Latest message at : %s\n", formatMillis(status.LatestMessageAt))
		fmt.Fprintf(out, "  Pending requests  : %d\n", status.PendingRequests)
		fmt.Fprintf(out, "  Friendships       : %d\n", status.Friendships)
	} else {
		fmt.Fprintln(out, "  Database metrics  : n/a")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Storage")
	fmt.Fprintf(out, "  DB file       : %s\n", formatBytes(status.DBSize))
	fmt.Fprintf(out, "  DB WAL file   : %s\n", formatBytes(status.DBWALSize))
	fmt.Fprintf(out, "  DB SHM file   : %s\n", formatBytes(status.DBSHMSize))
	fmt.Fprintf(out, "  DB footprint  : %s\n", formatBytes(totalDB))

	if status.DBWarning != "" {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Warning: %s\n", status.DBWarning)
	}

	if len(status.StorageWarnings) > 0 {
		fmt.Fprintln(out)
		for _, warning := range status.StorageWarnings {
			fmt.Fprintf(out, "Warning: %s\n", warning)
		}
	}
}

func printStatusJSON(out io.Writer, status appStatus) error {
	footprint := status.DBSize + status.DBWALSize + status.DBSHMSize
	payload := map[string]any{
		"generated_at":  status.GeneratedAt.Format(time.RFC3339),
		"environment":   status.Environment,
		"port":          status.Port,
		"database_path": status.DatabasePath,
		"metrics_ready": status.DBMetricsReady,
		"metrics": map[string]any{
			"users":             status.Users,
			"online_users":      status.OnlineUsers,
			"group_channels":    status.GroupChannels,
			"direct_channels":   status.DirectChannels,
			"messages":          status.Messages,
			"file_messages":     status.FileMessages,
			"messages_last_24h": status.MessagesLast24h,
			"latest_message_at": formatMillis(status.LatestMessageAt),
			"pending_requests":  status.PendingRequests,
			"friendships":       status.Friendships,
		},
		"storage": map[string]any{
			"db_file_bytes":      status.DBSize,
			"db_wal_bytes":       status.DBWALSize,
			"db_shm_bytes":       status.DBSHMSize,
			"db_footprint_bytes": footprint,
			"db_file_hum":        formatBytes(status.DBSize),
			"db_footprint_hum":   formatBytes(footprint),
		},
		"warnings": map[string]any{
			"database": status.DBWarning,
			"storage":  status.StorageWarnings,
		},
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}
