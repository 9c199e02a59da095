// Package main is the entrypoint for the craftvaultctl CLI.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// client talks to the CraftVault server API.
type client struct {
	baseURL string
	userID  string
	http    *http.Client
}

func newClient(baseURL, userID string) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  userID,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// do performs a request and pretty-prints the JSON response to stdout.
func (c *client) do(ctx context.Context, method, path string, body any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", c.userID)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, data, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(data))
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}

type rootFlags struct {
	serverURL string
	userID    string
}

func (f *rootFlags) client() (*client, error) {
	if f.userID == "" {
		return nil, fmt.Errorf("user ID required: use --user or set CRAFTVAULT_USER_ID")
	}
	return newClient(f.serverURL, f.userID), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:          "craftvaultctl",
		Short:        "CraftVault backup orchestration CLI",
		Long:         `craftvaultctl drives the CraftVault server API: submit and monitor backups, restore servers, manage schedules and retention, and verify backup integrity.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&flags.serverURL, "server-url",
		envOr("CRAFTVAULT_URL", "http://localhost:8080"), "CraftVault server URL")
	rootCmd.PersistentFlags().StringVar(&flags.userID, "user",
		os.Getenv("CRAFTVAULT_USER_ID"), "acting user ID")

	rootCmd.AddCommand(
		newVersionCmd(),
		newBackupCmd(flags),
		newRestoreCmd(flags),
		newRecoveryCmd(flags),
		newScheduleCmd(flags),
		newRetentionCmd(flags),
		newVerifyCmd(flags),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("craftvaultctl %s (commit %s, built %s)\n", Version, Commit, BuildDate)
		},
	}
}

func newBackupCmd(flags *rootFlags) *cobra.Command {
	backupCmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage backup jobs",
	}

	var kind string
	var classes []string
	var excludes []string
	createCmd := &cobra.Command{
		Use:   "create <server-id>",
		Short: "Submit a backup job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			return c.do(cmd.Context(), http.MethodPost, "/api/v1/servers/"+args[0]+"/backups", map[string]any{
				"kind": kind,
				"config": map[string]any{
					"data_classes":  classes,
					"exclude_paths": excludes,
				},
			})
		},
	}
	createCmd.Flags().StringVar(&kind, "kind", "incremental", "backup kind: full, incremental, differential")
	createCmd.Flags().StringSliceVar(&classes, "classes", []string{"game_files"}, "data classes to include")
	createCmd.Flags().StringSliceVar(&excludes, "exclude", nil, "paths to exclude")

	listCmd := &cobra.Command{
		Use:   "list <server-id>",
		Short: "List a server's backup jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			return c.do(cmd.Context(), http.MethodGet, "/api/v1/servers/"+args[0]+"/backups", nil)
		},
	}

	getCmd := &cobra.Command{
		Use:   "get <backup-id>",
		Short: "Show a backup job and its progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			return c.do(cmd.Context(), http.MethodGet, "/api/v1/backups/"+args[0], nil)
		},
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel <backup-id>",
		Short: "Request cancellation of a backup job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			return c.do(cmd.Context(), http.MethodDelete, "/api/v1/backups/"+args[0], nil)
		},
	}

	chainCmd := &cobra.Command{
		Use:   "chain <backup-id>",
		Short: "Show the backup's ancestor chain, full backup first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			return c.do(cmd.Context(), http.MethodGet, "/api/v1/backups/"+args[0]+"/chain", nil)
		},
	}

	backupCmd.AddCommand(createCmd, listCmd, getCmd, cancelCmd, chainCmd)
	return backupCmd
}

func newRestoreCmd(flags *rootFlags) *cobra.Command {
	var mode string
	var paths []string
	var target string

	restoreCmd := &cobra.Command{
		Use:   "restore <backup-id>",
		Short: "Submit a recovery job restoring the given backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			body := map[string]any{"mode": mode}
			if len(paths) > 0 {
				body["selected_paths"] = paths
			}
			if target != "" {
				body["target_server_id"] = target
			}
			return c.do(cmd.Context(), http.MethodPost, "/api/v1/backups/"+args[0]+"/restore", body)
		},
	}
	restoreCmd.Flags().StringVar(&mode, "mode", "full", "restore mode: full, partial, in_place, alternate_location")
	restoreCmd.Flags().StringSliceVar(&paths, "paths", nil, "paths to restore (partial mode)")
	restoreCmd.Flags().StringVar(&target, "target", "", "target server ID (alternate_location mode)")
	return restoreCmd
}

func newRecoveryCmd(flags *rootFlags) *cobra.Command {
	recoveryCmd := &cobra.Command{
		Use:   "recovery",
		Short: "Manage recovery jobs",
	}

	getCmd := &cobra.Command{
		Use:   "get <recovery-id>",
		Short: "Show a recovery job and its progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			return c.do(cmd.Context(), http.MethodGet, "/api/v1/recoveries/"+args[0], nil)
		},
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel <recovery-id>",
		Short: "Request cancellation of a recovery job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			return c.do(cmd.Context(), http.MethodDelete, "/api/v1/recoveries/"+args[0], nil)
		},
	}

	recoveryCmd.AddCommand(getCmd, cancelCmd)
	return recoveryCmd
}

func newScheduleCmd(flags *rootFlags) *cobra.Command {
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage backup schedules",
	}

	var cronExpr, kind string
	var classes []string
	var keepDaily, keepWeekly, keepMonthly, keepYearly int
	createCmd := &cobra.Command{
		Use:   "create <server-id>",
		Short: "Register a recurring backup schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			return c.do(cmd.Context(), http.MethodPost, "/api/v1/servers/"+args[0]+"/schedules", map[string]any{
				"cron_expr": cronExpr,
				"kind":      kind,
				"config":    map[string]any{"data_classes": classes},
				"retention": map[string]any{
					"keep_daily":   keepDaily,
					"keep_weekly":  keepWeekly,
					"keep_monthly": keepMonthly,
					"keep_yearly":  keepYearly,
				},
			})
		},
	}
	createCmd.Flags().StringVar(&cronExpr, "cron", "0 3 * * *", "cron expression")
	createCmd.Flags().StringVar(&kind, "kind", "incremental", "backup kind")
	createCmd.Flags().StringSliceVar(&classes, "classes", []string{"game_files"}, "data classes to include")
	createCmd.Flags().IntVar(&keepDaily, "keep-daily", 7, "daily backups to keep")
	createCmd.Flags().IntVar(&keepWeekly, "keep-weekly", 4, "weekly backups to keep")
	createCmd.Flags().IntVar(&keepMonthly, "keep-monthly", 6, "monthly backups to keep")
	createCmd.Flags().IntVar(&keepYearly, "keep-yearly", 0, "yearly backups to keep")

	listCmd := &cobra.Command{
		Use:   "list <server-id>",
		Short: "List a server's backup schedules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			return c.do(cmd.Context(), http.MethodGet, "/api/v1/servers/"+args[0]+"/schedules", nil)
		},
	}

	scheduleCmd.AddCommand(createCmd, listCmd)
	return scheduleCmd
}

func newRetentionCmd(flags *rootFlags) *cobra.Command {
	retentionCmd := &cobra.Command{
		Use:   "retention",
		Short: "Manage retention policies",
	}

	var keepDaily, keepWeekly, keepMonthly, keepYearly int
	var maxBytes int64
	setCmd := &cobra.Command{
		Use:   "set <server-id>",
		Short: "Set the server's retention policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			return c.do(cmd.Context(), http.MethodPut, "/api/v1/servers/"+args[0]+"/retention", map[string]any{
				"keep_daily":      keepDaily,
				"keep_weekly":     keepWeekly,
				"keep_monthly":    keepMonthly,
				"keep_yearly":     keepYearly,
				"max_total_bytes": maxBytes,
			})
		},
	}
	setCmd.Flags().IntVar(&keepDaily, "keep-daily", 7, "daily backups to keep")
	setCmd.Flags().IntVar(&keepWeekly, "keep-weekly", 4, "weekly backups to keep")
	setCmd.Flags().IntVar(&keepMonthly, "keep-monthly", 6, "monthly backups to keep")
	setCmd.Flags().IntVar(&keepYearly, "keep-yearly", 0, "yearly backups to keep")
	setCmd.Flags().Int64Var(&maxBytes, "max-bytes", 0, "total storage cap in bytes, 0 for none")

	previewCmd := &cobra.Command{
		Use:   "preview <server-id>",
		Short: "Show what the policy would prune, without deleting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			return c.do(cmd.Context(), http.MethodGet, "/api/v1/servers/"+args[0]+"/retention/preview", nil)
		},
	}

	sweepCmd := &cobra.Command{
		Use:   "sweep <server-id>",
		Short: "Enforce the server's retention policy now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			return c.do(cmd.Context(), http.MethodPost, "/api/v1/servers/"+args[0]+"/retention/sweep", nil)
		},
	}

	retentionCmd.AddCommand(setCmd, previewCmd, sweepCmd)
	return retentionCmd
}

func newVerifyCmd(flags *rootFlags) *cobra.Command {
	verifyCmd := &cobra.Command{
		Use:   "verify <backup-id>",
		Short: "Run integrity checks against a completed backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			return c.do(cmd.Context(), http.MethodPost, "/api/v1/backups/"+args[0]+"/verify", nil)
		},
	}

	historyCmd := &cobra.Command{
		Use:   "history <backup-id>",
		Short: "Show past verification results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			return c.do(cmd.Context(), http.MethodGet, "/api/v1/backups/"+args[0]+"/verifications", nil)
		},
	}

	verifyCmd.AddCommand(historyCmd)
	return verifyCmd
}
