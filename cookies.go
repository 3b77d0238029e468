package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"vidcutapi/credential"
)

var (
	cookieUsername string
	cookiePassword string
)

var cookiesCmd = &cobra.Command{
	Use:   "cookies",
	Short: "Manage platform login cookies",
}

var cookiesRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Log in to every platform with stored credentials and rewrite its cookies file",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		results, err := a.creds.RefreshAll(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderRefresh(results, a.creds.Status()))
		for _, ok := range results {
			if !ok {
				return errors.New("one or more platforms failed to refresh")
			}
		}
		return nil
	},
}

var cookiesSetCmd = &cobra.Command{
	Use:   "set PLATFORM",
	Short: "Log in to one platform with the given credentials",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cookiePassword == "" {
			cookiePassword = os.Getenv("VIDCUT_LOGIN_PASSWORD")
		}
		if cookieUsername == "" || cookiePassword == "" {
			return errors.New("--username and --password (or VIDCUT_LOGIN_PASSWORD) are required")
		}

		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.creds.Seed(args[0], cookieUsername, cookiePassword); err != nil {
			return err
		}
		art, err := a.creds.Refresh(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s cookies written to %s\n", art.Platform, art.Path)
		return nil
	},
}

var cookiesStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the cookie state of every platform",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.close()
		fmt.Fprintln(cmd.OutOrStdout(), renderRefresh(nil, a.creds.Status()))
		return nil
	},
}

func init() {
	cookiesCmd.AddCommand(cookiesRefreshCmd, cookiesSetCmd, cookiesStatusCmd)
	cookiesSetCmd.Flags().StringVarP(&cookieUsername, "username", "u", "", "Login username")
	cookiesSetCmd.Flags().StringVarP(&cookiePassword, "password", "p", "", "Login password")
}

// renderRefresh renders one row per platform. A nil results map omits the
// result column.
func renderRefresh(results map[string]bool, statuses []credential.PlatformStatus) string {
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Platform < statuses[j].Platform })

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	header := table.Row{"Platform", "Credentials", "Cookies file", "Refreshed"}
	if results != nil {
		header = append(header, "Result")
	}
	tw.AppendHeader(header)

	for _, s := range statuses {
		creds := "-"
		if s.HasCredentials {
			creds = s.Username
		}
		path := s.ArtifactPath
		if path == "" {
			path = "-"
		}
		refreshed := "never"
		if s.RefreshedAt != nil {
			refreshed = s.RefreshedAt.Local().Format(time.DateTime)
		}
		row := table.Row{s.Platform, creds, path, refreshed}
		if results != nil {
			result := "skipped"
			if ok, ran := results[s.Platform]; ran {
				result = "ok"
				if !ok {
					result = "failed"
				}
			}
			row = append(row, result)
		}
		tw.AppendRow(row)
	}
	return tw.Render()
}
