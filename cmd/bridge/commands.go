package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/2vlad/bridge/internal/accounts"
	"github.com/2vlad/bridge/internal/config"
	"github.com/2vlad/bridge/internal/schedule"
	"github.com/2vlad/bridge/internal/state"
)

// --- plan ---

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the current check schedule and projections",
	Long: `Show how the scheduler would behave right now: the next interval and
why, a projection of the next five checks assuming they stay empty, and
any advisory suggestions.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		store := state.Open(cfg.StatePath(), slog.Default())
		w := store.Worker()
		snap := schedule.Snapshot{
			LastActivityAt: w.LastActivityAt,
			EmptyChecks:    w.EmptyChecks,
		}
		policy := schedulePolicy(cfg)
		now := time.Now()

		stats := schedule.Stats(policy, snap, now)
		printStatus("Next interval", "%s (%s)", stats.Interval, stats.Reason)
		printStatus("Current hour", "%d (night: %v)", stats.CurrentHour, stats.IsNight)
		printStatus("Recent activity", "%v", stats.HasRecentActivity)
		printStatus("Empty checks", "%d", stats.EmptyChecks)
		if !stats.LastActivityAt.IsZero() {
			printStatus("Last activity", "%s", stats.LastActivityAt.Local().Format(time.RFC1123))
		}

		fmt.Println()
		fmt.Println(colorize(colorBold, "  Projected checks (assuming no activity):"))
		for _, p := range schedule.Simulate(policy, snap, now, 5) {
			fmt.Printf("    %d. in %-8s at %s (%s)\n",
				p.Check, p.Interval, p.EstimatedAt.Local().Format("15:04:05"), p.Reason)
		}

		suggestions := schedule.Suggestions(policy, snap, now)
		if len(suggestions) > 0 {
			fmt.Println()
			for _, s := range suggestions {
				switch s.Type {
				case "warning":
					printWarning("%s", s.Message)
				default:
					printStatus(s.Type, "%s", s.Message)
				}
			}
		}
		return nil
	},
}

// --- users ---

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage configured users",
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured users",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		provider, err := accounts.NewProvider(cfg.UsersPath())
		if err != nil {
			return err
		}

		all := provider.All()
		if len(all) == 0 {
			printWarning("no users configured (%s)", cfg.UsersPath())
			return nil
		}
		active := map[string]bool{}
		for _, u := range provider.Active() {
			active[u.ID] = true
		}
		for _, u := range all {
			status := "incomplete"
			if active[u.ID] {
				status = "active"
			}
			fmt.Printf("  %s  %-30s %s\n", u.ID, u.Email, status)
		}
		return nil
	},
}

var usersAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a user to the users file",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		deviceEmail, _ := cmd.Flags().GetString("device-email")
		devicePassword, _ := cmd.Flags().GetString("device-password")
		deviceURL, _ := cmd.Flags().GetString("device-url")
		apiKey, _ := cmd.Flags().GetString("api-key")
		prefix, _ := cmd.Flags().GetString("prefix")

		if email == "" {
			return fmt.Errorf("--email is required")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		provider, err := accounts.NewProvider(cfg.UsersPath())
		if err != nil {
			return err
		}

		u := accounts.User{
			ID:    uuid.New().String(),
			Email: email,
			Settings: accounts.Settings{
				DeviceEmail:      deviceEmail,
				DevicePassword:   devicePassword,
				DeviceURL:        deviceURL,
				CompletionAPIKey: apiKey,
				TriggerPrefix:    prefix,
			},
			Created: time.Now().UTC(),
		}
		if err := provider.Add(u); err != nil {
			return err
		}

		printSuccess("Added user %s (%s)", email, u.ID)
		if deviceEmail == "" || devicePassword == "" || deviceURL == "" || apiKey == "" {
			printWarning("user is missing credentials and will not be checked until complete")
		}
		return nil
	},
}

func init() {
	usersAddCmd.Flags().String("email", "", "contact email for the user")
	usersAddCmd.Flags().String("device-email", "", "dashboard login email")
	usersAddCmd.Flags().String("device-password", "", "dashboard login password")
	usersAddCmd.Flags().String("device-url", "", "dashboard URL")
	usersAddCmd.Flags().String("api-key", "", "completion service API key")
	usersAddCmd.Flags().String("prefix", "", "trigger prefix characters (default: global setting)")
	usersCmd.AddCommand(usersListCmd)
	usersCmd.AddCommand(usersAddCmd)
}
