package main

import (
	"context"
	"fmt"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"curfew/internal/app"
	"curfew/internal/config"
	"curfew/internal/secret"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// command identifies the CLI command being run (e.g. "daemon", "admin-grant").
func newApp(command string) (*app.App, error) {
	defaults := app.GetDefaults()

	cfg, err := config.ReadFromFile(defaults["config_path"], defaults["base_dir"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.New(cfg, command)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:           "curfew",
	Short:         "Screen-time budgets and browser policy for this machine",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the policy and usage loops",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("daemon")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return a.RunDaemon(ctx)
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show today's usage and the applied policy",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("status")
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.Status()
		if err != nil {
			return err
		}

		fmt.Printf("Date: %s", st.Date)
		if st.Paused {
			fmt.Print("  [paused]")
		}
		fmt.Println()
		if st.LastTick != nil {
			fmt.Printf("Last tick: %s\n", st.LastTick.Local().Format("2006-01-02 15:04:05"))
		}
		if st.Pending > 0 {
			fmt.Printf("Pending overrides: %d\n", st.Pending)
		}
		fmt.Println()

		if len(st.Identities) == 0 {
			fmt.Println("No identities configured.")
		}
		for _, s := range st.Identities {
			var used, extension time.Duration
			var flags []string
			if s.Day != nil {
				used, extension = s.Day.Accumulated, s.Day.Extension
				if s.Day.Unlocked {
					flags = append(flags, "unlocked")
				}
				if s.Day.Tampered {
					flags = append(flags, "tampered")
				}
			}
			fmt.Printf("%-12s  %-7s  used %-9s  budget %-9s  +%-8s  left %s",
				s.Identity.ID, s.Phase(), short(used), short(s.Budget), short(extension), short(s.Remaining))
			if len(flags) > 0 {
				fmt.Printf("  [%s]", strings.Join(flags, ","))
			}
			fmt.Println()
		}

		fmt.Println()
		if st.Policy.ContentHash == "" {
			fmt.Println("Policy: none applied")
			return nil
		}
		fmt.Printf("Policy: %s", shortHash(st.Policy.ContentHash))
		if st.Policy.AppliedAt != nil {
			fmt.Printf("  applied %s", st.Policy.AppliedAt.Local().Format("2006-01-02 15:04:05"))
		}
		fmt.Println()
		for _, target := range slices.Sorted(maps.Keys(st.Policy.Targets)) {
			rec := st.Policy.Targets[target]
			fmt.Printf("  %-10s  %s  %s\n", target, shortHash(rec.ContentHash), rec.Summary.Location)
		}
		return nil
	},
}

// policy command
var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage browser policy",
}

var policyApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Converge the managed targets onto a local policy document",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("file")

		a, err := newApp("policy-apply")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.ApplyFile(cmd.Context(), path)
		if res != nil {
			for _, t := range res.Targets {
				line := fmt.Sprintf("%-10s  %s", t.Target, t.Outcome)
				if t.Err != nil {
					line += "  " + t.Err.Error()
				}
				fmt.Println(line)
			}
		}
		if err != nil {
			return fmt.Errorf("apply failed: %w", err)
		}
		fmt.Printf("Applied %s (%d write(s))\n", shortHash(res.ContentHash), res.Writes())
		return nil
	},
}

var policySetCredentialCmd = &cobra.Command{
	Use:   "set-credential",
	Short: "Seal the policy source credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("policy-set-credential")
		if err != nil {
			return err
		}
		defer a.Close()

		value, err := readSecret("Credential: ")
		if err != nil {
			return err
		}
		if err := a.SetPolicyCredential(secret.NewRedacted(value)); err != nil {
			return err
		}
		fmt.Println("Credential sealed.")
		return nil
	},
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults := app.GetDefaults()

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("State Dir: %s\n", cfg.Daemon.StateDir)
		fmt.Println("Add [[identities]] and a [policy] source, then run: curfew admin set-password")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults := app.GetDefaults()

		cfg, err := config.ReadFromFile(defaults["config_path"], defaults["base_dir"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("State Dir:     %s\n", cfg.Daemon.StateDir)
		fmt.Printf("Log Dir:       %s\n", cfg.Daemon.LogDir)
		fmt.Printf("Policy Source: %s\n", cfg.Policy.Source)
		fmt.Printf("Poll:          %s ± %s\n", cfg.Policy.PollInterval, cfg.Policy.PollJitter)
		fmt.Printf("Usage Tick:    %s\n", cfg.Usage.TickInterval)
		fmt.Printf("Enforcement:   %s\n", cfg.Usage.EnforcementAction)
		for _, id := range cfg.Identities {
			fmt.Printf("Identity:      %s (%s) weekday %s, weekend %s\n",
				id.ID, strings.Join(id.Aliases, ","), id.WeekdayBudget, id.WeekendBudget)
		}
		return nil
	},
}

func init() {
	// policy subcommands
	policyCmd.AddCommand(policyApplyCmd)
	policyApplyCmd.Flags().StringP("file", "f", "", "Policy document (JSON or YAML)")
	policyApplyCmd.MarkFlagRequired("file")
	policyCmd.AddCommand(policySetCredentialCmd)

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// root commands
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(policyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(adminCmd)
}

func short(d time.Duration) string {
	neg := d < 0
	if neg {
		d = -d
	}
	s := d.Truncate(time.Second).String()
	if neg {
		s = "-" + s
	}
	return s
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
