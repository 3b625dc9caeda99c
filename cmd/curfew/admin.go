package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"curfew/internal/app"
	"curfew/internal/model"
)

var stdin = bufio.NewReader(os.Stdin)

// readSecret prompts on the terminal without echo. Piped input is read as
// one line so scripts can feed it.
func readSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading input: %w", err)
		}
		return string(b), nil
	}
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// withAdmin opens the App, prompts for the admin password and runs fn.
func withAdmin(command string, fn func(a *app.App, password string) (*model.AdminOverride, error)) error {
	a, err := newApp(command)
	if err != nil {
		return err
	}
	defer a.Close()

	password, err := readSecret("Admin password: ")
	if err != nil {
		return err
	}
	o, err := fn(a, password)
	if err != nil {
		a.Operation().Fail()
		return err
	}
	fmt.Printf("Queued %s override %s; the daemon applies it on its next tick.\n", o.Kind, o.ID)
	return nil
}

// admin command
var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Password-protected overrides",
}

var adminSetPasswordCmd = &cobra.Command{
	Use:   "set-password",
	Short: "Set or change the admin password",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("admin-set-password")
		if err != nil {
			return err
		}
		defer a.Close()

		// Changing an existing password requires the current one.
		has, err := a.HasAdminPassword()
		if err != nil {
			return err
		}
		if has {
			current, err := readSecret("Current password: ")
			if err != nil {
				return err
			}
			if err := a.VerifyAdminPassword(current); err != nil {
				return err
			}
		}

		pw, err := readSecret("New password: ")
		if err != nil {
			return err
		}
		confirm, err := readSecret("Repeat password: ")
		if err != nil {
			return err
		}
		if pw != confirm {
			return errors.New("passwords do not match")
		}
		if err := a.SetAdminPassword(pw); err != nil {
			return err
		}
		fmt.Println("Admin password set.")
		return nil
	},
}

var adminGrantCmd = &cobra.Command{
	Use:   "grant IDENTITY DURATION",
	Short: "Extend today's budget, e.g. grant alice 30m",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("parsing duration: %w", err)
		}
		reason, _ := cmd.Flags().GetString("reason")
		return withAdmin("admin-grant", func(a *app.App, pw string) (*model.AdminOverride, error) {
			return a.Admin().GrantExtension(pw, args[0], amount, reason)
		})
	},
}

var adminResetCmd = &cobra.Command{
	Use:   "reset IDENTITY",
	Short: "Clear today's usage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		return withAdmin("admin-reset", func(a *app.App, pw string) (*model.AdminOverride, error) {
			return a.Admin().ResetToday(pw, args[0], reason)
		})
	},
}

var adminUnlockCmd = &cobra.Command{
	Use:   "unlock IDENTITY",
	Short: "Lift the lock for the rest of today",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		return withAdmin("admin-unlock", func(a *app.App, pw string) (*model.AdminOverride, error) {
			return a.Admin().Unlock(pw, args[0], reason)
		})
	},
}

var adminPauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Stop usage tracking for everyone",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		return withAdmin("admin-pause", func(a *app.App, pw string) (*model.AdminOverride, error) {
			return a.Admin().Pause(pw, reason)
		})
	},
}

var adminResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Restart usage tracking",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		return withAdmin("admin-resume", func(a *app.App, pw string) (*model.AdminOverride, error) {
			return a.Admin().Resume(pw, reason)
		})
	},
}

var adminHistoryCmd = &cobra.Command{
	Use:   "history IDENTITY",
	Short: "View overrides and sealed days",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		days, _ := cmd.Flags().GetInt("days")

		a, err := newApp("admin-history")
		if err != nil {
			return err
		}
		defer a.Close()

		overrides, err := a.Admin().History(args[0], limit)
		if err != nil {
			return err
		}
		if len(overrides) == 0 {
			fmt.Println("No overrides recorded.")
		}
		for _, o := range overrides {
			applied := "pending"
			if o.AppliedAt != nil {
				applied = "applied " + o.AppliedAt.Local().Format("15:04:05")
			}
			amount := ""
			if o.Amount > 0 {
				amount = short(o.Amount)
			}
			fmt.Printf("%s  %-9s  %-8s  %-8s  %-18s  %s\n",
				o.Timestamp.Local().Format("2006-01-02 15:04:05"), o.Kind, amount, o.Actor, applied, o.Reason)
		}

		entries, err := a.UsageHistory(args[0], days)
		if err != nil {
			return err
		}
		fmt.Println()
		if len(entries) == 0 {
			fmt.Println("No sealed days.")
			return nil
		}
		for _, e := range entries {
			flags := ""
			if e.LockedAt != nil {
				flags += " locked"
			}
			if e.Tampered {
				flags += " tampered"
			}
			fmt.Printf("%s  used %-9s  budget %-9s  +%-8s  sessions %d%s\n",
				e.Date, short(e.Accumulated), short(e.Budget), short(e.Extension), e.Sessions, flags)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{adminGrantCmd, adminResetCmd, adminUnlockCmd, adminPauseCmd, adminResumeCmd} {
		c.Flags().StringP("reason", "r", "", "Reason recorded in the audit trail")
		adminCmd.AddCommand(c)
	}
	adminCmd.AddCommand(adminSetPasswordCmd)
	adminCmd.AddCommand(adminHistoryCmd)
	adminHistoryCmd.Flags().IntP("limit", "n", 20, "Maximum number of overrides to show")
	adminHistoryCmd.Flags().Int("days", 14, "Sealed days to show")
}
