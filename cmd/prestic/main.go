// Command prestic runs restic backups from declarative profiles: one-shot
// from the command line, or as a long-running scheduler service.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"prestic/internal/app"
)

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:           "prestic",
		Short:         "profile-driven restic backup runner",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfigPath(), "path to the configuration file")
	root.AddCommand(runCmd(), serveCmd(), profilesCmd(), showCmd(), historyCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "prestic:", err)
		var re *app.RunError
		if errors.As(err, &re) && re.Result.ExitCode > 0 {
			os.Exit(re.Result.ExitCode)
		}
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "prestic", "prestic.yaml")
	}
	return "prestic.yaml"
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <profile>... [-- <command> [args...]]",
		Short: "execute profiles now",
		Long: `Execute the named profiles sequentially.

Arguments after -- replace the profiles' configured command, e.g.:

  prestic run home -- snapshots --last`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profiles := args
			var overrideCmd string
			var overrideArgs []string
			if at := cmd.ArgsLenAtDash(); at >= 0 {
				if at == 0 {
					return errors.New("name at least one profile before --")
				}
				profiles = args[:at]
				rest := args[at:]
				if len(rest) > 0 {
					overrideCmd = rest[0]
					overrideArgs = rest[1:]
				}
			}

			a, err := app.New(cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext()
			defer cancel()
			return a.RunProfiles(ctx, profiles, overrideCmd, overrideArgs, os.Stdout)
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run as a scheduler service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext()
			defer cancel()
			return a.Serve(ctx)
		},
	}
}

func profilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "list configured profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			infos, err := a.ListProfiles()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tDESCRIPTION\tSCHEDULE\tNEXT DUE\tLAST RUN")
			for _, info := range infos {
				desc := info.Description
				if info.Err != nil {
					desc = "unusable: " + info.Err.Error()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					info.Name, desc, orDash(info.Schedule),
					fmtTime(info.NextDue), fmtTime(info.LastRun))
			}
			return w.Flush()
		},
	}
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <profile>",
		Short: "print the resolved invocation for a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			cmdLine, envKeys, err := a.ShowProfile(args[0])
			if err != nil {
				return err
			}
			fmt.Println(cmdLine)
			for _, k := range envKeys {
				fmt.Printf("  env %s\n", k)
			}
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [profile]",
		Short: "show recent runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			ctx, cancel := signalContext()
			defer cancel()
			runs, err := a.History(ctx, name, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no recorded runs (is storage configured?)")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROFILE\tCOMMAND\tFINISHED\tSTATUS\tTOOK")
			for _, r := range runs {
				status := r.Status
				if r.Warning {
					status += " (warnings)"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					r.Profile, r.Command, fmtTime(r.FinishedAt), status,
					r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum records to show")
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04")
}
