package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"remindbot/internal/app"
	"remindbot/internal/config"
	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "remindbot",
		Short:         "Chat reminder bot (Telegram or WhatsApp)",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand(), newParseCommand(), newTasksCommand())
	return root
}

func newServeCommand() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot and the reminder dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.NewApp(cfgPath)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer stopCancel()
				_ = a.Stop(stopCtx, app.StopFatalError)
				return fmt.Errorf("start: %w", err)
			}

			reason := app.StopSignal
			select {
			case <-ctx.Done():
			case <-a.Done():
				reason = app.StopFatalError
			}
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer stopCancel()
			if err := a.Stop(stopCtx, reason); err != nil {
				return err
			}
			return a.Err()
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "path to config (json or yaml); empty uses the environment only")
	return cmd
}

func newParseCommand() *cobra.Command {
	var (
		cfgPath string
		tz      string
		nowRaw  string
	)
	cmd := &cobra.Command{
		Use:   "parse MESSAGE",
		Short: "Resolve one message and print the reminder it would create",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfigManager(cfgPath).Parse()
			if err != nil {
				return err
			}
			if tz != "" {
				cfg.Reminder.Timezone = tz
			}
			s, err := cfg.Settings()
			if err != nil {
				return err
			}
			resolver, err := app.NewResolver(cfg, s, logx.NewConsole("WARN"))
			if err != nil {
				return err
			}

			now := time.Now().In(s.Location)
			if nowRaw != "" {
				if now, err = time.ParseInLocation("2006-01-02T15:04:05", nowRaw, s.Location); err != nil {
					return fmt.Errorf("--now: %w", err)
				}
			}

			res := resolver.ResolveDetailed(cmd.Context(), strings.Join(args, " "), now)
			out := cmd.OutOrStdout()
			if res.Reminder == nil {
				fmt.Fprintln(out, "result:     none (could not understand)")
				if res.SemanticFailure != nil {
					fmt.Fprintf(out, "semantic:   %s: %v\n", res.SemanticFailure.Kind, res.SemanticFailure.Err)
				}
				return nil
			}
			p := res.Reminder
			fmt.Fprintf(out, "task:       %s\n", p.TaskDescription)
			fmt.Fprintf(out, "fire_at:    %s\n", p.FireAt.Format(time.RFC3339))
			fmt.Fprintf(out, "when:       %s\n", p.FireAt.Format(reminder.DisplayLayout))
			fmt.Fprintf(out, "confidence: %s\n", p.Confidence)
			fmt.Fprintf(out, "source:     %s\n", res.Source)
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "config used for the completion endpoint and timezone")
	cmd.Flags().StringVar(&tz, "tz", "", "timezone (default from config, then "+config.DefaultTimezone+")")
	cmd.Flags().StringVar(&nowRaw, "now", "", "reference time as 2006-01-02T15:04:05 in --tz")
	return cmd
}

func newTasksCommand() *cobra.Command {
	var (
		cfgPath string
		owner   string
		all     bool
	)
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List stored reminders for one owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(owner) == "" {
				return errors.New("--owner is required")
			}
			cfg, err := config.NewConfigManager(cfgPath).Parse()
			if err != nil {
				return err
			}
			s, err := cfg.Settings()
			if err != nil {
				return err
			}
			st, err := app.OpenStore(s, logx.NewConsole("WARN"))
			if err != nil {
				return err
			}
			defer st.Close()

			tasks, err := st.ForOwner(cmd.Context(), owner, all)
			if err != nil {
				return err
			}
			if tasks == nil {
				tasks = []reminder.Task{}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(tasks)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "path to config (json or yaml)")
	cmd.Flags().StringVar(&owner, "owner", "", "owner id (telegram chat id or whatsapp:+E164)")
	cmd.Flags().BoolVar(&all, "all", false, "include reminders already sent")
	return cmd
}
