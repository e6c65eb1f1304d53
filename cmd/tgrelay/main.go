package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tgrelay/internal/app"
)

var (
	version    = "dev"
	configPath string
)

func main() {
	root := &cobra.Command{
		Use:           "tgrelay",
		Short:         "Telegram notification relay",
		Long:          "tgrelay accepts notifications over HTTP and delivers them to Telegram chats with retries.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.json", "path to config json/yaml")

	root.AddCommand(serveCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(chatsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigs)

			a, err := app.New(configPath, app.WithVersion(version))
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer stopCancel()
				_ = a.Stop(stopCtx, app.StopFatalError)
				return fmt.Errorf("start: %w", err)
			}

			reason := app.StopUnknown
			select {
			case sig := <-sigs:
				reason = app.StopSIGINT
				if sig == syscall.SIGTERM {
					reason = app.StopSIGTERM
				}
			case <-a.Done():
				reason = app.StopFatalError
			}

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer stopCancel()
			if err := a.Stop(stopCtx, reason); err != nil {
				fmt.Fprintln(os.Stderr, "stop:", err)
			}
			if reason == app.StopFatalError {
				if err := a.Err(); err != nil {
					return err
				}
				return errors.New("stopped unexpectedly")
			}
			return nil
		},
	}
}

func sendCmd() *cobra.Command {
	var (
		to        []string
		lang      string
		parseMode string
	)
	cmd := &cobra.Command{
		Use:   "send [flags] <text>",
		Short: "Deliver one message and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			res, err := app.SendOnce(ctx, configPath, nil, app.SendRequest{
				To:        to,
				Language:  lang,
				ParseMode: parseMode,
				Text:      strings.Join(args, " "),
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, o := range res.Outcomes {
				if o.Succeeded {
					fmt.Fprintf(out, "ok     %s (attempts=%d)\n", o.Destination, o.Attempts)
					continue
				}
				fmt.Fprintf(out, "failed %s (attempts=%d): %s\n", o.Destination, o.Attempts, o.Error)
			}
			fmt.Fprintf(out, "sent %d/%d in %s\n", res.SentCount(), res.Total(), res.Took.Round(time.Millisecond))
			if res.FailedCount() > 0 {
				return fmt.Errorf("%d of %d deliveries failed", res.FailedCount(), res.Total())
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&to, "to", nil, "destination chat id or @handle (repeatable)")
	cmd.Flags().StringVar(&lang, "lang", "", "language selector when --to is empty: zh, en or both")
	cmd.Flags().StringVar(&parseMode, "parse-mode", "", "Markdown, MarkdownV2, HTML or none (default from config)")
	return cmd
}

func chatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chats",
		Short: "List chats the bot has seen recently",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			chats, err := app.RecentChats(ctx, configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(chats) == 0 {
				fmt.Fprintln(out, "no recent chats; send a message to the bot or add it to a group first")
				return nil
			}
			for _, c := range chats {
				label := c.Title
				if label == "" {
					label = c.Name
				}
				if c.Username != "" {
					label = strings.TrimSpace(label + " @" + c.Username)
				}
				fmt.Fprintf(out, "%-16d %-12s %s\n", c.ID, c.Type, label)
			}
			return nil
		},
	}
}
