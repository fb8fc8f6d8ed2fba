// Command ctxforge runs the context engine: an interactive chat REPL, a
// long-running server with metrics, and maintenance commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	ctxforge "github.com/ctxforge-dev/ctxforge"
	"github.com/ctxforge-dev/ctxforge/pkg/config"
	"github.com/ctxforge-dev/ctxforge/pkg/observability"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "ctxforge",
		Short: "Context engine for long-running LLM sessions",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config")

	root.AddCommand(serveCmd(), chatCmd(), cleanupCmd(), sessionsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadEngine() (*ctxforge.Engine, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	engine, err := ctxforge.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	return engine, cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine with metrics and the session sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, cfg, err := loadEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			if err := engine.StartSweeper(); err != nil {
				return err
			}

			var obsSrv *observability.Server
			if cfg.Metrics.Enabled {
				obsSrv = observability.NewServer(cfg.Metrics.Addr, engine.Metrics)
				obsSrv.AddCheck("database", engine.HealthCheck)
				go func() {
					if err := obsSrv.Start(); err != nil {
						log.Printf("metrics server: %v", err)
					}
				}()
				log.Printf("metrics listening on %s", cfg.Metrics.Addr)
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			<-stop

			if obsSrv != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = obsSrv.Shutdown(ctx)
			}
			return nil
		},
	}
}

func chatCmd() *cobra.Command {
	var userID, sessionID, title string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive REPL against one session",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := loadEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			ctx := cmd.Context()
			if sessionID == "" {
				sess, err := engine.Sessions.Create(ctx, userID, "", title, 0)
				if err != nil {
					return err
				}
				sessionID = sess.ID
				fmt.Printf("session %s\n", sessionID)
			}

			line := liner.NewLiner()
			defer line.Close()
			line.SetCtrlCAborts(true)

			for {
				input, err := line.Prompt("> ")
				if err != nil {
					if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
						return nil
					}
					return err
				}
				input = strings.TrimSpace(input)
				if input == "" {
					continue
				}
				if input == "exit" || input == "quit" {
					return nil
				}
				line.AppendHistory(input)

				result, err := engine.Process(ctx, sessionID, userID, input, nil)
				if err != nil {
					fmt.Fprintf(os.Stderr, "error: %v\n", err)
					continue
				}
				if result.Success {
					fmt.Println(result.Output)
				} else {
					fmt.Printf("[%s] %s\n", result.State, result.Error)
				}
				fmt.Printf("(%d tokens, %d tool calls, %s)\n",
					result.TokensUsed, result.ToolCallsMade, result.Duration.Round(time.Millisecond))
			}
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "local", "user id")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "resume an existing session")
	cmd.Flags().StringVarP(&title, "title", "t", "chat", "title for a new session")
	return cmd
}

func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Expire stale sessions and purge old expired ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := loadEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			expired, deleted, err := engine.Cleanup(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("expired %d sessions, deleted %d\n", expired, deleted)
			return nil
		},
	}
}

func sessionsCmd() *cobra.Command {
	var userID string
	var limit int
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List a user's sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := loadEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			sessions, err := engine.Sessions.List(cmd.Context(), userID, limit, 0)
			if err != nil {
				return err
			}
			for _, s := range sessions {
				fmt.Printf("%s  %-9s  %-30s  in=%d out=%d cost=$%.4f\n",
					s.ID, s.Status, s.Title, s.InputTokens, s.OutputTokens, s.TotalCost)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "local", "user id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "max sessions")
	return cmd
}
