package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"goalflow/internal/app"
	"goalflow/internal/config"
	"goalflow/internal/db"
	"goalflow/internal/engine"
	"goalflow/internal/logging"
	"goalflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "gf",
	Short: "Goalflow CLI",
	Long: `Goalflow edits workflow documents: goals that carry constraints, policies,
tasks and forms. Every change is a tool call; every successful change is a new
immutable version.
- Workspace: the .goalflow directory with the local database, plus goalflow.yml.
- Document: a workflow with an objective and ordered goals.
- Tools: the named mutations (addGoal, updateTask, moveElement, ...). See 'gf tools'.
- Edit: a natural-language request turned into tool calls by the configured model,
  retried with feedback until the document validates.
- Audit: every attempted tool call, successful or not, see 'gf audit <doc>'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "init" {
			return nil
		}
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GOALFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier")
	flags.String("model", "", "model name (overrides llm.model)")
	flags.String("base-url", "", "model endpoint (overrides llm.base_url)")
	flags.String("store-driver", "", "version store driver: sqlite or postgres")
	flags.String("store-dsn", "", "postgres connection string")
	flags.String("log-level", "", "log level (overrides logging.level)")
	for _, name := range []string{"workspace", "json", "actor-id", "model", "base-url", "store-driver", "store-dsn", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(docCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(applyCmd())
	rootCmd.AddCommand(editCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(toolsCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the workspace and a default goalflow.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			dir, err := db.EnsureWorkspace(workspace)
			if err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Initialized workspace %s\nWrote %s\n", dir, path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing goalflow.yml")
	return cmd
}

func applyCmd() *cobra.Command {
	var tool, params string
	var base int
	cmd := &cobra.Command{
		Use:   "apply <document-id>",
		Short: "Apply one tool call and store the result as a new version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			call := engine.ToolCall{Tool: tool}
			if params != "" {
				if err := json.Unmarshal([]byte(params), &call.Params); err != nil {
					return fmt.Errorf("--params must be a JSON object: %w", err)
				}
			}
			return withService(cmd.Context(), func(ctx context.Context, s *app.Service) error {
				v, err := s.ApplyTool(ctx, args[0], base, call, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(v)
				}
				fmt.Printf("%s is now at version %d (%s)\n", v.DocumentID, v.Version, v.Summary)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tool, "tool", "", "tool name, see 'gf tools'")
	cmd.Flags().StringVar(&params, "params", "", "tool parameters as a JSON object")
	cmd.Flags().IntVar(&base, "base-version", 0, "version the call applies to (0 = latest)")
	_ = cmd.MarkFlagRequired("tool")
	return cmd
}

func editCmd() *cobra.Command {
	var base int
	cmd := &cobra.Command{
		Use:   "edit <document-id> <request>",
		Short: "Ask the model to change a document",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			request := strings.Join(args[1:], " ")
			return withService(cmd.Context(), func(ctx context.Context, s *app.Service) error {
				out, err := s.Edit(ctx, args[0], base, request, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				res := out.Result
				if viper.GetBool("json") {
					payload := map[string]any{
						"success":    res.Success,
						"run_id":     res.RunID,
						"message":    res.Message,
						"reasoning":  res.Reasoning,
						"attempts":   res.Attempts,
						"tool_calls": res.ToolCalls,
					}
					if res.Err != nil {
						payload["error_kind"] = res.Err.Kind
					}
					if len(res.ValidationIssues) > 0 {
						payload["validation_issues"] = res.ValidationIssues
					}
					if out.Version != nil {
						payload["version"] = out.Version.Version
					}
					return printJSON(payload)
				}
				fmt.Println(res.Message)
				if res.Reasoning != "" {
					fmt.Println("Reasoning:", res.Reasoning)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"#", "Tool", "Status", "Error"})
				for i, c := range res.ToolCalls {
					tw.AppendRow(table.Row{i + 1, c.Tool, c.Status, c.Error})
				}
				tw.Render()
				if out.Version != nil {
					fmt.Printf("Saved version %d after %d attempt(s)\n", out.Version.Version, res.Attempts)
					return nil
				}
				return fmt.Errorf("edit failed after %d attempt(s)", res.Attempts)
			})
		},
	}
	cmd.Flags().IntVar(&base, "base-version", 0, "version the edit applies to (0 = latest)")
	return cmd
}

func auditCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit <document-id>",
		Short: "Show attempted tool calls for a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, s *app.Service) error {
				items, err := s.Audit(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Time", "Type", "Actor", "Run", "Attempt", "Tool", "Status", "Error"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.Timestamp.Format(time.RFC3339), e.Type, e.ActorID, shortID(e.RunID), e.Attempt, e.Tool, e.Status, e.Error})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of entries")
	return cmd
}

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List mutation tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			specs := engine.Catalog()
			if viper.GetBool("json") {
				return printJSON(specs)
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"Tool", "Description"})
			for _, s := range specs {
				tw.AppendRow(table.Row{s.Name, s.Description})
			}
			tw.Render()
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("base-path") {
				cfg.Server.BasePath = basePath
			}
			// The server logs in the configured format; other commands log text.
			log := logging.New(cfg.Logging)
			s, err := app.Open(cmd.Context(), viper.GetString("workspace"), cfg, log)
			if err != nil {
				return err
			}
			defer s.Close()
			if s.Agent == nil {
				log.Warn("agent disabled: llm.base_url or llm.model is empty")
			}
			handler, err := server.New(server.Config{Service: s, BasePath: cfg.Server.BasePath, Log: log})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			log.Info("server.start", "addr", cfg.Server.Addr, "base_path", cfg.Server.BasePath, "store", cfg.Store.Driver)
			fmt.Printf("Serving goalflow API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", cfg.Server.Addr, cfg.Server.BasePath, cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path (overrides server.base_path)")
	return cmd
}

// --- helpers ---

// loadConfig reads goalflow.yml (or the defaults) and applies flag and
// GOALFLOW_* environment overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := app.ResolveConfig(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("model"); v != "" {
		cfg.LLM.Model = v
	}
	if v := viper.GetString("base-url"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := viper.GetString("store-driver"); v != "" {
		cfg.Store.Driver = v
	}
	if v := viper.GetString("store-dsn"); v != "" {
		cfg.Store.DSN = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func cliLogger(cfg *config.Config) *slog.Logger {
	lc := cfg.Logging
	lc.Format = "text"
	if viper.GetString("log-level") == "" {
		lc.Level = "warn"
	}
	return logging.New(lc)
}

func withService(ctx context.Context, fn func(context.Context, *app.Service) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := app.Open(ctx, viper.GetString("workspace"), cfg, cliLogger(cfg))
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
