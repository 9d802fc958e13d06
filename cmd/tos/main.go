package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"transitionos/internal/app"
	"transitionos/internal/config"
	"transitionos/internal/domain"
	"transitionos/internal/engine"
	"transitionos/internal/importer"
	"transitionos/internal/migrate"
	"transitionos/internal/repo"
)

var rootCmd = &cobra.Command{
	Use:   "tos",
	Short: "Transition OS CLI",
	Long: `Transition OS tracks households moving to a new advisor platform.
- Households own accounts, documents and tasks; progress and NIGO counts are derived, never stored.
- Tasks move PENDING -> COMPLETED exactly once; every change writes one append-only audit event.
- Webhooks from custodians and e-sign vendors update documents and accounts.
- The gateway answers chat messages and proxies the core API for the assistant UI.`,
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TOS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to transitionos.yml")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(gatewayCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(transitionsCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(logCmd())
}

func loadConfig() (*config.Config, error) {
	return config.Load(viper.New(), viper.GetString("config"))
}

func serveCmd() *cobra.Command {
	var host string
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the core HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if cmd.Flags().Changed("host") {
					a.Config.API.Host = host
				}
				if cmd.Flags().Changed("port") {
					a.Config.API.Port = port
				}
				handler, err := a.Handler()
				if err != nil {
					return err
				}
				addr := app.Addr(a.Config.API.Host, a.Config.API.Port)
				fmt.Printf("Serving Transition OS API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, a.Config.API.BasePath)
				return app.Serve(ctx, addr, handler, a.Logger)
			})
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides API_HOST)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides API_PORT)")
	return cmd
}

func gatewayCmd() *cobra.Command {
	var host string
	var port int
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Start the chat gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Gateway.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Gateway.Port = port
			}
			obs, err := app.NewObservability(ctx, cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer shutdownObservability(obs)
			handler, err := app.GatewayHandler(cfg, obs)
			if err != nil {
				return err
			}
			addr := app.Addr(cfg.Gateway.Host, cfg.Gateway.Port)
			fmt.Printf("Serving gateway on http://%s (backend %s)\n", addr, cfg.Gateway.BackendURL)
			return app.Serve(ctx, addr, handler, obs.Logger)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides OPENCLAW_HOST)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides OPENCLAW_PORT)")
	return cmd
}

func migrateCmd() *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if reset {
					if err := migrate.Reset(a.DB); err != nil {
						return err
					}
				}
				v, err := migrate.Version(a.DB)
				if err != nil {
					return err
				}
				return printJSONOrText(map[string]any{"schema_version": v, "reset": reset},
					fmt.Sprintf("schema version %d", v))
			})
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "drop every table and re-apply migrations")
	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load the built-in demo dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := importer.Seed(ctx, a.Engine)
				if err != nil {
					return err
				}
				if res.Skipped {
					return printJSONOrText(res, "Database already seeded.")
				}
				return printSummary(res.Summary)
			})
		},
	}
}

func importCmd() *cobra.Command {
	var dataDir string
	var reset bool
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a demo dataset folder (CSV + JSONL)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if reset {
					if err := migrate.Reset(a.DB); err != nil {
						return err
					}
				}
				sum, err := importer.Import(ctx, a.Engine, dataDir)
				if err != nil {
					return err
				}
				return printSummary(sum)
			})
		},
	}
	cmd.Flags().StringVar(&dataDir, "data", "demo_data/transition_os_demo_v1", "dataset folder")
	cmd.Flags().BoolVar(&reset, "reset", false, "drop and recreate tables before import")
	return cmd
}

func transitionsCmd() *cobra.Command {
	c := &cobra.Command{Use: "transitions", Short: "Inspect households in transition"}
	c.AddCommand(transitionsListCmd())
	c.AddCommand(transitionsShowCmd())
	return c
}

func transitionsListCmd() *cobra.Command {
	var advisorID int64
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List households by risk, then ETA",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				f := repo.HouseholdFilters{Status: status}
				if advisorID > 0 {
					f.AdvisorID = &advisorID
				}
				items, err := a.Engine.ListHouseholds(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Advisor", "Status", "Risk", "ETA", "Accounts", "Open", "NIGO", "Progress"})
				for _, s := range items {
					risk := ""
					if s.Household.RiskScore != nil {
						risk = strconv.FormatFloat(*s.Household.RiskScore, 'f', 1, 64)
					}
					eta := ""
					if s.Household.ETADate != nil {
						eta = *s.Household.ETADate
					}
					tw.AppendRow(table.Row{s.Household.ID, s.Household.Name, s.AdvisorName, s.Household.Status, risk, eta,
						s.AccountsCount, s.OpenTasks, s.NIGOIssues, fmt.Sprintf("%.2f%%", s.ProgressPercent)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&advisorID, "advisor-id", 0, "advisor filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter (IN_PROGRESS, AT_RISK, COMPLETED)")
	return cmd
}

func transitionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <household-id>",
		Short: "Show one household with accounts, documents and tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid household id %q", args[0])
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				d, err := a.Engine.GetHousehold(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				fmt.Printf("%s [%s] advisor=%s progress=%.2f%% suggested=%s\n",
					d.Summary.Household.Name, d.Summary.Household.Status, d.Advisor.Name, d.Summary.ProgressPercent, d.SuggestedStatus)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Task", "Name", "Owner", "Status", "Blocked By", "Due"})
				for _, t := range d.Tasks {
					blocked := ""
					if t.BlockedByTaskID != nil {
						blocked = strconv.FormatInt(*t.BlockedByTaskID, 10)
					}
					due := ""
					if t.SLADueAt != nil {
						due = *t.SLADueAt
					}
					tw.AppendRow(table.Row{t.ID, t.Name, t.OwnerRole, t.Status, blocked, due})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func taskCmd() *cobra.Command {
	c := &cobra.Command{Use: "task", Short: "Manage tasks"}
	c.AddCommand(taskCompleteCmd())
	return c
}

func taskCompleteCmd() *cobra.Command {
	var note, actorType, actorID string
	cmd := &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Mark a task COMPLETED",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			actorType = strings.ToUpper(actorType)
			if !domain.ValidActorType(actorType) {
				return fmt.Errorf("invalid actor type %q", actorType)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.CompleteTask(ctx, engine.CompleteTaskOptions{
					TaskID: id,
					Status: domain.TaskCompleted,
					Note:   note,
					Actor:  domain.Actor{Type: actorType, ID: actorID},
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Task %d marked %s.\n", res.Task.ID, res.Task.Status)
				if res.HouseholdStatusChanged {
					fmt.Println("Household marked COMPLETED.")
				} else if res.SuggestedHouseholdStatus != "" {
					fmt.Printf("All household tasks complete; suggested status %s.\n", res.SuggestedHouseholdStatus)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "completion note")
	cmd.Flags().StringVar(&actorType, "actor-type", domain.ActorUser, "actor type (USER, BOT, SYSTEM)")
	cmd.Flags().StringVar(&actorID, "actor-id", "cli", "actor identifier")
	return cmd
}

func logCmd() *cobra.Command {
	c := &cobra.Command{Use: "log", Short: "Audit trail"}
	c.AddCommand(logTailCmd())
	return c
}

func logTailCmd() *cobra.Command {
	var n int
	var f repo.AuditFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail audit events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				f.Limit = n
				items, err := a.Engine.Repo.LatestAuditEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "At", "Actor", "Event", "Entity", "Payload"})
				for _, e := range items {
					entity := strings.Trim(e.EntityType+":"+e.EntityID, ":")
					tw.AppendRow(table.Row{e.ID, e.CreatedAt, e.ActorType + "/" + e.ActorID, e.EventType, entity, string(e.Payload)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.EventType, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityType, "entity-type", "", "entity type filter")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id filter")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	obs, err := app.NewObservability(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer shutdownObservability(obs)
	a, err := app.Open(ctx, cfg, obs)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func shutdownObservability(obs app.Observability) {
	ctx, cancel := context.WithTimeout(context.Background(), app.ShutdownTimeout)
	defer cancel()
	_ = obs.Shutdown(ctx)
}

func printSummary(sum importer.Summary) error {
	if viper.GetBool("json") {
		return printJSON(sum)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Table", "Rows"})
	tw.AppendRows([]table.Row{
		{"advisors", sum.Advisors},
		{"households", sum.Households},
		{"accounts", sum.Accounts},
		{"workflows", sum.Workflows},
		{"tasks", sum.Tasks},
		{"documents", sum.Documents},
		{"audit_events", sum.AuditEvents},
	})
	tw.Render()
	return nil
}

func printJSONOrText(v any, text string) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	fmt.Println(text)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
