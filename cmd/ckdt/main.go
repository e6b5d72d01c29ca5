package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ckdt/internal/app"
	"ckdt/internal/config"
	"ckdt/internal/db"
	"ckdt/internal/domain"
	"ckdt/internal/engine"
	"ckdt/internal/engine/auth"
	"ckdt/internal/metrics"
	"ckdt/internal/repo"
	"ckdt/internal/search"
	"ckdt/internal/server"
	"ckdt/internal/session"
)

var rootCmd = &cobra.Command{
	Use:   "ckdt",
	Short: "DETRAN document checklist",
	Long: `ckdt keeps the catalog of DETRAN services and the documents each one requires.
- Service: a procedure such as vehicle transfer or CNH renewal, grouped by category.
- Section: a block of documents. Alternative sections are satisfied by any one item; optional sections never block completion.
- Item: a document with an observation and tags (Original, Cópia, Digital, ...).
- Session: a clerk's in-memory walk through one service. Checks are never stored.
- Catalog edits are audited; view them with 'ckdt events tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	workspace := viper.GetString("workspace")
	if err := godotenv.Load(filepath.Join(workspace, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "WARNING: .env:", err)
	}
	viper.SetEnvPrefix("CKDT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/ckdt.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serviceCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(checklistCmd())
	rootCmd.AddCommand(eventsCmd())
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
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if basePath != "" {
				cfg.Server.BasePath = basePath
			}
			logger := log.New(os.Stderr, "", log.LstdFlags)
			conn, e, err := app.Open(viper.GetString("workspace"), cfg)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := app.Bootstrap(ctx, e, cfg, logger); err != nil {
				return err
			}

			sessions := session.NewStore(e, session.Config{TTL: cfg.Sessions.TTL, Logger: logger})
			go sessions.Run(ctx, cfg.Sessions.SweepInterval)

			m := metrics.New()
			handler, err := server.New(server.Config{
				Engine:   e,
				Sessions: sessions,
				Metrics:  m,
				BasePath: cfg.Server.BasePath,
				Auth: server.AuthConfig{
					JWTSecret: cfg.Auth.JWTSecret,
					TokenTTL:  cfg.Auth.TokenTTL,
					Logger:    logger,
				},
			})
			if err != nil {
				return err
			}
			server.StartWebhooks(ctx, server.WebhookConfig{Engine: e, Hooks: cfg.Webhooks, Metrics: m, Logger: logger})

			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			fmt.Printf("Serving ckdt API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n",
				cfg.Server.Addr, cfg.Server.BasePath, cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (overrides server.base_path)")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage ckdt.yml"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default ckdt.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("Wrote", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			if c.Auth.JWTSecret != "" {
				c.Auth.JWTSecret = "***"
			}
			if c.Auth.Admin.Password != "" {
				c.Auth.Admin.Password = "***"
			}
			return printJSON(c)
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate ckdt.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return cfg
}

func serviceCmd() *cobra.Command {
	svc := &cobra.Command{Use: "service", Short: "Manage the service catalog"}
	svc.AddCommand(serviceListCmd())
	svc.AddCommand(serviceShowCmd())
	svc.AddCommand(serviceImportCmd())
	svc.AddCommand(serviceExportCmd())
	svc.AddCommand(serviceDuplicateCmd())
	svc.AddCommand(serviceDeleteCmd())
	svc.AddCommand(serviceReorderCmd())
	return svc
}

func serviceListCmd() *cobra.Command {
	var category, query string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List services",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := engine.ServiceQuery{Text: query}
			if category != "" {
				c, ok := search.ParseCategory(category)
				if !ok {
					return fmt.Errorf("unknown category %q", category)
				}
				q.Category = c
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListServices(ctx, q)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Category", "Updated"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Title, s.Category, s.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "category filter (Veículo, Habilitação, Infrações, Outros)")
	cmd.Flags().StringVarP(&query, "query", "q", "", "text search")
	return cmd
}

func serviceShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <service-id>",
		Short: "Show a service with its sections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				svc, err := e.GetService(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(svc)
				}
				fmt.Printf("%s [%s]\n%s\n", svc.Title, svc.Category, svc.Description)
				renderChecklist(os.Stdout, svc, nil)
				return nil
			})
		},
	}
}

func serviceImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <catalog.yml>",
		Short: "Create or update services from a YAML catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			cat, err := engine.ParseCatalog(f)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ImportCatalog(ctx, auth.System, cat)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Imported %s: %d created, %d updated\n", args[0], res.Created, res.Updated)
				return nil
			})
		},
	}
}

func serviceExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the catalog as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cat, err := e.ExportCatalog(ctx)
				if err != nil {
					return err
				}
				if out == "" || out == "-" {
					return engine.WriteCatalog(os.Stdout, cat)
				}
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				return engine.WriteCatalog(f, cat)
			})
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default stdout)")
	return cmd
}

func serviceDuplicateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "duplicate <service-id>",
		Short: "Copy a service under a new id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				svc, err := e.DuplicateService(ctx, auth.System, args[0])
				if err != nil {
					return err
				}
				return printJSONOrLine(svc, fmt.Sprintf("%s %s", svc.ID, svc.Title))
			})
		},
	}
}

func serviceDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <service-id>",
		Short: "Delete a service and its sections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteService(ctx, auth.System, args[0])
			})
		},
	}
}

func serviceReorderCmd() *cobra.Command {
	var section string
	cmd := &cobra.Command{
		Use:   "reorder <service-id> <id>...",
		Short: "Reorder sections, or items of one section with --section",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var svc domain.Service
				var err error
				if section != "" {
					svc, err = e.ReorderItems(ctx, auth.System, section, args[1:])
				} else {
					svc, err = e.ReorderSections(ctx, auth.System, args[0], args[1:])
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(svc)
				}
				renderChecklist(os.Stdout, svc, nil)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&section, "section", "", "section id whose items are reordered")
	return cmd
}

func userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "Manage staff accounts"}
	u.AddCommand(userAddCmd())
	u.AddCommand(userListCmd())
	u.AddCommand(userRemoveCmd())
	return u
}

func userAddCmd() *cobra.Command {
	var in engine.UserInput
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if in.Password == "" {
				in.Password = os.Getenv("CKDT_USER_PASSWORD")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.CreateUser(ctx, auth.System, in)
				if err != nil {
					return err
				}
				return printJSONOrLine(u, fmt.Sprintf("%s %s admin=%t", u.ID, u.Email, u.IsAdmin))
			})
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "full name")
	cmd.Flags().StringVar(&in.Email, "email", "", "login email")
	cmd.Flags().StringVar(&in.Password, "password", "", "password (or CKDT_USER_PASSWORD)")
	cmd.Flags().BoolVar(&in.IsAdmin, "admin", false, "grant catalog administration")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				users, err := e.ListUsers(ctx, auth.System)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Email", "Admin", "Created"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Name, u.Email, u.IsAdmin, u.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func userRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <email>",
		Short: "Remove an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.Repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(args[0])))
				if err != nil {
					return err
				}
				return e.RemoveUser(ctx, auth.System, u.ID)
			})
		},
	}
}

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	var email, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key for an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.Repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
				if err != nil {
					return err
				}
				actor, _, err := e.ActorOf(ctx, u.ID)
				if err != nil {
					return err
				}
				plain, key, err := e.CreateAPIKey(ctx, actor, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "name": key.Name, "key": plain})
				}
				fmt.Printf("API key %s created; it will not be shown again:\n%s\n", key.ID, plain)
				return nil
			})
		},
	}
	create.Flags().StringVar(&email, "email", "", "account email")
	create.Flags().StringVar(&name, "name", "", "key label")
	_ = create.MarkFlagRequired("email")
	k.AddCommand(create)
	return k
}

func eventsCmd() *cobra.Command {
	ev := &cobra.Command{Use: "events", Short: "Audit log of catalog and account changes"}
	var n int
	var f repo.EventFilter
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListEvents(ctx, auth.System, engine.EventQuery{EventFilter: f, Limit: n})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "When", "Type", "Entity", "Actor"})
				for _, evt := range items {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVarP(&n, "n", "n", 20, "number of events")
	tail.Flags().StringVar(&f.Type, "type", "", "event type filter")
	tail.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	ev.AddCommand(tail)
	return ev
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path := viper.GetString("config"); path != "" {
		cfg, err = config.FromFile(path)
	} else {
		cfg, err = config.LoadOptional(viper.GetString("workspace"))
	}
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("addr"); v != "" {
		cfg.Server.Addr = v
	}
	if v := viper.GetString("jwt_secret"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := viper.GetString("admin_email"); v != "" {
		cfg.Auth.Admin.Email = v
	}
	if v := viper.GetString("admin_password"); v != "" {
		cfg.Auth.Admin.Password = v
	}
	if v := viper.GetString("admin_name"); v != "" {
		cfg.Auth.Admin.Name = v
	}
	if v := viper.GetString("db_file"); v != "" {
		cfg.Database.File = v
	}
	return cfg, cfg.Validate()
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	conn, e, err := app.Open(viper.GetString("workspace"), cfg)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := app.Bootstrap(ctx, e, cfg, log.New(os.Stderr, "", 0)); err != nil {
		return err
	}
	return fn(ctx, e)
}

func printJSONOrLine(v any, line string) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	fmt.Println(line)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
