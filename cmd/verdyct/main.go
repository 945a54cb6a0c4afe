package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"verdyct/internal/api"
	"verdyct/internal/config"
	"verdyct/internal/db"
	"verdyct/internal/domain"
	"verdyct/internal/events"
	"verdyct/internal/migrate"
	"verdyct/internal/notify"
	"verdyct/internal/session"
	"verdyct/internal/stub"
	"verdyct/internal/timeline"
	"verdyct/internal/watch"
)

var rootCmd = &cobra.Command{
	Use:   "verdyct",
	Short: "Verdyct CLI",
	Long: `Verdyct submits product ideas for analysis and tracks the result.
Core concepts:
- Workspace: your .verdyct directory with the local database; settings live in verdyct.yml next to it.
- Analysis: one submitted idea; it moves queued -> analyzing -> approved/rejected.
- Watcher: the background check that notices when the one watched analysis finishes ('verdyct watch run').
- Notification: the single pending "your analysis is done" event, kept until you open or dismiss it.
- Timeline: the per-project execution plan; an onboarding chat first, then ordered steps you complete one at a time.
- Event log: diary of submissions, resolutions, and step completions, view with 'verdyct log tail'.`,
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
	viper.SetEnvPrefix("VERDYCT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Bool("verbose", false, "debug logging")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(projectsCmd())
	rootCmd.AddCommand(timelineCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(stubCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default verdyct.yml in the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	return cmd
}

func submitCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "submit <idea>",
		Short: "Submit an idea for analysis and watch it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idea := strings.TrimSpace(args[0])
			if idea == "" {
				return fmt.Errorf("idea text is required")
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env env) error {
				resp, err := env.Client.Submit(ctx, api.SubmitRequest{Idea: idea, Name: name})
				if err != nil {
					return err
				}
				if err := env.Store.Set(ctx, resp.ID); err != nil {
					return err
				}
				_ = env.Journal.Append(ctx, events.TypeAnalysisSubmitted, resp.ID, events.Payload{"status": string(resp.Status)})
				return printJSONOrTable(resp)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	return cmd
}

func watchCmd() *cobra.Command {
	w := &cobra.Command{Use: "watch", Short: "Watch the active analysis"}
	w.AddCommand(watchRunCmd())
	w.AddCommand(watchStatusCmd())
	w.AddCommand(watchAckCmd())
	w.AddCommand(watchDiscardCmd())
	return w
}

func watchRunCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll until the watched analysis resolves",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withEnv(ctx, func(ctx context.Context, env env) error {
				var sound notify.Sound = notify.Silent{}
				if env.Config.Watch.Sound {
					sound = notify.Bell{}
				}
				center := &notify.Center{
					Navigator: reportNavigator(env.Config.API.BaseURL),
					Sound:     sound,
					Journal:   env.Journal,
					Log:       env.Log,
				}
				resolved := make(chan domain.CompletionEvent, 1)
				p := &watch.Poller{
					Store:    env.Store,
					Gateway:  env.Gateway,
					Client:   env.Client,
					Journal:  env.Journal,
					Interval: env.Config.PollInterval(),
					Log:      env.Log,
					Sink: watch.SinkFunc(func(ev domain.CompletionEvent) {
						center.Resolved(ev)
						select {
						case resolved <- ev:
						default:
						}
					}),
				}
				if once {
					p.Tick(ctx)
					select {
					case ev := <-resolved:
						printToast(ev)
					default:
						fmt.Println("no resolution yet")
					}
					return nil
				}
				jobID, err := env.Store.Get(ctx)
				if err != nil {
					return err
				}
				if jobID == "" {
					fmt.Println("nothing to watch; submit an idea first")
					return nil
				}
				fmt.Printf("watching %s (every %s, Ctrl-C to stop)\n", jobID, env.Config.PollInterval())
				p.Start(ctx)
				defer p.Stop()
				select {
				case ev := <-resolved:
					printToast(ev)
					return nil
				case <-ctx.Done():
					return nil
				}
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single check and exit")
	return cmd
}

func watchStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the watched analysis and any pending notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env env) error {
				jobID, err := env.Store.Get(ctx)
				if err != nil {
					return err
				}
				pending, err := pendingNotification(ctx, env.Journal)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"watching": jobID, "pending": pending})
				}
				if jobID == "" {
					fmt.Println("Watching: none")
				} else {
					fmt.Println("Watching:", jobID)
				}
				if pending == nil {
					fmt.Println("Pending notification: none")
				} else {
					fmt.Printf("Pending notification: %s resolved %s (verdyct watch ack)\n", pending.JobID, pending.Status)
				}
				return nil
			})
		},
	}
	return cmd
}

func watchAckCmd() *cobra.Command {
	var dismiss bool
	cmd := &cobra.Command{
		Use:   "ack",
		Short: "Acknowledge the pending notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env env) error {
				pending, err := pendingNotification(ctx, env.Journal)
				if err != nil {
					return err
				}
				if pending == nil {
					fmt.Println("nothing pending")
					return nil
				}
				center := &notify.Center{
					Navigator: reportNavigator(env.Config.API.BaseURL),
					Sound:     notify.Silent{},
					Journal:   env.Journal,
					Log:       env.Log,
				}
				if dismiss {
					center.Dismiss(ctx, *pending)
					fmt.Println("dismissed", pending.JobID)
					return nil
				}
				return center.Activate(ctx, *pending)
			})
		},
	}
	cmd.Flags().BoolVar(&dismiss, "dismiss", false, "dismiss instead of opening the report")
	return cmd
}

func watchDiscardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discard",
		Short: "Stop watching without waiting for a result",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env env) error {
				jobID, err := env.Store.Get(ctx)
				if err != nil {
					return err
				}
				if jobID == "" {
					fmt.Println("nothing to discard")
					return nil
				}
				if err := env.Store.Clear(ctx); err != nil {
					return err
				}
				_ = env.Journal.Append(ctx, events.TypeAnalysisDiscarded, jobID, events.Payload{"reason": "user"})
				fmt.Println("discarded", jobID)
				return nil
			})
		},
	}
	return cmd
}

func projectsCmd() *cobra.Command {
	p := &cobra.Command{Use: "projects", Short: "Inspect projects"}
	p.AddCommand(projectsShowCmd())
	return p
}

func projectsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env env) error {
				job, err := env.Client.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(job)
			})
		},
	}
	return cmd
}

func timelineCmd() *cobra.Command {
	t := &cobra.Command{
		Use:   "timeline",
		Short: "Work a project's timeline",
		Long:  "The timeline starts as an onboarding chat; once finalized it becomes ordered steps completed one at a time. Each command loads fresh server state.",
	}
	t.AddCommand(timelineShowCmd())
	t.AddCommand(timelineStartCmd())
	t.AddCommand(timelineSayCmd())
	t.AddCommand(timelineOpenCmd())
	t.AddCommand(timelineBackCmd())
	t.AddCommand(timelineCompleteCmd())
	return t
}

func timelineShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show the current timeline view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd.Context(), args[0], func(ctx context.Context, c *timeline.Controller) error {
				return renderView(c)
			})
		},
	}
	return cmd
}

func timelineStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <project-id>",
		Short: "Bootstrap the timeline if it does not exist yet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd.Context(), args[0], func(ctx context.Context, c *timeline.Controller) error {
				return renderView(c)
			})
		},
	}
	return cmd
}

func timelineSayCmd() *cobra.Command {
	var stepID string
	cmd := &cobra.Command{
		Use:   "say <project-id> <message>",
		Short: "Send a chat turn (onboarding, or about a step with --step)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd.Context(), args[0], func(ctx context.Context, c *timeline.Controller) error {
				if stepID != "" {
					reply, err := c.AskAboutStep(ctx, stepID, args[1])
					if err != nil {
						return err
					}
					fmt.Println(reply)
					return nil
				}
				if err := c.SendMessage(ctx, args[1]); err != nil {
					return err
				}
				return renderView(c)
			})
		},
	}
	cmd.Flags().StringVar(&stepID, "step", "", "ask about a specific step instead")
	return cmd
}

func timelineOpenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "open <project-id> <step-id>",
		Short: "Open a step's detail",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd.Context(), args[0], func(ctx context.Context, c *timeline.Controller) error {
				if err := c.SelectStep(args[1]); err != nil {
					return err
				}
				return renderView(c)
			})
		},
	}
	return cmd
}

func timelineBackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "back <project-id>",
		Short: "Return to the step list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd.Context(), args[0], func(ctx context.Context, c *timeline.Controller) error {
				c.Back()
				return renderView(c)
			})
		},
	}
	return cmd
}

func timelineCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <project-id> <step-id>",
		Short: "Complete the active step",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd.Context(), args[0], func(ctx context.Context, c *timeline.Controller) error {
				if err := c.CompleteStep(ctx, args[1]); err != nil {
					return err
				}
				return renderView(c)
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, jobID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env env) error {
				entries, err := env.Journal.Latest(ctx, n, evtType, jobID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Job"})
				for _, e := range entries {
					tw.AppendRow(table.Row{e.TS, e.Type, e.JobID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&jobID, "job", "", "job id filter")
	return cmd
}

func loginCmd() *cobra.Command {
	var clear bool
	cmd := &cobra.Command{
		Use:   "login [token]",
		Short: "Store a session token for API calls",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			gw := session.NewFileGateway(tokenPath(workspace, cfg))
			if clear {
				if err := gw.Clear(); err != nil {
					return err
				}
				fmt.Println("session cleared")
				return nil
			}
			if len(args) == 0 {
				return fmt.Errorf("token required (or --clear)")
			}
			if err := gw.Store(strings.TrimSpace(args[0])); err != nil {
				return err
			}
			fmt.Println("session stored")
			return nil
		},
	}
	cmd.Flags().BoolVar(&clear, "clear", false, "remove the stored session")
	return cmd
}

func stubCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "stub",
		Short: "Run a local analysis service for development",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("VERDYCT_JWT_SECRET")
			if secret == "" {
				secret = "dev-secret"
			}
			handler, err := stub.New(stub.Config{JWTSecret: secret})
			if err != nil {
				return err
			}
			token, err := stub.MintToken(secret, "dev-user", 24*time.Hour)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			fmt.Printf("Serving stub analysis API on http://%s\n", addr)
			fmt.Printf("Dev token (verdyct login <token>):\n%s\n", token)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8000", "listen address")
	return cmd
}

// --- helpers ---

type env struct {
	Config  *config.Config
	Store   watch.Store
	Journal *events.Journal
	Gateway session.Gateway
	Client  *api.Client
	Log     *zap.SugaredLogger
}

func withEnv(ctx context.Context, fn func(context.Context, env) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace, File: cfg.Storage.DBFile})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	gw := session.NewFileGateway(tokenPath(workspace, cfg))
	client := api.New(cfg.API.BaseURL, gw)
	client.HTTPClient.Timeout = cfg.APITimeout()
	journal := &events.Journal{DB: conn}
	return fn(ctx, env{
		Config:  cfg,
		Store:   watch.Store{DB: conn},
		Journal: journal,
		Gateway: gw,
		Client:  client,
		Log:     newLogger(),
	})
}

func withController(ctx context.Context, projectID string, fn func(context.Context, *timeline.Controller) error) error {
	return withEnv(ctx, func(ctx context.Context, env env) error {
		c := &timeline.Controller{
			ProjectID: projectID,
			Service:   env.Client,
			Journal:   env.Journal,
			Log:       env.Log,
		}
		if err := c.Load(ctx); err != nil {
			return err
		}
		return fn(ctx, c)
	})
}

func newLogger() *zap.SugaredLogger {
	cfg := zap.NewDevelopmentConfig()
	if !viper.GetBool("verbose") {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return l.Sugar()
}

func tokenPath(workspace string, cfg *config.Config) string {
	p := cfg.Session.TokenFile
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workspace, p)
}

func reportNavigator(baseURL string) notify.Navigator {
	return notify.NavigatorFunc(func(jobID string) error {
		fmt.Printf("Report: %s/projects/%s/report\n", strings.TrimRight(baseURL, "/"), jobID)
		return nil
	})
}

func printToast(ev domain.CompletionEvent) {
	fmt.Printf("Analysis %s resolved: %s (verdyct watch ack to open the report)\n", ev.JobID, ev.Status)
}

// pendingNotification rebuilds the pending toast from the journal: the latest
// resolution that was never activated or dismissed.
func pendingNotification(ctx context.Context, j *events.Journal) (*domain.CompletionEvent, error) {
	entries, err := j.Latest(ctx, 1, events.TypeAnalysisResolved, "")
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	e := entries[0]
	for _, t := range []string{events.TypeNotificationActivated, events.TypeNotificationDismissed} {
		seen, err := j.Seen(ctx, t, e.JobID)
		if err != nil {
			return nil, err
		}
		if seen {
			return nil, nil
		}
	}
	status, _ := e.Payload["status"].(string)
	return &domain.CompletionEvent{JobID: e.JobID, Status: domain.JobStatus(status)}, nil
}

func renderView(c *timeline.Controller) error {
	v, err := c.View()
	if err != nil {
		return err
	}
	if viper.GetBool("json") {
		return printJSON(v)
	}
	switch v.Mode {
	case timeline.ViewOnboarding:
		fmt.Println("Onboarding:")
		for _, m := range v.Messages {
			fmt.Printf("  %s: %s\n", m.Role, m.Content)
		}
	case timeline.ViewStepDetail:
		s := v.Step
		fmt.Printf("Step %d: %s [%s]\n", s.OrderIndex, s.Title, s.Status)
		if s.Description != "" {
			fmt.Println(s.Description)
		}
		if s.Content != "" {
			fmt.Println(s.Content)
		}
	default:
		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"#", "ID", "Title", "Status"})
		for _, s := range v.Steps {
			tw.AppendRow(table.Row{s.OrderIndex, s.ID, s.Title, s.Status})
		}
		tw.Render()
	}
	return nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
