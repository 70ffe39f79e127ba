package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"trackifyr/internal/app"
	"trackifyr/internal/domain"
	"trackifyr/internal/engine"
	"trackifyr/internal/server"
	"trackifyr/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "tk",
	Short: "Trackifyr CLI",
	Long: `Trackifyr tracks projects, milestones, and tasks with dependency locks.
- Project: owns milestones; names are unique across the workspace.
- Milestone: owns tasks; names are unique within its project.
- Task: pending or complete; may depend on one other task anywhere.
- Lock: a task with an incomplete dependency cannot be completed.
- Completion is permanent: there is no way back to pending.`,
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
	viper.SetEnvPrefix("TRACKIFYR")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(milestoneCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(progressCmd())
	rootCmd.AddCommand(themeCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- project commands ---

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectAddCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(projectUseCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				items := s.Engine.Projects()
				if viper.GetBool("json") {
					return printJSON(items)
				}
				sel := s.Engine.Selection()
				t := newTable("ID", "NAME", "MILESTONES", "PROGRESS", "ACTIVE")
				for _, p := range items {
					pr := engine.ComputeProgress(p)
					active := ""
					if p.ID == sel.ProjectID {
						active = "*"
					}
					t.AppendRow(table.Row{p.ID, p.Name, len(p.Milestones), fmt.Sprintf("%d%%", pr.ProgressPercentage), active})
				}
				fmt.Println(t.Render())
				return nil
			})
		},
	}
}

func projectAddCmd() *cobra.Command {
	var name, desc string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				p, err := s.Engine.AddProject(ctx, name, desc)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Show a project (active project when no id given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				var p domain.Project
				var ok bool
				if len(args) == 1 {
					p, ok = s.Engine.FindProject(args[0])
				} else {
					p, ok = s.Engine.ActiveProject()
				}
				if !ok {
					return fmt.Errorf("project: %w", engine.ErrNotFound)
				}
				return printJSON(p)
			})
		},
	}
}

func projectUpdateCmd() *cobra.Command {
	var name, desc string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				var upd engine.ProjectUpdate
				if cmd.Flags().Changed("name") {
					upd.Name = &name
				}
				if cmd.Flags().Changed("description") {
					upd.Description = &desc
				}
				p, err := s.Engine.UpdateProject(ctx, args[0], upd)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a project and everything it owns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				return s.Engine.DeleteProject(ctx, args[0])
			})
		},
	}
}

func projectUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <id>",
		Short: "Select the active project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				if err := s.Engine.SetActiveProject(ctx, args[0]); err != nil {
					return err
				}
				return printJSON(s.Engine.Selection())
			})
		},
	}
}

// --- milestone commands ---

func milestoneCmd() *cobra.Command {
	ms := &cobra.Command{Use: "milestone", Short: "Manage milestones"}
	ms.AddCommand(milestoneListCmd())
	ms.AddCommand(milestoneAddCmd())
	ms.AddCommand(milestoneUpdateCmd())
	ms.AddCommand(milestoneDeleteCmd())
	ms.AddCommand(milestoneUseCmd())
	return ms
}

func milestoneListCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List milestones of a project (active project by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				p, ok := resolveProject(s.Engine, projectID)
				if !ok {
					return fmt.Errorf("project: %w", engine.ErrNotFound)
				}
				if viper.GetBool("json") {
					return printJSON(p.Milestones)
				}
				sel := s.Engine.Selection()
				t := newTable("ID", "NAME", "TASKS", "ACTIVE")
				for _, m := range p.Milestones {
					active := ""
					if m.ID == sel.MilestoneID {
						active = "*"
					}
					t.AppendRow(table.Row{m.ID, m.Name, len(m.Tasks), active})
				}
				fmt.Println(t.Render())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id (default: active)")
	return cmd
}

func milestoneAddCmd() *cobra.Command {
	var projectID, name, desc string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a milestone to a project (active project by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				p, ok := resolveProject(s.Engine, projectID)
				if !ok {
					return fmt.Errorf("project: %w", engine.ErrNotFound)
				}
				m, err := s.Engine.AddMilestone(ctx, p.ID, name, desc)
				if err != nil {
					return err
				}
				return printJSON(m)
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id (default: active)")
	cmd.Flags().StringVar(&name, "name", "", "milestone name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func milestoneUpdateCmd() *cobra.Command {
	var name, desc string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a milestone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				var upd engine.MilestoneUpdate
				if cmd.Flags().Changed("name") {
					upd.Name = &name
				}
				if cmd.Flags().Changed("description") {
					upd.Description = &desc
				}
				m, err := s.Engine.UpdateMilestone(ctx, args[0], upd)
				if err != nil {
					return err
				}
				return printJSON(m)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "milestone name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	return cmd
}

func milestoneDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a milestone and its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				return s.Engine.DeleteMilestone(ctx, args[0])
			})
		},
	}
}

func milestoneUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <id>",
		Short: "Select the active milestone within the active project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				if err := s.Engine.SetActiveMilestone(args[0]); err != nil {
					return err
				}
				return printJSON(s.Engine.Selection())
			})
		},
	}
}

// --- task commands ---

func taskCmd() *cobra.Command {
	tk := &cobra.Command{Use: "task", Short: "Manage tasks"}
	tk.AddCommand(taskListCmd())
	tk.AddCommand(taskAddCmd())
	tk.AddCommand(taskShowCmd())
	tk.AddCommand(taskUpdateCmd())
	tk.AddCommand(taskDeleteCmd())
	tk.AddCommand(taskToggleCmd())
	tk.AddCommand(taskChainCmd())
	return tk
}

func taskListCmd() *cobra.Command {
	var milestoneID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks of a milestone (active milestone by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				m, ok := resolveMilestone(s.Engine, milestoneID)
				if !ok {
					return fmt.Errorf("milestone: %w", engine.ErrNotFound)
				}
				if viper.GetBool("json") {
					return printJSON(m.Tasks)
				}
				t := newTable("ID", "NAME", "STATUS", "DEPENDS ON", "LOCKED")
				for _, tk := range m.Tasks {
					locked, _ := s.Engine.IsLocked(tk.ID)
					dep := ""
					if tk.DependencyID != nil {
						dep = *tk.DependencyID
					}
					t.AppendRow(table.Row{tk.ID, tk.Name, tk.Status, dep, locked})
				}
				fmt.Println(t.Render())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&milestoneID, "milestone", "", "milestone id (default: active)")
	return cmd
}

func taskAddCmd() *cobra.Command {
	var milestoneID, name, desc, dependency string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a task to a milestone (active milestone by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				m, ok := resolveMilestone(s.Engine, milestoneID)
				if !ok {
					return fmt.Errorf("milestone: %w", engine.ErrNotFound)
				}
				opts := engine.TaskCreateOptions{Name: name, Description: desc}
				if dependency != "" {
					opts.DependencyID = &dependency
				}
				t, err := s.Engine.AddTask(ctx, m.ID, opts)
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&milestoneID, "milestone", "", "milestone id (default: active)")
	cmd.Flags().StringVar(&name, "name", "", "task name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&dependency, "depends-on", "", "id of the task this one depends on")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task with its ancestors and lock state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				t, m, p, ok := s.Engine.FindTask(args[0])
				if !ok {
					return fmt.Errorf("task %s: %w", args[0], engine.ErrNotFound)
				}
				locked, _ := s.Engine.IsLocked(t.ID)
				return printJSON(map[string]any{
					"task":         t,
					"milestone_id": m.ID,
					"project_id":   p.ID,
					"locked":       locked,
					"dependent":    s.Engine.IsDependent(t.ID),
				})
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var name, desc, status, dependency string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				var opts engine.TaskUpdateOptions
				if cmd.Flags().Changed("name") {
					opts.Name = &name
				}
				if cmd.Flags().Changed("description") {
					opts.Description = &desc
				}
				if cmd.Flags().Changed("status") {
					st := domain.TaskStatus(status)
					opts.Status = &st
				}
				if cmd.Flags().Changed("depends-on") {
					// --depends-on "" clears the dependency
					opts.DependencyID = &dependency
				}
				t, err := s.Engine.UpdateTask(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "task name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "status (pending, complete)")
	cmd.Flags().StringVar(&dependency, "depends-on", "", "id of the task this one depends on (empty clears)")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task and clear dependencies on it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				if !force && s.Engine.IsDependent(args[0]) {
					return fmt.Errorf("task %s is a dependency for other tasks; re-run with --force to delete and clear the links", args[0])
				}
				return s.Engine.DeleteTask(ctx, args[0])
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "delete even when other tasks depend on this one")
	return cmd
}

func taskToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <id>",
		Short: "Mark a task complete unless locked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				res, err := s.Engine.ToggleTaskComplete(ctx, args[0])
				if err != nil {
					return err
				}
				switch res.Outcome {
				case engine.OutcomeLocked:
					fmt.Println("locked: complete the dependency first (tk task chain", args[0]+")")
				case engine.OutcomeAlreadyComplete:
					fmt.Println("already complete")
				case engine.OutcomeComplete:
					fmt.Printf("complete (%d%% of project done)\n", res.Progress.ProgressPercentage)
					if res.Progress.ProgressPercentage == 100 {
						fmt.Println("project complete!")
					}
				}
				return nil
			})
		},
	}
}

func taskChainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chain <id>",
		Short: "Show the dependency chain, root first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				chain, err := s.Engine.DependencyChain(args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(chain)
				}
				t := newTable("#", "ID", "NAME", "STATUS", "CURRENT")
				for i, c := range chain {
					cur := ""
					if c.IsCurrent {
						cur = "*"
					}
					t.AppendRow(table.Row{i + 1, c.ID, c.Name, c.Status, cur})
				}
				fmt.Println(t.Render())
				return nil
			})
		},
	}
}

// --- misc commands ---

func progressCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Show project progress (active project by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				p, ok := resolveProject(s.Engine, projectID)
				if !ok {
					return fmt.Errorf("project: %w", engine.ErrNotFound)
				}
				pr := engine.ComputeProgress(p)
				if viper.GetBool("json") {
					return printJSON(pr)
				}
				fmt.Printf("%s: %d/%d tasks complete (%d%%)\n", p.Name, pr.CompletedTasks, pr.TotalTasks, pr.ProgressPercentage)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id (default: active)")
	return cmd
}

func themeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "theme [dark|light]",
		Short: "Get or set the persisted theme",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				if len(args) == 0 {
					fmt.Println(store.LoadTheme(ctx, s.Store, "dark"))
					return nil
				}
				theme := args[0]
				if theme != "dark" && theme != "light" {
					return fmt.Errorf("invalid theme %q (dark or light)", theme)
				}
				return store.SaveTheme(ctx, s.Store, theme)
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Audit event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				items, err := s.Events.Latest(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable("TS", "TYPE", "ENTITY", "ID")
				for _, e := range items {
					t.AppendRow(table.Row{e.TS, e.Type, e.EntityKind, e.EntityID})
				}
				fmt.Println(t.Render())
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withSession(ctx, func(ctx context.Context, s *app.Session) error {
				if addr == "" {
					addr = s.Config.Server.Addr
				}
				if basePath == "" {
					basePath = s.Config.Server.BasePath
				}
				handler, err := server.New(server.Config{
					Engine:   s.Engine,
					Events:   s.Events,
					Store:    s.Store,
					BasePath: basePath,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				log.Info("serving Trackifyr API", "addr", addr, "base_path", basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

// --- helpers ---

func withSession(ctx context.Context, fn func(context.Context, *app.Session) error) error {
	s, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

// resolveProject falls back to the active project when id is empty.
func resolveProject(e *engine.Engine, id string) (domain.Project, bool) {
	if id == "" {
		return e.ActiveProject()
	}
	return e.FindProject(id)
}

func resolveMilestone(e *engine.Engine, id string) (domain.Milestone, bool) {
	if id == "" {
		return e.ActiveMilestone()
	}
	m, _, ok := e.FindMilestone(id)
	return m, ok
}

func newTable(headers ...any) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row(headers))
	return t
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
