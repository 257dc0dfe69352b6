package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskdesk/internal/access"
	"taskdesk/internal/config"
	"taskdesk/internal/db"
	"taskdesk/internal/domain"
	"taskdesk/internal/engine"
	"taskdesk/internal/filestore"
	"taskdesk/internal/migrate"
	"taskdesk/internal/repo"
	"taskdesk/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "taskdesk",
	Short: "Taskdesk CLI",
	Long: `Taskdesk is a multi-tenant task manager: organizations own departments
and tasks, roles grant permission bundles, and each task carries a dynamic
completion form whose answers (text, choices, numbers, files) are collected
per user. 'taskdesk serve' starts the HTTP API.`,
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
	viper.SetEnvPrefix("TASKDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "local-admin", "actor recorded in the event log")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(adminCmd())
	rootCmd.AddCommand(orgCmd())
	rootCmd.AddCommand(deptCmd())
	rootCmd.AddCommand(roleCmd())
	rootCmd.AddCommand(assignCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(fieldCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(logCmd())
}

func actorID() string { return viper.GetString("actor") }

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.SeedRoles(ctx, "system"); err != nil {
					return err
				}
				if addr == "" {
					addr = e.Config.Server.Addr
				}
				if basePath == "" {
					basePath = e.Config.Server.BasePath
				}
				secret := os.Getenv("TASKDESK_AUTH_JWT_SECRET")
				if secret == "" {
					secret = e.Config.Auth.JWTSecret
				}
				if secret == "" {
					return fmt.Errorf("TASKDESK_AUTH_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{
					Engine:   e,
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: secret, DevLogin: e.Config.Auth.DevLogin},
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(sctx)
				}()
				fmt.Printf("Serving Taskdesk API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
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

// --- admin ---

func adminCmd() *cobra.Command {
	admin := &cobra.Command{Use: "admin", Short: "Administrative bootstrap"}
	admin.AddCommand(adminEnsureCmd())
	return admin
}

func adminEnsureCmd() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "ensure",
		Short: "Create a superuser if none exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, created, err := e.EnsureAdmin(ctx, username)
				if err != nil {
					return err
				}
				if created {
					fmt.Printf("created superuser %s (%s)\n", u.Username, u.ID)
				} else if u.ID != "" {
					fmt.Printf("superuser already present: %s (%s)\n", u.Username, u.ID)
				} else {
					fmt.Println("a superuser already exists")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "admin", "superuser username")
	return cmd
}

// --- organizations ---

func orgCmd() *cobra.Command {
	org := &cobra.Command{Use: "org", Short: "Manage organizations"}
	org.AddCommand(orgCreateCmd(), orgListCmd(), orgShowCmd(), orgDeleteCmd())
	return org
}

func orgCreateCmd() *cobra.Command {
	var name, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.CreateOrganization(ctx, name, desc, actorID())
				if err != nil {
					return err
				}
				return printJSON(o)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "organization name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func orgListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List organizations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListOrganizations(ctx, allScope())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name", "Created")
				for _, o := range items {
					tw.AppendRow(table.Row{o.ID, o.Name, o.CreatedAt})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
}

func orgShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show organization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				o, err := r.GetOrganization(ctx, allScope(), args[0])
				if err != nil {
					return err
				}
				return printJSON(o)
			})
		},
	}
	return cmd
}

func orgDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete organization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteOrganization(ctx, args[0], actorID())
			})
		},
	}
}

// --- departments ---

func deptCmd() *cobra.Command {
	dept := &cobra.Command{Use: "dept", Short: "Manage departments"}
	dept.AddCommand(deptCreateCmd(), deptListCmd(), deptDeleteCmd())
	return dept
}

func deptCreateCmd() *cobra.Command {
	var org, name, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create department",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.CreateDepartment(ctx, domain.Department{
					OrganizationID: org,
					Name:           name,
					Description:    desc,
				}, actorID())
				if err != nil {
					return err
				}
				return printJSON(d)
			})
		},
	}
	cmd.Flags().StringVar(&org, "org", "", "organization id")
	cmd.Flags().StringVar(&name, "name", "", "department name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func deptListCmd() *cobra.Command {
	var org string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List departments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListDepartments(ctx, allScope(), org)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Organization", "Name")
				for _, d := range items {
					tw.AppendRow(table.Row{d.ID, d.OrganizationID, d.Name})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&org, "org", "", "filter by organization id")
	return cmd
}

func deptDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete department",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteDepartment(ctx, args[0], actorID())
			})
		},
	}
}

// --- roles ---

func roleCmd() *cobra.Command {
	role := &cobra.Command{Use: "role", Short: "Manage roles and permissions"}
	role.AddCommand(roleCreateCmd(), roleListCmd(), roleGrantCmd(), roleRevokeCmd(), roleDeleteCmd(), roleSeedCmd())
	return role
}

func roleCreateCmd() *cobra.Command {
	var name, desc string
	var perms []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create role",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				role, err := e.CreateRole(ctx, domain.Role{
					Name:        name,
					Description: desc,
					Permissions: perms,
				}, actorID())
				if err != nil {
					return err
				}
				return printJSON(role)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "role name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringSliceVar(&perms, "perm", nil, "permission key (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func roleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListRoles(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name", "Permissions")
				for _, role := range items {
					tw.AppendRow(table.Row{role.ID, role.Name, strings.Join(role.Permissions, ", ")})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
}

func roleGrantCmd() *cobra.Command {
	var roleID, perm string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a permission key to a role",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.GrantPermission(ctx, roleID, perm, actorID())
			})
		},
	}
	cmd.Flags().StringVar(&roleID, "role", "", "role id")
	cmd.Flags().StringVar(&perm, "perm", "", "permission key (resource.action)")
	_ = cmd.MarkFlagRequired("role")
	_ = cmd.MarkFlagRequired("perm")
	return cmd
}

func roleRevokeCmd() *cobra.Command {
	var roleID, perm string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a permission key from a role",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RevokePermission(ctx, roleID, perm, actorID())
			})
		},
	}
	cmd.Flags().StringVar(&roleID, "role", "", "role id")
	cmd.Flags().StringVar(&perm, "perm", "", "permission key")
	_ = cmd.MarkFlagRequired("role")
	_ = cmd.MarkFlagRequired("perm")
	return cmd
}

func roleDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteRole(ctx, args[0], actorID())
			})
		},
	}
}

func roleSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Apply role bundles from taskdesk.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.SeedRoles(ctx, actorID())
			})
		},
	}
}

// --- assignments ---

func assignCmd() *cobra.Command {
	assign := &cobra.Command{Use: "assign", Short: "Manage role assignments"}
	assign.AddCommand(assignAddCmd(), assignListCmd(), assignRemoveCmd())
	return assign
}

func assignAddCmd() *cobra.Command {
	var user, org, dept, role string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Assign a role to a user in an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a := domain.Assignment{UserID: user, OrganizationID: org, RoleID: role}
				if dept != "" {
					a.DepartmentID = &dept
				}
				created, err := e.AssignRole(ctx, a, actorID())
				if err != nil {
					return err
				}
				return printJSON(created)
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id")
	cmd.Flags().StringVar(&org, "org", "", "organization id")
	cmd.Flags().StringVar(&dept, "dept", "", "department id (optional)")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func assignListCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List role assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAssignments(ctx, allScope(), user)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "User", "Organization", "Department", "Role")
				for _, a := range items {
					dept := ""
					if a.DepartmentID != nil {
						dept = *a.DepartmentID
					}
					tw.AppendRow(table.Row{a.ID, a.UserID, a.OrganizationID, dept, a.RoleID})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "filter by user id")
	return cmd
}

func assignRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a role assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.UnassignRole(ctx, args[0], actorID())
			})
		},
	}
}

// --- users ---

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage users"}
	user.AddCommand(userCreateCmd(), userListCmd(), userDeleteCmd())
	return user
}

func userCreateCmd() *cobra.Command {
	var username, first, last, email, phone string
	var super bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.CreateUser(ctx, domain.User{
					Username:    username,
					FirstName:   first,
					LastName:    last,
					Email:       email,
					PhoneNumber: phone,
					Superuser:   super,
				}, actorID())
				if err != nil {
					return err
				}
				return printJSON(u)
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "username")
	cmd.Flags().StringVar(&first, "first-name", "", "first name")
	cmd.Flags().StringVar(&last, "last-name", "", "last name")
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number")
	cmd.Flags().BoolVar(&super, "superuser", false, "grant the global bypass")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListUsers(ctx, allScope())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Username", "Email", "Superuser")
				for _, u := range items {
					tw.AppendRow(table.Row{u.ID, u.Username, u.Email, u.Superuser})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
}

func userDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteUser(ctx, args[0], actorID())
			})
		},
	}
}

// --- tasks ---

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskCreateCmd(), taskListCmd(), taskShowCmd(), taskDeleteCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var org, name, desc, due string
	var depts, assignees, viewers []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.TaskOptions{
					OrganizationID: org,
					Name:           name,
					Description:    desc,
					DepartmentIDs:  depts,
					AssignedUsers:  assignees,
					Viewers:        viewers,
					ActorID:        actorID(),
				}
				if due != "" {
					opts.DueDate = &due
				}
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&org, "org", "", "organization id")
	cmd.Flags().StringVar(&name, "name", "", "task name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&due, "due", "", "due date (RFC3339)")
	cmd.Flags().StringSliceVar(&depts, "dept", nil, "department id (repeatable)")
	cmd.Flags().StringSliceVar(&assignees, "assignee", nil, "assigned user id (repeatable)")
	cmd.Flags().StringSliceVar(&viewers, "viewer", nil, "viewer user id (repeatable)")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func taskListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListTasks(ctx, allScope())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Organization", "Name", "Assignees", "Viewers")
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.OrganizationID, t.Name, len(t.AssignedUsers), len(t.Viewers)})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show task with its field schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				t, err := r.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				fields, err := r.TaskFields(ctx, t.ID)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"task": t, "fields": fields})
			})
		},
	}
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteTask(ctx, args[0], actorID())
			})
		},
	}
}

// --- output fields ---

func fieldCmd() *cobra.Command {
	field := &cobra.Command{Use: "field", Short: "Manage task output fields"}
	field.AddCommand(fieldAddCmd(), fieldListCmd(), fieldDeleteCmd())
	return field
}

func fieldAddCmd() *cobra.Command {
	var taskID, name, fieldType, options string
	var required bool
	var position int
	var minV, maxV float64
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a field to a task's completion form",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f := domain.OutputField{
					TaskID:    taskID,
					Name:      name,
					FieldType: fieldType,
					Required:  required,
					Options:   options,
					Position:  position,
				}
				if cmd.Flags().Changed("min") {
					f.MinValue = &minV
				}
				if cmd.Flags().Changed("max") {
					f.MaxValue = &maxV
				}
				created, err := e.CreateOutputField(ctx, f, actorID())
				if err != nil {
					return err
				}
				return printJSON(created)
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task id")
	cmd.Flags().StringVar(&name, "name", "", "field name")
	cmd.Flags().StringVar(&fieldType, "type", "text", "field type (text|radio|checkbox|yesno|number|file)")
	cmd.Flags().BoolVar(&required, "required", false, "field is required")
	cmd.Flags().StringVar(&options, "options", "", "comma-separated options for choice fields")
	cmd.Flags().IntVar(&position, "position", 0, "position in the form")
	cmd.Flags().Float64Var(&minV, "min", 0, "minimum value for number fields")
	cmd.Flags().Float64Var(&maxV, "max", 0, "maximum value for number fields")
	_ = cmd.MarkFlagRequired("task")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func fieldListCmd() *cobra.Command {
	var taskID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a task's output fields",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.TaskFields(ctx, taskID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name", "Type", "Required", "Options")
				for _, f := range items {
					tw.AppendRow(table.Row{f.ID, f.Name, f.FieldType, f.Required, f.Options})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task id")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

func fieldDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete output field",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteOutputField(ctx, args[0], actorID())
			})
		},
	}
}

// --- api keys ---

func apikeyCmd() *cobra.Command {
	apikey := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	apikey.AddCommand(apikeyCreateCmd(), apikeyListCmd(), apikeyRevokeCmd())
	return apikey
}

func apikeyCreateCmd() *cobra.Command {
	var user, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for a user (secret shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, secret, err := e.CreateAPIKey(ctx, user, name)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"id": key.ID, "key": secret})
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, user)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "User", "Name", "Created")
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.UserID, k.Name, k.CreatedAt})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "filter by user id")
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

// --- token ---

func tokenCmd() *cobra.Command {
	var user string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("TASKDESK_AUTH_JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("TASKDESK_AUTH_JWT_SECRET is required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				u, err := r.GetUserByUsername(ctx, user)
				if err != nil {
					return err
				}
				token, err := server.SignToken(secret, u.ID, u.Superuser, ttl)
				if err != nil {
					return err
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "username")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// --- log ---

func logCmd() *cobra.Command {
	logc := &cobra.Command{Use: "log", Short: "Event log"}
	logc.AddCommand(logTailCmd())
	return logc
}

func logTailCmd() *cobra.Command {
	var n int
	var org, evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, org, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable("TS", "Type", "Entity", "Actor")
				for _, e := range events {
					tw.AppendRow(table.Row{e.TS, e.Type, e.EntityKind + "/" + e.EntityID, e.ActorID})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&org, "org", "", "organization filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

// --- helpers ---

func openEngine(ctx context.Context) (engine.Engine, func(), error) {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return engine.Engine{}, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return engine.Engine{}, nil, err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		conn.Close()
		return engine.Engine{}, nil, err
	}
	files := filestore.Store{Root: cfg.Storage.Root}
	return engine.New(conn, cfg, files), func() { conn.Close() }, nil
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	e, closeFn, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		return fn(ctx, e.Repo)
	})
}

func allScope() access.Scope { return access.Scope{All: true} }

func newTable(cols ...any) table.Writer {
	tw := table.NewWriter()
	tw.AppendHeader(table.Row(cols))
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
