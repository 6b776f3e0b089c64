package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"siteline/internal/app"
	"siteline/internal/config"
	"siteline/internal/db"
	"siteline/internal/domain"
	"siteline/internal/engine"
	"siteline/internal/migrate"
	"siteline/internal/repo"
	"siteline/internal/server"
	"siteline/internal/workflow"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Siteline CLI",
	Long: `Siteline tracks construction-site quality and compliance records.
Core concepts:
- Workspace: the .siteline directory with the database; configs live in the DB and are imported explicitly.
- Records: three kinds with their own lifecycles. Observations (nonconformities) pass opening approval, data entry, and closing approval; trainings are planned, executed, and approved; maintenance tasks flow open -> in_progress -> pending_approval -> closed.
- Report numbers: each record gets a per-project sequential number like NO-006, never reused.
- Capabilities: per-project flags (observation.approver, task.access, ...) that gate who may take each action; admins and project owners bypass them.
- Pending: 'sl pending' lists the records currently waiting on you, derived from status and capabilities.
- Closure: closing a record on or before its planned close date counts as on time, after it as late.
- Event log: diary of changes, view with 'sl log tail'.`,
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
	viper.SetEnvPrefix("SITELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(recordCmd())
	rootCmd.AddCommand(pendingCmd())
	rootCmd.AddCommand(memberCmd())
	rootCmd.AddCommand(roleCmd())
	rootCmd.AddCommand(seqCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectConfigCmd())
	prj.AddCommand(projectUseCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func projectCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg := config.Default(id)
			e := engine.New(conn, cfg)
			p, err := e.InitProject(cmd.Context(), id, name, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			return printJSONOrTable(p)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				p, err := e.Repo.GetProject(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <id>",
		Short: "Set current project for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := strings.TrimSpace(args[0])
			if projectID == "" {
				return fmt.Errorf("project id is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), "SITELINE_DEFAULT_PROJECT", projectID); err != nil {
				return err
			}
			fmt.Printf("Set SITELINE_DEFAULT_PROJECT=%s in %s/.env\n", projectID, workspace)
			return nil
		},
	}
}

func projectConfigCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage project config",
	}
	cfg.AddCommand(projectConfigShowCmd())
	cfg.AddCommand(projectConfigImportCmd())
	return cfg
}

func projectConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show project config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
}

func projectConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import project config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			projectID := cfg.Project.ID
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if projectID == "" {
					projectID = e.Config.Project.ID
				}
				if err := e.Repo.UpsertProjectConfig(ctx, projectID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect project config",
		Long:  "Config is the rulebook (stored in DB): project id/kind, report-number prefixes per record kind, and the capability catalog.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.Config.Validate()
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show project status",
		Long:  "The scoreboard for your project: record counts per kind and status, and your pending tally.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				projectID := e.Config.Project.ID
				p, err := e.Repo.GetProject(ctx, projectID)
				if err != nil {
					return err
				}
				kindCounts := map[string]map[string]int{}
				for _, kind := range domain.Kinds() {
					counts, err := e.Repo.CountRecordsByStatus(ctx, projectID, kind)
					if err != nil {
						return err
					}
					kindCounts[string(kind)] = counts
				}
				pending, err := e.PendingCounts(ctx, projectID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"project_id": p.ID,
						"status":     p.Status,
						"records":    kindCounts,
						"pending":    pending,
					})
				}
				fmt.Printf("Project: %s (%s)\n", p.ID, p.Status)
				for _, kind := range domain.Kinds() {
					fmt.Printf("%s:\n", kind)
					for status, c := range kindCounts[string(kind)] {
						fmt.Printf("  %s: %d\n", status, c)
					}
				}
				fmt.Println("Pending for you:")
				for _, kind := range domain.Kinds() {
					fmt.Printf("  %s: %d\n", kind, pending[kind])
				}
				return nil
			})
		},
	}
}

func recordCmd() *cobra.Command {
	rec := &cobra.Command{
		Use:   "record",
		Short: "Manage records",
		Long:  "Records are the site's quality paper trail: nonconformity observations, field trainings, and maintenance tasks. Each moves through its own approval lifecycle and carries a sequential report number.",
	}
	rec.AddCommand(recordCreateCmd())
	rec.AddCommand(recordListCmd())
	rec.AddCommand(recordShowCmd())
	rec.AddCommand(recordTransitionCmd())
	rec.AddCommand(recordActionsCmd())
	rec.AddCommand(recordWorklogCmd())
	return rec
}

func recordCreateCmd() *cobra.Command {
	var kind, title, description, organizer, plannedClose string
	var assignees []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a record",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				rec, err := e.CreateRecord(ctx, engine.CreateOptions{
					ProjectID:        e.Config.Project.ID,
					Kind:             domain.RecordKind(kind),
					Title:            title,
					Description:      description,
					ActorID:          viper.GetString("actor-id"),
					OrganizerActorID: organizer,
					AssignedActorIDs: assignees,
					PlannedCloseDate: plannedClose,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "record kind (observation, training, task)")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&organizer, "organizer", "", "organizer actor id (training only, defaults to creator)")
	cmd.Flags().StringArrayVar(&assignees, "assign", []string{}, "assigned actor id (repeatable, max 2)")
	cmd.Flags().StringVar(&plannedClose, "planned-close", "", "planned close date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func recordListCmd() *cobra.Command {
	var kind, status, assignee string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				records, err := e.ListRecords(ctx, repo.RecordFilters{
					ProjectID:  e.Config.Project.ID,
					Kind:       domain.RecordKind(kind),
					Status:     status,
					AssigneeID: assignee,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(records)
				}
				renderRecordTable(records)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "kind filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee filter")
	return cmd
}

func recordShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				rec, err := e.GetRecord(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
}

func recordTransitionCmd() *cobra.Command {
	var action, description, reason string
	cmd := &cobra.Command{
		Use:   "transition <id>",
		Short: "Apply a lifecycle action to a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				rec, err := e.Transition(ctx, engine.TransitionOptions{
					RecordID:    id,
					Action:      workflow.Action(action),
					ActorID:     viper.GetString("actor-id"),
					Description: description,
					Reason:      reason,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "action (start, submit_work, approve, reject, execute, cancel, submit_data, request_close)")
	cmd.Flags().StringVar(&description, "description", "", "work description (required by submit actions)")
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason (required by reject)")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func recordActionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "actions <id>",
		Short: "List actions you may take on a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				actions, err := e.Actions(ctx, id, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(actions)
			})
		},
	}
}

func recordWorklogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worklog <id>",
		Short: "Show record work log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				entries, err := e.WorkLog(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Actor", "Kind", "Body"})
				for _, entry := range entries {
					tw.AppendRow(table.Row{entry.CreatedAt, entry.ActorID, entry.Kind, entry.Body})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func pendingCmd() *cobra.Command {
	var counts bool
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Records awaiting your action",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				actorID := viper.GetString("actor-id")
				if counts {
					tally, err := e.PendingCounts(ctx, e.Config.Project.ID, actorID)
					if err != nil {
						return err
					}
					return printJSONOrTable(tally)
				}
				records, err := e.ListPendingFor(ctx, e.Config.Project.ID, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(records)
				}
				renderRecordTable(records)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&counts, "counts", false, "show per-kind tally instead of the list")
	return cmd
}

func memberCmd() *cobra.Command {
	mem := &cobra.Command{
		Use:   "member",
		Short: "Manage project members and capabilities",
	}
	mem.AddCommand(memberListCmd())
	mem.AddCommand(memberAddCmd())
	mem.AddCommand(memberRemoveCmd())
	mem.AddCommand(memberGrantCmd())
	mem.AddCommand(memberRevokeCmd())
	return mem
}

func memberListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List project members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.ListMemberships(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Actor", "Owner", "Capabilities"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.ActorID, m.ProjectOwner, strings.Join(m.Capabilities, ", ")})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func memberAddCmd() *cobra.Command {
	var target string
	var owner bool
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a project member",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				m, err := e.AddMember(ctx, e.Config.Project.ID, target, owner, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().BoolVar(&owner, "owner", false, "project owner")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func memberRemoveCmd() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a project member",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.RemoveMember(ctx, e.Config.Project.ID, target, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func memberGrantCmd() *cobra.Command {
	var target, capability string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a capability flag",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if err := e.GrantCapability(ctx, e.Config.Project.ID, target, capability, viper.GetString("actor-id")); err != nil {
					return err
				}
				m, err := e.Repo.GetMembership(ctx, e.Config.Project.ID, target)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&capability, "capability", "", "capability flag")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("capability")
	return cmd
}

func memberRevokeCmd() *cobra.Command {
	var target, capability string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a capability flag",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.RevokeCapability(ctx, e.Config.Project.ID, target, capability, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&capability, "capability", "", "capability flag")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("capability")
	return cmd
}

func roleCmd() *cobra.Command {
	parent := &cobra.Command{
		Use:   "role",
		Short: "Global actor roles",
	}
	var target, role string
	set := &cobra.Command{
		Use:   "set",
		Short: "Set an actor's global role",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.SetGlobalRole(ctx, target, role)
			})
		},
	}
	set.Flags().StringVar(&target, "actor", "", "actor id")
	set.Flags().StringVar(&role, "role", "", "global role (user, admin, super_admin)")
	_ = set.MarkFlagRequired("actor")
	_ = set.MarkFlagRequired("role")
	parent.AddCommand(set)
	return parent
}

func seqCmd() *cobra.Command {
	seq := &cobra.Command{
		Use:   "seq",
		Short: "Report-number sequences",
	}
	seq.AddCommand(seqShowCmd())
	seq.AddCommand(seqPrefixCmd())
	return seq
}

func seqShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show sequence counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.ListSequenceCounters(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func seqPrefixCmd() *cobra.Command {
	var kind, prefix string
	cmd := &cobra.Command{
		Use:   "set-prefix",
		Short: "Set the report-number prefix for a kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			k := domain.RecordKind(kind)
			if !k.Valid() {
				return fmt.Errorf("unknown record kind %q", kind)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.Repo.SetSequencePrefix(ctx, e.Config.Project.ID, k, prefix)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "record kind")
	cmd.Flags().StringVar(&prefix, "prefix", "", "prefix, e.g. NO")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("prefix")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: record creations, transitions, membership changes.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Project.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyDeleteCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				secret := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
				key := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   viper.GetString("actor-id"),
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := r.EnsureActorTx(ctx, tx, key.ActorID, "", key.CreatedAt); err != nil {
					return err
				}
				if err := r.InsertAPIKey(ctx, tx, key); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				// The secret is printed once and only the hash is stored.
				return printJSONOrTable(map[string]string{
					"id":    key.ID,
					"actor": key.ActorID,
					"key":   secret,
				})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func apikeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveProjectAndConfig(cmd.Context(), viper.GetString("project"), viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("SITELINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("SITELINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Siteline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveProjectAndConfig(ctx, viper.GetString("project"), viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func renderRecordTable(records []domain.Record) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Report", "Kind", "Title", "Status", "Assignees", "Planned Close"})
	for _, rec := range records {
		planned := ""
		if rec.PlannedCloseDate != nil {
			planned = *rec.PlannedCloseDate
		}
		tw.AppendRow(table.Row{
			rec.ReportNumber, rec.Kind, rec.Title, rec.Status,
			strings.Join(rec.AssignedActorIDs, ", "), planned,
		})
	}
	tw.Render()
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

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
