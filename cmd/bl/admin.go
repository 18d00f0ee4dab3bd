package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"unicode/utf8"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"brandline/internal/app"
	"brandline/internal/domain"
	"brandline/internal/engine"
	"brandline/internal/importer"
)

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage staff (admin)"}
	user.AddCommand(userAddCmd())
	user.AddCommand(userListCmd())
	user.AddCommand(userKeyCmd())
	user.AddCommand(userActivateCmd())
	return user
}

func userAddCmd() *cobra.Command {
	var u domain.User
	var role string
	var inactive bool
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			u.Role = domain.Role(role)
			u.Active = !inactive
			return runAsActor(cmd, func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				created, err := rt.Engine.CreateUser(ctx, actor, u)
				if err != nil {
					return err
				}
				return printJSONOrTable([]domain.User{created})
			})
		},
	}
	cmd.Flags().StringVar(&u.ID, "id", "", "user id")
	cmd.Flags().StringVar(&u.Name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "user-role", "", "operator, checker, lawyer or admin")
	cmd.Flags().Int64Var(&u.ChatID, "chat-id", 0, "Telegram chat id for personal notifications")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "register without assignment eligibility")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("user-role")
	return cmd
}

func userListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsActor(cmd, func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				users, err := rt.Engine.ListUsers(ctx, actor, domain.Role(role))
				if err != nil {
					return err
				}
				return printJSONOrTable(users)
			})
		},
	}
	cmd.Flags().StringVar(&role, "user-role", "", "filter by role")
	return cmd
}

func userKeyCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "key <user-id>",
		Short: "Issue an API key; the plaintext is printed once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsActor(cmd, func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				plain, key, err := rt.Engine.IssueAPIKey(ctx, actor, args[0], name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"key": plain, "api_key": key})
				}
				fmt.Printf("key %s for %s:\n%s\n", key.ID, key.UserID, plain)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "label for the key")
	return cmd
}

func userActivateCmd() *cobra.Command {
	var off bool
	cmd := &cobra.Command{
		Use:   "activate <user-id>",
		Short: "Make a user eligible for assignment (--off to disable)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsActor(cmd, func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				return rt.Engine.SetUserActive(ctx, actor, args[0], !off)
			})
		},
	}
	cmd.Flags().BoolVar(&off, "off", false, "deactivate instead")
	return cmd
}

func importCmd() *cobra.Command {
	imp := &cobra.Command{Use: "import", Short: "Bulk create jobs"}
	var comma string
	csvCmd := &cobra.Command{
		Use:   "csv <file>",
		Short: "Create one job per CSV row (columns: client_name, client_surname, phone, brand_name, person_type, operator_id)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sep, size := utf8.DecodeRuneInString(comma)
			if size != len(comma) {
				return fmt.Errorf("--comma must be a single character")
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return runAsActor(cmd, func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				report, err := importer.CSV{Jobs: rt.Engine, Actor: actor, Comma: sep}.Import(ctx, f)
				if perr := printJSONOrTable(report); perr != nil {
					return perr
				}
				return err
			})
		},
	}
	csvCmd.Flags().StringVar(&comma, "comma", ",", "field separator")
	imp.AddCommand(csvCmd)
	return imp
}

func reportCmd() *cobra.Command {
	rep := &cobra.Command{Use: "report", Short: "Admin reports"}
	var from, to string
	completed := &cobra.Command{
		Use:   "completed",
		Short: "Completed jobs for payroll",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsActor(cmd, func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				items, err := rt.Engine.ListCompleted(ctx, actor, from, to)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	completed.Flags().StringVar(&from, "from", "", "RFC3339 lower bound on completion time")
	completed.Flags().StringVar(&to, "to", "", "RFC3339 upper bound on completion time")
	status := &cobra.Command{
		Use:   "status",
		Short: "Job counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsActor(cmd, func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				counts, err := rt.Engine.StatusCounts(ctx, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(counts)
			})
		},
	}
	rep.AddCommand(completed, status)
	return rep
}

func printResult(res engine.Result) error {
	if viper.GetBool("json") {
		return printJSON(map[string]any{"job": res.Job, "entry": res.Entry})
	}
	return printJSONOrTable(res.Job)
}

// printJSONOrTable renders known types as tables and falls back to JSON.
func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	switch items := v.(type) {
	case domain.Job:
		tw.AppendHeader(table.Row{"Field", "Value"})
		tw.AppendRows([]table.Row{
			{"ID", items.ID},
			{"Status", items.Status},
			{"Client", items.ClientName + " " + items.ClientSurname},
			{"Phone", items.Phone},
			{"Brand", items.BrandName},
			{"Person type", items.PersonType},
			{"Operator", items.OperatorID},
			{"Checker", deref(items.CheckerID)},
			{"Lawyer", deref(items.LawyerID)},
			{"Files", len(items.Documents.Files)},
			{"Certificates", len(items.Certificates)},
			{"Archived", items.Archived},
			{"Version", items.Version},
			{"Updated", items.UpdatedAt},
		})
	case []domain.Job:
		tw.AppendHeader(table.Row{"ID", "Status", "Client", "Brand", "Operator", "Checker", "Lawyer", "Updated"})
		for _, j := range items {
			tw.AppendRow(table.Row{j.ID, j.Status, j.ClientName + " " + j.ClientSurname, j.BrandName, j.OperatorID, deref(j.CheckerID), deref(j.LawyerID), j.UpdatedAt})
		}
	case []domain.HistoryEntry:
		tw.AppendHeader(table.Row{"#", "At", "Action", "Status", "Actor", "Role", "Reason"})
		for _, h := range items {
			tw.AppendRow(table.Row{h.ID, h.At, h.Action, h.Status, h.ActorID, h.ActorRole, h.Reason})
		}
	case []domain.User:
		tw.AppendHeader(table.Row{"ID", "Name", "Role", "Active", "Chat"})
		for _, u := range items {
			tw.AppendRow(table.Row{u.ID, u.Name, u.Role, u.Active, u.ChatID})
		}
	case []domain.CompletedJob:
		tw.AppendHeader(table.Row{"Job", "Brand", "Operator", "Checker", "Lawyer", "Created", "Completed"})
		for _, c := range items {
			tw.AppendRow(table.Row{c.JobID, c.BrandName, c.OperatorID, deref(c.CheckerID), deref(c.LawyerID), c.CreatedAt, c.CompletedAt})
		}
	case map[string]int:
		tw.AppendHeader(table.Row{"Status", "Jobs"})
		keys := make([]string, 0, len(items))
		for k := range items {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			tw.AppendRow(table.Row{k, items[k]})
		}
	case importer.Report:
		tw.AppendHeader(table.Row{"Line", "Error"})
		for _, e := range items.Errors {
			tw.AppendRow(table.Row{e.Line, e.Err})
		}
		tw.AppendFooter(table.Row{"created", len(items.Created)})
	default:
		return printJSON(v)
	}
	tw.Render()
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
