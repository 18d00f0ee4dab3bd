package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"brandline/internal/app"
	"brandline/internal/domain"
	"brandline/internal/engine"
)

func jobCmd() *cobra.Command {
	job := &cobra.Command{Use: "job", Short: "Create, inspect and move jobs"}
	job.AddCommand(jobCreateCmd())
	job.AddCommand(jobListCmd())
	job.AddCommand(jobShowCmd())
	job.AddCommand(jobHistoryCmd())
	job.AddCommand(jobFileCmd())
	job.AddCommand(jobStartCmd())
	job.AddCommand(jobSendForReviewCmd())
	job.AddCommand(jobReviewCmd("review-brand", "Approve or reject the brand (checker)", func(e engine.Engine) reviewFunc { return e.ReviewBrand }))
	job.AddCommand(jobSubmitDocumentsCmd())
	job.AddCommand(jobReviewCmd("review-documents", "Approve documents and send to a lawyer, or return them (checker)", func(e engine.Engine) reviewFunc { return e.ReviewDocuments }))
	job.AddCommand(jobAcceptCmd())
	job.AddCommand(jobCompleteCmd())
	job.AddCommand(jobArchiveCmd())
	job.AddCommand(jobForceStatusCmd())
	return job
}

func parseJobID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid job id %q", arg)
	}
	return id, nil
}

// runAsActor opens the workspace and runs fn as the --actor/--role identity.
func runAsActor(cmd *cobra.Command, fn func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error) error {
	actor, err := currentActor()
	if err != nil {
		return err
	}
	return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
		return fn(ctx, rt, actor)
	})
}

// transitionCmd builds a `job <use> <id>` command whose RunE commits one transition.
func transitionCmd(use, short string, run func(ctx context.Context, e engine.Engine, actor domain.Actor, id int64, expected domain.Status) (engine.Result, error)) *cobra.Command {
	var expected string
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return runAsActor(cmd, func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				res, err := run(ctx, rt.Engine, actor, id, domain.Status(expected))
				if err != nil {
					return err
				}
				return printResult(res)
			})
		},
	}
	cmd.Flags().StringVar(&expected, "expect", "", "fail with a conflict unless the job is in this status")
	return cmd
}

func jobCreateCmd() *cobra.Command {
	var req engine.CreateJobRequest
	var personType string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new client job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsActor(cmd, func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				req.Actor = actor
				req.PersonType = domain.PersonType(personType)
				job, err := rt.Engine.CreateJob(ctx, req)
				if err != nil {
					return err
				}
				return printJSONOrTable(job)
			})
		},
	}
	cmd.Flags().StringVar(&req.ClientName, "client-name", "", "client first name")
	cmd.Flags().StringVar(&req.ClientSurname, "client-surname", "", "client surname")
	cmd.Flags().StringVar(&req.Phone, "phone", "", "client phone, e.g. +998901112233")
	cmd.Flags().StringVar(&req.BrandName, "brand", "", "brand name")
	cmd.Flags().StringVar(&personType, "person-type", string(domain.PersonIndividual), "individual or legal-entity")
	cmd.Flags().StringVar(&req.OperatorID, "operator", "", "owning operator (admin only)")
	_ = cmd.MarkFlagRequired("phone")
	return cmd
}

func jobListCmd() *cobra.Command {
	var opts engine.ListOptions
	var status, role, archived string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs visible to the actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Status = domain.Status(status)
			opts.Role = domain.Role(role)
			switch archived {
			case "":
			case "true", "false":
				v := archived == "true"
				opts.Archived = &v
			default:
				return fmt.Errorf("--archived must be true or false")
			}
			return runAsActor(cmd, func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				jobs, next, err := rt.Engine.ListJobs(ctx, actor, opts)
				if err != nil {
					return err
				}
				if err := printJSONOrTable(jobs); err != nil {
					return err
				}
				if next != 0 {
					fmt.Fprintf(os.Stderr, "more: --cursor %d\n", next)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&opts.Search, "search", "", "match client name, surname, phone or brand")
	cmd.Flags().StringVar(&archived, "archived", "", "true or false")
	cmd.Flags().StringVar(&role, "for-role", "", "admin: scope to a role's queue (with --for-user)")
	cmd.Flags().StringVar(&opts.UserID, "for-user", "", "admin: scope to this user's queue")
	cmd.Flags().IntVar(&opts.Limit, "limit", engine.DefaultListLimit, "page size")
	cmd.Flags().Int64Var(&opts.Cursor, "cursor", 0, "resume after this job id")
	return cmd
}

func jobShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return runAsActor(cmd, func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				job, err := rt.Engine.GetJob(ctx, actor, id)
				if err != nil {
					return err
				}
				next := rt.Engine.NextActions(job, actor)
				if viper.GetBool("json") {
					return printJSON(map[string]any{"job": job, "actions": next})
				}
				if err := printJSONOrTable(job); err != nil {
					return err
				}
				if len(next) > 0 {
					fmt.Println("next:", joinActions(next))
				}
				return nil
			})
		},
	}
}

func joinActions(actions []domain.Action) string {
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = string(a)
	}
	return strings.Join(names, ", ")
}

func jobFileCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "file <id> <ref>",
		Short: "Copy a stored document or certificate to --out (default stdout)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return runAsActor(cmd, func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				f, err := rt.Engine.OpenFile(ctx, actor, id, args[1])
				if err != nil {
					return err
				}
				defer f.Close()
				var w io.Writer = os.Stdout
				if out != "" {
					dst, err := os.Create(out)
					if err != nil {
						return err
					}
					defer dst.Close()
					w = dst
				}
				_, err = io.Copy(w, f)
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "destination file")
	return cmd
}

func jobHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show the audit trail of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return runAsActor(cmd, func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				entries, err := rt.Engine.History(ctx, actor, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(entries)
			})
		},
	}
}

func jobStartCmd() *cobra.Command {
	return transitionCmd("start", "Start work on a new job (operator)",
		func(ctx context.Context, e engine.Engine, actor domain.Actor, id int64, expected domain.Status) (engine.Result, error) {
			return e.StartWork(ctx, id, actor, expected)
		})
}

func jobSendForReviewCmd() *cobra.Command {
	var brand string
	cmd := transitionCmd("send-for-review", "Send the brand to a checker (operator)",
		func(ctx context.Context, e engine.Engine, actor domain.Actor, id int64, expected domain.Status) (engine.Result, error) {
			return e.SendForReview(ctx, id, actor, brand, expected)
		})
	cmd.Flags().StringVar(&brand, "brand", "", "brand name; required unless already set")
	return cmd
}

type reviewFunc func(ctx context.Context, jobID int64, actor domain.Actor, decision engine.Decision, reason string, expected domain.Status) (engine.Result, error)

func jobReviewCmd(use, short string, pick func(engine.Engine) reviewFunc) *cobra.Command {
	var decision, reason string
	cmd := transitionCmd(use, short,
		func(ctx context.Context, e engine.Engine, actor domain.Actor, id int64, expected domain.Status) (engine.Result, error) {
			d, err := engine.ParseDecision(decision)
			if err != nil {
				return engine.Result{}, err
			}
			return pick(e)(ctx, id, actor, d, reason, expected)
		})
	cmd.Flags().StringVar(&decision, "decision", "", "approve or reject")
	cmd.Flags().StringVar(&reason, "reason", "", "why; required when rejecting")
	_ = cmd.MarkFlagRequired("decision")
	return cmd
}

func jobSubmitDocumentsCmd() *cobra.Command {
	var docsPath string
	var attach []string
	cmd := transitionCmd("submit-documents", "Submit client documents (operator)",
		func(ctx context.Context, e engine.Engine, actor domain.Actor, id int64, expected domain.Status) (engine.Result, error) {
			raw, err := os.ReadFile(docsPath)
			if err != nil {
				return engine.Result{}, err
			}
			var docs domain.Documents
			if err := json.Unmarshal(raw, &docs); err != nil {
				return engine.Result{}, fmt.Errorf("parse %s: %w", docsPath, err)
			}
			files, err := readAttachments(attach)
			if err != nil {
				return engine.Result{}, err
			}
			return e.SubmitDocuments(ctx, id, actor, docs, files, expected)
		})
	cmd.Flags().StringVar(&docsPath, "docs", "", `JSON file, e.g. {"individual":{"full_name":"..."}}`)
	cmd.Flags().StringSliceVar(&attach, "attach", nil, "file to store with the documents (repeatable)")
	_ = cmd.MarkFlagRequired("docs")
	return cmd
}

func jobAcceptCmd() *cobra.Command {
	return transitionCmd("accept", "Accept a job sent to you (lawyer)",
		func(ctx context.Context, e engine.Engine, actor domain.Actor, id int64, expected domain.Status) (engine.Result, error) {
			return e.AcceptByLawyer(ctx, id, actor, expected)
		})
}

func jobCompleteCmd() *cobra.Command {
	var certs, attach []string
	cmd := transitionCmd("complete", "Complete registration with certificates (lawyer)",
		func(ctx context.Context, e engine.Engine, actor domain.Actor, id int64, expected domain.Status) (engine.Result, error) {
			files, err := readAttachments(attach)
			if err != nil {
				return engine.Result{}, err
			}
			return e.CompleteByLawyer(ctx, id, actor, certs, files, expected)
		})
	cmd.Flags().StringSliceVar(&certs, "certificate", nil, "certificate reference (repeatable)")
	cmd.Flags().StringSliceVar(&attach, "attach", nil, "certificate file to store (repeatable)")
	return cmd
}

func jobArchiveCmd() *cobra.Command {
	return transitionCmd("archive", "Archive a completed job (admin)",
		func(ctx context.Context, e engine.Engine, actor domain.Actor, id int64, _ domain.Status) (engine.Result, error) {
			return e.ArchiveJob(ctx, id, actor)
		})
}

func jobForceStatusCmd() *cobra.Command {
	var status, reason string
	cmd := transitionCmd("force-status", "Override the status (admin, needs admin.allow_force_status)",
		func(ctx context.Context, e engine.Engine, actor domain.Actor, id int64, expected domain.Status) (engine.Result, error) {
			return e.ForceSetStatus(ctx, engine.ForceRequest{
				JobID:          id,
				Actor:          actor,
				Status:         domain.Status(status),
				ExpectedStatus: expected,
				Reason:         reason,
			})
		})
	cmd.Flags().StringVar(&status, "status", "", "target status")
	cmd.Flags().StringVar(&reason, "reason", "", "audit reason")
	_ = cmd.MarkFlagRequired("status")
	_ = cmd.MarkFlagRequired("reason")
	_ = cmd.MarkFlagRequired("expect")
	return cmd
}

func readAttachments(paths []string) ([]engine.Attachment, error) {
	var out []engine.Attachment
	for _, p := range paths {
		content, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, engine.Attachment{Name: filepath.Base(p), Content: content})
	}
	return out, nil
}
