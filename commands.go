package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"deepresearch/internal/models"
	"deepresearch/internal/services"
)

// interruptible runs fn and turns SIGINT/SIGTERM into a research
// cancellation, so the session records the stop.
func (a *App) interruptible(ctx context.Context, fn func(ctx context.Context) error) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sigCtx.Done():
			if ctx.Err() == nil {
				a.svc.Research.Cancel(context.WithoutCancel(ctx))
			}
		case <-done:
		}
	}()
	return fn(ctx)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printQuestions(w io.Writer, qna []models.QnA) {
	for i, q := range qna {
		fmt.Fprintf(w, "%d. [%s] %s\n", i+1, q.ID, q.Question)
		if q.Answer != "" {
			fmt.Fprintf(w, "   answer: %s\n", q.Answer)
		}
	}
}

func queryCMD(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "query <text>",
		Short: "Start a research session and generate clarifying questions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := app.interruptible(cmd.Context(), func(ctx context.Context) error {
				return app.svc.Research.SubmitQuery(ctx, strings.Join(args, " "))
			})
			if err != nil {
				return err
			}
			printQuestions(cmd.OutOrStdout(), app.svc.Sessions.Snapshot().QnA)
			return nil
		},
	}
}

func answerCMD(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "answer <question number or id> <answer>",
		Short: "Answer a clarifying question",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qna := app.svc.Sessions.Snapshot().QnA
			id := args[0]
			if n, err := strconv.Atoi(id); err == nil && n >= 1 && n <= len(qna) {
				id = qna[n-1].ID
			}
			return app.svc.Research.AnswerQuestion(cmd.Context(), id, strings.Join(args[1:], " "))
		},
	}
}

func readText(path string, stdin io.Reader) (string, error) {
	if path == "-" {
		b, err := io.ReadAll(stdin)
		return string(b), err
	}
	b, err := os.ReadFile(path)
	return string(b), err
}

func planCMD(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Stream the research plan",
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := app.interruptible(cmd.Context(), app.svc.Research.GeneratePlan)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), app.svc.Sessions.Snapshot().Plan)
			return nil
		},
	}

	var file string
	edit := &cobra.Command{
		Use:   "edit",
		Short: "Replace the plan with the contents of a file ('-' for stdin)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			text, err := readText(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return app.svc.Research.UpdatePlan(cmd.Context(), text)
		},
	}
	edit.Flags().StringVarP(&file, "file", "f", "-", "plan source")
	cmd.AddCommand(edit)
	return cmd
}

func runCMD(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Generate and execute research tasks tier by tier",
		RunE: func(cmd *cobra.Command, _ []string) error {
			runErr := app.interruptible(cmd.Context(), app.svc.Research.RunTasks)
			if p, err := app.svc.Research.Progress(); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%d/%d tasks done (%.0f%%)\n", p.Completed, p.Expected, p.Percent)
			}
			return runErr
		},
	}
}

func reportCMD(app *App) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Stream the final report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.interruptible(cmd.Context(), app.svc.Research.WriteReport); err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), out, app.svc.Sessions.Snapshot())
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the report to this file instead of stdout")
	return cmd
}

func writeReport(w io.Writer, path string, snap *models.ResearchSession) error {
	var b strings.Builder
	b.WriteString(snap.FinalReport)
	if len(snap.Sources) > 0 {
		b.WriteString("\n\n## Sources\n\n")
		for i, src := range snap.Sources {
			fmt.Fprintf(&b, "%d. %s\n", i+1, src)
		}
	}
	if path == "" {
		_, err := fmt.Fprintln(w, b.String())
		return err
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func autoCMD(app *App) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "auto <text>",
		Short: "Run every phase, accepting the predicted answers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			research := app.svc.Research
			err := app.interruptible(cmd.Context(), func(ctx context.Context) error {
				if err := research.SubmitQuery(ctx, strings.Join(args, " ")); err != nil {
					return err
				}
				for _, q := range app.svc.Sessions.Snapshot().QnA {
					if q.Answer == "" {
						if err := research.AnswerQuestion(ctx, q.ID, "No preference."); err != nil {
							return err
						}
					}
				}
				for _, phase := range []func(context.Context) error{research.GeneratePlan, research.RunTasks, research.WriteReport} {
					if err := phase(ctx); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), out, app.svc.Sessions.Snapshot())
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the report to this file instead of stdout")
	return cmd
}

func statusCMD(app *App) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap := app.svc.Sessions.Snapshot()
			w := cmd.OutOrStdout()
			if asJSON {
				return printJSON(w, snap)
			}
			if snap.Query == "" {
				fmt.Fprintln(w, "No research in progress.")
				return nil
			}
			fmt.Fprintf(w, "Query: %s\nStep: %d/%d\n", snap.Query, snap.CurrentStep, models.StepDone)
			printQuestions(w, snap.QnA)
			if p, err := app.svc.Research.Progress(); err == nil {
				for _, t := range p.Tiers {
					fmt.Fprintf(w, "Tier %d: %d/%d done\n", t.Tier, t.Done, t.Total)
				}
				if p.CompletedEarly {
					fmt.Fprintln(w, "Research completed early.")
				}
			}
			for _, f := range snap.Files {
				fmt.Fprintf(w, "File: %s (%s)\n", f.DisplayName, f.MIMEType)
			}
			fmt.Fprintf(w, "Sources: %d\n", len(snap.Sources))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full session as JSON")
	return cmd
}

func resetCMD(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Discard the session and its uploaded files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.svc.Research.Reset(cmd.Context())
		},
	}
}

func fileCMD(app *App) *cobra.Command {
	cmd := &cobra.Command{Use: "file", Short: "Manage attached files"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "upload <path>",
			Short: "Attach a file to the research",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				h, err := app.svc.Research.UploadFile(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s uploaded as %s\n", h.DisplayName, h.Name)
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <name>",
			Short: "Remove an attached file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return app.svc.Research.DeleteFile(cmd.Context(), args[0])
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List attached files",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return printJSON(cmd.OutOrStdout(), app.svc.Sessions.Snapshot().Files)
			},
		},
	)
	return cmd
}

func settingsCMD(app *App) *cobra.Command {
	cmd := &cobra.Command{Use: "settings", Short: "Show or change research settings"}
	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the research settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := app.svc.Settings.Get()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), s)
		},
	})

	var next models.ResearchSettings
	set := &cobra.Command{
		Use:   "set",
		Short: "Change research settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			current, err := app.svc.Settings.Get()
			if err != nil {
				return err
			}
			merged := *current
			flags := cmd.Flags()
			if flags.Changed("core-model") {
				merged.CoreModel = next.CoreModel
			}
			if flags.Changed("task-model") {
				merged.TaskModel = next.TaskModel
			}
			if flags.Changed("thinking-budget") {
				merged.ThinkingBudget = next.ThinkingBudget
			}
			if flags.Changed("depth") {
				merged.Depth = next.Depth
			}
			if flags.Changed("wide") {
				merged.Wide = next.Wide
			}
			if flags.Changed("parallel") {
				merged.ParallelSearch = next.ParallelSearch
			}
			if flags.Changed("tone") {
				merged.ReportTone = next.ReportTone
			}
			if flags.Changed("min-words") {
				merged.MinWords = next.MinWords
			}
			updated, err := app.svc.Settings.Update(&merged)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), updated)
		},
	}
	f := set.Flags()
	f.StringVar(&next.CoreModel, "core-model", "", "model for questions, plan, task generation and report")
	f.StringVar(&next.TaskModel, "task-model", "", "model for research tasks")
	f.IntVar(&next.ThinkingBudget, "thinking-budget", 0, "reasoning budget in tokens (-1 dynamic, 0 provider default)")
	f.IntVar(&next.Depth, "depth", 0, "number of research tiers")
	f.IntVar(&next.Wide, "wide", 0, "tasks per tier")
	f.IntVar(&next.ParallelSearch, "parallel", 0, "research tasks run at once")
	f.StringVar(&next.ReportTone, "tone", "", "report tone name")
	f.IntVar(&next.MinWords, "min-words", 0, "minimum report length")
	cmd.AddCommand(set)
	return cmd
}

func tonesCMD(app *App) *cobra.Command {
	cmd := &cobra.Command{Use: "tones", Short: "Manage report tones"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List report tones",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tones, err := app.svc.Tones.ListTones()
			if err != nil {
				return err
			}
			for _, t := range tones {
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", t.Name, t.Description)
			}
			return nil
		},
	})

	var tone models.ReportTone
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a custom tone",
		RunE: func(cmd *cobra.Command, _ []string) error {
			created, err := app.svc.Tones.CreateTone(&tone)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), created)
		},
	}
	add.Flags().StringVar(&tone.Name, "name", "", "tone name")
	add.Flags().StringVar(&tone.Description, "description", "", "short description")
	add.Flags().StringVar(&tone.Instruction, "instruction", "", "writing instruction given to the model")

	cmd.AddCommand(add, &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a custom tone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.svc.Tones.DeleteTone(args[0])
		},
	})
	return cmd
}

func keyCMD(app *App) *cobra.Command {
	cmd := &cobra.Command{Use: "key", Short: "Manage the Gemini API key"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set [key]",
			Short: "Store the API key (read from stdin when omitted) and validate it",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var key string
				if len(args) == 1 {
					key = args[0]
				} else {
					b, err := io.ReadAll(cmd.InOrStdin())
					if err != nil {
						return err
					}
					key = string(b)
				}
				if err := app.svc.Keys.StoreApiKey(services.ProviderGemini, []byte(strings.TrimSpace(key))); err != nil {
					return err
				}
				return app.svc.Research.ValidateAPIKey(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Check the stored API key",
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := app.svc.Research.ValidateAPIKey(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "API key is valid.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete",
			Short: "Remove the stored API key",
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := app.svc.Keys.DeleteApiKey(services.ProviderGemini); err != nil {
					return err
				}
				return app.svc.Settings.SetAPIKeyValid(false)
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List stored keys",
			RunE: func(cmd *cobra.Command, _ []string) error {
				keys, err := app.svc.Keys.ListApiKeys()
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), keys)
			},
		},
	)
	return cmd
}

func modelsCMD(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the available models",
		RunE: func(cmd *cobra.Command, _ []string) error {
			groups, err := app.svc.Catalog.ListModelGroups()
			if err != nil {
				return err
			}
			for _, g := range groups {
				fmt.Fprintln(cmd.OutOrStdout(), g.ProviderName)
				for _, m := range g.Models {
					fmt.Fprintf(cmd.OutOrStdout(), "  %-24s %-22s thinking %d-%d\n", m.APIName, m.DisplayName, m.ThinkingMin, m.ThinkingMax)
				}
			}
			return nil
		},
	}
}
