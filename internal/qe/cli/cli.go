package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/bcrosbie/quoteengine/internal/domain"
	"github.com/bcrosbie/quoteengine/internal/pricing"
	qeclient "github.com/bcrosbie/quoteengine/internal/qe/client"
	qeconfig "github.com/bcrosbie/quoteengine/internal/qe/config"
	"github.com/bcrosbie/quoteengine/internal/qe/ui"
	"github.com/spf13/cobra"
)

// Opener connects to the quote service for one command invocation.
type Opener func(cfg qeconfig.Config) (*qeclient.Client, error)

func Run(args []string, commandName string) error {
	root := NewRootCommand(commandName, os.Stdin, os.Stdout, nil)
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

type app struct {
	cfg     qeconfig.Config
	cfgPath string
	open    Opener
	in      io.Reader
	out     io.Writer
}

// NewRootCommand builds the qe command tree. A nil opener dials the address
// from the loaded config.
func NewRootCommand(commandName string, in io.Reader, out io.Writer, open Opener) *cobra.Command {
	a := &app{open: open, in: in, out: out}
	if a.open == nil {
		a.open = func(cfg qeconfig.Config) (*qeclient.Client, error) {
			return qeclient.New(cfg, qeconfig.ResolveToken(cfg))
		}
	}

	root := &cobra.Command{
		Use:           commandName,
		Short:         "Quote engine client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := qeconfig.Load()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			if addr, _ := cmd.Flags().GetString("addr"); strings.TrimSpace(addr) != "" {
				cfg.GRPCAddr = strings.TrimSpace(addr)
			}
			a.cfg, a.cfgPath = cfg, path
			return nil
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(out)
	root.PersistentFlags().String("addr", "", "gRPC address of the quote service (overrides qe.yaml)")

	root.AddCommand(
		a.simple("health", "Show service health", func(ctx context.Context, c *qeclient.Client, _ []string) (any, error) {
			return c.Health(ctx)
		}, 0),
		a.simple("summary", "Show record counts and lamport totals", func(ctx context.Context, c *qeclient.Client, _ []string) (any, error) {
			return c.Summary(ctx)
		}, 0),
		a.listCmd(),
		a.simple("get", "Show one record with its next actions", func(ctx context.Context, c *qeclient.Client, args []string) (any, error) {
			return c.GetRecord(ctx, args[0])
		}, 1),
		a.createCmd(),
		a.simple("analyze", "Run extraction on a new record", func(ctx context.Context, c *qeclient.Client, args []string) (any, error) {
			return c.Analyze(ctx, args[0])
		}, 1),
		a.clarifyCmd(),
		a.simple("scope", "Generate the scope document", func(ctx context.Context, c *qeclient.Client, args []string) (any, error) {
			return c.GenerateScope(ctx, args[0])
		}, 1),
		a.approveCmd(),
		a.simple("edit", "Reopen a quote for editing", func(ctx context.Context, c *qeclient.Client, args []string) (any, error) {
			return c.BeginEdit(ctx, args[0])
		}, 1),
		a.requoteCmd(),
		a.simple("confirm", "Confirm a ready quote", func(ctx context.Context, c *qeclient.Client, args []string) (any, error) {
			return c.ConfirmQuote(ctx, args[0])
		}, 1),
		a.reviewCmd(),
		a.fundCmd(),
		a.cancelCmd(),
		a.simple("archive", "Archive and remove a cancelled record", func(ctx context.Context, c *qeclient.Client, args []string) (any, error) {
			if err := c.Archive(ctx, args[0]); err != nil {
				return nil, err
			}
			return map[string]any{"archived": args[0]}, nil
		}, 1),
		a.simple("sweep", "Remove expired records now", func(ctx context.Context, c *qeclient.Client, _ []string) (any, error) {
			removed, err := c.SweepExpired(ctx)
			return map[string]any{"removed": removed}, err
		}, 0),
		&cobra.Command{
			Use:   "tui",
			Short: "Browse records interactively",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.withClient(func(c *qeclient.Client) error {
					return ui.Run(a.cfg, c)
				})
			},
		},
		&cobra.Command{
			Use:   "config",
			Short: "Print the resolved client config",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				fmt.Fprintf(a.out, "config: %s\n", a.cfgPath)
				return a.print(a.cfg)
			},
		},
	)
	return root
}

type call func(ctx context.Context, c *qeclient.Client, args []string) (any, error)

func (a *app) simple(use, short string, fn call, nargs int) *cobra.Command {
	if nargs == 1 {
		use += " RECORD_ID"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.invoke(cmd.Context(), args, fn)
		},
	}
}

func (a *app) invoke(ctx context.Context, args []string, fn call) error {
	return a.withClient(func(c *qeclient.Client) error {
		result, err := fn(ctx, c, args)
		if err != nil {
			return fmt.Errorf("%s", qeclient.Describe(err))
		}
		return a.print(result)
	})
}

func (a *app) withClient(fn func(c *qeclient.Client) error) error {
	client, err := a.open(a.cfg)
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}

func (a *app) print(value any) error {
	encoder := json.NewEncoder(a.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func (a *app) listCmd() *cobra.Command {
	var (
		filter qeclient.ListFilter
		review string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch strings.ToLower(strings.TrimSpace(review)) {
			case "":
			case "true", "yes":
				flag := true
				filter.RequiresReview = &flag
			case "false", "no":
				flag := false
				filter.RequiresReview = &flag
			default:
				return fmt.Errorf("--review must be true or false")
			}
			return a.withClient(func(c *qeclient.Client) error {
				records, err := c.ListRecords(cmd.Context(), filter)
				if err != nil {
					return fmt.Errorf("%s", qeclient.Describe(err))
				}
				if asJSON {
					return a.print(records)
				}
				return writeTable(a.out, records)
			})
		},
	}
	cmd.Flags().StringVar(&filter.ClientID, "client", "", "filter by client id")
	cmd.Flags().StringVar(&filter.CounterpartyID, "counterparty", "", "filter by counterparty id")
	cmd.Flags().StringVar(&filter.Stage, "stage", "", "filter by stage")
	cmd.Flags().StringVar(&review, "review", "", "filter by requires_human_review (true|false)")
	cmd.Flags().IntVar(&filter.Limit, "limit", 0, "maximum number of records")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print full records as JSON")
	return cmd
}

func (a *app) createCmd() *cobra.Command {
	var (
		input     qeclient.CreateInput
		briefFile string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a record from a project brief",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if briefFile != "" {
				raw, err := readBrief(a.in, briefFile)
				if err != nil {
					return err
				}
				input.Brief = raw
			}
			if strings.TrimSpace(input.Brief) == "" {
				return fmt.Errorf("a brief is required (--brief or --brief-file)")
			}
			return a.invoke(cmd.Context(), args, func(ctx context.Context, c *qeclient.Client, _ []string) (any, error) {
				return c.CreateRecord(ctx, input)
			})
		},
	}
	cmd.Flags().StringVar(&input.Title, "title", "", "record title")
	cmd.Flags().StringVar(&input.Brief, "brief", "", "project brief text")
	cmd.Flags().StringVar(&briefFile, "brief-file", "", "read the brief from a file, or - for stdin")
	cmd.Flags().StringVar(&input.ClientID, "client", "", "client id")
	cmd.Flags().StringVar(&input.CounterpartyID, "counterparty", "", "counterparty id")
	cmd.Flags().StringVar(&input.IdempotencyKey, "idempotency-key", "", "reuse a key to make retries safe")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func (a *app) clarifyCmd() *cobra.Command {
	var (
		answers []string
		skipped []string
	)
	cmd := &cobra.Command{
		Use:   "clarify RECORD_ID",
		Short: "Answer or skip open questions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseAnswers(answers)
			if err != nil {
				return err
			}
			return a.invoke(cmd.Context(), args, func(ctx context.Context, c *qeclient.Client, args []string) (any, error) {
				return c.SubmitClarification(ctx, args[0], parsed, skipped)
			})
		},
	}
	cmd.Flags().StringArrayVar(&answers, "answer", nil, "QUESTION_ID=ANSWER, repeatable")
	cmd.Flags().StringSliceVar(&skipped, "skip", nil, "question ids to skip")
	return cmd
}

func (a *app) approveCmd() *cobra.Command {
	var rate int64
	cmd := &cobra.Command{
		Use:   "approve RECORD_ID",
		Short: "Approve the scope and price it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("rate") {
				rate = a.cfg.BaseRateLamports
			}
			return a.invoke(cmd.Context(), args, func(ctx context.Context, c *qeclient.Client, args []string) (any, error) {
				return c.ApproveScope(ctx, args[0], rate)
			})
		},
	}
	cmd.Flags().Int64Var(&rate, "rate", 0, "hourly base rate in lamports (defaults to base_rate_lamports from qe.yaml)")
	return cmd
}

func (a *app) requoteCmd() *cobra.Command {
	var input qeclient.RequoteInput
	cmd := &cobra.Command{
		Use:   "requote RECORD_ID",
		Short: "Reprice a quote under edit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input.ID = args[0]
			return a.invoke(cmd.Context(), args, func(ctx context.Context, c *qeclient.Client, _ []string) (any, error) {
				return c.Requote(ctx, input)
			})
		},
	}
	cmd.Flags().Float64Var(&input.RevisedHours, "hours", 0, "revised total hours (0 keeps the scope estimate)")
	cmd.Flags().StringVar(&input.Urgency, "urgency", "", "standard, priority or urgent")
	cmd.Flags().Int64Var(&input.BaseRateLamports, "rate", 0, "hourly base rate in lamports (0 keeps the current rate)")
	return cmd
}

func (a *app) reviewCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "review RECORD_ID",
		Short: "Sign off a record that requires human review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.invoke(cmd.Context(), args, func(ctx context.Context, c *qeclient.Client, args []string) (any, error) {
				return c.MarkReviewed(ctx, args[0], note)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "review note")
	return cmd
}

func (a *app) fundCmd() *cobra.Command {
	var ref string
	cmd := &cobra.Command{
		Use:   "fund RECORD_ID",
		Short: "Record escrow funding for a confirmed quote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.invoke(cmd.Context(), args, func(ctx context.Context, c *qeclient.Client, args []string) (any, error) {
				return c.RecordFunding(ctx, args[0], ref)
			})
		},
	}
	cmd.Flags().StringVar(&ref, "ref", "", "external funding reference (transaction signature)")
	_ = cmd.MarkFlagRequired("ref")
	return cmd
}

func (a *app) cancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel RECORD_ID",
		Short: "Cancel a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.invoke(cmd.Context(), args, func(ctx context.Context, c *qeclient.Client, args []string) (any, error) {
				return c.Cancel(ctx, args[0], reason)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason")
	return cmd
}

func parseAnswers(values []string) (map[string]string, error) {
	answers := make(map[string]string, len(values))
	for _, value := range values {
		key, answer, ok := strings.Cut(value, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --answer %q, expected QUESTION_ID=ANSWER", value)
		}
		answers[key] = strings.TrimSpace(answer)
	}
	return answers, nil
}

func readBrief(stdin io.Reader, path string) (string, error) {
	if path == "-" {
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read brief from stdin: %w", err)
		}
		return string(raw), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read brief %s: %w", path, err)
	}
	return string(raw), nil
}

func writeTable(out io.Writer, records []domain.WorkflowRecord) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tSTAGE\tCLIENT\tTOTAL_SOL\tREVIEW\tTITLE")
	for _, record := range records {
		total := "-"
		if record.Pricing != nil {
			total = fmt.Sprintf("%.4f", pricing.ToSOL(record.Pricing.TotalLamports))
		}
		review := ""
		if record.RequiresHumanReview {
			review = "yes"
		}
		client := record.ClientID
		if client == "" {
			client = "-"
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n", record.ID, record.CurrentStage, client, total, review, record.Title)
	}
	return writer.Flush()
}
