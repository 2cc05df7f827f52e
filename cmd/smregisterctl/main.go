package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"smregister/internal/platform/config"
	"smregister/internal/platform/database"
	"smregister/internal/platform/logger"
	"smregister/internal/status/models"
	"smregister/internal/status/service"
	"smregister/internal/status/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand(openPostgres)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "smregisterctl: %v\n", err)
		os.Exit(1)
	}
}

// backend is what a subcommand operates on. closeFn releases the underlying connection.
type backend struct {
	db      *sql.DB
	service *service.Service
	closeFn func()
}

type opener func(ctx context.Context) (*backend, error)

func openPostgres(ctx context.Context) (*backend, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	env := service.Environment(cfg.Environment)
	if cfg.IsProduction() {
		env = service.EnvProduction
	}
	svc, err := service.New(store.NewPostgres(db), store.NewPostgresTx(db),
		service.WithLogger(logger.New()),
		service.WithEnvironment(env),
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &backend{db: db, service: svc, closeFn: func() { _ = db.Close() }}, nil
}

func newRootCommand(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "smregisterctl",
		Short: "Operator CLI for the sick-leave certificate status register",
		Long: `smregisterctl inspects and maintains the status register directly against its database.
Connection settings are read from the same environment variables as the server.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newMigrateCmd(open),
		newStatusCmd(open),
		newCertificatesCmd(open),
		newAnswersCmd(open),
		newResetCmd(open),
	)
	return cmd
}

func newMigrateCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the register schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer b.closeFn()
			if b.db == nil {
				return errors.New("migrate requires a database backend")
			}
			if err := store.EnsureSchema(cmd.Context(), b.db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

type statusRow struct {
	CertificateID string    `json:"certificateId"`
	Timestamp     time.Time `json:"timestamp"`
	StatusEvent   string    `json:"statusEvent"`
}

func newStatusCmd(open opener) *cobra.Command {
	var latest bool
	cmd := &cobra.Command{
		Use:   "status <certificate-id>",
		Short: "Print the status history of a certificate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer b.closeFn()

			filter := models.FilterAll
			if latest {
				filter = models.FilterLatest
			}
			records, err := b.service.GetStatus(cmd.Context(), args[0], filter)
			if err != nil {
				return err
			}
			rows := make([]statusRow, 0, len(records))
			for _, r := range records {
				rows = append(rows, statusRow{CertificateID: r.CertificateID, Timestamp: r.Timestamp, StatusEvent: string(r.Kind)})
			}
			return printJSON(cmd.OutOrStdout(), rows)
		},
	}
	cmd.Flags().BoolVar(&latest, "latest", false, "Only print the latest status")
	return cmd
}

type certificateRow struct {
	ID          string     `json:"certificateId"`
	ReceivedAt  time.Time  `json:"receivedAt"`
	StatusEvent string     `json:"statusEvent"`
	Timestamp   time.Time  `json:"statusTimestamp"`
	Employer    *employer  `json:"employer,omitempty"`
	Answers     []question `json:"questions,omitempty"`
}

type employer struct {
	OrgNumber      string  `json:"orgNumber"`
	LegalOrgNumber *string `json:"legalOrgNumber,omitempty"`
	OrgName        string  `json:"orgName"`
}

type question struct {
	ShortName  string `json:"shortName"`
	Text       string `json:"text"`
	AnswerType string `json:"answerType"`
	Answer     string `json:"answer"`
}

func newCertificatesCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "certificates <person-id>",
		Short: "List the certificates visible to a person",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer b.closeFn()

			views, err := b.service.GetCertificatesForPerson(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			rows := make([]certificateRow, 0, len(views))
			for _, v := range views {
				row := certificateRow{
					ID:          v.ID,
					ReceivedAt:  v.ReceivedAt,
					StatusEvent: string(v.Status.Kind),
					Timestamp:   v.Status.Timestamp,
					Answers:     toQuestions(v.Answers),
				}
				if v.Employer != nil {
					row.Employer = &employer{
						OrgNumber:      v.Employer.OrgNumber,
						LegalOrgNumber: v.Employer.LegalOrgNumber,
						OrgName:        v.Employer.OrgName,
					}
				}
				rows = append(rows, row)
			}
			return printJSON(cmd.OutOrStdout(), rows)
		},
	}
}

func newAnswersCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "answers <certificate-id>",
		Short: "Print the stored question answers of a certificate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer b.closeFn()

			answers, err := b.service.GetAnswers(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), toQuestions(answers))
		},
	}
}

func newResetCmd(open opener) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset <person-id>",
		Short: "Delete every certificate of a person (disabled in production)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to reset without --yes")
			}
			b, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer b.closeFn()

			removed, err := b.service.ResetPerson(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d certificate(s) for %s\n", removed, args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the reset")
	return cmd
}

func toQuestions(qs []models.Question) []question {
	if len(qs) == 0 {
		return nil
	}
	out := make([]question, 0, len(qs))
	for _, q := range qs {
		out = append(out, question{
			ShortName:  string(q.ShortName),
			Text:       q.Text,
			AnswerType: string(q.Answer.Type),
			Answer:     q.Answer.Value,
		})
	}
	return out
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
