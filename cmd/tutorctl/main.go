// Package main provides the tutorctl CLI for indexing study material and
// querying the tutor without an MCP client.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bull/sinhala-tutor-rag/internal/app"
	"github.com/bull/sinhala-tutor-rag/internal/assistant"
	"github.com/bull/sinhala-tutor-rag/internal/config"
	"github.com/bull/sinhala-tutor-rag/internal/generation"
	"github.com/bull/sinhala-tutor-rag/internal/indexer"
	"github.com/bull/sinhala-tutor-rag/internal/intent"
	"github.com/bull/sinhala-tutor-rag/internal/logging"
	"github.com/bull/sinhala-tutor-rag/internal/storage"
)

var (
	configFile string
	ownerFlag  string
)

var rootCmd = &cobra.Command{
	Use:   "tutorctl",
	Short: "Sinhala tutor indexing and query tool",
	Long: `CLI tool for managing study resources and asking grounded questions.

Configuration is read from --config (YAML, optional) and TUTOR_* environment
variables. OPENAI_API_KEY, COHERE_API_KEY and GITHUB_TOKEN are honored.`,
	SilenceUsage: true,
}

var addCmd = &cobra.Command{
	Use:   "add FILE...",
	Short: "Register local files as resources and index them",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAdd,
}

var indexCmd = &cobra.Command{
	Use:   "index [RESOURCE_ID...]",
	Short: "Index resources by id, or every resource of --owner",
	RunE:  runIndex,
}

var askCmd = &cobra.Command{
	Use:   "ask QUESTION",
	Short: "Ask a question grounded in the --scope resources",
	Args:  cobra.ExactArgs(1),
	RunE:  runAsk,
}

var auditCmd = &cobra.Command{
	Use:   "audit --answer FILE --context FILE",
	Short: "Audit a text against a source context",
	Args:  cobra.NoArgs,
	RunE:  runAudit,
}

var reportCmd = &cobra.Command{
	Use:   "report MESSAGE_ID",
	Short: "Print the stored safety report of an assistant message",
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

var importCmd = &cobra.Command{
	Use:   "import-github OWNER/REPO",
	Short: "Import and index the documents of a GitHub repository",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE:  runMigrate,
}

var (
	scopeFlag  []string
	gradeFlag  string
	intentFlag string
	pathFlag   string
	refFlag    string
	extFlag    []string
	answerFlag string
	sourceFlag string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", os.Getenv("TUTOR_CONFIG_FILE"), "YAML config file")
	rootCmd.PersistentFlags().StringVar(&ownerFlag, "owner", "", "owner id of the resources")

	askCmd.Flags().StringSliceVar(&scopeFlag, "scope", nil, "resource ids the answer may use")
	askCmd.Flags().StringVar(&gradeFlag, "grade", "", "grade level, e.g. o_level")
	askCmd.Flags().StringVar(&intentFlag, "intent", "", "intent hint, e.g. summary")

	auditCmd.Flags().StringVar(&answerFlag, "answer", "", "file holding the text to audit")
	auditCmd.Flags().StringVar(&sourceFlag, "context", "", "file holding the source context")
	_ = auditCmd.MarkFlagRequired("answer")
	_ = auditCmd.MarkFlagRequired("context")

	importCmd.Flags().StringVar(&pathFlag, "path", "", "base path inside the repository")
	importCmd.Flags().StringVar(&refFlag, "ref", "", "branch or commit, default branch when empty")
	importCmd.Flags().StringSliceVar(&extFlag, "ext", nil, "file extensions to import (default .md and .txt)")

	rootCmd.AddCommand(addCmd, indexCmd, askCmd, auditCmd, reportCmd, importCmd, migrateCmd)
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// open builds the application from the configuration flags.
func open(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, logger)
}

func owner() (uuid.UUID, error) {
	if ownerFlag == "" {
		return uuid.Nil, fmt.Errorf("--owner is required")
	}
	id, err := uuid.Parse(ownerFlag)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --owner: %w", err)
	}
	return id, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func printReport(r *indexer.Report) {
	fmt.Println()
	fmt.Println("Index complete!")
	if r.Revision != "" {
		fmt.Printf("  Revision: %s\n", r.Revision)
	}
	fmt.Printf("  Resources: %d (%d indexed, %d already processed, %d failed)\n",
		r.Total, r.Indexed, r.AlreadyProcessed, len(r.Failed))
	fmt.Printf("  Chunks: %d\n", r.TotalChunks)
	fmt.Printf("  Duration: %s\n", r.Duration.Round(time.Millisecond))
	for _, f := range r.Failed {
		fmt.Printf("  FAILED %s: %s\n", f.ResourceID, f.Reason)
	}
}

func runAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ownerID, err := owner()
	if err != nil {
		return err
	}
	a, err := open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, name := range args {
		abs, err := filepath.Abs(name)
		if err != nil {
			return err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return err
		}
		r := &storage.Resource{
			OwnerID:     ownerID,
			Filename:    filepath.Base(abs),
			StoragePath: "file://" + abs,
			MIME:        indexer.MIMEFromName(abs),
			SizeBytes:   info.Size(),
		}
		if err := a.Store.CreateResource(ctx, r); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
		res, err := a.Pipeline.Index(ctx, r.ID)
		if err != nil {
			fmt.Printf("%s  %s  FAILED: %v\n", r.ID, r.Filename, err)
			continue
		}
		fmt.Printf("%s  %s  %s (%d chunks, %s)\n", r.ID, r.Filename, res.Status, res.ChunksCreated, res.Language)
	}
	return nil
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) == 0 {
		ownerID, err := owner()
		if err != nil {
			return err
		}
		fmt.Printf("Indexing resources of %s...\n", ownerID)
		report, err := a.Pipeline.IndexOwner(ctx, ownerID)
		if err != nil {
			return err
		}
		printReport(report)
		return nil
	}

	for _, arg := range args {
		id, err := uuid.Parse(arg)
		if err != nil {
			return fmt.Errorf("invalid resource id %q: %w", arg, err)
		}
		res, err := a.Pipeline.Index(ctx, id)
		if err != nil {
			return fmt.Errorf("index %s: %w", id, err)
		}
		fmt.Printf("%s  %s (%d chunks, %s)\n", id, res.Status, res.ChunksCreated, res.Duration.Round(time.Millisecond))
	}
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	req := assistant.Request{
		Query:      args[0],
		Scope:      []uuid.UUID{},
		GradeLevel: generation.GradeLevel(gradeFlag),
		IntentHint: intent.Intent(intentFlag),
	}
	if ownerFlag != "" {
		if req.OwnerID, err = owner(); err != nil {
			return err
		}
	}
	for _, s := range scopeFlag {
		id, err := uuid.Parse(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("invalid scope id %q: %w", s, err)
		}
		req.Scope = append(req.Scope, id)
	}

	resp, err := a.Assistant.Ask(ctx, req)
	if err != nil {
		a.Logger.Debug("Ask failed", zap.Error(err))
		return err
	}
	return printJSON(resp)
}

func runAudit(cmd *cobra.Command, args []string) error {
	answer, err := os.ReadFile(answerFlag)
	if err != nil {
		return err
	}
	source, err := os.ReadFile(sourceFlag)
	if err != nil {
		return err
	}
	a, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()
	return printJSON(a.Assistant.Audit(string(answer), string(source)))
}

func runReport(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid message id: %w", err)
	}
	ctx := cmd.Context()
	a, err := open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	report, err := a.Assistant.SafetyReport(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ownerID, err := owner()
	if err != nil {
		return err
	}
	repoOwner, repo, ok := strings.Cut(args[0], "/")
	if !ok || repoOwner == "" || repo == "" {
		return fmt.Errorf("expected OWNER/REPO, got %q", args[0])
	}
	a, err := open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("Importing %s/%s...\n", repoOwner, repo)
	report, err := a.ImportGitHub(ctx, app.GitHubImport{
		Owner:      repoOwner,
		Repo:       repo,
		BasePath:   pathFlag,
		Ref:        refFlag,
		Extensions: extFlag,
	}, ownerID)
	if err != nil {
		return err
	}
	printReport(report)
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	a, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()
	fmt.Printf("Schema up to date (%s)\n", a.Config.Database.Driver)
	return nil
}
