// Command deadletter lists and redrives webhook deliveries that exhausted their retries.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/config"
	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/platform/jobs"
	"github.com/storefront/api/internal/platform/observability"
	"github.com/storefront/api/internal/platform/secrets"
	platformstorage "github.com/storefront/api/internal/platform/storage"
	firestoreRepo "github.com/storefront/api/internal/repositories/firestore"
	"github.com/storefront/api/internal/services"
)

const usage = `deadletter: operate on exhausted webhook deliveries.

Usage:
  deadletter [flags] list [--status open|redriven] [--page-size N] [--page-token T]
  deadletter [flags] redrive <letter-id>

Flags:
`

var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr, connect); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

// connectFunc builds the dead-letter service from the loaded environment. The returned
// cleanup releases every client it opened.
type connectFunc func(ctx context.Context, envFile string, logger *zap.Logger) (services.DeadLetterService, func(), error)

func run(ctx context.Context, args []string, stdout io.Writer, stderr io.Writer, connect connectFunc) error {
	var (
		envFile    string
		asJSON     bool
		status     []string
		pageSize   int
		pageToken  string
		verboseLog bool
	)
	flagSet := pflag.NewFlagSet("deadletter", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.SetInterspersed(true)
	flagSet.StringVar(&envFile, "env-file", ".env", "dotenv file with API_* settings")
	flagSet.BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	flagSet.StringSliceVar(&status, "status", nil, "filter list by status (open, redriven)")
	flagSet.IntVar(&pageSize, "page-size", 20, "number of letters to list")
	flagSet.StringVar(&pageToken, "page-token", "", "continue a previous listing")
	flagSet.BoolVarP(&verboseLog, "verbose", "v", false, "log diagnostics to stderr")
	flagSet.Usage = func() {
		fmt.Fprint(stderr, usage)
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return errUsage
	}
	rest := flagSet.Args()
	if len(rest) == 0 {
		flagSet.Usage()
		return errUsage
	}

	var command func(svc services.DeadLetterService) error
	switch rest[0] {
	case "list":
		if len(rest) != 1 {
			flagSet.Usage()
			return errUsage
		}
		filter := services.DeadLetterListFilter{
			Pagination: services.Pagination{PageSize: pageSize, PageToken: pageToken},
		}
		for _, raw := range status {
			filter.Status = append(filter.Status, domain.DeadLetterStatus(strings.ToLower(strings.TrimSpace(raw))))
		}
		command = func(svc services.DeadLetterService) error {
			return listLetters(ctx, svc, filter, stdout, asJSON)
		}
	case "redrive":
		if len(rest) != 2 || strings.TrimSpace(rest[1]) == "" {
			flagSet.Usage()
			return errUsage
		}
		letterID := strings.TrimSpace(rest[1])
		command = func(svc services.DeadLetterService) error {
			return redriveLetter(ctx, svc, letterID, stdout, asJSON)
		}
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", rest[0])
		flagSet.Usage()
		return errUsage
	}

	logger := zap.NewNop()
	if verboseLog {
		built, err := observability.NewLogger()
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		logger = built.Named("deadletter")
		defer func() { _ = logger.Sync() }()
	}

	svc, cleanup, err := connect(ctx, envFile, logger)
	if err != nil {
		return err
	}
	defer cleanup()
	return command(svc)
}

type letterView struct {
	ID         string `json:"id"`
	EventID    string `json:"eventId"`
	EventType  string `json:"eventType"`
	Attempts   int    `json:"attempts"`
	Status     string `json:"status"`
	LastError  string `json:"lastError,omitempty"`
	PayloadRef string `json:"payloadRef,omitempty"`
	CreatedAt  string `json:"createdAt"`
	RedrivenAt string `json:"redrivenAt,omitempty"`
}

func viewOf(letter services.DeadLetter) letterView {
	view := letterView{
		ID:         letter.ID,
		EventID:    letter.EventID,
		EventType:  letter.EventType,
		Attempts:   letter.Attempts,
		Status:     string(letter.Status),
		LastError:  letter.LastError,
		PayloadRef: letter.PayloadRef,
	}
	if !letter.CreatedAt.IsZero() {
		view.CreatedAt = letter.CreatedAt.UTC().Format(time.RFC3339)
	}
	if letter.RedrivenAt != nil {
		view.RedrivenAt = letter.RedrivenAt.UTC().Format(time.RFC3339)
	}
	return view
}

func listLetters(ctx context.Context, svc services.DeadLetterService, filter services.DeadLetterListFilter, out io.Writer, asJSON bool) error {
	page, err := svc.List(ctx, filter)
	if err != nil {
		return fmt.Errorf("list dead letters: %w", err)
	}
	views := make([]letterView, 0, len(page.Items))
	for _, letter := range page.Items {
		views = append(views, viewOf(letter))
	}
	if asJSON {
		return writeJSON(out, map[string]any{"items": views, "nextPageToken": page.NextPageToken})
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEVENT\tTYPE\tATTEMPTS\tSTATUS\tCREATED\tLAST ERROR")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n", v.ID, v.EventID, v.EventType, v.Attempts, v.Status, v.CreatedAt, truncate(v.LastError, 60))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if page.NextPageToken != "" {
		fmt.Fprintf(out, "\nnext page: --page-token %s\n", page.NextPageToken)
	}
	return nil
}

func redriveLetter(ctx context.Context, svc services.DeadLetterService, letterID string, out io.Writer, asJSON bool) error {
	letter, err := svc.Redrive(ctx, letterID)
	if err != nil {
		return fmt.Errorf("redrive %s: %w", letterID, err)
	}
	if asJSON {
		return writeJSON(out, viewOf(letter))
	}
	fmt.Fprintf(out, "redriven %s (event %s)\n", letter.ID, letter.EventID)
	return nil
}

func writeJSON(out io.Writer, payload any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}

// connect opens Firestore, the retry topic and, when configured, the payload archive.
func connect(ctx context.Context, envFile string, logger *zap.Logger) (services.DeadLetterService, func(), error) {
	envValues, err := config.EnvironmentValues(config.WithEnvFile(envFile))
	if err != nil {
		return nil, nil, fmt.Errorf("read environment: %w", err)
	}
	fetcher, err := secrets.NewFetcher(ctx, append(secrets.OptionsFromEnv(envValues),
		secrets.WithLogger(logger.Named("secrets")))...)
	if err != nil {
		return nil, nil, fmt.Errorf("init secret fetcher: %w", err)
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	closers = append(closers, func() { _ = fetcher.Close() })

	cfg, err := config.Load(ctx,
		config.WithEnvFile(envFile),
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
	)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(cfg.PubSub.ProjectID) == "" || cfg.Webhooks.InlineRetries {
		cleanup()
		return nil, nil, errors.New("dead letter operations need the Pub/Sub retry topic; in-process retries are not reachable from the CLI")
	}

	provider := pfirestore.NewProvider(cfg.Firestore, pfirestore.WithDialTimeout(5*time.Second))
	closers = append(closers, func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Close(closeCtx)
	})
	repo, err := firestoreRepo.NewDeadLetterRepository(provider)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("init dead letter repository: %w", err)
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("init pubsub: %w", err)
	}
	topic := pubsubClient.Topic(cfg.PubSub.WebhookRetryTopic)
	closers = append(closers, func() {
		topic.Stop()
		_ = pubsubClient.Close()
	})
	queue, err := jobs.NewPubSubWebhookQueue(topic)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("init retry queue: %w", err)
	}

	deps := services.DeadLetterServiceDeps{
		DeadLetters: repo,
		Queue:       queue,
		Logger:      observability.NewEventLogger(logger),
	}
	if bucket := strings.TrimSpace(cfg.Storage.DeadLetterBucket); bucket != "" {
		storageClient, err := cloudstorage.NewClient(ctx)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("init storage: %w", err)
		}
		closers = append(closers, func() { _ = storageClient.Close() })
		archive, err := platformstorage.NewArchive(storageClient, bucket, platformstorage.WithArchivePrefix(cfg.Storage.DeadLetterPrefix))
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("init archive: %w", err)
		}
		deps.Archive = archive
	}

	svc, err := services.NewDeadLetterService(deps)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return svc, cleanup, nil
}
