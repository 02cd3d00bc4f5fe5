package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/philippgille/chromem-go"

	"tripc-agent/handler"
	"tripc-agent/internal/capability"
	"tripc-agent/internal/catalog"
	"tripc-agent/internal/config"
	"tripc-agent/internal/cta"
	"tripc-agent/internal/domain"
	"tripc-agent/internal/integrations/catalogapi"
	"tripc-agent/internal/integrations/gemini"
	"tripc-agent/internal/integrations/openai"
	"tripc-agent/internal/integrations/paramstore"
	"tripc-agent/internal/knowledge"
	"tripc-agent/internal/platform"
	"tripc-agent/internal/repository"
	"tripc-agent/internal/session"
	"tripc-agent/internal/usecase"
)

const (
	secretOpenAI  = "open-ai-token"
	secretGemini  = "gemini-token"
	secretCatalog = "catalog-token"

	warmupTimeout = 5 * time.Second
)

type provider interface {
	capability.LLM
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

type application struct {
	handler *handler.Handler
	matcher *catalog.Matcher
	sweeper *session.Sweeper
	logger  *slog.Logger
	closers []func() error
}

func build(ctx context.Context, cfg config.Config, log *slog.Logger) (*application, error) {
	a := &application{logger: log}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	// ---- AWS SDK config ----
	var awsCfg *aws.Config
	needAWS := cfg.SecretsSource == config.SecretsSSM || cfg.StateTable != ""
	if needAWS {
		c, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		awsCfg = &c
	}

	// ---- Secrets ----
	var getter paramstore.Getter
	if cfg.SecretsSource == config.SecretsSSM {
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(*awsCfg))
		if err != nil {
			return nil, err
		}
		getter = ssmClient
	} else {
		getter = paramstore.NewEnvGetter()
	}

	// ---- LLM provider ----
	llmProvider, chatModel, embeddingModel, err := newProvider(cfg, getter)
	if err != nil {
		return nil, err
	}
	llm, err := capability.NewRateLimitedLLM(llmProvider, cfg.LLMRatePerSecond, cfg.LLMBurst)
	if err != nil {
		return nil, err
	}

	classifier, err := capability.NewClassifier(llm, chatModel,
		capability.WithKeywordFallback(true),
		capability.WithClassifierLogger(log),
	)
	if err != nil {
		return nil, err
	}
	keywords, err := capability.NewKeywordExtractor(llm, chatModel)
	if err != nil {
		return nil, err
	}
	rewriter, err := capability.NewRewriter(llm, chatModel)
	if err != nil {
		return nil, err
	}

	// ---- Knowledge ----
	docs, err := knowledge.LoadSeed(cfg.KnowledgeSeed)
	if err != nil {
		return nil, err
	}
	embed := chromem.EmbeddingFunc(func(ctx context.Context, text string) ([]float32, error) {
		return llmProvider.Embed(ctx, embeddingModel, text)
	})
	searcher, err := knowledge.NewSearcher(ctx, docs, embed, llm, chatModel, knowledge.WithLogger(log))
	if err != nil {
		return nil, err
	}

	// ---- Catalog ----
	catalogToken, err := paramstore.NewToken(getter, cfg.SecretName(secretCatalog))
	if err != nil {
		return nil, err
	}
	catalogClient := catalogapi.NewClient(
		catalogapi.WithBaseURL(cfg.CatalogBaseURL),
		catalogapi.WithToken(catalogToken),
		catalogapi.WithLimit(cfg.ServiceLimit),
		catalogapi.WithLogger(log),
	)

	matcherOpts := []catalog.Option{
		catalog.WithTTL(cfg.CategoryTTL),
		catalog.WithTopK(cfg.CategoryTopK),
		catalog.WithLogger(log),
	}
	if cfg.SnapshotDir != "" {
		snapshots, err := catalog.OpenBadgerSnapshotStore(cfg.SnapshotDir)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, snapshots.Close)
		matcherOpts = append(matcherOpts, catalog.WithSnapshotStore(snapshots))
	}
	matcher, err := catalog.NewMatcher(catalogClient, matcherOpts...)
	if err != nil {
		return nil, err
	}
	a.matcher = matcher

	// ---- Sessions ----
	sessions := session.NewStore(
		session.WithTTL(cfg.SessionTTL),
		session.WithMaxTurns(cfg.MaxTurns),
		session.WithLogger(log),
	)
	a.sweeper = session.NewSweeper(sessions, cfg.SweepInterval)

	// ---- Persistence ----
	var bookings usecase.BookingWriter = logBookingWriter{logger: log}
	chatOpts := []usecase.Option{
		usecase.WithRewriter(rewriter),
		usecase.WithCapabilityTimeout(cfg.CapabilityTimeout),
		usecase.WithContextTurns(cfg.ContextTurns),
		usecase.WithMaxMessageLength(cfg.MaxMessageLength),
		usecase.WithRegionIDs(cfg.RegionIDs),
		usecase.WithLogger(log),
	}
	if cfg.StateTable != "" {
		store, err := repository.New(awsdynamodb.NewFromConfig(*awsCfg), cfg.StateTable)
		if err != nil {
			return nil, err
		}
		bookings = store
		chatOpts = append(chatOpts, usecase.WithTranscript(store))
	} else {
		log.Warn("state_table is empty; transcripts and bookings are not persisted")
	}

	// ---- Use cases ----
	chat, err := usecase.NewChatService(usecase.Deps{
		Sessions:   sessions,
		Validator:  platform.NewValidator(),
		Classifier: classifier,
		Keywords:   keywords,
		Categories: matcher,
		Knowledge:  searcher,
		Services:   catalogClient,
		CTA:        cta.NewEngine(cta.DefaultLinks()),
	}, chatOpts...)
	if err != nil {
		return nil, err
	}
	booking, err := usecase.NewBookingService(bookings, log)
	if err != nil {
		return nil, err
	}
	status, err := usecase.NewStatusService(sessions, matcher)
	if err != nil {
		return nil, err
	}

	// ---- Handler ----
	h, err := handler.NewHandler(chat, booking, status, log)
	if err != nil {
		return nil, err
	}
	a.handler = h

	ok = true
	return a, nil
}

func newProvider(cfg config.Config, getter paramstore.Getter) (provider, string, string, error) {
	switch cfg.LLMProvider {
	case config.ProviderGemini:
		token, err := paramstore.NewToken(getter, cfg.SecretName(secretGemini))
		if err != nil {
			return nil, "", "", err
		}
		c, err := gemini.NewClient(token)
		if err != nil {
			return nil, "", "", err
		}
		return c, cfg.GeminiModel, cfg.GeminiEmbeddingModel, nil
	default:
		token, err := paramstore.NewToken(getter, cfg.SecretName(secretOpenAI))
		if err != nil {
			return nil, "", "", err
		}
		c, err := openai.NewClient(token, openai.WithBaseURL(cfg.OpenAIBaseURL))
		if err != nil {
			return nil, "", "", err
		}
		return c, cfg.OpenAIModel, cfg.OpenAIEmbeddingModel, nil
	}
}

// start launches background work owned by the process lifetime.
func (a *application) start(ctx context.Context) {
	a.sweeper.Start(ctx)
	a.closers = append(a.closers, func() error {
		a.sweeper.Stop()
		return nil
	})

	go func() {
		warmCtx, cancel := context.WithTimeout(ctx, warmupTimeout)
		defer cancel()
		if _, err := a.matcher.Index(warmCtx); err != nil {
			a.logger.Warn("category index warmup failed", "err", err)
		}
	}()
}

func (a *application) close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Error("failed to release resources", "err", err)
	}
}

// logBookingWriter accepts bookings when no state table is configured so
// local runs can exercise the intake flow.
type logBookingWriter struct {
	logger *slog.Logger
}

func (w logBookingWriter) SaveBooking(_ context.Context, rec domain.BookingRecord) error {
	w.logger.Info("booking accepted without persistence", "reference", rec.Reference, "conversation_id", rec.ConversationID)
	return nil
}
