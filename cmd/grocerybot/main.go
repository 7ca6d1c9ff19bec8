package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"gorm.io/datatypes"

	"grocerybot"
	"grocerybot/coordinator"
	"grocerybot/coordinator/anthropic"
	"grocerybot/coordinator/bedrock"
	"grocerybot/kroger"
	"grocerybot/seed"
	"grocerybot/slack"
	"grocerybot/store"
	"grocerybot/tools"
)

const version = "0.1.0"

// outerApology is the reply when the failure happened before the
// coordinator could produce anything at all.
const outerApology = "Sorry, I'm having trouble right now. Try again in a moment."

func main() {
	if err := run(); err != nil {
		log.Fatalf("grocerybot: %v", err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := grocerybot.LoadConfig()
	if err != nil {
		return err
	}

	st, err := store.OpenPostgres(cfg.Database.DSN())
	if err != nil {
		return err
	}

	_, _, otelShutdown, err := grocerybot.InitOtel(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil {
			slog.Error("otel shutdown failed", "error", err)
		}
	}()

	if err := applySeedData(ctx, cfg.Agent, st); err != nil {
		return err
	}

	krogerClient := kroger.NewClient(kroger.Config{
		ClientID:     cfg.Kroger.ClientID,
		ClientSecret: cfg.Kroger.ClientSecret,
		RedirectURI:  cfg.Kroger.RedirectURI,
		LocationID:   cfg.Kroger.LocationID,
	}, http.DefaultClient, &dbTokenStore{st: st}, slog.Default())

	llm, classifier, err := newLLMClients(ctx, cfg)
	if err != nil {
		return err
	}

	b := &bot{
		cfg:        cfg,
		st:         st,
		kroger:     krogerClient,
		llm:        llm,
		classifier: classifier,
		slack:      slack.NewClient(cfg.Slack.BotToken, http.DefaultClient),
	}

	srv := &http.Server{Addr: cfg.Agent.HTTPAddr, Handler: newMux(st, krogerClient)}
	go func() {
		slog.Info("http server listening", "addr", cfg.Agent.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
		}
	}()

	socket := slack.NewSocketMode(cfg.Slack.AppToken, cfg.Slack.ChannelID, cfg.Slack.UserMapping(), http.DefaultClient, slog.Default())
	slog.Info("grocerybot starting", "backend", cfg.Agent.LLMBackend, "model", llm.Model(), "channel", cfg.Slack.ChannelID)
	if err := socket.Run(ctx, b.handleMessage); err != nil {
		slog.Error("socket mode exited", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type bot struct {
	cfg        grocerybot.Config
	st         *store.Store
	kroger     *kroger.Client
	llm        coordinator.LLMClient
	classifier coordinator.LLMClient
	slack      grocerybot.SlackClient
}

// handleMessage runs the full turn for one Slack message and posts the reply.
func (b *bot) handleMessage(ctx context.Context, ev slack.MessageEvent) {
	slog.Info("message received", "user", ev.User, "ts", ev.Timestamp)

	result := b.process(ctx, ev)

	if err := b.slack.PostMessage(ctx, ev.Channel, result.Text); err != nil {
		slog.Error("posting reply failed", "error", err, "user", ev.User)
	}
}

// process drives the coordinator inside one transaction: commit when the
// loop reports durable progress, roll back otherwise. The conversation row
// is recorded afterwards in its own transaction either way.
func (b *bot) process(ctx context.Context, ev slack.MessageEvent) coordinator.Result {
	tx, err := b.st.Begin()
	if err != nil {
		slog.Error("beginning transaction failed", "error", err)
		return coordinator.Result{Text: outerApology, Status: store.ConversationAPIError, Err: err.Error()}
	}

	builder := coordinator.NewContextBuilder(tx, b.classifier, b.kroger, slog.Default())
	if err := builder.UseTimezone(b.cfg.Agent.UserTimezone); err != nil {
		slog.Warn("falling back to server timezone", "error", err)
	}

	coord := coordinator.NewCoordinator(
		b.llm,
		tools.NewRegistry(tx, b.kroger),
		builder,
		tx,
		coordinator.Config{
			MaxTurns:       b.cfg.Agent.MaxToolTurns,
			CheckpointTurn: b.cfg.Agent.StatusCheckpointTurn,
		},
		grocerybot.NewStdoutCoordinationLogger(),
		slog.Default(),
	)

	result, runErr := coord.Run(ctx, ev.User, ev.Text)
	if runErr != nil {
		slog.Error("coordinator run failed", "error", runErr, "user", ev.User)
		if err := tx.Rollback(); err != nil {
			slog.Error("rollback failed", "error", err)
		}
	} else if err := tx.Commit(); err != nil {
		slog.Error("commit failed", "error", err)
		result.Text = outerApology
		result.Status = store.ConversationAPIError
		result.Err = err.Error()
	}

	b.record(ev, result)
	return result
}

// record persists the conversation row in its own short transaction so the
// exchange is durable even when the message's main transaction rolled back.
func (b *bot) record(ev slack.MessageEvent, result coordinator.Result) {
	snapshot := datatypes.JSONMap{}
	for k, v := range result.ContextSnapshot {
		snapshot[k] = v
	}
	snapshot["input_tokens"] = result.InputTokens
	snapshot["output_tokens"] = result.OutputTokens
	snapshot["turns"] = result.Turns
	snapshot["hit_limit"] = result.HitLimit
	if result.Err != "" {
		snapshot["error"] = result.Err
	}

	tx, err := b.st.Begin()
	if err != nil {
		slog.Error("recording conversation failed", "error", err)
		return
	}
	conv := &store.Conversation{
		Timestamp:       time.Now(),
		User:            ev.User,
		Message:         ev.Text,
		Response:        result.Text,
		Status:          result.Status,
		AssistantModel:  result.Model,
		InputTokens:     result.InputTokens,
		OutputTokens:    result.OutputTokens,
		Turns:           result.Turns,
		ContextSnapshot: snapshot,
		SlackUserID:     ev.SlackUserID,
		SlackMessageTS:  ev.Timestamp,
	}
	if err := tx.CreateConversation(conv); err != nil {
		slog.Error("recording conversation failed", "error", err)
		tx.Rollback() // nolint: errcheck
		return
	}
	if err := tx.Commit(); err != nil {
		slog.Error("recording conversation failed", "error", err)
	}
}

// newLLMClients builds the main and classifier model clients for the
// configured backend.
func newLLMClients(ctx context.Context, cfg grocerybot.Config) (coordinator.LLMClient, coordinator.LLMClient, error) {
	switch cfg.Agent.LLMBackend {
	case "anthropic":
		if cfg.Anthropic.APIKey == "" {
			return nil, nil, errors.New("ANTHROPIC_API_KEY is required when LLM_BACKEND=anthropic")
		}
		llm := anthropic.NewLLMClient(cfg.Anthropic.APIKey, http.DefaultClient, anthropic.LLMOptions{
			Model:               cfg.Anthropic.Model,
			EnablePromptCaching: cfg.Agent.EnablePromptCaching,
		})
		classifier := anthropic.NewLLMClient(cfg.Anthropic.APIKey, http.DefaultClient, anthropic.LLMOptions{
			Model: cfg.Anthropic.ClassifierModel,
		})
		return llm, classifier, nil

	case "bedrock":
		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, err
		}
		rt := bedrockruntime.NewFromConfig(awsCfg)
		llm := bedrock.NewLLMClient(rt, bedrock.LLMOptions{ModelID: cfg.Bedrock.ModelID})
		classifier := bedrock.NewLLMClient(rt, bedrock.LLMOptions{ModelID: cfg.Bedrock.ClassifierModelID})
		return llm, classifier, nil

	default:
		return nil, nil, fmt.Errorf("unknown LLM_BACKEND %q", cfg.Agent.LLMBackend)
	}
}

func newMux(st *store.Store, kc *kroger.Client) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"name":    "grocerybot",
			"status":  "running",
			"version": version,
		})
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":   "unhealthy",
				"database": err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "healthy",
			"database": "connected",
		})
	})

	mux.HandleFunc("/kroger/callback", func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code parameter", http.StatusBadRequest)
			return
		}
		if err := kc.ExchangeAuthCode(r.Context(), code); err != nil {
			slog.Error("kroger auth code exchange failed", "error", err)
			http.Error(w, "authorization failed", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><body><p>Kroger connected. You can close this tab.</p></body></html>")) // nolint: errcheck
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body) // nolint: errcheck
}

// applySeedData preloads recipes and pantry stock when a seed source is
// configured. Re-running against a seeded database changes nothing.
func applySeedData(ctx context.Context, cfg grocerybot.AgentConfig, st *store.Store) error {
	switch {
	case cfg.SeedDataPath != "":
		return seed.Apply(ctx, st, seed.NewFileSource(cfg.SeedDataPath), slog.Default())

	case cfg.SeedDataBucket != "":
		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return err
		}
		src := seed.NewS3Source(s3.NewFromConfig(awsCfg), cfg.SeedDataBucket, cfg.SeedDataKey)
		return seed.Apply(ctx, st, src, slog.Default())

	default:
		return nil
	}
}

// dbTokenStore persists Kroger OAuth tokens in the conversations database.
type dbTokenStore struct {
	st *store.Store
}

func (d *dbTokenStore) Load(ctx context.Context) (kroger.Tokens, error) {
	tok, err := d.st.KrogerTokens()
	if err != nil {
		return kroger.Tokens{}, err
	}
	return kroger.Tokens{
		Access:  tok.AccessToken,
		Refresh: tok.RefreshToken,
		Expiry:  tok.TokenExpiry,
	}, nil
}

func (d *dbTokenStore) Save(ctx context.Context, t kroger.Tokens) error {
	return d.st.SaveKrogerTokens(t.Access, t.Refresh, t.Expiry)
}
