package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	authsvc "tradeup/internal/app/services/auth"
	msgsvc "tradeup/internal/app/services/messaging"
	domainmsg "tradeup/internal/domain/messaging"
	domainuser "tradeup/internal/domain/user"
	"tradeup/internal/infra/broker/kafka"
	"tradeup/internal/infra/config"
	mongodb "tradeup/internal/infra/db/mongo"
	ginserver "tradeup/internal/infra/http/gin"
	"tradeup/internal/infra/obs"
	"tradeup/internal/infra/security"
	"tradeup/internal/infra/storage/memory"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env)

	users, messagingRepo, ready, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		logger.Error("storage init failed", "mode", cfg.StorageMode, "error", err)
		os.Exit(1)
	}
	logger.Info("storage ready", "mode", cfg.StorageMode)

	var events msgsvc.EventSink
	if len(cfg.KafkaBrokers) > 0 {
		sink, err := kafka.NewChatEvents(cfg.KafkaBrokers, cfg.KafkaTopicPrefix, nil)
		if err != nil {
			logger.Warn("kafka producer unavailable, chat events disabled", "error", err)
		} else {
			events = sink
			defer sink.Close()
		}
	}

	authService := &authsvc.Service{
		Users:      users,
		Sessions:   memory.NewSessionStore(),
		Passwords:  security.BcryptHasher{},
		Tokens:     security.RandomTokenGenerator{},
		SessionTTL: cfg.SessionTTL,
		Logger:     logger,
	}
	messagingService := &msgsvc.Service{
		Repo:   messagingRepo,
		Users:  users,
		Events: events,
		Logger: logger,
	}

	if cfg.StorageMode == config.StorageModeMemory {
		seedDemoUsers(ctx, users, authService, logger)
	}

	handlers := ginserver.Handlers{
		Auth:           ginserver.AuthHandler{Service: authService, Logger: logger},
		Chat:           ginserver.ChatHandler{Service: messagingService, Logger: logger},
		Events:         ginserver.EventsHandler{Service: messagingService, PollInterval: cfg.EventsPollInterval, Logger: logger},
		AuthMiddleware: ginserver.AuthMiddleware{Service: authService, Logger: logger}.Handle,
	}
	health := obs.HealthHandlers{Checks: map[string]func() error{"storage": ready}}
	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, health, handlers)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("HTTP server starting", "addr", cfg.HTTPAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("HTTP server stopped")
}

func buildStorage(ctx context.Context, cfg config.Config, logger *slog.Logger) (domainuser.Repository, domainmsg.Repository, func() error, error) {
	if cfg.StorageMode == config.StorageModeMemory {
		return memory.NewUserRepository(), memory.NewMessagingRepository(), func() error { return nil }, nil
	}

	client, err := mongodb.New(cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		return nil, nil, nil, err
	}
	users := mongodb.NewUserRepository(client.DB)
	messaging := mongodb.NewMessagingRepository(client.DB)

	indexCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := users.EnsureIndexes(indexCtx); err != nil {
		return nil, nil, nil, fmt.Errorf("user indexes: %w", err)
	}
	if err := messaging.EnsureIndexes(indexCtx); err != nil {
		return nil, nil, nil, fmt.Errorf("messaging indexes: %w", err)
	}
	ready := func() error {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return client.Ping(pingCtx)
	}
	return users, messaging, ready, nil
}

type demoUser struct {
	Email        string `json:"email"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	BusinessName string `json:"business_name"`
	AvatarURL    string `json:"avatar_url"`
	Password     string `json:"password"`
	Role         string `json:"role"`
}

// seedDemoUsers imports fixture accounts in memory mode so the API is usable
// out of the box. A missing fixtures file is not an error.
func seedDemoUsers(ctx context.Context, users domainuser.Repository, auth *authsvc.Service, logger *slog.Logger) {
	path := os.Getenv("USERS_FIXTURES")
	if path == "" {
		path = "data/users.json"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("user fixtures read failed", "path", path, "error", err)
		}
		return
	}
	var fixtures []demoUser
	if err := json.Unmarshal(data, &fixtures); err != nil {
		logger.Warn("user fixtures decode failed", "path", path, "error", err)
		return
	}
	for _, fx := range fixtures {
		hash, err := auth.Passwords.Hash(fx.Password)
		if err != nil {
			logger.Error("fixture password hash failed", "email", fx.Email, "error", err)
			continue
		}
		roles := []domainuser.Role{domainuser.RoleBuyer}
		if fx.Role != "" {
			roles = append(roles, domainuser.Role(fx.Role))
		}
		account, err := domainuser.NewUser(domainuser.CreateParams{
			ID:           domainuser.ID(uuid.NewString()),
			Email:        fx.Email,
			FirstName:    fx.FirstName,
			LastName:     fx.LastName,
			BusinessName: fx.BusinessName,
			AvatarURL:    fx.AvatarURL,
			PasswordHash: hash,
			Roles:        roles,
			CreatedAt:    time.Now(),
		})
		if err != nil {
			logger.Error("fixture invalid", "email", fx.Email, "error", err)
			continue
		}
		if err := users.Save(ctx, account); err != nil {
			logger.Error("cannot store fixture user", "email", fx.Email, "error", err)
			continue
		}
		logger.Info("demo user imported", "email", account.Email, "user_id", account.ID)
	}
}
