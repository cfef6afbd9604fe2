package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snaplink/internal/auth"
	"github.com/snaplink/internal/broker"
	brokermem "github.com/snaplink/internal/broker/memory"
	"github.com/snaplink/internal/config"
	"github.com/snaplink/internal/conversation"
	"github.com/snaplink/internal/delivery"
	"github.com/snaplink/internal/feed"
	"github.com/snaplink/internal/handler"
	"github.com/snaplink/internal/logger"
	"github.com/snaplink/internal/middleware"
	"github.com/snaplink/internal/model"
	"github.com/snaplink/internal/push"
	"github.com/snaplink/internal/repository"
	"github.com/snaplink/internal/startup"
	"github.com/snaplink/internal/ws"
	"github.com/snaplink/migrations"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL and in-memory broker (no external services required)")
	flag.Parse()

	logger.Info("starting API service")
	cfg := config.Load()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 4

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
	defer pool.Close()

	runMigrations(pool)
	if *migrate && !*dev {
		return
	}
	logger.Info("database connected, migrations applied")

	// Быстрый путь доставки: Redis pub/sub; в -dev broker в памяти
	// (один процесс, внешние сервисы не нужны).
	var br broker.Broker
	if *dev {
		br = brokermem.New()
		logger.Info("using in-memory broker (-dev)")
	} else {
		br = startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second, "")
		logger.Info("redis connected")
	}
	defer br.Close()

	// Лента изменений БД: LISTEN message_events, страхующий путь доставки.
	listener := feed.NewListener(pool)
	feedCtx, feedCancel := context.WithCancel(context.Background())
	var feedWg sync.WaitGroup
	feedWg.Add(1)
	go func() {
		defer feedWg.Done()
		listener.Run(feedCtx)
	}()

	userRepo := repository.NewUserRepository(pool)
	friendRepo := repository.NewFriendshipRepository(pool)
	msgRepo := repository.NewMessageRepository(pool)
	notifRepo := repository.NewNotificationRepository(pool)
	pushSubRepo := repository.NewPushSubscriptionRepository(pool)

	if cfg.Push.VAPIDPublicKey == "" || cfg.Push.VAPIDPrivateKey == "" {
		keys, err := push.EnsureVAPIDKeys("")
		if err == nil {
			cfg.Push.VAPIDPublicKey = keys.PublicKey
			cfg.Push.VAPIDPrivateKey = keys.PrivateKey
		} else {
			logger.Infof("VAPID: не удалось загрузить/сгенерировать ключи: %v — push отключены", err)
		}
	}
	pusher := push.NewSender(pushSubRepo, cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey, cfg.Push.Subject)
	if !pusher.Enabled() {
		logger.Info("VAPID keys not set — push-уведомления отключены (подписки сохраняются, отправка не выполняется)")
	}

	agg := conversation.NewAggregator(friendRepo, msgRepo, cfg.CacheTTL())

	transport := delivery.NewTransport(msgRepo, br, listener, delivery.Options{
		DedupCapacity: cfg.DedupCapacity,
		OnPersist: func(m *model.Message) {
			// Новое сообщение меняет список диалогов обеих сторон.
			agg.Invalidate(m.SenderID)
			agg.Invalidate(m.ReceiverID)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			sender, err := userRepo.GetByID(ctx, m.SenderID)
			title := "SnapLink"
			if err == nil {
				title = sender.Username
			}
			body := m.Content
			if body == "" {
				body = string(m.Kind)
			}
			n := &model.Notification{
				UserID:     m.ReceiverID,
				FromUserID: m.SenderID,
				Type:       model.NotificationMessage,
				MessageID:  &m.ID,
				Body:       body,
			}
			if err := notifRepo.Create(ctx, n); err != nil {
				logger.Errorf("message notification create: %v", err)
			}
			pusher.Notify(ctx, m.ReceiverID, title, body, map[string]string{
				"type":      string(model.NotificationMessage),
				"sender_id": m.SenderID,
			})
		},
	})

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := ws.NewHub(transport, br, msgRepo, friendRepo, agg, ws.Options{
		MaxConnections: cfg.MaxWSConnections,
		SendBufferSize: cfg.WSSendBufferSize,
		MaxMessageSize: int64(cfg.WSMaxMessageSize),
	})

	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	tokens := auth.NewManager(cfg.JWTSecret, cfg.SessionTTL)

	authH := handler.NewAuthHandler(userRepo, tokens)
	userH := handler.NewUserHandler(userRepo)
	friendH := handler.NewFriendHandler(friendRepo, userRepo, notifRepo, agg, pusher)
	msgH := handler.NewMessageHandler(msgRepo, friendRepo, transport, agg)
	convH := handler.NewConversationHandler(agg)
	notifH := handler.NewNotificationHandler(notifRepo)
	pushH := handler.NewPushHandler(pushSubRepo, cfg.Push.VAPIDPublicKey)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket — иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.RateLimitAPI)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Get("/api/push/vapid-public", pushH.VAPIDPublic)
	r.Post("/api/auth/register", authH.Register)
	r.Post("/api/auth/login", authH.Login)

	r.Group(func(r chi.Router) {
		r.Use(middleware.JWTAuth(tokens))
		r.Get("/api/users/me", userH.Me)
		r.Put("/api/users/me", userH.UpdateProfile)
		r.Get("/api/users/search", userH.Search)
		r.Get("/api/users/{userId}", userH.GetByID)
		r.Get("/api/friends", friendH.List)
		r.Get("/api/friends/pending", friendH.Pending)
		r.Post("/api/friends/request", friendH.Request)
		r.Post("/api/friends/{friendshipId}/accept", friendH.Accept)
		r.Delete("/api/friends/{friendId}", friendH.Remove)
		r.Get("/api/conversations", convH.List)
		r.Get("/api/conversations/{friendId}/messages", msgH.GetConversation)
		r.Post("/api/conversations/{friendId}/messages", msgH.Send)
		r.Post("/api/conversations/{friendId}/read", msgH.MarkRead)
		r.Get("/api/conversations/{friendId}/unread", msgH.UnreadCount)
		r.Get("/api/notifications", notifH.List)
		r.Post("/api/notifications/read", notifH.MarkAllRead)
		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)
		r.Get("/ws", wsH.ServeWS)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	feedCancel()
	feedWg.Wait()
	logger.Info("feed listener stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

// runMigrations применяет встроенные миграции по порядку имён файлов.
func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	files, err := fs.Glob(migrations.Files, "*.sql")
	if err != nil {
		logger.Errorf("list migrations: %v", err)
		os.Exit(1)
	}
	sort.Strings(files)
	for _, f := range files {
		data, err := migrations.Files.ReadFile(f)
		if err != nil {
			logger.Errorf("read migration %s: %v", f, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", f, err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "snaplink"
		password = "snaplink_secret"
		database = "snaplink"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
