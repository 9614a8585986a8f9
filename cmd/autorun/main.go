package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"autorun/internal/account"
	"autorun/internal/auth"
	"autorun/internal/autorun"
	"autorun/internal/config"
	"autorun/internal/db"
	httpx "autorun/internal/http"
	"autorun/internal/interaction"
	"autorun/internal/lock"
	"autorun/internal/notify"
	"autorun/internal/outbox"
	"autorun/internal/platform"
	"autorun/internal/progress"
	"autorun/internal/scheduler"
	"autorun/internal/suggest"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	gdb, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	if err := db.AutoMigrateAndIndexes(gdb); err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var locker lock.Locker
	if cfg.RedisAddr != "" {
		rdb, err := db.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatal(err)
		}
		defer rdb.Close()
		locker = lock.NewRedis(rdb)
		log.Printf("execution lock: redis %s\n", cfg.RedisAddr)
	} else {
		locker = lock.NewMemory()
		log.Println("execution lock: in-process (single instance only)")
	}

	jobsRepo := &autorun.Repo{DB: gdb, MaxActive: cfg.MaxActiveJobs}
	accounts := &account.Repo{DB: gdb}
	guard := &interaction.Guard{DB: gdb}

	// records left RUNNING by a crash can no longer finish
	if n, err := jobsRepo.FailStaleRecords(ctx, time.Now().Add(-cfg.LockTTL)); err != nil {
		log.Printf("fail stale records: %v\n", err)
	} else if n > 0 {
		log.Printf("marked %d stale execution records FAILED\n", n)
	}

	platforms, err := platform.ParseEndpoints(cfg.PlatformEndpoints, cfg.PlatformTimeout)
	if err != nil {
		log.Fatal(err)
	}
	if len(platforms.Types()) == 0 {
		log.Println("no PLATFORM_ENDPOINTS configured: every dispatch will fail to resolve a platform")
	}

	suggester := buildSuggester(ctx, cfg)

	var sender outbox.Sender = notify.Log{}
	if cfg.TelegramBotToken != "" {
		tg, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			log.Fatal(err)
		}
		sender = tg
	}
	notifications := &outbox.Repo{DB: gdb}
	go outbox.NewWorker(notifications, sender).Run(ctx)

	hub := progress.NewHub()
	queue := interaction.NewQueue(cfg.QueueWorkers, cfg.QueueBuffer)
	queue.Start(ctx)

	engine := &interaction.Engine{
		Jobs:      jobsRepo,
		History:   guard,
		Locker:    locker,
		Platforms: platforms,
		Suggester: suggester,
		Notifier:  notifications,
		Progress:  hub,
		Queue:     queue,
		LockTTL:   cfg.LockTTL,
		ItemDelay: cfg.ItemDelay,
	}

	sched := scheduler.New(jobsRepo, cfg.SchedulerSpec)
	sched.Register(autorun.TypeInteraction, scheduler.InteractionHandler(accounts, engine))
	if err := sched.Start(ctx); err != nil {
		log.Fatal(err)
	}

	jwtSvc := auth.NewJWT(cfg.JWTSecret, cfg.JWTTTL)
	r := httpx.NewRouter(cfg, httpx.Deps{
		DB:        gdb,
		JWT:       jwtSvc,
		Jobs:      jobsRepo,
		Accounts:  accounts,
		Guard:     guard,
		Runner:    engine,
		Scheduler: sched,
		Hub:       hub,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("listening on %s\n", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	// graceful shutdown
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	sched.Stop()
	cancel()
	queue.Stop()
	hub.Close()
}

func buildSuggester(ctx context.Context, cfg config.Config) interaction.Suggester {
	var chain suggest.Chain
	if cfg.GeminiAPIKey != "" {
		g, err := suggest.NewGemini(ctx, cfg.GeminiAPIKey)
		if err != nil {
			log.Fatal(err)
		}
		chain = append(chain, g)
	}
	if cfg.SuggestFallback != "" {
		chain = append(chain, suggest.Static{Text: cfg.SuggestFallback})
	}
	if len(chain) == 0 {
		log.Println("no content suggester configured: jobs must carry comment_content")
		return nil
	}
	return chain
}
