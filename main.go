package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go-microbank/api"
	"go-microbank/config"
	"go-microbank/events"
	"go-microbank/ledger"
	"go-microbank/metrics"
	"go-microbank/session"
	"go-microbank/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.StoreBackend, err)
	}
	defer st.Close()

	opts := []ledger.Option{}
	if cfg.RedisAddr != "" {
		rdb, err := events.NewRedisClient(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer rdb.Close()
		opts = append(opts, ledger.WithNotifier(events.NewPublisher(rdb, 10000)))
		log.Printf("Publishing ledger events to Redis at %s", cfg.RedisAddr)
	}

	bank, err := ledger.Open(ctx, st, opts...)
	if err != nil {
		log.Fatalf("Failed to load ledger: %v", err)
	}

	// gin.Default() brings the Logger and Recovery middleware.
	r := gin.Default()
	r.Use(corsMiddleware(cfg.CORSOrigins), metrics.Middleware())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	api.NewHandler(bank, session.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)).Register(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Starting go-microbank server on :%s (store: %s, env: %s)", cfg.Port, cfg.StoreBackend, cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Error starting server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	if err := bank.Flush(shutdownCtx); err != nil {
		log.Printf("Final flush failed: %v", err)
	}
	log.Println("Server exited")
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		return store.NewPostgresStore(ctx, cfg.DatabaseURL)
	default:
		return store.NewFileStore(cfg.DataDir)
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return cors.New(c)
}
