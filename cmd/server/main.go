package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"retailflow/backend/internal/cache"
	"retailflow/backend/internal/catalog"
	"retailflow/backend/internal/config"
	"retailflow/backend/internal/domain"
	"retailflow/backend/internal/httpapi"
	"retailflow/backend/internal/service"
	"retailflow/backend/internal/store"
	"retailflow/backend/internal/store/memory"
	pgstore "retailflow/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else if cfg.InventoryCSV != "" {
		repo = memory.New()
		log.Println("repository: in-memory")
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory (seeded)")
	}

	exporter := service.InventoryExporter(service.NoopExporter{})
	if cfg.InventoryCSV != "" {
		if err := seedInventory(ctx, repo, cfg.InventoryCSV); err != nil {
			log.Fatalf("inventory CSV %s: %v", cfg.InventoryCSV, err)
		}
		exporter = catalog.FileExporter{Path: cfg.InventoryCSV}
		log.Printf("inventory: %s (write-through)", cfg.InventoryCSV)
	}

	if cfg.OperatorsCSV != "" {
		if err := seedOperators(ctx, repo, cfg.OperatorsCSV); err != nil {
			log.Fatalf("operators CSV %s: %v", cfg.OperatorsCSV, err)
		}
		log.Printf("operators: %s", cfg.OperatorsCSV)
	}

	receiptCache := cache.ReceiptCache(cache.NoopReceiptCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisReceiptCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop cache", err)
		} else {
			receiptCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("cache: redis")
		}
	} else {
		log.Println("cache: noop")
	}

	svc := service.New(repo, receiptCache, time.Duration(cfg.ReceiptCacheTTLSeconds)*time.Second, exporter)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("POS ledger backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func seedInventory(ctx context.Context, repo store.Repository, path string) error {
	items, err := catalog.LoadItems(path)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := repo.PutItem(ctx, item); err != nil {
			return fmt.Errorf("seed item %s: %w", item.UPC, err)
		}
	}
	log.Printf("seeded %d items", len(items))
	return nil
}

// seedOperators loads the flat user file and hashes each password
// before it reaches the store. Existing operators are left alone so a
// restart does not clobber rotated credentials.
func seedOperators(ctx context.Context, repo store.Repository, path string) error {
	creds, err := catalog.LoadOperators(path)
	if err != nil {
		return err
	}

	existing, err := repo.ListOperators(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(existing))
	for _, op := range existing {
		known[op.Username] = true
	}

	seeded := 0
	for username, password := range creds {
		if known[username] {
			continue
		}
		hash, err := httpapi.HashPassword(password)
		if err != nil {
			return fmt.Errorf("hash password for %s: %w", username, err)
		}
		op := domain.Operator{
			Username:  username,
			Password:  hash,
			Role:      domain.RoleCashier,
			Active:    true,
			CreatedAt: time.Now().UTC(),
		}
		if username == "manager" {
			op.Role = domain.RoleManager
		}
		if err := repo.CreateOperator(ctx, op); err != nil {
			return fmt.Errorf("seed operator %s: %w", username, err)
		}
		seeded++
	}
	log.Printf("seeded %d operators", seeded)
	return nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
