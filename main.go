package main

import (
	"log"
	"os"
	"time"

	"todochat/internal/agent"
	"todochat/internal/api"
	"todochat/internal/auth"
	"todochat/internal/config"
	"todochat/internal/redis"
	"todochat/internal/service/chat"
	"todochat/internal/service/conversation"
	"todochat/internal/service/task"
	"todochat/internal/storage"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("TODOCHAT_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("TODOCHAT_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	// Create necessary tables: users, tokens, conversations, messages, tasks
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	rdb, err := redis.NewClient(cfg)
	if err != nil {
		log.Fatalf("create redis client: %v", err)
	}
	defer rdb.Close()

	tokenTTL := time.Duration(cfg.BasicConfig.TokenTTLHours) * time.Hour
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	authService := auth.NewService(db, rdb, tokenTTL)

	generator, err := agent.New(cfg)
	if err != nil {
		log.Fatalf("init response generator: %v", err)
	}
	log.Printf("agent mode: %s\n", cfg.Agent.Mode)

	conversations := conversation.NewService(db)
	tasks := task.NewService(db)
	orchestrator := chat.NewOrchestrator(conversations, chat.NewDispatcher(tasks), generator)

	handlers := api.NewHandler(authService, conversations, tasks, orchestrator)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}

	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
