package main

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"debatelab/internal/api"
	"debatelab/internal/config"
	"debatelab/internal/llm"
	"debatelab/internal/matchmaker"
	"debatelab/internal/moderation"
	"debatelab/internal/persona"
	"debatelab/internal/position"
	"debatelab/internal/redis"
	"debatelab/internal/roles"
	"debatelab/internal/scheduler"
	"debatelab/internal/storage"
	"debatelab/internal/store"
	"debatelab/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found")
	}

	cfgPath := os.Getenv("DEBATELAB_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("DEBATELAB_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	rdb, err := redis.NewRedisClient(cfg)
	if err != nil {
		log.Printf("redis unavailable, running without push delivery and reply guards: %v", err)
		rdb = nil
	} else {
		defer rdb.Close()
	}

	roomStore := store.NewService(db, dbType, rdb)
	assigner := roles.NewAssigner(roomStore)
	mm := matchmaker.New(roomStore, assigner)

	provider := os.Getenv("DEBATELAB_PROVIDER")
	if provider == "" {
		provider = "openai"
	}
	chatModel, modelErr := llm.NewChatModel(context.Background(), cfg, provider)
	if modelErr != nil {
		if errors.Is(modelErr, llm.ErrMissingCredential) {
			log.Printf("generation degraded: %v", modelErr)
		} else {
			log.Fatalf("init chat model: %v", modelErr)
		}
	}

	var responder *persona.Responder
	if chatModel != nil {
		responder = persona.NewResponder(chatModel)
	}
	gate := moderation.NewGate(moderation.NewClassifier(cfg.Moderation), chatModel)
	tracker := position.NewTracker(chatModel)

	dispatcher := worker.NewDispatcher(worker.DispatcherConfig{
		MinWorkers:        cfg.BasicConfig.MinWorkers,
		MaxWorkers:        cfg.BasicConfig.MaxWorkers,
		QueueSize:         cfg.BasicConfig.QueueSize,
		WorkerIdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Minute,
	})
	sched := scheduler.New(roomStore, responderOrDeflect(responder, chatModel), tracker, dispatcher, rdb)

	silenceEvery := time.Duration(cfg.BasicConfig.SilencePollEvery) * time.Second
	if silenceEvery <= 0 {
		silenceEvery = 15 * time.Second
	}
	silenceAfter := time.Duration(cfg.BasicConfig.SilenceThreshold) * time.Second
	if silenceAfter <= 0 {
		silenceAfter = 45 * time.Second
	}
	monitorCtx, monitorCancel := context.WithCancel(context.Background())
	defer monitorCancel()
	go sched.RunSilenceMonitor(monitorCtx, silenceEvery, silenceAfter)

	handlers := api.NewHandler(roomStore, mm, gate, responder, modelErr, tracker, sched)

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

// responderOrDeflect always hands the scheduler a generator; with no model
// every scheduled reply degrades to a deflection line instead of crashing.
func responderOrDeflect(r *persona.Responder, model llm.Generator) *persona.Responder {
	if r != nil {
		return r
	}
	return persona.NewResponder(model)
}
