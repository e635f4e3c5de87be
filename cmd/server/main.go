package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tale-weaver/internal/capability"
	"tale-weaver/internal/config"
	httpdelivery "tale-weaver/internal/delivery/http"
	wsdelivery "tale-weaver/internal/delivery/websocket"
	"tale-weaver/internal/media"
	"tale-weaver/internal/narrative"
	"tale-weaver/internal/session"
	"tale-weaver/internal/storage"
	"tale-weaver/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	openai "github.com/sashabaranov/go-openai"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
)

func main() {
	// .env опционален: в контейнере конфигурация приходит из окружения
	if err := godotenv.Load(); err != nil {
		fmt.Println("Файл .env не найден, используются переменные окружения")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Не удалось загрузить конфигурацию: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Encoding: cfg.LogEncoding})
	if err != nil {
		fmt.Printf("Не удалось инициализировать логгер: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)

	// Проба возможностей: без ключа облачные уровни не предлагаются вовсе
	probe := capability.NewProbe(cfg.AIAPIKey != "")

	openaiConfig := openai.DefaultConfig(cfg.AIAPIKey)
	openaiConfig.BaseURL = cfg.AIBaseURL
	openaiClient := openai.NewClientWithConfig(openaiConfig)

	// --- Медиа-конвейеры ---
	var imageProviders []media.ImageProvider
	if probe.CloudAvailable() {
		imageProviders = append(imageProviders, media.NewOpenAIImageProvider(openaiClient, cfg.ImageModel, log))
	}
	if cfg.ImageServerURL != "" {
		imageProviders = append(imageProviders, media.NewLocalImageProvider(cfg.ImageServerURL, cfg.ImageTimeout, log))
	}
	imagePipeline := media.NewImagePipeline(log, cfg.PromptStylePrefix, imageProviders...)

	hub := wsdelivery.NewHub(log)

	// Локальных уровней синтеза и распознавания у сервера нет: при отказе
	// облака конвейеры отвечают типизированной недоступностью
	speechPipeline := media.NewSpeechPipeline(log,
		media.NewOpenAISpeechSynthesizer(openaiClient, cfg.SpeechModel), nil, hub.Audio(), probe)
	listenPipeline := media.NewListenPipeline(log,
		hub.Audio(), media.NewOpenAITranscriber(openaiClient, cfg.TranscribeModel), nil, probe, cfg.ListenWindow)

	// --- Генератор нарратива ---
	generator, err := narrative.New(cfg, probe)
	if err != nil {
		log.Fatal("Не удалось создать генератор нарратива", zap.Error(err))
	}

	// --- Хранилище снимков ---
	store, err := storage.NewSnapshotRepository(cfg.SnapshotPath, log)
	if err != nil {
		log.Fatal("Не удалось открыть хранилище снимков", zap.Error(err))
	}
	defer store.Close()

	// --- Контроллер сессии ---
	controller := session.NewController(log, generator, imagePipeline, speechPipeline, listenPipeline, store, hub)

	snap, err := store.Load()
	if err != nil {
		log.Warn("Снимок не загружен", zap.Error(err))
	}
	controller.Restore(snap)

	// --- HTTP сервер ---
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpdelivery.ZapLoggingMiddleware(log))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSAllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	prom := ginprometheus.NewPrometheus("tale_weaver")
	prom.Use(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	httpdelivery.NewSessionHandler(controller, log).RegisterRoutes(router)
	router.GET("/ws", hub.ServeWS)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info("HTTP сервер запускается", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Сбой HTTP сервера", zap.Error(err))
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Получен сигнал завершения, останавливаемся...")

	controller.StopNarration()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Принудительное завершение сервера", zap.Error(err))
	}
	log.Info("Сервер остановлен")
}
