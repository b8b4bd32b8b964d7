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

	"github.com/gin-gonic/gin"

	"github.com/newbihanigroup-creator/khaacho-sub005/config"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/api"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/assignment"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/broker"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/gateway"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/queue"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/redisclient"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/selection"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/service"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/store"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/util"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting fulfillment service")

	tp, err := util.InitTracer("fulfillment-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	if cfg.Server.Env == "development" {
		if err := db.EnsureSchema(context.Background()); err != nil {
			log.Fatalf("Failed to apply schema: %v", err)
		}
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	messenger := gateway.NewLogMessenger()
	notifier := gateway.NewLogNotifier()

	taskQueue := queue.NewQueue(db, cfg.Queue)
	selector := selection.NewSelector(db, redisClient, cfg.Selection)
	machine := assignment.NewMachine(db, selector, eventPublisher, taskQueue, cfg.Timeout)
	orderService := service.NewOrderService(db, selector, machine, eventPublisher, cfg.Timeout)

	notifications := service.NewNotificationService(db, messenger, notifier)
	notifications.Register(taskQueue)
	recalculator := assignment.NewRecalculator(db)
	taskQueue.Register(queue.QueueScoreRecalc, recalculator.Handle)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	pool := queue.NewPool(taskQueue, notifier)
	pool.Start(workerCtx)

	sweeper := assignment.NewSweeper(db, redisClient, machine, cfg.Timeout)
	go sweeper.Run(workerCtx)

	monitor := queue.NewMonitor(db, notifier, cfg.Queue)
	go monitor.Run(workerCtx)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(orderService, machine, db, cfg.Queue.MaxAttempts)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	pool.Wait()

	log.Println("Server exited")
}
