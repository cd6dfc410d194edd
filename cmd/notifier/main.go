// cmd/notifier/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	commonaws "placement-mailer/internal/common/aws"
	"placement-mailer/internal/common/camunda"
	"placement-mailer/internal/common/config"
	"placement-mailer/internal/common/database"
	"placement-mailer/internal/common/logger"
	"placement-mailer/internal/common/observability"
	"placement-mailer/internal/pipeline/collate"
	"placement-mailer/internal/pipeline/dispatch"
	"placement-mailer/internal/pipeline/resolve"
	"placement-mailer/internal/pipeline/runner"
	"placement-mailer/internal/pipeline/sink"
	"placement-mailer/internal/store"
	"placement-mailer/internal/transport/email"

	rf "placement-mailer/internal/workers/notification/record-fact"
	rp "placement-mailer/internal/workers/notification/run-pipeline"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log logger.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName), map[string]interface{}{
				"error":       err.Error(),
				"attempt":     i + 1,
				"maxRetries":  maxRetries,
				"nextRetryIn": delay.String(),
			})
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

type readinessCheck func(ctx context.Context) error

func main() {
	bootLog := logger.New("info", "console")
	defer bootLog.Sync()

	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog).WithFields(map[string]interface{}{
		"app":     cfg.App.Name,
		"version": cfg.App.Version,
	})

	log.Info("starting notifier", map[string]interface{}{"environment": cfg.App.Environment})

	obs := observability.New(cfg.App.Name, log)
	defer obs.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checks := map[string]readinessCheck{}

	// --- PostgreSQL ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, log, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	if err := pg.EnsureSchema(ctx); err != nil {
		zapLog.Fatal("failed to ensure pipeline schema", zap.Error(err))
	}
	checks["postgres"] = pg.Ping
	log.Info("PostgreSQL connected", nil)

	// --- Redis run lock (optional) ---
	var lock runner.Lock = runner.NewLocalLock()
	if cfg.Database.Redis.Enabled() {
		var rdb *database.RedisClient
		err = retryWithBackoff(func() error {
			var err error
			rdb, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return rdb.Ping(ctx)
		}, 10, 2*time.Second, log, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer rdb.Close()
		lock = runner.NewRedisLock(rdb.Client, runner.DefaultLockKey, config.GetDuration(cfg.Pipeline.RunLockTTL), log)
		checks["redis"] = rdb.Ping
		log.Info("Redis connected, using shared run lock", nil)
	} else {
		log.Info("Redis not configured, using process-local run lock", nil)
	}

	// --- Stores ---
	db := pg.GetDB()
	facts := store.NewFactStore(db, log)
	policies := store.NewPolicyStore(db, log)
	announcements := store.NewAnnouncementStore(db, log)

	// --- Elasticsearch announcement mirror (optional) ---
	if cfg.Database.Elasticsearch.Enabled() {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping(ctx)
		}, 5, 2*time.Second, log, "Elasticsearch connection")
		if err != nil {
			// the mirror is best effort; announcements still land in postgres
			log.Warn("elasticsearch unavailable, announcement mirror disabled", map[string]interface{}{"error": err.Error()})
		} else {
			announcements.WithIndexer(store.NewAnnouncementIndex(esClient.Client, cfg.Database.Elasticsearch.AnnouncementIdx))
			log.Info("Elasticsearch connected, mirroring announcements", nil)
		}
	}

	// --- Transport ---
	transport, err := email.NewFromConfig(ctx, cfg, log)
	if err != nil {
		zapLog.Fatal("failed to build email transport", zap.Error(err))
	}
	if tester, ok := transport.(interface{ TestConnection(context.Context) error }); ok {
		if err := tester.TestConnection(ctx); err != nil {
			log.Warn("email transport connection test failed", map[string]interface{}{"error": err.Error()})
		}
	}

	loc, err := time.LoadLocation(cfg.Pipeline.Timezone)
	if err != nil {
		zapLog.Fatal("invalid pipeline timezone", zap.String("timezone", cfg.Pipeline.Timezone), zap.Error(err))
	}

	// --- Pipeline ---
	deps := runner.Dependencies{
		Facts:    facts,
		Policies: policies,
		Collator: collate.New(store.NewEntityStore(db, log), loc, log),
		Resolver: resolve.New(store.NewDirectory(db, log), log),
		Dispatcher: dispatch.New(transport, announcements, facts, dispatch.Options{
			From:                         email.FromAddress(cfg),
			OrganizationAddress:          cfg.Pipeline.OrganizationAddress,
			Concurrency:                  cfg.Pipeline.SendConcurrency,
			SendTimeout:                  config.GetDuration(cfg.Pipeline.SendTimeout),
			MarkHandledWithoutRecipients: cfg.Pipeline.MarkHandledWithoutRecipients,
		}, log),
		Lock:          lock,
		Observability: obs,
		Logger:        log,
	}
	if cfg.Pipeline.ReportTopicARN != "" {
		snsClient, err := commonaws.NewSNSClient(ctx, cfg.Integrations.AWS.Region)
		if err != nil {
			zapLog.Fatal("failed to create sns client", zap.Error(err))
		}
		deps.Publisher = runner.NewSNSReportPublisher(snsClient, cfg.Pipeline.ReportTopicARN)
	}
	pipeline := runner.New(deps)
	factSink := sink.New(facts, log)

	stopScheduler := runner.NewScheduler(pipeline, config.GetDuration(cfg.Pipeline.Interval), cfg.Pipeline.RunOnStart, log).Start(ctx)

	// --- Zeebe job workers (optional) ---
	var (
		zeebe   *camunda.Client
		workers []*camunda.CamundaWorker
	)
	if cfg.Camunda.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			zeebe, err = camunda.NewClientWithConfig(&camunda.ClientConfig{
				GatewayAddress:         cfg.Camunda.BrokerAddress,
				UsePlaintextConnection: true,
				ConnectionTimeout:      config.GetDuration(cfg.Camunda.RequestTimeout),
			})
			return err
		}, 10, 2*time.Second, log, "Zeebe client initialization")
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		checks["zeebe"] = zeebe.HealthCheck

		recordHandler, err := rf.NewHandler(rf.HandlerOptions{AppConfig: cfg, Recorder: factSink, Logger: log})
		if err != nil {
			zapLog.Fatal("failed to create record-fact handler", zap.Error(err))
		}
		if recordHandler.IsEnabled() {
			workers = append(workers, camunda.NewWorker(zeebe.GetClient(), rf.TaskType, config.GetWorkerConfig(cfg, rf.TaskType), recordHandler, log))
		}

		runHandler, err := rp.NewHandler(rp.HandlerOptions{AppConfig: cfg, Runner: pipeline, Logger: log})
		if err != nil {
			zapLog.Fatal("failed to create run-pipeline handler", zap.Error(err))
		}
		if runHandler.IsEnabled() {
			workers = append(workers, camunda.NewWorker(zeebe.GetClient(), rp.TaskType, config.GetWorkerConfig(cfg, rp.TaskType), runHandler, log))
		}
		log.Info("job workers registered", map[string]interface{}{"count": len(workers)})
	}

	// --- Health & Metrics Server ---
	server := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           newServeMux(checks),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("health/metrics server listening", map[string]interface{}{"address": cfg.Server.Address})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("health/metrics server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received", nil)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	for _, w := range workers {
		w.Stop()
	}
	if zeebe != nil {
		if err := zeebe.Close(); err != nil {
			log.Error("error closing Zeebe client", map[string]interface{}{"error": err.Error()})
		}
	}
	cancel()
	stopScheduler()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("error stopping health/metrics server", map[string]interface{}{"error": err.Error()})
	}

	log.Info("notifier stopped gracefully", nil)
}

func newServeMux(checks map[string]readinessCheck) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status, code := "ready", http.StatusOK
		results := map[string]string{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status, code = "not_ready", http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		writeJSON(w, code, map[string]interface{}{
			"status": status,
			"checks": results,
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
