package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edugrade/edugrade-api/internal/handler"
	"github.com/edugrade/edugrade-api/internal/middleware"
	"github.com/edugrade/edugrade-api/internal/repository"
	"github.com/edugrade/edugrade-api/internal/service"
	"github.com/edugrade/edugrade-api/pkg/cache"
	"github.com/edugrade/edugrade-api/pkg/config"
	"github.com/edugrade/edugrade-api/pkg/database"
	"github.com/edugrade/edugrade-api/pkg/logger"
	corsmiddleware "github.com/edugrade/edugrade-api/pkg/middleware/cors"
	reqidmiddleware "github.com/edugrade/edugrade-api/pkg/middleware/requestid"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("postgres connection failed", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// The engine degrades to store-only reads and unaggregated
		// analytics; refusing to boot would take grading down with it.
		logr.Sugar().Warnw("redis unavailable, running without cache", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	students := repository.NewStudentRepository(db)
	institutions := repository.NewInstitutionRepository(db)
	subjects := repository.NewSubjectRepository(db)
	careers := repository.NewCareerRepository(db)
	attempts := repository.NewCursadaRepository(db)
	rules := repository.NewRuleRepository(db)
	ruleCache := repository.NewRuleCacheRepository(redisClient, logr)
	ledger := repository.NewLedgerRepository(db)
	counters := repository.NewAnalyticsRepository(redisClient)
	records := repository.NewRecordRepository(db)

	metricsSvc := service.NewMetricsService()
	auditSvc := service.NewAuditService(ledger, metricsSvc, logr)
	analyticsSvc := service.NewAnalyticsService(counters, cfg.Analytics.Enabled, logr)
	conversionSvc := service.NewConversionService(rules, ruleCache, records, auditSvc, metricsSvc, nil, logr,
		cfg.Conversion.RuleCacheTTL, cfg.Conversion.MatchEpsilon, cfg.Stores.ReadRetries, cfg.Stores.RetryBackoff)
	cursadaSvc := service.NewCursadaService(attempts, students, subjects, institutions, records, auditSvc, analyticsSvc, metricsSvc, nil, logr)
	transferSvc := service.NewTransferService(students, subjects, attempts, attempts, records, institutions, conversionSvc, auditSvc, metricsSvc, nil, logr, cfg.Transfer.Parallelism)
	transcriptSvc := service.NewTranscriptService(students, attempts, careers, auditSvc, logr)
	graphSvc := service.NewGraphService(students, institutions, subjects, careers, nil, logr)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(middleware.Deadline(cfg.Stores.OpTimeout))
	r.Use(middleware.Actor(cfg.JWT.Secret))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	api := r.Group(cfg.APIPrefix)
	handler.RegisterRoutes(api, handler.Handlers{
		Cursadas:    handler.NewCursadaHandler(cursadaSvc),
		Conversions: handler.NewConversionHandler(conversionSvc),
		Transfers:   handler.NewTransferHandler(transferSvc),
		Audit:       handler.NewAuditHandler(auditSvc),
		Analytics:   handler.NewAnalyticsHandler(analyticsSvc),
		Transcripts: handler.NewTranscriptHandler(transcriptSvc),
		Graph:       handler.NewGraphHandler(graphSvc),
	}, handler.Options{
		AnalyticsEnabled:   cfg.Analytics.Enabled,
		TranscriptsEnabled: cfg.Transcripts.Enabled,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
