package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arenaoj/internal/common/cache"
	"arenaoj/internal/common/db"
	commonmw "arenaoj/internal/common/http/middleware"
	"arenaoj/internal/common/mq"
	"arenaoj/internal/common/storage"
	contestController "arenaoj/internal/contest/controller"
	contestRepo "arenaoj/internal/contest/repository"
	contestService "arenaoj/internal/contest/service"
	judgeController "arenaoj/internal/judge/controller"
	"arenaoj/internal/judge/pipeline"
	judgeRepo "arenaoj/internal/judge/repository"
	"arenaoj/internal/judge/sandbox"
	problemRepo "arenaoj/internal/problem/repository"
	registrationController "arenaoj/internal/registration/controller"
	registrationRepo "arenaoj/internal/registration/repository"
	registrationService "arenaoj/internal/registration/service"
	scoreboardController "arenaoj/internal/scoreboard/controller"
	scoreboardService "arenaoj/internal/scoreboard/service"
	submissionController "arenaoj/internal/submission/controller"
	submissionRepo "arenaoj/internal/submission/repository"
	submissionService "arenaoj/internal/submission/service"
	"arenaoj/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/arena_server.yaml"

type controllers struct {
	contest      *contestController.ContestController
	registration *registrationController.RegistrationController
	submission   *submissionController.SubmissionController
	scoreboard   *scoreboardController.ScoreboardController
	judge        *judgeController.JudgeController
}

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	mqClient, err := mq.NewKafkaQueue(appCfg.Kafka.toMQConfig())
	if err != nil {
		logger.Error(context.Background(), "init kafka failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mqClient.Close()
	}()

	objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		logger.Error(context.Background(), "init minio failed", zap.Error(err))
		return
	}

	contests := contestRepo.NewContestRepository(mysqlDB, redisCache)
	problems := problemRepo.NewProblemRepository(mysqlDB, redisCache)
	registrations := registrationRepo.NewRegistrationRepository(mysqlDB)
	submissions := submissionRepo.NewSubmissionRepository(mysqlDB)

	lifecycle, err := contestService.NewLifecycleService(contestService.Config{
		ContestRepo: contests,
		ProblemRepo: problems,
	})
	if err != nil {
		logger.Error(context.Background(), "init lifecycle service failed", zap.Error(err))
		return
	}

	ledger, err := registrationService.NewLedgerService(registrationService.Config{
		RegistrationRepo: registrations,
		Lifecycle:        lifecycle,
	})
	if err != nil {
		logger.Error(context.Background(), "init ledger service failed", zap.Error(err))
		return
	}

	mirror, err := scoreboardService.NewBoardCache(redisCache)
	if err != nil {
		logger.Error(context.Background(), "init board cache failed", zap.Error(err))
		return
	}
	engine, err := scoreboardService.NewEngine(scoreboardService.Config{
		ContestRepo:    contests,
		SubmissionRepo: submissions,
		Mirror:         mirror,
	})
	if err != nil {
		logger.Error(context.Background(), "init scoreboard engine failed", zap.Error(err))
		return
	}

	runner, err := sandbox.NewHTTPRunner(appCfg.Judge.Runner)
	if err != nil {
		logger.Error(context.Background(), "init sandbox runner failed", zap.Error(err))
		return
	}
	caseSource, err := pipeline.NewStorageTestCaseSource(problems, objStorage, appCfg.Judge.TestCaseBucket)
	if err != nil {
		logger.Error(context.Background(), "init test case source failed", zap.Error(err))
		return
	}
	judgePipeline, err := pipeline.New(pipeline.Config{
		SubmissionRepo: submissions,
		Cases:          caseSource,
		Executor:       runner,
		Scoreboard:     engine,
		Publisher:      judgeRepo.NewMQVerdictEventPublisher(mqClient, appCfg.Kafka.VerdictTopic),
		QueueSize:      appCfg.Judge.QueueSize,
		Workers:        appCfg.Judge.Workers,
		MaxAttempts:    appCfg.Judge.MaxAttempts,
		RetryBase:      appCfg.Judge.RetryBase,
		CaseTimeout:    appCfg.Judge.CaseTimeout,
	})
	if err != nil {
		logger.Error(context.Background(), "init judge pipeline failed", zap.Error(err))
		return
	}
	if err := judgePipeline.Start(context.Background()); err != nil {
		logger.Error(context.Background(), "start judge pipeline failed", zap.Error(err))
		return
	}
	defer judgePipeline.Stop()

	intake, err := submissionService.NewIntakeService(submissionService.Config{
		SubmissionRepo:  submissions,
		ContestRepo:     contests,
		Lifecycle:       lifecycle,
		Ledger:          ledger,
		Storage:         objStorage,
		Queue:           judgePipeline,
		SourceBucket:    appCfg.Submit.SourceBucket,
		SourceKeyPrefix: appCfg.Submit.SourceKeyPrefix,
		Languages:       appCfg.Submit.Languages,
		MaxCodeBytes:    appCfg.Submit.MaxCodeBytes,
		Timeouts: submissionService.TimeoutConfig{
			DB:      appCfg.Submit.DBTimeout,
			Storage: appCfg.Submit.StorageTimeout,
		},
	})
	if err != nil {
		logger.Error(context.Background(), "init intake service failed", zap.Error(err))
		return
	}

	ctrls := controllers{
		contest:      contestController.NewContestController(lifecycle),
		registration: registrationController.NewRegistrationController(ledger),
		submission:   submissionController.NewSubmissionController(intake),
		scoreboard:   scoreboardController.NewScoreboardController(engine, mirror, lifecycle),
		judge:        judgeController.NewJudgeController(judgePipeline, submissions, lifecycle),
	}

	verifier := commonmw.NewTokenVerifier(appCfg.Auth.Secret, appCfg.Auth.Issuer)
	httpServer := buildHTTPServer(appCfg.Server, verifier, ctrls)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "arena http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
}

func buildHTTPServer(cfg ServerConfig, verifier *commonmw.TokenVerifier, ctrls controllers) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContext())
	router.Use(requestLogger())

	api := router.Group("/api/v1")
	api.Use(commonmw.Auth(verifier))

	contests := api.Group("/contests")
	contests.POST("", ctrls.contest.Create)
	contests.GET("", ctrls.contest.List)
	contests.GET("/:id", ctrls.contest.Get)
	contests.POST("/:id/publish", ctrls.contest.Publish)
	contests.PUT("/:id/window", ctrls.contest.UpdateWindow)
	contests.POST("/:id/problems", ctrls.contest.AttachProblem)
	contests.GET("/:id/problems", ctrls.contest.ListProblems)
	contests.POST("/:id/managers", ctrls.contest.AddManager)

	contests.POST("/:id/register", ctrls.registration.Register)
	contests.DELETE("/:id/register", ctrls.registration.Unregister)
	contests.POST("/:id/join", ctrls.registration.Join)
	contests.GET("/:id/roster", ctrls.registration.Roster)

	contests.POST("/:id/submissions", ctrls.submission.Create)
	contests.GET("/:id/submissions", ctrls.submission.ListMine)

	contests.GET("/:id/standing", ctrls.scoreboard.Standing)
	contests.GET("/:id/standing/official", ctrls.scoreboard.OfficialStanding)
	contests.POST("/:id/standing/unfreeze", ctrls.scoreboard.Unfreeze)
	contests.POST("/:id/standing/rebuild", ctrls.scoreboard.Rebuild)
	contests.GET("/:id/standing/rank", ctrls.scoreboard.MyRank)

	api.GET("/submissions/:sid", ctrls.submission.Get)
	api.POST("/submissions/:sid/rejudge", ctrls.judge.Rejudge)
	api.GET("/judge/queue", ctrls.judge.QueueDepth)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
