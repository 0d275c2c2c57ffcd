package main

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/haatos/devflow/internal"
	"github.com/haatos/devflow/internal/handler"
	"github.com/haatos/devflow/internal/security"
	"github.com/haatos/devflow/internal/service"
	"github.com/haatos/devflow/internal/settings"
	"github.com/haatos/devflow/internal/store"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	_ "modernc.org/sqlite"
)

func main() {
	internal.InitializeConfiguration()
	settings.ReadDotenv(internal.DotEnvPath)
	settings.Settings = settings.NewSettings()

	rdb := store.InitReadDatabase()
	defer rdb.Close()
	rwdb := store.InitWriteDatabase()
	defer rwdb.Close()
	store.RunMigrations(rwdb, internal.MigrationsDir)

	aesEncrypter := security.NewAESEncrypter(security.EnsureHashKey())

	projectStore := store.NewProjectSQLiteStore(rdb, rwdb)
	serverStore := store.NewServerSQLiteStore(rdb, rwdb)
	deploymentStore := store.NewDeploymentSQLiteStore(rdb, rwdb)
	pipelineStore := store.NewPipelineSQLiteStore(rdb, rwdb)
	scheduleStore := store.NewScheduleSQLiteStore(rdb, rwdb)
	webhookStore := store.NewWebhookSQLiteStore(rdb, rwdb)

	// rows left pending or running by a previous process would hold their
	// project's active slot forever
	if n, err := deploymentStore.FailAbandonedDeployments(
		context.Background(), "interrupted by server restart", time.Now().UTC(),
	); err != nil {
		log.Fatal("err failing abandoned deployments: ", err)
	} else if n > 0 {
		log.Printf("failed %d abandoned deployments from a previous run\n", n)
	}

	deploymentSvc := service.NewDeploymentService(deploymentStore, projectStore)
	deployQueue := service.NewDeployQueue(
		deploymentSvc,
		pipelineStore,
		serverStore,
		aesEncrypter,
		nil,
		internal.Config.QueueSize,
		time.Duration(internal.Config.DeployTimeoutMinutes),
	)
	go deployQueue.Run()
	defer deployQueue.Shutdown()

	projectSvc := service.NewProjectService(projectStore, pipelineStore)
	serverSvc := service.NewServerService(serverStore, aesEncrypter)
	scheduleSvc := service.NewScheduleService(scheduleStore, deploymentSvc, deployQueue)
	webhookSvc := service.NewWebhookService(
		projectStore, webhookStore, deploymentSvc, deployQueue)

	scheduler := service.NewScheduler()
	defer func() { _ = scheduler.Shutdown() }()
	scheduleSweep(scheduler, scheduleSvc)
	scheduler.Start()

	e := setupEcho()
	api := e.Group("/api")
	handler.SetupServerRoutes(api, serverSvc)
	handler.SetupProjectRoutes(api, projectSvc, webhookSvc)
	handler.SetupDeploymentRoutes(api, deploymentSvc, pipelineStore, deployQueue)
	handler.SetupScheduleRoutes(api, scheduleSvc)
	handler.SetupWebhookRoutes(api, webhookSvc)

	internal.GracefulShutdown(e, settings.Settings.Port)
}

// scheduleSweep promotes due scheduled deployments on a fixed interval.
func scheduleSweep(scheduler gocron.Scheduler, scheduleSvc service.ScheduleServicer) {
	interval := time.Duration(internal.Config.SweepIntervalSeconds) * time.Second
	_, err := scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			defer cancel()
			if err := scheduleSvc.Sweep(ctx, time.Now().UTC()); err != nil {
				log.Printf("err sweeping scheduled deployments: %+v\n", err)
			}
		}),
	)
	if err != nil {
		log.Fatal(err)
	}
}

func setupEcho() *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = handler.ErrorHandler
	e.Validator = handler.NewRequestValidator()
	e.Use(
		middleware.CORSWithConfig(internal.GetCORSConfig()),
		middleware.RateLimiterWithConfig(internal.GetRateLimiterConfig()),
	)
	return e
}
