package agent

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/mohitkumar/drip/analytics"
	"github.com/mohitkumar/drip/archive"
	"github.com/mohitkumar/drip/cache"
	"github.com/mohitkumar/drip/config"
	"github.com/mohitkumar/drip/container"
	"github.com/mohitkumar/drip/dispatcher"
	"github.com/mohitkumar/drip/executor"
	"github.com/mohitkumar/drip/logger"
	"github.com/mohitkumar/drip/mail"
	"github.com/mohitkumar/drip/metrics"
	"github.com/mohitkumar/drip/rest"
	"github.com/mohitkumar/drip/schedule"
	"github.com/mohitkumar/drip/service"
	"go.uber.org/zap"
)

type Agent struct {
	Config            config.Config
	container         *container.DIContiner
	collector         analytics.JobDataCollector
	archiver          archive.Archiver
	mailer            mail.Mailer
	jobExecutor       *executor.JobExecutor
	dispatcher        *dispatcher.Dispatcher
	schedulingService *service.SchedulingService
	httpServer        *rest.Server
	stopMetrics       func()
	shutdown          bool
	shutdowns         chan struct{}
	shutdownLock      sync.Mutex
	wg                sync.WaitGroup
}

func New(config config.Config) (*Agent, error) {
	a := &Agent{
		Config:    config,
		shutdowns: make(chan struct{}),
	}
	setup := []func() error{
		a.setupLogger,
		a.setupMetrics,
		a.setupContainer,
		a.setupCollector,
		a.setupArchiver,
		a.setupMailer,
		a.setupDispatcher,
		a.setupSchedulingService,
		a.setupHttpServer,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) setupLogger() error {
	return logger.Init(a.Config.LogConfig)
}

func (a *Agent) setupMetrics() error {
	if err := metrics.RegisterViews(); err != nil {
		return err
	}
	a.stopMetrics = func() {}
	if a.Config.MetricsReportPeriod > 0 {
		a.stopMetrics = metrics.StartLogExporter(a.Config.MetricsReportPeriod)
	}
	return nil
}

func (a *Agent) setupContainer() error {
	a.container = container.NewDiContainer()
	if err := a.container.Init(context.Background(), a.Config); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	return nil
}

func (a *Agent) setupCollector() error {
	var err error
	a.collector, err = analytics.NewDataCollector(a.Config.AnalyticsConfig)
	return err
}

func (a *Agent) setupArchiver() error {
	if !a.Config.ArchiveConfig.Enabled() {
		return nil
	}
	arch, err := archive.NewMinioArchiver(context.Background(), a.Config.ArchiveConfig)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	a.archiver = arch
	return nil
}

func (a *Agent) setupMailer() error {
	if a.Config.SMTPConfig.Host == "" {
		logger.Warn("no smtp host configured, emails are only logged")
		a.mailer = mail.NewLogMailer(a.Config.SMTPConfig.From)
	} else {
		a.mailer = mail.NewSMTPMailer(a.Config.SMTPConfig)
	}
	a.jobExecutor = executor.NewJobExecutor(a.mailer, a.Config.SendTimeout)
	return nil
}

func (a *Agent) setupDispatcher() error {
	if !a.Config.DispatcherEnabled {
		return nil
	}
	a.dispatcher = dispatcher.NewDispatcher(dispatcherName(), a.Config.DispatcherConfig,
		a.container.GetJobStore(), a.jobExecutor, a.collector, a.archiver, &a.wg)
	return a.dispatcher.Start()
}

func (a *Agent) setupSchedulingService() error {
	compiler := schedule.NewCompiler(schedule.Config{AllowRecipientOverride: a.Config.AllowRecipientOverride})
	a.schedulingService = service.NewSchedulingService(a.container, compiler, cache.NewFlowCache(a.Config.FlowCacheTTL))
	return nil
}

func (a *Agent) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(a.Config.HttpAddr(), a.Config.AllowedOrigins, a.schedulingService)
	if err != nil {
		return err
	}
	return nil
}

func dispatcherName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "drip"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

func (a *Agent) Start() error {
	go func() {
		if err := a.httpServer.Start(); err != nil {
			logger.Error("http server failed", zap.Error(err))
			_ = a.Shutdown()
			os.Exit(1)
		}
	}()
	return nil
}

func (a *Agent) Shutdown() error {
	logger.Info("shutting down server")
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true
	close(a.shutdowns)

	shutdown := []func() error{
		a.httpServer.Stop,
		func() error {
			if a.dispatcher == nil {
				return nil
			}
			return a.dispatcher.Stop()
		},
		func() error {
			logger.Info("waiting for in flight sends to finish...")
			a.wg.Wait()
			return nil
		},
		a.collector.Close,
		a.container.Close,
		func() error {
			a.stopMetrics()
			return nil
		},
	}
	var firstErr error
	for _, fn := range shutdown {
		if err := fn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	_ = logger.Sync()
	return firstErr
}
