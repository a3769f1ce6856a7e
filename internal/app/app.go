package app

import (
	"context"
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/asaskevich/EventBus"
	"github.com/robfig/cron/v3"
	"github.com/talkincode/toughwa/config"
	"github.com/talkincode/toughwa/internal/campaign"
	"github.com/talkincode/toughwa/internal/store"
	"github.com/talkincode/toughwa/internal/webhook"
	"github.com/talkincode/toughwa/internal/whatsapp"
	"github.com/talkincode/toughwa/pkg/metrics"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Application struct {
	appConfig  *config.AppConfig
	gormDB     *gorm.DB
	sched      *cron.Cron
	bus        EventBus.Bus
	sessions   *store.GormSessionRepository
	oprlogs    *store.GormOprLogRepository
	sink       *webhook.Sink
	listener   *whatsapp.Listener
	registry   *whatsapp.Registry
	dispatcher *campaign.Dispatcher
}

var (
	_ DBProvider        = (*Application)(nil)
	_ ConfigProvider    = (*Application)(nil)
	_ SchedulerProvider = (*Application)(nil)
	_ AppContext        = (*Application)(nil)
)

func NewApplication(appConfig *config.AppConfig) *Application {
	return &Application{appConfig: appConfig}
}

func (a *Application) Config() *config.AppConfig {
	return a.appConfig
}

func (a *Application) DB() *gorm.DB {
	return a.gormDB
}

func (a *Application) Scheduler() *cron.Cron {
	return a.sched
}

func (a *Application) Registry() *whatsapp.Registry {
	return a.registry
}

func (a *Application) Dispatcher() *campaign.Dispatcher {
	return a.dispatcher
}

func (a *Application) Sessions() store.SessionRepository {
	return a.sessions
}

func (a *Application) OprLogs() store.OprLogRepository {
	return a.oprlogs
}

// Init sets up logging, storage and the WhatsApp machinery. The clients
// themselves are created lazily per tenant.
func (a *Application) Init(ctx context.Context) error {
	cfg := a.appConfig
	loc, err := time.LoadLocation(cfg.System.Location)
	if err != nil {
		zap.S().Error("timezone config error")
	} else {
		time.Local = loc
	}

	if err := cfg.InitDirs(); err != nil {
		return err
	}
	if err := InitLogger(cfg.Logger); err != nil {
		return err
	}

	if err := metrics.InitMetrics(cfg.GetMetricsDir()); err != nil {
		zap.S().Warn("Failed to initialize metrics:", err)
	}

	a.gormDB, err = getDatabase(cfg)
	if err != nil {
		return err
	}
	zap.S().Infof("Database connection successful, type: %s", cfg.Database.Type)

	if err := a.MigrateDB(false); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	a.sessions = store.NewGormSessionRepository(a.gormDB)
	a.oprlogs = store.NewGormOprLogRepository(a.gormDB)

	sqlDB, err := a.gormDB.DB()
	if err != nil {
		return err
	}
	container, err := whatsapp.NewStoreContainer(ctx, sqlDB, cfg.Database.Type, cfg.Whatsapp.LogLevel)
	if err != nil {
		return err
	}
	return a.wire(whatsapp.NewMeowFactory(container, a.sessions, cfg.Whatsapp.LogLevel))
}

// wire builds the registry, dispatcher and listener around factory and
// starts the background jobs.
func (a *Application) wire(factory whatsapp.ClientFactory) error {
	cfg := a.appConfig
	a.sink = webhook.NewSink(cfg.Webhook.StatusURL, cfg.Webhook.ResponsesURL, cfg.Webhook.Secret, cfg.Webhook.Timeout)

	var err error
	a.listener, err = whatsapp.NewListener(a.sink, cfg.Webhook.Workers, cfg.Webhook.Timeout)
	if err != nil {
		return fmt.Errorf("create inbound listener: %w", err)
	}
	a.dispatcher, err = campaign.NewDispatcher(a.sink, cfg.Campaign.MaxConcurrent,
		campaign.WithSendTimeout(cfg.Whatsapp.SendTimeout))
	if err != nil {
		return fmt.Errorf("create campaign dispatcher: %w", err)
	}

	a.bus = EventBus.New()
	if err := a.bus.SubscribeAsync(whatsapp.TopicSessionState, a.mirrorSession, true); err != nil {
		return err
	}
	a.registry = whatsapp.NewRegistry(factory, whatsapp.WithBus(a.bus), whatsapp.WithListener(a.listener))

	a.initJob()
	return nil
}

// mirrorSession keeps the sessions table in step with lifecycle changes.
func (a *Application) mirrorSession(ch whatsapp.StateChange) {
	status, ok := mirroredStatus[ch.State]
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.sessions.UpsertStatus(ctx, ch.TenantID, status, ch.Phone); err != nil {
		zap.L().Error("app: mirror session status failed",
			zap.String("tenant", ch.TenantID), zap.String("status", status), zap.Error(err))
	}
}

func getDatabase(cfg *config.AppConfig) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if cfg.Database.Debug {
		gcfg.Logger = logger.Default.LogMode(logger.Info)
	}

	var dialector gorm.Dialector
	switch cfg.Database.Type {
	case "postgres":
		dialector = postgres.Open(fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Passwd, cfg.Database.Name))
	case "sqlite":
		dialector = sqlite.Open(fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", cfg.SqlitePath()))
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Database.Type)
	}

	db, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Database.Type, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.Database.MaxConn > 0 {
		sqlDB.SetMaxOpenConns(cfg.Database.MaxConn)
	}
	if cfg.Database.IdleConn > 0 {
		sqlDB.SetMaxIdleConns(cfg.Database.IdleConn)
	}
	return db, nil
}

// InitLogger replaces the global zap logger according to cfg.
func InitLogger(cfg config.LogConfig) error {
	var zapConfig zap.Config
	if cfg.Mode == "production" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.OutputPaths = []string{"stdout"}

	var log *zap.Logger
	if cfg.FileEnable {
		rotate := &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    64,
			MaxBackups: 7,
			MaxAge:     7,
		}
		core := zapcore.NewTee(
			zapcore.NewCore(
				zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
				zapcore.AddSync(rotate),
				zapConfig.Level,
			),
			zapcore.NewCore(
				zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
				zapcore.AddSync(os.Stdout),
				zapConfig.Level,
			),
		)
		log = zap.New(core, zap.AddCaller())
	} else {
		var err error
		log, err = zapConfig.Build(zap.AddCaller())
		if err != nil {
			return err
		}
	}
	zap.ReplaceGlobals(log)
	return nil
}

// Shutdown stops new work and tears down every session. Campaigns still
// running when ctx expires are abandoned.
func (a *Application) Shutdown(ctx context.Context) {
	if a.sched != nil {
		<-a.sched.Stop().Done()
	}
	if a.dispatcher != nil {
		if err := a.dispatcher.Close(ctx); err != nil {
			zap.L().Warn("app: campaigns still running at shutdown", zap.Error(err))
		}
	}
	if a.registry != nil {
		if err := a.registry.Close(ctx); err != nil {
			zap.L().Warn("app: session registry close incomplete", zap.Error(err))
		}
	}
	if a.listener != nil {
		a.listener.Release()
	}
	if a.bus != nil {
		a.bus.WaitAsync()
	}
}

// Release releases application resources
func (a *Application) Release() {
	if a.gormDB != nil {
		if sqlDB, err := a.gormDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	_ = metrics.Close()
	_ = zap.L().Sync()
}
