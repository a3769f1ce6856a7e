package app

import (
	"github.com/robfig/cron/v3"
	"github.com/talkincode/toughwa/config"
	"github.com/talkincode/toughwa/internal/campaign"
	"github.com/talkincode/toughwa/internal/store"
	"github.com/talkincode/toughwa/internal/whatsapp"
	"gorm.io/gorm"
)

// DBProvider provides database access
type DBProvider interface {
	DB() *gorm.DB
}

// ConfigProvider provides application configuration
type ConfigProvider interface {
	Config() *config.AppConfig
}

// SchedulerProvider provides task scheduling capability
type SchedulerProvider interface {
	Scheduler() *cron.Cron
}

// AppContext is what the HTTP layer and the commands need from the application.
type AppContext interface {
	DBProvider
	ConfigProvider
	SchedulerProvider

	Registry() *whatsapp.Registry
	Dispatcher() *campaign.Dispatcher
	Sessions() store.SessionRepository
	OprLogs() store.OprLogRepository

	MigrateDB(track bool) error
}
