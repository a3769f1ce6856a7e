package app

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/talkincode/toughwa/internal/domain"
	"github.com/talkincode/toughwa/internal/whatsapp"
	"go.uber.org/zap"
)

var mirroredStatus = map[whatsapp.State]string{
	whatsapp.StateReady:        domain.SessionReady,
	whatsapp.StateAuthFailed:   domain.SessionAuthFailed,
	whatsapp.StateDisconnected: domain.SessionDisconnected,
}

// MigrateDB creates or updates the application tables. With track set the
// generated statements are logged.
func (a *Application) MigrateDB(track bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if os.Getenv("GO_DEBUG_TRACE") != "" {
				debug.PrintStack()
			}
			err = fmt.Errorf("migrate panic: %v", r)
			zap.S().Error(err)
		}
	}()
	db := a.gormDB
	if track {
		db = db.Debug()
	}
	return db.Migrator().AutoMigrate(domain.Tables...)
}

// DropAll removes the application tables. whatsmeow's device tables are kept.
func (a *Application) DropAll() error {
	return a.gormDB.Migrator().DropTable(domain.Tables...)
}
