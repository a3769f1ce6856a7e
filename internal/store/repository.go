package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/talkincode/toughwa/internal/domain"
	"github.com/talkincode/toughwa/pkg/common"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionRepository handles the persisted mirror of tenant sessions
type SessionRepository interface {
	// GetByUser retrieves the mirror row of a tenant, nil if none exists
	GetByUser(ctx context.Context, userID string) (*domain.WhatsAppSession, error)

	// UpsertStatus sets the status of a tenant, creating the row if needed.
	// An empty number leaves the stored number untouched.
	UpsertStatus(ctx context.Context, userID, status, number string) error

	// DeviceJID returns the whatsmeow device bound to the tenant, "" if unpaired
	DeviceJID(ctx context.Context, userID string) (string, error)

	// SaveDeviceJID binds a paired whatsmeow device to the tenant
	SaveDeviceJID(ctx context.Context, userID, jid string) error

	// CountByStatus counts tenants per persisted status
	CountByStatus(ctx context.Context, status string) (int64, error)
}

// OprLogRepository handles the tenant operation audit trail
type OprLogRepository interface {
	Create(ctx context.Context, log *domain.SysOprLog) error

	// DeleteOlderThan removes entries older than N days
	DeleteOlderThan(ctx context.Context, days int) (int64, error)
}

// GormSessionRepository is the GORM implementation of SessionRepository
type GormSessionRepository struct {
	db *gorm.DB
}

func NewGormSessionRepository(db *gorm.DB) *GormSessionRepository {
	return &GormSessionRepository{db: db}
}

func (r *GormSessionRepository) GetByUser(ctx context.Context, userID string) (*domain.WhatsAppSession, error) {
	var row domain.WhatsAppSession
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "query session of %s", userID)
	}
	return &row, nil
}

func (r *GormSessionRepository) upsert(ctx context.Context, row *domain.WhatsAppSession, columns ...string) error {
	row.ID = common.UUIDint64()
	row.UpdatedAt = time.Now()
	columns = append(columns, "updated_at")
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(row).Error
}

func (r *GormSessionRepository) UpsertStatus(ctx context.Context, userID, status, number string) error {
	row := &domain.WhatsAppSession{UserId: userID, Status: status, WhatsappNumber: number}
	columns := []string{"status"}
	if number != "" {
		columns = append(columns, "whatsapp_number")
	}
	if err := r.upsert(ctx, row, columns...); err != nil {
		return errors.Wrapf(err, "upsert status of %s", userID)
	}
	return nil
}

func (r *GormSessionRepository) DeviceJID(ctx context.Context, userID string) (string, error) {
	row, err := r.GetByUser(ctx, userID)
	if err != nil || row == nil {
		return "", err
	}
	return row.DeviceJid, nil
}

func (r *GormSessionRepository) SaveDeviceJID(ctx context.Context, userID, jid string) error {
	row := &domain.WhatsAppSession{UserId: userID, DeviceJid: jid}
	if err := r.upsert(ctx, row, "device_jid"); err != nil {
		return errors.Wrapf(err, "save device of %s", userID)
	}
	return nil
}

func (r *GormSessionRepository) CountByStatus(ctx context.Context, status string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&domain.WhatsAppSession{}).Where("status = ?", status).Count(&total).Error
	return total, errors.Wrap(err, "count sessions")
}

// GormOprLogRepository is the GORM implementation of OprLogRepository
type GormOprLogRepository struct {
	db *gorm.DB
}

func NewGormOprLogRepository(db *gorm.DB) *GormOprLogRepository {
	return &GormOprLogRepository{db: db}
}

func (r *GormOprLogRepository) Create(ctx context.Context, log *domain.SysOprLog) error {
	if log.ID == 0 {
		log.ID = common.UUIDint64()
	}
	if log.OptTime.IsZero() {
		log.OptTime = time.Now()
	}
	return errors.Wrap(r.db.WithContext(ctx).Create(log).Error, "create opr log")
}

func (r *GormOprLogRepository) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("opt_time < ?", time.Now().Add(-24*time.Hour*time.Duration(days))).
		Delete(&domain.SysOprLog{})
	return res.RowsAffected, errors.Wrap(res.Error, "prune opr log")
}
