package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lumora/hearthlink/internal/domain"
)

type groupModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	CreatedAt time.Time
}

func (groupModel) TableName() string { return "groups" }

type deviceModel struct {
	ID          string `gorm:"primaryKey;size:64"`
	GroupID     string `gorm:"index;size:64"`
	DisplayName string `gorm:"size:64"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (deviceModel) TableName() string { return "devices" }

// Postgres is the durable store. Only identity and membership are durable;
// presence stays in registry memory.
type Postgres struct {
	db *gorm.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&groupModel{}, &deviceModel{}); err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return &Postgres{db: db}, nil
}

func (p *Postgres) EnsureGroup(ctx context.Context, id domain.GroupID) error {
	g := groupModel{ID: string(id), CreatedAt: time.Now().UTC()}
	return p.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&g).Error
}

func (p *Postgres) UpsertDevice(ctx context.Context, d domain.Device) error {
	m := deviceModel{
		ID:          string(d.ID),
		GroupID:     string(d.GroupID),
		DisplayName: d.DisplayName,
	}
	return p.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"group_id", "display_name", "updated_at"}),
		}).
		Create(&m).Error
}

func (p *Postgres) GetDevice(ctx context.Context, id domain.DeviceID) (domain.Device, bool, error) {
	var m deviceModel
	err := p.db.WithContext(ctx).First(&m, "id = ?", string(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Device{}, false, nil
	}
	if err != nil {
		return domain.Device{}, false, err
	}
	return toDomain(m), true, nil
}

func (p *Postgres) ListGroupDevices(ctx context.Context, id domain.GroupID) ([]domain.Device, error) {
	var models []deviceModel
	if err := p.db.WithContext(ctx).
		Where("group_id = ?", string(id)).
		Order("id").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Device, 0, len(models))
	for _, m := range models {
		out = append(out, toDomain(m))
	}
	return out, nil
}

func (p *Postgres) IsMember(ctx context.Context, device domain.DeviceID, group domain.GroupID) (bool, error) {
	var count int64
	err := p.db.WithContext(ctx).
		Model(&deviceModel{}).
		Where("id = ? AND group_id = ?", string(device), string(group)).
		Count(&count).Error
	return count > 0, err
}

func toDomain(m deviceModel) domain.Device {
	return domain.Device{
		ID:          domain.DeviceID(m.ID),
		GroupID:     domain.GroupID(m.GroupID),
		DisplayName: m.DisplayName,
	}
}
