package postgres

import "time"

// BarRecord is one synced bar mirrored into the database.
type BarRecord struct {
	ID uint `gorm:"primaryKey"`

	// unique index
	Symbol  string    `gorm:"type:text;not null;index:idx_bar_symbol;index:idx_symbol_barsize_start,unique"`
	BarSize string    `gorm:"type:varchar(16);not null;index:idx_symbol_barsize_start,unique"`
	Start   time.Time `gorm:"not null;index:idx_symbol_barsize_start,unique"`

	Exchange string    `gorm:"type:varchar(16);not null"`
	End      time.Time `gorm:"not null"`

	Open  float64 `gorm:"type:numeric;not null"`
	High  float64 `gorm:"type:numeric;not null"`
	Low   float64 `gorm:"type:numeric;not null"`
	Close float64 `gorm:"type:numeric;not null"`

	Volume float64 `gorm:"type:numeric;not null"`

	RecordedAt time.Time `gorm:"autoCreateTime"`
}

func (BarRecord) TableName() string {
	return "bar_record"
}

// SyncStatusRecord is the latest sync progress of a symbol.
type SyncStatusRecord struct {
	Symbol    string    `gorm:"primaryKey;type:text"`
	State     string    `gorm:"type:varchar(16);not null"` // "syncing", "completed", "failed"
	Cursor    time.Time `gorm:"not null"`
	Pages     int       `gorm:"not null"`
	Bars      int       `gorm:"not null"`
	Error     string    `gorm:"type:text"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (SyncStatusRecord) TableName() string {
	return "sync_status"
}
