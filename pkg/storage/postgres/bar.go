package postgres

import (
	"context"
	"fmt"
	"time"

	"barsync/internal/barsync/engine"
	"barsync/pkg/ibkr"

	"gorm.io/gorm/clause"
)

const insertBatchSize = 500

// InsertBars stores records, skipping bars already mirrored.
// It returns the number of rows actually inserted.
func (p *PostgresClient) InsertBars(ctx context.Context, records []*BarRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx := p.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "symbol"},
			{Name: "bar_size"},
			{Name: "start"},
		},
		DoNothing: true,
	}).CreateInBatches(records, insertBatchSize)
	if tx.Error != nil {
		return 0, tx.Error
	}
	return tx.RowsAffected, nil
}

// WriteBars mirrors one synced page.
func (p *PostgresClient) WriteBars(ctx context.Context, contract ibkr.Contract, barSize string, bars []ibkr.Bar) error {
	records := make([]*BarRecord, 0, len(bars))
	for _, b := range bars {
		r, err := ToBarRecord(contract, barSize, b)
		if err != nil {
			return err
		}
		records = append(records, r)
	}
	_, err := p.InsertBars(ctx, records)
	return err
}

func (p *PostgresClient) GetBars(ctx context.Context, symbol, barSize string, from, to time.Time) ([]BarRecord, error) {
	var bars []BarRecord
	err := p.DB.WithContext(ctx).
		Where("symbol = ? AND bar_size = ? AND start >= ? AND start < ?", symbol, barSize, from, to).
		Order("start").
		Find(&bars).Error
	return bars, err
}

func (p *PostgresClient) DeleteBarsBefore(ctx context.Context, before time.Time) error {
	return p.DB.WithContext(ctx).
		Where("start < ?", before).
		Delete(&BarRecord{}).Error
}

// ReportStatus upserts the symbol's latest sync status.
func (p *PostgresClient) ReportStatus(ctx context.Context, s engine.Status) error {
	return p.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		UpdateAll: true,
	}).Create(ToSyncStatusRecord(s)).Error
}

func (p *PostgresClient) GetSyncStatus(ctx context.Context, symbol string) (*SyncStatusRecord, error) {
	var rec SyncStatusRecord
	if err := p.DB.WithContext(ctx).Where("symbol = ?", symbol).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// ToBarRecord converts a gateway bar into a BarRecord. End is Start plus
// one bar length.
func ToBarRecord(contract ibkr.Contract, barSize string, b ibkr.Bar) (*BarRecord, error) {
	meta, err := ibkr.ParseBarSize(barSize)
	if err != nil {
		return nil, err
	}
	start, err := ibkr.ParseTimestamp(b.Date)
	if err != nil {
		return nil, fmt.Errorf("bar %s: %w", contract.Symbol, err)
	}
	return &BarRecord{
		Symbol:   contract.Symbol,
		BarSize:  meta.FileTag,
		Start:    start,
		End:      start.Add(time.Duration(meta.Minutes) * time.Minute),
		Exchange: contract.Exchange,
		Open:     b.Open,
		High:     b.High,
		Low:      b.Low,
		Close:    b.Close,
		Volume:   b.Volume,
	}, nil
}

func ToSyncStatusRecord(s engine.Status) *SyncStatusRecord {
	return &SyncStatusRecord{
		Symbol: s.Symbol,
		State:  s.State,
		Cursor: s.Cursor,
		Pages:  s.Pages,
		Bars:   s.Bars,
		Error:  s.Error,
	}
}
