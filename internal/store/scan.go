package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/zhouzirui/kyc-shield/backend/internal/model/verification"
)

// Scan is the row of the scans collection.
type Scan struct {
	ID         string    `gorm:"primaryKey;size:36"`
	Owner      string    `gorm:"size:128;index:idx_scans_owner_time,priority:1"`
	OccurredAt time.Time `gorm:"index:idx_scans_owner_time,priority:2"`
	IsReal     bool
	Confidence int
	Issues     datatypes.JSON
	Message    string `gorm:"size:512"`
}

func (Scan) TableName() string { return "scans" }

// ScanRepository appends and lists scan records.
type ScanRepository struct {
	db *gorm.DB
}

func NewScanRepository(db *gorm.DB) *ScanRepository {
	return &ScanRepository{db: db}
}

// Append stores rec and returns it with its assigned id.
func (r *ScanRepository) Append(ctx context.Context, rec verification.ScanRecord) (verification.ScanRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now().UTC()
	}
	issues := rec.Issues
	if issues == nil {
		issues = []string{}
	}
	raw, err := json.Marshal(issues)
	if err != nil {
		return verification.ScanRecord{}, fmt.Errorf("encode issues: %w", err)
	}

	row := Scan{
		ID:         rec.ID,
		Owner:      rec.Owner,
		OccurredAt: rec.OccurredAt,
		IsReal:     rec.IsReal,
		Confidence: rec.Confidence,
		Issues:     datatypes.JSON(raw),
		Message:    rec.Message,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return verification.ScanRecord{}, fmt.Errorf("insert scan: %w", err)
	}
	return rec, nil
}

// ListByOwner returns the owner's scans, newest first. limit <= 0 means all.
func (r *ScanRepository) ListByOwner(ctx context.Context, owner string, limit int) ([]verification.ScanRecord, error) {
	q := r.db.WithContext(ctx).Where("owner = ?", owner).Order("occurred_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []Scan
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}

	out := make([]verification.ScanRecord, 0, len(rows))
	for _, row := range rows {
		var issues []string
		if len(row.Issues) > 0 {
			if err := json.Unmarshal(row.Issues, &issues); err != nil {
				return nil, fmt.Errorf("decode issues of scan %s: %w", row.ID, err)
			}
		}
		if issues == nil {
			issues = []string{}
		}
		out = append(out, verification.ScanRecord{
			ID:         row.ID,
			Owner:      row.Owner,
			OccurredAt: row.OccurredAt.UTC(),
			IsReal:     row.IsReal,
			Confidence: row.Confidence,
			Issues:     issues,
			Message:    row.Message,
		})
	}
	return out, nil
}
