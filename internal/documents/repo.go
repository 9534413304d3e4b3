package documents

import (
	"context"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Create(ctx context.Context, d *Document) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *Repo) Get(ctx context.Context, id string) (*Document, error) {
	var d Document
	if err := r.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// ListByUser returns newest first.
func (r *Repo) ListByUser(ctx context.Context, userID uint64) ([]Document, error) {
	var out []Document
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&Document{}, "id = ?", id).Error
}

// MarkProcessing moves queued (or retried failed) documents to processing.
func (r *Repo) MarkProcessing(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&Document{}).
		Where("id = ? AND status IN ?", id, []Status{StatusQueued, StatusFailed}).
		Update("status", StatusProcessing).Error
}

func (r *Repo) MarkReady(ctx context.Context, id string, chars, chunks int) error {
	return r.db.WithContext(ctx).Model(&Document{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": StatusReady,
			"chars":  chars,
			"chunks": chunks,
			"error":  nil,
		}).Error
}

func (r *Repo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&Document{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": StatusFailed,
			"error":  errMsg,
		}).Error
}

func (r *Repo) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	var rows []struct {
		Status Status
		N      int64
	}
	if err := r.db.WithContext(ctx).Model(&Document{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[Status]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}
