package storage

import (
	"context"

	"reddot-watch/rssfetcher/internal/database"
	"reddot-watch/rssfetcher/internal/models"
)

// ItemRepository defines the read operations of the API.
type ItemRepository interface {
	ReadItems(ctx context.Context, startRowID int64, limit int) ([]models.StoredRow, error)
	Status(ctx context.Context) (models.Status, error)
}

// switchRepository reads through the current read-only connection.
type switchRepository struct {
	sw *database.Switch
}

// NewRepository creates a repository on top of sw.
func NewRepository(sw *database.Switch) ItemRepository {
	return &switchRepository{sw: sw}
}

func (r *switchRepository) ReadItems(ctx context.Context, startRowID int64, limit int) ([]models.StoredRow, error) {
	var rows []models.StoredRow
	err := r.sw.Use(func(db *database.DB) error {
		var err error
		rows, err = db.ReadPage(ctx, startRowID, limit)
		return err
	})
	return rows, err
}

func (r *switchRepository) Status(ctx context.Context) (models.Status, error) {
	var status models.Status
	err := r.sw.Use(func(db *database.DB) error {
		var err error
		status, err = db.Status(ctx)
		return err
	})
	return status, err
}
