package database

import (
	"errors"

	"github.com/planetary/buffy/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Directory is the persistent per-user record store mapping Slack identity
// to Trello identity. Records are read and written whole; there are no
// partial updates.
type Directory struct {
	db *gorm.DB
}

func NewDirectory(db *gorm.DB) *Directory {
	return &Directory{db: db}
}

// Get returns the record for the given Slack user ID, or nil when no record
// exists yet.
func (d *Directory) Get(id string) (*models.UserRecord, error) {
	var rec models.UserRecord
	if err := d.db.First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Save writes the whole record, replacing any existing one for the same ID.
func (d *Directory) Save(rec *models.UserRecord) error {
	return d.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(rec).Error
}

// All returns every stored record.
func (d *Directory) All() ([]models.UserRecord, error) {
	var recs []models.UserRecord
	if err := d.db.Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}
