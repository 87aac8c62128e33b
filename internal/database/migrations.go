package database

import (
	"errors"
	"net/url"
	"time"

	"github.com/MarcoPoloResearchLab/tender/internal/catalog"
	"github.com/MarcoPoloResearchLab/tender/internal/rooms"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationDedupeBallots   = "2026-10-18_dedupe_ballots"
	migrationKeylessPhotoURL = "2026-10-19_keyless_photo_urls"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationDedupeBallots, apply: dedupeBallots},
		{name: migrationKeylessPhotoURL, apply: rewritePhotoURLs},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// dedupeBallots keeps only the latest ballot per (participant, candidate).
// Ties on cast time keep the greatest ballot id.
func dedupeBallots(db *gorm.DB) error {
	if !db.Migrator().HasTable(&rooms.Ballot{}) {
		return nil
	}
	return db.Exec(`DELETE FROM ballots WHERE ballot_id IN (
		SELECT older.ballot_id FROM ballots older
		WHERE EXISTS (
			SELECT 1 FROM ballots newer
			WHERE newer.participant_id = older.participant_id
			  AND newer.candidate_id = older.candidate_id
			  AND (newer.cast_at > older.cast_at
			       OR (newer.cast_at = older.cast_at AND newer.ballot_id > older.ballot_id))
		)
	)`).Error
}

// rewritePhotoURLs replaces stored provider photo URLs, which embed the API key,
// with the local photo path. Unparseable URLs are cleared.
func rewritePhotoURLs(db *gorm.DB) error {
	if !db.Migrator().HasTable(&rooms.Candidate{}) {
		return nil
	}
	var stored []rooms.Candidate
	if err := db.Select("candidate_id", "image_url").
		Where("image_url LIKE ?", "%photoreference=%").
		Find(&stored).Error; err != nil {
		return err
	}
	for _, candidate := range stored {
		rewritten := ""
		if parsed, err := url.Parse(candidate.ImageURL); err == nil {
			if reference := parsed.Query().Get("photoreference"); reference != "" {
				rewritten = catalog.PhotoPathPrefix + url.PathEscape(reference)
			}
		}
		if err := db.Model(&rooms.Candidate{}).
			Where("candidate_id = ?", candidate.CandidateID).
			Update("image_url", rewritten).Error; err != nil {
			return err
		}
	}
	return nil
}
