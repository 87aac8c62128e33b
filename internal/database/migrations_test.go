package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/tender/internal/config"
	"github.com/MarcoPoloResearchLab/tender/internal/hosts"
	"github.com/MarcoPoloResearchLab/tender/internal/rooms"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type legacyBallot struct {
	BallotID      string    `gorm:"column:ballot_id;primaryKey;size:190"`
	RoomID        string    `gorm:"column:room_id;size:190"`
	ParticipantID string    `gorm:"column:participant_id;size:190"`
	CandidateID   string    `gorm:"column:candidate_id;size:255"`
	Value         int       `gorm:"column:value"`
	CastAt        time.Time `gorm:"column:cast_at"`
}

func (legacyBallot) TableName() string {
	return "ballots"
}

func TestMigrateCollapsesDuplicateBallots(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "migration.db")
	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&legacyBallot{}); err != nil {
		testContext.Fatalf("failed to create legacy schema: %v", err)
	}

	base := time.Unix(1700000000, 0).UTC()
	legacy := []legacyBallot{
		{BallotID: "b1", RoomID: "r1", ParticipantID: "p1", CandidateID: "c1", Value: 1, CastAt: base},
		{BallotID: "b2", RoomID: "r1", ParticipantID: "p1", CandidateID: "c1", Value: -1, CastAt: base.Add(time.Minute)},
		{BallotID: "b3", RoomID: "r1", ParticipantID: "p1", CandidateID: "c2", Value: 0, CastAt: base},
		{BallotID: "b4", RoomID: "r1", ParticipantID: "p2", CandidateID: "c1", Value: 1, CastAt: base},
		{BallotID: "b5", RoomID: "r1", ParticipantID: "p2", CandidateID: "c1", Value: 0, CastAt: base},
	}
	if err := database.Create(&legacy).Error; err != nil {
		testContext.Fatalf("failed to insert legacy ballots: %v", err)
	}

	if err := Migrate(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}

	var remaining []rooms.Ballot
	if err := database.Order("ballot_id ASC").Find(&remaining).Error; err != nil {
		testContext.Fatalf("failed to reload ballots: %v", err)
	}
	if len(remaining) != 3 {
		testContext.Fatalf("expected 3 ballots after dedupe, got %d", len(remaining))
	}
	if remaining[0].BallotID != "b2" || remaining[0].Value != -1 {
		testContext.Fatalf("expected latest ballot b2 to survive, got %+v", remaining[0])
	}
	if remaining[1].BallotID != "b3" || remaining[2].BallotID != "b5" {
		testContext.Fatalf("unexpected survivors %+v", remaining)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationDedupeBallots).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	duplicate := rooms.Ballot{BallotID: "b6", RoomID: "r1", ParticipantID: "p1", CandidateID: "c1", Value: 1, CastAt: base}
	if err := database.Create(&duplicate).Error; err == nil {
		testContext.Fatalf("expected unique index to reject a duplicate pair")
	}
}

func TestMigrateStripsProviderKeyFromPhotoURLs(testContext *testing.T) {
	database, err := gorm.Open(sqlite.Open(filepath.Join(testContext.TempDir(), "photos.db")), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&rooms.Candidate{}); err != nil {
		testContext.Fatalf("failed to create candidate schema: %v", err)
	}
	createdAt := time.Unix(1700000000, 0).UTC()
	stored := []rooms.Candidate{
		{CandidateID: "c1", Name: "Keyed", ImageURL: "https://maps.googleapis.com/maps/api/place/photo?key=secret&maxwidth=400&photoreference=ref-1", CreatedAt: createdAt},
		{CandidateID: "c2", Name: "Local", ImageURL: "/photos/ref-2", CreatedAt: createdAt},
		{CandidateID: "c3", Name: "None", CreatedAt: createdAt},
	}
	if err := database.Create(&stored).Error; err != nil {
		testContext.Fatalf("failed to insert candidates: %v", err)
	}

	if err := Migrate(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}

	var reloaded []rooms.Candidate
	if err := database.Order("candidate_id ASC").Find(&reloaded).Error; err != nil {
		testContext.Fatalf("failed to reload candidates: %v", err)
	}
	want := []string{"/photos/ref-1", "/photos/ref-2", ""}
	for index, candidate := range reloaded {
		if candidate.ImageURL != want[index] {
			testContext.Fatalf("candidate %s: expected %q, got %q", candidate.CandidateID, want[index], candidate.ImageURL)
		}
	}
}

func TestMigrateIsRepeatable(testContext *testing.T) {
	database, err := gorm.Open(sqlite.Open(filepath.Join(testContext.TempDir(), "fresh.db")), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	for attempt := 0; attempt < 2; attempt++ {
		if err := Migrate(database, nil); err != nil {
			testContext.Fatalf("migration attempt %d failed: %v", attempt, err)
		}
	}
	for _, model := range append(rooms.Models(), &hosts.Host{}, &migrationRecord{}) {
		if !database.Migrator().HasTable(model) {
			testContext.Fatalf("expected table for %T", model)
		}
	}
}

func TestOpenValidatesDriverAndDSN(testContext *testing.T) {
	if _, err := Open(config.DriverSQLite, "", nil); err == nil {
		testContext.Fatalf("expected error for empty dsn")
	}
	if _, err := Open("oracle", "dsn", nil); err == nil {
		testContext.Fatalf("expected error for unsupported driver")
	}

	db, err := Open(config.DriverSQLite, filepath.Join(testContext.TempDir(), "open.db"), zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open sqlite store: %v", err)
	}
	if !db.Migrator().HasTable(&rooms.Room{}) {
		testContext.Fatalf("expected rooms table after open")
	}
}
