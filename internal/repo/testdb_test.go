package repo

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"covertext/pkg/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(5000)",
		filepath.Join(t.TempDir(), "covertext_test.db"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	if err := db.AutoMigrate(models.GetAllModels()...); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

// seedAgency inserts an agency with a normalized sending number.
func seedAgency(t *testing.T, db *gorm.DB) *models.Agency {
	t.Helper()
	agency := &models.Agency{
		Name:            "Test Agency",
		SMSNumber:       "5550001111",
		AutoSendEnabled: true,
	}
	if err := db.Create(agency).Error; err != nil {
		t.Fatalf("seed agency: %v", err)
	}
	return agency
}

func seedAgent(t *testing.T, db *gorm.DB, agencyID uuid.UUID, tier models.SubscriptionTier) *models.Agent {
	t.Helper()
	agent := &models.Agent{
		AgencyID:         agencyID,
		Email:            fmt.Sprintf("agent-%s@test.local", uuid.NewString()[:8]),
		Password:         "x",
		Name:             "Test Agent",
		SubscriptionTier: tier,
		IsActive:         true,
	}
	if err := db.Create(agent).Error; err != nil {
		t.Fatalf("seed agent: %v", err)
	}
	return agent
}

func seedDeal(t *testing.T, db *gorm.DB, agencyID, agentID uuid.UUID, clientPhone string) *models.Deal {
	t.Helper()
	deal := &models.Deal{
		BaseAgencyModel: models.BaseAgencyModel{AgencyID: agencyID},
		AgentID:         agentID,
		ClientFirstName: "Pat",
		ClientLastName:  "Doe",
		ClientPhone:     clientPhone,
		PolicyStatus:    "active",
	}
	if err := db.Create(deal).Error; err != nil {
		t.Fatalf("seed deal: %v", err)
	}
	return deal
}

func datePtr(t time.Time) *time.Time { return &t }
