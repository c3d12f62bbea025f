package catalog

import (
	"errors"
	"fmt"
	"log"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"go_market_ranking/models"
)

// Store holds the tracked instrument universe.
type Store struct {
	db *gorm.DB
}

// NewStore opens the instrument catalog at dbPath and migrates its schema.
func NewStore(dbPath string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dbPath+"?_journal_mode=WAL&_busy_timeout=5000"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}
	if err := db.AutoMigrate(&models.Instrument{}); err != nil {
		return nil, fmt.Errorf("failed to migrate instruments table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// List returns all instruments ordered by symbol.
func (s *Store) List() ([]models.Instrument, error) {
	var instruments []models.Instrument
	if err := s.db.Order("symbol").Find(&instruments).Error; err != nil {
		return nil, fmt.Errorf("failed to list instruments: %w", err)
	}
	return instruments, nil
}

// ActiveSymbols returns the symbols of all active instruments.
func (s *Store) ActiveSymbols() ([]string, error) {
	var symbols []string
	err := s.db.Model(&models.Instrument{}).
		Where("status = ?", "active").
		Order("symbol").
		Pluck("symbol", &symbols).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load active symbols: %w", err)
	}
	return symbols, nil
}

// Upsert creates the instrument if its symbol is new, otherwise updates it.
func (s *Store) Upsert(inst models.Instrument) error {
	var existing models.Instrument
	err := s.db.Where("symbol = ?", inst.Symbol).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := s.db.Create(&inst).Error; err != nil {
			return fmt.Errorf("failed to create instrument %s: %w", inst.Symbol, err)
		}
		return nil
	}
	if err != nil {
		return err
	}

	existing.Name = inst.Name
	existing.Exchange = inst.Exchange
	existing.Status = inst.Status
	if err := s.db.Save(&existing).Error; err != nil {
		return fmt.Errorf("failed to update instrument %s: %w", inst.Symbol, err)
	}
	return nil
}

// SeedDefaults inserts a starter universe when the catalog is empty.
func (s *Store) SeedDefaults() error {
	var count int64
	if err := s.db.Model(&models.Instrument{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	defaults := []models.Instrument{
		{Symbol: "VNM", Name: "Vinamilk", Exchange: "HOSE", Status: "active"},
		{Symbol: "VIC", Name: "Vingroup", Exchange: "HOSE", Status: "active"},
		{Symbol: "HPG", Name: "Hoa Phat Group", Exchange: "HOSE", Status: "active"},
		{Symbol: "VHM", Name: "Vinhomes", Exchange: "HOSE", Status: "active"},
		{Symbol: "VCB", Name: "Vietcombank", Exchange: "HOSE", Status: "active"},
		{Symbol: "TCB", Name: "Techcombank", Exchange: "HOSE", Status: "active"},
		{Symbol: "MSN", Name: "Masan Group", Exchange: "HOSE", Status: "active"},
		{Symbol: "FPT", Name: "FPT Corporation", Exchange: "HOSE", Status: "active"},
		{Symbol: "ACB", Name: "Asia Commercial Bank", Exchange: "HOSE", Status: "active"},
		{Symbol: "GAS", Name: "PetroVietnam Gas", Exchange: "HOSE", Status: "active"},
	}

	for _, inst := range defaults {
		if err := s.db.Create(&inst).Error; err != nil {
			return fmt.Errorf("failed to seed instrument %s: %w", inst.Symbol, err)
		}
	}
	log.Printf("Seeded %d default instruments", len(defaults))
	return nil
}
