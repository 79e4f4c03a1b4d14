package schema

import (
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"
)

// NextId allocates the next entity id. It must run inside a transaction; the
// UPDATE takes the counter row lock, which serializes concurrent allocations
// so no two entities ever share an id.
func NextId(txn *gorm.DB) (int64, error) {
	result := txn.Model(&IdCounter{}).Where("id = ?", 1).Update("next_id", gorm.Expr("next_id + 1"))
	if result.Error != nil {
		slog.Error("sql error in next id update", "error", result.Error)
		return 0, ErrDbAccessFailed
	}
	if result.RowsAffected == 0 {
		return 0, fmt.Errorf("id counter row is missing, was the database initialized?")
	}

	var counter IdCounter
	if err := txn.First(&counter, "id = ?", 1).Error; err != nil {
		slog.Error("sql error in next id read", "error", err)
		return 0, ErrDbAccessFailed
	}

	return counter.NextId, nil
}

// SeedIdCounter creates the counter row if it does not exist. The first id
// handed out afterwards is offset+1, so every entity id is strictly greater
// than the offset.
func SeedIdCounter(offset int64, db *gorm.DB) error {
	var counter IdCounter

	err := db.First(&counter, "id = ?", 1).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		slog.Error("sql error in seed id counter", "error", err)
		return ErrDbAccessFailed
	}

	if err := db.Create(&IdCounter{Id: 1, NextId: offset}).Error; err != nil {
		slog.Error("sql error in seed id counter", "error", err)
		return ErrDbAccessFailed
	}
	return nil
}
