package model

import "gorm.io/gorm"

// Table is the metadata row for one data table of a base.
type Table struct {
	gorm.Model
	ID          string `gorm:"primaryKey;not null"`
	BaseID      string `gorm:"not null;index:idx_tables_base_id"`
	Name        string `gorm:"not null"`
	DBTableName string `gorm:"not null;unique"`
}

func (t *Table) TableName() string {
	return "tables"
}
