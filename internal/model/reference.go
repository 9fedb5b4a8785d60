package model

import "gorm.io/gorm"

// Reference is one edge of the field dependency graph: ToField's value
// depends on FromField's value.
type Reference struct {
	gorm.Model
	FromFieldID string `gorm:"not null;index:idx_references_from;uniqueIndex:idx_references_pair"`
	ToFieldID   string `gorm:"not null;index:idx_references_to;uniqueIndex:idx_references_pair"`
}

func (r *Reference) TableName() string {
	return "field_references"
}
