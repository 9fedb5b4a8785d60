package model

import (
	"strings"

	"github.com/google/uuid"
)

const (
	tableIDPrefix  = "tbl"
	fieldIDPrefix  = "fld"
	recordIDPrefix = "rec"
)

func shortID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
}

func NewTableID() string {
	return tableIDPrefix + shortID()
}

func NewFieldID() string {
	return fieldIDPrefix + shortID()
}

func NewRecordID() string {
	return recordIDPrefix + shortID()
}

// RandomKeySuffix is used for junction key columns that have no symmetric
// field id to be named after.
func RandomKeySuffix() string {
	return "rad" + shortID()
}
