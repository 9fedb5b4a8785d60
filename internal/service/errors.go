package service

import "errors"

var (
	// ErrTableNotFound is returned when the owning table does not exist.
	ErrTableNotFound = errors.New("table not found")
	// ErrForeignTableNotFound is returned when a link's foreign table does not exist.
	ErrForeignTableNotFound = errors.New("foreign table not found")
	// ErrFieldNotFound is returned when a referenced field does not exist.
	ErrFieldNotFound = errors.New("field not found")
	// ErrNotLinkField is returned when a lookup or rollup names a non-link field as its link.
	ErrNotLinkField = errors.New("referenced field is not a link")
	// ErrCrossBaseLink is returned when a link targets a table outside the allowed base.
	ErrCrossBaseLink = errors.New("link foreign table belongs to another base")
	// ErrPrimaryFieldMissing is returned when a table unexpectedly has no primary field.
	ErrPrimaryFieldMissing = errors.New("primary field missing")
	// ErrDeletePrimaryField is returned on any attempt to delete a primary field.
	ErrDeletePrimaryField = errors.New("primary field cannot be deleted")
	// ErrDBFieldNameTaken is returned when a caller-supplied storage column name is already used.
	ErrDBFieldNameTaken = errors.New("db field name already used in table")
	// ErrLookupOptionsMissing is returned when a lookup or rollup request has no lookup options.
	ErrLookupOptionsMissing = errors.New("lookup options are required")
	// ErrLinkOptionsMissing is returned when a link request has no link options.
	ErrLinkOptionsMissing = errors.New("link options are required")
	// ErrUnknownFieldType is returned for a field type outside the closed kind set.
	ErrUnknownFieldType = errors.New("unknown field type")
	// ErrExpressionMissing is returned when a rollup or formula has no expression.
	ErrExpressionMissing = errors.New("expression is required")
)
