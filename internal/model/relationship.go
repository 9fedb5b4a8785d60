package model

import "fmt"

// Relationship is the cardinality of a link field, seen from the owning table.
type Relationship string

const (
	OneOne   Relationship = "oneOne"
	OneMany  Relationship = "oneMany"
	ManyOne  Relationship = "manyOne"
	ManyMany Relationship = "manyMany"
)

func (r Relationship) Valid() bool {
	switch r {
	case OneOne, OneMany, ManyOne, ManyMany:
		return true
	}
	return false
}

// Revert returns the cardinality of the same relationship seen from the
// foreign table. It is its own inverse.
func (r Relationship) Revert() Relationship {
	switch r {
	case OneMany:
		return ManyOne
	case ManyOne:
		return OneMany
	default:
		return r
	}
}

// IsMultipleCellValue reports whether a link with this cardinality holds
// more than one foreign row per record.
func (r Relationship) IsMultipleCellValue() bool {
	return r == ManyMany || r == OneMany
}

func (r Relationship) String() string {
	return string(r)
}

// ParseRelationship validates a raw relationship value from a request.
func ParseRelationship(s string) (Relationship, error) {
	r := Relationship(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown relationship %q", s)
	}
	return r, nil
}
