package formula

import (
	"fmt"
	"strings"

	"github.com/emrgen/tabular/internal/model"
)

// ExtractFieldIDs returns the field ids referenced as {fieldId} in an
// expression, in order of first appearance, deduplicated.
func ExtractFieldIDs(expr string) []string {
	var ids []string
	seen := make(map[string]struct{})
	for i := 0; i < len(expr); i++ {
		if expr[i] != '{' {
			continue
		}
		end := strings.IndexByte(expr[i:], '}')
		if end < 0 {
			break
		}
		id := expr[i+1 : i+end]
		i += end
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// RollupFunc describes the result shape of one rollup aggregation.
type RollupFunc struct {
	Name string
	// ValueType is the result type; empty means "inherit from the
	// looked-up field".
	ValueType model.CellValueType
	Multiple  bool
}

var rollupFuncs = map[string]RollupFunc{
	"countall":      {Name: "countall", ValueType: model.CellValueNumber},
	"counta":        {Name: "counta", ValueType: model.CellValueNumber},
	"count":         {Name: "count", ValueType: model.CellValueNumber},
	"sum":           {Name: "sum", ValueType: model.CellValueNumber},
	"max":           {Name: "max", ValueType: model.CellValueNumber},
	"min":           {Name: "min", ValueType: model.CellValueNumber},
	"average":       {Name: "average", ValueType: model.CellValueNumber},
	"and":           {Name: "and", ValueType: model.CellValueBoolean},
	"or":            {Name: "or", ValueType: model.CellValueBoolean},
	"xor":           {Name: "xor", ValueType: model.CellValueBoolean},
	"concatenate":   {Name: "concatenate", ValueType: model.CellValueString},
	"array_join":    {Name: "array_join", ValueType: model.CellValueString},
	"array_unique":  {Name: "array_unique", Multiple: true},
	"array_compact": {Name: "array_compact", Multiple: true},
}

// ParseRollup resolves the aggregation function of a rollup expression of
// the form "func({values})".
func ParseRollup(expr string) (RollupFunc, error) {
	name := expr
	if i := strings.IndexByte(expr, '('); i >= 0 {
		name = expr[:i]
	}
	name = strings.ToLower(strings.TrimSpace(name))
	fn, ok := rollupFuncs[name]
	if !ok {
		return RollupFunc{}, fmt.Errorf("unknown rollup function %q", name)
	}
	return fn, nil
}

// InferValueType infers a formula's result type from the types of the
// fields it references. Mixed references degrade to string.
func InferValueType(refTypes []model.CellValueType) model.CellValueType {
	if len(refTypes) == 0 {
		return model.CellValueString
	}
	first := refTypes[0]
	for _, t := range refTypes[1:] {
		if t != first {
			return model.CellValueString
		}
	}
	return first
}
