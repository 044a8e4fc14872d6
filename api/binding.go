package api

import (
	"fmt"
	"regexp"
)

// Binding names the table and columns a relational store keeps its
// forest in. The defaults match the schema `canopy init` creates;
// override them to layer path maintenance onto an existing table that
// already carries id/parent/path columns plus its own fields.
type Binding struct {
	// Table holding the records.
	Table string `json:"table"`
	// IDColumn is the integer primary key column.
	IDColumn string `json:"id_column"`
	// ParentColumn is the nullable self-referential parent id column.
	ParentColumn string `json:"parent_column"`
	// PathColumn is the indexed, nullable materialized path column.
	PathColumn string `json:"path_column"`
	// PayloadColumn stores the record payload as JSON text. Empty
	// disables payload persistence (the table has its own fields).
	PayloadColumn string `json:"payload_column,omitempty"`
}

// DefaultBinding is the schema canopy owns itself.
func DefaultBinding() Binding {
	return Binding{
		Table:         "nodes",
		IDColumn:      "id",
		ParentColumn:  "parent_id",
		PathColumn:    "path",
		PayloadColumn: "payload",
	}
}

// identRe is the shape of a bare SQL identifier. Binding values are
// interpolated into statements, so anything else is rejected up front.
var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks every named identifier.
func (b Binding) Validate() error {
	idents := []string{b.Table, b.IDColumn, b.ParentColumn, b.PathColumn}
	if b.PayloadColumn != "" {
		idents = append(idents, b.PayloadColumn)
	}
	for _, ident := range idents {
		if !identRe.MatchString(ident) {
			return fmt.Errorf("invalid identifier %q in binding", ident)
		}
	}
	return nil
}
