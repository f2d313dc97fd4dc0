package assistant

import (
	"context"
	"fmt"

	"github.com/malakmagdy1/RealStateFlutter/internal/models"
	"github.com/malakmagdy1/RealStateFlutter/internal/prompt"
)

// PropertyInput is the boundary shape for property data: exactly one of a
// catalog id, a structured unit, or an opaque attribute map.
type PropertyInput struct {
	UnitID     int64
	Unit       *models.Unit
	Attributes map[string]interface{}
}

// IsZero reports whether no variant is set.
func (p PropertyInput) IsZero() bool {
	return p.UnitID <= 0 && p.Unit == nil && len(p.Attributes) == 0
}

func (p PropertyInput) variants() int {
	n := 0
	if p.UnitID > 0 {
		n++
	}
	if p.Unit != nil {
		n++
	}
	if len(p.Attributes) > 0 {
		n++
	}
	return n
}

// record normalizes the input, loading catalog units when given an id. The
// unit is nil for attribute maps.
func (s *Service) record(ctx context.Context, p PropertyInput) (prompt.Record, *models.Unit, error) {
	if p.variants() != 1 {
		return prompt.Record{}, nil, validation("exactly one of unit_id, unit or property_data is required")
	}
	switch {
	case p.Unit != nil:
		return prompt.UnitRecord(p.Unit), p.Unit, nil
	case len(p.Attributes) > 0:
		return prompt.MapRecord("unit", p.Attributes), nil, nil
	}
	if s.catalog == nil {
		return prompt.Record{}, nil, fmt.Errorf("unit %d: catalog not configured", p.UnitID)
	}
	unit, err := s.catalog.GetUnit(ctx, p.UnitID)
	if err != nil {
		return prompt.Record{}, nil, err
	}
	return prompt.UnitRecord(unit), unit, nil
}
