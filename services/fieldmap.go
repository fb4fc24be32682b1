package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"xarid-sync/models"
	"xarid-sync/utils"
)

// Transform converts a locally stored value into its API form. A
// transform may ignore its input entirely (generated values such as
// expiry dates). A returned error means the field has no usable mapping.
type Transform func(value any) (any, error)

// resolver attempts to produce a value for one remote field from local
// listing data. claimed means this resolver owns the field and
// resolution stops here; ok means it actually produced a value.
type resolver func(field string, local map[string]any) (value any, claimed, ok bool)

// FieldMapper maps remote field names to values from local listing
// data, consulting three tables in priority order: static overrides,
// renames (with the photo special case), and value transforms. The
// resulting value is then coerced to the remote descriptor's declared
// type; coercion is total and never fails.
type FieldMapper struct {
	logger     *utils.Logger
	statics    map[string]any
	renames    map[string]string
	transforms map[string]Transform
	resolvers  []resolver
}

// NewFieldMapper builds the mapper with the marketplace field tables.
func NewFieldMapper(logger *utils.Logger) *FieldMapper {
	m := &FieldMapper{
		logger: logger,
		statics: map[string]any{
			"regions":         []any{"33"},
			"delivery_period": 10,
			"delivery_unit":   1,
			"license":         false,
			"guarantee":       1,
			"guarantee_unit":  30,
		},
		renames: map[string]string{
			"desc":     "properties",
			"photo":    "images", // resolved specially: first image wins
			"year":     "release_year",
			"producer": "vendor",
			"brand":    "mark",
		},
		transforms: map[string]Transform{
			"price":       doublePrice,
			"best_before": yearFromNow,
		},
	}
	m.resolvers = []resolver{m.resolveStatic, m.resolvePhoto, m.resolveLocal}
	return m
}

// HasStatic reports whether the field has a static override.
func (m *FieldMapper) HasStatic(field string) bool {
	_, ok := m.statics[field]
	return ok
}

// HasRename reports whether the field is in the rename table.
func (m *FieldMapper) HasRename(field string) bool {
	_, ok := m.renames[field]
	return ok
}

// MapValue resolves a value for the remote field from local listing
// data and coerces it to the descriptor's declared type. The second
// return is false when no mapping exists.
func (m *FieldMapper) MapValue(field string, local map[string]any, descriptor models.RemoteField) (any, bool) {
	for _, resolve := range m.resolvers {
		value, claimed, ok := resolve(field, local)
		if !claimed {
			continue
		}
		if !ok {
			return nil, false
		}
		return m.coerce(value, descriptor.Type), true
	}
	return nil, false
}

func (m *FieldMapper) resolveStatic(field string, _ map[string]any) (any, bool, bool) {
	value, ok := m.statics[field]
	if !ok {
		return nil, false, false
	}
	m.logger.Debug("[fieldmap] static value for %s: %v", field, value)
	return value, true, true
}

// resolvePhoto takes the first element of the local images list. An
// empty or missing list terminates resolution; the raw images value is
// never pushed whole.
func (m *FieldMapper) resolvePhoto(field string, local map[string]any) (any, bool, bool) {
	if field != "photo" {
		return nil, false, false
	}
	images, _ := local["images"].([]any)
	if len(images) == 0 {
		m.logger.Debug("[fieldmap] no images for %s", field)
		return nil, true, false
	}
	return images[0], true, true
}

func (m *FieldMapper) resolveLocal(field string, local map[string]any) (any, bool, bool) {
	localName, ok := m.renames[field]
	if !ok {
		localName = field
	}

	value, ok := local[localName]
	if !ok {
		return nil, false, false
	}

	if transform, has := m.transforms[field]; has {
		transformed, err := transform(value)
		if err != nil {
			m.logger.Warn("[fieldmap] transform failed for %s: %v", field, err)
			return nil, true, false
		}
		m.logger.Debug("[fieldmap] transformed %s: %v -> %v", field, value, transformed)
		value = transformed
	}
	return value, true, true
}

// coerce converts a resolved value to the remote descriptor type. It is
// total: every input yields some representation, falling back to text.
func (m *FieldMapper) coerce(value any, fieldType string) any {
	switch fieldType {
	case "number", "float", "int":
		f, err := toFloat(value)
		if err != nil {
			m.logger.Warn("[fieldmap] could not convert %v to %s, keeping text", value, fieldType)
			return toText(value)
		}
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f

	case "bool":
		switch v := value.(type) {
		case bool:
			return v
		case string:
			switch strings.ToLower(v) {
			case "true", "1", "yes", "on":
				return true
			default:
				return false
			}
		default:
			return truthy(value)
		}

	case "date":
		return toText(value)

	default:
		// Lists, objects and booleans go through structurally.
		switch value.(type) {
		case []any, map[string]any, bool:
			return value
		default:
			return toText(value)
		}
	}
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		return 0, fmt.Errorf("not numeric: %T", value)
	}
}

func toText(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", value)
}

func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return true
	}
}

func doublePrice(value any) (any, error) {
	f, err := toFloat(value)
	if err != nil {
		return nil, err
	}
	return f * 2, nil
}

// yearFromNow ignores its input: the expiry date is always one year out.
func yearFromNow(_ any) (any, error) {
	return time.Now().AddDate(1, 0, 0).Format("2006-01-02"), nil
}
