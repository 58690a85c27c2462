// Package feed defines the source registry: which upstream market-data
// endpoints exist, how their responses are shaped, and which fields are
// projected and compared. The registry is read-only after startup.
package feed

import (
	"time"

	"github.com/quotra/quotra/config"
	"github.com/quotra/quotra/errors"
)

// ResponseFormat describes the top-level shape of a source's JSON response
type ResponseFormat string

const (
	// FormatObject is a single JSON object yielding one record
	FormatObject ResponseFormat = "object"
	// FormatArray is a flat JSON array yielding one record per element
	FormatArray ResponseFormat = "array"
	// FormatWrapped is an object with the collection nested under a key,
	// e.g. {"data": [...]} or {"Data": [...]}
	FormatWrapped ResponseFormat = "wrapped"
)

// FieldType is the coercion applied to a projected field value
type FieldType string

const (
	TypeString FieldType = "string"
	TypeNumber FieldType = "number"
	TypeBool   FieldType = "bool"
	TypeRaw    FieldType = "raw"
)

// FieldRule declares one projected field: where it comes from in the raw
// item, what it is called in the normalized record, and its coercion.
type FieldRule struct {
	Name     string
	Path     string // dot-separated path into the raw item
	Type     FieldType
	Required bool
}

// Source is one registered upstream endpoint. Immutable at runtime.
type Source struct {
	ID             string
	URL            string
	Format         ResponseFormat
	CollectionPath string
	NaturalKey     string
	Interval       time.Duration
	Fields         []FieldRule
	CompareFields  []string
}

// HasNaturalKey reports whether the source declares a usable natural key.
// Sources without one get synthetic keys and are never deduplicated.
func (s *Source) HasNaturalKey() bool {
	return s.NaturalKey != ""
}

// sourceFromConfig validates and converts one configured source definition
func sourceFromConfig(sc config.SourceConfig, defaultInterval time.Duration) (*Source, error) {
	if sc.ID == "" {
		return nil, errors.Wrap(errors.ErrInvalidConfig, "source missing id")
	}
	if sc.URL == "" {
		return nil, errors.Wrapf(errors.ErrInvalidConfig, "source %s missing url", sc.ID)
	}
	if len(sc.Fields) == 0 {
		return nil, errors.Wrapf(errors.ErrInvalidConfig, "source %s declares no fields", sc.ID)
	}

	format := ResponseFormat(sc.Format)
	switch format {
	case FormatObject, FormatArray, FormatWrapped:
	case "":
		format = FormatObject
	default:
		return nil, errors.Wrapf(errors.ErrInvalidConfig, "source %s has unknown format %q", sc.ID, sc.Format)
	}

	fields := make([]FieldRule, 0, len(sc.Fields))
	names := make(map[string]bool, len(sc.Fields))
	for _, fc := range sc.Fields {
		if fc.Name == "" {
			return nil, errors.Wrapf(errors.ErrInvalidConfig, "source %s has a field without a name", sc.ID)
		}
		if names[fc.Name] {
			return nil, errors.Wrapf(errors.ErrInvalidConfig, "source %s declares field %q twice", sc.ID, fc.Name)
		}
		names[fc.Name] = true

		path := fc.Path
		if path == "" {
			path = fc.Name
		}
		ftype := FieldType(fc.Type)
		switch ftype {
		case TypeString, TypeNumber, TypeBool, TypeRaw:
		case "":
			ftype = TypeRaw
		default:
			return nil, errors.Wrapf(errors.ErrInvalidConfig, "source %s field %q has unknown type %q", sc.ID, fc.Name, fc.Type)
		}

		fields = append(fields, FieldRule{
			Name:     fc.Name,
			Path:     path,
			Type:     ftype,
			Required: fc.Required,
		})
	}

	if sc.NaturalKey != "" && !names[sc.NaturalKey] {
		return nil, errors.Wrapf(errors.ErrInvalidConfig, "source %s natural key %q is not a projected field", sc.ID, sc.NaturalKey)
	}
	for _, cmp := range sc.Compare {
		if !names[cmp] {
			return nil, errors.Wrapf(errors.ErrInvalidConfig, "source %s compare field %q is not a projected field", sc.ID, cmp)
		}
	}

	// Empty compare list means the full projected field set is compared
	compare := sc.Compare
	if len(compare) == 0 {
		compare = make([]string, 0, len(fields))
		for _, f := range fields {
			compare = append(compare, f.Name)
		}
	}

	interval := defaultInterval
	if sc.IntervalSeconds > 0 {
		interval = time.Duration(sc.IntervalSeconds) * time.Second
	}

	return &Source{
		ID:             sc.ID,
		URL:            sc.URL,
		Format:         format,
		CollectionPath: sc.CollectionPath,
		NaturalKey:     sc.NaturalKey,
		Interval:       interval,
		Fields:         fields,
		CompareFields:  compare,
	}, nil
}
