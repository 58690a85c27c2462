package ingest

import (
	"encoding/json"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/quotra/quotra/errors"
	"github.com/quotra/quotra/feed"
	"github.com/quotra/quotra/logger"
)

// Normalizer maps raw source responses into normalized records using the
// source's projection schema. Pure transformation; no I/O.
type Normalizer struct {
	logger *zap.SugaredLogger
}

// NewNormalizer creates a normalizer
func NewNormalizer(log *zap.SugaredLogger) *Normalizer {
	return &Normalizer{logger: log}
}

// Normalize extracts zero or more records from a raw response body.
// Items missing a required projected field are skipped (logged) without
// aborting the rest of the batch; the skip count is returned. A body
// that cannot be parsed at all is a run-level error.
func (n *Normalizer) Normalize(src *feed.Source, body []byte) ([]*NormalizedRecord, int, error) {
	items, err := extractItems(src, body)
	if err != nil {
		return nil, 0, err
	}

	records := make([]*NormalizedRecord, 0, len(items))
	skipped := 0
	for i, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			skipped++
			if n.logger != nil {
				n.logger.Warnw("Skipping non-object item",
					logger.FieldSourceID, src.ID,
					logger.FieldItemIndex, i)
			}
			continue
		}

		rec, err := n.project(src, obj, i)
		if err != nil {
			skipped++
			if n.logger != nil {
				n.logger.Warnw("Skipping item",
					logger.FieldSourceID, src.ID,
					logger.FieldItemIndex, i,
					logger.FieldError, err)
			}
			continue
		}
		records = append(records, rec)
	}

	return records, skipped, nil
}

// extractItems resolves the top-level response shape into a flat item list
func extractItems(src *feed.Source, body []byte) ([]interface{}, error) {
	switch src.Format {
	case feed.FormatArray:
		var items []interface{}
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, errors.Wrapf(err, "source %s: response is not a JSON array", src.ID)
		}
		return items, nil

	case feed.FormatObject:
		var obj map[string]interface{}
		if err := json.Unmarshal(body, &obj); err != nil {
			return nil, errors.Wrapf(err, "source %s: response is not a JSON object", src.ID)
		}
		return []interface{}{obj}, nil

	case feed.FormatWrapped:
		var obj map[string]interface{}
		if err := json.Unmarshal(body, &obj); err != nil {
			return nil, errors.Wrapf(err, "source %s: response is not a JSON object", src.ID)
		}
		collection, ok := lookupCollection(obj, src.CollectionPath)
		if !ok {
			return nil, errors.Newf("source %s: wrapped response has no collection at %q", src.ID, src.CollectionPath)
		}
		items, ok := collection.([]interface{})
		if !ok {
			return nil, errors.Newf("source %s: wrapped collection is not an array", src.ID)
		}
		return items, nil

	default:
		return nil, errors.Newf("source %s: unknown response format %q", src.ID, src.Format)
	}
}

// lookupCollection finds the wrapped collection. An empty path tries the
// conventional "data" key with a case-insensitive fallback ("Data" etc.).
func lookupCollection(obj map[string]interface{}, path string) (interface{}, bool) {
	if path != "" {
		return lookupPath(obj, path)
	}
	if v, ok := obj["data"]; ok {
		return v, true
	}
	for key, v := range obj {
		if strings.EqualFold(key, "data") {
			return v, true
		}
	}
	return nil, false
}

// project applies the source's field rules to one raw item. Unknown and
// volatile fields never make it past this point: only declared projections
// are kept. Field minimization is deliberate, not an error.
func (n *Normalizer) project(src *feed.Source, item map[string]interface{}, index int) (*NormalizedRecord, error) {
	fields := make(map[string]interface{}, len(src.Fields))

	for _, rule := range src.Fields {
		raw, found := lookupPath(item, rule.Path)
		if !found || raw == nil {
			if rule.Required {
				return nil, errors.Newf("missing required field %q", rule.Name)
			}
			continue
		}

		value, err := coerce(raw, rule.Type)
		if err != nil {
			if rule.Required {
				return nil, errors.Wrapf(err, "field %q", rule.Name)
			}
			continue
		}
		fields[rule.Name] = value
	}

	rec := &NormalizedRecord{
		SourceID:  src.ID,
		Fields:    fields,
		ItemIndex: index,
	}

	if src.HasNaturalKey() {
		rec.NaturalKey = keyString(fields[src.NaturalKey])
	}

	return rec, nil
}

// lookupPath walks a dot-separated path through nested JSON objects
func lookupPath(item map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var current interface{} = item

	for _, part := range parts {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = obj[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// coerce converts a raw JSON value to the rule's declared type.
// Upstream APIs disagree on whether numbers are numbers or strings
// (Binance quotes prices as strings), so numeric coercion accepts both.
func coerce(raw interface{}, ftype feed.FieldType) (interface{}, error) {
	switch ftype {
	case feed.TypeNumber:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, errors.Newf("cannot coerce %q to number", v)
			}
			return f, nil
		case bool:
			if v {
				return float64(1), nil
			}
			return float64(0), nil
		default:
			return nil, errors.Newf("cannot coerce %T to number", raw)
		}

	case feed.TypeString:
		switch v := raw.(type) {
		case string:
			return v, nil
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case bool:
			return strconv.FormatBool(v), nil
		default:
			return nil, errors.Newf("cannot coerce %T to string", raw)
		}

	case feed.TypeBool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, errors.Newf("cannot coerce %q to bool", v)
			}
			return b, nil
		default:
			return nil, errors.Newf("cannot coerce %T to bool", raw)
		}

	default: // feed.TypeRaw
		return raw, nil
	}
}

// keyString renders a natural key value as a stable string. Numeric keys
// are common (exchange ids); formatting must not depend on float noise.
func keyString(v interface{}) string {
	switch k := v.(type) {
	case string:
		return strings.TrimSpace(k)
	case float64:
		return strconv.FormatFloat(k, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(k)
	default:
		return ""
	}
}
