package inventory

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gpuwatchhq/gpuwatch/pkg/types"
)

// ParseError reports a malformed line of inventory output.
type ParseError struct {
	Line  string
	Field string
	Want  int
	Got   int
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("parse inventory field %q in line %q: %v", e.Field, e.Line, e.Err)
	}
	return fmt.Sprintf("parse inventory line %q: got %d fields, want %d", e.Line, e.Got, e.Want)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseFields splits one CSV line into the named fields. Numeric fields
// lose their unit suffix; a field reported as not supported becomes
// types.NotSupported. An unreadable ([N/A]) memory field becomes 0 so the
// resource is never eligible; other unreadable fields take the sentinel.
// Memory values are truncated to integers.
func ParseFields(line string, fields []string) (map[string]any, error) {
	raw := strings.Split(strings.TrimSpace(line), ",")
	if len(raw) != len(fields) {
		return nil, &ParseError{Line: line, Want: len(fields), Got: len(raw)}
	}

	out := make(map[string]any, len(fields))
	for i, name := range fields {
		value := raw[i]
		if !numericFields[name] {
			out[name] = strings.TrimSpace(value)
			continue
		}
		if unreadable(value) && memoryFields[name] {
			out[name] = int64(0)
			continue
		}
		if notSupported(value) || unreadable(value) {
			if memoryFields[name] {
				out[name] = int64(types.NotSupported)
			} else {
				out[name] = float64(types.NotSupported)
			}
			continue
		}
		number, err := toNumber(value)
		if err != nil {
			return nil, &ParseError{Line: line, Field: name, Want: len(fields), Got: len(raw), Err: err}
		}
		if memoryFields[name] {
			out[name] = int64(number)
		} else {
			out[name] = number
		}
	}
	return out, nil
}

// ParseRecord parses one line laid out as QueryFields.
func ParseRecord(line string) (types.ResourceRecord, error) {
	values, err := ParseFields(line, QueryFields)
	if err != nil {
		return types.ResourceRecord{}, err
	}
	index, err := strconv.Atoi(values[FieldIndex].(string))
	if err != nil {
		return types.ResourceRecord{}, &ParseError{Line: line, Field: FieldIndex, Want: len(QueryFields), Got: len(QueryFields), Err: err}
	}
	return types.ResourceRecord{
		Index:       index,
		Name:        values[FieldName].(string),
		MemoryFree:  values[FieldMemoryFree].(int64),
		MemoryTotal: values[FieldMemoryTotal].(int64),
		PowerDraw:   values[FieldPowerDraw].(float64),
		PowerLimit:  values[FieldPowerLimit].(float64),
		Temperature: values[FieldTemperature].(float64),
		Timestamp:   values[FieldTimestamp].(string),
	}, nil
}

// ParseSnapshot parses the full query output. Blank lines, including the
// trailing one, are dropped. Any malformed line fails the whole snapshot.
func ParseSnapshot(output string) (types.Snapshot, error) {
	lines := strings.Split(output, "\n")
	snapshot := make(types.Snapshot, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		record, err := ParseRecord(line)
		if err != nil {
			return nil, err
		}
		snapshot = append(snapshot, record)
	}
	return snapshot, nil
}

func notSupported(value string) bool {
	return strings.Contains(strings.ToLower(value), "not support")
}

func unreadable(value string) bool {
	return strings.Contains(strings.ToLower(value), "n/a")
}

func toNumber(value string) (float64, error) {
	v := strings.ToUpper(strings.TrimSpace(value))
	v = strings.ReplaceAll(v, "MIB", "")
	v = strings.ReplaceAll(v, "W", "")
	v = strings.TrimSpace(v)
	return strconv.ParseFloat(v, 64)
}
