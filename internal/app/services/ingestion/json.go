package ingestion

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/PaesslerAG/jsonpath"
	"github.com/tidwall/gjson"

	"github.com/veritrace/platform/internal/app/domain"
	"github.com/veritrace/platform/internal/app/frame"
)

// readJSON loads records from a JSON document. Accepted shapes: a top-level
// array of objects, an object with a "data" array, a single object, or any
// document with recordsPath pointing at the records array.
func readJSON(path, recordsPath string) (*frame.Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.WrapError(domain.KindIngestion, "read source file", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, domain.NewError(domain.KindIngestion, fmt.Sprintf("%s is not valid JSON", path))
	}

	if recordsPath != "" {
		return frameFromRecordsPath(data, recordsPath)
	}

	root := gjson.ParseBytes(data)
	switch {
	case root.IsArray():
		return frameFromResults(root.Array())
	case root.IsObject():
		if arr := root.Get("data"); arr.IsArray() {
			return frameFromResults(arr.Array())
		}
		return frameFromResults([]gjson.Result{root})
	default:
		return nil, domain.NewError(domain.KindIngestion, "JSON document has no records")
	}
}

// frameFromResults builds a frame from object records. The column set is the
// union of keys in first-appearance order; missing keys become null cells.
func frameFromResults(records []gjson.Result) (*frame.Frame, error) {
	columns := make([]string, 0)
	index := make(map[string]int)

	for i, rec := range records {
		if !rec.IsObject() {
			return nil, domain.NewError(domain.KindIngestion, fmt.Sprintf("record %d is not an object", i))
		}
		rec.ForEach(func(key, _ gjson.Result) bool {
			if _, ok := index[key.Str]; !ok {
				index[key.Str] = len(columns)
				columns = append(columns, key.Str)
			}
			return true
		})
	}
	if len(columns) == 0 {
		return nil, domain.NewError(domain.KindIngestion, "JSON records have no fields")
	}

	rows := make([][]string, len(records))
	for i, rec := range records {
		row := make([]string, len(columns))
		rec.ForEach(func(key, value gjson.Result) bool {
			if idx, ok := index[key.Str]; ok {
				row[idx] = cellFromResult(value)
			}
			return true
		})
		rows[i] = row
	}

	fr, err := frame.New(columns, rows)
	if err != nil {
		return nil, domain.WrapError(domain.KindIngestion, "build frame", err)
	}
	return fr, nil
}

func cellFromResult(value gjson.Result) string {
	switch value.Type {
	case gjson.Null:
		return ""
	case gjson.String:
		return value.Str
	default:
		// numbers, booleans and nested documents keep their raw form
		return value.Raw
	}
}

// frameFromRecordsPath resolves a JSONPath expression to the records array.
// Columns are sorted since Go maps do not preserve document order.
func frameFromRecordsPath(data []byte, recordsPath string) (*frame.Frame, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, domain.WrapError(domain.KindIngestion, "parse JSON", err)
	}

	extracted, err := jsonpath.Get(recordsPath, doc)
	if err != nil {
		return nil, domain.WrapError(domain.KindIngestion, fmt.Sprintf("resolve records_path %q", recordsPath), err)
	}

	records, ok := extracted.([]any)
	if !ok {
		return nil, domain.NewError(domain.KindIngestion, fmt.Sprintf("records_path %q does not point at an array", recordsPath))
	}

	keys := make(map[string]bool)
	objects := make([]map[string]any, len(records))
	for i, rec := range records {
		obj, ok := rec.(map[string]any)
		if !ok {
			return nil, domain.NewError(domain.KindIngestion, fmt.Sprintf("record %d is not an object", i))
		}
		objects[i] = obj
		for k := range obj {
			keys[k] = true
		}
	}
	if len(keys) == 0 {
		return nil, domain.NewError(domain.KindIngestion, "JSON records have no fields")
	}

	columns := make([]string, 0, len(keys))
	for k := range keys {
		columns = append(columns, k)
	}
	sort.Strings(columns)

	rows := make([][]string, len(objects))
	for i, obj := range objects {
		row := make([]string, len(columns))
		for j, col := range columns {
			if v, ok := obj[col]; ok {
				row[j] = cellFromValue(v)
			}
		}
		rows[i] = row
	}

	fr, err := frame.New(columns, rows)
	if err != nil {
		return nil, domain.WrapError(domain.KindIngestion, "build frame", err)
	}
	return fr, nil
}

func cellFromValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		raw, _ := json.Marshal(t)
		return string(raw)
	}
}
