package output

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
)

var (
	timeType     = reflect.TypeOf(time.Time{})
	durationType = reflect.TypeOf(time.Duration(0))
)

// TableFormatter formats data as an aligned text table.
//
// Struct fields are controlled by the "table" tag: `table:"-"` hides a
// field, `table:",wide"` shows it only in wide mode and `table:",bytes"`
// renders an integer as a byte size. Column names come from the table,
// yaml or json tag name in that order.
type TableFormatter struct {
	Wide      bool
	NoHeaders bool
}

// Format renders a *Table, a slice, a map or a struct.
// Nested structs of a single struct are flattened with dotted names.
func (f *TableFormatter) Format(w io.Writer, data any) error {
	if data == nil {
		return nil
	}

	switch t := data.(type) {
	case *Table:
		return t.RenderWithOptions(w, f.NoHeaders)
	case Table:
		return t.RenderWithOptions(w, f.NoHeaders)
	}

	table, err := toTable(data, f.Wide)
	if err != nil {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(data)
	}
	return table.RenderWithOptions(w, f.NoHeaders)
}

func toTable(data any, wide bool) (*Table, error) {
	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return &Table{}, nil
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		return sliceToTable(v, wide)
	case reflect.Map:
		return mapToTable(v), nil
	case reflect.Struct:
		t := &Table{Headers: []string{"FIELD", "VALUE"}}
		flattenStruct(t, "", v, wide)
		return t, nil
	default:
		return nil, fmt.Errorf("unsupported type: %s", v.Kind())
	}
}

type column struct {
	index int
	name  string
	bytes bool
}

// fieldOptions parses the struct tags of f. ok is false for hidden fields.
func fieldOptions(f reflect.StructField, wide bool) (name string, bytes, ok bool) {
	if !f.IsExported() {
		return "", false, false
	}
	tag := f.Tag.Get("table")
	if tag == "-" {
		return "", false, false
	}
	parts := strings.Split(tag, ",")
	for _, opt := range parts[1:] {
		switch opt {
		case "wide":
			if !wide {
				return "", false, false
			}
		case "bytes":
			bytes = true
		}
	}

	name = parts[0]
	if name == "" {
		name = tagName(f, "yaml")
	}
	if name == "" {
		name = tagName(f, "json")
	}
	if name == "" {
		name = toSnakeCase(f.Name)
	}
	return name, bytes, true
}

func tagName(f reflect.StructField, key string) string {
	name := strings.Split(f.Tag.Get(key), ",")[0]
	if name == "-" {
		return ""
	}
	return name
}

func sliceToTable(v reflect.Value, wide bool) (*Table, error) {
	if v.Len() == 0 {
		return &Table{}, nil
	}

	first := v.Index(0)
	if first.Kind() == reflect.Ptr {
		first = first.Elem()
	}

	table := &Table{}
	var cols []column

	switch first.Kind() {
	case reflect.Struct:
		if first.Type() == timeType {
			table.Headers = []string{"VALUE"}
			break
		}
		t := first.Type()
		for i := 0; i < t.NumField(); i++ {
			name, bytes, ok := fieldOptions(t.Field(i), wide)
			if !ok {
				continue
			}
			table.Headers = append(table.Headers, strings.ToUpper(name))
			cols = append(cols, column{index: i, name: name, bytes: bytes})
		}
	case reflect.Map:
		table.Headers = []string{"KEY", "VALUE"}
	default:
		table.Headers = []string{"VALUE"}
	}

	for i := 0; i < v.Len(); i++ {
		elem := v.Index(i)
		if elem.Kind() == reflect.Ptr {
			if elem.IsNil() {
				continue
			}
			elem = elem.Elem()
		}

		switch {
		case elem.Kind() == reflect.Struct && cols != nil:
			row := make([]string, 0, len(cols))
			for _, c := range cols {
				row = append(row, formatField(elem.Field(c.index), c.bytes))
			}
			table.Rows = append(table.Rows, row)
		case elem.Kind() == reflect.Map:
			table.Rows = append(table.Rows, mapToTable(elem).Rows...)
		default:
			table.Rows = append(table.Rows, []string{formatValue(elem)})
		}
	}

	return table, nil
}

func mapToTable(v reflect.Value) *Table {
	table := &Table{Headers: []string{"KEY", "VALUE"}}

	iter := v.MapRange()
	for iter.Next() {
		table.Rows = append(table.Rows, []string{formatValue(iter.Key()), formatValue(iter.Value())})
	}
	table.sortRows()
	return table
}

func flattenStruct(t *Table, prefix string, v reflect.Value, wide bool) {
	typ := v.Type()
	for i := 0; i < typ.NumField(); i++ {
		name, bytes, ok := fieldOptions(typ.Field(i), wide)
		if !ok {
			continue
		}
		if prefix != "" {
			name = prefix + "." + name
		}

		fv := v.Field(i)
		if fv.Kind() == reflect.Ptr {
			if fv.IsNil() {
				continue
			}
			fv = fv.Elem()
		}
		if fv.Kind() == reflect.Struct && fv.Type() != timeType {
			flattenStruct(t, name, fv, wide)
			continue
		}
		t.Rows = append(t.Rows, []string{name, formatField(fv, bytes)})
	}
}

func formatField(v reflect.Value, bytes bool) string {
	if bytes {
		switch v.Kind() {
		case reflect.Int, reflect.Int32, reflect.Int64:
			return FormatBytes(v.Int())
		case reflect.Uint, reflect.Uint32, reflect.Uint64:
			return FormatBytes(int64(v.Uint()))
		}
	}
	return formatValue(v)
}

// formatValue formats a reflect.Value for display.
func formatValue(v reflect.Value) string {
	if !v.IsValid() {
		return ""
	}

	if v.Kind() == reflect.Interface || v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}

	switch v.Type() {
	case timeType:
		t := v.Interface().(time.Time)
		if t.IsZero() {
			return "-"
		}
		return t.Local().Format("2006-01-02 15:04:05")
	case durationType:
		d := time.Duration(v.Int())
		if d == 0 {
			return "-"
		}
		if d > time.Second {
			d = d.Round(time.Millisecond)
		}
		return d.String()
	}

	switch v.Kind() {
	case reflect.String:
		s := v.String()
		if s == "" {
			return "-"
		}
		return s
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'f', 2, 64)
	case reflect.Bool:
		return strconv.FormatBool(v.Bool())
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "-"
		}
		if v.Type().Elem().Kind() == reflect.String && v.Len() <= 4 {
			parts := make([]string, v.Len())
			for i := range parts {
				parts[i] = v.Index(i).String()
			}
			return strings.Join(parts, ",")
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		if v.Len() == 0 {
			return "-"
		}
		return fmt.Sprintf("{%d keys}", v.Len())
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}

// toSnakeCase converts CamelCase to snake_case.
func toSnakeCase(s string) string {
	var result strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				result.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		result.WriteRune(r)
	}
	return result.String()
}

// Table represents tabular data.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Render renders the table to the writer.
func (t *Table) Render(w io.Writer) error {
	return t.RenderWithOptions(w, false)
}

// RenderWithOptions renders the table, optionally without the header row.
func (t *Table) RenderWithOptions(w io.Writer, noHeaders bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	if !noHeaders && len(t.Headers) > 0 {
		fmt.Fprintln(tw, strings.Join(t.Headers, "\t"))
	}
	for _, row := range t.Rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// AddRow adds a row to the table.
func (t *Table) AddRow(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

// SetHeaders sets the table headers.
func (t *Table) SetHeaders(headers ...string) {
	t.Headers = headers
}

func (t *Table) sortRows() {
	slices.SortFunc(t.Rows, func(a, b []string) int {
		return strings.Compare(a[0], b[0])
	})
}
