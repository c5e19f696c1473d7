// Package output renders command results as a table, JSON or YAML.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

type Formatter interface {
	Format(data any) (string, error)
}

// New returns the Formatter for format. An empty format selects table.
func New(format string) (Formatter, error) {
	switch strings.ToLower(format) {
	case "", FormatTable:
		return TableFormatter{}, nil
	case FormatJSON:
		return JSONFormatter{}, nil
	case FormatYAML:
		return YAMLFormatter{}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
	}
}

// TableFormatter prints a struct as key/value rows and a slice of structs
// as columns. Column names come from json tags when present.
type TableFormatter struct{}

func (TableFormatter) Format(data any) (string, error) {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)

	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Slice:
		if v.Len() == 0 {
			return "No entries.\n", nil
		}
		elem := indirect(v.Index(0))
		if elem.Kind() != reflect.Struct {
			for i := 0; i < v.Len(); i++ {
				fmt.Fprintln(w, v.Index(i).Interface())
			}
			break
		}
		t := elem.Type()
		headers := make([]string, t.NumField())
		for i := range headers {
			headers[i] = strings.ToUpper(columnName(t.Field(i)))
		}
		fmt.Fprintln(w, strings.Join(headers, "\t"))
		for i := 0; i < v.Len(); i++ {
			row := indirect(v.Index(i))
			vals := make([]string, row.NumField())
			for j := range vals {
				vals[j] = cell(row.Field(j))
			}
			fmt.Fprintln(w, strings.Join(vals, "\t"))
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			fmt.Fprintf(w, "%s:\t%s\n", columnName(t.Field(i)), cell(v.Field(i)))
		}
	default:
		fmt.Fprintln(w, data)
	}

	if err := w.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func indirect(v reflect.Value) reflect.Value {
	if v.Kind() == reflect.Ptr {
		return v.Elem()
	}
	return v
}

func columnName(f reflect.StructField) string {
	if tag, ok := f.Tag.Lookup("json"); ok {
		if name, _, _ := strings.Cut(tag, ","); name != "" && name != "-" {
			return name
		}
	}
	return f.Name
}

func cell(v reflect.Value) string {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return fmt.Sprintf("%.1f", v.Float())
	case reflect.String:
		if v.Len() == 0 {
			return "-"
		}
	}
	return fmt.Sprintf("%v", v.Interface())
}

type JSONFormatter struct{}

func (JSONFormatter) Format(data any) (string, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("json: %w", err)
	}
	return string(b) + "\n", nil
}

type YAMLFormatter struct{}

func (YAMLFormatter) Format(data any) (string, error) {
	b, err := yaml.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("yaml: %w", err)
	}
	return string(b), nil
}
