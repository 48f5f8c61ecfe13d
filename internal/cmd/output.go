package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/dagucloud/blobtrigger/internal/core/blob"
	"github.com/dagucloud/blobtrigger/internal/core/watermark"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

func parseOutputFormat(s string) (string, error) {
	switch s {
	case "", outputTable:
		return outputTable, nil
	case outputJSON, outputYAML:
		return s, nil
	default:
		return "", fmt.Errorf("unknown output format %q (must be one of: table, json, yaml)", s)
	}
}

// writeStructured writes v as indented JSON or as YAML converted from the
// same JSON, so both formats share the json field names.
func writeStructured(w io.Writer, format string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	if format == outputYAML {
		if data, err = yaml.JSONToYAML(data); err != nil {
			return fmt.Errorf("failed to encode output: %w", err)
		}
	}
	if len(data) > 0 && data[len(data)-1] != '\n' {
		data = append(data, '\n')
	}
	_, err = w.Write(data)
	return err
}

var objectHeader = table.Row{
	"#",
	"Container",
	"Key",
	"Last Modified",
	"Size",
	"URI",
}

func writeObjects(w io.Writer, format string, objects []blob.Object) error {
	if format != outputTable {
		if objects == nil {
			objects = []blob.Object{}
		}
		return writeStructured(w, format, objects)
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(objectHeader)
	for i, obj := range objects {
		t.AppendRow(table.Row{
			i + 1,
			obj.Container,
			obj.Key,
			obj.LastModified.UTC().Format(time.RFC3339),
			obj.Size,
			obj.URI,
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "Total", len(objects)})
	t.Render()
	return nil
}

var watermarkHeader = table.Row{
	"#",
	"Container",
	"Watermark",
}

func writeWatermarks(w io.Writer, format string, entries []watermark.Entry) error {
	if format != outputTable {
		if entries == nil {
			entries = []watermark.Entry{}
		}
		return writeStructured(w, format, entries)
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(watermarkHeader)
	for i, e := range entries {
		mark := "-"
		if !e.Watermark.Equal(blob.EpochStart) {
			mark = e.Watermark.UTC().Format(time.RFC3339Nano)
		}
		t.AppendRow(table.Row{i + 1, e.Container.Name, mark})
	}
	t.Render()
	return nil
}
