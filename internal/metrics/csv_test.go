package metrics

import (
	"bytes"
	"strings"
	"testing"

	"wgmetrics/internal/model"
)

func TestWriteCSV_HeaderAndRows(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	points := []model.Point{
		{Path: "vpn.0.2.rx", Timestamp: 1, Value: 5},
		{Path: "vpn.0.2.tx", Timestamp: 1, Value: 0.25},
	}
	if err := WriteCSV(&buf, points); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines=%d\n%s", len(lines), buf.String())
	}
	if lines[0] != "timestamp,path,value" {
		t.Fatalf("header=%q", lines[0])
	}
	if lines[2] != "1970-01-01T00:00:01Z,vpn.0.2.tx,0.250" {
		t.Fatalf("row=%q", lines[2])
	}
}
