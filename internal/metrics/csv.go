package metrics

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"wgmetrics/internal/model"
)

// WriteCSV writes points to CSV with a fixed column order.
func WriteCSV(w io.Writer, points []model.Point) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write([]string{"timestamp", "path", "value"}); err != nil {
		return err
	}

	for _, p := range points {
		record := []string{
			time.Unix(p.Timestamp, 0).UTC().Format(time.RFC3339),
			p.Path,
			strconv.FormatFloat(p.Value, 'f', 3, 64),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
