package transcript

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// Record is the on-disk shape of a transcript entry, times in epoch milliseconds
type Record struct {
	Start   int64  `json:"start"`
	End     int64  `json:"end"`
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Records converts segments to their export shape
func Records(segments []Segment) []Record {
	records := make([]Record, 0, len(segments))
	for _, s := range segments {
		records = append(records, Record{
			Start:   s.Start.UnixMilli(),
			End:     s.End.UnixMilli(),
			Speaker: string(s.Speaker),
			Text:    s.Text,
		})
	}
	return records
}

// FormatSRTTimestamp renders epoch milliseconds as the UTC time of day HH:MM:SS,mmm
func FormatSRTTimestamp(ms int64) string {
	t := time.UnixMilli(ms).UTC()
	return fmt.Sprintf("%02d:%02d:%02d,%03d", t.Hour(), t.Minute(), t.Second(), t.Nanosecond()/int(time.Millisecond))
}

// SRT renders records as numbered subtitle blocks separated by a blank line
func SRT(records []Record) string {
	blocks := make([]string, 0, len(records))
	for i, r := range records {
		blocks = append(blocks, fmt.Sprintf("%d\n%s --> %s\n%s: %s\n",
			i+1, FormatSRTTimestamp(r.Start), FormatSRTTimestamp(r.End), r.Speaker, r.Text))
	}
	return strings.Join(blocks, "\n")
}

// WriteSRT writes records as SRT
func WriteSRT(w io.Writer, records []Record) error {
	_, err := io.WriteString(w, SRT(records))
	return err
}

// WriteJSON writes records as an indented JSON array
func WriteJSON(w io.Writer, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// ReadJSON reads a session transcript written by WriteJSON
func ReadJSON(r io.Reader) ([]Record, error) {
	var records []Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	return records, nil
}
