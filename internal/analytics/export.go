package analytics

import (
	"context"
	"encoding/csv"
	"io"
	"sort"
	"strconv"

	"github.com/arencloud/s3keeper/internal/audit"

	"github.com/dustin/go-humanize"
)

var exportHeader = []string{"section", "name", "objects", "size_bytes", "size"}

// Export writes the analytics as CSV: a total row, one row per bucket, then one per file type.
func (a *Aggregator) Export(ctx context.Context, actor audit.Actor, credID string, w io.Writer) error {
	ev := audit.Event{Action: audit.ActionExportAnalytics, Metadata: map[string]any{"format": "csv"}}
	res, _, err := a.analytics(ctx, actor.UserID, credID)
	if err == nil {
		err = writeCSV(w, res)
	}
	ev.Err = err
	a.audit.Record(actor, ev)
	return err
}

func writeCSV(w io.Writer, res *StorageAnalytics) error {
	cw := csv.NewWriter(w)
	row := func(section, name string, objects string, size int64) error {
		return cw.Write([]string{section, name, objects, strconv.FormatInt(size, 10), humanize.Bytes(uint64(size))})
	}
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	if err := row("total", "", strconv.FormatInt(res.TotalObjects, 10), res.TotalSize); err != nil {
		return err
	}
	for _, b := range sortedKeys(res.SizeByBucket) {
		if err := row("bucket", b, strconv.FormatInt(res.ObjectsByBucket[b], 10), res.SizeByBucket[b]); err != nil {
			return err
		}
	}
	for _, t := range sortedKeys(res.SizeByFileType) {
		if err := row("file_type", t, "", res.SizeByFileType[t]); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
