package ledger

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// Exporter produces downloadable snapshots of the verified chain plus the
// latest root-hash checkpoint.
type Exporter struct {
	store Store
}

// NewExporter creates an Exporter over the given store.
func NewExporter(store Store) *Exporter {
	return &Exporter{store: store}
}

// Snapshot is the exported view: all verified entries in block order and
// the most recent checkpoint (nil when no anchor run has happened yet).
type Snapshot struct {
	ExportedAt time.Time   `json:"exported_at"`
	Entries    []*Entry    `json:"entries"`
	Checkpoint *Checkpoint `json:"checkpoint,omitempty"`
}

// Snapshot loads the current verified chain and latest checkpoint.
func (x *Exporter) Snapshot(ctx context.Context) (*Snapshot, error) {
	entries, err := x.store.ListVerified(ctx)
	if err != nil {
		return nil, fmt.Errorf("list verified entries: %w", err)
	}
	cp, err := x.store.LatestCheckpoint(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest checkpoint: %w", err)
	}
	return &Snapshot{
		ExportedAt: time.Now().UTC(),
		Entries:    entries,
		Checkpoint: cp,
	}, nil
}

// WriteJSON writes the snapshot as an indented JSON document.
func (x *Exporter) WriteJSON(ctx context.Context, w io.Writer) error {
	snap, err := x.Snapshot(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

// WriteCSV writes the snapshot's entries as CSV. The checkpoint is not part
// of the CSV body; callers wanting it use the JSON format.
func (x *Exporter) WriteCSV(ctx context.Context, w io.Writer) error {
	snap, err := x.Snapshot(ctx)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"block_number", "hash", "entry_type", "timestamp", "verified"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, e := range snap.Entries {
		rec := []string{
			strconv.FormatInt(e.BlockNumber, 10),
			e.Hash,
			e.EntryType,
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			strconv.FormatBool(e.Verified),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
