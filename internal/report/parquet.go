package report

import (
	"fmt"
	"os"

	"github.com/segmentio/parquet-go"

	"github.com/meditrace/phi-sentinel/internal/batch"
)

// ledgerRow is the columnar shape of one change-ledger entry.
type ledgerRow struct {
	Item      string `parquet:"item"`
	Location  string `parquet:"location"`
	Category  string `parquet:"category"`
	Action    string `parquet:"action"`
	ValueHash string `parquet:"value_hash"`
	Value     string `parquet:"value"`
}

// WriteLedgerParquet writes the field-level change ledger of a batch as a
// Parquet file, the practical format once ledgers reach millions of rows.
func WriteLedgerParquet(path string, result *batch.BatchResult) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create ledger file: %w", err)
	}
	defer file.Close()

	writer := parquet.NewWriter(file, parquet.SchemaOf(ledgerRow{}))

	for _, item := range result.Items {
		if !item.Success {
			continue
		}
		for _, entry := range item.Result.Ledger {
			row := ledgerRow{
				Item:      entry.Item,
				Location:  entry.Location,
				Category:  entry.Category,
				Action:    entry.Action,
				ValueHash: entry.ValueHash,
				Value:     entry.Value,
			}
			if err := writer.Write(row); err != nil {
				return fmt.Errorf("failed to write ledger row: %w", err)
			}
		}
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize ledger file: %w", err)
	}
	return nil
}
