// Package report exports per-sink delivery statistics as Apache Arrow IPC
// streams, so a finished simulation run can be analysed with Arrow tooling.
package report

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/VanDung-dev/HieraChain-NetSim/netsim/network"
)

// ErrNoStats is returned when there is nothing to report.
var ErrNoStats = errors.New("no delivery statistics")

// SinkSchema returns the Arrow schema of a delivery report.
//
// Fields:
//   - category: string - Message category
//   - sink_index: int64 - Position in the egress registry
//   - node_id: string - Node owning the sink
//   - received: uint64 - Messages the category's broadcaster dequeued
//   - delivered: uint64 - Messages delivered to this sink
//   - quarantined: bool - Whether the sink was quarantined
func SinkSchema() *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "category", Type: arrow.BinaryTypes.String},
			{Name: "sink_index", Type: arrow.PrimitiveTypes.Int64},
			{Name: "node_id", Type: arrow.BinaryTypes.String},
			{Name: "received", Type: arrow.PrimitiveTypes.Uint64},
			{Name: "delivered", Type: arrow.PrimitiveTypes.Uint64},
			{Name: "quarantined", Type: arrow.FixedWidthTypes.Boolean},
		},
		nil,
	)
}

// Writer builds and serializes delivery reports.
type Writer struct {
	allocator memory.Allocator
	schema    *arrow.Schema
}

// NewWriter creates a Writer with the default memory allocator.
func NewWriter() *Writer {
	return &Writer{
		allocator: memory.DefaultAllocator,
		schema:    SinkSchema(),
	}
}

// Record converts broadcaster statistics into one row per sink. The caller
// must Release the record.
func (w *Writer) Record(stats []network.BroadcasterStats) (arrow.Record, error) {
	builder := array.NewRecordBuilder(w.allocator, w.schema)
	defer builder.Release()

	categoryBuilder := builder.Field(0).(*array.StringBuilder)
	indexBuilder := builder.Field(1).(*array.Int64Builder)
	nodeBuilder := builder.Field(2).(*array.StringBuilder)
	receivedBuilder := builder.Field(3).(*array.Uint64Builder)
	deliveredBuilder := builder.Field(4).(*array.Uint64Builder)
	quarantinedBuilder := builder.Field(5).(*array.BooleanBuilder)

	rows := 0
	for _, b := range stats {
		for _, s := range b.Sinks {
			categoryBuilder.Append(b.Category)
			indexBuilder.Append(int64(s.Index))
			nodeBuilder.Append(s.NodeID)
			receivedBuilder.Append(b.Received)
			deliveredBuilder.Append(s.Delivered)
			quarantinedBuilder.Append(s.Quarantined)
			rows++
		}
	}
	if rows == 0 {
		return nil, ErrNoStats
	}

	return builder.NewRecord(), nil
}

// WriteIPC writes the report as an Arrow IPC stream.
func (w *Writer) WriteIPC(out io.Writer, stats []network.BroadcasterStats) error {
	record, err := w.Record(stats)
	if err != nil {
		return err
	}
	defer record.Release()

	writer := ipc.NewWriter(out, ipc.WithSchema(w.schema), ipc.WithAllocator(w.allocator))
	if err := writer.Write(record); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	return nil
}

// WriteFile writes the report to path, replacing any existing file.
func (w *Writer) WriteFile(path string, stats []network.BroadcasterStats) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report %s: %w", path, err)
	}
	if err := w.WriteIPC(f, stats); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ReadIPC reads a report stream back into sink rows.
func ReadIPC(in io.Reader) ([]network.SinkStats, error) {
	reader, err := ipc.NewReader(in)
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}
	defer reader.Release()

	if !reader.Schema().Equal(SinkSchema()) {
		return nil, fmt.Errorf("unexpected report schema: %s", reader.Schema())
	}

	var rows []network.SinkStats
	for reader.Next() {
		rec := reader.Record()
		category := rec.Column(0).(*array.String)
		index := rec.Column(1).(*array.Int64)
		node := rec.Column(2).(*array.String)
		delivered := rec.Column(4).(*array.Uint64)
		quarantined := rec.Column(5).(*array.Boolean)

		for i := 0; i < int(rec.NumRows()); i++ {
			rows = append(rows, network.SinkStats{
				Category:    category.Value(i),
				Index:       int(index.Value(i)),
				NodeID:      node.Value(i),
				Delivered:   delivered.Value(i),
				Quarantined: quarantined.Value(i),
			})
		}
	}
	if err := reader.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}
