package engine

import (
	"context"

	"github.com/Azure/azure-kusto-go/kusto"
	kustoerrors "github.com/Azure/azure-kusto-go/kusto/data/errors"
	"github.com/Azure/azure-kusto-go/kusto/data/table"
	"github.com/Azure/azure-kusto-go/kusto/ingest"
	"github.com/Azure/azure-kusto-go/kusto/unsafe"
)

// Client adapts the Kusto SDK to the Commander interface.
type Client struct {
	inner *kusto.Client
}

// Connect opens an unauthenticated connection to the cluster endpoint.
// The current deployments are internal or test clusters; wiring real
// credentials happens in the connection string builder if that changes.
func Connect(endpoint string) (*Client, error) {
	kcsb := kusto.NewConnectionStringBuilder(endpoint)
	c, err := kusto.New(kcsb)
	if err != nil {
		return nil, err
	}
	return &Client{inner: c}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.inner.Close()
}

// Mgmt runs one management command and drains the primary result into
// Row maps. Commands are assembled from sanitized identifiers upstream;
// the unsafe statement builder is the SDK's only path for dynamic
// command text.
func (c *Client) Mgmt(ctx context.Context, database, command string) ([]Row, error) {
	stmt := kusto.NewStmt("", kusto.UnsafeStmt(unsafe.Stmt{Add: true, SuppressWarning: true})).UnsafeAdd(command)

	iter, err := c.inner.Mgmt(ctx, database, stmt)
	if err != nil {
		return nil, &CommandError{Database: database, Command: command, Err: err}
	}
	defer iter.Stop()

	var rows []Row
	err = iter.DoOnRowOrError(func(r *table.Row, e *kustoerrors.Error) error {
		if e != nil {
			return e
		}
		row := make(Row, len(r.ColumnTypes))
		for i, col := range r.ColumnTypes {
			if i < len(r.Values) {
				row[col.Name] = r.Values[i].String()
			}
		}
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return nil, &CommandError{Database: database, Command: command, Err: err}
	}
	return rows, nil
}

// Streamer adapts the SDK's streaming ingest client to StreamIngestor.
type Streamer struct {
	inner *ingest.Streaming
}

// NewStreamerFactory returns a StreamerFactory bound to the client.
func NewStreamerFactory(c *Client) StreamerFactory {
	return func(database, tbl string) (StreamIngestor, error) {
		in, err := ingest.NewStreaming(c.inner, database, tbl)
		if err != nil {
			return nil, err
		}
		return &Streamer{inner: in}, nil
	}
}

// IngestFile submits one chunk file as CSV to the streaming endpoint.
func (s *Streamer) IngestFile(ctx context.Context, path string) error {
	_, err := s.inner.FromFile(ctx, path, ingest.FileFormat(ingest.CSV))
	return err
}
