package binlog

import (
	"context"
	"fmt"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/rs/zerolog/log"

	"github.com/binrelay/binrelay/cfg"
	"github.com/binrelay/binrelay/source"
)

// Reader streams decoded events from a live MySQL server. It advances the
// supplied source.Info as a side effect so that every event the processor
// sees is already tagged with its log position.
//
// Reconnect and retry are deliberately out of scope: a broken stream is
// returned as an error and the host decides whether to restart.
type Reader struct {
	syncer   *replication.BinlogSyncer
	streamer *replication.BinlogStreamer
	info     *source.Info
}

// NewReader connects a replication client per the source configuration
// and starts syncing from the given position.
func NewReader(conf cfg.SourceConfiguration, start source.Position, info *source.Info) (*Reader, error) {
	if info == nil {
		return nil, fmt.Errorf("source info is required")
	}

	syncer := replication.NewBinlogSyncer(replication.BinlogSyncerConfig{
		ServerID: uint32(conf.ServerID),
		Flavor:   mysql.MySQLFlavor,
		Host:     conf.Host,
		Port:     uint16(conf.Port),
		User:     conf.User,
		Password: conf.Password,
	})

	streamer, err := syncer.StartSync(mysql.Position{Name: start.File, Pos: uint32(start.Pos)})
	if err != nil {
		syncer.Close()
		return nil, fmt.Errorf("failed to start binlog sync at %s: %w", start, err)
	}

	info.SetPosition(start.File, start.Pos)
	log.Info().Str("position", start.String()).Msg("Binlog replication stream started")

	return &Reader{syncer: syncer, streamer: streamer, info: info}, nil
}

// Next blocks until the next event of interest arrives and returns its
// decoded form. Events that carry nothing for the processor (heartbeats,
// commits, format descriptors) are consumed internally.
func (r *Reader) Next(ctx context.Context) (Event, error) {
	for {
		raw, err := r.streamer.GetEvent(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read binlog event: %w", err)
		}

		r.info.SetTimestamp(int64(raw.Header.Timestamp))
		if raw.Header.LogPos > 0 {
			r.info.SetPosition(r.info.Current().File, uint64(raw.Header.LogPos))
		}

		event := decode(raw)
		if event == nil {
			continue
		}
		if rotate, ok := event.(RotateEvent); ok {
			r.info.SetPosition(rotate.NextFile, rotate.Position)
		}
		return event, nil
	}
}

// Close tears down the replication connection.
func (r *Reader) Close() {
	r.syncer.Close()
}

// decode maps a raw go-mysql event onto our variants, or nil when the
// event carries nothing for the processor.
func decode(raw *replication.BinlogEvent) Event {
	switch data := raw.Event.(type) {
	case *replication.RotateEvent:
		return RotateEvent{
			NextFile: string(data.NextLogName),
			Position: uint64(data.Position),
		}

	case *replication.QueryEvent:
		return QueryEvent{
			Database: string(data.Schema),
			SQL:      string(data.Query),
		}

	case *replication.TableMapEvent:
		return TableMapEvent{
			TableNum: data.TableID,
			Database: string(data.Schema),
			Table:    string(data.Table),
		}

	case *replication.RowsEvent:
		switch raw.Header.EventType {
		case replication.WRITE_ROWS_EVENTv0, replication.WRITE_ROWS_EVENTv1, replication.WRITE_ROWS_EVENTv2:
			return WriteRowsEvent{
				TableNum:        data.TableID,
				IncludedColumns: Bitmap(data.ColumnBitmap1),
				Rows:            data.Rows,
			}

		case replication.UPDATE_ROWS_EVENTv0, replication.UPDATE_ROWS_EVENTv1, replication.UPDATE_ROWS_EVENTv2:
			// Update events interleave before/after images.
			pairs := make([]RowPair, 0, len(data.Rows)/2)
			for i := 0; i+1 < len(data.Rows); i += 2 {
				pairs = append(pairs, RowPair{Before: data.Rows[i], After: data.Rows[i+1]})
			}
			return UpdateRowsEvent{
				TableNum:              data.TableID,
				IncludedColumnsBefore: Bitmap(data.ColumnBitmap1),
				IncludedColumns:       Bitmap(data.ColumnBitmap2),
				Rows:                  pairs,
			}

		case replication.DELETE_ROWS_EVENTv0, replication.DELETE_ROWS_EVENTv1, replication.DELETE_ROWS_EVENTv2:
			return DeleteRowsEvent{
				TableNum:        data.TableID,
				IncludedColumns: Bitmap(data.ColumnBitmap1),
				Rows:            data.Rows,
			}
		}
	}
	return nil
}
