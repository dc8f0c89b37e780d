package devmem

import (
	"encoding/binary"

	"github.com/gomlx/devlink/streams"
	"github.com/gomlx/devlink/types/shapes"
	"github.com/pkg/errors"
)

// TupleIndexEntryBytes is the on-device size of one entry of a tuple index table: the
// device address (arena offset) of one child, as a little-endian uint64.
const TupleIndexEntryBytes = 8

// EnqueueCopy enqueues on the stream a direct region-to-region copy over the device
// interconnect. Source and destination may live in different arenas (devices); the copy
// bypasses host memory. It fails synchronously on a size mismatch; the byte transfer
// itself happens when the stream reaches the command.
func EnqueueCopy(s *streams.Stream, dst, src Region) error {
	if dst.Size() != src.Size() {
		return errors.Errorf("region copy size mismatch: source %s vs destination %s", src, dst)
	}
	s.Enqueue("region copy", func() error {
		copy(dst.Bytes(), src.Bytes())
		return nil
	})
	return nil
}

// WriteTupleIndexTables enqueues, on the given host-to-device stream, the writes of
// every tuple index table of the buffer: for each tuple node, the device addresses of
// its children in tuple order. Nothing is enqueued for non-tuple buffers.
func WriteTupleIndexTables(s *streams.Stream, sb *ShapedBuffer) error {
	return writeTupleIndexTable(s, sb, sb.OnDeviceShape(), nil)
}

func writeTupleIndexTable(s *streams.Stream, sb *ShapedBuffer, shape shapes.Shape, path shapes.Path) error {
	if !shape.IsTuple() {
		return nil
	}
	table := sb.Region(path)
	if table.Size() != TupleIndexEntryBytes*shape.TupleSize() {
		return errors.Errorf("tuple index table at %s has %d bytes, want %d",
			path, table.Size(), TupleIndexEntryBytes*shape.TupleSize())
	}
	entries := make([]uint64, shape.TupleSize())
	for idx := range shape.TupleShapes {
		child := sb.Region(append(path, idx))
		if child.IsNull() {
			return errors.Errorf("tuple node %s is missing child #%d region", path, idx)
		}
		entries[idx] = uint64(child.Offset())
	}
	s.Enqueue("write tuple index table", func() error {
		bytes := table.Bytes()
		for idx, entry := range entries {
			binary.LittleEndian.PutUint64(bytes[idx*TupleIndexEntryBytes:], entry)
		}
		return nil
	})
	for idx, element := range shape.TupleShapes {
		if err := writeTupleIndexTable(s, sb, element, append(path, idx)); err != nil {
			return err
		}
	}
	return nil
}
