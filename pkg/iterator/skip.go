package iterator

import (
	"context"

	"github.com/cuemby/nexus/pkg/keys"
	"github.com/cuemby/nexus/pkg/kvs"
)

// driverBounds maps this package's logical [begin, end) range (begin
// inclusive-lower, end exclusive-upper, both already exclusivity-
// adjusted by rangeBounds) onto the KV driver's (begin, end, dir)
// parameters, which for Backward scans take begin as the descent's
// start point and end as the stop threshold (see pkg/kvs/boltkv's
// Cursor.Seek/Prev-based keyIterator).
func driverBounds(begin, end []byte, dir ScanDirection) (driverBegin, driverEnd []byte) {
	kvDir := toKVDirection(dir)
	if kvDir == kvs.Forward {
		return begin, end
	}
	return end, begin
}

func toKVDirection(dir ScanDirection) kvs.Direction {
	if dir == Backward {
		return kvs.Backward
	}
	return kvs.Forward
}

// applySkip implements the START skip optimization: stream keys only (no
// values) until n have been observed or the stream ends, then narrow
// [begin, end) to resume just past the last key seen. It returns the number
// actually skipped (less than n if the source was shorter) and the narrowed
// bounds for the subsequent value scan.
func applySkip(ctx context.Context, tx kvs.Transaction, begin, end []byte, n int, dir ScanDirection) (newBegin, newEnd []byte, skipped int, err error) {
	if n <= 0 {
		return begin, end, 0, nil
	}
	driverBegin, driverEnd := driverBounds(begin, end, dir)
	it, err := tx.StreamKeys(ctx, driverBegin, driverEnd, n, toKVDirection(dir))
	if err != nil {
		return nil, nil, 0, err
	}
	defer it.Close()

	var lastKey []byte
	rows := 0
	for skipped < n {
		rows++
		if rows%100 == 0 && ctx.Err() != nil {
			return nil, nil, skipped, ctx.Err()
		}
		k, ok, err := it.Next(ctx)
		if err != nil {
			return nil, nil, 0, err
		}
		if !ok {
			break
		}
		lastKey = k
		skipped++
	}
	if lastKey == nil {
		return begin, end, skipped, nil
	}
	if dir == Forward {
		return keys.ExclusiveUpperBound(lastKey), end, skipped, nil
	}
	return begin, lastKey, skipped, nil
}
