package cache

import (
	"time"

	"github.com/bloodlink/allocator/pkg/db/models/dashboard"
)

var testStamp = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seeded(hospitalID string, pending int64) dashboard.Snapshot {
	snap := dashboard.Empty(hospitalID)
	snap.PendingRequests = pending
	snap.LastUpdated = testStamp
	snap.RebuiltAt = testStamp
	return snap
}
