package sync

import (
	"errors"
)

// Summary is the result of one synchronization pass, returned to the
// triggering caller.
type Summary struct {
	OK                   bool   `json:"ok"`
	Provider             string `json:"provider"`
	ConnectionsProcessed int    `json:"connectionsProcessed"`
	RowsInserted         int    `json:"rowsInserted"`
	ElapsedMs            int64  `json:"elapsedMs"`
}

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrRunActive       = errors.New("a sync run is already active for this provider")
)
