package storage

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neebdev/valoradb/internal/walog"
)

// Options configures a new Engine.
type Options struct {
	// DBRoot is the directory documents are stored under, one
	// "<key>.json" file per key, and where the WAL's ".wal" file lives.
	DBRoot string
	// LockTimeout is the deadlock timeout passed to the lock manager. Zero
	// falls back to lockmgr.DefaultTimeout.
	LockTimeout time.Duration
	// WAL configures the write-ahead log's buffering and rotation.
	WAL walog.Options
	// Logger is the base logger components derive their fields from. Nil
	// falls back to logrus.StandardLogger().
	Logger *logrus.Logger
}

func (o Options) logger() *logrus.Logger {
	if o.Logger == nil {
		return logrus.StandardLogger()
	}
	return o.Logger
}
