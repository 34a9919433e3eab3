package app

import "time"

const (
	Name           = "roomsync"
	ConfigFilename = "config.json"
	DBFilename     = "app.db"
	LogFilename    = "app.log"

	// EnvToken is consulted when no credential is passed explicitly.
	EnvToken = "ROOMSYNC_TOKEN"

	writerQueueCapacity = 256
	directoryTimeout    = 15 * time.Second
	drainTimeout        = 3 * time.Second
)

var (
	// Version is filled by ldflags in release builds.
	Version = "dev"
)
