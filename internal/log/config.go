package log

import "go.uber.org/zap"

// DefaultMaxMessages is the segment capacity used when none is configured.
const DefaultMaxMessages = 1024

// Config holds the configuration for a topic.
type Config struct {
	// Dir is the storage root. Each topic lives in Dir/<name>.
	Dir string

	/*
		What is a Segment?
		It's a bounded run of the topic's log kept in one file. Appends always go
		to the active segment; once it is full it gets sealed and a new active
		segment starts at the topic's next offset.

		- MaxMessages: how many offsets a segment covers (its capacity). The
		  capacity also decides which segment a read is routed to.
		- MaxStoreBytes: the segment also rolls once its log file reaches this
		  many bytes. Zero disables the byte bound.
	*/
	Segment struct {
		MaxMessages   uint64
		MaxStoreBytes uint64
	}

	// Logger receives lifecycle events. Nil disables logging.
	Logger *zap.Logger
}

func (c Config) maxMessages() uint64 {
	if c.Segment.MaxMessages == 0 {
		return DefaultMaxMessages
	}
	return c.Segment.MaxMessages
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
