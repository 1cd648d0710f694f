package flowclass

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Option configures a Classifier at construction time.
type Option func(*Classifier)

// WithLogger attaches a logrus logger for subtable create/destroy
// diagnostics. Logging is off (discarded) by default: the
// hot lookup path never logs regardless of this setting.
func WithLogger(log *logrus.Logger) Option {
	return func(c *Classifier) {
		if log != nil {
			c.log = log.WithField("component", "flowclass")
		}
	}
}

func defaultLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l.WithField("component", "flowclass")
}

// WithMetadataField designates which registered field id carries the
// partition metadata value used for partition pruning.
func WithMetadataField(id uint32) Option {
	return func(c *Classifier) {
		c.metadataFieldID = id
		c.hasMetadataField = true
	}
}

// WithSegments overrides the default staged hash-probe segment
// boundaries (in bits, measured from the start of the header) new
// subtables are created with.
func WithSegments(segments [ClsMaxIndices]int) Option {
	return func(c *Classifier) {
		c.segments = segments
	}
}

// WithRecentMatchesCacheSize overrides the default capacity of the
// diagnostic recent-matches cache. A size of 0 disables the cache.
func WithRecentMatchesCacheSize(n int) Option {
	return func(c *Classifier) {
		c.recentCacheSize = n
	}
}
