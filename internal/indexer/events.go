// Package indexer turns a catalog snapshot into a published index file:
// it validates the corpus, builds the index, writes it atomically and
// announces it to serving processes.
package indexer

import "time"

// IndexPublishedEvent is the Kafka payload announcing a new index file.
type IndexPublishedEvent struct {
	BuildID   string    `json:"build_id"`
	Path      string    `json:"path"`
	Documents int       `json:"documents"`
	Terms     int       `json:"terms"`
	BuiltAt   time.Time `json:"built_at"`
}
