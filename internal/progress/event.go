// Package progress defines the lifecycle events emitted by the scrape engine.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageScrapeStart   Stage = "SCRAPE_START"
	StageScrapeDone    Stage = "SCRAPE_DONE"
	StageScrapeError   Stage = "SCRAPE_ERROR"
	StageCooldownStart Stage = "COOLDOWN_START"
	StageCooldownWait  Stage = "COOLDOWN_WAIT"
	StageCooldownEnd   Stage = "COOLDOWN_END"
	StageBatchProgress Stage = "BATCH_PROGRESS"
)

// Event captures a single milestone of a batch run.
type Event struct {
	// BatchID identifies the batch in its 16-byte UUID form.
	BatchID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Contributor is the contributor number for scrape-level events.
	Contributor string
	// Worker is the pool slot that handled a scrape event.
	Worker int
	// Dur captures execution latency for finished scrapes and cooldowns.
	Dur time.Duration
	// RateLimited marks errors attributed to site throttling.
	RateLimited bool
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
	// Batch counters, populated on BATCH_PROGRESS events.
	Total     int
	Processed int
	Succeeded int
	Failed    int
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.BatchID == [16]byte{} {
		return errors.New("batch id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageScrapeStart, StageScrapeDone, StageScrapeError:
		if e.Contributor == "" {
			return errors.New("scrape events require a contributor number")
		}
	case StageCooldownStart, StageCooldownWait, StageCooldownEnd:
	case StageBatchProgress:
		if e.Total <= 0 {
			return errors.New("batch progress requires a positive total")
		}
		if e.Processed > e.Total {
			return errors.New("processed cannot exceed total")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// BatchUUID converts the binary batch ID to uuid.UUID for repositories.
func (e Event) BatchUUID() uuid.UUID {
	return uuid.UUID(e.BatchID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ParseBatchID converts a string batch ID into the Event form. Unparsable
// IDs hash to the zero value, which Validate rejects.
func ParseBatchID(id string) [16]byte {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return [16]byte{}
	}
	return UUIDToBytes(parsed)
}
