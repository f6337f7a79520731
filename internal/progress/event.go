// Package progress defines the event structures emitted by the archive run.
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
	StageRunStart      Stage = "RUN_START"
	StageRunDone       Stage = "RUN_DONE"
	StageRunError      Stage = "RUN_ERROR"
	StageCategoryStart Stage = "CATEGORY_START"
	StageCategoryDone  Stage = "CATEGORY_DONE"
	StageTopicProgress Stage = "TOPIC_PROGRESS"
	StageVerifyDone    Stage = "VERIFY_DONE"
)

// Result labels the outcome carried by completion events.
type Result string

// Supported results.
const (
	ResultSuccess Result = "success"
	ResultPartial Result = "partial"
	ResultError   Result = "error"
)

// Event captures a single component of archive progress.
type Event struct {
	// RunID uniquely identifies an archive run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// CategoryID scopes category and topic events.
	CategoryID int
	// Done and Total count completed units (topics, repaired items).
	Done  int
	Total int
	// Result is set on completion stages.
	Result Result
	// Dur captures elapsed time for completion stages.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError, StageVerifyDone:
	case StageCategoryStart, StageCategoryDone:
		if e.CategoryID < 0 {
			return errors.New("category events require a category id")
		}
	case StageTopicProgress:
		if e.CategoryID < 0 {
			return errors.New("topic progress requires a category id")
		}
		if e.Done < 0 || e.Total < 0 {
			return errors.New("topic progress counts must be >= 0")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
