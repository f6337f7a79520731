package archive

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Unset marks a checkpoint field that holds no position.
const Unset = -1

// Step names the phase a checkpoint belongs to.
type Step string

// Checkpoint steps.
const (
	StepTopics  Step = "TOPICS"
	StepUsers   Step = "USERS"
	StepInvalid Step = "INVALID"
)

// Checkpoint is the single resumable position of a run. It is persisted after
// every saved topic (and user), so a crash loses at most the unit in flight.
type Checkpoint struct {
	Step               Step
	CategoryID         int
	LastSavedTopicID   int
	TopicFirstID       int
	TopicLastID        int
	TopicDownloadIndex int
	LastUserID         int
}

// NewCheckpoint returns a checkpoint with every position unset.
func NewCheckpoint() Checkpoint {
	return Checkpoint{
		Step:               StepInvalid,
		CategoryID:         Unset,
		LastSavedTopicID:   Unset,
		TopicFirstID:       Unset,
		TopicLastID:        Unset,
		TopicDownloadIndex: Unset,
		LastUserID:         Unset,
	}
}

// Encode renders the checkpoint as key=value lines.
func (c Checkpoint) Encode() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "category_id=%d\n", c.CategoryID)
	fmt.Fprintf(&b, "last_saved_topic=%d\n", c.LastSavedTopicID)
	fmt.Fprintf(&b, "topic_first_id=%d\n", c.TopicFirstID)
	fmt.Fprintf(&b, "topic_last_id=%d\n", c.TopicLastID)
	fmt.Fprintf(&b, "topic_download_index=%d\n", c.TopicDownloadIndex)
	fmt.Fprintf(&b, "last_user_id=%d\n", c.LastUserID)
	step := c.Step
	if step != StepTopics && step != StepUsers {
		step = StepInvalid
	}
	fmt.Fprintf(&b, "download_step=%s\n", step)
	return []byte(b.String())
}

// DecodeCheckpoint parses a resume file. Unknown keys are ignored. The result
// must name a usable step: TOPICS needs a category and a saved topic, USERS
// needs a saved user. Anything else wraps ErrInvalidCheckpoint.
func DecodeCheckpoint(data []byte) (Checkpoint, error) {
	cp := NewCheckpoint()
	ints := map[string]*int{
		"category_id":          &cp.CategoryID,
		"last_saved_topic":     &cp.LastSavedTopicID,
		"topic_first_id":       &cp.TopicFirstID,
		"topic_last_id":        &cp.TopicLastID,
		"topic_download_index": &cp.TopicDownloadIndex,
		"last_user_id":         &cp.LastUserID,
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return Checkpoint{}, fmt.Errorf("%w: malformed line %q", ErrInvalidCheckpoint, line)
		}
		if key == "download_step" {
			switch strings.ToUpper(value) {
			case string(StepTopics):
				cp.Step = StepTopics
			case string(StepUsers):
				cp.Step = StepUsers
			default:
				cp.Step = StepInvalid
			}
			continue
		}
		dest, known := ints[key]
		if !known {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return Checkpoint{}, fmt.Errorf("%w: %s is not an integer", ErrInvalidCheckpoint, key)
		}
		*dest = n
	}
	if err := scanner.Err(); err != nil {
		return Checkpoint{}, fmt.Errorf("%w: %v", ErrInvalidCheckpoint, err)
	}

	switch cp.Step {
	case StepTopics:
		if cp.CategoryID == Unset || cp.LastSavedTopicID == Unset {
			return Checkpoint{}, fmt.Errorf("%w: topics step without a saved topic", ErrInvalidCheckpoint)
		}
	case StepUsers:
		if cp.LastUserID == Unset {
			return Checkpoint{}, fmt.Errorf("%w: users step without a saved user", ErrInvalidCheckpoint)
		}
	default:
		return Checkpoint{}, fmt.Errorf("%w: no download step", ErrInvalidCheckpoint)
	}
	return cp, nil
}

// resumesTopics reports whether c may resume the topic loop of categoryID
// over a URL set with the given bounds.
func (c Checkpoint) resumesTopics(categoryID, first, last int) bool {
	return c.Step == StepTopics &&
		c.CategoryID == categoryID &&
		c.LastSavedTopicID != Unset &&
		c.TopicDownloadIndex >= 0 &&
		c.TopicFirstID == first &&
		c.TopicLastID == last
}

// CheckpointStore reads and writes the process-wide resume file.
type CheckpointStore struct {
	files FileStore
}

// NewCheckpointStore returns a store backed by files.
func NewCheckpointStore(files FileStore) *CheckpointStore {
	return &CheckpointStore{files: files}
}

// Load returns the saved checkpoint. found is false when no resume file
// exists; an unparsable file returns an error wrapping ErrInvalidCheckpoint.
func (s *CheckpointStore) Load() (cp Checkpoint, found bool, err error) {
	if !s.files.Exists(resumePath) {
		return NewCheckpoint(), false, nil
	}
	data, err := s.files.Read(resumePath)
	if err != nil {
		return NewCheckpoint(), true, err
	}
	cp, err = DecodeCheckpoint(data)
	if err != nil {
		return NewCheckpoint(), true, err
	}
	return cp, true, nil
}

// Save atomically replaces the resume file.
func (s *CheckpointStore) Save(cp Checkpoint) error {
	if err := s.files.Write(resumePath, cp.Encode()); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Clear deletes the resume file.
func (s *CheckpointStore) Clear() error {
	return s.files.Remove(resumePath)
}
