package archive

import (
	"errors"
	"slices"
	"time"

	"github.com/JakeFAU/discourse-archiver/internal/discourse"
)

// Sentinel errors for missing required inputs and unusable resume state.
var (
	ErrNilCategory       = errors.New("archive: category is nil")
	ErrNilState          = errors.New("archive: run state is nil")
	ErrInvalidCheckpoint = errors.New("archive: resume file could not be parsed")
)

// Result is the outcome of a pipeline call that did not fail outright.
type Result int

// Pipeline outcomes.
const (
	Success Result = iota
	PartialFailure
)

func (r Result) String() string {
	if r == PartialFailure {
		return "partial"
	}
	return "success"
}

// Merge folds other into r; any partial failure wins.
func (r Result) Merge(other Result) Result {
	if r == PartialFailure || other == PartialFailure {
		return PartialFailure
	}
	return Success
}

// Config holds the settings the pipelines need. It is decoupled from Viper so
// the engine can be driven directly in tests.
type Config struct {
	SiteURL string

	Topics bool
	Users  bool
	Tags   bool
	Misc   bool

	BatchLimit        int
	ProgressInterval  int
	URLNotifyInterval int
	SkipBudget        int
	// MaxFailedPages abandons topic-list pagination after this many
	// consecutive failed pages; -1 never gives up.
	MaxFailedPages int

	SkipExistingCategories   bool
	SkipExistingTopics       bool
	SkipExistingPosts        bool
	URLCaching               bool
	DataCaching              bool
	StrictCounts             bool
	IncludeSubcategoryTopics bool

	Filter FilterConfig

	Resume       bool
	RestartDelay time.Duration

	VerifyCounts   bool
	VerifyThorough bool

	FailOn403      bool
	AllUserActions bool
	AllAvatarSizes bool
	AllTagExtras   bool
}

// FilterConfig restricts categories by id.
type FilterConfig struct {
	Enabled   bool
	Blacklist bool
	IDs       []int
}

// Allows reports whether a category id passes the filter.
func (f FilterConfig) Allows(id int) bool {
	if !f.Enabled {
		return true
	}
	listed := slices.Contains(f.IDs, id)
	if f.Blacklist {
		return !listed
	}
	return listed
}

// DefaultConfig mirrors the configuration defaults.
func DefaultConfig() Config {
	return Config{
		Topics:            true,
		BatchLimit:        20,
		ProgressInterval:  25,
		URLNotifyInterval: 10,
		SkipBudget:        50,
		MaxFailedPages:    5,
		URLCaching:        true,
		DataCaching:       true,
		Resume:            true,
		RestartDelay:      10 * time.Second,
		VerifyCounts:      true,
		FailOn403:         true,
	}
}

// countMismatch applies the strict/relaxed count policy: strict requires an
// exact match, relaxed only flags a shortfall.
func countMismatch(strict bool, collected, reported int) bool {
	if strict {
		return collected != reported
	}
	return collected < reported
}

// Category is one forum category and, while it is being archived, its topics.
type Category struct {
	ID                 int
	Slug               string
	ReportedTopicCount int
	// Doc is the listing entry merged with the show endpoint.
	Doc    discourse.Document
	Topics []*Topic
	// archived is set once this process has run the category through the
	// topic pipeline.
	archived bool
}

// NewCategory builds a Category from its listing document.
func NewCategory(doc discourse.Document) (*Category, bool) {
	id, ok := doc.Int("id")
	if !ok {
		return nil, false
	}
	slug, _ := doc.String("slug")
	count, _ := doc.Int("topic_count")
	return &Category{ID: id, Slug: slug, ReportedTopicCount: count, Doc: doc}, true
}

// upsertTopic adds t, replacing an earlier record of the same topic.
func (c *Category) upsertTopic(t *Topic) {
	for i, existing := range c.Topics {
		if existing.ID == t.ID {
			c.Topics[i] = t
			return
		}
	}
	c.Topics = append(c.Topics, t)
}

// releaseTopics drops the in-memory topic records once the data cache holds them.
func (c *Category) releaseTopics() {
	for _, t := range c.Topics {
		t.Doc = discourse.Document{}
		t.PostIDs = nil
	}
	c.Topics = nil
}

// Topic is a downloaded topic. Once its category writes the data cache it is
// reduced to the cache record.
type Topic struct {
	ID                int
	RequestURL        string
	ReportedPostCount int
	PostIDs           []int
	Doc               discourse.Document
}

// TopicURL pairs a topic id with the URL used to fetch it.
type TopicURL struct {
	ID  int
	URL string
}

// TopicURLs is a set of topic URLs kept unique by id and ordered ascending,
// which is also the resume order.
type TopicURLs struct {
	entries []TopicURL
}

// NewTopicURLs builds a set from entries; later duplicates are ignored.
func NewTopicURLs(entries ...TopicURL) *TopicURLs {
	set := &TopicURLs{}
	for _, e := range entries {
		set.Add(e.ID, e.URL)
	}
	return set
}

// Add inserts id unless already present and reports whether it was added.
func (s *TopicURLs) Add(id int, url string) bool {
	i, found := slices.BinarySearchFunc(s.entries, id, func(e TopicURL, target int) int {
		return e.ID - target
	})
	if found {
		return false
	}
	s.entries = slices.Insert(s.entries, i, TopicURL{ID: id, URL: url})
	return true
}

// Len returns the number of topics.
func (s *TopicURLs) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Entries returns the topics in ascending id order.
func (s *TopicURLs) Entries() []TopicURL {
	if s == nil {
		return nil
	}
	return slices.Clone(s.entries)
}

// Bounds returns the first and last topic ids.
func (s *TopicURLs) Bounds() (first, last int, ok bool) {
	if s.Len() == 0 {
		return Unset, Unset, false
	}
	return s.entries[0].ID, s.entries[len(s.entries)-1].ID, true
}

// Reset empties the set.
func (s *TopicURLs) Reset() {
	s.entries = s.entries[:0]
}
