package archive

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// DataCacheEntry is the persisted form of a Topic:
// "requestURL|topicID|reportedPostCount|id,id,...".
type DataCacheEntry struct {
	RequestURL        string
	TopicID           int
	ReportedPostCount int
	PostIDs           []int
}

func entryFromTopic(t *Topic) DataCacheEntry {
	return DataCacheEntry{
		RequestURL:        t.RequestURL,
		TopicID:           t.ID,
		ReportedPostCount: t.ReportedPostCount,
		PostIDs:           t.PostIDs,
	}
}

// Topic rebuilds the cache record as a Topic.
func (e DataCacheEntry) Topic() *Topic {
	return &Topic{
		ID:                e.TopicID,
		RequestURL:        e.RequestURL,
		ReportedPostCount: e.ReportedPostCount,
		PostIDs:           append([]int(nil), e.PostIDs...),
	}
}

// Encode renders the entry as one line without the trailing newline.
func (e DataCacheEntry) Encode() string {
	ids := make([]string, len(e.PostIDs))
	for i, id := range e.PostIDs {
		ids[i] = strconv.Itoa(id)
	}
	return e.RequestURL + "|" + strconv.Itoa(e.TopicID) + "|" +
		strconv.Itoa(e.ReportedPostCount) + "|" + strings.Join(ids, ",")
}

// DecodeDataCacheEntry parses one line, checking the field count, the numeric
// fields and that the post id count equals the reported post count.
func DecodeDataCacheEntry(line string) (DataCacheEntry, error) {
	fields := strings.Split(line, "|")
	if len(fields) != 4 {
		return DataCacheEntry{}, fmt.Errorf("expected 4 fields, got %d", len(fields))
	}
	topicID, err := strconv.Atoi(fields[1])
	if err != nil {
		return DataCacheEntry{}, fmt.Errorf("topic id %q is not an integer", fields[1])
	}
	reported, err := strconv.Atoi(fields[2])
	if err != nil {
		return DataCacheEntry{}, fmt.Errorf("post count %q is not an integer", fields[2])
	}
	var postIDs []int
	if fields[3] != "" {
		for _, raw := range strings.Split(fields[3], ",") {
			id, err := strconv.Atoi(raw)
			if err != nil {
				return DataCacheEntry{}, fmt.Errorf("post id %q is not an integer", raw)
			}
			postIDs = append(postIDs, id)
		}
	}
	if len(postIDs) != reported {
		return DataCacheEntry{}, fmt.Errorf("post count mismatch: reported %d, listed %d", reported, len(postIDs))
	}
	return DataCacheEntry{
		RequestURL:        fields[0],
		TopicID:           topicID,
		ReportedPostCount: reported,
		PostIDs:           postIDs,
	}, nil
}

// EncodeDataCache renders one line per topic in category order.
func EncodeDataCache(topics []*Topic) []byte {
	var b bytes.Buffer
	for _, t := range topics {
		b.WriteString(entryFromTopic(t).Encode())
		b.WriteByte('\n')
	}
	return b.Bytes()
}

// DecodeDataCache parses a data cache. It fails partially: each bad line is
// reported in skipped and the rest are kept.
func DecodeDataCache(data []byte) (entries []DataCacheEntry, skipped []error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		entry, err := DecodeDataCacheEntry(line)
		if err != nil {
			skipped = append(skipped, fmt.Errorf("data cache line %d: %w", lineNo, err))
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		skipped = append(skipped, fmt.Errorf("data cache: %w", err))
	}
	return entries, skipped
}
