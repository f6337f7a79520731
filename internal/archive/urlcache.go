package archive

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// EncodeURLCache renders one "topicID|url" line per topic, ascending by id.
func EncodeURLCache(urls *TopicURLs) []byte {
	var b bytes.Buffer
	for _, e := range urls.Entries() {
		b.WriteString(strconv.Itoa(e.ID))
		b.WriteByte('|')
		b.WriteString(e.URL)
		b.WriteByte('\n')
	}
	return b.Bytes()
}

// DecodeURLCache parses a URL cache. It fails closed: one malformed line
// rejects the whole file.
func DecodeURLCache(data []byte) (*TopicURLs, error) {
	urls := NewTopicURLs()
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		entry, err := decodeURLEntry(line)
		if err != nil {
			return nil, fmt.Errorf("url cache line %d: %w", lineNo, err)
		}
		urls.Add(entry.ID, entry.URL)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("url cache: %w", err)
	}
	return urls, nil
}

func decodeURLEntry(line string) (TopicURL, error) {
	fields := strings.Split(line, "|")
	if len(fields) != 2 {
		return TopicURL{}, fmt.Errorf("expected 2 fields, got %d", len(fields))
	}
	id, err := strconv.Atoi(fields[0])
	if err != nil {
		return TopicURL{}, fmt.Errorf("topic id %q is not an integer", fields[0])
	}
	return TopicURL{ID: id, URL: fields[1]}, nil
}
