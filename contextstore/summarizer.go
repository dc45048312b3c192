package contextstore

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Digest is the lossy fingerprint of a stretch of conversation history.
type Digest struct {
	Summary   string
	Topics    []string
	Entities  []string
	KeyPoints []string
}

// Summarizer reduces older messages to a Digest. The frequency heuristic
// below can be swapped for a model-backed implementation without touching the
// compression control flow.
type Summarizer interface {
	Summarize(messages []ContextMessage) Digest
}

const (
	maxTopics    = 10
	maxKeyPoints = 5
	maxEntities  = 5
)

var (
	tokenPattern      = regexp.MustCompile(`[\p{L}\p{N}']+`)
	numberPattern     = regexp.MustCompile(`\d+`)
	properNamePattern = regexp.MustCompile(`\b[A-Z][a-zA-Z]*(?: [A-Z][a-zA-Z]*)*`)
)

// FrequencySummarizer extracts topics by token frequency and entities by
// digit runs and capitalized word runs.
type FrequencySummarizer struct{}

func NewFrequencySummarizer() *FrequencySummarizer {
	return &FrequencySummarizer{}
}

func (s *FrequencySummarizer) Summarize(messages []ContextMessage) Digest {
	var builder strings.Builder
	for i := range messages {
		builder.WriteString(messages[i].Content)
		builder.WriteString("\n")
	}
	text := builder.String()

	topics := Topics(text)
	entities := extractEntities(text)

	keyPoints := topics
	if len(keyPoints) > maxKeyPoints {
		keyPoints = keyPoints[:maxKeyPoints]
	}

	headline := topics
	if len(headline) > 3 {
		headline = headline[:3]
	}
	summary := fmt.Sprintf("Earlier conversation (%d messages)", len(messages))
	if len(headline) > 0 {
		summary += " covering " + strings.Join(headline, ", ")
	}

	return Digest{
		Summary:   summary,
		Topics:    topics,
		Entities:  entities,
		KeyPoints: keyPoints,
	}
}

// Topics counts token frequency across the text and returns the ten most
// frequent tokens longer than one character, most frequent first. Ties keep
// first-occurrence order so the result is deterministic. Ingestion reuses
// this to tag documents with the same fingerprint the compressor produces.
func Topics(text string) []string {
	tokens := tokenPattern.FindAllString(strings.ToLower(text), -1)

	counts := make(map[string]int, len(tokens))
	order := make(map[string]int, len(tokens))
	for i, token := range tokens {
		if len(token) <= 1 {
			continue
		}
		if _, seen := counts[token]; !seen {
			order[token] = i
		}
		counts[token]++
	}

	topics := make([]string, 0, len(counts))
	for token := range counts {
		topics = append(topics, token)
	}
	sort.SliceStable(topics, func(i, j int) bool {
		a, b := topics[i], topics[j]
		if counts[a] != counts[b] {
			return counts[a] > counts[b]
		}
		return order[a] < order[b]
	})

	if len(topics) > maxTopics {
		topics = topics[:maxTopics]
	}
	return topics
}

// extractEntities collects digit runs and capitalized word runs, deduplicated,
// keeping the first five of each.
func extractEntities(text string) []string {
	entities := make([]string, 0, maxEntities*2)
	seen := make(map[string]struct{})

	appendCapped := func(matches []string) {
		added := 0
		for _, match := range matches {
			if added >= maxEntities {
				break
			}
			if _, ok := seen[match]; ok {
				continue
			}
			seen[match] = struct{}{}
			entities = append(entities, match)
			added++
		}
	}

	appendCapped(numberPattern.FindAllString(text, -1))
	appendCapped(properNamePattern.FindAllString(text, -1))

	return entities
}

var _ Summarizer = (*FrequencySummarizer)(nil)
