package contextstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicsOrdersByFrequency(t *testing.T) {
	topics := Topics("redis redis redis postgres postgres kafka")
	require.Len(t, topics, 3)
	assert.Equal(t, []string{"redis", "postgres", "kafka"}, topics)
}

func TestTopicsBreaksTiesByFirstOccurrence(t *testing.T) {
	topics := Topics("zebra apple zebra apple")
	assert.Equal(t, []string{"zebra", "apple"}, topics)
}

func TestTopicsIgnoresSingleCharacterTokens(t *testing.T) {
	topics := Topics("a b c go go")
	assert.Equal(t, []string{"go"}, topics)
}

func TestTopicsCapsAtTen(t *testing.T) {
	topics := Topics("one two three four five six seven eight nine ten eleven twelve")
	assert.Len(t, topics, 10)
}

func TestTopicsLowercasesInput(t *testing.T) {
	topics := Topics("Redis REDIS redis")
	assert.Equal(t, []string{"redis"}, topics)
}

func TestSummarizeProducesDigest(t *testing.T) {
	messages := []ContextMessage{
		{Role: RoleUser, Content: "How do I configure Postgres for the staging cluster?"},
		{Role: RoleAssistant, Content: "Set the pool size to 25 and point it at the staging cluster."},
		{Role: RoleUser, Content: "And what about Postgres backups?"},
	}

	digest := NewFrequencySummarizer().Summarize(messages)

	assert.Contains(t, digest.Summary, "3 messages")
	assert.Contains(t, digest.Summary, "covering")
	assert.NotEmpty(t, digest.Topics)
	assert.LessOrEqual(t, len(digest.KeyPoints), 5)

	// Digit runs and capitalized runs both count as entities.
	assert.Contains(t, digest.Entities, "25")
	assert.Contains(t, digest.Entities, "Postgres")
}

func TestSummarizeEmptyMessages(t *testing.T) {
	digest := NewFrequencySummarizer().Summarize(nil)
	assert.Contains(t, digest.Summary, "0 messages")
	assert.Empty(t, digest.Topics)
}
