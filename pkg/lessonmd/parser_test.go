package lessonmd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `# Fractions with Visual Models

**Subject:** Mathematics
- **Topic:** Adding fractions
- Class: Primary 5
**Duration:** 40 minutes
Teaching Aids: fraction strips, whiteboard

## Behavioral Objectives
By the end of the lesson pupils should be able to:
1. add fractions with like denominators

## Presentation and Development
Step 1: revise halves and quarters.
Step 2: model addition with strips.

## Rationale
Concrete models build intuition.

## Homework
Workbook page 12.

## References
Primary Mathematics Book 5.
`

func TestParseFullDocument(t *testing.T) {
	draft := Parse(sample)

	require.NotNil(t, draft.Title)
	assert.Equal(t, "Fractions with Visual Models", *draft.Title)
	require.NotNil(t, draft.Subject)
	assert.Equal(t, "Mathematics", *draft.Subject)
	require.NotNil(t, draft.Topic)
	assert.Equal(t, "Adding fractions", *draft.Topic)
	require.NotNil(t, draft.ClassName)
	assert.Equal(t, "Primary 5", *draft.ClassName)
	require.NotNil(t, draft.Duration)
	assert.Equal(t, "40 minutes", *draft.Duration)
	require.NotNil(t, draft.TeachingAids)
	assert.Equal(t, "fraction strips, whiteboard", *draft.TeachingAids)

	require.NotNil(t, draft.Objectives)
	assert.Equal(t, "By the end of the lesson pupils should be able to:\n1. add fractions with like denominators", *draft.Objectives)

	require.NotNil(t, draft.Activities)
	activities := *draft.Activities
	assert.True(t, strings.HasPrefix(activities, "Step 1: revise halves and quarters.\nStep 2: model addition with strips."))
	assert.Contains(t, activities, "### Rationale\nConcrete models build intuition.")
	assert.Contains(t, activities, "### Homework\nWorkbook page 12.")
	assert.Contains(t, activities, "### References\nPrimary Mathematics Book 5.")
	assert.Less(t, strings.Index(activities, "### Rationale"), strings.Index(activities, "### Homework"))
}

func TestParseTotality(t *testing.T) {
	inputs := []string{
		"",
		"\n\n\n",
		"just some prose with no structure",
		"#",
		"######",
		"####### seven hashes",
		"##NoSpace",
		"Subject:",
		"**",
		"- ",
		"## Homework",
		"\r\n## Behavioral Objectives\r\n\r\n",
		strings.Repeat("x", 1<<17),
		"\xff\xfe invalid utf8 Subject: \xff",
		"TOPİC: unicode label",
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() { _ = Parse(in) }, "%q", in)
	}

	empty := Parse("")
	assert.Equal(t, Draft{}, empty)

	prose := Parse("just some prose with no structure")
	assert.Equal(t, Draft{}, prose)
}

func TestParseAppendixWithoutActivities(t *testing.T) {
	draft := Parse("## Homework\nRead chapter 2.")
	assert.Nil(t, draft.Objectives)
	require.NotNil(t, draft.Activities)
	assert.Equal(t, "### Homework\nRead chapter 2.", *draft.Activities)
}

func TestParseKeepsFirstLabelValue(t *testing.T) {
	draft := Parse("Subject: Science\nSubject: Art\n## Subject: Music")
	require.NotNil(t, draft.Subject)
	assert.Equal(t, "Science", *draft.Subject)
}

func TestParseEmptyLabelLeavesFieldUnset(t *testing.T) {
	draft := Parse("Subject:\nTopic: Plants")
	assert.Nil(t, draft.Subject)
	require.NotNil(t, draft.Topic)
	assert.Equal(t, "Plants", *draft.Topic)
}
