package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVExporterRendersInHeaderOrder(t *testing.T) {
	data := Dataset{
		Headers: []string{"title", "status"},
		Rows: []map[string]string{
			{"status": "PENDING", "title": "Fractions, part 1"},
			{"title": "Photosynthesis"},
		},
	}

	out, err := NewCSVExporter().Render(data)
	require.NoError(t, err)
	assert.Equal(t, "title,status\n\"Fractions, part 1\",PENDING\nPhotosynthesis,\n", string(out))

	_, err = NewCSVExporter().Render(Dataset{})
	assert.ErrorIs(t, err, ErrNoColumns)
}

func TestCSVExporterNeutralizesFormulas(t *testing.T) {
	data := Dataset{
		Headers: []string{"comments", "score"},
		Rows: []map[string]string{
			{"comments": "=HYPERLINK(\"http://x\")", "score": "-3"},
			{"comments": "@SUM(A1)", "score": "+2.5"},
			{"comments": "- bullet", "score": "7"},
		},
	}
	out, err := (&CSVExporter{BOM: true}).Render(data)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, utf8BOM))

	lines := strings.Split(strings.TrimSpace(string(out[len(utf8BOM):])), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, `"'=HYPERLINK(""http://x"")",-3`, lines[1])
	assert.Equal(t, "'@SUM(A1),+2.5", lines[2])
	assert.Equal(t, "'- bullet,7", lines[3])
}

func TestPDFExporterRender(t *testing.T) {
	data := Dataset{
		Headers: []string{"a", "b", "c", "d", "e", "f", "g"},
		Rows:    []map[string]string{{"a": "a very long value that cannot possibly fit inside a narrow column"}},
	}
	out, err := NewPDFExporter().Render(data, "observations")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))

	_, err = NewPDFExporter().Render(Dataset{}, "empty")
	assert.Error(t, err)
}

func TestPDFExporterRenderDocument(t *testing.T) {
	doc := Document{
		Title:  "Fractions",
		Fields: []Field{{Label: "Subject", Value: "Mathematics"}, {Label: "Topic", Value: ""}},
		Sections: []Section{
			{Heading: "Objectives", Body: "Learners add fractions with like denominators."},
			{Heading: "Resources", Body: "  "},
		},
		Footer: "Status: APPROVED",
	}
	out, err := NewPDFExporter().RenderDocument(doc)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))

	_, err = NewPDFExporter().RenderDocument(Document{})
	assert.Error(t, err)
}
