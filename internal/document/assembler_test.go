package document

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recapbook/api/internal/model"
	"github.com/recapbook/api/internal/plan"
)

func slot(i int) *int { return &i }

func testPlan() plan.Plan {
	return plan.Plan{
		Style:      model.StyleTravel,
		MediaCount: 2,
		Title:      "{{ .OwnerOrDefault }} in {{ len .Locations }} places",
		Closing:    "See you next year.",
		Sections: []model.SectionSpec{
			{ID: "a", Title: "A", Fallback: "fa", MediaSlot: slot(0)},
			{ID: "b", Title: "B", Fallback: "fb", MediaSlot: slot(1)},
			{ID: "c", Title: "C", Fallback: "fc", MediaSlot: slot(2)},
			{ID: "d", Title: "D", Fallback: "fd"},
		},
	}
}

func testResults() []model.SectionResult {
	return []model.SectionResult{
		{SectionID: "a", Title: "A", Content: "ca", Origin: model.OriginGenerated},
		{SectionID: "b", Title: "B", Content: "fb", Origin: model.OriginFallback},
		{SectionID: "c", Title: "C", Content: "cc", Origin: model.OriginGenerated},
		{SectionID: "d", Title: "D", Content: "cd", Origin: model.OriginGenerated},
	}
}

func TestAssemble(t *testing.T) {
	run := &model.Run{ID: "r1", Format: model.FormatHTML, OwnerID: "Mia"}
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	media := []model.MediaRef{{Key: "1.jpg", URL: "u1"}, {Key: "2.jpg", URL: "u2"}}

	doc, err := Assemble(Input{
		Run:     run,
		Plan:    testPlan(),
		Results: testResults(),
		Media:   media,
		Context: plan.PromptContext{Owner: "Mia", Locations: []string{"Rome", "Oslo"}},
		Now:     now,
	})
	require.NoError(t, err)

	assert.Equal(t, "r1", doc.RunID)
	assert.Equal(t, model.FormatHTML, doc.Format)
	assert.Equal(t, model.StyleTravel, doc.Style)
	assert.Equal(t, "Mia in 2 places", doc.Title)
	assert.Equal(t, "See you next year.", doc.Closing)
	assert.Equal(t, now, doc.CreatedAt)
	assert.False(t, doc.Placeholder)
	assert.Equal(t, 1, doc.FallbackCount())

	require.Len(t, doc.Sections, 4)
	assert.Equal(t, "1.jpg", doc.Sections[0].Media.Key)
	assert.Equal(t, "2.jpg", doc.Sections[1].Media.Key)
	// slot 2 cycles back to the first selected item
	assert.Equal(t, "1.jpg", doc.Sections[2].Media.Key)
	assert.Nil(t, doc.Sections[3].Media)
}

func TestAssemble_NoMediaSentinel(t *testing.T) {
	doc, err := Assemble(Input{
		Run:     &model.Run{ID: "r1"},
		Plan:    testPlan(),
		Results: testResults(),
		Media:   []model.MediaRef{model.NoMedia, model.NoMedia},
	})
	require.NoError(t, err)
	for _, s := range doc.Sections {
		assert.Nil(t, s.Media)
	}
}

func TestAssemble_Errors(t *testing.T) {
	_, err := Assemble(Input{Run: &model.Run{ID: "r1"}, Plan: testPlan(), Results: testResults()[:2]})
	assert.True(t, errors.Is(err, ErrAssembly))

	swapped := testResults()
	swapped[0], swapped[1] = swapped[1], swapped[0]
	_, err = Assemble(Input{Run: &model.Run{ID: "r1"}, Plan: testPlan(), Results: swapped})
	assert.ErrorIs(t, err, ErrAssembly)

	_, err = Assemble(Input{Plan: testPlan(), Results: testResults()})
	assert.ErrorIs(t, err, ErrAssembly)
}

func TestPlaceholder(t *testing.T) {
	run := &model.Run{ID: "r1", Format: model.FormatJSON}
	doc := Placeholder(run, testPlan(), "source missing", time.Now())

	assert.True(t, doc.Placeholder)
	assert.Equal(t, "source missing", doc.Reason)
	assert.Equal(t, "r1", doc.RunID)
	assert.Equal(t, "Your in 0 places", doc.Title)
	require.Len(t, doc.Sections, 4)
	for _, s := range doc.Sections {
		assert.Equal(t, model.OriginFallback, s.Origin)
		assert.NotEmpty(t, s.Content)
	}
	assert.Equal(t, 4, doc.FallbackCount())
}

func TestRender(t *testing.T) {
	m := model.MediaRef{Key: "1.jpg", URL: "https://cdn.test/1.jpg"}
	doc := &model.Document{
		RunID:   "r1",
		Title:   "Mia & friends",
		Closing: "Bye.",
		Sections: []model.BoundSection{
			{SectionResult: model.SectionResult{SectionID: "a", Title: "Start", Content: "We went to **Rome**."}, Media: &m},
		},
	}

	data, ct, err := Render(doc, model.FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "application/json", ct)
	var decoded model.Document
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "r1", decoded.RunID)

	data, _, err = Render(doc, model.FormatMarkdown)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# Mia & friends\n"))
	assert.Contains(t, string(data), "![1.jpg](https://cdn.test/1.jpg)")

	data, ct, err = Render(doc, model.FormatHTML)
	require.NoError(t, err)
	assert.Contains(t, ct, "text/html")
	assert.Contains(t, string(data), "<title>Mia &amp; friends</title>")
	assert.Contains(t, string(data), "<h2>Start</h2>")
	assert.Contains(t, string(data), "<strong>Rome</strong>")
	assert.Contains(t, string(data), `<img src="https://cdn.test/1.jpg" alt="1.jpg">`)

	_, _, err = Render(doc, model.Format("pdf"))
	assert.Error(t, err)
}
