package aggregator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/mmk-mentions-api/internal/core"
	"github.com/target/mmk-mentions-api/internal/domain/model"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		assert func(t *testing.T, out json.RawMessage)
	}{
		{
			name: "fenced object is decoded and normalised",
			raw:  "```json\n{\"items\":[{\"text\":\"great value\",\"url\":\"https://news.bbc.co.uk/story/1\"}]}\n```",
			assert: func(t *testing.T, out json.RawMessage) {
				rep := decodeReport(t, out)
				assert.Equal(t, "news", rep.SourceID)
				assert.Equal(t, 1, rep.ItemCount)
				require.Len(t, rep.Items, 1)
				assert.Equal(t, "bbc.co.uk", rep.Items[0].Domain)
				assert.Empty(t, rep.Highlights)
			},
		},
		{
			name: "platform field names are accepted",
			raw: `{"total_mentions_on_platform": 7, "mentions_on_platform": [{"text": "a"}],
				"platform_sentiment_breakdown": {"positive": 1, "negative": 0, "neutral": 0},
				"ethical_highlights_on_platform": ["recycling"]}`,
			assert: func(t *testing.T, out json.RawMessage) {
				rep := decodeReport(t, out)
				assert.Equal(t, 7, rep.ItemCount)
				assert.Equal(t, 1, rep.SentimentBreakdown.Positive)
				assert.Equal(t, []string{"recycling"}, rep.Highlights)
				assert.Len(t, rep.Items, 1)
			},
		},
		{
			name: "object failing the schema is kept as-is",
			raw:  `{"summary": "nothing notable"}`,
			assert: func(t *testing.T, out json.RawMessage) {
				assert.JSONEq(t, `{"summary":"nothing notable"}`, string(out))
			},
		},
		{
			name: "object with mistyped items is kept as-is",
			raw:  `{"items": "none"}`,
			assert: func(t *testing.T, out json.RawMessage) {
				assert.JSONEq(t, `{"items":"none"}`, string(out))
			},
		},
		{
			name: "array of items becomes a report",
			raw:  `[{"text": "a", "url": "https://www.reddit.com/r/x"}, {"text": "b"}]`,
			assert: func(t *testing.T, out json.RawMessage) {
				rep := decodeReport(t, out)
				assert.Equal(t, "news", rep.SourceID)
				assert.Equal(t, 2, rep.ItemCount)
				assert.Equal(t, "reddit.com", rep.Items[0].Domain)
			},
		},
		{
			name: "array of scalars is wrapped",
			raw:  `["a", "b", "c"]`,
			assert: func(t *testing.T, out json.RawMessage) {
				assert.JSONEq(t, `{"source_id":"news","items":["a","b","c"],"item_count":3}`, string(out))
			},
		},
		{
			name: "plain text falls back to raw_data",
			raw:  "No mentions were found.",
			assert: func(t *testing.T, out json.RawMessage) {
				assert.JSONEq(t, `{"raw_data":"No mentions were found."}`, string(out))
			},
		},
		{
			name: "scalar JSON falls back to raw_data",
			raw:  "42",
			assert: func(t *testing.T, out json.RawMessage) {
				assert.JSONEq(t, `{"raw_data":"42"}`, string(out))
			},
		},
		{
			name: "empty output falls back to raw_data",
			raw:  "",
			assert: func(t *testing.T, out json.RawMessage) {
				assert.JSONEq(t, `{"raw_data":""}`, string(out))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Parse("news", core.BranchOutput{Raw: []byte(tt.raw)}, nil)
			require.True(t, json.Valid(out))
			tt.assert(t, out)
		})
	}
}

func TestParse_TypedReportIsCopied(t *testing.T) {
	rep := &model.BranchReport{
		ItemCount: 0,
		Items:     []model.MentionItem{{Text: "x", URL: "https://shop.example.co.uk/p"}},
	}

	out := Parse("twitter", core.BranchOutput{Report: rep, Raw: []byte("ignored")}, nil)

	got := decodeReport(t, out)
	assert.Equal(t, "twitter", got.SourceID)
	assert.Equal(t, 1, got.ItemCount)
	assert.Equal(t, "example.co.uk", got.Items[0].Domain)

	// The producer's report is untouched.
	assert.Empty(t, rep.SourceID)
	assert.Empty(t, rep.Items[0].Domain)
	assert.Equal(t, 0, rep.ItemCount)
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `[1]`, stripFences("```\n[1]\n```"))
	assert.Equal(t, `{"a":1}`, stripFences(`{"a":1}`))
}
