package model

import (
	"encoding/json"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// EmptyBranch is the contribution of a failed or timed-out branch.
var EmptyBranch = json.RawMessage(`{}`)

// SentimentBreakdown counts mentions per sentiment class.
type SentimentBreakdown struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
	Neutral  int `json:"neutral"`
}

// Theme is a weighted word-cloud entry.
type Theme struct {
	Word   string  `json:"word"`
	Weight float64 `json:"weight"`
}

// MentionItem is one mention found by a branch.
type MentionItem struct {
	Date           string `json:"date,omitempty"`
	Text           string `json:"text"`
	Sentiment      string `json:"sentiment,omitempty"`
	EthicalContext string `json:"ethical_context,omitempty"`
	URL            string `json:"url,omitempty"`
	Domain         string `json:"domain,omitempty"`
}

// BranchReport is the structured output of one branch.
type BranchReport struct {
	SourceID           string             `json:"source_id"`
	BrandName          string             `json:"brand_name,omitempty"`
	PlatformName       string             `json:"platform_name,omitempty"`
	ItemCount          int                `json:"item_count"`
	SentimentBreakdown SentimentBreakdown `json:"sentiment_breakdown"`
	Highlights         []string           `json:"highlights"`
	Themes             []Theme            `json:"themes"`
	Items              []MentionItem      `json:"items"`
}

// branchReportWire accepts both the canonical field names and the per-platform names
// emitted by the analysis prompts.
type branchReportWire struct {
	SourceID           string              `json:"source_id"`
	BrandName          string              `json:"brand_name"`
	PlatformName       string              `json:"platform_name"`
	ItemCount          *int                `json:"item_count"`
	TotalMentions      *int                `json:"total_mentions_on_platform"`
	SentimentBreakdown *SentimentBreakdown `json:"sentiment_breakdown"`
	PlatformSentiment  *SentimentBreakdown `json:"platform_sentiment_breakdown"`
	Highlights         []string            `json:"highlights"`
	EthicalHighlights  []string            `json:"ethical_highlights_on_platform"`
	Themes             []Theme             `json:"themes"`
	WordCloudThemes    []Theme             `json:"word_cloud_themes_on_platform"`
	Items              []MentionItem       `json:"items"`
	Mentions           []MentionItem       `json:"mentions_on_platform"`
}

// UnmarshalJSON implements json.Unmarshaler, accepting platform field aliases.
func (r *BranchReport) UnmarshalJSON(data []byte) error {
	var w branchReportWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = BranchReport{
		SourceID:     w.SourceID,
		BrandName:    w.BrandName,
		PlatformName: w.PlatformName,
		Highlights:   firstNonNil(w.Highlights, w.EthicalHighlights),
		Themes:       firstNonNil(w.Themes, w.WordCloudThemes),
		Items:        firstNonNil(w.Items, w.Mentions),
	}
	switch {
	case w.ItemCount != nil:
		r.ItemCount = *w.ItemCount
	case w.TotalMentions != nil:
		r.ItemCount = *w.TotalMentions
	default:
		r.ItemCount = -1
	}
	switch {
	case w.SentimentBreakdown != nil:
		r.SentimentBreakdown = *w.SentimentBreakdown
	case w.PlatformSentiment != nil:
		r.SentimentBreakdown = *w.PlatformSentiment
	}
	return nil
}

func firstNonNil[T any](a, b []T) []T {
	if a != nil {
		return a
	}
	return b
}

// Clone returns a deep copy of the report.
func (r *BranchReport) Clone() *BranchReport {
	if r == nil {
		return nil
	}
	c := *r
	c.Highlights = append([]string(nil), r.Highlights...)
	c.Themes = append([]Theme(nil), r.Themes...)
	c.Items = append([]MentionItem(nil), r.Items...)
	return &c
}

// Normalize fills derived fields: source id, item count and mention domains.
// Slices are never nil after normalisation so they encode as [].
func (r *BranchReport) Normalize(sourceID string) {
	if r.SourceID == "" {
		r.SourceID = sourceID
	}
	if r.Highlights == nil {
		r.Highlights = []string{}
	}
	if r.Themes == nil {
		r.Themes = []Theme{}
	}
	if r.Items == nil {
		r.Items = []MentionItem{}
	}
	for i := range r.Items {
		if r.Items[i].Domain == "" {
			r.Items[i].Domain = RegistrableDomain(r.Items[i].URL)
		}
	}
	if r.ItemCount < 0 || (r.ItemCount == 0 && len(r.Items) > 0) {
		r.ItemCount = len(r.Items)
	}
}

// RegistrableDomain returns the eTLD+1 of rawURL's host, or "" when it cannot be derived.
func RegistrableDomain(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return ""
	}
	return d
}

// BranchOutcome classifies how a branch finished.
type BranchOutcome string

const (
	// BranchSucceeded means the branch returned output before the deadline.
	BranchSucceeded BranchOutcome = "succeeded"
	// BranchFailed means the branch returned an error.
	BranchFailed BranchOutcome = "failed"
	// BranchTimedOut means the branch was still outstanding at the deadline.
	BranchTimedOut BranchOutcome = "timed_out"
	// BranchPanicked means the branch panicked; it counts as failed in summaries.
	BranchPanicked BranchOutcome = "panicked"
)

// MergeSummary aggregates branch outcomes of a merged result.
type MergeSummary struct {
	TotalItems int `json:"total_items"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	TimedOut   int `json:"timed_out"`
}

// MergedResult is the final results payload of a completed analysis.
// Branches has one entry per configured branch; failed and timed-out branches map to {}.
type MergedResult struct {
	UserID    string                     `json:"user_id"`
	SessionID string                     `json:"session_id"`
	Branches  map[string]json.RawMessage `json:"branches"`
	Summary   MergeSummary               `json:"summary"`
}
