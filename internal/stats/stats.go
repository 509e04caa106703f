// Package stats reduces a result snapshot into dashboard counters.
package stats

import (
	"sort"
	"strings"

	"github.com/ibeckermayer/modwatch/internal/platform"
	"github.com/ibeckermayer/modwatch/internal/types"
)

// LabelSet is a case-insensitive set of comment labels
type LabelSet map[string]struct{}

// NewLabelSet builds a set from labels, normalising case and whitespace.
func NewLabelSet(labels ...string) LabelSet {
	s := make(LabelSet, len(labels))
	for _, l := range labels {
		if n := normalize(l); n != "" {
			s[n] = struct{}{}
		}
	}
	return s
}

// DefaultHateLabels returns the labels counted as hate speech on the dashboard
func DefaultHateLabels() LabelSet {
	return NewLabelSet("hate", "toxic", "severe_toxic", "identity_hate")
}

// Contains reports whether label is in the set
func (s LabelSet) Contains(label string) bool {
	_, ok := s[normalize(label)]
	return ok
}

// Labels returns the members in sorted order.
func (s LabelSet) Labels() []string {
	out := make([]string, 0, len(s))
	for l := range s {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

func normalize(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// Summary holds whole-set counters
type Summary struct {
	TotalItems    int `json:"total_items"`
	TotalComments int `json:"total_comments"`
	HateCount     int `json:"hate_count"`
}

// SafeCount is every analysed comment not counted as hate.
func (s Summary) SafeCount() int {
	return s.TotalComments - s.HateCount
}

func (s *Summary) add(item types.ContentItem, hate LabelSet) {
	s.TotalItems++
	s.TotalComments += item.CommentCount
	s.HateCount += countHate(item, hate)
}

// PlatformStat holds the counters for one platform card
type PlatformStat struct {
	Platform         platform.Tag `json:"platform"`
	Name             string       `json:"name"`
	ItemsScraped     int          `json:"items_scraped"`
	CommentsAnalyzed int          `json:"comments_analyzed"`
	HateCount        int          `json:"hate_count"`
	IsActive         bool         `json:"is_active"`
}

// Breakdown is the per-platform view of a snapshot
type Breakdown struct {
	Platforms           []PlatformStat `json:"platforms"`
	ActivePlatformCount int            `json:"active_platform_count"`
}

// ItemStat holds the counters for a single content card
type ItemStat struct {
	URL          string       `json:"url"`
	Platform     platform.Tag `json:"platform"`
	CommentCount int          `json:"comment_count"`
	HateCount    int          `json:"hate_count"`
	SafeCount    int          `json:"safe_count"`
}

// Aggregator computes statistics with a fixed classifier, catalog and hate set.
type Aggregator struct {
	classifier platform.Classifier
	catalog    platform.Catalog
	hate       LabelSet
}

// NewAggregator creates an Aggregator. Nil arguments fall back to the
// URL classifier, the default catalog and the default hate labels.
func NewAggregator(classifier platform.Classifier, catalog platform.Catalog, hate LabelSet) *Aggregator {
	if classifier == nil {
		classifier = platform.URLClassifier{}
	}
	if catalog == nil {
		catalog = platform.DefaultCatalog()
	}
	if hate == nil {
		hate = DefaultHateLabels()
	}
	return &Aggregator{classifier: classifier, catalog: catalog, hate: hate}
}

// Catalog returns the platform catalog in use
func (a *Aggregator) Catalog() platform.Catalog { return a.catalog }

// HateLabels returns the hate label set in use
func (a *Aggregator) HateLabels() LabelSet { return a.hate }

// Aggregate reduces items into whole-set counters
func (a *Aggregator) Aggregate(items []types.ContentItem) Summary {
	return Aggregate(items, a.hate)
}

// AggregateByPlatform partitions items by platform and reduces each partition.
// Catalog platforms come first in catalog order, even when empty. Platforms the
// classifier produces that the catalog does not list follow, sorted by tag.
func (a *Aggregator) AggregateByPlatform(items []types.ContentItem) Breakdown {
	parts := make(map[platform.Tag]*Summary)
	for _, item := range items {
		tag := a.classifier.Classify(item.URL)
		s, ok := parts[tag]
		if !ok {
			s = &Summary{}
			parts[tag] = s
		}
		s.add(item, a.hate)
	}

	order := make([]platform.Tag, 0, len(a.catalog)+len(parts))
	seen := make(map[platform.Tag]bool, len(a.catalog))
	for _, e := range a.catalog {
		if seen[e.Tag] {
			continue
		}
		seen[e.Tag] = true
		order = append(order, e.Tag)
	}
	var extra []platform.Tag
	for tag := range parts {
		if !seen[tag] {
			extra = append(extra, tag)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	order = append(order, extra...)

	out := Breakdown{Platforms: make([]PlatformStat, 0, len(order))}
	for _, tag := range order {
		var s Summary
		if p, ok := parts[tag]; ok {
			s = *p
		}

		stat := PlatformStat{
			Platform:         tag,
			Name:             a.catalog.DisplayName(tag),
			ItemsScraped:     s.TotalItems,
			CommentsAnalyzed: s.TotalComments,
			HateCount:        s.HateCount,
			IsActive:         s.TotalItems > 0,
		}
		if e, ok := a.catalog.Lookup(tag); ok && e.Active != nil {
			stat.IsActive = *e.Active
		}
		if s.TotalItems > 0 {
			out.ActivePlatformCount++
		}
		out.Platforms = append(out.Platforms, stat)
	}
	return out
}

// Filter returns the items classified as tag, or all items when tag is empty.
func (a *Aggregator) Filter(items []types.ContentItem, tag platform.Tag) []types.ContentItem {
	if tag == "" {
		return items
	}
	var out []types.ContentItem
	for _, item := range items {
		if a.classifier.Classify(item.URL) == tag {
			out = append(out, item)
		}
	}
	return out
}

// Items computes per-item counters in input order
func (a *Aggregator) Items(items []types.ContentItem) []ItemStat {
	out := make([]ItemStat, len(items))
	for i, item := range items {
		hate := countHate(item, a.hate)
		out[i] = ItemStat{
			URL:          item.URL,
			Platform:     a.classifier.Classify(item.URL),
			CommentCount: item.CommentCount,
			HateCount:    hate,
			SafeCount:    item.CommentCount - hate,
		}
	}
	return out
}

// Flagged returns every comment carrying a hate label, paired with its item URL,
// in snapshot order. limit <= 0 means no limit.
func (a *Aggregator) Flagged(items []types.ContentItem, limit int) []FlaggedComment {
	var out []FlaggedComment
	for _, item := range items {
		for _, c := range item.Comments {
			if !a.hate.Contains(c.Label) {
				continue
			}
			out = append(out, FlaggedComment{URL: item.URL, Platform: a.classifier.Classify(item.URL), Comment: c})
			if limit > 0 && len(out) >= limit {
				return out
			}
		}
	}
	return out
}

// FlaggedComment is a hate-labeled comment with the item it belongs to
type FlaggedComment struct {
	URL      string
	Platform platform.Tag
	Comment  types.Comment
}

// Aggregate reduces items into whole-set counters using hate as the label set.
func Aggregate(items []types.ContentItem, hate LabelSet) Summary {
	var s Summary
	for _, item := range items {
		s.add(item, hate)
	}
	return s
}

// AggregateByPlatform partitions items with the URL classifier and the default catalog.
func AggregateByPlatform(items []types.ContentItem, hate LabelSet) Breakdown {
	return NewAggregator(nil, nil, hate).AggregateByPlatform(items)
}

func countHate(item types.ContentItem, hate LabelSet) int {
	n := 0
	for _, c := range item.Comments {
		if hate.Contains(c.Label) {
			n++
		}
	}
	return n
}
