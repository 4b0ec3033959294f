package metadata

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Aggregate flattens run and every nested sub-agent run into one report.
// Mergeable entries sharing a key are summed; the rest are concatenated.
// Sub-agent nodes themselves are not part of the result.
func Aggregate(run Run) (map[string][]Entry, error) {
	collected := map[string][]Entry{}
	var order []string
	collect(run, collected, &order)

	out := make(map[string][]Entry, len(collected))
	for _, category := range order {
		merged, err := mergeEntries(collected[category])
		if err != nil {
			return nil, fmt.Errorf("failed to aggregate %s: %w", category, err)
		}
		out[category] = merged
	}
	return out, nil
}

// AggregateJSON is Aggregate with entries converted to plain JSON objects
func AggregateJSON(run Run) (map[string][]map[string]any, error) {
	agg, err := Aggregate(run)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]map[string]any, len(agg))
	for category, entries := range agg {
		items := make([]map[string]any, 0, len(entries))
		for _, entry := range entries {
			data, err := json.Marshal(entry)
			if err != nil {
				return nil, fmt.Errorf("failed to encode %s entry: %w", category, err)
			}
			var item map[string]any
			if err := json.Unmarshal(data, &item); err != nil {
				// scalar payloads from Raw entries
				item = map[string]any{"value": json.RawMessage(data)}
			}
			items = append(items, item)
		}
		out[category] = items
	}
	return out, nil
}

func collect(run Run, into map[string][]Entry, order *[]string) {
	// Walk categories in a stable order so merged output is deterministic
	for _, category := range sortedCategories(run) {
		for _, entry := range run[category] {
			if sub, ok := entry.(*SubAgent); ok {
				collect(sub.Run, into, order)
				continue
			}
			if _, seen := into[category]; !seen {
				*order = append(*order, category)
			}
			into[category] = append(into[category], entry)
		}
	}
}

func mergeEntries(entries []Entry) ([]Entry, error) {
	out := make([]Entry, 0, len(entries))
	index := map[string]int{}

	for _, entry := range entries {
		m, ok := entry.(Mergeable)
		if !ok {
			out = append(out, entry)
			continue
		}
		key := m.MergeKey()
		i, seen := index[key]
		if !seen {
			index[key] = len(out)
			out = append(out, entry)
			continue
		}
		merged, err := out[i].(Mergeable).Merge(entry)
		if err != nil {
			return nil, err
		}
		out[i] = merged
	}
	return out, nil
}

func sortedCategories(run Run) []string {
	categories := make([]string, 0, len(run))
	for category := range run {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	return categories
}
