package analysis

import (
	"sort"
	"time"

	"github.com/logsift/logsift/internal/record"
)

// DefaultTopResources bounds the resource leaderboard in summaries.
const DefaultTopResources = 10

// Summary aggregates a completed run for reporting. It is persisted next to
// the run and exported as summary.json.
type Summary struct {
	RunID       string    `json:"run_id"`
	Source      string    `json:"source"`
	GeneratedAt time.Time `json:"generated_at"`
	Counters    Counters  `json:"counters"`
	Aggregates
	Clusters []ClusterOutcome `json:"clusters"`
}

// Aggregates holds the distribution stats derived from a record table.
type Aggregates struct {
	Methods           map[string]int64 `json:"methods"`
	StatusCounts      map[int]int64    `json:"status_counts"`
	StatusClassCounts map[string]int64 `json:"status_class_counts"`
	TopResources      []ResourceCount  `json:"top_resources"`
	TopResourcesBytes []ResourceBytes  `json:"top_resources_by_bytes"`
	Bytes             ByteStats        `json:"bytes"`
}

// ResourceCount pairs a resource path with its request count.
type ResourceCount struct {
	Resource string `json:"resource"`
	Count    int64  `json:"count"`
}

// ResourceBytes pairs a resource path with the total bytes it served.
// Rows with a missing size contribute nothing.
type ResourceBytes struct {
	Resource string `json:"resource"`
	Bytes    int64  `json:"bytes"`
}

// ByteStats summarizes the response size column. Min, Max, and Mean cover
// only rows where the size is present.
type ByteStats struct {
	Present int64   `json:"present"`
	Missing int64   `json:"missing"`
	Total   int64   `json:"total"`
	Min     int64   `json:"min"`
	Max     int64   `json:"max"`
	Mean    float64 `json:"mean"`
}

// Aggregate computes distribution stats over a record table. topN bounds the
// resource leaderboard; values < 1 fall back to DefaultTopResources.
func Aggregate(tbl *record.Table, topN int) Aggregates {
	if topN < 1 {
		topN = DefaultTopResources
	}

	agg := Aggregates{
		Methods:           make(map[string]int64),
		StatusCounts:      make(map[int]int64),
		StatusClassCounts: make(map[string]int64),
	}
	resources := make(map[string]int64)
	resourceBytes := make(map[string]int64)

	for i := 0; i < tbl.Len(); i++ {
		r := tbl.Record(i)
		agg.Methods[r.Method]++
		agg.StatusCounts[r.Status]++
		agg.StatusClassCounts[r.StatusClass()]++
		resources[r.Resource]++

		if !r.HasBytes() {
			agg.Bytes.Missing++
			continue
		}
		size := *r.Bytes
		resourceBytes[r.Resource] += size
		if agg.Bytes.Present == 0 || size < agg.Bytes.Min {
			agg.Bytes.Min = size
		}
		if size > agg.Bytes.Max {
			agg.Bytes.Max = size
		}
		agg.Bytes.Present++
		agg.Bytes.Total += size
	}

	if agg.Bytes.Present > 0 {
		agg.Bytes.Mean = float64(agg.Bytes.Total) / float64(agg.Bytes.Present)
	}

	agg.TopResources = topResources(resources, topN)
	agg.TopResourcesBytes = topResourcesBytes(resourceBytes, topN)
	return agg
}

// topResources ranks resources by request count, breaking ties on path so
// identical inputs always produce identical leaderboards.
func topResources(counts map[string]int64, n int) []ResourceCount {
	ranked := make([]ResourceCount, 0, len(counts))
	for resource, count := range counts {
		ranked = append(ranked, ResourceCount{Resource: resource, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Resource < ranked[j].Resource
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// topResourcesBytes ranks resources by total bytes served, with the same
// path tie-break as topResources.
func topResourcesBytes(totals map[string]int64, n int) []ResourceBytes {
	ranked := make([]ResourceBytes, 0, len(totals))
	for resource, total := range totals {
		ranked = append(ranked, ResourceBytes{Resource: resource, Bytes: total})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Bytes != ranked[j].Bytes {
			return ranked[i].Bytes > ranked[j].Bytes
		}
		return ranked[i].Resource < ranked[j].Resource
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
