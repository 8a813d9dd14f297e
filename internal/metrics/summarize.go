package metrics

import (
	"math"
	"sort"
	"time"

	"github.com/nikhilbhutani/promptops/internal/models"
)

type Overview struct {
	TotalRequests  int     `json:"total_requests"`
	SuccessRate    float64 `json:"success_rate"`
	AvgLatencyMs   float64 `json:"avg_latency_ms"`
	P95LatencyMs   int64   `json:"p95_latency_ms"`
	P99LatencyMs   int64   `json:"p99_latency_ms"`
	TotalTokens    int64   `json:"total_tokens"`
	TotalCostCents float64 `json:"total_cost_cents"`
}

type ModelStats struct {
	Model          string  `json:"model"`
	RequestCount   int     `json:"request_count"`
	SuccessRate    float64 `json:"success_rate"`
	AvgLatencyMs   float64 `json:"avg_latency_ms"`
	TotalTokens    int64   `json:"total_tokens"`
	TotalCostCents float64 `json:"total_cost_cents"`
}

type LatencyBucket struct {
	Timestamp    time.Time `json:"timestamp"`
	AvgLatencyMs float64   `json:"avg_latency_ms"`
	P95LatencyMs int64     `json:"p95_latency_ms"`
	RequestCount int       `json:"request_count"`
}

type CostBucket struct {
	Date       string  `json:"date"`
	CostCents  float64 `json:"cost_cents"`
	TokenCount int64   `json:"token_count"`
}

// Percentile returns the nearest-rank percentile of sorted: the value at
// 1-indexed rank ceil(p*n), clamped to [1, n]. It returns 0 for no samples.
func Percentile(sorted []int64, p float64) int64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	// the epsilon keeps 0.95*100 from rounding up to rank 96
	rank := int(math.Ceil(p*float64(n) - 1e-9))
	rank = max(1, min(rank, n))
	return sorted[rank-1]
}

func summarize(outcomes []models.Outcome) Overview {
	if len(outcomes) == 0 {
		return Overview{}
	}

	var (
		ov         Overview
		successes  int
		latencySum int64
	)
	latencies := make([]int64, 0, len(outcomes))
	for _, o := range outcomes {
		ov.TotalRequests++
		if o.Success() {
			successes++
		}
		latencySum += o.LatencyMs
		latencies = append(latencies, o.LatencyMs)
		ov.TotalTokens += int64(o.TotalTokens)
		ov.TotalCostCents += o.EstimatedCostCents
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	ov.SuccessRate = round(float64(successes)/float64(ov.TotalRequests)*100, 2)
	ov.AvgLatencyMs = round(float64(latencySum)/float64(ov.TotalRequests), 2)
	ov.P95LatencyMs = Percentile(latencies, 0.95)
	ov.P99LatencyMs = Percentile(latencies, 0.99)
	ov.TotalCostCents = round(ov.TotalCostCents, 4)
	return ov
}

func byModel(outcomes []models.Outcome) []ModelStats {
	groups := make(map[string][]models.Outcome)
	for _, o := range outcomes {
		groups[o.Model] = append(groups[o.Model], o)
	}

	out := make([]ModelStats, 0, len(groups))
	for model, group := range groups {
		ov := summarize(group)
		out = append(out, ModelStats{
			Model:          model,
			RequestCount:   ov.TotalRequests,
			SuccessRate:    ov.SuccessRate,
			AvgLatencyMs:   ov.AvgLatencyMs,
			TotalTokens:    ov.TotalTokens,
			TotalCostCents: ov.TotalCostCents,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestCount != out[j].RequestCount {
			return out[i].RequestCount > out[j].RequestCount
		}
		return out[i].Model < out[j].Model
	})
	return out
}

// hourly buckets outcomes by UTC hour, oldest first.
func hourly(outcomes []models.Outcome) []LatencyBucket {
	groups := make(map[time.Time][]int64)
	for _, o := range outcomes {
		h := o.Timestamp.UTC().Truncate(time.Hour)
		groups[h] = append(groups[h], o.LatencyMs)
	}

	out := make([]LatencyBucket, 0, len(groups))
	for h, lat := range groups {
		sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })
		var sum int64
		for _, l := range lat {
			sum += l
		}
		out = append(out, LatencyBucket{
			Timestamp:    h,
			AvgLatencyMs: round(float64(sum)/float64(len(lat)), 2),
			P95LatencyMs: Percentile(lat, 0.95),
			RequestCount: len(lat),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// daily buckets cost by UTC date, oldest first.
func daily(outcomes []models.Outcome) []CostBucket {
	groups := make(map[string]*CostBucket)
	for _, o := range outcomes {
		day := o.Timestamp.UTC().Format(time.DateOnly)
		b, ok := groups[day]
		if !ok {
			b = &CostBucket{Date: day}
			groups[day] = b
		}
		b.CostCents += o.EstimatedCostCents
		b.TokenCount += int64(o.TotalTokens)
	}

	out := make([]CostBucket, 0, len(groups))
	for _, b := range groups {
		b.CostCents = round(b.CostCents, 4)
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
