package council

import (
	"math"
	"sort"
)

type tally struct {
	score     int
	positions int
	count     int
	lastPlace int
}

// Aggregate combines judge rankings with a Borda count: a label at index i of
// a judge's ranking earns N-i points where N is the number of labels. Ties
// fall back to fewer last-place votes, then model id. Equal scores share a
// rank. Models are resolved only after scoring.
func Aggregate(stage2 []StageTwoResult, labelToModel map[string]string) AggregateRanking {
	n := len(labelToModel)
	for _, r := range stage2 {
		if len(r.ParsedRanking) > n {
			n = len(r.ParsedRanking)
		}
	}

	tallies := make(map[string]*tally)
	for _, r := range stage2 {
		last := len(r.ParsedRanking) - 1
		for i, label := range r.ParsedRanking {
			t, ok := tallies[label]
			if !ok {
				t = &tally{}
				tallies[label] = t
			}
			t.score += n - i
			t.positions += i + 1
			t.count++
			if i == last {
				t.lastPlace++
			}
		}
	}

	out := make(AggregateRanking, 0, len(tallies))
	for label, t := range tallies {
		out = append(out, AggregateEntry{
			Label:          label,
			Score:          t.score,
			AverageRank:    math.Round(float64(t.positions)/float64(t.count)*100) / 100,
			RankingsCount:  t.count,
			LastPlaceCount: t.lastPlace,
		})
	}

	key := func(e AggregateEntry) string {
		if m, ok := labelToModel[e.Label]; ok {
			return m
		}
		return e.Label
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.LastPlaceCount != b.LastPlaceCount {
			return a.LastPlaceCount < b.LastPlaceCount
		}
		if ka, kb := key(a), key(b); ka != kb {
			return ka < kb
		}
		return a.Label < b.Label
	})

	for i := range out {
		out[i].Model = labelToModel[out[i].Label]
		if i > 0 && out[i].Score == out[i-1].Score {
			out[i].Rank = out[i-1].Rank
		} else {
			out[i].Rank = i + 1
		}
	}
	return out
}
