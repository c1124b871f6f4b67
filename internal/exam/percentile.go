package exam

import "sort"

// LookupPercentile returns the percentile of the highest threshold not
// exceeding score, or 0 when no threshold qualifies.
func LookupPercentile(table []PercentileRow, score float64) float64 {
	if len(table) == 0 {
		return 0
	}
	rows := append([]PercentileRow(nil), table...)
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].MarksThreshold > rows[j].MarksThreshold
	})
	for _, row := range rows {
		if row.MarksThreshold <= score {
			return row.Percentile
		}
	}
	return 0
}

// Rank is one plus the number of prior completed scores strictly above score.
// Equal scores share a rank and ranks are not contiguous.
func Rank(score float64, priorScores []float64) int {
	rank := 1
	for _, p := range priorScores {
		if p > score {
			rank++
		}
	}
	return rank
}
