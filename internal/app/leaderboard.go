package app

import (
	"sort"

	"live-quiz-service/internal/domain"
)

// BuildLeaderboard ranks players by score. Equal scores keep roster order.
func BuildLeaderboard(players []domain.Player) []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, 0, len(players))
	for _, p := range players {
		entry := domain.LeaderboardEntry{
			PlayerID:    p.ID,
			DisplayName: p.DisplayName,
			Avatar:      p.Avatar,
			Score:       p.Score,
		}
		if n := len(p.Answers); n > 0 {
			last := p.Answers[n-1]
			entry.LastAnswerCorrect = last.IsCorrect
			entry.LastPointsEarned = last.PointsEarned
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}
