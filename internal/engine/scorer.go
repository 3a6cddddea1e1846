package engine

import (
	"strings"
)

// scoreSensitivePrefixes mark endpoints whose compromise is costlier than
// the rest of the surface; requests against them score higher.
var scoreSensitivePrefixes = []string{"/api/auth", "/api/payment", "/api/admin", "/dashboard/admin"}

const (
	defaultThreatWeight = 10
	mutatingMethodBonus = 5
	sensitivePathBonus  = 10
	correlationTagCount = 2
	maxRiskScore        = 100
)

// Score converts a matched tag set plus method and path context into a
// risk score clamped to [0, 100]. It is pure: the same inputs always
// produce the same score.
func Score(threats []Threat, method, path string) int {
	score := 0
	for _, t := range threats {
		if w, ok := threatWeights[t]; ok {
			score += w
		} else {
			score += defaultThreatWeight
		}
	}

	switch method {
	case "POST", "PUT", "DELETE":
		score += mutatingMethodBonus
	}

	for _, prefix := range scoreSensitivePrefixes {
		if strings.HasPrefix(path, prefix) {
			score += sensitivePathBonus
			break
		}
	}

	// Correlated signals are disproportionately suspicious.
	if len(threats) > correlationTagCount {
		score = score * 3 / 2
	}

	if score > maxRiskScore {
		score = maxRiskScore
	}
	return score
}
