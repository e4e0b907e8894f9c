package stops

import (
	"fmt"
	"sort"
	"strings"
)

// Score components. An exact name match outweighs every other bonus
// combined, including the landmark boosts accepted by Validate.
const (
	baseScore         = 1
	ExactNameBonus    = 1000
	NamePrefixBonus   = 50
	NameContainsBonus = 25
	HomeRegionBonus   = 5
	IndicatorBonus    = 2
	CodeBonus         = 2

	DefaultSearchLimit = 50
	MaxSearchLimit     = 120
)

// Landmark lifts stops whose name contains NameContains when the query
// contains Query. Both are compared case-insensitively.
type Landmark struct {
	Query        string
	NameContains string
	Bonus        int
}

// RankingPolicy carries the tunable parts of search ranking.
type RankingPolicy struct {
	// HomeRegion is a locality token that earns a small tiebreak bonus.
	HomeRegion string
	Landmarks  []Landmark
}

// Validate rejects landmark boosts large enough to lift a partial match
// above an exact name match.
func (p RankingPolicy) Validate() error {
	ceiling := ExactNameBonus - HomeRegionBonus - IndicatorBonus - CodeBonus
	total := 0
	for _, l := range p.Landmarks {
		if strings.TrimSpace(l.Query) == "" || strings.TrimSpace(l.NameContains) == "" {
			return fmt.Errorf("landmark needs both query and name, got %q/%q", l.Query, l.NameContains)
		}
		if l.Bonus <= 0 {
			return fmt.Errorf("landmark %q has non-positive bonus %d", l.Query, l.Bonus)
		}
		total += l.Bonus
	}
	if total >= ceiling {
		return fmt.Errorf("landmark bonuses total %d, must stay below %d", total, ceiling)
	}
	return nil
}

// Match is a search candidate and its score.
type Match struct {
	Stop  Stop
	Score int
}

// Rank scores every stop matching query and returns them ordered by score,
// highest first. Equal scores keep source order. An empty query matches
// nothing.
func (d *Directory) Rank(query string, policy RankingPolicy) []Match {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return []Match{}
	}
	home := strings.ToLower(strings.TrimSpace(policy.HomeRegion))

	matches := make([]Match, 0)
	for _, stop := range d.stops {
		if score, ok := scoreStop(stop, q, home, policy.Landmarks); ok {
			matches = append(matches, Match{Stop: stop, Score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}

// Search returns at most limit ranked stops. limit defaults to
// DefaultSearchLimit and is capped at MaxSearchLimit.
func (d *Directory) Search(query string, limit int, policy RankingPolicy) []Stop {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	limit = min(limit, MaxSearchLimit)

	matches := d.Rank(query, policy)
	if len(matches) > limit {
		matches = matches[:limit]
	}

	out := make([]Stop, len(matches))
	for i, m := range matches {
		out[i] = m.Stop
	}
	return out
}

func scoreStop(stop Stop, q, home string, landmarks []Landmark) (int, bool) {
	name := strings.ToLower(stop.CommonName)
	locality := strings.ToLower(stop.LocalityName)
	indicator := strings.ToLower(stop.Indicator)
	code := strings.ToLower(stop.AtcoCode)

	nameHit := strings.Contains(name, q)
	indicatorHit := strings.Contains(indicator, q)
	codeHit := strings.Contains(code, q)
	if !nameHit && !indicatorHit && !codeHit && !strings.Contains(locality, q) {
		return 0, false
	}

	score := baseScore
	if name == q {
		score += ExactNameBonus
	}
	if strings.HasPrefix(name, q) {
		score += NamePrefixBonus
	}
	if nameHit {
		score += NameContainsBonus
	}
	if home != "" && strings.Contains(locality, home) {
		score += HomeRegionBonus
	}
	if indicatorHit {
		score += IndicatorBonus
	}
	if codeHit {
		score += CodeBonus
	}
	for _, l := range landmarks {
		if strings.Contains(q, strings.ToLower(l.Query)) && strings.Contains(name, strings.ToLower(l.NameContains)) {
			score += l.Bonus
		}
	}
	return score, true
}
