package resolution

import (
	"context"
	"sort"
	"strings"

	"github.com/xrash/smetrics"

	"collabiq/core/domain"
	"collabiq/internal/logger"
)

const defaultPersonThreshold = 0.70

// usersSource is the subset of workspacecache.Cache the matcher needs.
type usersSource interface {
	Users(ctx context.Context) (map[string]domain.WorkspaceUser, error)
}

// PersonMatcher resolves an extracted person name to a workspace user.
// Unlike CompanyMatcher, it never auto-creates — users are not invented
// (§4.8).
type PersonMatcher struct {
	cache usersSource
	log   *logger.Logger
}

func NewPersonMatcher(cache usersSource) *PersonMatcher {
	return &PersonMatcher{cache: cache, log: logger.Default().WithComponent("resolution")}
}

type candidate struct {
	id, name string
	score    float64
}

// Match resolves name against the users cache, per §4.8.
func (m *PersonMatcher) Match(ctx context.Context, name string, threshold float64) (domain.PersonMatch, error) {
	if threshold <= 0 {
		threshold = defaultPersonThreshold
	}
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return domain.PersonMatch{MatchType: domain.MatchNone, ConfidenceLevel: domain.ConfidenceNone}, nil
	}

	users, err := m.cache.Users(ctx)
	if err != nil {
		return domain.PersonMatch{}, err
	}

	for id, u := range users {
		if u.Name == trimmed {
			userID := id
			return domain.PersonMatch{
				UserID:          &userID,
				UserName:        u.Name,
				Similarity:      1.0,
				MatchType:       domain.MatchExact,
				ConfidenceLevel: domain.ConfidenceHigh,
			}, nil
		}
	}

	var candidates []candidate
	for id, u := range users {
		s := smetrics.JaroWinkler(trimmed, u.Name, 0.7, 4)
		if s >= threshold {
			candidates = append(candidates, candidate{id: id, name: u.Name, score: s})
		}
	}
	if len(candidates) == 0 {
		return domain.PersonMatch{MatchType: domain.MatchNone, ConfidenceLevel: domain.ConfidenceNone}, nil
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	top := candidates[0]

	isAmbiguous := false
	var alternatives []domain.PersonAlternative
	for _, c := range candidates[1:] {
		if c.score >= threshold && top.score-c.score <= 0.10 {
			isAmbiguous = true
			alternatives = append(alternatives, domain.PersonAlternative{UserID: c.id, UserName: c.name, Similarity: c.score})
		}
	}

	if isAmbiguous {
		m.log.WithContext(map[string]any{"name": trimmed, "top_score": top.score}).Warn("ambiguous person match: %d alternatives within 0.10 of top", len(alternatives))
	}

	userID := top.id
	return domain.PersonMatch{
		UserID:          &userID,
		UserName:        top.name,
		Similarity:      top.score,
		MatchType:       domain.MatchFuzzy,
		ConfidenceLevel: personConfidenceLevel(top.score, isAmbiguous),
		IsAmbiguous:     isAmbiguous,
		Alternatives:    alternatives,
	}, nil
}

// personConfidenceLevel implements §4.8's person confidence table for
// fuzzy (non-exact) matches.
func personConfidenceLevel(score float64, ambiguous bool) domain.ConfidenceLevel {
	switch {
	case ambiguous:
		if score >= 0.80 {
			return domain.ConfidenceMedium
		}
		return confidenceForRange(score)
	case score >= 0.90:
		return domain.ConfidenceHigh
	case score >= 0.80:
		return domain.ConfidenceMedium
	case score >= 0.70:
		return domain.ConfidenceLow
	default:
		return domain.ConfidenceNone
	}
}

func confidenceForRange(score float64) domain.ConfidenceLevel {
	switch {
	case score >= 0.70:
		return domain.ConfidenceLow
	default:
		return domain.ConfidenceNone
	}
}
