// Package resolution implements the fuzzy company and person matchers
// (C8): exact match, then Jaro-Winkler similarity against the workspace
// caches, with auto-creation for companies and ambiguity detection for
// people.
package resolution

import (
	"context"
	"strings"

	"github.com/xrash/smetrics"

	"collabiq/core/domain"
	"collabiq/core/port/out"
	"collabiq/internal/logger"
)

const defaultCompanyThreshold = 0.85

// CompanyMatcher resolves an extracted company name to a workspace page,
// auto-creating one when no acceptable match exists (§4.8).
type CompanyMatcher struct {
	cache  companiesSource
	writer out.WorkspaceWriter
	log    *logger.Logger
}

// companiesSource is the subset of workspacecache.Cache the matcher needs,
// narrowed to ease testing with a fake.
type companiesSource interface {
	Companies(ctx context.Context) (map[string]domain.Company, error)
	InvalidateCompanies()
}

func NewCompanyMatcher(cache companiesSource, writer out.WorkspaceWriter) *CompanyMatcher {
	return &CompanyMatcher{cache: cache, writer: writer, log: logger.Default().WithComponent("resolution")}
}

// Match resolves name against the companies cache, per §4.8's algorithm.
func (m *CompanyMatcher) Match(ctx context.Context, name string, autoCreate bool, threshold float64) (domain.CompanyMatch, error) {
	if threshold <= 0 {
		threshold = defaultCompanyThreshold
	}
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return domain.CompanyMatch{MatchType: domain.MatchNone, ConfidenceLevel: domain.ConfidenceNone}, nil
	}

	companies, err := m.cache.Companies(ctx)
	if err != nil {
		return domain.CompanyMatch{}, err
	}

	// Exact, case-sensitive, whitespace-trimmed scan.
	for id, co := range companies {
		if co.CanonicalName == trimmed {
			pageID := id
			return domain.CompanyMatch{
				PageID:          &pageID,
				MatchedName:     co.CanonicalName,
				Similarity:      1.0,
				MatchType:       domain.MatchExact,
				ConfidenceLevel: domain.ConfidenceHigh,
			}, nil
		}
	}

	bestID, bestName, bestScore := argmaxJaroWinkler(trimmed, companies)

	if bestScore >= threshold {
		pageID := bestID
		return domain.CompanyMatch{
			PageID:          &pageID,
			MatchedName:     bestName,
			Similarity:      bestScore,
			MatchType:       domain.MatchFuzzy,
			ConfidenceLevel: companyConfidenceLevel(bestScore),
		}, nil
	}

	if bestScore >= 0.70 {
		m.log.WithContext(map[string]any{"name": trimmed, "similarity": bestScore}).Warn("low-confidence company match below auto-create threshold")
	}

	if !autoCreate {
		return domain.CompanyMatch{MatchType: domain.MatchNone, ConfidenceLevel: domain.ConfidenceNone, Similarity: bestScore}, nil
	}

	pageID, err := m.writer.CreateCompany(ctx, trimmed)
	if err != nil {
		return domain.CompanyMatch{}, err
	}
	m.cache.InvalidateCompanies()

	return domain.CompanyMatch{
		PageID:          &pageID,
		MatchedName:     trimmed,
		Similarity:      1.0,
		MatchType:       domain.MatchCreated,
		ConfidenceLevel: domain.ConfidenceHigh,
		WasCreated:      true,
	}, nil
}

func argmaxJaroWinkler(target string, companies map[string]domain.Company) (id, name string, score float64) {
	for cid, co := range companies {
		s := smetrics.JaroWinkler(target, co.CanonicalName, 0.7, 4)
		if s > score {
			id, name, score = cid, co.CanonicalName, s
		}
	}
	return
}

// companyConfidenceLevel implements §4.8's company confidence table for
// non-exact matches.
func companyConfidenceLevel(score float64) domain.ConfidenceLevel {
	switch {
	case score >= 0.95:
		return domain.ConfidenceHigh
	case score >= 0.85:
		return domain.ConfidenceMedium
	case score >= 0.70:
		return domain.ConfidenceLow
	default:
		return domain.ConfidenceNone
	}
}
