package match

import (
	"sort"

	"github.com/hazyhaar/profmatch/score"
	"github.com/hazyhaar/profmatch/sources"
)

// buildResults joins ranked matches back to their enriched profiles and
// orders them deterministically: descending score, then ascending
// professor id so equal scores always render in the same order.
func buildResults(ranked []score.RankedMatch, enriched []sources.EnrichedProfile) []Result {
	byID := make(map[string]sources.EnrichedProfile, len(enriched))
	for _, e := range enriched {
		byID[e.Candidate.ProfessorID] = e
	}

	results := make([]Result, 0, len(ranked))
	for _, m := range ranked {
		profile, ok := byID[m.ProfessorID]
		if !ok {
			continue
		}
		results = append(results, Result{
			Professor:            profile,
			Score:                m.Score,
			AlignmentReasons:     m.AlignmentReasons,
			SharedKeywords:       m.SharedKeywords,
			RelevantPublications: m.RelevantPublications,
			Recommendation:       m.Recommendation,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Professor.Candidate.ProfessorID < results[j].Professor.Candidate.ProfessorID
	})
	return results
}

// dedupCandidates drops candidates whose names collapse to the same slug.
// University directories frequently list the same professor under several
// sections; the first occurrence wins.
func dedupCandidates(candidates []sources.FacultyCandidate) []sources.FacultyCandidate {
	seen := make(map[string]bool, len(candidates))
	out := candidates[:0]
	for _, c := range candidates {
		key := sources.Slug(c.Name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}
