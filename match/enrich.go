package match

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/hazyhaar/profmatch/profcache"
	"github.com/hazyhaar/profmatch/sources"
)

// enrich runs the bounded fan-out over all candidates: cache lookup first,
// scholar call on miss. One candidate failing never aborts the batch; each
// failure lands in the side list and progress counters update after every
// candidate. Admission stops as soon as ctx dies, but goroutines already
// running are left to finish.
func (o *Orchestrator) enrich(ctx context.Context, jobID, universityID string, candidates []sources.FacultyCandidate) ([]sources.EnrichedProfile, []CandidateFailure) {
	sem := make(chan struct{}, o.concurrency)
	var wg sync.WaitGroup

	var mu sync.Mutex
	var enriched []sources.EnrichedProfile
	var failures []CandidateFailure
	attempted := 0

	for _, cand := range candidates {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return enriched, failures
		}

		wg.Add(1)
		go func(c sources.FacultyCandidate) {
			defer wg.Done()
			defer func() { <-sem }()

			profile, err := o.enrichOne(ctx, universityID, c)

			mu.Lock()
			attempted++
			if err != nil {
				failures = append(failures, CandidateFailure{
					ProfessorID: c.ProfessorID,
					Name:        c.Name,
					Reason:      err.Error(),
				})
			} else {
				enriched = append(enriched, *profile)
			}
			// Write the counters while still holding the lock so a slower
			// goroutine can't overwrite newer progress with a stale snapshot.
			if err := o.jobs.SetEnrichProgress(ctx, jobID, attempted, len(enriched), len(failures)); err != nil {
				o.logger.Debug("enrich progress update failed", "job_id", jobID, "error", err)
			}
			mu.Unlock()
		}(cand)
	}

	wg.Wait()
	return enriched, failures
}

// enrichOne resolves one candidate cache-first. A scholar ErrNotFound is a
// soft miss: the candidate stays in the batch with directory data only,
// since the comparative scoring call can still rank them. Cache writes are
// racy by design; duplicate writers hold equivalent data.
func (o *Orchestrator) enrichOne(ctx context.Context, universityID string, c sources.FacultyCandidate) (*sources.EnrichedProfile, error) {
	if cached, err := o.cache.Get(ctx, universityID, c.ProfessorID); err == nil {
		var profile sources.EnrichedProfile
		if err := json.Unmarshal(cached, &profile); err == nil {
			return &profile, nil
		}
		// Undecodable entry: fall through and refresh it.
	} else if !errors.Is(err, profcache.ErrMiss) {
		o.logger.Warn("cache read failed", "professor_id", c.ProfessorID, "error", err)
	}

	profile, err := o.scholar.Enrich(ctx, universityID, c)
	if errors.Is(err, sources.ErrNotFound) {
		profile = &sources.EnrichedProfile{Candidate: c}
	} else if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(profile); err == nil {
		if err := o.cache.Put(ctx, universityID, c.ProfessorID, data); err != nil {
			o.logger.Warn("cache write failed", "professor_id", c.ProfessorID, "error", err)
		}
	}
	return profile, nil
}
