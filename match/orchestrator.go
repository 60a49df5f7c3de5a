// Package match runs the professor-matching pipeline: discover faculty for a
// university, enrich each candidate with scholarly data (cache-first, bounded
// fan-out), score the batch against the student's profile in one comparative
// LLM call, and rank the results deterministically.
//
// Jobs run asynchronously: Start returns a job id immediately and the
// pipeline reports progress through a SQLite-backed job store that callers
// poll with Status. Cancellation is cooperative: Cancel flips the job's
// context and fails the row with ErrKindCancelled; in-flight calls finish
// but their results are discarded.
package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/profmatch/idgen"
	"github.com/hazyhaar/profmatch/profcache"
	"github.com/hazyhaar/profmatch/score"
	"github.com/hazyhaar/profmatch/session"
	"github.com/hazyhaar/profmatch/sources"
)

// DefaultConcurrency bounds the enrichment fan-out.
const DefaultConcurrency = 8

// DefaultCandidateCap limits how many candidates enter enrichment. Large
// directories would otherwise blow up enrichment time and the scoring
// prompt; the comparative scoring call filters further anyway.
const DefaultCandidateCap = 30

// Discoverer finds faculty candidates for a university URL.
type Discoverer interface {
	Discover(ctx context.Context, universityURL string) ([]sources.FacultyCandidate, error)
}

// Enricher fetches scholarly data for one candidate.
type Enricher interface {
	Enrich(ctx context.Context, universityID string, candidate sources.FacultyCandidate) (*sources.EnrichedProfile, error)
}

// Scorer ranks enriched candidates against the student profile.
type Scorer interface {
	Score(ctx context.Context, profile *session.StudentProfile, interests []string, candidates []sources.EnrichedProfile) ([]score.RankedMatch, error)
}

// EventSink receives job lifecycle events. Implementations must be
// best-effort and non-blocking; the pipeline ignores their errors.
type EventSink interface {
	Record(ctx context.Context, jobID, event, detail string)
}

type nopSink struct{}

func (nopSink) Record(context.Context, string, string, string) {}

// Orchestrator coordinates the pipeline.
type Orchestrator struct {
	jobs      *JobStore
	sessions  session.Store
	cache     *profcache.Cache
	discovery Discoverer
	scholar   Enricher
	scorer    Scorer

	ids          idgen.Generator
	logger       *slog.Logger
	events       EventSink
	concurrency  int
	candidateCap int

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConcurrency bounds the enrichment fan-out (default DefaultConcurrency).
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithCandidateCap limits candidates entering enrichment (default
// DefaultCandidateCap).
func WithCandidateCap(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.candidateCap = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithIDGenerator overrides the job id generator.
func WithIDGenerator(g idgen.Generator) Option {
	return func(o *Orchestrator) { o.ids = g }
}

// WithEvents attaches a lifecycle event sink.
func WithEvents(s EventSink) Option {
	return func(o *Orchestrator) { o.events = s }
}

// New creates an Orchestrator.
func New(jobs *JobStore, sessions session.Store, cache *profcache.Cache,
	discovery Discoverer, scholar Enricher, scorer Scorer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		jobs:         jobs,
		sessions:     sessions,
		cache:        cache,
		discovery:    discovery,
		scholar:      scholar,
		scorer:       scorer,
		ids:          idgen.Prefixed("job_", idgen.Default),
		logger:       slog.Default(),
		events:       nopSink{},
		concurrency:  DefaultConcurrency,
		candidateCap: DefaultCandidateCap,
		cancels:      make(map[string]context.CancelFunc),
	}
	for _, op := range opts {
		op(o)
	}
	return o
}

// Start validates the session, creates a pending job, and launches the
// pipeline goroutine. It returns the job id immediately; callers poll Status.
// Interest overrides replace the session's stated interests for this run.
func (o *Orchestrator) Start(ctx context.Context, sessionID, universityURL string, interestOverrides []string) (string, error) {
	if universityURL == "" {
		return "", ErrEmptyUniversityURL
	}

	sess, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("match: start: %w", err)
	}

	interests := interestOverrides
	if len(interests) == 0 {
		interests = sess.Interests
	}
	if len(interests) == 0 && sess.Profile != nil {
		interests = sess.Profile.Interests
	}
	if len(interests) == 0 {
		return "", ErrNoInterests
	}

	job := &Job{
		ID:            o.ids(),
		SessionID:     sessionID,
		UniversityURL: universityURL,
		UniversityID:  sources.UniversityID(universityURL),
	}
	if err := o.jobs.Create(ctx, job); err != nil {
		return "", err
	}
	o.events.Record(ctx, job.ID, "created", universityURL)

	// The pipeline must outlive the HTTP request that started it, but still
	// die with the orchestrator's cancel registry.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.cancelMu.Lock()
	o.cancels[job.ID] = cancel
	o.cancelMu.Unlock()

	go o.run(runCtx, job, sess, interests)

	return job.ID, nil
}

// Status returns a consistent snapshot of the job.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (*Job, error) {
	return o.jobs.Get(ctx, jobID)
}

// Cancel requests cooperative cancellation. It reports true when the job was
// still running and is now failed with ErrKindCancelled; false for unknown
// or already finished jobs. In-flight upstream calls finish on their own,
// but their results are discarded.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) bool {
	o.cancelMu.Lock()
	cancel, running := o.cancels[jobID]
	o.cancelMu.Unlock()

	marked, err := o.jobs.MarkCancelled(ctx, jobID)
	if err != nil {
		o.logger.Warn("cancel: mark failed", "job_id", jobID, "error", err)
	}
	if running {
		cancel()
	}
	if marked {
		o.events.Record(ctx, jobID, "cancelled", "")
	}
	return marked
}

// removeCancel drops the job's cancel func once the pipeline goroutine ends.
func (o *Orchestrator) removeCancel(jobID string) {
	o.cancelMu.Lock()
	if cancel, ok := o.cancels[jobID]; ok {
		cancel()
		delete(o.cancels, jobID)
	}
	o.cancelMu.Unlock()
}

// run executes the pipeline stages for one job.
func (o *Orchestrator) run(ctx context.Context, job *Job, sess *session.Session, interests []string) {
	defer o.removeCancel(job.ID)

	log := o.logger.With("job_id", job.ID, "university_id", job.UniversityID)

	advance := func(from, to Status) bool {
		if ctx.Err() != nil {
			o.finishCancelled(job.ID)
			return false
		}
		ok, err := o.jobs.Transition(ctx, job.ID, from, to)
		if err != nil {
			log.Error("stage transition failed", "from", from, "to", to, "error", err)
			return false
		}
		if !ok {
			// Cancel won the race; nothing left to do.
			log.Debug("stage transition skipped", "from", from, "to", to)
			return false
		}
		o.events.Record(ctx, job.ID, string(to), "")
		return true
	}

	// Discovery.
	if !advance(StatusPending, StatusDiscovering) {
		return
	}
	candidates, err := o.discovery.Discover(ctx, job.UniversityURL)
	if err != nil {
		o.finish(ctx, job.ID, ErrKindDiscoveryFailed, err)
		return
	}
	candidates = dedupCandidates(candidates)
	if len(candidates) > o.candidateCap {
		candidates = candidates[:o.candidateCap]
	}
	if len(candidates) == 0 {
		o.finish(ctx, job.ID, ErrKindDiscoveryFailed, errors.New("no faculty found"))
		return
	}
	if err := o.jobs.SetCandidatesFound(ctx, job.ID, len(candidates)); err != nil {
		log.Warn("progress update failed", "error", err)
	}
	log.Info("discovery complete", "candidates", len(candidates))

	// Enrichment.
	if !advance(StatusDiscovering, StatusEnriching) {
		return
	}
	enriched, failures := o.enrich(ctx, job.ID, job.UniversityID, candidates)
	if ctx.Err() != nil {
		o.finishCancelled(job.ID)
		return
	}
	if len(enriched) == 0 {
		o.finish(ctx, job.ID, ErrKindEnrichmentFailed,
			fmt.Errorf("all %d candidates failed enrichment", len(candidates)))
		return
	}
	log.Info("enrichment complete", "succeeded", len(enriched), "failed", len(failures))

	// Scoring.
	if !advance(StatusEnriching, StatusScoring) {
		return
	}
	if sess.Profile == nil {
		o.finish(ctx, job.ID, ErrKindMissingStudentProfile,
			errors.New("session has no parsed student profile"))
		return
	}
	ranked, err := o.scorer.Score(ctx, sess.Profile, interests, enriched)
	if err != nil {
		if ctx.Err() != nil {
			o.finishCancelled(job.ID)
			return
		}
		o.finish(ctx, job.ID, ErrKindScoringFailed, err)
		return
	}

	// Ranking + completion.
	results := buildResults(ranked, enriched)
	ok, err := o.jobs.Complete(ctx, job.ID, results, failures)
	if err != nil {
		log.Error("completion failed", "error", err)
		return
	}
	if !ok {
		log.Info("job finished elsewhere, discarding results")
		return
	}
	o.events.Record(ctx, job.ID, "done", fmt.Sprintf("%d results", len(results)))
	log.Info("match complete", "results", len(results))
}

// finish marks the job failed unless it already reached a terminal state.
func (o *Orchestrator) finish(ctx context.Context, jobID string, kind ErrorKind, cause error) {
	if ctx.Err() != nil {
		o.finishCancelled(jobID)
		return
	}
	ok, err := o.jobs.Fail(ctx, jobID, kind, cause.Error())
	if err != nil {
		o.logger.Error("fail transition errored", "job_id", jobID, "error", err)
		return
	}
	if ok {
		o.events.Record(ctx, jobID, "failed", string(kind))
		o.logger.Warn("match failed", "job_id", jobID, "kind", kind, "cause", cause)
	}
}

// finishCancelled fails the row with ErrKindCancelled after the pipeline
// observed its context die. Usually a no-op because Cancel already flipped
// the row, but covers orchestrator shutdown.
func (o *Orchestrator) finishCancelled(jobID string) {
	ctx := context.Background()
	if _, err := o.jobs.MarkCancelled(ctx, jobID); err != nil {
		o.logger.Warn("cancel mark failed", "job_id", jobID, "error", err)
	}
	o.logger.Info("match cancelled", "job_id", jobID)
}
