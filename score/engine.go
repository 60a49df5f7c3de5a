// Package score ranks enriched professor profiles against a student's
// interests with a single comparative LLM call. The whole candidate batch
// goes into one prompt so the model can rank professors relative to each
// other instead of scoring them in isolation.
package score

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/hazyhaar/profmatch/session"
	"github.com/hazyhaar/profmatch/sources"
)

// ErrNoValidMatches is returned when the model reply contains no entry that
// survives validation.
var ErrNoValidMatches = errors.New("score: no valid matches in model response")

// RankedMatch is one scored professor. Score is normalized to [0,1].
type RankedMatch struct {
	ProfessorID          string   `json:"professor_id"`
	Score                float64  `json:"score"`
	AlignmentReasons     []string `json:"alignment_reasons,omitempty"`
	SharedKeywords       []string `json:"shared_keywords,omitempty"`
	RelevantPublications []string `json:"relevant_publications,omitempty"`
	Recommendation       string   `json:"recommendation,omitempty"`
}

// Engine builds the comparative prompt and validates the model's reply.
type Engine struct {
	gen         contentGenerator
	logger      *slog.Logger
	maxResults  int
	maxRetries  int
	baseBackoff time.Duration
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMaxResults caps how many ranked matches are kept (default 10).
func WithMaxResults(n int) EngineOption {
	return func(e *Engine) { e.maxResults = n }
}

// WithRetries sets how many times a failed model call is retried and the
// initial backoff between attempts.
func WithRetries(n int, backoff time.Duration) EngineOption {
	return func(e *Engine) {
		e.maxRetries = n
		e.baseBackoff = backoff
	}
}

// WithEngineLogger sets a custom logger.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an Engine over a content generator.
func NewEngine(gen contentGenerator, opts ...EngineOption) *Engine {
	e := &Engine{
		gen:         gen,
		logger:      slog.Default(),
		maxResults:  10,
		maxRetries:  2,
		baseBackoff: 2 * time.Second,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// candidateSummary is the per-professor view embedded in the prompt. Kept
// small so large universities still fit the context window.
type candidateSummary struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Title         string   `json:"title,omitempty"`
	Department    string   `json:"department,omitempty"`
	ResearchAreas []string `json:"research_areas,omitempty"`
	RecentPapers  []string `json:"recent_papers,omitempty"`
	HIndex        int      `json:"h_index,omitempty"`
	CitationCount int      `json:"citation_count,omitempty"`
}

// Score ranks the candidates against the student's interests. The call is
// retried on model errors; a reply with zero valid entries fails immediately
// with ErrNoValidMatches since retrying a parseable-but-useless reply rarely
// helps.
func (e *Engine) Score(ctx context.Context, profile *session.StudentProfile, interests []string, candidates []sources.EnrichedProfile) ([]RankedMatch, error) {
	if len(candidates) == 0 {
		return nil, ErrNoValidMatches
	}

	prompt, err := e.buildPrompt(profile, interests, candidates)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		known[c.Candidate.ProfessorID] = true
	}

	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			wait := e.baseBackoff * (1 << uint(attempt-1))
			e.logger.WarnContext(ctx, "retrying scoring call",
				"attempt", attempt, "backoff_ms", wait.Milliseconds(), "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		reply, err := e.gen.GenerateContent(ctx, prompt)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, err
			}
			continue
		}

		matches, err := e.parseReply(reply, known)
		if err != nil {
			return nil, err
		}
		return matches, nil
	}

	return nil, fmt.Errorf("score: model call failed after %d attempts: %w", e.maxRetries+1, lastErr)
}

// buildPrompt assembles the single comparative prompt.
func (e *Engine) buildPrompt(profile *session.StudentProfile, interests []string, candidates []sources.EnrichedProfile) (string, error) {
	summaries := make([]candidateSummary, 0, len(candidates))
	for _, c := range candidates {
		s := candidateSummary{
			ID:            c.Candidate.ProfessorID,
			Name:          c.Candidate.Name,
			Title:         c.Candidate.Title,
			Department:    c.Candidate.Department,
			ResearchAreas: capList(c.ResearchInterests, 5),
			HIndex:        c.HIndex,
			CitationCount: c.CitationCount,
		}
		for _, pub := range c.Publications {
			if len(s.RecentPapers) >= 5 {
				break
			}
			s.RecentPapers = append(s.RecentPapers, pub.Title)
		}
		summaries = append(summaries, s)
	}

	summariesJSON, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return "", fmt.Errorf("score: marshal candidate summaries: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("Analyze professors and rank by research alignment with student interests.\n\n")
	sb.WriteString("Student Research Interests: ")
	sb.WriteString(strings.Join(interests, ", "))
	sb.WriteString("\n")

	if profile != nil {
		sb.WriteString("\nStudent Background:\n")
		if len(profile.Education) > 0 {
			sb.WriteString("- Education: " + strings.Join(profile.Education, "; ") + "\n")
		}
		if len(profile.Skills) > 0 {
			sb.WriteString("- Skills: " + strings.Join(profile.Skills, ", ") + "\n")
		}
		if excerpt := capText(profile.RawText, 2000); excerpt != "" {
			sb.WriteString("- CV excerpt: " + excerpt + "\n")
		}
	}

	sb.WriteString("\nProfessors:\n")
	sb.Write(summariesJSON)
	sb.WriteString(fmt.Sprintf(`

Return JSON array (top %d max) with:
- professor_id: string
- match_score: number (0-100)
- alignment_reasons: string[] (2-3 specific reasons why this professor is a good match)
- relevant_publication_titles: string[] (papers most aligned with the student's interests)
- shared_keywords: string[] (research topics shared between student and professor)
- recommendation_text: string (2-3 sentences on why this professor fits)

Return ONLY valid JSON array, no other text.`, e.maxResults))

	return sb.String(), nil
}

// rawMatch is one loosely-typed entry from the model reply.
type rawMatch struct {
	ProfessorID        string          `json:"professor_id"`
	MatchScore         json.RawMessage `json:"match_score"`
	AlignmentReasons   []string        `json:"alignment_reasons"`
	RelevantPubTitles  []string        `json:"relevant_publication_titles"`
	SharedKeywords     []string        `json:"shared_keywords"`
	RecommendationText string          `json:"recommendation_text"`
}

// parseReply extracts the JSON array from the model reply and validates each
// entry. Malformed entries and unknown professor ids are dropped; zero
// survivors is ErrNoValidMatches.
func (e *Engine) parseReply(reply string, known map[string]bool) ([]RankedMatch, error) {
	arr, ok := extractJSONArray(reply)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON array in reply", ErrNoValidMatches)
	}

	var raw []rawMatch
	if err := json.Unmarshal([]byte(arr), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoValidMatches, err)
	}

	var matches []RankedMatch
	for _, m := range raw {
		if len(matches) >= e.maxResults {
			break
		}
		if !known[m.ProfessorID] {
			e.logger.Debug("dropping match for unknown professor", "professor_id", m.ProfessorID)
			continue
		}
		s, ok := coerceScore(m.MatchScore)
		if !ok {
			e.logger.Debug("dropping match with unusable score", "professor_id", m.ProfessorID)
			continue
		}
		matches = append(matches, RankedMatch{
			ProfessorID:          m.ProfessorID,
			Score:                s,
			AlignmentReasons:     m.AlignmentReasons,
			SharedKeywords:       m.SharedKeywords,
			RelevantPublications: m.RelevantPubTitles,
			Recommendation:       m.RecommendationText,
		})
	}

	if len(matches) == 0 {
		return nil, ErrNoValidMatches
	}
	return matches, nil
}

// ExtractInterests asks the model for 3-7 research areas given free text
// (CV raw text or publication titles). Used by the upload flow when the
// parser finds no explicit interests section.
func (e *Engine) ExtractInterests(ctx context.Context, text string) ([]string, error) {
	text = capText(text, 4000)
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("score: no text to extract interests from")
	}

	prompt := `From this text, extract 3-7 research areas/topics.
Return ONLY a JSON array of short strings, no other text.

Text:
` + text

	reply, err := e.gen.GenerateContent(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("score: extract interests: %w", err)
	}

	arr, ok := extractJSONArray(reply)
	if !ok {
		return nil, fmt.Errorf("score: extract interests: no JSON array in reply")
	}
	var interests []string
	if err := json.Unmarshal([]byte(arr), &interests); err != nil {
		return nil, fmt.Errorf("score: extract interests: %w", err)
	}

	out := interests[:0]
	for _, it := range interests {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out, nil
}

// extractJSONArray finds the outermost [...] in a reply, tolerating markdown
// code fences and prose around it.
func extractJSONArray(reply string) (string, bool) {
	reply = strings.TrimSpace(reply)
	if after, found := strings.CutPrefix(reply, "```json"); found {
		reply = after
	} else if after, found := strings.CutPrefix(reply, "```"); found {
		reply = after
	}
	reply = strings.TrimSuffix(strings.TrimSpace(reply), "```")

	start := strings.IndexByte(reply, '[')
	end := strings.LastIndexByte(reply, ']')
	if start < 0 || end <= start {
		return "", false
	}
	return reply[start : end+1], true
}

// coerceScore accepts a number or numeric string, normalizes the original
// 0-100 scale to [0,1], and clamps the result.
func coerceScore(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	}

	if f > 1 {
		f /= 100
	}
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	return f, true
}

func capList(list []string, n int) []string {
	if len(list) > n {
		return list[:n]
	}
	return list
}

func capText(text string, n int) string {
	text = strings.TrimSpace(text)
	if len(text) > n {
		return text[:n]
	}
	return text
}
