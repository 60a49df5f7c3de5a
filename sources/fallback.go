package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/profmatch/connectivity"
	"github.com/hazyhaar/profmatch/cvparse"
	"github.com/hazyhaar/profmatch/session"
)

// maxDirectoryBody caps how much of a people-directory page is read (5 MiB).
const maxDirectoryBody int64 = 5 << 20

// directorySelectors are tried in order against the fetched page. Most
// university people directories use one of these markup conventions.
var directorySelectors = []string{
	".faculty-member", ".faculty .person", ".person", ".people-item",
	".staff-member", ".directory-entry", ".profile-card",
	"ul.faculty li", "ul.people li", "table.faculty tr",
}

// nameRe matches "Firstname Lastname" style anchor text (2-4 capitalized
// words, allowing initials and hyphenated names).
var nameRe = regexp.MustCompile(`^(?:[A-Z][\w'.-]*\s+){1,3}[A-Z][\w'.-]*$`)

// DiscoveryFallback returns a local handler that scrapes a university
// people-directory page directly. It is registered under ServiceDiscover and
// used when no remote discovery route is configured.
func DiscoveryFallback(client *http.Client, logger *slog.Logger) connectivity.Handler {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	textPolicy := bluemonday.StrictPolicy()

	return func(ctx context.Context, payload []byte) ([]byte, error) {
		var req discoverRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("sources: discovery fallback: bad request: %w", err)
		}
		if req.UniversityURL == "" {
			return nil, fmt.Errorf("sources: discovery fallback: university_url required")
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.UniversityURL, nil)
		if err != nil {
			return nil, fmt.Errorf("sources: discovery fallback: %w", err)
		}
		httpReq.Header.Set("User-Agent", "profmatch/1.0")

		resp, err := client.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("sources: discovery fallback: fetch: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("sources: discovery fallback: status %d", resp.StatusCode)
		}

		doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxDirectoryBody))
		if err != nil {
			return nil, fmt.Errorf("sources: discovery fallback: parse html: %w", err)
		}

		candidates := scrapeDirectory(doc, req.UniversityURL, textPolicy)
		logger.InfoContext(ctx, "discovery fallback scraped page",
			"university_url", req.UniversityURL, "candidates", len(candidates))

		return json.Marshal(discoverResponse{Faculty: candidates})
	}
}

// scrapeDirectory extracts faculty candidates from a directory page, first
// via known directory markup, then by scanning name-like anchors.
func scrapeDirectory(doc *goquery.Document, baseURL string, policy *bluemonday.Policy) []FacultyCandidate {
	seen := make(map[string]bool)
	var candidates []FacultyCandidate

	add := func(name, title, href string) {
		name = strings.TrimSpace(policy.Sanitize(name))
		if name == "" || !nameRe.MatchString(name) {
			return
		}
		id := Slug(name)
		if seen[id] {
			return
		}
		seen[id] = true
		candidates = append(candidates, FacultyCandidate{
			ProfessorID: id,
			Name:        name,
			Title:       strings.TrimSpace(policy.Sanitize(title)),
			ProfileURL:  resolveURL(baseURL, href),
		})
	}

	for _, sel := range directorySelectors {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			name := s.Find("h2, h3, h4, .name, a").First().Text()
			title := s.Find(".title, .position, .role").First().Text()
			href, _ := s.Find("a").First().Attr("href")
			add(name, title, href)
		})
		if len(candidates) > 0 {
			return candidates
		}
	}

	// No recognizable directory markup: fall back to name-like links.
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		add(s.Text(), "", href)
	})
	return candidates
}

// resolveURL makes relative profile links absolute against the page URL.
func resolveURL(base, href string) string {
	if href == "" || strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	u := strings.TrimRight(base, "/")
	if strings.HasPrefix(href, "/") {
		// Keep scheme and host only.
		if idx := strings.Index(u, "://"); idx >= 0 {
			if slash := strings.IndexByte(u[idx+3:], '/'); slash >= 0 {
				u = u[:idx+3+slash]
			}
		}
		return u + href
	}
	return u + "/" + href
}

// sectionHeadings maps CV heading keywords to profile fields.
var (
	interestHeadingRe  = regexp.MustCompile(`(?i)research\s+interests?|interests?`)
	educationHeadingRe = regexp.MustCompile(`(?i)education|academic\s+background`)
	skillsHeadingRe    = regexp.MustCompile(`(?i)skills?|technologies|competenc`)
)

// DocumentFallback returns a local handler that parses uploaded CVs with the
// in-process cvparse extractor and derives profile fields from section
// headings. Registered under ServiceCVParse; a remote document server with
// LLM extraction takes over when routed.
func DocumentFallback(parser *cvparse.Parser, logger *slog.Logger) connectivity.Handler {
	if parser == nil {
		parser = cvparse.New()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return func(ctx context.Context, payload []byte) ([]byte, error) {
		var req parseRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("sources: document fallback: bad request: %w", err)
		}

		doc, err := parser.Extract(ctx, req.Filename, req.MimeType, req.Data)
		if err != nil {
			return nil, err
		}

		profile := profileFromDocument(doc)
		logger.DebugContext(ctx, "document fallback parsed upload",
			"filename", req.Filename,
			"interests", len(profile.Interests),
			"chars", len(profile.RawText))

		return json.Marshal(profile)
	}
}

// profileFromDocument derives a StudentProfile from extracted sections by
// matching heading keywords and splitting the following body text.
func profileFromDocument(doc *cvparse.Document) *session.StudentProfile {
	profile := &session.StudentProfile{RawText: doc.RawText}

	var target *[]string
	for _, s := range doc.Sections {
		if s.Type == "heading" {
			switch {
			case interestHeadingRe.MatchString(s.Title):
				target = &profile.Interests
			case educationHeadingRe.MatchString(s.Title):
				target = &profile.Education
			case skillsHeadingRe.MatchString(s.Title):
				target = &profile.Skills
			default:
				target = nil
			}
			continue
		}
		if target == nil {
			continue
		}
		for _, item := range splitItems(s.Text) {
			*target = append(*target, item)
		}
	}
	return profile
}

// splitItems breaks list-like body text on commas, semicolons, and bullet
// markers.
func splitItems(text string) []string {
	var items []string
	for _, part := range strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n' || r == '•'
	}) {
		part = strings.TrimSpace(strings.TrimLeft(part, "-* "))
		if part != "" {
			items = append(items, part)
		}
	}
	return items
}
