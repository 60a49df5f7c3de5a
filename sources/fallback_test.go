package sources

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

const directoryHTML = `<html><body>
<div class="faculty-member">
  <h3><a href="/people/chen">Jane Chen</a></h3>
  <p class="title">Professor of Robotics</p>
</div>
<div class="faculty-member">
  <h3><a href="/people/smith">John Smith</a></h3>
  <p class="title">Assistant Professor</p>
</div>
<div class="faculty-member">
  <h3><a href="/people/chen">Jane Chen</a></h3>
</div>
</body></html>`

func TestScrapeDirectory_KnownMarkup(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(directoryHTML))
	if err != nil {
		t.Fatal(err)
	}

	got := scrapeDirectory(doc, "https://cs.mit.edu/people", bluemonday.StrictPolicy())
	if len(got) != 2 {
		t.Fatalf("candidates = %d, want 2 (duplicate deduped)", len(got))
	}
	if got[0].Name != "Jane Chen" || got[0].ProfessorID != "jane-chen" {
		t.Errorf("candidate 0 = %+v", got[0])
	}
	if got[0].Title != "Professor of Robotics" {
		t.Errorf("title = %q", got[0].Title)
	}
	if got[0].ProfileURL != "https://cs.mit.edu/people/chen" {
		t.Errorf("profile url = %q", got[0].ProfileURL)
	}
}

func TestScrapeDirectory_AnchorFallback(t *testing.T) {
	html := `<html><body>
<a href="/a">Jane Chen</a>
<a href="/b">Click here</a>
<a href="/c">About</a>
<a href="/d">John Q. Smith</a>
</body></html>`

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatal(err)
	}

	got := scrapeDirectory(doc, "https://example.edu", bluemonday.StrictPolicy())
	if len(got) != 2 {
		t.Fatalf("candidates = %v, want Jane Chen and John Q. Smith only", got)
	}
}

func TestDiscoveryFallback_EndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(directoryHTML))
	}))
	defer srv.Close()

	h := DiscoveryFallback(srv.Client(), nil)
	payload, _ := json.Marshal(discoverRequest{UniversityURL: srv.URL})

	resp, err := h(context.Background(), payload)
	if err != nil {
		t.Fatalf("fallback: %v", err)
	}

	var env discoverResponse
	if err := json.Unmarshal(resp, &env); err != nil {
		t.Fatal(err)
	}
	if len(env.Faculty) != 2 {
		t.Fatalf("faculty = %d, want 2", len(env.Faculty))
	}
}

func TestDiscoveryFallback_MissingURL(t *testing.T) {
	h := DiscoveryFallback(nil, nil)
	if _, err := h(context.Background(), []byte(`{}`)); err == nil {
		t.Fatal("expected error for missing university_url")
	}
}

func TestResolveURL(t *testing.T) {
	tests := []struct{ base, href, want string }{
		{"https://cs.mit.edu/people", "/faculty/chen", "https://cs.mit.edu/faculty/chen"},
		{"https://cs.mit.edu/people", "chen.html", "https://cs.mit.edu/people/chen.html"},
		{"https://cs.mit.edu", "https://other.edu/x", "https://other.edu/x"},
		{"https://cs.mit.edu", "", ""},
	}
	for _, tt := range tests {
		if got := resolveURL(tt.base, tt.href); got != tt.want {
			t.Errorf("resolveURL(%q, %q) = %q, want %q", tt.base, tt.href, got, tt.want)
		}
	}
}

func TestSplitItems(t *testing.T) {
	got := splitItems("machine learning, robotics; control\n- optimization")
	want := []string{"machine learning", "robotics", "control", "optimization"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item %d = %q, want %q", i, got[i], want[i])
		}
	}
}
