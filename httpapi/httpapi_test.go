package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/profmatch/cvparse"
	"github.com/hazyhaar/profmatch/match"
	"github.com/hazyhaar/profmatch/session"
)

type fakeMatcher struct {
	startID   string
	startErr  error
	job       *match.Job
	statusErr error
	cancelOK  bool

	gotSessionID string
	gotURL       string
	gotInterests []string
}

func (f *fakeMatcher) Start(ctx context.Context, sessionID, universityURL string, interests []string) (string, error) {
	f.gotSessionID = sessionID
	f.gotURL = universityURL
	f.gotInterests = interests
	return f.startID, f.startErr
}

func (f *fakeMatcher) Status(ctx context.Context, jobID string) (*match.Job, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return f.job, nil
}

func (f *fakeMatcher) Cancel(ctx context.Context, jobID string) bool { return f.cancelOK }

type fakeParser struct {
	profile *session.StudentProfile
	err     error
}

func (f *fakeParser) Parse(ctx context.Context, filename, mimeType string, data []byte) (*session.StudentProfile, error) {
	return f.profile, f.err
}

type fakeExtractor struct {
	interests []string
	err       error
	calls     int
}

func (f *fakeExtractor) ExtractInterests(ctx context.Context, text string) ([]string, error) {
	f.calls++
	return f.interests, f.err
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *fakeMatcher, *fakeParser, session.Store) {
	t.Helper()
	matcher := &fakeMatcher{startID: "job_1"}
	parser := &fakeParser{profile: &session.StudentProfile{RawText: "cv text", Interests: []string{"robotics"}}}
	store := session.NewMemoryStore()
	return New(store, parser, matcher, opts...), matcher, parser, store
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return m
}

func TestSessionCreateAndGet(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	h := srv.Routes()

	rec := doJSON(t, h, http.MethodPost, "/api/sessions",
		map[string]any{"research_interests": []string{"robotics", " ", "control theory"}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	id, _ := body["session_id"].(string)
	if !strings.HasPrefix(id, "sess_") {
		t.Fatalf("session_id = %q", id)
	}
	interests, _ := body["research_interests"].([]any)
	if len(interests) != 2 {
		t.Errorf("interests = %v, want blank-trimmed pair", interests)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/sessions/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	if got := decodeBody(t, rec)["session_id"]; got != id {
		t.Errorf("session_id = %v, want %s", got, id)
	}
}

func TestSessionCreate_EmptyBody(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestSessionGet_NotFound(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rec := doJSON(t, srv.Routes(), http.MethodGet, "/api/sessions/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSessionGet_Expired(t *testing.T) {
	matcher := &fakeMatcher{}
	parser := &fakeParser{}
	store := session.NewMemoryStore(session.WithMemoryTTL(-time.Minute))
	srv := New(store, parser, matcher)

	sess := session.New("sess_old", time.Hour)
	if err := store.Put(context.Background(), sess); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, srv.Routes(), http.MethodGet, "/api/sessions/sess_old", nil)
	if rec.Code != http.StatusGone {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSessionDelete(t *testing.T) {
	srv, _, _, store := newTestServer(t)
	h := srv.Routes()
	if err := store.Put(context.Background(), session.New("sess_1", time.Hour)); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, h, http.MethodDelete, "/api/sessions/sess_1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/api/sessions/sess_1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("after delete status = %d", rec.Code)
	}
}

func uploadRequest(t *testing.T, path, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUpload_AttachesProfile(t *testing.T) {
	srv, _, _, store := newTestServer(t)
	h := srv.Routes()
	if err := store.Put(context.Background(), session.New("sess_1", time.Hour)); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, uploadRequest(t, "/api/sessions/sess_1/upload", "cv.md", []byte("# CV\nrobotics")))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	sess, err := store.Get(context.Background(), "sess_1")
	if err != nil {
		t.Fatal(err)
	}
	if sess.Profile == nil || len(sess.Profile.Interests) != 1 {
		t.Fatalf("profile = %+v", sess.Profile)
	}
	if len(sess.Files) != 1 || sess.Files[0].Filename != "cv.md" {
		t.Errorf("files = %+v", sess.Files)
	}
}

func TestUpload_ExtractorFallback(t *testing.T) {
	extractor := &fakeExtractor{interests: []string{"machine learning"}}
	matcher := &fakeMatcher{}
	parser := &fakeParser{profile: &session.StudentProfile{RawText: "cv text"}}
	store := session.NewMemoryStore()
	srv := New(store, parser, matcher, WithInterestExtractor(extractor))
	if err := store.Put(context.Background(), session.New("sess_1", time.Hour)); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, uploadRequest(t, "/api/sessions/sess_1/upload", "cv.txt", []byte("text")))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if extractor.calls != 1 {
		t.Fatalf("extractor calls = %d", extractor.calls)
	}

	sess, err := store.Get(context.Background(), "sess_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(sess.Profile.Interests) != 1 || sess.Profile.Interests[0] != "machine learning" {
		t.Errorf("interests = %v", sess.Profile.Interests)
	}
}

func TestUpload_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unsupported", fmt.Errorf("cvparse: extract: %w", cvparse.ErrUnsupportedFormat), http.StatusUnsupportedMediaType},
		{"corrupt", fmt.Errorf("cvparse: extract: %w", cvparse.ErrParse), http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matcher := &fakeMatcher{}
			store := session.NewMemoryStore()
			srv := New(store, &fakeParser{err: tt.err}, matcher)
			if err := store.Put(context.Background(), session.New("sess_1", time.Hour)); err != nil {
				t.Fatal(err)
			}

			rec := httptest.NewRecorder()
			srv.Routes().ServeHTTP(rec, uploadRequest(t, "/api/sessions/sess_1/upload", "cv.bin", []byte("x")))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestUpload_MissingFile(t *testing.T) {
	srv, _, _, store := newTestServer(t)
	if err := store.Put(context.Background(), session.New("sess_1", time.Hour)); err != nil {
		t.Fatal(err)
	}
	rec := doJSON(t, srv.Routes(), http.MethodPost, "/api/sessions/sess_1/upload", map[string]string{"no": "file"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMatchStart(t *testing.T) {
	srv, matcher, _, store := newTestServer(t)
	if err := store.Put(context.Background(), session.New("sess_1", time.Hour)); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, srv.Routes(), http.MethodPost, "/api/match", map[string]any{
		"session_id":         "sess_1",
		"university_url":     "https://mit.edu",
		"research_interests": []string{"robotics"},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody(t, rec)["job_id"]; got != "job_1" {
		t.Errorf("job_id = %v", got)
	}
	if matcher.gotSessionID != "sess_1" || matcher.gotURL != "https://mit.edu" {
		t.Errorf("matcher got %q %q", matcher.gotSessionID, matcher.gotURL)
	}
	if len(matcher.gotInterests) != 1 || matcher.gotInterests[0] != "robotics" {
		t.Errorf("interests = %v", matcher.gotInterests)
	}
}

func TestMatchStart_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"session missing", fmt.Errorf("match: start: %w", session.ErrNotFound), http.StatusNotFound},
		{"session expired", fmt.Errorf("match: start: %w", session.ErrExpired), http.StatusGone},
		{"no url", match.ErrEmptyUniversityURL, http.StatusBadRequest},
		{"no interests", match.ErrNoInterests, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, matcher, _, _ := newTestServer(t)
			matcher.startErr = tt.err
			rec := doJSON(t, srv.Routes(), http.MethodPost, "/api/match", map[string]any{
				"session_id":     "sess_1",
				"university_url": "https://mit.edu",
			})
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestMatchStart_MissingSessionID(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rec := doJSON(t, srv.Routes(), http.MethodPost, "/api/match",
		map[string]any{"university_url": "https://mit.edu"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMatchStatus(t *testing.T) {
	srv, matcher, _, _ := newTestServer(t)
	matcher.job = &match.Job{ID: "job_1", Status: match.StatusEnriching,
		Progress: match.Progress{CandidatesFound: 12, EnrichAttempted: 4}}

	rec := doJSON(t, srv.Routes(), http.MethodGet, "/api/match/job_1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "enriching" {
		t.Errorf("status field = %v", body["status"])
	}
}

func TestMatchStatus_NotFound(t *testing.T) {
	srv, matcher, _, _ := newTestServer(t)
	matcher.statusErr = match.ErrJobNotFound
	rec := doJSON(t, srv.Routes(), http.MethodGet, "/api/match/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMatchCancel(t *testing.T) {
	srv, matcher, _, _ := newTestServer(t)
	matcher.cancelOK = true
	rec := doJSON(t, srv.Routes(), http.MethodDelete, "/api/match/job_1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "failed" || body["error_kind"] != "cancelled" {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestMatchCancel_AlreadyDone(t *testing.T) {
	srv, matcher, _, _ := newTestServer(t)
	matcher.cancelOK = false
	matcher.job = &match.Job{ID: "job_1", Status: match.StatusDone}
	rec := doJSON(t, srv.Routes(), http.MethodDelete, "/api/match/job_1", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMatchCancel_Unknown(t *testing.T) {
	srv, matcher, _, _ := newTestServer(t)
	matcher.cancelOK = false
	matcher.statusErr = match.ErrJobNotFound
	rec := doJSON(t, srv.Routes(), http.MethodDelete, "/api/match/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rec := doJSON(t, srv.Routes(), http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
