package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-social-crawler/internal/adapter/adaptertest"
	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
)

var base = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

func linkJSON(id, title, selftext string, created time.Time) string {
	return fmt.Sprintf(`{"kind":"t3","data":{"id":%q,"title":%q,"selftext":%q,"author":"bob","author_fullname":"t2_bob",
		"permalink":"/r/defi/comments/%s/x/","url":"https://www.reddit.com/r/defi/comments/%s/x/","score":120,"num_comments":14,
		"created_utc":%d}}`, id, title, selftext, id, id, created.Unix())
}

func listingJSON(children ...string) string {
	return `{"kind":"Listing","data":{"children":[` + strings.Join(children, ",") + `]}}`
}

type fakeReddit struct {
	t          *testing.T
	mu         sync.Mutex
	tokens     atomic.Int32
	reject     int
	listings   map[string]string
	searchArgs []string
}

func (f *fakeReddit) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/v1/access_token" {
		user, pass, ok := r.BasicAuth()
		assert.True(f.t, ok)
		assert.Equal(f.t, "id", user)
		assert.Equal(f.t, "secret", pass)
		assert.NoError(f.t, r.ParseForm())
		assert.Equal(f.t, "client_credentials", r.PostForm.Get("grant_type"))
		n := f.tokens.Add(1)
		_, _ = fmt.Fprintf(w, `{"access_token":"tok%d","expires_in":3600}`, n)
		return
	}
	assert.Equal(f.t, "test-agent", r.Header.Get("User-Agent"))
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject > 0 {
		f.reject--
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if r.URL.Path == "/search" {
		q := r.URL.Query()
		assert.Equal(f.t, "link", q.Get("type"))
		assert.Equal(f.t, "new", q.Get("sort"))
		assert.Equal(f.t, "false", q.Get("restrict_sr"))
		f.searchArgs = append(f.searchArgs, q.Get("q")+"/"+q.Get("limit"))
		body, ok := f.listings["search:"+q.Get("q")]
		if !ok {
			body = listingJSON()
		}
		_, _ = w.Write([]byte(body))
		return
	}
	body, ok := f.listings[r.URL.Path]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	_, _ = w.Write([]byte(body))
}

func newAdapter(t *testing.T, f *fakeReddit, subreddits ...string) (*Adapter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	env := adaptertest.NewGate(t)
	a := New(Config{
		ClientID:     "id",
		ClientSecret: "secret",
		UserAgent:    "test-agent",
		BaseURL:      srv.URL,
		AuthURL:      srv.URL + "/api/v1/access_token",
		Subreddits:   subreddits,
	}, env.Gate)
	return a, srv
}

func TestCrawlSearchesThenScansSubreddits(t *testing.T) {
	f := &fakeReddit{t: t, listings: map[string]string{
		"search:defi hack": listingJSON(linkJSON("a1", "DeFi hack drains pool", "Funds lost", base.Add(-10*time.Minute))),
		"/r/defi/new": listingJSON(
			linkJSON("a1", "DeFi hack drains pool", "Funds lost", base.Add(-10*time.Minute)),
			linkJSON("b2", "Another defi hack", "", base.Add(-20*time.Minute)),
			linkJSON("c3", "Unrelated", "gm", base.Add(-5*time.Minute)),
			linkJSON("d4", "Old defi hack", "", base.Add(-3*time.Hour)),
		),
	}}
	a, _ := newAdapter(t, f, "defi", "missing")

	posts, err := a.Crawl(context.Background(), []string{"defi hack"}, 10, base.Add(-time.Hour))
	require.NoError(t, err)

	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.ExternalID)
	}
	assert.Equal(t, []string{"a1", "b2"}, ids)
	assert.Equal(t, []string{"defi hack/10"}, f.searchArgs)

	first := posts[0]
	assert.Equal(t, "DeFi hack drains pool\n\nFunds lost", first.Content)
	assert.Equal(t, "https://reddit.com/r/defi/comments/a1/x/", first.SourceURL)
	assert.Equal(t, "t2_bob", first.AuthorID)
	assert.EqualValues(t, 120, first.EngagementCount)
	assert.EqualValues(t, 14, first.CommentCount)
	assert.True(t, first.PublishedAt.Equal(base.Add(-10*time.Minute)))
	assert.EqualValues(t, 1, f.tokens.Load(), "token is cached across calls")
}

func TestSearchLimitPerKeyword(t *testing.T) {
	f := &fakeReddit{t: t, listings: map[string]string{}}
	a, _ := newAdapter(t, f)
	_, err := a.Search(context.Background(), []string{"btc", "eth", "sol"}, 100, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []string{"btc/25", "eth/25", "sol/25"}, f.searchArgs)

	f.searchArgs = nil
	_, err = a.Search(context.Background(), []string{"btc", "eth", "sol"}, 10, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []string{"btc/4", "eth/4", "sol/4"}, f.searchArgs)
}

func TestUnauthorizedRefreshesTokenOnce(t *testing.T) {
	f := &fakeReddit{t: t, reject: 1, listings: map[string]string{
		"/user/bob/submitted": listingJSON(linkJSON("u1", "my post", "body", base)),
	}}
	a, _ := newAdapter(t, f)

	posts, err := a.UserPosts(context.Background(), "u/bob", 5, time.Time{})
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.EqualValues(t, 2, f.tokens.Load())
}

func TestSecondUnauthorizedIsAuth(t *testing.T) {
	f := &fakeReddit{t: t, reject: 2, listings: map[string]string{}}
	a, _ := newAdapter(t, f)

	_, err := a.UserPosts(context.Background(), "bob", 5, time.Time{})
	assert.Equal(t, crawler.KindAuth, crawler.KindOf(err))
	assert.EqualValues(t, 2, f.tokens.Load())
}

func TestMissingCredentialsIsFatal(t *testing.T) {
	env := adaptertest.NewGate(t)
	a := New(Config{}, env.Gate)
	_, err := a.Search(context.Background(), []string{"btc"}, 10, time.Time{})
	require.ErrorIs(t, err, crawler.ErrMissingCredentials)
	assert.Equal(t, crawler.KindFatal, crawler.KindOf(err))
	assert.Equal(t, DefaultSubreddits, a.cfg.Subreddits)
}

func TestTestConnection(t *testing.T) {
	f := &fakeReddit{t: t, listings: map[string]string{"/api/v1/me": `{"name":"crawler"}`}}
	a, _ := newAdapter(t, f)
	assert.True(t, a.TestConnection(context.Background()))
}

func TestListingFiltersAndMedia(t *testing.T) {
	raw := `{"kind":"Listing","data":{"children":[
		{"kind":"t1","data":{"id":"comment"}},
		{"kind":"t3","data":{"id":"del","title":"x","author":"[deleted]"}},
		{"kind":"t3","data":{"id":"rem","title":"x","author":"a","selftext":"[removed]"}},
		{"kind":"t3","data":{"id":"img","title":"chart","author":"a","url":"https://i.redd.it/abc.png","permalink":"/r/x/1/",
			"preview":{"images":[{"source":{"url":"https://preview.redd.it/abc.png?width=640&amp;s=1"}}]}}},
		{"kind":"t3","data":{"id":"gal","title":"gallery","author":"a","url":"https://www.reddit.com/gallery/gal",
			"media_metadata":{"m2":{"s":{"u":"https://preview.redd.it/2.jpg?a=1&amp;b=2"}},"m1":{"s":{"u":"https://preview.redd.it/1.jpg"}}}}},
		{"kind":"t3","data":{"id":"ext","title":"news","author":"a","url":"https://example.com/story"}}
	]}}`
	var l listing
	require.NoError(t, json.Unmarshal([]byte(raw), &l))
	posts := l.posts()
	require.Len(t, posts, 3)

	byID := map[string]crawler.RawPost{}
	for _, p := range posts {
		byID[p.ExternalID] = p
	}
	if diff := cmp.Diff([]string{"https://i.redd.it/abc.png", "https://preview.redd.it/abc.png?width=640&s=1"}, byID["img"].MediaURLs); diff != "" {
		t.Errorf("img media (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"https://preview.redd.it/1.jpg", "https://preview.redd.it/2.jpg?a=1&b=2"}, byID["gal"].MediaURLs); diff != "" {
		t.Errorf("gallery media (-want +got):\n%s", diff)
	}
	assert.Equal(t, "gallery", byID["gal"].Content)
	assert.Equal(t, "news\n\nhttps://example.com/story", byID["ext"].Content)
	assert.Empty(t, byID["ext"].MediaURLs)
}
