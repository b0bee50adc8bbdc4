package reddit

import (
	"encoding/json"
	"html"
	"math"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
)

var (
	mediaExtensions = map[string]bool{
		".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".mp4": true, ".webm": true,
	}
	mediaHosts = []string{"i.redd.it", "v.redd.it", "imgur.com", "gfycat.com"}
)

type listing struct {
	Kind string `json:"kind"`
	Data struct {
		After    string  `json:"after"`
		Children []child `json:"children"`
	} `json:"data"`
}

type child struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type link struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Selftext       string  `json:"selftext"`
	URL            string  `json:"url"`
	Permalink      string  `json:"permalink"`
	Author         string  `json:"author"`
	AuthorFullname string  `json:"author_fullname"`
	Subreddit      string  `json:"subreddit"`
	Score          int64   `json:"score"`
	NumComments    int64   `json:"num_comments"`
	CreatedUTC     float64 `json:"created_utc"`
	IsSelf         bool    `json:"is_self"`
	MediaMetadata  map[string]struct {
		S struct {
			U string `json:"u"`
		} `json:"s"`
	} `json:"media_metadata"`
	Preview struct {
		Images []struct {
			Source struct {
				URL string `json:"url"`
			} `json:"source"`
		} `json:"images"`
	} `json:"preview"`
}

// posts keeps t3 links, dropping deleted or removed submissions and children that fail to decode.
func (l listing) posts() []crawler.RawPost {
	out := make([]crawler.RawPost, 0, len(l.Data.Children))
	for _, c := range l.Data.Children {
		if c.Kind != "t3" {
			continue
		}
		var lk link
		if err := json.Unmarshal(c.Data, &lk); err != nil || lk.ID == "" {
			continue
		}
		if lk.Author == "[deleted]" || lk.Selftext == "[removed]" || lk.Selftext == "[deleted]" {
			continue
		}
		out = append(out, lk.toPost(c.Data))
	}
	return out
}

func (lk link) toPost(raw json.RawMessage) crawler.RawPost {
	return crawler.RawPost{
		ExternalID:      lk.ID,
		Platform:        crawler.PlatformReddit,
		SourceURL:       "https://reddit.com" + lk.Permalink,
		AuthorID:        lk.AuthorFullname,
		AuthorUsername:  lk.Author,
		Content:         lk.content(),
		MediaURLs:       lk.media(),
		EngagementCount: lk.Score,
		CommentCount:    lk.NumComments,
		PublishedAt:     unixFloat(lk.CreatedUTC),
		Raw:             append(json.RawMessage(nil), raw...),
	}
}

func (lk link) content() string {
	if lk.Selftext != "" {
		return lk.Title + "\n\n" + lk.Selftext
	}
	if lk.URL != "" && !isRedditURL(lk.URL) {
		return lk.Title + "\n\n" + lk.URL
	}
	return lk.Title
}

func (lk link) media() []string {
	var urls []string
	seen := make(map[string]bool)
	add := func(u string) {
		u = html.UnescapeString(u)
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		urls = append(urls, u)
	}
	if isMediaURL(lk.URL) {
		add(lk.URL)
	}
	ids := make([]string, 0, len(lk.MediaMetadata))
	for id := range lk.MediaMetadata {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		add(lk.MediaMetadata[id].S.U)
	}
	if len(lk.Preview.Images) > 0 {
		add(lk.Preview.Images[0].Source.URL)
	}
	return urls
}

func isRedditURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "reddit.com" || strings.HasSuffix(host, ".reddit.com")
}

func isMediaURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if mediaExtensions[strings.ToLower(path.Ext(u.Path))] {
		return true
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range mediaHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

func unixFloat(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}
