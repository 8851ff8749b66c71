package video

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestYouTubeClientSearch(t *testing.T) {
	var gotQuery, gotMax, gotKey, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/search") {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		gotQuery, gotMax, gotKey, gotType = q.Get("q"), q.Get("maxResults"), q.Get("key"), q.Get("type")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[
			{"id":{"kind":"youtube#video","videoId":"v1"},"snippet":{"title":"Photosynthesis &amp; You","description":"d1","thumbnails":{"default":{"url":"https://i.ytimg.com/v1.jpg"}}}},
			{"id":{"kind":"youtube#channel","channelId":"c1"},"snippet":{"title":"skip me"}},
			{"id":{"kind":"youtube#video","videoId":"v2"},"snippet":{"title":"Light reactions","description":"d2"}}
		]}`))
	}))
	defer srv.Close()

	c, err := NewYouTubeClient(context.Background(), Config{APIKey: "yt-key", Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	videos, err := c.Search(context.Background(), " photosynthesis ", 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if gotQuery != "photosynthesis" || gotMax != "3" || gotKey != "yt-key" || gotType != "video" {
		t.Fatalf("unexpected request q=%q max=%q key=%q type=%q", gotQuery, gotMax, gotKey, gotType)
	}
	if len(videos) != 2 {
		t.Fatalf("expected 2 videos, got %d", len(videos))
	}
	if videos[0].ID != "v1" || videos[0].Title != "Photosynthesis & You" || videos[0].ThumbnailURL == "" {
		t.Fatalf("unexpected first video: %+v", videos[0])
	}
	if videos[1].ThumbnailURL != "" {
		t.Fatalf("expected empty thumbnail, got %q", videos[1].ThumbnailURL)
	}
}

func TestYouTubeClientValidation(t *testing.T) {
	if _, err := NewYouTubeClient(context.Background(), Config{}); err == nil {
		t.Fatalf("expected missing key error")
	}
	c, err := NewYouTubeClient(context.Background(), Config{APIKey: "k", Endpoint: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := c.Search(context.Background(), "  ", 3); err == nil {
		t.Fatalf("expected empty query error")
	}
	if WatchURL("abc") != "https://www.youtube.com/watch?v=abc" {
		t.Fatalf("unexpected watch url")
	}
}
