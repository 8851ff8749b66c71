// Package video finds educational videos related to a study topic.
package video

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

const (
	defaultTimeout    = 15 * time.Second
	defaultMaxResults = 3
	maxResultsCap     = 25
)

// Video is one search hit.
type Video struct {
	ID           string `json:"videoId"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	ThumbnailURL string `json:"thumbnailUrl"`
}

// Searcher looks up videos for a free-text query.
type Searcher interface {
	Search(ctx context.Context, query string, max int) ([]Video, error)
}

// YouTubeClient searches the YouTube Data API v3.
type YouTubeClient struct {
	svc        *youtube.Service
	limiter    *rate.Limiter
	timeout    time.Duration
	safeSearch string
}

// Config configures a YouTubeClient.
type Config struct {
	APIKey string
	// Endpoint overrides the API base URL (tests, proxies).
	Endpoint string
	// RequestsPerSecond bounds outgoing search calls. Zero means 2.
	RequestsPerSecond float64
}

// NewYouTubeClient builds the client.
func NewYouTubeClient(ctx context.Context, cfg Config) (*YouTubeClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("youtube api key required")
	}
	opts := []option.ClientOption{option.WithAPIKey(strings.TrimSpace(cfg.APIKey))}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(strings.TrimRight(cfg.Endpoint, "/")+"/"))
	}
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &YouTubeClient{
		svc:        svc,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		timeout:    defaultTimeout,
		safeSearch: "strict",
	}, nil
}

// Search returns up to max videos for query. max <= 0 means the default of 3.
func (c *YouTubeClient) Search(ctx context.Context, query string, max int) ([]Video, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("youtube search: empty query")
	}
	if max <= 0 {
		max = defaultMaxResults
	}
	if max > maxResultsCap {
		max = maxResultsCap
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("youtube rate limit: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.svc.Search.List([]string{"snippet"}).
		Q(query).
		Type("video").
		SafeSearch(c.safeSearch).
		MaxResults(int64(max)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("youtube search: %w", err)
	}

	out := make([]Video, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Id == nil || item.Id.VideoId == "" || item.Snippet == nil {
			continue
		}
		out = append(out, Video{
			ID:           item.Id.VideoId,
			Title:        html.UnescapeString(item.Snippet.Title),
			Description:  html.UnescapeString(item.Snippet.Description),
			ThumbnailURL: thumbnail(item.Snippet.Thumbnails),
		})
	}
	return out, nil
}

func thumbnail(t *youtube.ThumbnailDetails) string {
	if t == nil {
		return ""
	}
	for _, th := range []*youtube.Thumbnail{t.Medium, t.Default, t.High} {
		if th != nil && th.Url != "" {
			return th.Url
		}
	}
	return ""
}

// WatchURL returns the public page of a video.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}
