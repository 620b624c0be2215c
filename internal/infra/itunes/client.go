// Package itunes talks to the iTunes Search API, the metadata provider for tracks and artists.
package itunes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"musiguess/internal/domain"
	"musiguess/internal/monitoring"
)

const (
	DefaultBaseURL = "https://itunes.apple.com"

	songLimit       = 50
	albumLimit      = 20
	maxArtistResult = 5
)

type Config struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerMinute int
	// AffiliateToken is appended to track links when set.
	AffiliateToken string
}

// Client implements the track loader and the artist searcher.
type Client struct {
	baseURL        string
	http           *http.Client
	limiter        *rate.Limiter
	affiliateToken string
	metrics        *monitoring.Metrics
}

func NewClient(cfg Config, metrics *monitoring.Metrics) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60)
		burst = max(1, cfg.RequestsPerMinute/20)
	}
	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		http:           &http.Client{Timeout: cfg.Timeout},
		limiter:        rate.NewLimiter(limit, burst),
		affiliateToken: cfg.AffiliateToken,
		metrics:        metrics,
	}
}

type searchResponse struct {
	ResultCount int            `json:"resultCount"`
	Results     []searchResult `json:"results"`
}

type searchResult struct {
	Kind             string `json:"kind"`
	TrackID          int64  `json:"trackId"`
	TrackName        string `json:"trackName"`
	ArtistID         int64  `json:"artistId"`
	ArtistName       string `json:"artistName"`
	PreviewURL       string `json:"previewUrl"`
	ArtworkURL100    string `json:"artworkUrl100"`
	TrackViewURL     string `json:"trackViewUrl"`
	PrimaryGenreName string `json:"primaryGenreName"`
}

// FetchTracks returns the artist's songs that have a playable preview.
func (c *Client) FetchTracks(ctx context.Context, artist string) ([]domain.Track, error) {
	params := url.Values{}
	params.Set("term", artist)
	params.Set("entity", "song")
	params.Set("limit", strconv.Itoa(songLimit))

	resp, err := c.search(ctx, "songs", params)
	if err != nil {
		return nil, err
	}
	tracks := make([]domain.Track, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.Kind != "song" || r.PreviewURL == "" {
			continue
		}
		tracks = append(tracks, domain.Track{
			ID:         r.TrackID,
			Name:       r.TrackName,
			Artist:     r.ArtistName,
			PreviewURL: r.PreviewURL,
			ArtworkURL: strings.Replace(r.ArtworkURL100, "100x100", "600x600", 1),
			ViewURL:    c.withAffiliateToken(r.TrackViewURL),
		})
	}
	return tracks, nil
}

// SearchArtists looks artists up through their albums, since artist entries carry no artwork.
func (c *Client) SearchArtists(ctx context.Context, term string) ([]domain.Artist, error) {
	params := url.Values{}
	params.Set("term", term)
	params.Set("entity", "album")
	params.Set("attribute", "artistTerm")
	params.Set("limit", strconv.Itoa(albumLimit))

	resp, err := c.search(ctx, "artists", params)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	artists := make([]domain.Artist, 0, maxArtistResult)
	for _, r := range resp.Results {
		if _, ok := seen[r.ArtistName]; ok || r.ArtistName == "" {
			continue
		}
		seen[r.ArtistName] = struct{}{}
		artists = append(artists, domain.Artist{
			ID:       r.ArtistID,
			Name:     r.ArtistName,
			Genre:    r.PrimaryGenreName,
			ImageURL: r.ArtworkURL100,
		})
		if len(artists) == maxArtistResult {
			break
		}
	}
	return artists, nil
}

func (c *Client) search(ctx context.Context, endpoint string, params url.Values) (searchResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return searchResponse{}, fmt.Errorf("wait for rate limiter: %w", err)
	}

	start := time.Now()
	status := "error"
	defer func() {
		c.metrics.ProviderRequest(endpoint, status, time.Since(start))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return searchResponse{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return searchResponse{}, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()
	status = strconv.Itoa(resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return searchResponse{}, fmt.Errorf("itunes returned status code: %d, response: %s", resp.StatusCode, string(body))
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return searchResponse{}, fmt.Errorf("decode itunes response: %w", err)
	}
	return out, nil
}

func (c *Client) withAffiliateToken(link string) string {
	if link == "" || c.affiliateToken == "" {
		return link
	}
	sep := "?"
	if strings.Contains(link, "?") {
		sep = "&"
	}
	return link + sep + "at=" + url.QueryEscape(c.affiliateToken)
}
