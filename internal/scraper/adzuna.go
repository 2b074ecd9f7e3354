package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"jobmate/pipeline-service/internal/model"
)

const (
	adzunaBaseURL  = "https://api.adzuna.com/v1/api/jobs"
	adzunaPageSize = 50
	adzunaMaxPages = 3 // max 150 results per (title × location) pair
	httpTimeout    = 15 * time.Second
)

// Source searches one job board.
type Source interface {
	Search(ctx context.Context, title, location string) ([]model.ScrapedJob, error)
}

// AdzunaSource searches the Adzuna public API. Without credentials Search
// returns (nil, nil) so a scrape round is skipped rather than failed.
type AdzunaSource struct {
	AppID   string
	AppKey  string
	Country string // "nl", "gb", "fr", …
	BaseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewAdzunaSource constructs a source with a shared HTTP client.
func NewAdzunaSource(appID, appKey, country string, logger *slog.Logger) *AdzunaSource {
	if country == "" {
		country = "nl"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AdzunaSource{
		AppID:   appID,
		AppKey:  appKey,
		Country: country,
		BaseURL: adzunaBaseURL,
		client:  &http.Client{Timeout: httpTimeout},
		logger:  logger,
	}
}

type adzunaResponse struct {
	Results []adzunaResult `json:"results"`
	Count   int            `json:"count"`
}

type adzunaResult struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Company     struct {
		DisplayName string `json:"display_name"`
	} `json:"company"`
	Location struct {
		DisplayName string `json:"display_name"`
	} `json:"location"`
	RedirectURL string `json:"redirect_url"`
	Created     string `json:"created"`
}

// Search retrieves offers for one title and location, page by page until a
// short page or adzunaMaxPages. Pages fetched before an error are returned
// along with it.
func (a *AdzunaSource) Search(ctx context.Context, title, location string) ([]model.ScrapedJob, error) {
	if a.AppID == "" || a.AppKey == "" {
		a.logger.Warn("ADZUNA_APP_ID / ADZUNA_APP_KEY not set, skipping search")
		return nil, nil
	}

	var jobs []model.ScrapedJob
	for page := 1; page <= adzunaMaxPages; page++ {
		batch, err := a.searchPage(ctx, title, location, page)
		if err != nil {
			return jobs, fmt.Errorf("page %d: %w", page, err)
		}
		jobs = append(jobs, batch...)
		if len(batch) < adzunaPageSize {
			break
		}
	}
	return jobs, nil
}

func (a *AdzunaSource) searchPage(ctx context.Context, title, location string, page int) ([]model.ScrapedJob, error) {
	endpoint := fmt.Sprintf("%s/%s/search/%d", a.BaseURL, a.Country, page)

	params := url.Values{}
	params.Set("app_id", a.AppID)
	params.Set("app_key", a.AppKey)
	params.Set("results_per_page", strconv.Itoa(adzunaPageSize))
	params.Set("what", title)
	params.Set("where", location)
	params.Set("content-type", "application/json")
	params.Set("sort_by", "date")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http GET: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("adzuna returned %d: %s", resp.StatusCode, string(body))
	}

	var apiResp adzunaResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("json unmarshal: %w", err)
	}

	jobs := make([]model.ScrapedJob, 0, len(apiResp.Results))
	for _, r := range apiResp.Results {
		link := r.RedirectURL
		if link == "" {
			link = fmt.Sprintf("https://www.adzuna.%s/details/%s", a.Country, r.ID)
		}
		jobs = append(jobs, model.ScrapedJob{
			ExternalID:  r.ID,
			Title:       r.Title,
			Company:     r.Company.DisplayName,
			Location:    r.Location.DisplayName,
			Description: r.Description,
			URL:         link,
			PublishedAt: r.Created,
		})
	}
	return jobs, nil
}
