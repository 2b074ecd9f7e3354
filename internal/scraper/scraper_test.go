package scraper_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/pipeline-service/internal/model"
	"jobmate/pipeline-service/internal/scraper"
)

func TestContainsRedFlag(t *testing.T) {
	flags := []string{"", "Unpaid", "  senior "}
	assert.True(t, scraper.ContainsRedFlag("Unpaid internship", "Acme", "", flags))
	assert.True(t, scraper.ContainsRedFlag("Developer", "Acme", "We need a SENIOR engineer", flags))
	assert.False(t, scraper.ContainsRedFlag("Junior developer", "Acme", "paid role", flags))
	assert.False(t, scraper.ContainsRedFlag("anything", "", "", nil))

	flag, ok := scraper.MatchRedFlag("Unpaid role", "", "", flags)
	assert.True(t, ok)
	assert.Equal(t, "Unpaid", flag)
}

func adzunaServer(t *testing.T, pages map[int]int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var page int
		if _, err := fmt.Sscanf(r.URL.Path, "/nl/search/%d", &page); err != nil {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "id", r.URL.Query().Get("app_id"))
		var results []map[string]any
		for i := 0; i < pages[page]; i++ {
			results = append(results, map[string]any{
				"id":           fmt.Sprintf("%d-%d", page, i),
				"title":        "Go Developer",
				"description":  "Build services",
				"company":      map[string]string{"display_name": "Acme"},
				"location":     map[string]string{"display_name": "Utrecht"},
				"redirect_url": fmt.Sprintf("https://www.adzuna.nl/land/ad/%d%d", page, i),
			})
		}
		json.NewEncoder(w).Encode(map[string]any{"results": results, "count": len(results)})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAdzunaSource_Paginates(t *testing.T) {
	srv := adzunaServer(t, map[int]int{1: 50, 2: 3})
	src := scraper.NewAdzunaSource("id", "key", "nl", nil)
	src.BaseURL = srv.URL

	jobs, err := src.Search(context.Background(), "go developer", "utrecht")
	require.NoError(t, err)
	assert.Len(t, jobs, 53)
	assert.Equal(t, "Acme", jobs[0].Company)
	assert.Equal(t, "Utrecht", jobs[0].Location)
	assert.NotEmpty(t, jobs[0].URL)
}

func TestAdzunaSource_NoCredentials(t *testing.T) {
	jobs, err := scraper.NewAdzunaSource("", "", "", nil).Search(context.Background(), "x", "y")
	assert.NoError(t, err)
	assert.Nil(t, jobs)
}

func TestAdzunaSource_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)
	src := scraper.NewAdzunaSource("id", "key", "nl", nil)
	src.BaseURL = srv.URL

	_, err := src.Search(context.Background(), "x", "y")
	assert.ErrorContains(t, err, "429")
}

type stubSource map[string][]model.ScrapedJob

func (s stubSource) Search(_ context.Context, title, location string) ([]model.ScrapedJob, error) {
	key := title + "|" + location
	if key == "broken|utrecht" {
		return nil, errors.New("board down")
	}
	return s[key], nil
}

func TestWorker_Run(t *testing.T) {
	src := stubSource{
		"go|amsterdam": {
			{Title: "Go dev", Company: "A", URL: "https://a.example/1"},
			{Title: "Unpaid Go internship", Company: "B", URL: "https://b.example/1"},
		},
		"go|utrecht": {{Title: "Go dev", Company: "C", URL: "https://c.example/1"}},
	}
	w := scraper.NewWorker(src, nil)

	var got []model.ScrapedJob
	rep, err := w.Run(context.Background(), model.SearchConfig{
		ID:        "default",
		JobTitles: []string{"go", "broken"},
		Locations: []string{"amsterdam", "utrecht"},
		RedFlags:  []string{"unpaid"},
	}, func(_ context.Context, batch []model.ScrapedJob) error {
		got = append(got, batch...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Fetched)
	assert.Equal(t, 1, rep.Filtered)
	assert.Equal(t, 1, rep.FailedPairs)
	assert.Len(t, got, 2)
}

func TestWorker_SinkErrorStopsRun(t *testing.T) {
	src := stubSource{
		"go|amsterdam": {{Title: "Go dev", Company: "A", URL: "https://a.example/1"}},
		"go|utrecht":   {{Title: "Go dev", Company: "C", URL: "https://c.example/1"}},
	}
	calls := 0
	_, err := scraper.NewWorker(src, nil).Run(context.Background(), model.SearchConfig{
		JobTitles: []string{"go"},
		Locations: []string{"amsterdam", "utrecht"},
	}, func(context.Context, []model.ScrapedJob) error {
		calls++
		return errors.New("database is locked")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
