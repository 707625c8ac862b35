package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// Scraper polls the /metrics page of a running poller and keeps the last
// Snapshot. Reads are lock-free.
type Scraper struct {
	url        string
	interval   time.Duration
	logger     *slog.Logger
	httpClient *http.Client

	snap atomic.Pointer[Snapshot]
}

// NewScraper creates a scraper for url. Returns nil if url is empty.
func NewScraper(url string, interval time.Duration, logger *slog.Logger) *Scraper {
	if url == "" {
		return nil
	}
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scraper{
		url:      url,
		interval: interval,
		logger:   logger,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
	s.snap.Store(&Snapshot{Err: "Not yet scraped"})
	return s
}

// Run scrapes until ctx is done.
func (s *Scraper) Run(ctx context.Context) {
	if s == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.scrapeOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scrapeOnce(ctx)
		}
	}
}

// Snapshot returns the last scraped snapshot.
func (s *Scraper) Snapshot() *Snapshot {
	if s == nil {
		return nil
	}
	return s.snap.Load()
}

func (s *Scraper) scrapeOnce(ctx context.Context) {
	snap, err := s.Scrape(ctx)
	if err != nil {
		s.logger.Debug("metrics_scrape_error", "url", s.url, "error", err)
		// Keep the last values, mark the error.
		prev := *s.snap.Load()
		prev.Err = err.Error()
		prev.Taken = time.Now()
		s.snap.Store(&prev)
		return
	}
	s.snap.Store(snap)
}

// Scrape fetches and decodes the page once.
func (s *Scraper) Scrape(ctx context.Context) (*Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}

	families, err := DecodeText(resp.Body)
	if err != nil {
		return nil, err
	}
	return FromFamilies(families), nil
}
