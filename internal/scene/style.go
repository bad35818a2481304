package scene

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// StyleFetcher loads and validates a style document.
type StyleFetcher interface {
	FetchStyle(ctx context.Context, url string) error
}

// StyleFetcherFunc adapts a function to StyleFetcher.
type StyleFetcherFunc func(ctx context.Context, url string) error

func (f StyleFetcherFunc) FetchStyle(ctx context.Context, url string) error { return f(ctx, url) }

// HTTPStyleFetcher fetches style documents over HTTP and checks that they
// are version 8 MapLibre styles.
type HTTPStyleFetcher struct {
	Client *http.Client
}

type styleDoc struct {
	Version int                        `json:"version"`
	Sources map[string]json.RawMessage `json:"sources"`
}

func (f HTTPStyleFetcher) FetchStyle(ctx context.Context, url string) error {
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching style: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching style: status %d", resp.StatusCode)
	}

	var doc styleDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("parsing style: %w", err)
	}
	if doc.Version != 8 {
		return fmt.Errorf("unsupported style version %d", doc.Version)
	}
	if doc.Sources == nil {
		return fmt.Errorf("style has no sources")
	}
	return nil
}
