package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"
)

type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	K           int
	MaxBookID   int
	Texts       []string
	Titles      []string
}

// request is one generated call against the recommendation API.
type request struct {
	kind   string
	method string
	path   string
	body   any
}

func main() {
	baseURL := flag.String("url", "http://localhost:5000", "base URL of the recommendation service")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	k := flag.Int("k", 5, "recommendations per request")
	maxBookID := flag.Int("max-book-id", 200, "book ids 1..n are queried by id")
	flag.Parse()

	cfg := Config{
		BaseURL:     *baseURL,
		Concurrency: *concurrency,
		Duration:    *duration,
		K:           *k,
		MaxBookID:   *maxBookID,
		Texts: []string{
			"古言 权谋 宫廷",
			"江湖 武侠 复仇",
			"星际 科幻 机甲",
			"校园 青春 成长",
			"悬疑 推理 破案",
			"历史 战争 帝王",
			"仙侠 修真 飞升",
			"都市 职场 逆袭",
		},
		Titles: []string{"长安", "江湖", "星河", "校园", "雾"},
	}

	fmt.Println("=== BookMatch Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Println()

	start := time.Now()
	stats := run(cfg)
	stats.Report(os.Stdout, time.Since(start))
	if stats.total.Load() == 0 {
		fmt.Println("\nWARNING: No requests completed. Is the service running?")
		os.Exit(1)
	}
}

// plan returns the i-th request of the rotation: text, title and id
// lookups in turn.
func plan(cfg Config, i int) request {
	switch i % 3 {
	case 0:
		return request{
			kind:   "text",
			method: http.MethodPost,
			path:   "/api/similar_by_text",
			body:   map[string]any{"text": cfg.Texts[i%len(cfg.Texts)], "k": cfg.K},
		}
	case 1:
		return request{
			kind:   "title",
			method: http.MethodPost,
			path:   "/api/similar_by_title",
			body:   map[string]any{"title": cfg.Titles[i%len(cfg.Titles)], "k": cfg.K},
		}
	default:
		id := i%max(cfg.MaxBookID, 1) + 1
		return request{
			kind:   "id",
			method: http.MethodGet,
			path:   fmt.Sprintf("/api/v1/books/%d/similar?k=%d", id, cfg.K),
		}
	}
}

func run(cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := w; ctx.Err() == nil; i += cfg.Concurrency {
				req := plan(cfg, i)
				start := time.Now()
				status, hit, err := do(ctx, client, cfg.BaseURL, req)
				if err != nil && ctx.Err() != nil {
					return
				}
				stats.Record(req.kind, time.Since(start), status, hit)
			}
		}()
	}
	wg.Wait()
	return stats
}

// do sends req and reports the status and, for enveloped responses,
// whether it was served from cache.
func do(ctx context.Context, client *http.Client, baseURL string, req request) (int, bool, error) {
	var body io.Reader
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return 0, false, err
		}
		body = bytes.NewReader(data)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, baseURL+req.path, body)
	if err != nil {
		return 0, false, err
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return 0, false, err
	}
	defer resp.Body.Close()

	var envelope struct {
		CacheHit bool `json:"cache_hit"`
	}
	if req.kind == "id" && resp.StatusCode == http.StatusOK {
		json.NewDecoder(resp.Body).Decode(&envelope)
	}
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, envelope.CacheHit, nil
}
