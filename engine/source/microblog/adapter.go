// Package microblog implements the C3 adapter for the microblog
// platform: bearer-token auth against a user-timeline endpoint that
// pages newest-to-oldest, grounded on the corpus's reddit scraper
// (ticker-paced GET + fn.Retry + JSON decode).
package microblog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/kda-labs/sigil-etl/engine/source"
	"github.com/kda-labs/sigil-etl/pkg/fn"
	"github.com/kda-labs/sigil-etl/pkg/resilience"
)

// PageSize is the maximum number of records the timeline endpoint
// returns per call.
const PageSize = 100

// MinRateLimitWait is the minimum wait the adapter honors on a 429 even
// if the provider's reset header claims less (§4.3).
const MinRateLimitWait = 60 * time.Second

// requestRate is a conservative steady-state pace that stays well
// under typical per-app timeline rate limits even with several
// accounts sharing the adapter.
const requestRate = 1.0

// Config configures Adapter.
type Config struct {
	BaseURL string
	Bearer  string
}

// Adapter is the HTTP-backed microblog source adapter.
type Adapter struct {
	cfg     Config
	http    *http.Client
	limiter *resilience.Limiter
}

// New builds a microblog Adapter.
func New(cfg Config) *Adapter {
	return &Adapter{
		cfg:     cfg,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: resilience.NewLimiter(resilience.LimiterOpts{Rate: requestRate, Burst: 3}),
	}
}

// SupportsBackward is false: the user-timeline endpoint only pages
// newest-to-oldest from "now" or from a pagination token, not from an
// arbitrary "before" boundary (§9 historical backfill gap).
func (a *Adapter) SupportsBackward() bool { return false }

// FetchBackward always reports no data available, per the documented
// capability gap — callers must not silently skip a phase that should
// have run; this makes the absence explicit.
func (a *Adapter) FetchBackward(_ context.Context, _ source.FetchParams) (source.Result, error) {
	return source.Result{HasMoreData: false}, nil
}

// FetchForward pages the user timeline newest-first until a record at
// or before Since is seen, the budget is exhausted, or pagination ends.
func (a *Adapter) FetchForward(ctx context.Context, p source.FetchParams) (source.Result, error) {
	var out source.Result
	paginationToken := ""

	for {
		if out.RequestsUsed >= p.Budget {
			out.HasMoreData = true
			return out, nil
		}

		page, next, rateLimited, resetAt, err := a.fetchPage(ctx, p.Account, paginationToken)
		out.RequestsUsed++
		if rateLimited {
			wait := time.Until(resetAt)
			if wait < MinRateLimitWait {
				wait = MinRateLimitWait
			}
			return out, &source.Error{Signal: source.SignalRateLimited, ResetAt: time.Now().Add(wait), Err: fmt.Errorf("microblog: rate limited fetching %s", p.Account)}
		}
		if err != nil {
			return out, err
		}

		stoppedAtBoundary := false
		for _, rec := range page.Records {
			if !p.Since.IsZero() && !rec.CreatedAt.After(p.Since) {
				stoppedAtBoundary = true
				break
			}
			out.Records = append(out.Records, rec)
		}

		if stoppedAtBoundary || next == "" || !page.HasMore {
			out.HasMoreData = !stoppedAtBoundary && next != "" && page.HasMore
			return out, nil
		}
		paginationToken = next
	}
}

type timelineResponse struct {
	Data []struct {
		ID        string `json:"id"`
		Text      string `json:"text"`
		Author    string `json:"author"`
		Handle    string `json:"author_handle"`
		CreatedAt string `json:"created_at"`
		URL       string `json:"url"`
	} `json:"data"`
	Meta struct {
		NextToken string `json:"next_token"`
	} `json:"meta"`
}

type rawResponse struct {
	status int
	header http.Header
	body   []byte
}

func (a *Adapter) fetchPage(ctx context.Context, account, paginationToken string) (source.Page, string, bool, time.Time, error) {
	result := fn.Retry(ctx, fn.RetryOpts{
		MaxAttempts: 3,
		InitialWait: 2 * time.Second,
		MaxWait:     20 * time.Second,
		Jitter:      true,
	}, func(ctx context.Context) fn.Result[rawResponse] {
		raw, retryable, err := a.doGet(ctx, account, paginationToken)
		if err != nil && retryable {
			return fn.Err[rawResponse](err)
		}
		if err != nil {
			return fn.Ok(raw) // non-retryable transport failure surfaces below via status 0
		}
		return fn.Ok(raw)
	})

	raw, err := result.Unwrap()
	if err != nil {
		return source.Page{}, "", false, time.Time{}, &source.Error{Signal: source.SignalTimeout, Err: err}
	}

	if raw.status == http.StatusTooManyRequests {
		resetAt := parseResetHeader(raw.header.Get("X-Rate-Limit-Reset"))
		return source.Page{}, "", true, resetAt, nil
	}
	if raw.status == http.StatusUnauthorized {
		return source.Page{}, "", false, time.Time{}, &source.Error{Signal: source.SignalUnauthorized, Err: fmt.Errorf("microblog: unauthorized for %s", account)}
	}
	if raw.status != http.StatusOK {
		return source.Page{}, "", false, time.Time{}, &source.Error{Signal: source.SignalTransient, Err: fmt.Errorf("microblog: status %d for %s", raw.status, account)}
	}

	var parsed timelineResponse
	if err := json.Unmarshal(raw.body, &parsed); err != nil {
		return source.Page{}, "", false, time.Time{}, fmt.Errorf("microblog: decode timeline: %w", err)
	}

	page := source.Page{HasMore: parsed.Meta.NextToken != ""}
	for _, d := range parsed.Data {
		created, _ := time.Parse(time.RFC3339, d.CreatedAt)
		page.Records = append(page.Records, source.RawRecord{
			ForeignID: d.ID,
			Text:      d.Text,
			Author:    d.Author,
			Handle:    d.Handle,
			CreatedAt: created,
			URL:       d.URL,
		})
	}
	return page, parsed.Meta.NextToken, false, time.Time{}, nil
}

// doGet performs the HTTP call and fully drains the body so the
// response can be classified and retried without leaking connections.
// The bool return reports whether a non-nil err is retryable (network
// failure) as opposed to fatal (request construction).
func (a *Adapter) doGet(ctx context.Context, account, paginationToken string) (rawResponse, bool, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return rawResponse{}, false, fmt.Errorf("microblog: rate limiter: %w", err)
	}

	url := fmt.Sprintf("%s/2/users/by/username/%s/tweets?max_results=%d", a.cfg.BaseURL, account, PageSize)
	if paginationToken != "" {
		url += "&pagination_token=" + paginationToken
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return rawResponse{}, false, fmt.Errorf("microblog: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.Bearer)

	resp, err := a.http.Do(req)
	if err != nil {
		return rawResponse{}, true, fmt.Errorf("microblog: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return rawResponse{}, true, fmt.Errorf("microblog: read body: %w", err)
	}

	raw := rawResponse{status: resp.StatusCode, header: resp.Header, body: body}
	if resp.StatusCode >= 500 {
		return raw, true, fmt.Errorf("microblog: server error %d", resp.StatusCode)
	}
	return raw, false, nil
}

func parseResetHeader(v string) time.Time {
	epoch, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Now().Add(MinRateLimitWait)
	}
	return time.Unix(epoch, 0)
}
