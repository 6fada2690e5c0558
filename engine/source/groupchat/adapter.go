// Package groupchat implements the C3 adapter for the group-chat/forum
// platform: a user-level client over a channel's main stream and its
// per-topic forum threads, grounded on the corpus's forums scraper
// (ticker-paced GET + fn.Retry) but JSON-based and genuinely capable of
// backward paging via an offset-date cursor.
package groupchat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kda-labs/sigil-etl/engine/source"
	"github.com/kda-labs/sigil-etl/pkg/fn"
	"github.com/kda-labs/sigil-etl/pkg/resilience"
)

// PageSize is the maximum number of messages fetched per call.
const PageSize = 100

// requestRate is a conservative steady-state pace for the history
// endpoint, shared across every channel/topic this adapter serves.
const requestRate = 2.0

// Config configures Adapter.
type Config struct {
	BaseURL string
	APIID   string
	APIHash string
	Session string
}

// Channel identifies a configured group-chat channel, by numeric id or
// username, per GROUPCHAT_CHANNELS.
type Channel struct {
	ID       string
	Username string
}

// Adapter is the HTTP-backed groupchat source adapter.
type Adapter struct {
	cfg     Config
	http    *http.Client
	limiter *resilience.Limiter
}

// New builds a groupchat Adapter.
func New(cfg Config) *Adapter {
	return &Adapter{
		cfg:     cfg,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: resilience.NewLimiter(resilience.LimiterOpts{Rate: requestRate, Burst: 5}),
	}
}

// SupportsBackward is true: the history endpoint accepts an offsetDate
// cursor directly, so a real "before earliest" fetch is possible,
// unlike the microblog adapter's token-only pagination.
func (a *Adapter) SupportsBackward() bool { return true }

// ParseHandle splits a boundary handle into its channel and, if
// present, topic id, per the "<channel>:topic:<id>" convention (§4.3).
func ParseHandle(handle string) (channel string, topicID int, hasTopic bool) {
	parts := strings.SplitN(handle, ":topic:", 2)
	if len(parts) != 2 {
		return handle, 0, false
	}
	id, err := strconv.Atoi(parts[1])
	if err != nil {
		return handle, 0, false
	}
	return parts[0], id, true
}

// Handle builds the partition key for a channel and optional topic.
func Handle(channel string, topicID int, hasTopic bool) string {
	if !hasTopic {
		return channel
	}
	return fmt.Sprintf("%s:topic:%d", channel, topicID)
}

// FetchForward pages from the newest message down to Since.
func (a *Adapter) FetchForward(ctx context.Context, p source.FetchParams) (source.Result, error) {
	channel, topicID, hasTopic := ParseHandle(p.Account)
	return a.page(ctx, channel, topicID, hasTopic, time.Time{}, p.Since, time.Time{}, p.Budget)
}

// FetchBackward pages from Before toward older messages until the
// budget is exhausted or the channel's history is exhausted.
func (a *Adapter) FetchBackward(ctx context.Context, p source.FetchParams) (source.Result, error) {
	channel, topicID, hasTopic := ParseHandle(p.Account)
	return a.page(ctx, channel, topicID, hasTopic, p.Before, time.Time{}, p.Before, p.Budget)
}

// page drives the shared paging loop. offsetDate is the cursor for the
// first call (zero means "start from now"); since/before bound when to
// stop collecting records; budget caps request count.
func (a *Adapter) page(ctx context.Context, channel string, topicID int, hasTopic bool, offsetDate, since, before time.Time, budget int) (source.Result, error) {
	var out source.Result
	cursor := offsetDate
	backward := !before.IsZero()

	for {
		if out.RequestsUsed >= budget {
			out.HasMoreData = true
			return out, nil
		}

		page, rateLimited, resetAt, err := a.fetchPage(ctx, channel, topicID, hasTopic, cursor)
		out.RequestsUsed++
		if rateLimited {
			return out, &source.Error{Signal: source.SignalRateLimited, ResetAt: resetAt, Err: fmt.Errorf("groupchat: rate limited fetching %s", Handle(channel, topicID, hasTopic))}
		}
		if err != nil {
			return out, err
		}

		if len(page.Records) == 0 {
			out.HasMoreData = false
			return out, nil
		}

		stoppedAtBoundary := false
		for _, rec := range page.Records {
			if !backward && !since.IsZero() && !rec.CreatedAt.After(since) {
				stoppedAtBoundary = true
				break
			}
			if backward && !before.IsZero() && !rec.CreatedAt.Before(before) {
				continue
			}
			out.Records = append(out.Records, rec)
		}

		last := page.Records[len(page.Records)-1]
		if stoppedAtBoundary || !page.HasMore {
			out.HasMoreData = !stoppedAtBoundary && page.HasMore
			return out, nil
		}
		cursor = last.CreatedAt
	}
}

type historyResponse struct {
	Messages []struct {
		ID       string `json:"id"`
		Text     string `json:"text"`
		FromID   string `json:"from_id"`
		FromName string `json:"from_name"`
		Date     string `json:"date"`
		Link     string `json:"link"`
	} `json:"messages"`
	HasMore bool `json:"has_more"`
}

type rawResponse struct {
	status int
	header http.Header
	body   []byte
}

func (a *Adapter) fetchPage(ctx context.Context, channel string, topicID int, hasTopic bool, offsetDate time.Time) (source.Page, bool, time.Time, error) {
	result := fn.Retry(ctx, fn.RetryOpts{
		MaxAttempts: 3,
		InitialWait: 3 * time.Second,
		MaxWait:     30 * time.Second,
		Jitter:      true,
	}, func(ctx context.Context) fn.Result[rawResponse] {
		raw, retryable, err := a.doGet(ctx, channel, topicID, hasTopic, offsetDate)
		if err != nil && retryable {
			return fn.Err[rawResponse](err)
		}
		return fn.Ok(raw)
	})

	raw, err := result.Unwrap()
	if err != nil {
		return source.Page{}, false, time.Time{}, &source.Error{Signal: source.SignalTimeout, Err: err}
	}

	if raw.status == http.StatusTooManyRequests {
		return source.Page{}, true, time.Now().Add(60 * time.Second), nil
	}
	if raw.status == http.StatusUnauthorized || raw.status == http.StatusForbidden {
		return source.Page{}, false, time.Time{}, &source.Error{Signal: source.SignalUnauthorized, Err: fmt.Errorf("groupchat: unauthorized for %s", channel)}
	}
	if raw.status == http.StatusNotFound {
		return source.Page{}, false, time.Time{}, &source.Error{Signal: source.SignalNotFound, Err: fmt.Errorf("groupchat: channel %s not found", channel)}
	}
	if raw.status != http.StatusOK {
		return source.Page{}, false, time.Time{}, &source.Error{Signal: source.SignalTransient, Err: fmt.Errorf("groupchat: status %d for %s", raw.status, channel)}
	}

	var parsed historyResponse
	if err := json.Unmarshal(raw.body, &parsed); err != nil {
		return source.Page{}, false, time.Time{}, fmt.Errorf("groupchat: decode history: %w", err)
	}

	handle := Handle(channel, topicID, hasTopic)
	page := source.Page{HasMore: parsed.HasMore}
	for _, m := range parsed.Messages {
		created, _ := time.Parse(time.RFC3339, m.Date)
		author := m.FromName
		if author == "" {
			author = m.FromID
		}
		page.Records = append(page.Records, source.RawRecord{
			ForeignID: m.ID,
			Text:      m.Text,
			Author:    author,
			Handle:    handle,
			CreatedAt: created,
			URL:       m.Link,
		})
	}
	return page, false, time.Time{}, nil
}

func (a *Adapter) doGet(ctx context.Context, channel string, topicID int, hasTopic bool, offsetDate time.Time) (rawResponse, bool, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return rawResponse{}, false, fmt.Errorf("groupchat: rate limiter: %w", err)
	}

	url := fmt.Sprintf("%s/history?channel=%s&limit=%d", a.cfg.BaseURL, channel, PageSize)
	if hasTopic {
		url += fmt.Sprintf("&topic=%d", topicID)
	}
	if !offsetDate.IsZero() {
		url += "&offset_date=" + offsetDate.UTC().Format(time.RFC3339)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return rawResponse{}, false, fmt.Errorf("groupchat: build request: %w", err)
	}
	req.Header.Set("X-API-Id", a.cfg.APIID)
	req.Header.Set("X-API-Hash", a.cfg.APIHash)
	req.Header.Set("X-Session", a.cfg.Session)

	resp, err := a.http.Do(req)
	if err != nil {
		return rawResponse{}, true, fmt.Errorf("groupchat: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return rawResponse{}, true, fmt.Errorf("groupchat: read body: %w", err)
	}

	raw := rawResponse{status: resp.StatusCode, header: resp.Header, body: body}
	if resp.StatusCode >= 500 {
		return raw, true, fmt.Errorf("groupchat: server error %d", resp.StatusCode)
	}
	return raw, false, nil
}
