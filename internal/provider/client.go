// Package provider talks to the membership platform's REST API on behalf
// of one tenant at a time.
package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"

	"github.com/creatorpulse/creator-analytics/internal/model"
	"github.com/creatorpulse/creator-analytics/internal/monitoring"
)

// maxPages caps pagination per query; guards against a provider bug
// returning an unbounded "next" pointer.
const maxPages = 25

const defaultPageLimit = 100

// DaySummary is one tenant's aggregate activity for one UTC calendar day.
type DaySummary struct {
	GrossRevenueCents int64
	ActiveMembers     int
	NewMembers        int
	Cancellations     int
	TrialsStarted     int
	TrialsPaid        int
}

// SnapshotReader is the slice of the snapshot store the client needs for
// the derived active-member fallback.
type SnapshotReader interface {
	GetLatestBefore(ctx context.Context, companyID string, day time.Time) (*model.DailySnapshot, error)
}

// Client fetches per-day aggregates from the provider. All page fetches
// run through a shared circuit breaker so a flapping provider trips fast
// instead of timing out tenant after tenant.
type Client struct {
	baseURL   string
	httpc     *http.Client
	breaker   *gobreaker.CircuitBreaker[[]byte]
	snapshots SnapshotReader
}

func NewClient(baseURL string, snapshots SnapshotReader) *Client {
	settings := gobreaker.Settings{
		Name:    "provider-api",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Client{
		baseURL:   baseURL,
		httpc:     &http.Client{Timeout: 15 * time.Second},
		breaker:   gobreaker.NewCircuitBreaker[[]byte](settings),
		snapshots: snapshots,
	}
}

type pagination struct {
	CurrentPage int     `json:"current_page"`
	TotalPages  int     `json:"total_pages"`
	Next        *string `json:"next"`
}

type listResponse struct {
	Data       []json.RawMessage `json:"data"`
	Pagination pagination        `json:"pagination"`
}

type paymentItem struct {
	Amount    int64  `json:"amount"` // minor units
	Status    string `json:"status"`
	FromTrial bool   `json:"from_trial"`
}

type membershipItem struct {
	Status string `json:"status"`
	Trial  bool   `json:"trial"`
}

type memberCountResponse struct {
	Count int `json:"count"`
}

// FetchDaySummary returns the aggregate metrics for one tenant and one
// calendar day. The three collection queries are independent: a failure in
// one zeroes only that sum/count and the others still contribute.
//
// ActiveMembers prefers the provider's live status-filtered total. When
// that endpoint fails, the value is derived as
// max(0, previousDayActive + newMembers - cancellations) from the most
// recent stored snapshot. The derivation is approximate: over a long
// backfill each day builds on the previous day's possibly-derived value,
// so drift is expected and accepted.
func (c *Client) FetchDaySummary(ctx context.Context, token, companyID string, day time.Time) (DaySummary, error) {
	day = model.DayUTC(day)
	start, end := day, day.Add(24*time.Hour)

	var summary DaySummary

	payments, err := c.fetchAllPages(ctx, token, "/v1/payments", start, end)
	if err != nil {
		log.Warn().Err(err).Str("company_id", companyID).Time("day", day).Msg("Payments query failed, revenue defaults to 0")
	} else {
		for _, raw := range payments {
			var p paymentItem
			if err := json.Unmarshal(raw, &p); err != nil {
				continue
			}
			// Only settled payments count toward revenue. An absent status
			// means the endpoint already filtered for us.
			if p.Status != "" && p.Status != "paid" {
				continue
			}
			summary.GrossRevenueCents += p.Amount
			if p.FromTrial {
				summary.TrialsPaid++
			}
		}
	}

	created, err := c.fetchAllPages(ctx, token, "/v1/memberships", start, end)
	if err != nil {
		log.Warn().Err(err).Str("company_id", companyID).Time("day", day).Msg("Memberships query failed, new members defaults to 0")
	} else {
		summary.NewMembers = len(created)
		for _, raw := range created {
			var m membershipItem
			if err := json.Unmarshal(raw, &m); err != nil {
				continue
			}
			if m.Trial {
				summary.TrialsStarted++
			}
		}
	}

	canceled, err := c.fetchAllPages(ctx, token, "/v1/memberships/canceled", start, end)
	if err != nil {
		log.Warn().Err(err).Str("company_id", companyID).Time("day", day).Msg("Cancellations query failed, defaults to 0")
	} else {
		summary.Cancellations = len(canceled)
	}

	summary.ActiveMembers = c.activeMembers(ctx, token, companyID, day, summary)
	return summary, nil
}

func (c *Client) activeMembers(ctx context.Context, token, companyID string, day time.Time, summary DaySummary) int {
	params := url.Values{"status": {"active"}}
	body, err := c.get(ctx, token, "/v1/members/count", params)
	if err == nil {
		var resp memberCountResponse
		if err := json.Unmarshal(body, &resp); err == nil {
			monitoring.ProviderCalls.WithLabelValues("members_count", "ok").Inc()
			return resp.Count
		}
	}
	monitoring.ProviderCalls.WithLabelValues("members_count", "error").Inc()

	prevActive := 0
	if prev, err := c.snapshots.GetLatestBefore(ctx, companyID, day); err == nil && prev != nil {
		prevActive = prev.ActiveMembers
	}
	derived := prevActive + summary.NewMembers - summary.Cancellations
	if derived < 0 {
		derived = 0
	}
	log.Debug().Str("company_id", companyID).Time("day", day).Int("derived", derived).Msg("Active member count derived from previous snapshot")
	return derived
}

// fetchAllPages walks one collection endpoint for the [start, end) window.
func (c *Client) fetchAllPages(ctx context.Context, token, path string, start, end time.Time) ([]json.RawMessage, error) {
	var items []json.RawMessage
	for page := 1; page <= maxPages; page++ {
		params := url.Values{
			"created_after":  {start.Format(time.RFC3339)},
			"created_before": {end.Format(time.RFC3339)},
			"limit":          {strconv.Itoa(defaultPageLimit)},
			"page":           {strconv.Itoa(page)},
		}
		body, err := c.get(ctx, token, path, params)
		if err != nil {
			monitoring.ProviderCalls.WithLabelValues(path, "error").Inc()
			return nil, err
		}
		monitoring.ProviderCalls.WithLabelValues(path, "ok").Inc()

		var resp listResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("decode %s page %d: %w", path, page, err)
		}
		items = append(items, resp.Data...)

		if len(resp.Data) == 0 {
			break
		}
		if resp.Pagination.TotalPages > 0 && resp.Pagination.CurrentPage >= resp.Pagination.TotalPages {
			break
		}
		if resp.Pagination.TotalPages == 0 && (resp.Pagination.Next == nil || *resp.Pagination.Next == "") {
			break
		}
	}
	return items, nil
}

func (c *Client) get(ctx context.Context, token, path string, params url.Values) ([]byte, error) {
	return c.breaker.Execute(func() ([]byte, error) {
		u := c.baseURL + path
		if len(params) > 0 {
			u += "?" + params.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpc.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("provider returned %d for %s", resp.StatusCode, path)
		}
		return io.ReadAll(resp.Body)
	})
}
