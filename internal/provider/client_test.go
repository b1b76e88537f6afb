package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/creatorpulse/creator-analytics/internal/model"
)

type stubSnapshots struct {
	prev *model.DailySnapshot
}

func (s *stubSnapshots) GetLatestBefore(ctx context.Context, companyID string, day time.Time) (*model.DailySnapshot, error) {
	return s.prev, nil
}

func day() time.Time {
	return model.DayUTC(time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC))
}

func TestFetchDaySummary_SumsPaginatedQueries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok_1", r.Header.Get("Authorization"))
		page := r.URL.Query().Get("page")

		switch r.URL.Path {
		case "/v1/payments":
			// Two pages, minor units; the refund must not count.
			if page == "1" {
				fmt.Fprint(w, `{"data":[{"amount":1950},{"amount":2050,"from_trial":true}],"pagination":{"current_page":1,"total_pages":2}}`)
			} else {
				fmt.Fprint(w, `{"data":[{"amount":500,"status":"paid"},{"amount":500},{"amount":700,"status":"refunded"}],"pagination":{"current_page":2,"total_pages":2}}`)
			}
		case "/v1/memberships":
			fmt.Fprint(w, `{"data":[{"trial":true},{"trial":false},{"trial":true}],"pagination":{"current_page":1,"total_pages":1}}`)
		case "/v1/memberships/canceled":
			fmt.Fprint(w, `{"data":[{}],"pagination":{"current_page":1,"total_pages":1}}`)
		case "/v1/members/count":
			assert.Equal(t, "active", r.URL.Query().Get("status"))
			fmt.Fprint(w, `{"count":57}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, &stubSnapshots{})
	summary, err := client.FetchDaySummary(context.Background(), "tok_1", "biz_a", day())
	assert.NoError(t, err)

	assert.Equal(t, int64(5000), summary.GrossRevenueCents)
	assert.Equal(t, 3, summary.NewMembers)
	assert.Equal(t, 2, summary.TrialsStarted)
	assert.Equal(t, 1, summary.TrialsPaid)
	assert.Equal(t, 1, summary.Cancellations)
	assert.Equal(t, 57, summary.ActiveMembers)
}

func TestFetchDaySummary_SingleQueryFailureIsIsolated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/payments":
			w.WriteHeader(http.StatusInternalServerError)
		case "/v1/memberships":
			fmt.Fprint(w, `{"data":[{},{}],"pagination":{"current_page":1,"total_pages":1}}`)
		case "/v1/memberships/canceled":
			fmt.Fprint(w, `{"data":[{}],"pagination":{"current_page":1,"total_pages":1}}`)
		case "/v1/members/count":
			fmt.Fprint(w, `{"count":9}`)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, &stubSnapshots{})
	summary, err := client.FetchDaySummary(context.Background(), "tok_1", "biz_a", day())
	assert.NoError(t, err)

	// Revenue defaulted to zero; the sibling queries still contributed.
	assert.Zero(t, summary.GrossRevenueCents)
	assert.Equal(t, 2, summary.NewMembers)
	assert.Equal(t, 1, summary.Cancellations)
	assert.Equal(t, 9, summary.ActiveMembers)
}

func TestFetchAllPages_CapsRunawayPagination(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		// A buggy provider: always more data, always a next pointer.
		fmt.Fprint(w, `{"data":[{}],"pagination":{"next":"/v1/payments?page=next"}}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, &stubSnapshots{})
	items, err := client.fetchAllPages(context.Background(), "tok_1", "/v1/payments", day(), day().Add(24*time.Hour))
	assert.NoError(t, err)
	assert.Equal(t, maxPages, requests)
	assert.Len(t, items, maxPages)
}

func TestActiveMembers_DerivedFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/members/count":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			fmt.Fprint(w, `{"data":[],"pagination":{"current_page":1,"total_pages":1}}`)
		}
	}))
	defer srv.Close()

	prev := &model.DailySnapshot{CompanyID: "biz_a", Date: day().AddDate(0, 0, -1), ActiveMembers: 10}
	client := NewClient(srv.URL, &stubSnapshots{prev: prev})

	active := client.activeMembers(context.Background(), "tok_1", "biz_a", day(), DaySummary{NewMembers: 3, Cancellations: 1})
	assert.Equal(t, 12, active)

	// No prior snapshot and more cancellations than joins clamps at zero.
	client = NewClient(srv.URL, &stubSnapshots{})
	active = client.activeMembers(context.Background(), "tok_1", "biz_a", day(), DaySummary{NewMembers: 1, Cancellations: 4})
	assert.Zero(t, active)
}
