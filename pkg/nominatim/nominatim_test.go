package nominatim

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(
		Config{BaseURL: srv.URL, UserAgent: "chronomap-test", Timeout: 2 * time.Second},
		WithLimiter(rate.NewLimiter(rate.Inf, 1)),
	)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func TestSearchParsesFirstResult(t *testing.T) {
	t.Parallel()

	var gotUA, gotLimit string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotLimit = r.URL.Query().Get("limit")
		w.Write([]byte(`[{"lat":"35.6768601","lon":"139.7638947","display_name":"Tokyo, Japan"}]`))
	})

	place, err := client.Search(context.Background(), "Tokyo")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if place.Lat != 35.6768601 || place.Lng != 139.7638947 {
		t.Fatalf("coordinates = %v,%v", place.Lat, place.Lng)
	}
	if place.DisplayName != "Tokyo, Japan" {
		t.Fatalf("display name = %q", place.DisplayName)
	}
	if gotUA != "chronomap-test" {
		t.Fatalf("user agent = %q", gotUA)
	}
	if gotLimit != "1" {
		t.Fatalf("limit = %q", gotLimit)
	}
}

func TestSearchEmptyResultList(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[]`))
	})

	if _, err := client.Search(context.Background(), "nowhere at all"); !errors.Is(err, ErrNoResult) {
		t.Fatalf("expected ErrNoResult, got %v", err)
	}
}

func TestSearchRejectsBlankQuery(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Fatal("no request expected for a blank query")
	})
	if _, err := client.Search(context.Background(), "   "); !errors.Is(err, ErrNoResult) {
		t.Fatalf("expected ErrNoResult, got %v", err)
	}
}

func TestSearchSurfacesServerError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	if _, err := client.Search(context.Background(), "Tokyo"); err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
}
