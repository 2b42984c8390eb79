package fitbit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

// testClient wires a client against srv with a long-lived token so no refresh
// happens during the test.
func testClient(t *testing.T, srv *httptest.Server, quota int) *Client {
	t.Helper()
	tok := Token{
		AccessToken:  "test-access",
		RefreshToken: "test-refresh",
		ExpiresAt:    time.Now().Add(8 * time.Hour),
	}
	store := NewTokenStore(&oauth2.Config{}, tok, nil, discardLog())
	return NewClient(srv.URL, store, NewRateLimiter(quota), discardLog())
}

// TestCreateActivityPayload verifies the form encoding: activity code, local
// clock time, date, millisecond duration, distance unit, and steps.
func TestCreateActivityPayload(t *testing.T) {
	var gotForm map[string][]string
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/1/user/-/activities.json" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		gotForm = r.PostForm
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"activityLog":{"logId":987654}}`))
	}))
	t.Cleanup(srv.Close)

	c := testClient(t, srv, DefaultQuota)
	start := time.Date(2026, 3, 1, 7, 42, 0, 0, time.Local)
	logID, err := c.CreateActivity(context.Background(), Activity{
		Type:            ActivityWalking,
		DistanceMiles:   2.5,
		StartTime:       start,
		DurationMinutes: 30,
		Steps:           6000,
	})
	if err != nil {
		t.Fatalf("CreateActivity: %v", err)
	}
	if logID != 987654 {
		t.Errorf("logID = %d, want 987654", logID)
	}
	if gotAuth != "Bearer test-access" {
		t.Errorf("Authorization = %q", gotAuth)
	}

	want := map[string]string{
		"activityId":     "90013",
		"startTime":      "07:42",
		"date":           "2026-03-01",
		"durationMillis": "1800000",
		"distance":       "2.5",
		"distanceUnit":   "mi",
		"steps":          "6000",
	}
	for k, v := range want {
		if got := gotForm[k]; len(got) != 1 || got[0] != v {
			t.Errorf("form[%s] = %v, want %s", k, got, v)
		}
	}
}

// TestCreateActivityOmitsZeroSteps verifies steps are left out of the payload
// when conversion produced none.
func TestCreateActivityOmitsZeroSteps(t *testing.T) {
	var gotForm map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotForm = r.PostForm
		w.Write([]byte(`{"activityLog":{"logId":1}}`))
	}))
	t.Cleanup(srv.Close)

	c := testClient(t, srv, DefaultQuota)
	_, err := c.CreateActivity(context.Background(), Activity{
		Type: ActivityWalking, DistanceMiles: 1, StartTime: time.Now(), DurationMinutes: 20,
	})
	if err != nil {
		t.Fatalf("CreateActivity: %v", err)
	}
	if _, ok := gotForm["steps"]; ok {
		t.Error("steps present in payload, want omitted")
	}
}

// TestCreateActivityStatusMapping verifies HTTP statuses map onto the error
// taxonomy.
func TestCreateActivityStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{"unauthorized", http.StatusUnauthorized, `{}`, IsAuthError},
		{"rate limited", http.StatusTooManyRequests, `{}`, func(err error) bool {
			return errors.Is(err, ErrQuotaExceeded)
		}},
		{"bad request", http.StatusBadRequest, `{"errors":[{"message":"Distance is invalid"}]}`, func(err error) bool {
			var re *RequestError
			return errors.As(err, &re) && re.Message == "Distance is invalid"
		}},
		{"server error", http.StatusInternalServerError, `oops`, func(err error) bool {
			var te *TransportError
			return errors.As(err, &te)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			t.Cleanup(srv.Close)

			c := testClient(t, srv, DefaultQuota)
			_, err := c.CreateActivity(context.Background(), Activity{
				Type: ActivityWalking, DistanceMiles: 1, StartTime: time.Now(), DurationMinutes: 20,
			})
			if err == nil || !tc.check(err) {
				t.Errorf("got %v, want %s classification", err, tc.name)
			}
		})
	}
}

// TestCreateActivityMissingLogID verifies a 200 response without a logId is
// treated as a transport failure, not success.
func TestCreateActivityMissingLogID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"activityLog":{}}`))
	}))
	t.Cleanup(srv.Close)

	c := testClient(t, srv, DefaultQuota)
	_, err := c.CreateActivity(context.Background(), Activity{
		Type: ActivityWalking, DistanceMiles: 1, StartTime: time.Now(), DurationMinutes: 20,
	})
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("got %v, want TransportError", err)
	}
}

// TestCreateActivityQuotaShortCircuit verifies a full local window rejects the
// call before any request is sent.
func TestCreateActivityQuotaShortCircuit(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write([]byte(`{"activityLog":{"logId":1}}`))
	}))
	t.Cleanup(srv.Close)

	c := testClient(t, srv, 1)
	a := Activity{Type: ActivityWalking, DistanceMiles: 1, StartTime: time.Now(), DurationMinutes: 20}

	if _, err := c.CreateActivity(context.Background(), a); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := c.CreateActivity(context.Background(), a); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("second call: got %v, want ErrQuotaExceeded", err)
	}
	if requests != 1 {
		t.Errorf("server saw %d requests, want 1", requests)
	}
}

// TestProfile verifies the health-check endpoint parse.
func TestProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/1/user/-/profile.json" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"user":{"encodedId":"ABC123","displayName":"Runner"}}`))
	}))
	t.Cleanup(srv.Close)

	c := testClient(t, srv, DefaultQuota)
	p, err := c.Profile(context.Background())
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if p.UserID != "ABC123" || p.DisplayName != "Runner" {
		t.Errorf("profile = %+v", p)
	}
}

// TestActivityTypeIDs verifies the stable activity codes and the Walking
// fallback for unknown types.
func TestActivityTypeIDs(t *testing.T) {
	cases := []struct {
		typ  ActivityType
		want int
	}{
		{ActivityWalking, 90013},
		{ActivityRunning, 90009},
		{ActivityTreadmill, 15000},
		{ActivityType("Swimming"), 90013},
	}
	for _, tc := range cases {
		if got := tc.typ.ID(); got != tc.want {
			t.Errorf("%s.ID() = %d, want %d", tc.typ, got, tc.want)
		}
	}
	if ActivityType("Swimming").Known() {
		t.Error("Swimming reported as known")
	}
}
