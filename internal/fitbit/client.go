package fitbit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/stridesync/stridesync/internal/observability"
)

const (
	// DefaultBaseURL is the Fitbit Web API root.
	DefaultBaseURL = "https://api.fitbit.com"

	authURL  = "https://www.fitbit.com/oauth2/authorize"
	tokenURL = "https://api.fitbit.com/oauth2/token"

	// ScopeActivity is the only OAuth scope the sync needs.
	ScopeActivity = "activity"
)

// ActivityType names a supported workout category.
type ActivityType string

const (
	ActivityWalking   ActivityType = "Walking"
	ActivityRunning   ActivityType = "Running"
	ActivityTreadmill ActivityType = "Treadmill"
)

// activityIDs maps activity types to Fitbit's stable numeric activity codes.
var activityIDs = map[ActivityType]int{
	ActivityWalking:   90013,
	ActivityRunning:   90009,
	ActivityTreadmill: 15000,
}

// ID returns the Fitbit activity code. Unknown types fall back to Walking.
func (t ActivityType) ID() int {
	if id, ok := activityIDs[t]; ok {
		return id
	}
	return activityIDs[ActivityWalking]
}

// Known reports whether t is one of the supported activity types.
func (t ActivityType) Known() bool {
	_, ok := activityIDs[t]
	return ok
}

// OAuthConfig builds the oauth2 client configuration for Fitbit.
// Fitbit expects client credentials via basic auth on the token endpoint.
func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{ScopeActivity},
		Endpoint: oauth2.Endpoint{
			AuthURL:   authURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

// Activity is a completed workout ready to be logged remotely.
type Activity struct {
	Type            ActivityType
	DistanceMiles   float64
	StartTime       time.Time
	DurationMinutes int
	Steps           int // included in the payload when > 0
}

// Profile identifies the authenticated Fitbit user.
type Profile struct {
	UserID      string
	DisplayName string
}

// Client performs the two remote operations the sync needs: creating an
// activity log entry and fetching the user profile. Every call goes through
// the token store and the rate limiter, in that order.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  *TokenStore
	limiter *RateLimiter
	log     *slog.Logger
}

// NewClient creates a client for the given API base URL.
func NewClient(baseURL string, tokens *TokenStore, limiter *RateLimiter, log *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		tokens:  tokens,
		limiter: limiter,
		log:     log,
	}
}

// CreateActivity logs a workout and returns the remote log ID.
func (c *Client) CreateActivity(ctx context.Context, a Activity) (int64, error) {
	if err := c.tokens.EnsureValid(ctx); err != nil {
		return 0, err
	}
	if err := c.limiter.Admit(); err != nil {
		observability.RecordQuotaRejected()
		return 0, err
	}

	form := url.Values{}
	form.Set("activityId", strconv.Itoa(a.Type.ID()))
	form.Set("startTime", a.StartTime.Format("15:04"))
	form.Set("durationMillis", strconv.Itoa(a.DurationMinutes*60*1000))
	form.Set("date", a.StartTime.Format("2006-01-02"))
	form.Set("distance", strconv.FormatFloat(a.DistanceMiles, 'f', -1, 64))
	form.Set("distanceUnit", "mi")
	if a.Steps > 0 {
		form.Set("steps", strconv.Itoa(a.Steps))
	}

	body, err := c.postForm(ctx, "/1/user/-/activities.json", form)
	if err != nil {
		return 0, err
	}

	var resp struct {
		ActivityLog struct {
			LogID int64 `json:"logId"`
		} `json:"activityLog"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, &TransportError{Err: fmt.Errorf("decoding activity response: %w", err)}
	}
	if resp.ActivityLog.LogID == 0 {
		return 0, &TransportError{Err: fmt.Errorf("activity response missing logId")}
	}

	c.log.Info("created activity log",
		"type", string(a.Type),
		"distance_mi", a.DistanceMiles,
		"steps", a.Steps,
		"log_id", resp.ActivityLog.LogID,
	)
	return resp.ActivityLog.LogID, nil
}

// Profile fetches the authenticated user's profile. Used at startup as a
// credential health check; same auth and quota handling as CreateActivity.
func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	if err := c.tokens.EnsureValid(ctx); err != nil {
		return nil, err
	}
	if err := c.limiter.Admit(); err != nil {
		observability.RecordQuotaRejected()
		return nil, err
	}

	body, err := c.get(ctx, "/1/user/-/profile.json")
	if err != nil {
		return nil, err
	}

	var resp struct {
		User struct {
			EncodedID   string `json:"encodedId"`
			DisplayName string `json:"displayName"`
		} `json:"user"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &TransportError{Err: fmt.Errorf("decoding profile response: %w", err)}
	}
	return &Profile{UserID: resp.User.EncodedID, DisplayName: resp.User.DisplayName}, nil
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	return c.do(req)
}

// do sends the request with the current bearer token and maps response
// statuses onto the error taxonomy: 401 auth, 429 quota, 400 invalid request,
// anything else unexpected is a transport failure.
func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+c.tokens.AccessToken())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("reading response: %w", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &AuthError{Reason: "request unauthorized"}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrQuotaExceeded
	case resp.StatusCode == http.StatusBadRequest:
		return nil, &RequestError{Message: serviceMessage(body)}
	default:
		return nil, &TransportError{Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)}
	}
}

// serviceMessage extracts the human-readable message from a Fitbit error body.
func serviceMessage(body []byte) string {
	var e struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &e); err == nil && len(e.Errors) > 0 {
		return e.Errors[0].Message
	}
	return strings.TrimSpace(string(body))
}
