// Package pushover implements a notifier.Notifier for the Pushover push
// notification service, used to reach field stations (hospital desks, fire
// stations, utility control rooms).
package pushover

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/respondmesh/respondmesh/internal/port/notifier"
)

const (
	providerName = "pushover"
	defaultAPI   = "https://api.pushover.net/1/messages.json"

	// Emergency-priority messages must name how often Pushover re-alerts and
	// for how long before giving up.
	emergencyRetrySeconds  = 30
	emergencyExpireSeconds = 300
)

func init() {
	notifier.Register(providerName, func(config map[string]string) (notifier.Notifier, error) {
		n := NewNotifier(config["token"], config["user"])
		if apiURL := config["api_url"]; apiURL != "" {
			n.apiURL = apiURL
		}
		return n, nil
	})
}

// Notifier sends notifications through the Pushover message API.
type Notifier struct {
	token      string
	user       string
	apiURL     string
	httpClient *http.Client
}

// NewNotifier creates a Pushover notifier with the given application token
// and user key. Missing credentials leave the notifier unconfigured; Send
// then returns notifier.ErrNotConfigured.
func NewNotifier(token, user string) *Notifier {
	return &Notifier{
		token:      token,
		user:       user,
		apiURL:     defaultAPI,
		httpClient: http.DefaultClient,
	}
}

func (n *Notifier) Name() string { return providerName }

func (n *Notifier) Send(ctx context.Context, notification notifier.Notification) error {
	if n.token == "" || n.user == "" {
		return notifier.ErrNotConfigured
	}

	form := url.Values{}
	form.Set("token", n.token)
	form.Set("user", n.user)
	form.Set("title", notification.Title)
	form.Set("message", notification.Message)
	form.Set("priority", strconv.Itoa(notification.Priority))
	if notification.Sound != "" {
		form.Set("sound", notification.Sound)
	}
	if notification.Priority >= 2 {
		form.Set("retry", strconv.Itoa(emergencyRetrySeconds))
		form.Set("expire", strconv.Itoa(emergencyExpireSeconds))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.apiURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("pushover request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pushover send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("pushover API %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}
