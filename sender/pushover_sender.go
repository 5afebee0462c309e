package sender

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const pushoverAPIURL = "https://api.pushover.net/1/messages.json"

type PushoverSender struct {
	appToken   string
	userKey    string
	apiURL     string
	httpClient *http.Client
	pacer      *rate.Limiter
}

func NewPushoverSender(appToken, userKey string) (*PushoverSender, error) {
	if appToken == "" {
		return nil, fmt.Errorf("pushover app token not set")
	}
	if userKey == "" {
		return nil, fmt.Errorf("pushover user key not set")
	}

	return &PushoverSender{
		appToken:   appToken,
		userKey:    userKey,
		apiURL:     pushoverAPIURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		pacer:      rate.NewLimiter(rate.Every(time.Second), 3),
	}, nil
}

// WithAPIURL points the sender at a different endpoint.
func (p *PushoverSender) WithAPIURL(u string) *PushoverSender {
	p.apiURL = u
	return p
}

// WithPacing limits how often the Pushover API is called. Sends over the
// limit wait, bounded by the caller's context.
func (p *PushoverSender) WithPacing(every time.Duration, burst int) *PushoverSender {
	p.pacer = rate.NewLimiter(rate.Every(every), burst)
	return p
}

func (p *PushoverSender) Notify(ctx context.Context, n Notification) (SendResult, error) {
	formData := url.Values{}
	formData.Set("token", p.appToken)
	formData.Set("user", p.userKey)
	formData.Set("message", n.Message)
	formData.Set("priority", strconv.Itoa(int(n.Priority)))
	if n.Title != "" {
		formData.Set("title", n.Title)
	}
	if n.URL != "" {
		formData.Set("url", n.URL)
	}
	if n.URLTitle != "" {
		formData.Set("url_title", n.URLTitle)
	}
	// Emergency messages repeat until acknowledged.
	if n.Priority == PriorityEmergency {
		formData.Set("retry", "60")
		formData.Set("expire", "3600")
	}

	if err := p.pacer.Wait(ctx); err != nil {
		return SendResult{}, fmt.Errorf("pushover send not paced before deadline: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL,
		strings.NewReader(formData.Encode()))
	if err != nil {
		return SendResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("pushover request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return SendResult{}, fmt.Errorf("pushover error %s: %s", resp.Status, string(respBody))
	}

	return SendResult{
		MessageID: fmt.Sprintf("pushover-%d", time.Now().UnixNano()),
		SentAt:    time.Now(),
	}, nil
}
