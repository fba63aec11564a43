package ratelimit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// UpstashStrategy talks to the Upstash Redis REST API. The three commands run
// as one transaction on the /multi-exec endpoint.
type UpstashStrategy struct {
	url    string
	token  string
	client *http.Client
	points int
	window time.Duration
	now    func() time.Time
}

func NewUpstashStrategy(url, token string, cfg Config) *UpstashStrategy {
	cfg = cfg.withDefaults()
	return &UpstashStrategy{
		url:    strings.TrimRight(url, "/"),
		token:  token,
		client: &http.Client{Timeout: 2 * time.Second},
		points: cfg.Points,
		window: cfg.Window,
		now:    time.Now,
	}
}

func (u *UpstashStrategy) Name() string {
	return "upstash"
}

type upstashResult struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

func (u *UpstashStrategy) Decide(ctx context.Context, route, ip string) Decision {
	count, ttl, err := u.incr(ctx, remoteKey(route, ip))
	if err != nil {
		return Decision{Verdict: Indeterminate, Strategy: u.Name(), Err: err}
	}

	verdict := Allow
	if count > int64(u.points) {
		verdict = Deny
	}

	// PTTL ran before PEXPIRE, so a fresh key reports -1
	reset := u.window
	if ttl > 0 {
		reset = time.Duration(ttl) * time.Millisecond
	}

	return Decision{
		Verdict:   verdict,
		Strategy:  u.Name(),
		Limit:     u.points,
		Remaining: remaining(u.points, count),
		ResetAt:   u.now().Add(reset),
	}
}

func (u *UpstashStrategy) incr(ctx context.Context, key string) (int64, int64, error) {
	commands := [][]interface{}{
		{"INCR", key},
		{"PTTL", key},
		{"PEXPIRE", key, u.window.Milliseconds()},
	}
	payload, err := json.Marshal(commands)
	if err != nil {
		return 0, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url+"/multi-exec", bytes.NewReader(payload))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+u.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-store")

	res, err := u.client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		return 0, 0, fmt.Errorf("upstash status=%d", res.StatusCode)
	}

	var results []upstashResult
	if err := json.NewDecoder(res.Body).Decode(&results); err != nil {
		return 0, 0, fmt.Errorf("decode upstash reply: %w", err)
	}
	if len(results) < 2 {
		return 0, 0, fmt.Errorf("upstash returned %d results", len(results))
	}
	for _, r := range results {
		if r.Error != "" {
			return 0, 0, fmt.Errorf("upstash: %s", r.Error)
		}
	}

	count, err := parseInt(results[0].Result)
	if err != nil {
		return 0, 0, fmt.Errorf("parse INCR result: %w", err)
	}
	ttl, err := parseInt(results[1].Result)
	if err != nil {
		return 0, 0, fmt.Errorf("parse PTTL result: %w", err)
	}

	return count, ttl, nil
}

// Upstash may encode integers as JSON numbers or strings
func parseInt(raw json.RawMessage) (int64, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return 0, fmt.Errorf("empty result")
	}
	return strconv.ParseInt(s, 10, 64)
}
