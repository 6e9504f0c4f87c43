package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// TriggerOrgView is one org line from the trigger response.
type TriggerOrgView struct {
	OrgID         string `json:"orgId"`
	OrgName       string `json:"orgName"`
	BatchJobID    string `json:"batchJobId"`
	Action        string `json:"action"`
	DriverStarted bool   `json:"driverStarted"`
	Error         string `json:"error"`
}

// TriggerView is the trigger endpoint response.
type TriggerView struct {
	Success        bool             `json:"success"`
	Date           string           `json:"date"`
	TotalOrgs      int              `json:"totalOrgs"`
	SuccessfulJobs int              `json:"successfulJobs"`
	FailedJobs     int              `json:"failedJobs"`
	OrgResults     []TriggerOrgView `json:"orgResults"`
}

// JobIDs lists the jobs a watcher should follow after this trigger run.
func (v *TriggerView) JobIDs() []string {
	ids := make([]string, 0, len(v.OrgResults))
	for _, r := range v.OrgResults {
		if r.BatchJobID != "" && r.Action != "skipped" {
			ids = append(ids, r.BatchJobID)
		}
	}
	return ids
}

// Client calls the batch API's trigger endpoint.
type Client struct {
	baseURL       string
	token         string
	triggerSecret string
	client        *http.Client
}

func NewClient(baseURL, token, triggerSecret string) *Client {
	return &Client{
		baseURL:       baseURL,
		token:         token,
		triggerSecret: triggerSecret,
		client:        &http.Client{Timeout: 5 * time.Minute},
	}
}

// Trigger fires the daily sweep and returns the per-org report.
func (c *Client) Trigger(ctx context.Context, force bool) (*TriggerView, error) {
	body, _ := json.Marshal(struct {
		TriggerSource string `json:"trigger_source"`
		Force         bool   `json:"force"`
	}{"monitor-cli", force})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/daily-batch-trigger", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-Trigger-Secret", c.triggerSecret)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("trigger returned status %d", resp.StatusCode)
	}
	var view TriggerView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return nil, err
	}
	return &view, nil
}
