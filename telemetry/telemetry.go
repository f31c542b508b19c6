// Package telemetry wraps the single-line HTTP POST of an axis's encoder
// position to a remote time-series collector, grounded on
// drivesystemlib.send_to_influx: a line-protocol payload, basic auth
// credentials, and a failure mode that logs but never returns an error to
// the caller. Each push is a synchronous request, bounded by a 5 s timeout.
package telemetry

import (
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

// Client posts encoder positions to a configured endpoint. The zero value
// is disabled (Push is a no-op), matching a store with no Grafana
// endpoint configured.
type Client struct {
	Endpoint string
	Username string
	Password string

	httpClient *http.Client
}

// New builds a Client posting to endpoint with basic-auth credentials.
// An empty endpoint disables pushes entirely.
func New(endpoint, username, password string) *Client {
	return &Client{
		Endpoint: endpoint,
		Username: username,
		Password: password,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // matches verify=False on the original endpoint
			},
		},
	}
}

// Push sends one axis's current encoder position as a line-protocol
// payload: "encoder,axis=<n>,name=<name> value=<position>". Errors are
// logged, never returned, so a telemetry outage can never interrupt
// motion control.
func (c *Client) Push(axis int, name string, position int) {
	if c == nil || c.Endpoint == "" {
		return
	}
	name = strings.ReplaceAll(name, " ", "_")
	payload := fmt.Sprintf("encoder,axis=%d,name=%s value=%d", axis, name, position)

	req, err := http.NewRequest(http.MethodPost, c.Endpoint, strings.NewReader(payload))
	if err != nil {
		log.Printf("telemetry: build request: %v", err)
		return
	}
	if c.Username != "" {
		req.SetBasicAuth(c.Username, c.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("telemetry: push axis %d: %v", axis, err)
		return
	}
	resp.Body.Close()
}
