// Package main is a minimal HTTP health check binary for use in distroless
// containers. It exits 0 when the health endpoint returns HTTP 200, and 1
// otherwise. RATELIMITER_HEALTH_URL overrides the probed address.
package main

import (
	"net/http"
	"os"
	"time"

	"ratelimiter/internal/version"
)

const defaultHealthURL = "http://localhost:8080/health"

func main() {
	url := os.Getenv("RATELIMITER_HEALTH_URL")
	if url == "" {
		url = defaultHealthURL
	}

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		os.Exit(1)
	}
	req.Header.Set("User-Agent", version.GetInfo().UserAgent("healthcheck"))

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		os.Exit(1)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}
