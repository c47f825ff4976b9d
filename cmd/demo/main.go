// Command demo walks through the sliding window limiter without a server:
// one user exhausting the limit, then several users limited independently.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"ratelimiter/internal/ratelimit"
)

var (
	maxRequests = flag.Int("max-requests", 5, "Requests admitted per window")
	window      = flag.Duration("window", 60*time.Second, "Sliding window length")
	attempts    = flag.Int("requests", 7, "Requests made by the first user")
)

func main() {
	flag.Parse()

	limiter, err := ratelimit.NewSlidingWindowLimiter[string](*maxRequests, *window)
	if err != nil {
		slog.Error("Failed to create rate limiter", "error", err)
		os.Exit(1)
	}

	if err := run(os.Stdout, limiter, *attempts); err != nil {
		slog.Error("Demo failed", "error", err)
		os.Exit(1)
	}
}

func run(w io.Writer, limiter *ratelimit.SlidingWindowLimiter[string], attempts int) error {
	rule := strings.Repeat("=", 60)
	thin := strings.Repeat("-", 60)

	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "Rate Limiter - Example")
	fmt.Fprintln(w, rule)

	const userID = "user123"
	fmt.Fprintf(w, "\nTesting rate limiter for user: %s\n", userID)
	fmt.Fprintf(w, "Limit: %d requests per %s\n\n", limiter.MaxRequests(), limiter.Window())

	fmt.Fprintf(w, "Simulating %d requests:\n", attempts)
	fmt.Fprintln(w, thin)

	for i := range attempts {
		allowed, status, err := limiter.Allow(userID)
		if err != nil {
			return fmt.Errorf("request %d: %w", i+1, err)
		}

		label := "[BLOCKED]"
		if allowed {
			label = "[ALLOWED]"
		}
		fmt.Fprintf(w, "Request %d: %s\n", i+1, label)
		fmt.Fprintf(w, "  Current requests: %d/%d\n", status.CurrentRequests, status.MaxRequests)
		if allowed {
			fmt.Fprintf(w, "  Remaining: %d\n", status.RemainingRequests)
		} else {
			fmt.Fprintf(w, "  Time until reset: %.1fs\n", status.TimeUntilReset.Seconds())
		}
		fmt.Fprintln(w)
	}

	status, err := limiter.Status(userID)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	fmt.Fprintln(w, thin)
	fmt.Fprintln(w, "Current status:")
	fmt.Fprintf(w, "  User: %s\n", userID)
	fmt.Fprintf(w, "  Requests: %d/%d\n", status.CurrentRequests, status.MaxRequests)
	fmt.Fprintf(w, "  Remaining: %d\n", status.RemainingRequests)
	fmt.Fprintf(w, "  Allowed: %t\n", status.WouldAllow())

	fmt.Fprintln(w, "\n"+rule)
	fmt.Fprintln(w, "Testing with multiple users:")
	fmt.Fprintln(w, rule)

	users := []string{"alice", "bob", "charlie"}
	for _, user := range users {
		fmt.Fprintf(w, "\nUser: %s\n", user)
		for i := range 3 {
			allowed, status, err := limiter.Allow(user)
			if err != nil {
				return fmt.Errorf("%s request %d: %w", user, i+1, err)
			}
			label := "[BLOCKED]"
			if allowed {
				label = "[OK]"
			}
			fmt.Fprintf(w, "  Request %d: %s (%d/%d)\n", i+1, label, status.CurrentRequests, status.MaxRequests)
		}
	}

	fmt.Fprintln(w, "\n"+thin)
	fmt.Fprintln(w, "Status for all users:")
	for _, user := range users {
		status, err := limiter.Status(user)
		if err != nil {
			return fmt.Errorf("%s status: %w", user, err)
		}
		fmt.Fprintf(w, "  %s: %d/%d (remaining: %d)\n",
			user, status.CurrentRequests, status.MaxRequests, status.RemainingRequests)
	}
	return nil
}
