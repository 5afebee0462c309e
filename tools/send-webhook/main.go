// send-webhook posts a signed stock alert to a running agent, the same way
// the inbox monitor does.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/models"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/signature"
)

var Version = "dev"

type options struct {
	url         string
	secret      string
	eventID     string
	subject     string
	directLink  string
	productHint string
	mode        string
	skew        time.Duration
	timeout     time.Duration
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "send-webhook",
		Short: "Send a signed test stock alert to the purchase agent",
		Long: `Send a signed test stock alert to the purchase agent.

Examples:
  send-webhook --link https://shop.example.com/products/fortaleza-blanco
  send-webhook --hint "Fortaleza Reposado" --mode dryrun
  send-webhook --skew -10m   # exercise the stale timestamp check`,
		Version:      Version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.OutOrStdout(), opts, time.Now())
		},
	}

	cmd.Flags().StringVarP(&opts.url, "url", "u", envOr("AGENT_URL", "http://localhost:8080"), "agent base URL")
	cmd.Flags().StringVar(&opts.secret, "secret", os.Getenv("PI_WEBHOOK_SHARED_SECRET"), "shared webhook secret")
	cmd.Flags().StringVar(&opts.eventID, "event-id", "", "event id (random when empty)")
	cmd.Flags().StringVarP(&opts.subject, "subject", "s", "Fortaleza is back in stock", "email subject")
	cmd.Flags().StringVarP(&opts.directLink, "link", "l", "", "direct product link")
	cmd.Flags().StringVar(&opts.productHint, "hint", "", "product hint used for the search fallback")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "", "mode override (dryrun, test, prod)")
	cmd.Flags().DurationVar(&opts.skew, "skew", 0, "offset applied to the signed timestamp")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "request timeout")

	return cmd
}

func run(out io.Writer, opts *options, now time.Time) error {
	if opts.secret == "" {
		return fmt.Errorf("shared secret required: set --secret or PI_WEBHOOK_SHARED_SECRET")
	}

	req, err := buildRequest(opts, now)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: opts.timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	fmt.Fprintf(out, "%s\n%s\n", resp.Status, strings.TrimSpace(string(body)))
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("agent answered %d", resp.StatusCode)
	}
	return nil
}

// buildRequest signs "{timestamp}.{compact json}" with the shared secret.
func buildRequest(opts *options, now time.Time) (*http.Request, error) {
	eventID := opts.eventID
	if eventID == "" {
		eventID = "test-" + uuid.NewString()
	}
	event := models.StockAlertEvent{
		EventID:     eventID,
		ReceivedAt:  now.UTC().Format(time.RFC3339),
		Subject:     opts.subject,
		DirectLink:  opts.directLink,
		ProductHint: opts.productHint,
		Mode:        opts.mode,
	}
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}

	ts := strconv.FormatInt(now.Add(opts.skew).Unix(), 10)
	req, err := http.NewRequest(http.MethodPost, strings.TrimSuffix(opts.url, "/")+"/webhook/pi", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-Signature", signature.Sign(opts.secret, ts, body))
	return req, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
