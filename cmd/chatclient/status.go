package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type connectionStatus struct {
	State     string `json:"state"`
	LastError string `json:"last_error"`
	Restoring bool   `json:"restoring"`
	Pending   int    `json:"pending"`
	Frames    struct {
		Responses uint64 `json:"responses"`
		Unmatched uint64 `json:"unmatched"`
		Messages  uint64 `json:"messages"`
		Events    uint64 `json:"events"`
		Unknown   uint64 `json:"unknown"`
		Malformed uint64 `json:"malformed"`
	} `json:"frames"`
}

func newStatusCmd() *cobra.Command {
	var (
		addr   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the connection status of a running client",
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := fetchStatus(cmd, addr)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "state:     %s\n", status.State)
			if status.LastError != "" {
				fmt.Fprintf(out, "error:     %s\n", status.LastError)
			}
			fmt.Fprintf(out, "restoring: %v\n", status.Restoring)
			fmt.Fprintf(out, "pending:   %d\n", status.Pending)
			_, err = fmt.Fprintf(out, "frames:    %d responses, %d unmatched, %d messages, %d events, %d unknown, %d malformed\n",
				status.Frames.Responses, status.Frames.Unmatched, status.Frames.Messages,
				status.Frames.Events, status.Frames.Unknown, status.Frames.Malformed)
			return err
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:9090", "status API address of the running client")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	return cmd
}

func fetchStatus(cmd *cobra.Command, addr string) (*connectionStatus, error) {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, strings.TrimRight(base, "/")+"/connection", nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}
	httpClient := &http.Client{Timeout: 5 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch status from %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status API returned %s", resp.Status)
	}
	var status connectionStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &status, nil
}
