package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/adminpilot/control-plane/pkg/models"
	"github.com/spf13/cobra"
)

var (
	chatServer  string
	chatContext string
	chatConfirm string
	chatDecline bool
	chatTimeout time.Duration
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Send one message to the admin agent",
	Long: `Send one message to a running server and print the agent's reply.

Credentials come from ADMINPILOT_TOKEN (bearer) or ADMINPILOT_API_KEY.
When the agent holds a destructive action it prints the confirmation token;
answer it with --confirm <token>, or --confirm <token> --decline.`,
	Example: `  apctl chat --context chat_support "close every conversation idle for a week"
  apctl chat --confirm 3f2c...`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatServer, "server", envOr("ADMINPILOT_URL", "http://localhost:8080"), "control plane base URL")
	chatCmd.Flags().StringVar(&chatContext, "context", string(models.ContextGeneral), "working area: general, email_campaign or chat_support")
	chatCmd.Flags().StringVar(&chatConfirm, "confirm", "", "answer a pending action by token")
	chatCmd.Flags().BoolVar(&chatDecline, "decline", false, "decline the pending action instead of running it")
	chatCmd.Flags().DurationVar(&chatTimeout, "timeout", 3*time.Minute, "request timeout")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	req := models.ChatRequest{
		Message: strings.Join(args, " "),
		Context: models.RequestContext(chatContext),
	}
	if chatConfirm != "" {
		req.ConfirmAction = &models.ConfirmAction{Token: chatConfirm, Confirmed: !chatDecline}
	} else if req.Message == "" {
		return fmt.Errorf("a message is required")
	}

	resp, err := postChat(cmd.Context(), req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, resp.Response)
	for _, a := range resp.ActionsExecuted {
		mark := "✓"
		if !a.Success {
			mark = "✗"
		}
		if a.Pending {
			mark = "…"
		}
		fmt.Fprintf(out, "  %s %s %s\n", mark, a.Tool, a.Summary)
	}
	for _, p := range resp.PendingActions {
		fmt.Fprintf(out, "\nPending: %s\n  apctl chat --confirm %s\n", p.Summary, p.Token)
	}
	return nil
}

func postChat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(chatServer, "/")+"/api/v1/agent/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	switch {
	case os.Getenv("ADMINPILOT_TOKEN") != "":
		httpReq.Header.Set("Authorization", "Bearer "+os.Getenv("ADMINPILOT_TOKEN"))
	case os.Getenv("ADMINPILOT_API_KEY") != "":
		httpReq.Header.Set("X-API-Key", os.Getenv("ADMINPILOT_API_KEY"))
	}

	httpResp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	if httpResp.StatusCode != http.StatusOK {
		var e models.ErrorResponse
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("%s (%d %s)", e.Error, httpResp.StatusCode, e.Code)
		}
		return nil, fmt.Errorf("server returned %s", httpResp.Status)
	}

	var resp models.ChatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
