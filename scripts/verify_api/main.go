// verify_api is a smoke check against a running api service: it logs in,
// checks that the token id decodes to a fresh snowflake ID from the api's
// node, and pages through a channel's history checking id order.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mahaj/flakeid/pkg/model"
	"github.com/mahaj/flakeid/pkg/snowflake"
)

type LoginResponse struct {
	Token   string `json:"token"`
	TokenID string `json:"token_id"`
}

type historyPage struct {
	Messages []model.Message `json:"messages"`
	Oldest   snowflake.ID    `json:"oldest"`
}

func main() {
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	channel := flag.String("channel", model.DMChannel("test_user", "userB"), "channel to page through")
	pages := flag.Int("pages", 3, "history pages to fetch")
	flag.Parse()

	logger := hclog.New(&hclog.LoggerOptions{Name: "verify-api", Level: hclog.Info})
	if err := run(*apiAddr, *channel, *pages, logger); err != nil {
		logger.Error("verification failed", "error", err)
		os.Exit(1)
	}
	logger.Info("ok")
}

func run(apiAddr, channel string, pages int, logger hclog.Logger) error {
	reqBody, _ := json.Marshal(map[string]string{"user_id": "test_user"})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("login: %s: %s", resp.Status, body)
	}
	var login LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		return fmt.Errorf("login response: %w", err)
	}

	jti, err := snowflake.ParseBase62(login.TokenID)
	if err != nil {
		return fmt.Errorf("token id %q: %w", login.TokenID, err)
	}
	delta, node, seq := snowflake.DefaultLayout.Unpack(jti)
	issued := snowflake.DefaultEpoch.Add(time.Duration(delta) * time.Millisecond)
	logger.Info("logged in", "token_id", login.TokenID, "id", jti, "node", node, "seq", seq, "issued", issued)
	if skew := time.Since(issued); skew < -time.Minute || skew > time.Minute {
		return fmt.Errorf("token id %s issued at %s, %s away from local time", jti, issued, skew)
	}

	var before snowflake.ID
	for i := 0; i < pages; i++ {
		page, err := history(apiAddr, login.Token, channel, before)
		if err != nil {
			return err
		}
		for j := 1; j < len(page.Messages); j++ {
			if page.Messages[j].ID >= page.Messages[j-1].ID {
				return fmt.Errorf("page %d not newest first at %d: %s after %s", i, j, page.Messages[j].ID, page.Messages[j-1].ID)
			}
		}
		if before != 0 && len(page.Messages) > 0 && page.Messages[0].ID >= before {
			return fmt.Errorf("page %d starts at %s, cursor was %s", i, page.Messages[0].ID, before)
		}
		logger.Info("history page", "page", i, "messages", len(page.Messages), "oldest", page.Oldest)
		if page.Oldest == 0 {
			break
		}
		before = page.Oldest
	}
	return nil
}

func history(apiAddr, token, channel string, before snowflake.ID) (*historyPage, error) {
	q := url.Values{"channel_id": {channel}, "limit": {"10"}}
	if before != 0 {
		q.Set("before", before.String())
	}
	req, err := http.NewRequest(http.MethodGet, apiAddr+"/history?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Add("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("history: %s: %s", resp.Status, body)
	}
	var page historyPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("history response: %w", err)
	}
	return &page, nil
}
