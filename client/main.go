// Command client is a terminal chat client. Besides chatting it pages
// through history and decodes message and token ids.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/mahaj/flakeid/pkg/model"
	"github.com/mahaj/flakeid/pkg/snowflake"
)

var (
	userColor  = color.New(color.FgCyan, color.Bold)
	metaColor  = color.New(color.FgHiBlack)
	errorColor = color.New(color.FgRed)
	eventColor = color.New(color.FgYellow)
)

type LoginResponse struct {
	Token   string `json:"token"`
	TokenID string `json:"token_id"`
}

type historyPage struct {
	Messages []model.Message `json:"messages"`
	Oldest   snowflake.ID    `json:"oldest"`
}

// idDecoder turns message ids back into creation time and origin. It must use
// the layout and epoch the services run with.
type idDecoder struct {
	layout snowflake.Layout
	epoch  time.Time
}

func newIDDecoder(cmd *cobra.Command) (idDecoder, error) {
	layoutFlag, _ := cmd.Flags().GetString("layout")
	epochFlag, _ := cmd.Flags().GetString("epoch")
	layout, err := snowflake.ParseLayout(layoutFlag)
	if err != nil {
		return idDecoder{}, fmt.Errorf("--layout: %w", err)
	}
	epoch, err := time.Parse(time.RFC3339, epochFlag)
	if err != nil {
		return idDecoder{}, fmt.Errorf("--epoch: %w", err)
	}
	return idDecoder{layout: layout, epoch: epoch}, nil
}

func (d idDecoder) parts(id snowflake.ID) (time.Time, int64, int64) {
	delta, node, seq := d.layout.Unpack(id)
	return d.epoch.Add(time.Duration(delta) * time.Millisecond), node, seq
}

func (d idDecoder) describe(id snowflake.ID) string {
	if id == 0 {
		return "unstamped"
	}
	created, node, seq := d.parts(id)
	return fmt.Sprintf("%s n%d #%d", created.Local().Format("15:04:05.000"), node, seq)
}

func login(apiAddr, userID string) (*LoginResponse, error) {
	reqBody, _ := json.Marshal(map[string]string{"user_id": userID})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("login failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var loginResp LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return nil, err
	}
	return &loginResp, nil
}

func fetchHistory(apiAddr, token, channelID string, before snowflake.ID, limit int) (*historyPage, error) {
	q := url.Values{"channel_id": {channelID}, "limit": {fmt.Sprint(limit)}}
	if before != 0 {
		q.Set("before", before.String())
	}
	req, err := http.NewRequest(http.MethodGet, apiAddr+"/history?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("history: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var page historyPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, err
	}
	return &page, nil
}

func printMessage(dec idDecoder, msg *model.Message) {
	switch msg.Type {
	case model.TypeTyping:
		eventColor.Printf("\rUser %s is typing...      \n> ", msg.UserID)
	case model.TypePresence:
		eventColor.Printf("\r%s %s\n> ", msg.UserID, msg.Content)
	case model.TypeError:
		errorColor.Printf("\r! %s\n> ", msg.Content)
	default:
		fmt.Print("\r")
		metaColor.Printf("[%s] ", dec.describe(msg.ID))
		userColor.Printf("%s", msg.UserID)
		fmt.Printf(": %s\n> ", msg.Content)
	}
}

// channelFor resolves -channel and -dm into the channel to join.
func channelFor(cmd *cobra.Command) string {
	user, _ := cmd.Flags().GetString("user")
	channel, _ := cmd.Flags().GetString("channel")
	if dm, _ := cmd.Flags().GetString("dm"); dm != "" {
		return model.DMChannel(user, dm)
	}
	return channel
}

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print a channel's history, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiAddr, _ := cmd.Flags().GetString("api")
			user, _ := cmd.Flags().GetString("user")
			pages, _ := cmd.Flags().GetInt("pages")
			dec, err := newIDDecoder(cmd)
			if err != nil {
				return err
			}
			session, err := login(apiAddr, user)
			if err != nil {
				return err
			}

			var (
				before snowflake.ID
				all    []model.Message
			)
			for i := 0; i < pages; i++ {
				page, err := fetchHistory(apiAddr, session.Token, channelFor(cmd), before, 50)
				if err != nil {
					return err
				}
				all = append(all, page.Messages...)
				if page.Oldest == 0 {
					break
				}
				before = page.Oldest
			}
			for i := len(all) - 1; i >= 0; i-- {
				metaColor.Printf("[%s] ", dec.describe(all[i].ID))
				userColor.Printf("%s", all[i].UserID)
				fmt.Printf(": %s\n", all[i].Content)
			}
			return nil
		},
	}
	cmd.Flags().Int("pages", 1, "pages of 50 messages to fetch")
	return cmd
}

func newDecodeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode <id>...",
		Short: "Show the creation time, node and sequence of ids",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dec, err := newIDDecoder(cmd)
			if err != nil {
				return err
			}
			b62, _ := cmd.Flags().GetBool("base62")
			for _, arg := range args {
				parse := snowflake.ParseString
				if b62 {
					parse = snowflake.ParseBase62
				}
				id, err := parse(arg)
				if err != nil {
					return err
				}
				created, node, seq := dec.parts(id)
				fmt.Fprintf(cmd.OutOrStdout(), "%s\ttime=%s\tnode=%d\tseq=%d\tbase62=%s\n",
					id, created.UTC().Format(time.RFC3339Nano), node, seq, id.Base62())
			}
			return nil
		},
	}
	cmd.Flags().Bool("base62", false, "ids are base62, as in token ids")
	return cmd
}

func newRootCommand(logger hclog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "client",
		Short:         "Terminal client for the chat services",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.String("addr", "localhost:8080", "gateway service address")
	pf.String("api", "http://localhost:8081", "api service address")
	pf.String("user", "user1", "user id")
	pf.String("channel", "general", "channel id")
	pf.String("dm", "", "user id to dm (overrides --channel)")
	pf.String("layout", snowflake.DefaultLayout.String(), "id layout the services use")
	pf.String("epoch", snowflake.DefaultEpoch.Format(time.RFC3339), "id epoch the services use")

	root.AddCommand(newChatCommand(logger), newHistoryCommand(), newDecodeCommand())
	return root
}

func main() {
	logger := hclog.New(&hclog.LoggerOptions{Name: "client", Level: hclog.Info})
	if err := newRootCommand(logger).Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
