package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/mahaj/flakeid/pkg/model"
	"github.com/mahaj/flakeid/pkg/snowflake"
)

func newChatCommand(logger hclog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Join a channel and chat; /typing, /history, /more and /quit are commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			dec, err := newIDDecoder(cmd)
			if err != nil {
				return err
			}
			serverAddr, _ := cmd.Flags().GetString("addr")
			apiAddr, _ := cmd.Flags().GetString("api")
			userID, _ := cmd.Flags().GetString("user")
			return chat(logger, dec, serverAddr, apiAddr, userID, channelFor(cmd))
		},
	}
}

func chat(logger hclog.Logger, dec idDecoder, serverAddr, apiAddr, userID, channelID string) error {
	logger.Info("logging in", "user", userID)
	session, err := login(apiAddr, userID)
	if err != nil {
		return err
	}
	if jti, err := snowflake.ParseBase62(session.TokenID); err == nil {
		logger.Info("login successful", "token_id", session.TokenID, "issued", dec.describe(jti))
	}

	u := url.URL{Scheme: "ws", Host: serverAddr, Path: "/ws"}
	q := u.Query()
	q.Set("channel", channelID)
	u.RawQuery = q.Encode()
	logger.Info("connecting", "url", u.String())

	header := http.Header{}
	header.Add("Authorization", "Bearer "+session.Token)
	c, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer c.Close()

	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				logger.Info("connection closed", "error", err)
				return
			}
			// The gateway batches queued frames, one per line.
			for _, frame := range bytes.Split(message, []byte{'\n'}) {
				var msg model.Message
				if err := json.Unmarshal(frame, &msg); err != nil {
					fmt.Printf("\rraw: %s\n> ", frame)
					continue
				}
				printMessage(dec, &msg)
			}
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	go func() {
		var cursor snowflake.ID
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			text := scanner.Text()
			switch {
			case text == "":
			case text == "/quit":
				interrupt <- os.Interrupt
				return
			case text == "/typing":
				jsonMsg, _ := json.Marshal(model.Message{Type: model.TypeTyping})
				if err := c.WriteMessage(websocket.TextMessage, jsonMsg); err != nil {
					logger.Error("write failed", "error", err)
					return
				}
			case text == "/history", text == "/more":
				if text == "/history" {
					cursor = 0
				}
				page, err := fetchHistory(apiAddr, session.Token, channelID, cursor, 20)
				if err != nil {
					errorColor.Printf("! %v\n", err)
					break
				}
				for i := len(page.Messages) - 1; i >= 0; i-- {
					printMessage(dec, &page.Messages[i])
				}
				if page.Oldest != 0 {
					cursor = page.Oldest
				}
			default:
				if err := c.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
					logger.Error("write failed", "error", err)
					return
				}
			}
			fmt.Print("> ")
		}
	}()

	for {
		select {
		case <-done:
			return nil
		case <-interrupt:
			// Cleanly close the connection by sending a close message and then
			// waiting (with timeout) for the server to close the connection.
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				return fmt.Errorf("write close: %w", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return nil
		}
	}
}
