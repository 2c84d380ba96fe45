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
	"strconv"
	"time"

	"github.com/studybuddy/buddychat/internal/store"
)

func main() {
	addrFlag := flag.String("addr", "http://127.0.0.1:8080", "daemon base URL")
	tokenFlag := flag.String("token", os.Getenv("BUDDYCHAT_TOKEN"), "bearer token (defaults to $BUDDYCHAT_TOKEN)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := &client{
		base:  *addrFlag,
		token: *tokenFlag,
		http:  &http.Client{Timeout: 10 * time.Second},
	}

	switch args[0] {
	case "token":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: buddyctl token <user-id> [display-name]")
			os.Exit(1)
		}
		name := ""
		if len(args) > 2 {
			name = args[2]
		}
		cmdToken(c, args[1], name)
	case "rooms":
		cmdRooms(c, *jsonFlag)
	case "history":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: buddyctl history <room-key> [limit]")
			os.Exit(1)
		}
		limit := 0
		if len(args) > 2 {
			limit, _ = strconv.Atoi(args[2])
		}
		cmdHistory(c, args[1], limit, *jsonFlag)
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: buddyctl send <recipient-id> <text>")
			os.Exit(1)
		}
		cmdSend(c, args[1], args[2])
	case "purge":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: buddyctl purge <room-key>")
			os.Exit(1)
		}
		cmdPurge(c, args[1])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: buddyctl [--addr <url>] [--token <jwt>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  token <user-id> [name]     Mint a bearer token")
	fmt.Fprintln(os.Stderr, "  rooms                      List rooms you participate in")
	fmt.Fprintln(os.Stderr, "  history <room-key> [n]     Show recent messages in a room")
	fmt.Fprintln(os.Stderr, "  send <recipient-id> <text> Send a message")
	fmt.Fprintln(os.Stderr, "  purge <room-key>           Delete a room's message history")
}

type client struct {
	base  string
	token string
	http  *http.Client
}

func (c *client) request(method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("%s (%d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("daemon returned %d", resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}

func cmdToken(c *client, userID, name string) {
	q := url.Values{}
	q.Set("user_id", userID)
	if name != "" {
		q.Set("name", name)
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.request(http.MethodGet, "/token?"+q.Encode(), nil, &resp); err != nil {
		fatal(err)
	}
	fmt.Println(resp.Token)
}

func cmdRooms(c *client, jsonOut bool) {
	var resp struct {
		Rooms []store.Room `json:"rooms"`
	}
	if err := c.request(http.MethodGet, "/rooms", nil, &resp); err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(resp.Rooms)
		return
	}
	if len(resp.Rooms) == 0 {
		fmt.Println("no rooms")
		return
	}
	for _, r := range resp.Rooms {
		fmt.Printf("%s  (%s, %s)\n", r.Key, r.User1ID, r.User2ID)
	}
}

func cmdHistory(c *client, roomKey string, limit int, jsonOut bool) {
	path := "/rooms/" + url.PathEscape(roomKey) + "/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Messages []store.Message `json:"messages"`
	}
	if err := c.request(http.MethodGet, path, nil, &resp); err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(resp.Messages)
		return
	}
	// The endpoint returns newest first; print oldest first for reading.
	for i := len(resp.Messages) - 1; i >= 0; i-- {
		m := resp.Messages[i]
		ts := time.UnixMilli(m.Timestamp).Local().Format("2006-01-02 15:04:05")
		fmt.Printf("[%s] %s: %s\n", ts, m.SenderName, m.Body)
	}
}

func cmdSend(c *client, recipientID, text string) {
	var resp struct {
		RoomKey string `json:"room_key"`
	}
	err := c.request(http.MethodPost, "/messages", map[string]string{
		"recipient_id": recipientID,
		"text":         text,
	}, &resp)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("sent to %s\n", resp.RoomKey)
}

func cmdPurge(c *client, roomKey string) {
	var resp struct {
		Deleted int `json:"deleted"`
	}
	err := c.request(http.MethodDelete, "/rooms/"+url.PathEscape(roomKey)+"/messages", nil, &resp)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("deleted %d messages\n", resp.Deleted)
}
