package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/ent0n29/solace/internal/protocol"
)

type options struct {
	baseURL     string
	devKey      string
	turns       int
	texts       []string
	turnTimeout time.Duration
	verbose     bool
}

var defaultTexts = []string{
	"I have been feeling anxious about work lately.",
	"My sleep has not been great this week.",
	"Talking to a friend helped a little yesterday.",
	"What could I try tonight to relax?",
}

func main() {
	var opts options
	cmd := &cli.Command{
		Name:  "perfchat",
		Usage: "Replay synthetic turns over the chat websocket and report latency",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "base-url", Value: "http://127.0.0.1:8080", Usage: "service base URL", Destination: &opts.baseURL},
			&cli.StringFlag{Name: "dev-key", Sources: cli.EnvVars("APP_DEV_KEY"), Usage: "devkey header value", Destination: &opts.devKey},
			&cli.IntFlag{Name: "turns", Value: 10, Usage: "number of turns to replay", Destination: &opts.turns},
			&cli.StringFlag{Name: "texts", Usage: "utterances separated by '|'"},
			&cli.DurationFlag{Name: "turn-timeout", Value: 30 * time.Second, Usage: "timeout per turn", Destination: &opts.turnTimeout},
			&cli.BoolFlag{Name: "verbose", Value: true, Usage: "print replay progress", Destination: &opts.verbose},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			opts.texts = splitTexts(c.String("texts"))
			return run(ctx, opts, c.Root().Writer)
		},
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "perfchat: %v\n", err)
		os.Exit(1)
	}
}

func splitTexts(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, "|") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultTexts
	}
	return out
}

func run(ctx context.Context, opts options, out io.Writer) error {
	if opts.turns <= 0 {
		return goerr.New("turns must be positive", goerr.V("turns", opts.turns))
	}
	client := &http.Client{Timeout: 10 * time.Second}

	sessionID, err := createSession(ctx, client, opts)
	if err != nil {
		return err
	}
	wsURL, err := wsURLForSession(opts.baseURL, sessionID)
	if err != nil {
		return err
	}

	header := http.Header{}
	if opts.devKey != "" {
		header.Set("devkey", opts.devKey)
	}
	conn, res, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if res != nil && res.Body != nil {
		_ = res.Body.Close()
	}
	if err != nil {
		return goerr.Wrap(err, "websocket dial failed", goerr.V("url", wsURL))
	}
	defer conn.Close()

	if _, err := awaitFrame(conn, opts.turnTimeout, func(f frame) bool { return f.Code == "connected" }); err != nil {
		return err
	}
	if opts.verbose {
		fmt.Fprintf(out, "perfchat: session=%s turns=%d\n", sessionID, opts.turns)
	}

	latencies := make([]time.Duration, 0, opts.turns)
	failures := 0
	for i := 0; i < opts.turns; i++ {
		text := opts.texts[i%len(opts.texts)]
		msgID := fmt.Sprintf("perf-%d", i+1)
		started := time.Now()
		if err := conn.WriteJSON(protocol.UserMessage{
			Type:        protocol.TypeUserMessage,
			ClientMsgID: msgID,
			Message:     text,
		}); err != nil {
			return goerr.Wrap(err, "websocket write failed")
		}
		f, err := awaitFrame(conn, opts.turnTimeout, func(f frame) bool { return f.ClientMsgID == msgID })
		if err != nil {
			return err
		}
		elapsed := time.Since(started)
		if f.Type == string(protocol.TypeErrorEvent) {
			failures++
		} else {
			latencies = append(latencies, elapsed)
		}
		if opts.verbose {
			fmt.Fprintf(out, "perfchat: turn %d/%d type=%s latency_ms=%d\n", i+1, opts.turns, f.Type, elapsed.Milliseconds())
		}
	}

	_ = conn.WriteJSON(protocol.ClientControl{Type: protocol.TypeClientControl, Action: protocol.ActionEnd})
	_, _ = awaitFrame(conn, opts.turnTimeout, func(f frame) bool { return f.Code == "ended" })

	fmt.Fprintln(out, summarize(latencies, failures).String())
	return nil
}

type frame struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	ClientMsgID string `json:"client_msg_id"`
}

func awaitFrame(conn *websocket.Conn, timeout time.Duration, match func(frame) bool) (frame, error) {
	deadline := time.Now().Add(timeout)
	for {
		_ = conn.SetReadDeadline(deadline)
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return frame{}, goerr.Wrap(err, "websocket read failed")
		}
		if match(f) {
			return f, nil
		}
	}
}

func createSession(ctx context.Context, client *http.Client, opts options) (string, error) {
	endpoint := strings.TrimRight(opts.baseURL, "/") + "/v1/chat/sessions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader([]byte("{}")))
	if err != nil {
		return "", goerr.Wrap(err, "failed to build create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if opts.devKey != "" {
		req.Header.Set("devkey", opts.devKey)
	}
	res, err := client.Do(req)
	if err != nil {
		return "", goerr.Wrap(err, "create session request failed")
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return "", goerr.New("create session failed", goerr.V("status", res.StatusCode), goerr.V("body", string(body)))
	}
	var created struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		return "", goerr.Wrap(err, "failed to decode create response")
	}
	return created.SessionID, nil
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", goerr.Wrap(err, "invalid base url", goerr.V("base_url", baseURL))
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", goerr.New("unsupported base url scheme", goerr.V("scheme", u.Scheme))
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/chat/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type latencySummary struct {
	Turns    int
	Failures int
	P50      time.Duration
	P95      time.Duration
	Max      time.Duration
}

func (s latencySummary) String() string {
	return fmt.Sprintf("perfchat: ok=%d failed=%d p50_ms=%d p95_ms=%d max_ms=%d",
		s.Turns, s.Failures, s.P50.Milliseconds(), s.P95.Milliseconds(), s.Max.Milliseconds())
}

func summarize(latencies []time.Duration, failures int) latencySummary {
	s := latencySummary{Turns: len(latencies), Failures: failures}
	if len(latencies) == 0 {
		return s
	}
	sorted := append([]time.Duration(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	s.P50 = nearestRank(sorted, 0.50)
	s.P95 = nearestRank(sorted, 0.95)
	s.Max = sorted[len(sorted)-1]
	return s
}

func nearestRank(sorted []time.Duration, q float64) time.Duration {
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
