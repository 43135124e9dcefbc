// Package main provides a CI-friendly smoke test for the ideamart chat server.
//
// It validates:
//   - bearer-authenticated conversation creation over HTTP
//   - WS handshake + subprotocol selection
//   - hello/ack session establishment
//   - subscribe -> initial full snapshot
//   - send -> fresh snapshot fanout to both participants
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	"ideamart/internal/identity"
	"ideamart/internal/realtime"
)

const (
	subprotocol  = "ideamart.chat.v1"
	maxReadBytes = 1 << 20 // 1MiB
)

type smokeClient struct {
	name   string
	userID string
	conn   *websocket.Conn

	inbox chan realtime.Envelope
	errCh chan error
}

func main() {
	var (
		apiURL  = flag.String("api", "http://127.0.0.1:8080", "HTTP API base URL")
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		secret  = flag.String("secret", "", "token secret shared with the server (IDEAMART_TOKEN_SECRET)")
		userA   = flag.String("user-a", "smoke-alice", "first participant id")
		userB   = flag.String("user-b", "smoke-bob", "second participant id")
		text    = flag.String("text", "hello from the smoke test", "message content to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if len(*secret) < 32 {
		fatalf("invalid -secret: must be at least 32 bytes")
	}

	root := context.Background()

	tokenA := mustSign(*secret, *userA, "Smoke Alice")
	tokenB := mustSign(*secret, *userB, "Smoke Bob")

	convID := mustCreateConversation(root, *apiURL, tokenA, *userB, *timeout)
	if *verbose {
		fmt.Printf("conversation: %s\n", convID)
	}

	a := mustConnect(root, "A", *wsURL, *origin, tokenA, *userA, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *wsURL, *origin, tokenB, *userB, *timeout)
	defer closeWS(b.conn)

	// Each subscribe is acknowledged by the initial full snapshot.
	baseline := mustSubscribe(root, a, convID, *timeout)
	mustSubscribe(root, b, convID, *timeout)

	mustSend(root, a, convID, *text, *timeout)

	mustAssertSnapshotContains(root, a, convID, *userA, *text, baseline, *timeout)
	mustAssertSnapshotContains(root, b, convID, *userA, *text, baseline, *timeout)

	fmt.Printf("OK: conv_id=%s participants=%s,%s\n", convID, *userA, *userB)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func mustSign(secret, userID, name string) string {
	token, err := identity.SignForTest([]byte(secret), userID, name, time.Hour)
	if err != nil {
		fatalf("sign token for %s: %v", userID, err)
	}
	return token
}

func mustCreateConversation(parent context.Context, apiURL, token, recipientID string, stepTimeout time.Duration) string {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	body, _ := json.Marshal(map[string]string{"recipient_id": recipientID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+"/v1/conversations", bytes.NewReader(body))
	if err != nil {
		fatalf("build create request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("create conversation: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fatalf("create conversation: status=%d", resp.StatusCode)
	}

	var out struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatalf("decode create response: %v", err)
	}
	if strings.TrimSpace(out.ConversationID) == "" {
		fatalf("create conversation: empty id")
	}
	return out.ConversationID
}

func mustConnect(parent context.Context, name, wsURL, origin, token, wantUserID string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, subprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan realtime.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	hello := realtime.Envelope{
		V:       realtime.Version,
		Type:    realtime.TypeHello,
		ID:      fmt.Sprintf("%s-hello", name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(realtime.HelloPayload{Token: token}),
	}
	mustWriteWithTimeout(parent, c.conn, hello, stepTimeout)

	ack := c.mustReadUntilType(parent, realtime.TypeHelloAck, stepTimeout)

	var p realtime.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello_ack payload (%s): %v", name, err)
	}
	if p.UserID != wantUserID {
		fatalf("hello_ack user mismatch (%s): got=%q want=%q", name, p.UserID, wantUserID)
	}
	c.userID = p.UserID

	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env realtime.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

// mustSubscribe attaches the client and returns the size of the initial snapshot.
func mustSubscribe(parent context.Context, c *smokeClient, convID string, stepTimeout time.Duration) int {
	env := realtime.Envelope{
		V:       realtime.Version,
		Type:    realtime.TypeSubscribe,
		ID:      fmt.Sprintf("%s-subscribe", c.name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(realtime.SubscribePayload{ConversationID: convID}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	list := c.mustReadUntilType(parent, realtime.TypeMessageList, stepTimeout)

	var p realtime.MessageListPayload
	if err := json.Unmarshal(list.Payload, &p); err != nil {
		fatalf("unmarshal message_list payload (%s): %v", c.name, err)
	}
	if p.ConversationID != convID {
		fatalf("message_list conv_id mismatch (%s): got=%q want=%q", c.name, p.ConversationID, convID)
	}
	return len(p.Messages)
}

func mustSend(parent context.Context, c *smokeClient, convID, text string, stepTimeout time.Duration) {
	env := realtime.Envelope{
		V:    realtime.Version,
		Type: realtime.TypeMessageSend,
		ID:   fmt.Sprintf("%s-send", c.name),
		TS:   time.Now().UTC(),
		Payload: mustJSON(realtime.MessageSendPayload{
			ConversationID: convID,
			Content:        text,
		}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)
}

// mustAssertSnapshotContains waits for a snapshot that grew past baseline and
// carries the sent message.
func mustAssertSnapshotContains(parent context.Context, c *smokeClient, convID, senderID, text string, baseline int, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for snapshot (%s): %v", c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for snapshot (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for snapshot (%s)", c.name)
			}
			if env.Type == realtime.TypeError {
				var ep realtime.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if env.Type != realtime.TypeMessageList {
				continue
			}

			var p realtime.MessageListPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				fatalf("unmarshal message_list payload (%s): %v", c.name, err)
			}
			if p.ConversationID != convID || len(p.Messages) <= baseline {
				continue
			}

			last := p.Messages[len(p.Messages)-1]
			if last.SenderID != senderID {
				fatalf("snapshot sender mismatch (%s): got=%q want=%q", c.name, last.SenderID, senderID)
			}
			if last.Content != text {
				fatalf("snapshot content mismatch (%s): got=%q want=%q", c.name, last.Content, text)
			}
			if last.CreatedAt.IsZero() {
				fatalf("snapshot created_at missing/zero (%s)", c.name)
			}
			if last.Read {
				fatalf("snapshot message unexpectedly read (%s)", c.name)
			}
			return
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) realtime.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == realtime.TypeError {
				var ep realtime.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			// Stale snapshots may precede the one we wait for; skip them.
			if env.Type == realtime.TypeMessageList {
				continue
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env realtime.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
