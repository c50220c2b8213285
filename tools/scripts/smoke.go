// Package main provides a CI-friendly smoke test for a running medgate.
//
// Over TCP it registers a fresh account, checks a wrong password, logs in,
// asks whoami and logs out. With -ws it repeats the login over WebSocket
// to check the second transport and the subprotocol handshake.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "medgate/shared/contracts/auth/v1"
)

const maxReadBytes = 1 << 16

type request struct {
	Action string `json:"action"`
	ID     string `json:"id,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// transport sends one request and returns the matching response.
type transport interface {
	roundTrip(ctx context.Context, req request) (v1.Response, error)
	close()
}

func main() {
	var (
		tcpAddr = flag.String("tcp", "127.0.0.1:8080", "TCP address")
		wsURL   = flag.String("ws", "", "WebSocket URL, e.g. ws://127.0.0.1:9090/ws (empty skips)")
		origin  = flag.String("origin", "http://localhost", "Origin header for the WebSocket handshake")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	username := fmt.Sprintf("smoke%d", time.Now().UnixNano()%1_000_000_000)
	const pw = "smoke-pass1"

	tc, err := dialTCP(*tcpAddr, *timeout)
	if err != nil {
		fatalf("connect tcp: %v", err)
	}
	defer tc.close()

	step := func(t transport, name string, req request, check func(v1.Response) error) v1.Response {
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		defer cancel()
		req.ID = name
		resp, err := t.roundTrip(ctx, req)
		if err != nil {
			fatalf("%s: %v", name, err)
		}
		if resp.ID != name {
			fatalf("%s: response id %q", name, resp.ID)
		}
		if err := check(resp); err != nil {
			fatalf("%s: %v (%+v)", name, err, resp)
		}
		if *verbose {
			fmt.Printf("%-10s %s code=%s %s\n", name, resp.Action, resp.Code, resp.Message)
		}
		return resp
	}

	step(tc, "register", request{Action: v1.ActionRegister, Data: map[string]any{
		"username": username, "password": pw, "identity": "doctor",
		"gender": "female", "age": 35, "phone": "13800138000",
	}}, wantCode(v1.CodeSuccess))
	step(tc, "bad-login", request{Action: v1.ActionLogin, Data: map[string]any{
		"username": username, "password": "wrong-pass",
	}}, wantCode(v1.CodePasswordError))
	login := step(tc, "login", request{Action: v1.ActionLogin, Data: map[string]any{
		"username": username, "password": pw,
	}}, func(r v1.Response) error {
		if err := wantCode(v1.CodeSuccess)(r); err != nil {
			return err
		}
		if r.UserType != v1.UserTypeDoctor {
			return fmt.Errorf("userType %q", r.UserType)
		}
		return nil
	})
	step(tc, "whoami", request{Action: v1.ActionWhoami}, func(r v1.Response) error {
		if r.Username != username {
			return fmt.Errorf("username %q", r.Username)
		}
		return nil
	})
	step(tc, "logout", request{Action: v1.ActionLogout}, wantCode(v1.CodeSuccess))
	step(tc, "whoami-2", request{Action: v1.ActionWhoami}, wantCode(v1.CodeNotLoggedIn))

	if strings.TrimSpace(*wsURL) != "" {
		wc, err := dialWS(*wsURL, *origin, *timeout)
		if err != nil {
			fatalf("connect ws: %v", err)
		}
		defer wc.close()
		step(wc, "ws-login", request{Action: v1.ActionLogin, Data: map[string]any{
			"username": username, "password": pw,
		}}, wantCode(v1.CodeSuccess))
	}

	expires := "-"
	if login.ExpiresAt != nil {
		expires = login.ExpiresAt.Format(time.RFC3339)
	}
	fmt.Printf("OK: user=%s session_expires=%s\n", username, expires)
}

func wantCode(code string) func(v1.Response) error {
	return func(r v1.Response) error {
		if r.Code != code {
			return fmt.Errorf("code %q, want %q", r.Code, code)
		}
		return nil
	}
}

type tcpClient struct {
	conn net.Conn
	r    *bufio.Reader
}

func dialTCP(addr string, timeout time.Duration) (*tcpClient, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	return &tcpClient{conn: conn, r: bufio.NewReaderSize(conn, maxReadBytes)}, nil
}

func (c *tcpClient) roundTrip(ctx context.Context, req request) (v1.Response, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(dl)
	}
	b, err := json.Marshal(req)
	if err != nil {
		return v1.Response{}, err
	}
	if _, err := c.conn.Write(append(b, '\n')); err != nil {
		return v1.Response{}, err
	}
	for {
		line, err := c.r.ReadBytes('\n')
		if err != nil {
			return v1.Response{}, err
		}
		var resp v1.Response
		if err := json.Unmarshal(line, &resp); err != nil {
			return v1.Response{}, err
		}
		// Server pushes carry no id.
		if resp.Action == v1.ActionSessionExpired {
			continue
		}
		return resp, nil
	}
}

func (c *tcpClient) close() { _ = c.conn.Close() }

type wsClient struct {
	conn *websocket.Conn
}

func dialWS(url, origin string, timeout time.Duration) (*wsClient, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		_ = conn.Close(websocket.StatusPolicyViolation, "subprotocol")
		return nil, fmt.Errorf("subprotocol %q, want %q", got, v1.Subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)
	return &wsClient{conn: conn}, nil
}

func (c *wsClient) roundTrip(ctx context.Context, req request) (v1.Response, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return v1.Response{}, err
	}
	if err := c.conn.Write(ctx, websocket.MessageText, b); err != nil {
		return v1.Response{}, err
	}
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return v1.Response{}, err
		}
		var resp v1.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return v1.Response{}, err
		}
		if resp.Action == v1.ActionSessionExpired {
			continue
		}
		return resp, nil
	}
}

func (c *wsClient) close() { _ = c.conn.Close(websocket.StatusNormalClosure, "bye") }

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
