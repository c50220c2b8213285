package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"medgate/cmd/identity"
	"medgate/cmd/internal/auth/authn"
	"medgate/cmd/internal/auth/session"
	v1 "medgate/shared/contracts/auth/v1"
)

// Authenticator is what the router dispatches to. *authn.Authenticator
// satisfies it.
type Authenticator interface {
	Login(ctx context.Context, owner, username, password string) authn.LoginResult
	Register(ctx context.Context, in identity.Registration) authn.RegisterResult
	Logout(ctx context.Context, owner string) bool
	CurrentUser(owner string) (identity.Account, session.Session, bool)
	End(ctx context.Context, owner string)
}

// Router decodes frames, runs them on a bounded worker pool and delivers
// each result to the connection that sent the request.
type Router struct {
	auth    Authenticator
	reg     *Registry
	pending *PendingTable
	sem     *semaphore.Weighted
	log     *slog.Logger
	metrics *Metrics

	work       context.Context
	cancelWork context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// RouterOption configures a Router.
type RouterOption func(*Router)

func WithLogger(l *slog.Logger) RouterOption { return func(r *Router) { r.log = l } }

func WithMetrics(m *Metrics) RouterOption { return func(r *Router) { r.metrics = m } }

// WithWorkerLimit caps concurrent authenticator calls. Default 64.
func WithWorkerLimit(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// NewRouter constructs a Router with an empty registry and pending table.
func NewRouter(auth Authenticator, opts ...RouterOption) (*Router, error) {
	if auth == nil {
		return nil, errors.New("gateway: nil authenticator")
	}
	r := &Router{
		auth:    auth,
		reg:     NewRegistry(),
		pending: NewPendingTable(),
		sem:     semaphore.NewWeighted(defaultWorkerLimit),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.log == nil {
		r.log = slog.New(slog.DiscardHandler)
	}
	r.work, r.cancelWork = context.WithCancel(context.Background())
	return r, nil
}

func (r *Router) Registry() *Registry { return r.reg }

func (r *Router) Pending() *PendingTable { return r.pending }

// OnAccept registers a new connection.
func (r *Router) OnAccept(c *Client) {
	r.reg.Add(c)
	r.metrics.connOpened(c.Transport)
	r.log.Info("conn.accept", "conn_id", c.ID, "transport", c.Transport, "remote", c.RemoteAddr)
}

// OnDisconnect forgets the connection, its pending request and its session.
// Results still running for it are dropped when they finish.
func (r *Router) OnDisconnect(c *Client) {
	if _, ok := r.reg.Remove(c.ID); !ok {
		return
	}
	r.pending.DropConnection(c.ID)
	r.auth.End(context.Background(), c.ID)
	r.metrics.connClosed(c.Transport)
	r.log.Info("conn.close", "conn_id", c.ID, "transport", c.Transport)
}

// Reject answers a frame that could not be dispatched. Non-protocol errors
// are reported as bad_json.
func (r *Router) Reject(c *Client, err error) {
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		perr = protocolError(v1.ErrCodeBadJSON, "invalid frame", "", err)
	}
	r.metrics.protocolError(perr.Code)
	r.log.Info("router.frame.rejected", "conn_id", c.ID, "code", perr.Code, "err", perr)
	r.send(c, perr.Response())
}

type job func(ctx context.Context) v1.Response

// OnFrame handles one inbound frame from c. It never blocks on the
// authenticator.
func (r *Router) OnFrame(c *Client, frame []byte) {
	req, err := DecodeRequest(frame)
	if err != nil {
		r.Reject(c, err)
		return
	}

	var (
		username string
		run      job
	)
	switch req.Action {
	case v1.ActionLogin:
		var d v1.LoginData
		if err := decodeData(req, &d); err != nil {
			r.Reject(c, err)
			return
		}
		username = d.Username.String()
		run = r.loginJob(c.ID, username, d.Password.String())

	case v1.ActionRegister:
		var d v1.RegisterData
		if err := decodeData(req, &d); err != nil {
			r.Reject(c, err)
			return
		}
		username = d.Username.String()
		run = r.registerJob(identity.Registration{
			Username: username,
			Password: d.Password.String(),
			Identity: d.Identity.String(),
			Gender:   d.Gender.String(),
			Age:      d.Age.Int(),
			Phone:    d.Phone.String(),
		})

	case v1.ActionLogout:
		run = r.logoutJob(c.ID)

	case v1.ActionWhoami:
		run = r.whoamiJob(c.ID)
	}

	reqID, err := r.pending.Begin(c.ID, req.ID, req.Action, username)
	if err != nil {
		code, msg := v1.ErrCodeUnavailable, "server busy"
		if errors.Is(err, ErrRequestInFlight) {
			code, msg = v1.ErrCodeRequestInFlight, "previous request still running"
		}
		r.Reject(c, &ProtocolError{Code: code, Message: msg, ID: req.ID, Err: err})
		return
	}
	if username != "" {
		r.reg.Associate(c.ID, username)
	}
	r.metrics.frame(req.Action)
	r.log.Debug("router.dispatch", "conn_id", c.ID, "request_id", reqID, "action", req.Action, "username", username)

	c.jobs.Add(1)
	r.submit(c, reqID, req, run)
}

// submit runs the job on a worker. c.jobs is released once the result has
// been handed to deliver.
func (r *Router) submit(c *Client, reqID string, req v1.Request, run job) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.deliver(reqID, unavailable(req))
		c.jobs.Done()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer c.jobs.Done()

		if err := r.sem.Acquire(r.work, 1); err != nil {
			r.deliver(reqID, unavailable(req))
			return
		}
		r.metrics.workerStarted()
		start := time.Now()
		resp := run(r.work)
		r.metrics.workerDone()
		r.sem.Release(1)

		resp.Action = v1.ResponseAction(req.Action)
		resp.ID = req.ID
		r.log.Debug("router.done", "request_id", reqID, "action", req.Action, "code", resp.Code, "took", time.Since(start))
		r.deliver(reqID, resp)
	}()
}

// deliver routes a result by request id. A result whose request or
// connection is gone is dropped.
func (r *Router) deliver(reqID string, resp v1.Response) {
	p, ok := r.pending.Resolve(reqID)
	if !ok {
		r.metrics.resultDropped()
		r.log.Debug("router.result.dropped", "request_id", reqID, "reason", "no pending request")
		return
	}
	c, ok := r.reg.Get(p.ConnID)
	if !ok {
		r.metrics.resultDropped()
		r.log.Debug("router.result.dropped", "request_id", reqID, "conn_id", p.ConnID, "reason", "connection gone")
		return
	}
	r.send(c, resp)
}

func (r *Router) send(c *Client, resp v1.Response) {
	if c.Enqueue(resp) {
		return
	}
	r.metrics.sendDropped()
	r.log.Warn("router.send.dropped", "conn_id", c.ID, "action", resp.Action)
}

// HandleAuthEvent pushes session_expired to the connection that owned the
// session. Other events are ignored.
func (r *Router) HandleAuthEvent(e authn.Event) {
	if e.Kind != authn.EventSessionExpired {
		return
	}
	c, ok := r.reg.Get(e.Owner)
	if !ok {
		return
	}
	r.send(c, v1.Response{
		Action:   v1.ActionSessionExpired,
		Success:  false,
		Message:  "session expired",
		Username: e.Username,
	})
}

// Shutdown stops accepting work and waits for running requests. When ctx
// ends first, running requests are cancelled and waited for.
func (r *Router) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancelWork()
		return nil
	case <-ctx.Done():
		r.cancelWork()
		<-done
		return ctx.Err()
	}
}

func (r *Router) loginJob(owner, username, password string) job {
	return func(ctx context.Context) v1.Response {
		res := r.auth.Login(ctx, owner, username, password)
		if res.Code.OK() {
			if _, live := r.reg.Get(owner); !live {
				// Disconnected while the login ran.
				r.auth.End(ctx, owner)
			}
		}
		return loginResponse(res)
	}
}

func (r *Router) registerJob(in identity.Registration) job {
	return func(ctx context.Context) v1.Response {
		return registerResponse(r.auth.Register(ctx, in))
	}
}

func (r *Router) logoutJob(owner string) job {
	return func(ctx context.Context) v1.Response {
		msg := "not logged in"
		if r.auth.Logout(ctx, owner) {
			msg = "logged out"
		}
		return v1.Response{Success: true, Message: msg, Code: v1.CodeSuccess}
	}
}

func (r *Router) whoamiJob(owner string) job {
	return func(context.Context) v1.Response {
		acc, s, ok := r.auth.CurrentUser(owner)
		if !ok {
			return v1.Response{
				Success: false,
				Message: "not logged in",
				Code:    v1.CodeNotLoggedIn,
			}
		}
		exp := s.ExpiresAt.UTC()
		return v1.Response{
			Success:   true,
			Message:   "logged in",
			Code:      v1.CodeSuccess,
			UserType:  acc.Role.UserType(),
			Username:  acc.Username,
			Gender:    string(acc.Gender),
			Age:       acc.Age,
			Phone:     acc.Phone,
			ExpiresAt: &exp,
		}
	}
}

func loginResponse(res authn.LoginResult) v1.Response {
	resp := v1.Response{
		Success: res.Code.OK(),
		Message: res.Code.Message(),
		Code:    res.Code.String(),
	}
	if res.Code.OK() {
		exp := res.Session.ExpiresAt.UTC()
		resp.Message = "login succeeded"
		resp.UserType = res.Account.Role.UserType()
		resp.Username = res.Account.Username
		resp.ExpiresAt = &exp
	}
	return resp
}

func registerResponse(res authn.RegisterResult) v1.Response {
	resp := v1.Response{
		Success: res.Code.OK(),
		Message: res.Code.Message(),
		Code:    res.Code.String(),
		Field:   string(res.Field),
	}
	if res.Code.OK() {
		resp.Message = "registration succeeded"
		resp.Username = res.Account.Username
		resp.UserType = res.Account.Role.UserType()
	}
	return resp
}

func unavailable(req v1.Request) v1.Response {
	return v1.Response{
		Action:  v1.ActionError,
		ID:      req.ID,
		Success: false,
		Message: "server shutting down",
		Code:    v1.ErrCodeUnavailable,
	}
}
