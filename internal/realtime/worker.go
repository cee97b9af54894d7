package realtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/realtime-engine/internal/audit"
	"github.com/ashureev/realtime-engine/internal/authsession"
	"github.com/ashureev/realtime-engine/internal/protocol"
	"github.com/ashureev/realtime-engine/internal/ratelimit"
	"github.com/ashureev/realtime-engine/internal/registry"
)

type inboxKind int

const (
	inboxInboundFrame inboxKind = iota
	inboxPush
	inboxTransportClosed
	inboxShutdown
)

type inboxMessage struct {
	kind inboxKind

	raw []byte // inboxInboundFrame

	subscriptionID string // inboxPush
	channel        string
	data           any
}

// ConnectionWorker is the actor that owns one transport for its entire
// lifetime: a single goroutine, reachable only through its inbox,
// serializing every request and push against that connection.
type ConnectionWorker struct {
	id            string
	remoteAddress string
	cfg           *Config

	transport   Transport
	registry    *registry.Registry
	auditLog    *audit.Log
	rateLimiter *ratelimit.Limiter

	inbox chan inboxMessage
	done  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	terminated bool

	// owned exclusively by Run; never touched from another goroutine.
	state           *ConnectionState
	heartbeatEvery  time.Duration
	heartbeatExpiry time.Duration
	transportFailed bool
}

func newConnectionWorker(
	id, remoteAddress string,
	transport Transport,
	cfg *Config,
	reg *registry.Registry,
	auditLog *audit.Log,
	rateLimiter *ratelimit.Limiter,
	parentCtx context.Context,
) *ConnectionWorker {
	ctx, cancel := context.WithCancel(parentCtx)
	return &ConnectionWorker{
		id:              id,
		remoteAddress:   remoteAddress,
		cfg:             cfg,
		transport:       transport,
		registry:        reg,
		auditLog:        auditLog,
		rateLimiter:     rateLimiter,
		inbox:           make(chan inboxMessage, 64),
		done:            make(chan struct{}),
		ctx:             ctx,
		cancel:          cancel,
		state:           newConnectionState(id, remoteAddress),
		heartbeatEvery:  time.Duration(cfg.Heartbeat.IntervalMs) * time.Millisecond,
		heartbeatExpiry: time.Duration(cfg.Heartbeat.TimeoutMs) * time.Millisecond,
	}
}

// ID returns the connection identifier assigned by the supervisor.
func (w *ConnectionWorker) ID() string { return w.id }

// PostInboundFrame delivers a raw frame read off the transport. Safe to
// call from any goroutine (typically the transport's read pump).
func (w *ConnectionWorker) PostInboundFrame(raw []byte) {
	select {
	case w.inbox <- inboxMessage{kind: inboxInboundFrame, raw: raw}:
	case <-w.done:
	}
}

// PostPush delivers a store/rules subscription push. Safe to call from any
// goroutine.
func (w *ConnectionWorker) PostPush(subscriptionID, channel string, data any) {
	select {
	case w.inbox <- inboxMessage{kind: inboxPush, subscriptionID: subscriptionID, channel: channel, data: data}:
	case <-w.done:
	}
}

// PostTransportClosed notifies the worker that its transport died (read
// error, peer close). Safe to call from any goroutine.
func (w *ConnectionWorker) PostTransportClosed() {
	select {
	case w.inbox <- inboxMessage{kind: inboxTransportClosed}:
	case <-w.done:
	}
}

// PostShutdown asks the worker to wind down as part of a supervisor-wide
// graceful stop. Safe to call from any goroutine.
func (w *ConnectionWorker) PostShutdown() {
	select {
	case w.inbox <- inboxMessage{kind: inboxShutdown}:
	case <-w.done:
	}
}

// ForceTerminate is the supervisor's last resort when a worker has not
// wound down within the grace period. It terminates directly rather than
// going through the inbox.
func (w *ConnectionWorker) ForceTerminate() {
	w.cancel()
	w.terminate("forced")
}

// Run is the actor loop. It returns once the connection has fully
// terminated; the caller (the supervisor) should run it in its own
// goroutine.
func (w *ConnectionWorker) Run() {
	w.init()
	reason := "normal"
	defer func() { w.terminate(reason) }()

	ticker := time.NewTicker(w.heartbeatEvery)
	defer ticker.Stop()

runLoop:
	for {
		select {
		case <-w.ctx.Done():
			break runLoop
		case <-ticker.C:
			if w.handleHeartbeatTick() {
				reason = "heartbeat_timeout"
				break runLoop
			}
		case msg := <-w.inbox:
			switch msg.kind {
			case inboxInboundFrame:
				w.handleInboundFrame(msg.raw)
			case inboxPush:
				w.handlePush(msg.subscriptionID, msg.channel, msg.data)
			case inboxTransportClosed:
				break runLoop
			case inboxShutdown:
				w.handleShutdownNotice()
				reason = "shutdown"
				break runLoop
			}
		}
		if w.transportFailed {
			break runLoop
		}
	}
}

func (w *ConnectionWorker) init() {
	w.state.LastPongReceivedAt = time.Now()
	w.registry.Register(registry.Metadata{
		ConnectionID:  w.id,
		RemoteAddress: w.remoteAddress,
		Authenticated: false,
	})
	w.send(protocol.SerializeWelcome(time.Now().UnixMilli(), w.cfg.authRequired()))
}

// terminate runs exactly once regardless of which path (normal return,
// ForceTerminate, heartbeat timeout) drove the worker out of its loop.
func (w *ConnectionWorker) terminate(reason string) {
	if w.terminated {
		return
	}
	w.terminated = true

	for _, unsubscribe := range w.state.StoreSubscriptions {
		unsubscribe()
	}
	for _, unsubscribe := range w.state.RulesSubscriptions {
		unsubscribe()
	}
	w.state.StoreSubscriptions = map[string]func(){}
	w.state.RulesSubscriptions = map[string]func(){}

	code, text := 1000, "normal_closure"
	switch reason {
	case "shutdown":
		text = "server_shutdown"
	case "heartbeat_timeout":
		code, text = 4001, "heartbeat_timeout"
	case "forced":
		code, text = 1001, "forced_shutdown"
	}
	_ = w.transport.Close(code, text)

	w.registry.Deregister(w.id)
	if w.rateLimiter != nil {
		w.rateLimiter.Forget(w.id)
	}
	w.cancel()
	close(w.done)
}

func (w *ConnectionWorker) handleInboundFrame(raw []byte) {
	in := protocol.Parse(raw)
	switch in.Kind {
	case protocol.KindParseFailure:
		w.send(protocol.SerializeError(in.Failure.ID, in.Failure.Code, in.Failure.Message, nil))
	case protocol.KindPong:
		w.state.LastPongReceivedAt = time.Now()
	case protocol.KindRequest:
		w.handleRequest(in.Request)
	}
}

func (w *ConnectionWorker) handleRequest(req *protocol.Request) {
	now := time.Now()

	if !authsession.IsExemptOperation(req.Type) {
		gate := authsession.AuthGate(w.state.Session, w.cfg.authRequired(), now)
		if gate.ClearSession {
			w.clearSession()
		}
		if !gate.Pass {
			w.respondError(req.ID, gate.Code, gate.Message, nil)
			return
		}
	}

	if w.rateLimiter != nil {
		ok, retryAfter := w.rateLimiter.Allow(w.id)
		if !ok {
			w.respondError(req.ID, protocol.ErrRateLimited, "rate limit exceeded", map[string]any{
				"retryAfterMs": retryAfter.Milliseconds(),
			})
			return
		}
	}

	// Dispatch runs before the permission check: a FORBIDDEN verdict
	// discards the dispatch result rather than preventing the call. If
	// dispatch created a subscription, rollback tears it down so a denied
	// caller is left with neither the subscriptionId nor a live push feed.
	result, resource, errKind, errMsg, rollback := w.dispatch(req)

	if errKind == "" && w.cfg.Permissions != nil && !authsession.IsExemptOperation(req.Type) {
		if !w.cfg.Permissions(w.state.Session, req.Type, resource) {
			if rollback != nil {
				rollback()
			}
			errKind, errMsg = protocol.ErrForbidden, "forbidden"
			result = nil
		}
	}

	w.recordAudit(req.Type, resource, errKind == "", errMsg)

	if errKind != "" {
		w.respondError(req.ID, errKind, errMsg, nil)
		return
	}
	w.respondResult(req.ID, result)
}

func (w *ConnectionWorker) clearSession() {
	w.state.Session = nil
	w.state.Authenticated = false
	w.registry.UpdateAuth(w.id, false, "", nil)
}

// dispatch routes a request to its handler and returns (result, resource,
// errKind, errMsg, rollback). errKind == "" signals success. rollback is
// non-nil only when dispatch left behind state (a new subscription) that
// must be undone if a subsequent permission check denies the request.
func (w *ConnectionWorker) dispatch(req *protocol.Request) (any, string, protocol.ErrorKind, string, func()) {
	switch {
	case req.Type == "auth.login":
		result, resource, errKind, errMsg := w.handleLogin(req)
		return result, resource, errKind, errMsg, nil
	case req.Type == "auth.whoami":
		result, resource, errKind, errMsg := w.handleWhoami()
		return result, resource, errKind, errMsg, nil
	case req.Type == "auth.logout":
		result, resource, errKind, errMsg := w.handleLogout()
		return result, resource, errKind, errMsg, nil
	case strings.HasPrefix(req.Type, "store."):
		if w.cfg.Store == nil {
			return nil, "", protocol.ErrInternal, "store not configured", nil
		}
		return w.dispatchCapability("store", w.cfg.Store, w.state.StoreSubscriptions, req)
	case strings.HasPrefix(req.Type, "rules."):
		if w.cfg.Rules == nil {
			return nil, "", protocol.ErrRulesNotAvailable, "rules engine not configured", nil
		}
		return w.dispatchCapability("rules", w.cfg.Rules, w.state.RulesSubscriptions, req)
	default:
		return nil, "", protocol.ErrUnknownOperation, fmt.Sprintf("unknown operation %q", req.Type), nil
	}
}

func (w *ConnectionWorker) dispatchCapability(prefix string, capability Capability, subs map[string]func(), req *protocol.Request) (any, string, protocol.ErrorKind, string, func()) {
	op := strings.TrimPrefix(req.Type, prefix+".")

	switch op {
	case "subscribe":
		// Requests carry their operands as top-level frame fields (e.g.
		// {type:"store.subscribe", query:"all-users", bucket:"users"}),
		// not nested under a "params" key; everything but "query" itself
		// is forwarded as the subscription's parameters.
		query, _ := req.Fields["query"].(string)
		params := make(map[string]any, len(req.Fields))
		for k, v := range req.Fields {
			if k == "query" {
				continue
			}
			params[k] = v
		}

		box := &idBox{}
		subID, initialData, unsubscribe, err := capability.Subscribe(w.ctx, query, params, func(data any) {
			w.PostPush(box.get(), "subscription", data)
		})
		if err != nil {
			return nil, query, protocol.ErrInternal, "subscribe failed", nil
		}
		box.set(subID)
		subs[subID] = unsubscribe
		w.updateSubscriptionCounts()
		rollback := func() {
			unsubscribe()
			delete(subs, subID)
			w.updateSubscriptionCounts()
		}
		return map[string]any{"subscriptionId": subID, "initialData": initialData}, query, "", "", rollback

	case "unsubscribe":
		subID, _ := req.Fields["subscriptionId"].(string)
		unsubscribe, ok := subs[subID]
		if !ok {
			return nil, subID, protocol.ErrNotFound, "unknown subscription", nil
		}
		unsubscribe()
		delete(subs, subID)
		w.updateSubscriptionCounts()
		return map[string]any{"unsubscribed": true}, subID, "", "", nil

	default:
		bucket, _ := req.Fields["bucket"].(string)
		data, err := capability.Call(w.ctx, op, req.Fields)
		if err != nil {
			return nil, bucket, protocol.ErrInternal, "operation failed", nil
		}
		return data, bucket, "", "", nil
	}
}

func (w *ConnectionWorker) handleLogin(req *protocol.Request) (any, string, protocol.ErrorKind, string) {
	if w.cfg.Auth == nil || w.cfg.Auth.Validate == nil {
		return nil, "", protocol.ErrUnauthorized, "authentication not configured"
	}
	token, _ := req.Fields["token"].(string)
	result := authsession.Login(w.cfg.Auth.Validate, token, time.Now())
	if result.Session == nil {
		return nil, "", result.Code, result.Message
	}

	w.state.Session = result.Session
	w.state.Authenticated = true
	w.registry.UpdateAuth(w.id, true, result.Session.UserID, result.Session.Roles)

	payload := map[string]any{"userId": result.Session.UserID, "roles": result.Session.Roles}
	if result.Session.ExpiresAt != nil {
		payload["expiresAt"] = result.Session.ExpiresAt.UnixMilli()
	}
	return payload, "", "", ""
}

func (w *ConnectionWorker) handleWhoami() (any, string, protocol.ErrorKind, string) {
	result := authsession.Whoami(w.state.Session, time.Now())
	if result.Expired {
		w.clearSession()
	}
	if !result.Authenticated {
		return map[string]any{"authenticated": false}, "", "", ""
	}
	payload := map[string]any{
		"authenticated": true,
		"userId":        result.UserID,
		"roles":         result.Roles,
	}
	if result.ExpiresAt != nil {
		payload["expiresAt"] = result.ExpiresAt.UnixMilli()
	}
	return payload, "", "", ""
}

func (w *ConnectionWorker) handleLogout() (any, string, protocol.ErrorKind, string) {
	w.clearSession()
	return map[string]any{"loggedOut": true}, "", "", ""
}

func tierFor(operation string) audit.Tier {
	switch {
	case strings.HasSuffix(operation, ".subscribe"),
		strings.HasSuffix(operation, ".unsubscribe"),
		strings.HasSuffix(operation, ".all"),
		strings.HasSuffix(operation, ".get"),
		strings.HasSuffix(operation, ".query"),
		operation == "auth.whoami":
		return audit.TierRead
	case strings.HasSuffix(operation, ".delete"),
		strings.HasSuffix(operation, ".drop"),
		strings.HasSuffix(operation, ".admin"):
		return audit.TierAdmin
	default:
		return audit.TierWrite
	}
}

func (w *ConnectionWorker) recordAudit(operation, resource string, success bool, errMsg string) {
	tier := tierFor(operation)
	if !w.auditLog.Audited(tier) {
		return
	}

	var userID, sessionID string
	if w.state.Session != nil {
		userID = w.state.Session.UserID
		sessionID = w.id
	}
	result := audit.ResultSuccess
	if !success {
		result = audit.ResultError
	}

	w.auditLog.Append(audit.Entry{
		UserID:        userID,
		SessionID:     sessionID,
		Operation:     operation,
		Resource:      resource,
		Result:        result,
		Error:         errMsg,
		RemoteAddress: w.remoteAddress,
	})
}

func (w *ConnectionWorker) updateSubscriptionCounts() {
	w.registry.UpdateSubscriptions(w.id, len(w.state.StoreSubscriptions), len(w.state.RulesSubscriptions))
}

// handleHeartbeatTick sends a ping and reports whether the peer has gone
// quiet for longer than the configured timeout.
func (w *ConnectionWorker) handleHeartbeatTick() bool {
	now := time.Now()
	w.send(protocol.SerializePing(now.UnixMilli()))
	w.state.LastPingSentAt = now
	w.state.PingOutstanding = true
	return w.state.PingOutstanding && now.Sub(w.state.LastPongReceivedAt) > w.heartbeatExpiry
}

func (w *ConnectionWorker) handleShutdownNotice() {
	if w.cfg.GracePeriodMs > 0 {
		w.send(protocol.SerializeSystem("shutdown", nil))
	}
}

func (w *ConnectionWorker) handlePush(subscriptionID, channel string, data any) {
	if w.transport.BufferedBytes() >= w.cfg.Backpressure.HighWaterMark {
		return
	}
	w.send(protocol.SerializePush(channel, subscriptionID, data))
}

func (w *ConnectionWorker) respondResult(id int64, data any) {
	w.send(protocol.SerializeResult(id, data))
}

func (w *ConnectionWorker) respondError(id int64, code protocol.ErrorKind, message string, details map[string]any) {
	w.send(protocol.SerializeError(id, code, message, details))
}

// send writes a frame. Failures are never reported back to the client —
// they mark the transport dead and the run loop winds the connection down
// on its next iteration.
func (w *ConnectionWorker) send(frame []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.transport.Send(ctx, frame); err != nil {
		w.transportFailed = true
	}
}
