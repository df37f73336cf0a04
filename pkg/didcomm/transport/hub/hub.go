/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/component/log"
	"nhooyr.io/websocket"

	"github.com/didrelay/didcomm-relay/internal/wsorigin"
	"github.com/didrelay/didcomm-relay/pkg/doc/did"
)

// DefaultPath is the path the hub is served on.
const DefaultPath = "/didcommhub"

const defaultWriteTimeout = 10 * time.Second

var logger = log.New("didcomm-relay/transport/hub")

// ErrSessionNotFound is returned for operations on unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

type session struct {
	id   string
	conn *websocket.Conn
	// guarded by Hub.mu
	groups map[string]struct{}
}

// Hub keeps live websocket sessions and their group memberships. Groups are keyed by DID.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*session
	groups   map[string]map[string]*session

	writeTimeout   time.Duration
	originPatterns []string
	onJoin         func(sessionID, did string)
}

// Opt configures a Hub.
type Opt func(h *Hub)

// WithWriteTimeout bounds each write to a session.
func WithWriteTimeout(d time.Duration) Opt {
	return func(h *Hub) {
		h.writeTimeout = d
	}
}

// WithOriginPatterns restricts the origins allowed to open sessions. Without patterns any origin is accepted.
func WithOriginPatterns(patterns ...string) Opt {
	return func(h *Hub) {
		h.originPatterns = patterns
	}
}

// WithJoinObserver registers a callback invoked after a session joins a group.
func WithJoinObserver(f func(sessionID, did string)) Opt {
	return func(h *Hub) {
		h.onJoin = f
	}
}

// New returns an empty hub.
func New(opts ...Opt) *Hub {
	h := &Hub{
		sessions:     make(map[string]*session),
		groups:       make(map[string]map[string]*session),
		writeTimeout: defaultWriteTimeout,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// ServeHTTP upgrades the request to a websocket push session and serves it until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := wsorigin.Check(r, h.originPatterns); err != nil {
		logger.Infof("push session rejected: %v", err)
		http.Error(w, err.Error(), http.StatusForbidden)

		return
	}

	// origins are checked above
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		logger.Infof("failed to upgrade the push session connection : %v", err)

		return
	}

	s := &session{id: uuid.New().String(), conn: conn, groups: make(map[string]struct{})}

	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()

	logger.Debugf("push session %s connected", s.id)

	h.listen(r.Context(), s)
}

func (h *Hub) listen(ctx context.Context, s *session) {
	defer h.removeSession(s)

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure &&
				websocket.CloseStatus(err) != websocket.StatusGoingAway {
				logger.Debugf("push session %s read failed: %v", s.id, err)
			}

			return
		}

		reply := h.handleFrame(s, data)

		if err := h.write(ctx, s, reply); err != nil {
			logger.Infof("push session %s reply failed: %v", s.id, err)

			return
		}
	}
}

func (h *Hub) handleFrame(s *session, data []byte) *Frame {
	f := &Frame{}

	if err := json.Unmarshal(data, f); err != nil {
		return &Frame{Type: FrameError, Error: "malformed frame"}
	}

	switch f.Type {
	case FrameJoin:
		if err := h.JoinGroup(s.id, f.DID); err != nil {
			return &Frame{Type: FrameError, DID: f.DID, Error: err.Error()}
		}

		return &Frame{Type: FrameJoined, DID: did.Normalize(f.DID)}
	case FrameLeave:
		if err := h.LeaveGroup(s.id, f.DID); err != nil {
			return &Frame{Type: FrameError, DID: f.DID, Error: err.Error()}
		}

		return &Frame{Type: FrameLeft, DID: did.Normalize(f.DID)}
	default:
		return &Frame{Type: FrameError, Error: fmt.Sprintf("unsupported frame type %q", f.Type)}
	}
}

// JoinGroup adds a session to the group of a DID.
func (h *Hub) JoinGroup(sessionID, id string) error {
	id = did.Normalize(id)
	if !did.IsValid(id) {
		return fmt.Errorf("join group: %w: %q", did.ErrInvalidDID, id)
	}

	h.mu.Lock()

	s, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()

		return ErrSessionNotFound
	}

	members, ok := h.groups[id]
	if !ok {
		members = make(map[string]*session)
		h.groups[id] = members
	}

	members[sessionID] = s
	s.groups[id] = struct{}{}

	h.mu.Unlock()

	logger.Debugf("push session %s joined group %s", sessionID, id)

	if h.onJoin != nil {
		h.onJoin(sessionID, id)
	}

	return nil
}

// LeaveGroup removes a session from the group of a DID. Leaving a group the session is not in is a no-op.
func (h *Hub) LeaveGroup(sessionID, id string) error {
	id = did.Normalize(id)

	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}

	h.leave(s, id)

	return nil
}

// caller holds h.mu
func (h *Hub) leave(s *session, id string) {
	delete(s.groups, id)

	if members, ok := h.groups[id]; ok {
		delete(members, s.id)

		if len(members) == 0 {
			delete(h.groups, id)
		}
	}
}

// BroadcastToGroup pushes an envelope to every session in the group of a DID and returns how many sessions
// received it. An empty group is not an error. Sessions that fail to receive are disconnected.
func (h *Hub) BroadcastToGroup(ctx context.Context, id string, envelope []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	id = did.Normalize(id)
	frame := &Frame{Type: FrameMessage, DID: id, Payload: envelope}

	h.mu.RLock()
	members := make([]*session, 0, len(h.groups[id]))

	for _, s := range h.groups[id] {
		members = append(members, s)
	}
	h.mu.RUnlock()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		reached int
	)

	for _, s := range members {
		wg.Add(1)

		go func(s *session) {
			defer wg.Done()

			if err := h.write(ctx, s, frame); err != nil {
				logger.Infof("push to session %s failed, dropping it: %v", s.id, err)

				_ = s.conn.Close(websocket.StatusInternalError, "push failed") //nolint:errcheck

				return
			}

			mu.Lock()
			reached++
			mu.Unlock()
		}(s)
	}

	wg.Wait()

	return reached, nil
}

// GroupSize returns the number of sessions in the group of a DID.
func (h *Hub) GroupSize(id string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.groups[did.Normalize(id)])
}

// SessionCount returns the number of connected sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.sessions)
}

func (h *Hub) write(parent context.Context, s *session, f *Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(parent, h.writeTimeout)
	defer cancel()

	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (h *Hub) removeSession(s *session) {
	h.mu.Lock()

	for id := range s.groups {
		h.leave(s, id)
	}

	delete(h.sessions, s.id)

	h.mu.Unlock()

	err := s.conn.Close(websocket.StatusNormalClosure, "")
	if err != nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		logger.Debugf("closing push session %s: %v", s.id, err)
	}

	logger.Debugf("push session %s dropped", s.id)
}
