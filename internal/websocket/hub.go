package chatws

import (
	"context"
	"log"
	"time"

	"github.com/davood-kh/ExpertConnectBack/internal/models"
	"github.com/davood-kh/ExpertConnectBack/internal/presence"
)

const (
	// typingIdleTimeout ends a typing indicator even when the explicit
	// stopTyping event is lost.
	typingIdleTimeout = 2 * time.Second

	// presenceGracePeriod delays the offline flip after the last
	// connection closes, so transient reconnects do not flap presence.
	presenceGracePeriod = 3 * time.Second
)

type deliveryScope int

const (
	scopeRoom deliveryScope = iota
	scopePersonal
	scopeClient
	scopePresence
)

// envelope is a routed outbound event: to every connection in a room,
// to every connection of one participant (personal channel), to a
// single connection, or to every room shared with a participant
// (presence deltas).
type envelope struct {
	scope   deliveryScope
	room    int64
	user    string
	exclude string
	client  *Client
	event   *Event
	// remote envelopes were injected by the bridge and are never
	// republished.
	remote bool
}

type joinRequest struct {
	client         *Client
	conversationID int64
	pair           [2]models.Participant
}

type roomState struct {
	members map[*Client]struct{}
	pair    [2]models.Participant
}

func (r *roomState) contains(token string) bool {
	return r.pair[0].Token() == token || r.pair[1].Token() == token
}

type typingKey struct {
	room  int64
	typer string
}

type offlineCheck struct {
	token       string
	participant models.Participant
	at          time.Time
}

// Hub rooms connections by conversation id and keys personal channels
// by participant token. All membership state, typing timers and grace
// timers are owned by the Run goroutine; connection handlers never
// touch them directly. Store and tracker I/O stays out of the loop
// except for the cheap presence calls.
type Hub struct {
	clients    map[string]map[*Client]struct{}
	rooms      map[int64]*roomState
	register   chan *Client
	unregister chan *Client
	join       chan joinRequest
	broadcast  chan *envelope
	offline    chan offlineCheck

	tracker    presence.Tracker
	grace      time.Duration
	typingIdle time.Duration

	offlineTimers map[string]*time.Timer
	typingTimers  map[typingKey]*time.Timer

	bridge *Bridge
}

func NewHub(tracker presence.Tracker) *Hub {
	return &Hub{
		clients:       make(map[string]map[*Client]struct{}),
		rooms:         make(map[int64]*roomState),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		join:          make(chan joinRequest),
		broadcast:     make(chan *envelope, 256),
		offline:       make(chan offlineCheck, 16),
		tracker:       tracker,
		grace:         presenceGracePeriod,
		typingIdle:    typingIdleTimeout,
		offlineTimers: make(map[string]*time.Timer),
		typingTimers:  make(map[typingKey]*time.Timer),
	}
}

// SetBridge attaches the cross-instance pub/sub bridge. Must be called
// before Run.
func (h *Hub) SetBridge(bridge *Bridge) {
	h.bridge = bridge
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case req := <-h.join:
			h.joinRoom(req)
		case env := <-h.broadcast:
			h.deliver(env)
		case check := <-h.offline:
			h.confirmOffline(check)
		}
	}
}

func (h *Hub) Register(client *Client)   { h.register <- client }
func (h *Hub) Unregister(client *Client) { h.unregister <- client }

func (h *Hub) Join(client *Client, conversationID int64, pair [2]models.Participant) {
	h.join <- joinRequest{client: client, conversationID: conversationID, pair: pair}
}

func (h *Hub) Broadcast(env *envelope) {
	h.broadcast <- env
}

// injectRemote feeds a bridge-delivered envelope into the loop.
func (h *Hub) injectRemote(env *envelope) {
	env.remote = true
	h.broadcast <- env
}

func (h *Hub) addClient(client *Client) {
	token := client.participant.Token()
	set, ok := h.clients[token]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[token] = set
	}
	fresh := len(set) == 0
	set[client] = struct{}{}

	if timer, pending := h.offlineTimers[token]; pending {
		// Reconnected within the grace period; the participant never
		// went offline.
		timer.Stop()
		delete(h.offlineTimers, token)
		return
	}

	if fresh {
		if err := h.tracker.SetOnline(context.Background(), client.participant); err != nil {
			log.Printf("chat hub set online %s: %v", token, err)
		}
		h.fanoutPresence(client.participant, models.Presence{IsOnline: true}, false)
	}
}

func (h *Hub) removeClient(client *Client) {
	token := client.participant.Token()
	set, ok := h.clients[token]
	if !ok {
		return
	}
	if _, exists := set[client]; !exists {
		return
	}

	delete(set, client)
	client.closeSend()
	h.leaveRoom(client)

	if len(set) > 0 {
		return
	}
	delete(h.clients, token)

	check := offlineCheck{token: token, participant: client.participant, at: time.Now().UTC()}
	h.offlineTimers[token] = time.AfterFunc(h.grace, func() {
		h.offline <- check
	})
}

func (h *Hub) confirmOffline(check offlineCheck) {
	if _, pending := h.offlineTimers[check.token]; !pending {
		// Canceled by a reconnect that raced the timer.
		return
	}
	delete(h.offlineTimers, check.token)
	if set, ok := h.clients[check.token]; ok && len(set) > 0 {
		return
	}

	if err := h.tracker.SetOffline(context.Background(), check.participant, check.at); err != nil {
		log.Printf("chat hub set offline %s: %v", check.token, err)
	}
	at := check.at
	h.fanoutPresence(check.participant, models.Presence{LastSeen: &at}, false)
}

func (h *Hub) joinRoom(req joinRequest) {
	h.leaveRoom(req.client)

	rs, ok := h.rooms[req.conversationID]
	if !ok {
		rs = &roomState{members: make(map[*Client]struct{}), pair: req.pair}
		h.rooms[req.conversationID] = rs
	}
	rs.members[req.client] = struct{}{}
	req.client.room = req.conversationID

	// Seed the joining connection with the peer's current presence so
	// the thread header renders without an extra round trip.
	if peer, ok := req.client.peerOf(req.pair); ok {
		status, err := h.tracker.Get(context.Background(), peer)
		if err != nil {
			log.Printf("chat hub presence lookup %s: %v", peer.Token(), err)
			return
		}
		if payload, err := presenceEvent(peer, status).encode(); err == nil {
			h.push(req.client, payload)
		}
	}
}

func (h *Hub) leaveRoom(client *Client) {
	if client.room == 0 {
		return
	}
	rs, ok := h.rooms[client.room]
	if ok {
		delete(rs.members, client)
		h.cancelTyping(typingKey{room: client.room, typer: client.participant.Token()})
		if len(rs.members) == 0 {
			delete(h.rooms, client.room)
		}
	}
	client.room = 0
}

func (h *Hub) deliver(env *envelope) {
	payload, err := env.event.encode()
	if err != nil {
		log.Printf("chat hub encode event %s: %v", env.event.Event, err)
		return
	}

	switch env.scope {
	case scopeRoom:
		if rs, ok := h.rooms[env.room]; ok {
			for client := range rs.members {
				if env.exclude != "" && client.participant.Token() == env.exclude {
					continue
				}
				h.push(client, payload)
			}
		}
	case scopePersonal:
		h.sendToUser(env.user, payload)
	case scopeClient:
		h.push(env.client, payload)
	case scopePresence:
		for _, rs := range h.rooms {
			if !rs.contains(env.user) {
				continue
			}
			for client := range rs.members {
				if client.participant.Token() == env.user {
					continue
				}
				h.push(client, payload)
			}
		}
	}

	h.manageTyping(env)

	if !env.remote && env.scope != scopeClient && h.bridge != nil {
		h.bridge.publish(env)
	}
}

// manageTyping keeps typing indicators from sticking: every typing
// event arms a fresh idle timer that synthesizes a stopTyping, and a
// delivered message from the typer clears any armed timer.
func (h *Hub) manageTyping(env *envelope) {
	if env.scope != scopeRoom {
		return
	}

	switch env.event.Event {
	case EventTyping:
		typer := models.Participant{Kind: env.event.TyperModel, ID: env.event.TyperID}
		key := typingKey{room: env.room, typer: typer.Token()}
		h.cancelTyping(key)

		stop := &Event{
			Event:          EventStopTyping,
			ConversationID: env.room,
			TyperID:        typer.ID,
			TyperModel:     typer.Kind,
		}
		h.typingTimers[key] = time.AfterFunc(h.typingIdle, func() {
			// Synthesized locally on every instance that saw the
			// typing event, so it is never republished.
			h.broadcast <- &envelope{
				scope:   scopeRoom,
				room:    env.room,
				exclude: key.typer,
				event:   stop,
				remote:  true,
			}
		})
	case EventStopTyping:
		typer := models.Participant{Kind: env.event.TyperModel, ID: env.event.TyperID}
		h.cancelTyping(typingKey{room: env.room, typer: typer.Token()})
	case EventReceiveMessage:
		if env.event.Message != nil {
			h.cancelTyping(typingKey{room: env.room, typer: env.event.Message.Sender().Token()})
		}
	}
}

func (h *Hub) cancelTyping(key typingKey) {
	if timer, ok := h.typingTimers[key]; ok {
		timer.Stop()
		delete(h.typingTimers, key)
	}
}

func (h *Hub) fanoutPresence(p models.Participant, status models.Presence, remote bool) {
	env := &envelope{
		scope:  scopePresence,
		user:   p.Token(),
		event:  presenceEvent(p, status),
		remote: remote,
	}
	h.deliver(env)
}

func (h *Hub) sendToUser(token string, payload []byte) {
	set, ok := h.clients[token]
	if !ok {
		return
	}
	for client := range set {
		h.push(client, payload)
	}
}

func (h *Hub) push(client *Client, payload []byte) {
	if !client.trySend(payload) {
		// Slow consumer; drop the connection rather than the loop.
		h.removeClient(client)
	}
}
