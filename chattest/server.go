// Package chattest is an in-memory chat server speaking the socket and REST
// protocol of the chat core. Tests drive it with httptest; dev/demo serves it.
package chattest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/mqy/minichat/chatstore"
	pb "github.com/mqy/minichat/proto"
	"github.com/mqy/minichat/store"
)

const (
	ChatPath   = "/ws/chat/"
	GlobalPath = "/ws/global/"

	writeWait = 3 * time.Second

	// upload size the server accepts, slightly above what clients validate.
	maxUploadBytes = 32 << 20
)

// Users maps tokens to usernames.
type Users map[string]string

// SocketBase returns the conversation socket base for a server at httpURL.
func SocketBase(httpURL string) string {
	return wsURL(httpURL) + strings.TrimSuffix(ChatPath, "/")
}

// GlobalBase returns the global socket base for a server at httpURL.
func GlobalBase(httpURL string) string {
	return wsURL(httpURL) + strings.TrimSuffix(GlobalPath, "/")
}

func wsURL(httpURL string) string {
	if strings.HasPrefix(httpURL, "https://") {
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	}
	return "ws://" + strings.TrimPrefix(httpURL, "http://")
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type peer struct {
	sync.Mutex
	conn *websocket.Conn
	user string
	// ready once the connect-time presence frame went out.
	ready bool
}

func (p *peer) send(data []byte) error {
	p.Lock()
	defer p.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// Server implements http.Handler.
type Server struct {
	sync.Mutex

	// SnapshotOnConnect attaches the stored messages to presence frames.
	SnapshotOnConnect bool

	users  Users
	router chi.Router

	convs   map[string]*chatstore.Store
	blocks  map[string]map[string]bool // blocker -> blocked
	peers   map[string]map[*peer]bool  // conversation key -> sockets
	globals map[string]map[*peer]bool  // username -> sockets

	received    map[string][]*pb.Frame
	dials       map[string]int
	failUploads map[string]bool
	uploads     int
	nextID      int64
}

func NewServer(users Users) *Server {
	s := &Server{
		users:       users,
		router:      chi.NewRouter(),
		convs:       make(map[string]*chatstore.Store),
		blocks:      make(map[string]map[string]bool),
		peers:       make(map[string]map[*peer]bool),
		globals:     make(map[string]map[*peer]bool),
		received:    make(map[string][]*pb.Frame),
		dials:       make(map[string]int),
		failUploads: make(map[string]bool),
	}

	r := s.router
	r.Use(middleware.Recoverer)

	// sockets carry the token in the path.
	r.Get(ChatPath+"{key}/{token}/", s.serveChat)
	r.Get(GlobalPath+"{token}/", s.serveGlobal)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/chat/messages/", s.handleMessages)
		r.Get("/chat/chats/", s.handleChats)
		r.Post("/chat/send-message/", s.handleSendMessage)
		r.Post("/chat/message-delete/", s.handleMessageDelete)
		r.Post("/chat/clear-chat/", s.handleClearChat)
		r.Post("/chat/block-user/", s.handleBlockUser)
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close drops every socket.
func (s *Server) Close() {
	s.Lock()
	var all []*peer
	for _, set := range s.peers {
		for p := range set {
			all = append(all, p)
		}
	}
	for _, set := range s.globals {
		for p := range set {
			all = append(all, p)
		}
	}
	s.Unlock()

	for _, p := range all {
		p.conn.Close()
	}
}

func (s *Server) userOf(token string) (string, bool) {
	user, ok := s.users[token]
	return user, ok
}

// peerOf returns the other participant of `key`, if `user` is one.
func peerOf(key, user string) (string, bool) {
	parts := strings.Split(key, pb.ConversationKeySep)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", false
	}
	switch user {
	case parts[0]:
		return parts[1], true
	case parts[1]:
		return parts[0], true
	}
	return "", false
}

// conv requires the lock.
func (s *Server) conv(key string) *chatstore.Store {
	c := s.convs[key]
	if c == nil {
		c = chatstore.New()
		s.convs[key] = c
	}
	return c
}

// blocked requires the lock.
func (s *Server) blocked(blocker, blocked string) bool {
	return s.blocks[blocker][blocked]
}

func (s *Server) serveChat(w http.ResponseWriter, r *http.Request) {
	key, token := chi.URLParam(r, "key"), chi.URLParam(r, "token")

	user, ok := s.userOf(token)
	if !ok {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	peerName, ok := peerOf(key, user)
	if !ok {
		http.Error(w, "not a participant", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Errorf("chattest: upgrade error, key: %s, err: %v", key, err)
		return
	}

	p := &peer{conn: conn, user: user}
	s.Lock()
	if s.peers[key] == nil {
		s.peers[key] = make(map[*peer]bool)
	}
	s.peers[key][p] = true
	s.dials[key]++
	s.Unlock()

	s.broadcastPresence(key)
	s.Lock()
	p.ready = true
	s.Unlock()

	defer func() {
		conn.Close()
		s.Lock()
		delete(s.peers[key], p)
		s.Unlock()
		s.broadcastPresence(key)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f, err := pb.Decode(data)
		if err != nil {
			glog.V(2).Infof("chattest: drop malformed frame from %s: %v", user, err)
			continue
		}
		s.Lock()
		s.received[key] = append(s.received[key], f)
		s.Unlock()

		s.handleChatFrame(key, user, peerName, f)
	}
}

func (s *Server) handleChatFrame(key, user, peerName string, f *pb.Frame) {
	switch f.Status {
	case pb.StatusMsg:
		if strings.TrimSpace(f.Content) == "" {
			return
		}
		s.Lock()
		if s.blocked(user, peerName) || s.blocked(peerName, user) {
			s.Unlock()
			return
		}
		msg := s.newMessage(user, peerName, pb.MsgTypeText)
		msg.Content = f.Content
		s.conv(key).Upsert(liveSection(), msg)
		s.Unlock()

		s.Push(key, &pb.Frame{Status: pb.StatusMsg, Message: msg})
		s.pushChats(user, peerName)
	case pb.StatusTyping:
		s.Push(key, f)
		s.PushGlobal(peerName, &pb.Frame{Status: pb.StatusTyping, Sender: user, IsTyping: pb.Bool(f.GetIsTyping())})
	case pb.StatusBlock:
		s.Push(key, f)
	case pb.StatusMediaUpdate:
		s.Push(key, f)
		s.pushChats(user, peerName)
	}
}

func liveSection() string {
	now := time.Now()
	return store.SectionLabel(now, now)
}

// newMessage requires the lock.
func (s *Server) newMessage(sender, receiver string, t pb.MsgType) *pb.Message {
	s.nextID++
	return &pb.Message{
		Id:        s.nextID,
		Sender:    sender,
		Receiver:  receiver,
		MsgType:   t,
		Timestamp: time.Now().Format("3:04 PM"),
	}
}

func (s *Server) broadcastPresence(key string) {
	s.Lock()
	var targets []*peer
	users := make(map[string]bool)
	for p := range s.peers[key] {
		targets = append(targets, p)
		users[p.user] = true
	}
	var snapshot *pb.Sections
	if s.SnapshotOnConnect {
		sections := s.conv(key).Sections()
		snapshot = &sections
	}
	s.Unlock()

	for _, p := range targets {
		result := pb.PresenceOffline
		for u := range users {
			if u != p.user {
				result = pb.PresenceOnline
			}
		}
		data, _ := pb.Encode(&pb.Frame{Status: pb.StatusPresence, Result: result, Messages: snapshot})
		_ = p.send(data)
	}
}

func (s *Server) serveGlobal(w http.ResponseWriter, r *http.Request) {
	user, ok := s.userOf(chi.URLParam(r, "token"))
	if !ok {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Errorf("chattest: upgrade error, user: %s, err: %v", user, err)
		return
	}

	p := &peer{conn: conn, user: user}
	s.Lock()
	if s.globals[user] == nil {
		s.globals[user] = make(map[*peer]bool)
	}
	s.globals[user][p] = true
	s.dials[GlobalPath+user]++
	s.Unlock()

	s.broadcastMembers()
	s.Lock()
	p.ready = true
	s.Unlock()

	defer func() {
		conn.Close()
		s.Lock()
		delete(s.globals[user], p)
		if len(s.globals[user]) == 0 {
			delete(s.globals, user)
		}
		s.Unlock()
		s.broadcastMembers()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) broadcastMembers() {
	s.Lock()
	members := make([]string, 0, len(s.globals))
	var targets []*peer
	for user, set := range s.globals {
		members = append(members, user)
		for p := range set {
			targets = append(targets, p)
		}
	}
	s.Unlock()

	sort.Strings(members)
	data, _ := pb.Encode(&pb.Frame{Status: pb.StatusPresence, Members: members})
	for _, p := range targets {
		_ = p.send(data)
	}
}

func (s *Server) pushChats(users ...string) {
	for _, u := range users {
		s.Lock()
		chats := s.chatsOf(u)
		s.Unlock()
		s.PushGlobal(u, &pb.Frame{Status: pb.StatusMsg, Chats: chats})
	}
}

// chatsOf requires the lock.
func (s *Server) chatsOf(user string) []*pb.ChatPreview {
	out := []*pb.ChatPreview{}
	for key, c := range s.convs {
		peerName, ok := peerOf(key, user)
		if !ok {
			continue
		}
		preview := &pb.ChatPreview{
			Username:  peerName,
			IsBlocked: s.blocked(user, peerName),
		}
		for _, sec := range c.Sections() {
			for _, m := range sec.Messages {
				if m.Id >= preview.Id {
					preview.Id = m.Id
					preview.LastMessage = m.Content
					preview.LastMessageTime = m.Timestamp
					preview.MsgType = m.MsgType
				}
				if m.Receiver == user && !m.IsSeen {
					preview.UnseenMsgs++
				}
			}
		}
		out = append(out, preview)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id > out[j].Id })
	return out
}

// Say posts a text message from `from` to `to` as if sent over the socket.
func (s *Server) Say(from, to, content string) {
	s.handleChatFrame(pb.ConversationKey(from, to), from, to, pb.NewTextFrame(from, to, content))
}

// Push sends `f` to every socket of conversation `key`.
func (s *Server) Push(key string, f *pb.Frame) {
	data, err := pb.Encode(f)
	if err != nil {
		glog.Errorf("chattest: encode frame: %v", err)
		return
	}
	s.PushRaw(key, data)
}

// PushRaw sends `data` unchanged to every socket of conversation `key`.
func (s *Server) PushRaw(key string, data []byte) {
	s.Lock()
	var targets []*peer
	for p := range s.peers[key] {
		targets = append(targets, p)
	}
	s.Unlock()
	for _, p := range targets {
		_ = p.send(data)
	}
}

// PushGlobal sends `f` to every global socket of `user`.
func (s *Server) PushGlobal(user string, f *pb.Frame) {
	data, err := pb.Encode(f)
	if err != nil {
		glog.Errorf("chattest: encode frame: %v", err)
		return
	}
	s.Lock()
	var targets []*peer
	for p := range s.globals[user] {
		targets = append(targets, p)
	}
	s.Unlock()
	for _, p := range targets {
		_ = p.send(data)
	}
}

// Drop closes the sockets of `key` without a close handshake.
func (s *Server) Drop(key string) {
	s.Lock()
	var targets []*peer
	for p := range s.peers[key] {
		targets = append(targets, p)
	}
	s.Unlock()
	for _, p := range targets {
		p.conn.UnderlyingConn().Close()
	}
}

// Received returns the frames the server got on conversation `key`.
func (s *Server) Received(key string) []*pb.Frame {
	s.Lock()
	defer s.Unlock()
	out := make([]*pb.Frame, len(s.received[key]))
	copy(out, s.received[key])
	return out
}

// Dials counts accepted sockets for conversation `key`.
func (s *Server) Dials(key string) int {
	s.Lock()
	defer s.Unlock()
	return s.dials[key]
}

// GlobalDials counts accepted global sockets of `user`.
func (s *Server) GlobalDials(user string) int {
	s.Lock()
	defer s.Unlock()
	return s.dials[GlobalPath+user]
}

// Connected counts live sockets of conversation `key` that got their
// connect-time presence frame.
func (s *Server) Connected(key string) int {
	s.Lock()
	defer s.Unlock()
	n := 0
	for p := range s.peers[key] {
		if p.ready {
			n++
		}
	}
	return n
}

// GlobalConnected counts ready global sockets of `user`.
func (s *Server) GlobalConnected(user string) int {
	s.Lock()
	defer s.Unlock()
	n := 0
	for p := range s.globals[user] {
		if p.ready {
			n++
		}
	}
	return n
}

func (s *Server) Uploads() int {
	s.Lock()
	defer s.Unlock()
	return s.uploads
}

// FailUpload makes uploads of file `name` answer 500.
func (s *Server) FailUpload(name string) {
	s.Lock()
	defer s.Unlock()
	s.failUploads[name] = true
}

// Seed installs `sections` as the history of `key`.
func (s *Server) Seed(key string, sections pb.Sections) {
	s.Lock()
	defer s.Unlock()
	s.conv(key).ReplaceAll(sections)
	for _, id := range sections.Ids() {
		if id > s.nextID {
			s.nextID = id
		}
	}
}

func (s *Server) Messages(key string) pb.Sections {
	s.Lock()
	defer s.Unlock()
	return s.conv(key).Sections()
}

func (s *Server) SetBlocked(blocker, blocked string, v bool) {
	s.Lock()
	defer s.Unlock()
	if s.blocks[blocker] == nil {
		s.blocks[blocker] = make(map[string]bool)
	}
	s.blocks[blocker][blocked] = v
}

func (s *Server) Blocked(blocker, blocked string) bool {
	s.Lock()
	defer s.Unlock()
	return s.blocked(blocker, blocked)
}

type ctxKey struct{}

// authenticate resolves the bearer token into the request user.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		user, ok := s.userOf(token)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid token."})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, user)))
	})
}

func userFrom(r *http.Request) string {
	user, _ := r.Context().Value(ctxKey{}).(string)
	return user
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
}

func badRequest(w http.ResponseWriter, format string, args ...interface{}) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"detail": fmt.Sprintf(format, args...)})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	var req struct {
		Chat string `json:"chat"`
	}
	if err := readJSON(r, &req); err != nil {
		badRequest(w, "invalid body: %v", err)
		return
	}
	peerName, ok := peerOf(req.Chat, user)
	if !ok {
		badRequest(w, "invalid chat `%s`", req.Chat)
		return
	}

	s.Lock()
	resp := struct {
		Messages pb.Sections `json:"messages"`
		Profile  pb.Profile  `json:"profile"`
	}{
		Messages: s.conv(req.Chat).Sections(),
		Profile: pb.Profile{
			Username:     peerName,
			Blocked:      s.blocked(peerName, user),
			OtherBlocked: s.blocked(user, peerName),
		},
	}
	s.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChats(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	s.Lock()
	chats := s.chatsOf(user)
	s.Unlock()
	writeJSON(w, http.StatusOK, chats)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		badRequest(w, "invalid form: %v", err)
		return
	}
	kind := pb.MediaKind(r.FormValue("type"))
	key := r.FormValue("name")
	peerName, ok := peerOf(key, user)
	if !ok {
		badRequest(w, "invalid chat `%s`", key)
		return
	}
	if !kind.Valid() {
		badRequest(w, "unsupported type `%s`", kind)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "missing file: %v", err)
		return
	}
	defer file.Close()

	s.Lock()
	if s.failUploads[header.Filename] {
		s.Unlock()
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "storage unavailable"})
		return
	}
	s.uploads++
	var msg *pb.Message
	if kind == pb.MediaImage {
		msg = s.newMessage(user, peerName, pb.MsgTypeImage)
		msg.Image = "/media/images/" + header.Filename
	} else {
		msg = s.newMessage(user, peerName, pb.MsgTypeVideo)
		msg.Video = "/media/videos/" + header.Filename
	}
	s.conv(key).Upsert(liveSection(), msg)
	s.Unlock()

	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleMessageDelete(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	var req struct {
		Id   string `json:"id"`
		Name string `json:"name"`
	}
	if err := readJSON(r, &req); err != nil {
		badRequest(w, "invalid body: %v", err)
		return
	}
	id, err := strconv.ParseInt(req.Id, 10, 64)
	if err != nil {
		badRequest(w, "invalid id `%s`", req.Id)
		return
	}
	if _, ok := peerOf(req.Name, user); !ok {
		badRequest(w, "invalid chat `%s`", req.Name)
		return
	}

	s.Lock()
	c := s.conv(req.Name)
	if _, ok := c.Get(id); !ok {
		s.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	after := c.Sections()
	for i := range after {
		kept := after[i].Messages[:0]
		for _, m := range after[i].Messages {
			if m.Id != id {
				kept = append(kept, m)
			}
		}
		after[i].Messages = kept
	}
	c.ReplaceAll(after)
	s.Unlock()

	writeJSON(w, http.StatusOK, after)
}

func (s *Server) handleClearChat(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	var req struct {
		Name string `json:"name"`
	}
	if err := readJSON(r, &req); err != nil {
		badRequest(w, "invalid body: %v", err)
		return
	}
	if _, ok := peerOf(req.Name, user); !ok {
		badRequest(w, "invalid chat `%s`", req.Name)
		return
	}
	s.Lock()
	s.conv(req.Name).ReplaceAll(pb.Sections{})
	s.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"detail": "cleared"})
}

func (s *Server) handleBlockUser(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	var req struct {
		User   string `json:"user"`
		Status string `json:"status"`
	}
	if err := readJSON(r, &req); err != nil {
		badRequest(w, "invalid body: %v", err)
		return
	}
	if req.User == "" || req.User == user {
		badRequest(w, "invalid user `%s`", req.User)
		return
	}
	var block bool
	switch req.Status {
	case "block":
		block = true
	case "unblock":
	default:
		badRequest(w, "invalid status `%s`", req.Status)
		return
	}
	s.SetBlocked(user, req.User, block)
	writeJSON(w, http.StatusOK, map[string]string{"detail": req.Status + "ed"})
}
