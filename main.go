package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/mqy/minichat/api"
	"github.com/mqy/minichat/auth"
	"github.com/mqy/minichat/chat"
	pb "github.com/mqy/minichat/proto"
	"github.com/mqy/minichat/store"
	"github.com/mqy/minichat/ws"
)

const (
	minCacheTTLDays = 1
	maxCacheTTLDays = 365
)

var (
	flagHTTPBase   = flag.String("http-base", "http://127.0.0.1:8000", "chat server REST root")
	flagSocketBase = flag.String("socket-base", "ws://127.0.0.1:8000/ws/chat", "conversation socket root")
	flagGlobalBase = flag.String("global-socket-base", "ws://127.0.0.1:8000/ws/global", "global socket root")

	flagUser  = flag.String("user", "", "username of the logged in user")
	flagToken = flag.String("token", "", "bearer token of the logged in user")
	flagPeer  = flag.String("peer", "", "open a conversation with this user; without it only the chat list is shown")

	flagCacheFile    = flag.String("cache-file", "", "bbolt file caching conversations, empty disables the cache")
	flagCacheTTLDays = flag.Uint("cache-ttldays", 30, "drop cached conversations older than this many days")

	flagMetricsAddr = flag.String("metrics-addr", "", "serve prometheus metrics on this address, ip:port")
	flagTypingIdle  = flag.Duration("typing-idle", chat.DefaultTypingIdle, "idle time after which typing stops")
)

func main() {
	flag.Parse()

	// NOTE: os.Exit() does not call defers.
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	if v := validateFlags(); v > 0 {
		return v
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	session, err := auth.Resume(ctx, newAuthClient())
	if err != nil {
		return errorf("login required: %v", err)
	}

	var cache store.ISnapshotStore
	if *flagCacheFile != "" {
		s, err := store.OpenSnapshotStore(*flagCacheFile)
		if err != nil {
			return errorf("--cache-file: %v", err)
		}
		defer s.Close()
		n, err := s.DeleteOutdated(ctx, session.Username(), int32(*flagCacheTTLDays))
		if err != nil {
			glog.Errorf("cache: delete outdated: %v", err)
		} else if n > 0 {
			glog.Infof("cache: %d outdated conversations dropped", n)
		}
		cache = s
	}

	deps := chat.Deps{
		Session:  session,
		Client:   api.NewClient(api.Config{BaseURL: *flagHTTPBase}, session),
		Handlers: ws.NewHandlerStore(ws.NewMetrics(prometheus.DefaultRegisterer)),
		Cache:    cache,
	}
	defer deps.Handlers.Close()

	conf := chat.Config{
		SocketBase: *flagSocketBase,
		GlobalBase: *flagGlobalBase,
		TypingIdle: *flagTypingIdle,
	}

	glog.Infof("minichat client of `%s` is starting", session.Username())

	g, gctx := errgroup.WithContext(ctx)

	if *flagMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(
			prometheus.DefaultGatherer,
			promhttp.HandlerOpts{},
		))
		srv := &http.Server{Addr: *flagMetricsAddr, Handler: mux}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	global, err := chat.NewGlobal(conf, deps)
	if err != nil {
		return errorf("global channel: %v", err)
	}
	if err := global.Load(ctx); err != nil {
		return errorf("load chats: %v", err)
	}
	if err := global.Open(ctx); err != nil {
		return errorf("open global channel: %v", err)
	}
	defer global.Close()
	printChats(os.Stdout, global.Chats())
	g.Go(func() error { return watchGlobal(gctx, global) })

	var conv *chat.Conversation
	if *flagPeer != "" {
		conv, err = chat.NewConversation(conf, deps, *flagPeer)
		if err != nil {
			return errorf("--peer: %v", err)
		}
		if err := conv.Load(ctx); err != nil {
			return errorf("load conversation: %v", err)
		}
		printSections(os.Stdout, conv.Sections())
		if err := conv.Open(ctx); err != nil {
			// a blocked conversation is still readable.
			glog.Errorf("open conversation: %v", err)
		}
		defer conv.Close()
		g.Go(func() error { return watchConversation(gctx, conv) })
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-session.Done():
			return session.Err()
		}
	})

	lines := readLines(os.Stdin)
	g.Go(func() error { return inputLoop(gctx, lines, session, global, conv) })

	err = g.Wait()
	if err != nil && !errors.Is(err, auth.ErrLoggedOut) && !errors.Is(err, errQuit) {
		return errorf("minichat client stopped: %v", err)
	}
	glog.Info("minichat client exited")
	return 0
}

var errQuit = errors.New("quit")

// newAuthClient serves the --user/--token credentials.
func newAuthClient() auth.Client {
	return auth.NewStaticClient(*flagUser, *flagToken)
}

func readLines(r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			out <- scanner.Text()
		}
	}()
	return out
}

const help = `commands:
  <text>          send text
  /media <path>   queue an image or video; /send uploads the queue
  /delete <id>    delete a message
  /clear          delete the whole conversation
  /block /unblock block or unblock the peer
  /chats          show the chat list
  /online         show online conversations
  /logout /quit`

func inputLoop(ctx context.Context, lines <-chan string, session *auth.Session, global *chat.Global, conv *chat.Conversation) error {
	fmt.Println(help)
	for {
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case line, ok = <-lines:
			if !ok {
				return errQuit
			}
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		cmd, arg := line, ""
		if i := strings.IndexByte(line, ' '); i > 0 {
			cmd, arg = line[:i], strings.TrimSpace(line[i+1:])
		}

		var err error
		switch cmd {
		case "/quit":
			return errQuit
		case "/logout":
			session.Logout()
			return nil
		case "/chats":
			printChats(os.Stdout, global.Chats())
		case "/online":
			printChats(os.Stdout, global.OnlineChats())
		case "/help":
			fmt.Println(help)
		default:
			if conv == nil {
				fmt.Println("no conversation, start with --peer")
				continue
			}
			err = conversationCommand(ctx, conv, cmd, arg, line)
		}
		if err != nil {
			fmt.Printf("! %v\n", err)
		}
	}
}

func conversationCommand(ctx context.Context, conv *chat.Conversation, cmd, arg, line string) error {
	switch cmd {
	case "/media":
		kind, err := mediaKind(arg)
		if err != nil {
			return err
		}
		return conv.QueueMedia(api.MediaItem{Path: arg, Kind: kind})
	case "/send":
		n, err := conv.SendMedia(ctx)
		fmt.Printf("%d media sent\n", n)
		return err
	case "/delete":
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id `%s`", arg)
		}
		return conv.Delete(ctx, id)
	case "/clear":
		return conv.Clear(ctx)
	case "/block":
		return conv.Block(ctx, true)
	case "/unblock":
		return conv.Block(ctx, false)
	}
	if strings.HasPrefix(cmd, "/") {
		return fmt.Errorf("unknown command `%s`", cmd)
	}
	// a whole line arrives at once; announce it as typed before sending.
	conv.SetDraft(line)
	return conv.SendText(line)
}

func mediaKind(path string) (pb.MediaKind, error) {
	t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	switch {
	case strings.HasPrefix(t, "image/"):
		return pb.MediaImage, nil
	case strings.HasPrefix(t, "video/"):
		return pb.MediaVideo, nil
	}
	return "", fmt.Errorf("%w: `%s`", chat.ErrUnsupportedMedia, path)
}

func watchGlobal(ctx context.Context, global *chat.Global) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-global.Events():
			switch ev.Kind {
			case chat.ChatsChanged:
				printChats(os.Stdout, global.Chats())
			case chat.MembersChanged:
				fmt.Printf("* online: %s\n", strings.Join(global.Members(), ", "))
			case chat.NoticeRaised:
				fmt.Printf("! %s\n", ev.Notice)
			}
		}
	}
}

func watchConversation(ctx context.Context, conv *chat.Conversation) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-conv.Events():
			switch ev.Kind {
			case chat.MessagesChanged:
				printSections(os.Stdout, conv.Sections())
			case chat.TypingChanged:
				if conv.PeerTyping() {
					fmt.Printf("* %s is typing ...\n", conv.Peer())
				}
			case chat.PresenceChanged, chat.BlockChanged:
				st := conv.BlockState()
				fmt.Printf("* %s online: %v, blocked you: %v, blocked by you: %v\n",
					conv.Peer(), st.PeerOnline, st.PeerBlockedSelf, st.SelfBlockedPeer)
			case chat.ConnChanged:
				fmt.Printf("* socket %s\n", conv.ConnState())
			case chat.NoticeRaised:
				fmt.Printf("! %s\n", ev.Notice)
			}
		}
	}
}

func printChats(w io.Writer, chats []*pb.ChatPreview) {
	fmt.Fprintf(w, "--- %d chats\n", len(chats))
	for _, c := range chats {
		var flags []string
		if c.IsTyping {
			flags = append(flags, "typing")
		}
		if c.IsBlocked {
			flags = append(flags, "blocked")
		}
		if c.UnseenMsgs > 0 {
			flags = append(flags, fmt.Sprintf("%d unseen", c.UnseenMsgs))
		}
		fmt.Fprintf(w, "%-16s %-8s %s [%s]\n", c.Username, c.LastMessageTime, c.LastMessage, strings.Join(flags, ","))
	}
}

func printSections(w io.Writer, sections pb.Sections) {
	for _, sec := range sections {
		fmt.Fprintf(w, "--- %s\n", sec.Label)
		for _, m := range sec.Messages {
			body := m.Content
			if ref := m.MediaRef(); ref != "" {
				body = fmt.Sprintf("[%s] %s", m.MsgType, ref)
			}
			fmt.Fprintf(w, "#%-5d %-8s %s: %s\n", m.Id, m.Timestamp, m.Sender, body)
		}
	}
}

func validateFlags() int {
	if *flagUser == "" || *flagToken == "" {
		return errorf("--user and --token are required")
	}
	if err := validateURL(*flagHTTPBase, "http", "https"); err != nil {
		return errorf("--http-base: %v", err)
	}
	if err := validateURL(*flagSocketBase, "ws", "wss"); err != nil {
		return errorf("--socket-base: %v", err)
	}
	if err := validateURL(*flagGlobalBase, "ws", "wss"); err != nil {
		return errorf("--global-socket-base: %v", err)
	}
	if *flagPeer == *flagUser {
		return errorf("--peer: can not chat with yourself")
	}
	if *flagCacheFile != "" {
		if *flagCacheTTLDays < minCacheTTLDays || *flagCacheTTLDays > maxCacheTTLDays {
			return errorf("invalid --cache-ttldays, expect in range [%d, %d]", minCacheTTLDays, maxCacheTTLDays)
		}
	}
	if *flagTypingIdle < 100*time.Millisecond {
		return errorf("--typing-idle: at least 100ms")
	}
	if *flagMetricsAddr != "" {
		if _, _, err := net.SplitHostPort(*flagMetricsAddr); err != nil {
			return errorf("--metrics-addr: %v", err)
		}
	}
	return 0
}

func validateURL(s string, schemes ...string) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return fmt.Errorf("`%s` has no host", s)
	}
	for _, scheme := range schemes {
		if u.Scheme == scheme {
			return nil
		}
	}
	return fmt.Errorf("`%s`: scheme must be one of %v", s, schemes)
}

func errorf(fmt string, args ...interface{}) int {
	glog.Errorf(fmt, args...)
	return 1
}
