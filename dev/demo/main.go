package main

import (
	"flag"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/mqy/minichat/chattest"
)

// The demo server serves the chat protocol from memory, so the client can be
// tried without a real backend:
//
//	go run ./dev/demo --users tok-a=alice,tok-b=bob
//	go run . --user alice --token tok-a --peer bob

var (
	addr           = flag.String("addr", "127.0.0.1:8000", "listen address, ip:port")
	users          = flag.String("users", "tok-a=alice,tok-b=bob,tok-c=carol", "comma separated token=username pairs")
	snapshot       = flag.Bool("snapshot", false, "attach the history to presence frames")
	botName        = flag.String("bot", "bot", "username of the bot that greets every user, empty disables it")
	tickerDuration = flag.Duration("ticker-duration", 30*time.Second, "bot ticker duration")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	parsed, err := parseUsers(*users)
	if err != nil {
		glog.Fatalf("--users: %v", err)
	}

	srv := chattest.NewServer(parsed)
	srv.SnapshotOnConnect = *snapshot

	if *botName != "" {
		go greet(srv, *botName, parsed)
	}

	glog.Infof("demo chat server listening on %s", *addr)
	if err := http.ListenAndServe(*addr, srv); err != nil {
		glog.Fatalf("listen: %v", err)
	}
}

func greet(srv *chattest.Server, bot string, users chattest.Users) {
	ticker := time.NewTicker(*tickerDuration)
	defer ticker.Stop()

	var i int
	for range ticker.C {
		for _, user := range users {
			if user != bot {
				srv.Say(bot, user, fmt.Sprintf("hello %s, tick %d", user, i))
			}
		}
		i++
	}
}

func parseUsers(s string) (chattest.Users, error) {
	out := make(chattest.Users)
	for _, pair := range strings.Split(s, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) != 2 || kv[0] == "" || kv[1] == "" {
			return nil, fmt.Errorf("invalid pair `%s`, expect token=username", pair)
		}
		out[kv[0]] = kv[1]
	}
	return out, nil
}
