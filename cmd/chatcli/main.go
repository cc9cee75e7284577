// Command chatcli is a terminal client: log in, open a conversation with one
// user and chat over the websocket.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"directchat/internal/client"
	clog "directchat/internal/log"
	"directchat/internal/realtime"

	"github.com/rs/zerolog/log"
)

func main() {
	var (
		server   = flag.String("server", "http://localhost:8080", "chat server base URL")
		email    = flag.String("email", "", "account email")
		password = flag.String("password", "", "account password")
		name     = flag.String("name", "", "display name; registers the account first when set")
		peer     = flag.String("peer", "", "name or id of the user to chat with")
	)
	flag.Parse()
	clog.Init("dev", "warn")

	if *email == "" || *password == "" || *peer == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var mu sync.Mutex
	printed := make(map[string]bool)
	s := client.NewSession(client.Config{BaseURL: *server}, client.Handlers{
		// Each confirmed line is printed once, when it first shows up.
		OnTimeline: func(entries []client.Entry) {
			mu.Lock()
			defer mu.Unlock()
			for _, e := range entries {
				if e.Pending || printed[e.ID] {
					continue
				}
				printed[e.ID] = true
				fmt.Printf("[%s] %s: %s\n", e.CreatedAt.Local().Format("15:04"), e.Sender.Name, e.Content)
			}
		},
		OnPresence: func(online []string) {
			fmt.Printf("* %d online\n", len(online))
		},
		OnNotification: func(n realtime.Notification) {
			fmt.Printf("* new message from %s: %s\n", n.From.Name, n.MessagePreview)
		},
		OnError: func(err error) {
			fmt.Fprintln(os.Stderr, "!", err)
		},
		OnConnState: func(up bool) {
			if !up {
				fmt.Println("* disconnected, retrying")
			}
		},
	})

	if *name != "" {
		if err := s.Register(ctx, *name, *email, *password); err != nil {
			log.Fatal().Err(err).Msg("register")
		}
	}
	if err := s.Login(ctx, *email, *password); err != nil {
		log.Fatal().Err(err).Msg("login")
	}
	users, err := s.Users(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("list users")
	}
	target, ok := findUser(users, *peer)
	if !ok {
		log.Fatal().Str("peer", *peer).Msg("no such user")
	}
	if err := s.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("connect")
	}
	defer s.Close()
	if err := s.Open(ctx, target); err != nil {
		log.Fatal().Err(err).Msg("open conversation")
	}
	fmt.Printf("* chatting with %s, ctrl-d to quit\n", target.Name)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if line = strings.TrimSpace(line); line == "" {
				continue
			}
			// Errors reach OnError.
			_, _ = s.Send(ctx, line)
		}
	}
}

func findUser(users []client.User, key string) (client.User, bool) {
	for _, u := range users {
		if strings.EqualFold(u.Name, key) || u.ID == key {
			return u, true
		}
	}
	return client.User{}, false
}
