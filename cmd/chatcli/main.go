package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/eren-k/HomeProBack/pkg/chatclient"
	"github.com/eren-k/HomeProBack/pkg/chatproto"
)

func main() {
	apiAddr := flag.String("api", "http://localhost:8080", "server address")
	wsAddr := flag.String("ws", "ws://localhost:8080/api/v1/ws", "websocket address")
	email := flag.String("email", "", "account email")
	password := flag.String("password", "", "account password")
	role := flag.String("role", chatproto.RoleHomeowner, "viewer role (homeowner|professional)")
	userID := flag.Int64("user", 0, "own user id")
	flag.Parse()

	if *email == "" || *password == "" || *userID == 0 {
		log.Fatal("email, password and user are required")
	}

	ctx := context.Background()

	log.Printf("Logging in as %s...", *email)
	token, err := chatclient.Login(ctx, *apiAddr, *email, *password)
	if err != nil {
		log.Fatal("Login failed: ", err)
	}

	channel, err := chatclient.DialSocket(ctx, *wsAddr, token)
	if err != nil {
		log.Fatal("Socket dial failed: ", err)
	}
	defer channel.Close()

	api := chatclient.NewRESTClient(*apiAddr, token)
	inbox := chatclient.NewInbox(api, channel, *userID, *role)
	defer inbox.Release()

	if err := inbox.Load(ctx); err != nil {
		log.Fatal("Failed to load conversations: ", err)
	}

	session := inbox.Session()
	session.OnChange(func() {
		if session.PeerTyping() {
			fmt.Print("\rpeer is typing...      \n> ")
		}
	})

	printConversations(inbox)
	fmt.Println(`Commands: /open <conversation id>, /to <recipient id>, /list, /archive <id>, /quit`)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			switch {
			case line == "":
			case line == "/quit":
				close(interrupt)
				return
			case line == "/list":
				if err := inbox.Load(ctx); err != nil {
					fmt.Println("load failed:", err)
				}
				printConversations(inbox)
			case strings.HasPrefix(line, "/open "):
				id := parseID(line[len("/open "):])
				if err := inbox.Open(ctx, id); err != nil {
					fmt.Println("open failed:", err)
					break
				}
				for _, message := range session.Messages() {
					fmt.Printf("%s: %s\n", message.Sender.DisplayName(), message.Content)
				}
			case strings.HasPrefix(line, "/to "):
				if err := inbox.OpenWith(ctx, parseID(line[len("/to "):]), nil); err != nil {
					fmt.Println("failed:", err)
				}
			case strings.HasPrefix(line, "/archive "):
				if err := inbox.ArchiveConversation(ctx, parseID(line[len("/archive "):])); err != nil {
					fmt.Println("archive failed:", err)
				}
			default:
				session.InputChanged()
				if _, err := session.Send(ctx, line, nil); err != nil {
					fmt.Println("send failed:", err)
				}
			}
			fmt.Print("> ")
		}
	}()

	<-interrupt
	log.Println("bye")
}

func printConversations(inbox *chatclient.Inbox) {
	for _, summary := range inbox.Conversations("") {
		last := ""
		if summary.LastMessage != nil {
			last = summary.LastMessage.Content
		}
		fmt.Printf("[%d] %s (%d unread) %s\n",
			summary.ID,
			summary.Counterpart(inbox.Role()).DisplayName(),
			summary.UnreadFor(inbox.Role()),
			last,
		)
	}
	fmt.Printf("total unread: %d\n", inbox.TotalUnread())
}

func parseID(raw string) int64 {
	id, _ := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	return id
}
