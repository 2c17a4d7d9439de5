package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"chatlink/backend"
	"chatlink/channel"
	"chatlink/config"
	"chatlink/models"
	"chatlink/session"
)

var rootCmd = &cobra.Command{
	Use:   "chatlink",
	Short: "Terminal chat client",
	RunE:  runClient,
}

var (
	flagAPIURL    string
	flagSocketURL string
	flagUsername  string
	flagRegister  bool
	flagVerbose   bool
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagAPIURL, "api-url", "", "backend base URL (overrides the config file)")
	flags.StringVar(&flagSocketURL, "socket-url", "", "realtime channel URL (overrides the config file)")
	flags.StringVar(&flagUsername, "username", "", "username to sign in with")
	flags.BoolVar(&flagRegister, "register", false, "create a new account instead of signing in")
	flags.BoolVar(&flagVerbose, "verbose", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runClient(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	level := zerolog.WarnLevel
	if flagVerbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if flagAPIURL != "" {
		cfg.APIURL = flagAPIURL
	}
	if flagSocketURL != "" {
		cfg.SocketURL = flagSocketURL
	}
	if flagUsername != "" {
		cfg.Username = flagUsername
	}

	backendClient, err := backend.New(backend.Options{
		BaseURL: cfg.APIURL,
		Logger:  logger.With().Str("component", "backend").Logger(),
	})
	if err != nil {
		return err
	}

	input := bufio.NewScanner(os.Stdin)
	identity, err := signIn(ctx, backendClient, cfg, input)
	if err != nil {
		return err
	}
	cfg.Username = identity.Username
	if err := config.Save(cfgPath, cfg); err != nil {
		logger.Warn().Err(err).Msg("save config failed")
	}

	channelClient, err := channel.New(channel.Options{
		URL:    cfg.SocketURL,
		Logger: logger.With().Str("component", "channel").Logger(),
	})
	if err != nil {
		return err
	}

	sess, err := session.New(session.Options{
		Identity: identity,
		Backend:  backendClient,
		Channel:  channelClient,
		Logger:   logger.With().Str("component", "session").Logger(),
	})
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	if err := sess.Start(); err != nil {
		return err
	}
	fmt.Printf("signed in as %s\n", identity.Username)

	go watchChannel(ctx, channelClient, logger)
	go renderInbound(ctx, sess)

	return commandLoop(ctx, sess, backendClient, input)
}

func signIn(ctx context.Context, backendClient *backend.Client, cfg *config.ClientConfig, input *bufio.Scanner) (models.UserRef, error) {
	username := cfg.Username
	if username == "" {
		username, _ = prompt(input, "username: ")
	}
	password, _ := prompt(input, "password: ")

	if flagRegister {
		email, _ := prompt(input, "email: ")
		return backendClient.Register(ctx, username, email, password)
	}
	return backendClient.Login(ctx, username, password)
}

func prompt(input *bufio.Scanner, label string) (string, bool) {
	fmt.Print(label)
	if !input.Scan() {
		return "", false
	}
	return strings.TrimSpace(input.Text()), true
}

// watchChannel surfaces asynchronous transport errors and exits when the
// channel goes down for good.
func watchChannel(ctx context.Context, channelClient *channel.Client, logger zerolog.Logger) {
	for {
		select {
		case err := <-channelClient.Errors():
			logger.Warn().Err(err).Msg("channel error")
		case <-channelClient.Done():
			if err := channelClient.LastError(); err != nil {
				fmt.Println("connection lost:", err)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

// renderInbound prints messages that land in the active conversation while
// the user is idle at the prompt.
func renderInbound(ctx context.Context, sess *session.Session) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	lastConversation := ""
	printed := 0
	for {
		select {
		case <-ticker.C:
			active, ok := sess.Active()
			if !ok {
				continue
			}
			messages := sess.Messages()
			if active.ID != lastConversation || len(messages) < printed {
				// /open already printed the fetched history
				lastConversation = active.ID
				printed = len(messages)
				continue
			}
			for _, message := range messages[printed:] {
				if message.Origin == models.OriginPeer {
					fmt.Printf("[%s] %s: %s\n", message.SentAt, message.SenderName, message.Body)
				}
			}
			printed = len(messages)
		case <-ctx.Done():
			return
		}
	}
}

func commandLoop(ctx context.Context, sess *session.Session, backendClient *backend.Client, input *bufio.Scanner) error {
	contacts := []models.UserRef{}
	fmt.Println(`commands: /contacts  /open <n>  /search <name>  /notifications  /read <n>  /quit`)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, ok := prompt(input, "> ")
		if !ok {
			return input.Err()
		}
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			return nil

		case line == "/contacts":
			list, err := backendClient.Contacts(ctx, sess.Identity().ID)
			if err != nil {
				fmt.Println("contacts failed:", err)
				continue
			}
			contacts = list
			for i, contact := range contacts {
				fmt.Printf("%d. %s\n", i+1, contact.Username)
			}

		case strings.HasPrefix(line, "/search "):
			query := strings.TrimPrefix(line, "/search ")
			list, err := backendClient.SearchUsers(ctx, sess.Identity().ID, query)
			if err != nil {
				fmt.Println("search failed:", err)
				continue
			}
			contacts = list
			for i, contact := range contacts {
				fmt.Printf("%d. %s\n", i+1, contact.Username)
			}

		case strings.HasPrefix(line, "/open "):
			index, err := strconv.Atoi(strings.TrimPrefix(line, "/open "))
			if err != nil || index < 1 || index > len(contacts) {
				fmt.Println("pick a contact number from /contacts or /search first")
				continue
			}
			conversation, err := backendClient.AccessChat(ctx, sess.Identity().ID, contacts[index-1].ID)
			if err != nil {
				fmt.Println("open failed:", err)
				continue
			}
			if err := sess.Select(ctx, conversation); err != nil {
				fmt.Println("select failed:", err)
				continue
			}
			fmt.Printf("-- %s --\n", conversation.DisplayName(sess.Identity().ID))
			for _, message := range sess.Messages() {
				name := message.SenderName
				if message.Origin == models.OriginSelf {
					name = "you"
				}
				fmt.Printf("[%s] %s: %s\n", message.SentAt, name, message.Body)
			}

		case line == "/notifications":
			notifications := sess.Notifications()
			if len(notifications) == 0 {
				fmt.Println("no new messages")
				continue
			}
			for i, notification := range notifications {
				fmt.Printf("%d. %s\n", i+1, notification.Label(sess.Identity().ID))
			}

		case strings.HasPrefix(line, "/read "):
			index, err := strconv.Atoi(strings.TrimPrefix(line, "/read "))
			notifications := sess.Notifications()
			if err != nil || index < 1 || index > len(notifications) {
				fmt.Println("pick a notification number from /notifications")
				continue
			}
			if err := sess.OpenNotification(ctx, notifications[index-1]); err != nil {
				fmt.Println("open failed:", err)
				continue
			}
			for _, message := range sess.Messages() {
				fmt.Printf("[%s] %s: %s\n", message.SentAt, message.SenderName, message.Body)
			}

		case strings.HasPrefix(line, "/"):
			fmt.Println("unknown command")

		default:
			if _, err := sess.Send(ctx, line); err != nil {
				if errors.Is(err, session.ErrNoActiveConversation) {
					fmt.Println("open a conversation first")
					continue
				}
				fmt.Println("send failed:", err)
			}
		}
	}
}
