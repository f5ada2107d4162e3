package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/re-trade/chatlink/internal/api"
	"github.com/re-trade/chatlink/internal/config"
	"github.com/re-trade/chatlink/internal/creds"
	"github.com/re-trade/chatlink/internal/domain"
	"github.com/re-trade/chatlink/internal/media"
	"github.com/re-trade/chatlink/internal/relay"
	"github.com/re-trade/chatlink/internal/session"
)

const helpText = `Commands:
  /rooms            list chat rooms
  /join <room-id>   open a room (joins once authenticated)
  /call [audio]     call the contact of the open room (video by default)
  /accept           answer the ringing call
  /reject [reason]  decline the ringing call
  /end              hang up
  /mute             toggle microphone
  /video            toggle camera
  /help             show this help
  /quit             exit
Anything else is sent as a chat message to the open room.
`

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("chatlink", pflag.ContinueOnError)

	var (
		relayURL     = fs.String("relay-url", "", "websocket relay url")
		authURL      = fs.String("auth-url", "", "auth API base url")
		role         = fs.String("role", "", "local role (seller or customer)")
		room         = fs.String("room", "", "room id to join on startup")
		configDir    = fs.String("config-dir", "", "credential directory")
		token        = fs.String("token", "", "access token to store before connecting")
		refreshToken = fs.String("refresh-token", "", "refresh token to store before connecting")
		stunServer   = fs.String("stun", "", "STUN server url")
		turnServer   = fs.String("turn", "", "TURN server host:port")
		turnUser     = fs.String("turn-user", "", "TURN username")
		turnPass     = fs.String("turn-pass", "", "TURN password")
		logLevel     = fs.StringP("log-level", "l", "info", "log level")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	cfg, err := config.Load(config.Options{
		RelayURL:   *relayURL,
		AuthURL:    *authURL,
		Role:       *role,
		ConfigDir:  *configDir,
		STUNServer: *stunServer,
		TURNServer: *turnServer,
		TURNUser:   *turnUser,
		TURNPass:   *turnPass,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("load configuration")
	}

	ctx, cancel := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Credential store, seeded from flags when provided.
	store := creds.NewStore(cfg.ConfigDir)
	if *token != "" {
		if err := store.SaveAccessToken(*token); err != nil {
			logger.Fatal().Err(err).Msg("save access token")
		}
	}
	if *refreshToken != "" {
		if err := store.SaveRefreshToken(*refreshToken); err != nil {
			logger.Fatal().Err(err).Msg("save refresh token")
		}
	}
	tokens := creds.NewSource(store, api.NewClient(cfg.AuthURL))

	engine := media.NewEngine(cfg.ICEServers(), &logger)

	ui := &console{cancel: cancel}
	sess := session.New(cfg.Role, engine, store, ui, &logger)

	client := relay.NewClient(cfg.RelayURL, cfg.Role, tokens, sess, &logger)
	sess.SetSignaler(client)

	if *room != "" {
		sess.SelectRoom(*room)
	}

	if err := client.Connect(); err != nil {
		if errors.Is(err, creds.ErrLoginRequired) {
			logger.Fatal().Msg("no valid credentials; pass --token (and --refresh-token) once to store them")
		}
		logger.Fatal().Err(err).Msg("relay connect")
	}

	fmt.Print(helpText)
	go readCommands(ctx, cancel, sess)

	<-ctx.Done()
	sess.Close()
	client.Close()
	logger.Info().Msg("bye")
}

func readCommands(ctx context.Context, cancel context.CancelFunc, sess *session.Session) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			sess.SendMessage(line)
			continue
		}

		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)
		switch cmd {
		case "/rooms":
			printRooms(sess.Rooms())
		case "/join":
			if arg == "" {
				fmt.Println("usage: /join <room-id>")
				continue
			}
			sess.SelectRoom(arg)
		case "/call":
			if err := sess.StartCall(arg != "audio"); err != nil {
				fmt.Println(err)
			}
		case "/accept":
			if err := sess.AcceptCall(); err != nil {
				fmt.Println(err)
			}
		case "/reject":
			if arg == "" {
				arg = "declined"
			}
			if err := sess.RejectCall(arg); err != nil {
				fmt.Println(err)
			}
		case "/end":
			sess.EndCall()
		case "/mute":
			fmt.Printf("microphone muted: %v\n", sess.ToggleAudio())
		case "/video":
			fmt.Printf("camera disabled: %v\n", sess.ToggleVideo())
		case "/help":
			fmt.Print(helpText)
		case "/quit":
			cancel()
			return
		default:
			fmt.Printf("unknown command %s (try /help)\n", cmd)
		}
	}
	cancel()
}

func printRooms(rooms []domain.Room) {
	if len(rooms) == 0 {
		fmt.Println("no rooms yet")
		return
	}
	for _, r := range rooms {
		var names []string
		for _, p := range r.Participants {
			names = append(names, fmt.Sprintf("%s (%s)", p.Name, p.Role))
		}
		fmt.Printf("%s  %s\n", r.ID, strings.Join(names, ", "))
	}
}

// console renders session events on stdout. Callbacks arrive on relay and
// media goroutines, so it never calls back into the session.
type console struct {
	cancel context.CancelFunc
}

func (c *console) RoomsUpdated(rooms []domain.Room) {
	fmt.Printf("* %d room(s); /rooms to list\n", len(rooms))
}

func (c *console) RoomJoined(room domain.Room) {
	fmt.Printf("* joined room %s (%d message(s) of history)\n", room.ID, len(room.Messages))
	for _, m := range room.Messages {
		printMessage(m)
	}
}

func (c *console) MessageReceived(m domain.Message) {
	printMessage(m)
}

func (c *console) TypingChanged(isTyping bool, username string) {
	if isTyping {
		if username == "" {
			username = "contact"
		}
		fmt.Printf("* %s is typing...\n", username)
	}
}

func (c *console) CallStateChanged(state domain.CallState) {
	fmt.Printf("* call: %s\n", state)
}

func (c *console) CallIncoming(p domain.IncomingCallPayload) {
	name := p.CallerName
	if name == "" {
		name = p.CallerID
	}
	fmt.Printf("* incoming call from %s: /accept or /reject\n", name)
}

func (c *console) Alert(msg string) {
	fmt.Printf("! %s\n", msg)
}

func (c *console) SessionExpired() {
	fmt.Println("! session expired, sign in again with --token")
	c.cancel()
}

func printMessage(m domain.Message) {
	fmt.Print(formatMessage(m))
}

// formatMessage renders one chat line. CreatedAt is a millisecond unix
// timestamp from the relay; zero means the relay sent none.
func formatMessage(m domain.Message) string {
	ts := ""
	if m.CreatedAt != 0 {
		ts = time.UnixMilli(m.CreatedAt).Format("15:04 ")
	}
	return fmt.Sprintf("%s[%s] %s\n", ts, m.SenderRole, m.Content)
}
