package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"im-sync/internal/auth"
	"im-sync/internal/backend"
	"im-sync/internal/engine"
	"im-sync/internal/imtypes"
	"im-sync/internal/websocket"
)

var runFlags struct {
	login    string
	password string
	token    string
	peer     string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect and chat from the terminal",
	Long: `Connect to the backend and chat from the terminal.

Lines starting with a slash are commands:
  /to <peer>        focus a conversation
  /more             load older messages of the focused conversation
  /contacts         load the next page of contacts
  /search <query>   search users (empty query clears)
  /delete <id>...   delete messages by server id
  /send <path>      upload a file and send it
  /avatar <path>    upload a new avatar
  /quit             log out and exit
Anything else is sent as text to the focused conversation.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.login, "login", "", "username or email (overrides AUTH.LOGIN)")
	f.StringVar(&runFlags.password, "password", "", "password (overrides AUTH.PASSWORD)")
	f.StringVar(&runFlags.token, "token", "", "existing token, skips login (overrides AUTH.TOKEN)")
	f.StringVar(&runFlags.peer, "peer", "", "conversation to focus after connecting")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if runFlags.login != "" {
		cfg.Auth.Login = runFlags.login
	}
	if runFlags.password != "" {
		cfg.Auth.Password = runFlags.password
	}
	if runFlags.token != "" {
		cfg.Auth.Token = runFlags.token
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	base := backend.NewResolver(cfg.Backend, logger).Resolve(ctx)
	endpoint, err := backend.WebSocketURL(base, cfg.Backend.WebSocketPath)
	if err != nil {
		return err
	}
	client := backend.NewClient(base, cfg.Backend.HTTPTimeout, logger)

	session, err := authenticate(ctx, client, cfg.Auth.Login, cfg.Auth.Password, cfg.Auth.Token)
	if err != nil {
		return err
	}
	logger.Info("logged in", "user", session.Self(), "backend", base)

	eng := engine.New(cfg, endpoint, websocket.NewGorillaDialer(cfg.WebSocket), logger)
	runErr := make(chan error, 1)
	go func() { runErr <- eng.Run(ctx) }()

	if err := eng.Start(session); err != nil {
		return err
	}
	if runFlags.peer != "" {
		if err := eng.Focus(runFlags.peer); err != nil {
			return err
		}
	}

	out := newRenderer(cmd.OutOrStdout(), session.Self())
	go out.follow(eng)

	sh := &shell{eng: eng, client: client, session: session, out: out}
	lines := readLines(cmd.InOrStdin())
	for {
		select {
		case <-ctx.Done():
			return <-runErr
		case err := <-runErr:
			return err
		case line, ok := <-lines:
			if !ok {
				stop()
				return <-runErr
			}
			quit, err := sh.handle(ctx, line)
			if err != nil {
				out.errorf("%v", err)
			}
			if quit {
				stop()
				return <-runErr
			}
		}
	}
}

// authenticate returns a session from token, or logs in with login and password.
func authenticate(ctx context.Context, client *backend.Client, login, password, token string) (*auth.Session, error) {
	if token != "" {
		return auth.NewSession(token, "", ""), nil
	}
	if login == "" || password == "" {
		return nil, errors.New("no token and no credentials: pass --token or --login/--password")
	}
	res, err := client.Login(ctx, login, password)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return auth.NewSession(res.Token, string(res.UserID), ""), nil
}

func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// chatEngine is the part of the engine the shell drives.
type chatEngine interface {
	Focus(peer string) error
	Send(kind imtypes.MessageType, content string) (string, error)
	LoadOlder() error
	LoadMoreContacts() error
	NotifyTyping() error
	Search(query string) error
	DeleteMessages(ids ...imtypes.ID) error
	ChangeAvatar(url string) error
	Logout() error
}

type uploader interface {
	imtypes.StorageService
	UploadAvatar(ctx context.Context, token string, reader io.Reader, fileName, mimeType string) (string, error)
}

type shell struct {
	eng     chatEngine
	client  uploader
	session *auth.Session
	out     *renderer
}

// handle runs one input line. It reports true when the user asked to quit.
func (s *shell) handle(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		// Typing is best effort; a failure must not block the send.
		_ = s.eng.NotifyTyping()
		_, err := s.eng.Send(imtypes.TextMessageType, line)
		return false, err
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "quit", "q":
		return true, s.eng.Logout()
	case "to":
		if rest == "" {
			return false, errors.New("usage: /to <peer>")
		}
		return false, s.eng.Focus(rest)
	case "more":
		return false, s.eng.LoadOlder()
	case "contacts":
		return false, s.eng.LoadMoreContacts()
	case "search":
		return false, s.eng.Search(rest)
	case "delete":
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			return false, errors.New("usage: /delete <id>...")
		}
		ids := make([]imtypes.ID, len(fields))
		for i, f := range fields {
			ids[i] = imtypes.ID(f)
		}
		return false, s.eng.DeleteMessages(ids...)
	case "send":
		if rest == "" {
			return false, errors.New("usage: /send <path>")
		}
		info, err := backend.UploadPath(ctx, s.client, rest)
		if err != nil {
			return false, fmt.Errorf("upload %s: %w", rest, err)
		}
		_, err = s.eng.Send(info.Kind, info.URL)
		return false, err
	case "avatar":
		if rest == "" {
			return false, errors.New("usage: /avatar <path>")
		}
		return false, s.changeAvatar(ctx, rest)
	}
	return false, fmt.Errorf("unknown command /%s", name)
}

func (s *shell) changeAvatar(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	name := filepath.Base(path)
	u, err := s.client.UploadAvatar(ctx, s.session.Token, bytes.NewReader(data), name, backend.DetectMIME(name, data))
	if err != nil {
		return fmt.Errorf("upload avatar: %w", err)
	}
	return s.eng.ChangeAvatar(u)
}
