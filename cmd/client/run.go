package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"blinkchat-client/internal/api"
	"blinkchat-client/internal/auth"
	"blinkchat-client/internal/chat"
	"blinkchat-client/internal/config"
	"blinkchat-client/internal/models"
	"blinkchat-client/internal/observability"
	"blinkchat-client/internal/websocket"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func loadConfig(configPath, envPath, email, password, logLevel string) (*config.AppConfig, error) {
	cfg, err := config.Load(configPath, envPath)
	if err != nil {
		return nil, err
	}
	if email != "" {
		cfg.Email = email
	}
	if password != "" {
		cfg.Password = password
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if cfg.Email == "" || cfg.Password == "" {
		return nil, errors.New("email and password are required (CHAT_EMAIL, CHAT_PASSWORD or flags)")
	}
	return cfg, nil
}

// checkSession rejects a login whose token names a different user than the
// one the server returned.
func checkSession(sess *api.Session) error {
	id, err := auth.UserIDFromToken(sess.Token)
	if err != nil {
		return err
	}
	if id != sess.User.ID {
		return fmt.Errorf("token belongs to %s, not %s", id, sess.User.ID)
	}
	return nil
}

type app struct {
	cfg     *config.AppConfig
	log     zerolog.Logger
	api     *api.Client
	session *api.Session
	rec     *chat.Reconciler
	sender  *websocket.CommandSender
	users   map[uuid.UUID]models.PublicUser
	out     io.Writer
}

func runClient(ctx context.Context, cfg *config.AppConfig, in io.Reader, out io.Writer) error {
	logger := observability.InitLogger("client", cfg.LogLevel, os.Stderr)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *observability.Metrics
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		metrics = observability.NewMetrics(reg)
		go serveMetrics(ctx, cfg.MetricsAddr, reg, logger)
	}

	apiClient, err := api.New(cfg.HTTPURL, 10*time.Second, logger)
	if err != nil {
		return err
	}
	sess, err := apiClient.Login(ctx, cfg.Email, cfg.Password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if err := checkSession(sess); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	logger.Info().Str("user", sess.User.Username).Msg("logged in")

	decodePolicy, err := websocket.ParseDecodeFailurePolicy(cfg.DecodeFailurePolicy)
	if err != nil {
		return err
	}
	queuePolicy, err := websocket.ParseQueueClosedPolicy(cfg.QueueClosedPolicy)
	if err != nil {
		return err
	}

	session := websocket.NewSession(nil, websocket.SessionConfig{
		HandshakeTimeout: cfg.HandshakeTimeout.Duration,
		WriteWait:        cfg.WriteWait.Duration,
		PingPeriod:       cfg.PingPeriod.Duration,
		ReadLimit:        cfg.ReadLimit,
	}, logger, metrics)
	ctrl := websocket.NewController(session, websocket.ControllerConfig{
		DecodeFailure: decodePolicy,
		QueueClosed:   queuePolicy,
	}, logger, metrics)

	ctrlCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := ctrl.Run(ctrlCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("controller stopped")
		}
	}()

	a := &app{
		cfg:     cfg,
		log:     logger,
		api:     apiClient,
		session: sess,
		rec:     chat.NewReconciler(sess.User.ID, logger),
		users:   make(map[uuid.UUID]models.PublicUser),
		out:     out,
	}
	return a.loop(ctx, ctrl.Events(), readLines(in))
}

func (a *app) loop(ctx context.Context, events <-chan websocket.Event, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			a.handleEvent(ev)

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := a.handleLine(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func (a *app) handleEvent(ev websocket.Event) {
	if err := a.rec.Apply(ev); err != nil {
		a.printf("! %v\n", err)
	}
	switch ev := ev.(type) {
	case websocket.Ready:
		a.sender = ev.Sender
		a.connect()
	case websocket.Connected:
		a.printf("* connected\n")
	case websocket.Disconnected:
		a.printf("* disconnected\n")
	case websocket.MessageReceived:
		if sel, ok := a.rec.Selected(); ok && sel == a.rec.ConversationOf(ev.Sender, ev.Target) {
			a.printf("%s: %s\n", a.name(ev.Sender), ev.Content)
		} else {
			a.printf("* new message from %s\n", a.name(ev.Sender))
		}
	case websocket.MessageSent, websocket.MessageDelivered, websocket.MessagesRead:
		a.log.Debug().Str("event", websocket.EventName(ev)).Msg("acknowledgement")
	case websocket.ErrorEvent:
		a.printf("! %s: %s (%s)\n", ev.Err.Kind, ev.Err.Message, ev.State)
	}
}

func (a *app) handleLine(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		if _, err := a.rec.SendSelected(line); err != nil {
			a.printf("! %v\n", err)
		}
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit":
		return true
	case "/users":
		a.listUsers(ctx)
	case "/open":
		if len(fields) < 2 {
			a.printf("usage: /open <user>\n")
			return false
		}
		a.open(ctx, fields[1])
	case "/more":
		sel, ok := a.rec.Selected()
		if !ok {
			a.printf("! %v\n", chat.ErrNoConversation)
			return false
		}
		a.loadPage(ctx, sel)
		a.show(sel)
	case "/reconnect":
		a.send(websocket.Disconnect{})
		a.connect()
	default:
		a.printf("unknown command %s\n", fields[0])
	}
	return false
}

func (a *app) connect() {
	a.send(websocket.Connect{URL: a.cfg.WSURL, AuthToken: a.session.Token})
}

func (a *app) send(cmd websocket.Command) {
	if a.sender == nil {
		a.printf("! not ready\n")
		return
	}
	if err := a.sender.Send(cmd); err != nil {
		a.printf("! %v\n", err)
	}
}

func (a *app) listUsers(ctx context.Context) {
	users, err := a.api.GetUsers(ctx, a.session.Token)
	if err != nil {
		a.printf("! %v\n", err)
		return
	}
	for _, u := range users {
		a.users[u.ID] = u
		marker := " "
		if u.ID == a.session.User.ID {
			marker = "*"
		}
		a.printf("%s %s  %s\n", marker, u.ID, u.Username)
	}
}

func (a *app) open(ctx context.Context, who string) {
	id, err := uuid.Parse(who)
	if err != nil {
		found := false
		if len(a.users) == 0 {
			a.listUsers(ctx)
		}
		for _, u := range a.users {
			if strings.EqualFold(u.Username, who) {
				id, found = u.ID, true
				break
			}
		}
		if !found {
			a.printf("! unknown user %s\n", who)
			return
		}
	}

	if _, ok := a.rec.NextPage(id); ok && len(a.rec.History(id)) == 0 {
		a.loadPage(ctx, id)
	}
	if err := a.rec.Select(id); err != nil {
		a.printf("! %v\n", err)
	}
	a.show(id)
}

func (a *app) loadPage(ctx context.Context, conv uuid.UUID) {
	page, ok := a.rec.NextPage(conv)
	if !ok {
		a.printf("* no older messages\n")
		return
	}
	records, err := a.api.GetMessages(ctx, a.session.Token, conv, page, a.cfg.PageSize)
	if err != nil {
		a.printf("! %v\n", err)
		return
	}
	if _, err := a.rec.MergePage(conv, records); err != nil {
		a.printf("! %v\n", err)
	}
}

func (a *app) show(conv uuid.UUID) {
	a.printf("--- %s ---\n", a.name(conv))
	for _, m := range a.rec.History(conv) {
		if m.IsOutgoing() {
			a.printf("[%s] me: %s (%s)\n", m.Timestamp.Local().Format("15:04"), m.Content, m.State)
			continue
		}
		a.printf("[%s] %s: %s\n", m.Timestamp.Local().Format("15:04"), a.name(m.Sender), m.Content)
	}
}

func (a *app) name(id uuid.UUID) string {
	if u, ok := a.users[id]; ok {
		return u.Username
	}
	return id.String()[:8]
}

func (a *app) printf(format string, args ...interface{}) {
	fmt.Fprintf(a.out, format, args...)
}

func readLines(in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server failed")
	}
}
