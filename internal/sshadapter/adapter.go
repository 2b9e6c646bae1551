package sshadapter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"github.com/sconehq/scone/internal/chanpro"
)

// Conn is one established connection to a sous process: the SSH plumbing
// underneath, plus the ChanPro transport and its channel-0 Head built on top.
type Conn struct {
	client  *ssh.Client
	session *ssh.Session
	cp      *chanpro.ChanPro

	Head *chanpro.Head
	Root *chanpro.Channel

	// ID uniquely identifies this connection (not the host/user pair, which
	// can be redialed after a drop): it ties together the debug-tee files on
	// the remote host with the log lines this process writes about it.
	ID string
}

// Close tears down the ChanPro transport, the SSH session, and the
// underlying SSH client connection, in that order.
func (c *Conn) Close() error {
	c.cp.Close()
	_ = c.session.Close()
	return c.client.Close()
}

type cacheKey struct {
	host string
	user string
}

// pending is the in-flight or completed result of dialing one (host, user)
// pair, mirroring the Python original's map of asyncio.Future keyed the
// same way: concurrent requests for the same pair share one dial.
type pending struct {
	done chan struct{}
	conn *Conn
	err  error
}

// Adapter dials and caches SSH-backed sous connections, one per distinct
// (host, requested user) pair.
type Adapter struct {
	log *slog.Logger

	mu    sync.Mutex
	cache map[cacheKey]*pending

	// connect is overridden in tests to avoid a real network dial.
	connect func(ctx context.Context, cfg HostConfig, requestedUser string) (*Conn, error)
}

// New returns an Adapter that dials real SSH connections.
func New(log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	a := &Adapter{log: log, cache: make(map[cacheKey]*pending)}
	a.connect = a.dialAndHandshake
	return a
}

// Close tears down every cached connection. Call it once, at process
// shutdown; GetHead on a closed Adapter will keep handing out connections
// that no longer work.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var firstErr error
	for _, p := range a.cache {
		<-p.done
		if p.conn == nil {
			continue
		}
		if err := p.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// GetHead returns the cached Conn for (cfg.Host, requestedUser), dialing and
// handshaking a new one if none exists yet. Concurrent callers for the same
// pair block on the same dial rather than racing to open duplicate
// connections.
func (a *Adapter) GetHead(ctx context.Context, cfg HostConfig, requestedUser string) (*Conn, error) {
	key := cacheKey{host: cfg.Host, user: requestedUser}

	a.mu.Lock()
	p, exists := a.cache[key]
	if !exists {
		p = &pending{done: make(chan struct{})}
		a.cache[key] = p
	}
	a.mu.Unlock()

	if !exists {
		// Detached from ctx deliberately: the connection must outlive this
		// particular call so that later callers for the same pair can reuse
		// it even if this caller's context is cancelled first.
		go func() {
			p.conn, p.err = a.connect(context.Background(), cfg, requestedUser)
			close(p.done)
		}()
	}

	select {
	case <-p.done:
		if p.err != nil {
			a.mu.Lock()
			if a.cache[key] == p {
				delete(a.cache, key)
			}
			a.mu.Unlock()
			return nil, p.err
		}
		return p.conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Adapter) dialAndHandshake(ctx context.Context, cfg HostConfig, requestedUser string) (*Conn, error) {
	methods, err := authMethods(cfg)
	if err != nil {
		return nil, err
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.SSHUser,
		Auth:            methods,
		HostKeyCallback: hostKeyCallback(cfg),
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.port())
	client, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("sshadapter: dial %s: %w", addr, err)
	}

	conn, err := startSous(ctx, client, cfg, requestedUser, a.log)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return conn, nil
}

// startSous opens a session on an already-dialed client, starts the sous
// command, wires its stdio into a ChanPro transport, and performs the
// channel-0 hello handshake.
func startSous(ctx context.Context, client *ssh.Client, cfg HostConfig, requestedUser string, log *slog.Logger) (*Conn, error) {
	connID := uuid.NewString()
	if log == nil {
		log = slog.Default()
	}
	log = log.With("conn_id", connID, "host", cfg.Host, "user", requestedUser)

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("sshadapter: open session: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("sshadapter: stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("sshadapter: stdout pipe: %w", err)
	}

	log.Debug("starting sous process")
	if err := session.Start(remoteCommand(cfg, requestedUser, connID)); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("sshadapter: start sous: %w", err)
	}

	cp := chanpro.New(stdout, stdin, log)
	ch0, err := cp.NewChannel(0, "root channel")
	if err != nil {
		cp.Close()
		_ = session.Close()
		return nil, fmt.Errorf("sshadapter: %w", err)
	}
	go func() { _ = cp.Listen(context.Background(), nil) }()

	if err := ch0.Send(ctx, map[string]any{"hello": "head", "conn_id": connID}); err != nil {
		cp.Close()
		_ = session.Close()
		return nil, fmt.Errorf("sshadapter: send hello: %w", err)
	}

	reply, err := ch0.Recv(ctx)
	if err != nil {
		cp.Close()
		_ = session.Close()
		return nil, fmt.Errorf("sshadapter: await sous hello: %w", err)
	}
	// Payload maps nested inside a frame decode as map[any]any, so both map
	// shapes are accepted here.
	var hello any
	switch greeting := reply.(type) {
	case map[string]any:
		hello = greeting["hello"]
	case map[any]any:
		hello = greeting["hello"]
	}
	if hello != "sous" {
		cp.Close()
		_ = session.Close()
		return nil, fmt.Errorf("sshadapter: handshake mismatch with %s[%s]: got %#v", cfg.Host, requestedUser, reply)
	}
	log.Info("sous connection established")

	return &Conn{
		client:  client,
		session: session,
		cp:      cp,
		Head:    chanpro.NewHead(cp, ch0),
		Root:    ch0,
		ID:      connID,
	}, nil
}

// remoteCommand builds the shell command line that starts the sous process,
// wrapping it in `sudo -u` when the requested identity differs from the SSH
// login user, and in a debug tee pipeline when configured. connID
// disambiguates the tee files of concurrent or successive connections to the
// same (host, user) pair, which would otherwise clobber one another.
func remoteCommand(cfg HostConfig, requestedUser, connID string) string {
	command := cfg.SousCommand
	if requestedUser != cfg.SSHUser {
		command = fmt.Sprintf("sudo -u %s %s", shellQuote(requestedUser), command)
	}
	if cfg.DebugLogging {
		command = fmt.Sprintf(
			"tee /tmp/sconnyin-%s | %s 2>/tmp/sconnyerr-%s | tee /tmp/sconnyout-%s",
			connID, command, connID, connID,
		)
	}
	return command
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
