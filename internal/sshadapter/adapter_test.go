package sshadapter

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestRemoteCommandWrapsSudoAndDebug(t *testing.T) {
	cfg := HostConfig{Host: "h", SSHUser: "deploy", SousCommand: "sous-agent"}

	t.Run("same user, no debug", func(t *testing.T) {
		assert.Equal(t, "sous-agent", remoteCommand(cfg, "deploy", "conn-1"))
	})

	t.Run("different user wraps in sudo", func(t *testing.T) {
		assert.Equal(t, "sudo -u 'www-data' sous-agent", remoteCommand(cfg, "www-data", "conn-1"))
	})

	t.Run("debug logging tees around the command, keyed by connection id", func(t *testing.T) {
		debugCfg := cfg
		debugCfg.DebugLogging = true
		got := remoteCommand(debugCfg, "deploy", "conn-42")
		assert.Equal(t,
			"tee /tmp/sconnyin-conn-42 | sous-agent 2>/tmp/sconnyerr-conn-42 | tee /tmp/sconnyout-conn-42",
			got,
		)
	})
}

func TestGetHeadDedupesConcurrentDialsPerHostUser(t *testing.T) {
	a := New(nil)

	var calls int64
	a.connect = func(ctx context.Context, cfg HostConfig, requestedUser string) (*Conn, error) {
		atomic.AddInt64(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return &Conn{}, nil
	}

	cfg := HostConfig{Host: "db1"}

	var wg sync.WaitGroup
	results := make([]*Conn, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := a.GetHead(context.Background(), cfg, "app")
			require.NoError(t, err)
			results[i] = conn
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt64(&calls))
	for i := 1; i < len(results); i++ {
		assert.Same(t, results[0], results[i])
	}

	// A distinct requested user must dial separately.
	_, err := a.GetHead(context.Background(), cfg, "other")
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt64(&calls))
}

func TestGetHeadRetriesAfterFailure(t *testing.T) {
	a := New(nil)

	var calls int64
	a.connect = func(ctx context.Context, cfg HostConfig, requestedUser string) (*Conn, error) {
		n := atomic.AddInt64(&calls, 1)
		if n == 1 {
			return nil, assertErr("first dial fails")
		}
		return &Conn{}, nil
	}

	cfg := HostConfig{Host: "db1"}

	_, err := a.GetHead(context.Background(), cfg, "app")
	require.Error(t, err)

	conn, err := a.GetHead(context.Background(), cfg, "app")
	require.NoError(t, err)
	assert.NotNil(t, conn)
	assert.EqualValues(t, 2, atomic.LoadInt64(&calls))
}

func TestDialAndHandshakeMismatch(t *testing.T) {
	server := startTestSSHServer(t)

	cfg := HostConfig{
		Host:                  hostOf(server.Addr),
		Port:                  portOf(t, server.Addr),
		SSHUser:               "test",
		InsecureIgnoreHostKey: true,
		// cat echoes the {"hello":"head"} frame straight back instead of
		// replying with a sous hello, exercising the mismatch path.
		SousCommand: "cat",
	}

	client, err := dialForTest(server, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = startSous(ctx, client, cfg, "test", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handshake mismatch")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func hostOf(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i]
		}
	}
	return addr
}

func portOf(t *testing.T, addr string) int {
	t.Helper()
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			port, err := strconv.Atoi(addr[i+1:])
			require.NoError(t, err)
			return port
		}
	}
	t.Fatalf("no port in addr %q", addr)
	return 0
}

func dialForTest(server *testSSHServer, cfg HostConfig) (*ssh.Client, error) {
	return ssh.Dial("tcp", server.Addr, server.dialConfig())
}
