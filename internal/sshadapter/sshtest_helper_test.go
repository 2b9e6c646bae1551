package sshadapter

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"os/exec"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
)

// testSSHServer is a minimal pure-Go SSH server for exercising the dial,
// session-start, and stdio-piping path without a real remote host. Unlike a
// bare echo test it wires the exec'd command's stdin as well as its stdout,
// so a bidirectional ChanPro handshake can actually round-trip through it.
type testSSHServer struct {
	Addr      string
	ClientKey ssh.Signer
	listener  net.Listener
	wg        sync.WaitGroup
}

func startTestSSHServer(t *testing.T) *testSSHServer {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostKey, err := ssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	clientPub, clientPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate client key: %v", err)
	}
	clientKey, err := ssh.NewSignerFromKey(clientPriv)
	if err != nil {
		t.Fatalf("client signer: %v", err)
	}
	clientSSHPub, err := ssh.NewPublicKey(clientPub)
	if err != nil {
		t.Fatalf("client public key: %v", err)
	}

	config := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if string(key.Marshal()) == string(clientSSHPub.Marshal()) {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown public key")
		},
	}
	config.AddHostKey(hostKey)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &testSSHServer{
		Addr:      listener.Addr().String(),
		ClientKey: clientKey,
		listener:  listener,
	}
	s.wg.Add(1)
	go s.acceptLoop(config)
	t.Cleanup(s.stop)
	return s
}

func (s *testSSHServer) acceptLoop(config *ssh.ServerConfig) {
	defer s.wg.Done()
	for {
		netConn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.handleConn(netConn, config)
	}
}

func (s *testSSHServer) handleConn(netConn net.Conn, config *ssh.ServerConfig) {
	defer s.wg.Done()
	defer func() { _ = netConn.Close() }()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, config)
	if err != nil {
		return
	}
	defer func() { _ = sshConn.Close() }()
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		s.wg.Add(1)
		go s.handleChannel(newChannel)
	}
}

func (s *testSSHServer) handleChannel(newChannel ssh.NewChannel) {
	defer s.wg.Done()

	if newChannel.ChannelType() != "session" {
		_ = newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
		return
	}
	channel, requests, err := newChannel.Accept()
	if err != nil {
		return
	}
	defer func() { _ = channel.Close() }()

	for req := range requests {
		switch req.Type {
		case "exec":
			s.handleExec(channel, req)
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func (s *testSSHServer) handleExec(channel ssh.Channel, req *ssh.Request) {
	var execReq struct{ Command string }
	if err := ssh.Unmarshal(req.Payload, &execReq); err != nil {
		if req.WantReply {
			_ = req.Reply(false, nil)
		}
		_ = channel.Close()
		return
	}
	if req.WantReply {
		_ = req.Reply(true, nil)
	}

	cmd := exec.Command("sh", "-c", execReq.Command)
	cmd.Stdin = channel
	cmd.Stdout = channel
	cmd.Stderr = channel.Stderr()

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = 1
		}
	}
	exitStatus := struct{ Status uint32 }{uint32(exitCode)}
	_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(&exitStatus))
	_ = channel.Close()
}

func (s *testSSHServer) stop() {
	_ = s.listener.Close()
	s.wg.Wait()
}

func (s *testSSHServer) dialConfig() *ssh.ClientConfig {
	return &ssh.ClientConfig{
		User:            "test",
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(s.ClientKey)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
}
