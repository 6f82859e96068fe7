package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rootlayer/overlayd/lib/paths"
)

func TestAcceptAndAck_AcksConnectedClient(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "post-fs.sock")
	log := slog.New(slog.DiscardHandler)

	done := make(chan error, 1)
	go func() {
		acceptAndAck(context.Background(), log, sockPath)
		done <- nil
	}()

	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("unix", sockPath)
		if err == nil {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.NoError(t, err, "init must be able to dial the ack socket")
	defer conn.Close()

	buf := make([]byte, 4)
	_, err = conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0}, buf, "ack must be a 4-byte zero")

	<-done
	_, statErr := os.Stat(sockPath)
	assert.True(t, os.IsNotExist(statErr), "acceptAndAck must clean up its socket file")
}

func TestAcceptAndAck_SkipsWhenNoClientConnects(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "late-start.sock")
	log := slog.New(slog.DiscardHandler)

	// No dialer connects; acceptAndAck must time out and return rather
	// than block the stage forever (spec.md §1: the init handshake is an
	// external-collaborator interface, not a precondition for stage logic).
	acceptAndAck(context.Background(), log, sockPath)
}

func TestStageCmd_RunsStageEvenWithoutAckSocket(t *testing.T) {
	ran := false
	p := paths.New(t.TempDir())
	cmd := stageCmd("post-fs", "test", func(ctx context.Context) error {
		ran = true
		return nil
	}, context.Background(), p, slog.New(slog.DiscardHandler))

	require.NoError(t, cmd.RunE(cmd, nil))
	assert.True(t, ran)
}
