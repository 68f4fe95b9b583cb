package main

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"parlor/internal/config"
	"parlor/internal/protocol"
)

func TestIntegration(t *testing.T) {
	cfg := &config.Config{
		Port:         18888,
		WSAddr:       "127.0.0.1:18889",
		SinkBuffer:   32,
		MaxLineBytes: 1 << 20,
		LastSeenTTL:  "1h",
	}
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- run(ctx, cfg)
	}()

	// Wait for the relay to come up.
	var conn net.Conn
	var err error
	for i := 0; i < 100; i++ {
		conn, err = net.Dial("tcp", "127.0.0.1:18888")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, err, "relay never came up")
	defer conn.Close()

	sc := bufio.NewScanner(conn)
	readLine := func() string {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.True(t, sc.Scan(), "expected a line: %v", sc.Err())
		return sc.Text()
	}

	require.Equal(t, protocol.PromptUsername, readLine())
	_, err = conn.Write([]byte("smoketest\n"))
	require.NoError(t, err)
	require.True(t, protocol.IsSuccessLine(readLine()))

	list, err := protocol.Decode(readLine())
	require.NoError(t, err)
	require.Equal(t, protocol.KindUserList, list.Kind)
	require.ElementsMatch(t, []string{"smoketest"}, protocol.SplitUserList(list.Content))

	// Cancellation tears the whole relay down.
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
}
