package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictagent/internal/config"
)

func TestRun_ReportModeNeedsOnlyTheLedger(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "report"
	cfg.Store.SQLitePath = ":memory:"
	require.NoError(t, cfg.Validate())

	var out bytes.Buffer
	a := New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.out = &out
	defer a.Close()

	require.NoError(t, a.Run(context.Background()))
	assert.Contains(t, out.String(), "OPEN POSITIONS (0)")
	assert.Contains(t, out.String(), "RECENT TRADES (0)")
}

func TestWire_RejectsBadWallet(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "once"
	cfg.Store.SQLitePath = ":memory:"
	cfg.Wallet.PrivateKey = "not-hex"

	_, _, err := Wire(context.Background(), &cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wire: wallet")
}
