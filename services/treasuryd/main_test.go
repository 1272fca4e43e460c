package main

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	nativecommon "github.com/D2dProtocol/d2d-program/native/common"
	"github.com/D2dProtocol/d2d-program/native/treasury"
	"github.com/D2dProtocol/d2d-program/observability"
	"github.com/D2dProtocol/d2d-program/observability/logging"
	"github.com/D2dProtocol/d2d-program/storage"
)

func TestBootstrapInitialisesOnlyWhenAllowed(t *testing.T) {
	operator := nativecommon.NewCapability("treasuryd", nativecommon.RoleAdmin)
	metrics := observability.TreasuryMetrics()

	engine := treasury.NewEngine(treasury.NewStore(storage.NewMemDB()))
	engine.SetClock(func() time.Time { return time.Unix(1_700_000_000, 0) })

	var out bytes.Buffer
	logger := slog.New(logging.NewHandler(&out, slog.LevelInfo))

	require.NoError(t, bootstrap(engine, operator, treasury.DefaultParams(), false, metrics, logger))
	_, err := engine.Ledger()
	require.ErrorIs(t, err, treasury.ErrNotInitialized)
	require.Contains(t, out.String(), "treasury ledger not initialised")
	require.Contains(t, out.String(), `"severity":"WARN"`)

	require.NoError(t, bootstrap(engine, operator, treasury.DefaultParams(), true, metrics, logger))
	require.Contains(t, out.String(), "treasury ledger bootstrapped")
	ledger, err := engine.Ledger()
	require.NoError(t, err)
	require.Equal(t, treasury.DefaultParams(), ledger.Params)

	// A second start leaves the existing ledger alone.
	require.NoError(t, bootstrap(engine, operator, treasury.DefaultParams(), true, metrics, logger))
}
