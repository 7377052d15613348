package simulator

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"feedline/internal/config"
	"feedline/internal/database"
	"feedline/internal/engine"
	"feedline/internal/engine/actors"
	"feedline/internal/events"
	"feedline/internal/handlers"
	"feedline/internal/middleware"
	"feedline/internal/utils"
	"feedline/internal/websocket"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func startServer(t *testing.T) string {
	t.Helper()
	store, err := database.NewSQLiteStore(filepath.Join(t.TempDir(), "sim.db"))
	require.NoError(t, err)
	require.NoError(t, store.InitializeTables(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	hub := websocket.NewHub()
	go hub.Run(ctx)
	broker := events.NewLocalBroker()
	_, err = broker.Subscribe(hub.Deliver)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := utils.NewMetricsCollector()
	deps := &actors.Deps{DB: store, Broker: broker, Metrics: metrics, PasswordCost: bcrypt.MinCost}
	eng := engine.NewEngine(engine.NewActorSystem(logger), deps, 10*time.Second)
	tokens := middleware.NewTokenIssuer(&config.AuthConfig{JWTSecret: "sim-test", TokenTTL: time.Hour})
	server := handlers.NewServer(eng, store, metrics, hub, tokens)
	server.Logger = logger

	srv := httptest.NewServer(server.Routes())
	t.Cleanup(func() {
		srv.Close()
		eng.Shutdown()
		cancel()
		store.Close(context.Background())
	})
	return srv.URL
}

func TestSimulationSettlesWithoutDrift(t *testing.T) {
	if testing.Short() {
		t.Skip("simulation runs against a live server")
	}
	url := startServer(t)

	cfg := DefaultConfig()
	cfg.EngineURL = url
	cfg.NumUsers = 5
	cfg.NumPosts = 3
	cfg.SimulationTime = 1500 * time.Millisecond
	cfg.TickInterval = 20 * time.Millisecond
	cfg.LikeFrequency = 300
	cfg.SaveFrequency = 60
	cfg.CommentFrequency = 30
	cfg.DoubleTapRate = 0.5
	cfg.DisconnectRate = 0
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithTimeout(context.Background(), cfg.SimulationTime)
	defer cancel()
	report, err := NewSimulator(cfg).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 5, report.Metrics.TotalUsers)
	assert.Equal(t, 3, report.Metrics.TotalPosts)
	assert.Positive(t, report.Metrics.TotalActions)
	assert.Zero(t, report.Metrics.ErrorCount)
	require.Len(t, report.Posts, 3)
	for _, p := range report.Posts {
		assert.Zero(t, p.Pending, p.PostID)
	}
	assert.Empty(t, report.Drifts())

	var out bytes.Buffer
	report.Print(&out)
	assert.Contains(t, out.String(), "POST")
	assert.NotContains(t, out.String(), "DRIFT")
}

func TestReportDrifts(t *testing.T) {
	r := &Report{Posts: []PostDrift{
		{PostID: "a", ServerLikes: 3, ExpectedLikes: 3},
		{PostID: "b", ServerLikes: 4, ExpectedLikes: 2},
	}}
	drifts := r.Drifts()
	require.Len(t, drifts, 1)
	assert.Equal(t, "b", drifts[0].PostID)

	var out bytes.Buffer
	r.Print(&out)
	assert.Contains(t, out.String(), "DRIFT")
}
