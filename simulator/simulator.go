package simulator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"feedline/internal/api"
	"feedline/internal/client"
)

type SimConfig struct {
	NumUsers       int
	NumPosts       int
	SimulationTime time.Duration
	// Action rates per connected user per minute.
	LikeFrequency    float64
	SaveFrequency    float64
	CommentFrequency float64
	// DoubleTapRate is the chance that a like is tapped twice in quick succession.
	DoubleTapRate  float64
	DisconnectRate float64
	ReconnectRate  float64
	ZipfS          float64
	TickInterval   time.Duration
	EngineURL      string
	Logger         *slog.Logger
}

// DefaultConfig is a small run against a local server.
func DefaultConfig() SimConfig {
	return SimConfig{
		NumUsers:         20,
		NumPosts:         10,
		SimulationTime:   time.Minute,
		LikeFrequency:    30,
		SaveFrequency:    6,
		CommentFrequency: 4,
		DoubleTapRate:    0.1,
		DisconnectRate:   0.01,
		ReconnectRate:    0.05,
		ZipfS:            1.07,
		TickInterval:     200 * time.Millisecond,
		EngineURL:        "http://localhost:8080",
	}
}

type SimulationStats struct {
	mu               sync.RWMutex
	StartTime        time.Time
	TotalActions     int64
	FailedActions    int64
	SuppressedTaps   int64
	LiveUpdates      int64
	TotalLikes       int64
	TotalSaves       int64
	TotalComments    int64
	ActiveUsers      int
	AverageLatency   time.Duration
	RequestLatencies []time.Duration
}

// SimulatedUser is one signed-in client with its own views of the posts it
// has interacted with.
type SimulatedUser struct {
	Username    string
	Email       string
	Client      *client.Client
	IsConnected bool

	logger   *slog.Logger
	mu       sync.Mutex
	views    map[string]*client.PostView
	threads  map[string]*client.CommentThread
	stream   *client.Subscriber
	onUpdate func()
}

type Simulator struct {
	config SimConfig
	logger *slog.Logger
	stats  *SimulationStats

	mu    sync.RWMutex
	users []*SimulatedUser
	posts []string

	rngMu sync.Mutex
	rng   *rand.Rand
	zipf  *rand.Zipf
}

func NewSimulator(config SimConfig) *Simulator {
	if config.TickInterval <= 0 {
		config.TickInterval = 200 * time.Millisecond
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{
		config: config,
		logger: logger,
		stats:  &SimulationStats{StartTime: time.Now()},
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run sets up users and posts, drives activity until ctx is done, waits for
// every action to settle and returns the drift report.
func (s *Simulator) Run(ctx context.Context) (*Report, error) {
	s.logger.Info("starting simulation", "users", s.config.NumUsers, "posts", s.config.NumPosts, "duration", s.config.SimulationTime)

	// Setup uses its own context so a short run still gets its users.
	setupCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := s.initialize(setupCtx); err != nil {
		return nil, fmt.Errorf("initialization failed: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.SimulateActivities(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.simulateConnectivity(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.collectMetrics(ctx)
	}()
	wg.Wait()

	reportCtx, cancelReport := context.WithTimeout(context.Background(), time.Minute)
	defer cancelReport()
	return s.BuildReport(reportCtx)
}

func (s *Simulator) initialize(ctx context.Context) error {
	s.logger.Info("creating users", "count", s.config.NumUsers)
	if err := s.createInitialUsers(ctx); err != nil {
		return fmt.Errorf("failed to create users: %w", err)
	}
	if len(s.users) == 0 {
		return fmt.Errorf("no users could be registered")
	}

	s.logger.Info("creating posts", "count", s.config.NumPosts)
	if err := s.createPosts(ctx); err != nil {
		return fmt.Errorf("failed to create posts: %w", err)
	}
	if len(s.posts) == 0 {
		return fmt.Errorf("no posts could be created")
	}
	s.zipf = rand.NewZipf(s.rng, math.Max(s.config.ZipfS, 1.01), 1, uint64(len(s.posts)-1))
	return nil
}

func (s *Simulator) createInitialUsers(ctx context.Context) error {
	// A small pool so registration does not trip the rate limiter.
	const numWorkers = 5
	jobs := make(chan int)
	results := make(chan *SimulatedUser)
	runID := time.Now().UnixNano() % 1_000_000

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for n := range jobs {
				user := &SimulatedUser{
					Username:    fmt.Sprintf("sim_%d_%d", runID, n),
					Email:       fmt.Sprintf("sim_%d_%d@example.com", runID, n),
					Client:      client.New(s.config.EngineURL),
					IsConnected: true,
					logger:      s.logger.With("user", fmt.Sprintf("sim_%d_%d", runID, n)),
					views:       make(map[string]*client.PostView),
					threads:     make(map[string]*client.CommentThread),
				}
				var err error
				for retries := 0; retries < 3; retries++ {
					if err = s.registerUser(ctx, user); err == nil {
						results <- user
						break
					}
					backoff := time.Duration(math.Pow(2, float64(retries))) * 100 * time.Millisecond
					s.logger.Debug("registration retry", "worker", workerID, "user", user.Username, "backoff", backoff, "error", err)
					time.Sleep(backoff)
				}
				if err != nil {
					s.logger.Warn("failed to register user", "user", user.Username, "error", err)
				}
			}
		}(i)
	}
	go func() {
		for i := 0; i < s.config.NumUsers; i++ {
			jobs <- i
		}
		close(jobs)
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	users := make([]*SimulatedUser, 0, s.config.NumUsers)
	for user := range results {
		users = append(users, user)
	}
	s.mu.Lock()
	s.users = users
	s.mu.Unlock()

	s.stats.mu.Lock()
	s.stats.ActiveUsers = len(users)
	s.stats.mu.Unlock()
	s.logger.Info("users ready", "count", len(users))
	return nil
}

func (s *Simulator) registerUser(ctx context.Context, user *SimulatedUser) error {
	const password = "simulated-pass"
	if _, err := user.Client.Register(ctx, user.Username, user.Email, password); err != nil {
		return err
	}
	_, err := user.Client.Login(ctx, user.Email, password)
	return err
}

// createPosts has the first tenth of the users author the posts.
func (s *Simulator) createPosts(ctx context.Context) error {
	authors := max(len(s.users)/10, 1)
	themes := []string{"harbour", "forest", "market", "skyline", "desert", "glacier", "festival", "studio"}
	for i := 0; i < s.config.NumPosts; i++ {
		author := s.users[i%authors]
		theme := themes[i%len(themes)]
		in := api.CreatePostInput{
			Title:     fmt.Sprintf("%s #%d", theme, i),
			MediaURL:  fmt.Sprintf("https://cdn.example/sim/%s-%d.jpg", theme, i),
			MediaType: "image",
			IsGated:   i%4 == 3,
		}
		id, err := author.Client.CreatePost(ctx, in)
		if err != nil {
			s.logger.Warn("failed to create post", "author", author.Username, "error", err)
			continue
		}
		s.posts = append(s.posts, id)
	}
	return nil
}

// pickPost chooses a post with Zipf popularity: low indexes are hot.
func (s *Simulator) pickPost() string {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.posts[int(s.zipf.Uint64())]
}

func (s *Simulator) chance(p float64) bool {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64() < p
}

func (s *Simulator) simulateConnectivity(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			active := 0
			for _, user := range s.users {
				if user.IsConnected && s.chance(s.config.DisconnectRate) {
					user.IsConnected = false
				} else if !user.IsConnected && s.chance(s.config.ReconnectRate) {
					user.IsConnected = true
				}
				if user.IsConnected {
					active++
				}
			}
			s.mu.Unlock()

			s.stats.mu.Lock()
			s.stats.ActiveUsers = active
			s.stats.mu.Unlock()
		}
	}
}

func (s *Simulator) recordAction(start time.Time, err error) {
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()

	latency := time.Since(start)
	s.stats.TotalActions++
	s.stats.RequestLatencies = append(s.stats.RequestLatencies, latency)
	if err != nil {
		s.stats.FailedActions++
	}
	total := s.stats.AverageLatency * time.Duration(s.stats.TotalActions-1)
	s.stats.AverageLatency = (total + latency) / time.Duration(s.stats.TotalActions)
}

func (s *Simulator) collectMetrics(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := s.GetMetrics()
			s.logger.Info("simulation metrics",
				"actions", m.TotalActions,
				"actionsPerSec", fmt.Sprintf("%.2f", m.ActionsPerSecond),
				"failed", m.ErrorCount,
				"suppressedTaps", m.SuppressedTaps,
				"liveUpdates", m.LiveUpdates,
				"avgLatency", m.AverageLatency,
				"activeUsers", fmt.Sprintf("%d/%d", m.ActiveUsers, m.TotalUsers))
		}
	}
}

// SimulationMetrics holds the metrics of the simulation
type SimulationMetrics struct {
	TotalUsers       int
	ActiveUsers      int
	TotalPosts       int
	TotalActions     int64
	TotalLikes       int64
	TotalSaves       int64
	TotalComments    int64
	SuppressedTaps   int64
	LiveUpdates      int64
	AverageLatency   time.Duration
	ErrorCount       int64
	ActionsPerSecond float64
}

func (s *Simulator) GetMetrics() SimulationMetrics {
	s.mu.RLock()
	users, posts := len(s.users), len(s.posts)
	s.mu.RUnlock()

	s.stats.mu.RLock()
	defer s.stats.mu.RUnlock()
	elapsed := time.Since(s.stats.StartTime).Seconds()
	return SimulationMetrics{
		TotalUsers:       users,
		ActiveUsers:      s.stats.ActiveUsers,
		TotalPosts:       posts,
		TotalActions:     s.stats.TotalActions,
		TotalLikes:       s.stats.TotalLikes,
		TotalSaves:       s.stats.TotalSaves,
		TotalComments:    s.stats.TotalComments,
		SuppressedTaps:   s.stats.SuppressedTaps,
		LiveUpdates:      s.stats.LiveUpdates,
		AverageLatency:   s.stats.AverageLatency,
		ErrorCount:       s.stats.FailedActions,
		ActionsPerSecond: float64(s.stats.TotalActions) / elapsed,
	}
}
