package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/hackgods/clinic-booking-agent/internal/api"
	"github.com/hackgods/clinic-booking-agent/internal/booking"
	"github.com/hackgods/clinic-booking-agent/pkg/logging"
)

type SimConfig struct {
	APIBaseURL string        `envconfig:"API_BASE_URL" default:"http://localhost:8080"`
	Duration   time.Duration `envconfig:"DURATION" default:"30s"`
	Workers    int           `envconfig:"WORKERS" default:"10"`
	Doctors    []string      `envconfig:"DOCTORS" default:"Reed,Patel"`
	Locations  []string      `envconfig:"LOCATIONS" default:"Downtown"`
	MaxTurns   int           `envconfig:"MAX_TURNS" default:"12"`
	MoreSlots  int           `envconfig:"MORE_SLOTS" default:"2"` // "more" requests before giving up
	Seed       uint64        `envconfig:"SEED" default:"0"`
}

type Simulator struct {
	cfg    SimConfig
	client *http.Client
	logger *logging.Logger

	turns     OperationStats // every POST /sessions/{id}/messages
	bookings  OperationStats // whole conversations
	conflicts OperationStats // confirmations that lost the race
}

func main() {
	_ = godotenv.Load()
	logger := logging.New(os.Getenv("LOG_LEVEL"), "console").Component("simulate")

	var cfg SimConfig
	if err := envconfig.Process("SIM", &cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	if cfg.Workers <= 0 || cfg.Duration <= 0 || len(cfg.Doctors) == 0 || len(cfg.Locations) == 0 {
		logger.Fatal().Msg("SIM_WORKERS, SIM_DURATION, SIM_DOCTORS and SIM_LOCATIONS must be set")
	}
	logger.Info().
		Str("api", cfg.APIBaseURL).
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Strs("doctors", cfg.Doctors).
		Msg("simulator starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sim := &Simulator{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
	sim.Run(ctx)
	fmt.Print(sim.Report())
}

func (s *Simulator) Run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()
	s.logger.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	seed := s.cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	f := gofakeit.New(seed + uint64(workerID))

	for ctx.Err() == nil {
		sc := &script{
			patient:  newFakePatient(f),
			doctor:   s.cfg.Doctors[f.Number(0, len(s.cfg.Doctors)-1)],
			location: s.cfg.Locations[f.Number(0, len(s.cfg.Locations)-1)],
			moreLeft: s.cfg.MoreSlots,
		}
		s.converse(ctx, sc)
	}
}

// converse runs one scripted booking conversation to completion.
func (s *Simulator) converse(ctx context.Context, sc *script) {
	start := time.Now()

	var started api.SessionResponse
	if err := s.post(ctx, "/sessions", nil, &started); err != nil {
		s.bookings.Record(time.Since(start), false, false)
		return
	}

	reply := started.Reply
	lost := false
	for turn := 0; turn < s.cfg.MaxTurns; turn++ {
		if reply.State == booking.StateCompleted {
			s.bookings.Record(time.Since(start), true, false)
			return
		}
		text, ok := sc.next(reply)
		if !ok {
			break
		}

		t0 := time.Now()
		var resp api.SessionResponse
		err := s.post(ctx, "/sessions/"+started.SessionID.String()+"/messages", api.MessageRequest{Text: text}, &resp)
		s.turns.Record(time.Since(t0), err == nil, false)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Debug().Err(err).Str("session", started.SessionID.String()).Msg("turn failed")
			}
			break
		}

		if reply.State == booking.StateAwaitingConfirmation && resp.Reply.State == booking.StateProposingSlots {
			lost = true
			s.conflicts.Record(time.Since(t0), false, true)
		}
		reply = resp.Reply
	}
	if reply.State == booking.StateCompleted {
		s.bookings.Record(time.Since(start), true, false)
		return
	}
	s.bookings.Record(time.Since(start), false, lost)
}

func (s *Simulator) post(ctx context.Context, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(s.cfg.APIBaseURL, "/")+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e api.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%s: %d %s", path, resp.StatusCode, e.Error)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *Simulator) Report() string {
	var b strings.Builder
	line := strings.Repeat("=", 80)
	fmt.Fprintf(&b, "\n%s\nSIMULATION REPORT\n%s\n", line, line)
	fmt.Fprintf(&b, "Duration: %s\nWorkers: %d\n\n", s.cfg.Duration, s.cfg.Workers)
	for _, r := range []string{
		s.bookings.Report("Conversations"),
		s.turns.Report("Turns"),
		s.conflicts.Report("Lost confirmations"),
	} {
		if r != "" {
			b.WriteString(r)
			b.WriteString("\n")
		}
	}
	return b.String()
}
