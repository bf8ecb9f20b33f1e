package app

import (
	"context"
	"fmt"
	"time"

	queuesvc "github.com/coin-shuffle/coordinator/internal/app/services/queue"
	roomssvc "github.com/coin-shuffle/coordinator/internal/app/services/rooms"
	"github.com/coin-shuffle/coordinator/internal/app/services/tokens"
	"github.com/coin-shuffle/coordinator/internal/app/storage"
	"github.com/coin-shuffle/coordinator/internal/app/storage/memory"
	"github.com/coin-shuffle/coordinator/internal/app/system"
	"github.com/coin-shuffle/coordinator/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Participants storage.ParticipantStore
	Queues       storage.QueueStore
	Rooms        storage.RoomStore
}

// Options configures the application services.
type Options struct {
	TokenSecret string
	TokenTTL    time.Duration

	Engine    roomssvc.Engine
	Finalizer roomssvc.Finalizer
	Verifier  queuesvc.Verifier

	MinRoomSize      int
	RoundDeadline    time.Duration
	SweepInterval    time.Duration
	FinalizeAttempts int
	FinalizeBackoff  time.Duration
}

// Application ties the coordinator services together and manages their
// lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Queue  *queuesvc.Service
	Rooms  *roomssvc.Service
	Issuer *tokens.Issuer
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("round engine is required")
	}
	if opts.Finalizer == nil {
		return nil, fmt.Errorf("finalizer is required")
	}

	mem := memory.New()
	if stores.Participants == nil {
		stores.Participants = mem
	}
	if stores.Queues == nil {
		stores.Queues = mem
	}
	if stores.Rooms == nil {
		stores.Rooms = mem
	}

	issuer, err := tokens.NewIssuer(opts.TokenSecret, opts.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("configure token issuer: %w", err)
	}

	roomService := roomssvc.NewService(stores.Rooms, stores.Participants, issuer, opts.Engine, opts.Finalizer, roomssvc.Config{
		RoundDeadline:    opts.RoundDeadline,
		FinalizeAttempts: opts.FinalizeAttempts,
		FinalizeBackoff:  opts.FinalizeBackoff,
	}, log)

	queueService := queuesvc.NewService(stores.Participants, stores.Queues, roomService, opts.Verifier, queuesvc.Config{
		MinRoomSize: opts.MinRoomSize,
	}, log)

	manager := system.NewManager()
	for _, name := range []string{"queue", "rooms"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	sweeper := roomssvc.NewSweeper(roomService, opts.SweepInterval, log)
	if err := manager.Register(sweeper); err != nil {
		return nil, fmt.Errorf("register %s: %w", sweeper.Name(), err)
	}

	return &Application{
		manager: manager,
		log:     log,
		Queue:   queueService,
		Rooms:   roomService,
		Issuer:  issuer,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
