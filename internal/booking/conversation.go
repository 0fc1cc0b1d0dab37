package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking-agent/internal/intent"
	redisclient "github.com/hackgods/clinic-booking-agent/internal/redis"
	"github.com/hackgods/clinic-booking-agent/pkg/logging"
)

const greeting = "Hello! I can help you book an appointment. Please tell me your full name and date of birth (YYYY-MM-DD)."

// Conversation turns free text into workflow steps. Messages for the same
// session are serialized through the session lock.
type Conversation struct {
	workflow  *Workflow
	extractor intent.Extractor
	store     SessionStore
	locker    redisclient.Locker
	logger    *logging.Logger
	now       func() time.Time
}

func NewConversation(w *Workflow, extractor intent.Extractor, store SessionStore, locker redisclient.Locker, logger *logging.Logger) *Conversation {
	if logger == nil {
		logger = logging.Default()
	}
	return &Conversation{
		workflow:  w,
		extractor: extractor,
		store:     store,
		locker:    locker,
		logger:    logger.Component("conversation"),
		now:       w.now,
	}
}

func (c *Conversation) Start(ctx context.Context) (*Session, Reply, error) {
	s := NewSession(c.now())
	if err := c.store.Save(ctx, s); err != nil {
		return nil, Reply{}, err
	}
	c.logger.Info().Str("session_id", s.ID.String()).Msg("session started")
	return s, c.workflow.reply(s, greeting), nil
}

func (c *Conversation) Get(ctx context.Context, id uuid.UUID) (*Session, Reply, error) {
	s, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, Reply{}, err
	}
	return s, c.workflow.Prompt(s), nil
}

const saveTimeout = 5 * time.Second

// Handle runs one user message through the extractor and the workflow. The
// extractor runs before the session lock is taken. The session is saved even
// when the step fails part way or the caller goes away mid-step.
func (c *Conversation) Handle(ctx context.Context, id uuid.UUID, text string) (Reply, error) {
	s, err := c.store.Get(ctx, id)
	if err != nil {
		return Reply{}, err
	}
	if s.State.Terminal() {
		return Reply{}, ErrTerminalSession
	}

	in, perr := c.extractor.Parse(ctx, text)
	if perr != nil && !errors.Is(perr, intent.ErrUnrecognized) {
		return Reply{}, fmt.Errorf("extract intent: %w", perr)
	}
	in.Raw = text

	var reply Reply
	err = c.locker.WithLock(ctx, redisclient.SessionKey(id), func(lockCtx context.Context) error {
		s, err := c.store.Get(lockCtx, id)
		if err != nil {
			return err
		}
		if s.State.Terminal() {
			return ErrTerminalSession
		}

		var stepErr error
		if perr != nil {
			reply, stepErr = c.workflow.Unrecognized(lockCtx, s)
		} else {
			reply, stepErr = c.workflow.Step(lockCtx, s, in)
		}

		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
		defer cancel()
		if err := c.store.Save(saveCtx, s); err != nil {
			return err
		}
		if stepErr != nil {
			c.logger.Error().Err(stepErr).
				Str("session_id", id.String()).
				Str("state", string(s.State)).
				Msg("booking step failed")
		}
		return stepErr
	})
	return reply, err
}
