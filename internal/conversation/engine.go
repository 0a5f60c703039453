package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"onboardbot/internal/domain"
)

// Engine is the per-chat onboarding state machine. It consumes inbound
// events and produces outbound replies; all state lives in the record
// store, so the engine itself is stateless and safe to rebuild at any
// time.
type Engine struct {
	store     domain.RecordStore
	catalog   *Catalog
	validator *Validator
	logger    *slog.Logger

	instructionImage string
}

type EngineConfig struct {
	Store            domain.RecordStore
	Catalog          *Catalog
	Logger           *slog.Logger
	InstructionImage string
}

func NewEngine(cfg EngineConfig) *Engine {
	return &Engine{
		store:            cfg.Store,
		catalog:          cfg.Catalog,
		validator:        NewValidator(cfg.Catalog.Validation),
		logger:           cfg.Logger,
		instructionImage: cfg.InstructionImage,
	}
}

// Handle processes one inbound event and returns the replies to send.
// Validation failures never surface as errors; they become re-prompt
// replies. A returned error means the store failed and the event should
// be treated as transient by the caller.
func (e *Engine) Handle(ctx context.Context, ev domain.InboundEvent) ([]domain.Reply, error) {
	sess, err := e.store.GetSession(ctx, ev.ChatID)
	if errors.Is(err, domain.ErrNotFound) {
		// First contact creates the session.
		sess = &domain.Session{ChatID: ev.ChatID, State: domain.StateStart}
		if err := e.store.UpsertSession(ctx, *sess); err != nil {
			return nil, fmt.Errorf("create session %d: %w", ev.ChatID, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("load session %d: %w", ev.ChatID, err)
	}

	e.logger.Info("event received",
		"chat_id", ev.ChatID,
		"state", sess.State,
		"has_contact", ev.Contact != nil,
	)

	// Commands are dispatched before state routing and apply uniformly.
	if cmd, ok := command(ev.Text); ok {
		return e.handleCommand(ctx, sess, cmd)
	}

	switch sess.State {
	case domain.StateStart:
		return []domain.Reply{{Text: e.catalog.StartHint}}, nil
	case domain.StateName:
		return e.handleName(ctx, sess, ev)
	case domain.StatePhone:
		return e.handlePhone(ctx, sess, ev)
	case domain.StateCapital:
		return e.handleCapital(ctx, sess, ev)
	case domain.StateAccountID:
		return e.handleAccountID(ctx, sess, ev)
	case domain.StateWaitingPayment:
		return []domain.Reply{{Text: e.catalog.Waiting}}, nil
	case domain.StateCompleted:
		return []domain.Reply{{Text: e.catalog.CompletedInfo}}, nil
	case domain.StateCancelled:
		return []domain.Reply{{Text: e.catalog.CancelledInfo}}, nil
	default:
		// State value this build does not know. Reset.
		e.logger.Warn("unknown session state, resetting", "chat_id", sess.ChatID, "state", sess.State)
		sess.State = domain.StateStart
		if err := e.store.UpsertSession(ctx, *sess); err != nil {
			return nil, fmt.Errorf("reset session %d: %w", sess.ChatID, err)
		}
		return []domain.Reply{{Text: e.catalog.StateReset}}, nil
	}
}

// command extracts a leading /command, tolerating bot-name suffixes
// ("/start@mybot") and arguments.
func command(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	cmd := strings.Fields(text)[0]
	if i := strings.Index(cmd, "@"); i > 0 {
		cmd = cmd[:i]
	}
	return cmd, true
}

func (e *Engine) handleCommand(ctx context.Context, sess *domain.Session, cmd string) ([]domain.Reply, error) {
	switch cmd {
	case "/start":
		// Restart resets everything collected so far.
		reset := domain.Session{
			ChatID:    sess.ChatID,
			State:     domain.StateName,
			CreatedAt: sess.CreatedAt,
		}
		if err := e.store.UpsertSession(ctx, reset); err != nil {
			return nil, fmt.Errorf("restart session %d: %w", sess.ChatID, err)
		}
		return []domain.Reply{{Text: e.catalog.Welcome, RemoveKeyboard: true}}, nil

	case "/cancel":
		if sess.State.Terminal() {
			text := e.catalog.CancelledInfo
			if sess.State == domain.StateCompleted {
				text = e.catalog.CompletedInfo
			}
			return []domain.Reply{{Text: text}}, nil
		}
		sess.State = domain.StateCancelled
		if err := e.store.UpsertSession(ctx, *sess); err != nil {
			return nil, fmt.Errorf("cancel session %d: %w", sess.ChatID, err)
		}
		return []domain.Reply{{Text: e.catalog.Cancelled, RemoveKeyboard: true}}, nil

	case "/help":
		return []domain.Reply{{Text: e.catalog.Help}}, nil

	default:
		return []domain.Reply{{Text: e.catalog.UnknownCommand}}, nil
	}
}

func (e *Engine) handleName(ctx context.Context, sess *domain.Session, ev domain.InboundEvent) ([]domain.Reply, error) {
	name, err := e.validator.Name(ev.Text)
	if err != nil {
		return e.reprompt(err)
	}

	sess.State = domain.StatePhone
	sess.Name = name
	if err := e.store.UpsertSession(ctx, *sess); err != nil {
		return nil, fmt.Errorf("store name %d: %w", sess.ChatID, err)
	}

	return []domain.Reply{{
		Text: Render(e.catalog.AskPhone, "name", name),
		Keyboard: [][]domain.KeyboardButton{
			{{Label: e.catalog.SharePhoneButton, RequestContact: true}},
		},
	}}, nil
}

func (e *Engine) handlePhone(ctx context.Context, sess *domain.Session, ev domain.InboundEvent) ([]domain.Reply, error) {
	input := ev.Text
	if ev.Contact != nil {
		input = ev.Contact.PhoneNumber
	}

	phone, err := e.validator.Phone(input)
	if err != nil {
		return e.reprompt(err)
	}

	sess.State = domain.StateCapital
	sess.PhoneNumber = phone
	if err := e.store.UpsertSession(ctx, *sess); err != nil {
		return nil, fmt.Errorf("store phone %d: %w", sess.ChatID, err)
	}

	return []domain.Reply{{
		Text:     e.catalog.AskCapital,
		Keyboard: e.bandKeyboard(),
	}}, nil
}

func (e *Engine) handleCapital(ctx context.Context, sess *domain.Session, ev domain.InboundEvent) ([]domain.Reply, error) {
	choice := strings.TrimSpace(ev.Text)

	// Band labels carry Persian ordinal digits; users typing the choice by
	// hand often use ASCII ones. Match digit-glyph-insensitively.
	var stored string
	for _, band := range e.catalog.CapitalBands {
		if NormalizeDigits(choice) == NormalizeDigits(band) {
			stored = band
			break
		}
	}
	if stored == "" {
		return []domain.Reply{{
			Text:     e.catalog.CapitalRetry,
			Keyboard: e.bandKeyboard(),
		}}, nil
	}

	sess.State = domain.StateAccountID
	sess.CapitalBand = stored
	if err := e.store.UpsertSession(ctx, *sess); err != nil {
		return nil, fmt.Errorf("store capital band %d: %w", sess.ChatID, err)
	}

	instructions := Render(e.catalog.AskAccountID,
		"referralLink", e.catalog.ReferralLink,
		"tutorialLink", e.catalog.TutorialLink,
	)
	return []domain.Reply{{
		Text:           instructions,
		ImagePath:      e.instructionImage,
		RemoveKeyboard: true,
	}}, nil
}

func (e *Engine) handleAccountID(ctx context.Context, sess *domain.Session, ev domain.InboundEvent) ([]domain.Reply, error) {
	accountID, err := e.validator.AccountID(ev.Text)
	if err != nil {
		return e.reprompt(err)
	}

	sess.State = domain.StateWaitingPayment
	sess.ExternalAccountID = accountID
	if err := e.store.UpsertSession(ctx, *sess); err != nil {
		return nil, fmt.Errorf("store account id %d: %w", sess.ChatID, err)
	}

	e.logger.Info("registration complete, waiting for payment",
		"chat_id", sess.ChatID, "account_id", accountID)

	summary := Render(e.catalog.Summary,
		"name", sess.Name,
		"phone", sess.PhoneNumber,
		"accountId", accountID,
	)
	return []domain.Reply{{Text: summary}}, nil
}

// reprompt turns a validation failure into a reply with the localized
// reason plus the cancel affordance. State is untouched.
func (e *Engine) reprompt(err error) ([]domain.Reply, error) {
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		return nil, err
	}
	return []domain.Reply{{
		Text: fmt.Sprintf("❌ %s\n%s", ve.Reason, e.catalog.RetrySuffix),
	}}, nil
}

func (e *Engine) bandKeyboard() [][]domain.KeyboardButton {
	rows := make([][]domain.KeyboardButton, 0, len(e.catalog.CapitalBands))
	for _, band := range e.catalog.CapitalBands {
		rows = append(rows, []domain.KeyboardButton{{Label: band}})
	}
	return rows
}
