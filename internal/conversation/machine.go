package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harryneopotter/teacher-website-public/internal/consts"
	"github.com/harryneopotter/teacher-website-public/internal/database"
	"github.com/harryneopotter/teacher-website-public/internal/keylock"
	"github.com/harryneopotter/teacher-website-public/internal/logger"
)

// Records is the part of the store the dialog writes to.
type Records interface {
	CreateShowcase(ctx context.Context, item *database.ShowcaseItem) (string, error)
	UpdateShowcaseThumbnail(ctx context.Context, id, thumbnailURL string) error
}

// OutcomeKind tells the caller which reply to render.
type OutcomeKind int

const (
	// OutcomeNoConversation means the user has no active dialog.
	OutcomeNoConversation OutcomeKind = iota
	// OutcomeAskAuthor means the title was stored.
	OutcomeAskAuthor
	// OutcomeAskDescription means the author was stored.
	OutcomeAskDescription
	// OutcomePublished means the record was committed and a thumbnail may
	// follow.
	OutcomePublished
	// OutcomeCompleted means /done closed the dialog.
	OutcomeCompleted
	// OutcomeAwaitThumbnail re-prompts in the thumbnail step.
	OutcomeAwaitThumbnail
	// OutcomeFinishStepFirst means /done arrived before the record exists.
	OutcomeFinishStepFirst
	// OutcomeEmptyInput means blank text; the step is unchanged.
	OutcomeEmptyInput
)

// Outcome is a typed transition result. State is a snapshot after the
// transition (nil when cleared). Item is set for OutcomePublished.
type Outcome struct {
	Kind  OutcomeKind
	Step  Step
	State *State
	Item  *database.ShowcaseItem
}

// Machine drives the title, author, description, thumbnail dialog. Every
// operation for one user runs under that user's lock, so reads and
// write-backs never interleave.
type Machine struct {
	store   Store
	records Records
	locks   *keylock.Manager
	now     func() time.Time
}

func NewMachine(store Store, records Records, locks *keylock.Manager) *Machine {
	if locks == nil {
		locks = keylock.NewManager()
	}
	return &Machine{
		store:   store,
		records: records,
		locks:   locks,
		now:     time.Now,
	}
}

func (m *Machine) withUser(ctx context.Context, userID string, fn func() error) error {
	return m.locks.WithLock(ctx, "conversation:"+userID, fn)
}

// Begin starts a dialog for an accepted document, overwriting any prior
// state for the user.
func (m *Machine) Begin(ctx context.Context, userID, pdfObjectName string) error {
	return m.withUser(ctx, userID, func() error {
		return m.store.Put(ctx, &State{
			UserID:        userID,
			Step:          StepWaitingForTitle,
			PDFObjectName: pdfObjectName,
			UpdatedAt:     m.now().UTC(),
		})
	})
}

// current returns a snapshot of the user's state, or nil.
func (m *Machine) current(ctx context.Context, userID string) (*State, error) {
	var state *State
	err := m.withUser(ctx, userID, func() error {
		var err error
		state, err = m.store.Get(ctx, userID)
		return err
	})
	return state, err
}

// HandleText consumes one free-text message as input for the current step.
func (m *Machine) HandleText(ctx context.Context, userID, text string) (Outcome, error) {
	var out Outcome
	err := m.withUser(ctx, userID, func() error {
		state, err := m.store.Get(ctx, userID)
		if err != nil {
			return err
		}
		if state == nil {
			out = Outcome{Kind: OutcomeNoConversation, Step: StepIdle}
			return nil
		}

		out, err = m.advance(ctx, state, strings.TrimSpace(text))
		return err
	})
	return out, err
}

func (m *Machine) advance(ctx context.Context, state *State, text string) (Outcome, error) {
	isDone := strings.EqualFold(text, consts.CommandDone)

	if state.Step == StepWaitingForThumbnailOrDone {
		if !isDone {
			return Outcome{Kind: OutcomeAwaitThumbnail, Step: state.Step, State: state.clone()}, nil
		}
		if err := m.store.Delete(ctx, state.UserID); err != nil {
			return Outcome{}, err
		}
		return Outcome{Kind: OutcomeCompleted, Step: StepIdle}, nil
	}

	if isDone {
		return Outcome{Kind: OutcomeFinishStepFirst, Step: state.Step, State: state.clone()}, nil
	}
	if text == "" {
		return Outcome{Kind: OutcomeEmptyInput, Step: state.Step, State: state.clone()}, nil
	}

	next := state.clone()
	next.UpdatedAt = m.now().UTC()
	out := Outcome{}

	switch state.Step {
	case StepWaitingForTitle:
		next.Data.Title = text
		next.Step = StepWaitingForAuthor
		out.Kind = OutcomeAskAuthor

	case StepWaitingForAuthor:
		next.Data.Author = text
		next.Step = StepWaitingForDescription
		out.Kind = OutcomeAskDescription

	case StepWaitingForDescription:
		next.Data.Description = text
		item := &database.ShowcaseItem{
			Title:         next.Data.Title,
			Author:        next.Data.Author,
			Description:   next.Data.Description,
			PDFObjectName: next.PDFObjectName,
			ThumbnailURL:  consts.PlaceholderThumbnailURL,
			Status:        consts.StatusPublished,
		}

		// The state stays in the description step if the commit fails
		id, err := m.records.CreateShowcase(ctx, item)
		if err != nil {
			return Outcome{}, fmt.Errorf("failed to publish showcase item: %w", err)
		}
		item.ID = id

		next.ShowcaseID = id
		next.Step = StepWaitingForThumbnailOrDone
		out.Kind = OutcomePublished
		out.Item = item

		logger.Info("Showcase item published", map[string]interface{}{
			"user_id":     next.UserID,
			"showcase_id": id,
			"pdf_object":  next.PDFObjectName,
		})

	default:
		return Outcome{}, fmt.Errorf("conversation for %s has unknown step %q", state.UserID, state.Step)
	}

	if err := m.store.Put(ctx, next); err != nil {
		return Outcome{}, err
	}
	out.Step = next.Step
	out.State = next.clone()
	return out, nil
}

// Cancel clears any active dialog. It reports whether there was one.
// Persisted records are never touched.
func (m *Machine) Cancel(ctx context.Context, userID string) (bool, error) {
	var cancelled bool
	err := m.withUser(ctx, userID, func() error {
		state, err := m.store.Get(ctx, userID)
		if err != nil {
			return err
		}
		if state == nil {
			return nil
		}
		cancelled = true
		return m.store.Delete(ctx, userID)
	})
	return cancelled, err
}

// AttachThumbnail links url to the user's committed record and ends the
// dialog. linked is false when there is no committed record to link to.
func (m *Machine) AttachThumbnail(ctx context.Context, userID, url string) (bool, error) {
	var linked bool
	err := m.withUser(ctx, userID, func() error {
		state, err := m.store.Get(ctx, userID)
		if err != nil {
			return err
		}
		if state == nil || state.ShowcaseID == "" {
			return nil
		}

		if err := m.records.UpdateShowcaseThumbnail(ctx, state.ShowcaseID, url); err != nil {
			return fmt.Errorf("failed to link thumbnail: %w", err)
		}
		linked = true
		return m.store.Delete(ctx, userID)
	})
	return linked, err
}
