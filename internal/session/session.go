package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"room-chat/internal/docstore"
	"room-chat/internal/feed"
	"room-chat/internal/models"
	"room-chat/internal/navigation"
	"room-chat/internal/observability"
	"room-chat/internal/presence"
)

// View is everything a client needs to render the room screen.
type View struct {
	State     State            `json:"state"`
	RoomID    string           `json:"room_id"`
	IsCreator bool             `json:"is_creator"`
	Messages  []models.Message `json:"messages"`
}

// Session is one user's participation in one room.
type Session struct {
	o      *Orchestrator
	roomID string
	connID string
	userID string
	logger zerolog.Logger

	mu          sync.Mutex
	state       State
	displayName string
	isCreator   bool
	messages    []models.Message
	roomSub     *feed.Subscription[models.RoomSnapshot]
	msgSub      *feed.Subscription[[]models.Message]

	views   chan View
	done    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
}

func newSession(o *Orchestrator, id Identity, roomID, connID string) *Session {
	name := id.DisplayName
	if name == "" {
		name = models.DefaultDisplayName(id.UserID)
	}
	return &Session{
		o:           o,
		roomID:      roomID,
		connID:      connID,
		userID:      id.UserID,
		logger:      o.logger.With().Str("room_id", roomID).Str("user_id", id.UserID).Str("conn_id", connID).Logger(),
		state:       StateChecking,
		displayName: name,
		messages:    []models.Message{},
		views:       make(chan View, 1),
		done:        make(chan struct{}),
		stop:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
}

func (s *Session) RoomID() string { return s.roomID }
func (s *Session) ConnID() string { return s.connID }
func (s *Session) UserID() string { return s.userID }

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the current view.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// Views yields the latest view after every change. Older undelivered views are dropped.
func (s *Session) Views() <-chan View {
	return s.views
}

// Done is closed when the session reaches NotFound, Deleted or Ended.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) viewLocked() View {
	return View{State: s.state, RoomID: s.roomID, IsCreator: s.isCreator, Messages: s.messages}
}

func (s *Session) setStateLocked(state State) {
	s.state = state
	s.publishLocked()
}

func (s *Session) publishLocked() {
	v := s.viewLocked()
	for {
		select {
		case s.views <- v:
			return
		default:
		}
		select {
		case <-s.views:
		default:
		}
	}
}

// Activate subscribes to the room and message streams, registers presence with
// its disconnect hooks and announces the user. Presence writes and the join
// message are independent; failures are logged and left to the disconnect hooks
// and the stale-connection reaper to reconcile.
func (s *Session) Activate(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateFound {
		s.mu.Unlock()
		return ErrInactive
	}
	s.roomSub = s.o.rooms.WatchRoom(s.roomID, s.streamError("room"))
	s.msgSub = s.o.rooms.WatchMessages(s.roomID, s.streamError("messages"))
	s.setStateLocked(StateActive)
	name := s.displayName
	s.mu.Unlock()

	s.registerPresence(ctx)
	s.announce(ctx, models.KindJoin, name+" joined the room")

	go s.run()
	return nil
}

func (s *Session) streamError(stream string) func(error) {
	return func(err error) {
		s.logger.Warn().Err(err).Str("stream", stream).Msg("subscription reload failed")
	}
}

func (s *Session) registerPresence(ctx context.Context) {
	p := s.o.presence
	presencePath := presence.PresencePath(s.roomID, s.userID)
	statusPath := presence.StatusPath(s.roomID, s.userID)

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"connect", func(ctx context.Context) error { return p.Connect(ctx, s.connID) }},
		{"set_presence", func(ctx context.Context) error { return p.Set(ctx, presencePath, true) }},
		{"set_status", func(ctx context.Context) error { return p.Set(ctx, statusPath, presence.StatusOnline) }},
		{"hook_presence", func(ctx context.Context) error { return p.OnDisconnectRemove(ctx, s.connID, presencePath) }},
		{"hook_status", func(ctx context.Context) error {
			return p.OnDisconnectSet(ctx, s.connID, statusPath, presence.StatusOffline)
		}},
	}
	for _, step := range steps {
		cctx, cancel := s.o.withTimeout(ctx)
		err := step.fn(cctx)
		cancel()
		if err != nil {
			s.logger.Warn().Err(err).Str("step", step.name).Msg("presence registration failed")
		}
	}
}

func (s *Session) announce(ctx context.Context, kind models.MessageKind, text string) error {
	ctx, cancel := s.o.withTimeout(ctx)
	defer cancel()
	_, err := s.o.rooms.AddMessage(ctx, docstore.NewMessage{
		RoomID:     s.roomID,
		Text:       text,
		AuthorID:   s.userID,
		AuthorName: s.currentName(),
		Kind:       kind,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("kind", string(kind)).Msg("notification message failed")
		return err
	}
	observability.IncMessage(string(kind))
	return nil
}

func (s *Session) currentName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displayName
}

func (s *Session) run() {
	defer close(s.stopped)
	for {
		select {
		case <-s.stop:
			return
		case snap := <-s.roomSub.Updates():
			if !snap.Exists {
				s.roomGone()
				return
			}
		case msgs := <-s.msgSub.Updates():
			s.mu.Lock()
			if s.state == StateActive {
				s.messages = msgs
				s.publishLocked()
			}
			s.mu.Unlock()
		}
	}
}

func (s *Session) roomGone() {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateDeleted)
	s.mu.Unlock()

	s.cancelSubscriptions()
	if err := s.clearPresence(context.Background()); err != nil {
		s.logger.Warn().Err(err).Msg("presence cleanup after deletion failed")
	}
	s.finish(StateDeleted)
}

// Send posts a chat message authored under the current display name.
func (s *Session) Send(ctx context.Context, text string) (models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return models.Message{}, ErrEmptyMessage
	}
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return models.Message{}, ErrInactive
	}
	name := s.displayName
	s.mu.Unlock()

	ctx, cancel := s.o.withTimeout(ctx)
	defer cancel()
	msg, err := s.o.rooms.AddMessage(ctx, docstore.NewMessage{
		RoomID:     s.roomID,
		Text:       text,
		AuthorID:   s.userID,
		AuthorName: name,
		Kind:       models.KindChat,
	})
	if errors.Is(err, docstore.ErrRoomNotFound) {
		return models.Message{}, ErrInactive
	}
	if err != nil {
		return models.Message{}, err
	}
	observability.IncMessage(string(models.KindChat))
	return msg, nil
}

// SetDisplayName changes the author name used for messages sent from now on.
func (s *Session) SetDisplayName(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	s.mu.Lock()
	s.displayName = name
	s.mu.Unlock()
}

// DeleteRoom removes the room. Only its creator may do so; anyone else is
// refused before the store is touched.
func (s *Session) DeleteRoom(ctx context.Context) error {
	s.mu.Lock()
	state, creator := s.state, s.isCreator
	s.mu.Unlock()
	if state != StateActive {
		return ErrInactive
	}
	if !creator {
		return ErrNotCreator
	}

	ctx, cancel := s.o.withTimeout(ctx)
	defer cancel()
	return s.o.rooms.DeleteRoom(ctx, s.roomID)
}

// Leave ends an active session on the user's request and returns where to go next.
func (s *Session) Leave(ctx context.Context) (string, error) {
	if !s.end() {
		return navigation.Join, ErrInactive
	}

	leaveErr := s.announce(ctx, models.KindLeave, s.currentName()+" left the room")
	presenceErr := s.clearPresence(ctx)
	s.finish(StateEnded)
	if leaveErr != nil || presenceErr != nil {
		return navigation.Join, errors.Join(leaveErr, presenceErr)
	}
	return navigation.Join, nil
}

// Close tears the session down without an explicit leave, for example when the
// client connection goes away. The leave message and presence cleanup are best
// effort; if any step fails the disconnect hooks stay registered.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	if s.state == StateFound || s.state == StateChecking {
		s.setStateLocked(StateEnded)
		s.mu.Unlock()
		close(s.done)
		return
	}
	s.mu.Unlock()

	if !s.end() {
		return
	}
	_ = s.announce(ctx, models.KindLeave, s.currentName()+" left the room")
	if err := s.clearPresence(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("presence cleanup failed, leaving disconnect hooks in place")
	}
	s.finish(StateEnded)
}

// end moves an active session to Ended and makes every stream callback inert.
func (s *Session) end() bool {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return false
	}
	s.setStateLocked(StateEnded)
	s.mu.Unlock()

	close(s.stop)
	<-s.stopped
	s.cancelSubscriptions()
	return true
}

func (s *Session) cancelSubscriptions() {
	s.mu.Lock()
	roomSub, msgSub := s.roomSub, s.msgSub
	s.mu.Unlock()
	if roomSub != nil {
		roomSub.Cancel()
	}
	if msgSub != nil {
		msgSub.Cancel()
	}
}

// clearPresence removes the presence flag, marks the user offline and, when both
// succeed, releases the disconnect hooks that would have done the same.
func (s *Session) clearPresence(ctx context.Context) error {
	p := s.o.presence
	var errs []error

	cctx, cancel := s.o.withTimeout(ctx)
	errs = append(errs, p.Remove(cctx, presence.PresencePath(s.roomID, s.userID)))
	cancel()

	cctx, cancel = s.o.withTimeout(ctx)
	errs = append(errs, p.Set(cctx, presence.StatusPath(s.roomID, s.userID), presence.StatusOffline))
	cancel()

	if err := errors.Join(errs...); err != nil {
		return err
	}

	cctx, cancel = s.o.withTimeout(ctx)
	defer cancel()
	return p.Release(cctx, s.connID)
}

func (s *Session) finish(state State) {
	observability.IncSessionEnded(string(state))
	s.logger.Info().Str("state", string(state)).Msg("room session finished")
	close(s.done)
}
