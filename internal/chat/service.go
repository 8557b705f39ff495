package chat

import (
	"context"

	"go.uber.org/zap"
)

// Store is the persistence contract Service depends on. Implementations must
// make CreateRoom and UpdateRoom atomic: no partially created room or
// half-replaced member set may be observable by other operations.
type Store interface {
	CreateUser(ctx context.Context, username string) (User, error)
	RoomsByUserID(ctx context.Context, userID int64) ([]RoomSummary, error)
	CreateRoom(ctx context.Context, name, description string, memberIDs []int64) (Room, error)
	UpdateRoom(ctx context.Context, params UpdateRoomParams) (Room, error)
	IsMember(ctx context.Context, userID, roomID int64) (bool, error)
	MessagesByRoomID(ctx context.Context, roomID int64) ([]Message, error)
	CreateMessage(ctx context.Context, roomID, authorID int64, text string) (Message, error)
}

// Broadcaster delivers an event to every currently connected subscriber.
// Delivery is best-effort, there is no acknowledgment.
type Broadcaster interface {
	Emit(event string, payload interface{})
}

// Service orchestrates room and message operations on top of a Store and a
// Broadcaster. It owns the membership-set invariant (at least 2 distinct
// members, requester always included) and the persist-then-broadcast ordering.
type Service struct {
	logger *zap.SugaredLogger
	store  Store
	broker Broadcaster
}

func NewService(logger *zap.SugaredLogger, store Store, broker Broadcaster) *Service {
	return &Service{
		logger: logger,
		store:  store,
		broker: broker,
	}
}

// CreateUser registers a new user. Session issuance is handled by the caller.
func (s *Service) CreateUser(ctx context.Context, username string) (User, error) {
	return s.store.CreateUser(ctx, username)
}

// ListRooms returns the rooms the user belongs to, newest first, each with its
// full member list.
func (s *Service) ListRooms(ctx context.Context, userID int64) ([]RoomSummary, error) {
	return s.store.RoomsByUserID(ctx, userID)
}

// CreateRoom persists a room whose member set is the requested ids plus the
// creator, then emits a "createRoom" event to all subscribers.
func (s *Service) CreateRoom(ctx context.Context, creatorID int64, name, description string, memberIDs []int64) (Room, error) {
	if creatorID < 1 {
		return Room{}, ErrInvalidUser
	}

	members := prepareMembers(memberIDs, creatorID)
	if len(members) < 2 {
		return Room{}, ErrNotEnoughMembers
	}

	room, err := s.store.CreateRoom(ctx, name, description, members)
	if err != nil {
		return Room{}, err
	}

	s.logger.Debugf("Created room (id: %d) with %d members", room.ID, len(room.Members))
	s.broker.Emit("createRoom", room)

	return room, nil
}

// UpdateRoom applies name/description changes and replaces the entire member
// set with the requested ids plus the requester, then emits an "updateRoom"
// event. Only a current member may update a room. Concurrent updates to the
// same room are last-writer-wins.
func (s *Service) UpdateRoom(ctx context.Context, requesterID, roomID int64, name, description string, memberIDs []int64) (Room, error) {
	if requesterID < 1 {
		return Room{}, ErrInvalidUser
	}

	members := prepareMembers(memberIDs, requesterID)
	if len(members) < 2 {
		return Room{}, ErrNotEnoughMembers
	}

	member, err := s.store.IsMember(ctx, requesterID, roomID)
	if err != nil {
		return Room{}, err
	}
	if !member {
		return Room{}, ErrNotRoomMember
	}

	room, err := s.store.UpdateRoom(ctx, UpdateRoomParams{
		RoomID:      roomID,
		Name:        name,
		Description: description,
		MemberIDs:   members,
	})
	if err != nil {
		return Room{}, err
	}

	s.logger.Debugf("Updated room (id: %d), member set replaced with %d members", room.ID, len(room.Members))
	s.broker.Emit("updateRoom", room)

	return room, nil
}

// ListMessages returns the full message history of a room ordered by creation
// time ascending.
func (s *Service) ListMessages(ctx context.Context, roomID int64) ([]Message, error) {
	if roomID < 1 {
		return nil, ErrRoomRequired
	}

	return s.store.MessagesByRoomID(ctx, roomID)
}

// PostMessage persists a message and, only after it is durably stored, emits a
// "createMessage" event to all subscribers. The author is not required to be a
// member of the room.
func (s *Service) PostMessage(ctx context.Context, userID, roomID int64, text string) (Message, error) {
	if roomID < 1 {
		return Message{}, ErrRoomRequired
	}
	if len(text) == 0 {
		return Message{}, ErrMessageRequired
	}

	message, err := s.store.CreateMessage(ctx, roomID, userID, text)
	if err != nil {
		return Message{}, err
	}

	s.logger.Debugf("Created message (id: %d) in room (id: %d)", message.ID, message.Room)
	s.broker.Emit("createMessage", message)

	return message, nil
}
