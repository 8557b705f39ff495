// Package memory provides an in-process implementation of the chat and token
// stores. It backs the test suites and local development, no Postgres needed.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"roomchat/internal/auth"
	"roomchat/internal/chat"
)

type roomRecord struct {
	room    chat.Room
	members map[int64]struct{}
}

// Store keeps all entities behind a single mutex, so every operation is
// atomic: no caller ever observes a room with a half-replaced member set.
type Store struct {
	mu sync.Mutex

	users    map[int64]chat.User
	rooms    map[int64]*roomRecord
	messages []chat.Message
	tokens   map[int64]string

	nextUserID    int64
	nextRoomID    int64
	nextMessageID int64
}

func NewStore() *Store {
	return &Store{
		users:  make(map[int64]chat.User),
		rooms:  make(map[int64]*roomRecord),
		tokens: make(map[int64]string),
	}
}

func (s *Store) CreateUser(_ context.Context, username string) (chat.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) {
			return chat.User{}, chat.ErrUserExists
		}
	}

	s.nextUserID++
	user := chat.User{
		ID:        s.nextUserID,
		Username:  username,
		CreatedAt: time.Now(),
	}
	s.users[user.ID] = user

	return user, nil
}

func (s *Store) CreateRoom(_ context.Context, name, description string, memberIDs []int64) (chat.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkMembers(memberIDs); err != nil {
		return chat.Room{}, err
	}

	s.nextRoomID++
	record := &roomRecord{
		room: chat.Room{
			ID:          s.nextRoomID,
			Name:        name,
			Description: description,
			Version:     1,
			CreatedAt:   time.Now(),
		},
		members: make(map[int64]struct{}, len(memberIDs)),
	}
	for _, id := range memberIDs {
		record.members[id] = struct{}{}
	}
	s.rooms[record.room.ID] = record

	return s.roomWithMembers(record), nil
}

func (s *Store) UpdateRoom(_ context.Context, params chat.UpdateRoomParams) (chat.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.rooms[params.RoomID]
	if !ok {
		return chat.Room{}, chat.ErrRoomNotExist
	}

	if params.ExpectedVersion != nil && record.room.Version != *params.ExpectedVersion {
		return chat.Room{}, chat.ErrRoomVersionConflict
	}

	if err := s.checkMembers(params.MemberIDs); err != nil {
		return chat.Room{}, err
	}

	record.room.Name = params.Name
	record.room.Description = params.Description
	record.room.Version++
	record.members = make(map[int64]struct{}, len(params.MemberIDs))
	for _, id := range params.MemberIDs {
		record.members[id] = struct{}{}
	}

	return s.roomWithMembers(record), nil
}

func (s *Store) IsMember(_ context.Context, userID, roomID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.rooms[roomID]
	if !ok {
		return false, nil
	}
	_, member := record.members[userID]

	return member, nil
}

func (s *Store) RoomsByUserID(_ context.Context, userID int64) ([]chat.RoomSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []*roomRecord
	for _, record := range s.rooms {
		if _, member := record.members[userID]; member {
			records = append(records, record)
		}
	}

	// newest first, insertion order breaks creation-time ties
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i].room, records[j].room
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})

	var summaries []chat.RoomSummary
	for _, record := range records {
		summaries = append(summaries, chat.RoomSummary{
			ID:          record.room.ID,
			Name:        record.room.Name,
			Description: record.room.Description,
			Members:     s.memberList(record),
		})
	}

	return summaries, nil
}

func (s *Store) MessagesByRoomID(_ context.Context, roomID int64) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[roomID]; !ok {
		return nil, chat.ErrRoomNotExist
	}

	var messages []chat.Message
	for _, m := range s.messages {
		if m.Room == roomID {
			messages = append(messages, m)
		}
	}

	// ascending creation time, insertion order breaks ties
	sort.SliceStable(messages, func(i, j int) bool {
		if !messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].CreatedAt.Before(messages[j].CreatedAt)
		}
		return messages[i].ID < messages[j].ID
	})

	return messages, nil
}

func (s *Store) CreateMessage(_ context.Context, roomID, authorID int64, text string) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[roomID]; !ok {
		return chat.Message{}, chat.ErrRoomNotExist
	}
	if _, ok := s.users[authorID]; !ok {
		return chat.Message{}, chat.ErrInvalidUser
	}

	s.nextMessageID++
	message := chat.Message{
		ID:        s.nextMessageID,
		Room:      roomID,
		Author:    authorID,
		Text:      text,
		CreatedAt: time.Now(),
	}
	s.messages = append(s.messages, message)

	return message, nil
}

func (s *Store) RefreshTokenByUserID(_ context.Context, userID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[userID]
	if !ok {
		return "", auth.ErrTokenNotExist
	}

	return token, nil
}

func (s *Store) StoreRefreshToken(_ context.Context, userID int64, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[userID] = token

	return nil
}

func (s *Store) checkMembers(memberIDs []int64) error {
	for _, id := range memberIDs {
		if _, ok := s.users[id]; !ok {
			return chat.ErrBadMembers
		}
	}

	return nil
}

func (s *Store) memberList(record *roomRecord) []chat.User {
	members := make([]chat.User, 0, len(record.members))
	for id := range record.members {
		members = append(members, s.users[id])
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })

	return members
}

func (s *Store) roomWithMembers(record *roomRecord) chat.Room {
	room := record.room
	room.Members = s.memberList(record)

	return room
}
