package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"

	"roomchat/internal/auth"
	"roomchat/internal/chat"
	"roomchat/internal/storage/zapadapter"
)

// Store implements chat.Store and auth.TokenStore on top of a Postgres pool.
type Store struct {
	logger *zap.SugaredLogger
	db     *pgxpool.Pool
}

// New connects a pgxpool.Pool with provided config and options, routing pgx
// query logs through the supplied zap logger.
func New(ctx context.Context, logger *zap.SugaredLogger, cfg Config, opts ...Option) (*Store, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}
	config.ConnConfig.Logger = zapadapter.NewLogger(logger.Desugar())

	for _, opt := range opts {
		opt.apply(config)
	}

	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	return &Store{
		logger: logger,
		db:     pool,
	}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.db.Close()
}

// CreateUser creates a user and returns it.
func (s *Store) CreateUser(ctx context.Context, username string) (chat.User, error) {
	s.logger.Debugf("Creating user (%s)", username)

	user := chat.User{Username: username}
	sql := "insert into users (username, created_at) values ($1, $2) returning id, created_at"
	err := s.db.QueryRow(ctx, sql, username, time.Now()).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return chat.User{}, chat.ErrUserExists
		}
		return chat.User{}, err
	}

	s.logger.Debugf("Created user (%s) with id %d", username, user.ID)

	return user, nil
}

// CreateRoom performs a two-step transaction (insert room record, bulk insert
// on room_members) and returns the room with its member list populated. Either
// both steps commit or neither does.
func (s *Store) CreateRoom(ctx context.Context, name, description string, memberIDs []int64) (chat.Room, error) {
	s.logger.Debugf("Creating room (%s) with members (%v)", name, memberIDs)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return chat.Room{}, err
	}
	// error handling can be omitted for rollback according docs
	// see https://pkg.go.dev/github.com/jackc/pgx/v4?tab=doc#hdr-Transactions or any source comment on Rollback
	defer tx.Rollback(context.Background())

	room := chat.Room{Name: name, Description: description}
	sql := "insert into rooms (name, description, created_at) values ($1, $2, $3) returning id, version, created_at"
	err = tx.QueryRow(ctx, sql, name, description, time.Now()).Scan(&room.ID, &room.Version, &room.CreatedAt)
	if err != nil {
		return chat.Room{}, err
	}

	if err := insertMembers(ctx, tx, room.ID, memberIDs); err != nil {
		return chat.Room{}, err
	}

	room.Members, err = membersByRoomID(ctx, tx, room.ID)
	if err != nil {
		return chat.Room{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return chat.Room{}, err
	}

	s.logger.Debugf("Created room (%s) with id %d", name, room.ID)

	return room, nil
}

// UpdateRoom updates room metadata and replaces the entire member set inside a
// single transaction. When params.ExpectedVersion is set the update only
// applies if the stored version still matches; unset, last writer wins.
func (s *Store) UpdateRoom(ctx context.Context, params chat.UpdateRoomParams) (chat.Room, error) {
	s.logger.Debugf("Updating room (id: %d), new members (%v)", params.RoomID, params.MemberIDs)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return chat.Room{}, err
	}
	defer tx.Rollback(context.Background())

	room := chat.Room{ID: params.RoomID, Name: params.Name, Description: params.Description}

	sql := `update rooms
			   set name = $2, description = $3, version = version + 1
			 where id = $1
			returning version, created_at`
	args := []interface{}{params.RoomID, params.Name, params.Description}
	if params.ExpectedVersion != nil {
		sql = `update rooms
				  set name = $2, description = $3, version = version + 1
				where id = $1 and version = $4
			   returning version, created_at`
		args = append(args, *params.ExpectedVersion)
	}

	err = tx.QueryRow(ctx, sql, args...).Scan(&room.Version, &room.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if params.ExpectedVersion == nil {
				return chat.Room{}, chat.ErrRoomNotExist
			}
			return chat.Room{}, classifyUpdateMiss(ctx, tx, params.RoomID)
		}
		return chat.Room{}, err
	}

	if _, err := tx.Exec(ctx, "delete from room_members where room_id = $1", params.RoomID); err != nil {
		return chat.Room{}, err
	}

	if err := insertMembers(ctx, tx, params.RoomID, params.MemberIDs); err != nil {
		return chat.Room{}, err
	}

	room.Members, err = membersByRoomID(ctx, tx, params.RoomID)
	if err != nil {
		return chat.Room{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return chat.Room{}, err
	}

	s.logger.Debugf("Updated room (id: %d)", room.ID)

	return room, nil
}

// classifyUpdateMiss tells a missing room apart from a version mismatch after a
// guarded update affected no rows.
func classifyUpdateMiss(ctx context.Context, tx pgx.Tx, roomID int64) error {
	var i int8
	err := tx.QueryRow(ctx, "select 1 from rooms where id = $1", roomID).Scan(&i)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return chat.ErrRoomNotExist
		}
		return err
	}

	return chat.ErrRoomVersionConflict
}

// IsMember reports whether the user currently belongs to the room.
func (s *Store) IsMember(ctx context.Context, userID, roomID int64) (bool, error) {
	var i int8
	sql := "select 1 from room_members where user_id = $1 and room_id = $2"
	err := s.db.QueryRow(ctx, sql, userID, roomID).Scan(&i)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}

	return true, nil
}

// RoomsByUserID returns all rooms the user belongs to, newest first, each with
// its full member list. Members for the whole listing are aggregated in the
// same query, there is no per-room lookup.
func (s *Store) RoomsByUserID(ctx context.Context, userID int64) ([]chat.RoomSummary, error) {
	s.logger.Debugf("Retrieving rooms for user (id: %d)", userID)

	type retrievedRoom struct {
		id          int64
		name        string
		description string
		members     pgtype.JSONBArray
	}

	sql := ` -- user rooms with aggregated member lists, newest room first
			with user_rooms as (
				select rooms.id,
					   rooms.name,
					   rooms.description,
					   rooms.created_at
				  from rooms
				  join room_members
					on room_members.room_id = rooms.id
				 where room_members.user_id = $1
			),

			members_per_room as (
				select room_members.room_id,
					   array_agg(jsonb_build_object('id', users.id, 'username', trim(users.username), 'created_at', users.created_at)) as members
				  from room_members
				  join users
					on room_members.user_id = users.id
				 where room_members.room_id in (select id from user_rooms)
				 group by room_members.room_id
			)

			select user_rooms.id,
				   trim(user_rooms.name),
				   user_rooms.description,
				   members_per_room.members
			  from user_rooms
			  join members_per_room
				on user_rooms.id = members_per_room.room_id
			 order by user_rooms.created_at desc, user_rooms.id desc`

	rows, err := s.db.Query(ctx, sql, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []chat.RoomSummary
	for rows.Next() {
		var r retrievedRoom
		if err := rows.Scan(&r.id, &r.name, &r.description, &r.members); err != nil {
			return nil, err
		}

		summary := chat.RoomSummary{
			ID:          r.id,
			Name:        r.name,
			Description: r.description,
			Members:     make([]chat.User, len(r.members.Elements)),
		}

		membersJSON := make([]string, len(r.members.Elements))
		if err := r.members.AssignTo(&membersJSON); err != nil {
			return nil, err
		}

		for i, v := range membersJSON {
			if err := json.Unmarshal([]byte(v), &summary.Members[i]); err != nil {
				return nil, err
			}
		}

		summaries = append(summaries, summary)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	s.logger.Debugf("Retrieved %d rooms", len(summaries))

	return summaries, nil
}

// MessagesByRoomID returns all room messages sorted by creation time from
// earliest to latest, ties broken by insertion order.
func (s *Store) MessagesByRoomID(ctx context.Context, roomID int64) ([]chat.Message, error) {
	s.logger.Debugf("Retrieving messages for room (id: %d)", roomID)

	// check if room exists
	var i int8
	err := s.db.QueryRow(ctx, "select 1 from rooms where id = $1", roomID).Scan(&i)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, chat.ErrRoomNotExist
		}
		return nil, err
	}

	sql := `select messages.id,
				   messages.room_id,
				   messages.user_id,
				   messages.text,
				   messages.created_at
			  from messages
			 where room_id = $1
			 order by created_at asc, id asc`

	rows, err := s.db.Query(ctx, sql, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []chat.Message
	for rows.Next() {
		var m chat.Message
		if err := rows.Scan(&m.ID, &m.Room, &m.Author, &m.Text, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	s.logger.Debugf("Retrieved %d messages", len(messages))

	return messages, nil
}

// CreateMessage creates a new message and returns it.
func (s *Store) CreateMessage(ctx context.Context, roomID, authorID int64, text string) (chat.Message, error) {
	s.logger.Debugf("Creating message from user (id: %d) in room (id: %d)", authorID, roomID)

	message := chat.Message{Room: roomID, Author: authorID, Text: text}
	sql := "insert into messages (room_id, user_id, text, created_at) values ($1, $2, $3, $4) returning id, created_at"
	err := s.db.QueryRow(ctx, sql, roomID, authorID, text, time.Now()).Scan(&message.ID, &message.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			switch pgErr.ConstraintName {
			case "messages_room_id_fkey":
				return chat.Message{}, chat.ErrRoomNotExist
			case "messages_user_id_fkey":
				return chat.Message{}, chat.ErrInvalidUser
			}
		}
		return chat.Message{}, err
	}

	return message, nil
}

// RefreshTokenByUserID returns the stored refresh token for the user.
func (s *Store) RefreshTokenByUserID(ctx context.Context, userID int64) (string, error) {
	var token string
	sql := "select token from refresh_tokens where user_id = $1"
	err := s.db.QueryRow(ctx, sql, userID).Scan(&token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", auth.ErrTokenNotExist
		}
		return "", err
	}

	return token, nil
}

// StoreRefreshToken persists the refresh token for the user, replacing any
// prior one. One active refresh token per user at a time.
func (s *Store) StoreRefreshToken(ctx context.Context, userID int64, token string) error {
	sql := `insert into refresh_tokens (user_id, token, created_at)
			values ($1, $2, $3)
			on conflict (user_id) do update
			set token = excluded.token, created_at = excluded.created_at`
	_, err := s.db.Exec(ctx, sql, userID, token, time.Now())

	return err
}

// insertMembers bulk inserts the member set of a room within tx.
func insertMembers(ctx context.Context, tx pgx.Tx, roomID int64, memberIDs []int64) error {
	rows := make([]memberRow, 0, len(memberIDs))
	for _, userID := range memberIDs {
		rows = append(rows, memberRow{roomID: roomID, userID: userID})
	}

	_, err := tx.CopyFrom(ctx, pgx.Identifier{"room_members"}, []string{"room_id", "user_id"}, copyFromMembers(rows))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return chat.ErrBadMembers
		}
		return err
	}

	return nil
}

// membersByRoomID retrieves the current member list of a room within tx.
func membersByRoomID(ctx context.Context, tx pgx.Tx, roomID int64) ([]chat.User, error) {
	sql := `select users.id, trim(users.username), users.created_at
			  from room_members
			  join users
				on room_members.user_id = users.id
			 where room_members.room_id = $1
			 order by users.id asc`

	rows, err := tx.Query(ctx, sql, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []chat.User
	for rows.Next() {
		var u chat.User
		if err := rows.Scan(&u.ID, &u.Username, &u.CreatedAt); err != nil {
			return nil, err
		}
		members = append(members, u)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return members, nil
}
