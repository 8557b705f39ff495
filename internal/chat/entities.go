package chat

import "time"

type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

type Room struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Version     int64     `json:"-"`
	Members     []User    `json:"members"`
	CreatedAt   time.Time `json:"created_at"`
}

// RoomSummary is a single entry of a user's room listing. Message is always an
// empty object: the most recent message is left for the caller to fetch.
type RoomSummary struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Message     struct{} `json:"message"`
	Members     []User   `json:"members"`
}

type Message struct {
	ID        int64     `json:"id"`
	Room      int64     `json:"roomId"`
	Author    int64     `json:"userId"`
	Text      string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// UpdateRoomParams describes a full room update: name/description change plus
// replacement of the entire membership set. ExpectedVersion is an optional
// optimistic-lock guard; when nil the replacement is unconditional
// (last writer wins).
type UpdateRoomParams struct {
	RoomID          int64
	Name            string
	Description     string
	MemberIDs       []int64
	ExpectedVersion *int64
}
