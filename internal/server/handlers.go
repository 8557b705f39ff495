package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"roomchat/internal/auth"
	"roomchat/internal/broker"
	"roomchat/internal/chat"
)

type parsers struct {
	createUserPool    fastjson.ParserPool
	createRoomPool    fastjson.ParserPool
	updateRoomPool    fastjson.ParserPool
	roomMessagesPool  fastjson.ParserPool
	createMessagePool fastjson.ParserPool
}

type handler struct {
	logger   *zap.SugaredLogger
	service  *chat.Service
	sessions *auth.Manager
	hub      *broker.Hub
	parsers  parsers
}

type errorResponse struct {
	Message string `json:"message"`
}

// writeError converts any failure to the uniform {"message": ...} shape.
func writeError(w http.ResponseWriter, status int, message string) {
	payload, _ := json.Marshal(errorResponse{Message: message})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

// clientErrors are surfaced to the caller verbatim with a client-error status.
var clientErrors = []error{
	chat.ErrInvalidUser,
	chat.ErrNotEnoughMembers,
	chat.ErrNotRoomMember,
	chat.ErrRoomNotExist,
	chat.ErrRoomRequired,
	chat.ErrMessageRequired,
	chat.ErrBadMembers,
	chat.ErrUserExists,
	chat.ErrRoomVersionConflict,
}

func (h *handler) writeDomainError(w http.ResponseWriter, err error) {
	for _, clientErr := range clientErrors {
		if errors.Is(err, clientErr) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	h.logger.Error(err)
	writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error(err)
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		h.logger.Errorf("writing marshaled data to ResponseWriter: %v", err)
	}
}

// createUser handles HTTP requests on "/users/add" endpoint. It registers the
// user and issues a session so the client is logged in right away.
func (h *handler) createUser(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.createUserPool.Get()
	defer h.parsers.createUserPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	if !v.Exists("username") {
		writeError(w, http.StatusBadRequest, `Missing Field "username"`)
		return
	}

	username := string(v.GetStringBytes("username"))
	if len(username) == 0 {
		writeError(w, http.StatusBadRequest, `Field "username" must be a string and have non-zero length`)
		return
	}

	user, err := h.service.CreateUser(r.Context(), username)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	accessToken, err := h.sessions.Login(r.Context(), user.ID)
	if err != nil {
		h.logger.Error(err)
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}
	setSessionCookie(w, accessToken)

	payload := []byte(`{"id":` + strconv.FormatInt(user.ID, 10) + `}`)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if _, err := w.Write(payload); err != nil {
		h.logger.Errorf("writing marshaled data to ResponseWriter: %v", err)
	}
}

// userRooms handles HTTP requests on "/rooms/get" endpoint
func (h *handler) userRooms(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	rooms, err := h.service.ListRooms(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	if rooms == nil {
		rooms = []chat.RoomSummary{}
	}

	h.writeJSON(w, http.StatusOK, rooms)
}

// createRoom handles HTTP requests on "/rooms/add" endpoint
func (h *handler) createRoom(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.createRoomPool.Get()
	defer h.parsers.createRoomPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	name, description, members, err := roomFields(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	room, err := h.service.CreateRoom(r.Context(), userID, name, description, members)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, room)
}

// updateRoom handles HTTP requests on "/rooms/update" endpoint
func (h *handler) updateRoom(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.updateRoomPool.Get()
	defer h.parsers.updateRoomPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	roomID := v.GetInt64("id")

	name, description, members, err := roomFields(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	room, err := h.service.UpdateRoom(r.Context(), userID, roomID, name, description, members)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, room)
}

// roomMessages handles HTTP requests on "/messages/get" endpoint
func (h *handler) roomMessages(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.roomMessagesPool.Get()
	defer h.parsers.roomMessagesPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	roomID := v.GetInt64("roomId")

	messages, err := h.service.ListMessages(r.Context(), roomID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	if messages == nil {
		messages = []chat.Message{}
	}

	h.writeJSON(w, http.StatusOK, messages)
}

// createMessage handles HTTP requests on "/messages/add" endpoint
func (h *handler) createMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.createMessagePool.Get()
	defer h.parsers.createMessagePool.Put(parser)
	v, _ := parser.ParseBytes(body)

	roomID := v.GetInt64("roomId")
	text := string(v.GetStringBytes("message"))

	message, err := h.service.PostMessage(r.Context(), userID, roomID, text)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, message)
}

// serveWS handles HTTP requests on "/ws" endpoint subscribing the connection
// to the global event stream
func (h *handler) serveWS(w http.ResponseWriter, r *http.Request) {
	broker.ServeWS(h.logger, h.hub, w, r)
}

// roomFields extracts the shared fields of room create/update payloads:
// optional name and description strings plus an optional member id array.
func roomFields(v *fastjson.Value) (name, description string, members []int64, err error) {
	if v == nil {
		return "", "", nil, nil
	}

	if v.Exists("name") {
		nameValue := v.Get("name")
		if nameValue.Type() != fastjson.TypeString {
			return "", "", nil, errors.New(`Field "name" must be a string`)
		}
		name = strings.Trim(string(nameValue.MarshalTo(nil)), `"`)
	}

	if v.Exists("description") {
		descriptionValue := v.Get("description")
		if descriptionValue.Type() != fastjson.TypeString {
			return "", "", nil, errors.New(`Field "description" must be a string`)
		}
		description = strings.Trim(string(descriptionValue.MarshalTo(nil)), `"`)
	}

	if v.Exists("members") {
		memberValues, arrErr := v.Get("members").Array()
		if arrErr != nil {
			return "", "", nil, errors.New(`Field "members" must be an array`)
		}

		members = make([]int64, 0, len(memberValues))
		for _, mv := range memberValues {
			memberID, idErr := mv.Int64()
			if idErr != nil {
				return "", "", nil, errors.New(`Each item in "members" array field must be a 64-bit integer value`)
			}
			members = append(members, memberID)
		}
	}

	return name, description, members, nil
}
