package hub

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"impostor-game/internal/domain"
	"impostor-game/internal/service"
)

// 入站消息类型
const (
	MsgLeaveRoom    = "LeaveRoom"
	MsgStartGame    = "StartGame"
	MsgSendClue     = "SendClue"
	MsgSendVote     = "SendVote"
	MsgSendMessage  = "SendMessage"
	MsgForceAdvance = "ForceAdvance"
	MsgGetState     = "GetState"
)

const actionTimeout = 10 * time.Second

// inbound 是入站消息的外层结构
type inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type startGamePayload struct {
	MaxRounds      int `json:"maxRounds"`
	SecondsPerTurn int `json:"secondsPerTurn"`
}

type cluePayload struct {
	Clue string `json:"clue"`
}

type votePayload struct {
	Target string `json:"target"`
}

type messagePayload struct {
	Content string `json:"content"`
}

type forceAdvancePayload struct {
	Phase string `json:"phase"`
	Round int    `json:"round"`
	Turn  string `json:"turn"`
}

// ErrorPayload 是 Error 事件的内容，Code 是稳定的机器可读错误码
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var (
	errBadRequest  = errors.New("malformed message")
	errUnknownType = errors.New("unknown message type")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{service.ErrRoomNotFound, "room_not_found"},
	{service.ErrNotYourTurn, "not_your_turn"},
	{service.ErrAlreadyVoted, "already_voted"},
	{service.ErrWrongPhase, "wrong_phase"},
	{service.ErrNotAMember, "not_a_member"},
	{service.ErrInvalidVoteTarget, "invalid_vote_target"},
	{service.ErrNotHost, "not_host"},
	{service.ErrNotEnoughPlayers, "not_enough_players"},
	{service.ErrGameInProgress, "game_in_progress"},
	{service.ErrInvalidSettings, "invalid_settings"},
	{service.ErrInvalidPlayer, "invalid_player"},
	{service.ErrUsernameTaken, "username_taken"},
	{service.ErrInvalidMessage, "invalid_message"},
	{service.ErrRoomBusy, "room_busy"},
	{service.ErrStoreUnavailable, "store_unavailable"},
	{errBadRequest, "bad_request"},
	{errUnknownType, "unknown_type"},
}

// ErrorCode 返回错误对应的错误码
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "internal"
}

// handleClientMessage 解析并执行一条入站消息。过期的强制推进请求被静默忽略，其余错误只回给发送者。
func (h *Hub) handleClientMessage(c *Client, raw []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.logCtx().WithError(err).Warn("Failed to unmarshal client message")
		h.sendError(c, errBadRequest)
		return
	}
	logCtx := c.logCtx().WithField("type", msg.Type)
	logCtx.Debugf("Processing client message (size: %d)", len(raw))

	err := h.dispatch(ctx, c, msg)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrStaleTransition):
		logCtx.Debug("Stale force-advance ignored")
	default:
		logCtx.WithError(err).Warn("Client message rejected")
		h.sendError(c, err)
	}
}

func (h *Hub) dispatch(ctx context.Context, c *Client, msg inbound) error {
	switch msg.Type {
	case MsgLeaveRoom:
		return h.presence.Leave(ctx, c.userID, c.connID)

	case MsgStartGame:
		var p startGamePayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return err
		}
		return h.game.StartGame(ctx, c.roomID, c.userID, p.MaxRounds, p.SecondsPerTurn)

	case MsgSendClue:
		var p cluePayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return err
		}
		return h.game.SubmitClue(ctx, c.roomID, c.username, p.Clue)

	case MsgSendVote:
		var p votePayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return err
		}
		return h.game.SubmitVote(ctx, c.roomID, c.username, p.Target)

	case MsgSendMessage:
		var p messagePayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return err
		}
		return h.game.SendMessage(ctx, c.roomID, c.username, p.Content)

	case MsgForceAdvance:
		var p forceAdvancePayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return err
		}
		phase, err := domain.ParsePhase(p.Phase)
		if err != nil {
			return errBadRequest
		}
		return h.game.ForceAdvance(ctx, c.roomID, domain.PhaseToken{Phase: phase, Round: p.Round, Turn: p.Turn})

	case MsgGetState:
		state, err := h.game.GetState(ctx, c.roomID)
		if err != nil {
			return err
		}
		h.sendEnvelope(c, Envelope{Type: service.EventGameState, RoomID: c.roomID, Payload: state})
		return nil
	}
	return errUnknownType
}

func decodePayload(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errBadRequest
	}
	return nil
}

func (h *Hub) sendError(c *Client, err error) {
	code := ErrorCode(err)
	message := err.Error()
	if code == "store_unavailable" || code == "internal" {
		// 不把存储层细节透出给客户端
		message = "temporarily unavailable, try again"
	}
	h.sendEnvelope(c, Envelope{
		Type:    service.EventError,
		RoomID:  c.roomID,
		Payload: ErrorPayload{Code: code, Message: message},
	})
}

func (h *Hub) sendEnvelope(c *Client, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		logrus.WithError(err).WithField("type", env.Type).Error("Failed to marshal envelope")
		return
	}
	h.sendDirect(c, data)
}
