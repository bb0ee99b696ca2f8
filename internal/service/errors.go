package service

import (
	"errors"
	"fmt"

	"impostor-game/internal/repository"
)

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrNotYourTurn       = errors.New("not your turn")
	ErrAlreadyVoted      = errors.New("already voted this round")
	ErrStaleTransition   = errors.New("stale phase transition")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrWrongPhase        = errors.New("action not allowed in current phase")
	ErrNotAMember        = errors.New("not a member of this room")
	ErrInvalidVoteTarget = errors.New("invalid vote target")
	ErrNotHost           = errors.New("only the host can start the game")
	ErrNotEnoughPlayers  = errors.New("not enough players")
	ErrGameInProgress    = errors.New("a game is already in progress")
	ErrInvalidSettings   = errors.New("invalid game settings")
	ErrInvalidPlayer     = errors.New("invalid player identity")
	ErrUsernameTaken     = errors.New("username already taken in this room")
	ErrInvalidMessage    = errors.New("invalid message")
	ErrGameNotFound      = errors.New("game not found")
	ErrInvalidCursor     = errors.New("invalid cursor")
	ErrRoomBusy          = errors.New("room is busy, try again")
)

// mapRepoError 将仓库层的错误映射到服务层定义的错误。
// notFound 指定 ErrNotFound 在当前上下文中对应的业务错误。
func mapRepoError(err error, notFound error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return notFound
	case errors.Is(err, repository.ErrLockNotAcquired):
		return ErrRoomBusy
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}
