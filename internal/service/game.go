package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"impostor-game/internal/domain"
	"impostor-game/internal/repository"
)

// GameConfig 状态机使用的固定时长
type GameConfig struct {
	VotingDuration     time.Duration
	VoteResultDuration time.Duration
	// ForceAdvanceTolerance 允许客户端比服务端结束时间略早请求强制推进
	ForceAdvanceTolerance time.Duration
	// StalePhaseGrace 阶段结束后超过该时间仍未推进的房间由后台任务推进
	StalePhaseGrace time.Duration
	LockWait        time.Duration
}

// DefaultGameConfig 返回默认配置
func DefaultGameConfig() GameConfig {
	return GameConfig{
		VotingDuration:        30 * time.Second,
		VoteResultDuration:    5 * time.Second,
		ForceAdvanceTolerance: 2 * time.Second,
		StalePhaseGrace:       30 * time.Second,
		LockWait:              2 * time.Second,
	}
}

// FlushRetrier 在结束阶段写入历史失败时安排重试。
type FlushRetrier interface {
	EnqueueFlush(ctx context.Context, roomID string) error
}

// GameService 驱动房间状态机：开局、线索、投票、强制推进和结束时的历史写入。
// 同一房间的状态推进通过 RoomLocker 串行化，服务本身不持有房间状态。
type GameService struct {
	rooms       repository.RoomStateRepository
	presence    repository.PresenceRepository
	history     repository.HistoryRepository
	words       repository.WordRepository
	locker      repository.RoomLocker
	broadcaster Broadcaster
	retrier     FlushRetrier
	cfg         GameConfig

	now   func() time.Time
	mu    sync.Mutex
	intn  func(n int) int
	newID func() string
}

// NewGameService 创建 GameService 实例。
func NewGameService(rooms repository.RoomStateRepository, presence repository.PresenceRepository,
	history repository.HistoryRepository, words repository.WordRepository, locker repository.RoomLocker,
	broadcaster Broadcaster, cfg GameConfig) *GameService {
	if rooms == nil || presence == nil || history == nil || words == nil || locker == nil || broadcaster == nil {
		panic("GameService dependencies cannot be nil")
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &GameService{
		rooms:       rooms,
		presence:    presence,
		history:     history,
		words:       words,
		locker:      locker,
		broadcaster: broadcaster,
		cfg:         cfg,
		now:         time.Now,
		intn:        rng.Intn,
		newID:       uuid.NewString,
	}
}

// SetFlushRetrier 设置历史写入失败时的重试入口，可为 nil。
func (s *GameService) SetFlushRetrier(r FlushRetrier) { s.retrier = r }

// WithClock 替换时钟，测试用。
func (s *GameService) WithClock(now func() time.Time) *GameService {
	s.now = now
	return s
}

// WithRandom 替换抽取内鬼、首位玩家和秘密词使用的随机源，测试用。
func (s *GameService) WithRandom(intn func(n int) int) *GameService {
	s.intn = intn
	return s
}

// WithIDGenerator 替换游戏 ID 生成器，测试用。
func (s *GameService) WithIDGenerator(newID func() string) *GameService {
	s.newID = newID
	return s
}

func (s *GameService) randomIndex(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intn(n)
}

func (s *GameService) lockRoom(ctx context.Context, roomID string) (func(), error) {
	unlock, err := s.locker.Lock(ctx, roomID, s.cfg.LockWait)
	if err != nil {
		return nil, mapRepoError(err, ErrRoomNotFound)
	}
	return unlock, nil
}

// currentPhase 读取阶段。房间不存在返回 ErrRoomNotFound，房间存在但未开局返回 ErrWrongPhase。
func (s *GameService) currentPhase(ctx context.Context, roomID string) (*domain.PhaseState, error) {
	ps, err := s.rooms.GetPhase(ctx, roomID)
	if err == nil {
		return ps, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, mapRepoError(err, ErrRoomNotFound)
	}
	exists, err := s.rooms.RoomExists(ctx, roomID)
	if err != nil {
		return nil, mapRepoError(err, ErrRoomNotFound)
	}
	if !exists {
		return nil, ErrRoomNotFound
	}
	return nil, ErrWrongPhase
}

// StartGame 由房主开局：抽取秘密词、内鬼和首位发言玩家，进入 ShowSecret。
func (s *GameService) StartGame(ctx context.Context, roomID, userID string, maxRounds, secondsPerTurn int) error {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID})
	if maxRounds < 1 || maxRounds > domain.MaxRoundsLimit || secondsPerTurn < 1 || secondsPerTurn > domain.MaxSecondsPerTurn {
		logCtx.Warnf("StartGame rejected: invalid settings rounds=%d seconds=%d", maxRounds, secondsPerTurn)
		return ErrInvalidSettings
	}

	unlock, err := s.lockRoom(ctx, roomID)
	if err != nil {
		return err
	}
	defer unlock()

	// 1. 校验
	ps, err := s.currentPhase(ctx, roomID)
	switch {
	case err == nil && !ps.Phase.IsTerminal():
		return ErrGameInProgress
	case err == nil:
		// 上一局的历史还在等待写入，开新局会覆盖缓冲
		logCtx.Warn("StartGame rejected: previous game history not flushed yet")
		return ErrGameInProgress
	case !errors.Is(err, ErrWrongPhase):
		return err
	}

	players, err := s.presence.GetPlayers(ctx, roomID)
	if err != nil {
		return mapRepoError(err, ErrRoomNotFound)
	}
	idx := domain.FindPlayer(players, userID)
	if idx < 0 {
		return ErrNotAMember
	}
	if !players[idx].IsHost {
		logCtx.Warn("StartGame rejected: not host")
		return ErrNotHost
	}
	if len(players) < domain.MinPlayers {
		return ErrNotEnoughPlayers
	}

	// 2. 抽取
	roster := domain.Usernames(players)
	settings := domain.GameSettings{
		GameID:       s.newID(),
		MaxRounds:    maxRounds,
		PerTurn:      time.Duration(secondsPerTurn) * time.Second,
		FirstPlayer:  roster[s.randomIndex(len(roster))],
		ImpostorName: roster[s.randomIndex(len(roster))],
		SecretWord:   s.pickSecretWord(ctx),
		StartedAt:    s.now().UTC(),
	}
	logCtx = logCtx.WithField("game_id", settings.GameID)

	// 3. 写入
	if err := s.rooms.SetMembers(ctx, roomID, roster); err != nil {
		return mapRepoError(err, ErrRoomNotFound)
	}
	if err := s.rooms.SetStartingSettings(ctx, roomID, settings); err != nil {
		return mapRepoError(err, ErrRoomNotFound)
	}
	if err := s.rooms.SetCurrentTurnPlayer(ctx, roomID, settings.FirstPlayer); err != nil {
		return mapRepoError(err, ErrRoomNotFound)
	}
	phase, err := s.rooms.SetPhase(ctx, roomID, domain.PhaseShowSecret, settings.PerTurn)
	if err != nil {
		return mapRepoError(err, ErrRoomNotFound)
	}
	logCtx.WithField("players", len(roster)).Info("Game started")

	// 4. 推送
	s.broadcast(ctx, roomID, EventGameStarted, domain.GameStarted{
		RoomID:            roomID,
		GameID:            settings.GameID,
		CurrentRound:      1,
		CurrentTurnPlayer: settings.FirstPlayer,
		SecretWord:        settings.SecretWord,
		Impostor:          settings.ImpostorName,
		State:             domain.PhaseShowSecret,
		MaxRounds:         settings.MaxRounds,
		SecondsPerTurn:    secondsPerTurn,
		Players:           roster,
	})
	return s.broadcastState(ctx, roomID, phase)
}

func (s *GameService) pickSecretWord(ctx context.Context) string {
	word, err := s.words.RandomWord(ctx)
	if err == nil && word != "" {
		return word
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		logrus.WithError(err).Warn("Failed to load secret word, using built-in list")
	}
	return domain.DefaultSecretWords[s.randomIndex(len(domain.DefaultSecretWords))]
}

// GetState 返回房间当前阶段的状态。
func (s *GameService) GetState(ctx context.Context, roomID string) (*domain.GameState, error) {
	ps, err := s.currentPhase(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return s.buildState(ctx, roomID, ps)
}

// SubmitClue 当前发言玩家提交线索，轮到下一位或进入投票。
func (s *GameService) SubmitClue(ctx context.Context, roomID, username, clue string) error {
	clue = strings.TrimSpace(clue)
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "username": username})

	unlock, err := s.lockRoom(ctx, roomID)
	if err != nil {
		return err
	}
	defer unlock()

	ps, err := s.currentPhase(ctx, roomID)
	if err != nil {
		return err
	}
	if ps.Phase != domain.PhaseInProgress {
		logCtx.WithField("phase", ps.Phase).Warn("SubmitClue rejected: wrong phase")
		return ErrWrongPhase
	}
	members, err := s.rooms.GetMembers(ctx, roomID)
	if err != nil {
		return mapRepoError(err, ErrRoomNotFound)
	}
	if !domain.Contains(members, username) {
		return ErrNotAMember
	}
	turn, err := s.rooms.GetCurrentTurnPlayer(ctx, roomID)
	if err != nil {
		return mapRepoError(err, ErrWrongPhase)
	}
	if turn != username {
		logCtx.WithField("turn", turn).Warn("SubmitClue rejected: not your turn")
		return ErrNotYourTurn
	}
	return s.advanceTurn(ctx, roomID, members, turn, clue)
}

// advanceTurn 记录线索 (超时时为空) 并把发言权交给下一位，转满一圈进入投票。
func (s *GameService) advanceTurn(ctx context.Context, roomID string, members []string, current, clue string) error {
	round, err := s.rooms.GetRoundNumber(ctx, roomID)
	if err != nil {
		return mapRepoError(err, ErrWrongPhase)
	}
	anchor, err := s.rooms.GetFirstPlayer(ctx, roomID)
	if err != nil {
		return mapRepoError(err, ErrWrongPhase)
	}
	perTurn, err := s.rooms.GetPerTurnSeconds(ctx, roomID)
	if err != nil {
		return mapRepoError(err, ErrWrongPhase)
	}

	event := domain.GameHistoryEvent{
		Type:      domain.EventClue,
		Username:  current,
		Content:   clue,
		Round:     round,
		Timestamp: s.now().UTC(),
	}

	// 线索、下一位发言人和新阶段一起写入
	next, lapComplete := domain.NextTurn(domain.SortedRoster(members), current, anchor)
	nextPhase, duration, nextTurn := domain.PhaseInProgress, time.Duration(perTurn)*time.Second, next
	if lapComplete {
		nextPhase, duration, nextTurn = domain.PhaseVoting, s.cfg.VotingDuration, ""
	}
	phase, err := s.rooms.RecordClue(ctx, roomID, event, nextTurn, nextPhase, duration)
	if err != nil {
		return mapRepoError(err, ErrRoomNotFound)
	}
	s.broadcast(ctx, roomID, EventReceiveClue, ClueBroadcast{Username: current, Clue: clue, Round: round})
	logrus.WithFields(logrus.Fields{"room_id": roomID, "round": round, "phase": phase.Phase, "next": next}).Debug("Turn advanced")
	return s.broadcastState(ctx, roomID, phase)
}

// SubmitVote 记录一票 (可以是 "skip")。所有玩家都投票后立即结算。
func (s *GameService) SubmitVote(ctx context.Context, roomID, username, target string) error {
	target = strings.TrimSpace(target)
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "username": username})

	unlock, err := s.lockRoom(ctx, roomID)
	if err != nil {
		return err
	}
	defer unlock()

	ps, err := s.currentPhase(ctx, roomID)
	if err != nil {
		return err
	}
	if ps.Phase != domain.PhaseVoting {
		logCtx.WithField("phase", ps.Phase).Warn("SubmitVote rejected: wrong phase")
		return ErrWrongPhase
	}
	members, err := s.rooms.GetMembers(ctx, roomID)
	if err != nil {
		return mapRepoError(err, ErrRoomNotFound)
	}
	if !domain.Contains(members, username) {
		return ErrNotAMember
	}
	if target == "" {
		target = domain.SkipVote
	}
	if target != domain.SkipVote && !domain.Contains(members, target) {
		return ErrInvalidVoteTarget
	}
	round, err := s.rooms.GetRoundNumber(ctx, roomID)
	if err != nil {
		return mapRepoError(err, ErrWrongPhase)
	}

	event := domain.GameHistoryEvent{
		Type:      domain.EventVote,
		Username:  username,
		Voter:     username,
		Target:    target,
		Round:     round,
		Timestamp: s.now().UTC(),
	}
	// 选票和投票事件一起写入，重复投票两者都不写
	recorded, err := s.rooms.RecordVote(ctx, roomID, round, username, target, event)
	if err != nil {
		return mapRepoError(err, ErrRoomNotFound)
	}
	if !recorded {
		logCtx.Warn("SubmitVote rejected: already voted")
		return ErrAlreadyVoted
	}

	votes, err := s.rooms.GetVotes(ctx, roomID, round)
	if err != nil {
		return mapRepoError(err, ErrRoomNotFound)
	}
	s.broadcast(ctx, roomID, EventUserVoted, VoteBroadcast{Username: username, Round: round, VotesCast: len(votes)})

	if len(votes) >= len(members) {
		return s.concludeVoting(ctx, roomID, members, round, votes)
	}
	return nil
}

// concludeVoting 结算投票，清除本回合选票并进入 VoteResult。
func (s *GameService) concludeVoting(ctx context.Context, roomID string, members []string, round int, votes map[string]string) error {
	ejected := domain.TallyVotes(votes, len(members))
	if err := s.rooms.SetEjectedPlayer(ctx, roomID, ejected); err != nil {
		return mapRepoError(err, ErrRoomNotFound)
	}
	if err := s.rooms.ClearVotes(ctx, roomID, round); err != nil {
		return mapRepoError(err, ErrRoomNotFound)
	}
	phase, err := s.rooms.SetPhase(ctx, roomID, domain.PhaseVoteResult, s.cfg.VoteResultDuration)
	if err != nil {
		return mapRepoError(err, ErrRoomNotFound)
	}
	logrus.WithFields(logrus.Fields{"room_id": roomID, "round": round, "ejected": ejected, "votes": len(votes)}).Info("Voting concluded")
	return s.broadcastState(ctx, roomID, phase)
}

// SendMessage 广播聊天消息；游戏进行中时同时记入历史。
func (s *GameService) SendMessage(ctx context.Context, roomID, username, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrInvalidMessage
	}

	unlock, err := s.lockRoom(ctx, roomID)
	if err != nil {
		return err
	}
	defer unlock()

	exists, err := s.rooms.RoomExists(ctx, roomID)
	if err != nil {
		return mapRepoError(err, ErrRoomNotFound)
	}
	if !exists {
		return ErrRoomNotFound
	}
	players, err := s.presence.GetPlayers(ctx, roomID)
	if err != nil {
		return mapRepoError(err, ErrRoomNotFound)
	}
	member := false
	for _, p := range players {
		if p.Username == username {
			member = true
			break
		}
	}
	if !member {
		return ErrNotAMember
	}

	msg := domain.Message{Username: username, Content: content, Timestamp: s.now().UTC()}
	ps, err := s.rooms.GetPhase(ctx, roomID)
	switch {
	case err == nil && !ps.Phase.IsTerminal():
		round, err := s.rooms.GetRoundNumber(ctx, roomID)
		if err != nil {
			return mapRepoError(err, ErrWrongPhase)
		}
		event := domain.GameHistoryEvent{
			Type:      domain.EventMessage,
			Username:  username,
			Content:   content,
			Round:     round,
			Timestamp: msg.Timestamp,
		}
		if err := s.rooms.AppendHistoryEvent(ctx, roomID, event); err != nil {
			return mapRepoError(err, ErrRoomNotFound)
		}
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return mapRepoError(err, ErrRoomNotFound)
	}

	s.broadcast(ctx, roomID, EventReceiveMessage, msg)
	return nil
}

// ForceAdvance 在阶段计时结束后推进状态机。
// token 与当前 (阶段, 回合, 发言玩家) 不一致时返回 ErrStaleTransition 且不做任何修改，
// 所以同一个 token 重复提交最多推进一次。计时未到 (超出容差) 同样视为过期请求。
func (s *GameService) ForceAdvance(ctx context.Context, roomID string, token domain.PhaseToken) error {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "phase": token.Phase, "round": token.Round})

	unlock, err := s.lockRoom(ctx, roomID)
	if err != nil {
		return err
	}
	defer unlock()

	ps, err := s.currentPhase(ctx, roomID)
	if errors.Is(err, ErrWrongPhase) {
		return ErrStaleTransition
	}
	if err != nil {
		return err
	}
	round, err := s.rooms.GetRoundNumber(ctx, roomID)
	if err != nil {
		return mapRepoError(err, ErrWrongPhase)
	}
	if ps.Phase != token.Phase || round != token.Round || ps.Phase.IsTerminal() {
		logCtx.WithField("current_phase", ps.Phase).Debug("ForceAdvance ignored: stale token")
		return ErrStaleTransition
	}

	var turn string
	if ps.Phase == domain.PhaseInProgress {
		if turn, err = s.rooms.GetCurrentTurnPlayer(ctx, roomID); err != nil {
			return mapRepoError(err, ErrWrongPhase)
		}
		if token.Turn != "" && token.Turn != turn {
			logCtx.WithField("turn", turn).Debug("ForceAdvance ignored: turn already passed")
			return ErrStaleTransition
		}
	}

	// 容差不超过阶段时长的一半
	tolerance := s.cfg.ForceAdvanceTolerance
	if half := ps.Duration / 2; tolerance > half {
		tolerance = half
	}
	if !ps.Elapsed(s.now(), tolerance) {
		logCtx.Debugf("ForceAdvance ignored: phase ends at %s", ps.EndsAt().Format(time.RFC3339Nano))
		return ErrStaleTransition
	}

	logCtx.Info("Force advancing phase")
	return s.advanceElapsed(ctx, roomID, ps, round, turn)
}

// advanceElapsed 执行计时结束时的转换，调用方持有房间锁。
func (s *GameService) advanceElapsed(ctx context.Context, roomID string, ps *domain.PhaseState, round int, turn string) error {
	switch ps.Phase {
	case domain.PhaseShowSecret:
		perTurn, err := s.rooms.GetPerTurnSeconds(ctx, roomID)
		if err != nil {
			return mapRepoError(err, ErrWrongPhase)
		}
		phase, err := s.rooms.SetPhase(ctx, roomID, domain.PhaseInProgress, time.Duration(perTurn)*time.Second)
		if err != nil {
			return mapRepoError(err, ErrRoomNotFound)
		}
		return s.broadcastState(ctx, roomID, phase)

	case domain.PhaseInProgress:
		members, err := s.rooms.GetMembers(ctx, roomID)
		if err != nil {
			return mapRepoError(err, ErrRoomNotFound)
		}
		// 超时按空线索处理
		return s.advanceTurn(ctx, roomID, members, turn, "")

	case domain.PhaseVoting:
		members, err := s.rooms.GetMembers(ctx, roomID)
		if err != nil {
			return mapRepoError(err, ErrRoomNotFound)
		}
		votes, err := s.rooms.GetVotes(ctx, roomID, round)
		if err != nil {
			return mapRepoError(err, ErrRoomNotFound)
		}
		return s.concludeVoting(ctx, roomID, members, round, votes)

	case domain.PhaseVoteResult:
		return s.resolveRound(ctx, roomID, round)
	}
	return ErrStaleTransition
}

// resolveRound 在 VoteResult 结束时决定结束游戏还是进入下一回合。
func (s *GameService) resolveRound(ctx context.Context, roomID string, round int) error {
	ejected, err := s.rooms.GetEjectedPlayer(ctx, roomID)
	if err != nil {
		return mapRepoError(err, ErrRoomNotFound)
	}
	maxRounds, err := s.rooms.GetMaxRounds(ctx, roomID)
	if err != nil {
		return mapRepoError(err, ErrWrongPhase)
	}
	if !domain.IsSkip(ejected) || round >= maxRounds {
		if _, err := s.rooms.SetPhase(ctx, roomID, domain.PhaseGameFinished, 0); err != nil {
			return mapRepoError(err, ErrRoomNotFound)
		}
		return s.flushAndClose(ctx, roomID)
	}

	anchor, err := s.rooms.GetFirstPlayer(ctx, roomID)
	if err != nil {
		return mapRepoError(err, ErrWrongPhase)
	}
	perTurn, err := s.rooms.GetPerTurnSeconds(ctx, roomID)
	if err != nil {
		return mapRepoError(err, ErrWrongPhase)
	}
	next, err := s.rooms.IncrementRound(ctx, roomID)
	if err != nil {
		return mapRepoError(err, ErrRoomNotFound)
	}
	if err := s.rooms.SetEjectedPlayer(ctx, roomID, ""); err != nil {
		return mapRepoError(err, ErrRoomNotFound)
	}
	if err := s.rooms.SetCurrentTurnPlayer(ctx, roomID, anchor); err != nil {
		return mapRepoError(err, ErrRoomNotFound)
	}
	phase, err := s.rooms.SetPhase(ctx, roomID, domain.PhaseInProgress, time.Duration(perTurn)*time.Second)
	if err != nil {
		return mapRepoError(err, ErrRoomNotFound)
	}
	logrus.WithFields(logrus.Fields{"room_id": roomID, "round": next}).Info("Next round started")
	return s.broadcastState(ctx, roomID, phase)
}

// FinishGame 重试结束阶段的历史写入。房间已不存在视为此前已完成。
func (s *GameService) FinishGame(ctx context.Context, roomID string) error {
	unlock, err := s.lockRoom(ctx, roomID)
	if err != nil {
		return err
	}
	defer unlock()

	ps, err := s.currentPhase(ctx, roomID)
	if errors.Is(err, ErrRoomNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if ps.Phase != domain.PhaseGameFinished {
		return ErrWrongPhase
	}
	return s.flushAndClose(ctx, roomID)
}

// flushAndClose 把缓冲的历史写入持久层，成功后删除房间的全部实时数据。
// 写入失败时保留实时数据并安排重试，下一次从同一份缓冲恢复。
func (s *GameService) flushAndClose(ctx context.Context, roomID string) error {
	settings, err := s.rooms.GetSettings(ctx, roomID)
	if err != nil {
		return mapRepoError(err, ErrWrongPhase)
	}
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "game_id": settings.GameID})

	members, err := s.rooms.GetMembers(ctx, roomID)
	if err != nil {
		return mapRepoError(err, ErrRoomNotFound)
	}
	ejected, err := s.rooms.GetEjectedPlayer(ctx, roomID)
	if err != nil {
		return mapRepoError(err, ErrRoomNotFound)
	}
	events, err := s.rooms.GetHistory(ctx, roomID)
	if err != nil {
		return mapRepoError(err, ErrRoomNotFound)
	}
	if domain.IsSkip(ejected) {
		ejected = domain.SkipVote
	}

	impostorWon, results := domain.ScoreGame(members, settings.ImpostorName, ejected)
	game := &domain.FinishedGame{
		Record: domain.GameRecord{
			ID:      settings.GameID,
			RoomID:  roomID,
			Players: members,
			EndedAt: s.now().UTC(),
		},
		Events:  events,
		Results: results,
	}

	if err := s.history.SaveGame(ctx, game); err != nil {
		logCtx.WithError(err).Error("Failed to flush game history, keeping live room state")
		if s.retrier != nil {
			if qErr := s.retrier.EnqueueFlush(ctx, roomID); qErr != nil {
				logCtx.WithError(qErr).Error("Failed to enqueue history flush retry")
			}
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	seq, err := s.rooms.NextStateSequence(ctx, roomID)
	if err != nil {
		return mapRepoError(err, ErrRoomNotFound)
	}
	if err := s.rooms.Delete(ctx, roomID); err != nil {
		return mapRepoError(err, ErrRoomNotFound)
	}
	logCtx.WithFields(logrus.Fields{"impostor_won": impostorWon, "events": len(events)}).Info("Game finished and room closed")

	s.broadcast(ctx, roomID, EventGameState, &domain.GameState{
		RoomID:   roomID,
		Sequence: seq,
		EndsAt:   game.Record.EndedAt,
		Payload: domain.GameFinishedPayload{
			GameID:      settings.GameID,
			Impostor:    settings.ImpostorName,
			Ejected:     ejected,
			ImpostorWon: impostorWon,
		},
	})
	return nil
}

// SweepRoom 推进阶段结束超过 StalePhaseGrace 仍未推进的房间 (所有客户端都没有请求强制推进)，
// 并重试停留在 GameFinished 的房间的历史写入。返回是否发生了推进。
func (s *GameService) SweepRoom(ctx context.Context, roomID string) (bool, error) {
	ps, err := s.rooms.GetPhase(ctx, roomID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, mapRepoError(err, ErrRoomNotFound)
	}
	if ps.Phase.IsTerminal() {
		if err := s.FinishGame(ctx, roomID); err != nil {
			return false, err
		}
		return true, nil
	}
	if s.now().Before(ps.EndsAt().Add(s.cfg.StalePhaseGrace)) {
		return false, nil
	}
	round, err := s.rooms.GetRoundNumber(ctx, roomID)
	if err != nil {
		return false, mapRepoError(err, ErrWrongPhase)
	}

	err = s.ForceAdvance(ctx, roomID, domain.PhaseToken{Phase: ps.Phase, Round: round})
	switch {
	case errors.Is(err, ErrStaleTransition):
		return false, nil
	case err != nil:
		return false, err
	}
	logrus.WithFields(logrus.Fields{"room_id": roomID, "phase": ps.Phase}).Info("Stale phase swept")
	return true, nil
}

// buildState 根据阶段组装 GameState，并分配新的序号。
func (s *GameService) buildState(ctx context.Context, roomID string, ps *domain.PhaseState) (*domain.GameState, error) {
	var payload domain.PhasePayload
	switch ps.Phase {
	case domain.PhaseShowSecret:
		settings, err := s.rooms.GetSettings(ctx, roomID)
		if err != nil {
			return nil, mapRepoError(err, ErrWrongPhase)
		}
		members, err := s.rooms.GetMembers(ctx, roomID)
		if err != nil {
			return nil, mapRepoError(err, ErrRoomNotFound)
		}
		payload = domain.ShowSecretPayload{SecretWord: settings.SecretWord, Impostor: settings.ImpostorName, Players: members}

	case domain.PhaseInProgress:
		turn, err := s.rooms.GetCurrentTurnPlayer(ctx, roomID)
		if err != nil {
			return nil, mapRepoError(err, ErrWrongPhase)
		}
		round, err := s.rooms.GetRoundNumber(ctx, roomID)
		if err != nil {
			return nil, mapRepoError(err, ErrWrongPhase)
		}
		maxRounds, err := s.rooms.GetMaxRounds(ctx, roomID)
		if err != nil {
			return nil, mapRepoError(err, ErrWrongPhase)
		}
		payload = domain.InProgressPayload{CurrentPlayer: turn, Round: round, MaxRounds: maxRounds}

	case domain.PhaseVoting:
		round, err := s.rooms.GetRoundNumber(ctx, roomID)
		if err != nil {
			return nil, mapRepoError(err, ErrWrongPhase)
		}
		votes, err := s.rooms.GetVotes(ctx, roomID, round)
		if err != nil {
			return nil, mapRepoError(err, ErrRoomNotFound)
		}
		members, err := s.rooms.GetMembers(ctx, roomID)
		if err != nil {
			return nil, mapRepoError(err, ErrRoomNotFound)
		}
		payload = domain.VotingPayload{Round: round, VotesCast: len(votes), Eligible: len(members)}

	case domain.PhaseVoteResult:
		round, err := s.rooms.GetRoundNumber(ctx, roomID)
		if err != nil {
			return nil, mapRepoError(err, ErrWrongPhase)
		}
		ejected, err := s.rooms.GetEjectedPlayer(ctx, roomID)
		if err != nil {
			return nil, mapRepoError(err, ErrRoomNotFound)
		}
		impostor, err := s.rooms.GetImpostorName(ctx, roomID)
		if err != nil {
			return nil, mapRepoError(err, ErrWrongPhase)
		}
		if domain.IsSkip(ejected) {
			ejected = domain.SkipVote
		}
		payload = domain.VoteResultPayload{Round: round, Ejected: ejected, WasImpostor: ejected == impostor}

	case domain.PhaseGameFinished:
		// 结束阶段只在历史写入失败时短暂存在
		settings, err := s.rooms.GetSettings(ctx, roomID)
		if err != nil {
			return nil, mapRepoError(err, ErrWrongPhase)
		}
		ejected, err := s.rooms.GetEjectedPlayer(ctx, roomID)
		if err != nil {
			return nil, mapRepoError(err, ErrRoomNotFound)
		}
		if domain.IsSkip(ejected) {
			ejected = domain.SkipVote
		}
		payload = domain.GameFinishedPayload{
			GameID:      settings.GameID,
			Impostor:    settings.ImpostorName,
			Ejected:     ejected,
			ImpostorWon: ejected != settings.ImpostorName,
		}
	}

	seq, err := s.rooms.NextStateSequence(ctx, roomID)
	if err != nil {
		return nil, mapRepoError(err, ErrRoomNotFound)
	}
	return &domain.GameState{
		RoomID:   roomID,
		Sequence: seq,
		EndsAt:   ps.EndsAt(),
		Duration: ps.Duration,
		Payload:  payload,
	}, nil
}

func (s *GameService) broadcastState(ctx context.Context, roomID string, ps *domain.PhaseState) error {
	state, err := s.buildState(ctx, roomID, ps)
	if err != nil {
		return err
	}
	s.broadcast(ctx, roomID, EventGameState, state)
	return nil
}

// broadcast 推送失败只记录日志，客户端可以通过 GetState 恢复。
func (s *GameService) broadcast(ctx context.Context, roomID, event string, payload interface{}) {
	if err := s.broadcaster.BroadcastToRoom(ctx, roomID, event, payload); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"room_id": roomID, "event": event}).Warn("Broadcast failed")
	}
}
