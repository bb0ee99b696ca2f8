package redisstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"impostor-game/internal/domain"
	"impostor-game/internal/repository"
)

// settings hash 的字段名
const (
	fieldGameID      = "gameId"
	fieldMaxRounds   = "maxRounds"
	fieldPerTurn     = "perTurnSeconds"
	fieldFirstPlayer = "firstPlayer"
	fieldImpostor    = "impostor"
	fieldSecretWord  = "secretWord"
	fieldStartedAt   = "startedAt"

	fieldPhase    = "phase"
	fieldDuration = "durationMs"
	fieldCreated  = "createdAt"
)

// 先用只读命令校验键的类型，类型不符时脚本在写入前就报错，不会留下部分状态。
// KEYS: votes, history；ARGV: voter, target, event
var recordVoteScript = redis.NewScript(`
redis.call("LLEN", KEYS[2])
if redis.call("HSETNX", KEYS[1], ARGV[1], ARGV[2]) == 0 then
	return 0
end
redis.call("RPUSH", KEYS[2], ARGV[3])
return 1
`)

// KEYS: history, turn, phase；ARGV: event, nextTurn, 以及阶段 hash 的三组字段和值
var recordClueScript = redis.NewScript(`
redis.call("LLEN", KEYS[1])
redis.call("STRLEN", KEYS[2])
redis.call("HLEN", KEYS[3])
redis.call("RPUSH", KEYS[1], ARGV[1])
if ARGV[2] ~= "" then
	redis.call("SET", KEYS[2], ARGV[2])
end
redis.call("HSET", KEYS[3], ARGV[3], ARGV[4], ARGV[5], ARGV[6], ARGV[7], ARGV[8])
return 1
`)

// RedisRoomStore 是 RoomStateRepository 接口的 Redis 实现
type RedisRoomStore struct {
	client *redis.Client
	keys   Keys
	now    func() time.Time
}

var _ repository.RoomStateRepository = (*RedisRoomStore)(nil)

// NewRedisRoomStore 创建 RedisRoomStore 实例
func NewRedisRoomStore(client *redis.Client, keyPrefix string) *RedisRoomStore {
	if client == nil {
		panic("redis client cannot be nil for RedisRoomStore")
	}
	return &RedisRoomStore{
		client: client,
		keys:   NewKeys(keyPrefix),
		now:    time.Now,
	}
}

// WithClock 替换阶段开始时间使用的时钟，测试用。
func (r *RedisRoomStore) WithClock(now func() time.Time) *RedisRoomStore {
	r.now = now
	return r
}

// --- Room lifecycle ---

func (r *RedisRoomStore) CreateRoom(ctx context.Context, roomID string) error {
	key := r.keys.Meta(roomID)
	created, err := r.client.HSetNX(ctx, key, fieldCreated, r.now().UTC().Format(time.RFC3339Nano)).Result()
	if err != nil {
		return fmt.Errorf("redis: failed to create room %s on %s: %w", roomID, key, err)
	}
	if !created {
		return repository.ErrDuplicateEntry
	}
	return nil
}

func (r *RedisRoomStore) RoomExists(ctx context.Context, roomID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.keys.Meta(roomID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis: failed to check room %s: %w", roomID, err)
	}
	return n > 0, nil
}

func (r *RedisRoomStore) Delete(ctx context.Context, roomID string) error {
	if err := r.client.Del(ctx, r.keys.RoomKeys(roomID)...).Err(); err != nil {
		return fmt.Errorf("redis: failed to delete room %s: %w", roomID, err)
	}
	return nil
}

func (r *RedisRoomStore) ExpireAfter(ctx context.Context, roomID string, ttl time.Duration) error {
	pipe := r.client.Pipeline()
	for _, key := range r.keys.RoomKeys(roomID) {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to set expiry %s for room %s: %w", ttl, roomID, err)
	}
	return nil
}

func (r *RedisRoomStore) CancelExpiry(ctx context.Context, roomID string) error {
	pipe := r.client.Pipeline()
	for _, key := range r.keys.RoomKeys(roomID) {
		pipe.Persist(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to cancel expiry for room %s: %w", roomID, err)
	}
	return nil
}

// ListGameRooms 扫描所有已开局的房间。使用 SCAN，不阻塞 Redis。
func (r *RedisRoomStore) ListGameRooms(ctx context.Context) ([]string, error) {
	var rooms []string
	iter := r.client.Scan(ctx, 0, r.keys.Phase("*"), 200).Iterator()
	for iter.Next(ctx) {
		if roomID, ok := r.keys.RoomIDFromPhaseKey(iter.Val()); ok {
			rooms = append(rooms, roomID)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis: scan rooms: %w", err)
	}
	sort.Strings(rooms)
	return rooms, nil
}

// --- Game settings ---

func (r *RedisRoomStore) SetMembers(ctx context.Context, roomID string, usernames []string) error {
	key := r.keys.Members(roomID)
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(usernames) > 0 {
		members := make([]interface{}, len(usernames))
		for i, name := range usernames {
			members[i] = name
		}
		pipe.SAdd(ctx, key, members...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to set members for room %s on %s: %w", roomID, key, err)
	}
	return nil
}

func (r *RedisRoomStore) GetMembers(ctx context.Context, roomID string) ([]string, error) {
	key := r.keys.Members(roomID)
	members, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to get members for room %s from %s: %w", roomID, key, err)
	}
	sort.Strings(members)
	return members, nil
}

// SetStartingSettings 在一个事务中写入设置、把回合重置为 1，
// 并清除上一局的出局者、各回合投票和历史缓冲。
func (r *RedisRoomStore) SetStartingSettings(ctx context.Context, roomID string, s domain.GameSettings) error {
	key := r.keys.Settings(roomID)
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key,
		fieldGameID, s.GameID,
		fieldMaxRounds, s.MaxRounds,
		fieldPerTurn, s.PerTurnSeconds(),
		fieldFirstPlayer, s.FirstPlayer,
		fieldImpostor, s.ImpostorName,
		fieldSecretWord, s.SecretWord,
		fieldStartedAt, s.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	pipe.Set(ctx, r.keys.Round(roomID), 1, 0)
	stale := []string{r.keys.Ejected(roomID), r.keys.History(roomID)}
	for round := 1; round <= domain.MaxRoundsLimit; round++ {
		stale = append(stale, r.keys.Votes(roomID, round))
	}
	pipe.Del(ctx, stale...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to set starting settings for room %s: %w", roomID, err)
	}
	return nil
}

func (r *RedisRoomStore) GetSettings(ctx context.Context, roomID string) (*domain.GameSettings, error) {
	key := r.keys.Settings(roomID)
	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to get settings for room %s from %s: %w", roomID, key, err)
	}
	if len(fields) == 0 {
		return nil, repository.ErrNotFound
	}

	maxRounds, err := strconv.Atoi(fields[fieldMaxRounds])
	if err != nil {
		return nil, fmt.Errorf("redis: invalid maxRounds %q for room %s: %w", fields[fieldMaxRounds], roomID, err)
	}
	perTurn, err := strconv.Atoi(fields[fieldPerTurn])
	if err != nil {
		return nil, fmt.Errorf("redis: invalid perTurnSeconds %q for room %s: %w", fields[fieldPerTurn], roomID, err)
	}
	startedAt, err := time.Parse(time.RFC3339Nano, fields[fieldStartedAt])
	if err != nil {
		return nil, fmt.Errorf("redis: invalid startedAt %q for room %s: %w", fields[fieldStartedAt], roomID, err)
	}

	return &domain.GameSettings{
		GameID:       fields[fieldGameID],
		MaxRounds:    maxRounds,
		PerTurn:      time.Duration(perTurn) * time.Second,
		FirstPlayer:  fields[fieldFirstPlayer],
		ImpostorName: fields[fieldImpostor],
		SecretWord:   fields[fieldSecretWord],
		StartedAt:    startedAt,
	}, nil
}

func (r *RedisRoomStore) getSettingField(ctx context.Context, roomID, field string) (string, error) {
	key := r.keys.Settings(roomID)
	v, err := r.client.HGet(ctx, key, field).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", repository.ErrNotFound
		}
		return "", fmt.Errorf("redis: failed to get %s for room %s from %s: %w", field, roomID, key, err)
	}
	return v, nil
}

func (r *RedisRoomStore) getSettingInt(ctx context.Context, roomID, field string) (int, error) {
	v, err := r.getSettingField(ctx, roomID, field)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("redis: invalid %s %q for room %s: %w", field, v, roomID, err)
	}
	return n, nil
}

func (r *RedisRoomStore) GetFirstPlayer(ctx context.Context, roomID string) (string, error) {
	return r.getSettingField(ctx, roomID, fieldFirstPlayer)
}

func (r *RedisRoomStore) GetMaxRounds(ctx context.Context, roomID string) (int, error) {
	return r.getSettingInt(ctx, roomID, fieldMaxRounds)
}

func (r *RedisRoomStore) GetPerTurnSeconds(ctx context.Context, roomID string) (int, error) {
	return r.getSettingInt(ctx, roomID, fieldPerTurn)
}

func (r *RedisRoomStore) GetImpostorName(ctx context.Context, roomID string) (string, error) {
	return r.getSettingField(ctx, roomID, fieldImpostor)
}

// --- Phase ---

func (r *RedisRoomStore) newPhaseState(phase domain.Phase, duration time.Duration) *domain.PhaseState {
	return &domain.PhaseState{
		Phase:     phase,
		StartedAt: r.now().UTC().Truncate(time.Microsecond),
		Duration:  duration,
	}
}

// phaseFields 是阶段 hash 的字段和值，顺序与 recordClueScript 的 ARGV 一致。
func phaseFields(state *domain.PhaseState) []interface{} {
	return []interface{}{
		fieldPhase, string(state.Phase),
		fieldStartedAt, state.StartedAt.UnixMicro(),
		fieldDuration, state.Duration.Milliseconds(),
	}
}

func (r *RedisRoomStore) SetPhase(ctx context.Context, roomID string, phase domain.Phase, duration time.Duration) (*domain.PhaseState, error) {
	key := r.keys.Phase(roomID)
	state := r.newPhaseState(phase, duration)
	err := r.client.HSet(ctx, key, phaseFields(state)...).Err()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to set phase %s for room %s on %s: %w", phase, roomID, key, err)
	}
	return state, nil
}

func (r *RedisRoomStore) GetPhase(ctx context.Context, roomID string) (*domain.PhaseState, error) {
	key := r.keys.Phase(roomID)
	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to get phase for room %s from %s: %w", roomID, key, err)
	}
	if len(fields) == 0 {
		return nil, repository.ErrNotFound
	}

	phase, err := domain.ParsePhase(fields[fieldPhase])
	if err != nil {
		return nil, fmt.Errorf("redis: room %s: %w", roomID, err)
	}
	startedMicro, err := strconv.ParseInt(fields[fieldStartedAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis: invalid phase start %q for room %s: %w", fields[fieldStartedAt], roomID, err)
	}
	durationMs, err := strconv.ParseInt(fields[fieldDuration], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis: invalid phase duration %q for room %s: %w", fields[fieldDuration], roomID, err)
	}

	return &domain.PhaseState{
		Phase:     phase,
		StartedAt: time.UnixMicro(startedMicro).UTC(),
		Duration:  time.Duration(durationMs) * time.Millisecond,
	}, nil
}

func (r *RedisRoomStore) NextStateSequence(ctx context.Context, roomID string) (int64, error) {
	key := r.keys.Sequence(roomID)
	seq, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: failed to increment state sequence for room %s on %s: %w", roomID, key, err)
	}
	return seq, nil
}

// --- Turn / round ---

func (r *RedisRoomStore) GetCurrentTurnPlayer(ctx context.Context, roomID string) (string, error) {
	key := r.keys.Turn(roomID)
	name, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", repository.ErrNotFound
		}
		return "", fmt.Errorf("redis: failed to get turn player for room %s from %s: %w", roomID, key, err)
	}
	return name, nil
}

func (r *RedisRoomStore) SetCurrentTurnPlayer(ctx context.Context, roomID string, username string) error {
	key := r.keys.Turn(roomID)
	if err := r.client.Set(ctx, key, username, 0).Err(); err != nil {
		return fmt.Errorf("redis: failed to set turn player for room %s on %s: %w", roomID, key, err)
	}
	return nil
}

func (r *RedisRoomStore) GetRoundNumber(ctx context.Context, roomID string) (int, error) {
	key := r.keys.Round(roomID)
	round, err := r.client.Get(ctx, key).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, repository.ErrNotFound
		}
		return 0, fmt.Errorf("redis: failed to get round for room %s from %s: %w", roomID, key, err)
	}
	return round, nil
}

func (r *RedisRoomStore) IncrementRound(ctx context.Context, roomID string) (int, error) {
	key := r.keys.Round(roomID)
	round, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: failed to increment round for room %s on %s: %w", roomID, key, err)
	}
	return int(round), nil
}

func (r *RedisRoomStore) GetEjectedPlayer(ctx context.Context, roomID string) (string, error) {
	key := r.keys.Ejected(roomID)
	name, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("redis: failed to get ejected player for room %s from %s: %w", roomID, key, err)
	}
	return name, nil
}

func (r *RedisRoomStore) SetEjectedPlayer(ctx context.Context, roomID string, username string) error {
	key := r.keys.Ejected(roomID)
	var err error
	if username == "" {
		err = r.client.Del(ctx, key).Err()
	} else {
		err = r.client.Set(ctx, key, username, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("redis: failed to set ejected player for room %s on %s: %w", roomID, key, err)
	}
	return nil
}

// --- Votes ---

func (r *RedisRoomStore) RecordVote(ctx context.Context, roomID string, round int, voter, target string,
	event domain.GameHistoryEvent) (bool, error) {
	key := r.keys.Votes(roomID, round)
	data, err := json.Marshal(event)
	if err != nil {
		return false, fmt.Errorf("redis: failed to marshal vote event for room %s: %w", roomID, err)
	}
	added, err := recordVoteScript.Run(ctx, r.client, []string{key, r.keys.History(roomID)}, voter, target, data).Int()
	if err != nil {
		return false, fmt.Errorf("redis: failed to record vote of %s in room %s on %s: %w", voter, roomID, key, err)
	}
	return added == 1, nil
}

func (r *RedisRoomStore) GetVotes(ctx context.Context, roomID string, round int) (map[string]string, error) {
	key := r.keys.Votes(roomID, round)
	votes, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to get votes for room %s from %s: %w", roomID, key, err)
	}
	return votes, nil
}

func (r *RedisRoomStore) ClearVotes(ctx context.Context, roomID string, round int) error {
	key := r.keys.Votes(roomID, round)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis: failed to clear votes for room %s on %s: %w", roomID, key, err)
	}
	return nil
}

// --- Live history buffer ---

func (r *RedisRoomStore) AppendHistoryEvent(ctx context.Context, roomID string, event domain.GameHistoryEvent) error {
	key := r.keys.History(roomID)
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal %s event for room %s: %w", event.Type, roomID, err)
	}
	if err := r.client.RPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("redis: failed to append history for room %s on %s: %w", roomID, key, err)
	}
	return nil
}

func (r *RedisRoomStore) RecordClue(ctx context.Context, roomID string, event domain.GameHistoryEvent, nextTurn string,
	phase domain.Phase, duration time.Duration) (*domain.PhaseState, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("redis: failed to marshal clue event for room %s: %w", roomID, err)
	}
	state := r.newPhaseState(phase, duration)
	keys := []string{r.keys.History(roomID), r.keys.Turn(roomID), r.keys.Phase(roomID)}
	args := append([]interface{}{data, nextTurn}, phaseFields(state)...)
	if err := recordClueScript.Run(ctx, r.client, keys, args...).Err(); err != nil {
		return nil, fmt.Errorf("redis: failed to record clue of %s in room %s: %w", event.Username, roomID, err)
	}
	return state, nil
}

func (r *RedisRoomStore) GetHistory(ctx context.Context, roomID string) ([]domain.GameHistoryEvent, error) {
	key := r.keys.History(roomID)
	items, err := r.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to get history for room %s from %s: %w", roomID, key, err)
	}
	events := make([]domain.GameHistoryEvent, 0, len(items))
	for _, item := range items {
		var e domain.GameHistoryEvent
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			logrus.Warnf("redis: failed to unmarshal history event for room %s: %v, data: %s", roomID, err, item)
			continue
		}
		events = append(events, e)
	}
	return events, nil
}
