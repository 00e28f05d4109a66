package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"callcrm/internal/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "callcrm:session:"
	userKeyPrefix    = "callcrm:user_sessions:"
)

var (
	// ErrInvalidToken 表示令牌格式错误或签名不匹配。
	ErrInvalidToken = errors.New("invalid session token")
	// ErrExpired 表示会话已过期或已被注销。
	ErrExpired = errors.New("session expired")
)

// Session 是保存在 Redis 中的登录会话。
type Session struct {
	ID        string     `json:"id"`
	UserID    uint       `json:"userId"`
	Role      model.Role `json:"role"`
	CreatedAt time.Time  `json:"createdAt"`
}

type claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Manager 负责会话的签发、校验（滑动续期）与注销。
//
// 令牌是 HS256 签名的 JWT，jti 指向 Redis 中的会话记录；
// 会话是否有效以 Redis 为准，删除记录即可立即注销。
type Manager struct {
	rdb    *redis.Client
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewManager 创建会话管理器。ttl 不大于 0 时使用 24 小时。
func NewManager(rdb *redis.Client, secret string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{
		rdb:    rdb,
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL 返回会话空闲有效期。
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Create 为用户创建新会话并返回签名令牌。
func (m *Manager) Create(ctx context.Context, userID uint, role model.Role) (string, *Session, error) {
	sess := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Role:      role,
		CreatedAt: m.now().UTC(),
	}
	payload, err := json.Marshal(sess)
	if err != nil {
		return "", nil, fmt.Errorf("marshal session: %w", err)
	}

	userKey := userKey(userID)
	pipe := m.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(sess.ID), payload, m.ttl)
	pipe.SAdd(ctx, userKey, sess.ID)
	pipe.Expire(ctx, userKey, m.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", nil, fmt.Errorf("store session: %w", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       sess.ID,
			Subject:  strconv.FormatUint(uint64(userID), 10),
			IssuedAt: jwt.NewNumericDate(sess.CreatedAt),
		},
		Role: string(role),
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign session token: %w", err)
	}
	return signed, sess, nil
}

// Validate 校验令牌并刷新会话有效期。
func (m *Manager) Validate(ctx context.Context, token string) (*Session, error) {
	id, err := m.parse(token)
	if err != nil {
		return nil, err
	}

	payload, err := m.rdb.GetEx(ctx, sessionKey(id), m.ttl).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrExpired
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if err := m.rdb.Expire(ctx, userKey(sess.UserID), m.ttl).Err(); err != nil {
		return nil, fmt.Errorf("touch session index: %w", err)
	}
	return &sess, nil
}

// Revoke 注销单个会话，会话不存在时不报错。
func (m *Manager) Revoke(ctx context.Context, sess *Session) error {
	if sess == nil {
		return nil
	}
	pipe := m.rdb.TxPipeline()
	pipe.Del(ctx, sessionKey(sess.ID))
	pipe.SRem(ctx, userKey(sess.UserID), sess.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeUser 注销用户的全部会话，用于删除账号、改角色或重置密码后。
func (m *Manager) RevokeUser(ctx context.Context, userID uint) error {
	key := userKey(userID)
	ids, err := m.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("list user sessions: %w", err)
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, sessionKey(id))
	}
	keys = append(keys, key)
	if err := m.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("revoke user sessions: %w", err)
	}
	return nil
}

func (m *Manager) parse(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	c := &claims{}
	parsed, err := jwt.ParseWithClaims(token, c, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid || c.ID == "" {
		return "", ErrInvalidToken
	}
	return c.ID, nil
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func userKey(userID uint) string {
	return userKeyPrefix + strconv.FormatUint(uint64(userID), 10)
}
