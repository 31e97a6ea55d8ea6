// Package auth は管理用エンドポイントのトークン認証を提供します。
package auth

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const tokenHeader = "X-Admin-Token"

var (
	failureWindow = 15 * time.Minute
	lockDuration  = 10 * time.Minute
	maxFailures   = 5
)

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// TokenGuard は bcrypt でハッシュ化された管理トークンを検証します。
// ハッシュが空の場合は認証を行いません。
type TokenGuard struct {
	hash     []byte
	now      func() time.Time
	lock     sync.Mutex
	attempts map[string]*attemptState
}

// NewTokenGuard は TokenGuard を作成します。
func NewTokenGuard(hash string) *TokenGuard {
	return &TokenGuard{
		hash:     []byte(hash),
		now:      time.Now,
		attempts: make(map[string]*attemptState),
	}
}

// Enabled はトークン認証が有効かどうかを返します。
func (g *TokenGuard) Enabled() bool {
	return len(g.hash) > 0
}

// Require はトークンを検証するミドルウェアを返します。
// 同一IPからの失敗が続いた場合は一定時間 429 を返します。
func (g *TokenGuard) Require() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.Enabled() {
			c.Next()
			return
		}

		ip := c.ClientIP()
		if retryAfter := g.checkLock(ip); retryAfter > 0 {
			c.Header("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    "TOO_MANY_ATTEMPTS",
				"message": "一定時間後に再度お試しください",
			})
			return
		}

		token := readToken(c)
		if token == "" || bcrypt.CompareHashAndPassword(g.hash, []byte(token)) != nil {
			remaining := g.recordFailure(ip)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":              "UNAUTHORIZED",
				"message":           "管理トークンが正しくありません",
				"remainingAttempts": remaining,
			})
			return
		}

		g.resetAttempts(ip)
		c.Next()
	}
}

// readToken は X-Admin-Token または Bearer トークンを読み取ります。
func readToken(c *gin.Context) string {
	if token := c.GetHeader(tokenHeader); token != "" {
		return token
	}
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}

func (g *TokenGuard) checkLock(ip string) time.Duration {
	g.lock.Lock()
	defer g.lock.Unlock()

	state, ok := g.attempts[ip]
	if !ok {
		return 0
	}
	now := g.now()
	if now.After(state.lockedUntil) {
		return 0
	}
	return state.lockedUntil.Sub(now)
}

func (g *TokenGuard) recordFailure(ip string) int {
	g.lock.Lock()
	defer g.lock.Unlock()

	now := g.now()
	state, ok := g.attempts[ip]
	if !ok || now.Sub(state.firstAttempt) > failureWindow {
		state = &attemptState{firstAttempt: now}
		g.attempts[ip] = state
	}

	state.count++
	if state.count >= maxFailures {
		state.lockedUntil = now.Add(lockDuration)
		state.count = maxFailures
	}
	return maxFailures - state.count
}

func (g *TokenGuard) resetAttempts(ip string) {
	g.lock.Lock()
	defer g.lock.Unlock()
	delete(g.attempts, ip)
}
