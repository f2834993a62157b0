package core

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
)

func sessionFrom(c *gin.Context) *sessions.Session {
	v, _ := c.Get(ctxSessionKey)
	s, _ := v.(*sessions.Session)
	return s
}

func storageFrom(c *gin.Context) KeyValueStore {
	v, _ := c.Get(ctxStorageKey)
	kv, _ := v.(KeyValueStore)
	return kv
}

// newAuth builds an AuthSession over this browser's storage without
// touching the backend.
func (g *Gateway) newAuth(c *gin.Context) *AuthSession {
	var notifier Notifier = discardNotifier{}
	if s := sessionFrom(c); s != nil {
		notifier = flashNotifier{session: s}
	}
	return NewAuthSession(NewSessionStore(storageFrom(c)), g.backend, AuthSessionOptions{
		Notifier: notifier,
		Cache:    g.cache,
		Audit:    g.audit,
	})
}

// auth returns the request's AuthSession after a full page-load sequence
// (bootstrap + validation). It is built once per request.
func (g *Gateway) auth(c *gin.Context) *AuthSession {
	if v, ok := c.Get(ctxAuthKey); ok {
		if a, ok := v.(*AuthSession); ok {
			return a
		}
	}
	a := g.newAuth(c)
	a.Start(c.Request.Context())
	c.Set(ctxAuthKey, a)
	return a
}

// saveSession flushes the browser storage and writes the session cookie.
// It must run before the response body is written.
func (g *Gateway) saveSession(c *gin.Context) error {
	kv := storageFrom(c)
	if f, ok := kv.(Flusher); ok {
		if err := f.Flush(context.WithoutCancel(c.Request.Context())); err != nil {
			return err
		}
	}
	session := sessionFrom(c)
	if session == nil {
		return nil
	}
	applySessionOptions(g.cfg, session, kv != nil && rememberedIn(kv))
	return session.Save(c.Request, c.Writer)
}

// rotateSession re-keys the browser's storage and issues a new CSRF token.
// It runs on every sign-in and sign-out so identifiers planted or observed
// before the change stop working.
func rotateSession(c *gin.Context) error {
	session := sessionFrom(c)
	if session == nil {
		return nil
	}
	if r, ok := storageFrom(c).(Rotator); ok {
		r.Rotate(session)
	}
	token, err := generateCSRFToken()
	if err != nil {
		return err
	}
	session.Values["csrf_token"] = token
	c.Writer.Header().Set("X-CSRF-Token", token)
	return nil
}

// commit saves the session and answers 500 on failure; callers return when it reports false.
func (g *Gateway) commit(c *gin.Context) bool {
	if err := g.saveSession(c); err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to persist session")
		c.Abort()
		return false
	}
	return true
}
