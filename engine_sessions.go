package authcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/model"
)

// Sessions lists the active sessions of userID, newest first.
func (e *Engine) Sessions(ctx context.Context, userID string) ([]model.Session, error) {
	list, err := e.sessions.List(ctx, userID)
	return list, storeErr(err)
}

// RevokeSession ends one session of userID and revokes its refresh family.
// A session owned by someone else is reported as not found.
func (e *Engine) RevokeSession(ctx context.Context, userID, sessionID string) error {
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return storeErr(err)
	}
	if sess.UserID != userID {
		return ErrSessionNotFound
	}
	if _, err := e.sessions.Revoke(ctx, sessionID); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return storeErr(err)
	}
	if sess.FamilyID != "" {
		if err := e.tokens.RevokeFamily(ctx, sess.FamilyID); err != nil {
			return storeErr(err)
		}
	}
	return nil
}
