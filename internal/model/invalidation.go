package model

import "errors"

const ActionInvalidateCache = "invalidateCache"

var ErrEmptyInvalidation = errors.New("invalidation message has no keys")

// InvalidationMessage はキャッシュ無効化キューに流れるメッセージ。
// Keys は Redis の glob パターン (例: "blogs:*")。
type InvalidationMessage struct {
	Action string   `json:"action"`
	Keys   []string `json:"keys"`
}

func NewInvalidationMessage(keys ...string) InvalidationMessage {
	return InvalidationMessage{Action: ActionInvalidateCache, Keys: keys}
}

func (m InvalidationMessage) Validate() error {
	if m.Action == ActionInvalidateCache && len(m.Keys) == 0 {
		return ErrEmptyInvalidation
	}
	return nil
}
