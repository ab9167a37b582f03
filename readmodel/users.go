// Package readmodel keeps a Redis projection of users up to date from the
// user.* events the consumer receives.
package readmodel

import (
	"context"
	"database/sql"
	"time"

	"inviqa/event-outbox/config"
	"inviqa/event-outbox/consumer"
	"inviqa/event-outbox/event"
	"inviqa/event-outbox/log"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	UserRegistered = "user.registered"
	UserUpdated    = "user.updated"
	UserDeleted    = "user.deleted"

	keyPrefix = "user:"
)

type cache interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type userPayload struct {
	UserId      string `json:"userId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

// Users writes one hash per user. Every write is keyed by user id and
// overwrites the whole projection with values taken from the event alone, so
// applying the same event again leaves the hash unchanged.
type Users struct {
	cache cache
	ttl   time.Duration
}

func NewClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func NewUsers(c cache, ttl time.Duration) *Users {
	return &Users{
		cache: c,
		ttl:   ttl,
	}
}

// Register wires the user projection into c.
func (u *Users) Register(c *consumer.Consumer) {
	c.Register(UserRegistered, consumer.HandlerFunc(u.Upsert))
	c.Register(UserUpdated, consumer.HandlerFunc(u.Upsert))
	c.Register(UserDeleted, consumer.HandlerFunc(u.Remove))
}

func (u *Users) Upsert(ctx context.Context, _ *sql.Tx, env event.Envelope) error {
	p, err := decodeUser(env)
	if err != nil {
		return err
	}

	key := Key(p.UserId)
	err = u.cache.HSet(ctx, key,
		"userId", p.UserId,
		"email", p.Email,
		"displayName", p.DisplayName,
		"lastEventId", env.EventId,
		"updatedAt", env.Timestamp.UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return errors.Wrapf(err, "readmodel: unable to write %s", key)
	}

	if u.ttl > 0 {
		if err := u.cache.Expire(ctx, key, u.ttl).Err(); err != nil {
			return errors.Wrapf(err, "readmodel: unable to set expiry on %s", key)
		}
	}

	log.Logger.WithFields(logrus.Fields{
		"key":        key,
		"event_type": env.EventType,
	}).Debug("user projection written")

	return nil
}

func (u *Users) Remove(ctx context.Context, _ *sql.Tx, env event.Envelope) error {
	p, err := decodeUser(env)
	if err != nil {
		return err
	}

	key := Key(p.UserId)
	if err := u.cache.Del(ctx, key).Err(); err != nil {
		return errors.Wrapf(err, "readmodel: unable to delete %s", key)
	}

	return nil
}

func Key(userId string) string {
	return keyPrefix + userId
}

func decodeUser(env event.Envelope) (userPayload, error) {
	var p userPayload
	if err := consumer.DecodeData(env, &p); err != nil {
		return p, err
	}

	if p.UserId == "" {
		return p, errors.Wrapf(consumer.ErrMalformedPayload, "%s event %s has no userId", env.EventType, env.EventId)
	}

	return p, nil
}
