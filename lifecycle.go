package tabsync

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/tabsync/relay"
)

// CurrentUser returns the stored user, preferring the session copy, or nil
// when nobody is logged in. As a side effect the login status is re-evaluated
// and subscribers are notified if it flipped.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var user *User
	err := c.run(ctx, func(ctx context.Context) error {
		var err error
		if user, err = c.loadUser(ctx); err != nil {
			return err
		}
		_, err = c.evaluate(ctx, user)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// IsLoggedIn reports whether a user is stored and the session has not expired.
func (c *Client) IsLoggedIn(ctx context.Context) (bool, error) {
	var loggedIn bool
	err := c.run(ctx, func(ctx context.Context) error {
		user, err := c.loadUser(ctx)
		if err != nil {
			return err
		}
		loggedIn, err = c.evaluate(ctx, user)
		return err
	})
	if err != nil {
		return false, err
	}
	return loggedIn, nil
}

// IsSessionExpired reports whether the stored access token expiry lies in
// the past. Without a stored expiry the session never expires.
func (c *Client) IsSessionExpired(ctx context.Context) (bool, error) {
	exp, ok, err := c.AccessTokenExpiry(ctx)
	if err != nil || !ok {
		return false, err
	}
	if exp.Before(c.now()) {
		c.metrics.Inc(MetricSessionExpired)
		return true, nil
	}
	return false, nil
}

// AccessTokenExpiry returns the stored expiry. ok is false when none is stored.
func (c *Client) AccessTokenExpiry(ctx context.Context) (exp time.Time, ok bool, err error) {
	ok, err = c.relay.GetData(ctx, KeyTokenExpiry, &exp)
	return exp, ok, err
}

// RememberMe returns the stored remember-me preference.
func (c *Client) RememberMe(ctx context.Context) (bool, error) {
	var remember bool
	ok, err := c.relay.GetData(ctx, KeyRememberMe, &remember)
	if err != nil {
		return false, err
	}
	if !ok {
		return c.config.Session.DefaultRememberMe, nil
	}
	return remember, nil
}

// AccessToken returns the stored access token, or "" when none is stored.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	return c.getString(ctx, KeyAccessToken)
}

// RefreshToken returns the stored refresh token, or "" when none is stored.
func (c *Client) RefreshToken(ctx context.Context) (string, error) {
	return c.getString(ctx, KeyRefreshToken)
}

// Save stores a credential. With remember set, the user, both tokens and the
// expiry go to the persistent store; otherwise they become synced session
// data. They are never split across stores. The preference itself is always
// persisted.
func (c *Client) Save(ctx context.Context, user *User, accessToken, refreshToken string, expiry time.Time, remember bool) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	if user == nil {
		return ErrNilUser
	}

	values := map[string]any{
		KeyAccessToken:  accessToken,
		KeyRefreshToken: refreshToken,
		KeyTokenExpiry:  expiry,
		KeyCurrentUser:  user,
	}
	return c.run(ctx, func(ctx context.Context) error {
		for _, key := range credentialKeys {
			var err error
			if remember {
				err = c.relay.SavePermanentData(ctx, key, values[key])
			} else {
				err = c.relay.SaveSyncedSessionData(ctx, key, values[key])
			}
			if err != nil {
				return err
			}
		}

		if err := c.relay.SavePermanentData(ctx, KeyRememberMe, remember); err != nil {
			return err
		}

		if _, err := c.evaluate(ctx, user); err != nil {
			c.logger.Warn("login status not evaluated", "error", err)
		}
		return nil
	})
}

// Logout deletes the credential from every store of every context.
func (c *Client) Logout(ctx context.Context) error {
	if c.isClosed() {
		return ErrClientClosed
	}

	return c.run(ctx, func(ctx context.Context) error {
		for _, key := range credentialKeys {
			if err := c.relay.DeleteData(ctx, key); err != nil {
				return err
			}
		}
		c.metrics.Inc(MetricLogout)
		c.logger.Debug("logged out")

		c.reevaluate(ctx)
		return nil
	})
}

// LoginStatusChanged subscribes to login status transitions. Only changes
// are reported, never the same value twice in a row, and never from inside
// the call that caused them. A subscriber that reads slowly may miss
// intermediate flips but always ends on the current status. cancel
// unsubscribes and closes the channel.
func (c *Client) LoginStatusChanged() (<-chan bool, func()) {
	c.statusMu.Lock()
	if c.closed {
		c.statusMu.Unlock()
		ch := make(chan bool)
		close(ch)
		return ch, func() {}
	}
	sub := newStatusSub(c.config.Session.StatusBuffer, c.announced)
	id := c.nextSub
	c.nextSub++
	c.subs[id] = sub
	c.statusMu.Unlock()

	return sub.out, func() {
		c.statusMu.Lock()
		delete(c.subs, id)
		c.statusMu.Unlock()
		sub.close()
	}
}

// run executes fn on the relay loop, behind every storage command that has
// already arrived.
func (c *Client) run(ctx context.Context, fn func(ctx context.Context) error) error {
	err := c.relay.Run(ctx, fn)
	if errors.Is(err, relay.ErrClosed) {
		return ErrClientClosed
	}
	return err
}

func (c *Client) reevaluate(ctx context.Context) {
	user, err := c.loadUser(ctx)
	if err == nil {
		_, err = c.evaluate(ctx, user)
	}
	if err != nil {
		c.logger.Warn("login status not evaluated", "error", err)
	}
}

// evaluate computes the login status for user and records it.
func (c *Client) evaluate(ctx context.Context, user *User) (bool, error) {
	loggedIn := false
	if user != nil {
		expired, err := c.IsSessionExpired(ctx)
		if err != nil {
			return false, err
		}
		loggedIn = !expired
	}
	c.recordStatus(loggedIn)
	return loggedIn, nil
}

func (c *Client) recordStatus(loggedIn bool) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	if c.previousLoggedIn == loggedIn {
		return
	}
	c.previousLoggedIn = loggedIn
	c.metrics.Inc(MetricLoginStatusChanged)
	// queued under statusMu so emissions keep the order of the transitions
	c.relay.Defer(func() {
		c.broadcast(loggedIn)
	})
}

func (c *Client) broadcast(loggedIn bool) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()

	if c.closed {
		return
	}
	c.announced = loggedIn
	c.logger.Debug("login status changed", "logged_in", loggedIn, "subscribers", len(c.subs))
	for _, sub := range c.subs {
		sub.publish(loggedIn)
	}
}

func (c *Client) loadUser(ctx context.Context) (*User, error) {
	var user *User
	if _, err := c.relay.GetData(ctx, KeyCurrentUser, &user); err != nil {
		return nil, err
	}
	return user, nil
}

func (c *Client) getString(ctx context.Context, key string) (string, error) {
	var s string
	if _, err := c.relay.GetData(ctx, key, &s); err != nil {
		return "", err
	}
	return s, nil
}

func (c *Client) isClosed() bool {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.closed
}
