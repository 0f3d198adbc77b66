package tabsync

import (
	"context"
	"fmt"
	"time"

	"github.com/MrEthical07/tabsync/alert"
	"github.com/MrEthical07/tabsync/oidc"
	"github.com/MrEthical07/tabsync/token"
)

const (
	loginFailedSummary = "Unable to login"
	loginFailedDetail  = "An error occurred whilst logging in, please try again later."
)

// LoginWithPassword logs out any current session, exchanges the credentials
// for tokens and stores the resulting user. Alerts report progress and the
// outcome when an alert sink is configured.
func (c *Client) LoginWithPassword(ctx context.Context, req LoginRequest) (*User, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLoginRequest, err)
	}
	if c.tokens == nil {
		return nil, ErrNoTokenClient
	}

	loggedIn, err := c.IsLoggedIn(ctx)
	if err != nil {
		return nil, err
	}
	if loggedIn {
		if err := c.Logout(ctx); err != nil {
			return nil, err
		}
	}

	stopLoading := c.alerts.StartLoading("", "Signing in...")
	resp, err := c.tokens.LoginWithPassword(ctx, req.UserName, req.Password)
	stopLoading()
	if err != nil {
		c.metrics.Inc(MetricLoginFailure)
		c.logger.Info("login rejected", "user", req.UserName, "error", err)
		c.notify(ctx, loginFailure(err))
		return nil, fmt.Errorf("login: %w", err)
	}

	user, err := c.ProcessLoginResponse(ctx, resp, req.RememberMe)
	if err != nil {
		c.metrics.Inc(MetricLoginFailure)
		c.notify(ctx, loginFailure(err))
		return nil, err
	}

	c.notify(ctx, alert.Immediate("Login successful").
		WithDetail(fmt.Sprintf("Welcome %s", user.FriendlyName())).
		WithSeverity(alert.SeveritySuccess))
	return user, nil
}

// ProcessLoginResponse stores the credential carried by a token response.
// remember overrides the stored remember-me preference when non-nil. The
// access token expiry is the current time plus ExpiresIn seconds.
func (c *Client) ProcessLoginResponse(ctx context.Context, resp *oidc.TokenResponse, remember *bool) (*User, error) {
	if resp == nil || resp.IDToken == "" {
		return nil, ErrMissingIDToken
	}
	if resp.AccessToken == "" {
		return nil, ErrMissingAccessToken
	}

	rememberMe := false
	if remember != nil {
		rememberMe = *remember
	} else {
		stored, err := c.RememberMe(ctx)
		if err != nil {
			return nil, err
		}
		rememberMe = stored
	}

	expiry := c.now().Add(time.Duration(resp.ExpiresIn) * time.Second)

	claims, err := token.Decode(resp.IDToken)
	if err != nil {
		return nil, fmt.Errorf("decode id token: %w", err)
	}

	user := &User{
		ID:          claims.Subject,
		UserName:    claims.Name,
		FullName:    claims.FullName,
		Email:       claims.Email,
		JobTitle:    claims.JobTitle,
		PhoneNumber: claims.PhoneNumber,
		IsEnabled:   true,
	}

	if err := c.Save(ctx, user, resp.AccessToken, resp.RefreshToken, expiry, rememberMe); err != nil {
		return nil, err
	}
	c.metrics.Inc(MetricLoginSuccess)
	c.logger.Info("logged in", "user", user.UserName, "remember", rememberMe)
	return user, nil
}

// LoginRedirectURL returns the route recorded by the last rejected Guard call.
func (c *Client) LoginRedirectURL() string {
	c.redirectMu.Lock()
	defer c.redirectMu.Unlock()
	return c.loginRedirectURL
}

// SetLoginRedirectURL records where RedirectLoginUser should go next.
func (c *Client) SetLoginRedirectURL(url string) {
	c.redirectMu.Lock()
	c.loginRedirectURL = url
	c.redirectMu.Unlock()
}

// RedirectLoginUser navigates to the recorded redirect URL, consuming it, or
// to the home route when none is recorded.
func (c *Client) RedirectLoginUser(ctx context.Context) error {
	c.redirectMu.Lock()
	target := c.loginRedirectURL
	c.loginRedirectURL = ""
	c.redirectMu.Unlock()

	if target == "" || target == c.config.Navigation.LoginURL {
		target = c.config.Navigation.HomeURL
	}
	return c.navigate(ctx, target)
}

// RedirectLogoutUser navigates to the login route.
func (c *Client) RedirectLogoutUser(ctx context.Context) error {
	return c.navigate(ctx, c.config.Navigation.LoginURL)
}

// Guard admits navigation to url for a logged-in user. Otherwise it records
// url for RedirectLoginUser, sends the user to the login route and reports
// false.
func (c *Client) Guard(ctx context.Context, url string) (bool, error) {
	loggedIn, err := c.IsLoggedIn(ctx)
	if err != nil {
		return false, err
	}
	if loggedIn {
		return true, nil
	}

	c.SetLoginRedirectURL(url)
	return false, c.RedirectLogoutUser(ctx)
}

func (c *Client) navigate(ctx context.Context, url string) error {
	if c.navigator == nil {
		return nil
	}
	return c.navigator.Navigate(ctx, url)
}

func loginFailure(err error) alert.Message {
	detail := alert.Describe(err)
	switch detail {
	case "":
		detail = loginFailedDetail + "\nError: " + err.Error()
	case "invalid_username_or_password":
		detail = "Invalid username or password"
	}
	return alert.Sticky(loginFailedSummary).
		WithDetail(detail).
		WithSeverity(alert.SeverityError).
		WithError(err)
}
