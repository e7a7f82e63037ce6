package spat4

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/stepchange-tokyo/pointsconversion/lib/telemetry"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/spat4")

const requestPath = "/spat4/pp"

var (
	ErrLoginFailed      = errors.New("spat4: login rejected")
	ErrLogoutFailed     = errors.New("spat4: logout rejected, session still active")
	ErrNotAuthenticated = errors.New("spat4: operation requires an authenticated session")
)

type Account struct {
	Number   string `json:"number"`
	Password string `json:"password"`
	Pin      string `json:"pin"`
}

type ClientOptions struct {
	BaseURL                 string
	RequestTimeout          time.Duration
	MaxRetries              int
	MinConversionWait       time.Duration
	MaxConversionWait       time.Duration
	MaxConversionsPerDay    int
	MinimumConversionAmount int64
	// fixed value of the points <input> on the exchange form
	PointsInputValue string
}

func (o ClientOptions) Validate() error {
	if o.MinimumConversionAmount <= 0 {
		return fmt.Errorf("spat4: minimum conversion amount must be positive, got %d", o.MinimumConversionAmount)
	}
	if o.MaxConversionsPerDay < 0 {
		return fmt.Errorf("spat4: max conversions per day must not be negative, got %d", o.MaxConversionsPerDay)
	}
	if o.MinConversionWait > o.MaxConversionWait {
		return fmt.Errorf("spat4: min conversion wait %s exceeds max %s", o.MinConversionWait, o.MaxConversionWait)
	}
	return nil
}

type sessionState int

const (
	stateAnonymous sessionState = iota
	stateAuthenticated
	stateLoggedOut
)

// Client drives one authenticated portal session for one account.
// Not safe for concurrent use; every run gets its own client and
// cookie jar.
type Client struct {
	http    *resty.Client
	account Account
	opts    ClientOptions
	state   sessionState
}

func NewClient(account Account, opts ClientOptions) (*Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	baseURL, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, err
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseURL)
	client.SetCookieJar(jar)
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseURL.Hostname()))
	client.SetTimeout(opts.RequestTimeout)
	client.SetRetryCount(opts.MaxRetries)
	client.SetRetryWaitTime(2 * time.Second)
	client.SetRetryMaxWaitTime(30 * time.Second)
	client.AddRetryCondition(func(res *resty.Response, err error) bool {
		return err != nil || res.StatusCode() >= 500
	})
	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 6.1; WOW64) AppleWebKit/537.36 (KHTML, like Gecko)")

	telemetry.InstrumentResty(client, "scrapers/spat4/http")

	return &Client{
		http:    client,
		account: account,
		opts:    opts,
	}, nil
}

// ConversionSummary describes the outcome of one ConvertPoints run.
type ConversionSummary struct {
	Rounds       int
	Completed    int
	StartBalance int64
	EndBalance   int64
}

type page struct {
	kind pageKind
	raw  string
	doc  *goquery.Document
}

func (c *Client) getPage(ctx context.Context, query map[string]string) (page, error) {
	req := c.http.R().SetContext(ctx)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	res, err := req.Get(requestPath)
	if err != nil {
		return page{}, err
	}
	return parsePage(res)
}

func (c *Client) postPage(ctx context.Context, form map[string]string) (page, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetFormData(form).
		Post(requestPath)
	if err != nil {
		return page{}, err
	}
	return parsePage(res)
}

func parsePage(res *resty.Response) (page, error) {
	if res.StatusCode() >= 400 {
		return page{}, fmt.Errorf("spat4: unexpected status %d from %s", res.StatusCode(), res.Request.URL)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		return page{}, err
	}
	raw := string(res.Body())
	return page{
		kind: identifyPage(doc, raw),
		raw:  raw,
		doc:  doc,
	}, nil
}

// Login fetches the landing page, lifts the session token out of the login
// form and posts the credentials. The state only becomes authenticated when
// the response passes the logged-in check.
func (c *Client) Login(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "client:Login")
	defer span.End()

	slog.InfoContext(ctx, "attempting login", "account", c.account.Number)

	landing, err := c.getPage(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch landing page")
		return err
	}
	sessionID := ParseSessionID(landing.doc)
	if sessionID == "" {
		span.SetStatus(codes.Error, "no session token on landing page")
		return fmt.Errorf("spat4: landing page carries no session token: %w", ErrLoginFailed)
	}

	result, err := c.postPage(ctx, loginForm(sessionID, c.account))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login request failed")
		return err
	}
	if !IsLoggedIn(result.doc, result.raw) {
		span.SetStatus(codes.Error, ErrLoginFailed.Error())
		return ErrLoginFailed
	}

	c.state = stateAuthenticated
	slog.InfoContext(ctx, "logged in", "account", c.account.Number)
	return nil
}

func conversionRounds(balance, minimumAmount int64, maxPerDay int) int {
	rounds := int(balance / minimumAmount)
	if rounds > maxPerDay {
		rounds = maxPerDay
	}
	return rounds
}

// ConvertPoints navigates to the use-points page, reads the balance and
// exchanges points for cash round by round until the computed cap is
// reached or any step stops looking like the page it should be.
func (c *Client) ConvertPoints(ctx context.Context) (ConversionSummary, error) {
	if c.state != stateAuthenticated {
		return ConversionSummary{}, ErrNotAuthenticated
	}

	ctx, span := tracer.Start(ctx, "client:ConvertPoints")
	defer span.End()

	current, err := c.postPage(ctx, usePointsForm())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to reach use-points page")
		return ConversionSummary{}, err
	}
	if current.kind != pageUsePoints {
		span.SetStatus(codes.Error, "unexpected page")
		return ConversionSummary{}, fmt.Errorf("spat4: expected %s page, got %s", pageUsePoints, current.kind)
	}

	balance, ok := ParsePointsBalance(current.doc)
	if !ok {
		span.SetStatus(codes.Error, "points balance missing")
		return ConversionSummary{}, fmt.Errorf("spat4: points balance missing from %s page", current.kind)
	}

	summary := ConversionSummary{
		Rounds:       conversionRounds(balance, c.opts.MinimumConversionAmount, c.opts.MaxConversionsPerDay),
		StartBalance: balance,
		EndBalance:   balance,
	}
	slog.InfoContext(ctx, "starting point conversion",
		"account", c.account.Number,
		"balance", balance,
		"rounds", summary.Rounds,
	)

	for round := 1; round <= summary.Rounds; round++ {
		succeeded, err := c.convertRound(ctx, round, &summary)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "conversion round failed")
			return summary, err
		}
		if !succeeded {
			break
		}
		summary.Completed++

		if round < summary.Rounds {
			if err := c.waitBetweenRounds(ctx); err != nil {
				// shutdown, not a failure; whatever was converted stands
				break
			}
		}
	}

	slog.InfoContext(ctx, "point conversion finished",
		"account", c.account.Number,
		"completed", summary.Completed,
		"rounds", summary.Rounds,
		"balance", summary.EndBalance,
	)
	return summary, nil
}

// convertRound runs one exchange cycle. A false return means the round
// failed a page check or the balance did not go down, which ends the loop
// without failing the operation.
func (c *Client) convertRound(ctx context.Context, round int, summary *ConversionSummary) (bool, error) {
	ctx, span := tracer.Start(ctx, "client:convertRound")
	defer span.End()

	exchange, err := c.postPage(ctx, exchangeCashForm())
	if err != nil {
		return false, err
	}
	if exchange.kind != pageExchangeCash {
		slog.WarnContext(ctx, "expected exchange-for-cash page", "round", round, "got", exchange.kind.String())
		return false, nil
	}

	confirm, err := c.postPage(ctx, exchangeConfirmForm(c.opts.PointsInputValue))
	if err != nil {
		return false, err
	}
	if confirm.kind != pageExchangeConfirm {
		slog.WarnContext(ctx, "expected exchange confirmation page", "round", round, "got", confirm.kind.String())
		return false, nil
	}

	complete, err := c.postPage(ctx, exchangeCompleteForm(c.opts.PointsInputValue, c.account.Pin))
	if err != nil {
		return false, err
	}
	metaContent := ParseMetaRefresh(complete.doc)
	if metaContent == "" {
		slog.WarnContext(ctx, "completion page carries no redirect", "round", round, "got", complete.kind.String())
		return false, nil
	}

	keys, err := ParseRedirectKeys(metaContent)
	if err != nil {
		slog.WarnContext(ctx, "malformed completion redirect", "round", round, "content", metaContent, "err", err)
		return false, nil
	}
	home, err := c.getPage(ctx, map[string]string{
		fieldKey1: keys[fieldKey1],
		fieldKey2: keys[fieldKey2],
	})
	if err != nil {
		return false, err
	}

	next, ok := ParsePointsBalance(home.doc)
	if !ok || next >= summary.EndBalance {
		slog.WarnContext(ctx, "balance did not decrease, stopping conversion",
			"round", round,
			"balance", summary.EndBalance,
		)
		return false, nil
	}

	slog.InfoContext(ctx, "conversion round completed", "round", round, "balance", next)
	summary.EndBalance = next
	return true, nil
}

func (c *Client) waitBetweenRounds(ctx context.Context) error {
	timer := time.NewTimer(jitter(c.opts.MinConversionWait, c.opts.MaxConversionWait))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	ms, err := random.IntRange(int(min/time.Millisecond), int(max/time.Millisecond)+1)
	if err != nil {
		return min
	}
	return time.Duration(ms) * time.Millisecond
}

// Logout posts the logout function and verifies the session is gone. A
// session that already logged out reports success without a duplicate
// request; a session that never authenticated is a sequencing bug.
func (c *Client) Logout(ctx context.Context) error {
	switch c.state {
	case stateLoggedOut:
		return nil
	case stateAnonymous:
		return ErrNotAuthenticated
	}

	ctx, span := tracer.Start(ctx, "client:Logout")
	defer span.End()

	result, err := c.postPage(ctx, logoutForm())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "logout request failed")
		return err
	}
	if IsLoggedIn(result.doc, result.raw) {
		span.SetStatus(codes.Error, ErrLogoutFailed.Error())
		return ErrLogoutFailed
	}

	c.state = stateLoggedOut
	slog.InfoContext(ctx, "logged out", "account", c.account.Number)
	return nil
}
