package spat4

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	selectorLoginForm      = "form#f_login"
	selectorLoginSessionID = "form#f_login input[name=sid]"
	selectorConfirmForm    = "form#f_send"
	selectorMetaRefresh    = `meta[http-equiv="refresh"]`
	selectorPointsBalance  = "div.validPointHead dl.validPoint dd strong"
)

const (
	metaRefreshPrefix  = "0; url="
	redirectPathPrefix = "/spat4/pp?"

	// "log in here", shown to anonymous visitors
	markerLoggedOut = "ログインはこちら"
	// "exchange for cash"
	markerExchangeCash = "現金と交換する"
	// opaque widget data that only ever appears on the use-points page
	markerUsePoints = "7,17500000,100000,CK000007"
)

// pageKind classifies a response by its semantic identity. The portal
// returns HTTP 200 for expired sessions and validation errors alike, so
// the state machine transitions on this tag, never on status codes.
type pageKind int

const (
	pageUnknown pageKind = iota
	pageLogin
	pageUsePoints
	pageExchangeConfirm
	pageExchangeComplete
	pageExchangeCash
)

func (k pageKind) String() string {
	switch k {
	case pageLogin:
		return "login"
	case pageUsePoints:
		return "use-points"
	case pageExchangeCash:
		return "exchange-for-cash"
	case pageExchangeConfirm:
		return "exchange-confirm"
	case pageExchangeComplete:
		return "exchange-complete"
	}
	return "unknown"
}

// identifyPage checks the most specific markers first: the confirm form and
// the completion redirect can coexist with the generic exchange text, so
// they must win over it.
func identifyPage(doc *goquery.Document, raw string) pageKind {
	switch {
	case doc.Find(selectorLoginForm).Length() > 0:
		return pageLogin
	case strings.Contains(raw, markerUsePoints):
		return pageUsePoints
	case doc.Find(selectorConfirmForm).Length() > 0:
		return pageExchangeConfirm
	case ParseMetaRefresh(doc) != "":
		return pageExchangeComplete
	case strings.Contains(raw, markerExchangeCash):
		return pageExchangeCash
	}
	return pageUnknown
}

// ParseSessionID returns the hidden session token from the login form,
// or an empty string when the form or field is absent.
func ParseSessionID(doc *goquery.Document) string {
	return strings.TrimSpace(doc.Find(selectorLoginSessionID).AttrOr("value", ""))
}

// IsLoggedIn reports whether the page was rendered for an authenticated
// session: no login form and none of the logged-out marker texts.
func IsLoggedIn(doc *goquery.Document, raw string) bool {
	if doc.Find(selectorLoginForm).Length() > 0 {
		return false
	}
	return !strings.Contains(raw, markerLoggedOut)
}

var nonNumericRegex = regexp.MustCompile(`[^.0-9]`)

// ParsePointsBalance extracts the point balance from the balance widget.
// The widget renders something like "12,345<br/>pt"; everything but digits
// and the decimal point is stripped before parsing. Missing element or
// unparsable text reports absence, never an error.
func ParsePointsBalance(doc *goquery.Document) (int64, bool) {
	sel := doc.Find(selectorPointsBalance)
	if sel.Length() == 0 {
		return 0, false
	}
	sanitized := nonNumericRegex.ReplaceAllString(sel.First().Text(), "")
	value, err := strconv.ParseInt(sanitized, 10, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// ParseMetaRefresh returns the content attribute of the meta-refresh tag
// the completion page uses as its redirect, or an empty string.
func ParseMetaRefresh(doc *goquery.Document) string {
	return strings.TrimSpace(doc.Find(selectorMetaRefresh).AttrOr("content", ""))
}

// ParseRedirectKeys parses meta-refresh content of the form
// "0; url=/spat4/pp?key1=...&key2=..." into its query parameters.
func ParseRedirectKeys(metaContent string) (map[string]string, error) {
	query := strings.ReplaceAll(metaContent, metaRefreshPrefix, "")
	query = strings.ReplaceAll(query, redirectPathPrefix, "")

	values, err := url.ParseQuery(query)
	if err != nil {
		return nil, err
	}
	keys := make(map[string]string, len(values))
	for key := range values {
		keys[key] = values.Get(key)
	}
	return keys, nil
}
