package spat4

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

const testLoginPage = `<html><body>
<form id="f_login" action="/spat4/pp" method="post">
<input type="hidden" name="sid" value="SID123"/>
<input type="text" name="login_number"/>
</form>
<p>ログインはこちら</p>
</body></html>`

const testBalancePage = `<html><body>
<div class="validPointHead"><dl class="validPoint"><dd><strong>12,345<br/>pt</strong></dd></dl></div>
</body></html>`

const testCompletePage = `<html><head>
<meta http-equiv="refresh" content="0; url=/spat4/pp?key1=AAA&amp;key2=BBB"/>
</head><body></body></html>`

func parseDoc(t *testing.T, html string) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestParseSessionID(t *testing.T) {
	require.Equal(t, "SID123", ParseSessionID(parseDoc(t, testLoginPage)))
	require.Equal(t, "", ParseSessionID(parseDoc(t, "<html><body></body></html>")))
}

func TestIsLoggedIn(t *testing.T) {
	cases := []struct {
		name   string
		html   string
		expect bool
	}{
		{"login form present", testLoginPage, false},
		{"logged-out marker only", "<html><body>ログインはこちら</body></html>", false},
		{"member page", "<html><body><p>ようこそ</p></body></html>", true},
	}
	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.expect, IsLoggedIn(parseDoc(t, test.html), test.html))
		})
	}
}

func TestParsePointsBalance(t *testing.T) {
	balance, ok := ParsePointsBalance(parseDoc(t, testBalancePage))
	require.True(t, ok)
	require.Equal(t, int64(12345), balance)

	_, ok = ParsePointsBalance(parseDoc(t, "<html><body></body></html>"))
	require.False(t, ok)

	garbage := `<html><body>
<div class="validPointHead"><dl class="validPoint"><dd><strong>---</strong></dd></dl></div>
</body></html>`
	_, ok = ParsePointsBalance(parseDoc(t, garbage))
	require.False(t, ok)
}

func TestParseMetaRefresh(t *testing.T) {
	require.Equal(t,
		"0; url=/spat4/pp?key1=AAA&key2=BBB",
		ParseMetaRefresh(parseDoc(t, testCompletePage)),
	)
	require.Equal(t, "", ParseMetaRefresh(parseDoc(t, "<html><head></head></html>")))
}

func TestParseRedirectKeys(t *testing.T) {
	keys, err := ParseRedirectKeys("0; url=/spat4/pp?key1=AAA&key2=BBB")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"key1": "AAA", "key2": "BBB"}, keys)
}

func TestIdentifyPage(t *testing.T) {
	cases := []struct {
		name   string
		html   string
		expect pageKind
	}{
		{"login", testLoginPage, pageLogin},
		{"use points", "<html><body><script>7,17500000,100000,CK000007</script></body></html>", pageUsePoints},
		{"exchange confirm", `<html><body><form id="f_send"></form>現金と交換する</body></html>`, pageExchangeConfirm},
		{"exchange complete", testCompletePage, pageExchangeComplete},
		{"exchange for cash", "<html><body><a>現金と交換する</a></body></html>", pageExchangeCash},
		{"unknown", "<html><body>error</body></html>", pageUnknown},
	}
	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.expect, identifyPage(parseDoc(t, test.html), test.html))
		})
	}
}

func TestConversionRounds(t *testing.T) {
	cases := []struct {
		balance   int64
		minimum   int64
		maxPerDay int
		expect    int
	}{
		{55000, 10000, 10, 5},
		{55000, 10000, 3, 3},
		{9999, 10000, 10, 0},
		{0, 10000, 10, 0},
		{100000, 10000, 0, 0},
	}
	for _, test := range cases {
		require.Equal(t, test.expect, conversionRounds(test.balance, test.minimum, test.maxPerDay))
	}
}
