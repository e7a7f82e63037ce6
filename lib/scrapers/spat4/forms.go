package spat4

// Every page of the portal is served from the single /spat4/pp endpoint;
// navigation happens through form posts distinguished by these fields.
const (
	fieldFunction       = "fid"
	fieldNextFunction   = "next_fid"
	fieldMedia          = "media"
	fieldPageKind       = "pkind"
	fieldPageTarget     = "pname"
	fieldNextPageKind   = "next_pkind"
	fieldNextPageTarget = "next_pname"
	fieldP1             = "p1"
	fieldP2             = "p2"
	fieldP3             = "p3"
	fieldP4             = "p4"
	fieldP5             = "p5"
	fieldSessionID      = "sid"
	fieldLoginNumber    = "login_number"
	fieldLoginPassword  = "login_ID"
	fieldPinNumber      = "pass_number"
	fieldKey1           = "key1"
	fieldKey2           = "key2"
	fieldX              = "x"
	fieldY              = "Y"
)

const (
	functionIndex        = "Index"
	functionLogin        = "Login"
	functionPoints       = "Point"
	functionExchangeCash = "ExchangeCash"
	functionLogout       = "Logout"

	pageIndex                = "index"
	pageExchangeCashName     = "exchange_cash"
	pageExchangeConfirmName  = "exchange_cash_confirm"
	pageExchangeCompleteName = "exchange_cash_complete"

	kindMember       = "member"
	kindPoints       = "point"
	kindExchangeCash = "cash"

	mediaPC = "pc"
)

// x/y below are artifacts of the portal's server-side image-submit button;
// it rejects the completion post without them.
const (
	imageButtonX = "86"
	imageButtonY = "23 "
)

func loginForm(sessionID string, account Account) map[string]string {
	return map[string]string{
		fieldFunction:       functionLogin,
		fieldMedia:          mediaPC,
		fieldPageKind:       "",
		fieldPageTarget:     pageIndex,
		fieldNextFunction:   functionIndex,
		fieldNextPageKind:   kindMember,
		fieldNextPageTarget: pageIndex,
		fieldP1:             "",
		fieldP2:             "",
		fieldP3:             "",
		fieldP4:             "",
		fieldP5:             "",
		fieldSessionID:      sessionID,
		fieldLoginNumber:    account.Number,
		fieldLoginPassword:  account.Password,
	}
}

func usePointsForm() map[string]string {
	return map[string]string{
		fieldFunction:   functionPoints,
		fieldMedia:      mediaPC,
		fieldPageKind:   kindPoints,
		fieldPageTarget: pageIndex,
		fieldP1:         "",
		fieldP2:         "",
		fieldP3:         "",
		fieldP4:         "",
		fieldP5:         "",
	}
}

func exchangeCashForm() map[string]string {
	return map[string]string{
		fieldFunction:   functionExchangeCash,
		fieldMedia:      mediaPC,
		fieldPageKind:   kindExchangeCash,
		fieldPageTarget: pageExchangeCashName,
		fieldP1:         "",
		fieldP2:         "",
		fieldP3:         "",
		fieldP4:         "",
		fieldP5:         "",
	}
}

func exchangeConfirmForm(pointsValue string) map[string]string {
	return map[string]string{
		fieldFunction:   functionExchangeCash,
		fieldMedia:      mediaPC,
		fieldPageKind:   kindExchangeCash,
		fieldPageTarget: pageExchangeConfirmName,
		fieldP1:         pointsValue,
		fieldP2:         "",
		fieldP3:         "",
		fieldP4:         "",
		fieldP5:         "",
	}
}

func exchangeCompleteForm(pointsValue, pin string) map[string]string {
	return map[string]string{
		fieldFunction:   functionExchangeCash,
		fieldMedia:      mediaPC,
		fieldPageKind:   kindExchangeCash,
		fieldPageTarget: pageExchangeCompleteName,
		fieldP1:         pointsValue,
		fieldP2:         "",
		fieldPinNumber:  pin,
		fieldX:          imageButtonX,
		fieldY:          imageButtonY,
	}
}

func logoutForm() map[string]string {
	// the browser also sends sid here but the portal ignores it
	return map[string]string{
		fieldFunction:   functionLogout,
		fieldMedia:      mediaPC,
		fieldPageKind:   kindMember,
		fieldPageTarget: pageIndex,
		fieldP1:         "",
		fieldP2:         "",
		fieldP3:         "",
		fieldP4:         "",
		fieldP5:         "",
	}
}
