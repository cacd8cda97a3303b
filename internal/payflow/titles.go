package payflow

import "strings"

const defaultMethodTitle = "Credit / Debit Card"

var methodTitles = map[string]string{
	"card":              defaultMethodTitle,
	"sepa_debit":        "SEPA Direct Debit",
	"us_bank_account":   "ACH Direct Debit",
	"ideal":             "iDEAL",
	"bancontact":        "Bancontact",
	"giropay":           "giropay",
	"sofort":            "Sofort",
	"p24":               "Przelewy24 (P24)",
	"eps":               "EPS",
	"link":              "Link",
	"klarna":            "Klarna",
	"affirm":            "Affirm",
	"afterpay_clearpay": "Afterpay",
}

var walletTitles = map[string]string{
	"apple_pay":  "Apple Pay",
	"google_pay": "Google Pay",
}

// types that can be charged again without the shopper present
var reusableMethodTypes = map[string]bool{
	"card":            true,
	"sepa_debit":      true,
	"us_bank_account": true,
	"link":            true,
}

// MethodTitle derives the order's payment method title from intent details.
func MethodTitle(d MethodDetails) string {
	if title, ok := walletTitles[strings.ToLower(d.Wallet)]; ok {
		return title
	}
	if title, ok := methodTitles[strings.ToLower(d.Type)]; ok {
		return title
	}
	return defaultMethodTitle
}

func reusableMethod(d MethodDetails) bool {
	if d.Type == "" {
		return true
	}
	return reusableMethodTypes[strings.ToLower(d.Type)]
}
