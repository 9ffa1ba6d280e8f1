package validation

import (
	"net/url"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

type Violations map[string]string

func (v Violations) Empty() bool { return len(v) == 0 }

// Basic validators
func Required(field, value string, v Violations) {
	if strings.TrimSpace(value) == "" {
		v[field] = "required"
	}
}

func NonNegative(field string, val int64, v Violations) {
	if val < 0 {
		v[field] = "must_not_be_negative"
	}
}

func PositiveDecimal(field string, val decimal.Decimal, v Violations) {
	if !val.IsPositive() {
		v[field] = "must_be_positive"
	}
}

func NonNegativeDecimal(field string, val decimal.Decimal, v Violations) {
	if val.IsNegative() {
		v[field] = "must_not_be_negative"
	}
}

func RangeDecimal(field string, val, minVal, maxVal decimal.Decimal, v Violations) {
	if val.LessThan(minVal) || val.GreaterThan(maxVal) {
		v[field] = "out_of_range"
	}
}

// HTTPURL requires an absolute http(s) URL with a host.
func HTTPURL(field, raw string, v Violations) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		v[field] = "invalid_url"
	}
}

// SubsetOf requires every value to be one of allowed, and at least one value.
func SubsetOf(field string, values, allowed []string, v Violations) {
	if len(values) == 0 {
		v[field] = "required"
		return
	}
	if bad, _ := lo.Difference(values, allowed); len(bad) > 0 {
		v[field] = "unknown_value:" + bad[0]
	}
}
