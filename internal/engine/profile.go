package engine

import (
	"regexp"
	"strings"

	"admitHub/internal/database"
)

var (
	usPostalCodeRe = regexp.MustCompile(`^\d{5}(-\d{5})?$`)
	caPostalCodeRe = regexp.MustCompile(`^[A-Za-z]\d[A-Za-z] ?\d[A-Za-z]\d$`)
)

// ValidPostalCode 校验邮编：US 为 NNNNN 或 NNNNN-NNNNN，CA 为 ANA NAN（字母不分大小写）。
// 其余国家不做格式限制，只要求非空。
func ValidPostalCode(country, code string) bool {
	code = strings.TrimSpace(code)
	if code == "" {
		return false
	}
	switch strings.ToUpper(strings.TrimSpace(country)) {
	case "US":
		return usPostalCodeRe.MatchString(code)
	case "CA":
		return caPostalCodeRe.MatchString(code)
	default:
		return true
	}
}

// ProfileComplete 判断用户资料是否满足申请推进的最低要求：
// 姓名、电话与完整合法地址（含通过校验的邮编）。
func ProfileComplete(u *database.User) bool {
	if strings.TrimSpace(u.FirstName) == "" ||
		strings.TrimSpace(u.LastName) == "" ||
		strings.TrimSpace(u.Phone) == "" {
		return false
	}
	if strings.TrimSpace(u.Country) == "" ||
		strings.TrimSpace(u.City) == "" ||
		strings.TrimSpace(u.AddressLine) == "" {
		return false
	}
	return ValidPostalCode(u.Country, u.PostalCode)
}
