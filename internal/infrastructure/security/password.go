package security

import (
	"strings"
	"unicode"

	"github.com/pantrylab/pantryd/internal/domain"
)

const minPasswordLength = 8

// commonPasswords is a static deny-list checked case-insensitively.
var commonPasswords = map[string]bool{
	"password": true, "123456": true, "12345678": true, "qwerty": true,
	"abc123": true, "monkey": true, "1234567": true, "letmein": true,
	"trustno1": true, "dragon": true, "baseball": true, "111111": true,
	"iloveyou": true, "master": true, "sunshine": true, "ashley": true,
	"bailey": true, "passw0rd": true, "shadow": true, "123123": true,
	"654321": true, "superman": true, "qazwsx": true, "michael": true,
	"football": true, "welcome": true, "jesus": true, "ninja": true,
	"mustang": true, "password1": true, "123456789": true, "adobe123": true,
	"admin": true, "1234567890": true, "photoshop": true, "1234": true,
	"12345": true, "princess": true, "azerty": true, "000000": true,
	"access": true, "696969": true, "batman": true, "1qaz2wsx": true,
	"login": true, "qwertyuiop": true, "solo": true, "starwars": true,
	"whatever": true, "donald": true, "charlie": true, "aa123456": true,
	"freedom": true, "lovely": true, "7777777": true, "888888": true,
	"flower": true, "hottie": true, "loveme": true, "zaq1zaq1": true,
	"password123": true, "!@#$%^&*": true, "hello": true, "computer": true,
	"121212": true, "123321": true, "1q2w3e4r": true, "secret": true,
	"123qwe": true, "test": true, "123abc": true, "password!": true,
	"qwerty123": true, "welcome123": true, "admin123": true,
}

// ValidatePassword enforces the registration password policy:
// minimum length, all four character classes, not a known common
// password, and not containing the email local part.
func ValidatePassword(password, email string) error {
	if len(password) < minPasswordLength {
		return domain.ErrWeakPassword("must be at least 8 characters")
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSymbol = true
		}
	}
	switch {
	case !hasUpper:
		return domain.ErrWeakPassword("must contain an uppercase letter")
	case !hasLower:
		return domain.ErrWeakPassword("must contain a lowercase letter")
	case !hasDigit:
		return domain.ErrWeakPassword("must contain a digit")
	case !hasSymbol:
		return domain.ErrWeakPassword("must contain a symbol")
	}

	if commonPasswords[strings.ToLower(password)] {
		return domain.ErrWeakPassword("too common")
	}

	if local := emailLocalPart(email); local != "" &&
		strings.Contains(strings.ToLower(password), strings.ToLower(local)) {
		return domain.ErrWeakPassword("must not contain your email name")
	}

	return nil
}

// PasswordStrength scores a password 0-4: length and character variety
// add points, repeated runs and sequential patterns subtract.
func PasswordStrength(password string) int {
	score := 0

	if len(password) >= 8 {
		score++
	}
	if len(password) >= 12 {
		score++
	}
	if len(password) >= 16 {
		score++
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSymbol = true
		}
	}
	variety := 0
	for _, b := range []bool{hasUpper, hasLower, hasDigit, hasSymbol} {
		if b {
			variety++
		}
	}
	if variety >= 3 {
		score++
	}
	if variety == 4 {
		score++
	}

	if hasRepeatedRun(password, 3) {
		score--
	}
	if hasSequentialRun(strings.ToLower(password), 3) {
		score--
	}

	if score < 0 {
		return 0
	}
	if score > 4 {
		return 4
	}
	return score
}

func emailLocalPart(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return ""
	}
	return email[:at]
}

// hasRepeatedRun reports n or more identical consecutive runes.
func hasRepeatedRun(s string, n int) bool {
	runes := []rune(s)
	run := 1
	for i := 1; i < len(runes); i++ {
		if runes[i] == runes[i-1] {
			run++
			if run >= n {
				return true
			}
		} else {
			run = 1
		}
	}
	return false
}

// hasSequentialRun reports n or more consecutive ascending letters or digits.
func hasSequentialRun(s string, n int) bool {
	runes := []rune(s)
	run := 1
	for i := 1; i < len(runes); i++ {
		cur, prev := runes[i], runes[i-1]
		ascending := cur == prev+1 &&
			((cur >= 'a' && cur <= 'z' && prev >= 'a') || (cur >= '0' && cur <= '9' && prev >= '0'))
		if ascending {
			run++
			if run >= n {
				return true
			}
		} else {
			run = 1
		}
	}
	return false
}
