package respond

import (
	"regexp"
)

var (
	// Telegram bot tokens, both bare and embedded in Bot API URLs.
	botTokenPattern = regexp.MustCompile(`\d{6,}:[A-Za-z0-9_-]{30,}`)

	// Password inside a DSN.
	dbPasswordPattern = regexp.MustCompile(`://([^:/@]+):([^@]+)@`)

	// Bearer credentials echoed back in transport errors.
	bearerPattern = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]+`)
)

// SanitizeError returns err's message with credentials masked.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return Sanitize(err.Error())
}

// Sanitize masks credentials in msg.
func Sanitize(msg string) string {
	msg = botTokenPattern.ReplaceAllString(msg, "****")
	msg = dbPasswordPattern.ReplaceAllString(msg, "://$1:****@")
	msg = bearerPattern.ReplaceAllString(msg, "Bearer ****")
	return msg
}
