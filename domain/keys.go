package domain

import "strings"

var keySanitizer = strings.NewReplacer(
	".", "_dot_",
	"$", "_dollar_",
	"#", "_hash_",
	"[", "_lbracket_",
	"]", "_rbracket_",
	"/", "_slash_",
)

var keyDesanitizer = strings.NewReplacer(
	"_dot_", ".",
	"_dollar_", "$",
	"_hash_", "#",
	"_lbracket_", "[",
	"_rbracket_", "]",
	"_slash_", "/",
)

// SanitizeKey turns an email address into a participant key that is safe to
// use as a record path segment in the shared store.
func SanitizeKey(email string) string {
	return keySanitizer.Replace(strings.ToLower(email))
}

func DesanitizeKey(key string) string {
	return keyDesanitizer.Replace(key)
}
