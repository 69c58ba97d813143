package risk

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ValidateCredentials runs shape checks on exchange API credentials before
// any signed call is attempted, so an obviously bad key fails at startup
// with a clear message instead of as a -2014 mid-cycle.
func ValidateCredentials(apiKey, secretKey string, testnet bool, log zerolog.Logger) error {
	if err := checkKeyShape("api key", apiKey); err != nil {
		return err
	}
	if err := checkKeyShape("secret key", secretKey); err != nil {
		return err
	}
	if testnet {
		log.Warn().Msg("testnet credentials in use; orders go to the demo exchange")
	}
	return nil
}

func checkKeyShape(name, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%s is empty", name)
	}
	if len(key) < 20 {
		return fmt.Errorf("%s looks truncated (%d chars)", name, len(key))
	}
	for _, placeholder := range []string{"your_", "changeme", "xxx", "<", ">"} {
		if strings.Contains(strings.ToLower(key), placeholder) {
			return fmt.Errorf("%s looks like a placeholder value", name)
		}
	}
	stripped := strings.NewReplacer("-", "", "_", "").Replace(key)
	for _, r := range stripped {
		if !isAlnum(r) {
			return fmt.Errorf("%s contains unexpected character %q", name, r)
		}
	}
	return nil
}

func isAlnum(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
