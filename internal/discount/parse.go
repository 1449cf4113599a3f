package discount

import (
	"fmt"
	"strings"

	"github.com/noah-isme/backend-pos/internal/money"
)

// ParseRules reads rules written as "CODE=kind:value[:minSpend]" separated by
// semicolons, e.g. "WELCOME=percent:10;FIVEOFF=fixed:5:20".
func ParseRules(raw string) ([]Rule, error) {
	var rules []Rule
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		code, def, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("%w: %q missing '='", ErrInvalidRule, entry)
		}
		parts := strings.Split(def, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRule, entry)
		}
		value, err := money.Parse(parts[1])
		if err != nil {
			return nil, fmt.Errorf("%w: %q value", ErrInvalidRule, entry)
		}
		r := Rule{
			Code:  normalizeCode(code),
			Kind:  Kind(strings.ToLower(strings.TrimSpace(parts[0]))),
			Value: value,
		}
		if len(parts) == 3 {
			if r.MinSpend, err = money.Parse(parts[2]); err != nil {
				return nil, fmt.Errorf("%w: %q minimum spend", ErrInvalidRule, entry)
			}
		}
		if err := r.Check(); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}
