package presence

import (
	"fmt"
	"sync"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var (
	parserOnce sync.Once
	parser     *when.Parser
)

func awayParser() *when.Parser {
	parserOnce.Do(func() {
		parser = when.New(nil)
		parser.Add(en.All...)
		parser.Add(common.All...)
	})
	return parser
}

// ParseAwayUntil parses a natural-language "away until" phrase such as
// "tomorrow at 9am" or "in 2 hours" relative to now, returning the
// resolved time. This is a CLI-only convenience: the engine and
// broadcast wire format only ever carry the parsed *time.Time, never
// the original phrase.
func ParseAwayUntil(phrase string, now time.Time) (time.Time, error) {
	res, err := awayParser().Parse(phrase, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("presence: parse away-until phrase: %w", err)
	}
	if res == nil {
		return time.Time{}, fmt.Errorf("presence: could not resolve away-until phrase %q", phrase)
	}
	return res.Time, nil
}
