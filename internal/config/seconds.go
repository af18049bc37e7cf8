package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// secondsValue is a duration flag that also takes a bare number of seconds,
// so both --delay 2.5 and --delay 2500ms work.
type secondsValue time.Duration

func (s *secondsValue) String() string { return time.Duration(*s).String() }

// Type shows up in --help next to the flag name.
func (s *secondsValue) Type() string { return "seconds" }

func (s *secondsValue) Set(raw string) error {
	raw = strings.TrimSpace(raw)
	var d time.Duration
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		d = time.Duration(secs * float64(time.Second))
	} else {
		parsed, perr := time.ParseDuration(raw)
		if perr != nil {
			return fmt.Errorf("want seconds or a duration like 1m30s, got %q", raw)
		}
		d = parsed
	}
	if d < 0 {
		return fmt.Errorf("must not be negative, got %q", raw)
	}
	*s = secondsValue(d)
	return nil
}

// SecondsFlag defines a duration flag on fs that accepts plain seconds as
// well as Go duration strings.
func SecondsFlag(fs *pflag.FlagSet, name string, value time.Duration, usage string) {
	v := secondsValue(value)
	fs.Var(&v, name, usage)
}
