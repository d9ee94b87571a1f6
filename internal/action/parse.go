package action

import (
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"strconv"
	"strings"
	"time"

	"sacngen/internal/dmx"
	"sacngen/internal/preset"
)

type parseFunc func(args []string) (Action, error)

var commands = map[string]parseFunc{
	"d": parseSendData, "data": parseSendData,
	"a": parseSendAll, "all": parseSendAll,
	"f": parseSendFull, "full": parseSendFull,
	"s": parseOverTime, "over": parseOverTime,
	"r": parseRegister, "register": parseRegister,
	"u": parseUnicast, "unicast": parseUnicast,
	"us": parseUnicastSync, "unicast_sync": parseUnicastSync,
	"y": parseSync, "sync": parseSync,
	"w": parseSleep, "sleep": parseSleep,
	"p": parsePreview, "preview": parsePreview,
	"x": parseTerminate, "terminate": parseTerminate,
	"t": parseTest, "test": parseTest,
}

// Tokens returns every accepted command token, sorted.
func Tokens() []string {
	out := make([]string, 0, len(commands))
	for tok := range commands {
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

// Parse parses a single command line.
func Parse(text string) (Action, error) {
	return ParseLine(0, text)
}

// ParseLine parses a command line; n is its line number for error reporting.
// Blank lines and lines starting with '#' yield Ignore.
func ParseLine(n int, text string) (Action, error) {
	text = strings.TrimSpace(text)
	if text == "" || strings.HasPrefix(text, "#") {
		return Ignore{}, nil
	}

	fields := strings.Fields(text)
	tok := strings.ToLower(fields[0])
	parse, ok := commands[tok]
	if !ok {
		return nil, &ParseError{
			Line:   n,
			Token:  fields[0],
			Reason: "unknown command, expected one of " + strings.Join(Tokens(), " "),
		}
	}

	a, err := parse(fields[1:])
	if err != nil {
		var perr *ParseError
		if errors.As(err, &perr) {
			perr.Line = n
			return nil, perr
		}
		return nil, &ParseError{Line: n, Token: fields[0], Reason: "bad arguments", Err: err}
	}
	return a, nil
}

func parseSendData(args []string) (Action, error) {
	if err := atLeast(args, 3, "<universe> <address> <value>..."); err != nil {
		return nil, err
	}
	u, err := parseUniverse(args[0])
	if err != nil {
		return nil, err
	}
	addr, err := parseAddress(args[1])
	if err != nil {
		return nil, err
	}
	values, err := parseValues(args[2:])
	if err != nil {
		return nil, err
	}
	return SendData{Universe: u, Address: addr, Values: values}, nil
}

func parseSendAll(args []string) (Action, error) {
	if err := exactly(args, 3, "<universe> <span> <value>"); err != nil {
		return nil, err
	}
	u, err := parseUniverse(args[0])
	if err != nil {
		return nil, err
	}
	span, err := strconv.Atoi(args[1])
	if err != nil || span < 0 || span > dmx.MaxChannels {
		return nil, &ParseError{Token: args[1], Reason: fmt.Sprintf("span must be 0..%d", dmx.MaxChannels)}
	}
	v, err := parseValue(args[2])
	if err != nil {
		return nil, err
	}
	return SendAllData{Universe: u, Span: span, Value: v}, nil
}

func parseSendFull(args []string) (Action, error) {
	if err := atLeast(args, 1, "<universe> <value>..."); err != nil {
		return nil, err
	}
	u, err := parseUniverse(args[0])
	if err != nil {
		return nil, err
	}
	values, err := parseValues(args[1:])
	if err != nil {
		return nil, err
	}
	return SendFullData{Universe: u, Values: values}, nil
}

func parseOverTime(args []string) (Action, error) {
	if err := atLeast(args, 3, "<universe> <duration> <value>..."); err != nil {
		return nil, err
	}
	u, err := parseUniverse(args[0])
	if err != nil {
		return nil, err
	}
	d, err := parseDuration(args[1])
	if err != nil {
		return nil, err
	}
	if d == 0 {
		return nil, &ParseError{Token: args[1], Reason: "duration must be positive"}
	}
	values, err := parseValues(args[2:])
	if err != nil {
		return nil, err
	}
	return SendDataOverTime{Universe: u, Duration: d, Values: values}, nil
}

func parseRegister(args []string) (Action, error) {
	if err := exactly(args, 1, "<universe>"); err != nil {
		return nil, err
	}
	u, err := parseUniverse(args[0])
	if err != nil {
		return nil, err
	}
	return Register{Universe: u}, nil
}

func parseUnicast(args []string) (Action, error) {
	if err := atLeast(args, 4, "<destination> <universe> <address> <value>..."); err != nil {
		return nil, err
	}
	dst, err := parseDestination(args[0])
	if err != nil {
		return nil, err
	}
	a, err := parseSendData(args[1:])
	if err != nil {
		return nil, err
	}
	sd := a.(SendData)
	return Unicast{Dst: dst, Universe: sd.Universe, Address: sd.Address, Values: sd.Values}, nil
}

func parseUnicastSync(args []string) (Action, error) {
	if err := exactly(args, 2, "<destination> <sync universe>"); err != nil {
		return nil, err
	}
	dst, err := parseDestination(args[0])
	if err != nil {
		return nil, err
	}
	sync, err := parseUniverse(args[1])
	if err != nil {
		return nil, err
	}
	return UnicastSync{Dst: dst, Sync: sync}, nil
}

func parseSync(args []string) (Action, error) {
	if err := exactly(args, 1, "<sync universe>"); err != nil {
		return nil, err
	}
	sync, err := parseUniverse(args[0])
	if err != nil {
		return nil, err
	}
	return Sync{Sync: sync}, nil
}

func parseSleep(args []string) (Action, error) {
	if err := exactly(args, 1, "<duration>"); err != nil {
		return nil, err
	}
	d, err := parseDuration(args[0])
	if err != nil {
		return nil, err
	}
	return Sleep{Duration: d}, nil
}

func parsePreview(args []string) (Action, error) {
	if err := exactly(args, 0, ""); err != nil {
		return nil, err
	}
	return Preview{}, nil
}

func parseTerminate(args []string) (Action, error) {
	switch len(args) {
	case 0:
		return Terminate{}, nil
	case 1:
		u, err := parseUniverse(args[0])
		if err != nil {
			return nil, err
		}
		return Terminate{Universe: u}, nil
	}
	return nil, &ParseError{Token: args[1], Reason: "expected [universe]"}
}

func parseTest(args []string) (Action, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, &ParseError{Reason: "expected <preset id> [destination]"}
	}
	id, err := strconv.Atoi(args[0])
	if err != nil || id < 1 {
		return nil, &ParseError{Token: args[0], Reason: "preset id must be a positive number"}
	}
	a := RunTestPreset{ID: preset.ID(id)}
	if len(args) == 2 {
		if a.Dst, err = parseDestination(args[1]); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func exactly(args []string, n int, usage string) error {
	if len(args) == n {
		return nil
	}
	if n == 0 {
		return &ParseError{Token: args[0], Reason: "takes no arguments"}
	}
	return &ParseError{Reason: fmt.Sprintf("expected %s, got %d arguments", usage, len(args))}
}

func atLeast(args []string, n int, usage string) error {
	if len(args) >= n {
		return nil
	}
	return &ParseError{Reason: fmt.Sprintf("expected %s, got %d arguments", usage, len(args))}
}

func parseUniverse(s string) (dmx.Universe, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, &ParseError{Token: s, Reason: "universe is not a number", Err: err}
	}
	u := dmx.Universe(n)
	if err := u.Validate(); err != nil {
		return 0, &ParseError{Token: s, Reason: fmt.Sprintf("universe must be %d..%d", dmx.MinUniverse, dmx.MaxUniverse), Err: err}
	}
	return u, nil
}

func parseAddress(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > dmx.MaxChannels {
		return 0, &ParseError{Token: s, Reason: fmt.Sprintf("address must be 1..%d", dmx.MaxChannels)}
	}
	return n, nil
}

func parseValue(s string) (byte, error) {
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, &ParseError{Token: s, Reason: "value must be 0..255", Err: err}
	}
	return byte(n), nil
}

func parseValues(args []string) ([]byte, error) {
	out := make([]byte, len(args))
	for i, s := range args {
		v, err := parseValue(s)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// parseDuration accepts Go durations ("500ms", "20s") and bare milliseconds.
func parseDuration(s string) (time.Duration, error) {
	if n, err := strconv.ParseUint(s, 10, 32); err == nil {
		return time.Duration(n) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &ParseError{Token: s, Reason: "bad duration", Err: err}
	}
	if d < 0 {
		return 0, &ParseError{Token: s, Reason: "duration must not be negative"}
	}
	return d, nil
}

func parseDestination(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, &ParseError{Token: s, Reason: "bad destination address", Err: err}
	}
	addr = addr.Unmap()
	if !addr.Is4() {
		return netip.Addr{}, &ParseError{Token: s, Reason: "destination must be an IPv4 address"}
	}
	return addr, nil
}
