package scanapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"signalpulse/models"
)

// The backend keys result rows by their display labels. Snake-case keys are
// accepted as well.
var (
	keySymbol   = []string{"Symbol", "symbol"}
	keySide     = []string{"Side", "side"}
	keyPrice    = []string{"Price", "price"}
	keyChange   = []string{"24h Change", "change_24h"}
	keyRSI      = []string{"RSI (15m)", "RSI", "rsi"}
	keyADX      = []string{"ADX (15m)", "ADX", "adx"}
	keyRVOL     = []string{"RVOL (15m)", "RVOL", "rvol"}
	keyBBW      = []string{"BB Width (15m)", "BBW", "bb_width"}
	keyType     = []string{"Type", "type"}
	keyExchange = []string{"Exchange", "exchange"}
)

var stackKeys = []struct {
	timeframe string
	keys      []string
}{
	{"4H", []string{"4H EMA Stack"}},
	{"1H", []string{"1H EMA Stack"}},
	{"15m", []string{"15m EMA Stack"}},
}

var errMissingSymbol = errors.New("result has no symbol")

// decodeResult maps one wire row into a typed result.
func decodeResult(row map[string]json.RawMessage) (models.ScanResult, error) {
	var r models.ScanResult

	symbol, _, err := stringField(row, keySymbol)
	if err != nil {
		return r, err
	}
	if symbol == "" {
		return r, errMissingSymbol
	}
	r.Symbol = symbol

	sideText, _, err := stringField(row, keySide)
	if err != nil {
		return r, err
	}
	if r.Side, err = models.ParseSide(sideText); err != nil {
		return r, fmt.Errorf("%s: %w", symbol, err)
	}

	if r.Price, _, err = stringField(row, keyPrice); err != nil {
		return r, err
	}

	if text, ok, err := stringField(row, keyChange); err != nil {
		return r, err
	} else if ok {
		d, err := decimal.NewFromString(strings.TrimSuffix(strings.TrimSpace(text), "%"))
		if err != nil {
			return r, fmt.Errorf("%s: 24h change %q: %w", symbol, text, err)
		}
		r.Change24h = decimal.NewNullDecimal(d)
	}

	for _, f := range []struct {
		keys []string
		dst  **float64
	}{
		{keyRSI, &r.RSI},
		{keyADX, &r.ADX},
		{keyRVOL, &r.RVOL},
		{keyBBW, &r.BBWidth},
	} {
		if *f.dst, err = numberField(row, f.keys); err != nil {
			return r, fmt.Errorf("%s: %w", symbol, err)
		}
	}

	typeText, _, err := stringField(row, keyType)
	if err != nil {
		return r, err
	}
	r.Type = models.SetupType(strings.ToUpper(typeText))

	if r.Exchange, _, err = stringField(row, keyExchange); err != nil {
		return r, err
	}
	r.Exchange = strings.ToLower(r.Exchange)

	for _, s := range stackKeys {
		raw, ok := lookup(row, s.keys)
		if !ok {
			continue
		}
		pass, err := passField(raw)
		if err != nil {
			return r, fmt.Errorf("%s: %s stack: %w", symbol, s.timeframe, err)
		}
		r.Stacks = append(r.Stacks, models.StackCheck{Timeframe: s.timeframe, Pass: pass})
	}

	return r, nil
}

// lookup returns the first present, non-null value among keys.
func lookup(row map[string]json.RawMessage, keys []string) (json.RawMessage, bool) {
	for _, k := range keys {
		raw, ok := row[k]
		if !ok {
			continue
		}
		if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return nil, false
		}
		return raw, true
	}
	return nil, false
}

// stringField accepts a JSON string or number and returns its text.
func stringField(row map[string]json.RawMessage, keys []string) (string, bool, error) {
	raw, ok := lookup(row, keys)
	if !ok {
		return "", false, nil
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false, fmt.Errorf("%s: %w", keys[0], err)
		}
		return strings.TrimSpace(s), true, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", false, fmt.Errorf("%s: expected string or number", keys[0])
	}
	return n.String(), true, nil
}

// numberField accepts a JSON number or numeric string. Absent, null and
// empty values yield nil.
func numberField(row map[string]json.RawMessage, keys []string) (*float64, error) {
	text, ok, err := stringField(row, keys)
	if err != nil || !ok || text == "" {
		return nil, err
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: %q is not a number", keys[0], text)
	}
	return &f, nil
}

func passField(raw json.RawMessage) (bool, error) {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false, err
	}
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PASS":
		return true, nil
	case "FAIL":
		return false, nil
	}
	return false, fmt.Errorf("unexpected value %q", s)
}
