// Command pulse-scan runs one scan against the backend and prints the
// matching setups.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"signalpulse/config"
	"signalpulse/internal/app"
	"signalpulse/internal/session"
	"signalpulse/internal/strategy"
	"signalpulse/logger"
	"signalpulse/models"
)

// defaultLimit is how many top-volume symbols a one-shot scan covers.
const defaultLimit = 75

func scanLimit(n int) int {
	if n <= 0 {
		return defaultLimit
	}
	return n
}

func main() {
	log := logger.GetLogger()
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	var (
		configPath = flag.String("config", config.DefaultPath, "Path to configuration file")
		venueName  = flag.String("venue", string(models.VenueBinance), "Venue: binance, bybit, mexc or coinbase")
		limit      = flag.Int("limit", defaultLimit, "Number of top-volume symbols to scan")
		useRSI     = flag.Bool("rsi", false, "Apply the RSI filter")
		useADX     = flag.Bool("adx", false, "Apply the ADX filter")
		onlyPulse  = flag.Bool("pulse", false, "Only sniper setups")
		side       = flag.String("side", string(session.SideAll), "Show ALL, LONG or SHORT setups")
		asJSON     = flag.Bool("json", false, "Print the raw results as JSON")
		rules      []strategy.Indicator
	)
	flag.Func("rule", "Add a default rule for an indicator (RVOL, RSI, ADX, BBW); repeatable", func(s string) error {
		ind, err := strategy.ParseIndicator(s)
		if err != nil {
			return err
		}
		rules = append(rules, ind)
		return nil
	})
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fatal("load configuration: %v", err)
	}
	// Keep stdout for the table.
	if err := log.Configure("warn", cfg.Logging.Format, "stderr", 0); err != nil {
		fatal("configure logger: %v", err)
	}

	venue, err := models.ParseVenue(*venueName)
	if err != nil {
		fatal("%v", err)
	}
	filterSide, err := session.ParseSideFilter(*side)
	if err != nil {
		fatal("%v", err)
	}

	backend, err := app.NewBackend(cfg)
	if err != nil {
		fatal("%v", err)
	}
	ctl, err := backend.Session(session.Options{Venue: venue, Limit: scanLimit(*limit), Timeout: cfg.API.Timeout})
	if err != nil {
		fatal("%v", err)
	}

	toggles := map[strategy.Toggle]bool{
		strategy.ToggleRSI:   *useRSI,
		strategy.ToggleADX:   *useADX,
		strategy.TogglePulse: *onlyPulse,
	}
	for t, on := range toggles {
		if err := ctl.SetToggle(string(t), on); err != nil {
			fatal("%v", err)
		}
	}
	for _, ind := range rules {
		if _, err := ctl.AddRule(ind); err != nil {
			fatal("%v", err)
		}
	}
	if err := ctl.SetFilter(session.Filter{Side: filterSide}); err != nil {
		fatal("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "Scanning %s via %s...\n", venue.DisplayName(), backend.Source)
	scanErr := ctl.Scan(ctx)
	snap := ctl.Snapshot()

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap.Results); err != nil {
			fatal("encode: %v", err)
		}
	} else {
		fmt.Print(render(snap))
	}

	if scanErr != nil {
		if errors.Is(scanErr, context.Canceled) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "pulse-scan: "+strings.TrimSuffix(format, "\n")+"\n", args...)
	os.Exit(2)
}
