package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/mbolis/matrix-survey/retry"
)

// EnvPrefix marks the environment variables overriding flag defaults,
// e.g. QSURVEY_DB_URL for -db-url.
const EnvPrefix = "QSURVEY_"

type Config struct {
	Addr    string
	BaseURL string
	// DBUrl is the SQLite file of the primary store; blank leaves the store
	// unconfigured.
	DBUrl string
	// WebhookURL, when set, is used for every submission whatever the
	// clients saved.
	WebhookURL     string
	DisplayDelay   time.Duration
	SavedDelay     time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	// SessionTTL is how long session values outlive their last write;
	// zero keeps them forever.
	SessionTTL time.Duration
	Debug      bool
}

func ParseFlags() (Config, error) {
	return Parse(flag.CommandLine, os.Args[1:])
}

// Parse reads args into fs. Flags left out of args take their value from the
// environment, then from their defaults.
func Parse(fs *flag.FlagSet, args []string) (cfg Config, err error) {
	var host string
	fs.StringVar(&host, "host", "0.0.0.0", "listen host name")
	var port uint
	fs.UintVar(&port, "port", 80, "listen port number")
	fs.StringVar(&cfg.BaseURL, "base-url", "", "public URL of the survey, used in share links (default: the request host)")
	fs.StringVar(&cfg.DBUrl, "db-url", "qsurvey.sqlite", "path to SQLite3 DB file, blank to run without a primary store")
	fs.StringVar(&cfg.WebhookURL, "webhook-url", "", "spreadsheet webhook overriding any saved one")
	fs.DurationVar(&cfg.DisplayDelay, "display-delay", 600*time.Millisecond, "pause before confirming a submission")
	fs.DurationVar(&cfg.SavedDelay, "saved-delay", 800*time.Millisecond, "time the save indicator shows \"saving\"")
	fs.IntVar(&cfg.RetryAttempts, "retry-attempts", retry.DefaultPolicy.MaxAttempts, "webhook push attempts per submission")
	fs.DurationVar(&cfg.RetryBaseDelay, "retry-base-delay", retry.DefaultPolicy.BaseDelay, "pause after the first failed push, doubled after each other")
	fs.DurationVar(&cfg.SessionTTL, "session-ttl", 24*time.Hour, "age after which session values are pruned, 0 to keep them")
	fs.BoolVar(&cfg.Debug, "debug", false, "log at DEBUG level")

	if err = fs.Parse(args); err != nil {
		return
	}
	if err = overlayEnv(fs); err != nil {
		return
	}

	cfg.Addr = net.JoinHostPort(host, strconv.Itoa(int(port)))
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.DBUrl = strings.TrimSpace(cfg.DBUrl)
	cfg.WebhookURL = strings.TrimSpace(cfg.WebhookURL)

	if port > 65535 {
		err = fmt.Errorf("invalid port %d", port)
	} else if cfg.RetryAttempts < 1 {
		err = errors.New("-retry-attempts must be at least 1")
	} else if cfg.SessionTTL < 0 {
		err = errors.New("-session-ttl must not be negative")
	}
	return
}

// overlayEnv sets every flag not given on the command line from its
// environment variable, if any.
func overlayEnv(fs *flag.FlagSet) error {
	k := koanf.New(".")
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		name := strings.TrimPrefix(s, EnvPrefix)
		return strings.ReplaceAll(strings.ToLower(name), "_", "-")
	}), nil)
	if err != nil {
		return err
	}

	explicit := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	for _, name := range k.Keys() {
		if explicit[name] || fs.Lookup(name) == nil {
			continue
		}
		if err := fs.Set(name, k.String(name)); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, strings.ToUpper(strings.ReplaceAll(name, "-", "_")), err)
		}
	}
	return nil
}

func (cfg Config) RetryPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: cfg.RetryAttempts, BaseDelay: cfg.RetryBaseDelay}
}

func (cfg Config) Url() (url string) {
	url = cfg.Addr
	url = regexp.MustCompile(`^0.0.0.0`).ReplaceAllString(url, "localhost")
	url = "http://" + url
	return
}
