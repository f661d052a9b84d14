package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ltworf/localslackirc/pkg/slackirc"

	"github.com/coredhcp/coredhcp/logger"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Version information. Will be populated with the git revision when
// running `make`.
var (
	ProgramName = "localslackirc"
	Version     = "unknown (please build with `make`)"
)

var (
	flagPort              = flag.IntP("port", "p", 9007, "Local port to listen on")
	flagIP                = flag.StringP("ip", "i", "127.0.0.1", "IP address to listen on")
	flagTokenFile         = flag.StringP("tokenfile", "t", defaultTokenFile(), "Path to the file containing the Slack token")
	flagCookieFile        = flag.StringP("cookiefile", "c", "", "Path to the cookie file (needed for xoxc- tokens)")
	flagNoUserList        = flag.BoolP("nouserlist", "u", false, "Don't display userlists in joined channels")
	flagAutoJoin          = flag.BoolP("autojoin", "j", false, "Automatically join all remote channels")
	flagNoRejoinOnMention = flag.Bool("no-rejoin-on-mention", false, "If set, mentions of the username will not cause the channel to be re-joined")
	flagOverrideLocalIP   = flag.BoolP("override", "o", false, "Allow binding non 127. addresses, this is potentially dangerous")
	flagStatusFile        = flag.StringP("status-file", "f", "", "Path to the file keeping the internal status")
	flagDebug             = flag.BoolP("debug", "d", false, "Enable debugging logs")
	flagLogSuffix         = flag.String("log-suffix", "", "Set a suffix for the syslog identifier")
	flagIgnoredChannels   = flag.String("ignored-channels", "", "Comma separated list of channels to not join when autojoin is enabled")
	flagDownloadsDir      = flag.String("downloads-directory", "/tmp", "Where to create files for automatic downloads")
	flagFormattedMaxLines = flag.Int("formatted-max-lines", 0, "Maximum amount of lines in a formatted text to send to the client rather than store in a file. 0 sends everything to the client")
	flagSilencedYellers   = flag.String("silenced-yellers", "", "Comma separated list of nicknames and channels whose @channel and @here will not generate notifications")
	flagControlSocket     = flag.String("control-socket", "", "Path to where the unix control socket will be created")
	flagChunkSize         = flag.IntP("chunk", "C", 512, "Maximum size of a line to send to the client. Only applied to certain reply types")
	flagPagination        = flag.IntP("pagination", "P", 0, "Pagination value for Slack API calls. 0 uses the recommended default")
	flagVersion           = flag.BoolP("version", "v", false, "Print version and exit")
)

var log = logger.GetLogger("main")

// envBindings maps each configuration key to the environment variable
// that overrides its command-line flag.
var envBindings = map[string]string{
	"port":                 "PORT",
	"ip":                   "IP_ADDRESS",
	"tokenfile":            "TOKEN_FILE",
	"cookiefile":           "COOKIE_FILE",
	"nouserlist":           "NOUSERLIST",
	"autojoin":             "AUTOJOIN",
	"no-rejoin-on-mention": "NO_REJOIN_ON_MENTION",
	"override":             "OVERRIDE_LOCAL_IP",
	"status-file":          "STATUS_FILE",
	"debug":                "DEBUG",
	"log-suffix":           "LOG_SUFFIX",
	"ignored-channels":     "IGNORED_CHANNELS",
	"downloads-directory":  "DOWNLOADS_DIRECTORY",
	"formatted-max-lines":  "FORMATTED_MAX_LINES",
	"silenced-yellers":     "SILENCED_YELLERS",
	"control-socket":       "CONTROL_SOCKET",
}

func defaultTokenFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".localslackirc"
	}
	return filepath.Join(home, ".localslackirc")
}

// fatalConfig reports a configuration error and exits 1.
func fatalConfig(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// loadSecret returns the env value when set, the first line of the
// file otherwise.
func loadSecret(envName, path string) (string, error) {
	if v, ok := os.LookupEnv(envName); ok {
		return strings.TrimSpace(v), nil
	}
	if path == "" {
		return "", nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(string(raw), "\n")
	return strings.TrimSpace(line), nil
}

func main() {
	flag.Parse()
	if *flagVersion {
		fmt.Printf("%s version %s\n", ProgramName, Version)
		os.Exit(0)
	}

	// environment variables override command-line flags, per field
	flag.VisitAll(func(f *flag.Flag) {
		if err := viper.BindPFlag(f.Name, f); err != nil {
			fatalConfig("Cannot bind flag %s: %v", f.Name, err)
		}
	})
	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			fatalConfig("Cannot bind env %s: %v", env, err)
		}
	}

	if suffix := viper.GetString("log-suffix"); suffix != "" {
		log = logger.GetLogger("main" + suffix)
	}
	if viper.GetBool("debug") {
		log.Logger.SetLevel(logrus.DebugLevel)
		log.Infof("Debug logging enabled")
	}

	ip := viper.GetString("ip")
	if net.ParseIP(ip) == nil {
		fatalConfig("Invalid IP address to listen on: '%s'", ip)
	}
	if !strings.HasPrefix(ip, "127.") && !viper.GetBool("override") {
		fatalConfig("supplied ip isn't local\n" +
			"localslackirc has no encryption or authentication, it's recommended to only allow local connections\n" +
			"you can override this with -o")
	}
	port := viper.GetInt("port")
	if port <= 0 || port > 65535 {
		fatalConfig("Invalid port %d", port)
	}

	token, err := loadSecret("TOKEN", viper.GetString("tokenfile"))
	if err != nil {
		fatalConfig("Unable to open the token file %s: %v", viper.GetString("tokenfile"), err)
	}
	if token == "" {
		fatalConfig("No Slack token: set TOKEN or put it in %s", viper.GetString("tokenfile"))
	}
	cookie, err := loadSecret("COOKIE", viper.GetString("cookiefile"))
	if err != nil {
		fatalConfig("Unable to open the cookie file %s: %v", viper.GetString("cookiefile"), err)
	}

	settings := slackirc.ClientSettings{
		Token:              token,
		Cookie:             cookie,
		Port:               port,
		AutoJoin:           viper.GetBool("autojoin"),
		NoUserList:         viper.GetBool("nouserlist"),
		NoRejoinOnMention:  viper.GetBool("no-rejoin-on-mention"),
		IgnoredChannels:    splitList(viper.GetString("ignored-channels")),
		SilencedYellers:    splitList(viper.GetString("silenced-yellers")),
		DownloadsDirectory: viper.GetString("downloads-directory"),
		FormattedMaxLines:  viper.GetInt("formatted-max-lines"),
		StatusFile:         viper.GetString("status-file"),
		ControlSocket:      viper.GetString("control-socket"),
		SlackDebug:         viper.GetBool("debug"),
		ChunkSize:          *flagChunkSize,
		Pagination:         *flagPagination,
	}
	if err := settings.Verify(); err != nil {
		fatalConfig("%v", err)
	}

	server := &slackirc.Server{
		Name:      "localhost",
		LocalAddr: &net.TCPAddr{IP: net.ParseIP(ip), Port: port},
		Settings:  settings,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		sig := <-sigCh
		log.Infof("Received %v, shutting down", sig)
		server.Shutdown()
		os.Exit(0)
	}()

	log.Infof("Starting server on %s:%d", ip, port)
	err = server.Start()
	switch {
	case err == nil:
		os.Exit(0)
	case errors.Is(err, slackirc.ErrAuthFailed):
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	case errors.Is(err, slackirc.ErrSlackUnrecoverable):
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	default:
		log.Errorf("%v", err)
		os.Exit(2)
	}
}
