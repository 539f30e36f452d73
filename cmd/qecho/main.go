// qecho is an echo acceptor: it answers every sync message with its own
// payload, which makes it a handy peer for exercising q IPC clients.
package main

import (
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	kdb "github.com/sv/qipc"
)

type echoConfig struct {
	Method   string `toml:"method"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Compress string `toml:"compress"`
	Lenient  bool   `toml:"lenient"`
}

func main() {
	cfg := echoConfig{Method: "tcp", Host: "", Port: 5000, Compress: "auto"}

	configPath := pflag.String("config", "", "toml config file")
	pflag.StringVar(&cfg.Method, "method", cfg.Method, "transport: tcp, tls or uds")
	pflag.StringVar(&cfg.Host, "host", cfg.Host, "listen host")
	pflag.IntVar(&cfg.Port, "port", cfg.Port, "listen port")
	pflag.StringVar(&cfg.Compress, "compress", cfg.Compress, "compression: auto, always or never")
	pflag.BoolVar(&cfg.Lenient, "lenient", cfg.Lenient, "accept malformed frame headers")
	pflag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if *configPath != "" {
		if _, err := toml.DecodeFile(*configPath, &cfg); err != nil {
			log.Fatal().Err(err).Str("path", *configPath).Msg("loading config failed")
		}
	}

	var method kdb.ConnectionMethod
	switch strings.ToLower(cfg.Method) {
	case "tcp":
		method = kdb.TCP
	case "tls":
		method = kdb.TLS
	case "uds":
		method = kdb.UDS
	default:
		log.Fatal().Str("method", cfg.Method).Msg("unknown transport")
	}

	var compression kdb.CompressionMode
	switch strings.ToLower(cfg.Compress) {
	case "auto":
		compression = kdb.CompressAuto
	case "always":
		compression = kdb.CompressAlways
	case "never":
		compression = kdb.CompressNever
	default:
		log.Fatal().Str("compress", cfg.Compress).Msg("unknown compression mode")
	}

	validation := kdb.ValidateStrict
	if cfg.Lenient {
		validation = kdb.ValidateLenient
	}

	handler := func(msg *kdb.Message, s *kdb.QStream) error {
		log.Info().Stringer("data", msg.Data).Msg("echo")
		return s.Respond(msg.Data)
	}

	log.Info().Str("method", cfg.Method).Int("port", cfg.Port).Msg("listening")
	err := kdb.ListenAndServe(method, cfg.Host, cfg.Port, handler,
		kdb.WithCompressionMode(compression),
		kdb.WithValidationMode(validation),
		kdb.WithLogger(log))
	if err != nil {
		log.Fatal().Err(err).Msg("serve failed")
	}
}
