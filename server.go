package kdb

import (
	"bufio"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
)

// serverHandshake reads the client's credential bytes (credential,
// capability byte, NUL), verifies them against accounts and replies
// with the negotiated capability level. An empty or nil account map
// rejects every credential.
func serverHandshake(con net.Conn, accounts map[string]string) error {
	var cred []byte
	var b [1]byte
	for {
		if _, err := con.Read(b[:]); err != nil {
			return fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}
		if b[0] == 0 {
			break
		}
		cred = append(cred, b[0])
		if len(cred) > 1024 {
			return fmt.Errorf("%w: oversized credential", ErrAuthFailed)
		}
	}
	if len(cred) == 0 {
		return fmt.Errorf("%w: empty handshake", ErrAuthFailed)
	}
	capability := cred[len(cred)-1]
	credential := string(cred[:len(cred)-1])
	user, password, found := strings.Cut(credential, ":")
	if !found || !checkPassword(accounts, user, password) {
		return fmt.Errorf("%w: user %q", ErrAuthFailed, user)
	}
	if capability > capabilityLevel {
		capability = capabilityLevel
	}
	_, err := con.Write([]byte{capability})
	return err
}

func checkPassword(accounts map[string]string, user, password string) bool {
	stored, ok := accounts[user]
	if !ok {
		return false
	}
	sum := sha1.Sum([]byte(password))
	return strings.EqualFold(stored, hex.EncodeToString(sum[:]))
}

// Default acceptor account file, relative to the working directory.
const defaultAccountFile = "credential/kdbaccess"

// loadAccounts reads the acceptor credential file named by the
// ACCOUNT_FILE environment variable, falling back to the default path.
// A missing default file yields an empty map, so acceptor auth fails
// closed; an explicitly configured but unreadable file is an error.
func loadAccounts() (map[string]string, error) {
	path := os.Getenv("ACCOUNT_FILE")
	fallback := path == ""
	if fallback {
		path = defaultAccountFile
	}
	f, err := os.Open(path)
	if err != nil {
		if fallback && os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	defer f.Close()
	return parseAccounts(f)
}

// parseAccounts parses user:hex-sha1-password lines. Blank lines are
// ignored; lines without a colon are rejected.
func parseAccounts(r io.Reader) (map[string]string, error) {
	accounts := make(map[string]string)
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		user, hash, found := strings.Cut(text, ":")
		if !found {
			return nil, fmt.Errorf("account file line %d: missing ':'", line)
		}
		accounts[user] = hash
	}
	return accounts, scanner.Err()
}

// ListenAndServe accepts connections on the given endpoint and drives
// handler for every sync message. Async messages are logged and
// dropped; handler errors close the connection.
func ListenAndServe(method ConnectionMethod, host string, port int, handler func(*Message, *QStream) error, opts ...Option) error {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	ln, err := listen(method, host, port)
	if err != nil {
		return err
	}
	defer ln.Close()
	accounts, err := loadAccounts()
	if err != nil {
		return err
	}
	for {
		con, err := ln.Accept()
		if err != nil {
			cfg.logger.Warn().Err(err).Msg("accept failed")
			continue
		}
		go serve(con, handler, accounts, cfg)
	}
}

// serve runs a single client connection.
func serve(con net.Conn, handler func(*Message, *QStream) error, accounts map[string]string, cfg config) {
	log := cfg.logger.With().Str("peer", con.RemoteAddr().String()).Logger()
	tuneTCP(con)
	if err := serverHandshake(con, accounts); err != nil {
		log.Warn().Err(err).Msg("handshake failed")
		con.Close()
		return
	}
	s := newQStream(con, true, cfg)
	s.log = log
	for {
		msg, err := s.Receive()
		if err != nil {
			if err != ErrConnClosed {
				log.Debug().Err(err).Msg("closing stream")
			}
			con.Close()
			return
		}
		switch msg.Type {
		case SYNC:
			if err := handler(msg, s); err != nil {
				log.Warn().Err(err).Msg("handler failed")
				con.Close()
				return
			}
		default:
			log.Debug().Stringer("data", msg.Data).Msg("ignoring async message")
		}
	}
}

// EchoHandler responds to every sync message with its own payload.
func EchoHandler(msg *Message, s *QStream) error {
	return s.Respond(msg.Data)
}
