package auth

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cbodonnell/minechat/pkg/frame"
	"github.com/cbodonnell/minechat/pkg/log"
)

// ErrInvalidToken is returned when the server rejects the token.
type ErrInvalidToken struct{}

func (e *ErrInvalidToken) Error() string {
	return "invalid token"
}

func IsInvalidToken(err error) bool {
	_, ok := err.(*ErrInvalidToken)
	return ok
}

// ErrInvalidName is returned when a registration name is empty or
// spans more than one line.
type ErrInvalidName struct{}

func (e *ErrInvalidName) Error() string {
	return "invalid name"
}

func IsInvalidName(err error) bool {
	_, ok := err.(*ErrInvalidName)
	return ok
}

// Result holds the account credentials confirmed by the server.
type Result struct {
	Account string
	Token   string
}

// accountInfo is the JSON frame the server answers a token or a
// registration with. A bad token gets a JSON null instead.
type accountInfo struct {
	Nickname    string `json:"nickname"`
	AccountHash string `json:"account_hash"`
}

// Authenticate performs the token exchange on a freshly opened send
// connection. The server greets first; the greeting is discarded. An
// empty token is rejected before any bytes go out, since an empty
// frame means something else to the server.
func Authenticate(r *frame.Reader, w *frame.Writer, token string) (*Result, error) {
	if token == "" {
		return nil, &ErrInvalidToken{}
	}

	greeting, err := r.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("failed to read greeting: %v", err)
	}
	log.Trace("Server greeting: %s", greeting)

	if err := w.WriteFrame(token); err != nil {
		return nil, fmt.Errorf("failed to send token: %v", err)
	}

	reply, err := r.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("failed to read account info: %v", err)
	}

	info, err := parseAccountInfo(reply)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, &ErrInvalidToken{}
	}

	log.Debug("Authenticated as %s", info.Nickname)

	return &Result{
		Account: info.Nickname,
		Token:   info.AccountHash,
	}, nil
}

// Register creates a new account on a freshly opened send connection.
// An empty frame in place of a token asks the server for a new
// account; the server then prompts for a name.
func Register(r *frame.Reader, w *frame.Writer, name string) (*Result, error) {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, "\r\n") {
		return nil, &ErrInvalidName{}
	}

	greeting, err := r.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("failed to read greeting: %v", err)
	}
	log.Trace("Server greeting: %s", greeting)

	if err := w.WriteFrame(""); err != nil {
		return nil, fmt.Errorf("failed to request registration: %v", err)
	}

	prompt, err := r.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("failed to read name prompt: %v", err)
	}
	log.Trace("Server prompt: %s", prompt)

	if err := w.WriteFrame(name); err != nil {
		return nil, fmt.Errorf("failed to send name: %v", err)
	}

	reply, err := r.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("failed to read account info: %v", err)
	}

	info, err := parseAccountInfo(reply)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, fmt.Errorf("registration rejected by server")
	}

	log.Debug("Registered account %s", info.Nickname)

	return &Result{
		Account: info.Nickname,
		Token:   info.AccountHash,
	}, nil
}

func parseAccountInfo(reply string) (*accountInfo, error) {
	var info *accountInfo
	if err := json.Unmarshal([]byte(reply), &info); err != nil {
		return nil, fmt.Errorf("failed to parse account info: %v", err)
	}
	return info, nil
}
