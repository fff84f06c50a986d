package elm327

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// SessionState is the AdapterController lifecycle state machine:
// Fresh -> Initializing -> Ready -> Closed.
type SessionState int32

const (
	SessionFresh SessionState = iota
	SessionInitializing
	SessionReady
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionFresh:
		return "fresh"
	case SessionInitializing:
		return "initializing"
	case SessionReady:
		return "ready"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// elmInitSequence is the fixed ELM327 AT configuration sequence issued by
// initialize(), in order: reset, echo off, linefeeds off, spaces off,
// headers on, auto protocol detection.
var elmInitSequence = []string{"ATZ", "ATE0", "ATL0", "ATS0", "ATH1", "ATSP0"}

// informationalTokens are stripped from an ELM327 reply before error and
// frame scanning; they carry no data of their own.
var informationalTokens = []string{"SEARCHING...", "BUSINIT:", "BUSINIT...", "OK"}

// errorStatusTokens classify a reply as a failure rather than data.
var errorStatusTokens = []string{
	"NO DATA", "ERROR", "?", "STOPPED", "UNABLE TO CONNECT",
	"BUS INIT", "CAN ERROR", "BUFFER FULL", "<DATA ERROR",
}

const promptByte = '>'

// ControllerOptions configures an AdapterController's timing and
// diagnostics. Construct via NewControllerOptions and the With*
// functional options, mirroring the teacher's Options/NewOptions
// chaining pattern.
type ControllerOptions struct {
	logger           *logrus.Entry
	promptTimeout    time.Duration
	postWriteDelay   time.Duration
	postResetDelay   time.Duration
	testerPresentCmd string
}

// ControllerOption mutates a ControllerOptions during construction.
type ControllerOption func(*ControllerOptions)

// NewControllerOptions returns defaults: a 5s prompt read deadline, a
// 100ms post-write settling delay and a 1s post-ATZ delay (applied only
// when the transport reports NeedsDelays()).
func NewControllerOptions() *ControllerOptions {
	return &ControllerOptions{
		logger:           defaultLogger,
		promptTimeout:    5 * time.Second,
		postWriteDelay:   100 * time.Millisecond,
		postResetDelay:   1 * time.Second,
		testerPresentCmd: "3E00",
	}
}

// WithTimeout overrides the deadline AdapterController uses when reading
// a reply through to the ELM327 prompt.
func WithTimeout(d time.Duration) ControllerOption {
	return func(o *ControllerOptions) { o.promptTimeout = d }
}

// AdapterController drives an ELM327-class adapter over a ByteTransport:
// it issues AT configuration, formats OBD-II/UDS requests, classifies
// replies, reassembles ISO-TP frames and decodes the resulting UDS
// response. At most one SendMessage is ever in flight.
type AdapterController struct {
	transport ByteTransport
	opts      *ControllerOptions

	sendMu  sync.Mutex // serializes SendMessage calls
	writeMu sync.Mutex // serializes writes between SendMessage and the tester-present ticker
	state   atomic.Int32

	testerMu     sync.Mutex
	testerActive atomic.Bool
	testerCancel context.CancelFunc
	testerDone   chan struct{}
}

// NewAdapterController binds a controller to transport. Call Initialize
// before the first SendMessage.
func NewAdapterController(transport ByteTransport, opts ...ControllerOption) *AdapterController {
	o := NewControllerOptions()
	for _, opt := range opts {
		opt(o)
	}
	c := &AdapterController{transport: transport, opts: o}
	c.state.Store(int32(SessionFresh))
	return c
}

// State reports the current session lifecycle state.
func (c *AdapterController) State() SessionState {
	return SessionState(c.state.Load())
}

// Initialize issues the fixed ELM327 configuration sequence and
// transitions the session to Ready. It is idempotent against an already
// Ready session.
func (c *AdapterController) Initialize() error {
	if c.State() == SessionReady {
		return nil
	}
	c.state.Store(int32(SessionInitializing))

	for i, cmd := range elmInitSequence {
		if _, err := c.writeCommandLine(cmd); err != nil {
			return wrapErr(KindAdapterInit, fmt.Sprintf("sending %s", cmd), err)
		}
		if i == 0 && c.transport.NeedsDelays() {
			time.Sleep(c.opts.postResetDelay)
		}
		if _, err := c.readThroughPrompt(); err != nil {
			return wrapErr(KindAdapterInit, fmt.Sprintf("awaiting reply to %s", cmd), err)
		}
	}

	c.state.Store(int32(SessionReady))
	c.opts.logger.Debug("elm327 adapter initialized")
	return nil
}

// writeCommandLine writes cmd terminated by \r, applying the transport's
// settling delay when needed. It holds writeMu for the duration of the
// write so a concurrently running tester-present tick cannot interleave
// bytes mid-command.
func (c *AdapterController) writeCommandLine(cmd string) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	n, err := c.transport.Write([]byte(cmd + "\r"))
	if err != nil {
		return n, err
	}
	if c.transport.NeedsDelays() {
		time.Sleep(c.opts.postWriteDelay)
	}
	return n, nil
}

func (c *AdapterController) readThroughPrompt() (string, error) {
	raw, err := c.transport.ReadUntil(promptByte, c.opts.promptTimeout)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// SendMessage issues an OBD-II Mode 01 request (canID nil) or a UDS
// request addressed to canID, reassembles any ISO-TP multi-frame reply,
// and decodes the resulting UdsResponse. See spec.md §4.5 for the full
// eleven-step pipeline this implements.
func (c *AdapterController) SendMessage(canID *uint16, requestCode uint32) (*UdsResponse, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.State() != SessionReady {
		return nil, wrapErr(KindNotReady, "send_message called before initialize", nil)
	}

	if canID != nil {
		header := fmt.Sprintf("ATSH%03X", *canID)
		if _, err := c.writeCommandLine(header); err != nil {
			return nil, wrapErr(KindNoResponse, "writing ATSH header", err)
		}
		if _, err := c.readThroughPrompt(); err != nil {
			return nil, c.classifyReadErr(err)
		}
	}

	var line string
	if canID != nil {
		line = fmt.Sprintf("%X", requestCode)
	} else {
		line = fmt.Sprintf("01%02X", requestCode)
	}

	if _, err := c.writeCommandLine(line); err != nil {
		return nil, wrapErr(KindNoResponse, "writing request", err)
	}

	reply, err := c.readThroughPrompt()
	if err != nil {
		return nil, c.classifyReadErr(err)
	}

	cleaned := stripInformational(reply)
	if tok, hit := classifyErrorStatus(cleaned); hit {
		return nil, newErrRaw(KindNoResponse, fmt.Sprintf("elm327 reported %q", tok), reply)
	}

	payload, err := extractPayload(cleaned)
	if err != nil {
		return nil, err
	}

	return DecodeUdsResponse(payload)
}

// classifyReadErr maps any transport-level read failure awaiting the
// prompt to NoResponse, per spec.md §7.
func (c *AdapterController) classifyReadErr(err error) error {
	return wrapErr(KindNoResponse, "no reply to prompt", err)
}

// stripInformational removes the ELM327 prompt and the fixed set of
// informational tokens from a raw reply.
func stripInformational(reply string) string {
	out := strings.ReplaceAll(reply, string(promptByte), "")
	for _, tok := range informationalTokens {
		out = strings.ReplaceAll(out, tok, "")
	}
	return out
}

// classifyErrorStatus reports whether cleaned contains any of the
// classified ELM327 error/status tokens.
func classifyErrorStatus(cleaned string) (string, bool) {
	for _, tok := range errorStatusTokens {
		if strings.Contains(cleaned, tok) {
			return tok, true
		}
	}
	return "", false
}

// extractPayload tokenizes cleaned into lines (CR primary, LF fallback),
// pulls out CAN-ID-prefixed frame-data strings, reassembles them through
// the ISO-TP assembler, and falls back to treating the whole cleaned
// reply as one hex string when no frames were found.
func extractPayload(cleaned string) ([]byte, error) {
	lines := strings.Split(strings.ReplaceAll(cleaned, "\r\r", "\r"), "\r")
	if len(lines) == 1 {
		lines = strings.Split(strings.ReplaceAll(cleaned, "\n\n", "\n"), "\n")
	}

	const canIDLen = 3
	var frames []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = strings.ReplaceAll(line, " ", "")
		if len(line) < canIDLen || !isHex(line[:canIDLen]) {
			continue
		}
		rest := line[canIDLen:]
		if len(rest) < 2 {
			continue
		}
		frames = append(frames, rest)
	}

	if len(frames) == 0 {
		whole := strings.NewReplacer("\r", "", "\n", "", " ", "").Replace(cleaned)
		data, err := hex.DecodeString(whole)
		if err != nil {
			return nil, wrapErr(KindResponseMalformed, fmt.Sprintf("no frames found and %q is not valid hex", whole), err)
		}
		return data, nil
	}

	payload, err := ParseIsoTpFrames(frames)
	if err != nil {
		return nil, wrapErr(KindResponseMalformed, "iso-tp reassembly failed", err)
	}
	return payload, nil
}

// isHex reports whether s consists entirely of hex digits (3-char
// CAN-IDs are an odd nibble count, so hex.DecodeString alone cannot
// validate them).
func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return len(s) > 0
}

// EnableCyclicTesterPresent starts a single background ticker that
// writes the literal line "3E00" every interval. It never issues a read
// itself; any incidental reply is consumed by the next SendMessage's
// read-to-prompt. Idempotent if already running.
func (c *AdapterController) EnableCyclicTesterPresent(interval time.Duration) {
	if c.testerActive.Load() {
		return
	}

	c.testerMu.Lock()
	defer c.testerMu.Unlock()
	if c.testerActive.Load() {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.testerCancel = cancel
	c.testerDone = make(chan struct{})
	c.testerActive.Store(true)

	go c.testerPresentLoop(ctx, interval)
}

func (c *AdapterController) testerPresentLoop(ctx context.Context, interval time.Duration) {
	defer close(c.testerDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.writeCommandLine(c.opts.testerPresentCmd); err != nil {
				c.opts.logger.WithError(err).Debug("tester-present write failed, ignoring")
			}
		}
	}
}

// TesterPresentActive reports whether the cyclic ticker is running.
func (c *AdapterController) TesterPresentActive() bool {
	return c.testerActive.Load()
}

// DisableTesterPresent signals the ticker to stop and waits on testerDone,
// which closes as soon as the ticker goroutine observes cancellation. The
// wait has no timeout: a tick whose write is still in progress is waited
// for until that write returns.
func (c *AdapterController) DisableTesterPresent() {
	if !c.testerActive.Load() {
		return
	}

	c.testerMu.Lock()
	cancel := c.testerCancel
	done := c.testerDone
	c.testerMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	c.testerActive.Store(false)
}

// Close stops the tester-present ticker, closes the transport, and
// transitions the session to Closed. Safe to call from any state.
func (c *AdapterController) Close() error {
	c.DisableTesterPresent()
	err := c.transport.Close()
	c.state.Store(int32(SessionClosed))
	return err
}
