// Package errors turns transport, protocol and configuration failures
// into messages with a reason, a hint and a command to try next.
package errors

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"strings"
	"syscall"

	"github.com/tonylturner/mbstack/internal/modbus"
)

// UserFriendlyError provides user-friendly error messages with context and hints
type UserFriendlyError struct {
	Message string
	Reason  string
	Hint    string
	Try     string
	Err     error
}

func (e UserFriendlyError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Message)
	for _, f := range [...]struct{ label, val string }{
		{"Reason", e.Reason},
		{"Hint", e.Hint},
		{"Try", e.Try},
	} {
		if f.val != "" {
			fmt.Fprintf(&buf, "\n  %s: %s", f.label, f.val)
		}
	}
	if e.Err != nil {
		buf.WriteString("\n  Details: " + e.Err.Error())
	}
	return buf.String()
}

func (e UserFriendlyError) Unwrap() error {
	return e.Err
}

// rule explains err when it matches one of targets or its text contains
// one of words.
type rule struct {
	targets []error
	words   []string
	reason  string
}

func (r rule) matches(err error) bool {
	for _, t := range r.targets {
		if stderrors.Is(err, t) {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, w := range r.words {
		if strings.Contains(msg, w) {
			return true
		}
	}
	return false
}

func explain(err error, rules []rule, fallback string) string {
	for _, r := range rules {
		if r.matches(err) {
			return r.reason
		}
	}
	return fallback
}

var networkRules = []rule{
	{
		targets: []error{modbus.ErrTimeout},
		words:   []string{"timeout", "deadline exceeded"},
		reason:  "Connection timeout - device may be offline or unreachable",
	},
	{
		targets: []error{syscall.ECONNREFUSED},
		words:   []string{"connection refused"},
		reason:  "Connection refused - device may not be listening on this port",
	},
	{
		targets: []error{syscall.EHOSTUNREACH, syscall.ENETUNREACH},
		words:   []string{"no route to host", "network is unreachable"},
		reason:  "No route to host - network routing issue or device unreachable",
	},
	{
		targets: []error{syscall.EADDRINUSE},
		words:   []string{"address already in use"},
		reason:  "Address already in use - another process is listening on this port",
	},
	{
		targets: []error{modbus.ErrClosed, syscall.ECONNRESET},
		words:   []string{"connection reset"},
		reason:  "Connection reset - device closed the connection unexpectedly",
	},
	{
		words:  []string{"no such host", "unknown host"},
		reason: "Host name could not be resolved",
	},
}

var serialRules = []rule{
	{
		targets: []error{fs.ErrNotExist},
		words:   []string{"no such file"},
		reason:  "Serial device does not exist",
	},
	{
		targets: []error{fs.ErrPermission},
		words:   []string{"permission denied"},
		reason:  "Permission denied - user may need to be in the dialout group",
	},
	{
		targets: []error{syscall.EBUSY},
		words:   []string{"busy"},
		reason:  "Serial device is in use by another process",
	},
	{
		targets: []error{modbus.ErrValueRange},
		reason:  "Invalid serial parameters",
	},
	{
		targets: []error{modbus.ErrTimeout},
		reason:  "No reply on the serial line - check wiring, unit id and line settings",
	},
}

var protocolRules = []rule{
	{targets: []error{modbus.ErrTimeout}, reason: "Device did not respond within timeout period"},
	{targets: []error{modbus.ErrFormat}, reason: "Received invalid or malformed response from device"},
	{targets: []error{modbus.ErrAddressRange, modbus.ErrValueRange}, reason: "Request parameters are out of range"},
	{targets: []error{modbus.ErrTransport}, reason: "Connection to the device failed"},
}

// WrapNetworkError wraps TCP errors with user-friendly context
func WrapNetworkError(err error, host string, port int) error {
	if err == nil {
		return nil
	}
	return UserFriendlyError{
		Message: fmt.Sprintf("Failed to communicate with device at %s:%d", host, port),
		Reason:  explain(err, networkRules, "Network communication failed"),
		Hint:    "The device may not speak Modbus/TCP on this port, or there may be a network connectivity issue",
		Try:     fmt.Sprintf("mbstack master read-holding --host %s --port %d --address 0 --count 1 --debug", host, port),
		Err:     err,
	}
}

// WrapSerialError wraps RTU port errors with user-friendly context
func WrapSerialError(err error, device string) error {
	if err == nil {
		return nil
	}
	return UserFriendlyError{
		Message: fmt.Sprintf("Failed to use serial port %s", device),
		Reason:  explain(err, serialRules, "Serial communication failed"),
		Hint:    "Check the device path, permissions, and that baud rate, parity, data bits and stop bits match the bus",
		Try:     fmt.Sprintf("ls -l %s", device),
		Err:     err,
	}
}

// WrapModbusError wraps a failed master call with user-friendly context
func WrapModbusError(err error, function string) error {
	if err == nil {
		return nil
	}
	reason := explain(err, protocolRules, "Modbus protocol error occurred")
	var exc *modbus.ExceptionError
	if stderrors.As(err, &exc) {
		reason = fmt.Sprintf("Device answered with exception %s (0x%02X)", exc.Code, uint8(exc.Code))
	}
	return UserFriendlyError{
		Message: fmt.Sprintf("Modbus request failed: %s", function),
		Reason:  reason,
		Hint:    modbusHint(err, exc),
		Err:     err,
	}
}

// WrapConfigError wraps configuration errors with user-friendly context
func WrapConfigError(err error, configPath string) error {
	if err == nil {
		return nil
	}
	return UserFriendlyError{
		Message: fmt.Sprintf("Configuration error in %s", configPath),
		Reason:  err.Error(),
		Hint:    "Print a complete example with: mbstack config print-default",
		Try:     fmt.Sprintf("mbstack config validate %s", configPath),
		Err:     err,
	}
}

var exceptionHints = map[modbus.ExceptionCode]string{
	modbus.ExceptionIllegalFunction:    "The device does not implement this function code",
	modbus.ExceptionIllegalDataAddress: "The address range is outside what the device maps",
	modbus.ExceptionIllegalDataValue:   "The quantity or value is not accepted by the device",
	modbus.ExceptionSlaveDeviceBusy:    "Retry the request later",
}

func modbusHint(err error, exc *modbus.ExceptionError) string {
	if exc != nil {
		return exceptionHints[exc.Code]
	}
	if stderrors.Is(err, modbus.ErrTimeout) {
		return "Check the unit id, or raise --response-timeout"
	}
	return ""
}
