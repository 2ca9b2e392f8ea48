package gateway

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultLogLines is the number of entries returned by the logs command.
const DefaultLogLines = 20

// Admin executes an admin command received in an ADMIN_REQUEST. The
// argument is taken from content, or from the rest of the command line
// when content is empty.
//
// Commands:
//
//	status             gauges, counters and the number of connections
//	clients            known client ids with their key state
//	connections        live connections
//	disable <clientId> refuse the client's transactions
//	enable <clientId>  accept the client's transactions again
//	remove <clientId>  forget the client and its keys
//	rotate <clientId>  replace the client's session keys with its next response
//	logs [n]           the n most recent log entries
func (g *Gateway) Admin(command, content string) (string, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", ErrUnknownCommand
	}
	name := strings.ToLower(fields[0])
	arg := strings.TrimSpace(content)
	if arg == "" && len(fields) > 1 {
		arg = fields[1]
	}

	if g.log != nil {
		g.log.Infof("admin command %q %q", name, arg)
	}

	keys := g.config.Relay.Codec.Keys()
	switch name {
	case "status":
		g.mu.RLock()
		n := len(g.conns)
		g.mu.RUnlock()
		return fmt.Sprintf("%s connections=%d", g.config.Metrics.Snapshot(), n), nil

	case "clients":
		var b strings.Builder
		for _, c := range keys.Clients() {
			fmt.Fprintf(&b, "%s enabled=%t remaining=%d", c.ID, c.Enabled, c.Remaining)
			if c.Rotating {
				b.WriteString(" rotating")
			}
			b.WriteByte('\n')
		}
		return strings.TrimSuffix(b.String(), "\n"), nil

	case "connections":
		var b strings.Builder
		for _, c := range g.Connections() {
			fmt.Fprintf(&b, "%s %s %s %s\n", c.ID, c.RemoteAddr, c.Role, c.Status)
		}
		return strings.TrimSuffix(b.String(), "\n"), nil

	case "disable", "enable", "remove", "rotate":
		if arg == "" {
			return "", fmt.Errorf("%w: %s needs a client id", ErrMissingArgument, name)
		}
		var err error
		switch name {
		case "disable":
			err = keys.Disable(arg)
		case "enable":
			err = keys.Enable(arg)
		case "remove":
			err = keys.Remove(arg)
		case "rotate":
			err = keys.Rotate(arg)
		}
		if err != nil {
			return "", err
		}
		return "ok", nil

	case "logs":
		buf := g.Logs()
		if buf == nil {
			return "", nil
		}
		n := DefaultLogLines
		if arg != "" {
			v, err := strconv.Atoi(arg)
			if err != nil || v <= 0 {
				return "", fmt.Errorf("%w: logs count %q", ErrMissingArgument, arg)
			}
			n = v
		}
		entries := buf.Recent(n)
		lines := make([]string, len(entries))
		for i, e := range entries {
			lines[len(entries)-1-i] = e.String()
		}
		return strings.Join(lines, "\n"), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCommand, name)
}
