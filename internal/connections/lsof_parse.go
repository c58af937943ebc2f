package connections

import (
	"bufio"
	"strconv"
	"strings"

	"github.com/serome111/portwatch/internal/model"
)

// parseLsofFieldOutput parses lsof's "-F pcnP" field-mode output: one
// record per socket, each record a run of single-letter-tagged lines
// beginning with a 'p' (pid) line. A new 'p' line resets the
// accumulator for the next record, the same "accumulate lines into one
// record, flush on a new boundary tag" shape the teacher's line-
// oriented parsers use for multi-line subprocess output.
func parseLsofFieldOutput(output string, selfPID int32) []Raw {
	var rows []Raw
	var curPID int64
	var curName string

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		tag, val := line[0], line[1:]
		switch tag {
		case 'p':
			curPID, _ = strconv.ParseInt(val, 10, 32)
			curName = ""
		case 'c':
			curName = val
		case 'n':
			row, ok := parseLsofName(val, model.ProtocolTCP)
			if !ok {
				continue
			}
			if int32(curPID) == selfPID {
				continue
			}
			row.PID = int32(curPID)
			rows = append(rows, row)
		case 'P':
			if strings.EqualFold(val, "udp") && len(rows) > 0 {
				rows[len(rows)-1].Protocol = model.ProtocolUDP
			}
		}
		_ = curName
	}
	return rows
}

// parseLsofName parses an lsof "n" field value, of the form
// "addr:port->raddr:rport (STATUS)" or "addr:port->raddr:rport", into a
// Raw connection. Returns ok=false for listening sockets (no "->") or
// malformed entries.
func parseLsofName(val string, proto model.Protocol) (Raw, bool) {
	status := ""
	if idx := strings.Index(val, " ("); idx >= 0 && strings.HasSuffix(val, ")") {
		status = val[idx+2 : len(val)-1]
		val = val[:idx]
	}

	parts := strings.SplitN(val, "->", 2)
	if len(parts) != 2 {
		return Raw{}, false
	}

	local, ok1 := splitLsofAddr(parts[0])
	remote, ok2 := splitLsofAddr(parts[1])
	if !ok1 || !ok2 {
		return Raw{}, false
	}

	return Raw{
		Local:    local,
		Remote:   remote,
		Protocol: proto,
		Status:   status,
	}, true
}

func splitLsofAddr(s string) (model.Endpoint, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		idx := strings.LastIndex(s, "]:")
		if idx < 0 {
			return model.Endpoint{}, false
		}
		port, err := strconv.Atoi(s[idx+2:])
		if err != nil {
			return model.Endpoint{}, false
		}
		return model.Endpoint{Addr: s[1:idx], Port: port}, true
	}

	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return model.Endpoint{}, false
	}
	port, err := strconv.Atoi(s[idx+1:])
	if err != nil {
		return model.Endpoint{}, false
	}
	return model.Endpoint{Addr: s[:idx], Port: port}, true
}
