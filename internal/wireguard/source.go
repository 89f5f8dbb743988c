package wireguard

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"wgmetrics/internal/execx"
)

// Source fetches the current raw device state.
type Source interface {
	Fetch(ctx context.Context) (Raw, error)
}

// DumpSource reads `wg show all dump` and reshapes it the way wg-json does.
type DumpSource struct {
	r execx.Runner
}

func NewDumpSource(r execx.Runner) *DumpSource {
	if r == nil {
		r = execx.NewOSRunner("")
	}
	return &DumpSource{r: r}
}

func (s *DumpSource) Fetch(ctx context.Context) (Raw, error) {
	out, err := s.r.Output(ctx, "wg", "show", "all", "dump")
	if err != nil {
		return nil, err
	}
	return ParseDump(string(out))
}

// ParseDump parses the tab separated output of `wg show all dump`.
// Interface lines have 5 fields, peer lines 9. Zero transfer counters and
// "(none)" allowed IPs are left out, matching wg-json, so that both sources
// normalize identically.
func ParseDump(dump string) (Raw, error) {
	raw := Raw{}
	for i, line := range strings.Split(strings.TrimSpace(dump), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		switch len(fields) {
		case 5:
			port, _ := strconv.Atoi(fields[3])
			dev := raw[fields[0]]
			dev.PublicKey = fields[2]
			dev.ListenPort = port
			if dev.Peers == nil {
				dev.Peers = map[string]RawPeer{}
			}
			raw[fields[0]] = dev
		case 9:
			peer, err := parseDumpPeer(fields)
			if err != nil {
				return nil, fmt.Errorf("dump line %d: %w", i+1, err)
			}
			dev := raw[fields[0]]
			if dev.Peers == nil {
				dev.Peers = map[string]RawPeer{}
			}
			dev.Peers[fields[1]] = peer
			raw[fields[0]] = dev
		default:
			return nil, fmt.Errorf("dump line %d: unexpected field count %d", i+1, len(fields))
		}
	}
	return raw, nil
}

func parseDumpPeer(fields []string) (RawPeer, error) {
	var peer RawPeer
	if fields[3] != "(none)" {
		peer.Endpoint = fields[3]
	}
	if fields[4] != "(none)" && fields[4] != "" {
		peer.AllowedIPs = strings.Split(fields[4], ",")
	}
	handshake, err := strconv.ParseInt(fields[5], 10, 64)
	if err != nil {
		return RawPeer{}, fmt.Errorf("latest handshake: %w", err)
	}
	peer.LatestHandshake = handshake
	rx, err := strconv.ParseUint(fields[6], 10, 64)
	if err != nil {
		return RawPeer{}, fmt.Errorf("transfer rx: %w", err)
	}
	tx, err := strconv.ParseUint(fields[7], 10, 64)
	if err != nil {
		return RawPeer{}, fmt.Errorf("transfer tx: %w", err)
	}
	if rx != 0 {
		peer.TransferRx = &rx
	}
	if tx != 0 {
		peer.TransferTx = &tx
	}
	return peer, nil
}

// ScriptSource runs an external command that prints wg-json style JSON.
type ScriptSource struct {
	r       execx.Runner
	command string
	args    []string
}

func NewScriptSource(r execx.Runner, command string, args ...string) *ScriptSource {
	if r == nil {
		r = execx.NewOSRunner("")
	}
	return &ScriptSource{r: r, command: command, args: args}
}

func (s *ScriptSource) Fetch(ctx context.Context) (Raw, error) {
	if s.command == "" {
		return nil, fmt.Errorf("wireguard.command is required")
	}
	out, err := s.r.Output(ctx, s.command, s.args...)
	if err != nil {
		return nil, err
	}
	var raw Raw
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("decode %s output: %w", s.command, err)
	}
	return raw, nil
}
