package wireguard

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"wgmetrics/internal/model"
)

// ErrMissingInterface matches any *MissingInterfaceError via errors.Is.
var ErrMissingInterface = errors.New("wireguard interface not found in sample")

// MissingInterfaceError reports that the configured interface is absent
// from a data sample. It indicates misconfiguration rather than peer churn.
type MissingInterfaceError struct {
	Interface string
}

func (e *MissingInterfaceError) Error() string {
	return fmt.Sprintf("wireguard interface %q not found in sample", e.Interface)
}

func (e *MissingInterfaceError) Is(target error) bool {
	return target == ErrMissingInterface
}

// Raw is the loosely structured device state keyed by interface name, in
// the shape produced by the wg-json contrib script.
type Raw map[string]Interface

// Interface is one WireGuard interface and its peers keyed by public key.
type Interface struct {
	PublicKey  string             `json:"publicKey,omitempty"`
	ListenPort int                `json:"listenPort,omitempty"`
	Peers      map[string]RawPeer `json:"peers"`
}

// RawPeer is one peer as reported by the data source. Counter fields are
// pointers so that "absent" can be told apart from zero.
type RawPeer struct {
	Endpoint        string   `json:"endpoint,omitempty"`
	LatestHandshake int64    `json:"latestHandshake,omitempty"`
	TransferRx      *uint64  `json:"transferRx,omitempty"`
	TransferTx      *uint64  `json:"transferTx,omitempty"`
	AllowedIPs      []string `json:"allowedIps,omitempty"`
}

// Normalize turns the raw sample into a snapshot of the given interface.
// Peers lacking either counter or any allowed IP are skipped. Peers are
// visited in public key order; when two normalize to the same identity
// the later one wins.
func Normalize(raw Raw, iface string) (model.Snapshot, error) {
	dev, ok := raw[iface]
	if !ok {
		return nil, &MissingInterfaceError{Interface: iface}
	}

	keys := make([]string, 0, len(dev.Peers))
	for key := range dev.Peers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	snap := make(model.Snapshot, len(keys))
	for _, key := range keys {
		peer := dev.Peers[key]
		if peer.TransferRx == nil || peer.TransferTx == nil || len(peer.AllowedIPs) == 0 {
			continue
		}
		snap[PeerIdentity(peer.AllowedIPs[0])] = model.PeerCounters{
			RxBytes: *peer.TransferRx,
			TxBytes: *peer.TransferTx,
		}
	}
	return snap, nil
}

// PeerIdentity strips a host /32 suffix from an allowed IP entry. No
// further syntax checks are made.
func PeerIdentity(allowedIP string) string {
	return strings.TrimSuffix(allowedIP, "/32")
}
