package wireguard

import (
	"errors"
	"testing"
)

func u64(v uint64) *uint64 { return &v }

func TestNormalize_FiltersIncompletePeers(t *testing.T) {
	t.Parallel()

	raw := Raw{
		"wg0": {Peers: map[string]RawPeer{
			"ok":       {TransferRx: u64(10), TransferTx: u64(20), AllowedIPs: []string{"10.7.0.2/32", "192.168.1.0/24"}},
			"no-rx":    {TransferTx: u64(20), AllowedIPs: []string{"10.7.0.3/32"}},
			"no-tx":    {TransferRx: u64(10), AllowedIPs: []string{"10.7.0.4/32"}},
			"no-ips":   {TransferRx: u64(10), TransferTx: u64(20)},
			"empty-ip": {TransferRx: u64(10), TransferTx: u64(20), AllowedIPs: []string{}},
			"subnet":   {TransferRx: u64(1), TransferTx: u64(2), AllowedIPs: []string{"10.8.0.0/24"}},
		}},
		"wg1": {Peers: map[string]RawPeer{
			"other": {TransferRx: u64(1), TransferTx: u64(1), AllowedIPs: []string{"10.9.0.2/32"}},
		}},
	}

	snap, err := Normalize(raw, "wg0")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(snap) != 2 {
		t.Fatalf("len=%d snap=%v", len(snap), snap)
	}
	if got := snap["10.7.0.2"]; got.RxBytes != 10 || got.TxBytes != 20 {
		t.Fatalf("10.7.0.2=%+v", got)
	}
	if _, ok := snap["10.8.0.0/24"]; !ok {
		t.Fatalf("non-/32 identity should be kept verbatim: %v", snap)
	}
}

func TestNormalize_DuplicateIdentityLastWins(t *testing.T) {
	t.Parallel()

	raw := Raw{"wg0": {Peers: map[string]RawPeer{
		"a": {TransferRx: u64(1), TransferTx: u64(1), AllowedIPs: []string{"10.7.0.2/32"}},
		"b": {TransferRx: u64(2), TransferTx: u64(2), AllowedIPs: []string{"10.7.0.2"}},
	}}}

	snap, err := Normalize(raw, "wg0")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(snap) != 1 || snap["10.7.0.2"].RxBytes != 2 {
		t.Fatalf("snap=%v", snap)
	}
}

func TestNormalize_MissingInterface(t *testing.T) {
	t.Parallel()

	_, err := Normalize(Raw{"wg1": {}}, "wg0")
	if !errors.Is(err, ErrMissingInterface) {
		t.Fatalf("err=%v", err)
	}
	var missing *MissingInterfaceError
	if !errors.As(err, &missing) || missing.Interface != "wg0" {
		t.Fatalf("err=%#v", err)
	}
}

func TestNormalize_InterfaceWithoutPeers(t *testing.T) {
	t.Parallel()

	snap, err := Normalize(Raw{"wg0": {}}, "wg0")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if snap == nil || len(snap) != 0 {
		t.Fatalf("snap=%v", snap)
	}
}
