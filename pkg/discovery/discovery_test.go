package discovery

import (
    "errors"
    "testing"

    "github.com/KavataK/qubic-node-setup/pkg/fleet"
)

type list []string

func (l list) Addresses() []string { return l }

func TestResolveKeepsOrderAndDropsDuplicates(t *testing.T) {
    got, err := Resolve(list{"10.0.0.2", "10.0.0.1:31841", "10.0.0.2:31841", "10.0.0.3:21841"}, 0)
    if err != nil { t.Fatalf("resolve: %v", err) }
    want := []fleet.NodeAddress{{Host: "10.0.0.2", Port: 31841}, {Host: "10.0.0.1", Port: 31841}, {Host: "10.0.0.3", Port: 21841}}
    if len(got) != len(want) {
        t.Fatalf("unexpected addresses %v", got)
    }
    for i := range want {
        if got[i] != want[i] { t.Fatalf("item %d: got %v want %v", i, got[i], want[i]) }
    }
}

func TestResolveErrors(t *testing.T) {
    if _, err := Resolve(list{}, 0); !errors.Is(err, ErrEmpty) {
        t.Fatalf("expected ErrEmpty, got %v", err)
    }
    if _, err := Resolve(list{"host:notaport"}, 0); err == nil {
        t.Fatalf("expected parse error")
    }
}
