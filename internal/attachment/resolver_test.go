package attachment

import (
	"context"
	"errors"
	"testing"
)

type namedStorage struct {
	*memStorage
	name string
}

func TestCapabilityResolver_StorageFor(t *testing.T) {
	db := namedStorage{newMemStorage(), "db"}
	blob := namedStorage{newMemStorage(), "blob"}
	r := &CapabilityResolver{
		Default:      db,
		ByCapability: []CapabilityStorage{{Capability: "filestore", Storage: blob}},
		Checker:      StaticCapabilities{"filestore": {"acc-blob"}},
	}

	tests := []struct {
		account string
		want    string
	}{
		{"acc-blob", "blob"},
		{"acc-other", "db"},
	}
	for _, tt := range tests {
		got, err := r.StorageFor(context.Background(), tt.account)
		if err != nil {
			t.Fatalf("StorageFor(%q): %v", tt.account, err)
		}
		if got.(namedStorage).name != tt.want {
			t.Errorf("StorageFor(%q) = %s, want %s", tt.account, got.(namedStorage).name, tt.want)
		}
	}
}

func TestCapabilityResolver_NoDefault(t *testing.T) {
	r := &CapabilityResolver{}
	if _, err := r.StorageFor(context.Background(), "acc"); !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("error = %v, want ErrStorageUnavailable", err)
	}
}

func TestStaticCapabilities_Wildcard(t *testing.T) {
	caps := StaticCapabilities{"filestore": {"*"}}
	ok, _ := caps.HasCapability(context.Background(), "anyone", "filestore")
	if !ok {
		t.Error("wildcard should grant capability")
	}
}
