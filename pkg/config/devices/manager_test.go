package devices

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/backkem/zwave/pkg/config"
	"github.com/backkem/zwave/pkg/config/logic"
	"github.com/pion/transport/v3/test"
)

func TestManagerLookup(t *testing.T) {
	dir := newDevicesDir(t)
	m := NewManager(ManagerConfig{DevicesDir: dir})
	defer m.Close()
	ctx := context.Background()

	if _, err := m.Index(); !errors.Is(err, ErrIndexNotLoaded) {
		t.Fatalf("Index before load: got %v, want ErrIndexNotLoaded", err)
	}

	tests := []struct {
		name  string
		id    config.DeviceID
		label string
		desc  string
	}{
		{"old firmware", config.DeviceID{ManufacturerID: 1, ProductType: 2, ProductID: 3, FirmwareVersion: "1.5"}, "L-0x0003", "old"},
		{"new firmware", config.DeviceID{ManufacturerID: 1, ProductType: 2, ProductID: 3, FirmwareVersion: "3.0"}, "L-0x0003", "new"},
		{"second product", config.DeviceID{ManufacturerID: 5, ProductType: 1, ProductID: 2}, "M", "Two products"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, err := m.LookupDevice(ctx, tc.id)
			if err != nil {
				t.Fatal(err)
			}
			if c.Label != tc.label || c.Description != tc.desc || !c.IsEmbedded {
				t.Errorf("got %q/%q embedded=%v, want %q/%q", c.Label, c.Description, c.IsEmbedded, tc.label, tc.desc)
			}
		})
	}

	if _, err := m.Index(); err != nil {
		t.Errorf("Index after lazy load: %v", err)
	}

	_, err := m.LookupDevice(ctx, config.DeviceID{ManufacturerID: 1, ProductType: 2, ProductID: 9})
	if !errors.Is(err, config.ErrNotFound) {
		t.Errorf("unknown device: got %v, want ErrNotFound", err)
	}

	cc, err := m.LookupDevicePreserveConditions(ctx, config.DeviceID{ManufacturerID: 1, ProductType: 2, ProductID: 3, FirmwareVersion: "1.5"})
	if err != nil {
		t.Fatal(err)
	}
	if !cc.Description.IsConditional() {
		t.Error("conditions were evaluated")
	}

	before := logic.MustParse("firmwareVersion >= 2.0")
	m.Invalidate()
	if logic.MustParse("firmwareVersion >= 2.0") == before {
		t.Error("Invalidate kept parsed conditions")
	}
	if _, err := m.Index(); !errors.Is(err, ErrIndexNotLoaded) {
		t.Errorf("Index after Invalidate: got %v, want ErrIndexNotLoaded", err)
	}
}

func TestManagerPriorityDir(t *testing.T) {
	dir := newDevicesDir(t)
	priority := t.TempDir()
	writeFiles(t, priority, map[string]string{
		"templates/master.json": `{"enable": {"valueSize": 1, "minValue": 0, "maxValue": 5, "defaultValue": 0}}`,
		"override.json":         deviceFile("0x0001", "0x0002", "0x0003", "0.0", "255.255"),
	})

	m := NewManager(ManagerConfig{DevicesDir: dir, PriorityDir: priority})
	defer m.Close()
	if err := m.LoadIndex(context.Background()); err != nil {
		t.Fatal(err)
	}
	index, err := m.Index()
	if err != nil {
		t.Fatal(err)
	}
	if index[0].RootDir != priority || index[0].Filename != "override.json" {
		t.Errorf("priority entry not first: %+v", index[0])
	}

	c, err := m.LookupDevice(context.Background(), config.DeviceID{ManufacturerID: 1, ProductType: 2, ProductID: 3, FirmwareVersion: "1.5"})
	if err != nil {
		t.Fatal(err)
	}
	if c.IsEmbedded {
		t.Error("priority file reported as embedded")
	}
	if p, _ := c.Param(ParamKey{Parameter: 1}); p == nil || p.MaxValue != 5 {
		t.Errorf("priority template not used: %+v", p)
	}
}

func TestManagerPriorityDirErrors(t *testing.T) {
	dir := newDevicesDir(t)
	priority := t.TempDir()
	writeFiles(t, priority, map[string]string{"bad.json": `{`})

	m := NewManager(ManagerConfig{DevicesDir: dir, PriorityDir: priority})
	if err := m.LoadIndex(context.Background()); err != nil {
		t.Errorf("non-strict manager: %v", err)
	}

	strict := NewManager(ManagerConfig{DevicesDir: dir, PriorityDir: priority, Strict: true})
	if err := strict.LoadIndex(context.Background()); !errors.Is(err, config.ErrInvalid) {
		t.Errorf("strict manager: got %v, want ErrInvalid", err)
	}
}

func TestManagerWatch(t *testing.T) {
	defer test.CheckRoutines(t)()

	dir := newDevicesDir(t)
	m := NewManager(ManagerConfig{DevicesDir: dir})
	if err := m.LoadIndex(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// the watcher starts asynchronously, so keep touching files until the
	// index is dropped
	deadline := time.Now().Add(5 * time.Second)
	for {
		writeFiles(t, dir, map[string]string{"0x0001/c.json": deviceFile("0x0001", "0x0009", "0x0009", "0.0", "1.0")})
		time.Sleep(20 * time.Millisecond)
		if _, err := m.Index(); errors.Is(err, ErrIndexNotLoaded) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("index not invalidated after a file change")
		}
		if err := m.LoadIndex(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Watch returned %v, want context.Canceled", err)
	}

	m.Close()
	if err := m.Watch(context.Background()); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("Watch after Close: got %v, want ErrManagerClosed", err)
	}
}
