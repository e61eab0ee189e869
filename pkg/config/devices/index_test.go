package devices

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/backkem/zwave/pkg/config"
	"github.com/backkem/zwave/pkg/config/template"
)

func deviceFile(manufacturer, productType, productID, min, max string) string {
	return `{
		"manufacturerId": "` + manufacturer + `",
		"manufacturer": "Test",
		"label": "L-` + productID + `",
		"description": [{"$if": "firmwareVersion >= 2.0", "value": "new"}, {"value": "old"}],
		"devices": [{"productType": "` + productType + `", "productId": "` + productID + `"}],
		"firmwareVersion": {"min": "` + min + `", "max": "` + max + `"},
		"paramInformation": [{"#": "1", "$import": "~/templates/master.json#enable", "label": "P"}]
	}`
}

func newDevicesDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"templates/master.json": `{"enable": {"valueSize": 1, "minValue": 0, "maxValue": 1, "defaultValue": 0}}`,
		"0x0001/a.json":         deviceFile("0x0001", "0x0002", "0x0003", "1.0", "2.0"),
		"0x0001/b.json":         deviceFile("0x0001", "0x0002", "0x0003", "2.1", "255.255"),
		"0x0005/multi.json": `{
			"manufacturerId": "0x0005",
			"manufacturer": "Multi",
			"label": "M",
			"description": "Two products",
			"devices": [
				{"productType": "0x0001", "productId": "0x0001"},
				{"productType": "0x0001", "productId": "0x0002"}
			],
			"firmwareVersion": {"min": "0.0", "max": "255.255"}
		}`,
	})
	return dir
}

func TestGenerateIndex(t *testing.T) {
	dir := newDevicesDir(t)
	index, err := GenerateIndex(context.Background(), dir, IndexOptions{Embedded: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(index) != 4 {
		t.Fatalf("got %d entries, want 4: %+v", len(index), index)
	}
	want := IndexEntry{
		ManufacturerID:  "0x0001",
		ProductType:     "0x0002",
		ProductID:       "0x0003",
		FirmwareVersion: config.FirmwareVersionRange{Min: "1.0", Max: "2.0"},
		Filename:        "0x0001/a.json",
	}
	if index[0] != want {
		t.Errorf("index[0] = %+v, want %+v", index[0], want)
	}
	if index[2].Filename != "0x0005/multi.json" || index[3].ProductID != "0x0002" {
		t.Errorf("one entry per product expected: %+v", index[2:])
	}
	for _, e := range index {
		if strings.HasPrefix(e.Filename, "templates/") {
			t.Errorf("template file indexed: %s", e.Filename)
		}
	}
}

func TestGenerateIndexBadFile(t *testing.T) {
	dir := newDevicesDir(t)
	writeFiles(t, dir, map[string]string{"0x0009/bad.json": `{"manufacturerId": "9"}`})

	index, err := GenerateIndex(context.Background(), dir, IndexOptions{Embedded: true})
	if err != nil {
		t.Fatalf("non-strict generation failed: %v", err)
	}
	if len(index) != 4 {
		t.Errorf("got %d entries, want the 4 good ones", len(index))
	}

	if _, err := GenerateIndex(context.Background(), dir, IndexOptions{Embedded: true, Strict: true}); !errors.Is(err, config.ErrInvalid) {
		t.Errorf("strict generation: got %v, want ErrInvalid", err)
	}
}

func TestGenerateFulltextIndex(t *testing.T) {
	dir := newDevicesDir(t)
	index, err := GenerateFulltextIndex(context.Background(), dir, IndexOptions{Embedded: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(index) != 4 {
		t.Fatalf("got %d entries", len(index))
	}
	if index[0].Label != "L-0x0003" || index[0].Description != "new" || index[0].Filename != "0x0001/a.json" {
		t.Errorf("index[0] = %+v", index[0])
	}
}

func TestLoadIndexRegeneration(t *testing.T) {
	dir := newDevicesDir(t)
	ctx := context.Background()
	indexPath := filepath.Join(dir, IndexFilename)

	index, err := LoadIndex(ctx, dir, IndexOptions{Embedded: true})
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(indexPath)
	if err != nil {
		t.Fatalf("index not written: %v", err)
	}
	if !strings.HasPrefix(string(data), "//") {
		t.Error("index file has no header comment")
	}

	// a fresh index is read back, not regenerated
	if err := os.WriteFile(indexPath, []byte("// edited\n[]"), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(indexPath, future, future); err != nil {
		t.Fatal(err)
	}
	got, err := LoadIndex(ctx, dir, IndexOptions{Embedded: true})
	if err != nil || len(got) != 0 {
		t.Fatalf("fresh index not used: %d entries, %v", len(got), err)
	}

	// a newer device file triggers regeneration
	later := future.Add(time.Hour)
	if err := os.Chtimes(filepath.Join(dir, "0x0001", "a.json"), later, later); err != nil {
		t.Fatal(err)
	}
	got, err = LoadIndex(ctx, dir, IndexOptions{Embedded: true})
	if err != nil || len(got) != len(index) {
		t.Fatalf("stale index not regenerated: %d entries, %v", len(got), err)
	}

	// an unparseable index is regenerated
	if err := os.WriteFile(indexPath, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err = LoadIndex(ctx, dir, IndexOptions{Embedded: true})
	if err != nil || len(got) != len(index) {
		t.Fatalf("broken index not regenerated: %d entries, %v", len(got), err)
	}
}

// backdate sets the mtime of everything below dir, dir included, to t.
func backdate(t *testing.T, dir string, tm time.Time) {
	t.Helper()
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return os.Chtimes(path, tm, tm)
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestLoadIndexNoticesRemovedFiles(t *testing.T) {
	id := config.DeviceID{ManufacturerID: 1, ProductType: 2, ProductID: 3, FirmwareVersion: "1.5"}

	tests := []struct {
		name   string
		change func(t *testing.T, dir string)
		want   string
	}{
		{"rename", func(t *testing.T, dir string) {
			if err := os.Rename(filepath.Join(dir, "0x0001", "a.json"), filepath.Join(dir, "0x0001", "renamed.json")); err != nil {
				t.Fatal(err)
			}
		}, "0x0001/renamed.json"},
		{"delete", func(t *testing.T, dir string) {
			if err := os.Remove(filepath.Join(dir, "0x0001", "a.json")); err != nil {
				t.Fatal(err)
			}
		}, ""},
		{"move to top level", func(t *testing.T, dir string) {
			if err := os.Rename(filepath.Join(dir, "0x0001", "a.json"), filepath.Join(dir, "a.json")); err != nil {
				t.Fatal(err)
			}
			// only the top level directory changed, and its mtime is not
			// looked at
			old := time.Now().Add(-2 * time.Hour)
			if err := os.Chtimes(filepath.Join(dir, "0x0001"), old, old); err != nil {
				t.Fatal(err)
			}
		}, "a.json"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := newDevicesDir(t)
			ctx := context.Background()
			if _, err := LoadIndex(ctx, dir, IndexOptions{Embedded: true}); err != nil {
				t.Fatal(err)
			}

			// file mtimes alone say the index is fresh
			backdate(t, dir, time.Now().Add(-2*time.Hour))
			indexTime := time.Now().Add(-time.Hour)
			if err := os.Chtimes(filepath.Join(dir, IndexFilename), indexTime, indexTime); err != nil {
				t.Fatal(err)
			}
			tc.change(t, dir)

			index, err := LoadIndex(ctx, dir, IndexOptions{Embedded: true})
			if err != nil {
				t.Fatal(err)
			}
			for _, e := range index {
				if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(e.Filename))); err != nil {
					t.Errorf("index lists missing file %s", e.Filename)
				}
			}

			e, ok := FindIndexEntry(index, id)
			if tc.want == "" {
				if ok {
					t.Errorf("deleted file still found: %s", e.Filename)
				}
				return
			}
			if !ok || e.Filename != tc.want {
				t.Errorf("lookup found %q, want %q", e.Filename, tc.want)
			}
		})
	}
}

func TestLoadIndexClearsTemplateCache(t *testing.T) {
	dir := newDevicesDir(t)
	cache := template.NewCache(0)

	opts := IndexOptions{Embedded: true, Cache: cache}
	if _, err := GenerateIndex(context.Background(), dir, opts); err != nil {
		t.Fatal(err)
	}
	if cache.Len() != 1 {
		t.Fatalf("cache holds %d files, want the template", cache.Len())
	}

	// breaking the template must be seen by the next generation
	writeFiles(t, dir, map[string]string{"templates/master.json": `{}`})
	if _, err := GenerateIndex(context.Background(), dir, IndexOptions{Embedded: true, Cache: cache, Strict: true}); !errors.Is(err, config.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound for the missing template selector", err)
	}
}

func TestFindIndexEntry(t *testing.T) {
	index := []IndexEntry{{
		ManufacturerID:  "0x0001",
		ProductType:     "0x0002",
		ProductID:       "0x0003",
		FirmwareVersion: config.FirmwareVersionRange{Min: "1.0", Max: "2.0"},
		Filename:        "a.json",
	}}

	tests := []struct {
		name string
		id   config.DeviceID
		want bool
	}{
		{"in range", config.DeviceID{ManufacturerID: 1, ProductType: 2, ProductID: 3, FirmwareVersion: "1.5"}, true},
		{"above range", config.DeviceID{ManufacturerID: 1, ProductType: 2, ProductID: 3, FirmwareVersion: "2.1"}, false},
		{"unknown firmware", config.DeviceID{ManufacturerID: 1, ProductType: 2, ProductID: 3}, true},
		{"other product", config.DeviceID{ManufacturerID: 1, ProductType: 2, ProductID: 4, FirmwareVersion: "1.5"}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e, ok := FindIndexEntry(index, tc.id)
			if ok != tc.want {
				t.Fatalf("found = %v, want %v", ok, tc.want)
			}
			if ok && e.Filename != "a.json" {
				t.Errorf("Filename = %s", e.Filename)
			}
		})
	}

	preferred := append([]IndexEntry{{
		ManufacturerID: "0x0001", ProductType: "0x0002", ProductID: "0x0003",
		FirmwareVersion: config.DefaultFirmwareVersionRange(), Filename: "generic.json",
	}}, index...)
	preferred[1].Preferred = true
	e, _ := FindIndexEntry(preferred, config.DeviceID{ManufacturerID: 1, ProductType: 2, ProductID: 3, FirmwareVersion: "1.5"})
	if e.Filename != "a.json" {
		t.Errorf("preferred entry not chosen: %s", e.Filename)
	}
}

func TestStrictFromEnv(t *testing.T) {
	for value, want := range map[string]bool{"": false, "false": false, "0": false, "true": true, "1": true} {
		t.Setenv("CI", value)
		if got := StrictFromEnv(); got != want {
			t.Errorf("CI=%q: StrictFromEnv = %v, want %v", value, got, want)
		}
	}
}
