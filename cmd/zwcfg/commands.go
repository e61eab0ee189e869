package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/backkem/zwave/pkg/config"
	"github.com/backkem/zwave/pkg/config/devices"
	"github.com/backkem/zwave/pkg/config/logic"
	"github.com/backkem/zwave/pkg/config/template"
	"github.com/backkem/zwave/pkg/provisioning"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// watchReloadInterval is how often the watch command checks whether the
// index was invalidated.
const watchReloadInterval = time.Second

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseID accepts product codes with or without a 0x prefix. They are
// always hexadecimal.
func parseID(s string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid ID %q", s)
	}
	return uint16(v), nil
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	opts := devices.IndexOptions{
		Embedded:      true,
		Strict:        cfg.Strict,
		Cache:         template.NewCache(cfg.TemplateCacheSize),
		LoggerFactory: loggerFactory,
	}

	index, err := devices.LoadIndex(ctx, cfg.DevicesDir, opts)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d entries\n", filepath.Join(cfg.DevicesDir, devices.IndexFilename), len(index))

	if fulltext {
		ft, err := devices.LoadFulltextIndex(ctx, cfg.DevicesDir, opts)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: %d entries\n", filepath.Join(cfg.DevicesDir, devices.FulltextIndexFilename), len(ft))
	}
	return nil
}

func runLookup(cmd *cobra.Command, args []string) error {
	var id config.DeviceID
	for i, field := range []*uint16{&id.ManufacturerID, &id.ProductType, &id.ProductID} {
		v, err := parseID(args[i])
		if err != nil {
			return err
		}
		*field = v
	}
	if len(args) == 4 {
		id.FirmwareVersion = args[3]
	}

	m := devices.NewManager(cfg.ManagerConfig(loggerFactory))
	defer m.Close()

	c, err := m.LookupDevice(cmd.Context(), id)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), c)
}

func runResolve(cmd *cobra.Command, args []string) error {
	root := rootDir
	if root == "" {
		root = cfg.DevicesDir
	}
	doc, err := template.ReadJSONWithTemplate(cmd.Context(), args[0], template.Options{
		RootDir:       root,
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), doc)
}

func runEval(cmd *cobra.Command, args []string) error {
	expr, err := logic.Parse(args[0])
	if err != nil {
		return err
	}
	if rules {
		return printJSON(cmd.OutOrStdout(), expr.Rules())
	}

	vars := logic.Variables{}
	for name, s := range map[string]string{
		logic.VarManufacturerID: manufacturerID,
		logic.VarProductType:    productType,
		logic.VarProductID:      productID,
	} {
		if s == "" {
			continue
		}
		v, err := parseID(s)
		if err != nil {
			return err
		}
		vars[name] = int(v)
	}
	if firmwareVersion != "" {
		vars[logic.VarFirmwareVersion] = firmwareVersion
	}

	fmt.Fprintln(cmd.OutOrStdout(), expr.Evaluate(vars))
	return nil
}

// qrSummary is the printed form of a decoded QR code.
type qrSummary struct {
	Version                  string   `yaml:"version"`
	DSK                      string   `yaml:"dsk"`
	RequestedSecurityClasses []string `yaml:"requestedSecurityClasses"`
	HighestSecurityClass     string   `yaml:"highestSecurityClass"`
	GenericDeviceClass       string   `yaml:"genericDeviceClass"`
	SpecificDeviceClass      string   `yaml:"specificDeviceClass"`
	InstallerIconType        string   `yaml:"installerIconType"`
	ManufacturerID           string   `yaml:"manufacturerId"`
	ProductType              string   `yaml:"productType"`
	ProductID                string   `yaml:"productId"`
	ApplicationVersion       string   `yaml:"applicationVersion"`
	MaxInclusionInterval     int      `yaml:"maxInclusionRequestInterval,omitempty"`
	UUID16                   string   `yaml:"uuid16,omitempty"`
	SupportedProtocols       []string `yaml:"supportedProtocols,omitempty"`
	LongRange                bool     `yaml:"longRange"`
}

func summarizeQR(info *provisioning.ProvisioningInfo) qrSummary {
	s := qrSummary{
		Version:              info.Version.String(),
		DSK:                  info.DSK,
		HighestSecurityClass: info.HighestRequestedClass().String(),
		GenericDeviceClass:   fmt.Sprintf("0x%02x", info.GenericDeviceClass),
		SpecificDeviceClass:  fmt.Sprintf("0x%02x", info.SpecificDeviceClass),
		InstallerIconType:    config.FormatID(info.InstallerIconType),
		ManufacturerID:       config.FormatID(info.ManufacturerID),
		ProductType:          config.FormatID(info.ProductType),
		ProductID:            config.FormatID(info.ProductID),
		ApplicationVersion:   info.ApplicationVersion,
		MaxInclusionInterval: info.MaxInclusionRequestInterval,
		UUID16:               info.UUID16,
		LongRange:            info.SupportsLongRange(),
	}
	for _, c := range info.RequestedSecurityClasses {
		s.RequestedSecurityClasses = append(s.RequestedSecurityClasses, c.String())
	}
	for _, p := range info.SupportedProtocols {
		s.SupportedProtocols = append(s.SupportedProtocols, p.String())
	}
	return s
}

func runQR(cmd *cobra.Command, args []string) error {
	info, err := provisioning.ParseQRCode(strings.TrimSpace(args[0]))
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(summarizeQR(info)); err != nil {
		return err
	}
	return enc.Close()
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	m := devices.NewManager(cfg.ManagerConfig(loggerFactory))
	defer m.Close()

	out := cmd.OutOrStdout()
	reload := func() error {
		if err := m.LoadIndex(ctx); err != nil {
			return err
		}
		index, err := m.Index()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "device index loaded: %d entries\n", len(index))
		return nil
	}
	if err := reload(); err != nil {
		return err
	}

	watchErr := make(chan error, 1)
	go func() { watchErr <- m.Watch(ctx) }()

	ticker := time.NewTicker(watchReloadInterval)
	defer ticker.Stop()
	for {
		select {
		case err := <-watchErr:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err

		case <-ticker.C:
			if _, err := m.Index(); !errors.Is(err, devices.ErrIndexNotLoaded) {
				continue
			}
			if err := reload(); err != nil {
				// keep watching, the files may be fixed in a later change
				fmt.Fprintf(cmd.ErrOrStderr(), "reloading device index: %v\n", err)
			}
		}
	}
}
