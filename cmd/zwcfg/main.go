// Command zwcfg inspects Z-Wave device configuration files and provisioning
// QR codes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/logging"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "zwcfg",
	Short: "Z-Wave device configuration tool",
	Long: `zwcfg builds and queries the Z-Wave device configuration index, resolves
template imports, evaluates device conditions and decodes SmartStart
provisioning QR codes.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Generate the device index",
	Long:  `Regenerate the device index of the devices directory if any config file is newer than it.`,
	Args:  cobra.NoArgs,
	RunE:  runIndex,
}

var lookupCmd = &cobra.Command{
	Use:   "lookup <manufacturerId> <productType> <productId> [firmwareVersion]",
	Short: "Look up the config of a device",
	Long:  `Find the config file for a device and print it evaluated for that device.`,
	Args:  cobra.RangeArgs(3, 4),
	RunE:  runLookup,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <file>",
	Short: "Resolve the template imports of a config file",
	Args:  cobra.ExactArgs(1),
	RunE:  runResolve,
}

var evalCmd = &cobra.Command{
	Use:   "eval <condition>",
	Short: "Evaluate a device condition",
	Args:  cobra.ExactArgs(1),
	RunE:  runEval,
}

var qrCmd = &cobra.Command{
	Use:   "qr <code>",
	Short: "Decode a SmartStart provisioning QR code",
	Args:  cobra.ExactArgs(1),
	RunE:  runQR,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Reload the device index whenever config files change",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

var (
	configPath  string
	devicesDir  string
	priorityDir string
	logLevel    string
	strict      bool

	fulltext        bool
	rootDir         string
	rules           bool
	firmwareVersion string
	manufacturerID  string
	productType     string
	productID       string

	cfg           *Config
	loggerFactory logging.LoggerFactory
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&devicesDir, "devices", "", "devices directory")
	rootCmd.PersistentFlags().StringVar(&priorityDir, "priority", "", "priority devices directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (disabled, error, warn, info, debug, trace)")
	rootCmd.PersistentFlags().BoolVar(&strict, "strict", false, "abort on the first invalid config file (default from $CI)")

	indexCmd.Flags().BoolVar(&fulltext, "fulltext", false, "also generate the fulltext index")

	resolveCmd.Flags().StringVar(&rootDir, "root", "", "root directory for ~/ imports (default: devices directory)")

	evalCmd.Flags().BoolVar(&rules, "rules", false, "print the parsed rules instead of evaluating")
	evalCmd.Flags().StringVar(&manufacturerID, "manufacturer", "", "manufacturer ID")
	evalCmd.Flags().StringVar(&productType, "product-type", "", "product type")
	evalCmd.Flags().StringVar(&productID, "product-id", "", "product ID")
	evalCmd.Flags().StringVar(&firmwareVersion, "firmware", "", "firmware version")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(lookupCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(evalCmd)
	rootCmd.AddCommand(qrCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// setup loads the config file and applies the flags that were set on the
// command line on top of it.
func setup(cmd *cobra.Command, args []string) error {
	c, err := LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("devices") {
		c.DevicesDir = devicesDir
	}
	if flags.Changed("priority") {
		c.PriorityDir = priorityDir
	}
	if flags.Changed("log-level") {
		c.LogLevel = logLevel
	}
	if flags.Changed("strict") {
		c.Strict = strict
	}

	lf, err := c.LoggerFactory()
	if err != nil {
		return err
	}
	cfg = c
	loggerFactory = lf
	return nil
}
