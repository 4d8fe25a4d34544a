// mbus-decode is a one-shot CLI: decode a single hex telegram and
// print its records, optionally decrypting with a supplied key.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agsys/mbus-decoder/internal/driver"
	"github.com/agsys/mbus-decoder/internal/mbus"
	"github.com/agsys/mbus-decoder/internal/security"
)

var (
	keyHex         string
	manufacturerIn string

	rootCmd = &cobra.Command{
		Use:   "mbus-decode [hex-telegram]",
		Short: "Decode a single M-Bus/wM-Bus telegram",
		Long:  "Decodes a hex-encoded M-Bus or wireless M-Bus telegram (argument, or stdin if omitted) and prints its records.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runDecode,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("mbus-decode v0.1.0")
		},
	}
)

func init() {
	rootCmd.Flags().StringVar(&keyHex, "key", "", "32 hex character AES-128 key, for encrypted telegrams")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDecode(cmd *cobra.Command, args []string) error {
	var hexInput string
	if len(args) == 1 {
		hexInput = args[0]
	} else {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read telegram from stdin: %w", err)
		}
		hexInput = string(data)
	}
	hexInput = strings.TrimSpace(hexInput)

	telegram, err := mbus.FromHex(hexInput)
	if err != nil {
		return fmt.Errorf("failed to parse telegram: %w", err)
	}

	h := telegram.Header
	fmt.Printf("frame_type = %s\n", h.FrameType)
	if h.FrameType == mbus.FrameTypeSingleChar {
		return nil
	}
	if h.Manufacturer != "" {
		fmt.Printf("manufacturer = %s\n", h.Manufacturer)
	}
	if h.Identification != "" {
		fmt.Printf("identification = %s\n", h.Identification)
	}
	fmt.Printf("device_type = %s\n", h.DeviceType)
	fmt.Printf("encrypted = %v\n", h.Encrypted)

	if h.Encrypted {
		if keyHex == "" {
			return fmt.Errorf("telegram is encrypted: pass --key")
		}
		key, err := security.ParseKey(keyHex)
		if err != nil {
			return err
		}
		iv, err := security.GenerateIV(h.Manufacturer, h.Identification, h.Version, uint8(h.DeviceType))
		if err != nil {
			return err
		}
		result, err := security.Decrypt(key, iv, telegram.EncryptedPayload())
		if err != nil {
			return fmt.Errorf("decryption failed: %w", err)
		}
		fmt.Printf("padding_removed = %v\n", result.PaddingRemoved)
		telegram.SetPlaintext(result.Plaintext)
	}

	records, err := telegram.Records()
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	for _, r := range records {
		fmt.Printf("%s = %s %s\n", driverFieldName(r), formatValue(r.Value), r.Unit)
	}

	registry := driver.DefaultRegistry()
	if d := registry.Dispatch(h); d != nil {
		fmt.Printf("driver = %s\n", d.Name)
	}

	return nil
}

func driverFieldName(r mbus.DataRecord) string {
	return r.Description
}

func formatValue(v mbus.Value) string {
	switch v.Kind {
	case mbus.ValueInt:
		return fmt.Sprintf("%d", v.Int)
	case mbus.ValueFloat:
		return fmt.Sprintf("%g", v.Float)
	case mbus.ValueText:
		return v.Text
	case mbus.ValueDate:
		return v.Time.Format("2006-01-02")
	case mbus.ValueDateTime:
		return v.Time.Format("2006-01-02 15:04")
	case mbus.ValueBytes:
		return fmt.Sprintf("% x", v.Bytes)
	default:
		return ""
	}
}
