// Package eeprom reads the identity of the CAN switcher HAT from the
// device-tree entries the Raspberry Pi firmware populates from the board's
// ID EEPROM.
package eeprom

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// DefaultHatDir is where the Pi firmware exposes the HAT EEPROM content.
const DefaultHatDir = "/proc/device-tree/hat"

// PreconditionError reports a missing environment requirement together
// with a fix the operator can apply.
type PreconditionError struct {
	Description  string
	SuggestedFix string
}

func (e *PreconditionError) Error() string {
	if e.SuggestedFix == "" {
		return e.Description
	}
	return fmt.Sprintf("%s | Suggested fix: %s", e.Description, e.SuggestedFix)
}

// Identity is the decoded HAT EEPROM content.
type Identity struct {
	// BoardInfo holds the raw device-tree entries, one list of lines
	// per file.
	BoardInfo map[string][]string

	// Custom holds the project specific manufacturer data from the
	// custom_0 entry, stored as newline separated key/value pairs.
	Custom map[string]string

	// Version is the hardware revision decoded from product_ver,
	// e.g. "1.2".
	Version string
}

// Read decodes the HAT identity from the default device-tree directory.
func Read() (*Identity, error) {
	return ReadDir(DefaultHatDir)
}

// ReadDir decodes the HAT identity from the given directory.
func ReadDir(dir string) (*Identity, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &PreconditionError{
			Description:  "CAN switcher is unavailable - no HAT information found",
			SuggestedFix: "add the missing CAN switcher",
		}
	}

	id := &Identity{
		BoardInfo: map[string][]string{},
		Custom:    map[string]string{},
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		lines, err := readLines(filepath.Join(dir, entry.Name()), entry.Name() == "custom_0")
		if err != nil {
			return nil, err
		}

		id.BoardInfo[entry.Name()] = lines
	}

	if err := id.decodeCustomData(); err != nil {
		return nil, err
	}

	if err := id.decodeVersion(); err != nil {
		log.WithError(err).Debug("HAT board version not decoded")
	}

	return id, nil
}

// readLines reads an entry line by line. The custom_0 entry is held to a
// stricter format: every line must be newline terminated and non-empty.
func readLines(path string, strict bool) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("hat entry %s: %w", path, err)
	}
	defer file.Close()

	lines := []string{}

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()

		if strict {
			if line == "" {
				return nil, fmt.Errorf("hat entry %s: malformed line, expecting newline-terminated, non-empty string", path)
			}
			lines = append(lines, line)
			continue
		}

		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("hat entry %s: %w", path, err)
	}

	return lines, nil
}

// decodeCustomData pairs up the alternating key/value lines of the
// custom_0 entry. Serial numbers are rendered in hex with the separator
// bytes kept readable.
func (id *Identity) decodeCustomData() error {
	lines, ok := id.BoardInfo["custom_0"]
	if !ok {
		return nil
	}

	if len(lines)%2 != 0 {
		return fmt.Errorf("hat custom data: odd number of lines (%d), expecting key/value pairs", len(lines))
	}

	for i := 0; i < len(lines); i += 2 {
		key, value := lines[i], lines[i+1]

		if key == "serial_number" {
			value = strings.ReplaceAll(hex.EncodeToString([]byte(value)), "2d", "-")
		}

		id.Custom[key] = value
	}

	return nil
}

// decodeVersion extracts "major.minor" from a product_ver entry of the
// form 0xMmmp.
func (id *Identity) decodeVersion() error {
	lines, ok := id.BoardInfo["product_ver"]
	if !ok || len(lines) == 0 {
		return fmt.Errorf("hat identity has no product_ver entry")
	}

	_, digits, found := strings.Cut(lines[0], "x")
	if !found || len(digits) < 3 {
		return fmt.Errorf("hat product_ver %q is not of the form 0xMmmp", lines[0])
	}

	id.Version = digits[1:2] + "." + digits[2:3]
	return nil
}

// ExpanderAddress returns the port expander I2C address programmed into
// the manufacturer data, if any. The value is stored as a single raw byte.
func (id *Identity) ExpanderAddress() (uint8, bool) {
	value, ok := id.Custom["portexpander_address"]
	if !ok || len(value) != 1 {
		return 0, false
	}
	return value[0], true
}

// USBStandard returns the usb_switcher_standard key, if programmed.
func (id *Identity) USBStandard() (string, bool) {
	value, ok := id.Custom["usb_switcher_standard"]
	return value, ok
}

// Installed reports whether a USB switcher HAT is present by scanning the
// device-tree entries for the usb_switcher marker.
func Installed(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.WithError(err).Debugf("HAT directory %s not readable", dir)
		return false
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			log.WithError(err).Debugf("HAT entry %s not readable", entry.Name())
			continue
		}

		if strings.Contains(string(content), "usb_switcher") {
			return true
		}
	}

	return false
}
