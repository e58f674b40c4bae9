package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

var ErrUnknownFile = errors.New("storage: no transaction code for file")

// System tables carried by the fixed-name data transactions. Job files
// (JBI/JBR) are named inside the transaction instead.
var datFiles = map[string]string{
	"02,011": "WEAV.DAT",
	"02,012": "TOOL.DAT",
	"02,013": "UFRAME.DAT",
	"02,014": "ABSWELD.DAT",
	"02,015": "CV.DAT",
	"02,016": "SENSOR.DAT",
	"02,017": "COMARC2.DAT",
	"02,018": "PC1PC2.DAT",
	"02,020": "POSOUT.DAT",
	"02,022": "RECIPRO.DAT",
	"02,023": "PALACT.DAT",
	"02,030": "SYSTEM.DAT",
}

// ExtensionForCode returns the filename extension implied by a file
// transaction code. Codes that are not job transfers carry system
// tables, which are always .DAT files.
func ExtensionForCode(code string) string {
	switch code {
	case "02,001", "02,051":
		return "JBI"
	case "02,002", "02,052":
		return "JBR"
	default:
		return "DAT"
	}
}

// FixedNameForCode returns the well-known filename of a system table
// transaction, or false for job transfers which name their file in the
// message body.
func FixedNameForCode(code string) (string, bool) {
	transmission := code
	if strings.HasPrefix(code, "02,") && len(code) == 6 {
		// request codes are transmission codes + 50
		if id, err := strconv.Atoi(code[3:]); err == nil && id >= 51 {
			transmission = fmt.Sprintf("02,%03d", id-50)
		}
	}
	name, ok := datFiles[transmission]
	return name, ok
}

// CodeFor returns the transaction code for transferring the given file
// in the given direction. Mode is "put" (host to robot) or "get"
// (request from robot). Job files match on extension, system tables on
// their fixed name.
func CodeFor(mode, filename string) (string, error) {
	var code string
	switch strings.ToUpper(filepath.Ext(filename)) {
	case ".JBI":
		code = "02,001"
	case ".JBR":
		code = "02,002"
	default:
		base := strings.ToUpper(filepath.Base(filename))
		for c, name := range datFiles {
			if name == base {
				code = c
				break
			}
		}
	}
	if code == "" {
		return "", fmt.Errorf("%w: %v", ErrUnknownFile, filename)
	}
	switch mode {
	case "put":
		return code, nil
	case "get":
		id, err := strconv.Atoi(code[3:])
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrUnknownFile, filename)
		}
		return fmt.Sprintf("02,%03d", id+50), nil
	default:
		return "", fmt.Errorf("storage: unknown transfer mode %q", mode)
	}
}
