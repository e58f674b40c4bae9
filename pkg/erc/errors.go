package erc

import "fmt"

// RemoteError is a 4-digit error code returned by the robot in a
// 90,000 response.
type RemoteError struct {
	Code string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("erc: robot reported %v: %v", e.Code, ResolveError(e.Code))
}

// ResolveError maps a 4-digit robot error code to its documented
// meaning.
func ResolveError(code string) string {
	if message, ok := robotErrors[code]; ok {
		return message
	}
	return fmt.Sprintf("unknown error %v", code)
}

var robotErrors = map[string]string{
	// 1xxx - command test
	"1010": "command failure",
	"1011": "command operand number failure",
	"1012": "command operand value excessive",
	"1013": "command operand length failure",

	// 2xxx - command execution mode error
	"2010": "during robot operation",
	"2020": "during T-PENDANT",
	"2030": "during panel HOLD",
	"2040": "during external HOLD",
	"2050": "during command HOLD",
	"2060": "during error alarm",
	"2070": "in servo OFF or stopping by a panel HOLD",

	// 3xxx - command execution error
	"3010": "servo power on",
	"3040": "set home position",
	"3070": "current position is not input",
	"3080": "END command of job (except master job)",

	// 4xxx - job registration error
	"4010": "shortage of memory capacity (job registration)",
	"4012": "shortage of memory capacity (position data registration)",
	"4020": "job edit prohibit",
	"4030": "job of same name exists",
	"4040": "no desired job",
	"4060": "set execution",
	"4120": "position data broken",
	"4130": "no position data",
	"4150": "END command of job (except master job)",
	"4170": "instruction data broken",
	"4190": "unsuitable characters in job name exist",
	"4200": "unsuitable characters in job name exist",
	"4230": "instructions which cannot be used by this system exist",

	// 5xxx - file text error
	"5110": "instruction syntax error",
	"5120": "position data fault",
	"5130": "neither NOP or END exists",
	"5170": "format error",
	"5180": "data number is inadequate",
	"5200": "data range exceeded",
}
