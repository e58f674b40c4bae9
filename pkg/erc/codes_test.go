package erc

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCode(t *testing.T) {
	code, err := ParseCode("02,051")
	require.Nil(t, err)
	assert.Equal(t, 2, code.Category)
	assert.Equal(t, 51, code.ID)
	assert.Equal(t, "02,051", code.String())
}

func TestParseCodeRejectsGarbage(t *testing.T) {
	for _, bad := range []string{"", "02051", "xx,yyy", "02,0513"} {
		_, err := ParseCode(bad)
		assert.ErrorIs(t, err, ErrBadCode, "input %q", bad)
	}
}

func TestCodeFamilies(t *testing.T) {
	file, _ := ParseCode("02,030")
	assert.True(t, file.IsFile())
	assert.False(t, file.IsFileRequest())

	request, _ := ParseCode("02,080")
	assert.True(t, request.IsFileRequest())
	assert.False(t, request.IsFile())

	variable, _ := ParseCode("03,005")
	assert.True(t, variable.IsVariable())

	varRequest, _ := ParseCode("03,055")
	assert.True(t, varRequest.IsVariableRequest())

	command, _ := ParseCode("01,000")
	assert.True(t, command.IsCommand())

	execution, _ := ParseCode("90,000")
	assert.True(t, execution.IsExecutionResponse())

	data, _ := ParseCode("90,001")
	assert.True(t, data.IsDataResponse())
}

func TestResponseCode(t *testing.T) {
	// every request code 02,0NN with NN >= 51 answers as 02,0(NN-50)
	for id := 51; id <= 80; id++ {
		request := Code{Category: 2, ID: id}
		assert.Equal(t, fmt.Sprintf("02,%03d", id-50), request.Response().String())
	}
	request, _ := ParseCode("03,051")
	assert.Equal(t, "03,001", request.Response().String())
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "TOOL.DAT - tool data", Describe("02,012"))
	assert.Equal(t, "unknown transaction", Describe("99,999"))
}

func TestResolveError(t *testing.T) {
	assert.Equal(t, "no desired job", ResolveError("4040"))
	assert.Equal(t, "command failure", ResolveError("1010"))
	assert.Equal(t, "unknown error 9999", ResolveError("9999"))
}

func TestRemoteErrorMessage(t *testing.T) {
	err := &RemoteError{Code: "2010"}
	assert.Contains(t, err.Error(), "2010")
	assert.Contains(t, err.Error(), "during robot operation")
}
