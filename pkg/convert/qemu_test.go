package convert

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressPattern(t *testing.T) {
	cases := map[string]string{
		"    (0.00/100%)":   "0.00",
		"    (12.34/100%)":  "12.34",
		"    (100.00/100%)": "100.00",
	}
	for line, want := range cases {
		m := progressPattern.FindStringSubmatch(line)
		require.NotNil(t, m, "line %q must match", line)
		assert.Equal(t, want, m[1])
	}

	assert.Nil(t, progressPattern.FindStringSubmatch("qemu-img: error while converting"))
}

func TestScanCRLines(t *testing.T) {
	// qemu-img rewrites progress with carriage returns on one line.
	input := "    (25.00/100%)\r    (50.00/100%)\r    (100.00/100%)\nqemu-img: warning\n"
	scanner := bufio.NewScanner(strings.NewReader(input))
	scanner.Split(scanCRLines)

	var tokens []string
	for scanner.Scan() {
		if text := strings.TrimSpace(scanner.Text()); text != "" {
			tokens = append(tokens, text)
		}
	}
	assert.Equal(t, []string{
		"(25.00/100%)",
		"(50.00/100%)",
		"(100.00/100%)",
		"qemu-img: warning",
	}, tokens)
}

func TestRawOutputPath(t *testing.T) {
	assert.Equal(t, "/srv/img/win11.raw", rawOutputPath("/srv/img/win11.vhdx"))
	assert.Equal(t, "/srv/img/noext.raw", rawOutputPath("/srv/img/noext"))
}
