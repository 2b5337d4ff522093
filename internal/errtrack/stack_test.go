package errtrack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/watchtower/internal/model"
)

func TestParseStack(t *testing.T) {
	raw := `Error: request failed
    at fetchData (src/api/client.ts:88:23)
    at src/pages/Home.tsx:12:5
    node_modules/axios/lib/core/dispatchRequest.js:58:10
garbage line with no location`

	frames := ParseStack(raw)
	require.Len(t, frames, 3)

	assert.Equal(t, "fetchData", frames[0].Function)
	assert.Equal(t, "src/api/client.ts", frames[0].File)
	assert.Equal(t, 88, frames[0].Line)
	assert.Equal(t, 23, frames[0].Column)
	assert.True(t, frames[0].InApp)

	assert.Empty(t, frames[1].Function)
	assert.Equal(t, "src/pages/Home.tsx", frames[1].File)
	assert.True(t, frames[1].InApp)

	assert.False(t, frames[2].InApp)
}

func TestParseStack_Empty(t *testing.T) {
	assert.Empty(t, ParseStack(""))
	assert.Empty(t, ParseStack("no frames here"))
}

func TestFingerprint_TopInAppFrame(t *testing.T) {
	frames := []model.StackFrame{
		{File: "node_modules/lib/index.js", Function: "wrap", Line: 10, InApp: false},
		{File: "src/app.ts", Function: "main", Line: 42, InApp: true},
		{File: "src/util.ts", Function: "helper", Line: 7, InApp: true},
	}

	fp := Fingerprint("TypeError", "whatever", frames)
	assert.Equal(t, "TypeError:src/app.ts:main:42", fp)

	// The message must not influence a frame-based fingerprint
	assert.Equal(t, fp, Fingerprint("TypeError", "different message", frames))
}

func TestFingerprint_MessageFallback(t *testing.T) {
	fp := Fingerprint("Error", "short message", nil)
	assert.Equal(t, "Error:short message", fp)

	long := make([]byte, 200)
	for i := range long {
		long[i] = 'x'
	}
	fp = Fingerprint("Error", string(long), nil)
	assert.Len(t, fp, len("Error:")+100)
}

func TestIsInApp(t *testing.T) {
	assert.True(t, isInApp("src/server/handler.go"))
	assert.False(t, isInApp("node_modules/react/index.js"))
	assert.False(t, isInApp("/home/user/go/pkg/mod/github.com/lib/pq/conn.go"))
	assert.False(t, isInApp("/usr/lib/node/internal.js"))
}
