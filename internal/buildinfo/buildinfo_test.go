package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContext(t *testing.T) {
	t.Parallel()

	var nilCtx *Context
	assert.Equal(t, Unknown, nilCtx.GetVersion())
	assert.Equal(t, Unknown, nilCtx.GetBuildDate())

	c := &Context{Version: "v1.2.0"}
	assert.Equal(t, "v1.2.0", c.GetVersion())
	assert.Equal(t, Unknown, c.GetBuildDate())
	assert.Contains(t, c.String(), "orthovision v1.2.0 (built unknown")
}
