package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	lua "github.com/yuin/gopher-lua"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, source string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plugin.lua")
	require.NoError(t, os.WriteFile(path, []byte(source), 0o600))
	return path
}

func TestScriptInstaller_PreHookMutatesField(t *testing.T) {
	path := writeScript(t, `
function pre_create_room(req)
	req.Name = "renamed-by-script"
	return req
end
`)
	script, err := LoadScript(path)
	require.NoError(t, err)
	t.Cleanup(script.Close)

	e := New(nil)
	e.Add("rename-script", script)

	req := &request{Name: "original"}
	require.NoError(t, e.RunPre(context.Background(), VariantCreateRoom, req))
	assert.Equal(t, "renamed-by-script", req.Name)
}

func TestScriptInstaller_PreHookVeto(t *testing.T) {
	path := writeScript(t, `
function pre_create_room(req)
	return "blocked by script"
end
`)
	script, err := LoadScript(path)
	require.NoError(t, err)
	t.Cleanup(script.Close)

	e := New(nil)
	e.Add("veto-script", script)

	err = e.RunPre(context.Background(), VariantCreateRoom, &request{})
	require.Error(t, err)
	ye, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, "blocked by script", ye.Error())
	assert.False(t, ye.IsInternal())
}

func TestScriptInstaller_PostHookObservesSuccess(t *testing.T) {
	path := writeScript(t, `
observed_success = nil

function post_create_room(req, success)
	observed_success = success
end
`)
	script, err := LoadScript(path)
	require.NoError(t, err)
	t.Cleanup(script.Close)

	e := New(nil)
	e.Add("observer-script", script)

	e.RunPost(context.Background(), VariantCreateRoom, &request{Name: "x"}, true)
	assert.Equal(t, lua.LTrue, script.state.GetGlobal("observed_success"))
}
