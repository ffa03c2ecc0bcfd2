package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type request struct {
	Name string
}

type nativePlugin struct {
	onPre  func(ctx context.Context, req *request) error
	onPost func(ctx context.Context, req *request, success bool) error
}

func (p *nativePlugin) Install(b *Builder) {
	b.Pre(VariantCreateRoom, func(ctx context.Context, req any) error {
		return p.onPre(ctx, req.(*request))
	})
	b.Post(VariantCreateRoom, func(ctx context.Context, req any, success bool) error {
		return p.onPost(ctx, req.(*request), success)
	})
}

func TestExecutor_PreHookMutatesRequest(t *testing.T) {
	e := New(nil)
	e.Add("rename", &nativePlugin{
		onPre: func(ctx context.Context, req *request) error {
			req.Name = "mutated"
			return nil
		},
		onPost: func(ctx context.Context, req *request, success bool) error { return nil },
	})

	req := &request{Name: "original"}
	require.NoError(t, e.RunPre(context.Background(), VariantCreateRoom, req))
	assert.Equal(t, "mutated", req.Name)
}

func TestExecutor_PreHookVetoStopsChain(t *testing.T) {
	e := New(nil)
	secondCalled := false
	e.Add("first", &nativePlugin{
		onPre: func(ctx context.Context, req *request) error {
			return Validation("no thanks")
		},
		onPost: func(ctx context.Context, req *request, success bool) error { return nil },
	})
	e.Add("second", &nativePlugin{
		onPre: func(ctx context.Context, req *request) error {
			secondCalled = true
			return nil
		},
		onPost: func(ctx context.Context, req *request, success bool) error { return nil },
	})

	err := e.RunPre(context.Background(), VariantCreateRoom, &request{})
	require.Error(t, err)
	ye, ok := err.(*Error)
	require.True(t, ok)
	assert.False(t, ye.IsInternal())
	assert.False(t, secondCalled)
}

func TestExecutor_PostHookErrorIsSwallowed(t *testing.T) {
	var reported string
	e := New(func(pluginName string, v Variant, err error) { reported = pluginName })
	e.Add("noisy", &nativePlugin{
		onPre: func(ctx context.Context, req *request) error { return nil },
		onPost: func(ctx context.Context, req *request, success bool) error {
			return Internal("boom")
		},
	})

	e.RunPost(context.Background(), VariantCreateRoom, &request{}, true)
	assert.Equal(t, "noisy", reported)
}

func TestExecutor_DisabledPluginSkipped(t *testing.T) {
	e := New(nil)
	called := false
	e.Add("toggle", &nativePlugin{
		onPre: func(ctx context.Context, req *request) error {
			called = true
			return nil
		},
		onPost: func(ctx context.Context, req *request, success bool) error { return nil },
	})
	e.SetActive("toggle", false)

	require.NoError(t, e.RunPre(context.Background(), VariantCreateRoom, &request{}))
	assert.False(t, called)
}

func TestExecutor_InstallationOrderPreserved(t *testing.T) {
	e := New(nil)
	var order []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		e.Add(name, &nativePlugin{
			onPre: func(ctx context.Context, req *request) error {
				order = append(order, name)
				return nil
			},
			onPost: func(ctx context.Context, req *request, success bool) error { return nil },
		})
	}

	require.NoError(t, e.RunPre(context.Background(), VariantCreateRoom, &request{}))
	assert.Equal(t, []string{"a", "b", "c"}, order)
}
