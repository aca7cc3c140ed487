package commands

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/cardrag/internal/routing"
)

func runRouteJSON(t *testing.T, query string) routing.Decision {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"route", "--json", "--no-color", "-c", "../../../configs/config.yaml", query})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	require.NoError(t, rootCmd.Execute())

	var d routing.Decision
	require.NoError(t, json.Unmarshal(out.Bytes(), &d))
	return d
}

func TestRouteCommand(t *testing.T) {
	t.Run("card action routes to usage", func(t *testing.T) {
		d := runRouteJSON(t, "나라사랑 잃어버렸어요")
		assert.Equal(t, routing.RouteCardUsage, d.Route)
		assert.True(t, d.ShouldSearch)
	})

	t.Run("chit-chat does not search", func(t *testing.T) {
		d := runRouteJSON(t, "그냥 궁금해서요")
		assert.False(t, d.ShouldSearch)
	})
}
