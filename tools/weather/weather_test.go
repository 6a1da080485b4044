package weather_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/effective-security/gohitl/chatmodel"
	"github.com/effective-security/gohitl/tools"
	"github.com/effective-security/gohitl/tools/weather"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTools(t *testing.T) {
	c, err := weather.NewProvider().ListTools(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{weather.LocalTimeToolName, weather.WeatherToolName}, c.Names())
	assert.Equal(t, []string{weather.WeatherToolName}, tools.RequiresConfirmation(c).Names())

	ex := weather.Approvals()
	assert.Contains(t, ex, weather.WeatherToolName)
}

func TestWeather(t *testing.T) {
	ctx := context.Background()
	re := regexp.MustCompile(`^The weather in Seoul is (sunny|cloudy|rainy|snowy)\.$`)
	for range 10 {
		res, err := weather.Weather(ctx, map[string]any{"city": "Seoul"})
		require.NoError(t, err)
		assert.Regexp(t, re, res)
	}

	_, err := weather.Weather(ctx, map[string]any{})
	assert.EqualError(t, err, "city is required")
	_, err = weather.Weather(ctx, map[string]any{"city": []int{1}})
	assert.ErrorIs(t, err, chatmodel.ErrInvalidArguments)
}

func TestLocalTime(t *testing.T) {
	weather.Now = func() time.Time {
		return time.Date(2025, 1, 1, 1, 0, 0, 0, time.UTC)
	}
	t.Cleanup(func() { weather.Now = time.Now })

	ctx := context.Background()
	def, ok := tools.NewCatalog(weather.Tools()...).Get(weather.LocalTimeToolName)
	require.True(t, ok)

	res, err := def.Execute(ctx, map[string]any{"location": "Asia/Seoul"})
	require.NoError(t, err)
	assert.Equal(t, "The local time in Asia/Seoul is 10:00am.", chatmodel.Stringify(res))

	_, err = def.Execute(ctx, map[string]any{"location": "Nowhere/Land"})
	assert.EqualError(t, err, `unknown location "Nowhere/Land", use IANA time zone name`)
	_, err = def.Execute(ctx, map[string]any{})
	assert.EqualError(t, err, "location is required")
}
