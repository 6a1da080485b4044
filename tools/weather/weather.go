// Package weather provides demo tools for the confirmation flow:
// getWeatherInformation needs a user approval, getLocalTime runs automatically.
package weather

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/gohitl/tools"
)

const (
	WeatherToolName   = "getWeatherInformation"
	LocalTimeToolName = "getLocalTime"
)

// Conditions reported by the weather executor
var Conditions = []string{"sunny", "cloudy", "rainy", "snowy"}

// WeatherRequest is the input of getWeatherInformation
type WeatherRequest struct {
	City string `json:"city" jsonschema:"description=The city to get the weather for"`
}

// LocalTimeRequest is the input of getLocalTime
type LocalTimeRequest struct {
	Location string `json:"location" jsonschema:"description=IANA time zone of the location,example=Asia/Seoul"`
}

// LocalTimeResponse is the output of getLocalTime
type LocalTimeResponse struct {
	Location string `json:"location"`
	Time     string `json:"time"`
}

func (r *LocalTimeResponse) String() string {
	return fmt.Sprintf("The local time in %s is %s.", r.Location, r.Time)
}

// Now is the clock of getLocalTime
var Now = time.Now

// Tools returns the demo tool definitions
func Tools() []*tools.Definition {
	return []*tools.Definition{
		tools.MustConfirmable[WeatherRequest](WeatherToolName, "show the weather in a given city to the user"),
		tools.MustFunc(LocalTimeToolName, "get the local time for a specified location", LocalTime),
	}
}

// NewProvider returns the demo tools as a local provider
func NewProvider() *tools.LocalProvider {
	return tools.NewLocalProvider("weather", Tools()...)
}

// Approvals returns the executors that run after a user approved a call
func Approvals() tools.Executors {
	return tools.Executors{
		WeatherToolName: Weather,
	}
}

// Weather is the approval executor of getWeatherInformation
func Weather(_ context.Context, args map[string]any) (any, error) {
	req, err := tools.DecodeArgs[WeatherRequest](args)
	if err != nil {
		return nil, err
	}
	if req.City == "" {
		return nil, errors.New("city is required")
	}
	return fmt.Sprintf("The weather in %s is %s.", req.City, Conditions[rand.IntN(len(Conditions))]), nil
}

// LocalTime returns the current time at the location
func LocalTime(_ context.Context, req *LocalTimeRequest) (*LocalTimeResponse, error) {
	if req.Location == "" {
		return nil, errors.New("location is required")
	}
	loc, err := time.LoadLocation(req.Location)
	if err != nil {
		return nil, errors.Newf("unknown location %q, use IANA time zone name", req.Location)
	}
	return &LocalTimeResponse{
		Location: req.Location,
		Time:     Now().In(loc).Format("3:04pm"),
	}, nil
}
